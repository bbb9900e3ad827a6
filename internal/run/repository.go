package run

import "context"

type Repository interface {
	Create(ctx context.Context, r *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, taskID string, limit, offset int) ([]*Run, int, error)
	Update(ctx context.Context, r *Run) error
	Delete(ctx context.Context, id string) error
}
