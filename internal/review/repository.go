package review

import "context"

type Repository interface {
	Create(ctx context.Context, r *Review) error
	Get(ctx context.Context, id string) (*Review, error)
	GetByRunID(ctx context.Context, runID string) (*Review, error)
	List(ctx context.Context, taskID string, limit, offset int) ([]*Review, int, error)
	Update(ctx context.Context, r *Review) error
	Delete(ctx context.Context, id string) error
}
