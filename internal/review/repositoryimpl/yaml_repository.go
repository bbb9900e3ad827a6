package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/revloop/revloop/internal/review"
	"github.com/revloop/revloop/pkg/cerr"
	"github.com/revloop/revloop/pkg/storage"
)

const reviewsPrefix = "reviews"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", reviewsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, rv *review.Review) error {
	exists, err := r.storage.Exists(ctx, path(rv.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("review", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "review already exists", nil)
	}
	data, err := yaml.Marshal(rv)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal review: %w", err))
	}
	if err := r.storage.Write(ctx, path(rv.ID), data); err != nil {
		return cerr.WrapStorageWriteError("review", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*review.Review, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("review", err)
	}
	var rv review.Review
	if err := yaml.Unmarshal(data, &rv); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal review: %w", err))
	}
	return &rv, nil
}

func (r *YAMLRepository) GetByRunID(ctx context.Context, runID string) (*review.Review, error) {
	all, _, err := r.List(ctx, "", 0, 0)
	if err != nil {
		return nil, err
	}
	for _, rv := range all {
		if rv.RunID == runID {
			return rv, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "review not found for run "+runID, nil)
}

func (r *YAMLRepository) List(ctx context.Context, taskID string, limit, offset int) ([]*review.Review, int, error) {
	paths, err := r.storage.List(ctx, reviewsPrefix)
	if err != nil {
		return nil, 0, cerr.WrapStorageReadError("reviews", err)
	}

	sort.Strings(paths)

	var all []*review.Review
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var rv review.Review
		if err := yaml.Unmarshal(data, &rv); err != nil {
			continue
		}
		if taskID != "" && rv.TaskID != taskID {
			continue
		}
		all = append(all, &rv)
	}

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *YAMLRepository) Update(ctx context.Context, rv *review.Review) error {
	exists, err := r.storage.Exists(ctx, path(rv.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("review", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "review not found", nil)
	}
	data, err := yaml.Marshal(rv)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal review: %w", err))
	}
	if err := r.storage.Write(ctx, path(rv.ID), data); err != nil {
		return cerr.WrapStorageWriteError("review", err)
	}
	return nil
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("review", err)
	}
	return nil
}
