package run

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revloop/revloop/internal/eventbus"
	"github.com/revloop/revloop/internal/runner"
	"github.com/revloop/revloop/pkg/cerr"
	"github.com/revloop/revloop/pkg/storage"
)

type memoryRepo struct {
	mu   sync.Mutex
	runs map[string]*Run
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{runs: make(map[string]*Run)}
}

func (m *memoryRepo) Create(_ context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.ID]; ok {
		return cerr.NewError(cerr.AlreadyExists, "run already exists", nil)
	}
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, "run not found", nil)
	}
	cp := *r
	return &cp, nil
}

func (m *memoryRepo) List(_ context.Context, taskID string, limit, offset int) ([]*Run, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Run
	for _, r := range m.runs {
		if taskID != "" && r.TaskID != taskID {
			continue
		}
		cp := *r
		all = append(all, &cp)
	}
	return all, len(all), nil
}

func (m *memoryRepo) Update(_ context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.ID]; !ok {
		return cerr.NewError(cerr.NotFound, "run not found", nil)
	}
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *memoryRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, id)
	return nil
}

func TestAbortPendingRunReleasesTracking(t *testing.T) {
	ctx := context.Background()
	logs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	eng := NewEngine(newMemoryRepo(), NewLogStore(logs), runner.NewRegistry(), eventbus.New())

	r, err := eng.CreateRun(ctx, "task-1", 1, "scripted", &Context{Description: "x"})
	require.NoError(t, err)

	require.NoError(t, eng.AbortRun(ctx, r.ID))

	got, err := eng.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	// Aborting a run that never executed must not leave its bookkeeping behind.
	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.Empty(t, eng.contexts)
	assert.Empty(t, eng.aborts)
	assert.Empty(t, eng.cancels)
}
