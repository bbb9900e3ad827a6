package runner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/revloop/revloop/pkg/cerr"
)

// Registry maps backend identifiers to Runner instances. It is read-mostly:
// Register/Unregister are rare administrative operations, Get/Has are hot.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]Runner),
	}
}

// Register adds a Runner. A collision overwrites the old entry and logs a
// warning rather than silently dropping either side.
func (r *Registry) Register(rn Runner) {
	r.mu.Lock()
	if _, ok := r.runners[rn.ID()]; ok {
		slog.Warn("runner already registered, overwriting", "runnerId", rn.ID())
	}
	r.runners[rn.ID()] = rn
	r.mu.Unlock()
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.runners, id)
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (Runner, error) {
	r.mu.RLock()
	rn, ok := r.runners[id]
	r.mu.RUnlock()
	if !ok {
		return nil, cerr.NewError(cerr.NotFound, "runner not found: "+id, nil)
	}
	return rn, nil
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	_, ok := r.runners[id]
	r.mu.RUnlock()
	return ok
}

func (r *Registry) List() []Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Runner, 0, len(r.runners))
	for _, rn := range r.runners {
		out = append(out, rn)
	}
	return out
}

// Available probes IsAvailable on every registered runner concurrently and
// returns the live subset. A failing probe counts as unavailable; it never
// fails the whole query.
func (r *Registry) Available(ctx context.Context) []Runner {
	runners := r.List()

	var mu sync.Mutex
	var available []Runner

	wg := conc.NewWaitGroup()
	for _, rn := range runners {
		rn := rn // per-iteration copy; go directive is pre-1.22 loopvar semantics
		wg.Go(func() {
			ok, err := rn.IsAvailable(ctx)
			if err != nil {
				slog.Warn("runner availability probe failed", "runnerId", rn.ID(), "error", err)
				return
			}
			if ok {
				mu.Lock()
				available = append(available, rn)
				mu.Unlock()
			}
		})
	}
	// Probe panics count as unavailable too.
	if recovered := wg.WaitAndRecover(); recovered != nil {
		slog.Warn("runner availability probe panicked", "panic", recovered.Value)
	}
	return available
}
