package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/revloop/revloop/internal/runner"
	"github.com/revloop/revloop/pkg/cerr"
	"github.com/revloop/revloop/pkg/storage"
)

// LogStore persists full event logs and snapshots. It sits on a separate
// storage backend from the summary repositories: logs are large and rarely
// read, summaries are small and read on every listing.
type LogStore struct {
	storage storage.Storage
}

func NewLogStore(s storage.Storage) *LogStore {
	return &LogStore{storage: s}
}

func eventLogPath(runID string) string {
	return fmt.Sprintf("runlogs/%s/events.json", runID)
}

func snapshotPath(runID string) string {
	return fmt.Sprintf("runlogs/%s/snapshot.json", runID)
}

func (s *LogStore) WriteEventLog(ctx context.Context, runID string, events []runner.Event) error {
	data, err := json.Marshal(events)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal event log: %w", err))
	}
	if err := s.storage.Write(ctx, eventLogPath(runID), data); err != nil {
		return cerr.WrapStorageWriteError("event log", err)
	}
	return nil
}

func (s *LogStore) ReadEventLog(ctx context.Context, runID string) ([]runner.Event, error) {
	data, err := s.storage.Read(ctx, eventLogPath(runID))
	if err != nil {
		return nil, cerr.WrapStorageReadError("event log", err)
	}
	var events []runner.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal event log: %w", err))
	}
	return events, nil
}

func (s *LogStore) WriteSnapshot(ctx context.Context, runID string, snapshot *Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal snapshot: %w", err))
	}
	if err := s.storage.Write(ctx, snapshotPath(runID), data); err != nil {
		return cerr.WrapStorageWriteError("snapshot", err)
	}
	return nil
}

func (s *LogStore) ReadSnapshot(ctx context.Context, runID string) (*Snapshot, error) {
	data, err := s.storage.Read(ctx, snapshotPath(runID))
	if err != nil {
		return nil, cerr.WrapStorageReadError("snapshot", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal snapshot: %w", err))
	}
	return &snapshot, nil
}

// Delete removes the event log and snapshot for a run. Missing entries are
// fine; a run that never completed has no snapshot.
func (s *LogStore) Delete(ctx context.Context, runID string) error {
	if err := s.storage.Delete(ctx, eventLogPath(runID)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return cerr.WrapStorageDeleteError("event log", err)
	}
	if err := s.storage.Delete(ctx, snapshotPath(runID)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return cerr.WrapStorageDeleteError("snapshot", err)
	}
	return nil
}
