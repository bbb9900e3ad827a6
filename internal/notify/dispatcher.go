package notify

import (
	"context"
	"log/slog"

	"github.com/revloop/revloop/internal/eventbus"
	"github.com/revloop/revloop/internal/run"
	"github.com/revloop/revloop/internal/task"
)

// Dispatcher watches the event bus and pushes a notification whenever a task
// reaches a state that needs a human: review wanted, or a failed run.
type Dispatcher struct {
	bus      *eventbus.Bus
	taskRepo task.Repository
	sender   *Sender
}

func NewDispatcher(bus *eventbus.Bus, taskRepo task.Repository, sender *Sender) *Dispatcher {
	return &Dispatcher{bus: bus, taskRepo: taskRepo, sender: sender}
}

func (d *Dispatcher) Start(ctx context.Context) {
	subID, ch := d.bus.Subscribe(256)
	defer d.bus.Unsubscribe(subID)

	slog.Info("push notification dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("push notification dispatcher stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			switch event.Type {
			case eventbus.EventTypeTaskStatusChanged:
				if event.Payload == string(task.StatusWaitingReview) {
					d.notifyReviewWanted(ctx, event.ResourceID)
				}
			case eventbus.EventTypeRunFinished:
				if event.Payload == string(run.StatusFailed) {
					d.notifyRunFailed(ctx, event)
				}
			}
		}
	}
}

func (d *Dispatcher) notifyReviewWanted(ctx context.Context, taskID string) {
	t, err := d.taskRepo.Get(ctx, taskID)
	if err != nil {
		slog.Error("push dispatcher: failed to get task", "taskId", taskID, "error", err)
		return
	}
	d.sender.SendToAll(ctx, &Payload{
		Title: "Review wanted",
		Body:  t.Title,
		URL:   "/tasks/" + t.ID,
		Tag:   t.ID,
	})
}

func (d *Dispatcher) notifyRunFailed(ctx context.Context, event eventbus.Event) {
	taskID := event.Metadata["taskId"]
	body := "run failed"
	if t, err := d.taskRepo.Get(ctx, taskID); err == nil {
		body = t.Title
	}
	d.sender.SendToAll(ctx, &Payload{
		Title: "Run failed",
		Body:  body,
		URL:   "/tasks/" + taskID,
		Tag:   event.ResourceID,
	})
}
