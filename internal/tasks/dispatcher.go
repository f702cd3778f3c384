package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atiamdev/cms-backend-sub002/internal/notify"
)

// TaskDispatcher queues notifications for the background worker.
type TaskDispatcher struct {
	client Enqueuer
}

func NewTaskDispatcher(client Enqueuer) *TaskDispatcher {
	return &TaskDispatcher{client: client}
}

// deliveryTaskID makes a notification for the same fee, template and
// channel enqueue at most once while the task is retained.
func deliveryTaskID(req notify.DeliveryRequest) string {
	if req.FeeID == "" {
		return ""
	}
	return fmt.Sprintf("notify:%s:%s:%s", req.TemplateID, req.FeeID, req.Channel)
}

func (d *TaskDispatcher) Dispatch(ctx context.Context, req notify.DeliveryRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	opts := []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(5), asynq.Retention(24 * time.Hour)}
	if id := deliveryTaskID(req); id != "" {
		opts = append(opts, asynq.TaskID(id))
	}

	info, err := d.client.EnqueueContext(ctx, asynq.NewTask(TypeNotificationDeliver, payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		log.Printf("Notification %s already queued, skipping", deliveryTaskID(req))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue %s notification: %w", req.Channel, err)
	}
	log.Printf("Enqueued %s notification task %s for %s", req.Channel, info.ID, req.To)
	return nil
}
