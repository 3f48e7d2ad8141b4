package notify

import (
	"context"
	"encoding/json"

	"foodrescue/internal/model"
	"foodrescue/pkg/queue"
)

// Sink receives domain events raised by the state machine. It is injected
// explicitly into whatever component needs to raise events; there is no
// process-wide bus.
type Sink interface {
	Publish(ctx context.Context, event *model.Event) error
}

// QueueSink publishes events onto a message queue topic. A single consumer
// drains the topic, which keeps fan-out ordered per recipient.
type QueueSink struct {
	queue queue.Queue
	topic string
}

// NewQueueSink creates a queue-backed event sink
func NewQueueSink(q queue.Queue, topic string) *QueueSink {
	return &QueueSink{queue: q, topic: topic}
}

// Publish serializes the event and enqueues it
func (s *QueueSink) Publish(ctx context.Context, event *model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.queue.Publish(ctx, s.topic, data)
}
