// Package consumer drains the reservation event topic and turns each event
// into durable notifications for the parties involved. A single subscriber
// per topic keeps delivery ordered per recipient.
package consumer

import (
	"context"
	"encoding/json"

	"foodrescue/internal/model"
	"foodrescue/internal/repository"
	"foodrescue/internal/service/notify"
	"foodrescue/pkg/log"
	"foodrescue/pkg/queue"
)

// DefaultTopic is the topic the state machine publishes reservation events on.
const DefaultTopic = "reservation.events"

// LotSource serves lot reads for payload enrichment. The cache in front of
// the lot repository satisfies it.
type LotSource interface {
	GetByID(ctx context.Context, id uint64) (*model.Lot, error)
}

// EventConsumer consumes reservation events and fans them out.
type EventConsumer struct {
	queue    queue.Queue
	topic    string
	notifier *notify.Notifier
	users    repository.UserRepository
	lots     LotSource

	// Points credited per reserved item on a redeemed pickup.
	pointsPerItem int64
}

// NewEventConsumer creates an event consumer. lots may be nil, in which
// case notifications carry no lot title.
func NewEventConsumer(q queue.Queue, topic string, notifier *notify.Notifier, users repository.UserRepository, lots LotSource, pointsPerItem int64) *EventConsumer {
	if topic == "" {
		topic = DefaultTopic
	}
	if pointsPerItem <= 0 {
		pointsPerItem = 10
	}
	return &EventConsumer{
		queue:         q,
		topic:         topic,
		notifier:      notifier,
		users:         users,
		lots:          lots,
		pointsPerItem: pointsPerItem,
	}
}

// Start subscribes to the event topic. Returns once the subscription is
// registered; handling runs on the queue's consumer goroutine.
func (c *EventConsumer) Start(ctx context.Context) error {
	return c.queue.Subscribe(ctx, c.topic, c.handle)
}

func (c *EventConsumer) handle(ctx context.Context, topic string, message []byte) error {
	var event model.Event
	if err := json.Unmarshal(message, &event); err != nil {
		// A malformed message never becomes deliverable; drop it.
		log.WithError(err).Error("Dropping undecodable reservation event")
		return nil
	}

	payload := model.ReservationPayload{
		ReservationID: event.ReservationID,
		LotID:         event.LotID,
		LotTitle:      event.LotTitle,
		Quantity:      event.Quantity,
		Actor:         event.Actor,
	}
	if payload.LotTitle == "" && c.lots != nil {
		if lot, err := c.lots.GetByID(ctx, event.LotID); err == nil {
			payload.LotTitle = lot.Title
		}
	}

	switch event.Type {
	case model.EventReservationConfirmed:
		payload.Status = model.ReservationConfirmed
		c.emit(ctx, event.HolderID, model.KindReservationConfirmed, payload)
		c.emit(ctx, event.MerchantID, model.KindReservationConfirmed, payload)

	case model.EventReservationCancelled:
		payload.Status = model.ReservationCancelled
		c.emit(ctx, event.HolderID, model.KindReservationCancelled, payload)
		c.emit(ctx, event.MerchantID, model.KindReservationCancelled, payload)

	case model.EventReservationRedeemed:
		payload.Status = model.ReservationRedeemed
		c.emit(ctx, event.HolderID, model.KindReservationRedeemed, payload)
		c.emit(ctx, event.MerchantID, model.KindReservationRedeemed, payload)
		c.awardPoints(ctx, &event)

	case model.EventReservationExpired:
		payload.Status = model.ReservationExpired
		c.emit(ctx, event.HolderID, model.KindReservationExpired, payload)
		c.emit(ctx, event.MerchantID, model.KindReservationExpired, payload)

	case model.EventReservationNoShow:
		// The merchant recorded the no-show; only the holder hears about it.
		payload.Status = model.ReservationNoShow
		c.emit(ctx, event.HolderID, model.KindReservationNoShow, payload)

	default:
		log.WithField("type", event.Type).Warn("Unknown reservation event type")
	}

	return nil
}

func (c *EventConsumer) emit(ctx context.Context, recipientID uint64, kind model.NotificationKind, payload model.ReservationPayload) {
	if recipientID == 0 {
		return
	}
	if _, err := c.notifier.Emit(ctx, recipientID, kind, payload); err != nil {
		log.WithError(err).WithFields(map[string]interface{}{
			"recipient_id": recipientID,
			"kind":         kind,
		}).Error("Failed to emit notification")
	}
}

// awardPoints credits the holder for a completed pickup and emits the
// points notification with the fresh balance.
func (c *EventConsumer) awardPoints(ctx context.Context, event *model.Event) {
	if c.users == nil || event.HolderID == 0 {
		return
	}

	points := c.pointsPerItem * int64(event.Quantity)
	balance, err := c.users.AddPoints(ctx, event.HolderID, points)
	if err != nil {
		log.WithError(err).WithField("holder_id", event.HolderID).Error("Failed to credit points")
		return
	}

	c.emitPoints(ctx, event.HolderID, model.PointsPayload{
		Points:        points,
		Balance:       balance,
		ReservationID: event.ReservationID,
	})
}

func (c *EventConsumer) emitPoints(ctx context.Context, recipientID uint64, payload model.PointsPayload) {
	if _, err := c.notifier.Emit(ctx, recipientID, model.KindPointsEarned, payload); err != nil {
		log.WithError(err).WithField("recipient_id", recipientID).Error("Failed to emit points notification")
	}
}
