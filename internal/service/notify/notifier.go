package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"foodrescue/internal/model"
	"foodrescue/internal/monitor"
	"foodrescue/internal/repository"
	"foodrescue/pkg/log"
	"foodrescue/pkg/snowflake"
	"foodrescue/pkg/utils"
)

// Notifier turns domain events into durable notifications and pushes them
// to live subscriptions. Persist first, push second: a recipient who is not
// connected simply finds the notification on the next fetch.
type Notifier struct {
	repo  repository.NotificationRepository
	hub   *Hub
	idGen *snowflake.IDGenerator
}

// NewNotifier creates a notifier
func NewNotifier(repo repository.NotificationRepository, hub *Hub, idGen *snowflake.IDGenerator) *Notifier {
	return &Notifier{
		repo:  repo,
		hub:   hub,
		idGen: idGen,
	}
}

// Emit persists a notification for the recipient and then attempts push
// delivery. Push failure is not an error. The error return covers only the
// durable write; this layer does not deduplicate, callers emit each domain
// transition exactly once.
func (n *Notifier) Emit(ctx context.Context, recipientID uint64, kind model.NotificationKind, payload interface{}) (*model.Notification, error) {
	if !kind.Valid() {
		return nil, utils.WrapError(nil, utils.CodeInvalidParam, "unknown notification kind")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	notification := &model.Notification{
		ID:          n.idGen.NextUint64(),
		RecipientID: recipientID,
		Kind:        kind,
		Payload:     raw,
		Read:        false,
		CreatedAt:   time.Now(),
	}

	if err := n.repo.Create(ctx, notification); err != nil {
		return nil, err
	}
	monitor.NotificationEmitted(string(kind))

	if err := n.hub.Publish(recipientID, notification); err != nil {
		if errors.Is(err, utils.ErrDeliveryUnavailable) {
			log.WithFields(map[string]interface{}{
				"recipient_id":    recipientID,
				"notification_id": notification.ID,
				"kind":            kind,
			}).Debug("Recipient not connected, notification stays durable")
			monitor.PushMissed()
		} else {
			log.WithError(err).Warn("Push delivery failed")
		}
		return notification, nil
	}

	monitor.PushDelivered()
	return notification, nil
}
