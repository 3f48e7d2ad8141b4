package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// NotificationKind discriminates the payload shape. The set is closed:
// consumers handle every kind exhaustively and reject unknown ones.
type NotificationKind string

const (
	KindReservationConfirmed NotificationKind = "reservation_confirmed"
	KindReservationCancelled NotificationKind = "reservation_cancelled"
	KindReservationRedeemed  NotificationKind = "reservation_redeemed"
	KindReservationExpired   NotificationKind = "reservation_expired"
	KindReservationNoShow    NotificationKind = "reservation_no_show"
	KindPointsEarned         NotificationKind = "points_earned"
	KindMessageReceived      NotificationKind = "message_received"
)

// Valid reports whether the kind belongs to the known set.
func (k NotificationKind) Valid() bool {
	switch k {
	case KindReservationConfirmed, KindReservationCancelled, KindReservationRedeemed,
		KindReservationExpired, KindReservationNoShow, KindPointsEarned, KindMessageReceived:
		return true
	}
	return false
}

// ReservationPayload is the payload for all reservation_* kinds.
type ReservationPayload struct {
	ReservationID uint64            `json:"reservation_id"`
	LotID         uint64            `json:"lot_id"`
	LotTitle      string            `json:"lot_title,omitempty"`
	Quantity      int               `json:"quantity"`
	Status        ReservationStatus `json:"status"`
	Actor         string            `json:"actor,omitempty"`
}

// PointsPayload is the payload for points_earned.
type PointsPayload struct {
	Points        int64  `json:"points"`
	Balance       int64  `json:"balance,omitempty"`
	ReservationID uint64 `json:"reservation_id"`
}

// MessagePayload is the payload for message_received.
type MessagePayload struct {
	SenderID uint64 `json:"sender_id"`
	Preview  string `json:"preview"`
}

// DecodePayload decodes raw payload bytes according to kind. Unknown kinds
// are an error, not a passthrough.
func DecodePayload(kind NotificationKind, raw []byte) (interface{}, error) {
	switch kind {
	case KindReservationConfirmed, KindReservationCancelled, KindReservationRedeemed,
		KindReservationExpired, KindReservationNoShow:
		var p ReservationPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case KindPointsEarned:
		var p PointsPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case KindMessageReceived:
		var p MessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown notification kind %q", kind)
	}
}

// Notification notification model. Rows are append-only; the read flag is
// the only mutation and it moves false -> true exactly once.
type Notification struct {
	ID          uint64           `gorm:"primaryKey" json:"id"`
	RecipientID uint64           `gorm:"type:bigint unsigned;not null;index:idx_notifications_recipient_created" json:"recipient_id"`
	Kind        NotificationKind `gorm:"type:varchar(32);not null" json:"kind"`
	Payload     json.RawMessage  `gorm:"type:json" json:"payload"`
	Read        bool             `gorm:"column:is_read;type:tinyint(1);not null;default:0;index" json:"read"`
	CreatedAt   time.Time        `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index:idx_notifications_recipient_created" json:"created_at"`
}

// TableName set name
func (Notification) TableName() string {
	return "notifications"
}
