package model

import (
	"time"
)

// EventType names a domain transition of interest to the fan-out.
type EventType string

const (
	EventReservationConfirmed EventType = "reservation.confirmed"
	EventReservationCancelled EventType = "reservation.cancelled"
	EventReservationRedeemed  EventType = "reservation.redeemed"
	EventReservationExpired   EventType = "reservation.expired"
	EventReservationNoShow    EventType = "reservation.no_show"
)

// Event is the envelope the state machine publishes on every transition of
// interest. Each transition emits its event exactly once; the fan-out layer
// does not deduplicate.
type Event struct {
	Type          EventType `json:"type"`
	ReservationID uint64    `json:"reservation_id"`
	HolderID      uint64    `json:"holder_id"`
	MerchantID    uint64    `json:"merchant_id"`
	LotID         uint64    `json:"lot_id"`
	LotTitle      string    `json:"lot_title,omitempty"`
	Quantity      int       `json:"quantity"`
	IsDonation    bool      `json:"is_donation"`
	Actor         string    `json:"actor,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
