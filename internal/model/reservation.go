package model

import (
	"fmt"
	"time"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationRedeemed  ReservationStatus = "redeemed"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
	// ReservationNoShow is distinct from expired: the merchant recorded that
	// the holder never showed, and any payment is retained.
	ReservationNoShow ReservationStatus = "no_show"
)

// validTransitions is the full transition graph. Anything not listed here
// is rejected with InvalidTransitionError.
var validTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationPending:   {ReservationConfirmed, ReservationCancelled},
	ReservationConfirmed: {ReservationRedeemed, ReservationExpired, ReservationCancelled, ReservationNoShow},
}

// CanTransitionTo reports whether the edge s -> target exists in the graph.
func (s ReservationStatus) CanTransitionTo(target ReservationStatus) bool {
	for _, next := range validTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s ReservationStatus) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// InvalidTransitionError identifies the current and requested state of a
// rejected transition. Callers must surface it, never absorb it.
type InvalidTransitionError struct {
	From ReservationStatus
	To   ReservationStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid reservation transition from %q to %q", e.From, e.To)
}

// Reservation reservation model
type Reservation struct {
	ID          uint64            `gorm:"primaryKey" json:"id"`
	HolderID    uint64            `gorm:"type:bigint unsigned;not null;index" json:"holder_id"`
	MerchantID  uint64            `gorm:"type:bigint unsigned;not null;index" json:"merchant_id"`
	LotID       uint64            `gorm:"type:bigint unsigned;not null;index" json:"lot_id"`
	Quantity    int               `gorm:"type:int;not null" json:"quantity"`
	Status      ReservationStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	IsDonation  bool              `gorm:"type:tinyint(1);not null;default:0" json:"is_donation"`
	PickupStart time.Time         `gorm:"type:timestamp;not null" json:"pickup_start"`
	PickupEnd   time.Time         `gorm:"type:timestamp;not null;index" json:"pickup_end"`
	CreatedAt   time.Time         `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	// CompletedAt is set if and only if the reservation reached a terminal
	// state. Reservations are never physically deleted.
	CompletedAt *time.Time `gorm:"type:timestamp" json:"completed_at,omitempty"`

	Holder *User `gorm:"foreignKey:HolderID" json:"holder,omitempty"`
	Lot    *Lot  `gorm:"foreignKey:LotID" json:"lot,omitempty"`
}

// TableName set name
func (Reservation) TableName() string {
	return "reservations"
}

// IsPending check reservation is pending
func (r *Reservation) IsPending() bool {
	return r.Status == ReservationPending
}

// IsConfirmed check reservation is confirmed
func (r *Reservation) IsConfirmed() bool {
	return r.Status == ReservationConfirmed
}

// IsRedeemed check reservation is redeemed
func (r *Reservation) IsRedeemed() bool {
	return r.Status == ReservationRedeemed
}

// IsClosed check reservation reached a terminal state
func (r *Reservation) IsClosed() bool {
	switch r.Status {
	case ReservationRedeemed, ReservationExpired, ReservationCancelled, ReservationNoShow:
		return true
	}
	return false
}

// PickupWindowElapsed reports whether the pickup window end has passed.
func (r *Reservation) PickupWindowElapsed(now time.Time) bool {
	return now.After(r.PickupEnd)
}

// CanCancel check reservation can cancel
func (r *Reservation) CanCancel() bool {
	return r.Status.CanTransitionTo(ReservationCancelled)
}
