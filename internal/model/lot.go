package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a batch of food a merchant offers for reservation, either priced
// or as a donation.
type Lot struct {
	ID          uint64          `gorm:"primaryKey" json:"id"`
	MerchantID  uint64          `gorm:"type:bigint unsigned;not null;index" json:"merchant_id"`
	Title       string          `gorm:"type:varchar(200);not null" json:"title"`
	Description string          `gorm:"type:varchar(500)" json:"description,omitempty"`
	Quantity    int             `gorm:"type:int;not null" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"price"`
	IsDonation  bool            `gorm:"type:tinyint(1);not null;default:0" json:"is_donation"`
	PickupStart time.Time       `gorm:"type:timestamp;not null" json:"pickup_start"`
	PickupEnd   time.Time       `gorm:"type:timestamp;not null;index" json:"pickup_end"`
	CreatedAt   time.Time       `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`

	Merchant *User `gorm:"foreignKey:MerchantID" json:"merchant,omitempty"`
}

// TableName set name
func (Lot) TableName() string {
	return "lots"
}

// IsOpen reports whether the pickup window has not yet closed.
func (l *Lot) IsOpen(now time.Time) bool {
	return now.Before(l.PickupEnd)
}

// Total returns the price for the given quantity. Donations are always zero.
func (l *Lot) Total(quantity int) decimal.Decimal {
	if l.IsDonation {
		return decimal.Zero
	}
	return l.Price.Mul(decimal.NewFromInt(int64(quantity)))
}
