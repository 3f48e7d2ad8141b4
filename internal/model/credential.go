package model

import (
	"encoding/json"
	"time"
)

// PinLength is the fixed width of the redemption PIN. Leading zeros are
// significant, so the PIN is always handled as a string.
const PinLength = 6

// RedemptionCredential is the single-use proof of the right to redeem a
// confirmed reservation. The PIN is stored hashed; the plaintext exists
// only in the QR payload handed to the holder at issuance.
type RedemptionCredential struct {
	ReservationID uint64     `gorm:"primaryKey;autoIncrement:false" json:"reservation_id"`
	PinHash       string     `gorm:"type:varchar(100);not null" json:"-"`
	HolderToken   string     `gorm:"type:varchar(36);not null" json:"holder_token"`
	IssuedAt      time.Time  `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"issued_at"`
	ConsumedAt    *time.Time `gorm:"type:timestamp" json:"consumed_at,omitempty"`
	RevokedAt     *time.Time `gorm:"type:timestamp" json:"revoked_at,omitempty"`
}

// TableName set name
func (RedemptionCredential) TableName() string {
	return "redemption_credentials"
}

// IsLive reports whether the credential can still be presented.
func (c *RedemptionCredential) IsLive() bool {
	return c.ConsumedAt == nil && c.RevokedAt == nil
}

// QRPayload is the machine-readable encoding handed to the holder. The
// timestamp is informational only; validity is governed solely by the
// reservation status.
type QRPayload struct {
	ReservationID uint64 `json:"reservation_id"`
	Pin           string `json:"pin"`
	HolderToken   string `json:"holder_token"`
	LotID         uint64 `json:"lot_id"`
	Timestamp     int64  `json:"ts"`
}

// Encode serializes the payload for QR rendering.
func (p *QRPayload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodeQRPayload parses a scanned payload.
func DecodeQRPayload(data []byte) (*QRPayload, error) {
	var p QRPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
