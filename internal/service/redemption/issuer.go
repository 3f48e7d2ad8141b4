package redemption

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"foodrescue/internal/model"
	"foodrescue/internal/repository"
	"foodrescue/pkg/log"
	"foodrescue/pkg/utils"
)

// GeneratePin draws a fixed-width numeric PIN uniformly from crypto/rand.
// Leading zeros are preserved, so the PIN is always a string.
func GeneratePin(length int) (string, error) {
	code := make([]byte, 0, length)
	buf := make([]byte, length)

	for len(code) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			// Reject bytes above the largest multiple of 10; a plain
			// modulo would skew the draw toward low digits.
			if b >= 250 {
				continue
			}
			code = append(code, '0'+b%10)
			if len(code) == length {
				break
			}
		}
	}
	return string(code), nil
}

// Issuer produces the redemption credential for a confirmed reservation.
// The PIN is persisted only as a bcrypt hash; the plaintext lives in the
// returned QR payload and nowhere else.
type Issuer struct {
	credentials repository.CredentialRepository
}

// NewIssuer creates an issuer
func NewIssuer(credentials repository.CredentialRepository) *Issuer {
	return &Issuer{credentials: credentials}
}

// Issue creates the single live credential for the reservation. Valid only
// while the reservation is confirmed; there is exactly one credential per
// reservation for its whole life.
func (i *Issuer) Issue(ctx context.Context, reservation *model.Reservation) (*model.QRPayload, error) {
	if !reservation.IsConfirmed() {
		return nil, utils.ErrInvalidState
	}

	pin, err := GeneratePin(model.PinLength)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	credential := &model.RedemptionCredential{
		ReservationID: reservation.ID,
		PinHash:       string(hash),
		HolderToken:   uuid.NewString(),
		IssuedAt:      now,
	}

	if err := i.credentials.Create(ctx, credential); err != nil {
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"reservation_id": reservation.ID,
	}).Info("Redemption credential issued")

	return &model.QRPayload{
		ReservationID: reservation.ID,
		Pin:           pin,
		HolderToken:   credential.HolderToken,
		LotID:         reservation.LotID,
		Timestamp:     now.Unix(),
	}, nil
}
