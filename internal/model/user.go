package model

import (
	"time"
)

// User roles. Identity issuance and login are handled by an external
// provider; this row only anchors reservations and notifications.
const (
	RoleHolder      = "holder"
	RoleMerchant    = "merchant"
	RoleCollector   = "collector"
	RoleAssociation = "association"
)

// User user model
type User struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Role      string    `gorm:"type:varchar(20);not null;index" json:"role"`
	Points    int64     `gorm:"type:bigint;not null;default:0" json:"points"`
	CreatedAt time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName set name
func (User) TableName() string {
	return "users"
}
