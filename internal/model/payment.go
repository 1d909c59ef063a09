package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is the provider-side record of a deposit attempt. It is created
// when a hosted charge is initiated and flipped to success/failed by the
// provider webhook. The wallet balance is only touched once the matching
// payment reached success.
type Payment struct {
	ID               uint64            `gorm:"primaryKey"`
	OwnerID          uint64            `gorm:"not null;index"`
	Reference        string            `gorm:"size:64;uniqueIndex;not null"`
	Amount           decimal.Decimal   `gorm:"type:numeric(20,2);not null"`
	Status           TransactionStatus `gorm:"size:16;not null;default:'pending'"`
	AuthorizationURL string            `gorm:"size:512"`
	PaidAt           *time.Time
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (Payment) TableName() string { return "payments" }
