package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds the custodial balance for one owner. Balance is a cache
// derived from the transaction ledger; the engine keeps both in step
// inside a single database transaction.
type Wallet struct {
	ID             uint64          `gorm:"primaryKey;column:id"`
	OwnerID        uint64          `gorm:"uniqueIndex;not null"`
	WalletNumber   string          `gorm:"size:13;uniqueIndex;not null"`
	Balance        decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'"`
	TotalFunded    decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'"`
	TotalWithdrawn decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'"`
	IsLocked       bool            `gorm:"not null;default:false"`
	IsDeleted      bool            `gorm:"not null;default:false"`
	DeletedAt      *time.Time
	Version        uint64    `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallets" }
