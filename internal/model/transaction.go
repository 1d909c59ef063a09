package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies the direction of a ledger entry. Amount is
// always positive; the sign is implied by the type.
type TransactionType string

const (
	TypeCredit      TransactionType = "credit"
	TypeDebit       TransactionType = "debit"
	TypeTransferIn  TransactionType = "transfer_in"
	TypeTransferOut TransactionType = "transfer_out"
)

// Delta returns the signed balance effect of one unit of this type.
func (t TransactionType) Delta(amount decimal.Decimal) decimal.Decimal {
	switch t {
	case TypeDebit, TypeTransferOut:
		return amount.Neg()
	default:
		return amount
	}
}

type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
)

// WalletTransaction is an immutable ledger row. Only Status may change,
// and only away from pending. (wallet_id, reference) is unique so the
// same external event cannot post twice to one wallet.
type WalletTransaction struct {
	ID              uint64            `gorm:"primaryKey"`
	WalletID        uint64            `gorm:"not null;uniqueIndex:idx_wallet_reference"`
	Type            TransactionType   `gorm:"size:32;not null"`
	Amount          decimal.Decimal   `gorm:"type:numeric(20,2);not null"`
	BalanceBefore   decimal.Decimal   `gorm:"type:numeric(20,2);not null"`
	BalanceAfter    decimal.Decimal   `gorm:"type:numeric(20,2);not null"`
	Status          TransactionStatus `gorm:"size:16;not null;default:'pending'"`
	Reference       string            `gorm:"size:64;not null;uniqueIndex:idx_wallet_reference"`
	Description     string            `gorm:"size:255"`
	Metadata        string            `gorm:"type:jsonb"`
	RelatedWalletID *uint64
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }
