package model

import (
	"encoding/json"
	"fmt"
)

// WithdrawalMetadata carries the payout destination on a debit row.
type WithdrawalMetadata struct {
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	AccountName   string `json:"account_name,omitempty"`
}

// TransferMetadata names the counterparty wallet on a transfer leg.
type TransferMetadata struct {
	SenderWallet    string `json:"sender_wallet,omitempty"`
	RecipientWallet string `json:"recipient_wallet,omitempty"`
}

// EncodeMetadata marshals v for storage on a transaction row.
func EncodeMetadata(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

// DecodeMetadata interprets a row's metadata blob by transaction type.
// Rows without metadata decode to nil.
func (t *WalletTransaction) DecodeMetadata() (interface{}, error) {
	if t.Metadata == "" {
		return nil, nil
	}
	switch t.Type {
	case TypeDebit:
		var m WithdrawalMetadata
		if err := json.Unmarshal([]byte(t.Metadata), &m); err != nil {
			return nil, fmt.Errorf("decode withdrawal metadata: %w", err)
		}
		return &m, nil
	case TypeTransferIn, TypeTransferOut:
		var m TransferMetadata
		if err := json.Unmarshal([]byte(t.Metadata), &m); err != nil {
			return nil, fmt.Errorf("decode transfer metadata: %w", err)
		}
		return &m, nil
	default:
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(t.Metadata), &m); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		return m, nil
	}
}
