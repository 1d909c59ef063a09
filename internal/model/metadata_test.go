package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMetadata(t *testing.T) {
	wd, err := EncodeMetadata(WithdrawalMetadata{AccountNumber: "0123456789", BankCode: "058"})
	require.NoError(t, err)
	tm, err := EncodeMetadata(TransferMetadata{RecipientWallet: "1234567890123"})
	require.NoError(t, err)

	tests := []struct {
		name string
		tx   WalletTransaction
		want interface{}
	}{
		{
			name: "withdrawal details on a debit",
			tx:   WalletTransaction{Type: TypeDebit, Metadata: wd},
			want: &WithdrawalMetadata{AccountNumber: "0123456789", BankCode: "058"},
		},
		{
			name: "counterparty on a transfer leg",
			tx:   WalletTransaction{Type: TypeTransferOut, Metadata: tm},
			want: &TransferMetadata{RecipientWallet: "1234567890123"},
		},
		{
			name: "empty metadata decodes to nil",
			tx:   WalletTransaction{Type: TypeCredit},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.tx.DecodeMetadata()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = (&WalletTransaction{Type: TypeDebit, Metadata: "{not json"}).DecodeMetadata()
	assert.Error(t, err)
}

func TestTypeDelta(t *testing.T) {
	amt := decimal.NewFromInt(100)
	assert.True(t, TypeCredit.Delta(amt).Equal(decimal.NewFromInt(100)))
	assert.True(t, TypeTransferIn.Delta(amt).Equal(decimal.NewFromInt(100)))
	assert.True(t, TypeDebit.Delta(amt).Equal(decimal.NewFromInt(-100)))
	assert.True(t, TypeTransferOut.Delta(amt).Equal(decimal.NewFromInt(-100)))
}
