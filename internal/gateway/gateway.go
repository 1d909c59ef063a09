package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is the outbound payment-provider boundary consumed by the
// ledger engine. All amounts are in the smallest currency unit (kobo).
// Every call is remote and may fail or time out; callers own the
// compensation story.
type Gateway interface {
	// InitializeTransaction starts a hosted charge and returns the
	// authorization URL the payer is redirected to.
	InitializeTransaction(ctx context.Context, reference string, amount decimal.Decimal, email string) (string, error)

	// CreateTransferRecipient registers a payout destination and returns
	// the provider's recipient code.
	CreateTransferRecipient(ctx context.Context, accountNumber, bankCode, name string) (string, error)

	// InitiatePayout moves funds out to a previously created recipient.
	InitiatePayout(ctx context.Context, amount decimal.Decimal, recipientCode, reference string) error
}
