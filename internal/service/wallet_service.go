package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MyITjournal/wallet-ledger/internal/gateway"
	"github.com/MyITjournal/wallet-ledger/internal/model"
	"github.com/MyITjournal/wallet-ledger/internal/repo"
)

// Reference prefixes route webhook deliveries back to the right flow.
const (
	FundingPrefix    = "WALLET_FUND_"
	WithdrawalPrefix = "WALLET_WD_"
	TransferPrefix   = "TRANSFER_"
)

const (
	walletNumberDigits = 13
	maxNumberAttempts  = 5
	maxVersionRetries  = 3
)

// WalletService is the ledger engine. Every mutation runs inside one
// database transaction spanning the wallet and transaction stores; the
// wallet row lock is the per-user serialization point.
type WalletService struct {
	repo      repo.RepositoryInterface
	gw        gateway.Gateway
	log       *zap.SugaredLogger
	opTimeout time.Duration
	genNumber func() (string, error)
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, gw gateway.Gateway, logger *zap.SugaredLogger, opTimeout time.Duration) *WalletService {
	if opTimeout <= 0 {
		opTimeout = 10 * time.Second
	}
	return &WalletService{repo: r, gw: gw, log: logger, opTimeout: opTimeout, genNumber: newWalletNumber}
}

// FundingResult is returned from InitiateFunding; the balance is not
// touched until the provider confirms the charge.
type FundingResult struct {
	Reference        string
	AuthorizationURL string
}

// WithdrawalDetails is the payout destination for a withdrawal.
type WithdrawalDetails struct {
	AccountNumber string
	BankCode      string
	AccountName   string
}

// WithdrawalResult reports a provisional withdrawal.
type WithdrawalResult struct {
	Reference string
	Amount    decimal.Decimal
	Status    model.TransactionStatus
}

// TransferResult reports a completed peer transfer.
type TransferResult struct {
	Reference     string
	SenderBalance decimal.Decimal
}

// DepositStatus reports the provider-side state of a funding attempt.
type DepositStatus struct {
	Reference string
	Status    model.TransactionStatus
	Amount    decimal.Decimal
}

// TransactionView is one history entry with decoded metadata.
type TransactionView struct {
	ID            uint64
	Type          model.TransactionType
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Status        model.TransactionStatus
	Reference     string
	Description   string
	Metadata      interface{}
	CreatedAt     time.Time
}

// withDeadline bounds lock waits so contention fails fast instead of
// blocking indefinitely.
func (s *WalletService) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func classifyTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return err
}

func newReference(prefix string) string {
	return fmt.Sprintf("%s%d_%s", prefix, time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// newWalletNumber draws a random fixed-length numeric wallet number.
func newWalletNumber() (string, error) {
	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(walletNumberDigits-1), nil)
	span := new(big.Int).Mul(low, big.NewInt(9))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	return n.Add(n, low).String(), nil
}

// GetOrCreateWallet returns the owner's wallet, creating it lazily on
// first access. A losing concurrent creator re-reads and returns the
// winner's wallet instead of erroring.
func (s *WalletService) GetOrCreateWallet(ctx context.Context, ownerID uint64) (*model.Wallet, error) {
	w, err := s.repo.GetWalletByOwner(ctx, s.repo.DB(ctx), ownerID, false)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		number, err := s.genNumber()
		if err != nil {
			return nil, fmt.Errorf("generate wallet number: %w", err)
		}
		exists, err := s.repo.WalletNumberExists(ctx, s.repo.DB(ctx), number)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		w = &model.Wallet{
			OwnerID:        ownerID,
			WalletNumber:   number,
			Balance:        decimal.Zero,
			TotalFunded:    decimal.Zero,
			TotalWithdrawn: decimal.Zero,
		}
		err = s.repo.CreateWallet(ctx, s.repo.DB(ctx), w)
		if err == nil {
			s.log.Infow("wallet created", "owner", ownerID, "number", number)
			return w, nil
		}
		if errors.Is(err, repo.ErrDuplicateWallet) {
			// Lost a race. Either the owner got a wallet concurrently, or
			// the number collided between the exists check and insert.
			if winner, rerr := s.repo.GetWalletByOwner(ctx, s.repo.DB(ctx), ownerID, false); rerr == nil {
				return winner, nil
			}
			continue
		}
		return nil, err
	}
	return nil, ErrWalletNumberExhausted
}

// GetBalance serves reads from the cache when warm, falling back to the
// wallet row and re-priming.
func (s *WalletService) GetBalance(ctx context.Context, ownerID uint64) (decimal.Decimal, error) {
	w, err := s.GetOrCreateWallet(ctx, ownerID)
	if err != nil {
		return decimal.Zero, err
	}
	if bal, err := s.repo.GetCachedBalance(ctx, w.ID); err == nil {
		return bal, nil
	}
	if err := s.repo.CacheBalance(ctx, w.ID, w.Balance); err != nil {
		s.log.Warnw("cache balance", "wallet", w.ID, "err", err)
	}
	return w.Balance, nil
}

// InitiateFunding starts a hosted charge. No balance effect until the
// provider webhook confirms success.
func (s *WalletService) InitiateFunding(ctx context.Context, ownerID uint64, amount decimal.Decimal, email string) (*FundingResult, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	w, err := s.GetOrCreateWallet(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if w.IsLocked {
		return nil, ErrWalletLocked
	}

	reference := newReference(FundingPrefix)
	authURL, err := s.gw.InitializeTransaction(ctx, reference, amount, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}

	p := &model.Payment{
		OwnerID:          ownerID,
		Reference:        reference,
		Amount:           amount,
		Status:           model.StatusPending,
		AuthorizationURL: authURL,
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}
	s.log.Infow("funding initiated", "owner", ownerID, "reference", reference, "amount", amount)
	return &FundingResult{Reference: reference, AuthorizationURL: authURL}, nil
}

// CreditFromPayment applies a confirmed charge to the wallet exactly
// once. Replayed webhook deliveries are a no-op.
func (s *WalletService) CreditFromPayment(ctx context.Context, reference string) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	payment, err := s.repo.FindPaymentByReference(ctx, s.repo.DB(ctx), reference)
	if err != nil {
		return classifyTimeout(err)
	}
	if payment == nil || payment.Status != model.StatusSuccess {
		return nil
	}
	w, err := s.GetOrCreateWallet(ctx, payment.OwnerID)
	if err != nil {
		return classifyTimeout(err)
	}

	var lastErr error
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		lastErr = s.creditOnce(ctx, w.ID, payment)
		if errors.Is(lastErr, repo.ErrStaleWallet) {
			continue
		}
		if errors.Is(lastErr, repo.ErrDuplicateReference) {
			// A concurrent delivery won the insert race; already applied.
			return nil
		}
		return classifyTimeout(lastErr)
	}
	return classifyTimeout(lastErr)
}

func (s *WalletService) creditOnce(ctx context.Context, walletID uint64, payment *model.Payment) error {
	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindTransactionByReference(ctx, tx, walletID, payment.Reference)
		if err != nil {
			return err
		}
		if existing != nil {
			s.log.Infow("credit replay ignored", "reference", payment.Reference)
			return nil
		}

		w, err := s.repo.GetWalletForUpdate(ctx, tx, walletID)
		if err != nil {
			return err
		}
		newBal := w.Balance.Add(payment.Amount)

		t := &model.WalletTransaction{
			WalletID:      w.ID,
			Type:          model.TypeCredit,
			Amount:        payment.Amount,
			BalanceBefore: w.Balance,
			BalanceAfter:  newBal,
			Status:        model.StatusSuccess,
			Reference:     payment.Reference,
			Description:   "Wallet funding via Paystack",
		}
		if err := s.repo.CreateWalletTransaction(ctx, tx, t); err != nil {
			return err
		}
		if err := s.repo.UpdateWalletBalance(ctx, tx, w, newBal, payment.Amount, decimal.Zero); err != nil {
			return err
		}
		if err := s.emitEvent(ctx, tx, w.ID, "WalletCredited", map[string]interface{}{
			"wallet_id": w.ID, "reference": payment.Reference, "amount": payment.Amount, "balance": newBal,
		}); err != nil {
			return err
		}
		if err := s.repo.CacheBalance(ctx, w.ID, newBal); err != nil {
			s.log.Warnw("cache balance", "wallet", w.ID, "err", err)
		}
		s.log.Infow("wallet credited", "wallet", w.ID, "reference", payment.Reference, "amount", payment.Amount)
		return nil
	})
}

// InitiateWithdrawal debits the wallet provisionally, commits, then asks
// the provider to pay out. The debit is compensated if the payout call
// fails; the lock is never held across the remote call.
func (s *WalletService) InitiateWithdrawal(ctx context.Context, ownerID uint64, amount decimal.Decimal, details WithdrawalDetails) (*WithdrawalResult, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	reference := newReference(WithdrawalPrefix)
	var walletID uint64

	txCtx, cancel := s.withDeadline(ctx)
	err := s.repo.DB(txCtx).Transaction(func(tx *gorm.DB) error {
		w, err := s.repo.GetWalletByOwner(txCtx, tx, ownerID, true)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		if w.IsLocked {
			return ErrWalletLocked
		}
		if w.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		walletID = w.ID
		newBal := w.Balance.Sub(amount)

		meta, err := model.EncodeMetadata(model.WithdrawalMetadata{
			AccountNumber: details.AccountNumber,
			BankCode:      details.BankCode,
			AccountName:   details.AccountName,
		})
		if err != nil {
			return err
		}
		t := &model.WalletTransaction{
			WalletID:      w.ID,
			Type:          model.TypeDebit,
			Amount:        amount,
			BalanceBefore: w.Balance,
			BalanceAfter:  newBal,
			Status:        model.StatusPending,
			Reference:     reference,
			Description:   "Withdrawal to bank account",
			Metadata:      meta,
		}
		if err := s.repo.CreateWalletTransaction(txCtx, tx, t); err != nil {
			return err
		}
		if err := s.repo.UpdateWalletBalance(txCtx, tx, w, newBal, decimal.Zero, decimal.Zero); err != nil {
			return err
		}
		if err := s.emitEvent(txCtx, tx, w.ID, "WithdrawalInitiated", map[string]interface{}{
			"wallet_id": w.ID, "reference": reference, "amount": amount, "balance": newBal,
		}); err != nil {
			return err
		}
		if err := s.repo.CacheBalance(txCtx, w.ID, newBal); err != nil {
			s.log.Warnw("cache balance", "wallet", w.ID, "err", err)
		}
		return nil
	})
	cancel()
	if err != nil {
		return nil, classifyTimeout(err)
	}

	// The provisional debit is committed; the payout runs lock-free.
	if err := s.runPayout(ctx, amount, details, reference); err != nil {
		if cerr := s.failWithdrawal(ctx, reference); cerr != nil {
			s.log.Errorw("withdrawal compensation failed", "reference", reference, "err", cerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}

	s.log.Infow("withdrawal initiated", "wallet", walletID, "reference", reference, "amount", amount)
	return &WithdrawalResult{Reference: reference, Amount: amount, Status: model.StatusPending}, nil
}

func (s *WalletService) runPayout(ctx context.Context, amount decimal.Decimal, details WithdrawalDetails, reference string) error {
	name := details.AccountName
	if name == "" {
		name = "Wallet Withdrawal"
	}
	recipient, err := s.gw.CreateTransferRecipient(ctx, details.AccountNumber, details.BankCode, name)
	if err != nil {
		return err
	}
	return s.gw.InitiatePayout(ctx, amount, recipient, reference)
}

// ConfirmWithdrawal finalizes a pending debit after the provider reports
// the payout settled. Replays and unknown references are no-ops.
func (s *WalletService) ConfirmWithdrawal(ctx context.Context, reference string) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.repo.FindDebitByReference(ctx, tx, reference)
		if err != nil {
			return err
		}
		if t == nil || t.Status != model.StatusPending {
			return nil
		}
		w, err := s.repo.GetWalletForUpdate(ctx, tx, t.WalletID)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateTransactionStatus(ctx, tx, t.ID, model.StatusSuccess); err != nil {
			return err
		}
		if err := s.repo.UpdateWalletBalance(ctx, tx, w, w.Balance, decimal.Zero, t.Amount); err != nil {
			return err
		}
		return s.emitEvent(ctx, tx, w.ID, "WithdrawalConfirmed", map[string]interface{}{
			"wallet_id": w.ID, "reference": reference, "amount": t.Amount,
		})
	})
	return classifyTimeout(err)
}

// failWithdrawal is the compensation path: re-credit the provisional
// debit and flip the row to failed. Safe to call more than once.
func (s *WalletService) failWithdrawal(ctx context.Context, reference string) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.repo.FindDebitByReference(ctx, tx, reference)
		if err != nil {
			return err
		}
		if t == nil || t.Status != model.StatusPending {
			return nil
		}
		w, err := s.repo.GetWalletForUpdate(ctx, tx, t.WalletID)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateTransactionStatus(ctx, tx, t.ID, model.StatusFailed); err != nil {
			return err
		}
		restored := w.Balance.Add(t.Amount)
		if err := s.repo.UpdateWalletBalance(ctx, tx, w, restored, decimal.Zero, decimal.Zero); err != nil {
			return err
		}
		if err := s.repo.CacheBalance(ctx, w.ID, restored); err != nil {
			s.log.Warnw("cache balance", "wallet", w.ID, "err", err)
		}
		s.log.Infow("withdrawal reversed", "wallet", w.ID, "reference", reference, "amount", t.Amount)
		return s.emitEvent(ctx, tx, w.ID, "WithdrawalFailed", map[string]interface{}{
			"wallet_id": w.ID, "reference": reference, "amount": t.Amount, "balance": restored,
		})
	})
	return classifyTimeout(err)
}

// TransferToUser moves funds between two wallets atomically. Both rows
// are locked in ascending id order so opposite-direction transfers
// cannot deadlock. Exactly two ledger rows share one reference.
func (s *WalletService) TransferToUser(ctx context.Context, senderOwnerID uint64, recipientNumber string, amount decimal.Decimal, description string) (*TransferResult, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	var result TransferResult
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		sender, err := s.repo.GetWalletByOwner(ctx, tx, senderOwnerID, false)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrWalletNotFound
			}
			return err
		}
		recipient, err := s.repo.GetWalletByNumber(ctx, tx, recipientNumber, false)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRecipientNotFound
			}
			return err
		}
		if recipient.ID == sender.ID {
			return ErrSelfTransfer
		}

		// Canonical lock order by wallet id.
		firstID, secondID := sender.ID, recipient.ID
		if secondID < firstID {
			firstID, secondID = secondID, firstID
		}
		w1, err := s.repo.GetWalletForUpdate(ctx, tx, firstID)
		if err != nil {
			return err
		}
		w2, err := s.repo.GetWalletForUpdate(ctx, tx, secondID)
		if err != nil {
			return err
		}
		wFrom, wTo := w1, w2
		if firstID != sender.ID {
			wFrom, wTo = w2, w1
		}

		if wFrom.IsLocked || wTo.IsLocked {
			return ErrWalletLocked
		}
		if wFrom.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		reference := newReference(TransferPrefix)
		newFrom := wFrom.Balance.Sub(amount)
		newTo := wTo.Balance.Add(amount)

		outDesc := description
		if outDesc == "" {
			outDesc = fmt.Sprintf("Transfer to wallet %s", wTo.WalletNumber)
		}
		inDesc := description
		if inDesc == "" {
			inDesc = fmt.Sprintf("Transfer from wallet %s", wFrom.WalletNumber)
		}
		outMeta, err := model.EncodeMetadata(model.TransferMetadata{RecipientWallet: wTo.WalletNumber})
		if err != nil {
			return err
		}
		inMeta, err := model.EncodeMetadata(model.TransferMetadata{SenderWallet: wFrom.WalletNumber})
		if err != nil {
			return err
		}

		txOut := &model.WalletTransaction{
			WalletID: wFrom.ID, Type: model.TypeTransferOut, Amount: amount,
			BalanceBefore: wFrom.Balance, BalanceAfter: newFrom,
			Status: model.StatusSuccess, Reference: reference,
			Description: outDesc, Metadata: outMeta, RelatedWalletID: &wTo.ID,
		}
		txIn := &model.WalletTransaction{
			WalletID: wTo.ID, Type: model.TypeTransferIn, Amount: amount,
			BalanceBefore: wTo.Balance, BalanceAfter: newTo,
			Status: model.StatusSuccess, Reference: reference,
			Description: inDesc, Metadata: inMeta, RelatedWalletID: &wFrom.ID,
		}
		if err := s.repo.CreateWalletTransaction(ctx, tx, txOut); err != nil {
			return err
		}
		if err := s.repo.CreateWalletTransaction(ctx, tx, txIn); err != nil {
			return err
		}
		if err := s.repo.UpdateWalletBalance(ctx, tx, wFrom, newFrom, decimal.Zero, decimal.Zero); err != nil {
			return err
		}
		if err := s.repo.UpdateWalletBalance(ctx, tx, wTo, newTo, amount, decimal.Zero); err != nil {
			return err
		}
		if err := s.emitEvent(ctx, tx, wFrom.ID, "TransferCompleted", map[string]interface{}{
			"reference": reference, "from": wFrom.ID, "to": wTo.ID, "amount": amount,
		}); err != nil {
			return err
		}
		if err := s.repo.CacheBalance(ctx, wFrom.ID, newFrom); err != nil {
			s.log.Warnw("cache balance", "wallet", wFrom.ID, "err", err)
		}
		if err := s.repo.CacheBalance(ctx, wTo.ID, newTo); err != nil {
			s.log.Warnw("cache balance", "wallet", wTo.ID, "err", err)
		}
		result = TransferResult{Reference: reference, SenderBalance: newFrom}
		s.log.Infow("transfer completed", "reference", reference, "from", wFrom.ID, "to", wTo.ID, "amount", amount)
		return nil
	})
	if err != nil {
		return nil, classifyTimeout(err)
	}
	return &result, nil
}

// GetTransactionHistory returns the wallet's ledger newest first with
// decoded metadata. Read-only, no locking.
func (s *WalletService) GetTransactionHistory(ctx context.Context, ownerID uint64, limit, offset int) ([]TransactionView, error) {
	if limit <= 0 {
		limit = 50
	}
	w, err := s.GetOrCreateWallet(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	txs, err := s.repo.ListTransactions(ctx, w.ID, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]TransactionView, 0, len(txs))
	for i := range txs {
		t := &txs[i]
		meta, err := t.DecodeMetadata()
		if err != nil {
			s.log.Warnw("bad transaction metadata", "id", t.ID, "err", err)
		}
		views = append(views, TransactionView{
			ID:            t.ID,
			Type:          t.Type,
			Amount:        t.Amount,
			BalanceBefore: t.BalanceBefore,
			BalanceAfter:  t.BalanceAfter,
			Status:        t.Status,
			Reference:     t.Reference,
			Description:   t.Description,
			Metadata:      meta,
			CreatedAt:     t.CreatedAt,
		})
	}
	return views, nil
}

// GetDepositStatus reports the provider-side state of a funding attempt.
func (s *WalletService) GetDepositStatus(ctx context.Context, reference string) (*DepositStatus, error) {
	p, err := s.repo.FindPaymentByReference(ctx, s.repo.DB(ctx), reference)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPaymentNotFound
	}
	return &DepositStatus{Reference: p.Reference, Status: p.Status, Amount: p.Amount}, nil
}

// HandleGatewayWebhook consumes an already-verified provider event.
// Delivery is at-least-once; every branch tolerates replays.
func (s *WalletService) HandleGatewayWebhook(ctx context.Context, reference string, success bool) error {
	switch {
	case strings.HasPrefix(reference, FundingPrefix):
		status := model.StatusFailed
		var paidAt *time.Time
		if success {
			status = model.StatusSuccess
			now := time.Now()
			paidAt = &now
		}
		if err := s.repo.UpdatePaymentStatus(ctx, reference, status, paidAt); err != nil {
			return err
		}
		if success {
			return s.CreditFromPayment(ctx, reference)
		}
		return nil
	case strings.HasPrefix(reference, WithdrawalPrefix):
		if success {
			return s.ConfirmWithdrawal(ctx, reference)
		}
		return s.failWithdrawal(ctx, reference)
	default:
		s.log.Warnw("webhook for unknown reference", "reference", reference)
		return nil
	}
}

func (s *WalletService) emitEvent(ctx context.Context, tx *gorm.DB, walletID uint64, eventType string, payload map[string]interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	evt := &model.OutboxEvent{
		Aggregate:   "Wallet",
		AggregateID: walletID,
		EventType:   eventType,
		Payload:     string(raw),
	}
	return s.repo.CreateOutboxEvent(ctx, tx, evt)
}
