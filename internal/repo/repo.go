package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MyITjournal/wallet-ledger/internal/model"
)

// Store-level conflicts. The service layer decides whether a conflict is
// an error or an already-applied event.
var (
	// ErrDuplicateReference means a row with the same (wallet_id, reference)
	// already exists; the unique index is the final idempotency arbiter.
	ErrDuplicateReference = errors.New("duplicate transaction reference")

	// ErrDuplicateWallet means the owner or wallet number is already taken.
	ErrDuplicateWallet = errors.New("wallet already exists")

	// ErrStaleWallet means the version check on a balance update failed.
	ErrStaleWallet = errors.New("wallet version conflict")

	// ErrNotPending means a status transition was attempted on a row that
	// already reached a terminal status.
	ErrNotPending = errors.New("transaction is not pending")
)

// RepositoryInterface restricts Repo methods so the service can be unit
// tested against a narrow surface.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	GetWalletByOwner(ctx context.Context, tx *gorm.DB, ownerID uint64, forUpdate bool) (*model.Wallet, error)
	GetWalletByNumber(ctx context.Context, tx *gorm.DB, number string, forUpdate bool) (*model.Wallet, error)
	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID uint64) (*model.Wallet, error)
	WalletNumberExists(ctx context.Context, tx *gorm.DB, number string) (bool, error)
	CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error
	UpdateWalletBalance(ctx context.Context, tx *gorm.DB, w *model.Wallet, newBalance, fundedDelta, withdrawnDelta decimal.Decimal) error

	CreateWalletTransaction(ctx context.Context, tx *gorm.DB, t *model.WalletTransaction) error
	FindTransactionByReference(ctx context.Context, tx *gorm.DB, walletID uint64, reference string) (*model.WalletTransaction, error)
	FindDebitByReference(ctx context.Context, tx *gorm.DB, reference string) (*model.WalletTransaction, error)
	ListTransactions(ctx context.Context, walletID uint64, limit, offset int) ([]model.WalletTransaction, error)
	UpdateTransactionStatus(ctx context.Context, tx *gorm.DB, id uint64, status model.TransactionStatus) error

	CreatePayment(ctx context.Context, p *model.Payment) error
	FindPaymentByReference(ctx context.Context, tx *gorm.DB, reference string) (*model.Payment, error)
	UpdatePaymentStatus(ctx context.Context, reference string, status model.TransactionStatus, paidAt *time.Time) error

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, walletID uint64, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error)
}

// Repository implements RepositoryInterface over postgres, redis and kafka.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}

func walletScope(tx *gorm.DB, forUpdate bool) *gorm.DB {
	q := tx.Where("is_deleted = ?", false)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// GetWalletByOwner fetches the owner's wallet, optionally locking the row.
func (r *Repository) GetWalletByOwner(ctx context.Context, tx *gorm.DB, ownerID uint64, forUpdate bool) (*model.Wallet, error) {
	var w model.Wallet
	if err := walletScope(tx.WithContext(ctx), forUpdate).
		Where("owner_id = ?", ownerID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWalletByNumber fetches a wallet by its human-facing number.
func (r *Repository) GetWalletByNumber(ctx context.Context, tx *gorm.DB, number string, forUpdate bool) (*model.Wallet, error) {
	var w model.Wallet
	if err := walletScope(tx.WithContext(ctx), forUpdate).
		Where("wallet_number = ?", number).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWalletForUpdate locks wallet row by id.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID uint64) (*model.Wallet, error) {
	var w model.Wallet
	if err := walletScope(tx.WithContext(ctx), true).
		Where("id = ?", walletID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// WalletNumberExists reports whether a candidate number is taken, deleted
// wallets included so numbers are never reused.
func (r *Repository) WalletNumberExists(ctx context.Context, tx *gorm.DB, number string) (bool, error) {
	var n int64
	if err := tx.WithContext(ctx).Model(&model.Wallet{}).
		Where("wallet_number = ?", number).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateWallet inserts a wallet; the unique indexes on owner_id and
// wallet_number are the final arbiter under concurrent first access.
func (r *Repository) CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error {
	if err := tx.WithContext(ctx).Create(w).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: owner=%d", ErrDuplicateWallet, w.OwnerID)
		}
		return err
	}
	return nil
}

// UpdateWalletBalance writes the new balance and lifetime totals with an
// optimistic version check on top of the row lock already held.
func (r *Repository) UpdateWalletBalance(ctx context.Context, tx *gorm.DB, w *model.Wallet, newBalance, fundedDelta, withdrawnDelta decimal.Decimal) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", w.ID, w.Version).
		Updates(map[string]interface{}{
			"balance":         newBalance,
			"total_funded":    w.TotalFunded.Add(fundedDelta),
			"total_withdrawn": w.TotalWithdrawn.Add(withdrawnDelta),
			"version":         w.Version + 1,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWallet
	}
	return nil
}

// CreateWalletTransaction appends a ledger row. A duplicate
// (wallet_id, reference) surfaces as ErrDuplicateReference.
func (r *Repository) CreateWalletTransaction(ctx context.Context, tx *gorm.DB, t *model.WalletTransaction) error {
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: wallet=%d ref=%s", ErrDuplicateReference, t.WalletID, t.Reference)
		}
		return err
	}
	return nil
}

// FindTransactionByReference is the idempotency probe; it must run inside
// the same transaction that will write the ledger row.
func (r *Repository) FindTransactionByReference(ctx context.Context, tx *gorm.DB, walletID uint64, reference string) (*model.WalletTransaction, error) {
	var t model.WalletTransaction
	err := tx.WithContext(ctx).
		Where("wallet_id = ? AND reference = ?", walletID, reference).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindDebitByReference locates a withdrawal row from its payout reference.
func (r *Repository) FindDebitByReference(ctx context.Context, tx *gorm.DB, reference string) (*model.WalletTransaction, error) {
	var t model.WalletTransaction
	err := tx.WithContext(ctx).
		Where("reference = ? AND type = ?", reference, model.TypeDebit).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTransactions returns a wallet's ledger newest first.
func (r *Repository) ListTransactions(ctx context.Context, walletID uint64, limit, offset int) ([]model.WalletTransaction, error) {
	var txs []model.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&txs).Error
	return txs, err
}

// UpdateTransactionStatus moves a pending row to a terminal status. The
// status guard in the WHERE clause keeps terminal rows immutable.
func (r *Repository) UpdateTransactionStatus(ctx context.Context, tx *gorm.DB, id uint64, status model.TransactionStatus) error {
	res := tx.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id=%d", ErrNotPending, id)
	}
	return nil
}

// CreatePayment records a deposit initiation.
func (r *Repository) CreatePayment(ctx context.Context, p *model.Payment) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: ref=%s", ErrDuplicateReference, p.Reference)
		}
		return err
	}
	return nil
}

// FindPaymentByReference looks up a deposit record; nil when absent.
func (r *Repository) FindPaymentByReference(ctx context.Context, tx *gorm.DB, reference string) (*model.Payment, error) {
	var p model.Payment
	err := tx.WithContext(ctx).Where("reference = ?", reference).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePaymentStatus flips a pending deposit record; terminal rows stay
// as they are so webhook replays cannot rewrite history.
func (r *Repository) UpdatePaymentStatus(ctx context.Context, reference string, status model.TransactionStatus, paidAt *time.Time) error {
	updates := map[string]interface{}{"status": status}
	if paidAt != nil {
		updates["paid_at"] = paidAt
	}
	return r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Where("reference = ? AND status = ?", reference, model.StatusPending).
		Updates(updates).Error
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.AggregateID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, walletID uint64, bal decimal.Decimal) error {
	return r.rdb.Set(ctx, fmt.Sprintf("wallet:balance:%d", walletID), bal.String(), 5*time.Minute).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, walletID uint64) (decimal.Decimal, error) {
	str, err := r.rdb.Get(ctx, fmt.Sprintf("wallet:balance:%d", walletID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}
