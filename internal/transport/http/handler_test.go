package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/MyITjournal/wallet-ledger/internal/logger"
	"github.com/MyITjournal/wallet-ledger/internal/model"
	"github.com/MyITjournal/wallet-ledger/internal/repo"
	"github.com/MyITjournal/wallet-ledger/internal/service"
)

// fakeGateway accepts everything; provider behavior is covered in the
// gateway and service packages.
type fakeGateway struct{}

func (fakeGateway) InitializeTransaction(_ context.Context, reference string, _ decimal.Decimal, _ string) (string, error) {
	return "https://checkout.example/" + reference, nil
}

func (fakeGateway) CreateTransferRecipient(context.Context, string, string, string) (string, error) {
	return "RCP_test", nil
}

func (fakeGateway) InitiatePayout(context.Context, decimal.Decimal, string, string) error {
	return nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.Wallet{}, &model.WalletTransaction{}, &model.Payment{}, &model.OutboxEvent{}))

	rdb, _ := redismock.NewClientMock()
	log, err := logger.NewLogger()
	require.NoError(t, err)

	repository := repo.NewRepository(db, rdb, &kafka.Writer{}, log)
	svc := service.NewWalletService(repository, fakeGateway{}, log, 5*time.Second)

	r := gin.New()
	RegisterHandlers(r, svc)
	return r, db
}

func postJSON(r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	buf, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func getPath(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrWalletNotFound, http.StatusNotFound},
		{service.ErrRecipientNotFound, http.StatusNotFound},
		{service.ErrPaymentNotFound, http.StatusNotFound},
		{service.ErrTransactionNotFound, http.StatusNotFound},
		{service.ErrWalletLocked, http.StatusForbidden},
		{service.ErrInvalidAmount, http.StatusBadRequest},
		{service.ErrInsufficientFunds, http.StatusBadRequest},
		{service.ErrSelfTransfer, http.StatusBadRequest},
		{service.ErrLockTimeout, http.StatusServiceUnavailable},
		{service.ErrGatewayFailure, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
		// Wrapped engine errors map the same way.
		assert.Equal(t, tt.want, statusFor(fmt.Errorf("op failed: %w", tt.err)), "wrapped %v", tt.err)
	}
}

func TestBalanceRoute(t *testing.T) {
	r, _ := newTestRouter(t)

	assert.Equal(t, http.StatusBadRequest, getPath(r, "/v1/wallets/abc/balance").Code)

	w := getPath(r, "/v1/wallets/1/balance")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "balance")
}

func TestDepositStatusRoute_Missing(t *testing.T) {
	r, _ := newTestRouter(t)
	assert.Equal(t, http.StatusNotFound, getPath(r, "/v1/deposits/WALLET_FUND_missing").Code)
}

func TestWebhookRoute(t *testing.T) {
	r, db := newTestRouter(t)

	// Malformed payload never reaches the engine.
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/paystack", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	p := &model.Payment{OwnerID: 1, Reference: "WALLET_FUND_http", Amount: decimal.NewFromInt(50000), Status: model.StatusPending}
	require.NoError(t, db.Create(p).Error)

	w = postJSON(r, "/v1/webhooks/paystack", gin.H{
		"event": "charge.success",
		"data":  gin.H{"reference": "WALLET_FUND_http", "status": "success"},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var wallet model.Wallet
	require.NoError(t, db.Where("owner_id = ?", uint64(1)).First(&wallet).Error)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(50000)), "charge.success credits the wallet: %s", wallet.Balance)

	// Redelivery is acknowledged without a second credit.
	w = postJSON(r, "/v1/webhooks/paystack", gin.H{
		"event": "charge.success",
		"data":  gin.H{"reference": "WALLET_FUND_http", "status": "success"},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, db.Where("owner_id = ?", uint64(1)).First(&wallet).Error)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(50000)))

	// Non-success events and foreign references are acknowledged too.
	w = postJSON(r, "/v1/webhooks/paystack", gin.H{
		"event": "charge.failed",
		"data":  gin.H{"reference": "WALLET_FUND_other"},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	w = postJSON(r, "/v1/webhooks/paystack", gin.H{
		"event": "charge.success",
		"data":  gin.H{"reference": "NOT_OURS_123"},
	})
	assert.Equal(t, http.StatusOK, w.Code)
}
