package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/MyITjournal/wallet-ledger/internal/service"
)

func RegisterHandlers(r *gin.Engine, svc *service.WalletService) {
	v1 := r.Group("/v1")
	{
		v1.GET("/wallets/:owner_id/balance", balanceHandler(svc))
		v1.POST("/wallets/:owner_id/fund", fundHandler(svc))
		v1.POST("/wallets/:owner_id/withdraw", withdrawHandler(svc))
		v1.POST("/wallets/:owner_id/transfer", transferHandler(svc))
		v1.GET("/wallets/:owner_id/transactions", historyHandler(svc))
		v1.GET("/deposits/:reference", depositStatusHandler(svc))
		v1.POST("/webhooks/paystack", webhookHandler(svc))
	}
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrWalletNotFound),
		errors.Is(err, service.ErrRecipientNotFound),
		errors.Is(err, service.ErrPaymentNotFound),
		errors.Is(err, service.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrWalletLocked):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInsufficientFunds),
		errors.Is(err, service.ErrSelfTransfer):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrLockTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrGatewayFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func ownerID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("owner_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner id"})
		return 0, false
	}
	return id, true
}

func parseAmount(c *gin.Context, raw string) (decimal.Decimal, bool) {
	amt, err := decimal.NewFromString(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return decimal.Zero, false
	}
	return amt, true
}

func balanceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := ownerID(c)
		if !ok {
			return
		}
		bal, err := svc.GetBalance(c, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

type fundReq struct {
	Amount string `json:"amount" binding:"required"`
	Email  string `json:"email" binding:"required"`
}

func fundHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := ownerID(c)
		if !ok {
			return
		}
		var req fundReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, ok := parseAmount(c, req.Amount)
		if !ok {
			return
		}
		res, err := svc.InitiateFunding(c, id, amt, req.Email)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"reference":         res.Reference,
			"authorization_url": res.AuthorizationURL,
		})
	}
}

type withdrawReq struct {
	Amount        string `json:"amount" binding:"required"`
	AccountNumber string `json:"account_number" binding:"required"`
	BankCode      string `json:"bank_code" binding:"required"`
	AccountName   string `json:"account_name"`
}

func withdrawHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := ownerID(c)
		if !ok {
			return
		}
		var req withdrawReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, ok := parseAmount(c, req.Amount)
		if !ok {
			return
		}
		res, err := svc.InitiateWithdrawal(c, id, amt, service.WithdrawalDetails{
			AccountNumber: req.AccountNumber,
			BankCode:      req.BankCode,
			AccountName:   req.AccountName,
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"reference": res.Reference,
			"amount":    res.Amount,
			"status":    res.Status,
		})
	}
}

type transferReq struct {
	WalletNumber string `json:"wallet_number" binding:"required"`
	Amount       string `json:"amount" binding:"required"`
	Description  string `json:"description"`
}

func transferHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := ownerID(c)
		if !ok {
			return
		}
		var req transferReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, ok := parseAmount(c, req.Amount)
		if !ok {
			return
		}
		res, err := svc.TransferToUser(c, id, req.WalletNumber, amt, req.Description)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"reference": res.Reference,
			"balance":   res.SenderBalance,
			"status":    "success",
		})
	}
}

func historyHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := ownerID(c)
		if !ok {
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		txs, err := svc.GetTransactionHistory(c, id, limit, offset)
		if err != nil {
			fail(c, err)
			return
		}
		out := make([]gin.H, 0, len(txs))
		for _, t := range txs {
			out = append(out, gin.H{
				"id":             t.ID,
				"type":           t.Type,
				"amount":         t.Amount,
				"balance_before": t.BalanceBefore,
				"balance_after":  t.BalanceAfter,
				"status":         t.Status,
				"reference":      t.Reference,
				"description":    t.Description,
				"metadata":       t.Metadata,
				"created_at":     t.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"transactions": out})
	}
}

func depositStatusHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svc.GetDepositStatus(c, c.Param("reference"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"reference": st.Reference,
			"status":    st.Status,
			"amount":    st.Amount,
		})
	}
}

// webhookPayload mirrors the provider event shape. Signature checking
// happens upstream; by the time this handler runs the event is trusted.
type webhookPayload struct {
	Event string `json:"event" binding:"required"`
	Data  struct {
		Reference string `json:"reference" binding:"required"`
		Status    string `json:"status"`
	} `json:"data" binding:"required"`
}

func webhookHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var p webhookPayload
		if err := c.ShouldBindJSON(&p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		success := p.Event == "charge.success" || p.Event == "transfer.success"
		if err := svc.HandleGatewayWebhook(c, p.Data.Reference, success); err != nil {
			// Non-2xx makes the provider redeliver; replays are safe.
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": true})
	}
}
