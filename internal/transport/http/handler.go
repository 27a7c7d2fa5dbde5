package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/richardliu001/eventkernel/internal/es"
	"github.com/richardliu001/eventkernel/internal/idempotency"
	"github.com/richardliu001/eventkernel/internal/service"
	"github.com/richardliu001/eventkernel/internal/wallet"
)

// IdempotencyHeader takes precedence over the idempotency_key body field.
const IdempotencyHeader = "Idempotency-Key"

func RegisterHandlers(r *gin.Engine, svc *service.WalletService) {
	v1 := r.Group("/v1")
	{
		v1.POST("/wallets/:id/deposit", depositHandler(svc))
		v1.POST("/wallets/:id/withdraw", withdrawHandler(svc))
		v1.POST("/wallets/:id/transfer", transferHandler(svc))
		v1.GET("/wallets/:id/balance", balanceHandler(svc))
		v1.GET("/wallets/:id/history", historyHandler(svc))
	}
}

type amountReq struct {
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type transferReq struct {
	ToID           string          `json:"to_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}

func idempotencyKey(c *gin.Context, body string) string {
	if k := c.GetHeader(IdempotencyHeader); k != "" {
		return k
	}
	return body
}

func depositHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req amountReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.Deposit(c.Request.Context(), service.DepositFunds{
			WalletID: c.Param("id"),
			Amount:   req.Amount,
			Currency: req.Currency,
			Key:      idempotencyKey(c, req.IdempotencyKey),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func withdrawHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req amountReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.Withdraw(c.Request.Context(), service.WithdrawFunds{
			WalletID: c.Param("id"),
			Amount:   req.Amount,
			Key:      idempotencyKey(c, req.IdempotencyKey),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func transferHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.Transfer(c.Request.Context(), service.TransferFunds{
			FromID: c.Param("id"),
			ToID:   req.ToID,
			Amount: req.Amount,
			Key:    idempotencyKey(c, req.IdempotencyKey),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func balanceHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		bal, err := svc.GetBalance(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"wallet_id": id, "balance": bal})
	}
}

type historyItem struct {
	Version    int64           `json:"version"`
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredOn time.Time       `json:"occurred_on"`
	Payload    json.RawMessage `json:"payload"`
}

func historyHandler(svc *service.WalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := svc.History(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		items := make([]historyItem, 0, len(rows))
		for _, r := range rows {
			items = append(items, historyItem{
				Version:    r.Version,
				EventID:    r.EventID,
				EventType:  r.EventType,
				OccurredOn: r.OccurredOn,
				Payload:    json.RawMessage(r.Payload),
			})
		}
		c.JSON(http.StatusOK, items)
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, es.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, es.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, idempotency.ErrCacheUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrNotOpen),
		errors.Is(err, wallet.ErrAlreadyOpen),
		errors.Is(err, service.ErrMissingWallet),
		errors.Is(err, service.ErrSelfTransfer),
		errors.Is(err, service.ErrCurrencyMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
