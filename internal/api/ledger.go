package api

import (
	"context"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"

	"github.com/kl456123/reward-vault-ton/internal/payload"
)

// Tokens is satisfied by ledger.Memory.
type Tokens interface {
	Mint(owner ton.AccountID, amount *big.Int)
	Balance(ctx context.Context, owner ton.AccountID) (*big.Int, error)
	WalletAddress(owner ton.AccountID) ton.AccountID
	SendWithNotification(ctx context.Context, from, to ton.AccountID, queryID uint64, amount *big.Int, forward *boc.Cell) (bool, error)
}

// LedgerHandler exposes the in-process token ledger used in memory mode so
// local clients can fund accounts and deposit into the vault.
type LedgerHandler struct {
	tokens Tokens
	log    *zap.Logger
}

func NewLedgerHandler(t Tokens, log *zap.Logger) *LedgerHandler {
	return &LedgerHandler{tokens: t, log: log}
}

func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/ledger/mint", h.handleMint)
	rg.POST("/ledger/transfers", h.handleTransfer)
	rg.GET("/ledger/wallets/:owner", h.handleWallet)
}

type mintRequest struct {
	Owner  string `json:"owner" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

type transferRequest struct {
	From           string `json:"from" binding:"required"`
	To             string `json:"to" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	QueryID        uint64 `json:"query_id"`
	ForwardPayload string `json:"forward_payload"`
}

func (h *LedgerHandler) handleMint(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	owner, err := ton.ParseAccountID(req.Owner)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner"})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	h.tokens.Mint(owner, amount)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *LedgerHandler) handleTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	from, err := ton.ParseAccountID(req.From)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	to, err := ton.ParseAccountID(req.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	fwd := boc.NewCell()
	if req.ForwardPayload != "" {
		if fwd, err = payload.DecodeBody(req.ForwardPayload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid forward_payload"})
			return
		}
	}
	bounced, err := h.tokens.SendWithNotification(c.Request.Context(), from, to, req.QueryID, amount, fwd)
	if err != nil && !bounced {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.log.Warn("transfer bounced with error", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"bounced": bounced})
}

func (h *LedgerHandler) handleWallet(c *gin.Context) {
	owner, err := ton.ParseAccountID(c.Param("owner"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner"})
		return
	}
	b, err := h.tokens.Balance(c.Request.Context(), owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"owner":   owner.ToRaw(),
		"wallet":  h.tokens.WalletAddress(owner).ToRaw(),
		"balance": b.String(),
	})
}

func parseAmount(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}
