// Package api exposes the vault over HTTP for the host relayer and the token
// ledger.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"

	"github.com/kl456123/reward-vault-ton/internal/engine"
	"github.com/kl456123/reward-vault-ton/internal/payload"
	"github.com/kl456123/reward-vault-ton/internal/vault"
)

// Vault is satisfied by engine.Engine.
type Vault interface {
	Submit(ctx context.Context, msg engine.Message) (vault.Result, error)
	Data(ctx context.Context) (vault.Data, error)
}

type Handler struct {
	vault Vault
	now   func() time.Time
	log   *zap.Logger
}

func NewHandler(v Vault, log *zap.Logger) *Handler {
	return &Handler{vault: v, now: time.Now, log: log}
}

// Register mounts the routes. HostAuth should already be applied to the group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/vault", h.handleData)
	rg.POST("/messages", h.handleMessage)
	rg.POST("/notifications", h.handleNotification)
}

// Bodies are BOCs in hex or base64. Requests carry no timestamp; the
// handler's clock supplies it.
type messageRequest struct {
	Sender string `json:"sender" binding:"required"`
	Body   string `json:"body" binding:"required"`
}

type notificationRequest struct {
	TokenWallet    string `json:"token_wallet" binding:"required"`
	From           string `json:"from" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	QueryID        uint64 `json:"query_id"`
	ForwardPayload string `json:"forward_payload" binding:"required"`
}

type resultResponse struct {
	ExitCode vault.ExitCode `json:"exit_code"`
	Status   string         `json:"status"`
	Effect   *vault.Effect  `json:"effect,omitempty"`
}

func (h *Handler) handleData(c *gin.Context) {
	d, err := h.vault.Data(c.Request.Context())
	if err != nil {
		h.log.Error("load vault data", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) handleMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	sender, err := ton.ParseAccountID(req.Sender)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sender"})
		return
	}
	body, err := payload.DecodeBody(req.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	h.submit(c, engine.Message{Sender: sender, Now: h.timestamp(), Body: body})
}

func (h *Handler) handleNotification(c *gin.Context) {
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	wallet, err := ton.ParseAccountID(req.TokenWallet)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token_wallet"})
		return
	}
	from, err := ton.ParseAccountID(req.From)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	fwd, err := payload.DecodeBody(req.ForwardPayload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid forward_payload"})
		return
	}
	body, err := payload.TransferNotification{QueryID: req.QueryID, Amount: amount, From: from, ForwardPayload: fwd}.Cell()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification"})
		return
	}
	h.submit(c, engine.Message{Sender: wallet, Now: h.timestamp(), Body: body})
}

func (h *Handler) submit(c *gin.Context, msg engine.Message) {
	res, err := h.vault.Submit(c.Request.Context(), msg)
	if err != nil {
		h.log.Error("submit message", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out := resultResponse{ExitCode: res.Code, Status: res.Code.String(), Effect: res.Effect}
	if !res.Code.OK() {
		c.JSON(http.StatusUnprocessableEntity, out)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) timestamp() uint64 {
	return uint64(h.now().Unix())
}
