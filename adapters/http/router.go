// Package httpapi exposes the sign-in flow over HTTP. Every terminal
// authentication failure maps to the same generic 401 body; the
// distinct internal reason is only ever logged.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coinwatch/walletauth/core"
)

const (
	errAuthenticationFailed = "authentication_failed"
	errInvalidRequest       = "invalid_request"
	errWalletLinked         = "wallet_already_linked"
	errInternal             = "internal_error"
)

// Handler wires the core service into gin.
type Handler struct {
	svc *core.Service
	log *slog.Logger
}

func NewHandler(svc *core.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Router assembles the route table.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/auth/challenge", h.challenge)
	r.POST("/auth/verify", h.verify)
	r.POST("/auth/refresh", h.refresh)
	r.POST("/auth/logout", h.logout)
	r.GET("/.well-known/jwks.json", h.jwks)

	authed := r.Group("/api", h.requireSession)
	authed.GET("/me", h.me)
	authed.POST("/wallets/link", h.linkWallet)
	authed.POST("/wallets/unlink", h.unlinkWallet)

	return r
}

// fail translates a service error into a response. Rejections come back
// as the generic 401 (or 409 for link conflicts); anything else is a
// 500. The precise reason goes to the log either way.
func (h *Handler) fail(c *gin.Context, err error) {
	if re, ok := core.AsReject(err); ok {
		h.log.Info("authentication rejected", "reason", re.Reason, "error", re.Error(), "path", c.FullPath())
		if re.Reason == core.ReasonWalletLinked {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": errWalletLinked})
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errAuthenticationFailed})
		return
	}
	h.log.Error("request failed", "error", err, "path", c.FullPath())
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errInternal})
}

func badRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest})
}

func accountID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get("account_id")
	if !ok {
		return uuid.UUID{}, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// requireSession enforces a Bearer access token and stashes the account
// id for downstream handlers.
func (h *Handler) requireSession(c *gin.Context) {
	const prefix = "Bearer "
	header := c.GetHeader("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		h.fail(c, &core.RejectError{Reason: core.ReasonInvalidToken, Err: errors.New("missing bearer token")})
		return
	}

	claims, err := h.svc.VerifyAccess(c.Request.Context(), header[len(prefix):])
	if err != nil {
		h.fail(c, err)
		return
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		h.fail(c, &core.RejectError{Reason: core.ReasonInvalidToken, Err: err})
		return
	}
	c.Set("account_id", id)
	c.Next()
}
