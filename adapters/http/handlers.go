package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coinwatch/walletauth/account"
	"github.com/coinwatch/walletauth/wallet"
)

func (h *Handler) challenge(c *gin.Context) {
	hint := c.GetHeader("X-Wallet-Hint")
	ch, err := h.svc.Challenge(c.Request.Context(), hint)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"nonce":      ch.Nonce,
		"expires_at": ch.ExpiresAt.Format(time.RFC3339),
	})
}

type verifyRequest struct {
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

func (h *Handler) verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	res, err := h.svc.Verify(c.Request.Context(), req.Message, req.Signature)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account":    res.Account,
		"created":    res.Created,
		"identity":   identityJSON(res.Identity),
		"credential": res.Session,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	sess, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credential": sess})
}

func (h *Handler) logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	if err := h.svc.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) jwks(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.JWKS())
}

func (h *Handler) me(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		badRequest(c)
		return
	}

	profile, err := h.svc.Me(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	identities := make([]gin.H, 0, len(profile.Identities))
	for _, wid := range profile.Identities {
		identities = append(identities, identityJSON(wid))
	}
	c.JSON(http.StatusOK, gin.H{
		"account":    profile.Account,
		"identities": identities,
	})
}

func (h *Handler) linkWallet(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		badRequest(c)
		return
	}

	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	identity, err := h.svc.Link(c.Request.Context(), id, req.Message, req.Signature)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identityJSON(identity)})
}

type unlinkRequest struct {
	Chain   string `json:"chain" binding:"required"`
	Address string `json:"address" binding:"required"`
}

func (h *Handler) unlinkWallet(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		badRequest(c)
		return
	}

	var req unlinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	chain, err := wallet.ParseChain(req.Chain)
	if err != nil {
		badRequest(c)
		return
	}

	switch err := h.svc.Unlink(c.Request.Context(), id, chain, req.Address); {
	case errors.Is(err, account.ErrLastIdentity):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "last_identity"})
	case errors.Is(err, account.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case err != nil:
		h.fail(c, err)
	default:
		c.Status(http.StatusNoContent)
	}
}

func identityJSON(id wallet.Identity) gin.H {
	return gin.H{
		"chain":   id.Chain.String(),
		"address": id.Address,
	}
}
