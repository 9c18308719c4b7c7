package handlers

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"

	"play-rewards/internal/auth"
	"play-rewards/internal/middleware"
	"play-rewards/internal/models"
)

type adminLoginRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

func (h *Handler) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid payload"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.cfg.AdminPassword)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid credentials"})
		return
	}
	if ok := totp.Validate(req.Code, h.cfg.AdminTOTPSecret); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid totp"})
		return
	}
	token, err := h.jwt.IssueToken("admin", auth.RoleAdmin, h.cfg.AdminTokenTTL)
	if err != nil {
		h.logger.Error("admin token issue failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "logged in", "token": token})
}

type scratchCardRequest struct {
	ContestID   *int64          `json:"contest_id"`
	ContestType string          `json:"contest_type"`
	MinAmount   decimal.Decimal `json:"min_amount"`
	MaxAmount   decimal.Decimal `json:"max_amount"`
	IsActive    *bool           `json:"is_active"`
}

func (r scratchCardRequest) card() (models.ScratchCard, error) {
	contestType := strings.TrimSpace(r.ContestType)
	if contestType == "" {
		return models.ScratchCard{}, invalidInput("contest_type is required")
	}
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return models.ScratchCard{
		ContestID:   optionalContestID(r.ContestID),
		ContestType: contestType,
		MinAmount:   r.MinAmount,
		MaxAmount:   r.MaxAmount,
		IsActive:    active,
	}, nil
}

func (h *Handler) AdminListScratchCards(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	cards, err := h.store.ListScratchCards(c.Request.Context(), activeOnly)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "ok", "scratch_cards": cards})
}

func (h *Handler) AdminCreateScratchCard(c *gin.Context) {
	var req scratchCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid payload"})
		return
	}
	card, err := req.card()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "contest_type is required"})
		return
	}
	created, err := h.store.CreateScratchCard(c.Request.Context(), card)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("scratch card created", "id", created.ID, "contest_type", created.ContestType, "admin", adminName(c))
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "created", "scratch_card": created})
}

func (h *Handler) AdminUpdateScratchCard(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid id"})
		return
	}
	var req scratchCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid payload"})
		return
	}
	card, err := req.card()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "contest_type is required"})
		return
	}
	card.ID = id
	updated, err := h.store.UpdateScratchCard(c.Request.Context(), card)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("scratch card updated", "id", id, "admin", adminName(c))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "updated", "scratch_card": updated})
}

func (h *Handler) AdminDeactivateScratchCard(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid id"})
		return
	}
	if err := h.store.DeactivateScratchCard(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("scratch card deactivated", "id", id, "admin", adminName(c))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "deactivated"})
}

func (h *Handler) AdminUserTransactions(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid id"})
		return
	}
	limit, err := queryLimit(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	user, txns, err := h.rewards.UserTransactions(c.Request.Context(), id, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "ok",
		"user":         user,
		"transactions": txns,
	})
}

func adminName(c *gin.Context) string {
	if claims := middleware.ClaimsFromContext(c); claims != nil {
		return claims.Username
	}
	return ""
}
