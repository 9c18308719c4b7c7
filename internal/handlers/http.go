package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/shopspring/decimal"

	"play-rewards/internal/auth"
	"play-rewards/internal/calendar"
	"play-rewards/internal/config"
	"play-rewards/internal/database"
	"play-rewards/internal/middleware"
	"play-rewards/internal/models"
	"play-rewards/internal/reward"
	"play-rewards/internal/services/rewards"
)

type Handler struct {
	cfg     *config.Config
	store   *database.Store
	rewards *rewards.Service
	jwt     *auth.Manager
	logger  *slog.Logger
}

func NewHandler(cfg *config.Config, store *database.Store, rewardSvc *rewards.Service, jwt *auth.Manager, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		store:   store,
		rewards: rewardSvc,
		jwt:     jwt,
		logger:  logger,
	}
}

func RegisterRoutes(r *gin.Engine, h *Handler, jwt *auth.Manager, adminIPs []string) {
	r.GET("/api/health", h.Health)

	api := r.Group("/api")
	api.Use(middleware.Session(h.rewards))

	api.GET("/weekly-spin/eligibility", h.WeeklyEligibility)
	api.POST("/weekly-spin", h.WeeklySpin)
	api.POST("/contest-plays", h.RecordContestPlay)

	api.GET("/scratch-card/amount", h.ScratchAmount)
	api.POST("/scratch-card/settle", h.ScratchSettle)
	api.GET("/scratch-card/transactions", h.ScratchTransactions)

	api.GET("/spin-wheel/amount", h.SpinAmount)
	api.POST("/spin-wheel/settle", h.SpinSettle)
	api.GET("/spin-wheel/transactions", h.SpinTransactions)

	api.GET("/wallet", h.Wallet)

	if jwt == nil || !h.cfg.AdminEnabled() {
		h.logger.Info("admin routes disabled: admin credentials not configured")
		return
	}
	admin := r.Group("/api/admin")
	admin.Use(middleware.AdminIPWhitelist(adminIPs))
	admin.POST("/login", h.AdminLogin)

	adminProtected := admin.Group("/")
	adminProtected.Use(middleware.JWT(jwt), middleware.RequireRole(auth.RoleAdmin))
	adminProtected.GET("/scratch-cards", h.AdminListScratchCards)
	adminProtected.POST("/scratch-cards", h.AdminCreateScratchCard)
	adminProtected.PUT("/scratch-cards/:id", h.AdminUpdateScratchCard)
	adminProtected.DELETE("/scratch-cards/:id", h.AdminDeactivateScratchCard)
	adminProtected.GET("/users/:id/transactions", h.AdminUserTransactions)
}

// envelope is embedded in every response body.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func ok(message string) envelope {
	return envelope{Success: true, Message: message}
}

// errMessage overrides the default text for one error kind.
type errMessage struct {
	target error
	text   string
}

// fail maps err to a status and message. Business-rule failures are answered
// with 200 and success=false. Unauthorized is the exception among client
// errors: it gets 401, as the session middleware does.
func (h *Handler) fail(c *gin.Context, err error, overrides ...errMessage) {
	status, message, retryable := h.classify(err)
	for _, o := range overrides {
		if errors.Is(err, o.target) {
			message = o.text
			break
		}
	}
	_ = c.Error(err)
	body := gin.H{"success": false, "message": message}
	if retryable {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

func (h *Handler) classify(err error) (int, string, bool) {
	switch {
	case errors.Is(err, rewards.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized: invalid or missing session token", false
	case errors.Is(err, database.ErrTransient):
		return http.StatusServiceUnavailable, "The service is busy, please retry", true
	case errors.Is(err, database.ErrNotEligible):
		return http.StatusOK, fmt.Sprintf("Play at least %d matches this week to unlock the weekly spin", h.cfg.WeeklyBonusThreshold), false
	case errors.Is(err, database.ErrAlreadyConsumed):
		return http.StatusOK, "You have already used your weekly spin", false
	case errors.Is(err, database.ErrAlreadyCompletedToday):
		return http.StatusOK, "Already completed today", false
	case errors.Is(err, database.ErrAlreadyCompletedThisWeek):
		return http.StatusOK, "Already completed this week", false
	case errors.Is(err, database.ErrInvalidAmount):
		return http.StatusOK, "Invalid amount", false
	case errors.Is(err, rewards.ErrInvalidInput):
		return http.StatusOK, strings.TrimPrefix(err.Error(), rewards.ErrInvalidInput.Error()+": "), false
	case errors.Is(err, calendar.ErrInvalidDate):
		return http.StatusOK, "Invalid date, expected YYYY-MM-DD", false
	case errors.Is(err, database.ErrUserNotFound):
		return http.StatusNotFound, "User not found", false
	case errors.Is(err, database.ErrScratchCardNotFound):
		return http.StatusNotFound, "Scratch card not found", false
	case errors.Is(err, reward.ErrInvalidRange):
		return http.StatusBadRequest, "min_amount must be positive and not above max_amount", false
	case errors.Is(err, reward.ErrNoRewardConfigured):
		return http.StatusInternalServerError, "No scratch card reward is configured", false
	default:
		return http.StatusInternalServerError, "Internal server error", false
	}
}

// bind reads a JSON body, or form/query values for other content types.
func bind(c *gin.Context, obj any) error {
	if c.ContentType() == binding.MIMEJSON {
		if c.Request.ContentLength == 0 {
			return nil
		}
		return c.ShouldBindBodyWith(obj, binding.JSON)
	}
	return c.ShouldBind(obj)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", rewards.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// textValue accepts either a JSON string or a bare number.
type textValue string

func (v *textValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = textValue(s)
		return nil
	}
	*v = textValue(data)
	return nil
}

func optionalContestID(id *int64) *int64 {
	if id == nil || *id <= 0 {
		return nil
	}
	return id
}

func queryContestID(c *gin.Context) (*int64, error) {
	raw := strings.TrimSpace(c.Query("contest_id"))
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, invalidInput("contest_id must be an integer")
	}
	return optionalContestID(&id), nil
}

func queryLimit(c *gin.Context) (int, error) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, invalidInput("limit must be a positive integer")
	}
	return limit, nil
}

func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "database unavailable", "status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "ok",
		"status":    "ok",
		"database":  h.store.Dialect(),
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) WeeklyEligibility(c *gin.Context) {
	user := middleware.UserFromContext(c)
	st, err := h.rewards.CheckWeeklyEligibility(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, struct {
		envelope
		*rewards.EligibilityStatus
	}{ok("Weekly eligibility checked"), st})
}

type weeklySpinRequest struct {
	RewardType  string    `json:"reward_type" form:"reward_type"`
	RewardValue textValue `json:"reward_value" form:"reward_value"`
}

func (h *Handler) WeeklySpin(c *gin.Context) {
	var req weeklySpinRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, invalidInput("invalid payload"))
		return
	}
	user := middleware.UserFromContext(c)
	out, err := h.rewards.ConsumeWeeklyBonus(c.Request.Context(), user, req.RewardType, string(req.RewardValue))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, struct {
		envelope
		*rewards.BonusOutcome
	}{ok("Weekly spin reward recorded"), out})
}

type contestPlayRequest struct {
	ContestID   int64  `json:"contest_id" form:"contest_id"`
	ContestType string `json:"contest_type" form:"contest_type"`
}

func (h *Handler) RecordContestPlay(c *gin.Context) {
	var req contestPlayRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, invalidInput("invalid payload"))
		return
	}
	user := middleware.UserFromContext(c)
	out, err := h.rewards.RecordContestPlay(c.Request.Context(), user, req.ContestID, req.ContestType)
	if err != nil {
		h.fail(c, err)
		return
	}
	message := "Contest play recorded"
	if !out.Recorded {
		message = "Contest play already recorded"
	}
	c.JSON(http.StatusOK, struct {
		envelope
		*rewards.ContestPlayOutcome
	}{ok(message), out})
}

func (h *Handler) ScratchAmount(c *gin.Context) {
	contestID, err := queryContestID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	user := middleware.UserFromContext(c)
	quote, err := h.rewards.QuoteScratch(c.Request.Context(), user, contestID, c.Query("contest_type"))
	if err != nil {
		h.fail(c, err)
		return
	}
	message := "Scratch card amount generated"
	if !quote.CanScratchToday {
		message = "You have already scratched a card today"
	}
	c.JSON(http.StatusOK, struct {
		envelope
		*rewards.ScratchQuote
	}{ok(message), quote})
}

type scratchSettleRequest struct {
	ContestID   *int64          `json:"contest_id" form:"contest_id"`
	ContestType string          `json:"contest_type" form:"contest_type"`
	Amount      decimal.Decimal `json:"amount" form:"amount"`
}

func (h *Handler) ScratchSettle(c *gin.Context) {
	var req scratchSettleRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, invalidInput("invalid payload"))
		return
	}
	user := middleware.UserFromContext(c)
	out, err := h.rewards.SettleScratch(c.Request.Context(), user, optionalContestID(req.ContestID), req.ContestType, req.Amount)
	if err != nil {
		h.fail(c, err, errMessage{database.ErrAlreadyCompletedToday, "You have already scratched a card today"})
		return
	}
	c.JSON(http.StatusOK, struct {
		envelope
		*rewards.SettleOutcome
	}{ok("Scratch card reward added to wallet"), out})
}

func (h *Handler) SpinAmount(c *gin.Context) {
	user := middleware.UserFromContext(c)
	quote, err := h.rewards.QuoteSpin(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	message := "Spin amount calculated"
	if !quote.CanSpinToday {
		message = "You have already spun the wheel today"
	}
	c.JSON(http.StatusOK, struct {
		envelope
		*rewards.SpinQuote
	}{ok(message), quote})
}

type spinSettleRequest struct {
	Amount decimal.Decimal `json:"amount" form:"amount"`
}

func (h *Handler) SpinSettle(c *gin.Context) {
	var req spinSettleRequest
	if err := bind(c, &req); err != nil {
		h.fail(c, invalidInput("invalid payload"))
		return
	}
	user := middleware.UserFromContext(c)
	out, err := h.rewards.SettleSpin(c.Request.Context(), user, req.Amount)
	if err != nil {
		h.fail(c, err, errMessage{database.ErrAlreadyCompletedToday, "You have already spun the wheel today"})
		return
	}
	c.JSON(http.StatusOK, struct {
		envelope
		*rewards.SettleOutcome
	}{ok("Spin reward added to wallet"), out})
}

func (h *Handler) ScratchTransactions(c *gin.Context) {
	h.listTransactions(c, models.EventScratchCard)
}

func (h *Handler) SpinTransactions(c *gin.Context) {
	h.listTransactions(c, models.EventSpinWheel)
}

func (h *Handler) listTransactions(c *gin.Context, eventType models.EventType) {
	limit, err := queryLimit(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	user := middleware.UserFromContext(c)
	txns, err := h.rewards.ListTransactions(c.Request.Context(), user, eventType, c.Query("week_start_date"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Transactions retrieved",
		"transactions": txns,
		"count":        len(txns),
	})
}

func (h *Handler) Wallet(c *gin.Context) {
	user := middleware.UserFromContext(c)
	w, err := h.rewards.Wallet(c.Request.Context(), user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, struct {
		envelope
		*rewards.WalletSummary
	}{ok("Wallet retrieved"), w})
}
