package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	mrand "math/rand"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"

	"play-rewards/internal/auth"
	"play-rewards/internal/config"
	"play-rewards/internal/database"
	"play-rewards/internal/reward"
	"play-rewards/internal/services/rewards"
)

const (
	testToken      = "player-session"
	testTOTPSecret = "JBSWY3DPEHPK3PXP"
)

type server struct {
	router *gin.Engine
	store  *database.Store
	userID int64
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	store, err := database.New(ctx, "sqlite:"+filepath.Join(t.TempDir(), "http.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(store.Close)

	user, err := store.CreateUser(ctx, "player", testToken, decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Location:                  time.UTC,
		WeeklyBonusThreshold:      7,
		SpinUnitValue:             decimal.NewFromInt(5),
		ScratchDefault:            &reward.Range{Min: decimal.NewFromInt(10), Max: decimal.NewFromInt(50)},
		ScratchDefaultContestType: "mini",
		TransactionsDefaultLimit:  50,
		TransactionsMaxLimit:      200,
		JWTSecret:                 "test-secret",
		JWTIssuer:                 "test",
		AdminPassword:             "hunter2",
		AdminTOTPSecret:           testTOTPSecret,
		AdminTokenTTL:             time.Hour,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := reward.NewResolver(store, cfg.ScratchDefault, cfg.SpinUnitValue, mrand.New(mrand.NewSource(3)))
	svc := rewards.NewService(store, resolver, logger, rewards.Options{
		Location:           cfg.Location,
		Threshold:          cfg.WeeklyBonusThreshold,
		DefaultContestType: cfg.ScratchDefaultContestType,
		DefaultLimit:       cfg.TransactionsDefaultLimit,
		MaxLimit:           cfg.TransactionsMaxLimit,
		Now:                func() time.Time { return time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC) },
	})
	jwtMgr := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer)

	r := gin.New()
	RegisterRoutes(r, NewHandler(cfg, store, svc, jwtMgr, logger), jwtMgr, nil)
	return &server{router: r, store: store, userID: user.ID}
}

func (s *server) do(t *testing.T, method, target, body string, headers ...string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: invalid json %q", method, target, w.Body.String())
	}
	return w.Code, out
}

func (s *server) postForm(t *testing.T, target string, form url.Values) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("POST %s: invalid json %q", target, w.Body.String())
	}
	return w.Code, out
}

func expectSuccess(t *testing.T, code int, body map[string]any, want bool) {
	t.Helper()
	if code != http.StatusOK {
		t.Fatalf("status %d body %v", code, body)
	}
	if body["success"] != want {
		t.Fatalf("success=%v want %v: %v", body["success"], want, body)
	}
	if _, ok := body["message"].(string); !ok {
		t.Fatalf("missing message: %v", body)
	}
}

// money decodes a JSON decimal, which may arrive quoted or bare.
func money(t *testing.T, v any) decimal.Decimal {
	t.Helper()
	switch x := v.(type) {
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			t.Fatalf("money %q: %v", x, err)
		}
		return d
	case float64:
		return decimal.NewFromFloat(x)
	}
	t.Fatalf("money: unexpected %T %v", v, v)
	return decimal.Zero
}

func expectMoney(t *testing.T, v any, want decimal.Decimal) {
	t.Helper()
	if got := money(t, v); !got.Equal(want) {
		t.Fatalf("amount %s want %s", got, want)
	}
}

func TestUnauthorizedEnvelope(t *testing.T) {
	s := newServer(t)
	for _, target := range []string{"/api/wallet", "/api/weekly-spin/eligibility?session_token=wrong"} {
		code, body := s.do(t, http.MethodGet, target, "")
		if code != http.StatusUnauthorized || body["success"] != false {
			t.Fatalf("%s: %d %v", target, code, body)
		}
	}
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	code, body := s.do(t, http.MethodGet, "/api/health", "")
	if code != http.StatusOK || body["status"] != "ok" || body["database"] != "sqlite" {
		t.Fatalf("%d %v", code, body)
	}
}

func TestEligibilityAndWeeklySpin(t *testing.T) {
	s := newServer(t)

	code, body := s.do(t, http.MethodGet, "/api/weekly-spin/eligibility?session_token="+testToken, "")
	expectSuccess(t, code, body, true)
	if body["matches_played"] != float64(0) || body["matches_remaining"] != float64(7) || body["can_spin"] != false {
		t.Fatalf("fresh eligibility %v", body)
	}
	if body["week_start_date"] != "2026-10-12" || body["days_remaining"] != float64(3) {
		t.Fatalf("window fields %v", body)
	}

	code, body = s.do(t, http.MethodPost, "/api/weekly-spin", `{"session_token":"`+testToken+`","reward_type":"cash","reward_value":100}`)
	expectSuccess(t, code, body, false)
	if !strings.Contains(body["message"].(string), "7 matches") {
		t.Fatalf("not eligible message %v", body["message"])
	}

	for i := 1; i <= 7; i++ {
		payload := `{"session_token":"` + testToken + `","contest_id":` + strconv.Itoa(i) + `,"contest_type":"mini"}`
		code, body = s.do(t, http.MethodPost, "/api/contest-plays", payload)
		expectSuccess(t, code, body, true)
	}
	if body["matches_played"] != float64(7) || body["is_eligible"] != true || body["recorded"] != true {
		t.Fatalf("after plays %v", body)
	}

	// same contest again is idempotent
	code, body = s.do(t, http.MethodPost, "/api/contest-plays", `{"session_token":"`+testToken+`","contest_id":7}`)
	expectSuccess(t, code, body, true)
	if body["recorded"] != false || body["matches_played"] != float64(7) {
		t.Fatalf("duplicate play %v", body)
	}

	code, body = s.do(t, http.MethodPost, "/api/weekly-spin", `{"session_token":"`+testToken+`","reward_type":"cash","reward_value":100}`)
	expectSuccess(t, code, body, true)
	if body["reward_type"] != "cash" || body["reward_value"] != "100" || body["matches_played"] != float64(7) {
		t.Fatalf("bonus %v", body)
	}
	expectMoney(t, body["new_balance"], decimal.NewFromInt(100))

	code, body = s.do(t, http.MethodPost, "/api/weekly-spin", `{"session_token":"`+testToken+`","reward_type":"cash","reward_value":100}`)
	expectSuccess(t, code, body, false)

	code, body = s.do(t, http.MethodGet, "/api/wallet", "", "X-Session-Token", testToken)
	expectSuccess(t, code, body, true)
	expectMoney(t, body["wallet_balance"], decimal.NewFromInt(100))
}

func TestLosingWeeklySpinFormPostConsumesWeek(t *testing.T) {
	s := newServer(t)
	for i := 1; i <= 7; i++ {
		code, body := s.do(t, http.MethodPost, "/api/contest-plays", `{"session_token":"`+testToken+`","contest_id":`+strconv.Itoa(i)+`}`)
		expectSuccess(t, code, body, true)
	}

	code, body := s.postForm(t, "/api/weekly-spin", url.Values{
		"session_token": {testToken},
		"reward_type":   {"Better Luck Next Time"},
	})
	expectSuccess(t, code, body, true)
	if body["reward_type"] != "Better Luck Next Time" || body["reward_value"] != "" {
		t.Fatalf("losing spin %v", body)
	}
	if _, credited := body["new_balance"]; credited {
		t.Fatalf("losing spin reported a balance: %v", body)
	}

	code, body = s.do(t, http.MethodGet, "/api/weekly-spin/eligibility?session_token="+testToken, "")
	expectSuccess(t, code, body, true)
	if body["has_spun"] != true || body["can_spin"] != false {
		t.Fatalf("eligibility after losing spin %v", body)
	}

	// a bare post without reward_type is the same losing spin, and the week is spent
	code, body = s.postForm(t, "/api/weekly-spin", url.Values{"session_token": {testToken}})
	expectSuccess(t, code, body, false)
	if body["message"] != "You have already used your weekly spin" {
		t.Fatalf("respin message %v", body["message"])
	}
}

func TestContestPlayRequiresContestID(t *testing.T) {
	s := newServer(t)
	code, body := s.do(t, http.MethodPost, "/api/contest-plays", `{"session_token":"`+testToken+`"}`)
	expectSuccess(t, code, body, false)
	if body["message"] != "contest_id is required" {
		t.Fatalf("message %v", body["message"])
	}
}

func TestScratchFlow(t *testing.T) {
	s := newServer(t)

	code, body := s.do(t, http.MethodGet, "/api/scratch-card/amount?session_token="+testToken, "")
	expectSuccess(t, code, body, true)
	amount := money(t, body["amount"])
	if amount.LessThan(decimal.NewFromInt(10)) || amount.GreaterThan(decimal.NewFromInt(50)) {
		t.Fatalf("amount %s", amount)
	}
	progress := body["weekly_progress"].(map[string]any)
	if progress["can_scratch_today"] != true || progress["current_day"] != float64(3) {
		t.Fatalf("progress %v", progress)
	}

	code, body = s.do(t, http.MethodPost, "/api/scratch-card/settle", `{"amount":"75.00"}`, "Authorization", "Bearer "+testToken)
	expectSuccess(t, code, body, false)
	if body["message"] != "Invalid amount" {
		t.Fatalf("cap message %v", body["message"])
	}

	code, body = s.do(t, http.MethodPost, "/api/scratch-card/settle", `{"amount":`+amount.String()+`}`, "Authorization", "Bearer "+testToken)
	expectSuccess(t, code, body, true)
	expectMoney(t, body["new_balance"], amount)
	expectMoney(t, body["amount_added"], amount)
	progress = body["weekly_progress"].(map[string]any)
	if progress["can_scratch_today"] != false || progress["total_scratched"] != float64(1) {
		t.Fatalf("progress after settle %v", progress)
	}

	code, body = s.do(t, http.MethodPost, "/api/scratch-card/settle", `{"amount":`+amount.String()+`}`, "Authorization", "Bearer "+testToken)
	expectSuccess(t, code, body, false)
	if body["message"] != "You have already scratched a card today" {
		t.Fatalf("duplicate message %v", body["message"])
	}

	code, body = s.do(t, http.MethodGet, "/api/scratch-card/transactions?session_token="+testToken+"&week_start_date=2026-10-12", "")
	expectSuccess(t, code, body, true)
	if body["count"] != float64(1) {
		t.Fatalf("transactions %v", body)
	}

	code, body = s.do(t, http.MethodGet, "/api/scratch-card/transactions?session_token="+testToken+"&week_start_date=12-10-2026", "")
	expectSuccess(t, code, body, false)
	code, body = s.do(t, http.MethodGet, "/api/scratch-card/transactions?session_token="+testToken+"&limit=abc", "")
	expectSuccess(t, code, body, false)
}

func TestSpinFlow(t *testing.T) {
	s := newServer(t)

	code, body := s.do(t, http.MethodGet, "/api/spin-wheel/amount?session_token="+testToken, "")
	expectSuccess(t, code, body, true)
	// Wednesday with no earlier spins: streak restarts at day 1.
	expectMoney(t, body["amount"], decimal.NewFromInt(5))
	if body["current_streak_day"] != float64(1) {
		t.Fatalf("quote %v", body)
	}
	progress := body["weekly_progress"].(map[string]any)
	if progress["has_missed_day"] != true || progress["can_spin_today"] != true {
		t.Fatalf("progress %v", progress)
	}

	code, body = s.do(t, http.MethodPost, "/api/spin-wheel/settle", `{"session_token":"`+testToken+`","amount":0}`)
	expectSuccess(t, code, body, false)

	code, body = s.do(t, http.MethodPost, "/api/spin-wheel/settle", `{"session_token":"`+testToken+`","amount":5}`)
	expectSuccess(t, code, body, true)
	expectMoney(t, body["new_balance"], decimal.NewFromInt(5))

	code, body = s.do(t, http.MethodPost, "/api/spin-wheel/settle", `{"session_token":"`+testToken+`","amount":5}`)
	expectSuccess(t, code, body, false)
	if body["message"] != "You have already spun the wheel today" {
		t.Fatalf("duplicate message %v", body["message"])
	}

	code, body = s.do(t, http.MethodGet, "/api/spin-wheel/transactions?session_token="+testToken, "")
	expectSuccess(t, code, body, true)
	txns := body["transactions"].([]any)
	if len(txns) != 1 || txns[0].(map[string]any)["event_type"] != "spin_wheel" {
		t.Fatalf("transactions %v", txns)
	}
}

func adminToken(t *testing.T, s *server) string {
	t.Helper()
	code, body := s.do(t, http.MethodPost, "/api/admin/login", `{"password":"hunter2","code":"000000"}`)
	if code != http.StatusUnauthorized {
		t.Fatalf("bad totp accepted: %d %v", code, body)
	}
	otp, err := totp.GenerateCode(testTOTPSecret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	code, body = s.do(t, http.MethodPost, "/api/admin/login", `{"password":"hunter2","code":"`+otp+`"}`)
	if code != http.StatusOK {
		t.Fatalf("login: %d %v", code, body)
	}
	return body["token"].(string)
}

func TestAdminScratchCards(t *testing.T) {
	s := newServer(t)
	code, _ := s.do(t, http.MethodPost, "/api/admin/login", `{"password":"wrong","code":"000000"}`)
	if code != http.StatusUnauthorized {
		t.Fatalf("wrong password: %d", code)
	}
	token := adminToken(t, s)
	authz := []string{"Authorization", "Bearer " + token}

	code, _ = s.do(t, http.MethodGet, "/api/admin/scratch-cards", "")
	if code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list: %d", code)
	}

	code, body := s.do(t, http.MethodPost, "/api/admin/scratch-cards", `{"contest_type":"mini","min_amount":"100","max_amount":"100"}`, authz...)
	if code != http.StatusCreated {
		t.Fatalf("create: %d %v", code, body)
	}
	card := body["scratch_card"].(map[string]any)
	id := int64(card["id"].(float64))

	code, body = s.do(t, http.MethodPost, "/api/admin/scratch-cards", `{"contest_type":"mini","min_amount":"20","max_amount":"5"}`, authz...)
	if code != http.StatusBadRequest {
		t.Fatalf("inverted range: %d %v", code, body)
	}

	// the new type default now drives player quotes
	code, body = s.do(t, http.MethodGet, "/api/scratch-card/amount?session_token="+testToken+"&contest_type=mini", "")
	expectSuccess(t, code, body, true)
	expectMoney(t, body["amount"], decimal.NewFromInt(100))

	idPath := "/api/admin/scratch-cards/" + strconv.FormatInt(id, 10)
	code, body = s.do(t, http.MethodPut, idPath, `{"contest_type":"mini","min_amount":"1","max_amount":"2"}`, authz...)
	if code != http.StatusOK {
		t.Fatalf("update: %d %v", code, body)
	}
	expectMoney(t, body["scratch_card"].(map[string]any)["max_amount"], decimal.NewFromInt(2))

	code, _ = s.do(t, http.MethodDelete, idPath, "", authz...)
	if code != http.StatusOK {
		t.Fatalf("deactivate: %d", code)
	}
	code, _ = s.do(t, http.MethodDelete, "/api/admin/scratch-cards/9999", "", authz...)
	if code != http.StatusNotFound {
		t.Fatalf("missing card: %d", code)
	}

	code, body = s.do(t, http.MethodGet, "/api/admin/scratch-cards?active=true", "", authz...)
	if code != http.StatusOK || len(body["scratch_cards"].([]any)) != 0 {
		t.Fatalf("active list: %d %v", code, body)
	}
}

func TestAdminUserTransactions(t *testing.T) {
	s := newServer(t)
	token := adminToken(t, s)
	s.do(t, http.MethodPost, "/api/spin-wheel/settle", `{"session_token":"`+testToken+`","amount":5}`)

	target := "/api/admin/users/" + strconv.FormatInt(s.userID, 10) + "/transactions"
	code, body := s.do(t, http.MethodGet, target, "", "Authorization", "Bearer "+token)
	if code != http.StatusOK || len(body["transactions"].([]any)) != 1 {
		t.Fatalf("%d %v", code, body)
	}
	code, _ = s.do(t, http.MethodGet, "/api/admin/users/424242/transactions", "", "Authorization", "Bearer "+token)
	if code != http.StatusNotFound {
		t.Fatalf("unknown user: %d", code)
	}
}

func TestAdminRoutesDisabledWithoutCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{WeeklyBonusThreshold: 7}
	r := gin.New()
	RegisterRoutes(r, NewHandler(cfg, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/login", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("admin login served without credentials: %d", w.Code)
	}
}
