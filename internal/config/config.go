package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"play-rewards/internal/reward"
)

type Config struct {
	EnvFilePath string
	HTTPPort    string
	DatabaseURL string

	Timezone string
	Location *time.Location

	WeeklyBonusThreshold int
	SpinUnitValue        decimal.Decimal
	// ScratchDefault is nil when no global range is configured.
	ScratchDefault            *reward.Range
	ScratchDefaultContestType string

	TransactionsDefaultLimit int
	TransactionsMaxLimit     int
	ShutdownTimeout          time.Duration

	JWTSecret       string
	JWTIssuer       string
	AdminPassword   string
	AdminTOTPSecret string
	AdminAllowedIPs []string
	AdminTokenTTL   time.Duration
}

// AdminEnabled reports whether the admin routes can be served.
func (c *Config) AdminEnabled() bool {
	return c.AdminPassword != "" && c.AdminTOTPSecret != "" && c.JWTSecret != ""
}

func Load() (*Config, error) {
	envPath := resolveEnvPath()
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		envPath = ".env"
		_ = godotenv.Load()
	}
	return FromEnv(envPath)
}

// FromEnv builds the config from the process environment only.
func FromEnv(envPath string) (*Config, error) {
	cfg := &Config{
		EnvFilePath:               getEnv("ENV_FILE_PATH", envPath),
		HTTPPort:                  getEnv("HTTP_PORT", "8080"),
		DatabaseURL:               getEnv("DATABASE_URL", getEnv("POSTGRES_URL", "sqlite:rewards.db")),
		Timezone:                  getEnv("APP_TIMEZONE", "Asia/Kolkata"),
		ScratchDefaultContestType: getEnv("SCRATCH_DEFAULT_CONTEST_TYPE", "mini"),
		ShutdownTimeout:           getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		JWTSecret:                 os.Getenv("JWT_SECRET"),
		JWTIssuer:                 getEnv("JWT_ISSUER", "play-rewards"),
		AdminPassword:             os.Getenv("ADMIN_PASSWORD"),
		AdminTOTPSecret:           os.Getenv("ADMIN_TOTP_SECRET"),
		AdminAllowedIPs:           splitCSV(os.Getenv("ADMIN_ALLOWED_IPS")),
		AdminTokenTTL:             getDuration("ADMIN_TOKEN_TTL", 4*time.Hour),
	}

	var err error
	if cfg.Location, err = time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE %q: %w", cfg.Timezone, err)
	}
	if cfg.WeeklyBonusThreshold, err = getInt("WEEKLY_BONUS_THRESHOLD", 7); err != nil {
		return nil, err
	}
	if cfg.WeeklyBonusThreshold < 1 {
		return nil, errors.New("WEEKLY_BONUS_THRESHOLD must be at least 1")
	}
	if cfg.SpinUnitValue, err = getDecimal("SPIN_UNIT_VALUE", decimal.NewFromInt(5)); err != nil {
		return nil, err
	}
	if !cfg.SpinUnitValue.IsPositive() {
		return nil, errors.New("SPIN_UNIT_VALUE must be positive")
	}
	if cfg.ScratchDefault, err = scratchDefault(); err != nil {
		return nil, err
	}
	if cfg.TransactionsDefaultLimit, err = getInt("TRANSACTIONS_DEFAULT_LIMIT", 50); err != nil {
		return nil, err
	}
	if cfg.TransactionsMaxLimit, err = getInt("TRANSACTIONS_MAX_LIMIT", 200); err != nil {
		return nil, err
	}
	if cfg.TransactionsDefaultLimit < 1 || cfg.TransactionsMaxLimit < cfg.TransactionsDefaultLimit {
		return nil, errors.New("TRANSACTIONS_MAX_LIMIT must be >= TRANSACTIONS_DEFAULT_LIMIT >= 1")
	}
	if (cfg.AdminPassword != "" || cfg.AdminTOTPSecret != "") && cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required when admin login is configured")
	}
	return cfg, nil
}

// scratchDefault reads SCRATCH_DEFAULT_MIN/MAX. Setting both to empty
// strings disables the global fallback range.
func scratchDefault() (*reward.Range, error) {
	minRaw, minSet := os.LookupEnv("SCRATCH_DEFAULT_MIN")
	maxRaw, maxSet := os.LookupEnv("SCRATCH_DEFAULT_MAX")
	if minSet && maxSet && strings.TrimSpace(minRaw) == "" && strings.TrimSpace(maxRaw) == "" {
		return nil, nil
	}
	lo, err := getDecimal("SCRATCH_DEFAULT_MIN", decimal.NewFromInt(10))
	if err != nil {
		return nil, err
	}
	hi, err := getDecimal("SCRATCH_DEFAULT_MAX", decimal.NewFromInt(50))
	if err != nil {
		return nil, err
	}
	rg := &reward.Range{Min: lo, Max: hi}
	if err := rg.Validate(); err != nil {
		return nil, fmt.Errorf("SCRATCH_DEFAULT_MIN/MAX: %w", err)
	}
	return rg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return time.Duration(v) * time.Second
	}
	return def
}

func getInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}

func getDecimal(key string, def decimal.Decimal) (decimal.Decimal, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal amount: %w", key, err)
	}
	return v, nil
}

func resolveEnvPath() string {
	if path := os.Getenv("ENV_FILE_PATH"); path != "" {
		return path
	}
	candidates := []string{".env", "local-only/.env"}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
