package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"smm-telegram/models"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DB       DBConfig
	Telegram TelegramConfig
	Agency   AgencyConfig
	Payment  PaymentConfig
	Catalog  CatalogConfig
	Session  SessionConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	HTTP     HTTPConfig
	Log      LogConfig
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

type TelegramConfig struct {
	Token             string
	AdminIDs          []int64
	AdminPasswordHash string // bcrypt; when set admins must /login first
}

type AgencyConfig struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
}

type PaymentConfig struct {
	UPIID          string
	PayeeName      string
	CurrencyCode   string
	CurrencySymbol string
	ProofDir       string
}

type CatalogConfig struct {
	Path          string
	DefaultMargin decimal.Decimal // percent
	LinkHosts     map[models.Platform][]string
}

type SessionConfig struct {
	IdleTimeout time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type HTTPConfig struct {
	Addr       string
	AdminToken string
}

type LogConfig struct {
	Level  string
	Format string
}

// DefaultLinkHosts are the hosts a submitted link may point at, per platform.
// LINK_HOSTS_<PLATFORM> (comma-separated) replaces the list for that platform.
var DefaultLinkHosts = map[models.Platform][]string{
	models.PlatformInstagram: {"instagram.com", "instagr.am"},
	models.PlatformYouTube:   {"youtube.com", "youtu.be"},
	models.PlatformTelegram:  {"t.me", "telegram.me", "telegram.dog"},
	models.PlatformTwitter:   {"twitter.com", "x.com"},
	models.PlatformFacebook:  {"facebook.com", "fb.com", "fb.watch"},
	models.PlatformTikTok:    {"tiktok.com"},
}

// Load reads .env (if present) and the process environment. Every missing
// required option and every malformed value is reported in the returned error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []error

	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		errs = append(errs, fmt.Errorf("DB_PORT: %w", err))
	}
	maxConns, err := strconv.Atoi(getEnv("DB_MAX_CONNS", "8"))
	if err != nil {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS: %w", err))
	}

	cfg := &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     port,
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "smm"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(maxConns),
		},
		Telegram: TelegramConfig{
			Token:             getEnv("TELEGRAM_BOT_TOKEN", ""),
			AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Agency: AgencyConfig{
			APIKey:  getEnv("AGENCY_API_KEY", ""),
			BaseURL: getEnv("AGENCY_API_URL", "https://nilidon.com/api/v2"),
		},
		Payment: PaymentConfig{
			UPIID:          getEnv("UPI_ID", ""),
			PayeeName:      getEnv("UPI_PAYEE_NAME", "AUTOSOCI"),
			CurrencyCode:   getEnv("CURRENCY_CODE", "INR"),
			CurrencySymbol: getEnv("CURRENCY_SYMBOL", "₹"),
			ProofDir:       getEnv("PROOF_DIR", "payment_proofs"),
		},
		Catalog: CatalogConfig{
			Path:      getEnv("CATALOG_PATH", "services.json"),
			LinkHosts: linkHostsFromEnv(),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", ""),
		},
		Kafka: KafkaConfig{
			Brokers: splitCSV(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_TOPIC", "smm.orders"),
		},
		HTTP: HTTPConfig{
			Addr:       getEnv("HTTP_ADDR", ""),
			AdminToken: getEnv("ADMIN_API_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	for _, key := range []string{"TELEGRAM_BOT_TOKEN", "ADMIN_IDS", "AGENCY_API_KEY", "UPI_ID"} {
		if strings.TrimSpace(os.Getenv(key)) == "" {
			errs = append(errs, fmt.Errorf("%s not set", key))
		}
	}

	adminIDs, err := ParseAdminIDs(os.Getenv("ADMIN_IDS"))
	if err != nil {
		errs = append(errs, fmt.Errorf("ADMIN_IDS: %w", err))
	}
	cfg.Telegram.AdminIDs = adminIDs

	margin, err := decimal.NewFromString(getEnv("DEFAULT_MARGIN_PERCENT", "40"))
	if err != nil {
		errs = append(errs, fmt.Errorf("DEFAULT_MARGIN_PERCENT: %w", err))
	} else if margin.IsNegative() {
		errs = append(errs, errors.New("DEFAULT_MARGIN_PERCENT must not be negative"))
	}
	cfg.Catalog.DefaultMargin = margin

	durations := []struct {
		key, def string
		dst      *time.Duration
	}{
		{"SESSION_IDLE_TIMEOUT", "30m", &cfg.Session.IdleTimeout},
		{"AGENCY_TIMEOUT", "15s", &cfg.Agency.Timeout},
		{"STATUS_POLL_INTERVAL", "5m", &cfg.Agency.PollInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.def))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.key, err))
			continue
		}
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.key))
			continue
		}
		*d.dst = v
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseAdminIDs parses a comma-separated list of Telegram user ids.
func ParseAdminIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range splitCSV(s) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid admin id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func linkHostsFromEnv() map[models.Platform][]string {
	hosts := make(map[models.Platform][]string, len(DefaultLinkHosts))
	for p, def := range DefaultLinkHosts {
		hosts[p] = def
		if v := splitCSV(os.Getenv("LINK_HOSTS_" + strings.ToUpper(string(p)))); len(v) > 0 {
			hosts[p] = v
		}
	}
	return hosts
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
