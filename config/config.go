// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"pos-terminal/internal/domain"
)

type Config struct {
	Server   ServerConfig
	Terminal TerminalConfig
	Storage  StorageConfig
	Acquirer AcquirerConfig
	Reversal ReversalConfig
	Keys     KeysConfig
	Brands   BrandsConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type TerminalConfig struct {
	ID            string
	Currency      string
	AmountCeiling int64
	CardTimeout   time.Duration
	AuthTimeout   time.Duration
}

type StorageConfig struct {
	DataPath     string
	KeystorePath string
}

type AcquirerConfig struct {
	BaseURL             string
	Timeout             time.Duration
	ConsecutiveFailures uint32
	CooldownPeriod      time.Duration
}

type ReversalConfig struct {
	DrainInterval time.Duration
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	MaxAttempts   int
}

type KeysConfig struct {
	RSABits int
}

type BrandsConfig struct {
	Visa       *domain.BrandProfile
	Mastercard *domain.BrandProfile
}

func Load(logger *zap.Logger) (*Config, error) {
	// .env is optional; environment variables win.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8041"),
			Env:  getEnv("ENVIRONMENT", "development"),
		},
		Terminal: TerminalConfig{
			ID:            getEnv("TERMINAL_ID", "TERM0001"),
			Currency:      getEnv("TERMINAL_CURRENCY", "USD"),
			AmountCeiling: getEnvInt64("AMOUNT_CEILING", 100000000),
			CardTimeout:   getEnvDuration("CARD_TIMEOUT", 30*time.Second),
			AuthTimeout:   getEnvDuration("AUTH_TIMEOUT", 20*time.Second),
		},
		Storage: StorageConfig{
			DataPath:     getEnv("DATA_PATH", "./data/terminal.db"),
			KeystorePath: getEnv("KEYSTORE_PATH", "./data/keystore"),
		},
		Acquirer: AcquirerConfig{
			BaseURL:             getEnv("ACQUIRER_URL", "http://localhost:9041/api/v1"),
			Timeout:             getEnvDuration("ACQUIRER_TIMEOUT", 25*time.Second),
			ConsecutiveFailures: uint32(getEnvInt64("ACQUIRER_BREAKER_FAILURES", 5)),
			CooldownPeriod:      getEnvDuration("ACQUIRER_BREAKER_COOLDOWN", 30*time.Second),
		},
		Reversal: ReversalConfig{
			DrainInterval: getEnvDuration("REVERSAL_DRAIN_INTERVAL", 15*time.Second),
			BaseBackoff:   getEnvDuration("REVERSAL_BASE_BACKOFF", 30*time.Second),
			MaxBackoff:    getEnvDuration("REVERSAL_MAX_BACKOFF", 30*time.Minute),
			MaxAttempts:   int(getEnvInt64("REVERSAL_MAX_ATTEMPTS", 10)),
		},
		Keys: KeysConfig{
			RSABits: int(getEnvInt64("TERMINAL_RSA_BITS", 2048)),
		},
		Brands: BrandsConfig{
			Visa:       loadBrand(domain.SchemeVisa, "VISA"),
			Mastercard: loadBrand(domain.SchemeMastercard, "MASTERCARD"),
		},
	}

	if cfg.Terminal.AmountCeiling <= 0 {
		return nil, fmt.Errorf("AMOUNT_CEILING must be positive")
	}

	logger.Info("configuration loaded",
		zap.String("terminal_id", cfg.Terminal.ID),
		zap.String("currency", cfg.Terminal.Currency),
		zap.Int64("amount_ceiling", cfg.Terminal.AmountCeiling),
		zap.String("acquirer_url", cfg.Acquirer.BaseURL))

	return cfg, nil
}

// loadBrand reads an optional brand profile from BRAND_<SCHEME>_* variables.
// Returns nil when nothing is configured so the built-in defaults apply.
func loadBrand(scheme domain.Scheme, prefix string) *domain.BrandProfile {
	qualifier := getEnv("BRAND_"+prefix+"_QUALIFIER", "")
	floor := getEnvInt64("BRAND_"+prefix+"_FLOOR_LIMIT", 0)
	ctless := getEnvInt64("BRAND_"+prefix+"_CONTACTLESS_LIMIT", 0)
	cvm := getEnvInt64("BRAND_"+prefix+"_CVM_LIMIT", 0)

	if qualifier == "" && floor == 0 && ctless == 0 && cvm == 0 {
		return nil
	}
	return &domain.BrandProfile{
		Scheme:           scheme,
		Qualifier:        qualifier,
		FloorLimit:       floor,
		ContactlessLimit: ctless,
		CVMLimit:         cvm,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
