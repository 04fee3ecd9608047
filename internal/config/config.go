package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/stellar/go/amount"

	"github.com/punchamoorthee/stellarremit/internal/ledger"
	"github.com/punchamoorthee/stellarremit/internal/service"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	DBSource    string
	StoreDriver string
	Port        string
	Env         string
	LogLevel    string

	Ledger      ledger.Config
	FundWallets bool

	ReserveMargin    int64 // stroops
	DeadlinePolicy   string
	AutoRefund       bool
	SweepInterval    time.Duration
	IntentStaleAfter time.Duration

	MasterKey   string
	JWTSecret   string
	JWTAudience string
	RedisURL    string
}

var horizonDefaults = map[string]string{
	"testnet": "https://horizon-testnet.stellar.org",
	"public":  "https://horizon.stellar.org",
}

func defaults(v *viper.Viper) {
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STELLAR_NETWORK", "testnet")
	v.SetDefault("HORIZON_RPS", "10")
	v.SetDefault("LEDGER_BASE_FEE", "100")
	v.SetDefault("LEDGER_FRIENDBOT", "false")
	v.SetDefault("ESCROW_RESERVE_MARGIN", "2.5")
	v.SetDefault("ESCROW_DEADLINE_POLICY", service.PolicyReleaseBeforeDeadline)
	v.SetDefault("ESCROW_AUTO_REFUND", "false")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("INTENT_STALE_AFTER", "2m")
}

// Load reads configuration from the environment, a .env file in the working
// directory, and the YAML file named by CONFIG_FILE, in that precedence.
// Values are parsed and checked here; Validate checks what the server needs.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	defaults(v)
	v.AutomaticEnv()
	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("CONFIG_FILE: %w", err)
		}
	}
	return parse(v)
}

func parse(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DBSource:    v.GetString("DB_SOURCE"),
		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		Port:        v.GetString("SERVER_PORT"),
		Env:         v.GetString("ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		MasterKey:   v.GetString("KEYSTORE_MASTER_KEY"),
		JWTSecret:   v.GetString("AUTH_JWT_SECRET"),
		JWTAudience: v.GetString("AUTH_JWT_AUDIENCE"),
		RedisURL:    v.GetString("REDIS_URL"),
	}
	var errs []error
	bad := func(key string, err error) {
		errs = append(errs, fmt.Errorf("%s: %w", key, err))
	}

	switch cfg.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		bad("STORE_DRIVER", fmt.Errorf("unknown driver %q", cfg.StoreDriver))
	}

	network := strings.ToLower(v.GetString("STELLAR_NETWORK"))
	cfg.Ledger.Network = network
	cfg.Ledger.HorizonURL = v.GetString("HORIZON_URL")
	if def, ok := horizonDefaults[network]; !ok {
		bad("STELLAR_NETWORK", fmt.Errorf("unknown network %q", network))
	} else if cfg.Ledger.HorizonURL == "" {
		cfg.Ledger.HorizonURL = def
	}

	rps, err := strconv.ParseFloat(v.GetString("HORIZON_RPS"), 64)
	if err != nil || rps < 0 {
		bad("HORIZON_RPS", fmt.Errorf("invalid rate %q", v.GetString("HORIZON_RPS")))
	}
	cfg.Ledger.RequestsPerSecond = rps

	fee, err := strconv.ParseInt(v.GetString("LEDGER_BASE_FEE"), 10, 64)
	if err != nil || fee <= 0 {
		bad("LEDGER_BASE_FEE", fmt.Errorf("invalid fee %q", v.GetString("LEDGER_BASE_FEE")))
	}
	cfg.Ledger.BaseFee = fee

	if cfg.FundWallets, err = strconv.ParseBool(v.GetString("LEDGER_FRIENDBOT")); err != nil {
		bad("LEDGER_FRIENDBOT", err)
	}
	if cfg.FundWallets && network != "testnet" {
		bad("LEDGER_FRIENDBOT", errors.New("friendbot only exists on testnet"))
	}

	margin, err := amount.ParseInt64(v.GetString("ESCROW_RESERVE_MARGIN"))
	if err != nil || margin <= 0 {
		bad("ESCROW_RESERVE_MARGIN", fmt.Errorf("invalid amount %q", v.GetString("ESCROW_RESERVE_MARGIN")))
	}
	cfg.ReserveMargin = margin

	cfg.DeadlinePolicy = v.GetString("ESCROW_DEADLINE_POLICY")
	if _, err := service.ParsePolicy(cfg.DeadlinePolicy); err != nil {
		bad("ESCROW_DEADLINE_POLICY", err)
	}
	if cfg.AutoRefund, err = strconv.ParseBool(v.GetString("ESCROW_AUTO_REFUND")); err != nil {
		bad("ESCROW_AUTO_REFUND", err)
	}

	if cfg.SweepInterval, err = time.ParseDuration(v.GetString("SWEEP_INTERVAL")); err != nil || cfg.SweepInterval < 0 {
		bad("SWEEP_INTERVAL", fmt.Errorf("invalid duration %q", v.GetString("SWEEP_INTERVAL")))
	}
	if cfg.IntentStaleAfter, err = time.ParseDuration(v.GetString("INTENT_STALE_AFTER")); err != nil || cfg.IntentStaleAfter <= 0 {
		bad("INTENT_STALE_AFTER", fmt.Errorf("invalid duration %q", v.GetString("INTENT_STALE_AFTER")))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks the settings the API server and sweeper cannot start
// without.
func (c *Config) Validate() error {
	var errs []error
	if c.StoreDriver == DriverPostgres && c.DBSource == "" {
		errs = append(errs, errors.New("DB_SOURCE environment variable is required"))
	}
	if c.MasterKey == "" {
		errs = append(errs, errors.New("KEYSTORE_MASTER_KEY environment variable is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET environment variable is required"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs with production logging.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
