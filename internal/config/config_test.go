package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://remit@localhost/remit")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "testnet", cfg.Ledger.Network)
	assert.Equal(t, "https://horizon-testnet.stellar.org", cfg.Ledger.HorizonURL)
	assert.Equal(t, int64(100), cfg.Ledger.BaseFee)
	assert.Equal(t, int64(25_000_000), cfg.ReserveMargin)
	assert.Equal(t, "release-before-deadline", cfg.DeadlinePolicy)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 2*time.Minute, cfg.IntentStaleAfter)
	assert.False(t, cfg.AutoRefund)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("STELLAR_NETWORK", "public")
	t.Setenv("ESCROW_RESERVE_MARGIN", "3")
	t.Setenv("ESCROW_DEADLINE_POLICY", "release-after-deadline")
	t.Setenv("ESCROW_AUTO_REFUND", "true")
	t.Setenv("SWEEP_INTERVAL", "0s")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "https://horizon.stellar.org", cfg.Ledger.HorizonURL)
	assert.Equal(t, int64(30_000_000), cfg.ReserveMargin)
	assert.True(t, cfg.AutoRefund)
	assert.Zero(t, cfg.SweepInterval)
	assert.True(t, cfg.IsProduction())
}

func TestLoadNamesInvalidKeys(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("LEDGER_BASE_FEE", "cheap")
	t.Setenv("ESCROW_DEADLINE_POLICY", "whenever")
	t.Setenv("SWEEP_INTERVAL", "soon")

	_, err := Load()
	require.Error(t, err)
	for _, key := range []string{"STORE_DRIVER", "LEDGER_BASE_FEE", "ESCROW_DEADLINE_POLICY", "SWEEP_INTERVAL"} {
		assert.ErrorContains(t, err, key)
	}
}

func TestFriendbotOnlyOnTestnet(t *testing.T) {
	t.Setenv("STELLAR_NETWORK", "public")
	t.Setenv("LEDGER_FRIENDBOT", "true")
	_, err := Load()
	assert.ErrorContains(t, err, "LEDGER_FRIENDBOT")
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_port: \"9090\"\nescrow_deadline_policy: informational\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "informational", cfg.DeadlinePolicy)
}

func TestValidateRequiresSecrets(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	assert.ErrorContains(t, err, "DB_SOURCE")
	assert.ErrorContains(t, err, "KEYSTORE_MASTER_KEY")
	assert.ErrorContains(t, err, "AUTH_JWT_SECRET")

	cfg.DBSource = "postgres://localhost/remit"
	cfg.MasterKey = "key"
	cfg.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())
}
