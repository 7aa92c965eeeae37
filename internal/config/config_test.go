package config

import (
	"testing"
	"time"

	"pos_engine/internal/pricing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.True(t, cfg.TaxRate.IsZero())
	assert.Equal(t, int32(2), cfg.MinorUnits)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 3, cfg.CommitRetries)
	assert.Empty(t, cfg.CategoryRates)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("POS_ENV", "production")
	t.Setenv("POS_STORE", "SQLite")
	t.Setenv("POS_TAX_RATE", "8")
	t.Setenv("POS_CATEGORY_TAX_RATES", "food=0, alcohol=12.5")
	t.Setenv("POS_MINOR_UNITS", "0")
	t.Setenv("POS_LOCK_TIMEOUT", "250ms")
	t.Setenv("POS_NODE_ID", "7")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, int64(7), cfg.NodeID)

	rates := cfg.RateConfig()
	assert.True(t, decimal.NewFromInt(8).Equal(rates.TaxRate))
	assert.True(t, decimal.RequireFromString("12.5").Equal(rates.RateFor("alcohol")))
	assert.True(t, rates.RateFor("food").IsZero())
	assert.True(t, decimal.NewFromInt(8).Equal(rates.RateFor("toys")))
	assert.Equal(t, int32(0), rates.MinorUnits)
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"bad tax rate":         {"POS_TAX_RATE": "eight"},
		"negative tax rate":    {"POS_TAX_RATE": "-1"},
		"bad category rates":   {"POS_CATEGORY_TAX_RATES": "food"},
		"bad lock timeout":     {"POS_LOCK_TIMEOUT": "soon"},
		"unknown store":        {"POS_STORE": "mongo"},
		"postgres without url": {"POS_STORE": "postgres", "DATABASE_URL": ""},
		"node out of range":    {"POS_NODE_ID": "4096"},
		"negative minor units": {"POS_MINOR_UNITS": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_NegativeMinorUnitsIsARateError(t *testing.T) {
	t.Setenv("POS_MINOR_UNITS", "-1")
	_, err := LoadConfig()
	assert.ErrorIs(t, err, pricing.ErrInvalidRate)
}
