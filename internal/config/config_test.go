package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.MaxCallsPerPeriod)
	assert.Equal(t, time.Minute, cfg.RatePeriod)
	assert.Equal(t, []int{38, 73, 74}, cfg.Departments)
	assert.Equal(t, 300*time.Second, cfg.TokenSkew)
}

func TestLoadRejectsZeroRateCapacity(t *testing.T) {
	t.Setenv("CLIMSYNC_MAX_RPM", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLIMSYNC_MAX_RPM")
}

func TestLoadRejectsNegativeRateCapacity(t *testing.T) {
	t.Setenv("CLIMSYNC_MAX_RPM", "-3")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CLIMSYNC_MAX_RPM")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CLIMSYNC_MAX_RPM", "10")
	t.Setenv("CLIMSYNC_DEPARTMENTS", "05, 04")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.MaxCallsPerPeriod)
	assert.Equal(t, []int{5, 4}, cfg.Departments)
}
