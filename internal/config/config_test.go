package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("SENTIMENT_SWEEP_INTERVAL", "")
	t.Setenv("DEPARTMENTS", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
	require.Equal(t, 10*time.Minute, cfg.Sentiment.SweepInterval)
	require.Equal(t, 20, cfg.Sentiment.SweepBatch)
	require.Equal(t, 200*time.Millisecond, cfg.Sentiment.SweepDelay)
	require.Equal(t, 5, cfg.Sentiment.MaxAttempts)
	require.Equal(t, time.Second, cfg.Fanout.SuppressionTTL)
	require.Contains(t, cfg.Workflow.Departments, "Cardiology")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Mongo")
	t.Setenv("SENTIMENT_SWEEP_INTERVAL", "90s")
	t.Setenv("SENTIMENT_SWEEP_DELAY", "not-a-duration")
	t.Setenv("DEPARTMENTS", " Cardiology , ,Oncology")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StoreDriverMongo, cfg.Store.Driver)
	require.Equal(t, 90*time.Second, cfg.Sentiment.SweepInterval)
	require.Equal(t, 200*time.Millisecond, cfg.Sentiment.SweepDelay)
	require.Equal(t, []string{"Cardiology", "Oncology"}, cfg.Workflow.Departments)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := Load()
	require.Error(t, err)
}
