package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "", cfg.BusAddress)
	assert.Equal(t, "", cfg.Adapter)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.ScanDuration)
	assert.Equal(t, 128, cfg.QueueCapacity)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
adapter: hci1
connect_timeout: 5s
queue_capacity: 16
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "hci1", cfg.Adapter)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 16, cfg.QueueCapacity)

	// Absent fields keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.ScanDuration)
	assert.Equal(t, "", cfg.BusAddress)
}

func TestParseBadDuration(t *testing.T) {
	_, err := Parse([]byte("read_timeout: soon"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "bad duration")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bluewire.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scan_duration: 2s\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.ScanDuration)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		want     logrus.Level
		wantErr  bool
	}{
		{name: "debug level", logLevel: "debug", want: logrus.DebugLevel},
		{name: "info level", logLevel: "info", want: logrus.InfoLevel},
		{name: "warn level", logLevel: "warn", want: logrus.WarnLevel},
		{name: "invalid level", logLevel: "shouting", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.LogLevel = tt.logLevel

			logger, err := cfg.NewLogger()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
