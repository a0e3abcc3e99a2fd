package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3.0, cfg.Navigation.ArrivalRadiusMeters)
	assert.Equal(t, 8.0, cfg.Navigation.ReliableAccuracyMeters)
	assert.Equal(t, 2*time.Second, cfg.Navigation.RetryInterval)
	assert.Equal(t, "venue.journal", cfg.Editor.JournalFile)
	assert.Equal(t, 100*time.Millisecond, cfg.Editor.FlushInterval)
	assert.Equal(t, time.Second, cfg.Editor.SyncInterval)
	assert.Equal(t, 10*time.Minute, cfg.Analytics.ScanDedupeWindow)
	assert.Equal(t, ":9191", cfg.Server.HTTPAddr)
}

func TestParseOverridesDefaults(t *testing.T) {
	doc := `
navigation:
  arrival_radius_m: 5
  position_retry_interval: 500ms
editor:
  data_dir: /srv/wayfinder
  compact_percentage: 50
analytics:
  scan_dedupe_window: 1h
server:
  http_addr: 127.0.0.1:8080
  auth_token: s3cret
log:
  level: debug
  format: json
`
	cfg, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, 5.0, cfg.Navigation.ArrivalRadiusMeters)
	assert.Equal(t, 2.0, cfg.Navigation.WaypointRadiusMeters, "untouched keys keep defaults")
	assert.Equal(t, 500*time.Millisecond, cfg.Navigation.RetryInterval)
	assert.Equal(t, "/srv/wayfinder", cfg.Editor.DataDir)
	assert.Equal(t, "venue.journal", cfg.Editor.JournalFile)
	assert.Equal(t, 50, cfg.Editor.CompactPercentage)
	assert.Equal(t, time.Hour, cfg.Analytics.ScanDedupeWindow)
	assert.Equal(t, "analytics.db", cfg.Analytics.DBPath)
	assert.Equal(t, "s3cret", cfg.Server.AuthToken)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"UnknownKey":     "navigation:\n  arival_radius_m: 5\n",
		"NegativeRadius": "navigation:\n  arrival_radius_m: -1\n",
		"EmptyAddr":      "server:\n  http_addr: \"\"\n",
		"BadLevel":       "log:\n  level: verbose\n",
		"NotYAML":        "navigation: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)

	path := filepath.Join(t.TempDir(), "wayfinder.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analytics:\n  db_path: /tmp/a.db\n"), 0644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.db", cfg.Analytics.DBPath)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cfg, err = Parse(strings.NewReader(""))
	require.NoError(t, err, "an empty file means defaults")
	assert.Equal(t, Default().Log, cfg.Log)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	Log{Level: "warn", Format: "json"}.Logger(&buf).Info("dropped")
	assert.Zero(t, buf.Len())

	Log{Level: "warn", Format: "json"}.Logger(&buf).Warn("kept", "venue_id", "v1")
	assert.Contains(t, buf.String(), `"venue_id":"v1"`)
}
