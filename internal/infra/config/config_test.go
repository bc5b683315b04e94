package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		var cfg Config
		require.NoError(t, defaults.Set(&cfg))
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "volume out of range",
			mutate:  func(c *Config) { c.Audio.InitialVolume = 150 },
			wantErr: true,
			errMsg:  "InitialVolume",
		},
		{
			name:    "finish poll too aggressive",
			mutate:  func(c *Config) { c.Playback.FinishPollMs = 1 },
			wantErr: true,
			errMsg:  "FinishPollMs",
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
			errMsg:  "Path",
		},
		{
			name: "duplicate pin assignment",
			mutate: func(c *Config) {
				c.Controls.Enabled = true
				c.Controls.Pins.Next = c.Controls.Pins.PlayPause
			},
			wantErr: true,
			errMsg:  "pin",
		},
		{
			name: "shared pins allowed while controls disabled",
			mutate: func(c *Config) {
				c.Controls.Enabled = false
				c.Controls.Pins.Next = c.Controls.Pins.PlayPause
			},
			wantErr: false,
		},
		{
			name:    "unknown audio backend",
			mutate:  func(c *Config) { c.Audio.Backend = "gramophone" },
			wantErr: true,
			errMsg:  "Backend",
		},
		{
			name:    "listen timeout too short",
			mutate:  func(c *Config) { c.NFC.ListenTimeoutMs = 100 },
			wantErr: true,
			errMsg:  "ListenTimeoutMs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err, "expected validation to fail")
				assert.Contains(t, err.Error(), tt.errMsg,
					"error message should mention the problematic field")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	content := `
server:
  addr: ":9090"
database:
  path: "/var/lib/tagtune/tagtune.db"
playback:
  loop: true
  pause_threshold_ms: 1500
nfc:
  listen_timeout_ms: 10000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/var/lib/tagtune/tagtune.db", cfg.Database.Path)
	assert.True(t, cfg.Playback.Loop)
	assert.Equal(t, 1500, cfg.Playback.PauseThresholdMs)
	assert.Equal(t, 10000, cfg.NFC.ListenTimeoutMs)

	// Unspecified fields come from defaults.
	assert.Equal(t, 200, cfg.Playback.FinishPollMs)
	assert.Equal(t, 70, cfg.Audio.InitialVolume)
	assert.Equal(t, 17, cfg.Controls.Pins.PlayPause)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":8080\"\n"), 0o644))

	t.Setenv("TAGTUNE_ADDR", ":7070")
	t.Setenv("TAGTUNE_INITIAL_VOLUME", "40")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 40, cfg.Audio.InitialVolume)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_GetMessage(t *testing.T) {
	var cfg Config
	require.NoError(t, defaults.Set(&cfg))

	assert.Equal(t, cfg.Messages.UnknownTag, cfg.GetMessage("unknown_tag"))
	assert.Equal(t, cfg.Messages.DefaultError, cfg.GetMessage("no_such_code"))
}
