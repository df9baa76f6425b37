package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/firewatch/pkg/nnload"
	"github.com/cyclopcam/firewatch/server/camera"
	"github.com/cyclopcam/firewatch/server/snapshots"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Camera.URL = "http://camera.local/snapshot.jpg"
	cfg.Backend.Token = "abc"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, 30.0, cfg.Sampling.RefreshHz)
	require.Equal(t, 2000, cfg.Sampling.GraceDelayMS)
	require.Equal(t, 5, cfg.Incident.ConfirmThreshold)
	require.Equal(t, 1, cfg.Incident.RetryAttempts)
	require.Equal(t, 0.65, cfg.Fusion.PositiveThreshold)
	require.Equal(t, "http://localhost:3000/api", cfg.Backend.URL)

	// Defaults are not enough: a camera and backend credentials are required
	require.Error(t, cfg.Validate())
	require.NoError(t, validConfig().Validate())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, DefaultFilename)
	raw := `{
		"camera": {"kind": "dir", "dir": "/var/frames", "loop": true},
		"incident": {"confirmThreshold": 3, "debounceMS": 0, "retryAttempts": 4},
		"fusion": {"positiveThreshold": 0.5},
		"snapshots": {"kind": "fs", "dir": "snaps"},
		"backend": {"email": "a@b.c", "password": "pw", "controlOnReset": true}
	}`
	require.NoError(t, os.WriteFile(filename, []byte(raw), 0644))

	cfg, err := LoadConfig(filename)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	// Values that are absent from the file keep their defaults
	require.Equal(t, 30.0, cfg.Sampling.RefreshHz)
	require.Equal(t, 10, cfg.Fusion.SampleStride)
	require.True(t, cfg.Sampling.RequireNewFrame)

	mon := cfg.MonitorConfig()
	require.Equal(t, 3, mon.Incident.ConfirmThreshold)
	require.Equal(t, time.Duration(0), mon.Incident.DebounceDelay)
	require.Equal(t, 4, mon.Incident.Retry.MaxAttempts)
	require.Equal(t, time.Second, mon.Incident.Retry.InitialBackoff)
	require.Equal(t, 0.5, mon.Fusion.PositiveThreshold)
	require.Equal(t, 2*time.Second, mon.GraceDelay)
	require.True(t, mon.ControlOnReset)
	require.Equal(t, float32(0.5), mon.Detection.ProbabilityThreshold)

	cam := cfg.CameraConfig()
	require.Equal(t, camera.SourceKindDir, cam.Kind)
	require.True(t, cam.Loop)
	require.Equal(t, 100*time.Millisecond, cam.Interval)

	snap := cfg.SnapshotConfig()
	require.Equal(t, snapshots.KindFS, snap.Kind)
	require.Equal(t, filepath.Join("data", "snaps"), snap.Root)
	require.Equal(t, filepath.Join("data", "events.sqlite"), cfg.EventDBPath())

	require.Equal(t, nnload.BackendHTTP, cfg.DetectorConfig().Backend)
	require.Equal(t, "a@b.c", cfg.NotifierConfig().Email)

	_, err = LoadConfig(filepath.Join(dir, "missing.json"))
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filename, []byte("{"), 0644))
	_, err = LoadConfig(filename)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []func(c *Config){
		func(c *Config) { c.Camera.Kind = "rtsp" },
		func(c *Config) { c.Camera.URL = "" },
		func(c *Config) { c.Camera.IntervalMS = 0 },
		func(c *Config) { c.Detector.ProbabilityThreshold = 1.5 },
		func(c *Config) { c.Sampling.RefreshHz = 0 },
		func(c *Config) { c.Fusion.SampleStride = 0 },
		func(c *Config) { c.Fusion.AreaFraction = 0 },
		func(c *Config) { c.Incident.ConfirmThreshold = 0 },
		func(c *Config) { c.Incident.DebounceMS = -1 },
		func(c *Config) { c.Backend.Token = "" },
		func(c *Config) { c.Snapshots.Kind = snapshots.KindGCS },
		func(c *Config) { c.Snapshots.Kind = "s3" },
	}
	for i, modify := range cases {
		cfg := validConfig()
		modify(cfg)
		require.Error(t, cfg.Validate(), "case %v", i)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("FIREWATCH_BACKEND_TOKEN=from-dotenv\nFIREWATCH_LISTEN=:9999\n"), 0644))

	t.Setenv(EnvBackendToken, "")
	t.Setenv(EnvListen, ":7000")
	os.Unsetenv(EnvBackendToken)
	require.NoError(t, LoadEnvFile(envFile))
	require.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))

	cfg := Default()
	cfg.ApplyEnv()
	require.Equal(t, "from-dotenv", cfg.Backend.Token)
	// Variables already in the environment win over the .env file
	require.Equal(t, ":7000", cfg.Listen)
}

func TestCameraBrand(t *testing.T) {
	cfg := validConfig()
	cfg.Camera.URL = "http://192.168.1.33"
	cfg.Camera.Brand = camera.CameraBrandHikVision
	require.NoError(t, cfg.Validate())
	require.Equal(t, camera.CameraBrandHikVision, cfg.CameraConfig().Brand)

	cfg.Camera.Brand = "Acme"
	require.Error(t, cfg.Validate())
}
