package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"ORCHESTRATOR_PORT", "COMP_ENV_STARTUP", "RECOMMENDATION_MANAGERS", "COMP_ENV_ADDRESS", "WORKER_INTAKE_PORT", "DELIVERY_PORT"} {
		t.Setenv(key, "")
	}
	cfg := LoadConfig()
	require.Equal(t, 2761, cfg.OrchestratorPort)
	require.Equal(t, 20*time.Second, cfg.CompEnvStartup)
	require.Equal(t, 1, cfg.Workers)
	require.Equal(t, "tcp://192.168.22.100:2760", cfg.CompEnvAddress)
	require.Equal(t, "data", cfg.DataTopic)
	require.Equal(t, 8080, cfg.WorkerIntakePort)
	require.Equal(t, 5140, cfg.DeliveryPort)
}

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		startup string
		want    time.Duration
	}{
		{"duration", "45s", 45 * time.Second},
		{"seconds", "7", 7 * time.Second},
		{"garbage", "soon", 20 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("COMP_ENV_STARTUP", tt.startup)
			t.Setenv("RECOMMENDATION_MANAGERS", "3")
			cfg := LoadConfig()
			require.Equal(t, tt.want, cfg.CompEnvStartup)
			require.Equal(t, 3, cfg.Workers)
		})
	}
}

func TestReadEndpoints(t *testing.T) {
	dir := t.TempDir()
	content := []byte("box:\n  ip_address: 192.168.22.5\nzookeeper:\n  port: 2181\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, DatastreamConfigFile), content, 0644))

	ep, err := ReadEndpoints(dir)
	require.NoError(t, err)
	require.Equal(t, "192.168.22.5", ep.DatastreamIP())
	require.Equal(t, "192.168.22.5:2181", ep.ZookeeperHostPort())
	require.Equal(t, "192.168.22.5", ep.OrchestratorIP())
}

func TestParseEndpointsInvalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing box", "zookeeper:\n  port: 2181\n"},
		{"missing zookeeper", "box:\n  ip_address: 10.0.0.1\n"},
		{"bad port", "box:\n  ip_address: 10.0.0.1\nzookeeper:\n  port: 70000\n"},
		{"not yaml", "box: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEndpoints("vagrant.yml", []byte(tt.raw))
			require.Error(t, err)
		})
	}
}

func TestReadEndpointsMissingFile(t *testing.T) {
	_, err := ReadEndpoints(t.TempDir())
	require.ErrorIs(t, err, os.ErrNotExist)
}
