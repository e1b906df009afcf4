package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "merklekv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

const minimalYAML = `
node_id: node-a
replication:
  broker_address: tcp://broker:9000
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.NodeID)
	assert.Equal(t, 7379, cfg.Network.BindPort)
	assert.Equal(t, 1000, cfg.Network.MaxConnections)
	assert.Equal(t, 300, cfg.AntiEntropy.IntervalSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeTempConfig(t, minimalYAML+"\nbogus_field: true\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRequiresNodeID(t *testing.T) {
	path := writeTempConfig(t, "replication:\n  broker_address: tcp://broker:9000\n")
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrMissingNodeID)
}

func TestLoadRequiresBrokerAddress(t *testing.T) {
	path := writeTempConfig(t, "node_id: node-a\n")
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrMissingBroker)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.NodeID = "n"
	cfg.Replication.BrokerAddress = "tcp://x"
	cfg.Network.BindPort = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidPort)
}

func TestValidateRejectsBadLoggingLevel(t *testing.T) {
	cfg := Default()
	cfg.NodeID = "n"
	cfg.Replication.BrokerAddress = "tcp://x"
	cfg.Logging.Level = "verbose"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidLogLevel)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	t.Setenv("MERKLE_KV_NETWORK_BIND_PORT", "9000")
	t.Setenv("MERKLE_KV_LOGGING_LEVEL", "debug")
	t.Setenv("MERKLE_KV_ANTI_ENTROPY_PEER_LIST", "a:1, b:2 ,c:3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Network.BindPort)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"a:1", "b:2", "c:3"}, cfg.AntiEntropy.PeerList)
}

func TestEnvOverrideRejectsBadInteger(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	t.Setenv("MERKLE_KV_NETWORK_BIND_PORT", "not-a-number")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestIntervalAndKeepAliveConvertToDuration(t *testing.T) {
	cfg := Default()
	cfg.AntiEntropy.IntervalSeconds = 60
	cfg.Replication.KeepAliveSeconds = 15
	assert.Equal(t, 60e9, float64(cfg.Interval()))
	assert.Equal(t, 15e9, float64(cfg.KeepAlive()))
}
