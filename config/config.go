// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads and validates the node's YAML configuration. Each
// section (node identity, network, replication, anti-entropy, storage,
// logging) follows the same default-then-validate pattern.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Error variables for configuration validation: one sentinel per rejected
// field.
var (
	ErrMissingNodeID     = errors.New("config: node_id is required")
	ErrInvalidPort       = errors.New("config: network.bind_port must be in 1-65535")
	ErrInvalidMaxConn    = errors.New("config: network.max_connections must be >= 1")
	ErrMissingBroker     = errors.New("config: replication.broker_address is required")
	ErrInvalidInterval   = errors.New("config: anti_entropy.interval_seconds must be >= 1")
	ErrInvalidConcurrent = errors.New("config: anti_entropy.max_concurrent_sessions must be >= 1")
	ErrInvalidLogLevel   = errors.New("config: logging.level must be one of debug, info, warn, error")
	ErrInvalidLogFormat  = errors.New("config: logging.format must be json or console")
)

// NetworkConfig is the client-facing TCP listener's configuration.
// SyncPort is a second listener, separate from the client text protocol,
// that answers anti-entropy session RPCs. 0 means BindPort+1.
type NetworkConfig struct {
	BindAddress    string `yaml:"bind_address"`
	BindPort       int    `yaml:"bind_port"`
	MaxConnections int    `yaml:"max_connections"`
	SyncPort       int    `yaml:"sync_port"`
}

// EffectiveSyncPort returns SyncPort, defaulting to BindPort+1 when unset.
func (n NetworkConfig) EffectiveSyncPort() int {
	if n.SyncPort != 0 {
		return n.SyncPort
	}
	return n.BindPort + 1
}

// ReplicationConfig is the pub/sub transport's configuration.
type ReplicationConfig struct {
	BrokerAddress    string `yaml:"broker_address"`
	TopicPrefix      string `yaml:"topic_prefix"`
	ClientID         string `yaml:"client_id"`
	KeepAliveSeconds int    `yaml:"keep_alive"`
	CleanSession     bool   `yaml:"clean_session"`
}

// AntiEntropyConfig is the periodic reconciliation loop's configuration.
type AntiEntropyConfig struct {
	Enabled               bool     `yaml:"enabled"`
	IntervalSeconds       int      `yaml:"interval_seconds"`
	PeerList              []string `yaml:"peer_list"`
	MaxConcurrentSessions int      `yaml:"max_concurrent_sessions"`
}

// StorageConfig is the storage backend's configuration. MemoryLimitMB is
// advisory only: nothing in this module reads it back to enforce a limit.
// DataDir, when set, backs the Store with store.NewLevelDBBackend instead
// of an in-memory-only map; empty means in-memory only.
type StorageConfig struct {
	MemoryLimitMB int    `yaml:"memory_limit_mb"`
	DataDir       string `yaml:"data_dir"`
}

// LoggingConfig selects the zap logger's level and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full node configuration, grouped into sections, each with
// its own MERKLE_KV_<SECTION>_<KEY> environment override (see Load).
type Config struct {
	NodeID string `yaml:"node_id"`

	Network     NetworkConfig     `yaml:"network"`
	Replication ReplicationConfig `yaml:"replication"`
	AntiEntropy AntiEntropyConfig `yaml:"anti_entropy"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Default returns a Config with every documented default applied, missing
// only the required node_id.
func Default() Config {
	return Config{
		Network: NetworkConfig{
			BindAddress:    "0.0.0.0",
			BindPort:       7379,
			MaxConnections: 1000,
		},
		Replication: ReplicationConfig{
			TopicPrefix:      "merklekv",
			KeepAliveSeconds: 30,
			CleanSession:     true,
		},
		AntiEntropy: AntiEntropyConfig{
			Enabled:               true,
			IntervalSeconds:       300,
			MaxConcurrentSessions: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Interval returns the anti-entropy tick period as a time.Duration.
func (c Config) Interval() time.Duration {
	return time.Duration(c.AntiEntropy.IntervalSeconds) * time.Second
}

// KeepAlive returns the broker keep-alive as a time.Duration.
func (c Config) KeepAlive() time.Duration {
	return time.Duration(c.Replication.KeepAliveSeconds) * time.Second
}

// Validate checks every field this module depends on: one sentinel error
// per violated constraint. The anti-entropy interval and concurrency
// limits are checked only when anti-entropy is enabled.
func (c Config) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return ErrMissingNodeID
	}
	if c.Network.BindPort < 1 || c.Network.BindPort > 65535 {
		return ErrInvalidPort
	}
	if c.Network.MaxConnections < 1 {
		return ErrInvalidMaxConn
	}
	if strings.TrimSpace(c.Replication.BrokerAddress) == "" {
		return ErrMissingBroker
	}
	if c.AntiEntropy.Enabled {
		if c.AntiEntropy.IntervalSeconds < 1 {
			return ErrInvalidInterval
		}
		if c.AntiEntropy.MaxConcurrentSessions < 1 {
			return ErrInvalidConcurrent
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return ErrInvalidLogFormat
	}
	return nil
}

// Load reads path, applies defaults for anything the file omits, applies
// MERKLE_KV_<SECTION>_<KEY> environment overrides, and validates the
// result. Unknown YAML keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := decodeStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := applyEnvOverrides(&cfg, os.Environ()); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeStrict(data []byte, cfg *Config) error {
	dec := newStrictDecoder(bytes.NewReader(data))
	return dec.Decode(cfg)
}

func envLookup(key string, environ []string) (string, bool) {
	prefix := key + "="
	for _, kv := range environ {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

// applyEnvOverrides walks the documented MERKLE_KV_<SECTION>_<KEY> set
// explicitly (no reflection): each field is its own line, readable over
// generic config-binding magic.
func applyEnvOverrides(cfg *Config, environ []string) error {
	if v, ok := envLookup("MERKLE_KV_NODE_ID", environ); ok {
		cfg.NodeID = v
	}
	if v, ok := envLookup("MERKLE_KV_NETWORK_BIND_ADDRESS", environ); ok {
		cfg.Network.BindAddress = v
	}
	if v, ok := envLookup("MERKLE_KV_NETWORK_BIND_PORT", environ); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MERKLE_KV_NETWORK_BIND_PORT: %w", err)
		}
		cfg.Network.BindPort = n
	}
	if v, ok := envLookup("MERKLE_KV_NETWORK_MAX_CONNECTIONS", environ); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MERKLE_KV_NETWORK_MAX_CONNECTIONS: %w", err)
		}
		cfg.Network.MaxConnections = n
	}
	if v, ok := envLookup("MERKLE_KV_NETWORK_SYNC_PORT", environ); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MERKLE_KV_NETWORK_SYNC_PORT: %w", err)
		}
		cfg.Network.SyncPort = n
	}
	if v, ok := envLookup("MERKLE_KV_REPLICATION_BROKER_ADDRESS", environ); ok {
		cfg.Replication.BrokerAddress = v
	}
	if v, ok := envLookup("MERKLE_KV_REPLICATION_TOPIC_PREFIX", environ); ok {
		cfg.Replication.TopicPrefix = v
	}
	if v, ok := envLookup("MERKLE_KV_REPLICATION_CLIENT_ID", environ); ok {
		cfg.Replication.ClientID = v
	}
	if v, ok := envLookup("MERKLE_KV_REPLICATION_KEEP_ALIVE", environ); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MERKLE_KV_REPLICATION_KEEP_ALIVE: %w", err)
		}
		cfg.Replication.KeepAliveSeconds = n
	}
	if v, ok := envLookup("MERKLE_KV_REPLICATION_CLEAN_SESSION", environ); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: MERKLE_KV_REPLICATION_CLEAN_SESSION: %w", err)
		}
		cfg.Replication.CleanSession = b
	}
	if v, ok := envLookup("MERKLE_KV_ANTI_ENTROPY_ENABLED", environ); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: MERKLE_KV_ANTI_ENTROPY_ENABLED: %w", err)
		}
		cfg.AntiEntropy.Enabled = b
	}
	if v, ok := envLookup("MERKLE_KV_ANTI_ENTROPY_INTERVAL_SECONDS", environ); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MERKLE_KV_ANTI_ENTROPY_INTERVAL_SECONDS: %w", err)
		}
		cfg.AntiEntropy.IntervalSeconds = n
	}
	if v, ok := envLookup("MERKLE_KV_ANTI_ENTROPY_PEER_LIST", environ); ok {
		cfg.AntiEntropy.PeerList = splitPeerList(v)
	}
	if v, ok := envLookup("MERKLE_KV_ANTI_ENTROPY_MAX_CONCURRENT_SESSIONS", environ); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MERKLE_KV_ANTI_ENTROPY_MAX_CONCURRENT_SESSIONS: %w", err)
		}
		cfg.AntiEntropy.MaxConcurrentSessions = n
	}
	if v, ok := envLookup("MERKLE_KV_STORAGE_MEMORY_LIMIT_MB", environ); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MERKLE_KV_STORAGE_MEMORY_LIMIT_MB: %w", err)
		}
		cfg.Storage.MemoryLimitMB = n
	}
	if v, ok := envLookup("MERKLE_KV_STORAGE_DATA_DIR", environ); ok {
		cfg.Storage.DataDir = v
	}
	if v, ok := envLookup("MERKLE_KV_LOGGING_LEVEL", environ); ok {
		cfg.Logging.Level = v
	}
	if v, ok := envLookup("MERKLE_KV_LOGGING_FORMAT", environ); ok {
		cfg.Logging.Format = v
	}
	return nil
}

func splitPeerList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
