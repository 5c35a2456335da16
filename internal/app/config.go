package app

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ciphermesh/internal/protocol/ratchet"
	"ciphermesh/internal/services/message"
	"ciphermesh/internal/store"
)

// Environment variables consulted by DefaultConfig.
const (
	EnvHome     = "CIPHERMESH_HOME"
	EnvRelay    = "CIPHERMESH_RELAY"
	EnvRedis    = "CIPHERMESH_REDIS"
	EnvLogLevel = "CIPHERMESH_LOG_LEVEL"
)

const (
	defaultRelayURL  = "http://127.0.0.1:8080"
	defaultHomeDir   = ".ciphermesh"
	defaultPreKeys   = 20
	defaultLogLevel  = "info"
	defaultRedisTTL  = 0
	defaultMailLimit = 100
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home      string        // config directory, e.g. $HOME/.ciphermesh
	RelayURL  string        // relay base URL, e.g. http://127.0.0.1:8080
	RedisAddr string        // optional; sessions go to Redis instead of Home when set
	RedisTTL  time.Duration // zero keeps Redis blobs until reset
	HTTP      *http.Client  // optional; defaults to http.DefaultClient

	LogLevel  string
	LogOutput io.Writer // defaults to os.Stderr

	// Registerer receives the engine metrics. Nil leaves them unexported.
	Registerer prometheus.Registerer

	Scrypt             store.ScryptParams
	MaxSkippedKeys     int
	MaxChainGap        uint32
	MaxAuthFailures    int
	OneTimePreKeyBatch int
	FetchLimit         int
}

// DefaultConfig returns the defaults, overridden by CIPHERMESH_* variables.
func DefaultConfig() Config {
	cfg := Config{
		RelayURL:           envOr(EnvRelay, defaultRelayURL),
		RedisAddr:          os.Getenv(EnvRedis),
		RedisTTL:           defaultRedisTTL,
		LogLevel:           envOr(EnvLogLevel, defaultLogLevel),
		Scrypt:             store.DefaultScrypt(),
		MaxSkippedKeys:     ratchet.DefaultMaxSkippedKeys,
		MaxChainGap:        ratchet.DefaultMaxChainGap,
		MaxAuthFailures:    message.DefaultMaxAuthFailures,
		OneTimePreKeyBatch: defaultPreKeys,
		FetchLimit:         defaultMailLimit,
	}
	cfg.Home = os.Getenv(EnvHome)
	if cfg.Home == "" {
		if dir, err := os.UserHomeDir(); err == nil {
			cfg.Home = filepath.Join(dir, defaultHomeDir)
		} else {
			cfg.Home = defaultHomeDir
		}
	}
	return cfg
}

func (c Config) ratchetConfig() ratchet.Config {
	return ratchet.Config{MaxSkippedKeys: c.MaxSkippedKeys, MaxChainGap: c.MaxChainGap}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
