package app

import (
	"fmt"
	"net/http"
	"os"

	"github.com/go-kit/log"

	"ciphermesh/internal/logging"
	"ciphermesh/internal/metrics"
	identitysvc "ciphermesh/internal/services/identity"
	"ciphermesh/internal/store"
)

// Wire bundles what the CLI needs before the key store is unlocked.
type Wire struct {
	Config   Config
	Logger   log.Logger
	Metrics  *metrics.Metrics
	KeyStore *store.KeyStoreFile
	Identity *identitysvc.Service
	Peers    *store.PeerFileStore
	HTTP     *http.Client
}

// NewWire constructs the pre-unlock dependency graph from cfg.
func NewWire(cfg Config) (*Wire, error) {
	if cfg.Home == "" {
		return nil, fmt.Errorf("home directory is required")
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}

	out := cfg.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := logging.New(out, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	// Ensure an HTTP client is available for outbound calls
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if cfg.Scrypt.N == 0 {
		cfg.Scrypt = store.DefaultScrypt()
	}
	ksFile := store.NewKeyStoreFile(cfg.Home, cfg.Scrypt)

	return &Wire{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics.New(cfg.Registerer),
		KeyStore: ksFile,
		Identity: identitysvc.New(ksFile, logger),
		Peers:    store.NewPeerFileStore(cfg.Home),
		HTTP:     httpClient,
	}, nil
}
