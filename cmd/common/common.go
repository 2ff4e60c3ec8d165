// Package common provides the configuration and wiring shared by the relayer
// and stealthctl commands:
//
//   - YAML configuration with protocol tunables
//   - slog logger setup
//   - store selection (memory, bbolt or PostgreSQL)
//   - key loading, attestation providers and enclave discovery
package common

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/services"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
	"github.com/WaveTek-co/WaveSwap-sub000/tdx"
)

// AttestationConfig selects how enclave attestations are produced and checked.
type AttestationConfig struct {
	// Provider is "dummy", "tdx" or "remote".
	Provider  string `yaml:"provider"`
	RemoteURL string `yaml:"remote_url"`
	// MeasurementsURL is an http(s) URL or a local file holding the executor
	// build allow-list. Empty skips measurement checks.
	MeasurementsURL string `yaml:"measurements_url"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	JSON  bool   `yaml:"json"`
	Level string `yaml:"level"`
}

// KeysConfig holds hex-encoded private keys. Empty keys are generated.
type KeysConfig struct {
	// WalletKey is the ledger wallet of the relayer or the CLI user.
	WalletKey string `yaml:"wallet_key"`
	// IdentityKey signs relayer responses.
	IdentityKey string `yaml:"identity_key"`
}

// Config is the YAML configuration file of the commands.
//
//	http_addr: ":8080"
//	metrics_addr: ":8090"
//	ledger_url: "http://localhost:8080"
//	store_path: "waveswap.db"
//	keys:
//	  wallet_key: ""
//	attestation:
//	  provider: dummy
//	log:
//	  level: info
//	protocol:
//	  program_id: "<hex program address>"
//	  scan_interval: 10s
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// LedgerURL is a ledgerrpc endpoint. Empty hosts a devnet ledger in process.
	LedgerURL string `yaml:"ledger_url"`
	// RelayerURL and RelayerKey locate and pin the relayer.
	RelayerURL string `yaml:"relayer_url"`
	RelayerKey string `yaml:"relayer_key"`
	// EnclaveURL is the base URL of an enclave proof service.
	EnclaveURL string `yaml:"enclave_url"`

	StorePath   string `yaml:"store_path"`
	PostgresDSN string `yaml:"postgres_dsn"`

	AdminToken string `yaml:"admin_token"`

	Keys        KeysConfig        `yaml:"keys"`
	Attestation AttestationConfig `yaml:"attestation"`
	Log         LogConfig         `yaml:"log"`
	Protocol    protocol.Config   `yaml:"protocol"`
}

// DevnetProgram is the program address of the in-process devnet ledger.
var DevnetProgram = ledger.Address(crypto.SHA3([]byte("WaveSwap:Program:devnet")))

// DefaultConfig returns the configuration used without a file. The protocol
// section targets DevnetProgram.
func DefaultConfig() *Config {
	pcfg := protocol.DefaultConfig()
	pcfg.ProgramID = DevnetProgram.String()
	return &Config{
		HTTPAddr:    ":8080",
		Attestation: AttestationConfig{Provider: tdx.KindDummy},
		Log:         LogConfig{Level: "info"},
		Protocol:    *pcfg,
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults and validates the protocol section.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Protocol.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewLogger builds a text or JSON slog logger writing to w.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// OpenStore opens PostgreSQL when dsn is set, else bbolt at path, else an
// in-memory store.
func OpenStore(path, dsn string) (store.Store, error) {
	switch {
	case dsn != "":
		st, err := store.OpenPostgres(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case path != "":
		st, err := store.OpenBolt(path)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

// LoadOrGenerateSigningKey loads an Ed25519 private key from a hex string,
// or generates a new key pair if hexKey is empty.
func LoadOrGenerateSigningKey(hexKey string) (crypto.PrivateKey, error) {
	if hexKey != "" {
		keyBytes, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		return crypto.NewPrivateKeyFromBytes(keyBytes), nil
	}
	_, privKey, err := crypto.GenerateKeyPair()
	return privKey, err
}

// NewAttestationProvider creates the TEE provider named in cfg.
func NewAttestationProvider(cfg AttestationConfig) (services.TEEProvider, error) {
	return tdx.NewProvider(cfg.Provider, cfg.RemoteURL, 30*time.Second)
}

// NewMeasurementSource returns the build allow-list at location, or nil to
// skip measurement checks.
func NewMeasurementSource(location string) (services.MeasurementSource, error) {
	switch {
	case location == "":
		return nil, nil
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return services.NewRemoteMeasurementSource(location), nil
	}
	builds, err := services.LoadBuildAllowlist(location)
	if err != nil {
		return nil, fmt.Errorf("build allow-list: %w", err)
	}
	return services.NewStaticMeasurementSource(builds), nil
}

// FetchEnclaveInfo retrieves the signed identity an enclave proof service
// publishes on GET /enclave/info and checks that it is self-signed.
func FetchEnclaveInfo(ctx context.Context, baseURL string) (*protocol.Signed[services.EnclaveInfo], error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/enclave/info", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch enclave info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enclave returned status %d", resp.StatusCode)
	}

	signed, err := protocol.DecodeMessage[protocol.Signed[services.EnclaveInfo]](resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode enclave info: %w", err)
	}
	info, signer, err := signed.Recover()
	if err != nil {
		return nil, err
	}
	if signer.String() != info.SigningKey {
		return nil, errors.New("enclave info is not signed by its signing key")
	}
	return signed, nil
}
