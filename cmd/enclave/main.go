// Command enclave runs the TEE executor and its proof service.
//
// The executor polls the ledger for TeeRelayed deposits delegated to the
// enclave wallet, unseals the payment instructions and pays the stealth
// vaults. The proof service answers relayer requests for mixer payout proofs
// on POST /enclave/prove and publishes the attested enclave identity on
// GET /enclave/info.
//
// The enclave keys are generated at startup and never leave the process.
// Only the insecure development enclave is available at the moment, so the
// attestation it publishes comes from the dummy provider.
//
// # Usage
//
//	go run ./cmd/enclave --addr=:8081 --ledger-url=http://localhost:8080
//	go run ./cmd/enclave --config=enclave.yaml --registry-url=http://localhost:8080
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/WaveTek-co/WaveSwap-sub000/api/httpserver"
	"github.com/WaveTek-co/WaveSwap-sub000/cmd/common"
	"github.com/WaveTek-co/WaveSwap-sub000/executor"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger/ledgerrpc"
	"github.com/WaveTek-co/WaveSwap-sub000/metrics"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/services"
	"github.com/WaveTek-co/WaveSwap-sub000/teeproof"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		addr        = flag.String("addr", "", "HTTP listen address")
		metricsAddr = flag.String("metrics-addr", "", "Prometheus listen address")
		ledgerURL   = flag.String("ledger-url", "", "ledgerrpc endpoint")
		registryURL = flag.String("registry-url", "", "Enclave registry to register with")
		endpoint    = flag.String("endpoint", "", "URL relayers reach this service at")
		logJSON     = flag.Bool("log-json", false, "Log in JSON")
		logLevel    = flag.String("log-level", "", "Log level: debug, info, warn or error")
	)
	flag.Parse()

	cfg := common.DefaultConfig()
	cfg.HTTPAddr = ":8081"
	if *configPath != "" {
		var err error
		cfg, err = common.LoadConfig(*configPath)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *ledgerURL != "" {
		cfg.LedgerURL = *ledgerURL
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logJSON {
		cfg.Log.JSON = true
	}
	if cfg.LedgerURL == "" {
		fmt.Println("Configuration error: ledger_url is required (via --ledger-url or config file)")
		os.Exit(1)
	}

	advertised := *endpoint
	if advertised == "" {
		advertised = "http://localhost" + cfg.HTTPAddr[strings.LastIndex(cfg.HTTPAddr, ":"):]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, advertised, *registryURL); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, endpoint, registryURL string) error {
	logger, err := common.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	pcfg := &cfg.Protocol

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	enclave, err := teeproof.NewInsecureTestEnclave(logger, protocol.SystemClock{})
	if err != nil {
		return err
	}
	info, err := enclave.Info(endpoint)
	if err != nil {
		return err
	}
	wallet, err := enclave.Wallet()
	if err != nil {
		return err
	}

	client := ledgerrpc.NewClient(cfg.LedgerURL, 0)
	ex, err := executor.New(pcfg, client, enclave, wallet,
		executor.WithSubmitter(ledger.NewSubmitter(client, pcfg, protocol.SystemClock{}, logger)),
		executor.WithMetrics(m),
		executor.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}
	srv, err := executor.NewServer(pcfg, client, enclave, info, logger)
	if err != nil {
		return err
	}

	base, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.HTTPAddr,
		MetricsAddr:              cfg.MetricsAddr,
		Gatherer:                 reg,
		Log:                      logger,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, srv)
	if err != nil {
		return err
	}
	base.RunInBackground()

	logger.Warn("running insecure enclave",
		"signingKey", info.Object.SigningKey,
		"executor", ex.Address().String(),
		"endpoint", endpoint)

	if registryURL != "" {
		if err := register(ctx, registryURL, info); err != nil {
			logger.Error("enclave registration failed", "registry", registryURL, "err", err)
		} else {
			logger.Info("enclave registered", "registry", registryURL)
		}
	}

	go func() {
		if err := ex.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("executor stopped", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	base.Shutdown()
	return nil
}

// register publishes the signed identity on the registry's POST /enclaves.
func register(ctx context.Context, registryURL string, info *protocol.Signed[services.EnclaveInfo]) error {
	body, err := json.Marshal(info)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(registryURL, "/")+"/enclaves", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("registry returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
