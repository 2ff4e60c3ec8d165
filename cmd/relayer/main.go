// Command relayer runs a WaveSwap relayer.
//
// The relayer submits mixer payouts and private claims on behalf of users and
// hosts the enclave registry. Mixer payouts need a proof from a TEE enclave:
// with --enclave-url the relayer verifies the enclave's attested identity and
// requests proofs from it. Without it, an insecure in-process enclave is
// started together with its executor, which is only suitable for development.
//
// Without --ledger-url the relayer hosts a devnet ledger in process, persisted
// in the store, and serves it over the ledgerrpc routes with a faucet.
//
// # Configuration File
//
//	http_addr: ":8080"
//	metrics_addr: ":8090"
//	ledger_url: ""
//	enclave_url: ""
//	store_path: "relayer.db"
//	admin_token: "admin:secret"
//	keys:
//	  wallet_key: ""      # Hex-encoded, generates if empty
//	  identity_key: ""    # Hex-encoded, generates if empty
//	attestation:
//	  provider: dummy     # dummy, tdx or remote
//	  remote_url: ""
//	  measurements_url: ""
//	log:
//	  json: false
//	  level: info
//	protocol:
//	  confirm_timeout: 60s
//
// # Endpoints
//
//   - GET /info, POST /execute-mixer, POST /claim - relayer API
//   - GET /enclaves, POST /enclaves - enclave registry
//   - DELETE /admin/enclaves/{signing_key} - admin, basic auth
//   - GET /enclave/info, POST /enclave/prove - in-process enclave only
//   - POST /ledger/... - devnet ledger only
//   - GET /livez, /readyz, /drain, /undrain
//
// # Usage
//
//	go run ./cmd/relayer --config=relayer.yaml
//	go run ./cmd/relayer --addr=:8080 --store=relayer.db
//	go run ./cmd/relayer --ledger-url=http://ledger:8080 --enclave-url=http://enclave:8081
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
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
	"github.com/WaveTek-co/WaveSwap-sub000/ledger/memledger"
	"github.com/WaveTek-co/WaveSwap-sub000/metrics"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/relayer"
	"github.com/WaveTek-co/WaveSwap-sub000/services"
	"github.com/WaveTek-co/WaveSwap-sub000/teeproof"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		addr        = flag.String("addr", "", "HTTP listen address")
		metricsAddr = flag.String("metrics-addr", "", "Prometheus listen address")
		ledgerURL   = flag.String("ledger-url", "", "ledgerrpc endpoint, empty hosts a devnet ledger")
		enclaveURL  = flag.String("enclave-url", "", "Enclave proof service URL, empty starts an insecure local enclave")
		storePath   = flag.String("store", "", "bbolt database path, empty keeps state in memory")
		postgresDSN = flag.String("postgres-dsn", "", "PostgreSQL connection string, overrides --store")
		walletKey   = flag.String("wallet-key", "", "Fee payer Ed25519 key (hex, generates if empty)")
		identityKey = flag.String("identity-key", "", "Response signing Ed25519 key (hex, generates if empty)")
		adminToken  = flag.String("admin-token", "", "Admin token for the registry (user:pass)")
		corsOrigins = flag.String("cors-origins", "*", "Comma separated origins allowed to call the relayer")
		logJSON     = flag.Bool("log-json", false, "Log in JSON")
		logLevel    = flag.String("log-level", "", "Log level: debug, info, warn or error")
		pprof       = flag.Bool("pprof", false, "Serve /debug/pprof")
	)
	flag.Parse()

	cfg := common.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = common.LoadConfig(*configPath)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	override(&cfg.HTTPAddr, *addr)
	override(&cfg.MetricsAddr, *metricsAddr)
	override(&cfg.LedgerURL, *ledgerURL)
	override(&cfg.EnclaveURL, *enclaveURL)
	override(&cfg.StorePath, *storePath)
	override(&cfg.PostgresDSN, *postgresDSN)
	override(&cfg.Keys.WalletKey, *walletKey)
	override(&cfg.Keys.IdentityKey, *identityKey)
	override(&cfg.AdminToken, *adminToken)
	override(&cfg.Log.Level, *logLevel)
	if *logJSON {
		cfg.Log.JSON = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, strings.Split(*corsOrigins, ","), *pprof); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func override(dst *string, flagValue string) {
	if flagValue != "" {
		*dst = flagValue
	}
}

func run(ctx context.Context, cfg *common.Config, corsOrigins []string, pprof bool) error {
	logger, err := common.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	pcfg := &cfg.Protocol
	program, err := ledger.ParseAddress(pcfg.ProgramID)
	if err != nil {
		return fmt.Errorf("program id: %w", err)
	}

	st, err := common.OpenStore(cfg.StorePath, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	walletPriv, err := common.LoadOrGenerateSigningKey(cfg.Keys.WalletKey)
	if err != nil {
		return fmt.Errorf("wallet key: %w", err)
	}
	wallet, err := ledger.NewKeypairWallet(walletPriv)
	if err != nil {
		return err
	}
	identity, err := common.LoadOrGenerateSigningKey(cfg.Keys.IdentityKey)
	if err != nil {
		return fmt.Errorf("identity key: %w", err)
	}

	var registrars []httpserver.RouteRegistrar

	var (
		client ledger.Client
		devnet *memledger.Ledger
	)
	if cfg.LedgerURL == "" {
		devnet, err = memledger.New(st, memledger.Config{
			Program:     program,
			ProofMaxAge: pcfg.ProofMaxAge,
		}, memledger.WithLogger(logger.With("component", "devnet")))
		if err != nil {
			return fmt.Errorf("devnet ledger: %w", err)
		}
		client = devnet
		registrars = append(registrars, ledgerrpc.NewServer(devnet, devnet, logger))
		logger.Warn("hosting devnet ledger", "program", program.String())
	} else {
		client = ledgerrpc.NewClient(cfg.LedgerURL, 0)
	}
	submitter := ledger.NewSubmitter(client, pcfg, protocol.SystemClock{}, logger)

	provider, err := common.NewAttestationProvider(cfg.Attestation)
	if err != nil {
		return err
	}
	measurements, err := common.NewMeasurementSource(cfg.Attestation.MeasurementsURL)
	if err != nil {
		return err
	}
	registry, err := services.NewRegistry(ctx, &services.RegistryConfig{
		MeasurementSource:   measurements,
		AttestationProvider: provider,
		AdminToken:          cfg.AdminToken,
	}, st, logger.With("component", "registry"))
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	registrars = append(registrars, registry)

	var prover relayer.Prover
	if cfg.EnclaveURL != "" {
		remote, err := remoteProver(ctx, cfg.EnclaveURL, measurements, provider, registry)
		if err != nil {
			return err
		}
		if devnet != nil {
			devnet.TrustEnclave(remote.EnclaveKey(), remote.Measurement())
		}
		prover = remote
	} else {
		enclaveRoutes, localProver, err := startLocalEnclave(ctx, cfg, client, devnet, submitter, m, registry, logger)
		if err != nil {
			return err
		}
		registrars = append(registrars, enclaveRoutes)
		prover = localProver
	}

	relay, err := relayer.NewServer(pcfg, client, wallet, identity, prover, st,
		relayer.WithLogger(logger.With("component", "relayer")),
		relayer.WithMetrics(m),
		relayer.WithSubmitter(submitter),
		relayer.WithCORSOrigins(corsOrigins...),
	)
	if err != nil {
		return fmt.Errorf("create relayer: %w", err)
	}
	registrars = append(registrars, relay)
	logger.Info("relayer ready",
		"relayerKey", relay.PublicKey().String(),
		"feePayer", wallet.Address().String())

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.HTTPAddr,
		MetricsAddr:              cfg.MetricsAddr,
		Gatherer:                 reg,
		EnablePprof:              pprof,
		Log:                      logger,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             pcfg.ConfirmTimeout + 15*time.Second,
	}, registrars...)
	if err != nil {
		return err
	}
	srv.RunInBackground()

	<-ctx.Done()
	logger.Info("shutting down")
	srv.Shutdown()
	return nil
}

// remoteProver verifies the attested identity of the enclave at enclaveURL,
// records it in the registry and pins its key and measurement.
func remoteProver(ctx context.Context, enclaveURL string, source services.MeasurementSource, provider services.TEEProvider, registry *services.Registry) (*executor.RemoteProver, error) {
	signed, err := common.FetchEnclaveInfo(ctx, enclaveURL)
	if err != nil {
		return nil, err
	}
	measurement, err := services.VerifyEnclaveInfo(ctx, source, provider, signed)
	if err != nil {
		return nil, fmt.Errorf("enclave rejected: %w", err)
	}
	key, err := signed.Object.ParseSigningKey()
	if err != nil {
		return nil, err
	}
	if _, err := registry.Register(ctx, signed); err != nil {
		return nil, err
	}
	return executor.NewRemoteProver(enclaveURL, key, measurement, 0), nil
}

// startLocalEnclave runs an insecure enclave and its executor in process.
// A devnet ledger is told to trust it.
func startLocalEnclave(ctx context.Context, cfg *common.Config, client ledger.Client, devnet *memledger.Ledger,
	submitter *ledger.Submitter, m *metrics.Metrics, registry *services.Registry, logger *slog.Logger,
) (*executor.Server, relayer.Prover, error) {
	log := logger.With("component", "enclave")
	enclave, err := teeproof.NewInsecureTestEnclave(log, protocol.SystemClock{})
	if err != nil {
		return nil, nil, err
	}
	if devnet != nil {
		devnet.TrustEnclave(enclave.SigningKey(), enclave.Measurement())
	} else {
		log.Warn("the ledger does not know the insecure enclave, TEE proofs will be rejected")
	}

	info, err := enclave.Info(advertisedURL(cfg.HTTPAddr))
	if err != nil {
		return nil, nil, err
	}
	if _, err := registry.Register(ctx, info); err != nil {
		log.Warn("local enclave not registered", "err", err)
	}

	enclaveWallet, err := enclave.Wallet()
	if err != nil {
		return nil, nil, err
	}
	ex, err := executor.New(&cfg.Protocol, client, enclave, enclaveWallet,
		executor.WithSubmitter(submitter),
		executor.WithMetrics(m),
		executor.WithLogger(log),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create executor: %w", err)
	}
	go func() {
		if err := ex.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("executor stopped", "err", err)
		}
	}()
	log.Warn("running insecure local enclave", "executor", ex.Address().String())

	srv, err := executor.NewServer(&cfg.Protocol, client, enclave, info, log)
	if err != nil {
		return nil, nil, err
	}
	return srv, enclave, nil
}

func advertisedURL(listenAddr string) string {
	if strings.HasPrefix(listenAddr, ":") {
		return "http://localhost" + listenAddr
	}
	return "http://" + listenAddr
}
