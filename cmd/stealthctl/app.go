package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/WaveTek-co/WaveSwap-sub000/cmd/common"
	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger/ledgerrpc"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/relayer"
	"github.com/WaveTek-co/WaveSwap-sub000/stealth"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
)

const (
	localBucket = "stealthctl"
	walletKey   = "wallet"
	bundleKey   = "hybrid-bundle"
)

// app holds the flags and the resources opened for one invocation.
type app struct {
	configPath string
	ledgerURL  string
	relayerURL string
	relayerKey string
	storePath  string
	logLevel   string
	logJSON    bool

	cfg       *common.Config
	logger    *slog.Logger
	st        store.Store
	client    *ledgerrpc.Client
	submitter *ledger.Submitter
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "stealthctl",
		Short:         "WaveSwap stealth payment wallet",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&a.ledgerURL, "ledger", "", "ledgerrpc endpoint (default http://localhost:8080)")
	flags.StringVar(&a.relayerURL, "relayer", "", "relayer URL")
	flags.StringVar(&a.relayerKey, "relayer-key", "", "relayer response signing key (hex)")
	flags.StringVar(&a.storePath, "store", "stealthctl.db", "local bbolt database")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&a.logJSON, "log-json", false, "log in JSON")

	cmd.AddCommand(
		a.walletCommand(),
		a.airdropCommand(),
		a.balanceCommand(),
		a.keysCommand(),
		a.registerCommand(),
		a.sendCommand(),
		a.scanCommand(),
		a.claimCommand(),
		a.pendingCommand(),
		a.retryCommand(),
		a.refundCommand(),
	)
	return cmd
}

func (a *app) open(cmd *cobra.Command) error {
	cfg := common.DefaultConfig()
	cfg.Log.Level = "warn"
	if a.configPath != "" {
		var err error
		if cfg, err = common.LoadConfig(a.configPath); err != nil {
			return err
		}
	}
	if a.ledgerURL != "" {
		cfg.LedgerURL = a.ledgerURL
	}
	if cfg.LedgerURL == "" {
		cfg.LedgerURL = "http://localhost:8080"
	}
	if a.relayerURL != "" {
		cfg.RelayerURL = a.relayerURL
	}
	if a.relayerKey != "" {
		cfg.RelayerKey = a.relayerKey
	}
	if a.storePath != "" {
		cfg.StorePath = a.storePath
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logJSON {
		cfg.Log.JSON = true
	}

	logger, err := common.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	st, err := common.OpenStore(cfg.StorePath, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.st = st
	a.client = ledgerrpc.NewClient(cfg.LedgerURL, 0)
	a.submitter = ledger.NewSubmitter(a.client, &cfg.Protocol, protocol.SystemClock{}, logger)
	return nil
}

func (a *app) close() error {
	if a.st == nil {
		return nil
	}
	return a.st.Close()
}

func (a *app) program() (ledger.Address, error) {
	return ledger.ParseAddress(a.cfg.Protocol.ProgramID)
}

func (a *app) wallet(ctx context.Context) (*ledger.KeypairWallet, error) {
	raw, err := a.st.Get(ctx, localBucket, walletKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.New("no wallet, run `stealthctl wallet new` first")
	}
	if err != nil {
		return nil, err
	}
	return ledger.NewKeypairWallet(crypto.NewPrivateKeyFromBytes(raw))
}

// bundle returns the stored hybrid bundle, or nil.
func (a *app) bundle(ctx context.Context) (*stealth.HybridBundle, error) {
	raw, err := a.st.Get(ctx, localBucket, bundleKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return stealth.UnmarshalHybridBundle(raw)
}

// recipient returns the receiving keys: the hybrid bundle when one exists,
// else the keys derived from the wallet.
func (a *app) recipient(ctx context.Context, w ledger.Wallet) (*stealth.Recipient, error) {
	b, err := a.bundle(ctx)
	if err != nil {
		return nil, err
	}
	if b != nil {
		return b.Recipient()
	}
	kp, err := stealth.DeriveKeysFromWallet(ctx, w)
	if err != nil {
		return nil, err
	}
	return kp.Recipient(), nil
}

// relayerClient returns a client for the configured relayer, or nil when no
// relayer is configured.
func (a *app) relayerClient() (*relayer.Client, error) {
	if a.cfg.RelayerURL == "" {
		return nil, nil
	}
	if a.cfg.RelayerKey == "" {
		return nil, errors.New("--relayer-key is required with --relayer")
	}
	key, err := crypto.NewPublicKeyFromString(a.cfg.RelayerKey)
	if err != nil {
		return nil, fmt.Errorf("relayer key: %w", err)
	}
	return relayer.NewClient(a.cfg.RelayerURL, key, 0), nil
}

func parseNonce(s string) ([32]byte, error) {
	var nonce [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nonce, fmt.Errorf("nonce: %w", err)
	}
	if len(raw) != len(nonce) {
		return nonce, fmt.Errorf("nonce must be 32 bytes, got %d", len(raw))
	}
	copy(nonce[:], raw)
	return nonce, nil
}
