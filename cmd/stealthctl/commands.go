package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/WaveTek-co/WaveSwap-sub000/claim"
	"github.com/WaveTek-co/WaveSwap-sub000/cmd/common"
	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/registration"
	"github.com/WaveTek-co/WaveSwap-sub000/scanner"
	"github.com/WaveTek-co/WaveSwap-sub000/send"
	"github.com/WaveTek-co/WaveSwap-sub000/services"
	"github.com/WaveTek-co/WaveSwap-sub000/stealth"
)

func (a *app) walletCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "wallet", Short: "Manage the local wallet key"}

	var force bool
	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a wallet key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.wallet(ctx); err == nil && !force {
				return errors.New("a wallet already exists, use --force to replace it")
			}
			_, priv, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			w, err := ledger.NewKeypairWallet(priv)
			if err != nil {
				return err
			}
			if err := a.st.Put(ctx, localBucket, walletKey, priv.Bytes()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), w.Address().String())
			return nil
		},
	}
	newCmd.Flags().BoolVar(&force, "force", false, "replace the existing wallet")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the wallet address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := a.wallet(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), w.Address().String())
			return nil
		},
	}

	cmd.AddCommand(newCmd, showCmd)
	return cmd
}

func (a *app) airdropCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "airdrop <amount>",
		Short: "Fund the wallet from a devnet faucet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			w, err := a.wallet(cmd.Context())
			if err != nil {
				return err
			}
			return a.client.Airdrop(cmd.Context(), w.Address(), amount)
		},
	}
}

func (a *app) balanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Print the balance of the wallet or of an address",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr ledger.Address
			if len(args) == 1 {
				var err error
				if addr, err = ledger.ParseAddress(args[0]); err != nil {
					return err
				}
			} else {
				w, err := a.wallet(cmd.Context())
				if err != nil {
					return err
				}
				addr = w.Address()
			}
			balance, err := a.client.GetBalance(cmd.Context(), addr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), balance)
			return nil
		},
	}
}

func (a *app) keysCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "Inspect and create stealth keys"}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the published stealth keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := a.publishedKeys(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "spend:  %x\n", keys.SpendPub)
			fmt.Fprintf(out, "view:   %x\n", keys.ViewPub)
			if keys.Hybrid() {
				fmt.Fprintf(out, "hybrid: %d byte meta-address\n", len(keys.MetaAddress))
			}
			return nil
		},
	}

	var force bool
	hybridCmd := &cobra.Command{
		Use:   "hybrid",
		Short: "Generate a post-quantum hybrid key bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			existing, err := a.bundle(ctx)
			if err != nil {
				return err
			}
			if existing != nil && !force {
				return errors.New("a hybrid bundle already exists, use --force to replace it")
			}
			b, err := stealth.GenerateHybridBundle(rand.Reader)
			if err != nil {
				return err
			}
			raw, err := b.MarshalBinary()
			if err != nil {
				return err
			}
			if err := a.st.Put(ctx, localBucket, bundleKey, raw); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "hybrid bundle stored, run `stealthctl register --hybrid` to publish it")
			return nil
		},
	}
	hybridCmd.Flags().BoolVar(&force, "force", false, "replace the existing bundle")

	cmd.AddCommand(showCmd, hybridCmd)
	return cmd
}

// publishedKeys returns the keys register would publish.
func (a *app) publishedKeys(cmd *cobra.Command) (*registration.RecipientKeys, error) {
	ctx := cmd.Context()
	b, err := a.bundle(ctx)
	if err != nil {
		return nil, err
	}
	if b != nil {
		keys := registration.KeysFromBundle(b)
		return &keys, nil
	}
	w, err := a.wallet(ctx)
	if err != nil {
		return nil, err
	}
	kp, err := stealth.DeriveKeysFromWallet(ctx, w)
	if err != nil {
		return nil, err
	}
	keys := registration.KeysFromPair(kp)
	return &keys, nil
}

func (a *app) registerCommand() *cobra.Command {
	var hybrid bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Publish the stealth keys in the wallet's registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := a.wallet(ctx)
			if err != nil {
				return err
			}
			keys, err := a.publishedKeys(cmd)
			if err != nil {
				return err
			}
			if hybrid && !keys.Hybrid() {
				return errors.New("no hybrid bundle, run `stealthctl keys hybrid` first")
			}
			uploader, err := registration.NewUploader(&a.cfg.Protocol, a.client,
				registration.WithLogger(a.logger), registration.WithSubmitter(a.submitter))
			if err != nil {
				return err
			}
			res, err := uploader.Register(ctx, w, *keys)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "registry %s finalized in %d chunks", res.Registry, res.Chunks)
			if res.ResumedAt > 0 {
				fmt.Fprintf(out, ", resumed at offset %d", res.ResumedAt)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&hybrid, "hybrid", false, "require the hybrid bundle to be published")
	return cmd
}

func (a *app) orchestrator() (*send.Orchestrator, error) {
	opts := []send.Option{
		send.WithStore(a.st),
		send.WithLogger(a.logger),
		send.WithSubmitter(a.submitter),
	}
	rc, err := a.relayerClient()
	if err != nil {
		return nil, err
	}
	if rc != nil {
		opts = append(opts, send.WithRelayer(rc))
	}
	return send.New(&a.cfg.Protocol, a.client, opts...)
}

func (a *app) sendCommand() *cobra.Command {
	var (
		to          string
		amount      uint64
		tier        string
		executorURL string
		asset       string
		deadline    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Pay the owner of a registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t, err := send.ParseTier(tier)
			if err != nil {
				return err
			}
			owner, err := ledger.ParseAddress(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			w, err := a.wallet(ctx)
			if err != nil {
				return err
			}
			o, err := a.orchestrator()
			if err != nil {
				return err
			}

			req := send.Request{Tier: t, Wallet: w, RecipientOwner: owner, Amount: amount, Asset: asset}
			if deadline > 0 {
				req.Deadline = time.Now().Add(deadline)
			}
			if t == send.TierTeeRelayed {
				if executorURL == "" {
					return errors.New("--executor-url is required for the tee-relayed tier")
				}
				info, err := a.verifiedEnclave(cmd, executorURL)
				if err != nil {
					return err
				}
				req.Executor = info
			}

			rec, err := o.Send(ctx, req)
			var fundsSafe *protocol.FundsSafeError
			if errors.As(err, &fundsSafe) {
				fmt.Fprintf(cmd.ErrOrStderr(), "funds are safe, resume with `stealthctl retry %x`\n", fundsSafe.Nonce)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "nonce:   %x\n", rec.Nonce)
			fmt.Fprintf(out, "vault:   %s\n", rec.Vault)
			fmt.Fprintf(out, "amount:  %d (%s, %s)\n", rec.Amount, rec.Tier, kindName(rec.Kind))
			for _, sig := range rec.Signatures {
				fmt.Fprintf(out, "tx:      %s\n", sig)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "registry owner address of the recipient")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to send")
	cmd.Flags().StringVar(&tier, "tier", send.TierDirect.String(), "privacy tier: direct, mixer or tee-relayed")
	cmd.Flags().StringVar(&executorURL, "executor-url", "", "enclave proof service of the tee-relayed tier")
	cmd.Flags().StringVar(&asset, "asset", protocol.NativeAsset, "asset to send")
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "give up when the payment takes longer")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("amount")
	return cmd
}

// verifiedEnclave fetches the enclave identity and checks its attestation.
func (a *app) verifiedEnclave(cmd *cobra.Command, url string) (*services.EnclaveInfo, error) {
	signed, err := common.FetchEnclaveInfo(cmd.Context(), url)
	if err != nil {
		return nil, err
	}
	provider, err := common.NewAttestationProvider(a.cfg.Attestation)
	if err != nil {
		return nil, err
	}
	source, err := common.NewMeasurementSource(a.cfg.Attestation.MeasurementsURL)
	if err != nil {
		return nil, err
	}
	if _, err := services.VerifyEnclaveInfo(cmd.Context(), source, provider, signed); err != nil {
		return nil, fmt.Errorf("enclave attestation: %w", err)
	}
	return signed.Object, nil
}

func kindName(k stealth.Kind) string {
	if k == stealth.Hybrid {
		return "hybrid"
	}
	return "classical"
}

func (a *app) scan(cmd *cobra.Command) ([]*scanner.Match, error) {
	ctx := cmd.Context()
	w, err := a.wallet(ctx)
	if err != nil {
		return nil, err
	}
	r, err := a.recipient(ctx, w)
	if err != nil {
		return nil, err
	}
	s, err := scanner.New(&a.cfg.Protocol, a.client, r, a.st, scanner.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	return s.ScanOnce(ctx)
}

func (a *app) scanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List the funded payments addressed to this wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			matches, err := a.scan(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range matches {
				fmt.Fprintf(out, "%x %s %d\n", m.Nonce, m.Vault, m.Balance)
			}
			if len(matches) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no payments found")
			}
			return nil
		},
	}
}

func (a *app) claimCommand() *cobra.Command {
	var (
		dest    string
		private bool
		only    string
	)
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim the funded payments addressed to this wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := a.wallet(ctx)
			if err != nil {
				return err
			}
			var destination ledger.Address
			if dest != "" {
				if destination, err = ledger.ParseAddress(dest); err != nil {
					return fmt.Errorf("--dest: %w", err)
				}
			}
			var filter *[32]byte
			if only != "" {
				nonce, err := parseNonce(only)
				if err != nil {
					return err
				}
				filter = &nonce
			}

			opts := []claim.Option{claim.WithLogger(a.logger), claim.WithSubmitter(a.submitter)}
			if private {
				rc, err := a.relayerClient()
				if err != nil {
					return err
				}
				if rc == nil {
					return protocol.ErrNoRelayer
				}
				opts = append(opts, claim.WithRelayer(rc))
			}
			claimer, err := claim.New(&a.cfg.Protocol, a.client, opts...)
			if err != nil {
				return err
			}

			matches, err := a.scan(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			claimed := 0
			for _, m := range matches {
				if filter != nil && m.Nonce != *filter {
					continue
				}
				res, err := claimer.Claim(ctx, claim.Request{Match: m, Destination: destination, Wallet: w})
				if err != nil {
					return fmt.Errorf("claim %x: %w", m.Nonce, err)
				}
				if res.AlreadyClaimed {
					fmt.Fprintf(out, "%x already claimed\n", m.Nonce)
					continue
				}
				claimed++
				fmt.Fprintf(out, "%x claimed %d to %s (%s)\n", m.Nonce, res.Amount, res.Destination, res.Mode)
			}
			if claimed == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "nothing to claim")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "destination address (default the wallet)")
	cmd.Flags().BoolVar(&private, "private", false, "claim through the relayer so the wallet never appears on the ledger")
	cmd.Flags().StringVar(&only, "nonce", "", "claim only the payment with this nonce")
	return cmd
}

func (a *app) pendingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List payments waiting for their payout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			pending, err := o.Pending(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range pending {
				fmt.Fprintf(cmd.OutOrStdout(), "%x %s %d held at %s\n", p.Nonce, p.Tier, p.Amount, hex.EncodeToString(p.Holder[:]))
			}
			return nil
		},
	}
}

func (a *app) retryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <nonce>",
		Short: "Drive the payout of a pending payment again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nonce, err := parseNonce(args[0])
			if err != nil {
				return err
			}
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			rec, err := o.RetryExecution(cmd.Context(), nonce)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%x paid %d into %s\n", rec.Nonce, rec.Amount, rec.Vault)
			return nil
		},
	}
}

func (a *app) refundCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refund <nonce>",
		Short: "Take back an unpaid tee-relayed deposit after the refund delay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			nonce, err := parseNonce(args[0])
			if err != nil {
				return err
			}
			w, err := a.wallet(ctx)
			if err != nil {
				return err
			}
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			sig, err := o.Refund(ctx, w, nonce)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%x refunded in %s\n", nonce, sig)
			return nil
		},
	}
}
