package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WaveTek-co/WaveSwap-sub000/metrics"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
)

// Submitter signs, submits and confirms transactions with bounded retry.
type Submitter struct {
	client  Client
	cfg     *protocol.Config
	clock   protocol.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewSubmitter creates a submitter. A nil clock or logger selects the defaults.
func NewSubmitter(client Client, cfg *protocol.Config, clock protocol.Clock, logger *slog.Logger) *Submitter {
	if cfg == nil {
		cfg = protocol.DefaultConfig()
	}
	if clock == nil {
		clock = protocol.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{client: client, cfg: cfg, clock: clock, logger: logger, metrics: metrics.NewUnregistered()}
}

// WithMetrics makes the submitter record retries and confirmation latency in m.
func (s *Submitter) WithMetrics(m *metrics.Metrics) *Submitter {
	if m != nil {
		s.metrics = m
	}
	return s
}

// Config returns the submitter's configuration.
func (s *Submitter) Config() *protocol.Config { return s.cfg }

// Clock returns the submitter's clock.
func (s *Submitter) Clock() protocol.Clock { return s.clock }

// Client returns the underlying ledger client.
func (s *Submitter) Client() Client { return s.client }

// Submit sends a signed transaction, retrying transient failures with
// exponential backoff. Resubmitting the same signed transaction is safe since
// the ledger deduplicates by signature.
func (s *Submitter) Submit(ctx context.Context, tx *Transaction) (Signature, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxSubmitAttempts; attempt++ {
		if attempt > 0 {
			delay := Delay(s.cfg.RetryBaseDelay, s.cfg.RetryMaxDelay, DefaultJitter, attempt-1)
			select {
			case <-ctx.Done():
				return Signature{}, ctx.Err()
			case <-s.clock.After(delay):
			}
		}

		sig, err := s.client.SendTransaction(ctx, tx)
		if err == nil {
			return sig, nil
		}
		if !IsTransient(err) {
			return Signature{}, err
		}
		lastErr = err
		s.metrics.SubmitRetries.Inc()
		s.logger.Debug("transient submit failure", "attempt", attempt+1, "err", err)
	}
	return Signature{}, fmt.Errorf("%w after %d attempts: %v", protocol.ErrTemporarilyUnavailable, s.cfg.MaxSubmitAttempts, lastErr)
}

// Confirm polls the signature status until the transaction is confirmed,
// fails, or the confirmation timeout passes. A timeout or a cancelled context
// yields protocol.ErrConfirmationUnknown since the transaction may still land.
func (s *Submitter) Confirm(ctx context.Context, sig Signature) error {
	start := s.clock.Now()
	deadline := start.Add(s.cfg.ConfirmTimeout)
	for {
		status, err := s.client.GetSignatureStatus(ctx, sig)
		switch {
		case err != nil && ctx.Err() != nil:
			return fmt.Errorf("%w: %s: %w", protocol.ErrConfirmationUnknown, sig, ctx.Err())
		case err != nil && !IsTransient(err):
			return fmt.Errorf("signature status: %w", err)
		case err != nil:
			s.logger.Debug("transient status failure", "signature", sig.String(), "err", err)
		case status.Status == StatusConfirmed:
			s.metrics.TransactionLatency.Observe(s.clock.Now().Sub(start).Seconds())
			return nil
		case status.Status == StatusFailed:
			if status.Err == nil {
				return errors.New("transaction failed")
			}
			return status.Err
		}

		if !s.clock.Now().Before(deadline) {
			return fmt.Errorf("%w: %s", protocol.ErrConfirmationUnknown, sig)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", protocol.ErrConfirmationUnknown, sig, ctx.Err())
		case <-s.clock.After(s.cfg.ConfirmPollInterval):
		}
	}
}

// SignAndSubmit collects signatures from the wallets, submits and confirms.
// The signature is returned even when confirmation fails so callers can
// re-check the outcome.
func (s *Submitter) SignAndSubmit(ctx context.Context, tx *Transaction, signers ...Wallet) (Signature, error) {
	for _, w := range signers {
		if err := w.SignTransaction(ctx, tx); err != nil {
			return Signature{}, fmt.Errorf("sign transaction: %w", err)
		}
	}
	sig, err := s.Submit(ctx, tx)
	if err != nil {
		return Signature{}, err
	}
	return sig, s.Confirm(ctx, sig)
}

// SubmitInstructions builds a fresh transaction from instructions and runs SignAndSubmit.
func (s *Submitter) SubmitInstructions(ctx context.Context, signers []Wallet, instructions ...Instruction) (Signature, error) {
	tx, err := NewTransaction(instructions...)
	if err != nil {
		return Signature{}, err
	}
	return s.SignAndSubmit(ctx, tx, signers...)
}
