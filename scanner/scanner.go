// Package scanner finds the payments addressed to a recipient among the
// announcements published on the ledger.
//
// Each pass lists the finalized, unclaimed announcements, runs the one-byte
// view tag prefilter and, for the few that pass it, the full stealth key
// derivation. Confirmed matches are cached in the injected store so later
// passes do not derive them again.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/metrics"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/stealth"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
)

// MatchesBucket is the store bucket of confirmed matches, keyed by announcement address.
const MatchesBucket = "scanner-matches"

const matchesBuffer = 64

// State is the scanner activity.
type State int32

const (
	Idle State = iota
	Scanning
)

func (s State) String() string {
	if s == Scanning {
		return "scanning"
	}
	return "idle"
}

// Match is a funded payment the recipient can claim.
type Match struct {
	stealth.Match

	Announcement ledger.Address
	Vault        ledger.Address
	Nonce        [32]byte
	Kind         ledger.AnnouncementKind
	// Amount is the value recorded at funding time, Balance the vault balance
	// seen by the last pass.
	Amount  uint64
	Balance uint64
}

type options struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   protocol.Clock
}

// Option configures a Scanner.
type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithClock sets the clock driving Run.
func WithClock(c protocol.Clock) Option { return func(o *options) { o.clock = c } }

// Scanner scans announcements for one recipient.
type Scanner struct {
	program   ledger.Address
	interval  time.Duration
	client    ledger.Client
	recipient *stealth.Recipient
	st        store.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     protocol.Clock

	passMu    sync.Mutex
	state     atomic.Int32
	triggerCh chan struct{}
	matchesCh chan *Match
}

// New creates a scanner. Confirmed matches, spending keys included, are
// cached in st, which must therefore be local to the recipient.
func New(cfg *protocol.Config, client ledger.Client, recipient *stealth.Recipient, st store.Store, opts ...Option) (*Scanner, error) {
	if cfg == nil {
		cfg = protocol.DefaultConfig()
	}
	if recipient == nil || recipient.View == nil {
		return nil, errors.New("scanner requires a recipient with a view key")
	}
	if st == nil {
		return nil, errors.New("scanner requires a store")
	}
	program, err := ledger.ParseAddress(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id: %w", err)
	}

	o := &options{logger: slog.Default(), clock: protocol.SystemClock{}}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewUnregistered()
	}
	interval := cfg.ScanInterval
	if interval <= 0 {
		interval = protocol.DefaultConfig().ScanInterval
	}

	return &Scanner{
		program:   program,
		interval:  interval,
		client:    client,
		recipient: recipient,
		st:        st,
		logger:    o.logger,
		metrics:   o.metrics,
		clock:     o.clock,
		triggerCh: make(chan struct{}, 1),
		matchesCh: make(chan *Match, matchesBuffer),
	}, nil
}

// State reports whether a pass is running.
func (s *Scanner) State() State { return State(s.state.Load()) }

// Matches delivers each match once, when it is first confirmed. Matches are
// dropped when the channel is full; ScanOnce and the cache still report them.
func (s *Scanner) Matches() <-chan *Match { return s.matchesCh }

// Trigger requests a pass from Run without waiting for the interval.
func (s *Scanner) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// Run scans immediately and then every interval until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	for {
		if _, err := s.ScanOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("scan pass failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.interval):
		case <-s.triggerCh:
			// drain
			select {
			case <-s.triggerCh:
			default:
			}
		}
	}
}

// ScanOnce runs one pass and returns every claimable match, previously
// cached ones included.
func (s *Scanner) ScanOnce(ctx context.Context) ([]*Match, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	s.state.Store(int32(Scanning))
	defer s.state.Store(int32(Idle))

	accounts, err := s.client.GetProgramAccounts(ctx, s.program, ledger.DiscAnnouncement)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	cached, err := s.cachedMatches(ctx)
	if err != nil {
		return nil, err
	}

	var out, fresh []*Match
	for _, ka := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ann, err := ledger.DecodeAnnouncement(ka.Account.Data)
		if err != nil {
			s.logger.Debug("skipping malformed announcement", "announcement", ka.Address.String(), "err", err)
			continue
		}
		key := ka.Address.String()

		if ann.Claimed {
			if _, ok := cached[key]; ok {
				if err := s.st.Delete(ctx, MatchesBucket, key); err != nil {
					return nil, err
				}
			}
			continue
		}
		if !ann.Finalized {
			continue
		}
		s.metrics.AnnouncementsExamined.Inc()

		if m, ok := cached[key]; ok {
			balance, err := s.client.GetBalance(ctx, m.Vault)
			if err != nil {
				return nil, fmt.Errorf("vault balance: %w", err)
			}
			if balance > 0 {
				m.Balance = balance
				out = append(out, m)
			}
			continue
		}

		m, err := s.examine(ctx, ka.Address, ann)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		if err := store.PutObject(ctx, s.st, MatchesBucket, key, m); err != nil {
			return nil, fmt.Errorf("cache match: %w", err)
		}
		s.metrics.ConfirmedMatches.Inc()
		s.logger.Info("payment found", "announcement", key, "amount", m.Amount)
		out = append(out, m)
		fresh = append(fresh, m)
	}

	s.metrics.ScanPasses.Inc()
	for _, m := range fresh {
		select {
		case s.matchesCh <- m:
		default:
			s.logger.Warn("matches channel full, dropping notification", "announcement", m.Announcement.String())
		}
	}
	return out, nil
}

// examine returns a match when the announcement pays this recipient into a
// funded vault, or nil.
func (s *Scanner) examine(ctx context.Context, addr ledger.Address, ann *ledger.Announcement) (*Match, error) {
	if !s.recipient.CheckTag(ann.Ephemeral, ann.ViewTag) {
		return nil, nil
	}
	s.metrics.ViewTagHits.Inc()

	sm, ok := s.recipient.Match(ann.StealthPub, ann.Ephemeral, ann.ViewTag)
	if !ok {
		return nil, nil
	}
	vault, _ := ledger.VaultAddress(s.program, sm.StealthPub)
	if vault != ann.Vault {
		s.logger.Warn("announcement vault does not match its stealth key", "announcement", addr.String())
		return nil, nil
	}
	balance, err := s.client.GetBalance(ctx, vault)
	if err != nil {
		return nil, fmt.Errorf("vault balance: %w", err)
	}
	if balance == 0 {
		return nil, nil
	}

	return &Match{
		Match:        *sm,
		Announcement: addr,
		Vault:        vault,
		Nonce:        ann.Nonce,
		Kind:         ann.Kind,
		Amount:       ann.Amount,
		Balance:      balance,
	}, nil
}

func (s *Scanner) cachedMatches(ctx context.Context) (map[string]*Match, error) {
	entries, err := s.st.List(ctx, MatchesBucket)
	if err != nil {
		return nil, fmt.Errorf("load cached matches: %w", err)
	}
	out := make(map[string]*Match, len(entries))
	for _, e := range entries {
		var m Match
		if err := store.Unmarshal(e.Value, &m); err != nil {
			return nil, fmt.Errorf("cached match %s: %w", e.Key, err)
		}
		out[e.Key] = &m
	}
	return out, nil
}
