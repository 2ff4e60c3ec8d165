// Package registration publishes a recipient's meta-address to its on-ledger
// registry account.
//
// A hybrid meta-address (1216 bytes) does not fit a single transaction, so it
// is uploaded in chunks of at most protocol.MaxChunkSize bytes, each in its
// own transaction. The registry records how many bytes were written, which
// lets an interrupted upload resume from the first unwritten offset. The
// registry is finalized after the last chunk and is immutable from then on.
package registration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WaveTek-co/WaveSwap-sub000/ledger"
	"github.com/WaveTek-co/WaveSwap-sub000/metrics"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/stealth"
)

// ErrConflictingRegistration means a partial registry exists with different keys or bytes.
var ErrConflictingRegistration = errors.New("registry in progress with different contents")

// RecipientKeys is what a recipient publishes: the classical spend and view
// keys and an optional hybrid meta-address.
type RecipientKeys struct {
	SpendPub    [32]byte
	ViewPub     [32]byte
	MetaAddress []byte
}

// Hybrid reports whether the recipient published a hybrid meta-address.
func (k *RecipientKeys) Hybrid() bool {
	return len(k.MetaAddress) == stealth.HybridMetaAddressSize
}

// KeysFromPair returns the classical keys of kp.
func KeysFromPair(kp *stealth.StealthKeyPair) RecipientKeys {
	return RecipientKeys{SpendPub: kp.SpendPub, ViewPub: kp.ViewPub}
}

// KeysFromBundle returns the keys of a hybrid bundle, meta-address included.
func KeysFromBundle(b *stealth.HybridBundle) RecipientKeys {
	return RecipientKeys{
		SpendPub:    b.Classical.SpendPub,
		ViewPub:     b.Classical.ViewPub,
		MetaAddress: b.MetaAddress(),
	}
}

// Segment is one chunk of a meta-address upload.
type Segment struct {
	Offset uint32
	Bytes  []byte
}

// Chunk splits payload into consecutive segments of at most size bytes.
func Chunk(payload []byte, size int) []Segment {
	if size <= 0 {
		size = protocol.MaxChunkSize
	}
	var out []Segment
	for off := 0; off < len(payload); off += size {
		end := min(off+size, len(payload))
		out = append(out, Segment{Offset: uint32(off), Bytes: payload[off:end]})
	}
	return out
}

// Result summarizes a Register call.
type Result struct {
	Registry   ledger.Address
	Signatures []ledger.Signature
	// ResumedAt is the offset the upload continued from, zero for a fresh registry.
	ResumedAt uint32
	Chunks    int
}

type options struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	submitter *ledger.Submitter
}

// Option configures an Uploader.
type Option func(*options)

func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithSubmitter overrides the submitter built from the config.
func WithSubmitter(s *ledger.Submitter) Option { return func(o *options) { o.submitter = s } }

// Uploader registers meta-addresses with resumable chunked uploads.
type Uploader struct {
	program   ledger.Address
	chunkSize int
	client    ledger.Client
	submitter *ledger.Submitter
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewUploader creates an uploader for the program in cfg.
func NewUploader(cfg *protocol.Config, client ledger.Client, opts ...Option) (*Uploader, error) {
	if cfg == nil {
		cfg = protocol.DefaultConfig()
	}
	program, err := ledger.ParseAddress(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id: %w", err)
	}
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewUnregistered()
	}
	if o.submitter == nil {
		o.submitter = ledger.NewSubmitter(client, cfg, nil, o.logger).WithMetrics(o.metrics)
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 || chunkSize > protocol.MaxChunkSize {
		chunkSize = protocol.MaxChunkSize
	}
	return &Uploader{
		program:   program,
		chunkSize: chunkSize,
		client:    client,
		submitter: o.submitter,
		logger:    o.logger,
		metrics:   o.metrics,
	}, nil
}

// Register uploads keys to the wallet owner's registry and finalizes it.
//
// A registry left unfinalized by an earlier call is resumed from its written
// offset, provided its keys and written bytes match. A finalized registry
// fails with protocol.ErrAlreadyRegistered without submitting anything.
func (u *Uploader) Register(ctx context.Context, wallet ledger.Wallet, keys RecipientKeys) (*Result, error) {
	owner, err := ledger.WalletAddress(wallet)
	if err != nil {
		return nil, err
	}
	if n := len(keys.MetaAddress); n != 0 && n != stealth.HybridMetaAddressSize {
		return nil, fmt.Errorf("meta-address must be empty or %d bytes, got %d", stealth.HybridMetaAddressSize, n)
	}

	registryAddr, _ := ledger.RegistryAddress(u.program, owner)
	res := &Result{Registry: registryAddr}
	log := u.logger.With("owner", owner.String())

	existing, err := fetchRegistry(ctx, u.client, registryAddr)
	if err != nil {
		return nil, err
	}

	var written uint32
	switch {
	case existing == nil:
		ix := ledger.InitRegistry(u.program, owner, keys.SpendPub, keys.ViewPub, uint32(len(keys.MetaAddress)))
		sig, err := u.submitter.SubmitInstructions(ctx, []ledger.Wallet{wallet}, ix)
		if err != nil {
			return nil, fmt.Errorf("init registry: %w", err)
		}
		res.Signatures = append(res.Signatures, sig)
		log.Info("registry created", "metaLen", len(keys.MetaAddress))
	case existing.Finalized:
		return nil, protocol.ErrAlreadyRegistered
	default:
		if err := checkResumable(existing, keys); err != nil {
			return nil, err
		}
		written = existing.Written
		res.ResumedAt = written
		log.Info("resuming registry upload", "written", written, "metaLen", existing.MetaLen)
	}

	segments := Chunk(keys.MetaAddress[written:], u.chunkSize)
	for i, seg := range segments {
		offset := written + seg.Offset
		ix, err := ledger.UploadChunk(u.program, owner, offset, seg.Bytes)
		if err != nil {
			return nil, err
		}
		ixs := []ledger.Instruction{ix}
		if i == len(segments)-1 {
			ixs = append(ixs, ledger.FinalizeRegistry(u.program, owner))
		}

		sig, err := u.submitter.SubmitInstructions(ctx, []ledger.Wallet{wallet}, ixs...)
		if err != nil {
			return res, fmt.Errorf("upload chunk at offset %d: %w", offset, err)
		}
		res.Signatures = append(res.Signatures, sig)
		res.Chunks++
		u.metrics.RegistrationChunks.Inc()
		log.Debug("chunk uploaded", "offset", offset, "size", len(seg.Bytes))
	}

	if len(segments) == 0 {
		sig, err := u.submitter.SubmitInstructions(ctx, []ledger.Wallet{wallet}, ledger.FinalizeRegistry(u.program, owner))
		if err != nil {
			return res, fmt.Errorf("finalize registry: %w", err)
		}
		res.Signatures = append(res.Signatures, sig)
	}

	log.Info("registry finalized", "chunks", res.Chunks, "resumedAt", res.ResumedAt)
	return res, nil
}

func checkResumable(r *ledger.Registry, keys RecipientKeys) error {
	if r.SpendPub != keys.SpendPub || r.ViewPub != keys.ViewPub || int(r.MetaLen) != len(keys.MetaAddress) {
		return ErrConflictingRegistration
	}
	if !bytes.Equal(r.MetaAddress(), keys.MetaAddress[:r.Written]) {
		return ErrConflictingRegistration
	}
	return nil
}

func fetchRegistry(ctx context.Context, client ledger.Client, addr ledger.Address) (*ledger.Registry, error) {
	acct, err := client.GetAccount(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("fetch registry: %w", err)
	}
	if acct == nil {
		return nil, nil
	}
	return ledger.DecodeRegistry(acct.Data)
}

// GetRegistry returns the finalized registry of owner, or protocol.ErrNotRegistered.
func GetRegistry(ctx context.Context, client ledger.Client, program, owner ledger.Address) (*ledger.Registry, error) {
	addr, _ := ledger.RegistryAddress(program, owner)
	r, err := fetchRegistry(ctx, client, addr)
	if err != nil {
		return nil, err
	}
	if r == nil || !r.Finalized {
		return nil, protocol.ErrNotRegistered
	}
	return r, nil
}

// ResolveRecipient returns the published keys of owner.
func ResolveRecipient(ctx context.Context, client ledger.Client, program, owner ledger.Address) (*RecipientKeys, error) {
	r, err := GetRegistry(ctx, client, program, owner)
	if err != nil {
		return nil, err
	}
	return &RecipientKeys{
		SpendPub:    r.SpendPub,
		ViewPub:     r.ViewPub,
		MetaAddress: bytes.Clone(r.MetaAddress()),
	}, nil
}
