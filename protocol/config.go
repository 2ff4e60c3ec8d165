package protocol

import (
	"errors"
	"time"
)

// MaxChunkSize caps the payload of a single registration chunk transaction.
const MaxChunkSize = 800

// Config provides the tunables shared by the client components.
type Config struct {
	// ProgramID is the hex-encoded address of the on-ledger stealth program.
	ProgramID string `yaml:"program_id" json:"program_id"`

	// ChunkSize is the registration upload chunk size, at most MaxChunkSize.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`

	// ScanInterval is the period of the announcement scanner.
	ScanInterval time.Duration `yaml:"scan_interval" json:"scan_interval"`

	// ConfirmPollInterval is the delay between signature status polls.
	ConfirmPollInterval time.Duration `yaml:"confirm_poll_interval" json:"confirm_poll_interval"`

	// ConfirmTimeout bounds how long a submitted transaction is polled.
	ConfirmTimeout time.Duration `yaml:"confirm_timeout" json:"confirm_timeout"`

	// MaxSubmitAttempts bounds submission retries on transient errors.
	MaxSubmitAttempts int `yaml:"max_submit_attempts" json:"max_submit_attempts"`

	// RetryBaseDelay and RetryMaxDelay shape the exponential backoff.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" json:"retry_max_delay"`

	// TeePollInterval and TeeTimeout drive the TeeRelayed status poll.
	TeePollInterval time.Duration `yaml:"tee_poll_interval" json:"tee_poll_interval"`
	TeeTimeout      time.Duration `yaml:"tee_timeout" json:"tee_timeout"`

	// ProofMaxAge rejects TEE proofs older than this. Zero disables the check.
	ProofMaxAge time.Duration `yaml:"proof_max_age" json:"proof_max_age"`
}

// DefaultConfig returns the defaults used by the CLIs.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:           MaxChunkSize,
		ScanInterval:        10 * time.Second,
		ConfirmPollInterval: 500 * time.Millisecond,
		ConfirmTimeout:      60 * time.Second,
		MaxSubmitAttempts:   5,
		RetryBaseDelay:      500 * time.Millisecond,
		RetryMaxDelay:       10 * time.Second,
		TeePollInterval:     2 * time.Second,
		TeeTimeout:          2 * time.Minute,
		ProofMaxAge:         5 * time.Minute,
	}
}

// Validate checks the configuration for values that would break the protocol.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 || c.ChunkSize > MaxChunkSize {
		return errors.New("chunk_size must be between 1 and 800")
	}
	if c.ConfirmPollInterval <= 0 || c.ConfirmTimeout <= 0 {
		return errors.New("confirmation poll interval and timeout must be positive")
	}
	if c.MaxSubmitAttempts <= 0 {
		return errors.New("max_submit_attempts must be positive")
	}
	return nil
}
