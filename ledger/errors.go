package ledger

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCode identifies a program rule violation.
type ErrorCode uint32

const (
	CodeAlreadyInitialized ErrorCode = iota + 1
	CodeAlreadyFinalized
	CodeInvalidOffset
	CodeIncomplete
	CodeNonceInUse
	CodeInsufficientFunds
	CodeInvalidProof
	CodeSessionReused
	CodeDepositConsumed
	CodeAlreadyClaimed
	CodeEmptyVault
	CodeInvalidClaim
	CodeUnauthorized
	CodeInvalidVault
	CodeInvalidInstruction
	CodeAccountNotFound
	CodeInjectedFailure
	CodeTargetMismatch
	CodeRefundLocked
)

var codeNames = map[ErrorCode]string{
	CodeAlreadyInitialized: "AlreadyInitialized",
	CodeAlreadyFinalized:   "AlreadyFinalized",
	CodeInvalidOffset:      "InvalidOffset",
	CodeIncomplete:         "Incomplete",
	CodeNonceInUse:         "NonceInUse",
	CodeInsufficientFunds:  "InsufficientFunds",
	CodeInvalidProof:       "InvalidProof",
	CodeSessionReused:      "SessionReused",
	CodeDepositConsumed:    "DepositConsumed",
	CodeAlreadyClaimed:     "AlreadyClaimed",
	CodeEmptyVault:         "EmptyVault",
	CodeInvalidClaim:       "InvalidClaim",
	CodeUnauthorized:       "Unauthorized",
	CodeInvalidVault:       "InvalidVault",
	CodeInvalidInstruction: "InvalidInstruction",
	CodeAccountNotFound:    "AccountNotFound",
	CodeInjectedFailure:    "InjectedFailure",
	CodeTargetMismatch:     "TargetMismatch",
	CodeRefundLocked:       "RefundLocked",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", uint32(c))
}

// ProgramError is a rule violation raised while executing instruction index Instruction.
type ProgramError struct {
	Code        ErrorCode
	Instruction int
	Msg         string
}

func (e *ProgramError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("instruction %d failed: %s", e.Instruction, e.Code)
	}
	return fmt.Sprintf("instruction %d failed: %s: %s", e.Instruction, e.Code, e.Msg)
}

// Is matches any *ProgramError with the same code.
func (e *ProgramError) Is(target error) bool {
	t, ok := target.(*ProgramError)
	return ok && t.Code == e.Code
}

// NewProgramError creates a program error for the given code.
func NewProgramError(code ErrorCode, format string, args ...any) *ProgramError {
	return &ProgramError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// HasCode reports whether err carries a program error with code.
func HasCode(err error, code ErrorCode) bool {
	var pe *ProgramError
	return errors.As(err, &pe) && pe.Code == code
}

// ErrTransient marks RPC failures that are worth retrying.
var ErrTransient = errors.New("transient ledger error")

// IsTransient reports whether err is likely transient: explicitly marked,
// a network timeout, or one of the usual connection failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var pe *ProgramError
	if errors.As(err, &pe) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	lowerErr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"temporary failure",
	"no route to host",
	"network is unreachable",
	"i/o timeout",
	"broken pipe",
	"too many requests",
}
