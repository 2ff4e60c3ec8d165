// Package tdx provides attestation providers for enclave executors running in
// Intel TDX confidential VMs, plus a dummy provider for tests and devnets.
package tdx

import (
	"fmt"
	"time"
)

// Register indices in the measurement maps returned by Verify.
const (
	RegisterMRTD = iota
	RegisterRTMR0
	RegisterRTMR1
	RegisterRTMR2
	RegisterRTMR3
)

// Provider is the attestation surface shared by all implementations.
// It is structurally identical to services.TEEProvider.
type Provider interface {
	AttestationType() string
	Attest(reportData [64]byte) ([]byte, error)
	Verify(attestationReport []byte, expectedReportData [64]byte) (map[int][]byte, error)
}

// Provider kinds accepted by NewProvider.
const (
	KindTDX    = "tdx"
	KindRemote = "remote"
	KindDummy  = "dummy"
)

// NewProvider selects a provider by kind. remoteURL is only used by KindRemote.
func NewProvider(kind, remoteURL string, timeout time.Duration) (Provider, error) {
	switch kind {
	case KindTDX:
		return &TDXProvider{}, nil
	case KindRemote:
		if remoteURL == "" {
			return nil, fmt.Errorf("remote attestation requires a url")
		}
		return NewRemoteDCAPProvider(remoteURL, timeout), nil
	case KindDummy, "":
		return &DummyProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown attestation provider %q", kind)
	}
}
