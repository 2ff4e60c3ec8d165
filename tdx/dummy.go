package tdx

import (
	"bytes"
	"errors"
	"maps"
)

var ErrAttestationMismatch = errors.New("attestation mismatch")

// DummyMeasurements are the register values reported by a zero DummyProvider.
func DummyMeasurements() map[int][]byte {
	return map[int][]byte{
		RegisterMRTD:  {0},
		RegisterRTMR0: {1},
		RegisterRTMR1: {2},
		RegisterRTMR2: {3},
		RegisterRTMR3: {4},
	}
}

// DummyProvider echoes the report data as the attestation. It lets the
// registry and the executor run without TEE hardware.
type DummyProvider struct {
	// Measurements overrides DummyMeasurements when set.
	Measurements map[int][]byte
}

func (p *DummyProvider) AttestationType() string {
	return "dummy-tdx"
}

func (p *DummyProvider) Attest(reportData [64]byte) ([]byte, error) {
	return bytes.Clone(reportData[:]), nil
}

func (p *DummyProvider) Verify(attestationReport []byte, expectedReportData [64]byte) (map[int][]byte, error) {
	if !bytes.Equal(attestationReport, expectedReportData[:]) {
		return nil, ErrAttestationMismatch
	}
	if p.Measurements != nil {
		return maps.Clone(p.Measurements), nil
	}
	return DummyMeasurements(), nil
}
