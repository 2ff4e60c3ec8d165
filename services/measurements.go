package services

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/tdx"
)

// ErrBuildNotAllowed is returned when an attested enclave runs no allowed
// executor build.
var ErrBuildNotAllowed = errors.New("enclave build is not allowed")

// registerIndex maps published register names to measurement indices.
var registerIndex = map[string]int{
	"mrtd":  tdx.RegisterMRTD,
	"rtmr0": tdx.RegisterRTMR0,
	"rtmr1": tdx.RegisterRTMR1,
	"rtmr2": tdx.RegisterRTMR2,
	"rtmr3": tdx.RegisterRTMR3,
}

// ExecutorBuild is a released executor image that may sign TEE proofs.
// Registers holds the expected hex value of each pinned register; registers
// left out are not checked.
//
//	- version: waveswap-executor-v0.3.1
//	  registers:
//	    mrtd: "a1b2..."
//	    rtmr1: "c3d4..."
type ExecutorBuild struct {
	Version   string            `json:"version" yaml:"version"`
	Registers map[string]string `json:"registers" yaml:"registers"`
}

// Measurements decodes the pinned registers.
func (b *ExecutorBuild) Measurements() (Measurements, error) {
	if len(b.Registers) == 0 {
		return nil, fmt.Errorf("build %q pins no registers", b.Version)
	}
	out := make(Measurements, len(b.Registers))
	for name, value := range b.Registers {
		idx, ok := registerIndex[name]
		if !ok {
			return nil, fmt.Errorf("build %q: unknown register %q", b.Version, name)
		}
		raw, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("build %q: register %s: %w", b.Version, name, err)
		}
		out[idx] = raw
	}
	return out, nil
}

// Matches reports whether every pinned register equals the attested value.
func (b *ExecutorBuild) Matches(actual Measurements) bool {
	pinned, err := b.Measurements()
	if err != nil {
		return false
	}
	for idx, want := range pinned {
		got, ok := actual[idx]
		if !ok || !bytes.Equal(got, want) {
			return false
		}
	}
	return true
}

// BuildAllowlist is the set of executor builds a deployment accepts.
type BuildAllowlist []ExecutorBuild

// Validate checks every build decodes.
func (l BuildAllowlist) Validate() error {
	for i := range l {
		if _, err := l[i].Measurements(); err != nil {
			return err
		}
	}
	return nil
}

// Digests returns the proof measurement digest of every build pinning all
// five registers. Partially pinned builds cannot be expressed as a digest
// and are skipped.
func (l BuildAllowlist) Digests() ([][32]byte, error) {
	out := make([][32]byte, 0, len(l))
	for i := range l {
		m, err := l[i].Measurements()
		if err != nil {
			return nil, err
		}
		if len(m) != len(registerIndex) {
			continue
		}
		out = append(out, MeasurementDigest(m))
	}
	return out, nil
}

// ParseBuildAllowlist decodes a YAML or JSON allow-list.
func ParseBuildAllowlist(data []byte) (BuildAllowlist, error) {
	var builds BuildAllowlist
	if err := yaml.Unmarshal(data, &builds); err != nil {
		return nil, fmt.Errorf("decoding build allow-list: %w", err)
	}
	if err := builds.Validate(); err != nil {
		return nil, err
	}
	return builds, nil
}

// LoadBuildAllowlist reads an allow-list file.
func LoadBuildAllowlist(path string) (BuildAllowlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBuildAllowlist(data)
}

// MeasurementSource provides the builds enclaves are checked against.
type MeasurementSource interface {
	AllowedBuilds(ctx context.Context) (BuildAllowlist, error)
}

// StaticMeasurementSource serves a fixed allow-list.
type StaticMeasurementSource struct {
	Builds BuildAllowlist
}

func NewStaticMeasurementSource(builds BuildAllowlist) *StaticMeasurementSource {
	return &StaticMeasurementSource{Builds: builds}
}

func (s *StaticMeasurementSource) AllowedBuilds(context.Context) (BuildAllowlist, error) {
	return s.Builds, nil
}

// DemoMeasurementSource accepts the registers reported by tdx.DummyProvider.
// Only for tests and devnets.
func DemoMeasurementSource() *StaticMeasurementSource {
	registers := make(map[string]string, len(registerIndex))
	dummy := tdx.DummyMeasurements()
	for name, idx := range registerIndex {
		registers[name] = hex.EncodeToString(dummy[idx])
	}
	return NewStaticMeasurementSource(BuildAllowlist{{
		Version:   "devnet-dummy-attestation",
		Registers: registers,
	}})
}

const (
	defaultAllowlistTTL  = time.Hour
	maxAllowlistBodySize = 1 << 20
)

// RemoteMeasurementSource polls a published allow-list. A fetched list is
// cached for TTL; when a refresh fails the previous list keeps being served.
type RemoteMeasurementSource struct {
	URL        string
	TTL        time.Duration
	HTTPClient *http.Client

	mu        sync.Mutex
	fetchedAt time.Time
	cached    BuildAllowlist
}

func NewRemoteMeasurementSource(url string) *RemoteMeasurementSource {
	return &RemoteMeasurementSource{
		URL:        url,
		TTL:        defaultAllowlistTTL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *RemoteMeasurementSource) AllowedBuilds(ctx context.Context) (BuildAllowlist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && time.Since(r.fetchedAt) < r.TTL {
		return r.cached, nil
	}

	builds, err := r.fetch(ctx)
	if err != nil {
		if r.cached != nil {
			return r.cached, nil
		}
		return nil, err
	}
	r.cached = builds
	r.fetchedAt = time.Now()
	return builds, nil
}

func (r *RemoteMeasurementSource) fetch(ctx context.Context) (BuildAllowlist, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching build allow-list: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAllowlistBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading build allow-list: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("build allow-list returned %d: %s", resp.StatusCode, body)
	}
	return ParseBuildAllowlist(body)
}

// VerifyMeasurementsMatch returns the first allowed build matching the
// attested registers.
func VerifyMeasurementsMatch(allowed BuildAllowlist, actual Measurements) (*ExecutorBuild, error) {
	for i := range allowed {
		if allowed[i].Matches(actual) {
			return &allowed[i], nil
		}
	}
	return nil, ErrBuildNotAllowed
}

// MeasurementDigest compresses a measurement set to the 32-byte value carried
// by TEE proofs: SHA3-256(MRTD ‖ RTMR0 ‖ RTMR1 ‖ RTMR2 ‖ RTMR3).
func MeasurementDigest(m Measurements) [32]byte {
	return crypto.SHA3(m[tdx.RegisterMRTD], m[tdx.RegisterRTMR0], m[tdx.RegisterRTMR1], m[tdx.RegisterRTMR2], m[tdx.RegisterRTMR3])
}

// AllowedMeasurementDigests returns the digests of the fully pinned builds of
// source, sorted.
func AllowedMeasurementDigests(ctx context.Context, source MeasurementSource) ([][32]byte, error) {
	builds, err := source.AllowedBuilds(ctx)
	if err != nil {
		return nil, err
	}
	digests, err := builds.Digests()
	if err != nil {
		return nil, err
	}
	sort.Slice(digests, func(i, j int) bool { return bytes.Compare(digests[i][:], digests[j][:]) < 0 })
	return digests, nil
}
