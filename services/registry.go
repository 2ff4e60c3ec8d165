package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
)

// TEEProvider abstracts attestation generation and verification.
type TEEProvider interface {
	AttestationType() string
	Attest(reportData [64]byte) ([]byte, error)
	Verify(attestationReport []byte, expectedReportData [64]byte) (map[int][]byte, error)
}

// Measurements maps register indices to measurement values: 0 is MRTD, 1-4 are RTMR0-3.
type Measurements map[int][]byte

const enclavesBucket = "enclaves"

// RegistryConfig configures attestation checks and admin access.
type RegistryConfig struct {
	MeasurementSource   MeasurementSource
	AttestationProvider TEEProvider

	// AdminToken for the admin routes, as user:pass.
	AdminToken string
}

// Registry tracks attested enclave executors. Entries are persisted in the store.
type Registry struct {
	config *RegistryConfig
	store  store.Store
	logger *slog.Logger

	mu       sync.RWMutex
	enclaves map[string]*RegisteredEnclave
}

// NewRegistry creates a registry and loads previously registered enclaves.
func NewRegistry(ctx context.Context, config *RegistryConfig, st store.Store, logger *slog.Logger) (*Registry, error) {
	if config == nil {
		config = &RegistryConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		config:   config,
		store:    st,
		logger:   logger,
		enclaves: make(map[string]*RegisteredEnclave),
	}

	if st != nil {
		stored, err := store.ListObjects[RegisteredEnclave](ctx, st, enclavesBucket)
		if err != nil {
			return nil, fmt.Errorf("loading enclaves: %w", err)
		}
		for _, e := range stored {
			if e.Signed == nil || e.Signed.Object == nil {
				continue
			}
			r.enclaves[e.Signed.Object.SigningKey] = e
		}
	}
	return r, nil
}

// RegisterRoutes mounts the public routes, and the admin routes when an
// admin token is configured.
func (r *Registry) RegisterRoutes(router chi.Router) {
	r.RegisterPublicRoutes(router)
	if r.config.AdminToken != "" {
		r.RegisterAdminRoutes(router)
	}
}

// RegisterPublicRoutes mounts the enclave registration and discovery routes.
func (r *Registry) RegisterPublicRoutes(router chi.Router) {
	router.Post("/enclaves", r.handleRegister)
	router.Get("/enclaves", r.handleList)
}

// RegisterAdminRoutes mounts the admin routes under /admin, behind basic auth.
func (r *Registry) RegisterAdminRoutes(router chi.Router) {
	user, pass, _ := strings.Cut(r.config.AdminToken, ":")
	router.Route("/admin", func(admin chi.Router) {
		admin.Use(middleware.BasicAuth("enclave-registry", map[string]string{user: pass}))
		admin.Delete("/enclaves/{signing_key}", r.handleUnregister)
	})
}

// Register verifies and stores a signed enclave identity.
func (r *Registry) Register(ctx context.Context, signed *protocol.Signed[EnclaveInfo]) (*RegisteredEnclave, error) {
	info, signer, err := signed.Recover()
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	if signer.String() != info.SigningKey {
		return nil, errors.New("signer does not match claimed signing key")
	}
	if _, err := info.ParseSealingKey(); err != nil {
		return nil, err
	}

	entry := &RegisteredEnclave{Signed: signed}
	if r.config.AttestationProvider != nil {
		digest, err := VerifyEnclaveInfo(ctx, r.config.MeasurementSource, r.config.AttestationProvider, signed)
		if err != nil {
			return nil, fmt.Errorf("attestation verification failed: %w", err)
		}
		entry.MeasurementDigest = hex.EncodeToString(digest[:])
	}

	if r.store != nil {
		if err := store.PutObject(ctx, r.store, enclavesBucket, info.SigningKey, entry); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.enclaves[info.SigningKey] = entry
	r.mu.Unlock()

	r.logger.Info("registered enclave", "signingKey", info.SigningKey, "endpoint", info.Endpoint)
	return entry, nil
}

// Enclaves returns all registered enclaves.
func (r *Registry) Enclaves() []*RegisteredEnclave {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RegisteredEnclave, 0, len(r.enclaves))
	for _, e := range r.enclaves {
		out = append(out, e)
	}
	return out
}

func (r *Registry) handleRegister(w http.ResponseWriter, req *http.Request) {
	var signed protocol.Signed[EnclaveInfo]
	if err := json.NewDecoder(req.Body).Decode(&signed); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := r.Register(req.Context(), &signed)
	if err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	json.NewEncoder(w).Encode(&EnclaveRegistrationResponse{
		Success:           true,
		SigningKey:        signed.Object.SigningKey,
		MeasurementDigest: entry.MeasurementDigest,
	})
}

func (r *Registry) handleUnregister(w http.ResponseWriter, req *http.Request) {
	signingKey := chi.URLParam(req, "signing_key")

	if r.store != nil {
		if err := r.store.Delete(req.Context(), enclavesBucket, signingKey); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	r.mu.Lock()
	delete(r.enclaves, signingKey)
	r.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (r *Registry) handleList(w http.ResponseWriter, req *http.Request) {
	json.NewEncoder(w).Encode(&EnclaveListResponse{Enclaves: r.Enclaves()})
}

// ReportDataForEnclave computes the attestation report data binding the enclave identity.
func ReportDataForEnclave(signingKey, sealingKey, endpoint string) []byte {
	hash := sha256.New()
	hash.Write([]byte(signingKey))
	hash.Write([]byte(sealingKey))
	hash.Write([]byte(endpoint))
	return hash.Sum(nil)
}

// AttestEnclave generates attestation evidence for an enclave identity.
func AttestEnclave(attestationProvider TEEProvider, info *EnclaveInfo) ([]byte, error) {
	if attestationProvider == nil {
		return nil, nil
	}
	var reportData [64]byte
	copy(reportData[:], ReportDataForEnclave(info.SigningKey, info.SealingKey, info.Endpoint))
	return attestationProvider.Attest(reportData)
}

// VerifyEnclaveInfo checks the signature, attestation and allowed measurements
// of a signed enclave identity and returns its measurement digest.
func VerifyEnclaveInfo(ctx context.Context, source MeasurementSource, attestationProvider TEEProvider, signed *protocol.Signed[EnclaveInfo]) ([32]byte, error) {
	var digest [32]byte

	info, signer, err := signed.Recover()
	if err != nil {
		return digest, err
	}
	if signer.String() != info.SigningKey {
		return digest, errors.New("pubkey mismatch")
	}

	if attestationProvider == nil {
		return digest, errors.New("no attestation provider")
	}
	if len(info.Attestation) == 0 {
		return digest, errors.New("no attestation data")
	}

	var reportData [64]byte
	copy(reportData[:], ReportDataForEnclave(info.SigningKey, info.SealingKey, info.Endpoint))
	measurements, err := attestationProvider.Verify(info.Attestation, reportData)
	if err != nil {
		return digest, fmt.Errorf("could not verify attestation: %w", err)
	}

	if source != nil {
		allowed, err := source.AllowedBuilds(ctx)
		if err != nil {
			return digest, fmt.Errorf("could not fetch allowed builds: %w", err)
		}

		if _, err := VerifyMeasurementsMatch(allowed, measurements); err != nil {
			return digest, fmt.Errorf("attestation is not allowed: %w", err)
		}
	}

	return MeasurementDigest(measurements), nil
}

// SignEnclaveInfo attests and signs an enclave identity for registration.
func SignEnclaveInfo(signingKey crypto.PrivateKey, sealingKey crypto.KemPublicKey, endpoint string, provider TEEProvider) (*protocol.Signed[EnclaveInfo], error) {
	pub, err := signingKey.PublicKey()
	if err != nil {
		return nil, err
	}
	info := &EnclaveInfo{
		SigningKey: pub.String(),
		SealingKey: hex.EncodeToString(sealingKey[:]),
		Endpoint:   endpoint,
	}
	info.Attestation, err = AttestEnclave(provider, info)
	if err != nil {
		return nil, fmt.Errorf("attesting enclave: %w", err)
	}
	return protocol.NewSigned(signingKey, info)
}
