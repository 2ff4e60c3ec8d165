package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/WaveTek-co/WaveSwap-sub000/crypto"
	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
	"github.com/WaveTek-co/WaveSwap-sub000/tdx"
)

func setupTestRegistry(t *testing.T, st store.Store) (*Registry, chi.Router) {
	t.Helper()

	config := &RegistryConfig{
		MeasurementSource:   DemoMeasurementSource(),
		AttestationProvider: &tdx.DummyProvider{},
		AdminToken:          "admin:secret",
	}

	registry, err := NewRegistry(context.Background(), config, st, nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	registry.RegisterPublicRoutes(r)
	registry.RegisterAdminRoutes(r)

	return registry, r
}

func createSignedEnclave(t *testing.T, endpoint string) (*protocol.Signed[EnclaveInfo], crypto.PrivateKey) {
	t.Helper()

	_, privKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	sealPub, _, err := crypto.GenerateKemKeyPair()
	require.NoError(t, err)

	signed, err := SignEnclaveInfo(privKey, sealPub, endpoint, &tdx.DummyProvider{})
	require.NoError(t, err)

	return signed, privKey
}

func postEnclave(t *testing.T, router chi.Router, signed *protocol.Signed[EnclaveInfo]) *httptest.ResponseRecorder {
	body, err := json.Marshal(signed)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/enclaves", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRegistry_Registration(t *testing.T) {
	_, router := setupTestRegistry(t, store.NewMemoryStore())

	signed, _ := createSignedEnclave(t, "http://localhost:9000")
	w := postEnclave(t, router, signed)
	require.Equal(t, http.StatusOK, w.Code)

	var resp EnclaveRegistrationResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.True(t, resp.Success)
	require.Equal(t, signed.Object.SigningKey, resp.SigningKey)

	digests, err := AllowedMeasurementDigests(context.Background(), DemoMeasurementSource())
	require.NoError(t, err)
	require.Equal(t, digests[0][:], mustHex(t, resp.MeasurementDigest))
}

func TestRegistry_InvalidSignature(t *testing.T) {
	_, router := setupTestRegistry(t, nil)

	signed, _ := createSignedEnclave(t, "http://localhost:9000")
	signed.Signature[0] ^= 0xFF

	w := postEnclave(t, router, signed)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRegistry_AttestationMismatch(t *testing.T) {
	_, router := setupTestRegistry(t, nil)

	_, privKey, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	sealPub, _, err := crypto.GenerateKemKeyPair()
	require.NoError(t, err)

	// Attestation bound to a different endpoint than the one claimed.
	signed, err := SignEnclaveInfo(privKey, sealPub, "http://localhost:9000", &tdx.DummyProvider{})
	require.NoError(t, err)
	signed.Object.Endpoint = "http://evil:9000"
	signed, err = protocol.NewSigned(privKey, signed.Object)
	require.NoError(t, err)

	w := postEnclave(t, router, signed)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRegistry_MeasurementNotAllowed(t *testing.T) {
	config := &RegistryConfig{
		MeasurementSource: NewStaticMeasurementSource(BuildAllowlist{{
			Version:   "release",
			Registers: map[string]string{"mrtd": "ff"},
		}}),
		AttestationProvider: &tdx.DummyProvider{},
	}
	registry, err := NewRegistry(context.Background(), config, nil, nil)
	require.NoError(t, err)

	signed, _ := createSignedEnclave(t, "http://localhost:9000")
	_, err = registry.Register(context.Background(), signed)
	require.ErrorContains(t, err, "not allowed")
}

func TestRegistry_ListAndPersistence(t *testing.T) {
	st := store.NewMemoryStore()
	_, router := setupTestRegistry(t, st)

	signed, _ := createSignedEnclave(t, "http://localhost:9000")
	require.Equal(t, http.StatusOK, postEnclave(t, router, signed).Code)

	req := httptest.NewRequest("GET", "/enclaves", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp EnclaveListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Enclaves, 1)

	info, err := VerifyEnclaveInfo(context.Background(), DemoMeasurementSource(), &tdx.DummyProvider{}, resp.Enclaves[0].Signed)
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, info)

	// A new registry on the same store sees the enclave.
	reloaded, err := NewRegistry(context.Background(), &RegistryConfig{}, st, nil)
	require.NoError(t, err)
	require.Len(t, reloaded.Enclaves(), 1)
}

func TestRegistry_AdminUnregister(t *testing.T) {
	registry, router := setupTestRegistry(t, store.NewMemoryStore())

	signed, _ := createSignedEnclave(t, "http://localhost:9000")
	require.Equal(t, http.StatusOK, postEnclave(t, router, signed).Code)

	path := "/admin/enclaves/" + signed.Object.SigningKey

	req := httptest.NewRequest("DELETE", path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest("DELETE", path, nil)
	req.SetBasicAuth("admin", "wrongpassword")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest("DELETE", path, nil)
	req.SetBasicAuth("admin", "secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, registry.Enclaves())
}

func TestEnclaveInfoKeys(t *testing.T) {
	signed, priv := createSignedEnclave(t, "http://localhost:9000")

	pk, err := signed.Object.ParseSigningKey()
	require.NoError(t, err)
	expected, err := priv.PublicKey()
	require.NoError(t, err)
	require.True(t, pk.Equal(expected))

	_, err = signed.Object.ParseSealingKey()
	require.NoError(t, err)

	bad := &EnclaveInfo{SealingKey: "abcd"}
	_, err = bad.ParseSealingKey()
	require.Error(t, err)
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}
