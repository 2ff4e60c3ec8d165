package common

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WaveTek-co/WaveSwap-sub000/protocol"
	"github.com/WaveTek-co/WaveSwap-sub000/services"
	"github.com/WaveTek-co/WaveSwap-sub000/store"
	"github.com/WaveTek-co/WaveSwap-sub000/teeproof"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
http_addr: ":9000"
ledger_url: "http://ledger:8080"
log:
  json: true
  level: debug
protocol:
  chunk_size: 600
  scan_interval: 3s
  tee_timeout: 1m
`))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.HTTPAddr)
	require.Equal(t, "http://ledger:8080", cfg.LedgerURL)
	require.True(t, cfg.Log.JSON)
	require.Equal(t, 600, cfg.Protocol.ChunkSize)
	require.Equal(t, 3*time.Second, cfg.Protocol.ScanInterval)
	require.Equal(t, time.Minute, cfg.Protocol.TeeTimeout)
	// Untouched fields keep their defaults.
	require.Equal(t, protocol.DefaultConfig().ConfirmTimeout, cfg.Protocol.ConfirmTimeout)
	require.Equal(t, DevnetProgram.String(), cfg.Protocol.ProgramID)

	_, err = ParseConfig([]byte("protocol:\n  chunk_size: 5000\n"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{JSON: true, Level: "warn"}, &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "nonce", "ab")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "shown", line["msg"])

	_, err = NewLogger(LogConfig{Level: "loud"}, &buf)
	require.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	st, err := OpenStore("", "")
	require.NoError(t, err)
	require.IsType(t, &store.MemoryStore{}, st)

	st, err = OpenStore(filepath.Join(t.TempDir(), "cli.db"), "")
	require.NoError(t, err)
	require.IsType(t, &store.BoltStore{}, st)
	require.NoError(t, st.Close())
}

func TestFetchEnclaveInfo(t *testing.T) {
	enclave, err := teeproof.NewInsecureTestEnclave(nil, nil)
	require.NoError(t, err)
	signed, err := enclave.Info("http://enclave.local")
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/enclave/info", r.URL.Path)
		json.NewEncoder(w).Encode(signed)
	}))
	defer ts.Close()

	got, err := FetchEnclaveInfo(context.Background(), ts.URL)
	require.NoError(t, err)
	require.Equal(t, enclave.SigningKey().String(), got.Object.SigningKey)
}

func TestNewAttestationProvider(t *testing.T) {
	p, err := NewAttestationProvider(AttestationConfig{Provider: "dummy"})
	require.NoError(t, err)
	require.NotEmpty(t, p.AttestationType())

	_, err = NewAttestationProvider(AttestationConfig{Provider: "remote"})
	require.Error(t, err)
}

func TestNewMeasurementSource(t *testing.T) {
	source, err := NewMeasurementSource("")
	require.NoError(t, err)
	require.Nil(t, source)

	source, err = NewMeasurementSource("https://example.com/builds.yaml")
	require.NoError(t, err)
	require.IsType(t, &services.RemoteMeasurementSource{}, source)

	path := filepath.Join(t.TempDir(), "builds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- version: v1\n  registers:\n    mrtd: \"aa\"\n"), 0o600))
	source, err = NewMeasurementSource(path)
	require.NoError(t, err)
	builds, err := source.AllowedBuilds(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v1", builds[0].Version)

	_, err = NewMeasurementSource(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
