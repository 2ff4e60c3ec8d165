package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ScanPasses.Inc()
	m.Sends.WithLabelValues("direct", ResultOK).Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(m.ScanPasses))

	_, err = New(reg)
	require.Error(t, err, "duplicate registration must fail")

	srv := NewServer(":0", reg)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	require.Contains(t, string(body), "waveswap_scanner_passes_total 1")
	require.Contains(t, string(body), `waveswap_send_total{result="ok",tier="direct"} 1`)
}
