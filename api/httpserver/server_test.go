package httpserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type echoRoutes struct{}

func (echoRoutes) RegisterRoutes(r chi.Router) {
	r.Get("/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("echo"))
	})
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestRoutesAndHealth(t *testing.T) {
	srv, err := New(&HTTPServerConfig{ListenAddr: "127.0.0.1:0"}, echoRoutes{})
	require.NoError(t, err)
	h := srv.Handler()

	code, body := get(t, h, "/echo")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "echo", body)

	code, body = get(t, h, "/livez")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"alive"}`, body)

	code, _ = get(t, h, "/readyz")
	require.Equal(t, http.StatusOK, code)

	code, _ = get(t, h, "/debug/pprof/")
	require.Equal(t, http.StatusNotFound, code)
}

func TestDrain(t *testing.T) {
	srv, err := New(&HTTPServerConfig{ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)
	h := srv.Handler()

	_, body := get(t, h, "/drain")
	require.JSONEq(t, `{"status":"draining"}`, body)
	require.False(t, srv.Ready())

	code, _ := get(t, h, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)

	_, body = get(t, h, "/drain")
	require.JSONEq(t, `{"status":"already draining"}`, body)

	_, body = get(t, h, "/undrain")
	require.JSONEq(t, `{"status":"ready"}`, body)
	require.True(t, srv.Ready())
}

func TestNilConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
