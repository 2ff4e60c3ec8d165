package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/WaveTek-co/WaveSwap-sub000/ledger/ledgerrpc"
	"github.com/WaveTek-co/WaveSwap-sub000/testutil"
)

type harness struct {
	t          *testing.T
	configPath string
	ledgerURL  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dn := testutil.NewDevnet(t)
	r := chi.NewRouter()
	ledgerrpc.NewServer(dn.Ledger, dn.Ledger, nil).RegisterRoutes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	configPath := filepath.Join(t.TempDir(), "stealthctl.yaml")
	config := fmt.Sprintf(`log:
  level: error
protocol:
  program_id: %q
  confirm_poll_interval: 20ms
  confirm_timeout: 5s
  retry_base_delay: 10ms
  retry_max_delay: 50ms
`, dn.Program.String())
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o600))
	return &harness{t: t, configPath: configPath, ledgerURL: ts.URL}
}

// user returns a runner bound to its own local database.
func (h *harness) user() func(args ...string) (string, error) {
	storePath := filepath.Join(h.t.TempDir(), "wallet.db")
	return func(args ...string) (string, error) {
		var out, errOut bytes.Buffer
		cmd := newRootCommand()
		cmd.SetOut(&out)
		cmd.SetErr(&errOut)
		cmd.SetArgs(append([]string{"--config", h.configPath, "--ledger", h.ledgerURL, "--store", storePath}, args...))
		err := cmd.ExecuteContext(context.Background())
		return strings.TrimSpace(out.String()), err
	}
}

func mustRun(t *testing.T, run func(...string) (string, error), args ...string) string {
	t.Helper()
	out, err := run(args...)
	require.NoError(t, err, "stealthctl %s", strings.Join(args, " "))
	return out
}

func TestWallet(t *testing.T) {
	h := newHarness(t)
	alice := h.user()

	_, err := alice("balance")
	require.ErrorContains(t, err, "no wallet")

	addr := mustRun(t, alice, "wallet", "new")
	require.Len(t, addr, 64)
	require.Equal(t, addr, mustRun(t, alice, "wallet", "show"))

	_, err = alice("wallet", "new")
	require.Error(t, err)

	mustRun(t, alice, "airdrop", "1000")
	require.Equal(t, "1000", mustRun(t, alice, "balance"))
	require.Equal(t, "1000", mustRun(t, alice, "balance", addr))
}

func TestSendScanClaim(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.user(), h.user()

	mustRun(t, alice, "wallet", "new")
	mustRun(t, alice, "airdrop", "5000")

	bobAddr := mustRun(t, bob, "wallet", "new")
	mustRun(t, bob, "keys", "hybrid")
	require.Contains(t, mustRun(t, bob, "keys", "show"), "meta-address")
	require.Contains(t, mustRun(t, bob, "register", "--hybrid"), "finalized")

	receipt := mustRun(t, alice, "send", "--to", bobAddr, "--amount", "1200")
	require.Contains(t, receipt, "hybrid")
	require.Equal(t, "3800", mustRun(t, alice, "balance"))

	// The payer cannot see the payment.
	require.Empty(t, mustRun(t, alice, "scan"))

	found := mustRun(t, bob, "scan")
	require.Len(t, strings.Split(found, "\n"), 1)
	require.True(t, strings.HasSuffix(found, " 1200"))

	require.Contains(t, mustRun(t, bob, "claim"), "claimed 1200")
	require.Equal(t, "1200", mustRun(t, bob, "balance"))
	require.Empty(t, mustRun(t, bob, "scan"))
}

func TestSendErrors(t *testing.T) {
	h := newHarness(t)
	alice := h.user()
	mustRun(t, alice, "wallet", "new")
	mustRun(t, alice, "airdrop", "100")
	stranger := strings.Repeat("ab", 32)

	_, err := alice("send", "--to", stranger, "--amount", "10")
	require.ErrorContains(t, err, "not registered")

	_, err = alice("send", "--to", stranger, "--amount", "10", "--tier", "carrier-pigeon")
	require.ErrorContains(t, err, "unknown privacy tier")

	_, err = alice("send", "--to", stranger, "--amount", "10", "--tier", "tee-relayed")
	require.ErrorContains(t, err, "--executor-url")

	_, err = alice("send", "--to", stranger, "--amount", "10", "--asset", "USDC")
	require.ErrorContains(t, err, "unsupported asset")

	_, err = alice("refund", strings.Repeat("00", 32))
	require.ErrorContains(t, err, "tee refund")

	_, err = alice("claim", "--private")
	require.Error(t, err)

	_, err = alice("retry", "00")
	require.ErrorContains(t, err, "32 bytes")
	require.Empty(t, mustRun(t, alice, "pending"))
}
