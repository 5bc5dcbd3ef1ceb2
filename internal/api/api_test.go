package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musclefoot/musclefoot/internal/cache"
	"github.com/musclefoot/musclefoot/internal/clock"
	"github.com/musclefoot/musclefoot/internal/game"
	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/remote"
	"github.com/musclefoot/musclefoot/internal/server"
	"github.com/musclefoot/musclefoot/internal/solana"
	"github.com/musclefoot/musclefoot/internal/solana/solanatest"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	srv     *server.Server
	rpc     *solanatest.Server
	backend *remote.Memory
	tokens  *host.TokenManager
	token   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	rpc := solanatest.NewServer()
	t.Cleanup(rpc.Close)

	var receiver solana.PublicKey
	receiver[0] = 1
	cfg := game.DefaultConfig(receiver)
	cfg.Payment.PollAttempts = 3
	cfg.Payment.PollInterval = time.Microsecond

	backend := remote.NewMemory()
	games := game.NewManager(cfg, game.Deps{
		Cache:   cache.NewMemory(),
		Backend: backend,
		RPC:     rpc.Client(),
		Clock:   clock.NewFixed(epoch),
	})

	srv := server.New(server.Options{Name: "test", Output: io.Discard})
	tokens := host.NewTokenManager("test-secret", "musclefoot", time.Hour)
	NewHandler(games, tokens, srv.Middleware(), srv.Logger).Routes(srv.Router)

	token, _, err := tokens.Mint(host.Identity{ID: 7, Name: "arnold"}, 0)
	require.NoError(t, err)
	return &testAPI{srv: srv, rpc: rpc, backend: backend, tokens: tokens, token: token}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+a.token)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	e, ok := decode(t, rec)["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	kind, _ := e["kind"].(string)
	return kind
}

func TestAuthRequired(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	rec := httptest.NewRecorder()
	a.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := host.NewTokenManager("other-secret", "musclefoot", time.Hour)
	forged, _, err := other.Mint(host.Identity{ID: 7}, 0)
	require.NoError(t, err)
	a.token = forged
	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/v1/state", nil).Code)
}

func TestStateAndTap(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/v1/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode(t, rec)
	assert.Equal(t, "Beginner", st["rank_name"])
	assert.Equal(t, 100.0, st["max_energy"])

	rec = a.do(t, http.MethodPost, "/v1/tap", map[string]int{"count": 10})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 10.0, body["accepted"])
	assert.Equal(t, 0.0, body["rejected"])
	state := body["state"].(map[string]any)["state"].(map[string]any)
	assert.InDelta(t, 0.01, state["points"], 1e-9)
	assert.InDelta(t, 95, state["energy"], 1e-9)

	rec = a.do(t, http.MethodPost, "/v1/tap", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["accepted"])

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/tap", map[string]int{"count": 0}).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/tap", map[string]int{"count": MaxTapsPerRequest + 1}).Code)

	rec = a.do(t, http.MethodGet, "/v1/state", nil)
	assert.Contains(t, decode(t, rec)["cues"], "tap")
}

func TestRankUpErrors(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, http.MethodPost, "/v1/rank-up", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_funds", errorKind(t, rec))
}

func TestWithdrawalValidation(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/v1/withdrawals", map[string]float64{"amount": 10})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "below_minimum", errorKind(t, rec))

	rec = a.do(t, http.MethodPost, "/v1/withdrawals", map[string]float64{"amount": 2000})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_balance", errorKind(t, rec))

	rec = a.do(t, http.MethodGet, "/v1/withdrawals/quote?amount=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/v1/withdrawals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["data"])
}

func TestWalletLifecycle(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/v1/wallet/generate", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	addr := decode(t, rec)["address"].(string)
	assert.NotEmpty(t, addr)

	rec = a.do(t, http.MethodGet, "/v1/wallet/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", decode(t, rec)["balance_sol"])

	rec = a.do(t, http.MethodPost, "/v1/wallet/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	secret := decode(t, rec)["secret"].(string)

	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/v1/wallet/disconnect", nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/v1/wallet/export", nil).Code)

	rec = a.do(t, http.MethodPost, "/v1/wallet/import", map[string]string{"secret": "zz"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_secret", errorKind(t, rec))

	rec = a.do(t, http.MethodPost, "/v1/wallet/import", map[string]string{"secret": secret})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, addr, decode(t, rec)["address"])
}

func TestPurchaseIdempotent(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/v1/wallet/generate", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	pk := solana.MustPublicKey(decode(t, rec)["address"].(string))
	a.rpc.SetBalance(pk, 2*solana.LamportsPerSOL)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/wallet/balance", nil).Code)

	body := map[string]any{"kind": "tier_upgrade", "target": 1}
	first := a.do(t, http.MethodPost, "/v1/purchases", body, "Idempotency-Key", "buy-1")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	out := decode(t, first)["outcome"].(map[string]any)
	assert.Equal(t, "succeeded", out["state"])

	second := a.do(t, http.MethodPost, "/v1/purchases", body, "Idempotency-Key", "buy-1")
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Len(t, a.rpc.Sent(), 1)

	players := a.backend.Players()
	require.Len(t, players, 1)
	assert.EqualValues(t, 1, players[0].Level)
}

func TestPurchaseErrors(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/v1/purchases", map[string]any{"kind": "mystery"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_purchase", errorKind(t, rec))

	rec = a.do(t, http.MethodPost, "/v1/donations", map[string]string{"amount": "lots"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/v1/wallet/generate", nil).Code)
	rec = a.do(t, http.MethodPost, "/v1/purchases", map[string]any{"kind": "god_tier"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "insufficient_balance", errorKind(t, rec))
	e := decode(t, rec)["error"].(map[string]any)
	assert.Equal(t, false, e["broadcast"])
}

func TestPurchaseParkedUntilWallet(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/v1/purchases", map[string]any{"kind": "energy_refill"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	out := decode(t, rec)["outcome"].(map[string]any)
	assert.Equal(t, "awaiting_connection", out["state"])

	rec = a.do(t, http.MethodGet, "/v1/purchases/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decode(t, rec)["pending"])

	rec = a.do(t, http.MethodGet, "/v1/notifications?after=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["data"])

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/v1/notifications?after=x", nil).Code)
}

func TestResumeWithoutPending(t *testing.T) {
	a := newTestAPI(t)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/v1/purchases/resume", nil).Code)
}

func TestSaveAndOnline(t *testing.T) {
	a := newTestAPI(t)
	a.backend.SetOffline(true)

	rec := a.do(t, http.MethodPost, "/v1/save", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", decode(t, rec)["status"])

	a.backend.SetOffline(false)
	rec = a.do(t, http.MethodPost, "/v1/online", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 1.0, body["replayed"])
	assert.Equal(t, 0.0, body["remaining"])

	rec = a.do(t, http.MethodPost, "/v1/save", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
