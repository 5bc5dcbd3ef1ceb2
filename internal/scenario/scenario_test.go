package scenario

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/musclefoot/musclefoot/internal/admin"
	"github.com/musclefoot/musclefoot/internal/api"
	"github.com/musclefoot/musclefoot/internal/cache"
	"github.com/musclefoot/musclefoot/internal/client"
	"github.com/musclefoot/musclefoot/internal/clock"
	"github.com/musclefoot/musclefoot/internal/game"
	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/remote"
	"github.com/musclefoot/musclefoot/internal/server"
	"github.com/musclefoot/musclefoot/internal/solana"
	"github.com/musclefoot/musclefoot/internal/solana/solanatest"
)

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidScenario(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "ok.yaml", `
name: Tapper
players:
  a: 1
variables:
  n: "3"
steps:
  - name: tap
    as: a
    request:
      method: POST
      path: /v1/tap
      body: {count: 3}
    assert:
      status: 200
      body:
        $.accepted: 3
  - name: wait
    advance: 1h
`)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if s.Name != "Tapper" || len(s.Steps) != 2 {
		t.Fatalf("unexpected scenario %+v", s)
	}
	if s.Players["a"] != 1 || s.Variables["n"] != "3" {
		t.Errorf("players or variables not parsed: %+v", s)
	}
	if s.Steps[0].Assert.Body["$.accepted"] != 3 {
		t.Errorf("expected int assertion, got %#v", s.Steps[0].Assert.Body["$.accepted"])
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"no name", "steps:\n  - advance: 1h\n", "name is required"},
		{"no steps", "name: x\n", "at least one step"},
		{"both", "name: x\nsteps:\n  - advance: 1h\n    request: {method: GET, path: /v1/state}\n", "exclusive"},
		{"neither", "name: x\nsteps:\n  - name: idle\n", "needs a request or an advance"},
		{"bad advance", "name: x\nsteps:\n  - advance: later\n", "invalid advance"},
		{"negative advance", "name: x\nsteps:\n  - advance: -1h\n", "invalid advance"},
		{"relative path", "name: x\nsteps:\n  - request: {method: GET, path: v1/state}\n", "absolute path"},
		{"unknown player", "name: x\nsteps:\n  - as: ghost\n    request: {method: GET, path: /v1/state}\n", "unknown player"},
		{"bad player id", "name: x\nplayers: {a: 0}\nsteps:\n  - advance: 1h\n", "id must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScenario(t, t.TempDir(), "bad.yaml", tt.content)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadDirSortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "b.yml", "name: second\nsteps:\n  - advance: 1s\n")
	writeScenario(t, dir, "a.yaml", "name: first\nsteps:\n  - advance: 1s\n")
	writeScenario(t, dir, "notes.txt", "ignored")

	got, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error: %v", err)
	}
	if len(got) != 2 || got[0].Name != "first" || got[1].Name != "second" {
		t.Errorf("unexpected scenarios %+v", got)
	}
}

func TestLookup(t *testing.T) {
	doc, _ := decodeBody([]byte(`{"state":{"energy":50,"tags":["a","b"]},"data":[{"id":1},{"id":2}]}`))

	tests := []struct {
		path  string
		want  any
		found bool
	}{
		{"$.state.energy", 50.0, true},
		{"$.state.tags[1]", "b", true},
		{"$.data[1].id", 2.0, true},
		{"$.data[5].id", nil, false},
		{"$.missing", nil, false},
		{"$.state.energy.deeper", nil, false},
	}
	for _, tt := range tests {
		got, found, err := lookup(doc, tt.path)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.path, err)
			continue
		}
		if found != tt.found || (found && got != tt.want) {
			t.Errorf("%s: got %v (found=%v), want %v (found=%v)", tt.path, got, found, tt.want, tt.found)
		}
	}

	for _, bad := range []string{"state", "$..x", "$.a[x]", "$.a[1"} {
		if _, _, err := lookup(doc, bad); err == nil {
			t.Errorf("%q: expected parse error", bad)
		}
	}
}

func TestCheckOperators(t *testing.T) {
	body := []byte(`{"energy":49.9999999,"name":"Gym Rat","list":[1,2,3],"ok":true,"none":null}`)
	resp := &http.Response{StatusCode: 200, Header: http.Header{"Idempotent-Replayed": {"true"}}}

	pass := map[string]any{
		"$.energy": map[string]any{"approx": 50, "gt": 49, "lte": 50},
		"$.name":   map[string]any{"contains": "Rat", "ne": "Beginner"},
		"$.list":   map[string]any{"len": 3},
		"$.ok":     true,
		"$.none":   map[string]any{"len": 0},
		"$.absent": map[string]any{"exists": false},
	}
	if err := check(&Assert{Status: 200, Body: pass, Headers: map[string]string{"Idempotent-Replayed": "true"}}, resp, body); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}

	fails := []map[string]any{
		{"$.energy": 50},
		{"$.energy": map[string]any{"gte": 51}},
		{"$.name": map[string]any{"eq": 1}},
		{"$.list": map[string]any{"len": 2}},
		{"$.absent": map[string]any{"exists": true}},
		{"$.absent": "x"},
		{"$.name": map[string]any{"between": 1}},
	}
	for _, f := range fails {
		if err := check(&Assert{Body: f}, resp, body); err == nil {
			t.Errorf("expected %v to fail", f)
		}
	}

	if err := check(&Assert{Status: 201}, resp, body); err == nil {
		t.Error("expected status mismatch")
	}
	if err := check(&Assert{BodyContains: "Muscle God"}, resp, body); err == nil {
		t.Error("expected body_contains mismatch")
	}
}

func TestExpand(t *testing.T) {
	t.Setenv("MF_TEST_REGION", "eu")
	players := map[string]player{"a": {id: 7, token: "tok"}}
	vars := map[string]string{"addr": "Abc"}

	got, err := expand("/x/{{players.a.id}}/{{ addr }}?r={{env.MF_TEST_REGION}}&t={{players.a.token}}", players, vars)
	if err != nil {
		t.Fatalf("expand() error: %v", err)
	}
	if got != "/x/7/Abc?r=eu&t=tok" {
		t.Errorf("unexpected expansion %q", got)
	}

	for _, bad := range []string{"{{nope}}", "{{players.b.id}}", "{{players.a.secret}}", "{{open"} {
		if _, err := expand(bad, players, vars); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

// fakeAdmin records operator calls without a server.
type fakeAdmin struct {
	minted   map[int64]string
	advanced []time.Duration
}

func (f *fakeAdmin) MintToken(id int64, name string, _ time.Duration) (string, error) {
	if f.minted == nil {
		f.minted = make(map[int64]string)
	}
	f.minted[id] = name
	return "token-" + name, nil
}

func (f *fakeAdmin) Advance(d time.Duration) (string, error) {
	f.advanced = append(f.advanced, d)
	return "{}", nil
}

func TestRunnerCapturesAndAuthenticates(t *testing.T) {
	var auth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = append(auth, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/wallet/generate":
			w.WriteHeader(http.StatusCreated)
			io.WriteString(w, `{"address":"Addr1"}`)
		default:
			io.WriteString(w, `{"state":{"wallet_address":"Addr1"}}`)
		}
	}))
	defer srv.Close()

	adm := &fakeAdmin{}
	s := &Scenario{
		Name:    "capture",
		Players: map[string]int64{"arnold": 5},
		Steps: []Step{
			{Name: "generate", As: "arnold", Request: &Request{Method: "post", Path: "/v1/wallet/generate"},
				Capture: map[string]string{"address": "$.address"}, Assert: &Assert{Status: 201}},
			{Name: "wait", Advance: "2h"},
			{Name: "state", As: "arnold", Request: &Request{Method: "GET", Path: "/v1/state"},
				Assert: &Assert{Body: map[string]any{"$.state.wallet_address": "{{address}}"}}},
			{Name: "mismatch", Request: &Request{Method: "GET", Path: "/v1/state"},
				Assert: &Assert{Body: map[string]any{"$.state.wallet_address": "other"}}},
		},
	}

	result, err := NewRunner(srv.URL+"/", adm).Run(s)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Passed {
		t.Error("expected the mismatch step to fail the scenario")
	}
	for i, sr := range result.Steps[:3] {
		if !sr.Passed {
			t.Errorf("step %d (%s) failed: %s", i, sr.Name, sr.Error)
		}
	}
	if result.Steps[3].Passed {
		t.Error("mismatch step should fail")
	}

	if adm.minted[5] != "arnold" {
		t.Errorf("expected a token minted for arnold, got %v", adm.minted)
	}
	if len(adm.advanced) != 1 || adm.advanced[0] != 2*time.Hour {
		t.Errorf("expected one 2h advance, got %v", adm.advanced)
	}
	if auth[0] != "Bearer token-arnold" || auth[2] != "" {
		t.Errorf("unexpected auth headers %q", auth)
	}
}

// TestBundledScenarios runs the scenarios shipped in the repository
// against a full in-process server on a frozen clock.
func TestBundledScenarios(t *testing.T) {
	rpc := solanatest.NewServer()
	defer rpc.Close()

	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	games := game.NewManager(game.DefaultConfig(solana.PublicKey{1}), game.Deps{
		Cache:   cache.NewMemory(),
		Backend: remote.NewMemory(),
		RPC:     rpc.Client(),
		Clock:   clk,
	})
	core := server.New(server.Options{Name: "scenario-test", Output: io.Discard})
	tokens := host.NewTokenManager("scenario-secret", "musclefoot", time.Hour)
	api.NewHandler(games, tokens, core.Middleware(), core.Logger).Routes(core.Router)
	admin.NewHandler(games, core.Middleware(), clk, tokens, "").Routes(core.Router)

	srv := httptest.NewServer(core)
	defer srv.Close()

	scenarios, err := LoadDir("../../scenarios")
	if err != nil {
		t.Fatalf("LoadDir() error: %v", err)
	}
	if len(scenarios) == 0 {
		t.Fatal("no bundled scenarios found")
	}

	runner := NewRunner(srv.URL, client.New(srv.URL, ""))
	for _, s := range scenarios {
		result, err := runner.Run(s)
		if err != nil {
			t.Fatalf("%s: %v", s.Name, err)
		}
		for _, sr := range result.Steps {
			if !sr.Passed {
				t.Errorf("%s / %s: %s", s.Name, sr.Name, sr.Error)
			}
		}
	}
}
