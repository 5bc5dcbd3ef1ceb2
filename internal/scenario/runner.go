package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Admin is the operator surface a run needs: minting player tokens and
// moving the simulated clock.
type Admin interface {
	MintToken(id int64, name string, ttl time.Duration) (string, error)
	Advance(d time.Duration) (string, error)
}

// StepResult records the outcome of a single step.
type StepResult struct {
	Name     string
	Passed   bool
	Duration time.Duration
	Error    string // empty when passed
}

// Result records the outcome of an entire scenario.
type Result struct {
	ScenarioName string
	Passed       bool
	Steps        []StepResult
	Duration     time.Duration
}

// Runner executes scenarios against one server.
type Runner struct {
	base  string
	admin Admin
	http  *http.Client
}

// NewRunner creates a Runner for the server at baseURL.
func NewRunner(baseURL string, admin Admin) *Runner {
	return &Runner{
		base:  strings.TrimRight(baseURL, "/"),
		admin: admin,
		http:  &http.Client{Timeout: 2 * time.Minute}, // purchases confirm inside the request
	}
}

// run is the per-scenario state: minted players and captured variables.
type run struct {
	players map[string]player
	vars    map[string]string
}

// Run executes s. Setup failures are returned as errors; step failures
// are recorded in the result and later steps still run.
func (r *Runner) Run(s *Scenario) (*Result, error) {
	start := time.Now()
	st := &run{players: make(map[string]player), vars: make(map[string]string)}
	for k, v := range s.Variables {
		st.vars[k] = v
	}

	names := make([]string, 0, len(s.Players))
	for name := range s.Players {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		id := s.Players[name]
		token, err := r.admin.MintToken(id, name, 0)
		if err != nil {
			return nil, fmt.Errorf("minting token for %s: %w", name, err)
		}
		st.players[name] = player{id: id, token: token}
	}

	result := &Result{ScenarioName: s.Name, Passed: true}
	for i := range s.Steps {
		sr := r.step(st, &s.Steps[i])
		result.Steps = append(result.Steps, sr)
		if !sr.Passed {
			result.Passed = false
		}
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (r *Runner) step(st *run, step *Step) StepResult {
	start := time.Now()
	sr := StepResult{Name: step.Name}
	err := r.exec(st, step)
	sr.Duration = time.Since(start)
	if err != nil {
		sr.Error = err.Error()
		return sr
	}
	sr.Passed = true
	return sr
}

func (r *Runner) exec(st *run, step *Step) error {
	if step.Advance != "" {
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("invalid advance: %w", err)
		}
		if _, err := r.admin.Advance(d); err != nil {
			return fmt.Errorf("advancing clock: %w", err)
		}
		return nil
	}

	req, err := r.build(st, step)
	if err != nil {
		return err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	for name, path := range step.Capture {
		v, err := extract(body, path)
		if err != nil {
			return fmt.Errorf("capture %q: %w", name, err)
		}
		st.vars[name] = fmt.Sprint(v)
	}

	if step.Assert != nil {
		return check(r.expandAssert(st, step.Assert), resp, body)
	}
	return nil
}

func (r *Runner) build(st *run, step *Step) (*http.Request, error) {
	path, err := expand(step.Request.Path, st.players, st.vars)
	if err != nil {
		return nil, fmt.Errorf("path: %w", err)
	}

	var body io.Reader
	if step.Request.Body != nil {
		raw, ok := step.Request.Body.(string)
		if !ok {
			data, err := json.Marshal(step.Request.Body)
			if err != nil {
				return nil, fmt.Errorf("encoding body: %w", err)
			}
			raw = string(data)
		}
		expanded, err := expand(raw, st.players, st.vars)
		if err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
		body = bytes.NewReader([]byte(expanded))
	}

	req, err := http.NewRequest(strings.ToUpper(step.Request.Method), r.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if step.As != "" {
		req.Header.Set("Authorization", "Bearer "+st.players[step.As].token)
	}
	for k, v := range step.Request.Headers {
		expanded, err := expand(v, st.players, st.vars)
		if err != nil {
			return nil, fmt.Errorf("header %q: %w", k, err)
		}
		req.Header.Set(k, expanded)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// expandAssert fills placeholders in string-valued expectations so steps
// can compare against captured values.
func (r *Runner) expandAssert(st *run, a *Assert) *Assert {
	out := *a
	if len(a.Body) == 0 {
		return &out
	}
	out.Body = make(map[string]any, len(a.Body))
	for path, want := range a.Body {
		if s, ok := want.(string); ok {
			if expanded, err := expand(s, st.players, st.vars); err == nil {
				want = expanded
			}
		}
		out.Body[path] = want
	}
	return &out
}
