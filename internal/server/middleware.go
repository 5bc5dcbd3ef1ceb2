package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestLogEntry captures details of an incoming request for operator
// inspection.
type RequestLogEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers,omitempty"`
	StatusCode int               `json:"status_code"`
	Duration   time.Duration     `json:"duration_ms"`
	RequestID  string            `json:"request_id,omitempty"`
}

// RequestLog is a thread-safe ring buffer of recent requests.
type RequestLog struct {
	mu      sync.RWMutex
	entries []RequestLogEntry
	maxSize int
}

// NewRequestLog creates a request log with the given max size.
func NewRequestLog(maxSize int) *RequestLog {
	return &RequestLog{
		entries: make([]RequestLogEntry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends an entry, evicting the oldest if at capacity.
func (rl *RequestLog) Add(entry RequestLogEntry) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.entries) >= rl.maxSize {
		rl.entries = rl.entries[1:]
	}
	rl.entries = append(rl.entries, entry)
}

// Entries returns a copy of all log entries.
func (rl *RequestLog) Entries() []RequestLogEntry {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	out := make([]RequestLogEntry, len(rl.entries))
	copy(out, rl.entries)
	return out
}

// Clear removes all entries.
func (rl *RequestLog) Clear() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.entries = rl.entries[:0]
}

// FaultConfig is an injected failure for one API path. Operators use it to
// put the shell through the offline and error paths.
type FaultConfig struct {
	StatusCode int           `json:"status_code"`
	Body       string        `json:"body,omitempty"`
	Delay      time.Duration `json:"delay_ms,omitempty"`
	Rate       float64       `json:"rate"` // 0.0-1.0
}

// FaultRegistry holds injected faults keyed by request path.
type FaultRegistry struct {
	mu     sync.RWMutex
	faults map[string]FaultConfig
}

// NewFaultRegistry creates an empty registry.
func NewFaultRegistry() *FaultRegistry {
	return &FaultRegistry{faults: make(map[string]FaultConfig)}
}

// Set injects a fault for path. A zero rate means always.
func (fr *FaultRegistry) Set(path string, fault FaultConfig) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fault.Rate == 0 {
		fault.Rate = 1.0
	}
	fr.faults[path] = fault
}

// Remove deletes the fault for path and reports whether one existed.
func (fr *FaultRegistry) Remove(path string) bool {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	_, existed := fr.faults[path]
	delete(fr.faults, path)
	return existed
}

// Check returns the fault to apply to path, or nil.
func (fr *FaultRegistry) Check(path string) *FaultConfig {
	fr.mu.RLock()
	defer fr.mu.RUnlock()
	if f, ok := fr.faults[path]; ok {
		if f.Rate >= 1.0 || rand.Float64() < f.Rate {
			return &f
		}
	}
	return nil
}

// All returns all registered faults.
func (fr *FaultRegistry) All() map[string]FaultConfig {
	fr.mu.RLock()
	defer fr.mu.RUnlock()
	out := make(map[string]FaultConfig, len(fr.faults))
	for k, v := range fr.faults {
		out[k] = v
	}
	return out
}

// Reset clears all faults.
func (fr *FaultRegistry) Reset() {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.faults = make(map[string]FaultConfig)
}

// IdempotencyTracker caches responses by idempotency key for a while.
type IdempotencyTracker struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
	ttl     time.Duration
	now     func() time.Time
}

type idempotencyEntry struct {
	StatusCode int
	Body       []byte
	CreatedAt  time.Time
}

// NewIdempotencyTracker creates a tracker whose entries expire after ttl.
func NewIdempotencyTracker(ttl time.Duration) *IdempotencyTracker {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyTracker{entries: make(map[string]idempotencyEntry), ttl: ttl, now: time.Now}
}

// Check returns the cached response for key, or false if not seen.
func (it *IdempotencyTracker) Check(key string) (int, []byte, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	e, ok := it.entries[key]
	if !ok {
		return 0, nil, false
	}
	if it.now().Sub(e.CreatedAt) > it.ttl {
		delete(it.entries, key)
		return 0, nil, false
	}
	return e.StatusCode, e.Body, true
}

// Store caches a response for key, evicting expired entries.
func (it *IdempotencyTracker) Store(key string, statusCode int, body []byte) {
	it.mu.Lock()
	defer it.mu.Unlock()
	now := it.now()
	for k, e := range it.entries {
		if now.Sub(e.CreatedAt) > it.ttl {
			delete(it.entries, k)
		}
	}
	it.entries[key] = idempotencyEntry{StatusCode: statusCode, Body: body, CreatedAt: now}
}

// Reset clears all tracked keys.
func (it *IdempotencyTracker) Reset() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.entries = make(map[string]idempotencyEntry)
}

// Middleware provides the common middleware.
type Middleware struct {
	verbose    bool
	origins    []string
	logger     *slog.Logger
	ReqLog     *RequestLog
	Faults     *FaultRegistry
	Idempotent *IdempotencyTracker
}

// NewMiddleware creates a Middleware. An empty origin list allows any origin.
func NewMiddleware(verbose bool, origins []string, logger *slog.Logger) *Middleware {
	return &Middleware{
		verbose:    verbose,
		origins:    origins,
		logger:     logger,
		ReqLog:     NewRequestLog(1000),
		Faults:     NewFaultRegistry(),
		Idempotent: NewIdempotencyTracker(24 * time.Hour),
	}
}

// CORS adds CORS headers for the configured origins.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(m.origins) == 0 || slices.Contains(m.origins, "*"):
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case slices.Contains(m.origins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, Idempotency-Key")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// RequestLog middleware captures request details into the ring buffer.
// Authorization headers are never recorded.
func (m *Middleware) RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		entry := RequestLogEntry{
			Timestamp:  start,
			Method:     r.Method,
			Path:       r.URL.Path,
			StatusCode: rec.statusCode,
			Duration:   time.Since(start),
			RequestID:  chimw.GetReqID(r.Context()),
		}
		if m.verbose {
			entry.Headers = make(map[string]string)
			for k := range r.Header {
				if strings.EqualFold(k, "Authorization") {
					continue
				}
				entry.Headers[k] = r.Header.Get(k)
			}
		}
		m.ReqLog.Add(entry)

		m.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode,
			"duration", time.Since(start),
		)
	})
}

// FaultInjection applies any fault registered for the request path. Mount
// it inside the player routes only.
func (m *Middleware) FaultInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fault := m.Faults.Check(r.URL.Path); fault != nil {
			if fault.Delay > 0 {
				time.Sleep(fault.Delay)
			}
			if fault.StatusCode > 0 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(fault.StatusCode)
				if fault.Body != "" {
					fmt.Fprint(w, fault.Body)
				} else {
					fmt.Fprintf(w, `{"error":{"message":"injected fault","type":"api_error","code":%d}}`, fault.StatusCode)
				}
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// responseRecorder captures the response for idempotency caching.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Idempotency replays the cached response of a POST carrying an
// Idempotency-Key header seen before. scope namespaces the key, e.g. by
// player, and may return "" to skip caching.
func (m *Middleware) Idempotency(scope func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ns := scope(r)
			if ns == "" {
				next.ServeHTTP(w, r)
				return
			}
			key = ns + ":" + r.URL.Path + ":" + key

			if status, body, ok := m.Idempotent.Check(key); ok {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(status)
				w.Write(body)
				return
			}
			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			m.Idempotent.Store(key, rec.statusCode, rec.body.Bytes())
		})
	}
}
