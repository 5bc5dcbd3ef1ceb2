// Package server provides the HTTP server core: flags, the chi router with
// the common middleware chain, lifecycle, and JSON response helpers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Flags are the command-line settings of the server binary.
type Flags struct {
	ConfigPath string
	Port       int
	Verbose    bool
}

// ParseFlags parses the server flags from args. A zero port falls back to
// the PORT environment variable.
func ParseFlags(name string, args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", "musclefoot.yaml", "Path to the YAML config file")
	fs.IntVar(&f.Port, "port", 0, "HTTP listen port (overrides the config file)")
	fs.BoolVar(&f.Verbose, "verbose", false, "Enable debug logging and request header capture")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if f.Port == 0 {
		if p := os.Getenv("PORT"); p != "" {
			fmt.Sscanf(p, "%d", &f.Port)
		}
	}
	return f, nil
}

// Options configure a Server.
type Options struct {
	Name        string
	Port        int
	Verbose     bool
	CORSOrigins []string
	Output      io.Writer // log destination, stdout when nil
}

// Server wraps a chi router with the common middleware and provides
// lifecycle management.
type Server struct {
	Router *chi.Mux
	Logger *slog.Logger
	opts   Options
	mw     *Middleware
}

// New creates a Server.
func New(opts Options) *Server {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))

	r := chi.NewRouter()
	mw := NewMiddleware(opts.Verbose, opts.CORSOrigins, logger)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(mw.CORS)
	r.Use(mw.RequestLog)

	return &Server{Router: r, Logger: logger, opts: opts, mw: mw}
}

// Middleware returns the middleware instance for route groups and the
// operator endpoints.
func (s *Server) Middleware() *Middleware {
	return s.mw
}

// Serve listens on the configured port and blocks until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", s.opts.Port, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second, // payment confirmation polls inside the request
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("starting server", "name", s.opts.Name, "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.Logger.Info("shutting down server", "name", s.opts.Name)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// ServeHTTP implements http.Handler so a Server can be used directly in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    http.StatusText(status),
			"code":    status,
		},
	})
}

// KindError writes a JSON error response carrying a machine-readable kind.
func KindError(w http.ResponseWriter, status int, kind, message string) {
	JSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    http.StatusText(status),
			"code":    status,
			"kind":    kind,
		},
	})
}

// Decode reads a JSON request body into v. An empty body leaves v untouched.
func Decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
