// Package admin provides the operator /admin/* control plane: health,
// time travel, player state inspection, fault injection and token minting.
package admin

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/musclefoot/musclefoot/internal/clock"
	"github.com/musclefoot/musclefoot/internal/game"
	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/server"
)

// Handler provides the admin endpoints.
type Handler struct {
	games  *game.Manager
	mw     *server.Middleware
	clock  *clock.Sim
	tokens *host.TokenManager
	secret string
}

// NewHandler creates a new admin handler. clock may be nil when the server
// runs on the real clock; secret, when set, is required as a bearer token.
func NewHandler(games *game.Manager, mw *server.Middleware, clk *clock.Sim, tokens *host.TokenManager, secret string) *Handler {
	return &Handler{
		games:  games,
		mw:     mw,
		clock:  clk,
		tokens: tokens,
		secret: secret,
	}
}

// Routes mounts the admin endpoints on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/health", h.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(h.requireSecret)
			r.Get("/state", h.handleGetState)
			r.Get("/state/{id}", h.handleGetPlayer)
			r.Post("/save", h.handleSaveAll)
			r.Post("/online", h.handleOnline)
			r.Post("/fault/*", h.handleInjectFault)
			r.Delete("/fault/*", h.handleRemoveFault)
			r.Get("/faults", h.handleListFaults)
			r.Get("/requests", h.handleGetRequests)
			r.Delete("/requests", h.handleClearRequests)
			r.Post("/time/advance", h.handleTimeAdvance)
			r.Post("/time/reset", h.handleTimeReset)
			r.Get("/time", h.handleGetTime)
			r.Post("/tokens", h.handleMintToken)
		})
	})
}

func (h *Handler) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.secret != "" {
			raw, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(raw), []byte(h.secret)) != 1 {
				server.Error(w, http.StatusUnauthorized, "admin token required")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type playerView struct {
	Player host.Identity `json:"player"`
	game.View
}

func (h *Handler) handleGetState(w http.ResponseWriter, r *http.Request) {
	sessions := h.games.Sessions()
	out := make([]playerView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, playerView{Player: s.Identity(), View: s.View()})
	}
	server.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		server.Error(w, http.StatusBadRequest, "invalid player id")
		return
	}
	s, ok := h.games.Lookup(id)
	if !ok {
		server.Error(w, http.StatusNotFound, "no live session for player "+chi.URLParam(r, "id"))
		return
	}
	server.JSON(w, http.StatusOK, playerView{Player: s.Identity(), View: s.View()})
}

func (h *Handler) handleSaveAll(w http.ResponseWriter, r *http.Request) {
	h.games.SaveAll(r.Context())
	server.JSON(w, http.StatusOK, map[string]any{"status": "saved", "sessions": len(h.games.Sessions())})
}

func (h *Handler) handleOnline(w http.ResponseWriter, r *http.Request) {
	replayed, remaining := h.games.ConnectivityRestored(r.Context())
	server.JSON(w, http.StatusOK, map[string]int{"replayed": replayed, "remaining": remaining})
}

func (h *Handler) handleInjectFault(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")

	var fault server.FaultConfig
	if err := server.Decode(r, &fault); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid fault config: "+err.Error())
		return
	}
	if fault.StatusCode == 0 && fault.Delay == 0 {
		server.Error(w, http.StatusBadRequest, "fault needs a status_code or a delay")
		return
	}
	h.mw.Faults.Set(path, fault)
	server.JSON(w, http.StatusOK, map[string]any{
		"status":   "injected",
		"endpoint": path,
		"fault":    fault,
	})
}

func (h *Handler) handleRemoveFault(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")
	if h.mw.Faults.Remove(path) {
		server.JSON(w, http.StatusOK, map[string]any{"status": "removed", "endpoint": path})
	} else {
		server.Error(w, http.StatusNotFound, "no fault registered for "+path)
	}
}

func (h *Handler) handleListFaults(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, h.mw.Faults.All())
}

func (h *Handler) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, h.mw.ReqLog.Entries())
}

func (h *Handler) handleClearRequests(w http.ResponseWriter, r *http.Request) {
	h.mw.ReqLog.Clear()
	server.JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) handleTimeAdvance(w http.ResponseWriter, r *http.Request) {
	if h.clock == nil {
		server.Error(w, http.StatusBadRequest, "simulated clock not configured")
		return
	}

	var req struct {
		Duration string `json:"duration"` // Go duration string, e.g. "24h", "30m"
	}
	if err := server.Decode(r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		server.Error(w, http.StatusBadRequest, "invalid duration: "+err.Error())
		return
	}
	if d < 0 {
		server.Error(w, http.StatusBadRequest, "the clock only moves forward")
		return
	}

	h.clock.Advance(d)
	server.JSON(w, http.StatusOK, map[string]any{
		"status":    "advanced",
		"duration":  d.String(),
		"offset":    h.clock.Offset().String(),
		"simulated": h.clock.Now().Format(time.RFC3339),
	})
}

func (h *Handler) handleTimeReset(w http.ResponseWriter, r *http.Request) {
	if h.clock == nil {
		server.Error(w, http.StatusBadRequest, "simulated clock not configured")
		return
	}
	h.clock.Reset()
	server.JSON(w, http.StatusOK, map[string]string{"status": "reset", "simulated": h.clock.Now().Format(time.RFC3339)})
}

func (h *Handler) handleGetTime(w http.ResponseWriter, r *http.Request) {
	if h.clock == nil {
		server.JSON(w, http.StatusOK, map[string]any{
			"real": time.Now().Format(time.RFC3339),
		})
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{
		"real":      time.Now().Format(time.RFC3339),
		"simulated": h.clock.Now().Format(time.RFC3339),
		"offset":    h.clock.Offset().String(),
	})
}

// handleMintToken issues a player token, standing in for the chat host
// when testing the shell outside it.
func (h *Handler) handleMintToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		TTL  string `json:"ttl"`
	}
	if err := server.Decode(r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.ID <= 0 {
		server.Error(w, http.StatusBadRequest, "id must be a positive host user id")
		return
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			server.Error(w, http.StatusBadRequest, "invalid ttl: "+req.TTL)
			return
		}
		ttl = d
	}

	token, exp, err := h.tokens.Mint(host.Identity{ID: req.ID, Name: req.Name}, ttl)
	if err != nil {
		server.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	server.JSON(w, http.StatusCreated, map[string]any{
		"token":      token,
		"expires_at": exp.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	server.JSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": len(h.games.Sessions())})
}
