// Package api implements the player-facing /v1 HTTP routes.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/musclefoot/musclefoot/internal/game"
	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/server"
)

// MaxTapsPerRequest bounds a tap batch.
const MaxTapsPerRequest = 500

type ctxKey struct{}

// Handler holds the API handler state.
type Handler struct {
	games  *game.Manager
	tokens *host.TokenManager
	mw     *server.Middleware
	logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(games *game.Manager, tokens *host.TokenManager, mw *server.Middleware, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{games: games, tokens: tokens, mw: mw, logger: logger}
}

// Routes mounts the /v1 routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(h.authMiddleware)
		r.Use(h.mw.FaultInjection)
		r.Use(h.mw.Idempotency(playerScope))

		r.Get("/state", h.GetState)
		r.Post("/tap", h.Tap)
		r.Post("/rank-up", h.RankUp)
		r.Post("/save", h.Save)
		r.Post("/online", h.Online)
		r.Get("/notifications", h.ListNotifications)

		// Payments
		r.Post("/purchases", h.CreatePurchase)
		r.Post("/purchases/resume", h.ResumePurchase)
		r.Get("/purchases/status", h.GetPurchaseStatus)
		r.Post("/donations", h.CreateDonation)

		// Withdrawals
		r.Get("/withdrawals/quote", h.QuoteWithdrawal)
		r.Post("/withdrawals", h.CreateWithdrawal)
		r.Get("/withdrawals", h.ListWithdrawals)

		// Wallet
		r.Post("/wallet/generate", h.GenerateWallet)
		r.Post("/wallet/import", h.ImportWallet)
		r.Post("/wallet/export", h.ExportWallet)
		r.Post("/wallet/disconnect", h.DisconnectWallet)
		r.Get("/wallet/balance", h.GetBalance)
	})
}

// authMiddleware verifies the bearer token minted for the host identity.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			server.Error(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := h.tokens.Verify(raw)
		if err != nil {
			server.Error(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// IdentityFrom returns the verified player identity of a request.
func IdentityFrom(ctx context.Context) (host.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(host.Identity)
	return id, ok
}

func playerScope(r *http.Request) string {
	if id, ok := IdentityFrom(r.Context()); ok {
		return id.Key()
	}
	return ""
}

// session resolves the caller's session, writing an error response when it
// cannot.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*game.Session, bool) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		server.Error(w, http.StatusUnauthorized, "missing identity")
		return nil, false
	}
	s, err := h.games.Session(r.Context(), id)
	if err != nil {
		h.logger.Error("starting session", "player", id.Key(), "err", err)
		server.Error(w, http.StatusInternalServerError, "session unavailable")
		return nil, false
	}
	return s, true
}
