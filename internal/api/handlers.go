package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/musclefoot/musclefoot/internal/game"
	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/ledger"
	"github.com/musclefoot/musclefoot/internal/payment"
	"github.com/musclefoot/musclefoot/internal/progression"
	"github.com/musclefoot/musclefoot/internal/rank"
	"github.com/musclefoot/musclefoot/internal/server"
	"github.com/musclefoot/musclefoot/internal/wallet"
)

type stateResponse struct {
	game.View
	Cues []host.Cue `json:"cues,omitempty"`
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	server.JSON(w, http.StatusOK, stateResponse{View: s.View(), Cues: s.Cues()})
}

func (h *Handler) Tap(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Count int `json:"count"`
	}
	req.Count = 1
	if err := server.Decode(r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Count < 1 || req.Count > MaxTapsPerRequest {
		server.Error(w, http.StatusBadRequest, "count must be between 1 and "+strconv.Itoa(MaxTapsPerRequest))
		return
	}

	accepted := s.Tap(req.Count)
	server.JSON(w, http.StatusOK, map[string]any{
		"accepted": accepted,
		"rejected": req.Count - accepted,
		"state":    s.View(),
	})
}

func (h *Handler) RankUp(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := s.RankUp(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	server.JSON(w, http.StatusOK, s.View())
}

func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Save(r.Context()); err != nil {
		server.JSON(w, http.StatusAccepted, map[string]any{"status": "queued", "pending_writes": s.View().PendingWrites})
		return
	}
	server.JSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (h *Handler) Online(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	replayed, remaining := s.ConnectivityRestored(r.Context())
	server.JSON(w, http.StatusOK, map[string]int{"replayed": replayed, "remaining": remaining})
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			server.Error(w, http.StatusBadRequest, "invalid after: "+v)
			return
		}
		after = n
	}
	server.JSON(w, http.StatusOK, map[string]any{"data": s.Notifications(after)})
}

type purchaseRequest struct {
	Kind   payment.PurchaseKind `json:"kind"`
	Target rank.Level           `json:"target"`
	Amount string               `json:"amount,omitempty"`
}

func (req purchaseRequest) purchase() (payment.Purchase, error) {
	switch req.Kind {
	case payment.KindTierUpgrade:
		return payment.TierUpgrade(req.Target), nil
	case payment.KindGodTier:
		return payment.GodTier(), nil
	case payment.KindEnergyRefill:
		return payment.EnergyRefill(), nil
	case payment.KindDonation:
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			return payment.Purchase{}, errors.New("invalid amount: " + req.Amount)
		}
		return payment.Donation(amount), nil
	}
	return payment.Purchase{Kind: req.Kind}, nil
}

func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := server.Decode(r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	p, err := req.purchase()
	if err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.runPurchase(w, r, p)
}

func (h *Handler) CreateDonation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := server.Decode(r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		server.Error(w, http.StatusBadRequest, "invalid amount: "+req.Amount)
		return
	}
	h.runPurchase(w, r, payment.Donation(amount))
}

func (h *Handler) runPurchase(w http.ResponseWriter, r *http.Request, p payment.Purchase) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	out, err := s.Purchase(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, out, s.View())
}

func (h *Handler) ResumePurchase(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	out, resumed, err := s.ResumeAfterConnect(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !resumed {
		server.Error(w, http.StatusNotFound, "no pending purchase")
		return
	}
	writeOutcome(w, out, s.View())
}

func writeOutcome(w http.ResponseWriter, out payment.Outcome, view game.View) {
	status := http.StatusOK
	if out.State == payment.StateAwaitingConnection {
		status = http.StatusAccepted
	}
	server.JSON(w, status, map[string]any{"outcome": out, "state": view})
}

func (h *Handler) GetPurchaseStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	server.JSON(w, http.StatusOK, s.Payments())
}

func (h *Handler) QuoteWithdrawal(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	if err != nil {
		server.Error(w, http.StatusBadRequest, "invalid amount")
		return
	}
	q, err := s.QuoteWithdrawal(amount)
	if err != nil {
		writeError(w, err)
		return
	}
	server.JSON(w, http.StatusOK, q)
}

func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := server.Decode(r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	wr, err := s.Withdraw(r.Context(), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	server.JSON(w, http.StatusCreated, wr)
}

func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	reqs, err := s.Withdrawals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]any{"data": reqs})
}

func (h *Handler) GenerateWallet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	pk, err := s.GenerateWallet(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	server.JSON(w, http.StatusCreated, map[string]string{"address": pk.String()})
}

func (h *Handler) ImportWallet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Secret string `json:"secret"`
	}
	if err := server.Decode(r, &req); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	pk, err := s.ImportWallet(r.Context(), req.Secret)
	if err != nil {
		writeError(w, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]string{"address": pk.String()})
}

func (h *Handler) ExportWallet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	secret, ok := s.ExportWallet()
	if !ok {
		server.Error(w, http.StatusNotFound, "no wallet key")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	server.JSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (h *Handler) DisconnectWallet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.DisconnectWallet(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	bal, err := s.RefreshBalance(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	server.JSON(w, http.StatusOK, map[string]string{"balance_sol": bal.String()})
}

// writeError maps domain errors onto HTTP responses.
func writeError(w http.ResponseWriter, err error) {
	var pe *payment.Error
	if errors.As(err, &pe) {
		body := map[string]any{
			"message":   pe.Error(),
			"type":      http.StatusText(paymentStatus(pe.Kind)),
			"code":      paymentStatus(pe.Kind),
			"kind":      string(pe.Kind),
			"broadcast": pe.Broadcast,
		}
		if !pe.Signature.IsZero() {
			body["signature"] = pe.Signature.String()
		}
		server.JSON(w, paymentStatus(pe.Kind), map[string]any{"error": body})
		return
	}

	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			server.KindError(w, m.status, m.kind, err.Error())
			return
		}
	}
	server.Error(w, http.StatusInternalServerError, err.Error())
}

var domainErrors = []struct {
	err    error
	status int
	kind   string
}{
	{progression.ErrInsufficientFunds, http.StatusConflict, "insufficient_funds"},
	{progression.ErrAtMaxRank, http.StatusConflict, "at_max_rank"},
	{progression.ErrRequiresOnChainPayment, http.StatusConflict, "requires_on_chain_payment"},
	{progression.ErrBelowMinimum, http.StatusUnprocessableEntity, "below_minimum"},
	{progression.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{progression.ErrWalletRequired, http.StatusUnprocessableEntity, "wallet_required"},
	{progression.ErrInvalidWalletAddress, http.StatusBadRequest, "invalid_wallet_address"},
	{ledger.ErrIdentityRequired, http.StatusUnauthorized, "identity_required"},
	{wallet.ErrInvalidSecret, http.StatusBadRequest, "invalid_secret"},
	{wallet.ErrNotConnected, http.StatusConflict, "wallet_not_connected"},
}

func paymentStatus(kind payment.ErrorKind) int {
	switch kind {
	case payment.ErrInvalidPurchase:
		return http.StatusBadRequest
	case payment.ErrInsufficientBalance:
		return http.StatusPaymentRequired
	case payment.ErrBusy, payment.ErrUserRejected, payment.ErrWalletNotReady:
		return http.StatusConflict
	case payment.ErrNetworkUnavailable:
		return http.StatusServiceUnavailable
	case payment.ErrConfirmationTimeout:
		return http.StatusGatewayTimeout
	case payment.ErrOnChainFailure, payment.ErrBroadcast, payment.ErrConnectFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
