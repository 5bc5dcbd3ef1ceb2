// Package solanatest provides an in-process fake Solana JSON-RPC endpoint
// for tests.
package solanatest

import (
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/musclefoot/musclefoot/internal/solana"
)

// Fee is the flat fee in lamports the fake charges per transaction.
const Fee = 5000

// StatusFunc decides the status reported for sig on its nth poll (from 1).
// Returning nil reports the transaction as not yet seen.
type StatusFunc func(sig solana.Signature, poll int) *solana.SignatureStatus

// Confirmed is the default StatusFunc: every transaction is confirmed on the
// first poll.
func Confirmed(solana.Signature, int) *solana.SignatureStatus {
	return &solana.SignatureStatus{ConfirmationStatus: solana.CommitmentConfirmed}
}

// ConfirmAfter returns a StatusFunc that lands transactions on poll n.
func ConfirmAfter(n int) StatusFunc {
	return func(_ solana.Signature, poll int) *solana.SignatureStatus {
		if poll < n {
			return &solana.SignatureStatus{ConfirmationStatus: solana.CommitmentProcessed}
		}
		return &solana.SignatureStatus{ConfirmationStatus: solana.CommitmentFinalized}
	}
}

// Never is a StatusFunc under which nothing ever lands.
func Never(solana.Signature, int) *solana.SignatureStatus { return nil }

// FailOnChain is a StatusFunc that confirms every transaction with an error.
func FailOnChain(solana.Signature, int) *solana.SignatureStatus {
	return &solana.SignatureStatus{
		ConfirmationStatus: solana.CommitmentConfirmed,
		Err:                json.RawMessage(`{"InstructionError":[0,{"Custom":1}]}`),
	}
}

// Server is a fake RPC endpoint. It verifies submitted transactions and
// moves balances for System Program transfers.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	balances  map[solana.PublicKey]uint64
	blockhash solana.Hash
	sent      []*solana.Transaction
	polls     map[solana.Signature]int
	calls     map[string]int
	errs      map[string]*solana.RPCError
	statuses  map[string]int
	statusFn  StatusFunc
	evicted   bool
	searches  int
}

// NewServer starts a fake endpoint. Close it when done.
func NewServer() *Server {
	s := &Server{
		balances:  make(map[solana.PublicKey]uint64),
		blockhash: sha256.Sum256([]byte("musclefoot")),
		polls:     make(map[solana.Signature]int),
		calls:     make(map[string]int),
		errs:      make(map[string]*solana.RPCError),
		statuses:  make(map[string]int),
		statusFn:  Confirmed,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Client returns an unthrottled client for the endpoint.
func (s *Server) Client() *solana.Client {
	return solana.NewClient(s.URL)
}

// SetBalance sets the lamport balance of addr.
func (s *Server) SetBalance(addr solana.PublicKey, lamports uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[addr] = lamports
}

// Balance returns the lamport balance of addr.
func (s *Server) Balance(addr solana.PublicKey) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[addr]
}

// SetStatusFunc replaces the confirmation behaviour.
func (s *Server) SetStatusFunc(fn StatusFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFn = fn
}

// EvictStatuses models a node whose recent status cache no longer holds the
// submitted transactions: statuses are then only reported to requests that
// ask for a history search.
func (s *Server) EvictStatuses(evicted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evicted = evicted
}

// HistorySearches returns how many getSignatureStatuses calls asked for a
// history search.
func (s *Server) HistorySearches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches
}

// FailMethod makes method answer with a JSON-RPC error. A nil error clears it.
func (s *Server) FailMethod(method string, rpcErr *solana.RPCError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rpcErr == nil {
		delete(s.errs, method)
		return
	}
	s.errs[method] = rpcErr
}

// FailHTTP makes method answer with the given HTTP status. Zero clears it.
func (s *Server) FailHTTP(method string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.statuses, method)
		return
	}
	s.statuses[method] = status
}

// Sent returns the transactions accepted by sendTransaction.
func (s *Server) Sent() []*solana.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*solana.Transaction, len(s.sent))
	copy(out, s.sent)
	return out
}

// Calls returns how many times method was invoked.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     uint64            `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.Method]++

	if status, ok := s.statuses[req.Method]; ok {
		w.WriteHeader(status)
		return
	}
	if rpcErr, ok := s.errs[req.Method]; ok {
		writeResponse(w, req.ID, nil, rpcErr)
		return
	}

	switch req.Method {
	case "getBalance":
		var addr solana.PublicKey
		if len(req.Params) < 1 || json.Unmarshal(req.Params[0], &addr) != nil {
			writeResponse(w, req.ID, nil, &solana.RPCError{Code: -32602, Message: "Invalid param: address"})
			return
		}
		writeResponse(w, req.ID, withContext(s.balances[addr]), nil)

	case "getLatestBlockhash":
		writeResponse(w, req.ID, withContext(map[string]any{
			"blockhash":            s.blockhash.String(),
			"lastValidBlockHeight": 1000,
		}), nil)

	case "sendTransaction":
		s.sendLocked(w, req.ID, req.Params)

	case "getSignatureStatuses":
		var sigs []solana.Signature
		if len(req.Params) < 1 || json.Unmarshal(req.Params[0], &sigs) != nil {
			writeResponse(w, req.ID, nil, &solana.RPCError{Code: -32602, Message: "Invalid param: signatures"})
			return
		}
		var opts struct {
			SearchTransactionHistory bool `json:"searchTransactionHistory"`
		}
		if len(req.Params) > 1 {
			_ = json.Unmarshal(req.Params[1], &opts)
		}
		if opts.SearchTransactionHistory {
			s.searches++
		}
		out := make([]*solana.SignatureStatus, len(sigs))
		for i, sig := range sigs {
			if s.evicted && !opts.SearchTransactionHistory {
				continue
			}
			if _, known := s.polls[sig]; !known {
				continue
			}
			s.polls[sig]++
			out[i] = s.statusFn(sig, s.polls[sig])
		}
		writeResponse(w, req.ID, withContext(out), nil)

	default:
		writeResponse(w, req.ID, nil, &solana.RPCError{Code: -32601, Message: "Method not found"})
	}
}

func (s *Server) sendLocked(w http.ResponseWriter, id uint64, params []json.RawMessage) {
	var encoded string
	if len(params) < 1 || json.Unmarshal(params[0], &encoded) != nil {
		writeResponse(w, id, nil, &solana.RPCError{Code: -32602, Message: "Invalid param: transaction"})
		return
	}
	tx, err := solana.DecodeTransactionBase64(encoded)
	if err != nil {
		writeResponse(w, id, nil, &solana.RPCError{Code: -32602, Message: err.Error()})
		return
	}
	if !tx.Verify() {
		writeResponse(w, id, nil, &solana.RPCError{Code: -32003, Message: "Transaction signature verification failure"})
		return
	}
	if tx.Message.RecentBlockhash != s.blockhash {
		writeResponse(w, id, nil, &solana.RPCError{Code: -32002, Message: "Blockhash not found"})
		return
	}
	if transfer, ok := tx.Transfer(); ok {
		need := transfer.Lamports + Fee
		if s.balances[transfer.From] < need {
			writeResponse(w, id, nil, &solana.RPCError{Code: -32002, Message: "Attempt to debit an account but found no record of a prior credit."})
			return
		}
		s.balances[transfer.From] -= need
		s.balances[transfer.To] += transfer.Lamports
	}

	s.sent = append(s.sent, tx)
	s.polls[tx.Signature()] = 0
	writeResponse(w, id, tx.Signature().String(), nil)
}

func withContext(v any) map[string]any {
	return map[string]any{"context": map[string]any{"slot": 1}, "value": v}
}

func writeResponse(w http.ResponseWriter, id uint64, result any, rpcErr *solana.RPCError) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{"jsonrpc": "2.0", "id": id}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	json.NewEncoder(w).Encode(resp)
}
