package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrorKind classifies why an RPC call failed.
type ErrorKind int

const (
	// KindTransport means the endpoint could not be reached.
	KindTransport ErrorKind = iota
	// KindHTTPStatus means the endpoint answered with a non-2xx status.
	KindHTTPStatus
	// KindRPC means the endpoint returned a JSON-RPC error envelope.
	KindRPC
	// KindMalformed means the response could not be decoded.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindHTTPStatus:
		return "http_status"
	case KindRPC:
		return "rpc"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is returned by every Client method.
type Error struct {
	Kind   ErrorKind
	Method string
	Status int       // HTTP status for KindHTTPStatus
	RPC    *RPCError // set for KindRPC
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("%s: http status %d", e.Method, e.Status)
	case KindRPC:
		return fmt.Sprintf("%s: %v", e.Method, e.RPC)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Method, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e.RPC != nil {
		return e.RPC
	}
	return e.Err
}

// KindOf returns the kind of an RPC failure and false if err is not one.
func KindOf(err error) (ErrorKind, bool) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Kind, true
	}
	return 0, false
}

// Commitment levels.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// Client calls a Solana JSON-RPC endpoint. Calls are rate limited and fail
// fast: no retries happen at this layer.
type Client struct {
	url        string
	http       *http.Client
	limiter    *rate.Limiter
	commitment string
	nextID     atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit caps outgoing calls at rps per second. Zero disables the
// limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCommitment sets the commitment used for blockhash and preflight.
func WithCommitment(commitment string) Option {
	return func(c *Client) { c.commitment = commitment }
}

// NewClient creates a client for the endpoint at url.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		http:       &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 0),
		commitment: CommitmentFinalized,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes method with params and decodes the result into out.
func (c *Client) Call(ctx context.Context, method string, params []any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindTransport, Method: method, Err: err}
	}

	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return &Error{Kind: KindMalformed, Method: method, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindTransport, Method: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransport, Method: method, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return &Error{Kind: KindHTTPStatus, Method: method, Status: resp.StatusCode}
	}

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return &Error{Kind: KindMalformed, Method: method, Err: err}
	}
	if rpcResp.Error != nil {
		return &Error{Kind: KindRPC, Method: method, RPC: rpcResp.Error}
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return &Error{Kind: KindMalformed, Method: method, Err: errors.New("missing result")}
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return &Error{Kind: KindMalformed, Method: method, Err: err}
	}
	return nil
}

type contextValue[T any] struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value T `json:"value"`
}

// GetBalance returns the balance of addr in lamports.
func (c *Client) GetBalance(ctx context.Context, addr PublicKey) (uint64, error) {
	var out contextValue[uint64]
	if err := c.Call(ctx, "getBalance", []any{addr.String()}, &out); err != nil {
		return 0, err
	}
	return out.Value, nil
}

// Blockhash is a transaction anchor.
type Blockhash struct {
	Hash                 Hash
	LastValidBlockHeight uint64
}

// GetLatestBlockhash fetches a fresh blockhash.
func (c *Client) GetLatestBlockhash(ctx context.Context) (Blockhash, error) {
	var out contextValue[struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	}]
	params := []any{map[string]string{"commitment": c.commitment}}
	if err := c.Call(ctx, "getLatestBlockhash", params, &out); err != nil {
		return Blockhash{}, err
	}
	h, err := HashFromBase58(out.Value.Blockhash)
	if err != nil {
		return Blockhash{}, &Error{Kind: KindMalformed, Method: "getLatestBlockhash", Err: err}
	}
	return Blockhash{Hash: h, LastValidBlockHeight: out.Value.LastValidBlockHeight}, nil
}

// SendTransaction submits a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *Transaction) (Signature, error) {
	encoded, err := tx.Base64()
	if err != nil {
		return Signature{}, &Error{Kind: KindMalformed, Method: "sendTransaction", Err: err}
	}
	params := []any{encoded, map[string]string{
		"encoding":            "base64",
		"preflightCommitment": CommitmentConfirmed,
	}}
	var raw string
	if err := c.Call(ctx, "sendTransaction", params, &raw); err != nil {
		return Signature{}, err
	}
	sig, err := SignatureFromBase58(raw)
	if err != nil {
		return Signature{}, &Error{Kind: KindMalformed, Method: "sendTransaction", Err: err}
	}
	return sig, nil
}

// SignatureStatus is the status of one signature. A nil status means the
// cluster has not seen the transaction.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// Landed reports whether the transaction reached confirmed or finalized.
func (s *SignatureStatus) Landed() bool {
	return s != nil && (s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized)
}

// Failed reports whether the status carries an on-chain error.
func (s *SignatureStatus) Failed() bool {
	return s != nil && len(s.Err) > 0 && !bytes.Equal(s.Err, []byte("null"))
}

// GetSignatureStatuses returns one status per signature, nil for unknown ones.
// Nodes answer from their recent status cache only, which covers roughly the
// last two minutes of slots.
func (c *Client) GetSignatureStatuses(ctx context.Context, sigs ...Signature) ([]*SignatureStatus, error) {
	return c.signatureStatuses(ctx, sigs, false)
}

// SearchSignatureHistory is GetSignatureStatuses with the ledger history
// search enabled, for signatures older than the node's status cache.
func (c *Client) SearchSignatureHistory(ctx context.Context, sigs ...Signature) ([]*SignatureStatus, error) {
	return c.signatureStatuses(ctx, sigs, true)
}

func (c *Client) signatureStatuses(ctx context.Context, sigs []Signature, history bool) ([]*SignatureStatus, error) {
	strs := make([]string, len(sigs))
	for i, s := range sigs {
		strs[i] = s.String()
	}
	params := []any{strs}
	if history {
		params = append(params, map[string]bool{"searchTransactionHistory": true})
	}
	var out contextValue[[]*SignatureStatus]
	if err := c.Call(ctx, "getSignatureStatuses", params, &out); err != nil {
		return nil, err
	}
	if len(out.Value) != len(sigs) {
		return nil, &Error{Kind: KindMalformed, Method: "getSignatureStatuses",
			Err: fmt.Errorf("want %d statuses, got %d", len(sigs), len(out.Value))}
	}
	return out.Value, nil
}
