// Package wallet is the signing capability the payment flow drives, plus a
// keypair implementation holding a generated or imported ed25519 key.
package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/musclefoot/musclefoot/internal/cache"
	"github.com/musclefoot/musclefoot/internal/solana"
)

var (
	// ErrUserRejected means the holder declined to connect or sign.
	ErrUserRejected = errors.New("wallet request rejected by user")
	// ErrConnectPending means no key is available yet; the connection will
	// complete later and be announced to OnConnect listeners.
	ErrConnectPending = errors.New("wallet connection pending")
	// ErrNotConnected is returned when signing without a connection.
	ErrNotConnected = errors.New("wallet not connected")
	// ErrInvalidSecret is returned by Import for undecodable keys.
	ErrInvalidSecret = errors.New("invalid wallet secret key")
)

// Wallet is the signing capability.
type Wallet interface {
	Connect(ctx context.Context) (solana.PublicKey, error)
	Disconnect(ctx context.Context) error
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
	Connected() bool
	PublicKey() (solana.PublicKey, bool)
	OnConnect(fn func(solana.PublicKey))
}

// SecretCacheKey is the cache key holding the hex secret key.
const SecretCacheKey = "mf-wallet-secret"

// Keypair is a Wallet backed by an ed25519 key kept in the cache. Until a
// key is generated or imported, Connect reports ErrConnectPending; loading a
// key completes the connection and notifies listeners.
type Keypair struct {
	mu        sync.Mutex
	cache     cache.Cache
	key       ed25519.PrivateKey
	connected bool
	listeners []func(solana.PublicKey)
}

// NewKeypair creates a Keypair, restoring a previously stored key. A
// restored key starts connected.
func NewKeypair(c cache.Cache) (*Keypair, error) {
	k := &Keypair{cache: c}
	if c == nil {
		return k, nil
	}
	secret, ok, err := c.Get(SecretCacheKey)
	if err != nil {
		return nil, fmt.Errorf("reading wallet secret: %w", err)
	}
	if ok {
		key, err := parseSecret(secret)
		if err != nil {
			return nil, err
		}
		k.key = key
		k.connected = true
	}
	return k, nil
}

// Generate creates a fresh key and connects with it.
func (k *Keypair) Generate() (solana.PublicKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("generating key: %w", err)
	}
	return k.load(key)
}

// Import loads a hex-encoded secret: either the 64-byte secret key or the
// 32-byte seed.
func (k *Keypair) Import(secret string) (solana.PublicKey, error) {
	key, err := parseSecret(secret)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return k.load(key)
}

// ExportSecret returns the hex secret key for backup.
func (k *Keypair) ExportSecret() (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key == nil {
		return "", false
	}
	return hex.EncodeToString(k.key), true
}

func (k *Keypair) load(key ed25519.PrivateKey) (solana.PublicKey, error) {
	if k.cache != nil {
		if err := k.cache.Set(SecretCacheKey, hex.EncodeToString(key)); err != nil {
			return solana.PublicKey{}, fmt.Errorf("storing wallet secret: %w", err)
		}
	}

	k.mu.Lock()
	k.key = key
	k.connected = true
	pk := publicKey(key)
	listeners := append([]func(solana.PublicKey){}, k.listeners...)
	k.mu.Unlock()

	for _, fn := range listeners {
		fn(pk)
	}
	return pk, nil
}

// Connect implements Wallet.
func (k *Keypair) Connect(context.Context) (solana.PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key == nil {
		return solana.PublicKey{}, ErrConnectPending
	}
	k.connected = true
	return publicKey(k.key), nil
}

// Disconnect implements Wallet. The key is forgotten.
func (k *Keypair) Disconnect(context.Context) error {
	k.mu.Lock()
	k.key = nil
	k.connected = false
	k.mu.Unlock()

	if k.cache != nil {
		if err := k.cache.Remove(SecretCacheKey); err != nil {
			return fmt.Errorf("removing wallet secret: %w", err)
		}
	}
	return nil
}

// SignTransaction implements Wallet. The input is not modified.
func (k *Keypair) SignTransaction(_ context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	k.mu.Lock()
	key, connected := k.key, k.connected
	k.mu.Unlock()
	if !connected || key == nil {
		return nil, ErrNotConnected
	}

	signed := *tx
	signed.Signatures = append([]solana.Signature(nil), tx.Signatures...)
	if err := signed.Sign(key); err != nil {
		return nil, err
	}
	return &signed, nil
}

// Connected implements Wallet.
func (k *Keypair) Connected() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.connected
}

// PublicKey implements Wallet.
func (k *Keypair) PublicKey() (solana.PublicKey, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key == nil {
		return solana.PublicKey{}, false
	}
	return publicKey(k.key), true
}

// OnConnect implements Wallet.
func (k *Keypair) OnConnect(fn func(solana.PublicKey)) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.listeners = append(k.listeners, fn)
}

func publicKey(key ed25519.PrivateKey) solana.PublicKey {
	var pk solana.PublicKey
	copy(pk[:], key.Public().(ed25519.PublicKey))
	return pk
}

func parseSecret(secret string) (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(secret), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !key.Equal(ed25519.PrivateKey(raw)) {
			return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidSecret)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: want %d or %d bytes, got %d",
			ErrInvalidSecret, ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}
