// Package solana is a minimal Solana client: base58 keys, the legacy
// transfer transaction wire format, and the JSON-RPC methods the payment
// flow needs.
package solana

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

const (
	PublicKeySize = 32
	SignatureSize = 64
	HashSize      = 32

	LamportsPerSOL = 1_000_000_000
)

// ErrInvalidAmount is returned for negative or unrepresentable SOL amounts.
var ErrInvalidAmount = errors.New("invalid SOL amount")

// PublicKey is an account address.
type PublicKey [PublicKeySize]byte

// SystemProgramID is the address of the System Program (all zero bytes).
var SystemProgramID PublicKey

// PublicKeyFromBase58 parses a base58 address.
func PublicKeyFromBase58(s string) (PublicKey, error) {
	var pk PublicKey
	if err := decodeFixed(s, pk[:]); err != nil {
		return PublicKey{}, fmt.Errorf("invalid public key %q: %w", s, err)
	}
	return pk, nil
}

// MustPublicKey parses s and panics on error. For constants.
func MustPublicKey(s string) PublicKey {
	pk, err := PublicKeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (pk PublicKey) String() string { return base58.Encode(pk[:]) }

// IsZero reports whether pk is the zero key.
func (pk PublicKey) IsZero() bool { return pk == PublicKey{} }

// MarshalText implements encoding.TextMarshaler.
func (pk PublicKey) MarshalText() ([]byte, error) { return []byte(pk.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *PublicKey) UnmarshalText(b []byte) error {
	parsed, err := PublicKeyFromBase58(string(b))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// Signature is an ed25519 transaction signature; the first one identifies
// the transaction.
type Signature [SignatureSize]byte

// SignatureFromBase58 parses a base58 signature.
func SignatureFromBase58(s string) (Signature, error) {
	var sig Signature
	if err := decodeFixed(s, sig[:]); err != nil {
		return Signature{}, fmt.Errorf("invalid signature %q: %w", s, err)
	}
	return sig, nil
}

func (s Signature) String() string { return base58.Encode(s[:]) }

// IsZero reports whether s is unset.
func (s Signature) IsZero() bool { return s == Signature{} }

// MarshalText implements encoding.TextMarshaler.
func (s Signature) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(b []byte) error {
	parsed, err := SignatureFromBase58(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Hash is a recent blockhash.
type Hash [HashSize]byte

// HashFromBase58 parses a base58 blockhash.
func HashFromBase58(s string) (Hash, error) {
	var h Hash
	if err := decodeFixed(s, h[:]); err != nil {
		return Hash{}, fmt.Errorf("invalid blockhash %q: %w", s, err)
	}
	return h, nil
}

func (h Hash) String() string { return base58.Encode(h[:]) }

func decodeFixed(s string, dst []byte) error {
	raw, err := base58.Decode(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("want %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}

// SOLToLamports converts a SOL amount to lamports, rounding to the nearest
// lamport.
func SOLToLamports(sol decimal.Decimal) (uint64, error) {
	if sol.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, sol)
	}
	lamports := sol.Mul(decimal.NewFromInt(LamportsPerSOL)).Round(0)
	if !lamports.BigInt().IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, sol)
	}
	return lamports.BigInt().Uint64(), nil
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), 0).Div(decimal.NewFromInt(LamportsPerSOL))
}
