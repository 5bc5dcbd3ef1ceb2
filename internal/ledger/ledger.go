// Package ledger records withdrawal requests: the points are burned through
// the progression store and the request is appended to the remote record
// list, which is read back newest first.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/musclefoot/musclefoot/internal/progression"
	"github.com/musclefoot/musclefoot/internal/withdrawal"
)

// ErrIdentityRequired is returned when the player has no host identity to
// key the record by.
var ErrIdentityRequired = errors.New("withdrawals require a host identity")

// Records is the withdrawal record collaborator.
type Records interface {
	Insert(ctx context.Context, req withdrawal.Request) error
	ListByIdentity(ctx context.Context, telegramID int64) ([]withdrawal.Request, error)
}

// Ledger submits withdrawals for one player.
type Ledger struct {
	store   *progression.Store
	records Records
	logger  *slog.Logger
}

// New creates a Ledger.
func New(store *progression.Store, records Records, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, records: records, logger: logger}
}

// Submit debits amount from the player's points and records the request.
// If the record cannot be stored the debit is credited back and the error
// returned, so points are only burned for requests that exist remotely.
func (l *Ledger) Submit(ctx context.Context, amount float64) (withdrawal.Request, error) {
	if l.store.Snapshot().Identity == nil {
		return withdrawal.Request{}, ErrIdentityRequired
	}

	req, err := l.store.RequestWithdrawal(amount)
	if err != nil {
		return withdrawal.Request{}, err
	}

	if err := l.records.Insert(ctx, req); err != nil {
		l.store.RevertWithdrawal(req)
		return withdrawal.Request{}, fmt.Errorf("recording withdrawal: %w", err)
	}

	l.logger.Info("withdrawal submitted",
		"player", req.Identity.Key(), "id", req.ID, "amount", req.RequestedAmount, "net", req.NetAmount, "status", req.Status)
	return req, nil
}

// History returns the player's withdrawals, newest first.
func (l *Ledger) History(ctx context.Context) ([]withdrawal.Request, error) {
	id := l.store.Snapshot().Identity
	if id == nil {
		return nil, ErrIdentityRequired
	}
	reqs, err := l.records.ListByIdentity(ctx, id.ID)
	if err != nil {
		return nil, fmt.Errorf("listing withdrawals: %w", err)
	}
	return reqs, nil
}
