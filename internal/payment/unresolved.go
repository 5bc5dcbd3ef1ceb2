package payment

import (
	"context"
	"time"

	"github.com/musclefoot/musclefoot/internal/cache"
	"github.com/musclefoot/musclefoot/internal/notify"
	"github.com/musclefoot/musclefoot/internal/solana"
)

// UnresolvedKey is the cache key holding broadcast payments whose
// confirmation timed out.
const UnresolvedKey = "mf-unresolved-payments"

// Unresolved is a broadcast transaction that was never seen to land. It is
// re-checked until it lands, fails, or ages out of the late window.
type Unresolved struct {
	Signature   solana.Signature `json:"signature"`
	Purchase    Purchase         `json:"purchase"`
	BroadcastAt time.Time        `json:"broadcast_at"`
}

// Unresolved returns the timed-out payments still being re-checked.
func (c *Coordinator) Unresolved() []Unresolved {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Unresolved, len(c.unresolved))
	copy(out, c.unresolved)
	return out
}

// ReconcileUnresolved re-checks timed-out payments. One that has since
// landed successfully gets its effect applied; one that failed on chain or
// aged past the late window is dropped. Each entry is removed before its
// effect is applied, so an effect is never applied twice. It returns how
// many payments were applied.
func (c *Coordinator) ReconcileUnresolved(ctx context.Context) (int, error) {
	pending := c.Unresolved()
	if len(pending) == 0 {
		return 0, nil
	}

	sigs := make([]solana.Signature, len(pending))
	for i, u := range pending {
		sigs[i] = u.Signature
	}
	statuses, err := c.rpc.SearchSignatureHistory(ctx, sigs...)
	if err != nil {
		return 0, newError(ErrNetworkUnavailable, err)
	}

	now := c.clock.Now()
	applied := 0
	for i, u := range pending {
		var st *solana.SignatureStatus
		if i < len(statuses) {
			st = statuses[i]
		}
		switch {
		case st != nil && st.Landed() && st.Failed():
			c.removeUnresolved(u.Signature)
			c.logger.Warn("unresolved payment failed on chain", "signature", u.Signature.String())
		case st != nil && st.Landed():
			if !c.removeUnresolved(u.Signature) {
				continue
			}
			c.logger.Info("unresolved payment landed late", "signature", u.Signature.String(), "purchase", u.Purchase.String())
			c.settle(ctx, u.Purchase)
			applied++
		case c.cfg.LateWindow > 0 && now.Sub(u.BroadcastAt) > c.cfg.LateWindow:
			c.removeUnresolved(u.Signature)
			c.logger.Warn("abandoning unresolved payment", "signature", u.Signature.String(), "age", now.Sub(u.BroadcastAt).String())
			c.notifier.Notify(notify.Notification{Kind: notify.KindError, Reason: notify.ReasonTimedOut,
				Title: "Payment could not be confirmed",
				Message: "Transaction " + u.Signature.String() + " was never confirmed. Check it in a block explorer."})
		}
	}
	return applied, nil
}

func (c *Coordinator) addUnresolved(u Unresolved) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unresolved = append(c.unresolved, u)
	c.persistUnresolvedLocked()
}

func (c *Coordinator) removeUnresolved(sig solana.Signature) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, u := range c.unresolved {
		if u.Signature == sig {
			c.unresolved = append(c.unresolved[:i:i], c.unresolved[i+1:]...)
			c.persistUnresolvedLocked()
			return true
		}
	}
	return false
}

func (c *Coordinator) loadUnresolved() {
	if c.cache == nil {
		return
	}
	if _, err := cache.GetJSON(c.cache, UnresolvedKey, &c.unresolved); err != nil {
		c.logger.Warn("discarding unreadable unresolved payments", "err", err)
		c.unresolved = nil
	}
}

func (c *Coordinator) persistUnresolvedLocked() {
	if c.cache == nil {
		return
	}
	var err error
	if len(c.unresolved) == 0 {
		err = c.cache.Remove(UnresolvedKey)
	} else {
		err = cache.SetJSON(c.cache, UnresolvedKey, c.unresolved)
	}
	if err != nil {
		c.logger.Error("persisting unresolved payments failed", "err", err)
	}
}
