// Package withdrawal defines off-ramp requests and the fee/delay quote that
// the rank schedule produces for them.
package withdrawal

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/musclefoot/musclefoot/internal/host"
	"github.com/musclefoot/musclefoot/internal/rank"
)

// Status is the settlement status of a request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Quote is the fee and delay a withdrawal of Amount would incur at Rank.
type Quote struct {
	Amount     float64    `json:"amount"`
	FeePercent float64    `json:"fee_percent"`
	FeeAmount  float64    `json:"fee_amount"`
	NetAmount  float64    `json:"net_amount"`
	Rank       rank.Level `json:"rank"`
	DelayHours int        `json:"delay_hours"`
}

// NewQuote prices a withdrawal of amount under the schedule for lvl. The fee
// is computed in decimal so round percentages of round amounts stay exact.
func NewQuote(amount float64, lvl rank.Level) Quote {
	policy := lvl.Withdrawal()

	gross := decimal.NewFromFloat(amount)
	fee := gross.Mul(decimal.NewFromFloat(policy.FeePercent)).Div(decimal.NewFromInt(100))
	net := gross.Sub(fee)

	return Quote{
		Amount:     amount,
		FeePercent: policy.FeePercent,
		FeeAmount:  fee.InexactFloat64(),
		NetAmount:  net.InexactFloat64(),
		Rank:       lvl,
		DelayHours: policy.DelayHours,
	}
}

// Request is a submitted withdrawal. Everything but Status is fixed at
// submission; Status is moved to Completed by external settlement.
type Request struct {
	ID              string        `json:"id"`
	Identity        host.Identity `json:"identity"`
	WalletAddress   string        `json:"wallet_address"`
	RequestedAmount float64       `json:"requested_amount"`
	FeePercent      float64       `json:"fee_percent"`
	FeeAmount       float64       `json:"fee_amount"`
	NetAmount       float64       `json:"net_amount"`
	RankAtRequest   rank.Level    `json:"rank_at_request"`
	DelayHours      int           `json:"delay_hours"`
	Status          Status        `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	AvailableAt     time.Time     `json:"available_at"`
}

// NewRequest materializes q into a request created at now. A zero delay
// completes immediately.
func NewRequest(q Quote, wallet string, now time.Time) Request {
	status := StatusPending
	if q.DelayHours == 0 {
		status = StatusCompleted
	}
	return Request{
		ID:              uuid.NewString(),
		WalletAddress:   wallet,
		RequestedAmount: q.Amount,
		FeePercent:      q.FeePercent,
		FeeAmount:       q.FeeAmount,
		NetAmount:       q.NetAmount,
		RankAtRequest:   q.Rank,
		DelayHours:      q.DelayHours,
		Status:          status,
		CreatedAt:       now,
		AvailableAt:     now.Add(time.Duration(q.DelayHours) * time.Hour),
	}
}
