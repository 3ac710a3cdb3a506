/*
ledger.go - Append-only money and hour log

PURPOSE:
  The Ledger is the only code path that writes payments, balance history
  and cash-flow entries. It validates each row, assigns an id and hands it
  to the Tx. Totals, last payment date and channel balances are always
  recomputed from these rows.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. CHAINING: BalanceAfter = BalanceBefore + Delta on every history row,
     and BalanceBefore equals the replayed balance of the channel.
  3. LATEST PAYMENT: greatest RealDate when any payment has one,
     otherwise greatest PaymentDate.
*/
package core

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	NewID func() string
}

func NewLedger() *Ledger {
	return &Ledger{NewID: uuid.NewString}
}

// PaymentInput carries the caller-supplied part of a payment row.
type PaymentInput struct {
	PaymentDate TimePoint
	RealDate    *TimePoint
	Amount      decimal.Decimal
	Method      PaymentMethod
	Note        string
}

// AppendPayment writes one immutable payment for sub.
func (l *Ledger) AppendPayment(ctx context.Context, tx Tx, sub Subscription, in PaymentInput) (Payment, error) {
	if in.Amount.IsNegative() {
		return Payment{}, Invalid("amount", "must not be negative, got %s", in.Amount)
	}
	if in.PaymentDate.IsZero() {
		return Payment{}, Invalid("payment_date", "required")
	}
	if in.Method == "" {
		in.Method = MethodCash
	}
	if !in.Method.Valid() {
		return Payment{}, Invalid("method", "unknown payment method %q", in.Method)
	}

	p := Payment{
		ID:             PaymentID(l.NewID()),
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		Vertical:       sub.Vertical,
		PaymentDate:    in.PaymentDate,
		RealDate:       in.RealDate,
		Amount:         in.Amount,
		Method:         in.Method,
		Note:           in.Note,
		CreatedAt:      in.PaymentDate,
	}
	if err := tx.AppendPayment(ctx, p); err != nil {
		return Payment{}, err
	}
	return p, nil
}

// PaymentsFor returns every payment of a subscription.
func (l *Ledger) PaymentsFor(ctx context.Context, tx Tx, id SubscriptionID) ([]Payment, error) {
	return tx.ListPayments(ctx, PaymentFilter{SubscriptionID: id})
}

// LatestPayment applies the fallback rule. Returns nil for no payments.
func LatestPayment(payments []Payment) *Payment {
	var byReal, byPayment *Payment
	for i := range payments {
		p := &payments[i]
		if p.RealDate != nil && (byReal == nil || p.RealDate.After(*byReal.RealDate)) {
			byReal = p
		}
		if byPayment == nil || p.PaymentDate.After(byPayment.PaymentDate) {
			byPayment = p
		}
	}
	if byReal != nil {
		return byReal
	}
	return byPayment
}

// AppendBalanceHistory writes one history row after checking that it chains
// onto the channel's replayed balance.
func (l *Ledger) AppendBalanceHistory(ctx context.Context, tx Tx, e HistoryEntry) (HistoryEntry, error) {
	if !e.Type.Valid() {
		return HistoryEntry{}, Invalid("type", "unknown history type %q", e.Type)
	}
	if e.CustomerID == "" || e.ChannelID == "" {
		return HistoryEntry{}, Invalid("channel", "customer and channel are required")
	}
	if !e.BalanceBefore.Add(e.Delta).Equal(e.BalanceAfter) {
		return HistoryEntry{}, Invalid("balance_after", "%s + %s != %s", e.BalanceBefore, e.Delta, e.BalanceAfter)
	}
	history, err := tx.HistoryFor(ctx, e.CustomerID)
	if err != nil {
		return HistoryEntry{}, err
	}
	current := ChannelBalances(history)[e.ChannelID]
	if !current.Equal(e.BalanceBefore) {
		return HistoryEntry{}, Invalid("balance_before", "channel %s is at %s, entry says %s", e.ChannelID, current, e.BalanceBefore)
	}
	if e.ID == "" {
		e.ID = EntryID(l.NewID())
	}
	return tx.AppendHistory(ctx, e)
}

// AppendCashFlow writes one cash-flow row.
func (l *Ledger) AppendCashFlow(ctx context.Context, tx Tx, e CashFlowEntry) (CashFlowEntry, error) {
	if err := e.Validate(); err != nil {
		return CashFlowEntry{}, err
	}
	if e.ID == "" {
		e.ID = CashFlowID(l.NewID())
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = e.Date
	}
	if err := tx.AppendCashFlow(ctx, e); err != nil {
		return CashFlowEntry{}, err
	}
	return e, nil
}

// =============================================================================
// REPLAY
// =============================================================================

// ChannelBalances replays history into per-channel balances.
func ChannelBalances(history []HistoryEntry) map[ChannelID]decimal.Decimal {
	out := make(map[ChannelID]decimal.Decimal)
	for _, e := range history {
		out[e.ChannelID] = out[e.ChannelID].Add(e.Delta)
	}
	return out
}

// ChannelHours replays history into per-channel hour balances. Unlike the
// unit replay it never divides, so a partially drawn channel keeps its exact
// hour count.
func ChannelHours(history []HistoryEntry) map[ChannelID]decimal.Decimal {
	out := make(map[ChannelID]decimal.Decimal)
	for _, e := range history {
		out[e.ChannelID] = out[e.ChannelID].Add(e.Hours)
	}
	return out
}

// SumPayments totals payment amounts.
func SumPayments(payments []Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}
