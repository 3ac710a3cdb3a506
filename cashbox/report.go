/*
Package cashbox reconstructs point-in-time financial summaries and guards
expense entries.

DELAYED-PAYMENT PARTITIONING:
  For a window [from, to]:
    timely  = payments with PaymentDate in [from, to]
    real    = payments with RealDate in [from, to]
    delayed = real payments recorded outside
                - the window's calendar month, when from and to share a month
                - the window itself, otherwise
    income  = timely UNION delayed (by payment id, never summed twice)

  A payment entered in February but due in January is attributed back to a
  January report. A payment both due and entered inside the window is
  counted once.

RUNNING BALANCE:
  AllTimeTotal(to) replays every income source from core.Epoch to `to` using
  the same partitioning. It is never incremental.
    InitialBalance = AllTimeTotal(to) - WindowTotal
    CashboxBalance = AllTimeTotal(to) - AllTimeExpenses(to)

Reports read through Store.View, a single consistent snapshot.
*/
package cashbox

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/volan/membership-engine/core"
)

// Summary is a window report.
type Summary struct {
	Window core.Period

	// Subscription payments
	Timely             []core.Payment
	Delayed            []core.Payment
	Payments           []core.Payment // Timely UNION Delayed
	ByMethod           map[core.PaymentMethod]decimal.Decimal
	ByVertical         map[core.Vertical]decimal.Decimal
	SubscriptionIncome decimal.Decimal

	// Cash flow entries dated inside the window
	IncomeByCategory map[core.CashCategory]decimal.Decimal
	CashFlowIncome   decimal.Decimal
	Expenses         []core.CashFlowEntry
	ExpenseTotal     decimal.Decimal

	WindowTotal     decimal.Decimal // SubscriptionIncome + CashFlowIncome
	AllTimeTotal    decimal.Decimal
	InitialBalance  decimal.Decimal
	AllTimeExpenses decimal.Decimal
	CashboxBalance  decimal.Decimal
}

type Reporter struct {
	Store  core.Store
	Logger *slog.Logger
}

func NewReporter(store core.Store, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{Store: store, Logger: logger}
}

// Report builds the summary of window.
func (r *Reporter) Report(ctx context.Context, window core.Period) (*Summary, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	var s *Summary
	err := r.Store.View(ctx, func(tx core.Tx) error {
		var err error
		s, err = report(ctx, tx, window)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.Logger.Debug("cashbox report built",
		"window", window.String(), "payments", len(s.Payments),
		"window_total", s.WindowTotal, "cashbox_balance", s.CashboxBalance)
	return s, nil
}

// AllTimeTotal is the income replayed from core.Epoch through to.
func (r *Reporter) AllTimeTotal(ctx context.Context, to core.TimePoint) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.Store.View(ctx, func(tx core.Tx) error {
		var err error
		total, err = allTimeIncome(ctx, tx, to)
		return err
	})
	return total, err
}

func report(ctx context.Context, tx core.Tx, window core.Period) (*Summary, error) {
	s := &Summary{
		Window:           window,
		ByMethod:         map[core.PaymentMethod]decimal.Decimal{},
		ByVertical:       map[core.Vertical]decimal.Decimal{},
		IncomeByCategory: map[core.CashCategory]decimal.Decimal{},
	}

	timely, delayed, err := partitionWindow(ctx, tx, window)
	if err != nil {
		return nil, err
	}
	s.Timely, s.Delayed = timely, delayed
	s.Payments = Union(timely, delayed)
	for _, p := range s.Payments {
		s.ByMethod[p.Method] = s.ByMethod[p.Method].Add(p.Amount)
		s.ByVertical[p.Vertical] = s.ByVertical[p.Vertical].Add(p.Amount)
		s.SubscriptionIncome = s.SubscriptionIncome.Add(p.Amount)
	}

	entries, err := tx.ListCashFlow(ctx, core.CashFlowFilter{From: window.Start.Ptr(), To: window.End.Ptr()})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Direction == core.DirectionExpense {
			s.Expenses = append(s.Expenses, e)
			s.ExpenseTotal = s.ExpenseTotal.Add(e.Amount)
			continue
		}
		s.IncomeByCategory[e.Category] = s.IncomeByCategory[e.Category].Add(e.Amount)
		s.CashFlowIncome = s.CashFlowIncome.Add(e.Amount)
	}
	s.WindowTotal = s.SubscriptionIncome.Add(s.CashFlowIncome)

	if s.AllTimeTotal, err = allTimeIncome(ctx, tx, window.End); err != nil {
		return nil, err
	}
	if s.AllTimeExpenses, err = allTimeExpenses(ctx, tx, window.End); err != nil {
		return nil, err
	}
	s.InitialBalance = s.AllTimeTotal.Sub(s.WindowTotal)
	s.CashboxBalance = s.AllTimeTotal.Sub(s.AllTimeExpenses)
	return s, nil
}

// =============================================================================
// PARTITIONING
// =============================================================================

func partitionWindow(ctx context.Context, tx core.Tx, window core.Period) (timely, delayed []core.Payment, err error) {
	from, to := window.Start.Ptr(), window.End.Ptr()
	byPayment, err := tx.ListPayments(ctx, core.PaymentFilter{PaymentFrom: from, PaymentTo: to})
	if err != nil {
		return nil, nil, err
	}
	byReal, err := tx.ListPayments(ctx, core.PaymentFilter{RealFrom: from, RealTo: to})
	if err != nil {
		return nil, nil, err
	}
	timely, delayed = Partition(Union(byPayment, byReal), window)
	return timely, delayed, nil
}

// Partition splits payments into the timely and delayed sets of window.
// A payment may belong to both.
func Partition(payments []core.Payment, window core.Period) (timely, delayed []core.Payment) {
	recorded := window
	if window.SingleMonth() {
		recorded = window.Month()
	}
	for _, p := range payments {
		if window.Contains(p.PaymentDate) {
			timely = append(timely, p)
		}
		if p.RealDate != nil && window.Contains(*p.RealDate) && !recorded.Contains(p.PaymentDate) {
			delayed = append(delayed, p)
		}
	}
	return timely, delayed
}

// Union merges payment sets by id, keeping first-seen order.
func Union(sets ...[]core.Payment) []core.Payment {
	seen := make(map[core.PaymentID]bool)
	var out []core.Payment
	for _, set := range sets {
		for _, p := range set {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out
}

// =============================================================================
// ALL-TIME REPLAY
// =============================================================================

func allTimeIncome(ctx context.Context, tx core.Tx, to core.TimePoint) (decimal.Decimal, error) {
	window := core.Period{Start: core.Epoch, End: to}
	timely, delayed, err := partitionWindow(ctx, tx, window)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range Union(timely, delayed) {
		total = total.Add(p.Amount)
	}

	income, err := tx.ListCashFlow(ctx, core.CashFlowFilter{From: core.Epoch.Ptr(), To: to.Ptr(), Direction: core.DirectionIncome})
	if err != nil {
		return decimal.Zero, err
	}
	for _, e := range income {
		total = total.Add(e.Amount)
	}
	return total, nil
}

func allTimeExpenses(ctx context.Context, tx core.Tx, to core.TimePoint) (decimal.Decimal, error) {
	expenses, err := tx.ListCashFlow(ctx, core.CashFlowFilter{From: core.Epoch.Ptr(), To: to.Ptr(), Direction: core.DirectionExpense})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return total, nil
}

// sortedKeys returns map keys in lexical order for stable output.
func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
