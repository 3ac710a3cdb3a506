package cashbox

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volan/membership-engine/core"
	"github.com/volan/membership-engine/core/store"
	"github.com/xuri/excelize/v2"
)

func d(s string) core.TimePoint { return core.MustParseDate(s) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func payment(id, paid, due string, amount string, method core.PaymentMethod) core.Payment {
	p := core.Payment{
		ID:             core.PaymentID(id),
		SubscriptionID: "s1",
		CustomerID:     "c1",
		Vertical:       core.VerticalBadminton,
		PaymentDate:    d(paid),
		Amount:         dec(amount),
		Method:         method,
		CreatedAt:      d(paid),
	}
	if due != "" {
		p.RealDate = d(due).Ptr()
	}
	return p
}

func ids(ps []core.Payment) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, string(p.ID))
	}
	return out
}

func seedPayments(t *testing.T, s core.Store, ps ...core.Payment) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(tx core.Tx) error {
		for _, p := range ps {
			if err := tx.AppendPayment(context.Background(), p); err != nil {
				return err
			}
		}
		return nil
	}))
}

func income(date, amount string, cat core.CashCategory) core.CashFlowEntry {
	return core.CashFlowEntry{Date: d(date), Amount: dec(amount), Direction: core.DirectionIncome, Category: cat}
}

func expense(date, amount string) core.CashFlowEntry {
	return core.CashFlowEntry{Date: d(date), Amount: dec(amount), Direction: core.DirectionExpense, Category: core.CategoryOther}
}

// =============================================================================
// PARTITIONING
// =============================================================================

func TestPartition_SingleMonthUsesCalendarMonth(t *testing.T) {
	// GIVEN: A window inside January, [Jan 10, Jan 20]
	//   a: entered Jan 15, due Jan 15 (timely and due inside)
	//   b: entered Feb 3, due Jan 18 (entered next month)
	//   c: entered Jan 5, due Jan 12 (entered same month, before the window)
	// WHEN: Partitioning
	// THEN: a is timely, b is delayed, c is neither; union counts a once

	window := core.Period{Start: d("2024-01-10"), End: d("2024-01-20")}
	a := payment("a", "2024-01-15", "2024-01-15", "100", core.MethodCash)
	b := payment("b", "2024-02-03", "2024-01-18", "80", core.MethodCard)
	c := payment("c", "2024-01-05", "2024-01-12", "60", core.MethodCash)

	timely, delayed := Partition([]core.Payment{a, b, c}, window)
	assert.Equal(t, []string{"a"}, ids(timely))
	assert.Equal(t, []string{"b"}, ids(delayed))
	assert.Equal(t, []string{"a", "b"}, ids(Union(timely, delayed)))
}

func TestPartition_MultiMonthUsesWindow(t *testing.T) {
	// GIVEN: A window spanning two months, [Jan 10, Feb 20]
	//   c: entered Jan 5, due Jan 12
	// WHEN: Partitioning
	// THEN: c is delayed (no month-boundary narrowing)

	window := core.Period{Start: d("2024-01-10"), End: d("2024-02-20")}
	c := payment("c", "2024-01-05", "2024-01-12", "60", core.MethodCash)

	timely, delayed := Partition([]core.Payment{c}, window)
	assert.Empty(t, timely)
	assert.Equal(t, []string{"c"}, ids(delayed))
}

func TestPartition_BothSetsCountOnce(t *testing.T) {
	// GIVEN: A payment entered Jan 31 due Feb 1, window [Jan 1, Feb 29]
	// WHEN: Reporting
	// THEN: It is in the timely set only, income counts it once

	s := store.NewMemory()
	seedPayments(t, s, payment("x", "2024-01-31", "2024-02-01", "100", core.MethodCash))

	sum, err := NewReporter(s, nil).Report(context.Background(), core.Period{Start: d("2024-01-01"), End: d("2024-02-29")})
	require.NoError(t, err)
	assert.Len(t, sum.Payments, 1)
	assert.True(t, dec("100").Equal(sum.SubscriptionIncome))
}

// =============================================================================
// REPORT
// =============================================================================

func TestReport_TotalsAndBalances(t *testing.T) {
	// GIVEN: December payments and cash flow before a January window,
	//        January payments (one late-entered in February) and entries
	// WHEN: Reporting January
	// THEN: Window, all-time and initial balance add up

	s := store.NewMemory()
	seedPayments(t, s,
		payment("dec", "2023-12-01", "2023-12-01", "100", core.MethodCash),
		payment("jan", "2024-01-01", "2024-01-01", "100", core.MethodCash),
		payment("jan-card", "2024-01-10", "2024-01-10", "50", core.MethodCard),
		payment("late", "2024-02-02", "2024-01-28", "70", core.MethodCash),
	)
	book := NewBook(s, nil)
	ctx := context.Background()
	_, err := book.Record(ctx, income("2023-12-15", "40", core.CategoryBadmintonSale))
	require.NoError(t, err)
	_, err = book.Record(ctx, income("2024-01-12", "25", core.CategoryBadmintonLesson))
	require.NoError(t, err)
	_, err = book.Record(ctx, expense("2024-01-20", "15"))
	require.NoError(t, err)

	sum, err := NewReporter(s, nil).Report(ctx, core.Period{Start: d("2024-01-01"), End: d("2024-01-31")})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"jan", "jan-card", "late"}, ids(sum.Payments))
	assert.True(t, dec("220").Equal(sum.SubscriptionIncome))
	assert.True(t, dec("170").Equal(sum.ByMethod[core.MethodCash]))
	assert.True(t, dec("50").Equal(sum.ByMethod[core.MethodCard]))
	assert.True(t, dec("220").Equal(sum.ByVertical[core.VerticalBadminton]))
	assert.True(t, dec("25").Equal(sum.IncomeByCategory[core.CategoryBadmintonLesson]))
	assert.True(t, dec("15").Equal(sum.ExpenseTotal))
	assert.True(t, dec("245").Equal(sum.WindowTotal))

	// dec 100 + sale 40 + window 245; "late" is attributed back to January
	assert.True(t, dec("385").Equal(sum.AllTimeTotal), "all time %s", sum.AllTimeTotal)
	assert.True(t, dec("140").Equal(sum.InitialBalance), "initial %s", sum.InitialBalance)
	assert.True(t, dec("370").Equal(sum.CashboxBalance), "cashbox %s", sum.CashboxBalance)
}

func TestReport_InvalidWindow(t *testing.T) {
	_, err := NewReporter(store.NewMemory(), nil).Report(context.Background(), core.Period{Start: d("2024-02-01"), End: d("2024-01-01")})
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestAllTimeTotal_FullReplay(t *testing.T) {
	s := store.NewMemory()
	seedPayments(t, s,
		payment("p1", "2020-03-01", "", "10", core.MethodCash),
		payment("p2", "2024-01-01", "", "20", core.MethodCash),
	)
	r := NewReporter(s, nil)

	total, err := r.AllTimeTotal(context.Background(), d("2023-12-31"))
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(total))

	total, err = r.AllTimeTotal(context.Background(), d("2024-01-01"))
	require.NoError(t, err)
	assert.True(t, dec("30").Equal(total))
}

// =============================================================================
// EXPENSE GUARD
// =============================================================================

func TestRecord_ExpenseGuard(t *testing.T) {
	// GIVEN: All-time income minus expenses = 30
	// WHEN: Recording an expense of 50
	// THEN: Rejected with InsufficientBalance, balance still 30; 30 is accepted

	s := store.NewMemory()
	book := NewBook(s, nil)
	ctx := context.Background()
	_, err := book.Record(ctx, income("2024-01-02", "40", core.CategoryOther))
	require.NoError(t, err)
	_, err = book.Record(ctx, expense("2024-01-03", "10"))
	require.NoError(t, err)

	_, err = book.Record(ctx, expense("2024-01-04", "50"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInsufficientBalance))
	var ie *core.InsufficientBalanceError
	require.True(t, errors.As(err, &ie))
	assert.True(t, dec("30").Equal(ie.Available))

	r := NewReporter(s, nil)
	sum, err := r.Report(ctx, core.Period{Start: d("2024-01-01"), End: d("2024-01-31")})
	require.NoError(t, err)
	assert.True(t, dec("30").Equal(sum.CashboxBalance))

	_, err = book.Record(ctx, expense("2024-01-04", "30"))
	require.NoError(t, err)
}

func TestRecord_SubscriptionPaymentsCountAsIncome(t *testing.T) {
	s := store.NewMemory()
	seedPayments(t, s, payment("p", "2024-01-01", "2024-01-01", "100", core.MethodCash))

	_, err := NewBook(s, nil).Record(context.Background(), expense("2024-01-02", "60"))
	require.NoError(t, err)
}

func TestRecord_Validation(t *testing.T) {
	book := NewBook(store.NewMemory(), nil)
	ctx := context.Background()

	_, err := book.Record(ctx, income("2024-01-02", "0", core.CategoryOther))
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = book.Record(ctx, core.CashFlowEntry{Date: d("2024-01-02"), Amount: dec("5"), Direction: core.DirectionIncome, Category: "lottery"})
	assert.True(t, errors.Is(err, core.ErrValidation))
}

// =============================================================================
// EXPORT
// =============================================================================

func TestExportXLSX(t *testing.T) {
	s := store.NewMemory()
	seedPayments(t, s,
		payment("jan", "2024-01-01", "2024-01-01", "100", core.MethodCash),
		payment("late", "2024-02-02", "2024-01-28", "70", core.MethodCard),
	)
	sum, err := NewReporter(s, nil).Report(context.Background(), core.Period{Start: d("2024-01-01"), End: d("2024-01-31")})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ExportXLSX(&buf, sum))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{summarySheet, paymentsSheet, expenseSheet}, f.GetSheetList())

	rows, err := f.GetRows(paymentsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "payment_id", rows[0][0])
	assert.Equal(t, "late", rows[2][0])
	assert.Equal(t, "delayed", rows[2][8])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"from", "2024-01-01"}, summary[0])
}
