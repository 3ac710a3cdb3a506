package balance

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volan/membership-engine/core"
	"github.com/volan/membership-engine/core/store"
)

var (
	jan1  = core.MustParseDate("2024-01-01")
	jan15 = core.MustParseDate("2024-01-15")
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got}, msgAndArgs...)...)
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(store.NewMemory(), nil)
}

// seed gives customer c1 one 10-unit badminton package and 5 base hours.
func seed(t *testing.T, e *Engine) core.Channel {
	t.Helper()
	ctx := context.Background()
	ch, err := e.OpenPackage(ctx, PackageRequest{
		CustomerID: "c1",
		Vertical:   core.VerticalBadminton,
		Name:       "Monthly 10",
		Units:      dec("10"),
		AsOf:       jan1,
	})
	require.NoError(t, err)
	_, err = e.Credit(ctx, CreditRequest{
		CustomerID: "c1",
		Hours:      dec("5"),
		Type:       core.HistoryPurchase,
		AsOf:       jan1,
	})
	require.NoError(t, err)
	return ch
}

// =============================================================================
// CONSUME
// =============================================================================

func TestConsume_MonthlyFirstThenBase(t *testing.T) {
	// GIVEN: 10 units on a monthly channel (factor 1) and 5 base hours
	// WHEN: Consuming 12 hours
	// THEN: Channel goes 10 -> 0, base goes 5 -> 3, channel row first

	e := newEngine(t)
	ch := seed(t, e)

	res, err := e.Consume(context.Background(), ConsumeRequest{
		CustomerID: "c1",
		Vertical:   core.VerticalBadminton,
		Hours:      dec("12"),
		AsOf:       jan15,
	})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)

	assert.Equal(t, ch.ID, res.Entries[0].ChannelID)
	assertDec(t, "-10", res.Entries[0].Delta)
	assertDec(t, "10", res.Entries[0].BalanceBefore)
	assertDec(t, "0", res.Entries[0].BalanceAfter)

	assert.Equal(t, core.BaseChannel, res.Entries[1].ChannelID)
	assertDec(t, "-2", res.Entries[1].Delta)
	assertDec(t, "5", res.Entries[1].BalanceBefore)
	assertDec(t, "3", res.Entries[1].BalanceAfter)
	assert.Less(t, res.Entries[0].Seq, res.Entries[1].Seq)
}

func TestConsume_InsufficientWritesNothing(t *testing.T) {
	// GIVEN: The balances left by a 12 hour consumption (0 monthly, 3 base)
	// WHEN: Consuming 20 hours
	// THEN: InsufficientBalanceError with shortfall 17; base still 3, no new rows

	e := newEngine(t)
	seed(t, e)
	ctx := context.Background()
	_, err := e.Consume(ctx, ConsumeRequest{CustomerID: "c1", Vertical: core.VerticalBadminton, Hours: dec("12"), AsOf: jan15})
	require.NoError(t, err)
	before, err := e.History(ctx, "c1")
	require.NoError(t, err)

	_, err = e.Consume(ctx, ConsumeRequest{CustomerID: "c1", Vertical: core.VerticalBadminton, Hours: dec("20"), AsOf: jan15})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInsufficientBalance))
	var ie *core.InsufficientBalanceError
	require.True(t, errors.As(err, &ie))
	assertDec(t, "17", ie.Shortfall)
	assertDec(t, "3", ie.Available)

	after, err := e.History(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, after, len(before))

	avail, err := e.Available(ctx, "c1", core.VerticalBadminton, jan15)
	require.NoError(t, err)
	assertDec(t, "3", avail.BaseHours)
	assertDec(t, "3", avail.TotalHours)
}

func TestConsume_PartialDrawLeavesChannelOpen(t *testing.T) {
	// GIVEN: 10 units on a channel with factor 2 (20 hours)
	// WHEN: Consuming 5 hours
	// THEN: 2.5 units are drawn, base untouched

	e := newEngine(t)
	ctx := context.Background()
	_, err := e.OpenPackage(ctx, PackageRequest{
		CustomerID: "c1", Vertical: core.VerticalBasketball, Units: dec("10"),
		DeductionFactor: dec("2"), AsOf: jan1,
	})
	require.NoError(t, err)

	res, err := e.Consume(ctx, ConsumeRequest{CustomerID: "c1", Vertical: core.VerticalBasketball, Hours: dec("5"), AsOf: jan15})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assertDec(t, "-2.5", res.Entries[0].Delta)
	assertDec(t, "-5", res.Entries[0].Hours)
	assertDec(t, "7.5", res.Entries[0].BalanceAfter)
}

func TestConsume_UnevenFactorDrainsExactly(t *testing.T) {
	// GIVEN: 10 units at factor 1.5 (15 hours)
	// WHEN: Consuming 1 hour, then 14 hours
	// THEN: 14 hours remain after the first draw, nothing after the second

	e := newEngine(t)
	ctx := context.Background()
	_, err := e.OpenPackage(ctx, PackageRequest{
		CustomerID: "c1", Vertical: core.VerticalBasketball, Units: dec("10"),
		DeductionFactor: dec("1.5"), AsOf: jan1,
	})
	require.NoError(t, err)

	_, err = e.Consume(ctx, ConsumeRequest{CustomerID: "c1", Vertical: core.VerticalBasketball, Hours: dec("1"), AsOf: jan15})
	require.NoError(t, err)
	avail, err := e.Available(ctx, "c1", core.VerticalBasketball, jan15)
	require.NoError(t, err)
	assertDec(t, "14", avail.TotalHours)
	require.Len(t, avail.Channels, 1)
	assertDec(t, "14", avail.Channels[0].RemainingHours)

	res, err := e.Consume(ctx, ConsumeRequest{CustomerID: "c1", Vertical: core.VerticalBasketball, Hours: dec("14"), AsOf: jan15})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assertDec(t, "-14", res.Entries[0].Hours)
	assertDec(t, "0", res.Entries[0].BalanceAfter)

	avail, err = e.Available(ctx, "c1", core.VerticalBasketball, jan15)
	require.NoError(t, err)
	assertDec(t, "0", avail.TotalHours)
	assertDec(t, "0", avail.Channels[0].RemainingUnits)
	assert.False(t, avail.Channels[0].Usable)
}

func TestConsume_OldestChannelFirst(t *testing.T) {
	// GIVEN: Two monthly channels opened on different days
	// WHEN: Consuming less than the first holds
	// THEN: Only the older channel is drawn

	e := newEngine(t)
	ctx := context.Background()
	older, err := e.OpenPackage(ctx, PackageRequest{CustomerID: "c1", Vertical: core.VerticalBadminton, Units: dec("4"), AsOf: jan1})
	require.NoError(t, err)
	_, err = e.OpenPackage(ctx, PackageRequest{CustomerID: "c1", Vertical: core.VerticalBadminton, Units: dec("4"), AsOf: jan1.AddDays(3)})
	require.NoError(t, err)

	res, err := e.Consume(ctx, ConsumeRequest{CustomerID: "c1", Vertical: core.VerticalBadminton, Hours: dec("3"), AsOf: jan15})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, older.ID, res.Entries[0].ChannelID)
}

func TestConsume_SkipsExpiredAndOtherVerticals(t *testing.T) {
	// GIVEN: An expired badminton channel, a basketball channel and 2 base hours
	// WHEN: Consuming 2 badminton hours after the expiry
	// THEN: Only the base is drawn

	e := newEngine(t)
	ctx := context.Background()
	expiry := core.MustParseDate("2024-01-10")
	_, err := e.OpenPackage(ctx, PackageRequest{CustomerID: "c1", Vertical: core.VerticalBadminton, Units: dec("10"), Expiry: &expiry, AsOf: jan1})
	require.NoError(t, err)
	_, err = e.OpenPackage(ctx, PackageRequest{CustomerID: "c1", Vertical: core.VerticalBasketball, Units: dec("10"), AsOf: jan1})
	require.NoError(t, err)
	_, err = e.Credit(ctx, CreditRequest{CustomerID: "c1", Hours: dec("2"), Type: core.HistoryPurchase, AsOf: jan1})
	require.NoError(t, err)

	res, err := e.Consume(ctx, ConsumeRequest{CustomerID: "c1", Vertical: core.VerticalBadminton, Hours: dec("2"), AsOf: jan15})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, core.BaseChannel, res.Entries[0].ChannelID)
}

func TestConsume_ZeroIsNoOp(t *testing.T) {
	e := newEngine(t)
	seed(t, e)
	ctx := context.Background()
	before, _ := e.History(ctx, "c1")

	res, err := e.Consume(ctx, ConsumeRequest{CustomerID: "c1", Hours: decimal.Zero, AsOf: jan15})
	require.NoError(t, err)
	assert.Empty(t, res.Entries)

	after, _ := e.History(ctx, "c1")
	assert.Len(t, after, len(before))
}

func TestConsume_Validation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.Consume(ctx, ConsumeRequest{CustomerID: "c1", Hours: dec("-1"), AsOf: jan15})
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = e.Consume(ctx, ConsumeRequest{CustomerID: "c1", Hours: dec("1"), Type: core.HistoryPurchase, AsOf: jan15})
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = e.Consume(ctx, ConsumeRequest{CustomerID: "c1", Vertical: "tennis", Hours: dec("1"), AsOf: jan15})
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestConsume_ConcurrentCheckInsCannotOverdraw(t *testing.T) {
	// GIVEN: Exactly 1 base hour
	// WHEN: Ten check-ins of 1 hour race
	// THEN: Exactly one succeeds and the base ends at 0

	e := newEngine(t)
	ctx := context.Background()
	_, err := e.Credit(ctx, CreditRequest{CustomerID: "c1", Hours: dec("1"), Type: core.HistoryPurchase, AsOf: jan1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.CheckIn(ctx, "c1", core.VerticalBadminton, jan15); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	avail, err := e.Available(ctx, "c1", "", jan15)
	require.NoError(t, err)
	assertDec(t, "0", avail.BaseHours)
}

func TestExtend_RecordsExtensionType(t *testing.T) {
	e := newEngine(t)
	seed(t, e)

	res, err := e.Extend(context.Background(), "c1", core.VerticalBadminton, dec("0.5"), jan15)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, core.HistoryExtension, res.Entries[0].Type)
}

// =============================================================================
// CREDITS AND PACKAGES
// =============================================================================

func TestCredit_NegativeAdjustmentCannotGoBelowZero(t *testing.T) {
	// GIVEN: 5 base hours
	// WHEN: Adjusting by -6, then by -5
	// THEN: The first is rejected, the second brings the base to 0

	e := newEngine(t)
	seed(t, e)
	ctx := context.Background()

	_, err := e.Credit(ctx, CreditRequest{CustomerID: "c1", Hours: dec("-6"), Type: core.HistoryAdjustment, AsOf: jan15})
	assert.True(t, errors.Is(err, core.ErrInsufficientBalance))

	entry, err := e.Credit(ctx, CreditRequest{CustomerID: "c1", Hours: dec("-5"), Type: core.HistoryAdjustment, AsOf: jan15})
	require.NoError(t, err)
	assertDec(t, "0", entry.BalanceAfter)
}

func TestCredit_RefundMustBePositive(t *testing.T) {
	e := newEngine(t)
	_, err := e.Credit(context.Background(), CreditRequest{CustomerID: "c1", Hours: dec("-1"), Type: core.HistoryRefund, AsOf: jan1})
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestOpenPackage_DefaultsFromVertical(t *testing.T) {
	e := newEngine(t)
	ch, err := e.OpenPackage(context.Background(), PackageRequest{CustomerID: "c1", Vertical: core.VerticalBadminton, Units: dec("8"), AsOf: jan1})
	require.NoError(t, err)

	assertDec(t, "1", ch.DeductionFactor)
	require.NotNil(t, ch.Expiry)
	assert.Equal(t, "2024-01-31", ch.Expiry.String())
	assert.Equal(t, core.ChannelActive, ch.State)

	history, err := e.History(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.HistoryPurchase, history[0].Type)
	assertDec(t, "8", history[0].BalanceAfter)
}

func TestExpirePackages_WritesOffLeftover(t *testing.T) {
	// GIVEN: A 10 unit package expiring 2024-01-31, 4 units used
	// WHEN: Sweeping on 2024-02-01 (twice)
	// THEN: One adjustment of -6, channel expired, second sweep does nothing

	e := newEngine(t)
	ctx := context.Background()
	ch, err := e.OpenPackage(ctx, PackageRequest{CustomerID: "c1", Vertical: core.VerticalBadminton, Units: dec("10"), AsOf: jan1})
	require.NoError(t, err)
	_, err = e.Consume(ctx, ConsumeRequest{CustomerID: "c1", Vertical: core.VerticalBadminton, Hours: dec("4"), AsOf: jan15})
	require.NoError(t, err)

	feb1 := core.MustParseDate("2024-02-01")
	n, err := e.ExpirePackages(ctx, feb1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	history, err := e.History(ctx, "c1")
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, ch.ID, last.ChannelID)
	assert.Equal(t, core.HistoryAdjustment, last.Type)
	assertDec(t, "-6", last.Delta)

	avail, err := e.Available(ctx, "c1", core.VerticalBadminton, feb1)
	require.NoError(t, err)
	require.Len(t, avail.Channels, 1)
	assert.Equal(t, core.ChannelExpired, avail.Channels[0].Channel.State)
	assert.False(t, avail.Channels[0].Usable)

	n, err = e.ExpirePackages(ctx, feb1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAvailable_UnknownCustomer(t *testing.T) {
	e := newEngine(t)
	e.Customers = customers{"c1": true}

	_, err := e.Available(context.Background(), "nobody", "", jan1)
	assert.True(t, errors.Is(err, core.ErrCustomerNotFound))
}

type customers map[core.CustomerID]bool

func (c customers) CustomerExists(_ context.Context, id core.CustomerID) (bool, error) {
	return c[id], nil
}
