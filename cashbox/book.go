package cashbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/volan/membership-engine/core"
	"github.com/volan/membership-engine/metrics"
)

// horizon bounds the "everything recorded" replay used by the expense guard.
var horizon = core.NewTimePoint(9999, time.December, 31)

// Book records cash-flow entries.
type Book struct {
	Store     core.Store
	Ledger    *core.Ledger
	Publisher core.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// mu serializes writes so two expenses cannot both pass the guard
	// against the same balance.
	mu sync.Mutex
}

func NewBook(store core.Store, logger *slog.Logger) *Book {
	if logger == nil {
		logger = slog.Default()
	}
	return &Book{
		Store:     store,
		Ledger:    core.NewLedger(),
		Publisher: core.NopPublisher{},
		Logger:    logger,
	}
}

// Record appends e. An expense is rejected with *core.InsufficientBalanceError
// when all-time income minus expenses, including e, would be negative.
func (b *Book) Record(ctx context.Context, e core.CashFlowEntry) (core.CashFlowEntry, error) {
	if err := e.Validate(); err != nil {
		b.Metrics.CashFlow(string(e.Direction), err)
		return core.CashFlowEntry{}, err
	}
	if e.Vertical != "" {
		if _, err := core.LookupVertical(e.Vertical); err != nil {
			b.Metrics.CashFlow(string(e.Direction), err)
			return core.CashFlowEntry{}, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out core.CashFlowEntry
	err := b.Store.WithTx(ctx, func(tx core.Tx) error {
		if e.Direction == core.DirectionExpense {
			income, err := allTimeIncome(ctx, tx, horizon)
			if err != nil {
				return err
			}
			expenses, err := allTimeExpenses(ctx, tx, horizon)
			if err != nil {
				return err
			}
			balance := income.Sub(expenses)
			if balance.Sub(e.Amount).IsNegative() {
				return &core.InsufficientBalanceError{
					CustomerID: e.CustomerID,
					Available:  balance,
					Requested:  e.Amount,
					Shortfall:  e.Amount.Sub(balance),
					Unit:       core.UnitMoney,
				}
			}
		}
		var err error
		out, err = b.Ledger.AppendCashFlow(ctx, tx, e)
		return err
	})
	b.Metrics.CashFlow(string(e.Direction), err)
	if err != nil {
		b.Logger.Info("cash flow entry rejected",
			"direction", e.Direction, "amount", e.Amount, "error", err)
		return core.CashFlowEntry{}, err
	}

	b.Logger.Info("cash flow entry recorded",
		"id", out.ID, "direction", out.Direction, "category", out.Category, "amount", out.Amount)
	if err := b.Publisher.Publish(ctx, core.NewEvent(core.EventCashFlowRecorded, string(out.ID), out.Date, out)); err != nil {
		b.Logger.Warn("failed to publish event", "type", core.EventCashFlowRecorded, "error", err)
	}
	return out, nil
}

