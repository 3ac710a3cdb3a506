/*
Package balance consumes and credits prepaid hours.

CHANNELS:
  A customer holds any number of monthly package channels (per vertical,
  in units, converted to hours by the channel's deduction factor) and one
  base hour balance shared by every vertical. Channel balances are the
  replay of the customer's balance history; nothing else is stored.

CONSUMPTION ORDER (fixed):
  1. usable monthly channels: active, remaining > 0, no expiry or expiry >= asOf
  2. oldest channel first (creation order)
  3. the base balance for whatever is left

  The plan is computed first (core.ConsumptionDistributor). An infeasible
  plan returns *core.InsufficientBalanceError without writing. A feasible
  plan is written as one history row per touched channel, monthly rows
  first, inside one store transaction.

CONCURRENCY:
  Every mutation for a customer runs under that customer's lock, so two
  simultaneous check-ins cannot both draw from a balance sufficient for one.
*/
package balance

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/volan/membership-engine/core"
	"github.com/volan/membership-engine/metrics"
)

type Engine struct {
	Store       core.Store
	Ledger      *core.Ledger
	Distributor *core.ConsumptionDistributor
	Locks       *core.KeyedMutex
	Customers   core.CustomerDirectory
	Publisher   core.Publisher
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	NewID       func() string
}

func NewEngine(store core.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Store:       store,
		Ledger:      core.NewLedger(),
		Distributor: &core.ConsumptionDistributor{},
		Locks:       core.NewKeyedMutex(),
		Customers:   core.AnyCustomer{},
		Publisher:   core.NopPublisher{},
		Logger:      logger,
		NewID:       uuid.NewString,
	}
}

func customerKey(id core.CustomerID) string { return "customer:" + string(id) }

// =============================================================================
// CONSUME
// =============================================================================

type ConsumeRequest struct {
	CustomerID  core.CustomerID
	Vertical    core.Vertical // empty draws from monthly channels of every vertical
	Hours       decimal.Decimal
	Type        core.HistoryType // usage (default) or extension
	Description string
	AsOf        core.TimePoint
}

type ConsumeResult struct {
	Entries []core.HistoryEntry
	Plan    *core.ConsumptionPlan
}

// Consume draws Hours across the customer's channels, all or nothing.
// Zero hours is a successful no-op.
func (e *Engine) Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error) {
	if req.Type == "" {
		req.Type = core.HistoryUsage
	}
	if err := e.validateConsume(req); err != nil {
		e.Metrics.ConsumeRejected("validation")
		return nil, err
	}
	if req.Hours.IsZero() {
		return &ConsumeResult{Plan: &core.ConsumptionPlan{Requested: decimal.Zero, Satisfiable: true}}, nil
	}
	if err := core.CheckCustomer(ctx, e.Customers, req.CustomerID); err != nil {
		return nil, err
	}

	unlock := e.Locks.Lock(customerKey(req.CustomerID))
	defer unlock()

	var result *ConsumeResult
	err := e.Store.WithTx(ctx, func(tx core.Tx) error {
		monthly, base, err := e.usableBalances(ctx, tx, req.CustomerID, req.Vertical, req.AsOf)
		if err != nil {
			return err
		}

		plan := e.Distributor.Distribute(monthly, base, req.Hours)
		if !plan.Satisfiable {
			return &core.InsufficientBalanceError{
				CustomerID: req.CustomerID,
				Available:  plan.Available,
				Requested:  req.Hours,
				Shortfall:  plan.Shortfall,
				Unit:       core.UnitHours,
			}
		}

		result = &ConsumeResult{Plan: plan}
		for _, d := range plan.Draws {
			vertical := d.Vertical
			if vertical == "" {
				vertical = req.Vertical
			}
			entry, err := e.Ledger.AppendBalanceHistory(ctx, tx, core.HistoryEntry{
				CustomerID:    req.CustomerID,
				Vertical:      vertical,
				ChannelID:     d.ChannelID,
				Delta:         d.Units.Neg(),
				Hours:         d.Hours.Neg(),
				BalanceBefore: d.Before,
				BalanceAfter:  d.After,
				Type:          req.Type,
				Description:   req.Description,
				At:            req.AsOf,
			})
			if err != nil {
				return err
			}
			result.Entries = append(result.Entries, entry)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrInsufficientBalance) {
			e.Metrics.ConsumeRejected("insufficient_balance")
		}
		e.Logger.Info("consumption rejected",
			"customer_id", req.CustomerID, "hours", req.Hours, "error", err)
		return nil, err
	}

	for _, entry := range result.Entries {
		kind := "monthly"
		if entry.ChannelID == core.BaseChannel {
			kind = "base"
		}
		e.Metrics.HoursConsumed(string(entry.Vertical), kind, entry.Hours.Neg())
	}
	e.Logger.Info("hours consumed",
		"customer_id", req.CustomerID, "vertical", req.Vertical, "hours", req.Hours,
		"channels", len(result.Entries))
	e.emit(ctx, core.NewEvent(core.EventBalanceConsumed, string(req.CustomerID), req.AsOf, result.Entries))
	return result, nil
}

func (e *Engine) validateConsume(req ConsumeRequest) error {
	if req.CustomerID == "" {
		return core.Invalid("customer_id", "required")
	}
	if req.Hours.IsNegative() {
		return core.Invalid("hours", "must not be negative, got %s", req.Hours)
	}
	if !req.Type.IsDebit() {
		return core.Invalid("type", "consumption type must be usage or extension, got %q", req.Type)
	}
	if req.AsOf.IsZero() {
		return core.Invalid("as_of", "required")
	}
	if req.Vertical != "" {
		if _, err := core.LookupVertical(req.Vertical); err != nil {
			return err
		}
	}
	return nil
}

// usableBalances returns monthly channels eligible on asOf, oldest first,
// and the base balance.
func (e *Engine) usableBalances(ctx context.Context, tx core.Tx, customer core.CustomerID, vertical core.Vertical, asOf core.TimePoint) ([]core.ChannelBalance, decimal.Decimal, error) {
	history, err := tx.HistoryFor(ctx, customer)
	if err != nil {
		return nil, decimal.Zero, err
	}
	channels, err := tx.ChannelsFor(ctx, customer)
	if err != nil {
		return nil, decimal.Zero, err
	}
	balances := core.ChannelBalances(history)
	hours := core.ChannelHours(history)

	var monthly []core.ChannelBalance
	for _, c := range channels {
		if vertical != "" && c.Vertical != vertical {
			continue
		}
		if !c.UsableOn(asOf) || !hours[c.ID].IsPositive() {
			continue
		}
		monthly = append(monthly, core.ChannelBalance{Channel: c, Remaining: balances[c.ID], Hours: hours[c.ID]})
	}
	return monthly, balances[core.BaseChannel], nil
}

// CheckIn consumes the vertical's per-scan hours.
func (e *Engine) CheckIn(ctx context.Context, customer core.CustomerID, vertical core.Vertical, asOf core.TimePoint) (*ConsumeResult, error) {
	cfg, err := core.LookupVertical(vertical)
	if err != nil {
		return nil, err
	}
	return e.Consume(ctx, ConsumeRequest{
		CustomerID:  customer,
		Vertical:    vertical,
		Hours:       cfg.HoursPerScan,
		Type:        core.HistoryUsage,
		Description: cfg.Name + " check-in",
		AsOf:        asOf,
	})
}

// Extend consumes extra hours for a session running over its slot.
func (e *Engine) Extend(ctx context.Context, customer core.CustomerID, vertical core.Vertical, hours decimal.Decimal, asOf core.TimePoint) (*ConsumeResult, error) {
	return e.Consume(ctx, ConsumeRequest{
		CustomerID:  customer,
		Vertical:    vertical,
		Hours:       hours,
		Type:        core.HistoryExtension,
		Description: "session extension",
		AsOf:        asOf,
	})
}

func (e *Engine) emit(ctx context.Context, ev core.Event) {
	if err := e.Publisher.Publish(ctx, ev); err != nil {
		e.Logger.Warn("failed to publish event", "type", ev.Type, "key", ev.Key, "error", err)
	}
}
