package balance

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/volan/membership-engine/core"
)

// =============================================================================
// BASE CREDITS
// =============================================================================

type CreditRequest struct {
	CustomerID  core.CustomerID
	Vertical    core.Vertical
	Hours       decimal.Decimal // signed only for adjustments
	Type        core.HistoryType
	Description string
	AsOf        core.TimePoint
}

// Credit moves the base hour balance. Purchases and refunds add hours.
// Adjustments may add or remove hours but never take the base below zero.
func (e *Engine) Credit(ctx context.Context, req CreditRequest) (core.HistoryEntry, error) {
	if req.CustomerID == "" {
		return core.HistoryEntry{}, core.Invalid("customer_id", "required")
	}
	if req.AsOf.IsZero() {
		return core.HistoryEntry{}, core.Invalid("as_of", "required")
	}
	switch req.Type {
	case core.HistoryPurchase, core.HistoryRefund:
		if !req.Hours.IsPositive() {
			return core.HistoryEntry{}, core.Invalid("hours", "%s must be positive, got %s", req.Type, req.Hours)
		}
	case core.HistoryAdjustment:
		if req.Hours.IsZero() {
			return core.HistoryEntry{}, core.Invalid("hours", "adjustment must not be zero")
		}
	default:
		return core.HistoryEntry{}, core.Invalid("type", "credit type must be purchase, refund or adjustment, got %q", req.Type)
	}
	if req.Vertical != "" {
		if _, err := core.LookupVertical(req.Vertical); err != nil {
			return core.HistoryEntry{}, err
		}
	}
	if err := core.CheckCustomer(ctx, e.Customers, req.CustomerID); err != nil {
		return core.HistoryEntry{}, err
	}

	unlock := e.Locks.Lock(customerKey(req.CustomerID))
	defer unlock()

	var entry core.HistoryEntry
	err := e.Store.WithTx(ctx, func(tx core.Tx) error {
		history, err := tx.HistoryFor(ctx, req.CustomerID)
		if err != nil {
			return err
		}
		base := core.ChannelBalances(history)[core.BaseChannel]
		after := base.Add(req.Hours)
		if after.IsNegative() {
			return &core.InsufficientBalanceError{
				CustomerID: req.CustomerID,
				Available:  base,
				Requested:  req.Hours.Neg(),
				Shortfall:  after.Neg(),
				Unit:       core.UnitHours,
			}
		}
		entry, err = e.Ledger.AppendBalanceHistory(ctx, tx, core.HistoryEntry{
			CustomerID:    req.CustomerID,
			Vertical:      req.Vertical,
			ChannelID:     core.BaseChannel,
			Delta:         req.Hours,
			Hours:         req.Hours,
			BalanceBefore: base,
			BalanceAfter:  after,
			Type:          req.Type,
			Description:   req.Description,
			At:            req.AsOf,
		})
		return err
	})
	if err != nil {
		return core.HistoryEntry{}, err
	}

	e.Logger.Info("base balance credited",
		"customer_id", req.CustomerID, "type", req.Type, "hours", req.Hours, "balance", entry.BalanceAfter)
	e.emit(ctx, core.NewEvent(core.EventBalanceCredited, string(req.CustomerID), req.AsOf, entry))
	return entry, nil
}

// =============================================================================
// MONTHLY PACKAGES
// =============================================================================

type PackageRequest struct {
	CustomerID      core.CustomerID
	Vertical        core.Vertical
	Name            string
	Units           decimal.Decimal
	DeductionFactor decimal.Decimal // zero takes the vertical default
	Expiry          *core.TimePoint // nil takes asOf + the vertical validity
	AsOf            core.TimePoint
}

// OpenPackage creates a monthly channel and credits its units with a
// purchase row.
func (e *Engine) OpenPackage(ctx context.Context, req PackageRequest) (core.Channel, error) {
	if req.CustomerID == "" {
		return core.Channel{}, core.Invalid("customer_id", "required")
	}
	if req.AsOf.IsZero() {
		return core.Channel{}, core.Invalid("as_of", "required")
	}
	cfg, err := core.LookupVertical(req.Vertical)
	if err != nil {
		return core.Channel{}, err
	}
	if !req.Units.IsPositive() {
		return core.Channel{}, core.Invalid("units", "must be positive, got %s", req.Units)
	}
	factor := req.DeductionFactor
	if factor.IsZero() {
		factor = cfg.DefaultDeductionFactor
	}
	if !factor.IsPositive() {
		return core.Channel{}, core.Invalid("deduction_factor", "must be positive, got %s", factor)
	}
	expiry := req.Expiry
	if expiry == nil && cfg.PackageValidityDays > 0 {
		expiry = req.AsOf.AddDays(cfg.PackageValidityDays).Ptr()
	}
	if expiry != nil && expiry.Before(req.AsOf) {
		return core.Channel{}, core.Invalid("expiry", "%s is before %s", expiry, req.AsOf)
	}
	name := req.Name
	if name == "" {
		name = cfg.Name + " monthly"
	}
	if err := core.CheckCustomer(ctx, e.Customers, req.CustomerID); err != nil {
		return core.Channel{}, err
	}

	unlock := e.Locks.Lock(customerKey(req.CustomerID))
	defer unlock()

	var ch core.Channel
	err = e.Store.WithTx(ctx, func(tx core.Tx) error {
		var err error
		ch, err = tx.InsertChannel(ctx, core.Channel{
			ID:              core.ChannelID(e.NewID()),
			CustomerID:      req.CustomerID,
			Vertical:        req.Vertical,
			PackageName:     name,
			Units:           req.Units,
			DeductionFactor: factor,
			Expiry:          expiry,
			State:           core.ChannelActive,
			CreatedAt:       req.AsOf,
		})
		if err != nil {
			return err
		}
		_, err = e.Ledger.AppendBalanceHistory(ctx, tx, core.HistoryEntry{
			CustomerID:    req.CustomerID,
			Vertical:      req.Vertical,
			ChannelID:     ch.ID,
			Delta:         req.Units,
			Hours:         req.Units.Mul(factor),
			BalanceBefore: decimal.Zero,
			BalanceAfter:  req.Units,
			Type:          core.HistoryPurchase,
			Description:   name,
			At:            req.AsOf,
		})
		return err
	})
	if err != nil {
		return core.Channel{}, err
	}

	e.Logger.Info("package opened",
		"customer_id", req.CustomerID, "channel_id", ch.ID, "vertical", ch.Vertical,
		"units", ch.Units, "expiry", ch.Expiry)
	e.emit(ctx, core.NewEvent(core.EventPackageOpened, string(req.CustomerID), req.AsOf, ch))
	return ch, nil
}

// ExpirePackages closes every active channel whose expiry is before asOf.
// Leftover units are written off with an adjustment row so the replayed
// balance of an expired channel is zero. Returns the number of channels
// expired.
func (e *Engine) ExpirePackages(ctx context.Context, asOf core.TimePoint) (int, error) {
	var candidates []core.Channel
	err := e.Store.View(ctx, func(tx core.Tx) error {
		all, err := tx.ListChannels(ctx, core.ChannelActive)
		if err != nil {
			return err
		}
		for _, c := range all {
			if c.Expiry != nil && c.Expiry.Before(asOf) {
				candidates = append(candidates, c)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, c := range candidates {
		expired, err := e.expireChannel(ctx, c, asOf)
		if err != nil {
			return n, err
		}
		if expired {
			n++
		}
	}
	return n, nil
}

func (e *Engine) expireChannel(ctx context.Context, c core.Channel, asOf core.TimePoint) (bool, error) {
	unlock := e.Locks.Lock(customerKey(c.CustomerID))
	defer unlock()

	var leftover decimal.Decimal
	expired := false
	err := e.Store.WithTx(ctx, func(tx core.Tx) error {
		channels, err := tx.ChannelsFor(ctx, c.CustomerID)
		if err != nil {
			return err
		}
		// re-read under the lock, a concurrent sweep may have got here first
		var current *core.Channel
		for i := range channels {
			if channels[i].ID == c.ID {
				current = &channels[i]
			}
		}
		if current == nil || current.State != core.ChannelActive {
			return nil
		}

		history, err := tx.HistoryFor(ctx, c.CustomerID)
		if err != nil {
			return err
		}
		leftover = core.ChannelBalances(history)[c.ID]
		leftoverHours := core.ChannelHours(history)[c.ID]
		if leftover.IsPositive() || leftoverHours.IsPositive() {
			if _, err := e.Ledger.AppendBalanceHistory(ctx, tx, core.HistoryEntry{
				CustomerID:    c.CustomerID,
				Vertical:      c.Vertical,
				ChannelID:     c.ID,
				Delta:         leftover.Neg(),
				Hours:         leftoverHours.Neg(),
				BalanceBefore: leftover,
				BalanceAfter:  decimal.Zero,
				Type:          core.HistoryAdjustment,
				Description:   "package expired",
				At:            asOf,
			}); err != nil {
				return err
			}
		}
		expired = true
		return tx.SetChannelState(ctx, c.ID, core.ChannelExpired)
	})
	if err != nil || !expired {
		return false, err
	}

	e.Logger.Info("package expired",
		"customer_id", c.CustomerID, "channel_id", c.ID, "leftover_units", leftover)
	e.emit(ctx, core.NewEvent(core.EventPackageExpired, string(c.CustomerID), asOf, map[string]string{
		"channel_id":     string(c.ID),
		"leftover_units": leftover.String(),
	}))
	return true, nil
}
