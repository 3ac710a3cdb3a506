package balance

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/volan/membership-engine/core"
)

// ChannelView is one monthly channel with its replayed balance.
type ChannelView struct {
	Channel        core.Channel
	RemainingUnits decimal.Decimal
	RemainingHours decimal.Decimal
	Usable         bool
}

// Availability is what a customer can consume on AsOf.
type Availability struct {
	CustomerID core.CustomerID
	Vertical   core.Vertical
	AsOf       core.TimePoint
	Channels   []ChannelView
	BaseHours  decimal.Decimal
	// TotalHours counts usable monthly channels plus the base balance.
	TotalHours decimal.Decimal
}

// Available replays the customer's history. An empty vertical lists the
// channels of every vertical.
func (e *Engine) Available(ctx context.Context, customer core.CustomerID, vertical core.Vertical, asOf core.TimePoint) (*Availability, error) {
	if vertical != "" {
		if _, err := core.LookupVertical(vertical); err != nil {
			return nil, err
		}
	}
	if err := core.CheckCustomer(ctx, e.Customers, customer); err != nil {
		return nil, err
	}

	out := &Availability{CustomerID: customer, Vertical: vertical, AsOf: asOf, Channels: []ChannelView{}}
	err := e.Store.View(ctx, func(tx core.Tx) error {
		history, err := tx.HistoryFor(ctx, customer)
		if err != nil {
			return err
		}
		channels, err := tx.ChannelsFor(ctx, customer)
		if err != nil {
			return err
		}
		balances := core.ChannelBalances(history)
		hours := core.ChannelHours(history)

		out.BaseHours = balances[core.BaseChannel]
		out.TotalHours = decimal.Max(out.BaseHours, decimal.Zero)
		for _, c := range channels {
			if vertical != "" && c.Vertical != vertical {
				continue
			}
			v := ChannelView{
				Channel:        c,
				RemainingUnits: balances[c.ID],
				RemainingHours: hours[c.ID],
				Usable:         c.UsableOn(asOf) && hours[c.ID].IsPositive(),
			}
			if v.Usable {
				out.TotalHours = out.TotalHours.Add(v.RemainingHours)
			}
			out.Channels = append(out.Channels, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the customer's balance history in append order.
func (e *Engine) History(ctx context.Context, customer core.CustomerID) ([]core.HistoryEntry, error) {
	if err := core.CheckCustomer(ctx, e.Customers, customer); err != nil {
		return nil, err
	}
	var out []core.HistoryEntry
	err := e.Store.View(ctx, func(tx core.Tx) error {
		var err error
		out, err = tx.HistoryFor(ctx, customer)
		return err
	})
	return out, err
}
