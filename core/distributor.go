/*
distributor.go - Split an hour requirement across ordered channels

PURPOSE:
  A customer may hold several monthly package channels plus the base hour
  balance. A request for H hours is drawn:
  - first from usable monthly channels, oldest (lowest Seq) first
  - then from the base balance

  The distributor only plans. It never writes. The balance engine checks
  Satisfiable and, only then, appends one history row per draw inside a
  single store transaction. An unsatisfiable plan therefore leaves nothing
  behind.

EXAMPLE:
  channel A: 10 units, factor 1.0 (10 hours)
  base: 5 hours
  Distribute(12h) -> [A: 10 units/10h, base: 2h], Satisfiable
  Distribute(20h) -> Satisfiable=false, Shortfall=5h
*/
package core

import "github.com/shopspring/decimal"

// =============================================================================
// INPUT
// =============================================================================

// ChannelBalance pairs a monthly channel with its replayed balance. Hours is
// replayed from the history Hours column and is exact. Remaining is the unit
// count and may carry division rounding when the factor is not a divisor.
type ChannelBalance struct {
	Channel   Channel
	Remaining decimal.Decimal // units
	Hours     decimal.Decimal
}

// HoursAvailable is the exact hour balance of the channel.
func (cb ChannelBalance) HoursAvailable() decimal.Decimal {
	return cb.Hours
}

// =============================================================================
// PLAN
// =============================================================================

// Draw is the amount taken from one channel.
type Draw struct {
	ChannelID ChannelID
	Vertical  Vertical
	Units     decimal.Decimal // in the channel's native unit
	Hours     decimal.Decimal
	Before    decimal.Decimal
	After     decimal.Decimal
}

type ConsumptionPlan struct {
	Requested   decimal.Decimal
	Draws       []Draw
	Satisfiable bool
	Available   decimal.Decimal // hours across all channels
	Shortfall   decimal.Decimal // hours missing when not satisfiable
}

// ConsumptionDistributor walks channels in order.
type ConsumptionDistributor struct{}

// Distribute plans a draw of hours. monthly must already be filtered to
// usable channels and sorted by Seq.
func (cd *ConsumptionDistributor) Distribute(monthly []ChannelBalance, base decimal.Decimal, hours decimal.Decimal) *ConsumptionPlan {
	plan := &ConsumptionPlan{Requested: hours, Available: decimal.Zero}
	remaining := hours

	for _, cb := range monthly {
		available := cb.HoursAvailable()
		plan.Available = plan.Available.Add(available)
		if remaining.IsZero() || !available.IsPositive() {
			continue
		}

		take := decimal.Min(remaining, available)
		units := cb.Remaining
		if take.LessThan(available) {
			units = decimal.Min(take.Div(cb.Channel.DeductionFactor), cb.Remaining)
		}

		plan.Draws = append(plan.Draws, Draw{
			ChannelID: cb.Channel.ID,
			Vertical:  cb.Channel.Vertical,
			Units:     units,
			Hours:     take,
			Before:    cb.Remaining,
			After:     cb.Remaining.Sub(units),
		})
		remaining = remaining.Sub(take)
	}

	if base.IsPositive() {
		plan.Available = plan.Available.Add(base)
	}
	if remaining.IsPositive() {
		if base.LessThan(remaining) {
			plan.Draws = nil
			plan.Shortfall = remaining.Sub(decimal.Max(base, decimal.Zero))
			return plan
		}
		plan.Draws = append(plan.Draws, Draw{
			ChannelID: BaseChannel,
			Units:     remaining,
			Hours:     remaining,
			Before:    base,
			After:     base.Sub(remaining),
		})
	}

	plan.Satisfiable = true
	plan.Shortfall = decimal.Zero
	return plan
}
