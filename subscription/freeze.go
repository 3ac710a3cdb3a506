package subscription

import (
	"context"

	"github.com/google/uuid"
	"github.com/volan/membership-engine/core"
)

// FreezeTracker opens and closes freeze periods and shifts the
// subscription's end date when a freeze completes.
type FreezeTracker struct {
	NewID func() string
}

func NewFreezeTracker() *FreezeTracker {
	return &FreezeTracker{NewID: uuid.NewString}
}

// StartFreeze opens a freeze period on an active subscription and moves it
// to frozen. sub is updated in place; the caller persists it.
func (ft *FreezeTracker) StartFreeze(ctx context.Context, tx core.Tx, sub *core.Subscription, start, end, asOf core.TimePoint) (core.FreezePeriod, error) {
	if sub.State != core.StateActive {
		return core.FreezePeriod{}, &core.TransitionError{SubscriptionID: sub.ID, From: sub.State, Action: "freeze"}
	}
	window := core.Period{Start: start, End: end}
	if err := window.Validate(); err != nil {
		return core.FreezePeriod{}, err
	}

	existing, err := tx.FreezesFor(ctx, sub.ID)
	if err != nil {
		return core.FreezePeriod{}, err
	}
	for _, f := range existing {
		if f.State == core.FreezeActive && f.Window().Overlaps(window) {
			return core.FreezePeriod{}, core.Invalid("freeze", "overlaps active freeze %s", f.Window())
		}
	}

	f := core.FreezePeriod{
		ID:             core.FreezeID(ft.NewID()),
		SubscriptionID: sub.ID,
		Start:          start,
		End:            end,
		Days:           window.Days(),
		State:          core.FreezeActive,
		CreatedAt:      asOf,
	}
	if err := tx.InsertFreeze(ctx, f); err != nil {
		return core.FreezePeriod{}, err
	}
	enterState(sub, core.StateFrozen)
	return f, nil
}

// EndFreeze completes the current freeze (active, window containing asOf),
// adds its days to the end date and reactivates the subscription.
func (ft *FreezeTracker) EndFreeze(ctx context.Context, tx core.Tx, sub *core.Subscription, asOf core.TimePoint) (core.FreezePeriod, error) {
	freezes, err := tx.FreezesFor(ctx, sub.ID)
	if err != nil {
		return core.FreezePeriod{}, err
	}
	current := CurrentFreeze(freezes, asOf)
	if current == nil {
		return core.FreezePeriod{}, core.ErrFreezeNotFound
	}
	return ft.complete(ctx, tx, sub, *current, asOf)
}

// EndElapsed completes an active freeze whose window ended before asOf.
// Returns ErrFreezeNotFound when there is none.
func (ft *FreezeTracker) EndElapsed(ctx context.Context, tx core.Tx, sub *core.Subscription, asOf core.TimePoint) (core.FreezePeriod, error) {
	freezes, err := tx.FreezesFor(ctx, sub.ID)
	if err != nil {
		return core.FreezePeriod{}, err
	}
	for _, f := range freezes {
		if f.State == core.FreezeActive && f.End.Before(asOf) {
			return ft.complete(ctx, tx, sub, f, asOf)
		}
	}
	return core.FreezePeriod{}, core.ErrFreezeNotFound
}

func (ft *FreezeTracker) complete(ctx context.Context, tx core.Tx, sub *core.Subscription, f core.FreezePeriod, asOf core.TimePoint) (core.FreezePeriod, error) {
	f.State = core.FreezeCompleted
	f.CompletedAt = asOf.Ptr()
	if err := tx.UpdateFreeze(ctx, f); err != nil {
		return core.FreezePeriod{}, err
	}
	sub.EndDate = sub.EndDate.AddDays(f.Days)
	enterState(sub, core.StateActive)
	return f, nil
}

// CurrentFreeze returns the active freeze whose window contains asOf.
func CurrentFreeze(freezes []core.FreezePeriod, asOf core.TimePoint) *core.FreezePeriod {
	for i := range freezes {
		if freezes[i].IsCurrent(asOf) {
			f := freezes[i]
			return &f
		}
	}
	return nil
}

// TotalFreezeDays sums freeze days of the periods the policy counts.
func TotalFreezeDays(freezes []core.FreezePeriod, policy core.FreezeDaysPolicy) int {
	total := 0
	for _, f := range freezes {
		switch {
		case f.State == core.FreezeActive:
			total += f.Days
		case f.State == core.FreezeCompleted && policy == core.FreezeDaysActiveAndCompleted:
			total += f.Days
		}
	}
	return total
}
