package subscription

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/volan/membership-engine/core"
)

// Day offsets applied to the end date.
const (
	TermDays  = 30 // end_date = start_date + TermDays at creation
	RenewDays = 30 // each renewal extends end_date by RenewDays
)

// Command is one explicit operation on a subscription. Every command runs
// inside its own store transaction and reports the field changes it caused.
type Command interface {
	name() string
	target() core.SubscriptionID
	at() core.TimePoint
	apply(ctx context.Context, e *execution) error
}

// Change is one field that differs after a command.
type Change struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Outcome is the result of a successful command.
type Outcome struct {
	Subscription core.Subscription
	Derived      Derived
	Changes      []Change
	Payments     []core.Payment     // appended by this command
	Freeze       *core.FreezePeriod // opened or closed by this command
}

// Changed returns the change for field, if any.
func (o *Outcome) Changed(field string) (Change, bool) {
	for _, c := range o.Changes {
		if c.Field == field {
			return c, true
		}
	}
	return Change{}, false
}

type execution struct {
	svc      *Service
	tx       core.Tx
	sub      *core.Subscription
	asOf     core.TimePoint
	payments []core.Payment
	freeze   *core.FreezePeriod
}

func (e *execution) appendPayment(ctx context.Context, realDate core.TimePoint, method core.PaymentMethod, note string) error {
	p, err := e.svc.Ledger.AppendPayment(ctx, e.tx, *e.sub, core.PaymentInput{
		PaymentDate: e.asOf,
		RealDate:    &realDate,
		Amount:      e.sub.Fee,
		Method:      method,
		Note:        note,
	})
	if err != nil {
		return err
	}
	e.payments = append(e.payments, p)
	return nil
}

func (e *execution) deny(action string) error {
	return &core.TransitionError{SubscriptionID: e.sub.ID, From: e.sub.State, Action: action}
}

// =============================================================================
// STATE HELPERS
// =============================================================================

// enterState moves to a non-temporary state and clears PreviousState.
func enterState(sub *core.Subscription, state core.SubscriptionState) {
	sub.State = state
	sub.PreviousState = ""
}

// enterTemporary moves to free or cancel_requested, keeping the last real
// state restorable. Entering the state the subscription is already in is a
// no-op.
func enterTemporary(sub *core.Subscription, state core.SubscriptionState) {
	if sub.State == state {
		return
	}
	prev := sub.State
	if sub.State.IsTemporary() {
		prev = sub.PreviousState
	}
	sub.State = state
	sub.PreviousState = prev
}

func stateIn(s core.SubscriptionState, allowed ...core.SubscriptionState) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

// =============================================================================
// CREATE
// =============================================================================

type Create struct {
	CustomerID    core.CustomerID
	Vertical      core.Vertical
	Label         string
	Fee           decimal.Decimal
	ZeroFeeReason string
	StartDate     core.TimePoint  // defaults to AsOf
	PaymentDate   *core.TimePoint // nominal payment date, defaults to StartDate
	Notes         string
	AsOf          core.TimePoint
}

func (c Create) name() string                { return "create" }
func (c Create) target() core.SubscriptionID { return "" }
func (c Create) at() core.TimePoint          { return c.AsOf }

func (c Create) apply(ctx context.Context, e *execution) error {
	if err := core.CheckCustomer(ctx, e.svc.Customers, c.CustomerID); err != nil {
		return err
	}
	if _, err := core.LookupVertical(c.Vertical); err != nil {
		return err
	}
	start := c.StartDate
	if start.IsZero() {
		start = c.AsOf
	}
	payDate := start
	if c.PaymentDate != nil {
		payDate = *c.PaymentDate
	}
	e.sub = &core.Subscription{
		ID:            core.SubscriptionID(e.svc.NewID()),
		CustomerID:    c.CustomerID,
		Vertical:      c.Vertical,
		Label:         c.Label,
		Fee:           c.Fee,
		ZeroFeeReason: c.ZeroFeeReason,
		PaymentDate:   payDate,
		StartDate:     start,
		EndDate:       start.AddDays(TermDays),
		State:         core.StateDraft,
		Notes:         c.Notes,
		CreatedAt:     c.AsOf,
	}
	return nil
}

// =============================================================================
// SET FEE
// =============================================================================

// SetFee changes the fee. A zero fee forces the subscription into free;
// going back to a non-zero fee does not restore the prior state.
type SetFee struct {
	SubscriptionID core.SubscriptionID
	Fee            decimal.Decimal
	ZeroFeeReason  string
	AsOf           core.TimePoint
}

func (c SetFee) name() string                { return "set_fee" }
func (c SetFee) target() core.SubscriptionID { return c.SubscriptionID }
func (c SetFee) at() core.TimePoint          { return c.AsOf }

func (c SetFee) apply(_ context.Context, e *execution) error {
	if e.sub.State.IsTerminal() {
		return e.deny("set fee of")
	}
	if c.Fee.IsNegative() {
		return core.Invalid("fee", "must not be negative, got %s", c.Fee)
	}
	e.sub.Fee = c.Fee
	if c.ZeroFeeReason != "" {
		e.sub.ZeroFeeReason = c.ZeroFeeReason
	}
	return nil
}

// =============================================================================
// CONFIRM
// =============================================================================

// Confirm activates a draft. The first activation appends the initial
// payment: recorded on AsOf, attributed to the nominal payment date.
type Confirm struct {
	SubscriptionID core.SubscriptionID
	Method         core.PaymentMethod
	AsOf           core.TimePoint
}

func (c Confirm) name() string                { return "confirm" }
func (c Confirm) target() core.SubscriptionID { return c.SubscriptionID }
func (c Confirm) at() core.TimePoint          { return c.AsOf }

func (c Confirm) apply(ctx context.Context, e *execution) error {
	if e.sub.State != core.StateDraft {
		return e.deny("confirm")
	}
	enterState(e.sub, core.StateActive)

	existing, err := e.svc.Ledger.PaymentsFor(ctx, e.tx, e.sub.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	realDate := e.sub.PaymentDate
	if realDate.IsZero() {
		realDate = e.sub.StartDate
	}
	return e.appendPayment(ctx, realDate, c.Method, "initial payment")
}

// =============================================================================
// RENEW
// =============================================================================

// Renew appends the next monthly payment, attributed one calendar month
// after the latest payment (or the nominal payment date when there is none),
// and extends the end date.
type Renew struct {
	SubscriptionID core.SubscriptionID
	Method         core.PaymentMethod
	Note           string
	AsOf           core.TimePoint
}

func (c Renew) name() string                { return "renew" }
func (c Renew) target() core.SubscriptionID { return c.SubscriptionID }
func (c Renew) at() core.TimePoint          { return c.AsOf }

func (c Renew) apply(ctx context.Context, e *execution) error {
	if e.sub.State != core.StateActive {
		return e.deny("renew")
	}
	payments, err := e.svc.Ledger.PaymentsFor(ctx, e.tx, e.sub.ID)
	if err != nil {
		return err
	}

	base := e.sub.PaymentDate
	if base.IsZero() {
		base = e.sub.StartDate
	}
	if len(payments) > 0 {
		base = payments[0].EffectiveDate()
		for _, p := range payments[1:] {
			base = core.MaxTime(base, p.EffectiveDate())
		}
	}

	note := c.Note
	if note == "" {
		note = "monthly renewal"
	}
	if err := e.appendPayment(ctx, base.AddMonths(1), c.Method, note); err != nil {
		return err
	}
	e.sub.EndDate = e.sub.EndDate.AddDays(RenewDays)
	return nil
}

// =============================================================================
// FREEZE / UNFREEZE
// =============================================================================

type Freeze struct {
	SubscriptionID core.SubscriptionID
	Start          core.TimePoint
	End            core.TimePoint
	AsOf           core.TimePoint
}

func (c Freeze) name() string                { return "freeze" }
func (c Freeze) target() core.SubscriptionID { return c.SubscriptionID }
func (c Freeze) at() core.TimePoint          { return c.AsOf }

func (c Freeze) apply(ctx context.Context, e *execution) error {
	f, err := e.svc.Freezes.StartFreeze(ctx, e.tx, e.sub, c.Start, c.End, e.asOf)
	if err != nil {
		return err
	}
	e.freeze = &f
	return nil
}

type Unfreeze struct {
	SubscriptionID core.SubscriptionID
	AsOf           core.TimePoint
}

func (c Unfreeze) name() string                { return "unfreeze" }
func (c Unfreeze) target() core.SubscriptionID { return c.SubscriptionID }
func (c Unfreeze) at() core.TimePoint          { return c.AsOf }

func (c Unfreeze) apply(ctx context.Context, e *execution) error {
	if e.sub.State != core.StateFrozen {
		return e.deny("unfreeze")
	}
	f, err := e.svc.Freezes.EndFreeze(ctx, e.tx, e.sub, e.asOf)
	if err != nil {
		return err
	}
	e.freeze = &f
	return nil
}

// endElapsedFreeze is issued by SweepFreezes for frozen subscriptions whose
// freeze window has already passed.
type endElapsedFreeze struct {
	SubscriptionID core.SubscriptionID
	AsOf           core.TimePoint
}

func (c endElapsedFreeze) name() string                { return "auto_unfreeze" }
func (c endElapsedFreeze) target() core.SubscriptionID { return c.SubscriptionID }
func (c endElapsedFreeze) at() core.TimePoint          { return c.AsOf }

func (c endElapsedFreeze) apply(ctx context.Context, e *execution) error {
	if e.sub.State != core.StateFrozen {
		return e.deny("unfreeze")
	}
	f, err := e.svc.Freezes.EndElapsed(ctx, e.tx, e.sub, e.asOf)
	if err != nil {
		return err
	}
	e.freeze = &f
	return nil
}

// =============================================================================
// CANCEL REQUEST / CANCEL / COMPLETE / RESTORE
// =============================================================================

type CancelRequest struct {
	SubscriptionID core.SubscriptionID
	AsOf           core.TimePoint
}

func (c CancelRequest) name() string                { return "cancel_request" }
func (c CancelRequest) target() core.SubscriptionID { return c.SubscriptionID }
func (c CancelRequest) at() core.TimePoint          { return c.AsOf }

func (c CancelRequest) apply(_ context.Context, e *execution) error {
	if !stateIn(e.sub.State, core.StateDraft, core.StateActive, core.StateFrozen) {
		return e.deny("request cancellation of")
	}
	enterTemporary(e.sub, core.StateCancelRequested)
	return nil
}

// Cancel is terminal. Active freeze periods of a frozen subscription are
// cancelled with it and never shift the end date.
type Cancel struct {
	SubscriptionID core.SubscriptionID
	AsOf           core.TimePoint
}

func (c Cancel) name() string                { return "cancel" }
func (c Cancel) target() core.SubscriptionID { return c.SubscriptionID }
func (c Cancel) at() core.TimePoint          { return c.AsOf }

func (c Cancel) apply(ctx context.Context, e *execution) error {
	if !stateIn(e.sub.State, core.StateDraft, core.StateActive, core.StateFrozen, core.StateCancelRequested) {
		return e.deny("cancel")
	}
	freezes, err := e.tx.FreezesFor(ctx, e.sub.ID)
	if err != nil {
		return err
	}
	for _, f := range freezes {
		if f.State != core.FreezeActive {
			continue
		}
		f.State = core.FreezeCancelled
		f.CompletedAt = e.asOf.Ptr()
		if err := e.tx.UpdateFreeze(ctx, f); err != nil {
			return err
		}
	}
	enterState(e.sub, core.StateCancelled)
	return nil
}

type Complete struct {
	SubscriptionID core.SubscriptionID
	AsOf           core.TimePoint
}

func (c Complete) name() string                { return "complete" }
func (c Complete) target() core.SubscriptionID { return c.SubscriptionID }
func (c Complete) at() core.TimePoint          { return c.AsOf }

func (c Complete) apply(_ context.Context, e *execution) error {
	if e.sub.State != core.StateActive {
		return e.deny("complete")
	}
	enterState(e.sub, core.StateCompleted)
	return nil
}

// Restore leaves a temporary state and returns to PreviousState.
type Restore struct {
	SubscriptionID core.SubscriptionID
	AsOf           core.TimePoint
}

func (c Restore) name() string                { return "restore" }
func (c Restore) target() core.SubscriptionID { return c.SubscriptionID }
func (c Restore) at() core.TimePoint          { return c.AsOf }

func (c Restore) apply(_ context.Context, e *execution) error {
	if !e.sub.State.IsTemporary() || e.sub.PreviousState == "" {
		return e.deny("restore")
	}
	if e.sub.State == core.StateFree && e.sub.Fee.IsZero() {
		return core.Invalid("fee", "set a non-zero fee before restoring from free")
	}
	enterState(e.sub, e.sub.PreviousState)
	return nil
}

// =============================================================================
// DIFF
// =============================================================================

func diffSubscription(before, after core.Subscription) []Change {
	var out []Change
	add := func(field, old, new string) {
		if old != new {
			out = append(out, Change{Field: field, Old: old, New: new})
		}
	}
	add("fee", decString(before.Fee), decString(after.Fee))
	add("zero_fee_reason", before.ZeroFeeReason, after.ZeroFeeReason)
	add("state", string(before.State), string(after.State))
	add("previous_state", string(before.PreviousState), string(after.PreviousState))
	add("start_date", before.StartDate.String(), after.StartDate.String())
	add("end_date", before.EndDate.String(), after.EndDate.String())
	add("payment_date", before.PaymentDate.String(), after.PaymentDate.String())
	return out
}

func decString(d decimal.Decimal) string {
	if d.IsZero() {
		return "0"
	}
	return d.String()
}

func itoa(n int) string { return strconv.Itoa(n) }

func datePtr(tp *core.TimePoint) string {
	if tp == nil {
		return ""
	}
	return tp.String()
}
