/*
Package subscription owns the subscription lifecycle.

STATES:
  draft -> active -> {frozen, cancel_requested, cancelled, completed}
  frozen -> active
  cancel_requested -> cancelled
  any non-terminal state -> free whenever the fee becomes zero

  free and cancel_requested are temporary: entering them keeps the prior
  state in PreviousState so Restore can return to it. Entering any other
  state clears PreviousState.

COMMANDS:
  Create, SetFee, Confirm, Renew, Freeze, Unfreeze, CancelRequest, Cancel,
  Complete, Restore. Each is a value passed to Service.Execute, runs in one
  store transaction under the subscription lock and returns an Outcome
  listing every changed field, including derived ones. An action that the
  current state does not allow fails with *core.TransitionError and changes
  nothing.

DERIVED FIELDS:
  total months, total payments, last payment date, punctuality and freeze
  days are recomputed from the ledger on every read (derived.go).
*/
package subscription

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/volan/membership-engine/core"
	"github.com/volan/membership-engine/metrics"
)

type Service struct {
	Store     core.Store
	Ledger    *core.Ledger
	Freezes   *FreezeTracker
	Locks     *core.KeyedMutex
	Customers core.CustomerDirectory
	Publisher core.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// FreezeDaysPolicy selects which freeze periods count toward
	// Derived.TotalFreezeDays.
	FreezeDaysPolicy core.FreezeDaysPolicy

	NewID func() string
}

func NewService(store core.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:            store,
		Ledger:           core.NewLedger(),
		Freezes:          NewFreezeTracker(),
		Locks:            core.NewKeyedMutex(),
		Customers:        core.AnyCustomer{},
		Publisher:        core.NopPublisher{},
		Logger:           logger,
		FreezeDaysPolicy: core.FreezeDaysActiveOnly,
		NewID:            uuid.NewString,
	}
}

// View is a subscription with its derived fields.
type View struct {
	Subscription core.Subscription
	Derived      Derived
}

// =============================================================================
// COMMAND EXECUTION
// =============================================================================

// Execute runs cmd atomically.
func (s *Service) Execute(ctx context.Context, cmd Command) (*Outcome, error) {
	out, err := s.execute(ctx, cmd)
	s.Metrics.Command(cmd.name(), err)
	if err != nil {
		s.Logger.Debug("subscription command rejected",
			"command", cmd.name(), "subscription_id", cmd.target(), "error", err)
		return nil, err
	}
	s.Logger.Info("subscription command applied",
		"command", cmd.name(), "subscription_id", out.Subscription.ID,
		"state", out.Subscription.State, "changes", len(out.Changes))
	s.publish(ctx, cmd, out)
	return out, nil
}

func (s *Service) execute(ctx context.Context, cmd Command) (*Outcome, error) {
	asOf := cmd.at()
	if asOf.IsZero() {
		return nil, core.Invalid("as_of", "required")
	}
	if id := cmd.target(); id != "" {
		unlock := s.Locks.Lock("subscription:" + string(id))
		defer unlock()
	}

	var out *Outcome
	err := s.Store.WithTx(ctx, func(tx core.Tx) error {
		e := &execution{svc: s, tx: tx, asOf: asOf}

		var before core.Subscription
		beforeDerived := Derive(nil, nil, s.FreezeDaysPolicy, asOf)
		if id := cmd.target(); id != "" {
			sub, err := tx.GetSubscription(ctx, id)
			if err != nil {
				return err
			}
			before = sub
			e.sub = &sub
			if beforeDerived, err = s.derive(ctx, tx, sub.ID, asOf); err != nil {
				return err
			}
		}

		if err := cmd.apply(ctx, e); err != nil {
			return err
		}
		if e.sub.Fee.IsZero() && !e.sub.State.IsTerminal() {
			enterTemporary(e.sub, core.StateFree)
		}
		if err := e.sub.Validate(); err != nil {
			return err
		}

		var err error
		if cmd.target() == "" {
			err = tx.InsertSubscription(ctx, *e.sub)
		} else {
			err = tx.UpdateSubscription(ctx, *e.sub)
		}
		if err != nil {
			return err
		}

		afterDerived, err := s.derive(ctx, tx, e.sub.ID, asOf)
		if err != nil {
			return err
		}
		out = &Outcome{
			Subscription: *e.sub,
			Derived:      afterDerived,
			Changes:      append(diffSubscription(before, *e.sub), beforeDerived.changes(afterDerived)...),
			Payments:     e.payments,
			Freeze:       e.freeze,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) derive(ctx context.Context, tx core.Tx, id core.SubscriptionID, asOf core.TimePoint) (Derived, error) {
	payments, err := s.Ledger.PaymentsFor(ctx, tx, id)
	if err != nil {
		return Derived{}, err
	}
	freezes, err := tx.FreezesFor(ctx, id)
	if err != nil {
		return Derived{}, err
	}
	return Derive(payments, freezes, s.FreezeDaysPolicy, asOf), nil
}

// publish runs after commit; failures are logged and never undo the command.
func (s *Service) publish(ctx context.Context, cmd Command, out *Outcome) {
	sub := out.Subscription
	for _, p := range out.Payments {
		s.Metrics.Payment(string(p.Vertical), string(p.Method))
		s.emit(ctx, core.NewEvent(core.EventPaymentRecorded, string(sub.ID), cmd.at(), p))
	}
	if ch, ok := out.Changed("state"); ok {
		s.emit(ctx, core.NewEvent(core.EventStateChanged, string(sub.ID), cmd.at(), map[string]string{
			"customer_id": string(sub.CustomerID),
			"command":     cmd.name(),
			"from":        ch.Old,
			"to":          ch.New,
		}))
	}
}

func (s *Service) emit(ctx context.Context, e core.Event) {
	if err := s.Publisher.Publish(ctx, e); err != nil {
		s.Logger.Warn("failed to publish event", "type", e.Type, "key", e.Key, "error", err)
	}
}

// =============================================================================
// READS
// =============================================================================

// Get returns a subscription with derived fields as of asOf.
func (s *Service) Get(ctx context.Context, id core.SubscriptionID, asOf core.TimePoint) (*View, error) {
	var v *View
	err := s.Store.View(ctx, func(tx core.Tx) error {
		sub, err := tx.GetSubscription(ctx, id)
		if err != nil {
			return err
		}
		d, err := s.derive(ctx, tx, id, asOf)
		if err != nil {
			return err
		}
		v = &View{Subscription: sub, Derived: d}
		return nil
	})
	return v, err
}

func (s *Service) List(ctx context.Context, f core.SubscriptionFilter) ([]core.Subscription, error) {
	var out []core.Subscription
	err := s.Store.View(ctx, func(tx core.Tx) error {
		var err error
		out, err = tx.ListSubscriptions(ctx, f)
		return err
	})
	return out, err
}

func (s *Service) Payments(ctx context.Context, id core.SubscriptionID) ([]core.Payment, error) {
	var out []core.Payment
	err := s.Store.View(ctx, func(tx core.Tx) error {
		if _, err := tx.GetSubscription(ctx, id); err != nil {
			return err
		}
		var err error
		out, err = s.Ledger.PaymentsFor(ctx, tx, id)
		return err
	})
	return out, err
}

func (s *Service) FreezePeriods(ctx context.Context, id core.SubscriptionID) ([]core.FreezePeriod, error) {
	var out []core.FreezePeriod
	err := s.Store.View(ctx, func(tx core.Tx) error {
		if _, err := tx.GetSubscription(ctx, id); err != nil {
			return err
		}
		var err error
		out, err = tx.FreezesFor(ctx, id)
		return err
	})
	return out, err
}

// =============================================================================
// SWEEPS
// =============================================================================

// SweepFreezes reactivates frozen subscriptions whose freeze window ended
// before asOf, applying the same end-date shift as Unfreeze. Returns the
// number of subscriptions reactivated.
func (s *Service) SweepFreezes(ctx context.Context, asOf core.TimePoint) (int, error) {
	frozen, err := s.List(ctx, core.SubscriptionFilter{States: []core.SubscriptionState{core.StateFrozen}})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sub := range frozen {
		_, err := s.Execute(ctx, endElapsedFreeze{SubscriptionID: sub.ID, AsOf: asOf})
		switch {
		case err == nil:
			n++
		case core.IsNotFound(err):
			// still inside its window
		default:
			return n, err
		}
	}
	return n, nil
}
