/*
store.go - Persistence interfaces

PURPOSE:
  Defines the boundary between the engines and the database. Engines only
  ever see a Tx: every mutation happens inside Store.WithTx, every report
  inside Store.View, so a caller never observes half of an operation.

APPEND-ONLY CONTRACT:
  Payments, balance history and cash-flow entries have Append and read
  methods only. There is no Update or Delete for them, ever. Corrections
  are new entries (refund, adjustment, expense).

  Subscriptions, freeze periods and channel state are ordinary records and
  may be updated.

IMPLEMENTATIONS:
  - core/store/memory.go: in-memory, snapshot rollback (tests, dev)
  - store/sqlstore: SQLite (mattn/go-sqlite3) and PostgreSQL (pgx)
*/
package core

import "context"

// =============================================================================
// FILTERS
// =============================================================================

// PaymentFilter selects payments. Nil bounds are open; a RealDate bound
// never matches a payment with a nil RealDate.
type PaymentFilter struct {
	SubscriptionID SubscriptionID
	CustomerID     CustomerID
	PaymentFrom    *TimePoint
	PaymentTo      *TimePoint
	RealFrom       *TimePoint
	RealTo         *TimePoint
}

func (f PaymentFilter) Match(p Payment) bool {
	if f.SubscriptionID != "" && p.SubscriptionID != f.SubscriptionID {
		return false
	}
	if f.CustomerID != "" && p.CustomerID != f.CustomerID {
		return false
	}
	if f.PaymentFrom != nil && p.PaymentDate.Before(*f.PaymentFrom) {
		return false
	}
	if f.PaymentTo != nil && p.PaymentDate.After(*f.PaymentTo) {
		return false
	}
	if f.RealFrom != nil || f.RealTo != nil {
		if p.RealDate == nil {
			return false
		}
		if f.RealFrom != nil && p.RealDate.Before(*f.RealFrom) {
			return false
		}
		if f.RealTo != nil && p.RealDate.After(*f.RealTo) {
			return false
		}
	}
	return true
}

type SubscriptionFilter struct {
	CustomerID CustomerID
	Vertical   Vertical
	States     []SubscriptionState
}

func (f SubscriptionFilter) Match(s Subscription) bool {
	if f.CustomerID != "" && s.CustomerID != f.CustomerID {
		return false
	}
	if f.Vertical != "" && s.Vertical != f.Vertical {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, st := range f.States {
		if s.State == st {
			return true
		}
	}
	return false
}

type CashFlowFilter struct {
	From      *TimePoint
	To        *TimePoint
	Direction Direction
}

func (f CashFlowFilter) Match(e CashFlowEntry) bool {
	if f.From != nil && e.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Date.After(*f.To) {
		return false
	}
	return f.Direction == "" || e.Direction == f.Direction
}

// =============================================================================
// TX - Everything an engine may read or write inside one transaction
// =============================================================================

type Tx interface {
	// Subscriptions
	InsertSubscription(ctx context.Context, s Subscription) error
	UpdateSubscription(ctx context.Context, s Subscription) error
	GetSubscription(ctx context.Context, id SubscriptionID) (Subscription, error)
	ListSubscriptions(ctx context.Context, f SubscriptionFilter) ([]Subscription, error)

	// Payments (append-only), ordered by PaymentDate then insertion.
	AppendPayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, f PaymentFilter) ([]Payment, error)

	// Freeze periods, ordered by Start.
	InsertFreeze(ctx context.Context, f FreezePeriod) error
	UpdateFreeze(ctx context.Context, f FreezePeriod) error
	FreezesFor(ctx context.Context, id SubscriptionID) ([]FreezePeriod, error)

	// Monthly channels, ordered by Seq. InsertChannel assigns Seq.
	InsertChannel(ctx context.Context, c Channel) (Channel, error)
	SetChannelState(ctx context.Context, id ChannelID, state ChannelState) error
	ChannelsFor(ctx context.Context, customer CustomerID) ([]Channel, error)
	ListChannels(ctx context.Context, state ChannelState) ([]Channel, error)

	// Balance history (append-only), ordered by Seq. AppendHistory assigns Seq.
	AppendHistory(ctx context.Context, e HistoryEntry) (HistoryEntry, error)
	HistoryFor(ctx context.Context, customer CustomerID) ([]HistoryEntry, error)

	// Cash flow (append-only), ordered by Date then insertion.
	AppendCashFlow(ctx context.Context, e CashFlowEntry) error
	ListCashFlow(ctx context.Context, f CashFlowFilter) ([]CashFlowEntry, error)
}

// Store is the transactional entry point.
type Store interface {
	// WithTx runs fn inside a read-write transaction. If fn returns an error
	// every write made through the Tx is discarded.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// View runs fn against a consistent read snapshot. Writes through the
	// Tx are not allowed.
	View(ctx context.Context, fn func(Tx) error) error

	Close() error
}

// CustomerDirectory resolves customer references owned by an external
// contact registry. The engine only needs to know whether an id exists.
type CustomerDirectory interface {
	CustomerExists(ctx context.Context, id CustomerID) (bool, error)
}

// AnyCustomer accepts every non-empty customer id.
type AnyCustomer struct{}

func (AnyCustomer) CustomerExists(_ context.Context, id CustomerID) (bool, error) {
	return id != "", nil
}

// CheckCustomer returns ErrCustomerNotFound when dir does not know id.
func CheckCustomer(ctx context.Context, dir CustomerDirectory, id CustomerID) error {
	if dir == nil {
		dir = AnyCustomer{}
	}
	ok, err := dir.CustomerExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCustomerNotFound
	}
	return nil
}
