package core

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// SUBSCRIPTION - One per customer + package enrollment
// =============================================================================

// Subscription is the only mutable record besides freeze and channel state.
// Fee changes and state changes go through subscription.Service commands.
type Subscription struct {
	ID         SubscriptionID
	CustomerID CustomerID
	Vertical   Vertical
	Label      string // human-readable number issued by an external sequence

	Fee           decimal.Decimal
	ZeroFeeReason string

	PaymentDate TimePoint // nominal payment date, defaults to StartDate
	StartDate   TimePoint
	EndDate     TimePoint

	State         SubscriptionState
	PreviousState SubscriptionState // empty unless State is temporary

	Notes     string
	CreatedAt TimePoint
}

// Validate checks the record-level invariants.
func (s Subscription) Validate() error {
	if s.CustomerID == "" {
		return Invalid("customer_id", "required")
	}
	if s.Fee.IsNegative() {
		return Invalid("fee", "must not be negative, got %s", s.Fee)
	}
	if s.Fee.IsZero() && s.ZeroFeeReason == "" {
		return Invalid("zero_fee_reason", "required when fee is zero")
	}
	if s.StartDate.IsZero() {
		return Invalid("start_date", "required")
	}
	if !s.State.Valid() {
		return Invalid("state", "unknown state %q", s.State)
	}
	if s.PreviousState != "" && !s.State.IsTemporary() {
		return Invalid("previous_state", "only kept while in a temporary state")
	}
	return nil
}

// =============================================================================
// PAYMENT - Immutable ledger row
// =============================================================================

type Payment struct {
	ID             PaymentID
	SubscriptionID SubscriptionID
	CustomerID     CustomerID
	Vertical       Vertical

	PaymentDate TimePoint  // day the operation was recorded
	RealDate    *TimePoint // day the payment is attributed to, may be nil

	Amount decimal.Decimal
	Method PaymentMethod
	Note   string

	CreatedAt TimePoint
}

// EffectiveDate is RealDate when set, otherwise PaymentDate.
func (p Payment) EffectiveDate() TimePoint {
	if p.RealDate != nil {
		return *p.RealDate
	}
	return p.PaymentDate
}

// =============================================================================
// FREEZE PERIOD
// =============================================================================

type FreezePeriod struct {
	ID             FreezeID
	SubscriptionID SubscriptionID
	Start          TimePoint
	End            TimePoint
	Days           int // End - Start
	State          FreezeState
	CreatedAt      TimePoint
	CompletedAt    *TimePoint
}

func (f FreezePeriod) Window() Period { return Period{Start: f.Start, End: f.End} }

// IsCurrent reports whether the freeze is active and its window contains asOf.
func (f FreezePeriod) IsCurrent(asOf TimePoint) bool {
	return f.State == FreezeActive && f.Window().Contains(asOf)
}

// =============================================================================
// BALANCE CHANNEL - Monthly package allotment
// =============================================================================

// Channel is a purchased block of units. The remaining balance is not stored;
// it is the sum of the channel's history deltas.
type Channel struct {
	ID              ChannelID
	CustomerID      CustomerID
	Vertical        Vertical
	PackageName     string
	Units           decimal.Decimal // units purchased
	DeductionFactor decimal.Decimal // hours per unit
	Expiry          *TimePoint
	State           ChannelState
	Seq             int64 // creation order within the customer
	CreatedAt       TimePoint
}

// UsableOn reports whether the channel may be drawn from on asOf, ignoring
// the remaining balance.
func (c Channel) UsableOn(asOf TimePoint) bool {
	return c.State == ChannelActive && (c.Expiry == nil || c.Expiry.AfterOrEqual(asOf))
}

// =============================================================================
// BALANCE HISTORY ENTRY - Immutable, one per debit or credit
// =============================================================================

// HistoryEntry records one movement on one channel. Delta, BalanceBefore and
// BalanceAfter are in the channel's native unit (units for monthly channels,
// hours for the base channel); Hours is the signed hour equivalent.
type HistoryEntry struct {
	ID            EntryID
	CustomerID    CustomerID
	Vertical      Vertical
	ChannelID     ChannelID
	Delta         decimal.Decimal
	Hours         decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Type          HistoryType
	Description   string
	At            TimePoint
	Seq           int64 // append order within the customer
}

// =============================================================================
// CASH FLOW ENTRY
// =============================================================================

type CashFlowEntry struct {
	ID           CashFlowID
	Date         TimePoint
	Amount       decimal.Decimal // always positive, Direction gives the sign
	Direction    Direction
	Category     CashCategory
	Vertical     Vertical // empty for club-wide entries
	CustomerID   CustomerID
	RelatedModel string
	RelatedID    string
	Name         string
	Notes        string
	CreatedAt    TimePoint
}

func (e CashFlowEntry) Validate() error {
	if !e.Amount.IsPositive() {
		return Invalid("amount", "must be positive, got %s", e.Amount)
	}
	if e.Direction != DirectionIncome && e.Direction != DirectionExpense {
		return Invalid("direction", "must be income or expense")
	}
	if !e.Category.Valid() {
		return Invalid("category", "unknown category %q", e.Category)
	}
	if e.Date.IsZero() {
		return Invalid("date", "required")
	}
	return nil
}

// Signed returns the amount with expenses negated.
func (e CashFlowEntry) Signed() decimal.Decimal {
	if e.Direction == DirectionExpense {
		return e.Amount.Neg()
	}
	return e.Amount
}
