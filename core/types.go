/*
Package core holds the domain model of the membership engine.

PURPOSE:
  Subscriptions, payments, freeze periods, balance channels, balance history
  and cash-flow entries for a sports club with several verticals (badminton,
  the Genclik badminton branch, basketball). The same model serves every
  vertical; per-vertical differences live in VerticalConfig (vertical.go).

KEY CONCEPTS IN THIS FILE (types.go):
  - Unit: what a shortfall is measured in (hours, money)
  - Typed identifiers for every record kind
  - Enumerations: subscription states, payment methods, history types,
    cash-flow directions and categories

DESIGN PRINCIPLES:
  1. Append-only money and hour movement (payments, history, cash flow)
  2. Balances are derived by replaying history, never stored as counters
  3. decimal.Decimal everywhere money or hours are involved
  4. Every engine call takes an explicit asOf date

SEE ALSO:
  - records.go: record structs
  - ledger.go: append/read helpers over a Tx
  - store.go: persistence interfaces
*/
package core

// =============================================================================
// UNITS
// =============================================================================

// Unit names what a shortfall is measured in. Consumption and base hour
// debits report hours, payments and expenses report money.
type Unit string

const (
	UnitHours Unit = "hours"
	UnitMoney Unit = "money"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type SubscriptionID string
type PaymentID string
type FreezeID string
type ChannelID string
type EntryID string
type CashFlowID string

// BaseChannel identifies the per-customer base hour balance. Monthly
// package channels carry generated IDs.
const BaseChannel ChannelID = "base"

// =============================================================================
// VERTICAL - Sport line a record belongs to
// =============================================================================

type Vertical string

const (
	VerticalBadminton        Vertical = "badminton"
	VerticalBadmintonGenclik Vertical = "badminton_genclik"
	VerticalBasketball       Vertical = "basketball"
)

// =============================================================================
// SUBSCRIPTION STATE
// =============================================================================

type SubscriptionState string

const (
	StateDraft           SubscriptionState = "draft"
	StateActive          SubscriptionState = "active"
	StateFrozen          SubscriptionState = "frozen"
	StateCancelRequested SubscriptionState = "cancel_requested"
	StateCancelled       SubscriptionState = "cancelled"
	StateCompleted       SubscriptionState = "completed"
	StateFree            SubscriptionState = "free"
)

// IsTemporary reports whether entering the state keeps the prior state
// restorable through PreviousState.
func (s SubscriptionState) IsTemporary() bool {
	return s == StateFree || s == StateCancelRequested
}

func (s SubscriptionState) IsTerminal() bool {
	return s == StateCancelled || s == StateCompleted
}

func (s SubscriptionState) Valid() bool {
	switch s {
	case StateDraft, StateActive, StateFrozen, StateCancelRequested,
		StateCancelled, StateCompleted, StateFree:
		return true
	}
	return false
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentMethod string

const (
	MethodCash PaymentMethod = "cash"
	MethodCard PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool { return m == MethodCash || m == MethodCard }

// Punctuality classifies how recently a subscription was paid.
type Punctuality string

const (
	PunctualityOnTime  Punctuality = "on_time"
	PunctualityWarning Punctuality = "warning"
	PunctualityOverdue Punctuality = "overdue"
)

// =============================================================================
// FREEZE PERIODS
// =============================================================================

type FreezeState string

const (
	FreezeActive    FreezeState = "active"
	FreezeCompleted FreezeState = "completed"
	FreezeCancelled FreezeState = "cancelled"
)

// FreezeDaysPolicy decides which freeze periods count toward the reported
// total of freeze days.
type FreezeDaysPolicy string

const (
	FreezeDaysActiveOnly         FreezeDaysPolicy = "active"
	FreezeDaysActiveAndCompleted FreezeDaysPolicy = "active_completed"
)

func (p FreezeDaysPolicy) Valid() bool {
	return p == FreezeDaysActiveOnly || p == FreezeDaysActiveAndCompleted
}

// =============================================================================
// BALANCE CHANNELS AND HISTORY
// =============================================================================

type ChannelState string

const (
	ChannelActive  ChannelState = "active"
	ChannelExpired ChannelState = "expired"
)

type HistoryType string

const (
	HistoryPurchase   HistoryType = "purchase"
	HistoryUsage      HistoryType = "usage"
	HistoryExtension  HistoryType = "extension"
	HistoryRefund     HistoryType = "refund"
	HistoryAdjustment HistoryType = "adjustment"
)

func (t HistoryType) Valid() bool {
	switch t {
	case HistoryPurchase, HistoryUsage, HistoryExtension, HistoryRefund, HistoryAdjustment:
		return true
	}
	return false
}

// IsDebit reports whether the type draws hours (consumption side).
func (t HistoryType) IsDebit() bool { return t == HistoryUsage || t == HistoryExtension }

// =============================================================================
// CASH FLOW
// =============================================================================

type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

type CashCategory string

const (
	CategoryBadmintonSale    CashCategory = "badminton_sale"
	CategoryBadmintonLesson  CashCategory = "badminton_lesson"
	CategoryBasketballLesson CashCategory = "basketball_lesson"
	CategoryPackageSale      CashCategory = "package_sale"
	CategoryOther            CashCategory = "other"
)

func (c CashCategory) Valid() bool {
	switch c {
	case CategoryBadmintonSale, CategoryBadmintonLesson, CategoryBasketballLesson,
		CategoryPackageSale, CategoryOther:
		return true
	}
	return false
}
