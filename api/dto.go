/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain records in core from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

  Dates are "YYYY-MM-DD" strings. Money and hours are decimal strings on
  output; requests accept decimal strings or JSON numbers.

VALIDATION:
  Validation is done by the engines, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"
	"github.com/volan/membership-engine/balance"
	"github.com/volan/membership-engine/cashbox"
	"github.com/volan/membership-engine/core"
	"github.com/volan/membership-engine/subscription"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateSubscriptionRequest struct {
	CustomerID    string          `json:"customer_id"`
	Vertical      string          `json:"vertical"`
	Label         string          `json:"label"`
	Fee           decimal.Decimal `json:"fee"`
	ZeroFeeReason string          `json:"zero_fee_reason"`
	StartDate     core.TimePoint  `json:"start_date"`
	PaymentDate   *core.TimePoint `json:"payment_date,omitempty"`
	Notes         string          `json:"notes"`
}

// ActionRequest is the body of POST /api/subscriptions/{id}/{action}. Each
// action reads only the fields it needs.
type ActionRequest struct {
	Method        string           `json:"method,omitempty"`          // confirm, renew
	Note          string           `json:"note,omitempty"`            // renew
	Fee           *decimal.Decimal `json:"fee,omitempty"`             // fee
	ZeroFeeReason string           `json:"zero_fee_reason,omitempty"` // fee
	Start         core.TimePoint   `json:"start"`                     // freeze
	End           core.TimePoint   `json:"end"`                       // freeze
}

type ConsumeRequest struct {
	Vertical    string          `json:"vertical"`
	Hours       decimal.Decimal `json:"hours"`
	Type        string          `json:"type,omitempty"`
	Description string          `json:"description"`
}

type CheckInRequest struct {
	Vertical string `json:"vertical"`
}

type CreditRequest struct {
	Vertical    string          `json:"vertical"`
	Hours       decimal.Decimal `json:"hours"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
}

type OpenPackageRequest struct {
	Vertical        string          `json:"vertical"`
	Name            string          `json:"name"`
	Units           decimal.Decimal `json:"units"`
	DeductionFactor decimal.Decimal `json:"deduction_factor"`
	Expiry          *core.TimePoint `json:"expiry,omitempty"`
}

type CashFlowRequest struct {
	Date         core.TimePoint  `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
	Direction    string          `json:"direction"`
	Category     string          `json:"category"`
	Vertical     string          `json:"vertical"`
	CustomerID   string          `json:"customer_id"`
	RelatedModel string          `json:"related_model"`
	RelatedID    string          `json:"related_id"`
	Name         string          `json:"name"`
	Notes        string          `json:"notes"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type SubscriptionDTO struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	Vertical      string          `json:"vertical"`
	Label         string          `json:"label,omitempty"`
	Fee           decimal.Decimal `json:"fee"`
	ZeroFeeReason string          `json:"zero_fee_reason,omitempty"`
	PaymentDate   core.TimePoint  `json:"payment_date"`
	StartDate     core.TimePoint  `json:"start_date"`
	EndDate       core.TimePoint  `json:"end_date"`
	State         string          `json:"state"`
	PreviousState string          `json:"previous_state,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     core.TimePoint  `json:"created_at"`
	Derived       *DerivedDTO     `json:"derived,omitempty"`
}

type DerivedDTO struct {
	TotalMonths     int             `json:"total_months"`
	TotalPayments   decimal.Decimal `json:"total_payments"`
	LastPaymentDate *core.TimePoint `json:"last_payment_date"`
	Punctuality     string          `json:"payment_punctuality"`
	TotalFreezeDays int             `json:"total_freeze_days"`
	CurrentFreeze   *FreezeDTO      `json:"current_freeze,omitempty"`
}

type PaymentDTO struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	CustomerID     string          `json:"customer_id"`
	Vertical       string          `json:"vertical"`
	PaymentDate    core.TimePoint  `json:"payment_date"`
	RealDate       *core.TimePoint `json:"real_date"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method"`
	Note           string          `json:"note,omitempty"`
}

type FreezeDTO struct {
	ID          string          `json:"id"`
	Start       core.TimePoint  `json:"start"`
	End         core.TimePoint  `json:"end"`
	Days        int             `json:"freeze_days"`
	State       string          `json:"state"`
	CompletedAt *core.TimePoint `json:"completed_at,omitempty"`
}

// OutcomeDTO is the result of a subscription command.
type OutcomeDTO struct {
	Subscription SubscriptionDTO       `json:"subscription"`
	Changes      []subscription.Change `json:"changes"`
	Payments     []PaymentDTO          `json:"payments,omitempty"`
	Freeze       *FreezeDTO            `json:"freeze,omitempty"`
}

type ChannelDTO struct {
	ID              string          `json:"id"`
	Vertical        string          `json:"vertical"`
	PackageName     string          `json:"package_name"`
	Units           decimal.Decimal `json:"units"`
	DeductionFactor decimal.Decimal `json:"deduction_factor"`
	Expiry          *core.TimePoint `json:"expiry"`
	State           string          `json:"state"`
	CreatedAt       core.TimePoint  `json:"created_at"`
	RemainingUnits  decimal.Decimal `json:"remaining_units"`
	RemainingHours  decimal.Decimal `json:"remaining_hours"`
	Usable          bool            `json:"usable"`
}

type BalanceDTO struct {
	CustomerID string          `json:"customer_id"`
	Vertical   string          `json:"vertical,omitempty"`
	AsOf       core.TimePoint  `json:"as_of"`
	Channels   []ChannelDTO    `json:"channels"`
	BaseHours  decimal.Decimal `json:"base_hours"`
	TotalHours decimal.Decimal `json:"total_hours"`
}

type HistoryEntryDTO struct {
	ID            string          `json:"id"`
	Vertical      string          `json:"vertical,omitempty"`
	ChannelID     string          `json:"channel_id"`
	Delta         decimal.Decimal `json:"delta"`
	Hours         decimal.Decimal `json:"hours"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Type          string          `json:"type"`
	Description   string          `json:"description,omitempty"`
	At            core.TimePoint  `json:"at"`
	Seq           int64           `json:"seq"`
}

type ConsumeResultDTO struct {
	Requested decimal.Decimal   `json:"requested_hours"`
	Entries   []HistoryEntryDTO `json:"entries"`
}

type CashFlowDTO struct {
	ID           string          `json:"id"`
	Date         core.TimePoint  `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
	Direction    string          `json:"direction"`
	Category     string          `json:"category"`
	Vertical     string          `json:"vertical,omitempty"`
	CustomerID   string          `json:"customer_id,omitempty"`
	RelatedModel string          `json:"related_model,omitempty"`
	RelatedID    string          `json:"related_id,omitempty"`
	Name         string          `json:"name,omitempty"`
	Notes        string          `json:"notes,omitempty"`
}

type ReportDTO struct {
	From               core.TimePoint             `json:"from"`
	To                 core.TimePoint             `json:"to"`
	Payments           []PaymentDTO               `json:"payments"`
	DelayedPaymentIDs  []string                   `json:"delayed_payment_ids"`
	ByMethod           map[string]decimal.Decimal `json:"by_method"`
	ByVertical         map[string]decimal.Decimal `json:"by_vertical"`
	SubscriptionIncome decimal.Decimal            `json:"subscription_income"`
	IncomeByCategory   map[string]decimal.Decimal `json:"income_by_category"`
	CashFlowIncome     decimal.Decimal            `json:"cash_flow_income"`
	Expenses           []CashFlowDTO              `json:"expenses"`
	ExpenseTotal       decimal.Decimal            `json:"expense_total"`
	WindowTotal        decimal.Decimal            `json:"window_total"`
	AllTimeTotal       decimal.Decimal            `json:"all_time_total"`
	InitialBalance     decimal.Decimal            `json:"initial_balance"`
	AllTimeExpenses    decimal.Decimal            `json:"all_time_expenses"`
	CashboxBalance     decimal.Decimal            `json:"cashbox_balance"`
}

type VerticalDTO struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	HoursPerScan        decimal.Decimal `json:"hours_per_scan"`
	DeductionFactor     decimal.Decimal `json:"deduction_factor"`
	PackageValidityDays int             `json:"package_validity_days"`
}

type JobResultDTO struct {
	Job   string         `json:"job"`
	AsOf  core.TimePoint `json:"as_of"`
	Count int            `json:"count"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toSubscriptionDTO(s core.Subscription, d *subscription.Derived) SubscriptionDTO {
	dto := SubscriptionDTO{
		ID:            string(s.ID),
		CustomerID:    string(s.CustomerID),
		Vertical:      string(s.Vertical),
		Label:         s.Label,
		Fee:           s.Fee,
		ZeroFeeReason: s.ZeroFeeReason,
		PaymentDate:   s.PaymentDate,
		StartDate:     s.StartDate,
		EndDate:       s.EndDate,
		State:         string(s.State),
		PreviousState: string(s.PreviousState),
		Notes:         s.Notes,
		CreatedAt:     s.CreatedAt,
	}
	if d != nil {
		dto.Derived = &DerivedDTO{
			TotalMonths:     d.TotalMonths,
			TotalPayments:   d.TotalPayments,
			LastPaymentDate: d.LastPaymentDate,
			Punctuality:     string(d.Punctuality),
			TotalFreezeDays: d.TotalFreezeDays,
		}
		if d.CurrentFreeze != nil {
			f := toFreezeDTO(*d.CurrentFreeze)
			dto.Derived.CurrentFreeze = &f
		}
	}
	return dto
}

func toPaymentDTO(p core.Payment) PaymentDTO {
	return PaymentDTO{
		ID:             string(p.ID),
		SubscriptionID: string(p.SubscriptionID),
		CustomerID:     string(p.CustomerID),
		Vertical:       string(p.Vertical),
		PaymentDate:    p.PaymentDate,
		RealDate:       p.RealDate,
		Amount:         p.Amount,
		Method:         string(p.Method),
		Note:           p.Note,
	}
}

func toPaymentDTOs(ps []core.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(ps))
	for i, p := range ps {
		dtos[i] = toPaymentDTO(p)
	}
	return dtos
}

func toFreezeDTO(f core.FreezePeriod) FreezeDTO {
	return FreezeDTO{
		ID:          string(f.ID),
		Start:       f.Start,
		End:         f.End,
		Days:        f.Days,
		State:       string(f.State),
		CompletedAt: f.CompletedAt,
	}
}

func toOutcomeDTO(o *subscription.Outcome) OutcomeDTO {
	dto := OutcomeDTO{
		Subscription: toSubscriptionDTO(o.Subscription, &o.Derived),
		Changes:      o.Changes,
	}
	if dto.Changes == nil {
		dto.Changes = []subscription.Change{}
	}
	if len(o.Payments) > 0 {
		dto.Payments = toPaymentDTOs(o.Payments)
	}
	if o.Freeze != nil {
		f := toFreezeDTO(*o.Freeze)
		dto.Freeze = &f
	}
	return dto
}

func toHistoryDTOs(entries []core.HistoryEntry) []HistoryEntryDTO {
	dtos := make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = HistoryEntryDTO{
			ID:            string(e.ID),
			Vertical:      string(e.Vertical),
			ChannelID:     string(e.ChannelID),
			Delta:         e.Delta,
			Hours:         e.Hours,
			BalanceBefore: e.BalanceBefore,
			BalanceAfter:  e.BalanceAfter,
			Type:          string(e.Type),
			Description:   e.Description,
			At:            e.At,
			Seq:           e.Seq,
		}
	}
	return dtos
}

func toChannelDTO(c core.Channel, remainingUnits, remainingHours decimal.Decimal, usable bool) ChannelDTO {
	return ChannelDTO{
		ID:              string(c.ID),
		Vertical:        string(c.Vertical),
		PackageName:     c.PackageName,
		Units:           c.Units,
		DeductionFactor: c.DeductionFactor,
		Expiry:          c.Expiry,
		State:           string(c.State),
		CreatedAt:       c.CreatedAt,
		RemainingUnits:  remainingUnits,
		RemainingHours:  remainingHours,
		Usable:          usable,
	}
}

func toBalanceDTO(a *balance.Availability) BalanceDTO {
	dto := BalanceDTO{
		CustomerID: string(a.CustomerID),
		Vertical:   string(a.Vertical),
		AsOf:       a.AsOf,
		Channels:   make([]ChannelDTO, len(a.Channels)),
		BaseHours:  a.BaseHours,
		TotalHours: a.TotalHours,
	}
	for i, c := range a.Channels {
		dto.Channels[i] = toChannelDTO(c.Channel, c.RemainingUnits, c.RemainingHours, c.Usable)
	}
	return dto
}

func toCashFlowDTO(e core.CashFlowEntry) CashFlowDTO {
	return CashFlowDTO{
		ID:           string(e.ID),
		Date:         e.Date,
		Amount:       e.Amount,
		Direction:    string(e.Direction),
		Category:     string(e.Category),
		Vertical:     string(e.Vertical),
		CustomerID:   string(e.CustomerID),
		RelatedModel: e.RelatedModel,
		RelatedID:    e.RelatedID,
		Name:         e.Name,
		Notes:        e.Notes,
	}
}

func toReportDTO(s *cashbox.Summary) ReportDTO {
	dto := ReportDTO{
		From:               s.Window.Start,
		To:                 s.Window.End,
		Payments:           toPaymentDTOs(s.Payments),
		DelayedPaymentIDs:  make([]string, len(s.Delayed)),
		ByMethod:           make(map[string]decimal.Decimal, len(s.ByMethod)),
		ByVertical:         make(map[string]decimal.Decimal, len(s.ByVertical)),
		SubscriptionIncome: s.SubscriptionIncome,
		IncomeByCategory:   make(map[string]decimal.Decimal, len(s.IncomeByCategory)),
		CashFlowIncome:     s.CashFlowIncome,
		Expenses:           make([]CashFlowDTO, len(s.Expenses)),
		ExpenseTotal:       s.ExpenseTotal,
		WindowTotal:        s.WindowTotal,
		AllTimeTotal:       s.AllTimeTotal,
		InitialBalance:     s.InitialBalance,
		AllTimeExpenses:    s.AllTimeExpenses,
		CashboxBalance:     s.CashboxBalance,
	}
	for i, p := range s.Delayed {
		dto.DelayedPaymentIDs[i] = string(p.ID)
	}
	for k, v := range s.ByMethod {
		dto.ByMethod[string(k)] = v
	}
	for k, v := range s.ByVertical {
		dto.ByVertical[string(k)] = v
	}
	for k, v := range s.IncomeByCategory {
		dto.IncomeByCategory[string(k)] = v
	}
	for i, e := range s.Expenses {
		dto.Expenses[i] = toCashFlowDTO(e)
	}
	return dto
}
