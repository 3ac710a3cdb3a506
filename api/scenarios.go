/*
scenarios.go - Demo scenario loaders for the front desk app

PURPOSE:

	Populates the store with realistic club data for demos and manual
	testing. Each scenario goes through the same engines as the API, so
	ledgers, history and events are exactly what real traffic produces.

AVAILABLE SCENARIOS:

	new-member:        Badminton membership created and paid in cash
	package-and-base:  Monthly package plus base hours, two check-ins
	frozen-membership: Paid membership with a running freeze
	cashbox-month:     Lesson income, a package sale and an expense

HOW SCENARIOS WORK:
 1. Generate fresh customer ids (demo-<scenario>-<short uuid>)
 2. Drive the subscription, balance and cashbox engines
 3. Return the ids created so the caller can browse them

Loading the same scenario twice creates a second, independent set of
customers. Nothing is reset.

USAGE VIA API:

	POST /api/scenarios/load?as_of=2024-01-15
	{"scenario_id": "package-and-base"}

NOTE:

	Routes are only mounted when APP_ENV=dev.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/volan/membership-engine/balance"
	"github.com/volan/membership-engine/core"
	"github.com/volan/membership-engine/subscription"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type ScenarioResultDTO struct {
	Scenario      string   `json:"scenario"`
	Customers     []string `json:"customers"`
	Subscriptions []string `json:"subscriptions,omitempty"`
}

// seeded collects what a loader created.
type seeded struct {
	customers     []core.CustomerID
	subscriptions []core.SubscriptionID
}

func (s *seeded) customer(scenario string) core.CustomerID {
	id := core.CustomerID(fmt.Sprintf("demo-%s-%s", scenario, uuid.NewString()[:8]))
	s.customers = append(s.customers, id)
	return id
}

type scenarioLoader func(h *Handler, ctx context.Context, asOf core.TimePoint, s *seeded) error

var scenarios = []ScenarioDTO{
	{ID: "new-member", Name: "New Member", Description: "Badminton membership created and confirmed with a cash payment"},
	{ID: "package-and-base", Name: "Package and Base Hours", Description: "Monthly package consumed before base hours"},
	{ID: "frozen-membership", Name: "Frozen Membership", Description: "Paid membership with a freeze running through as_of"},
	{ID: "cashbox-month", Name: "Cashbox Month", Description: "Lesson income, a package sale and an expense this month"},
}

var scenarioLoaders = map[string]scenarioLoader{
	"new-member":        loadNewMember,
	"package-and-base":  loadPackageAndBase,
	"frozen-membership": loadFrozenMembership,
	"cashbox-month":     loadCashboxMonth,
}

var errUnknownScenario = errors.New("unknown scenario")

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario seeds a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.loadScenario(r.Context(), req.ScenarioID, asOf)
	if errors.Is(err, errUnknownScenario) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", err)
		return
	}
	if err != nil {
		h.writeDomainError(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) loadScenario(ctx context.Context, id string, asOf core.TimePoint) (*ScenarioResultDTO, error) {
	load, ok := scenarioLoaders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownScenario, id)
	}

	var s seeded
	if err := load(h, ctx, asOf, &s); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", id, err)
	}
	h.Logger.Info("scenario loaded", "scenario", id, "as_of", asOf.String(), "customers", len(s.customers))

	res := &ScenarioResultDTO{Scenario: id}
	for _, c := range s.customers {
		res.Customers = append(res.Customers, string(c))
	}
	for _, sub := range s.subscriptions {
		res.Subscriptions = append(res.Subscriptions, string(sub))
	}
	return res, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// paidMembership creates and confirms a subscription starting at start.
func (h *Handler) paidMembership(ctx context.Context, customer core.CustomerID, vertical core.Vertical, fee int64, start core.TimePoint, s *seeded) (core.SubscriptionID, error) {
	out, err := h.Subscriptions.Execute(ctx, subscription.Create{
		CustomerID: customer,
		Vertical:   vertical,
		Label:      "Demo membership",
		Fee:        decimal.NewFromInt(fee),
		StartDate:  start,
		AsOf:       start,
	})
	if err != nil {
		return "", err
	}
	id := out.Subscription.ID
	s.subscriptions = append(s.subscriptions, id)

	_, err = h.Subscriptions.Execute(ctx, subscription.Confirm{SubscriptionID: id, Method: core.MethodCash, AsOf: start})
	return id, err
}

func loadNewMember(h *Handler, ctx context.Context, asOf core.TimePoint, s *seeded) error {
	_, err := h.paidMembership(ctx, s.customer("new-member"), core.VerticalBadminton, 100, asOf, s)
	return err
}

func loadPackageAndBase(h *Handler, ctx context.Context, asOf core.TimePoint, s *seeded) error {
	customer := s.customer("package-and-base")

	if _, err := h.Balances.Credit(ctx, balance.CreditRequest{
		CustomerID:  customer,
		Vertical:    core.VerticalBadminton,
		Hours:       decimal.NewFromInt(10),
		Type:        core.HistoryPurchase,
		Description: "Base hours sale",
		AsOf:        asOf,
	}); err != nil {
		return err
	}
	if _, err := h.Balances.OpenPackage(ctx, balance.PackageRequest{
		CustomerID: customer,
		Vertical:   core.VerticalBadminton,
		Name:       "8 hour monthly",
		Units:      decimal.NewFromInt(8),
		AsOf:       asOf,
	}); err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if _, err := h.Balances.CheckIn(ctx, customer, core.VerticalBadminton, asOf); err != nil {
			return err
		}
	}
	return nil
}

func loadFrozenMembership(h *Handler, ctx context.Context, asOf core.TimePoint, s *seeded) error {
	start := asOf.AddDays(-20)
	id, err := h.paidMembership(ctx, s.customer("frozen-membership"), core.VerticalBasketball, 150, start, s)
	if err != nil {
		return err
	}
	_, err = h.Subscriptions.Execute(ctx, subscription.Freeze{
		SubscriptionID: id,
		Start:          asOf.AddDays(-2),
		End:            asOf.AddDays(5),
		AsOf:           asOf.AddDays(-2),
	})
	return err
}

func loadCashboxMonth(h *Handler, ctx context.Context, asOf core.TimePoint, s *seeded) error {
	customer := s.customer("cashbox-month")
	first := asOf.StartOfMonth()

	entries := []core.CashFlowEntry{
		{Date: first, Amount: decimal.NewFromInt(60), Direction: core.DirectionIncome, Category: core.CategoryBadmintonLesson, Vertical: core.VerticalBadminton, CustomerID: customer, Name: "Private lesson"},
		{Date: first, Amount: decimal.NewFromInt(45), Direction: core.DirectionIncome, Category: core.CategoryBasketballLesson, Vertical: core.VerticalBasketball, CustomerID: customer, Name: "Group lesson"},
		{Date: asOf, Amount: decimal.NewFromInt(120), Direction: core.DirectionIncome, Category: core.CategoryPackageSale, Vertical: core.VerticalBadminton, CustomerID: customer, Name: "8 hour monthly"},
		{Date: asOf, Amount: decimal.NewFromInt(35), Direction: core.DirectionExpense, Category: core.CategoryOther, Name: "Shuttlecocks"},
	}
	for _, e := range entries {
		if _, err := h.Book.Record(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
