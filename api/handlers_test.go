/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Subscription lifecycle over HTTP (create, confirm, renew, derived fields)
- Error mapping (400, 404, 409, 422)
- Balance endpoints (credit, check-in, availability)
- Cash-flow guard and cashbox report / workbook
- Scheduler job runs
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volan/membership-engine/balance"
	"github.com/volan/membership-engine/cashbox"
	"github.com/volan/membership-engine/core"
	"github.com/volan/membership-engine/core/store"
	"github.com/volan/membership-engine/subscription"
)

type testServer struct {
	router *chi.Mux
	subs   *subscription.Service
	bal    *balance.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemory()
	subs := subscription.NewService(st, nil)
	bal := balance.NewEngine(st, nil)
	h := NewHandler(subs, bal, cashbox.NewBook(st, nil), cashbox.NewReporter(st, nil), nil)
	h.Now = func() core.TimePoint { return core.MustParseDate("2024-01-15") }
	return &testServer{router: NewRouter(h, RouterOptions{}), subs: subs, bal: bal}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func (s *testServer) createSubscription(t *testing.T) OutcomeDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/subscriptions?as_of=2024-01-01", map[string]any{
		"customer_id": "cust-1",
		"vertical":    "badminton",
		"fee":         "100",
		"start_date":  "2024-01-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[OutcomeDTO](t, rec)
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func TestSubscriptionLifecycle_ConfirmThenRenew(t *testing.T) {
	// GIVEN: A draft subscription with a fee of 100
	// WHEN: Confirming with cash, then renewing at the end of the month
	// THEN: Two payments are recorded and the derived totals reflect both

	s := newTestServer(t)
	created := s.createSubscription(t)
	assert.Equal(t, "draft", created.Subscription.State)
	id := created.Subscription.ID

	rec := s.do(t, http.MethodPost, "/api/subscriptions/"+id+"/confirm?as_of=2024-01-01", map[string]string{"method": "cash"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	confirmed := decode[OutcomeDTO](t, rec)
	assert.Equal(t, "active", confirmed.Subscription.State)
	require.Len(t, confirmed.Payments, 1)

	rec = s.do(t, http.MethodPost, "/api/subscriptions/"+id+"/renew?as_of=2024-01-31", map[string]string{"method": "card"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/subscriptions/"+id+"?as_of=2024-02-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[SubscriptionDTO](t, rec)
	require.NotNil(t, got.Derived)
	assert.Equal(t, 2, got.Derived.TotalMonths)
	assertDec(t, "200", got.Derived.TotalPayments)

	rec = s.do(t, http.MethodGet, "/api/subscriptions/"+id+"/payments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]PaymentDTO](t, rec), 2)
}

func TestSubscriptionAction_InvalidTransition(t *testing.T) {
	// GIVEN: A draft subscription
	// WHEN: Renewing it
	// THEN: 409 with code invalid_transition

	s := newTestServer(t)
	id := s.createSubscription(t).Subscription.ID

	rec := s.do(t, http.MethodPost, "/api/subscriptions/"+id+"/renew", map[string]string{"method": "cash"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, rec).Code)
}

func TestSubscriptionAction_UnknownActionAndMissingSubscription(t *testing.T) {
	s := newTestServer(t)
	id := s.createSubscription(t).Subscription.ID

	rec := s.do(t, http.MethodPost, "/api/subscriptions/"+id+"/teleport", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/subscriptions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

func TestSubscriptionAction_FeeRequiresValue(t *testing.T) {
	s := newTestServer(t)
	id := s.createSubscription(t).Subscription.ID

	rec := s.do(t, http.MethodPost, "/api/subscriptions/"+id+"/fee", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSubscriptions_FiltersByState(t *testing.T) {
	s := newTestServer(t)
	s.createSubscription(t)

	rec := s.do(t, http.MethodGet, "/api/subscriptions?state=draft", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SubscriptionDTO](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/subscriptions?state=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]SubscriptionDTO](t, rec))

	rec = s.do(t, http.MethodGet, "/api/subscriptions?state=sleeping", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsOf_Invalid(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/customers/cust-1/balance?as_of=15/01/2024", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// BALANCES
// =============================================================================

func TestConsume_InsufficientBalance(t *testing.T) {
	// GIVEN: A customer with no hours
	// WHEN: Consuming one badminton hour
	// THEN: 422 with the shortfall in the details

	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/customers/cust-1/consume", map[string]string{
		"vertical": "badminton",
		"hours":    "1",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_balance", resp.Code)
	details, ok := resp.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1", details["shortfall"])
	assert.Equal(t, "hours", details["unit"])
}

func TestCreditThenCheckIn(t *testing.T) {
	// GIVEN: A customer credited with 5 base hours
	// WHEN: Checking in once
	// THEN: The base balance drops by one scan

	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/customers/cust-1/credits", map[string]string{
		"vertical": "badminton",
		"hours":    "5",
		"type":     "purchase",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/customers/cust-1/checkins", map[string]string{"vertical": "badminton"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[ConsumeResultDTO](t, rec)
	assertDec(t, "1", res.Requested)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "base", res.Entries[0].ChannelID)

	rec = s.do(t, http.MethodGet, "/api/customers/cust-1/balance?vertical=badminton", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decode[BalanceDTO](t, rec)
	assertDec(t, "4", bal.BaseHours)
	assertDec(t, "4", bal.TotalHours)

	rec = s.do(t, http.MethodGet, "/api/customers/cust-1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]HistoryEntryDTO](t, rec), 2)
}

func TestOpenPackage_ConsumedBeforeBase(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/customers/cust-1/credits", map[string]string{
		"vertical": "badminton", "hours": "2", "type": "purchase",
	})
	rec := s.do(t, http.MethodPost, "/api/customers/cust-1/packages", map[string]string{
		"vertical": "badminton", "units": "3",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	pkg := decode[ChannelDTO](t, rec)

	rec = s.do(t, http.MethodPost, "/api/customers/cust-1/consume", map[string]string{
		"vertical": "badminton", "hours": "4",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[ConsumeResultDTO](t, rec)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, pkg.ID, res.Entries[0].ChannelID)
	assert.Equal(t, "base", res.Entries[1].ChannelID)
}

// =============================================================================
// CASHBOX
// =============================================================================

func TestCashFlow_ExpenseGuardAndReport(t *testing.T) {
	// GIVEN: An empty cashbox
	// WHEN: Recording an expense of 50, then income of 80, then the expense again
	// THEN: The first expense is rejected and the report balances to 30

	s := newTestServer(t)
	expense := map[string]string{
		"date": "2024-01-10", "amount": "50", "direction": "expense", "category": "other", "name": "shuttles",
	}
	rec := s.do(t, http.MethodPost, "/api/cashflow", expense)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/cashflow", map[string]string{
		"date": "2024-01-05", "amount": "80", "direction": "income", "category": "other",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/cashflow", expense)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/reports/cashbox?filter=custom&from=2024-01-01&to=2024-01-31", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := decode[ReportDTO](t, rec)
	assertDec(t, "80", rep.CashFlowIncome)
	assertDec(t, "50", rep.ExpenseTotal)
	assertDec(t, "30", rep.CashboxBalance)
	require.Len(t, rep.Expenses, 1)
	assert.Equal(t, "shuttles", rep.Expenses[0].Name)
}

func TestCashboxReport_DefaultsToCurrentMonth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/reports/cashbox", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rep := decode[ReportDTO](t, rec)
	assert.Equal(t, "2024-01-01", rep.From.String())
	assert.Equal(t, "2024-01-31", rep.To.String())

	rec = s.do(t, http.MethodGet, "/api/reports/cashbox?filter=custom&from=2024-02-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCashboxXLSX(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/reports/cashbox.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "cashbox_2024-01-01_2024-01-31.xlsx")
	// xlsx files are zip archives
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

// =============================================================================
// ADMIN / SCHEDULER
// =============================================================================

func TestAdminJobs(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/admin/expire-packages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[JobResultDTO](t, rec)
	assert.Equal(t, jobExpirePackages, res.Job)
	assert.Equal(t, 0, res.Count)

	rec = s.do(t, http.MethodPost, "/api/admin/sweep-freezes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobSweepFreezes, decode[JobResultDTO](t, rec).Job)
}

func TestScheduler_Run(t *testing.T) {
	// GIVEN: A package that expired before the scheduler's date
	// WHEN: Running the expiry job
	// THEN: One channel is expired; an unknown job is an error

	s := newTestServer(t)
	expiry := core.MustParseDate("2024-01-10")
	_, err := s.bal.OpenPackage(t.Context(), balance.PackageRequest{
		CustomerID: "cust-1",
		Vertical:   core.VerticalBadminton,
		Units:      decimal.NewFromInt(4),
		Expiry:     &expiry,
		AsOf:       core.MustParseDate("2024-01-01"),
	})
	require.NoError(t, err)

	sched := NewScheduler(s.subs, s.bal, nil, nil)
	sched.Now = func() core.TimePoint { return core.MustParseDate("2024-01-15") }

	n, err := sched.Run(jobExpirePackages)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = sched.Run(jobExpirePackages)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = sched.Run("defrag")
	assert.Error(t, err)
}

func TestScheduler_StartRejectsBadSpec(t *testing.T) {
	s := newTestServer(t)
	sched := NewScheduler(s.subs, s.bal, nil, nil)
	assert.Error(t, sched.Start("not a cron spec", ""))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/verticals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]VerticalDTO](t, rec))
}
