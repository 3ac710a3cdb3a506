/*
handlers.go - HTTP API handlers for the membership engine

PURPOSE:
  Exposes the subscription, balance and cashbox engines via REST API.
  Handles HTTP request/response and JSON serialization, and delegates to
  the engines.

ENDPOINTS:
  Subscriptions:
    POST   /api/subscriptions                    Create (draft)
    GET    /api/subscriptions                    List (?customer_id=&vertical=&state=)
    GET    /api/subscriptions/{id}               Get with derived fields
    GET    /api/subscriptions/{id}/payments      Payment ledger
    GET    /api/subscriptions/{id}/freezes       Freeze periods
    POST   /api/subscriptions/{id}/{action}      confirm | renew | fee | freeze |
                                                 unfreeze | cancel-request |
                                                 cancel | complete | restore

  Balances:
    GET    /api/customers/{id}/balance           Availability (?vertical=)
    GET    /api/customers/{id}/history           Balance history
    POST   /api/customers/{id}/checkins          QR check-in
    POST   /api/customers/{id}/consume           Consume hours
    POST   /api/customers/{id}/credits           Base purchase/refund/adjustment
    POST   /api/customers/{id}/packages          Open a monthly package

  Cashbox:
    POST   /api/cashflow                         Record income/expense
    GET    /api/reports/cashbox                  Report (?filter=&from=&to=)
    GET    /api/reports/cashbox.xlsx             Same report as a workbook

  Admin:
    POST   /api/admin/expire-packages            Run the package expiry sweep
    POST   /api/admin/sweep-freezes              Run the freeze sweep

  Every endpoint accepts ?as_of=YYYY-MM-DD; the default is today.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Subscription, customer, freeze or channel not found
  - 409: Invalid state transition, duplicate id
  - 422: Insufficient balance (hours or cashbox)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Deploy behind the club's gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/volan/membership-engine/balance"
	"github.com/volan/membership-engine/cashbox"
	"github.com/volan/membership-engine/core"
	"github.com/volan/membership-engine/subscription"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Subscriptions *subscription.Service
	Balances      *balance.Engine
	Book          *cashbox.Book
	Reports       *cashbox.Reporter
	Logger        *slog.Logger

	// Now supplies the default as_of.
	Now func() core.TimePoint
}

func NewHandler(subs *subscription.Service, balances *balance.Engine, book *cashbox.Book, reports *cashbox.Reporter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Subscriptions: subs,
		Balances:      balances,
		Book:          book,
		Reports:       reports,
		Logger:        logger,
		Now:           core.Today,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListVerticals returns the registered vertical configuration.
func (h *Handler) ListVerticals(w http.ResponseWriter, r *http.Request) {
	configs := core.ListVerticals()
	dtos := make([]VerticalDTO, len(configs))
	for i, c := range configs {
		dtos[i] = VerticalDTO{
			ID:                  string(c.Vertical),
			Name:                c.Name,
			HoursPerScan:        c.HoursPerScan,
			DeductionFactor:     c.DefaultDeductionFactor,
			PackageValidityDays: c.PackageValidityDays,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SUBSCRIPTION HANDLERS
// =============================================================================

// CreateSubscription creates a draft subscription.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	var req CreateSubscriptionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	out, err := h.Subscriptions.Execute(r.Context(), subscription.Create{
		CustomerID:    core.CustomerID(req.CustomerID),
		Vertical:      core.Vertical(req.Vertical),
		Label:         req.Label,
		Fee:           req.Fee,
		ZeroFeeReason: req.ZeroFeeReason,
		StartDate:     req.StartDate,
		PaymentDate:   req.PaymentDate,
		Notes:         req.Notes,
		AsOf:          asOf,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create subscription", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOutcomeDTO(out))
}

// ListSubscriptions lists subscriptions, optionally filtered.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := core.SubscriptionFilter{
		CustomerID: core.CustomerID(q.Get("customer_id")),
		Vertical:   core.Vertical(q.Get("vertical")),
	}
	for _, s := range q["state"] {
		state := core.SubscriptionState(s)
		if !state.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown state", fmt.Errorf("state %q", s))
			return
		}
		f.States = append(f.States, state)
	}

	subs, err := h.Subscriptions.List(r.Context(), f)
	if err != nil {
		h.writeDomainError(w, "Failed to list subscriptions", err)
		return
	}
	dtos := make([]SubscriptionDTO, len(subs))
	for i, s := range subs {
		dtos[i] = toSubscriptionDTO(s, nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSubscription returns one subscription with derived fields.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	v, err := h.Subscriptions.Get(r.Context(), subscriptionID(r), asOf)
	if err != nil {
		h.writeDomainError(w, "Failed to get subscription", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionDTO(v.Subscription, &v.Derived))
}

// ListPayments returns the payment ledger of a subscription.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Subscriptions.Payments(r.Context(), subscriptionID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// ListFreezes returns the freeze periods of a subscription.
func (h *Handler) ListFreezes(w http.ResponseWriter, r *http.Request) {
	freezes, err := h.Subscriptions.FreezePeriods(r.Context(), subscriptionID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list freeze periods", err)
		return
	}
	dtos := make([]FreezeDTO, len(freezes))
	for i, f := range freezes {
		dtos[i] = toFreezeDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SubscriptionAction runs one lifecycle command.
func (h *Handler) SubscriptionAction(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	var req ActionRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	cmd, err := buildCommand(chi.URLParam(r, "action"), subscriptionID(r), req, asOf)
	if errors.Is(err, errUnknownAction) {
		writeError(w, http.StatusNotFound, "Unknown action", err)
		return
	}
	if err != nil {
		h.writeDomainError(w, "Subscription action rejected", err)
		return
	}
	out, err := h.Subscriptions.Execute(r.Context(), cmd)
	if err != nil {
		h.writeDomainError(w, "Subscription action rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(out))
}

var errUnknownAction = errors.New("unknown action")

func buildCommand(action string, id core.SubscriptionID, req ActionRequest, asOf core.TimePoint) (subscription.Command, error) {
	method := core.PaymentMethod(req.Method)
	switch action {
	case "confirm":
		return subscription.Confirm{SubscriptionID: id, Method: method, AsOf: asOf}, nil
	case "renew":
		return subscription.Renew{SubscriptionID: id, Method: method, Note: req.Note, AsOf: asOf}, nil
	case "fee":
		if req.Fee == nil {
			return nil, core.Invalid("fee", "required")
		}
		return subscription.SetFee{SubscriptionID: id, Fee: *req.Fee, ZeroFeeReason: req.ZeroFeeReason, AsOf: asOf}, nil
	case "freeze":
		return subscription.Freeze{SubscriptionID: id, Start: req.Start, End: req.End, AsOf: asOf}, nil
	case "unfreeze":
		return subscription.Unfreeze{SubscriptionID: id, AsOf: asOf}, nil
	case "cancel-request":
		return subscription.CancelRequest{SubscriptionID: id, AsOf: asOf}, nil
	case "cancel":
		return subscription.Cancel{SubscriptionID: id, AsOf: asOf}, nil
	case "complete":
		return subscription.Complete{SubscriptionID: id, AsOf: asOf}, nil
	case "restore":
		return subscription.Restore{SubscriptionID: id, AsOf: asOf}, nil
	default:
		return nil, fmt.Errorf("%w %q", errUnknownAction, action)
	}
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance returns what a customer can consume.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	vertical := core.Vertical(r.URL.Query().Get("vertical"))
	a, err := h.Balances.Available(r.Context(), customerID(r), vertical, asOf)
	if err != nil {
		h.writeDomainError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(a))
}

// GetHistory returns the balance history in append order.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Balances.History(r.Context(), customerID(r))
	if err != nil {
		h.writeDomainError(w, "Failed to get history", err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(entries))
}

// CheckIn consumes the vertical's per-scan hours.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	var req CheckInRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.Balances.CheckIn(r.Context(), customerID(r), core.Vertical(req.Vertical), asOf)
	if err != nil {
		h.writeDomainError(w, "Check-in rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toConsumeDTO(res))
}

// Consume draws hours across channels.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	var req ConsumeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.Balances.Consume(r.Context(), balance.ConsumeRequest{
		CustomerID:  customerID(r),
		Vertical:    core.Vertical(req.Vertical),
		Hours:       req.Hours,
		Type:        core.HistoryType(req.Type),
		Description: req.Description,
		AsOf:        asOf,
	})
	if err != nil {
		h.writeDomainError(w, "Consumption rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toConsumeDTO(res))
}

// Credit moves the base hour balance.
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	var req CreditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := h.Balances.Credit(r.Context(), balance.CreditRequest{
		CustomerID:  customerID(r),
		Vertical:    core.Vertical(req.Vertical),
		Hours:       req.Hours,
		Type:        core.HistoryType(req.Type),
		Description: req.Description,
		AsOf:        asOf,
	})
	if err != nil {
		h.writeDomainError(w, "Credit rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toHistoryDTOs([]core.HistoryEntry{entry})[0])
}

// OpenPackage creates a monthly channel.
func (h *Handler) OpenPackage(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	var req OpenPackageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ch, err := h.Balances.OpenPackage(r.Context(), balance.PackageRequest{
		CustomerID:      customerID(r),
		Vertical:        core.Vertical(req.Vertical),
		Name:            req.Name,
		Units:           req.Units,
		DeductionFactor: req.DeductionFactor,
		Expiry:          req.Expiry,
		AsOf:            asOf,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to open package", err)
		return
	}
	writeJSON(w, http.StatusCreated, toChannelDTO(ch, ch.Units, ch.Units.Mul(ch.DeductionFactor), true))
}

func toConsumeDTO(res *balance.ConsumeResult) ConsumeResultDTO {
	dto := ConsumeResultDTO{Entries: toHistoryDTOs(res.Entries)}
	if res.Plan != nil {
		dto.Requested = res.Plan.Requested
	}
	return dto
}

// =============================================================================
// CASHBOX HANDLERS
// =============================================================================

// RecordCashFlow appends an income or expense entry.
func (h *Handler) RecordCashFlow(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	var req CashFlowRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date := req.Date
	if date.IsZero() {
		date = asOf
	}
	entry, err := h.Book.Record(r.Context(), core.CashFlowEntry{
		Date:         date,
		Amount:       req.Amount,
		Direction:    core.Direction(req.Direction),
		Category:     core.CashCategory(req.Category),
		Vertical:     core.Vertical(req.Vertical),
		CustomerID:   core.CustomerID(req.CustomerID),
		RelatedModel: req.RelatedModel,
		RelatedID:    req.RelatedID,
		Name:         req.Name,
		Notes:        req.Notes,
		CreatedAt:    asOf,
	})
	if err != nil {
		h.writeDomainError(w, "Cash flow entry rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCashFlowDTO(entry))
}

// CashboxReport returns the reconciliation summary for a window.
func (h *Handler) CashboxReport(w http.ResponseWriter, r *http.Request) {
	sum, ok := h.report(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(sum))
}

// CashboxXLSX returns the same report as a spreadsheet.
func (h *Handler) CashboxXLSX(w http.ResponseWriter, r *http.Request) {
	sum, ok := h.report(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := cashbox.ExportXLSX(&buf, sum); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build workbook", err)
		return
	}
	name := fmt.Sprintf("cashbox_%s_%s.xlsx", sum.Window.Start, sum.Window.End)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) (*cashbox.Summary, bool) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return nil, false
	}
	q := r.URL.Query()
	filter := core.DateFilter(q.Get("filter"))
	if filter == "" {
		filter = core.FilterMonth
		if q.Get("from") != "" || q.Get("to") != "" {
			filter = core.FilterCustom
		}
	}
	from, ok := optionalDate(w, q.Get("from"), "from")
	if !ok {
		return nil, false
	}
	to, ok := optionalDate(w, q.Get("to"), "to")
	if !ok {
		return nil, false
	}

	window, err := core.WindowFor(filter, asOf, from, to)
	if err != nil {
		h.writeDomainError(w, "Invalid report window", err)
		return nil, false
	}
	sum, err := h.Reports.Report(r.Context(), window)
	if err != nil {
		h.writeDomainError(w, "Failed to build report", err)
		return nil, false
	}
	return sum, true
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ExpirePackages runs the package expiry sweep now.
func (h *Handler) ExpirePackages(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	n, err := h.Balances.ExpirePackages(r.Context(), asOf)
	if err != nil {
		h.writeDomainError(w, "Package expiry failed", err)
		return
	}
	writeJSON(w, http.StatusOK, JobResultDTO{Job: jobExpirePackages, AsOf: asOf, Count: n})
}

// SweepFreezes runs the freeze sweep now.
func (h *Handler) SweepFreezes(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.asOf(w, r)
	if !ok {
		return
	}
	n, err := h.Subscriptions.SweepFreezes(r.Context(), asOf)
	if err != nil {
		h.writeDomainError(w, "Freeze sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, JobResultDTO{Job: jobSweepFreezes, AsOf: asOf, Count: n})
}

// =============================================================================
// HELPERS
// =============================================================================

func subscriptionID(r *http.Request) core.SubscriptionID {
	return core.SubscriptionID(chi.URLParam(r, "id"))
}

func customerID(r *http.Request) core.CustomerID {
	return core.CustomerID(chi.URLParam(r, "id"))
}

func (h *Handler) asOf(w http.ResponseWriter, r *http.Request) (core.TimePoint, bool) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return h.Now(), true
	}
	tp, err := core.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of (use YYYY-MM-DD)", err)
		return core.TimePoint{}, false
	}
	return tp, true
}

func optionalDate(w http.ResponseWriter, raw, field string) (*core.TimePoint, bool) {
	if raw == "" {
		return nil, true
	}
	tp, err := core.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+field+" (use YYYY-MM-DD)", err)
		return nil, false
	}
	return &tp, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status, code := classify(err)
	resp := ErrorResponse{Error: message, Code: code, Details: err.Error()}

	var ie *core.InsufficientBalanceError
	if errors.As(err, &ie) {
		resp.Details = map[string]string{
			"message":   err.Error(),
			"available": ie.Available.String(),
			"requested": ie.Requested.String(),
			"shortfall": ie.Shortfall.String(),
			"unit":      string(ie.Unit),
		}
	}
	switch {
	case core.IsClientError(err):
		h.Logger.Debug(message, "error", err, "code", code)
	case status == http.StatusInternalServerError:
		h.Logger.Error(message, "error", err)
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case core.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, core.ErrDuplicateID):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, core.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
