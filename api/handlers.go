/*
handlers.go - HTTP API handlers for the dairy allocation engine

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization and request-shape validation, and delegates to the engine.

ENDPOINTS:
  Production:
    POST   /api/production                       Report a bucket's produced total
    GET    /api/farms/{farmID}/availability      ?date=&session=MORNING|EVENING|ALL
    GET    /api/farms/{farmID}/breakdown         ?date=
    GET    /api/farms/{farmID}/history           ?days=7

  Orders:
    POST   /api/orders                           Create (PENDING)
    GET    /api/orders/{id}                      Order plus the bucket backing it
    POST   /api/orders/{id}/approve              PENDING -> CONFIRMED
    POST   /api/orders/{id}/reject               PENDING -> CANCELLED
    GET    /api/farms/{farmID}/orders            ?from=&to= every status, by delivery date
    GET    /api/farms/{farmID}/orders/pending    Owner's approval queue
    GET    /api/buyers/{buyerID}/orders          Buyer's orders

  Subscriptions:
    POST   /api/subscriptions                    Subscribe
    POST   /api/subscriptions/{id}/cancel        Cancel (buyer only)
    GET    /api/buyers/{buyerID}/subscriptions   Buyer's subscriptions
    GET    /api/farms/{farmID}/subscriptions     ?status= farm's subscribers

  Admin:
    POST   /api/admin/sweep                      Run the daily subscription sweep

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate shape (validator tags)
  3. Call the engine
  4. Serialize response
  5. Map engine errors to status codes

ERROR HANDLING:
  - 400: Validation errors, invalid input, time-window violations
  - 404: Unknown order/subscription/farm, session not offered
  - 409: Insufficient inventory, illegal state transition, concurrent update
  - 503: Bucket lock not acquired in time (retry)
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Caller identity (approver_id, buyer_id) is taken from
  the request body and assumed to be pre-authorized upstream.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/warp/dairy-engine/dairy"
)

const defaultHistoryDays = 7

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *dairy.Engine

	// Scheduler, when set, serves manual sweeps for today so its
	// last-run bookkeeping stays accurate.
	Scheduler *SweepScheduler

	Log logrus.FieldLogger

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over the engine.
func NewHandler(engine *dairy.Engine, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Engine:   engine,
		Log:      log,
		validate: validator.New(),
	}
}

// =============================================================================
// PRODUCTION HANDLERS
// =============================================================================

// ReportProduction replaces the produced total for one bucket.
// POST /api/production
func (h *Handler) ReportProduction(w http.ResponseWriter, r *http.Request) {
	var req ReportProductionRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, session, ok := parseDateSession(w, req.Date, req.Session)
	if !ok {
		return
	}

	b, err := h.Engine.ReportProduction(r.Context(), dairy.FarmID(req.FarmID), date, session, req.Total)
	if err != nil {
		h.writeEngineError(w, r, "Failed to report production", err)
		return
	}
	writeJSON(w, http.StatusOK, toBucketDTO(b))
}

// GetAvailability returns produced/allocated/available for a session or ALL.
// GET /api/farms/{farmID}/availability?date=YYYY-MM-DD&session=MORNING
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	farmID := dairy.FarmID(chi.URLParam(r, "farmID"))
	date, ok := h.queryDate(w, r)
	if !ok {
		return
	}
	sessionParam := r.URL.Query().Get("session")
	if sessionParam == "" {
		sessionParam = string(dairy.SessionAll)
	}
	session, err := dairy.ParseSession(sessionParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session", err)
		return
	}

	a, err := h.Engine.GetAvailability(r.Context(), farmID, date, session)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get availability", err)
		return
	}
	writeJSON(w, http.StatusOK, toAvailabilityDTO(a))
}

// GetDayBreakdown returns per-session availability plus the day total.
// GET /api/farms/{farmID}/breakdown?date=YYYY-MM-DD
func (h *Handler) GetDayBreakdown(w http.ResponseWriter, r *http.Request) {
	farmID := dairy.FarmID(chi.URLParam(r, "farmID"))
	date, ok := h.queryDate(w, r)
	if !ok {
		return
	}

	d, err := h.Engine.GetDayBreakdown(r.Context(), farmID, date)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get breakdown", err)
		return
	}
	writeJSON(w, http.StatusOK, toDayBreakdownDTO(d))
}

// GetProductionHistory returns daily produced totals ending today.
// GET /api/farms/{farmID}/history?days=7
func (h *Handler) GetProductionHistory(w http.ResponseWriter, r *http.Request) {
	farmID := dairy.FarmID(chi.URLParam(r, "farmID"))
	days := defaultHistoryDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid days parameter", err)
			return
		}
		days = n
	}

	totals, err := h.Engine.ProductionHistory(r.Context(), farmID, days)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get production history", err)
		return
	}
	dtos := make([]DailyTotalDTO, len(totals))
	for i, t := range totals {
		dtos[i] = DailyTotalDTO{Date: t.Date.String(), Produced: t.Produced}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// CreateOrder records a PENDING order.
// POST /api/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, session, ok := parseDateSession(w, req.Date, req.Session)
	if !ok {
		return
	}

	order, err := h.Engine.CreateOrder(r.Context(), dairy.OrderRequest{
		FarmID:   dairy.FarmID(req.FarmID),
		BuyerID:  dairy.BuyerID(req.BuyerID),
		Date:     date,
		Session:  session,
		Quantity: req.Quantity,
	})
	if err != nil {
		h.writeEngineError(w, r, "Failed to create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(*order))
}

// GetOrder returns an order and, once confirmed, the bucket backing it.
// GET /api/orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := dairy.OrderID(chi.URLParam(r, "id"))

	order, err := h.Engine.GetOrder(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get order", err)
		return
	}
	dto, err := h.orderWithAllocation(r, *order)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get order allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// ApproveOrder confirms a PENDING order and allocates its quantity.
// POST /api/orders/{id}/approve
func (h *Handler) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	id := dairy.OrderID(chi.URLParam(r, "id"))
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.Engine.ApproveOrder(r.Context(), id, req.ApproverID)
	if err != nil {
		h.writeEngineError(w, r, "Failed to approve order", err)
		return
	}
	dto, err := h.orderWithAllocation(r, *order)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get order allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// RejectOrder cancels a PENDING order.
// POST /api/orders/{id}/reject
func (h *Handler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	id := dairy.OrderID(chi.URLParam(r, "id"))
	var req DecisionRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.Engine.RejectOrder(r.Context(), id, req.ApproverID)
	if err != nil {
		h.writeEngineError(w, r, "Failed to reject order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(*order))
}

// ListPendingOrders returns the farm's PENDING orders, oldest first.
// GET /api/farms/{farmID}/orders/pending
func (h *Handler) ListPendingOrders(w http.ResponseWriter, r *http.Request) {
	farmID := dairy.FarmID(chi.URLParam(r, "farmID"))
	orders, err := h.Engine.ListPendingOrders(r.Context(), farmID)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list pending orders", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTOs(orders))
}

// ListFarmOrders returns the farm's orders in every status, optionally
// bounded by delivery date.
// GET /api/farms/{farmID}/orders?from=2024-01-01&to=2024-01-07
func (h *Handler) ListFarmOrders(w http.ResponseWriter, r *http.Request) {
	farmID := dairy.FarmID(chi.URLParam(r, "farmID"))
	from, ok := optionalDate(w, r, "from")
	if !ok {
		return
	}
	to, ok := optionalDate(w, r, "to")
	if !ok {
		return
	}

	orders, err := h.Engine.ListFarmOrders(r.Context(), farmID, from, to)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTOs(orders))
}

// ListBuyerOrders returns every order placed by a buyer.
// GET /api/buyers/{buyerID}/orders
func (h *Handler) ListBuyerOrders(w http.ResponseWriter, r *http.Request) {
	buyerID := dairy.BuyerID(chi.URLParam(r, "buyerID"))
	orders, err := h.Engine.ListOrdersByBuyer(r.Context(), buyerID)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTOs(orders))
}

func (h *Handler) orderWithAllocation(r *http.Request, order dairy.Order) (OrderDTO, error) {
	dto := toOrderDTO(order)
	if order.Status != dairy.OrderConfirmed {
		return dto, nil
	}
	alloc, bucket, err := h.Engine.OrderAllocation(r.Context(), order.ID)
	if err != nil {
		return dto, err
	}
	if alloc != nil {
		dto.AllocationID = string(alloc.ID)
		dto.BucketID = string(bucket.ID)
		dto.FulfilledSession = string(bucket.Key.Session)
	}
	return dto, nil
}

// =============================================================================
// SUBSCRIPTION HANDLERS
// =============================================================================

// Subscribe creates an ACTIVE subscription.
// POST /api/subscriptions
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := dairy.ParseSession(req.Session)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session", err)
		return
	}

	in := dairy.SubscribeRequest{
		BuyerID:  dairy.BuyerID(req.BuyerID),
		FarmID:   dairy.FarmID(req.FarmID),
		Quantity: req.Quantity,
		Session:  session,
	}
	if req.StartDate != "" {
		if in.StartDate, err = dairy.ParseDate(req.StartDate); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
			return
		}
	}
	if req.EndDate != "" {
		end, err := dairy.ParseDate(req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
			return
		}
		in.EndDate = &end
	}

	sub, err := h.Engine.Subscribe(r.Context(), in)
	if err != nil {
		h.writeEngineError(w, r, "Failed to create subscription", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubscriptionDTO(*sub))
}

// CancelSubscription stops an ACTIVE subscription.
// POST /api/subscriptions/{id}/cancel
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	id := dairy.SubscriptionID(chi.URLParam(r, "id"))
	var req CancelSubscriptionRequest
	if !h.decode(w, r, &req) {
		return
	}

	sub, err := h.Engine.CancelSubscription(r.Context(), id, dairy.BuyerID(req.BuyerID))
	if err != nil {
		h.writeEngineError(w, r, "Failed to cancel subscription", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionDTO(*sub))
}

// ListBuyerSubscriptions returns every subscription of a buyer.
// GET /api/buyers/{buyerID}/subscriptions
func (h *Handler) ListBuyerSubscriptions(w http.ResponseWriter, r *http.Request) {
	buyerID := dairy.BuyerID(chi.URLParam(r, "buyerID"))
	subs, err := h.Engine.ListSubscriptions(r.Context(), buyerID)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list subscriptions", err)
		return
	}
	dtos := make([]SubscriptionDTO, len(subs))
	for i, s := range subs {
		dtos[i] = toSubscriptionDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListFarmSubscriptions returns the farm's subscriptions.
// GET /api/farms/{farmID}/subscriptions?status=ACTIVE
func (h *Handler) ListFarmSubscriptions(w http.ResponseWriter, r *http.Request) {
	farmID := dairy.FarmID(chi.URLParam(r, "farmID"))
	status := dairy.SubscriptionStatus(strings.ToUpper(r.URL.Query().Get("status")))

	subs, err := h.Engine.ListFarmSubscriptions(r.Context(), farmID, status)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list subscriptions", err)
		return
	}
	dtos := make([]SubscriptionDTO, len(subs))
	for i, s := range subs {
		dtos[i] = toSubscriptionDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs the daily subscription sweep. Not idempotent: each
// call creates a new order per due subscription.
// POST /api/admin/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}

	var (
		report dairy.SweepReport
		err    error
	)
	switch {
	case req.Date != "":
		asOf, perr := dairy.ParseDate(req.Date)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", perr)
			return
		}
		report, err = h.Engine.RunDailySubscriptionSweep(r.Context(), asOf)
	case h.Scheduler != nil:
		report, err = h.Scheduler.RunNow(r.Context())
	default:
		report, err = h.Engine.RunDailySubscriptionSweep(r.Context(), h.Engine.Today())
	}
	if err != nil {
		h.writeEngineError(w, r, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepReportDTO(report))
}

// Health reports liveness.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads the JSON body into dst and validates it. On failure it
// writes a 400 and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid request",
				Code:    "VALIDATION",
				Details: details,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return false
	}
	return true
}

// queryDate reads ?date=, defaulting to the engine's today.
func (h *Handler) queryDate(w http.ResponseWriter, r *http.Request) (dairy.Date, bool) {
	v := r.URL.Query().Get("date")
	if v == "" {
		return h.Engine.Today(), true
	}
	d, err := dairy.ParseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return dairy.Date{}, false
	}
	return d, true
}

// optionalDate reads a YYYY-MM-DD query parameter; absent means zero.
func optionalDate(w http.ResponseWriter, r *http.Request, name string) (dairy.Date, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return dairy.Date{}, true
	}
	d, err := dairy.ParseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name+" format (use YYYY-MM-DD)", err)
		return dairy.Date{}, false
	}
	return d, true
}

func parseDateSession(w http.ResponseWriter, date, session string) (dairy.Date, dairy.Session, bool) {
	d, err := dairy.ParseDate(date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return dairy.Date{}, "", false
	}
	s, err := dairy.ParseSession(session)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session", err)
		return dairy.Date{}, "", false
	}
	return d, s, true
}

// statusFor maps an engine error to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, dairy.ErrValidation):
		return http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, dairy.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, dairy.ErrInsufficientInventory):
		return http.StatusConflict, "INSUFFICIENT_INVENTORY"
	case errors.Is(err, dairy.ErrIllegalStateTransition):
		return http.StatusConflict, "ILLEGAL_STATE_TRANSITION"
	case errors.Is(err, dairy.ErrConcurrentModification):
		return http.StatusConflict, "CONCURRENT_MODIFICATION"
	case errors.Is(err, dairy.ErrConcurrencyTimeout):
		return http.StatusServiceUnavailable, "LOCK_TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.WithError(err).WithField("path", r.URL.Path).Error(message)
	}
	if dairy.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	resp := ErrorResponse{Error: message, Code: code, Details: err.Error()}

	var ie *dairy.InsufficientInventoryError
	if errors.As(err, &ie) {
		resp.Details = map[string]string{
			"message":   err.Error(),
			"available": ie.Available.String(),
			"requested": ie.Requested.String(),
		}
	}
	writeJSON(w, status, resp)
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

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

func (h *Handler) scenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}
