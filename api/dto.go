/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

QUANTITIES:
  Decimal quantities are encoded as JSON strings ("10.5") and accepted as
  either strings or numbers.

VALIDATION:
  Request shape (required fields, date format) is checked with struct tags
  (go-playground/validator). Domain rules (positive quantity, time windows)
  stay in the engine.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/dairy-engine/dairy"
)

// =============================================================================
// REQUESTS
// =============================================================================

// ReportProductionRequest replaces a bucket's produced total.
type ReportProductionRequest struct {
	FarmID  string          `json:"farm_id" validate:"required"`
	Date    string          `json:"date" validate:"required,datetime=2006-01-02"`
	Session string          `json:"session" validate:"required"`
	Total   decimal.Decimal `json:"total"`
}

type CreateOrderRequest struct {
	FarmID   string          `json:"farm_id" validate:"required"`
	BuyerID  string          `json:"buyer_id" validate:"required"`
	Date     string          `json:"date" validate:"required,datetime=2006-01-02"`
	Session  string          `json:"session" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

// DecisionRequest is the body of approve and reject.
type DecisionRequest struct {
	ApproverID string `json:"approver_id" validate:"required"`
}

type SubscribeRequest struct {
	BuyerID   string          `json:"buyer_id" validate:"required"`
	FarmID    string          `json:"farm_id" validate:"required"`
	Session   string          `json:"session" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	StartDate string          `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string          `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type CancelSubscriptionRequest struct {
	BuyerID string `json:"buyer_id" validate:"required"`
}

// SweepRequest triggers the daily sweep. An empty date means today.
type SweepRequest struct {
	Date string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type BucketDTO struct {
	ID        string          `json:"id"`
	FarmID    string          `json:"farm_id"`
	Date      string          `json:"date"`
	Session   string          `json:"session"`
	Produced  decimal.Decimal `json:"produced"`
	UpdatedAt string          `json:"updated_at,omitempty"`
}

type AvailabilityDTO struct {
	FarmID    string          `json:"farm_id"`
	Date      string          `json:"date"`
	Session   string          `json:"session"`
	Produced  decimal.Decimal `json:"produced"`
	Allocated decimal.Decimal `json:"allocated"`
	Available decimal.Decimal `json:"available"`
}

type DayBreakdownDTO struct {
	FarmID   string            `json:"farm_id"`
	Date     string            `json:"date"`
	Sessions []AvailabilityDTO `json:"sessions"`
	Total    AvailabilityDTO   `json:"total"`
}

type DailyTotalDTO struct {
	Date     string          `json:"date"`
	Produced decimal.Decimal `json:"produced"`
}

// OrderDTO represents an order. FulfilledSession and BucketID are set once
// the order is CONFIRMED and name the bucket that actually backs it, which
// may differ from the requested session.
type OrderDTO struct {
	ID               string          `json:"id"`
	FarmID           string          `json:"farm_id"`
	BuyerID          string          `json:"buyer_id"`
	Date             string          `json:"date"`
	Session          string          `json:"session"`
	Quantity         decimal.Decimal `json:"quantity"`
	Status           string          `json:"status"`
	DecidedBy        *string         `json:"decided_by,omitempty"`
	DecidedAt        *string         `json:"decided_at,omitempty"`
	CreatedAt        string          `json:"created_at,omitempty"`
	AllocationID     string          `json:"allocation_id,omitempty"`
	BucketID         string          `json:"bucket_id,omitempty"`
	FulfilledSession string          `json:"fulfilled_session,omitempty"`
}

type SubscriptionDTO struct {
	ID        string          `json:"id"`
	BuyerID   string          `json:"buyer_id"`
	FarmID    string          `json:"farm_id"`
	Session   string          `json:"session"`
	Quantity  decimal.Decimal `json:"quantity"`
	StartDate string          `json:"start_date"`
	EndDate   *string         `json:"end_date,omitempty"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"created_at,omitempty"`
}

type SweepResultDTO struct {
	SubscriptionID string `json:"subscription_id"`
	Outcome        string `json:"outcome"`
	OrderID        string `json:"order_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

type SweepReportDTO struct {
	Date       string           `json:"date"`
	Ordered    int              `json:"ordered"`
	NotStarted int              `json:"not_started"`
	Completed  int              `json:"completed"`
	Inactive   int              `json:"inactive"`
	Failed     int              `json:"failed"`
	Results    []SweepResultDTO `json:"results"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
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

func toBucketDTO(b dairy.Bucket) BucketDTO {
	return BucketDTO{
		ID:        string(b.ID),
		FarmID:    string(b.Key.FarmID),
		Date:      b.Key.Date.String(),
		Session:   string(b.Key.Session),
		Produced:  b.Produced,
		UpdatedAt: b.UpdatedAt.Format(time.RFC3339),
	}
}

func toAvailabilityDTO(a dairy.Availability) AvailabilityDTO {
	return AvailabilityDTO{
		FarmID:    string(a.FarmID),
		Date:      a.Date.String(),
		Session:   string(a.Session),
		Produced:  a.Produced,
		Allocated: a.Allocated,
		Available: a.Available,
	}
}

func toDayBreakdownDTO(d dairy.DayBreakdown) DayBreakdownDTO {
	sessions := make([]AvailabilityDTO, len(d.Sessions))
	for i, a := range d.Sessions {
		sessions[i] = toAvailabilityDTO(a)
	}
	return DayBreakdownDTO{
		FarmID:   string(d.FarmID),
		Date:     d.Date.String(),
		Sessions: sessions,
		Total:    toAvailabilityDTO(d.Total),
	}
}

func toOrderDTO(o dairy.Order) OrderDTO {
	dto := OrderDTO{
		ID:        string(o.ID),
		FarmID:    string(o.FarmID),
		BuyerID:   string(o.BuyerID),
		Date:      o.Date.String(),
		Session:   string(o.Session),
		Quantity:  o.Quantity,
		Status:    string(o.Status),
		DecidedBy: o.DecidedBy,
		CreatedAt: o.CreatedAt.Format(time.RFC3339),
	}
	if o.DecidedAt != nil {
		s := o.DecidedAt.Format(time.RFC3339)
		dto.DecidedAt = &s
	}
	return dto
}

func toOrderDTOs(orders []dairy.Order) []OrderDTO {
	dtos := make([]OrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toOrderDTO(o)
	}
	return dtos
}

func toSubscriptionDTO(s dairy.Subscription) SubscriptionDTO {
	dto := SubscriptionDTO{
		ID:        string(s.ID),
		BuyerID:   string(s.BuyerID),
		FarmID:    string(s.FarmID),
		Session:   string(s.Session),
		Quantity:  s.Quantity,
		StartDate: s.StartDate.String(),
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
	if s.EndDate != nil {
		end := s.EndDate.String()
		dto.EndDate = &end
	}
	return dto
}

func toSweepReportDTO(r dairy.SweepReport) SweepReportDTO {
	dto := SweepReportDTO{
		Date:       r.Date.String(),
		Ordered:    r.Count(dairy.SweepOrdered),
		NotStarted: r.Count(dairy.SweepNotStarted),
		Completed:  r.Count(dairy.SweepCompleted),
		Inactive:   r.Count(dairy.SweepInactive),
		Failed:     r.Count(dairy.SweepFailed),
		Results:    make([]SweepResultDTO, len(r.Results)),
	}
	for i, res := range r.Results {
		item := SweepResultDTO{
			SubscriptionID: string(res.SubscriptionID),
			Outcome:        string(res.Outcome),
		}
		if res.Order != nil {
			item.OrderID = string(res.Order.ID)
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		dto.Results[i] = item
	}
	return dto
}
