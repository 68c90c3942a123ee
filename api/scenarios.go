/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the engine with realistic
	data for demos. Each scenario reports production, places orders and
	creates subscriptions through the engine, exactly as clients would.

AVAILABLE SCENARIOS:

	overbooked-morning: pending demand exceeding the morning bucket
	session-fallback:   an order only the evening bucket can cover
	subscriptions:      recurring buyers and one daily sweep

HOW SCENARIOS WORK:
 1. Report production for the scenario's farm
 2. Place orders (dated tomorrow, so session cutoffs never interfere)
 3. Optionally subscribe buyers and run the sweep

NOTE:

	Scenarios do not reset storage; each uses its own farm ID, and loading
	one twice adds a second batch of orders.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/dairy-engine/dairy"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "overbooked-morning",
		Name:        "Overbooked Morning",
		Description: "Three pending 6 L orders against a 10 L morning bucket: only one can be approved",
	},
	{
		ID:          "session-fallback",
		Name:        "Session Fallback",
		Description: "A 10 L morning order the morning bucket cannot cover; approval allocates from evening",
	},
	{
		ID:          "subscriptions",
		Name:        "Subscriptions",
		Description: "Two subscribers and one daily sweep producing a pending order",
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the last loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var err error
	switch req.ScenarioID {
	case "overbooked-morning":
		err = h.loadOverbookedMorning(r.Context())
	case "session-fallback":
		err = h.loadSessionFallback(r.Context())
	case "subscriptions":
		err = h.loadSubscriptions(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q not found", req.ScenarioID))
		return
	}
	if err != nil {
		h.writeEngineError(w, r, "Failed to load scenario", err)
		return
	}

	h.setScenario(req.ScenarioID)
	h.Log.WithField("scenario", req.ScenarioID).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) loadOverbookedMorning(ctx context.Context) error {
	farm := dairy.FarmID("demo-farm-overbooked")
	day := h.Engine.Today().AddDays(1)

	if err := h.produce(ctx, farm, day, map[dairy.Session]int64{dairy.SessionMorning: 10}); err != nil {
		return err
	}
	for _, buyer := range []dairy.BuyerID{"buyer-anna", "buyer-ben", "buyer-chen"} {
		if _, err := h.Engine.CreateOrder(ctx, dairy.OrderRequest{
			FarmID:   farm,
			BuyerID:  buyer,
			Date:     day,
			Session:  dairy.SessionMorning,
			Quantity: decimal.NewFromInt(6),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadSessionFallback(ctx context.Context) error {
	farm := dairy.FarmID("demo-farm-fallback")
	day := h.Engine.Today().AddDays(1)

	if err := h.produce(ctx, farm, day, map[dairy.Session]int64{
		dairy.SessionMorning: 4,
		dairy.SessionEvening: 20,
	}); err != nil {
		return err
	}
	// Fits the day total at creation; approval must fall back to evening.
	_, err := h.Engine.CreateOrder(ctx, dairy.OrderRequest{
		FarmID:   farm,
		BuyerID:  "buyer-dara",
		Date:     day,
		Session:  dairy.SessionAll,
		Quantity: decimal.NewFromInt(10),
	})
	return err
}

func (h *Handler) loadSubscriptions(ctx context.Context) error {
	farm := dairy.FarmID("demo-farm-subscriptions")
	today := h.Engine.Today()

	if err := h.produce(ctx, farm, today, map[dairy.Session]int64{
		dairy.SessionMorning: 12,
		dairy.SessionEvening: 9,
	}); err != nil {
		return err
	}
	if _, err := h.Engine.Subscribe(ctx, dairy.SubscribeRequest{
		BuyerID:  "buyer-eli",
		FarmID:   farm,
		Quantity: decimal.NewFromInt(2),
		Session:  dairy.SessionAll,
	}); err != nil {
		return err
	}
	if _, err := h.Engine.Subscribe(ctx, dairy.SubscribeRequest{
		BuyerID:   "buyer-fay",
		FarmID:    farm,
		Quantity:  decimal.NewFromInt(3),
		Session:   dairy.SessionEvening,
		StartDate: today.AddDays(1),
	}); err != nil {
		return err
	}

	_, err := h.Engine.RunDailySubscriptionSweep(ctx, today)
	return err
}

func (h *Handler) produce(ctx context.Context, farm dairy.FarmID, day dairy.Date, totals map[dairy.Session]int64) error {
	for _, session := range dairy.RealSessions {
		total, ok := totals[session]
		if !ok {
			continue
		}
		if _, err := h.Engine.ReportProduction(ctx, farm, day, session, decimal.NewFromInt(total)); err != nil {
			return err
		}
	}
	return nil
}
