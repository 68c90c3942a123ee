/*
subscription.go - Recurring commitments and the daily sweep

LIFECYCLE:
  ACTIVE ──buyer cancels──▶ CANCELLED
    │
    └──endDate passed (seen by sweep)──▶ COMPLETED

DAILY SWEEP:
  For every ACTIVE subscription, once per calendar day, under the
  subscription's lock and after re-reading it:
    no longer ACTIVE         -> skipped (inactive)
    startDate in the future  -> skipped
    endDate before asOf      -> COMPLETED, no order that day
    otherwise                -> CreateOrder(asOf, session, quantity, buyer)

  The order goes through exactly the same path as a manual purchase and is
  left PENDING for the farm owner. Each subscription yields one
  SweepResult; a failure (including a panic) is recorded and logged and
  never stops the rest of the batch.

  The sweep is not idempotent: running it twice for the same day creates
  a second order per subscription. Callers trigger it once per day.
*/
package dairy

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SubscribeRequest is the input of Subscribe. A zero StartDate means today.
type SubscribeRequest struct {
	BuyerID   BuyerID
	FarmID    FarmID
	Quantity  decimal.Decimal
	Session   Session
	StartDate Date
	EndDate   *Date
}

// Subscribe creates an ACTIVE subscription.
func (e *Engine) Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error) {
	if req.BuyerID == "" {
		return nil, &ValidationError{Field: "buyer_id", Reason: "required"}
	}
	if req.FarmID == "" {
		return nil, &ValidationError{Field: "farm_id", Reason: "required"}
	}
	if !req.Quantity.IsPositive() {
		return nil, &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}
	if !req.Session.IsValid() {
		return nil, &ValidationError{Field: "session", Reason: fmt.Sprintf("unknown session %q", req.Session)}
	}

	now := e.now()
	start := req.StartDate
	if start.IsZero() {
		start = DateOf(now)
	}
	if req.EndDate != nil && req.EndDate.Before(start) {
		return nil, &ValidationError{Field: "end_date", Reason: "before start_date"}
	}
	if err := e.Windows.Check(now, start, req.Session); err != nil {
		return nil, err
	}
	if err := e.checkFarm(ctx, req.FarmID); err != nil {
		return nil, err
	}

	sub := Subscription{
		ID:        SubscriptionID(e.newID()),
		BuyerID:   req.BuyerID,
		FarmID:    req.FarmID,
		Quantity:  req.Quantity,
		Session:   req.Session,
		StartDate: start,
		EndDate:   req.EndDate,
		Status:    SubscriptionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Store.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	e.log().WithFields(subscriptionFields(&sub)).Info("subscription created")
	return &sub, nil
}

// CancelSubscription stops an ACTIVE subscription. Only its buyer may cancel.
// It runs under the subscription lock, so it never interleaves with the
// sweep's handling of the same subscription.
func (e *Engine) CancelSubscription(ctx context.Context, id SubscriptionID, buyerID BuyerID) (*Subscription, error) {
	var result *Subscription
	err := e.withLock(ctx, subscriptionLockKey(id), func(ctx context.Context) error {
		sub, err := e.GetSubscription(ctx, id)
		if err != nil {
			return err
		}
		if sub.BuyerID != buyerID {
			return &ValidationError{Field: "buyer_id", Reason: "subscription belongs to another buyer"}
		}
		if sub.Status != SubscriptionActive {
			return &IllegalStateTransitionError{Kind: "subscription", ID: string(id), From: string(sub.Status), Action: "cancel"}
		}

		sub.Status = SubscriptionCancelled
		sub.UpdatedAt = e.now()
		if err := e.Store.TransitionSubscription(ctx, *sub, SubscriptionActive); err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				return &IllegalStateTransitionError{Kind: "subscription", ID: string(id), From: "not ACTIVE", Action: "cancel"}
			}
			return fmt.Errorf("failed to cancel subscription %s: %w", id, err)
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log().WithFields(subscriptionFields(result)).Info("subscription cancelled")
	return result, nil
}

func (e *Engine) GetSubscription(ctx context.Context, id SubscriptionID) (*Subscription, error) {
	sub, err := e.Store.GetSubscription(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription %s: %w", id, err)
	}
	if sub == nil {
		return nil, &NotFoundError{Kind: "subscription", ID: string(id)}
	}
	return sub, nil
}

func (e *Engine) ListSubscriptions(ctx context.Context, buyerID BuyerID) ([]Subscription, error) {
	return e.Store.ListSubscriptions(ctx, SubscriptionFilter{BuyerID: buyerID})
}

// ListFarmSubscriptions returns the farm's subscriptions, optionally
// narrowed to one status.
func (e *Engine) ListFarmSubscriptions(ctx context.Context, farmID FarmID, status SubscriptionStatus) ([]Subscription, error) {
	if status != "" && !status.IsValid() {
		return nil, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	return e.Store.ListSubscriptions(ctx, SubscriptionFilter{FarmID: farmID, Status: status})
}

// =============================================================================
// DAILY SWEEP
// =============================================================================

type SweepOutcome string

const (
	SweepOrdered    SweepOutcome = "ordered"
	SweepNotStarted SweepOutcome = "not_started"
	SweepCompleted  SweepOutcome = "completed"
	SweepInactive   SweepOutcome = "inactive"
	SweepFailed     SweepOutcome = "failed"
)

// SweepResult is the outcome for one subscription: an order, a skip, or
// the error that prevented the order.
type SweepResult struct {
	SubscriptionID SubscriptionID
	Outcome        SweepOutcome
	Order          *Order
	Err            error
}

type SweepReport struct {
	Date    Date
	Results []SweepResult
}

// Count returns how many results had the given outcome.
func (r SweepReport) Count(o SweepOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// RunDailySubscriptionSweep converts every ACTIVE subscription into an
// order for asOf. Only a failure to list subscriptions is returned as an
// error; per-subscription failures are in the report.
func (e *Engine) RunDailySubscriptionSweep(ctx context.Context, asOf Date) (SweepReport, error) {
	subs, err := e.Store.ListSubscriptions(ctx, SubscriptionFilter{Status: SubscriptionActive})
	if err != nil {
		return SweepReport{}, fmt.Errorf("failed to list active subscriptions: %w", err)
	}

	log := e.log().WithField("date", asOf.String())
	log.WithField("subscriptions", len(subs)).Info("daily subscription sweep started")

	report := SweepReport{Date: asOf, Results: make([]SweepResult, len(subs))}

	limit := e.SweepConcurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range subs {
		i := i
		g.Go(func() error {
			report.Results[i] = e.sweepOne(ctx, subs[i], asOf)
			return nil
		})
	}
	_ = g.Wait()

	log.WithFields(logrus.Fields{
		"ordered":     report.Count(SweepOrdered),
		"not_started": report.Count(SweepNotStarted),
		"completed":   report.Count(SweepCompleted),
		"inactive":    report.Count(SweepInactive),
		"failed":      report.Count(SweepFailed),
	}).Info("daily subscription sweep finished")

	return report, nil
}

// sweepOne handles one subscription under its lock. The subscription is
// re-read there: one cancelled or completed after the listing is skipped.
func (e *Engine) sweepOne(ctx context.Context, listed Subscription, asOf Date) (res SweepResult) {
	res.SubscriptionID = listed.ID
	log := e.log().WithFields(subscriptionFields(&listed))

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = SweepFailed
			res.Order = nil
			res.Err = fmt.Errorf("panic processing subscription %s: %v", listed.ID, r)
			log.WithError(res.Err).Error("subscription sweep failed")
		}
	}()

	err := e.withLock(ctx, subscriptionLockKey(listed.ID), func(ctx context.Context) error {
		sub, err := e.Store.GetSubscription(ctx, listed.ID)
		if err != nil {
			return fmt.Errorf("failed to load subscription %s: %w", listed.ID, err)
		}
		if sub == nil || sub.Status != SubscriptionActive {
			res.Outcome = SweepInactive
			return nil
		}

		if sub.StartDate.After(asOf) {
			res.Outcome = SweepNotStarted
			return nil
		}

		if sub.EndDate != nil && sub.EndDate.Before(asOf) {
			next := *sub
			next.Status = SubscriptionCompleted
			next.UpdatedAt = e.now()
			if err := e.Store.TransitionSubscription(ctx, next, SubscriptionActive); err != nil {
				return fmt.Errorf("failed to complete subscription %s: %w", sub.ID, err)
			}
			res.Outcome = SweepCompleted
			log.Info("subscription completed")
			return nil
		}

		order, err := e.CreateOrder(ctx, OrderRequest{
			FarmID:   sub.FarmID,
			BuyerID:  sub.BuyerID,
			Date:     asOf,
			Session:  sub.Session,
			Quantity: sub.Quantity,
		})
		if err != nil {
			return err
		}
		res.Outcome = SweepOrdered
		res.Order = order
		log.WithField("order_id", order.ID).Info("order generated for subscription")
		return nil
	})
	if err != nil {
		res.Outcome = SweepFailed
		res.Order = nil
		res.Err = err
		entry := log.WithError(err)
		if isInsufficient(err) {
			entry.Warn("subscription order not placed: insufficient inventory")
		} else {
			entry.Error("subscription order not placed")
		}
	}
	return res
}

func subscriptionFields(s *Subscription) logrus.Fields {
	return logrus.Fields{
		"subscription_id": s.ID,
		"farm_id":         s.FarmID,
		"buyer_id":        s.BuyerID,
		"session":         s.Session,
		"quantity":        s.Quantity.String(),
		"status":          s.Status,
	}
}
