package service

import (
	"context"
	"time"

	"account-service/internal/models"
	"account-service/internal/util"

	"go.uber.org/zap"
)

// EventDeduper remembers which events were already applied
type EventDeduper interface {
	MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	ForgetEvent(ctx context.Context, eventID string) error
}

// CheckoutHandler applies checkout events to the inventory
type CheckoutHandler struct {
	inventory *InventoryService
	dedupe    EventDeduper
	dedupeTTL time.Duration
	logger    *zap.Logger
}

// NewCheckoutHandler creates a new checkout event handler
func NewCheckoutHandler(inventory *InventoryService, dedupe EventDeduper, dedupeTTL time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		inventory: inventory,
		dedupe:    dedupe,
		dedupeTTL: dedupeTTL,
		logger:    util.GetLogger(),
	}
}

// HandleOrderCreated reserves accounts for a new order
func (h *CheckoutHandler) HandleOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "CheckoutHandler.HandleOrderCreated")
	defer span.End()

	return h.apply(ctx, event.BaseEvent, func() error {
		_, err := h.inventory.Reserve(ctx, event.OrderID, event.ProductID, event.Quantity)
		return err
	})
}

// HandleOrderPaid sells the order's reserved accounts
func (h *CheckoutHandler) HandleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	ctx, span := util.StartSpan(ctx, "CheckoutHandler.HandleOrderPaid")
	defer span.End()

	return h.apply(ctx, event.BaseEvent, func() error {
		_, err := h.inventory.Sell(ctx, event.OrderID)
		return err
	})
}

// HandleOrderCancelled releases the order's reserved accounts
func (h *CheckoutHandler) HandleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	ctx, span := util.StartSpan(ctx, "CheckoutHandler.HandleOrderCancelled")
	defer span.End()

	return h.apply(ctx, event.BaseEvent, func() error {
		_, err := h.inventory.Release(ctx, event.OrderID, ReleaseReasonCancelled)
		return err
	})
}

// apply runs fn at most once per event id. Business rejections are logged and
// acknowledged; storage failures are returned so the message is not committed.
func (h *CheckoutHandler) apply(ctx context.Context, event models.BaseEvent, fn func() error) error {
	if event.EventID != "" {
		first, err := h.dedupe.MarkEventProcessed(ctx, event.EventID, h.dedupeTTL)
		if err != nil {
			h.logger.Warn("Event dedupe unavailable, processing anyway",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		} else if !first {
			h.logger.Info("Event already processed", zap.String("event_id", event.EventID))
			return nil
		}
	}

	err := fn()
	if err == nil {
		return nil
	}

	if models.KindOf(err) != models.KindStorage {
		h.logger.Warn("Checkout event rejected",
			zap.String("event_type", event.EventType),
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return nil
	}

	if event.EventID != "" {
		if ferr := h.dedupe.ForgetEvent(ctx, event.EventID); ferr != nil {
			h.logger.Error("Failed to forget event", zap.String("event_id", event.EventID), zap.Error(ferr))
		}
	}
	return err
}
