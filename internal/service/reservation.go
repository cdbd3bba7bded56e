package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"account-service/internal/models"
	"account-service/internal/store"
	"account-service/internal/util"

	"go.uber.org/zap"
)

// Release reasons
const (
	ReleaseReasonCancelled = "cancelled"
	ReleaseReasonExpired   = "expired"
	ReleaseReasonManual    = "manual"
)

// ReservationResult lists the accounts affected by a reservation transition
type ReservationResult struct {
	OrderID    int64   `json:"orderId"`
	AccountIDs []int64 `json:"accountIds"`
}

// ReconcileResult reports a stock recomputation
type ReconcileResult struct {
	ProductID int64 `json:"productId"`
	Stock     int   `json:"stock"`
	Delta     int   `json:"delta"`
}

// Reserve holds quantity available accounts of a product for a pending order.
// Either every requested account is reserved or none is.
func (s *InventoryService) Reserve(ctx context.Context, orderID, productID int64, quantity int) (res *ReservationResult, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Reserve")
	defer func() { util.FinishSpan(span, err) }()
	defer s.observe("reserve", time.Now(), &err)

	if orderID <= 0 || productID <= 0 {
		return nil, models.NewValidationError("order_id and product_id are required")
	}
	if quantity < 1 {
		return nil, models.NewValidationError("quantity must be at least 1")
	}

	var refs []models.AccountRef
	err = s.store.InTx(ctx, func(tx store.AccountTx) error {
		var err error
		refs, err = tx.ReserveAvailable(ctx, orderID, productID, quantity)
		if err != nil {
			return err
		}
		if len(refs) < quantity {
			return models.NewConflictError(models.CodeInsufficientStock,
				"product %d has %d available accounts, %d requested", productID, len(refs), quantity)
		}
		return nil
	})
	if err != nil {
		return nil, wrapStorage("reserve accounts", err)
	}

	deadline := s.now().Add(s.opts.ReservationTTL)
	if err := s.cache.TrackReservation(ctx, orderID, deadline); err != nil {
		s.logger.Error("Failed to track reservation deadline",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}

	ids := refIDs(refs)
	util.AccountsReservedTotal.Add(float64(len(ids)))
	s.publishReservationChanged(ctx, models.EventTypeAccountsReserved, models.ReservationEvent{
		OrderID:    orderID,
		ProductID:  productID,
		AccountIDs: ids,
	})

	s.logger.Info("Accounts reserved",
		zap.Int64("order_id", orderID),
		zap.Int64("product_id", productID),
		zap.Int64s("account_ids", ids))

	return &ReservationResult{OrderID: orderID, AccountIDs: ids}, nil
}

// Release returns an order's reserved accounts to available
func (s *InventoryService) Release(ctx context.Context, orderID int64, reason string) (res *ReservationResult, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Release")
	defer func() { util.FinishSpan(span, err) }()
	defer s.observe("release", time.Now(), &err)

	var refs []models.AccountRef
	err = s.store.InTx(ctx, func(tx store.AccountTx) error {
		var err error
		refs, err = tx.ReleaseOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			return models.NewNotFoundError("no reserved accounts for order %d", orderID)
		}
		return nil
	})
	if err != nil {
		return nil, wrapStorage("release reservation", err)
	}

	if err := s.cache.UntrackReservation(ctx, orderID); err != nil {
		s.logger.Warn("Failed to untrack reservation", zap.Int64("order_id", orderID), zap.Error(err))
	}

	ids := refIDs(refs)
	util.AccountsReleasedTotal.WithLabelValues(reason).Add(float64(len(ids)))
	s.publishReservationChanged(ctx, models.EventTypeAccountsReleased, models.ReservationEvent{
		OrderID:    orderID,
		ProductID:  refs[0].ProductID,
		AccountIDs: ids,
		Reason:     reason,
	})

	s.logger.Info("Reservation released",
		zap.Int64("order_id", orderID),
		zap.String("reason", reason),
		zap.Int("count", len(ids)))

	return &ReservationResult{OrderID: orderID, AccountIDs: ids}, nil
}

// Sell consumes an order's reservation, marking its accounts sold
func (s *InventoryService) Sell(ctx context.Context, orderID int64) (res *ReservationResult, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Sell")
	defer func() { util.FinishSpan(span, err) }()
	defer s.observe("sell", time.Now(), &err)

	var refs []models.AccountRef
	levels := make(map[int64]models.StockLevel)
	err = s.store.InTx(ctx, func(tx store.AccountTx) error {
		var err error
		refs, err = tx.SellOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			return models.NewNotFoundError("no reserved accounts for order %d", orderID)
		}

		sold := make(map[int64]int)
		for _, ref := range refs {
			sold[ref.ProductID]++
		}
		for _, productID := range sortedKeys(sold) {
			level, err := tx.AdjustStock(ctx, productID, -sold[productID])
			if err != nil {
				return err
			}
			levels[productID] = level
		}
		return nil
	})
	if err != nil {
		return nil, wrapStorage("sell reservation", err)
	}

	for productID, level := range levels {
		s.refreshStock(ctx, productID, level)
	}
	if err := s.cache.UntrackReservation(ctx, orderID); err != nil {
		s.logger.Warn("Failed to untrack reservation", zap.Int64("order_id", orderID), zap.Error(err))
	}

	ids := refIDs(refs)
	util.AccountsSoldTotal.Add(float64(len(ids)))
	s.publishReservationChanged(ctx, models.EventTypeAccountsSold, models.ReservationEvent{
		OrderID:    orderID,
		ProductID:  refs[0].ProductID,
		AccountIDs: ids,
	})

	s.logger.Info("Reservation sold", zap.Int64("order_id", orderID), zap.Int("count", len(ids)))

	return &ReservationResult{OrderID: orderID, AccountIDs: ids}, nil
}

// ExpireReservations releases reservations whose deadline has passed and
// returns how many orders were released
func (s *InventoryService) ExpireReservations(ctx context.Context) (int, error) {
	due, err := s.cache.ClaimDueReservations(ctx, s.now(), s.opts.ExpiryBatchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, orderID := range due {
		_, err := s.Release(ctx, orderID, ReleaseReasonExpired)
		switch {
		case err == nil:
			released++
		case models.KindOf(err) == models.KindNotFound:
			// already sold or cancelled
		default:
			s.logger.Error("Failed to expire reservation", zap.Int64("order_id", orderID), zap.Error(err))
			if err := s.cache.TrackReservation(ctx, orderID, s.now()); err != nil {
				s.logger.Error("Failed to requeue reservation", zap.Int64("order_id", orderID), zap.Error(err))
			}
		}
	}
	return released, nil
}

// ReconcileStock recomputes a product's stock from its unsold accounts and
// applies the difference as a delta
func (s *InventoryService) ReconcileStock(ctx context.Context, productID int64) (res *ReconcileResult, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ReconcileStock")
	defer func() { util.FinishSpan(span, err) }()
	defer s.observe("reconcile", time.Now(), &err)

	result := &ReconcileResult{ProductID: productID}
	var level models.StockLevel
	err = s.store.InTx(ctx, func(tx store.AccountTx) error {
		current, err := tx.LockProductStock(ctx, productID)
		if errors.Is(err, store.ErrNotFound) {
			return models.NewNotFoundError("product %d not found", productID)
		}
		if err != nil {
			return err
		}

		actual, err := tx.CountUnsold(ctx, productID)
		if err != nil {
			return err
		}

		level = current
		result.Delta = actual - current.Stock
		if result.Delta == 0 {
			return nil
		}
		level, err = tx.AdjustStock(ctx, productID, result.Delta)
		return err
	})
	if err != nil {
		return nil, wrapStorage("reconcile stock", err)
	}

	result.Stock = level.Stock
	s.refreshStock(ctx, productID, level)
	if result.Delta != 0 {
		util.StockDriftTotal.Add(float64(abs(result.Delta)))
		s.logger.Warn("Stock drift corrected",
			zap.Int64("product_id", productID),
			zap.Int("delta", result.Delta),
			zap.Int("stock", result.Stock))
	}
	return result, nil
}

func (s *InventoryService) publishReservationChanged(ctx context.Context, eventType string, event models.ReservationEvent) {
	event.BaseEvent = newBaseEvent(eventType)
	if err := s.publisher.PublishReservationChanged(ctx, &event); err != nil {
		s.logger.Error("Failed to publish reservation event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func refIDs(refs []models.AccountRef) []int64 {
	ids := make([]int64, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	return ids
}

func sortedKeys(m map[int64]int) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
