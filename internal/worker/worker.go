package worker

import (
	"context"
	"sync"
	"time"

	"account-service/internal/broker"
	"account-service/internal/service"
	"account-service/internal/util"

	"go.uber.org/zap"
)

// CheckoutWorker applies checkout events from Kafka to the inventory
type CheckoutWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewCheckoutWorker creates a new checkout worker
func NewCheckoutWorker(
	consumer *broker.Consumer,
	checkoutHandler *service.CheckoutHandler,
) *CheckoutWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderCreated(checkoutHandler.HandleOrderCreated)
	eventHandler.OnOrderPaid(checkoutHandler.HandleOrderPaid)
	eventHandler.OnOrderCancelled(checkoutHandler.HandleOrderCancelled)

	return &CheckoutWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *CheckoutWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting checkout worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CheckoutWorker) Stop() error {
	w.logger.Info("Stopping checkout worker...")
	return w.consumer.Close()
}

// ReservationExpirer releases reservations whose deadline has passed
type ReservationExpirer interface {
	ExpireReservations(ctx context.Context) (int, error)
}

// ExpiryWorker periodically releases expired reservations
type ExpiryWorker struct {
	expirer  ReservationExpirer
	interval time.Duration
	logger   *zap.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(expirer ReservationExpirer, interval time.Duration) *ExpiryWorker {
	return &ExpiryWorker{
		expirer:  expirer,
		interval: interval,
		logger:   util.GetLogger(),
		done:     make(chan struct{}),
	}
}

// Start sweeps every interval until ctx is cancelled or Stop is called
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting reservation expiry worker...", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	released, err := w.expirer.ExpireReservations(ctx)
	if err != nil {
		w.logger.Error("Reservation sweep failed", zap.Error(err))
		return
	}
	if released > 0 {
		w.logger.Info("Expired reservations released", zap.Int("orders", released))
	}
}

// Stop stops the worker. Calling it more than once is a no-op.
func (w *ExpiryWorker) Stop() error {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping reservation expiry worker...")
		close(w.done)
	})
	return nil
}
