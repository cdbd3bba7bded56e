package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"account-service/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/claim_due_reservations.lua
var claimDueScript string

//go:embed scripts/set_stock_if_newer.lua
var setStockScript string

const reservationDeadlinesKey = "reservations:deadlines"

type Client struct {
	rdb         *redis.Client
	claimScript *redis.Script
	stockScript *redis.Script
	stockTTL    time.Duration
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int, stockTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:         rdb,
		claimScript: redis.NewScript(claimDueScript),
		stockScript: redis.NewScript(setStockScript),
		stockTTL:    stockTTL,
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// SetStock caches a product's stock counter unless the cache already holds
// a value committed at the same or a later version. It reports whether the value was stored.
func (c *Client) SetStock(ctx context.Context, productID int64, level models.StockLevel) (bool, error) {
	stored, err := c.stockScript.Run(ctx, c.rdb, []string{stockKey(productID)},
		level.Stock, level.Version, c.stockTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("set stock script failed: %w", err)
	}
	return stored == 1, nil
}

// GetStock returns the cached stock and whether it was present
func (c *Client) GetStock(ctx context.Context, productID int64) (int, bool, error) {
	stock, err := c.rdb.HGet(ctx, stockKey(productID), "stock").Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return stock, true, nil
}

// InvalidateStock drops a cached stock counter
func (c *Client) InvalidateStock(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, stockKey(productID)).Err()
}

// TrackReservation records the deadline after which an order's reservation expires
func (c *Client) TrackReservation(ctx context.Context, orderID int64, deadline time.Time) error {
	return c.rdb.ZAdd(ctx, reservationDeadlinesKey, &redis.Z{
		Score:  float64(deadline.Unix()),
		Member: strconv.FormatInt(orderID, 10),
	}).Err()
}

// UntrackReservation forgets an order's reservation deadline
func (c *Client) UntrackReservation(ctx context.Context, orderID int64) error {
	return c.rdb.ZRem(ctx, reservationDeadlinesKey, strconv.FormatInt(orderID, 10)).Err()
}

// ClaimDueReservations atomically removes and returns orders whose deadline has passed
func (c *Client) ClaimDueReservations(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	result, err := c.claimScript.Run(ctx, c.rdb, []string{reservationDeadlinesKey}, now.Unix(), limit).Result()
	if err != nil {
		return nil, fmt.Errorf("claim reservations script failed: %w", err)
	}
	return parseOrderIDs(result)
}

// MarkEventProcessed records an event id, returning false if it was already seen
func (c *Client) MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("processed:%s", eventID), "1", ttl).Result()
}

// ForgetEvent removes an event id so the event can be processed again
func (c *Client) ForgetEvent(ctx context.Context, eventID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("processed:%s", eventID)).Err()
}

func parseOrderIDs(result interface{}) ([]int64, error) {
	items, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected script result type %T", result)
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected member type %T", item)
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid order id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
