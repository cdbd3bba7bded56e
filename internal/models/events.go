package models

import "time"

// Event types consumed from checkout
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
)

// Event types published by inventory
const (
	EventTypeAccountsCreated    = "ACCOUNTS_CREATED"
	EventTypeAccountsDuplicated = "ACCOUNTS_DUPLICATED"
	EventTypeAccountsUpdated    = "ACCOUNTS_UPDATED"
	EventTypeAccountsDeleted    = "ACCOUNTS_DELETED"
	EventTypeAccountsReserved   = "ACCOUNTS_RESERVED"
	EventTypeAccountsReleased   = "ACCOUNTS_RELEASED"
	EventTypeAccountsSold       = "ACCOUNTS_SOLD"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent asks inventory to hold accounts for a pending order
type OrderCreatedEvent struct {
	BaseEvent
	OrderID   int64 `json:"order_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// OrderPaidEvent consumes the order's reservation
type OrderPaidEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
}

// OrderCancelledEvent releases the order's reservation
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// AccountsChangedEvent is published after create, duplicate, update and delete
type AccountsChangedEvent struct {
	BaseEvent
	ProductID  int64  `json:"product_id"`
	AccountID  int64  `json:"account_id"`
	GroupID    string `json:"group_id,omitempty"`
	Count      int    `json:"count"`
	StockDelta int    `json:"stock_delta"`
	Stock      int    `json:"stock"`
}

// ReservationEvent is published after reserve, release and sell
type ReservationEvent struct {
	BaseEvent
	OrderID    int64   `json:"order_id"`
	ProductID  int64   `json:"product_id,omitempty"`
	AccountIDs []int64 `json:"account_ids"`
	Reason     string  `json:"reason,omitempty"`
}
