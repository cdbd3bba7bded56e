package models

import "time"

// Product represents a catalog entry whose stock counts unsold accounts
type Product struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Price        int64     `db:"price" json:"price"`
	Stock        int       `db:"stock" json:"stock"`
	StockVersion int64     `db:"stock_version" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Level returns the product's stock with the version it was committed at
func (p *Product) Level() StockLevel {
	return StockLevel{Stock: p.Stock, Version: p.StockVersion}
}

// StockLevel is a committed stock value. Version grows by one on every stock write,
// so a cache can drop values older than the one it holds.
type StockLevel struct {
	Stock   int   `db:"stock"`
	Version int64 `db:"stock_version"`
}

// Account represents a sellable credential pair
type Account struct {
	ID                int64      `db:"id" json:"id"`
	ProductID         int64      `db:"product_id" json:"product_id"`
	Identifier        string     `db:"identifier" json:"identifier"`
	Secret            string     `db:"secret" json:"secret"`
	Status            string     `db:"status" json:"status"`
	DuplicateGroupID  *string    `db:"duplicate_group_id" json:"duplicate_group_id,omitempty"`
	DuplicateCount    int        `db:"duplicate_count" json:"duplicate_count"`
	OriginalAccountID *int64     `db:"original_account_id" json:"original_account_id,omitempty"`
	DuplicateIndex    int        `db:"duplicate_index" json:"duplicate_index"`
	ReservedOrderID   *int64     `db:"reserved_order_id" json:"reserved_order_id,omitempty"`
	ReservedAt        *time.Time `db:"reserved_at" json:"reserved_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	SoldAt            *time.Time `db:"sold_at" json:"sold_at,omitempty"`
}

// IsOriginal reports whether the account heads its duplicate group (or has none)
func (a *Account) IsOriginal() bool {
	return a.OriginalAccountID == nil
}

// GroupID returns the duplicate group id or an empty string
func (a *Account) GroupID() string {
	if a.DuplicateGroupID == nil {
		return ""
	}
	return *a.DuplicateGroupID
}

// AccountRef identifies an account touched by a bulk status change
type AccountRef struct {
	ID        int64 `db:"id" json:"id"`
	ProductID int64 `db:"product_id" json:"product_id"`
}

// Account statuses
const (
	AccountStatusAvailable = "available"
	AccountStatusReserved  = "reserved"
	AccountStatusSold      = "sold"
)

// GroupMember is one row of a duplicate group report
type GroupMember struct {
	ID             int64  `json:"id"`
	Status         string `json:"status"`
	DuplicateIndex int    `json:"duplicate_index"`
}

// GroupStats aggregates the members of a duplicate group
type GroupStats struct {
	GroupID   string        `json:"group_id"`
	Total     int           `json:"total"`
	Available int           `json:"available"`
	Reserved  int           `json:"reserved"`
	Sold      int           `json:"sold"`
	Members   []GroupMember `json:"members"`
}

// ImportRowError describes a CSV row that could not be imported
type ImportRowError struct {
	Row        int    `json:"row"`
	Identifier string `json:"identifier,omitempty"`
	Error      string `json:"error"`
}

// ImportReport summarizes a bulk CSV import
type ImportReport struct {
	TotalProcessed int              `json:"total_processed"`
	SuccessCount   int              `json:"success_count"`
	ErrorCount     int              `json:"error_count"`
	Errors         []ImportRowError `json:"errors"`
}

// AddError records a failed row
func (r *ImportReport) AddError(row int, identifier, message string) {
	r.ErrorCount++
	r.Errors = append(r.Errors, ImportRowError{Row: row, Identifier: identifier, Error: message})
}
