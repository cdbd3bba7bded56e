package store

import (
	"context"
	"database/sql"
	"fmt"

	"account-service/internal/models"
)

const accountColumns = `id, product_id, identifier, secret, status, duplicate_group_id, duplicate_count,
	original_account_id, duplicate_index, reserved_order_id, reserved_at, created_at, sold_at`

// AccountTx is the set of statements the inventory manager runs inside one transaction
type AccountTx interface {
	InsertAccount(ctx context.Context, account *models.Account) error
	GetAccountForUpdate(ctx context.Context, id int64) (*models.Account, error)
	AssignGroup(ctx context.Context, accountID int64, groupID string) error
	MaxDuplicateIndex(ctx context.Context, groupID string) (int, error)
	CountGroup(ctx context.Context, groupID string) (total, unsold int, err error)
	SetGroupCount(ctx context.Context, groupID string, count int) error
	UpdateCredentials(ctx context.Context, accountID int64, identifier, secret string) error
	UpdateGroupCredentials(ctx context.Context, groupID string, exceptID int64, identifier, secret string) (int64, error)
	DeleteAccount(ctx context.Context, id int64) (int64, error)
	DeleteGroup(ctx context.Context, groupID string) (int64, error)
	AdjustStock(ctx context.Context, productID int64, delta int) (models.StockLevel, error)
	LockProductStock(ctx context.Context, productID int64) (models.StockLevel, error)
	CountUnsold(ctx context.Context, productID int64) (int, error)
	ReserveAvailable(ctx context.Context, orderID, productID int64, quantity int) ([]models.AccountRef, error)
	ReleaseOrder(ctx context.Context, orderID int64) ([]models.AccountRef, error)
	SellOrder(ctx context.Context, orderID int64) ([]models.AccountRef, error)
}

type accountTx struct {
	tx execQuerier
}

// InsertAccount inserts a row and fills in its id and creation time
func (t *accountTx) InsertAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (product_id, identifier, secret, status, duplicate_group_id,
			duplicate_count, original_account_id, duplicate_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := t.tx.GetContext(ctx, account, query,
		account.ProductID, account.Identifier, account.Secret, account.Status,
		account.DuplicateGroupID, account.DuplicateCount, account.OriginalAccountID, account.DuplicateIndex)
	if err != nil {
		return translateError(err)
	}
	return nil
}

// GetAccountForUpdate reads and row-locks an account
func (t *accountTx) GetAccountForUpdate(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	err := t.tx.GetContext(ctx, &account,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// AssignGroup makes a groupless account the original of a new group
func (t *accountTx) AssignGroup(ctx context.Context, accountID int64, groupID string) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE accounts SET duplicate_group_id = $1, duplicate_index = 0 WHERE id = $2",
		groupID, accountID)
	return err
}

// MaxDuplicateIndex returns the highest index in a group, 0 for an empty group
func (t *accountTx) MaxDuplicateIndex(ctx context.Context, groupID string) (int, error) {
	var maxIndex int
	err := t.tx.GetContext(ctx, &maxIndex,
		"SELECT COALESCE(MAX(duplicate_index), 0) FROM accounts WHERE duplicate_group_id = $1", groupID)
	return maxIndex, err
}

type groupCount struct {
	Total  int `db:"total"`
	Unsold int `db:"unsold"`
}

// CountGroup counts all members of a group and the unsold ones
func (t *accountTx) CountGroup(ctx context.Context, groupID string) (int, int, error) {
	var c groupCount
	err := t.tx.GetContext(ctx, &c, `
		SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE status <> 'sold') AS unsold
		FROM accounts WHERE duplicate_group_id = $1`, groupID)
	return c.Total, c.Unsold, err
}

// SetGroupCount writes the group cardinality onto every member
func (t *accountTx) SetGroupCount(ctx context.Context, groupID string, count int) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE accounts SET duplicate_count = $1 WHERE duplicate_group_id = $2",
		count, groupID)
	return err
}

// UpdateCredentials rewrites identifier and secret of a single row
func (t *accountTx) UpdateCredentials(ctx context.Context, accountID int64, identifier, secret string) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE accounts SET identifier = $1, secret = $2 WHERE id = $3",
		identifier, secret, accountID)
	if err != nil {
		return translateError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %d: %w", accountID, ErrNotFound)
	}
	return nil
}

// UpdateGroupCredentials propagates credentials to the other members of a group
func (t *accountTx) UpdateGroupCredentials(ctx context.Context, groupID string, exceptID int64, identifier, secret string) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE accounts SET identifier = $1, secret = $2 WHERE duplicate_group_id = $3 AND id <> $4",
		identifier, secret, groupID, exceptID)
	if err != nil {
		return 0, translateError(err)
	}
	return res.RowsAffected()
}

// DeleteAccount deletes one row
func (t *accountTx) DeleteAccount(ctx context.Context, id int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM accounts WHERE id = $1", id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteGroup deletes every member of a group
func (t *accountTx) DeleteGroup(ctx context.Context, groupID string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM accounts WHERE duplicate_group_id = $1", groupID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AdjustStock adds delta to the product stock and bumps its version
func (t *accountTx) AdjustStock(ctx context.Context, productID int64, delta int) (models.StockLevel, error) {
	var level models.StockLevel
	err := t.tx.GetContext(ctx, &level, `
		UPDATE products SET stock = stock + $1, stock_version = stock_version + 1
		WHERE id = $2
		RETURNING stock, stock_version`, delta, productID)
	if err == sql.ErrNoRows {
		return level, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return level, err
}

// LockProductStock reads and row-locks the product stock counter
func (t *accountTx) LockProductStock(ctx context.Context, productID int64) (models.StockLevel, error) {
	var level models.StockLevel
	err := t.tx.GetContext(ctx, &level,
		"SELECT stock, stock_version FROM products WHERE id = $1 FOR UPDATE", productID)
	if err == sql.ErrNoRows {
		return level, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return level, err
}

// CountUnsold counts available and reserved accounts of a product
func (t *accountTx) CountUnsold(ctx context.Context, productID int64) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM accounts WHERE product_id = $1 AND status <> 'sold'", productID)
	return n, err
}

// ReserveAvailable holds up to quantity available accounts for an order
func (t *accountTx) ReserveAvailable(ctx context.Context, orderID, productID int64, quantity int) ([]models.AccountRef, error) {
	query := `
		UPDATE accounts SET status = 'reserved', reserved_order_id = $1, reserved_at = NOW()
		WHERE id IN (
			SELECT id FROM accounts
			WHERE product_id = $2 AND status = 'available'
			ORDER BY id
			LIMIT $3
			FOR UPDATE SKIP LOCKED)
		RETURNING id, product_id`

	refs := []models.AccountRef{}
	err := t.tx.SelectContext(ctx, &refs, query, orderID, productID, quantity)
	return refs, err
}

// ReleaseOrder returns an order's reserved accounts to available
func (t *accountTx) ReleaseOrder(ctx context.Context, orderID int64) ([]models.AccountRef, error) {
	query := `
		UPDATE accounts SET status = 'available', reserved_order_id = NULL, reserved_at = NULL
		WHERE reserved_order_id = $1 AND status = 'reserved'
		RETURNING id, product_id`

	refs := []models.AccountRef{}
	err := t.tx.SelectContext(ctx, &refs, query, orderID)
	return refs, err
}

// SellOrder marks an order's reserved accounts as sold
func (t *accountTx) SellOrder(ctx context.Context, orderID int64) ([]models.AccountRef, error) {
	query := `
		UPDATE accounts SET status = 'sold', sold_at = NOW()
		WHERE reserved_order_id = $1 AND status = 'reserved'
		RETURNING id, product_id`

	refs := []models.AccountRef{}
	err := t.tx.SelectContext(ctx, &refs, query, orderID)
	return refs, err
}

// GetAccountByID retrieves an account by ID
func (s *Store) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	err := s.db.GetContext(ctx, &account,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetAccountsByProduct lists a product's accounts, optionally filtered by status
func (s *Store) GetAccountsByProduct(ctx context.Context, productID int64, status string, limit, offset int) ([]models.Account, error) {
	accounts := []models.Account{}
	err := s.db.SelectContext(ctx, &accounts, `
		SELECT `+accountColumns+` FROM accounts
		WHERE product_id = $1 AND ($2::text = '' OR status = $2)
		ORDER BY id
		LIMIT $3 OFFSET $4`,
		productID, status, limit, offset)
	return accounts, err
}

// GetGroupMembers retrieves the members of a duplicate group ordered by index
func (s *Store) GetGroupMembers(ctx context.Context, groupID string) ([]models.Account, error) {
	accounts := []models.Account{}
	err := s.db.SelectContext(ctx, &accounts,
		"SELECT "+accountColumns+" FROM accounts WHERE duplicate_group_id = $1 ORDER BY duplicate_index, id",
		groupID)
	return accounts, err
}
