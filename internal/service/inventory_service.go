package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"account-service/internal/models"
	"account-service/internal/store"
	"account-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InventoryStore is the persistence the inventory manager needs
type InventoryStore interface {
	InTx(ctx context.Context, fn func(store.AccountTx) error) error
	GetAccountByID(ctx context.Context, id int64) (*models.Account, error)
	GetAccountsByProduct(ctx context.Context, productID int64, status string, limit, offset int) ([]models.Account, error)
	GetGroupMembers(ctx context.Context, groupID string) ([]models.Account, error)
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
}

// StockCache mirrors product stock and indexes reservation deadlines
type StockCache interface {
	SetStock(ctx context.Context, productID int64, level models.StockLevel) (bool, error)
	GetStock(ctx context.Context, productID int64) (int, bool, error)
	InvalidateStock(ctx context.Context, productID int64) error
	TrackReservation(ctx context.Context, orderID int64, deadline time.Time) error
	UntrackReservation(ctx context.Context, orderID int64) error
	ClaimDueReservations(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// EventPublisher publishes inventory events
type EventPublisher interface {
	PublishAccountsChanged(ctx context.Context, event *models.AccountsChangedEvent) error
	PublishReservationChanged(ctx context.Context, event *models.ReservationEvent) error
}

// Options tunes the inventory manager
type Options struct {
	MaxDuplicateCount int
	ReservationTTL    time.Duration
	ExpiryBatchSize   int
	ImportMaxRows     int
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		MaxDuplicateCount: 100,
		ReservationTTL:    15 * time.Minute,
		ExpiryBatchSize:   100,
		ImportMaxRows:     10000,
	}
}

// InventoryService owns account lifecycle and is the only writer of product stock
type InventoryService struct {
	store     InventoryStore
	cache     StockCache
	publisher EventPublisher
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// NewInventoryService creates a new inventory service
func NewInventoryService(
	store InventoryStore,
	cache StockCache,
	publisher EventPublisher,
	opts Options,
) *InventoryService {
	return &InventoryService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		opts:      opts,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// CreateAccountInput describes a new account and optional immediate duplicates
type CreateAccountInput struct {
	ProductID      int64
	Identifier     string
	Secret         string
	DuplicateCount int
}

// CreateAccountResult is returned by CreateAccount
type CreateAccountResult struct {
	AccountID    int64  `json:"accountId"`
	TotalCreated int    `json:"totalCreated"`
	GroupID      string `json:"groupId,omitempty"`
}

// DuplicateResult is returned by Duplicate
type DuplicateResult struct {
	DuplicatesCreated int    `json:"duplicatesCreated"`
	GroupID           string `json:"groupId"`
	GroupSize         int    `json:"groupSize"`
}

// DeleteResult is returned by DeleteAccount
type DeleteResult struct {
	DeletedCount int `json:"deletedCount"`
}

// UpdateCredentialsInput carries new credentials for an account and its group
type UpdateCredentialsInput struct {
	AccountID  int64
	ProductID  int64
	Identifier string
	Secret     string
}

// CreateAccount inserts an account, expanding it into a duplicate group when
// DuplicateCount > 1. All rows and the stock change commit together.
func (s *InventoryService) CreateAccount(ctx context.Context, in CreateAccountInput) (res *CreateAccountResult, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.CreateAccount")
	defer func() { util.FinishSpan(span, err) }()
	defer s.observe("create", time.Now(), &err)

	return s.createAccount(ctx, in, "manual")
}

func (s *InventoryService) createAccount(ctx context.Context, in CreateAccountInput, source string) (*CreateAccountResult, error) {
	identifier, secret := normalizeCredentials(in.Identifier, in.Secret)
	if in.ProductID <= 0 {
		return nil, models.NewValidationError("product_id is required")
	}
	if identifier == "" || secret == "" {
		return nil, models.NewValidationError("identifier and secret are required")
	}

	total := in.DuplicateCount
	if total < 1 {
		total = 1
	}
	if total > s.opts.MaxDuplicateCount {
		return nil, models.NewValidationError("duplicate count must be between 1 and %d", s.opts.MaxDuplicateCount)
	}

	var groupID *string
	if total > 1 {
		gid := uuid.New().String()
		groupID = &gid
	}

	var original *models.Account
	var level models.StockLevel
	err := s.store.InTx(ctx, func(tx store.AccountTx) error {
		original = &models.Account{
			ProductID:        in.ProductID,
			Identifier:       identifier,
			Secret:           secret,
			Status:           models.AccountStatusAvailable,
			DuplicateGroupID: groupID,
			DuplicateCount:   total,
			DuplicateIndex:   0,
		}
		if err := tx.InsertAccount(ctx, original); err != nil {
			return insertError(err, in.ProductID, identifier)
		}

		for i := 1; i < total; i++ {
			duplicate := &models.Account{
				ProductID:         in.ProductID,
				Identifier:        identifier,
				Secret:            secret,
				Status:            models.AccountStatusAvailable,
				DuplicateGroupID:  groupID,
				DuplicateCount:    total,
				OriginalAccountID: &original.ID,
				DuplicateIndex:    i,
			}
			if err := tx.InsertAccount(ctx, duplicate); err != nil {
				return insertError(err, in.ProductID, identifier)
			}
		}

		var err error
		level, err = tx.AdjustStock(ctx, in.ProductID, total)
		return err
	})
	if err != nil {
		return nil, wrapStorage("create account", err)
	}

	util.AccountsCreatedTotal.WithLabelValues(source).Add(float64(total))
	s.refreshStock(ctx, in.ProductID, level)
	s.publishAccountsChanged(ctx, models.EventTypeAccountsCreated, models.AccountsChangedEvent{
		ProductID:  in.ProductID,
		AccountID:  original.ID,
		GroupID:    original.GroupID(),
		Count:      total,
		StockDelta: total,
		Stock:      level.Stock,
	})

	s.logger.Info("Account created",
		zap.Int64("account_id", original.ID),
		zap.Int64("product_id", in.ProductID),
		zap.Int("total_created", total),
		zap.String("source", source))

	return &CreateAccountResult{
		AccountID:    original.ID,
		TotalCreated: total,
		GroupID:      original.GroupID(),
	}, nil
}

// Duplicate expands an available original account into a group with count more members
func (s *InventoryService) Duplicate(ctx context.Context, accountID int64, count int) (res *DuplicateResult, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Duplicate")
	defer func() { util.FinishSpan(span, err) }()
	defer s.observe("duplicate", time.Now(), &err)

	if count < 1 || count > s.opts.MaxDuplicateCount {
		return nil, models.NewValidationError("count must be between 1 and %d", s.opts.MaxDuplicateCount)
	}

	var productID int64
	var groupID string
	var groupSize int
	var level models.StockLevel
	err = s.store.InTx(ctx, func(tx store.AccountTx) error {
		account, err := tx.GetAccountForUpdate(ctx, accountID)
		if errors.Is(err, store.ErrNotFound) {
			return models.NewNotFoundError("account %d not found", accountID)
		}
		if err != nil {
			return err
		}
		if !account.IsOriginal() {
			return models.NewConflictError(models.CodeAccountIsDuplicate,
				"account %d is a duplicate; duplicate its original %d instead", accountID, *account.OriginalAccountID)
		}
		if account.Status != models.AccountStatusAvailable {
			return models.NewConflictError(models.CodeAccountUnavailable,
				"account %d is %s, only available accounts can be duplicated", accountID, account.Status)
		}

		productID = account.ProductID
		groupID = account.GroupID()
		maxIndex := 0
		if groupID == "" {
			groupID = uuid.New().String()
			if err := tx.AssignGroup(ctx, account.ID, groupID); err != nil {
				return err
			}
		} else {
			maxIndex, err = tx.MaxDuplicateIndex(ctx, groupID)
			if err != nil {
				return err
			}
		}

		for i := 1; i <= count; i++ {
			duplicate := &models.Account{
				ProductID:         account.ProductID,
				Identifier:        account.Identifier,
				Secret:            account.Secret,
				Status:            models.AccountStatusAvailable,
				DuplicateGroupID:  &groupID,
				OriginalAccountID: &account.ID,
				DuplicateIndex:    maxIndex + i,
			}
			if err := tx.InsertAccount(ctx, duplicate); err != nil {
				return err
			}
		}

		groupSize, _, err = tx.CountGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if err := tx.SetGroupCount(ctx, groupID, groupSize); err != nil {
			return err
		}

		level, err = tx.AdjustStock(ctx, account.ProductID, count)
		return err
	})
	if err != nil {
		return nil, wrapStorage("duplicate account", err)
	}

	util.AccountsCreatedTotal.WithLabelValues("duplicate").Add(float64(count))
	s.refreshStock(ctx, productID, level)
	s.publishAccountsChanged(ctx, models.EventTypeAccountsDuplicated, models.AccountsChangedEvent{
		ProductID:  productID,
		AccountID:  accountID,
		GroupID:    groupID,
		Count:      count,
		StockDelta: count,
		Stock:      level.Stock,
	})

	s.logger.Info("Account duplicated",
		zap.Int64("account_id", accountID),
		zap.String("group_id", groupID),
		zap.Int("duplicates_created", count),
		zap.Int("group_size", groupSize))

	return &DuplicateResult{
		DuplicatesCreated: count,
		GroupID:           groupID,
		GroupSize:         groupSize,
	}, nil
}

// UpdateCredentials rewrites an account's credentials and propagates them to its group
func (s *InventoryService) UpdateCredentials(ctx context.Context, in UpdateCredentialsInput) (err error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.UpdateCredentials")
	defer func() { util.FinishSpan(span, err) }()
	defer s.observe("update_credentials", time.Now(), &err)

	identifier, secret := normalizeCredentials(in.Identifier, in.Secret)
	if identifier == "" || secret == "" {
		return models.NewValidationError("identifier and secret are required")
	}

	var account *models.Account
	var propagated int64
	err = s.store.InTx(ctx, func(tx store.AccountTx) error {
		var err error
		account, err = tx.GetAccountForUpdate(ctx, in.AccountID)
		if errors.Is(err, store.ErrNotFound) {
			return models.NewNotFoundError("account %d not found", in.AccountID)
		}
		if err != nil {
			return err
		}
		if in.ProductID != 0 && in.ProductID != account.ProductID {
			return models.NewNotFoundError("account %d not found for product %d", in.AccountID, in.ProductID)
		}

		if err := tx.UpdateCredentials(ctx, account.ID, identifier, secret); err != nil {
			return insertError(err, account.ProductID, identifier)
		}

		if groupID := account.GroupID(); groupID != "" {
			propagated, err = tx.UpdateGroupCredentials(ctx, groupID, account.ID, identifier, secret)
			if err != nil {
				return insertError(err, account.ProductID, identifier)
			}
		}
		return nil
	})
	if err != nil {
		return wrapStorage("update credentials", err)
	}

	s.publishAccountsChanged(ctx, models.EventTypeAccountsUpdated, models.AccountsChangedEvent{
		ProductID: account.ProductID,
		AccountID: account.ID,
		GroupID:   account.GroupID(),
		Count:     int(propagated) + 1,
	})

	s.logger.Info("Account credentials updated",
		zap.Int64("account_id", account.ID),
		zap.Int64("propagated", propagated))
	return nil
}

// DeleteAccount removes an account. Deleting a group original removes the whole group.
func (s *InventoryService) DeleteAccount(ctx context.Context, accountID int64) (res *DeleteResult, err error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.DeleteAccount")
	defer func() { util.FinishSpan(span, err) }()
	defer s.observe("delete", time.Now(), &err)

	var account *models.Account
	var deleted int64
	var stockDelta int
	var level models.StockLevel
	err = s.store.InTx(ctx, func(tx store.AccountTx) error {
		var err error
		account, err = tx.GetAccountForUpdate(ctx, accountID)
		if errors.Is(err, store.ErrNotFound) {
			return models.NewNotFoundError("account %d not found", accountID)
		}
		if err != nil {
			return err
		}

		groupID := account.GroupID()
		if account.IsOriginal() && groupID != "" {
			_, unsold, err := tx.CountGroup(ctx, groupID)
			if err != nil {
				return err
			}
			deleted, err = tx.DeleteGroup(ctx, groupID)
			if err != nil {
				return err
			}
			stockDelta = -unsold
		} else {
			deleted, err = tx.DeleteAccount(ctx, account.ID)
			if err != nil {
				return err
			}
			if account.Status != models.AccountStatusSold {
				stockDelta = -1
			}
			if groupID != "" {
				remaining, _, err := tx.CountGroup(ctx, groupID)
				if err != nil {
					return err
				}
				if err := tx.SetGroupCount(ctx, groupID, remaining); err != nil {
					return err
				}
			}
		}

		if stockDelta == 0 {
			return nil
		}
		level, err = tx.AdjustStock(ctx, account.ProductID, stockDelta)
		return err
	})
	if err != nil {
		return nil, wrapStorage("delete account", err)
	}

	util.AccountsDeletedTotal.Add(float64(deleted))
	if stockDelta != 0 {
		s.refreshStock(ctx, account.ProductID, level)
	}
	s.publishAccountsChanged(ctx, models.EventTypeAccountsDeleted, models.AccountsChangedEvent{
		ProductID:  account.ProductID,
		AccountID:  account.ID,
		GroupID:    account.GroupID(),
		Count:      int(deleted),
		StockDelta: stockDelta,
		Stock:      level.Stock,
	})

	s.logger.Info("Account deleted",
		zap.Int64("account_id", accountID),
		zap.Int64("deleted_count", deleted),
		zap.Int("stock_delta", stockDelta))

	return &DeleteResult{DeletedCount: int(deleted)}, nil
}

// GroupStats reports the status breakdown of a duplicate group
func (s *InventoryService) GroupStats(ctx context.Context, groupID string) (*models.GroupStats, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.GroupStats")
	defer span.End()

	if strings.TrimSpace(groupID) == "" {
		return nil, models.NewValidationError("group id is required")
	}

	members, err := s.store.GetGroupMembers(ctx, groupID)
	if err != nil {
		return nil, wrapStorage("load group", err)
	}

	stats := &models.GroupStats{
		GroupID: groupID,
		Total:   len(members),
		Members: make([]models.GroupMember, 0, len(members)),
	}
	for _, m := range members {
		switch m.Status {
		case models.AccountStatusAvailable:
			stats.Available++
		case models.AccountStatusReserved:
			stats.Reserved++
		case models.AccountStatusSold:
			stats.Sold++
		}
		stats.Members = append(stats.Members, models.GroupMember{
			ID:             m.ID,
			Status:         m.Status,
			DuplicateIndex: m.DuplicateIndex,
		})
	}
	return stats, nil
}

// GetAccount retrieves an account by ID
func (s *InventoryService) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.NewNotFoundError("account %d not found", accountID)
	}
	if err != nil {
		return nil, wrapStorage("load account", err)
	}
	return account, nil
}

// ListAccounts pages through a product's accounts
func (s *InventoryService) ListAccounts(ctx context.Context, productID int64, status string, limit, offset int) ([]models.Account, error) {
	switch status {
	case "", models.AccountStatusAvailable, models.AccountStatusReserved, models.AccountStatusSold:
	default:
		return nil, models.NewValidationError("unknown status %q", status)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	accounts, err := s.store.GetAccountsByProduct(ctx, productID, status, limit, offset)
	if err != nil {
		return nil, wrapStorage("list accounts", err)
	}
	return accounts, nil
}

// CreateProduct adds a catalog entry with zero stock
func (s *InventoryService) CreateProduct(ctx context.Context, name string, price int64) (*models.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, models.NewValidationError("name is required")
	}
	if price < 0 {
		return nil, models.NewValidationError("price must not be negative")
	}

	product := &models.Product{Name: name, Price: price}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		return nil, wrapStorage("create product", err)
	}
	s.refreshStock(ctx, product.ID, product.Level())
	return product, nil
}

// GetProductStock returns a product's stock, preferring the cache
func (s *InventoryService) GetProductStock(ctx context.Context, productID int64) (int, error) {
	stock, ok, err := s.cache.GetStock(ctx, productID)
	if err != nil {
		s.logger.Warn("Stock cache read failed", zap.Int64("product_id", productID), zap.Error(err))
	}
	if err == nil && ok {
		util.StockCacheRequests.WithLabelValues("hit").Inc()
		return stock, nil
	}
	util.StockCacheRequests.WithLabelValues("miss").Inc()

	product, err := s.store.GetProductByID(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, models.NewNotFoundError("product %d not found", productID)
	}
	if err != nil {
		return 0, wrapStorage("load product", err)
	}

	s.refreshStock(ctx, productID, product.Level())
	return product.Stock, nil
}

// normalizeCredentials trims both fields the same way for manual, import and update paths
func normalizeCredentials(identifier, secret string) (string, string) {
	return strings.TrimSpace(identifier), strings.TrimSpace(secret)
}

// refreshStock mirrors a committed stock value into the cache. Writers race
// after commit, so the cache keeps whichever level carries the higher version.
func (s *InventoryService) refreshStock(ctx context.Context, productID int64, level models.StockLevel) {
	stored, err := s.cache.SetStock(ctx, productID, level)
	if err != nil {
		s.logger.Warn("Failed to refresh stock cache",
			zap.Int64("product_id", productID),
			zap.Error(err))
		_ = s.cache.InvalidateStock(ctx, productID)
		return
	}
	if !stored {
		s.logger.Debug("Skipped stale stock cache write",
			zap.Int64("product_id", productID),
			zap.Int64("version", level.Version))
	}
}

func (s *InventoryService) publishAccountsChanged(ctx context.Context, eventType string, event models.AccountsChangedEvent) {
	event.BaseEvent = newBaseEvent(eventType)
	if err := s.publisher.PublishAccountsChanged(ctx, &event); err != nil {
		s.logger.Error("Failed to publish inventory event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

// observe records latency and failures of an operation
func (s *InventoryService) observe(operation string, start time.Time, errp *error) {
	util.InventoryOperationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if *errp == nil {
		return
	}
	kind := models.KindOf(*errp)
	util.InventoryOperationsFailed.WithLabelValues(operation, string(kind)).Inc()
	if kind == models.KindStorage {
		s.logger.Error("Inventory operation failed",
			zap.String("operation", operation),
			zap.Error(*errp))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// insertError maps store constraint violations onto inventory errors
func insertError(err error, productID int64, identifier string) error {
	switch {
	case errors.Is(err, store.ErrUniqueViolation):
		return models.NewConflictError(models.CodeDuplicateIdentifier,
			"identifier %q already exists for product %d", identifier, productID)
	case errors.Is(err, store.ErrForeignKey):
		return models.NewNotFoundError("product %d not found", productID)
	case errors.Is(err, store.ErrNotFound):
		return models.NewNotFoundError("product %d not found", productID)
	}
	return err
}

// wrapStorage leaves inventory errors alone and wraps everything else as a storage error
func wrapStorage(op string, err error) error {
	var ie *models.InventoryError
	if errors.As(err, &ie) {
		return err
	}
	return models.NewStorageError(op, err)
}
