package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"account-service/internal/models"
	"account-service/internal/store"
)

type memState struct {
	accounts map[int64]models.Account
	products map[int64]models.Product
	nextID   int64
}

func (st *memState) clone() *memState {
	c := &memState{
		accounts: make(map[int64]models.Account, len(st.accounts)),
		products: make(map[int64]models.Product, len(st.products)),
		nextID:   st.nextID,
	}
	for k, v := range st.accounts {
		c.accounts[k] = v
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	return c
}

func (st *memState) sortedAccounts() []models.Account {
	out := make([]models.Account, 0, len(st.accounts))
	for _, a := range st.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// memStore is an in-memory InventoryStore whose transactions apply atomically
type memStore struct {
	mu     sync.Mutex
	state  *memState
	failAt map[string]int
	calls  map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		state: &memState{
			accounts: map[int64]models.Account{},
			products: map[int64]models.Product{},
			nextID:   1,
		},
		failAt: map[string]int{},
		calls:  map[string]int{},
	}
}

var errInjected = errors.New("injected failure")

// failOn makes the n-th upcoming call of a transaction method fail
func (m *memStore) failOn(method string, n int) {
	m.failAt[method] = m.calls[method] + n
}

func (m *memStore) addProduct(id int64, stock int) {
	m.state.products[id] = models.Product{ID: id, Name: fmt.Sprintf("product-%d", id), Stock: stock}
}

// setStock overwrites a product's stock without a version bump, like drift
// introduced outside the service
func (m *memStore) setStock(productID int64, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.state.products[productID]
	p.Stock = stock
	m.state.products[productID] = p
}

func (m *memStore) stock(productID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.products[productID].Stock
}

func (m *memStore) all() []models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.sortedAccounts()
}

func (m *memStore) InTx(ctx context.Context, fn func(store.AccountTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{st: work, store: m}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, store.ErrNotFound)
	}
	return &a, nil
}

func (m *memStore) GetAccountsByProduct(ctx context.Context, productID int64, status string, limit, offset int) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Account{}
	for _, a := range m.state.sortedAccounts() {
		if a.ProductID == productID && (status == "" || a.Status == status) {
			out = append(out, a)
		}
	}
	if offset >= len(out) {
		return []models.Account{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetGroupMembers(ctx context.Context, groupID string) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Account{}
	for _, a := range m.state.sortedAccounts() {
		if a.GroupID() == groupID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DuplicateIndex < out[j].DuplicateIndex })
	return out, nil
}

func (m *memStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	return &p, nil
}

func (m *memStore) CreateProduct(ctx context.Context, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	product.ID = int64(len(m.state.products) + 1)
	product.CreatedAt = time.Now()
	m.state.products[product.ID] = *product
	return nil
}

type memTx struct {
	st    *memState
	store *memStore
}

func (t *memTx) hit(method string) error {
	t.store.calls[method]++
	if n, ok := t.store.failAt[method]; ok && t.store.calls[method] == n {
		return errInjected
	}
	return nil
}

func (t *memTx) InsertAccount(ctx context.Context, account *models.Account) error {
	if err := t.hit("InsertAccount"); err != nil {
		return err
	}
	if _, ok := t.st.products[account.ProductID]; !ok {
		return fmt.Errorf("accounts_product_id_fkey: %w", store.ErrForeignKey)
	}
	if account.OriginalAccountID == nil {
		for _, a := range t.st.accounts {
			if a.OriginalAccountID == nil && a.ProductID == account.ProductID && a.Identifier == account.Identifier {
				return fmt.Errorf("accounts_product_identifier_original_key: %w", store.ErrUniqueViolation)
			}
		}
	}
	account.ID = t.st.nextID
	account.CreatedAt = time.Now()
	t.st.nextID++
	t.st.accounts[account.ID] = *account
	return nil
}

func (t *memTx) GetAccountForUpdate(ctx context.Context, id int64) (*models.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, store.ErrNotFound)
	}
	return &a, nil
}

func (t *memTx) AssignGroup(ctx context.Context, accountID int64, groupID string) error {
	a := t.st.accounts[accountID]
	g := groupID
	a.DuplicateGroupID = &g
	a.DuplicateIndex = 0
	t.st.accounts[accountID] = a
	return nil
}

func (t *memTx) MaxDuplicateIndex(ctx context.Context, groupID string) (int, error) {
	maxIndex := 0
	for _, a := range t.st.accounts {
		if a.GroupID() == groupID && a.DuplicateIndex > maxIndex {
			maxIndex = a.DuplicateIndex
		}
	}
	return maxIndex, nil
}

func (t *memTx) CountGroup(ctx context.Context, groupID string) (int, int, error) {
	total, unsold := 0, 0
	for _, a := range t.st.accounts {
		if a.GroupID() == groupID {
			total++
			if a.Status != models.AccountStatusSold {
				unsold++
			}
		}
	}
	return total, unsold, nil
}

func (t *memTx) SetGroupCount(ctx context.Context, groupID string, count int) error {
	if err := t.hit("SetGroupCount"); err != nil {
		return err
	}
	for id, a := range t.st.accounts {
		if a.GroupID() == groupID {
			a.DuplicateCount = count
			t.st.accounts[id] = a
		}
	}
	return nil
}

func (t *memTx) UpdateCredentials(ctx context.Context, accountID int64, identifier, secret string) error {
	a, ok := t.st.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %d: %w", accountID, store.ErrNotFound)
	}
	if a.OriginalAccountID == nil {
		for id, other := range t.st.accounts {
			if id != accountID && other.OriginalAccountID == nil && other.ProductID == a.ProductID && other.Identifier == identifier {
				return fmt.Errorf("accounts_product_identifier_original_key: %w", store.ErrUniqueViolation)
			}
		}
	}
	a.Identifier, a.Secret = identifier, secret
	t.st.accounts[accountID] = a
	return nil
}

func (t *memTx) UpdateGroupCredentials(ctx context.Context, groupID string, exceptID int64, identifier, secret string) (int64, error) {
	if err := t.hit("UpdateGroupCredentials"); err != nil {
		return 0, err
	}
	var n int64
	for id, a := range t.st.accounts {
		if a.GroupID() == groupID && id != exceptID {
			a.Identifier, a.Secret = identifier, secret
			t.st.accounts[id] = a
			n++
		}
	}
	return n, nil
}

func (t *memTx) DeleteAccount(ctx context.Context, id int64) (int64, error) {
	if _, ok := t.st.accounts[id]; !ok {
		return 0, nil
	}
	delete(t.st.accounts, id)
	return 1, nil
}

func (t *memTx) DeleteGroup(ctx context.Context, groupID string) (int64, error) {
	var n int64
	for id, a := range t.st.accounts {
		if a.GroupID() == groupID {
			delete(t.st.accounts, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) AdjustStock(ctx context.Context, productID int64, delta int) (models.StockLevel, error) {
	if err := t.hit("AdjustStock"); err != nil {
		return models.StockLevel{}, err
	}
	p, ok := t.st.products[productID]
	if !ok {
		return models.StockLevel{}, fmt.Errorf("product %d: %w", productID, store.ErrNotFound)
	}
	p.Stock += delta
	p.StockVersion++
	t.st.products[productID] = p
	return p.Level(), nil
}

func (t *memTx) LockProductStock(ctx context.Context, productID int64) (models.StockLevel, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return models.StockLevel{}, fmt.Errorf("product %d: %w", productID, store.ErrNotFound)
	}
	return p.Level(), nil
}

func (t *memTx) CountUnsold(ctx context.Context, productID int64) (int, error) {
	n := 0
	for _, a := range t.st.accounts {
		if a.ProductID == productID && a.Status != models.AccountStatusSold {
			n++
		}
	}
	return n, nil
}

func (t *memTx) ReserveAvailable(ctx context.Context, orderID, productID int64, quantity int) ([]models.AccountRef, error) {
	refs := []models.AccountRef{}
	now := time.Now()
	for _, a := range t.st.sortedAccounts() {
		if len(refs) == quantity {
			break
		}
		if a.ProductID != productID || a.Status != models.AccountStatusAvailable {
			continue
		}
		order := orderID
		a.Status = models.AccountStatusReserved
		a.ReservedOrderID = &order
		a.ReservedAt = &now
		t.st.accounts[a.ID] = a
		refs = append(refs, models.AccountRef{ID: a.ID, ProductID: a.ProductID})
	}
	return refs, nil
}

func (t *memTx) ReleaseOrder(ctx context.Context, orderID int64) ([]models.AccountRef, error) {
	refs := []models.AccountRef{}
	for _, a := range t.st.sortedAccounts() {
		if a.Status == models.AccountStatusReserved && a.ReservedOrderID != nil && *a.ReservedOrderID == orderID {
			a.Status = models.AccountStatusAvailable
			a.ReservedOrderID = nil
			a.ReservedAt = nil
			t.st.accounts[a.ID] = a
			refs = append(refs, models.AccountRef{ID: a.ID, ProductID: a.ProductID})
		}
	}
	return refs, nil
}

func (t *memTx) SellOrder(ctx context.Context, orderID int64) ([]models.AccountRef, error) {
	refs := []models.AccountRef{}
	now := time.Now()
	for _, a := range t.st.sortedAccounts() {
		if a.Status == models.AccountStatusReserved && a.ReservedOrderID != nil && *a.ReservedOrderID == orderID {
			a.Status = models.AccountStatusSold
			a.SoldAt = &now
			t.st.accounts[a.ID] = a
			refs = append(refs, models.AccountRef{ID: a.ID, ProductID: a.ProductID})
		}
	}
	return refs, nil
}

// memCache is an in-memory StockCache
type memCache struct {
	mu           sync.Mutex
	stock        map[int64]models.StockLevel
	reservations map[int64]time.Time
	processed    map[string]bool
}

func newMemCache() *memCache {
	return &memCache{
		stock:        map[int64]models.StockLevel{},
		reservations: map[int64]time.Time{},
		processed:    map[string]bool{},
	}
}

func (c *memCache) SetStock(ctx context.Context, productID int64, level models.StockLevel) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.stock[productID]; ok && current.Version >= level.Version {
		return false, nil
	}
	c.stock[productID] = level
	return true, nil
}

func (c *memCache) GetStock(ctx context.Context, productID int64) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	level, ok := c.stock[productID]
	return level.Stock, ok, nil
}

func (c *memCache) InvalidateStock(ctx context.Context, productID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stock, productID)
	return nil
}

func (c *memCache) TrackReservation(ctx context.Context, orderID int64, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reservations[orderID] = deadline
	return nil
}

func (c *memCache) UntrackReservation(ctx context.Context, orderID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reservations, orderID)
	return nil
}

func (c *memCache) ClaimDueReservations(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	due := []int64{}
	for id, deadline := range c.reservations {
		if len(due) == limit {
			break
		}
		if !deadline.After(now) {
			due = append(due, id)
		}
	}
	for _, id := range due {
		delete(c.reservations, id)
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })
	return due, nil
}

func (c *memCache) MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processed[eventID] {
		return false, nil
	}
	c.processed[eventID] = true
	return true, nil
}

func (c *memCache) ForgetEvent(ctx context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.processed, eventID)
	return nil
}

// memPublisher records published events
type memPublisher struct {
	mu           sync.Mutex
	accounts     []models.AccountsChangedEvent
	reservations []models.ReservationEvent
}

func (p *memPublisher) PublishAccountsChanged(ctx context.Context, event *models.AccountsChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = append(p.accounts, *event)
	return nil
}

func (p *memPublisher) PublishReservationChanged(ctx context.Context, event *models.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reservations = append(p.reservations, *event)
	return nil
}
