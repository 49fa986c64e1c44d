package repository

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/servicemarket/internal/model"
)

// DefaultCatalog возвращает стартовый каталог, совпадающий с сидом миграций.
func DefaultCatalog() []model.Service {
	return []model.Service{
		{ID: 1, Name: "charchazo", Price: 100},
		{ID: 2, Name: "abrazo", Price: 50},
	}
}

type memAccount struct {
	account      model.Account
	passwordHash []byte
}

type memState struct {
	accounts map[int64]memAccount
	services map[int64]model.Service
	orders   map[int64]model.Order
	ledger   []model.LedgerEntry

	nextAccountID int64
	nextOrderID   int64
	nextItemID    int64
}

// hydrate дополняет заказ именами участников и текущими данными услуг.
func (s *memState) hydrate(o model.Order) model.Order {
	if a, ok := s.accounts[o.ApplicantID]; ok {
		o.ApplicantUsername = a.account.Username
	}
	o.SupplierUsername = nil
	if o.SupplierID != nil {
		if a, ok := s.accounts[*o.SupplierID]; ok {
			name := a.account.Username
			o.SupplierUsername = &name
		}
	}

	items := make([]model.OrderItem, 0, len(o.Items))
	for _, it := range o.Items {
		if svc, ok := s.services[it.ServiceID]; ok {
			it.ServiceName = svc.Name
			it.ServicePrice = svc.Price
		}
		items = append(items, it)
	}
	o.Items = items
	return o
}

// MemoryRepository хранит данные в памяти процесса. Транзакции сериализуются мьютексом,
// изменения пишутся сразу в состояние и откатываются по журналу отмены.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

// NewMemoryRepository создаёт пустое in-memory хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memState{
			accounts: make(map[int64]memAccount),
			services: make(map[int64]model.Service),
			orders:   make(map[int64]model.Order),
		},
		now: time.Now,
	}
}

// Close ничего не делает: ресурсов нет.
func (r *MemoryRepository) Close() error {
	return nil
}

// InTx выполняет fn под мьютексом. Если fn вернула ошибку или запаниковала,
// изменения откатываются. Стоимость отката пропорциональна числу изменённых записей.
// Внутри fn нельзя вызывать другие методы MemoryRepository.
func (r *MemoryRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memTx{
		s:           r.state,
		now:         r.now,
		ledgerLen:   len(r.state.ledger),
		nextOrderID: r.state.nextOrderID,
		nextItemID:  r.state.nextItemID,
	}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (r *MemoryRepository) CreateAccount(_ context.Context, a *model.Account, passwordHash []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.state.accounts {
		if existing.account.Username == a.Username {
			return fmt.Errorf("%w: %s", ErrUsernameTaken, a.Username)
		}
	}

	r.state.nextAccountID++
	a.ID = r.state.nextAccountID
	a.CreatedAt = r.now()
	r.state.accounts[a.ID] = memAccount{account: *a, passwordHash: slices.Clone(passwordHash)}
	return nil
}

func (r *MemoryRepository) GetCredentials(_ context.Context, username string) (*model.Account, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.state.accounts {
		if existing.account.Username == username {
			a := existing.account
			return &a, slices.Clone(existing.passwordHash), nil
		}
	}
	return nil, nil, ErrAccountNotFound
}

func (r *MemoryRepository) GetAccount(_ context.Context, id int64) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.state.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	a := existing.account
	return &a, nil
}

func (r *MemoryRepository) ListAccounts(_ context.Context, role *model.Role) ([]model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Account
	for _, existing := range r.state.accounts {
		if role != nil && existing.account.Role != *role {
			continue
		}
		res = append(res, existing.account)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (r *MemoryRepository) ListServices(_ context.Context) ([]model.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := make([]model.Service, 0, len(r.state.services))
	for _, s := range r.state.services {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (r *MemoryRepository) UpsertServices(_ context.Context, services []model.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range services {
		r.state.services[s.ID] = s
	}
	return nil
}

func (r *MemoryRepository) GetOrder(_ context.Context, id int64) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.state.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	res := r.state.hydrate(o)
	return &res, nil
}

func (r *MemoryRepository) ListOrders(_ context.Context, f model.OrderFilter) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Order
	for _, o := range r.state.orders {
		if f.ApplicantID != nil && o.ApplicantID != *f.ApplicantID {
			continue
		}
		if f.SupplierID != nil && (o.SupplierID == nil || *o.SupplierID != *f.SupplierID) {
			continue
		}
		if (o.Status == model.OrderStatusInProgress) != f.InProgress {
			continue
		}
		res = append(res, r.state.hydrate(o))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (r *MemoryRepository) ListLedgerEntries(_ context.Context, accountID int64) ([]model.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.LedgerEntry
	for i := len(r.state.ledger) - 1; i >= 0; i-- {
		if r.state.ledger[i].AccountID == accountID {
			res = append(res, r.state.ledger[i])
		}
	}
	return res, nil
}

type memTx struct {
	s   *memState
	now func() time.Time

	undo        []func()
	ledgerLen   int
	nextOrderID int64
	nextItemID  int64
}

func (t *memTx) saveAccount(id int64) {
	prev, ok := t.s.accounts[id]
	t.undo = append(t.undo, func() {
		if ok {
			t.s.accounts[id] = prev
		} else {
			delete(t.s.accounts, id)
		}
	})
}

func (t *memTx) saveOrder(id int64) {
	prev, ok := t.s.orders[id]
	t.undo = append(t.undo, func() {
		if ok {
			t.s.orders[id] = prev
		} else {
			delete(t.s.orders, id)
		}
	})
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.s.ledger = t.s.ledger[:t.ledgerLen]
	t.s.nextOrderID = t.nextOrderID
	t.s.nextItemID = t.nextItemID
}

func (t *memTx) ServicesByIDs(_ context.Context, ids []int64) (map[int64]model.Service, error) {
	res := make(map[int64]model.Service, len(ids))
	for _, id := range ids {
		if s, ok := t.s.services[id]; ok {
			res[id] = s
		}
	}
	return res, nil
}

func (t *memTx) AccountForUpdate(_ context.Context, id int64) (*model.Account, error) {
	existing, ok := t.s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	a := existing.account
	return &a, nil
}

func (t *memTx) AccountExists(_ context.Context, id int64) (bool, error) {
	_, ok := t.s.accounts[id]
	return ok, nil
}

func (t *memTx) Suppliers(_ context.Context) ([]model.Account, error) {
	var res []model.Account
	for _, existing := range t.s.accounts {
		if existing.account.Role == model.RoleSupplier {
			res = append(res, existing.account)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (t *memTx) CountApplicantOrders(_ context.Context, applicantID int64) (int64, error) {
	var n int64
	for _, o := range t.s.orders {
		if o.ApplicantID == applicantID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreateOrder(_ context.Context, o *model.Order) error {
	t.s.nextOrderID++
	o.ID = t.s.nextOrderID
	o.CreatedAt = t.now()
	o.UpdatedAt = o.CreatedAt

	for i := range o.Items {
		t.s.nextItemID++
		o.Items[i].ID = t.s.nextItemID
	}

	stored := *o
	stored.Items = slices.Clone(o.Items)
	t.saveOrder(o.ID)
	t.s.orders[o.ID] = stored
	return nil
}

func (t *memTx) OrderForUpdate(_ context.Context, id int64) (*model.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	res := t.s.hydrate(o)
	return &res, nil
}

func (t *memTx) UpdateOrder(_ context.Context, o *model.Order) error {
	stored, ok := t.s.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	o.UpdatedAt = t.now()

	stored.Status = o.Status
	stored.Rating = o.Rating
	stored.IsRated = o.IsRated
	stored.CompletedAt = o.CompletedAt
	stored.UpdatedAt = o.UpdatedAt
	t.saveOrder(o.ID)
	t.s.orders[o.ID] = stored
	return nil
}

func (t *memTx) AdjustAccount(_ context.Context, id int64, budgetDelta, orderCountDelta int64) error {
	existing, ok := t.s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	if budgetDelta > 0 && existing.account.Budget > math.MaxInt64-budgetDelta {
		return fmt.Errorf("adjust account %d: %w", id, model.ErrAmountOverflow)
	}
	existing.account.Budget += budgetDelta
	existing.account.OrderCount += orderCountDelta
	if existing.account.Budget < 0 || existing.account.OrderCount < 0 {
		return fmt.Errorf("adjust account %d: negative balance", id)
	}
	t.saveAccount(id)
	t.s.accounts[id] = existing
	return nil
}

func (t *memTx) SetAccountRating(_ context.Context, id int64, rating float64, count int64) error {
	existing, ok := t.s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	existing.account.Rating = &rating
	existing.account.RatingCount = count
	t.saveAccount(id)
	t.s.accounts[id] = existing
	return nil
}

func (t *memTx) AddLedgerEntry(_ context.Context, e model.LedgerEntry) error {
	t.s.ledger = append(t.s.ledger, e)
	return nil
}
