package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/servicemarket/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// querier описывает общее подмножество методов пула и транзакции.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

var retryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, time.Second}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(retryDelays) {
			break
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// InTx выполняет fn в транзакции READ COMMITTED. Блокировки строк берутся методами *ForUpdate.
// Транзакция повторяется при конфликте сериализации или взаимоблокировке.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgTx{q: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

const accountColumns = `id, username, role, budget, order_count, rating, rating_count, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var (
		a    model.Account
		role string
	)
	if err := row.Scan(&a.ID, &a.Username, &role, &a.Budget, &a.OrderCount, &a.Rating, &a.RatingCount, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Role = model.Role(role)
	return &a, nil
}

func collectAccounts(rows pgx.Rows) ([]model.Account, error) {
	defer rows.Close()

	var res []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		res = append(res, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// CreateAccount создаёт учётную запись и заполняет её идентификатор.
func (r *PostgresRepository) CreateAccount(ctx context.Context, a *model.Account, passwordHash []byte) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO accounts (username, password_hash, role, budget)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		a.Username, passwordHash, string(a.Role), a.Budget,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrUsernameTaken, a.Username)
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetCredentials возвращает учётную запись и хэш пароля по имени пользователя.
func (r *PostgresRepository) GetCredentials(ctx context.Context, username string) (*model.Account, []byte, error) {
	var hash []byte
	var (
		a    model.Account
		role string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+`, password_hash FROM accounts WHERE username = $1`,
		username,
	).Scan(&a.ID, &a.Username, &role, &a.Budget, &a.OrderCount, &a.Rating, &a.RatingCount, &a.CreatedAt, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrAccountNotFound
		}
		return nil, nil, fmt.Errorf("get credentials: %w", err)
	}
	a.Role = model.Role(role)
	return &a, hash, nil
}

// GetAccount возвращает учётную запись по идентификатору.
func (r *PostgresRepository) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// ListAccounts возвращает учётные записи, при заданной роли — только с этой ролью.
func (r *PostgresRepository) ListAccounts(ctx context.Context, role *model.Role) ([]model.Account, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if role != nil {
		rows, err = r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE role = $1 ORDER BY id`, string(*role))
	} else {
		rows, err = r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	}
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	return collectAccounts(rows)
}

// ListServices возвращает каталог услуг.
func (r *PostgresRepository) ListServices(ctx context.Context) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, price FROM services ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select services: %w", err)
	}
	defer rows.Close()

	var res []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Price); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// UpsertServices сохраняет позиции каталога, полученные из внешней системы, по их идентификаторам.
func (r *PostgresRepository) UpsertServices(ctx context.Context, services []model.Service) error {
	if len(services) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, s := range services {
		_, err := tx.Exec(ctx,
			`INSERT INTO services (id, name, description, price) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE
			 SET name = EXCLUDED.name, description = EXCLUDED.description, price = EXCLUDED.price`,
			s.ID, s.Name, s.Description, s.Price,
		)
		if err != nil {
			return fmt.Errorf("upsert service %d: %w", s.ID, err)
		}
	}

	// Явные идентификаторы не двигают последовательность.
	_, err = tx.Exec(ctx,
		`SELECT setval(pg_get_serial_sequence('services', 'id'), GREATEST((SELECT MAX(id) FROM services), 1))`,
	)
	if err != nil {
		return fmt.Errorf("sync services sequence: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const orderSelect = `SELECT o.id, o.applicant_id, a.username, o.supplier_id, s.username, o.recipient_id,
	o.status, o.time_estimated, o.total_price, o.rating, o.is_rated, o.created_at, o.updated_at, o.completed_at
	FROM orders o
	JOIN accounts a ON a.id = o.applicant_id
	LEFT JOIN accounts s ON s.id = o.supplier_id`

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o      model.Order
		status string
	)
	err := row.Scan(&o.ID, &o.ApplicantID, &o.ApplicantUsername, &o.SupplierID, &o.SupplierUsername, &o.RecipientID,
		&status, &o.TimeEstimated, &o.TotalPrice, &o.Rating, &o.IsRated, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	return &o, nil
}

func getOrder(ctx context.Context, q querier, id int64, forUpdate bool) (*model.Order, error) {
	query := orderSelect + ` WHERE o.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF o`
	}

	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	orders := []*model.Order{o}
	if err := loadItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return o, nil
}

// loadItems подгружает строки заказов вместе с текущими ценами услуг.
func loadItems(ctx context.Context, q querier, orders []*model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(orders))
	byID := make(map[int64]*model.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
	}

	rows, err := q.Query(ctx,
		`SELECT i.order_id, i.id, i.service_id, sv.name, sv.price, i.quantity
		 FROM order_items i
		 JOIN services sv ON sv.id = i.service_id
		 WHERE i.order_id = ANY($1)
		 ORDER BY i.id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID int64
			it      model.OrderItem
		)
		if err := rows.Scan(&orderID, &it.ID, &it.ServiceID, &it.ServiceName, &it.ServicePrice, &it.Quantity); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

// GetOrder возвращает заказ со строками.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return getOrder(ctx, r.pool, id, false)
}

// ListOrders возвращает заказы по фильтру, новые первыми.
func (r *PostgresRepository) ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error) {
	var (
		conds []string
		args  []any
	)
	if f.ApplicantID != nil {
		args = append(args, *f.ApplicantID)
		conds = append(conds, fmt.Sprintf("o.applicant_id = $%d", len(args)))
	}
	if f.SupplierID != nil {
		args = append(args, *f.SupplierID)
		conds = append(conds, fmt.Sprintf("o.supplier_id = $%d", len(args)))
	}
	args = append(args, string(model.OrderStatusInProgress))
	if f.InProgress {
		conds = append(conds, fmt.Sprintf("o.status = $%d", len(args)))
	} else {
		conds = append(conds, fmt.Sprintf("o.status <> $%d", len(args)))
	}

	query := orderSelect + ` WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY o.created_at DESC, o.id DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var ptrs []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		ptrs = append(ptrs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	if err := loadItems(ctx, r.pool, ptrs); err != nil {
		return nil, err
	}

	res := make([]model.Order, 0, len(ptrs))
	for _, o := range ptrs {
		res = append(res, *o)
	}
	return res, nil
}

// ListLedgerEntries возвращает журнал движения бюджета учётной записи, новые записи первыми.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, accountID int64) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, account_id, order_id, kind, amount, created_at
		 FROM ledger_entries
		 WHERE account_id = $1
		 ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger entries: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var (
			e    model.LedgerEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.OrderID, &kind, &e.Amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Kind = model.LedgerEntryKind(kind)
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

type pgTx struct {
	q querier
}

func (t *pgTx) ServicesByIDs(ctx context.Context, ids []int64) (map[int64]model.Service, error) {
	rows, err := t.q.Query(ctx, `SELECT id, name, description, price FROM services WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("select services: %w", err)
	}
	defer rows.Close()

	res := make(map[int64]model.Service, len(ids))
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Price); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		res[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (t *pgTx) AccountForUpdate(ctx context.Context, id int64) (*model.Account, error) {
	a, err := scanAccount(t.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lock account: %w", err)
	}
	return a, nil
}

func (t *pgTx) AccountExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check account: %w", err)
	}
	return exists, nil
}

func (t *pgTx) Suppliers(ctx context.Context) ([]model.Account, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE role = $1 ORDER BY id`,
		string(model.RoleSupplier),
	)
	if err != nil {
		return nil, fmt.Errorf("select suppliers: %w", err)
	}
	return collectAccounts(rows)
}

func (t *pgTx) CountApplicantOrders(ctx context.Context, applicantID int64) (int64, error) {
	var n int64
	if err := t.q.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE applicant_id = $1`, applicantID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *model.Order) error {
	err := t.q.QueryRow(ctx,
		`INSERT INTO orders (applicant_id, supplier_id, recipient_id, status, time_estimated, total_price)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		o.ApplicantID, o.SupplierID, o.RecipientID, string(o.Status), o.TimeEstimated, o.TotalPrice,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		err := t.q.QueryRow(ctx,
			`INSERT INTO order_items (order_id, service_id, quantity) VALUES ($1, $2, $3) RETURNING id`,
			o.ID, o.Items[i].ServiceID, o.Items[i].Quantity,
		).Scan(&o.Items[i].ID)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (t *pgTx) OrderForUpdate(ctx context.Context, id int64) (*model.Order, error) {
	return getOrder(ctx, t.q, id, true)
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *model.Order) error {
	err := t.q.QueryRow(ctx,
		`UPDATE orders SET status = $2, rating = $3, is_rated = $4, completed_at = $5, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		o.ID, string(o.Status), o.Rating, o.IsRated, o.CompletedAt,
	).Scan(&o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

func (t *pgTx) AdjustAccount(ctx context.Context, id int64, budgetDelta, orderCountDelta int64) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE accounts SET budget = budget + $2, order_count = order_count + $3 WHERE id = $1`,
		id, budgetDelta, orderCountDelta,
	)
	if err != nil {
		return fmt.Errorf("adjust account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) SetAccountRating(ctx context.Context, id int64, rating float64, count int64) error {
	tag, err := t.q.Exec(ctx, `UPDATE accounts SET rating = $2, rating_count = $3 WHERE id = $1`, id, rating, count)
	if err != nil {
		return fmt.Errorf("set account rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) AddLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, order_id, kind, amount, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.AccountID, e.OrderID, string(e.Kind), e.Amount, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}
