package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
// Списания сериализуются блокировкой строки пользователя, поэтому баланс
// не может уйти в минус даже при конкурентных запросах.
type PostgresRepository struct {
	pool *pgxpool.Pool
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

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *model.User) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (name, email, password_hash, balance, role)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		u.Name, u.Email, u.PasswordHash, u.Balance, string(u.Role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

const userColumns = `id, name, email, password_hash, balance, total_spent, total_orders, role, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Balance, &u.TotalSpent, &u.TotalOrders, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// GetUserByEmail возвращает пользователя по e-mail.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// CreditBalance увеличивает баланс пользователя и возвращает новое значение.
func (r *PostgresRepository) CreditBalance(ctx context.Context, userID, amount int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`UPDATE users SET balance = balance + $2 WHERE id = $1 RETURNING balance`,
		userID, amount,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return balance, nil
}

// DebitBalance списывает сумму с баланса пользователя. Строка пользователя
// блокируется на время транзакции, чтобы параллельные списания не могли
// увести баланс в минус. При нехватке средств баланс не меняется.
func (r *PostgresRepository) DebitBalance(ctx context.Context, userID, amount int64) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("lock user for update: %w", err)
	}

	if balance < amount {
		return 0, ErrInsufficientBalance
	}

	var newBalance int64
	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance - $2 WHERE id = $1 RETURNING balance`,
		userID, amount,
	).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return newBalance, nil
}

// CreateOrder сохраняет заказ и обновляет счётчики владельца в одной транзакции.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var drip []byte
	if len(o.Drip) > 0 {
		drip, err = json.Marshal(o.Drip)
		if err != nil {
			return 0, fmt.Errorf("marshal drip schedule: %w", err)
		}
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO orders (user_id, service_id, service_name, link, quantity, charge, status, drip, needs_sync, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10) RETURNING id`,
		o.UserID, o.ServiceID, o.ServiceName, o.Link, o.Quantity, o.Charge,
		string(o.Status), drip, o.NeedsSync, o.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET total_spent = total_spent + $2, total_orders = total_orders + 1 WHERE id = $1`,
		o.UserID, o.Charge,
	)
	if err != nil {
		return 0, fmt.Errorf("update user stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return id, nil
}

const orderColumns = `id, user_id, service_id, service_name, link, quantity, charge, status, supplier_order_id, start_count, remains, drip, needs_sync, created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var status string
	var drip []byte
	err := row.Scan(&o.ID, &o.UserID, &o.ServiceID, &o.ServiceName, &o.Link,
		&o.Quantity, &o.Charge, &status, &o.SupplierOrderID,
		&o.StartCount, &o.Remains, &drip, &o.NeedsSync, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Status = model.OrderStatus(status)
	if len(drip) > 0 {
		if err := json.Unmarshal(drip, &o.Drip); err != nil {
			return nil, fmt.Errorf("unmarshal drip schedule: %w", err)
		}
	}
	return &o, nil
}

// GetOrderByID возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// UpdateOrderStatus обновляет статус и метаданные доставки заказа.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus, upd *model.DeliveryUpdate) error {
	var startCount, remains *int64
	if upd != nil {
		startCount = upd.StartCount
		remains = upd.Remains
	}

	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders
		 SET status = $2,
		     start_count = COALESCE($3, start_count),
		     remains = COALESCE($4, remains),
		     updated_at = now()
		 WHERE id = $1`,
		id, string(status), startCount, remains,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkOrderSynced записывает идентификатор заказа у поставщика и снимает
// флаг ожидания отправки.
func (r *PostgresRepository) MarkOrderSynced(ctx context.Context, id int64, supplierOrderID string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET supplier_order_id = $2, needs_sync = FALSE, updated_at = now() WHERE id = $1`,
		id, supplierOrderID,
	)
	if err != nil {
		return fmt.Errorf("mark order synced: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// GetOrdersForSync возвращает заказы, требующие обмена с поставщиком:
// ещё не отправленные и отправленные, но не достигшие конечного статуса.
func (r *PostgresRepository) GetOrdersForSync(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE needs_sync
		    OR (supplier_order_id <> '' AND status NOT IN ($1, $2, $3))
		 ORDER BY created_at
		 LIMIT $4`,
		string(model.OrderStatusCompleted),
		string(model.OrderStatusCanceled),
		string(model.OrderStatusRefunded),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders for sync: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// CreateSession сохраняет новую сессию.
func (r *PostgresRepository) CreateSession(ctx context.Context, s *model.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (token, user_id, role, issued_at, expires_at, last_activity)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.Token, s.UserID, string(s.Role), s.IssuedAt, s.ExpiresAt, s.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession возвращает сессию по токену.
func (r *PostgresRepository) GetSession(ctx context.Context, token string) (*model.Session, error) {
	var s model.Session
	var role string
	err := r.pool.QueryRow(ctx,
		`SELECT token, user_id, role, issued_at, expires_at, last_activity FROM sessions WHERE token = $1`,
		token,
	).Scan(&s.Token, &s.UserID, &role, &s.IssuedAt, &s.ExpiresAt, &s.LastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.Role = model.Role(role)
	return &s, nil
}

// TouchSession обновляет время последней активности сессии.
func (r *PostgresRepository) TouchSession(ctx context.Context, token string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET last_activity = $2 WHERE token = $1`, token, at)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// DeleteSession удаляет сессию.
func (r *PostgresRepository) DeleteSession(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CreatePayment сохраняет заявку на пополнение.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO payments (user_id, method, reference, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		p.UserID, p.Method, p.Reference, p.Amount, string(p.Status), p.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create payment: %w", err)
	}
	return id, nil
}

// GetPaymentByID возвращает заявку на пополнение по идентификатору.
func (r *PostgresRepository) GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error) {
	var p model.Payment
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, method, reference, amount, status, note, created_at, reviewed_at
		 FROM payments WHERE id = $1`, id,
	).Scan(&p.ID, &p.UserID, &p.Method, &p.Reference, &p.Amount, &status, &p.Note, &p.CreatedAt, &p.ReviewedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	p.Status = model.PaymentStatus(status)
	return &p, nil
}

// ListPendingPayments возвращает заявки, ожидающие решения администратора.
func (r *PostgresRepository) ListPendingPayments(ctx context.Context) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, method, reference, amount, status, note, created_at, reviewed_at
		 FROM payments WHERE status = $1 ORDER BY created_at`,
		string(model.PaymentStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("select pending payments: %w", err)
	}
	defer rows.Close()

	var res []model.Payment
	for rows.Next() {
		var p model.Payment
		var status string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Method, &p.Reference, &p.Amount, &status, &p.Note, &p.CreatedAt, &p.ReviewedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.Status = model.PaymentStatus(status)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdatePaymentStatus записывает решение администратора по заявке.
func (r *PostgresRepository) UpdatePaymentStatus(ctx context.Context, id int64, status model.PaymentStatus, note string, reviewedAt time.Time) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = $2, note = $3, reviewed_at = $4 WHERE id = $1`,
		id, string(status), note, reviewedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// AppendActivity добавляет запись в журнал действий и отсекает записи
// старше фиксированного окна.
func (r *PostgresRepository) AppendActivity(ctx context.Context, e *model.ActivityEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO activity_log (user_id, action, amount, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.UserID, e.Action, e.Amount, e.Detail, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM activity_log
		 WHERE id NOT IN (SELECT id FROM activity_log ORDER BY id DESC LIMIT $1)`,
		activityCap,
	)
	if err != nil {
		return fmt.Errorf("prune activity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// ListActivityByUser возвращает последние записи журнала пользователя.
func (r *PostgresRepository) ListActivityByUser(ctx context.Context, userID int64, limit int) ([]model.ActivityEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, action, amount, detail, created_at
		 FROM activity_log WHERE user_id = $1 ORDER BY id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select activity: %w", err)
	}
	defer rows.Close()

	var res []model.ActivityEntry
	for rows.Next() {
		var e model.ActivityEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Amount, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetLoginAttempt возвращает счётчик неудачных входов по e-mail,
// nil — если записей нет.
func (r *PostgresRepository) GetLoginAttempt(ctx context.Context, email string) (*model.LoginAttempt, error) {
	var a model.LoginAttempt
	err := r.pool.QueryRow(ctx,
		`SELECT email, count, window_start, locked_until FROM login_attempts WHERE email = $1`,
		email,
	).Scan(&a.Email, &a.Count, &a.WindowStart, &a.LockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get login attempt: %w", err)
	}
	return &a, nil
}

// SaveLoginAttempt сохраняет счётчик неудачных входов.
func (r *PostgresRepository) SaveLoginAttempt(ctx context.Context, a *model.LoginAttempt) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO login_attempts (email, count, window_start, locked_until)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE
		 SET count = EXCLUDED.count,
		     window_start = EXCLUDED.window_start,
		     locked_until = EXCLUDED.locked_until`,
		a.Email, a.Count, a.WindowStart, a.LockedUntil,
	)
	if err != nil {
		return fmt.Errorf("save login attempt: %w", err)
	}
	return nil
}

// ClearLoginAttempt сбрасывает счётчик после успешного входа.
func (r *PostgresRepository) ClearLoginAttempt(ctx context.Context, email string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM login_attempts WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("clear login attempt: %w", err)
	}
	return nil
}
