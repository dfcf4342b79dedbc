package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/store"
)

// Логические ключи файлового хранилища. Каждая коллекция читается и
// пишется целиком; ссылочная целостность между ключами не проверяется.
const (
	keyUsers    = "users"
	keyOrders   = "orders"
	keySessions = "sessions"
	keyPayments = "payments"
	keyActivity = "activityLogs"
	keyAttempts = "loginAttempts"
	keySeq      = "seq"
)

// FileRepository реализует Repository поверх файлового key-value
// хранилища. Предназначен для локального развёртывания в один процесс:
// каждая мутация — полный цикл «прочитать коллекцию, изменить, записать»
// под общим мьютексом, поэтому операции применяются строго по одной.
type FileRepository struct {
	mu sync.Mutex
	kv *store.Store
}

// NewFileRepository создаёт репозиторий над указанным хранилищем.
func NewFileRepository(kv *store.Store) *FileRepository {
	return &FileRepository{kv: kv}
}

// Close реализует Repository; файловому хранилищу закрывать нечего.
func (r *FileRepository) Close() error {
	return nil
}

func (r *FileRepository) nextID(kind string) (int64, error) {
	seq := make(map[string]int64)
	if _, err := r.kv.Get(keySeq, &seq); err != nil {
		return 0, err
	}
	seq[kind]++
	if err := r.kv.Set(keySeq, seq); err != nil {
		return 0, err
	}
	return seq[kind], nil
}

func (r *FileRepository) loadUsers() ([]model.User, error) {
	var users []model.User
	if _, err := r.kv.Get(keyUsers, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Пользователи хранятся обфусцированными: в коллекции лежат хэши паролей,
// и открытый JSON в файле слишком охотно читают глазами.
func (r *FileRepository) saveUsers(users []model.User) error {
	return r.kv.Set(keyUsers, users, store.Obfuscated())
}

// CreateUser создаёт нового пользователя. E-mail сравнивается без учёта
// регистра.
func (r *FileRepository) CreateUser(_ context.Context, u *model.User) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.loadUsers()
	if err != nil {
		return 0, err
	}

	for _, existing := range users {
		if strings.EqualFold(existing.Email, u.Email) {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
	}

	id, err := r.nextID("user")
	if err != nil {
		return 0, err
	}

	created := *u
	created.ID = id
	users = append(users, created)

	if err := r.saveUsers(users); err != nil {
		return 0, err
	}
	return id, nil
}

// GetUserByEmail возвращает пользователя по e-mail.
func (r *FileRepository) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.loadUsers()
	if err != nil {
		return nil, err
	}
	for i := range users {
		if strings.EqualFold(users[i].Email, email) {
			u := users[i]
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *FileRepository) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.loadUsers()
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID == id {
			u := users[i]
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *FileRepository) mutateUser(id int64, fn func(*model.User) error) (*model.User, error) {
	users, err := r.loadUsers()
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID == id {
			if err := fn(&users[i]); err != nil {
				return nil, err
			}
			u := users[i]
			if err := r.saveUsers(users); err != nil {
				return nil, err
			}
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

// CreditBalance увеличивает баланс пользователя.
func (r *FileRepository) CreditBalance(_ context.Context, userID, amount int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, err := r.mutateUser(userID, func(u *model.User) error {
		u.Balance += amount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

// DebitBalance списывает сумму с баланса. При нехватке средств баланс
// не меняется и возвращается ErrInsufficientBalance.
func (r *FileRepository) DebitBalance(_ context.Context, userID, amount int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, err := r.mutateUser(userID, func(u *model.User) error {
		if u.Balance < amount {
			return ErrInsufficientBalance
		}
		u.Balance -= amount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return u.Balance, nil
}

func (r *FileRepository) loadOrders() ([]model.Order, error) {
	var orders []model.Order
	if _, err := r.kv.Get(keyOrders, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CreateOrder сохраняет заказ (новые первыми) и обновляет счётчики владельца.
func (r *FileRepository) CreateOrder(_ context.Context, o *model.Order) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.loadOrders()
	if err != nil {
		return 0, err
	}

	id, err := r.nextID("order")
	if err != nil {
		return 0, err
	}

	created := *o
	created.ID = id
	orders = append([]model.Order{created}, orders...)

	if err := r.kv.Set(keyOrders, orders); err != nil {
		return 0, err
	}

	if _, err := r.mutateUser(o.UserID, func(u *model.User) error {
		u.TotalSpent += o.Charge
		u.TotalOrders++
		return nil
	}); err != nil {
		return 0, err
	}

	return id, nil
}

// GetOrderByID возвращает заказ по идентификатору.
func (r *FileRepository) GetOrderByID(_ context.Context, id int64) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.loadOrders()
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].ID == id {
			o := orders[i]
			return &o, nil
		}
	}
	return nil, ErrOrderNotFound
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *FileRepository) GetOrdersByUser(_ context.Context, userID int64) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.loadOrders()
	if err != nil {
		return nil, err
	}

	var res []model.Order
	for _, o := range orders {
		if o.UserID == userID {
			res = append(res, o)
		}
	}
	return res, nil
}

func (r *FileRepository) mutateOrder(id int64, fn func(*model.Order)) error {
	orders, err := r.loadOrders()
	if err != nil {
		return err
	}
	for i := range orders {
		if orders[i].ID == id {
			fn(&orders[i])
			return r.kv.Set(keyOrders, orders)
		}
	}
	return ErrOrderNotFound
}

// UpdateOrderStatus обновляет статус и метаданные доставки заказа.
func (r *FileRepository) UpdateOrderStatus(_ context.Context, id int64, status model.OrderStatus, upd *model.DeliveryUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.mutateOrder(id, func(o *model.Order) {
		o.Status = status
		if upd != nil {
			if upd.StartCount != nil {
				o.StartCount = upd.StartCount
			}
			if upd.Remains != nil {
				o.Remains = upd.Remains
			}
		}
		o.UpdatedAt = time.Now()
	})
}

// MarkOrderSynced записывает идентификатор заказа у поставщика.
func (r *FileRepository) MarkOrderSynced(_ context.Context, id int64, supplierOrderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.mutateOrder(id, func(o *model.Order) {
		o.SupplierOrderID = supplierOrderID
		o.NeedsSync = false
		o.UpdatedAt = time.Now()
	})
}

// GetOrdersForSync возвращает заказы, требующие обмена с поставщиком.
func (r *FileRepository) GetOrdersForSync(_ context.Context, limit int) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.loadOrders()
	if err != nil {
		return nil, err
	}

	var res []model.Order
	for i := len(orders) - 1; i >= 0; i-- { // старые первыми
		o := orders[i]
		if o.NeedsSync || (o.SupplierOrderID != "" && !o.Status.Terminal()) {
			res = append(res, o)
			if len(res) >= limit {
				break
			}
		}
	}
	return res, nil
}

func (r *FileRepository) loadSessions() (map[string]model.Session, error) {
	sessions := make(map[string]model.Session)
	if _, err := r.kv.Get(keySessions, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateSession сохраняет новую сессию.
func (r *FileRepository) CreateSession(_ context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.loadSessions()
	if err != nil {
		return err
	}
	sessions[s.Token] = *s
	return r.kv.Set(keySessions, sessions)
}

// GetSession возвращает сессию по токену.
func (r *FileRepository) GetSession(_ context.Context, token string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.loadSessions()
	if err != nil {
		return nil, err
	}
	s, ok := sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

// TouchSession обновляет время последней активности сессии.
func (r *FileRepository) TouchSession(_ context.Context, token string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.loadSessions()
	if err != nil {
		return err
	}
	s, ok := sessions[token]
	if !ok {
		return ErrSessionNotFound
	}
	s.LastActivity = at
	sessions[token] = s
	return r.kv.Set(keySessions, sessions)
}

// DeleteSession удаляет сессию.
func (r *FileRepository) DeleteSession(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.loadSessions()
	if err != nil {
		return err
	}
	delete(sessions, token)
	return r.kv.Set(keySessions, sessions)
}

func (r *FileRepository) loadPayments() ([]model.Payment, error) {
	var payments []model.Payment
	if _, err := r.kv.Get(keyPayments, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

// CreatePayment сохраняет заявку на пополнение.
func (r *FileRepository) CreatePayment(_ context.Context, p *model.Payment) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	payments, err := r.loadPayments()
	if err != nil {
		return 0, err
	}

	id, err := r.nextID("payment")
	if err != nil {
		return 0, err
	}

	created := *p
	created.ID = id
	payments = append(payments, created)

	if err := r.kv.Set(keyPayments, payments); err != nil {
		return 0, err
	}
	return id, nil
}

// GetPaymentByID возвращает заявку по идентификатору.
func (r *FileRepository) GetPaymentByID(_ context.Context, id int64) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	payments, err := r.loadPayments()
	if err != nil {
		return nil, err
	}
	for i := range payments {
		if payments[i].ID == id {
			p := payments[i]
			return &p, nil
		}
	}
	return nil, ErrPaymentNotFound
}

// ListPendingPayments возвращает заявки, ожидающие решения администратора.
func (r *FileRepository) ListPendingPayments(_ context.Context) ([]model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	payments, err := r.loadPayments()
	if err != nil {
		return nil, err
	}

	var res []model.Payment
	for _, p := range payments {
		if p.Status == model.PaymentStatusPending {
			res = append(res, p)
		}
	}
	return res, nil
}

// UpdatePaymentStatus записывает решение администратора по заявке.
func (r *FileRepository) UpdatePaymentStatus(_ context.Context, id int64, status model.PaymentStatus, note string, reviewedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	payments, err := r.loadPayments()
	if err != nil {
		return err
	}
	for i := range payments {
		if payments[i].ID == id {
			payments[i].Status = status
			payments[i].Note = note
			payments[i].ReviewedAt = &reviewedAt
			return r.kv.Set(keyPayments, payments)
		}
	}
	return ErrPaymentNotFound
}

// AppendActivity добавляет запись журнала и отсекает старые записи
// за пределами фиксированного окна.
func (r *FileRepository) AppendActivity(_ context.Context, e *model.ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var entries []model.ActivityEntry
	if _, err := r.kv.Get(keyActivity, &entries); err != nil {
		return err
	}

	id, err := r.nextID("activity")
	if err != nil {
		return err
	}

	created := *e
	created.ID = id
	entries = append(entries, created)

	if len(entries) > activityCap {
		entries = entries[len(entries)-activityCap:]
	}

	return r.kv.Set(keyActivity, entries)
}

// ListActivityByUser возвращает последние записи журнала пользователя.
func (r *FileRepository) ListActivityByUser(_ context.Context, userID int64, limit int) ([]model.ActivityEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var entries []model.ActivityEntry
	if _, err := r.kv.Get(keyActivity, &entries); err != nil {
		return nil, err
	}

	var res []model.ActivityEntry
	for i := len(entries) - 1; i >= 0 && len(res) < limit; i-- {
		if entries[i].UserID == userID {
			res = append(res, entries[i])
		}
	}
	return res, nil
}

func (r *FileRepository) loadAttempts() (map[string]model.LoginAttempt, error) {
	attempts := make(map[string]model.LoginAttempt)
	if _, err := r.kv.Get(keyAttempts, &attempts); err != nil {
		return nil, err
	}
	return attempts, nil
}

// GetLoginAttempt возвращает счётчик неудачных входов, nil — если записей нет.
func (r *FileRepository) GetLoginAttempt(_ context.Context, email string) (*model.LoginAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempts, err := r.loadAttempts()
	if err != nil {
		return nil, err
	}
	a, ok := attempts[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// SaveLoginAttempt сохраняет счётчик неудачных входов.
func (r *FileRepository) SaveLoginAttempt(_ context.Context, a *model.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempts, err := r.loadAttempts()
	if err != nil {
		return err
	}
	attempts[strings.ToLower(a.Email)] = *a
	return r.kv.Set(keyAttempts, attempts)
}

// ClearLoginAttempt сбрасывает счётчик после успешного входа.
func (r *FileRepository) ClearLoginAttempt(_ context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempts, err := r.loadAttempts()
	if err != nil {
		return err
	}
	delete(attempts, strings.ToLower(email))
	return r.kv.Set(keyAttempts, attempts)
}
