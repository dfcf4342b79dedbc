// Package repository содержит контракт доступа к данным и его реализации:
// PostgreSQL для боевого развёртывания и файловое хранилище для локального.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/smmpanel-system/internal/model"
)

// ErrUserExists возвращается при попытке регистрации с занятым e-mail.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrInsufficientBalance возвращается при списании суммы, превышающей баланс.
	// Баланс при этом не меняется.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrSessionNotFound возвращается, если сессия не найдена.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPaymentNotFound возвращается, если заявка на пополнение не найдена.
	ErrPaymentNotFound = errors.New("payment not found")
)

// activityCap ограничивает журнал действий окном последних записей.
const activityCap = 500

// Repository описывает контракт доступа к данным, используемый сервисом.
// Баланс мутируется только через CreditBalance/DebitBalance; реализация
// обязана выполнять каждую мутацию атомарно.
type Repository interface {
	Close() error

	CreateUser(ctx context.Context, u *model.User) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	CreditBalance(ctx context.Context, userID, amount int64) (int64, error)
	DebitBalance(ctx context.Context, userID, amount int64) (int64, error)

	CreateOrder(ctx context.Context, o *model.Order) (int64, error)
	GetOrderByID(ctx context.Context, id int64) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus, upd *model.DeliveryUpdate) error
	MarkOrderSynced(ctx context.Context, id int64, supplierOrderID string) error
	GetOrdersForSync(ctx context.Context, limit int) ([]model.Order, error)

	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, token string) (*model.Session, error)
	TouchSession(ctx context.Context, token string, at time.Time) error
	DeleteSession(ctx context.Context, token string) error

	CreatePayment(ctx context.Context, p *model.Payment) (int64, error)
	GetPaymentByID(ctx context.Context, id int64) (*model.Payment, error)
	ListPendingPayments(ctx context.Context) ([]model.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id int64, status model.PaymentStatus, note string, reviewedAt time.Time) error

	AppendActivity(ctx context.Context, e *model.ActivityEntry) error
	ListActivityByUser(ctx context.Context, userID int64, limit int) ([]model.ActivityEntry, error)

	GetLoginAttempt(ctx context.Context, email string) (*model.LoginAttempt, error)
	SaveLoginAttempt(ctx context.Context, a *model.LoginAttempt) error
	ClearLoginAttempt(ctx context.Context, email string) error
}
