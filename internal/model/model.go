// Package model содержит доменные сущности SMM-панели.
package model

import "time"

// Role определяет роль пользователя в системе.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User представляет зарегистрированного пользователя панели.
// Баланс и накопительные счётчики хранятся в сентаво (1/100 песо).
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash []byte
	Balance      int64
	TotalSpent   int64
	TotalOrders  int64
	Role         Role
	CreatedAt    time.Time
}

// IsAdmin сообщает, является ли пользователь администратором.
// Администратор освобождён от всех проверок баланса.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Session описывает выданный при входе токен доступа.
type Session struct {
	Token        string
	UserID       int64
	Role         Role
	IssuedAt     time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
}

// Expired сообщает, истёк ли срок действия сессии на момент now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// CatalogService описывает услугу из каталога поставщика.
// Rate — розничная цена за 1000 единиц в сентаво, уже с наценкой.
type CatalogService struct {
	ID       int64  `json:"service"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Min      int64  `json:"min"`
	Max      int64  `json:"max"`
	Rate     int64  `json:"rate"`
	Refill   bool   `json:"refill"`
}

// OrderStatus описывает статус выполнения заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusInProgress OrderStatus = "In progress"
	OrderStatusPartial    OrderStatus = "Partial"
	OrderStatusCompleted  OrderStatus = "Completed"
	OrderStatusCanceled   OrderStatus = "Canceled"
	OrderStatusRefunded   OrderStatus = "Refunded"
)

// Terminal сообщает, является ли статус конечным.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCanceled, OrderStatusRefunded:
		return true
	}
	return false
}

var statusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusInProgress, OrderStatusCanceled},
	OrderStatusProcessing: {OrderStatusInProgress, OrderStatusPartial, OrderStatusCompleted, OrderStatusCanceled, OrderStatusRefunded},
	OrderStatusInProgress: {OrderStatusPartial, OrderStatusCompleted, OrderStatusCanceled, OrderStatusRefunded},
	OrderStatusPartial:    {OrderStatusCompleted, OrderStatusRefunded},
	OrderStatusCanceled:   {OrderStatusRefunded},
}

// CanTransition проверяет допустимость перехода статуса заказа.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DripRun описывает одну порцию доставки при drip-feed заказе.
type DripRun struct {
	Quantity    int64     `json:"quantity"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// Order описывает заказ пользователя. Сумма списания фиксируется при
// создании и никогда не пересчитывается; после создания меняются только
// статус и метаданные доставки.
type Order struct {
	ID              int64
	UserID          int64
	ServiceID       int64
	ServiceName     string
	Link            string
	Quantity        int64
	Charge          int64
	Status          OrderStatus
	SupplierOrderID string
	StartCount      *int64
	Remains         *int64
	Drip            []DripRun
	NeedsSync       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DeliveryUpdate содержит метаданные доставки, приходящие от поставщика.
type DeliveryUpdate struct {
	StartCount *int64
	Remains    *int64
}

// PaymentStatus описывает состояние заявки на пополнение.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "Pending"
	PaymentStatusApproved PaymentStatus = "Approved"
	PaymentStatusRejected PaymentStatus = "Rejected"
)

// Payment описывает заявку на ручное пополнение через мобильный кошелёк.
// Сумма в сентаво; подтверждается администратором вручную.
type Payment struct {
	ID         int64
	UserID     int64
	Method     string
	Reference  string
	Amount     int64
	Status     PaymentStatus
	Note       string
	CreatedAt  time.Time
	ReviewedAt *time.Time
}

// ActivityEntry — запись журнала действий, влияющих на баланс или
// безопасность. Журнал диагностический: источником истины по балансу
// остаётся поле User.Balance.
type ActivityEntry struct {
	ID        int64
	UserID    int64
	Action    string
	Amount    int64
	Detail    string
	CreatedAt time.Time
}

// LoginAttempt хранит счётчик неудачных попыток входа по e-mail.
type LoginAttempt struct {
	Email       string
	Count       int
	WindowStart time.Time
	LockedUntil time.Time
}

// Balance содержит баланс пользователя в песо для выдачи наружу.
type Balance struct {
	Current     float64 `json:"current"`
	TotalSpent  float64 `json:"total_spent"`
	TotalOrders int64   `json:"total_orders"`
}
