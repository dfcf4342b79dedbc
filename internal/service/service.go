// Package service реализует бизнес-логику SMM-панели: учёт балансов,
// заказы и административные операции.
//
// Баланс мутируется только здесь. Действующий пользователь передаётся
// явным параметром: сервис никогда не выясняет «текущего» пользователя
// самостоятельно.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/smmpanel-system/internal/catalog"
	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/repository"
	"github.com/mmeshcher/smmpanel-system/internal/supplier"
	"github.com/mmeshcher/smmpanel-system/internal/validation"
)

// ErrInvalidInput возвращается для синтаксически некорректного входа;
// проверка выполняется до любой мутации.
var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrBadCredentials возвращается при неверной паре e-mail/пароль.
	ErrBadCredentials = errors.New("invalid credentials")
	// ErrNotAuthorized возвращается, когда операция требует роли администратора.
	ErrNotAuthorized = errors.New("operation requires admin role")
	// ErrSessionExpired возвращается для истёкших и отсутствующих сессий.
	ErrSessionExpired = errors.New("session expired")
	// ErrServiceNotFound возвращается, если услуги нет в каталоге.
	ErrServiceNotFound = errors.New("service not found")
	// ErrQuantityOutOfRange возвращается при количестве вне границ услуги.
	ErrQuantityOutOfRange = errors.New("quantity out of range")
	// ErrPaymentReviewed возвращается при повторном решении по заявке.
	ErrPaymentReviewed = errors.New("payment already reviewed")
	// ErrInvalidStatusChange возвращается при недопустимом переходе статуса.
	ErrInvalidStatusChange = errors.New("invalid status transition")
	// ErrLedgerInconsistent сигнализирует о нарушении инварианта баланса —
	// например, о сбое компенсации после неудачного создания заказа.
	// Отличается от пользовательских ошибок, чтобы мониторинг ловил его
	// отдельно.
	ErrLedgerInconsistent = errors.New("ledger inconsistency")
)

// LockedError возвращается при превышении лимита попыток входа и несёт
// остаток времени блокировки. Возвращается независимо от правильности
// пароля.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many login attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

const (
	minPasswordLength = 8
	maxLoginAttempts  = 5
	attemptWindow     = 15 * time.Minute
	lockoutDuration   = 15 * time.Minute
	activityListLimit = 50
)

// Supplier описывает контракт клиента API поставщика, используемый сервисом.
type Supplier interface {
	Services(ctx context.Context) ([]byte, error)
	AddOrder(ctx context.Context, serviceID int64, link string, quantity int64, drip []supplier.DripParam) (string, error)
	GetOrderStatus(ctx context.Context, supplierOrderID string) (*supplier.OrderStatus, error)
}

// Options содержит параметры поведения сервиса.
type Options struct {
	AdminEmail    string
	AdminPassword string
	SessionTTL    time.Duration
	RememberTTL   time.Duration
	CatalogTTL    time.Duration
}

// Service содержит бизнес-логику SMM-панели.
type Service struct {
	repo     repository.Repository
	supplier Supplier
	adapter  *catalog.Adapter
	logger   *zap.Logger
	opts     Options

	catalogCache cachedCatalog
}

// NewService создаёт сервис с указанным репозиторием, клиентом поставщика
// и адаптером каталога. supplier может быть nil: панель продолжает вести
// локальный учёт, откладывая отправку заказов.
func NewService(repo repository.Repository, sup Supplier, adapter *catalog.Adapter, logger *zap.Logger, opts Options) *Service {
	if opts.SessionTTL == 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.RememberTTL == 0 {
		opts.RememberTTL = 30 * 24 * time.Hour
	}
	if opts.CatalogTTL == 0 {
		opts.CatalogTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:     repo,
		supplier: sup,
		adapter:  adapter,
		logger:   logger,
		opts:     opts,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register регистрирует нового пользователя с нулевым балансом и сразу
// выдаёт сессию.
func (s *Service) Register(ctx context.Context, name, email, password, confirmPassword string) (*model.User, *model.Session, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)

	if name == "" {
		return nil, nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !validation.IsValidEmail(email) {
		return nil, nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return nil, nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if password != confirmPassword {
		return nil, nil, fmt.Errorf("%w: passwords do not match", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Balance:      0,
		Role:         model.RoleUser,
		CreatedAt:    time.Now(),
	}

	id, err := s.repo.CreateUser(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	u.ID = id

	session, err := s.issueSession(ctx, u, false)
	if err != nil {
		return nil, nil, err
	}

	s.logActivity(ctx, u.ID, "register", 0, email)

	return sanitize(u), session, nil
}

// Login выполняет вход. Количество неудачных попыток по каждому e-mail
// ограничено скользящим окном; при блокировке ошибка LockedError
// возвращается даже для правильного пароля.
func (s *Service) Login(ctx context.Context, email, password string, rememberMe bool) (*model.User, *model.Session, error) {
	email = normalizeEmail(email)
	now := time.Now()

	attempt, err := s.repo.GetLoginAttempt(ctx, email)
	if err != nil {
		return nil, nil, err
	}
	if attempt != nil && attempt.LockedUntil.After(now) {
		return nil, nil, &LockedError{RetryAfter: attempt.LockedUntil.Sub(now)}
	}

	u, err := s.authenticatePassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			if lockErr := s.recordFailedLogin(ctx, email, attempt, now); lockErr != nil {
				s.logger.Warn("record failed login", zap.Error(lockErr), zap.String("email", email))
			}
		}
		return nil, nil, err
	}

	if err := s.repo.ClearLoginAttempt(ctx, email); err != nil {
		s.logger.Warn("clear login attempts", zap.Error(err), zap.String("email", email))
	}

	session, err := s.issueSession(ctx, u, rememberMe)
	if err != nil {
		return nil, nil, err
	}

	s.logActivity(ctx, u.ID, "login", 0, email)

	return sanitize(u), session, nil
}

// authenticatePassword проверяет учётные данные. Выделенный админский
// аккаунт сверяется с фиксированными учётными данными из конфигурации и
// создаётся при первом входе.
func (s *Service) authenticatePassword(ctx context.Context, email, password string) (*model.User, error) {
	if s.opts.AdminEmail != "" && email == normalizeEmail(s.opts.AdminEmail) {
		if password != s.opts.AdminPassword {
			return nil, ErrBadCredentials
		}
		return s.ensureAdmin(ctx, email)
	}

	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return nil, ErrBadCredentials
	}

	return u, nil
}

func (s *Service) ensureAdmin(ctx context.Context, email string) (*model.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(s.opts.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}

	admin := &model.User{
		Name:         "Administrator",
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		CreatedAt:    time.Now(),
	}
	id, err := s.repo.CreateUser(ctx, admin)
	if err != nil {
		return nil, err
	}
	admin.ID = id
	return admin, nil
}

func (s *Service) recordFailedLogin(ctx context.Context, email string, attempt *model.LoginAttempt, now time.Time) error {
	if attempt == nil || now.Sub(attempt.WindowStart) > attemptWindow {
		attempt = &model.LoginAttempt{Email: email, WindowStart: now}
	}

	attempt.Count++
	if attempt.Count >= maxLoginAttempts {
		attempt.LockedUntil = now.Add(lockoutDuration)
	}

	return s.repo.SaveLoginAttempt(ctx, attempt)
}

func (s *Service) issueSession(ctx context.Context, u *model.User, rememberMe bool) (*model.Session, error) {
	ttl := s.opts.SessionTTL
	if rememberMe {
		ttl = s.opts.RememberTTL
	}

	now := time.Now()
	session := &model.Session{
		Token:        uuid.NewString(),
		UserID:       u.ID,
		Role:         u.Role,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
		LastActivity: now,
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// Authenticate разрешает токен сессии в пользователя. Истёкшая сессия
// удаляется и считается отсутствующей без какого-либо льготного периода.
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	session, err := s.repo.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}

	now := time.Now()
	if session.Expired(now) {
		if err := s.repo.DeleteSession(ctx, token); err != nil {
			s.logger.Warn("delete expired session", zap.Error(err))
		}
		return nil, ErrSessionExpired
	}

	if err := s.repo.TouchSession(ctx, token, now); err != nil {
		s.logger.Warn("touch session", zap.Error(err))
	}

	return s.repo.GetUserByID(ctx, session.UserID)
}

// Logout завершает сессию.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.repo.DeleteSession(ctx, token)
}

// GetBalance возвращает баланс пользователя. Запись пользователя
// перечитывается из репозитория: закэшированная копия могла устареть
// после другой операции.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{
		Current:     pesos(u.Balance),
		TotalSpent:  pesos(u.TotalSpent),
		TotalOrders: u.TotalOrders,
	}, nil
}

// AddFunds зачисляет сумму на баланс пользователя. Верхней границы нет.
// Для администратора операция — no-op: его баланс не учитывается.
func (s *Service) AddFunds(ctx context.Context, actor *model.User, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if actor.IsAdmin() {
		return actor.Balance, nil
	}

	balance, err := s.repo.CreditBalance(ctx, actor.ID, amount)
	if err != nil {
		return 0, err
	}

	s.logActivity(ctx, actor.ID, "credit", amount, reason)
	return balance, nil
}

// DeductFunds списывает сумму с баланса пользователя. Списание, которое
// увело бы баланс в минус, отклоняется без мутации. Администратор
// освобождён от проверки: операция всегда успешна и ничего не меняет.
func (s *Service) DeductFunds(ctx context.Context, actor *model.User, amount int64, reason string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if actor.IsAdmin() {
		return actor.Balance, nil
	}

	balance, err := s.repo.DebitBalance(ctx, actor.ID, amount)
	if err != nil {
		return 0, err
	}

	s.logActivity(ctx, actor.ID, "debit", amount, reason)
	return balance, nil
}

// SubmitPayment регистрирует заявку на ручное пополнение через мобильный
// кошелёк. Баланс не меняется до подтверждения администратором.
func (s *Service) SubmitPayment(ctx context.Context, actor *model.User, method, reference string, amount int64) (*model.Payment, error) {
	method = strings.TrimSpace(method)
	reference = strings.TrimSpace(reference)

	if method == "" || reference == "" {
		return nil, fmt.Errorf("%w: method and reference are required", ErrInvalidInput)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	p := &model.Payment{
		UserID:    actor.ID,
		Method:    method,
		Reference: reference,
		Amount:    amount,
		Status:    model.PaymentStatusPending,
		CreatedAt: time.Now(),
	}

	id, err := s.repo.CreatePayment(ctx, p)
	if err != nil {
		return nil, err
	}
	p.ID = id

	s.logActivity(ctx, actor.ID, "payment_submitted", amount, method+" "+reference)
	return p, nil
}

// ListActivity возвращает последние записи журнала действий пользователя.
func (s *Service) ListActivity(ctx context.Context, actor *model.User) ([]model.ActivityEntry, error) {
	return s.repo.ListActivityByUser(ctx, actor.ID, activityListLimit)
}

// logActivity пишет запись журнала. Журнал диагностический, поэтому сбой
// записи не прерывает операцию, но обязан попасть в лог.
func (s *Service) logActivity(ctx context.Context, userID int64, action string, amount int64, detail string) {
	err := s.repo.AppendActivity(ctx, &model.ActivityEntry{
		UserID:    userID,
		Action:    action,
		Amount:    amount,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	if err != nil {
		s.logger.Warn("append activity", zap.Error(err), zap.String("action", action), zap.Int64("userID", userID))
	}
}

// sanitize возвращает копию пользователя без учётных данных.
func sanitize(u *model.User) *model.User {
	clean := *u
	clean.PasswordHash = nil
	return &clean
}

func pesos(centavos int64) float64 {
	return float64(centavos) / 100
}
