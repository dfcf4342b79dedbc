package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/pricing"
	"github.com/mmeshcher/smmpanel-system/internal/repository"
	"github.com/mmeshcher/smmpanel-system/internal/supplier"
	"github.com/mmeshcher/smmpanel-system/internal/validation"
)

const (
	syncInterval  = 5 * time.Second
	syncBatchSize = 100
	submitTimeout = 15 * time.Second
)

// cachedCatalog хранит нормализованный каталог между запросами:
// поставщик медленный, а каталог меняется редко.
type cachedCatalog struct {
	mu        sync.RWMutex
	services  []model.CatalogService
	fetchedAt time.Time
}

// Catalog возвращает каталог услуг с розничными ценами. Ответ поставщика
// кэшируется; при недоступности поставщика отдаётся устаревшая копия,
// если она есть.
func (s *Service) Catalog(ctx context.Context) ([]model.CatalogService, error) {
	s.catalogCache.mu.RLock()
	fresh := time.Since(s.catalogCache.fetchedAt) < s.opts.CatalogTTL && s.catalogCache.services != nil
	services := s.catalogCache.services
	s.catalogCache.mu.RUnlock()

	if fresh {
		return services, nil
	}

	if s.supplier == nil {
		if services != nil {
			return services, nil
		}
		return nil, fmt.Errorf("supplier is not configured")
	}

	payload, err := s.supplier.Services(ctx)
	if err == nil {
		var normalized []model.CatalogService
		normalized, err = s.adapter.Normalize(payload)
		if err == nil {
			s.catalogCache.mu.Lock()
			s.catalogCache.services = normalized
			s.catalogCache.fetchedAt = time.Now()
			s.catalogCache.mu.Unlock()
			return normalized, nil
		}
	}

	if services != nil {
		s.logger.Warn("catalog refresh failed, serving stale copy", zap.Error(err))
		return services, nil
	}
	return nil, fmt.Errorf("load catalog: %w", err)
}

func (s *Service) findService(ctx context.Context, serviceID int64) (*model.CatalogService, error) {
	services, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	for i := range services {
		if services[i].ID == serviceID {
			return &services[i], nil
		}
	}
	return nil, ErrServiceNotFound
}

// PlaceOrderRequest описывает параметры размещаемого заказа.
// DripRuns > 1 включает drip-feed: количество делится на порции с
// интервалом DripIntervalMinutes.
type PlaceOrderRequest struct {
	ServiceID           int64
	Link                string
	Quantity            int64
	DripRuns            int64
	DripIntervalMinutes int64
}

// PlaceOrder размещает заказ: валидирует вход, фиксирует сумму списания,
// списывает средства и создаёт запись заказа. Списание и создание заказа
// должны быть согласованы: при сбое создания списание компенсируется
// обратным зачислением, а сбой самой компенсации поднимается как
// ErrLedgerInconsistent.
//
// Отправка поставщику происходит в фоне и не влияет на результат:
// неотправленный заказ остаётся в статусе Pending с флагом синхронизации.
func (s *Service) PlaceOrder(ctx context.Context, actor *model.User, req PlaceOrderRequest) (*model.Order, error) {
	if !validation.IsValidLink(req.Link) {
		return nil, fmt.Errorf("%w: link must be a valid http(s) URL", ErrInvalidInput)
	}
	if req.DripRuns < 0 || req.DripIntervalMinutes < 0 {
		return nil, fmt.Errorf("%w: drip parameters must not be negative", ErrInvalidInput)
	}
	if req.DripRuns > 1 && req.DripIntervalMinutes == 0 {
		return nil, fmt.Errorf("%w: drip interval is required", ErrInvalidInput)
	}

	svc, err := s.findService(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}

	if req.Quantity < svc.Min || req.Quantity > svc.Max {
		return nil, fmt.Errorf("%w: quantity %d is outside [%d, %d]", ErrQuantityOutOfRange, req.Quantity, svc.Min, svc.Max)
	}

	charge, err := pricing.ChargeForQuantity(svc.Rate, req.Quantity)
	if err != nil {
		return nil, fmt.Errorf("compute charge: %w", err)
	}

	// DebitBalance атомарно проверяет достаточность средств: отдельная
	// предварительная проверка создала бы гонку между вкладками.
	if !actor.IsAdmin() {
		if _, err := s.repo.DebitBalance(ctx, actor.ID, charge); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	order := &model.Order{
		UserID:      actor.ID,
		ServiceID:   svc.ID,
		ServiceName: svc.Name,
		Link:        req.Link,
		Quantity:    req.Quantity,
		Charge:      charge,
		Status:      model.OrderStatusPending,
		Drip:        buildDripSchedule(req.Quantity, req.DripRuns, time.Duration(req.DripIntervalMinutes)*time.Minute, now),
		NeedsSync:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	id, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		if !actor.IsAdmin() {
			if _, crErr := s.repo.CreditBalance(ctx, actor.ID, charge); crErr != nil {
				s.logger.Error("refund after failed order creation",
					zap.Error(crErr),
					zap.Int64("userID", actor.ID),
					zap.Int64("charge", charge))
				return nil, fmt.Errorf("%w: refund %d centavos to user %d failed: %v (create order: %v)",
					ErrLedgerInconsistent, charge, actor.ID, crErr, err)
			}
		}
		return nil, fmt.Errorf("create order: %w", err)
	}
	order.ID = id

	s.logActivity(ctx, actor.ID, "order_placed", charge, fmt.Sprintf("%s x%d", svc.Name, req.Quantity))

	if s.supplier != nil {
		go s.submitToSupplier(order)
	}

	return order, nil
}

// buildDripSchedule делит количество на runs порций. Остаток от деления
// распределяется по одной единице в самые ранние порции. Расписание —
// инертные метаданные: выполнением порций управляет поставщик.
func buildDripSchedule(quantity, runs int64, interval time.Duration, start time.Time) []model.DripRun {
	if runs <= 1 {
		return nil
	}

	base := quantity / runs
	remainder := quantity % runs

	schedule := make([]model.DripRun, 0, runs)
	for i := int64(0); i < runs; i++ {
		q := base
		if i < remainder {
			q++
		}
		schedule = append(schedule, model.DripRun{
			Quantity:    q,
			ScheduledAt: start.Add(time.Duration(i) * interval),
		})
	}
	return schedule
}

// submitToSupplier отправляет заказ поставщику вне контекста запроса.
// Любой сбой лишь оставляет заказ в очереди фоновой синхронизации.
func (s *Service) submitToSupplier(order *model.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	var drip []supplier.DripParam
	for _, run := range order.Drip {
		drip = append(drip, supplier.DripParam{
			Quantity:        run.Quantity,
			IntervalMinutes: dripIntervalMinutes(order.Drip),
		})
	}

	supplierID, err := s.supplier.AddOrder(ctx, order.ServiceID, order.Link, order.Quantity, drip)
	if err != nil {
		s.logger.Warn("submit order to supplier", zap.Error(err), zap.Int64("orderID", order.ID))
		return
	}

	if err := s.repo.MarkOrderSynced(ctx, order.ID, supplierID); err != nil {
		s.logger.Error("mark order synced", zap.Error(err), zap.Int64("orderID", order.ID))
	}
}

func dripIntervalMinutes(schedule []model.DripRun) int64 {
	if len(schedule) < 2 {
		return 0
	}
	return int64(schedule[1].ScheduledAt.Sub(schedule[0].ScheduledAt) / time.Minute)
}

// MassOrderLine — одна строка массового заказа.
type MassOrderLine struct {
	ServiceID int64
	Link      string
	Quantity  int64
}

// MassOrderLineResult — результат обработки одной строки массового заказа.
type MassOrderLineResult struct {
	Link    string `json:"link"`
	OrderID int64  `json:"order_id,omitempty"`
	Charge  int64  `json:"charge,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MassOrderResult — сводка по массовому заказу.
type MassOrderResult struct {
	Lines       []MassOrderLineResult `json:"lines"`
	Succeeded   int                   `json:"succeeded"`
	Failed      int                   `json:"failed"`
	TotalCharge int64                 `json:"total_charge"`
}

// PlaceMassOrder размещает несколько заказов по списку строк. Строки
// обрабатываются последовательно и независимо: каждая проходит полный
// цикл размещения со своим списанием, сбой одной не откатывает
// предыдущие. Массовый заказ — не транзакция.
func (s *Service) PlaceMassOrder(ctx context.Context, actor *model.User, lines []MassOrderLine) (*MassOrderResult, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no order lines", ErrInvalidInput)
	}

	result := &MassOrderResult{Lines: make([]MassOrderLineResult, 0, len(lines))}
	for _, line := range lines {
		lineResult := MassOrderLineResult{Link: line.Link}

		order, err := s.PlaceOrder(ctx, actor, PlaceOrderRequest{
			ServiceID: line.ServiceID,
			Link:      line.Link,
			Quantity:  line.Quantity,
		})
		if err != nil {
			if errors.Is(err, ErrLedgerInconsistent) {
				return nil, err
			}
			lineResult.Error = err.Error()
			result.Failed++
		} else {
			lineResult.OrderID = order.ID
			lineResult.Charge = order.Charge
			result.Succeeded++
			result.TotalCharge += order.Charge
		}

		result.Lines = append(result.Lines, lineResult)
	}

	return result, nil
}

// GetOrder возвращает заказ. Пользователь видит только свои заказы,
// администратор — любые.
func (s *Service) GetOrder(ctx context.Context, actor *model.User, orderID int64) (*model.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != actor.ID && !actor.IsAdmin() {
		return nil, repository.ErrOrderNotFound
	}
	return order, nil
}

// ListOrders возвращает заказы пользователя, новые первыми.
func (s *Service) ListOrders(ctx context.Context, actor *model.User) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, actor.ID)
}

// StartSupplierSync запускает фоновую синхронизацию заказов с
// поставщиком: отправку неотправленных и опрос статусов активных.
// Останавливается по отмене контекста.
func (s *Service) StartSupplierSync(ctx context.Context) {
	if s.supplier == nil {
		s.logger.Info("supplier is not configured, order sync disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("supplier sync stopped")
				return
			case <-ticker.C:
				if err := s.syncBatch(ctx); err != nil {
					s.logger.Warn("supplier sync", zap.Error(err))
				}
			}
		}
	}()
}

func (s *Service) syncBatch(ctx context.Context) error {
	orders, err := s.repo.GetOrdersForSync(ctx, syncBatchSize)
	if err != nil {
		return fmt.Errorf("load orders for sync: %w", err)
	}

	for i := range orders {
		order := &orders[i]
		if order.SupplierOrderID == "" {
			s.submitToSupplier(order)
			continue
		}
		if err := s.pollOrder(ctx, order); err != nil {
			s.logger.Warn("poll order status", zap.Error(err), zap.Int64("orderID", order.ID))
		}
	}
	return nil
}

// pollOrder запрашивает состояние заказа у поставщика и применяет его
// локально. Поставщик — источник истины по статусу, поэтому его ответ
// применяется как есть, без проверки допустимости перехода.
func (s *Service) pollOrder(ctx context.Context, order *model.Order) error {
	st, err := s.supplier.GetOrderStatus(ctx, order.SupplierOrderID)
	if err != nil {
		return err
	}

	status, ok := mapSupplierStatus(st.Status)
	if !ok {
		return fmt.Errorf("unknown supplier status %q", st.Status)
	}

	delivery := &model.DeliveryUpdate{}
	if v, err := st.StartCount.Int64(); err == nil {
		delivery.StartCount = &v
	}
	if v, err := st.Remains.Int64(); err == nil {
		delivery.Remains = &v
	}

	if status == order.Status && delivery.StartCount == nil && delivery.Remains == nil {
		return nil
	}

	return s.repo.UpdateOrderStatus(ctx, order.ID, status, delivery)
}

func mapSupplierStatus(raw string) (model.OrderStatus, bool) {
	switch model.OrderStatus(raw) {
	case model.OrderStatusPending, model.OrderStatusProcessing, model.OrderStatusInProgress,
		model.OrderStatusPartial, model.OrderStatusCompleted, model.OrderStatusCanceled,
		model.OrderStatusRefunded:
		return model.OrderStatus(raw), true
	}
	return "", false
}
