// Package catalog нормализует список услуг поставщика в доменные объекты.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mmeshcher/smmpanel-system/internal/model"
	"github.com/mmeshcher/smmpanel-system/internal/pricing"
)

// ErrBadCatalog возвращается, когда ответ поставщика — не массив услуг
// (например, объект с описанием ошибки). Пустой каталог без видимой ошибки
// хуже для пользователя, чем явный отказ, поэтому форма проверяется строго.
var ErrBadCatalog = errors.New("catalog: unexpected supplier payload shape")

// rawService — запись каталога в том виде, как её отдаёт поставщик.
// Числовые поля приходят и числами, и строками, поэтому json.Number.
type rawService struct {
	Service  json.Number `json:"service"`
	Name     string      `json:"name"`
	Category string      `json:"category"`
	Min      json.Number `json:"min"`
	Max      json.Number `json:"max"`
	Rate     json.Number `json:"rate"`
	Refill   bool        `json:"refill"`
}

// Adapter преобразует сырой каталог в услуги с розничными ценами.
// Чистое преобразование: кэширование результата — забота вызывающего.
type Adapter struct {
	fxRate   float64
	margin   float64
	minFloor int64
}

// NewAdapter создаёт адаптер каталога с курсом, наценкой и минимальным
// количеством заказа, действующим на всей площадке.
func NewAdapter(fxRate, margin float64, minFloor int64) *Adapter {
	return &Adapter{
		fxRate:   fxRate,
		margin:   margin,
		minFloor: minFloor,
	}
}

// Normalize разбирает ответ поставщика и возвращает список услуг.
// Некорректные записи (без имени, с нечисловой ставкой) отбрасываются по
// одной: сбой одной позиции у поставщика не должен обнулять весь каталог.
func (a *Adapter) Normalize(payload []byte) ([]model.CatalogService, error) {
	var raw []rawService
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadCatalog, err)
	}

	services := make([]model.CatalogService, 0, len(raw))
	for _, r := range raw {
		svc, ok := a.normalizeOne(r)
		if !ok {
			continue
		}
		services = append(services, svc)
	}

	return services, nil
}

func (a *Adapter) normalizeOne(r rawService) (model.CatalogService, bool) {
	if r.Name == "" {
		return model.CatalogService{}, false
	}

	id, err := r.Service.Int64()
	if err != nil || id <= 0 {
		return model.CatalogService{}, false
	}

	baseRate, err := r.Rate.Float64()
	if err != nil {
		return model.CatalogService{}, false
	}

	retail, err := pricing.ConvertAndMark(baseRate, a.fxRate, a.margin)
	if err != nil {
		return model.CatalogService{}, false
	}

	min, err := r.Min.Int64()
	if err != nil {
		return model.CatalogService{}, false
	}
	max, err := r.Max.Int64()
	if err != nil {
		return model.CatalogService{}, false
	}

	// Защита от кривой настройки поставщика: минимум не ниже площадочного.
	if min < a.minFloor {
		min = a.minFloor
	}

	return model.CatalogService{
		ID:       id,
		Name:     r.Name,
		Category: r.Category,
		Min:      min,
		Max:      max,
		Rate:     retail,
		Refill:   r.Refill,
	}, true
}
