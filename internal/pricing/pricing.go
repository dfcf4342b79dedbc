// Package pricing содержит расчёт розничных цен и сумм списания.
//
// Все денежные суммы выражаются в сентаво (1/100 песо) как int64,
// дробная арифметика используется только внутри округления.
package pricing

import (
	"errors"
	"math"
)

// ErrNotANumber возвращается для NaN и бесконечных входных значений.
// Пакет намеренно тотальный: нечисловой вход отклоняется ошибкой,
// а не приводится к нулю.
var ErrNotANumber = errors.New("pricing: value is not a finite number")

// ErrNegativeInput возвращается для отрицательных цен и количеств.
var ErrNegativeInput = errors.New("pricing: negative input")

// Якорные значения дробной части цены в сентаво. Подбор ближайшего якоря —
// ценовая политика витрины, а не математическое округление: цены должны
// заканчиваться на привычные покупателю суммы.
var anchors = [...]float64{0, 25, 49, 50, 75, 99}

// FriendlyRound приводит «сырую» цену в песо к ближайшему якорю дробной
// части и возвращает результат в сентаво. При равном расстоянии выбирается
// меньший якорь. Особый случай: если ближайший якорь — 0, но дробная часть
// больше 0.50, цена поднимается до следующего целого песо.
func FriendlyRound(raw float64) (int64, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, ErrNotANumber
	}
	if raw < 0 {
		return 0, ErrNegativeInput
	}

	whole := math.Floor(raw)
	frac := (raw - whole) * 100

	best := anchors[0]
	bestDist := math.Abs(frac - anchors[0])
	for _, a := range anchors[1:] {
		if d := math.Abs(frac - a); d < bestDist {
			best = a
			bestDist = d
		}
	}

	if best == 0 && frac > 50 {
		whole++
	}

	return int64(whole)*100 + int64(best), nil
}

// ConvertAndMark переводит базовую ставку поставщика (USD за 1000 единиц)
// в розничную цену в сентаво: курс, затем наценка, затем FriendlyRound.
// Детерминирована: повторный вызов с теми же аргументами даёт тот же
// результат, что позволяет идемпотентно обновлять каталог.
func ConvertAndMark(baseUSDPer1000, fxRate, marginMultiplier float64) (int64, error) {
	for _, v := range [...]float64{baseUSDPer1000, fxRate, marginMultiplier} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, ErrNotANumber
		}
		if v < 0 {
			return 0, ErrNegativeInput
		}
	}
	return FriendlyRound(baseUSDPer1000 * fxRate * marginMultiplier)
}

// ChargeForQuantity возвращает сумму списания в сентаво для заказа
// quantity единиц по ставке ratePer1000 (сентаво за 1000 единиц).
// Нулевое количество даёт нулевую сумму.
func ChargeForQuantity(ratePer1000, quantity int64) (int64, error) {
	if ratePer1000 < 0 || quantity < 0 {
		return 0, ErrNegativeInput
	}
	raw := float64(ratePer1000) * float64(quantity) / 100000
	return FriendlyRound(raw)
}

// Pesos переводит сумму из сентаво в песо для выдачи наружу.
func Pesos(centavos int64) float64 {
	return float64(centavos) / 100
}
