// Package rate вычисляет стоимость единицы ТВ-времени по тарифной конфигурации.
package rate

import (
	"errors"
	"slices"

	"github.com/akorotchenko/tvtime-system/internal/model"
)

// ErrRateNotConfigured возвращается, если тарифная конфигурация отсутствует.
var ErrRateNotConfigured = errors.New("rate not configured")

// ErrInvalidDuration возвращается для неположительной длительности.
var ErrInvalidDuration = errors.New("duration must be positive")

// ResolveUnitPrice возвращает цену за единицу времени для указанной длительности.
// В ступенчатом режиме выбирается первая ступень, чья граница не меньше
// длительности; если длительность превышает все ступени, действует цена
// самой верхней ступени. В плоском режиме возвращается почасовая ставка.
// Функция не изменяет переданную конфигурацию.
func ResolveUnitPrice(cfg *model.RateConfig, duration int) (int64, error) {
	if duration <= 0 {
		return 0, ErrInvalidDuration
	}
	if cfg == nil {
		return 0, ErrRateNotConfigured
	}

	if len(cfg.Thresholds) > 0 {
		// Сортируем копию: порядок ступеней в хранимой конфигурации
		// не должен меняться как побочный эффект расчёта.
		thresholds := slices.Clone(cfg.Thresholds)
		slices.SortFunc(thresholds, func(a, b model.RateThreshold) int {
			return a.Days - b.Days
		})

		for _, t := range thresholds {
			if t.Days >= duration {
				return t.PriceCents, nil
			}
		}
		return thresholds[len(thresholds)-1].PriceCents, nil
	}

	if cfg.HourlyRateCents != nil {
		return *cfg.HourlyRateCents, nil
	}

	return 0, ErrRateNotConfigured
}

// ResolveCost возвращает полную стоимость покупки: длительность, умноженная
// на цену единицы времени. Стоимость фиксируется в момент создания заказа
// и впоследствии не пересчитывается.
func ResolveCost(cfg *model.RateConfig, duration int) (int64, error) {
	unit, err := ResolveUnitPrice(cfg, duration)
	if err != nil {
		return 0, err
	}
	return int64(duration) * unit, nil
}
