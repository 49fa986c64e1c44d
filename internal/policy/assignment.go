// Package policy содержит правила назначения исполнителя, расчёта цены и рейтинга.
package policy

import "github.com/mmeshcher/servicemarket/internal/model"

// Rand — источник случайных чисел; *rand.Rand из math/rand/v2 ему удовлетворяет.
type Rand interface {
	IntN(n int) int
}

// PickSupplier выбирает исполнителя с минимальным OrderCount.
// Среди исполнителей с одинаковым минимумом выбор равновероятен.
// Второе значение false, если кандидатов нет.
func PickSupplier(suppliers []model.Account, rnd Rand) (model.Account, bool) {
	if len(suppliers) == 0 {
		return model.Account{}, false
	}

	least := suppliers[0].OrderCount
	for _, s := range suppliers[1:] {
		if s.OrderCount < least {
			least = s.OrderCount
		}
	}

	tied := make([]model.Account, 0, len(suppliers))
	for _, s := range suppliers {
		if s.OrderCount == least {
			tied = append(tied, s)
		}
	}

	return tied[rnd.IntN(len(tied))], true
}

const (
	minTimeEstimated = 10
	maxTimeEstimated = 120
)

// TimeEstimated возвращает ориентировочное время выполнения в минутах, от 10 до 120 включительно.
func TimeEstimated(rnd Rand) int {
	return minTimeEstimated + rnd.IntN(maxTimeEstimated-minTimeEstimated+1)
}
