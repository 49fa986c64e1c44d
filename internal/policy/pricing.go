package policy

import "github.com/mmeshcher/servicemarket/internal/model"

// LoyaltyEvery — каждый такой по счёту заказ заявителя бесплатен.
const LoyaltyEvery = 5

// IsLoyaltyFree сообщает, бесплатен ли очередной заказ при priorOrders уже созданных заказах.
func IsLoyaltyFree(priorOrders int64) bool {
	n := priorOrders + 1
	return n%LoyaltyEvery == 0
}

// Line — количество услуги по заданной цене.
type Line struct {
	Price    int64
	Quantity int64
}

// OrderTotal считает стоимость заказа с учётом правила бесплатного заказа.
// Сумма проверяется на переполнение и для бесплатного заказа.
func OrderTotal(lines []Line, priorOrders int64) (int64, error) {
	var total int64
	for _, l := range lines {
		var err error
		if total, err = model.AddLineAmount(total, l.Price, l.Quantity); err != nil {
			return 0, err
		}
	}

	if IsLoyaltyFree(priorOrders) {
		return 0, nil
	}
	return total, nil
}
