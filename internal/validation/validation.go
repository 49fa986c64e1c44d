// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"unicode"
)

var (
	// ErrNoItems возвращается для заказа без строк.
	ErrNoItems = errors.New("at least one service is required")
	// ErrAllZeroQuantity возвращается, если ни у одной строки количество не больше нуля.
	ErrAllZeroQuantity = errors.New("at least one service must have quantity greater than 0")
	// ErrNegativeQuantity возвращается для строки с отрицательным количеством.
	ErrNegativeQuantity = errors.New("quantity must not be negative")
)

// CheckQuantities проверяет количества строк заказа в порядке: непустой список,
// отсутствие отрицательных значений, хотя бы одно положительное.
func CheckQuantities(quantities []int64) error {
	if len(quantities) == 0 {
		return ErrNoItems
	}

	positive := false
	for _, q := range quantities {
		if q < 0 {
			return ErrNegativeQuantity
		}
		if q > 0 {
			positive = true
		}
	}

	if !positive {
		return ErrAllZeroQuantity
	}
	return nil
}

const maxUsernameLen = 150

// IsValidUsername проверяет имя пользователя: 1–150 символов, буквы, цифры и @.+-_
func IsValidUsername(username string) bool {
	if username == "" || len([]rune(username)) > maxUsernameLen {
		return false
	}

	for _, ch := range username {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			continue
		}
		switch ch {
		case '@', '.', '+', '-', '_':
			continue
		}
		return false
	}
	return true
}
