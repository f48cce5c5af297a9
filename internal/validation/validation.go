// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"unicode"
)

// ErrInvalidAmount возвращается для отрицательной или недопустимой суммы.
var ErrInvalidAmount = errors.New("invalid amount")

// ErrInvalidCurrency возвращается для некорректного кода валюты.
var ErrInvalidCurrency = errors.New("invalid currency code")

// CheckAmount проверяет, что сумма в минимальных единицах валюты неотрицательна.
func CheckAmount(amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// CheckCurrency проверяет, что код валюты состоит из трёх заглавных латинских букв.
func CheckCurrency(code string) error {
	if len(code) != 3 {
		return ErrInvalidCurrency
	}
	for _, ch := range code {
		if ch > unicode.MaxASCII || !unicode.IsUpper(ch) {
			return ErrInvalidCurrency
		}
	}
	return nil
}
