// Package otp генерирует и сверяет коды подтверждения переноса ТВ-времени.
package otp

import (
	"crypto/subtle"
	"math/rand"
	"strconv"
)

// Generate возвращает случайный шестизначный код в диапазоне [100000, 999999].
// Код привязывается к конкретному заказу, глобальная уникальность не требуется.
func Generate() string {
	n := 100000 + rand.Intn(900000)
	return strconv.Itoa(n)
}

// Equal сравнивает предъявленный код с сохранённым за постоянное время.
func Equal(supplied, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(stored)) == 1
}
