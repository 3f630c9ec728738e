// Package validation содержит функции валидации входных данных.
package validation

// IsValidTvNumber проверяет номер телевизора: ровно четыре цифры ASCII.
func IsValidTvNumber(number string) bool {
	if len(number) != 4 {
		return false
	}
	return isASCIIDigits(number)
}

// IsValidRoomNumber проверяет номер комнаты: от одной до шести цифр ASCII.
func IsValidRoomNumber(number string) bool {
	if number == "" || len(number) > 6 {
		return false
	}
	return isASCIIDigits(number)
}

func isASCIIDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
