package utils

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FormatRub форматирует сумму в рублях: "5 000" или "1 234,50".
func FormatRub(amount decimal.Decimal) string {
	s := amount.Round(2).StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if frac != "00" {
		out += "," + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// GenerateUUID генерирует новый UUID (ключи идемпотентности ЮKassa).
func GenerateUUID() string {
	return uuid.New().String()
}
