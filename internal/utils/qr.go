package utils

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// GenerateQRCode кодирует ссылку на оплату в PNG.
func GenerateQRCode(link string) ([]byte, error) {
	if link == "" {
		return nil, fmt.Errorf("пустая ссылка для QR-кода")
	}
	// qrcode.Medium - уровень коррекции ошибок, 256 - размер в пикселях.
	qrBytes, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("ошибка кодирования QR-кода: %w", err)
	}
	return qrBytes, nil
}
