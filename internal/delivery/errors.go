package delivery

import "errors"

var (
	// ErrAddressNotFound - геокодер не нашёл адрес.
	ErrAddressNotFound = errors.New("delivery: address not found")
	// ErrProviderUnavailable - геокодер недоступен, ответил ошибкой или не уложился в таймаут.
	ErrProviderUnavailable = errors.New("delivery: geocoding provider unavailable")
	// ErrNoZone - в настройках нет зоны для такого расстояния.
	ErrNoZone = errors.New("delivery: no delivery zone for distance")
)
