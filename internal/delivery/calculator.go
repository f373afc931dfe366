// Package delivery рассчитывает стоимость доставки по адресу и зонам из настроек.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/models"
	"FoodOrders/internal/utils"
)

// Geocoder превращает адрес в координаты.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}

// Quote - расчёт доставки по адресу.
type Quote struct {
	Cost       decimal.Decimal `json:"cost"`
	DistanceKm float64         `json:"distanceKm"`
	ZoneLabel  string          `json:"zoneLabel"`
	// FreeDelivery - стоимость обнулена порогом бесплатной доставки.
	FreeDelivery bool  `json:"freeDelivery,omitempty"`
	Location     Point `json:"-"`
}

// CheckoutRequest - данные корзины для проверки при оформлении.
type CheckoutRequest struct {
	Address   string
	CartTotal decimal.Decimal
	Method    string
}

// CheckoutResult - ответ проверки. При Valid == false Error содержит текст для клиента.
type CheckoutResult struct {
	Valid      bool             `json:"valid"`
	Cost       *decimal.Decimal `json:"cost,omitempty"`
	DistanceKm *float64         `json:"distanceKm,omitempty"`
	ZoneLabel  string           `json:"zoneLabel,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Calculator - расчёт стоимости доставки.
type Calculator struct {
	geocoder Geocoder
	timeout  time.Duration
	logger   *zap.Logger
}

// NewCalculator создаёт Calculator. timeout ограничивает каждый вызов геокодера.
func NewCalculator(geocoder Geocoder, timeout time.Duration, logger *zap.Logger) *Calculator {
	if timeout <= 0 {
		timeout = constants.DEFAULT_GEOCODER_TIMEOUT
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{geocoder: geocoder, timeout: timeout, logger: logger}
}

// Geocode вызывает геокодер с таймаутом. Истёкший таймаут даёт ErrProviderUnavailable.
func (c *Calculator) Geocode(ctx context.Context, address string) (Point, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Point{}, fmt.Errorf("%w: пустой адрес", ErrAddressNotFound)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	p, err := c.geocoder.Geocode(ctx, address)
	if err != nil {
		if errors.Is(err, ErrAddressNotFound) || errors.Is(err, ErrProviderUnavailable) {
			return Point{}, err
		}
		return Point{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if ctx.Err() != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, ctx.Err())
	}
	return p, nil
}

// Quote геокодирует адрес и выбирает зону по расстоянию от точки отправления.
// Расстояние округляется до сотых километра до выбора зоны.
func (c *Calculator) Quote(ctx context.Context, setting models.DeliverySetting, address string, cartTotal decimal.Decimal) (Quote, error) {
	p, err := c.Geocode(ctx, address)
	if err != nil {
		return Quote{}, err
	}
	return QuoteForPoint(setting, p, cartTotal)
}

// QuoteForPoint - расчёт для уже известных координат.
func QuoteForPoint(setting models.DeliverySetting, p Point, cartTotal decimal.Decimal) (Quote, error) {
	origin := Point{Lat: setting.OriginLat, Lon: setting.OriginLon}
	distance := roundKm(DistanceKm(origin, p))

	zone, err := ResolveZone(setting.Zones, distance)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{Cost: zone.Cost, DistanceKm: distance, ZoneLabel: zone.Label, Location: p}
	if setting.FreeDeliveryThreshold.IsPositive() && cartTotal.GreaterThanOrEqual(setting.FreeDeliveryThreshold) {
		q.Cost = decimal.Zero
		q.FreeDelivery = true
	}
	return q, nil
}

// ValidateForCheckout проверяет, можно ли оформить заказ с таким способом получения.
// Самовывоз не требует адреса и не ограничен минимальной суммой.
func (c *Calculator) ValidateForCheckout(ctx context.Context, setting models.DeliverySetting, req CheckoutRequest) CheckoutResult {
	if req.Method == constants.DELIVERY_METHOD_PICKUP {
		zero := decimal.Zero
		return CheckoutResult{Valid: true, Cost: &zero, ZoneLabel: "Самовывоз"}
	}
	if !setting.IsEnabled {
		return CheckoutResult{Error: "Доставка временно недоступна, воспользуйтесь самовывозом."}
	}
	if strings.TrimSpace(req.Address) == "" {
		return CheckoutResult{Error: "Укажите адрес доставки."}
	}
	if setting.MinDeliveryOrderTotalRub.IsPositive() && req.CartTotal.LessThan(setting.MinDeliveryOrderTotalRub) {
		return CheckoutResult{Error: fmt.Sprintf("Минимальная сумма заказа для доставки: %s ₽.", utils.FormatRub(setting.MinDeliveryOrderTotalRub))}
	}

	q, err := c.Quote(ctx, setting, req.Address, req.CartTotal)
	switch {
	case err == nil:
		return CheckoutResult{Valid: true, Cost: &q.Cost, DistanceKm: &q.DistanceKm, ZoneLabel: q.ZoneLabel}
	case errors.Is(err, ErrAddressNotFound):
		return CheckoutResult{Error: "Адрес не найден. Проверьте написание и укажите город."}
	case errors.Is(err, ErrNoZone):
		return CheckoutResult{Error: "К сожалению, по этому адресу мы не доставляем."}
	default:
		c.logger.Warn("ValidateForCheckout: расчёт доставки не удался", zap.String("address", req.Address), zap.Error(err))
		return CheckoutResult{Error: "Не удалось рассчитать доставку. Попробуйте позже."}
	}
}
