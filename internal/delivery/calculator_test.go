package delivery

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/models"
)

type stubGeocoder struct {
	point Point
	err   error
	calls int
}

func (s *stubGeocoder) Geocode(_ context.Context, _ string) (Point, error) {
	s.calls++
	return s.point, s.err
}

// pointNorthKm - точка строго к северу от (0, 0) на заданном расстоянии.
func pointNorthKm(km float64) Point {
	return Point{Lat: km / (earthRadiusKm * math.Pi / 180), Lon: 0}
}

func km(v float64) *float64 { return &v }

func testSetting() models.DeliverySetting {
	s := models.DefaultDeliverySetting()
	s.OriginLat, s.OriginLon = 0, 0
	return s
}

func TestQuoteScenarioFiveKm(t *testing.T) {
	geo := &stubGeocoder{point: pointNorthKm(5)}
	calc := NewCalculator(geo, 0, nil)

	q, err := calc.Quote(context.Background(), testSetting(), "ул. Ленина, 5", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.InDelta(t, 5.0, q.DistanceKm, 0.001)
	assert.True(t, q.Cost.Equal(decimal.NewFromInt(500)), q.Cost.String())
	assert.Equal(t, "до 7 км", q.ZoneLabel)
}

func TestResolveZoneBoundaries(t *testing.T) {
	zones := models.DefaultDeliverySetting().Zones
	tests := []struct {
		distance float64
		cost     int64
		label    string
	}{
		{0, 300, "до 3 км"},
		{3, 300, "до 3 км"},
		{3.01, 500, "до 7 км"},
		{12, 800, "до 12 км"},
		{12.5, 1000, "свыше 12 км"},
		{400, 1000, "свыше 12 км"},
	}
	for _, tt := range tests {
		z, err := ResolveZone(zones, tt.distance)
		require.NoError(t, err)
		assert.True(t, z.Cost.Equal(decimal.NewFromInt(tt.cost)), "%.2f км: %s", tt.distance, z.Cost)
		assert.Equal(t, tt.label, z.Label)
	}
}

func TestResolveZoneIndependentOfStorageOrder(t *testing.T) {
	zones := models.DeliveryZones{
		{MaxDistance: km(3), Cost: decimal.NewFromInt(300)},
		{MaxDistance: km(7), Cost: decimal.NewFromInt(500), Label: "центр"},
		{MaxDistance: km(7), Cost: decimal.NewFromInt(450), Label: "акция"},
		{MaxDistance: km(12), Cost: decimal.NewFromInt(800)},
		{MaxDistance: nil, Cost: decimal.NewFromInt(1000)},
	}
	rng := rand.New(rand.NewSource(42))

	for _, distance := range []float64{0.5, 3, 5, 7, 9.99, 12, 30} {
		want, err := ResolveZone(zones, distance)
		require.NoError(t, err)
		for i := 0; i < 50; i++ {
			shuffled := append(models.DeliveryZones(nil), zones...)
			rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

			got, err := ResolveZone(shuffled, distance)
			require.NoError(t, err)
			assert.True(t, want.Cost.Equal(got.Cost))
			assert.Equal(t, want.Label, got.Label)
		}
	}

	// При одинаковой границе выигрывает более дешёвая зона.
	z, err := ResolveZone(zones, 5)
	require.NoError(t, err)
	assert.Equal(t, "акция", z.Label)
}

func TestSortZonesDoesNotMutateInput(t *testing.T) {
	zones := models.DeliveryZones{
		{MaxDistance: nil, Cost: decimal.NewFromInt(1000)},
		{MaxDistance: km(3), Cost: decimal.NewFromInt(300)},
	}
	sorted := SortZones(zones)
	assert.Nil(t, zones[0].MaxDistance)
	assert.NotNil(t, sorted[0].MaxDistance)
	assert.Nil(t, sorted[1].MaxDistance)
}

func TestResolveZoneWithoutCatchAll(t *testing.T) {
	zones := models.DeliveryZones{{MaxDistance: km(3), Cost: decimal.NewFromInt(300)}}
	_, err := ResolveZone(zones, 4)
	assert.ErrorIs(t, err, ErrNoZone)
}

func TestFreeDeliveryThreshold(t *testing.T) {
	setting := testSetting()
	setting.FreeDeliveryThreshold = decimal.NewFromInt(3000)

	for _, distance := range []float64{1, 5, 10, 50} {
		q, err := QuoteForPoint(setting, pointNorthKm(distance), decimal.NewFromInt(3000))
		require.NoError(t, err)
		assert.True(t, q.Cost.IsZero(), "%.0f км", distance)
		assert.True(t, q.FreeDelivery)
		assert.NotEmpty(t, q.ZoneLabel)
	}

	q, err := QuoteForPoint(setting, pointNorthKm(5), decimal.NewFromInt(2999))
	require.NoError(t, err)
	assert.True(t, q.Cost.Equal(decimal.NewFromInt(500)))

	// Нулевой порог бесплатную доставку не включает.
	setting.FreeDeliveryThreshold = decimal.Zero
	q, err = QuoteForPoint(setting, pointNorthKm(5), decimal.Zero)
	require.NoError(t, err)
	assert.False(t, q.Cost.IsZero())
}

func TestValidateForCheckout(t *testing.T) {
	ctx := context.Background()
	setting := testSetting()
	setting.MinDeliveryOrderTotalRub = decimal.NewFromInt(1500)

	t.Run("pickup bypasses geocoding and minimum", func(t *testing.T) {
		geo := &stubGeocoder{err: ErrProviderUnavailable}
		res := NewCalculator(geo, 0, nil).ValidateForCheckout(ctx, setting, CheckoutRequest{
			Method: constants.DELIVERY_METHOD_PICKUP, CartTotal: decimal.NewFromInt(100),
		})
		assert.True(t, res.Valid)
		require.NotNil(t, res.Cost)
		assert.True(t, res.Cost.IsZero())
		assert.Zero(t, geo.calls)
	})

	t.Run("below minimum", func(t *testing.T) {
		geo := &stubGeocoder{point: pointNorthKm(2)}
		res := NewCalculator(geo, 0, nil).ValidateForCheckout(ctx, setting, CheckoutRequest{
			Method: constants.DELIVERY_METHOD_COURIER, Address: "Арбат 1", CartTotal: decimal.NewFromInt(1499),
		})
		assert.False(t, res.Valid)
		assert.Contains(t, res.Error, "1 500")
	})

	t.Run("valid courier", func(t *testing.T) {
		geo := &stubGeocoder{point: pointNorthKm(2)}
		res := NewCalculator(geo, 0, nil).ValidateForCheckout(ctx, setting, CheckoutRequest{
			Address: "Арбат 1", CartTotal: decimal.NewFromInt(1500),
		})
		require.True(t, res.Valid, res.Error)
		assert.True(t, res.Cost.Equal(decimal.NewFromInt(300)))
		assert.InDelta(t, 2.0, *res.DistanceKm, 0.001)
	})

	t.Run("address not found", func(t *testing.T) {
		geo := &stubGeocoder{err: ErrAddressNotFound}
		res := NewCalculator(geo, 0, nil).ValidateForCheckout(ctx, setting, CheckoutRequest{
			Address: "нигде", CartTotal: decimal.NewFromInt(2000),
		})
		assert.False(t, res.Valid)
		assert.Contains(t, res.Error, "Адрес не найден")
	})

	t.Run("provider down", func(t *testing.T) {
		geo := &stubGeocoder{err: errors.New("connection refused")}
		res := NewCalculator(geo, 0, nil).ValidateForCheckout(ctx, setting, CheckoutRequest{
			Address: "Арбат 1", CartTotal: decimal.NewFromInt(2000),
		})
		assert.False(t, res.Valid)
		assert.NotEmpty(t, res.Error)
	})

	t.Run("delivery disabled", func(t *testing.T) {
		disabled := setting
		disabled.IsEnabled = false
		geo := &stubGeocoder{point: pointNorthKm(2)}
		res := NewCalculator(geo, 0, nil).ValidateForCheckout(ctx, disabled, CheckoutRequest{
			Address: "Арбат 1", CartTotal: decimal.NewFromInt(2000),
		})
		assert.False(t, res.Valid)
		assert.Zero(t, geo.calls)
	})
}

func TestGeocodeWrapsUnknownErrors(t *testing.T) {
	calc := NewCalculator(&stubGeocoder{err: errors.New("boom")}, 0, nil)
	_, err := calc.Geocode(context.Background(), "Арбат 1")
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	_, err = calc.Geocode(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrAddressNotFound)
}

func TestDistanceKm(t *testing.T) {
	moscow := Point{Lat: 55.751244, Lon: 37.618423}
	spb := Point{Lat: 59.938784, Lon: 30.314997}
	assert.InDelta(t, 634, DistanceKm(moscow, spb), 5)
	assert.Zero(t, DistanceKm(moscow, moscow))
}
