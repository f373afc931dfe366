package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// API-адрес Яндекс Геокодера
const yandexGeocoderEndpoint = "https://geocode-maps.yandex.ru/1.x/"

// YandexGeocoder - клиент HTTP API Яндекс Геокодера.
type YandexGeocoder struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewYandexGeocoder создаёт клиент. endpoint == "" означает боевой адрес API.
func NewYandexGeocoder(apiKey, endpoint string, timeout time.Duration, logger *zap.Logger) *YandexGeocoder {
	if endpoint == "" {
		endpoint = yandexGeocoderEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YandexGeocoder{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// yandexResponse - нужная часть ответа геокодера.
type yandexResponse struct {
	Response struct {
		GeoObjectCollection struct {
			FeatureMember []struct {
				GeoObject struct {
					Point struct {
						Pos string `json:"pos"` // "долгота широта"
					} `json:"Point"`
				} `json:"GeoObject"`
			} `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

// Geocode возвращает координаты первого найденного объекта.
func (g *YandexGeocoder) Geocode(ctx context.Context, address string) (Point, error) {
	q := url.Values{}
	q.Set("apikey", g.apiKey)
	q.Set("geocode", address)
	q.Set("format", "json")
	q.Set("results", "1")
	q.Set("lang", "ru_RU")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Point{}, fmt.Errorf("%w: ошибка создания запроса: %v", ErrProviderUnavailable, err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("Geocode: ошибка запроса к геокодеру", zap.String("address", address), zap.Error(err))
		return Point{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Point{}, fmt.Errorf("%w: ошибка чтения ответа: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Warn("Geocode: геокодер вернул ошибку",
			zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return Point{}, fmt.Errorf("%w: статус %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var parsed yandexResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Point{}, fmt.Errorf("%w: ошибка разбора ответа: %v", ErrProviderUnavailable, err)
	}
	members := parsed.Response.GeoObjectCollection.FeatureMember
	if len(members) == 0 {
		return Point{}, fmt.Errorf("%w: %q", ErrAddressNotFound, address)
	}
	p, err := parsePos(members[0].GeoObject.Point.Pos)
	if err != nil {
		return Point{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return p, nil
}

func parsePos(pos string) (Point, error) {
	parts := strings.Fields(pos)
	if len(parts) != 2 {
		return Point{}, errors.New("некорректные координаты: " + pos)
	}
	lon, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Point{}, fmt.Errorf("некорректная долгота %q: %w", parts[0], err)
	}
	lat, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Point{}, fmt.Errorf("некорректная широта %q: %w", parts[1], err)
	}
	return Point{Lat: lat, Lon: lon}, nil
}
