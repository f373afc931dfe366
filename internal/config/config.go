// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"FoodOrders/internal/constants"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	TelegramToken   string
	TelegramTimeout time.Duration
	DatabaseURL     string
	DBHost          string
	DBName          string
	Storage         string
	Port            string
	AppEnv          string
	LogLevel        string

	AdminChatID   int64
	KitchenChatID int64
	CourierChatID int64

	YooKassaShopID       string
	YooKassaSecretKey    string
	YooKassaEndpoint     string
	YooKassaReceiptEmail string

	WebhookSecret          string
	WebhookSignatureHeader string

	YandexGeocoderAPIKey string
	GeocoderTimeout      time.Duration

	SchedulerInterval    time.Duration
	SchedulerConcurrency int

	AdminAPIToken    string
	PaymentReturnURL string

	// Warnings - замечания по конфигурации. Логгер ещё не создан, поэтому их печатает main.
	Warnings []string
}

// PaymentsEnabled - заданы ли учётные данные YooKassa.
func (c *Config) PaymentsEnabled() bool {
	return c.YooKassaShopID != "" && c.YooKassaSecretKey != ""
}

func (c *Config) warnf(format string, args ...interface{}) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// LoadConfig загружает конфигурацию из переменных окружения.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		TelegramToken:          os.Getenv("TELEGRAM_APITOKEN"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		Storage:                strings.ToLower(strings.TrimSpace(os.Getenv("STORAGE"))),
		Port:                   os.Getenv("PORT"),
		AppEnv:                 os.Getenv("ENV"),
		LogLevel:               os.Getenv("LOG_LEVEL"),
		YooKassaShopID:         os.Getenv("YOOKASSA_SHOP_ID"),
		YooKassaSecretKey:      os.Getenv("YOOKASSA_SECRET_KEY"),
		YooKassaEndpoint:       os.Getenv("YOOKASSA_API_URL"),
		YooKassaReceiptEmail:   os.Getenv("YOOKASSA_RECEIPT_EMAIL"),
		WebhookSecret:          os.Getenv("WEBHOOK_SECRET"),
		WebhookSignatureHeader: os.Getenv("WEBHOOK_SIGNATURE_HEADER"),
		YandexGeocoderAPIKey:   os.Getenv("YANDEX_GEOCODER_API_KEY"),
		AdminAPIToken:          os.Getenv("ADMIN_API_TOKEN"),
		PaymentReturnURL:       os.Getenv("PAYMENT_RETURN_URL"),
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "production"
	}

	switch cfg.Storage {
	case "":
		cfg.Storage = StoragePostgres
	case StoragePostgres, StorageMemory:
	default:
		return nil, fmt.Errorf("неизвестное значение STORAGE %q, ожидается postgres или memory", cfg.Storage)
	}

	if cfg.Storage == StoragePostgres {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL не установлен")
		}
		parsedURL, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("ошибка парсинга DATABASE_URL: %w", err)
		}
		cfg.DBHost = parsedURL.Hostname()
		cfg.DBName = strings.TrimPrefix(parsedURL.Path, "/")
	}

	cfg.AdminChatID = cfg.chatID("ADMIN_CHAT_ID")
	cfg.KitchenChatID = cfg.chatID("KITCHEN_CHAT_ID")
	cfg.CourierChatID = cfg.chatID("COURIER_CHAT_ID")

	cfg.GeocoderTimeout = cfg.duration("GEOCODER_TIMEOUT", constants.DEFAULT_GEOCODER_TIMEOUT)
	cfg.TelegramTimeout = cfg.duration("TELEGRAM_TIMEOUT", constants.DEFAULT_TELEGRAM_TIMEOUT)
	cfg.SchedulerInterval = cfg.duration("SCHEDULER_INTERVAL", constants.DEFAULT_SCHEDULER_INTERVAL)
	cfg.SchedulerConcurrency = cfg.positiveInt("SCHEDULER_CONCURRENCY", constants.DEFAULT_SCHEDULER_CONCURRENCY)

	if cfg.TelegramToken == "" {
		cfg.warnf("TELEGRAM_APITOKEN не установлен. Уведомления в Telegram отправляться не будут.")
	}
	if !cfg.PaymentsEnabled() {
		cfg.warnf("YOOKASSA_SHOP_ID или YOOKASSA_SECRET_KEY не установлен. Ссылки на оплату и возвраты не будут работать.")
	}
	if cfg.WebhookSecret == "" {
		cfg.warnf("WEBHOOK_SECRET не установлен. Подпись вебхуков платежей проверяться не будет.")
	}
	if cfg.YandexGeocoderAPIKey == "" {
		cfg.warnf("YANDEX_GEOCODER_API_KEY не установлен. Расчёт доставки по адресу не будет работать.")
	}
	if cfg.AdminAPIToken == "" {
		cfg.warnf("ADMIN_API_TOKEN не установлен. Админские маршруты API открыты.")
	}
	return cfg, nil
}

func (c *Config) chatID(key string) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		c.warnf("%s не установлен. Сообщения в этот чат отправляться не будут.", key)
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.warnf("не удалось прочитать %s: %v. Установлено в 0.", key, err)
		return 0
	}
	return id
}

func (c *Config) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		c.warnf("некорректное значение %s ('%s'). Используется значение по умолчанию %s.", key, raw, def)
		return def
	}
	return d
}

func (c *Config) positiveInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		c.warnf("некорректное значение %s ('%s'). Используется значение по умолчанию %d.", key, raw, def)
		return def
	}
	return v
}
