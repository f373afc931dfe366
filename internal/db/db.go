// Файл: internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// Open открывает пул соединений с PostgreSQL и проверяет его.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL не установлена")
	}

	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DATABASE_URL: %w", err)
	}
	query := parsedURL.Query()
	if query.Get("sslmode") == "" && isLocalHost(parsedURL.Hostname()) {
		query.Set("sslmode", "disable")
	}
	parsedURL.RawQuery = query.Encode()

	conn, err := sql.Open("postgres", parsedURL.String())
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	conn.SetMaxOpenConns(50)
	conn.SetMaxIdleConns(20)
	conn.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка проверки соединения с базой данных: %w", err)
	}

	logger.Info("Успешное подключение к базе данных", zap.String("host", parsedURL.Hostname()))
	return conn, nil
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

const createTablesSQL = `
        CREATE TABLE IF NOT EXISTS orders (
            id BIGSERIAL PRIMARY KEY,
            code TEXT NOT NULL DEFAULT '',
            customer_chat_id BIGINT NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'new',
            payment_status TEXT NOT NULL DEFAULT 'pending',
            total_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
            delivery_cost NUMERIC(12,2) NOT NULL DEFAULT 0,
            delivery_method TEXT NOT NULL DEFAULT 'courier',
            delivery_address TEXT NOT NULL DEFAULT '',
            delivery_distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
            delivery_zone_label TEXT NOT NULL DEFAULT '',
            is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS payments (
            id BIGSERIAL PRIMARY KEY,
            order_id BIGINT NOT NULL UNIQUE REFERENCES orders(id),
            status TEXT NOT NULL DEFAULT 'pending',
            amount NUMERIC(12,2) NOT NULL DEFAULT 0,
            refunded_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
            transaction_id TEXT UNIQUE,
            confirmation_url TEXT NOT NULL DEFAULT '',
            provider_response JSONB,
            paid_at TIMESTAMP WITH TIME ZONE NULL,
            refunded_at TIMESTAMP WITH TIME ZONE NULL,
            created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
            CHECK (refunded_amount >= 0 AND refunded_amount <= amount)
        );
        CREATE TABLE IF NOT EXISTS order_status_history (
            id BIGSERIAL PRIMARY KEY,
            order_id BIGINT NOT NULL REFERENCES orders(id),
            previous_status TEXT NOT NULL,
            new_status TEXT NOT NULL,
            actor TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS processed_gateway_events (
            transaction_id TEXT NOT NULL,
            event_type TEXT NOT NULL,
            event_id TEXT NOT NULL DEFAULT '',
            processed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
            PRIMARY KEY (transaction_id, event_type, event_id)
        );
        CREATE TABLE IF NOT EXISTS order_notifications (
            id BIGSERIAL PRIMARY KEY,
            order_id BIGINT NOT NULL REFERENCES orders(id),
            recipient_id BIGINT NOT NULL,
            message_ref TEXT NOT NULL DEFAULT '',
            notification_type TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'active',
            expires_at TIMESTAMP WITH TIME ZONE NULL,
            created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
        );
        CREATE TABLE IF NOT EXISTS order_settings (
            id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
            payment_ttl_minutes INTEGER NOT NULL,
            reminder_10min_enabled BOOLEAN NOT NULL,
            reminder_5min_enabled BOOLEAN NOT NULL,
            auto_cancel_enabled BOOLEAN NOT NULL,
            notification_10min_template TEXT NOT NULL,
            notification_5min_template TEXT NOT NULL,
            auto_cancel_template TEXT NOT NULL
        );
        CREATE TABLE IF NOT EXISTS delivery_settings (
            id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
            origin_lat DOUBLE PRECISION NOT NULL,
            origin_lon DOUBLE PRECISION NOT NULL,
            delivery_zones JSONB NOT NULL DEFAULT '[]',
            free_delivery_threshold NUMERIC(12,2) NOT NULL DEFAULT 0,
            min_delivery_order_total_rub NUMERIC(12,2) NOT NULL DEFAULT 0,
            is_enabled BOOLEAN NOT NULL DEFAULT TRUE
        );
    `

const createIndexesSQL = `
        CREATE INDEX IF NOT EXISTS idx_orders_unpaid ON orders(payment_status, status) WHERE is_deleted = FALSE;
        CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);
        CREATE INDEX IF NOT EXISTS idx_order_status_history_order_id ON order_status_history(order_id);
        CREATE INDEX IF NOT EXISTS idx_order_notifications_order_type ON order_notifications(order_id, notification_type);
        CREATE UNIQUE INDEX IF NOT EXISTS uniq_order_notifications_active ON order_notifications(order_id, notification_type) WHERE status = 'active';
    `

// migration - идемпотентное изменение схемы поверх созданных таблиц.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "payments.confirmation_url",
		sql:  `ALTER TABLE payments ADD COLUMN IF NOT EXISTS confirmation_url TEXT NOT NULL DEFAULT '';`,
	},
	{
		name: "orders.delivery_zone",
		sql: `ALTER TABLE orders
                  ADD COLUMN IF NOT EXISTS delivery_distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
                  ADD COLUMN IF NOT EXISTS delivery_zone_label TEXT NOT NULL DEFAULT '';`,
	},
}

// Migrate создаёт таблицы, применяет миграции и создаёт индексы.
func Migrate(ctx context.Context, conn *sql.DB, logger *zap.Logger) (err error) {
	// Шаг 1: таблицы в одной транзакции
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции для создания таблиц: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, createTablesSQL); err != nil {
		return fmt.Errorf("ошибка создания таблиц: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции создания таблиц: %w", err)
	}
	logger.Info("Создание таблиц (если не существуют) завершено")

	// Шаг 2: миграции
	for _, m := range migrations {
		if _, err = conn.ExecContext(ctx, m.sql); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				logger.Info("Миграция пропущена: объект уже существует", zap.String("migration", m.name), zap.Error(err))
				err = nil
				continue
			}
			return fmt.Errorf("ошибка миграции схемы ('%s'): %w", m.name, err)
		}
		logger.Debug("Миграция применена", zap.String("migration", m.name))
	}

	// Шаг 3: индексы по одному, чтобы ошибка одного не мешала остальным.
	// Кроме уникального индекса активных уведомлений: без него журнал не работает.
	for _, stmt := range splitStatements(createIndexesSQL) {
		if _, errIdx := conn.ExecContext(ctx, stmt); errIdx != nil {
			if strings.Contains(stmt, "uniq_order_notifications_active") {
				return fmt.Errorf("ошибка создания индекса '%s': %w", stmt, errIdx)
			}
			logger.Warn("Ошибка при создании индекса", zap.String("statement", stmt), zap.Error(errIdx))
		}
	}

	logger.Info("Инициализация базы данных успешно завершена")
	return nil
}

// splitStatements разбивает SQL-скрипт на отдельные непустые команды.
func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
