package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"FoodOrders/internal/api"
	"FoodOrders/internal/config"
	"FoodOrders/internal/db"
	"FoodOrders/internal/delivery"
	"FoodOrders/internal/memstore"
	"FoodOrders/internal/orderflow"
	"FoodOrders/internal/payments"
	"FoodOrders/internal/scheduler"
	"FoodOrders/internal/telegram_api"
	"FoodOrders/internal/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Предупреждение: не удалось загрузить файл .env. Переменные окружения должны быть установлены иным способом.")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("КРИТИЧЕСКАЯ ОШИБКА: не удалось загрузить конфигурацию: %v", err)
	}

	logger, err := utils.NewLogger(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		log.Fatalf("КРИТИЧЕСКАЯ ОШИБКА: не удалось создать логгер: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn("Конфигурация: " + w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Приложение остановлено с ошибкой", zap.Error(err))
	}
	logger.Info("Приложение остановлено")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	clock := orderflow.Clock(time.Now)

	store, closeStore, err := openStore(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Telegram ---
	var messenger orderflow.Messenger
	var bot *telegram_api.BotClient
	if cfg.TelegramToken != "" {
		bot, err = telegram_api.NewBotClient(cfg.TelegramToken, cfg.AppEnv == "development", cfg.TelegramTimeout, logger)
		if err != nil {
			return err
		}
		messenger = telegram_api.NewMessenger(bot, logger)
	}

	notifierCfg := orderflow.NotifierConfig{
		AdminChatID:   cfg.AdminChatID,
		KitchenChatID: cfg.KitchenChatID,
		CourierChatID: cfg.CourierChatID,
	}
	notifier := orderflow.NewNotifier(messenger, orderflow.NewNotificationLog(clock), notifierCfg, logger)
	machine := orderflow.NewStateMachine(store, notifier, clock, logger)

	// Интерфейс должен остаться nil, если шлюз не настроен.
	var gateway orderflow.Gateway
	if cfg.PaymentsEnabled() {
		gateway = payments.NewClient(payments.ClientConfig{
			ShopID:       cfg.YooKassaShopID,
			SecretKey:    cfg.YooKassaSecretKey,
			Endpoint:     cfg.YooKassaEndpoint,
			ReceiptEmail: cfg.YooKassaReceiptEmail,
		}, logger)
	}
	reconciler := orderflow.NewReconciler(store, machine, gateway, clock, logger)

	geocoder := delivery.NewYandexGeocoder(cfg.YandexGeocoderAPIKey, "", cfg.GeocoderTimeout, logger)
	calculator := delivery.NewCalculator(geocoder, cfg.GeocoderTimeout, logger)

	sched := scheduler.New(store, machine, notifier, clock, scheduler.Config{
		Interval:    cfg.SchedulerInterval,
		Concurrency: cfg.SchedulerConcurrency,
	}, logger)
	go sched.Run(ctx)

	if bot != nil {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		u.AllowedUpdates = []string{"callback_query"}
		callbacks := telegram_api.NewCallbackHandler(bot, machine, notifierCfg, logger)
		go callbacks.Listen(ctx, bot.GetUpdatesChan(u))
		defer bot.StopReceivingUpdates()
	}

	router := api.NewRouter(api.Dependencies{
		Store:            store,
		Machine:          machine,
		Reconciler:       reconciler,
		Calculator:       calculator,
		WebhookSecret:    cfg.WebhookSecret,
		SignatureHeader:  cfg.WebhookSignatureHeader,
		AdminToken:       cfg.AdminAPIToken,
		PaymentReturnURL: cfg.PaymentReturnURL,
		Clock:            clock,
		Logger:           logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Запуск HTTP-сервера", zap.String("port", cfg.Port), zap.String("storage", cfg.Storage))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Получен сигнал остановки")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ошибка при остановке HTTP-сервера", zap.Error(err))
	}
	return nil
}

// openStore выбирает хранилище по STORAGE. Для Postgres применяются миграции.
func openStore(ctx context.Context, cfg *config.Config, clock orderflow.Clock, logger *zap.Logger) (orderflow.Store, func(), error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("Используется хранилище в памяти, данные не сохранятся после перезапуска")
		return memstore.New(clock), func() {}, nil
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx, conn, logger); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	logger.Info("Подключено к базе данных", zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))
	return db.NewStore(conn, clock, logger), func() {
		if err := conn.Close(); err != nil {
			logger.Warn("Ошибка закрытия соединения с БД", zap.Error(err))
		}
	}, nil
}
