package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"FoodOrders/internal/delivery"
	"FoodOrders/internal/models"
	"FoodOrders/internal/orderflow"
)

// Transitioner - ручная смена статуса заказа.
type Transitioner interface {
	RequestTransition(ctx context.Context, orderID int64, target string, actor orderflow.Actor) (models.Order, error)
}

// PaymentProcessor - операции над платежами. Реализуется orderflow.Reconciler.
type PaymentProcessor interface {
	ApplyGatewayEvent(ctx context.Context, ev orderflow.GatewayEvent) (orderflow.Outcome, error)
	RequestRefund(ctx context.Context, orderID int64, amount *decimal.Decimal, actor orderflow.Actor) (models.Payment, error)
	IssuePaymentLink(ctx context.Context, orderID int64, returnURL string) (models.Payment, error)
}

// CheckoutValidator - проверка доставки при оформлении. Реализуется delivery.Calculator.
type CheckoutValidator interface {
	ValidateForCheckout(ctx context.Context, setting models.DeliverySetting, req delivery.CheckoutRequest) delivery.CheckoutResult
}

// Dependencies содержит зависимости для обработчиков API.
type Dependencies struct {
	Store      orderflow.Store
	Machine    Transitioner
	Reconciler PaymentProcessor
	Calculator CheckoutValidator

	// WebhookSecret пуст - подпись вебхука не проверяется.
	WebhookSecret    string
	SignatureHeader  string
	AdminToken       string
	PaymentReturnURL string

	Clock  orderflow.Clock
	Logger *zap.Logger
}

type handler struct {
	deps   Dependencies
	clock  orderflow.Clock
	logger *zap.Logger
}

// DefaultSignatureHeader - заголовок с HMAC-подписью вебхука по умолчанию.
const DefaultSignatureHeader = "X-Webhook-Signature"

// NewRouter настраивает все маршруты API.
func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.SignatureHeader == "" {
		deps.SignatureHeader = DefaultSignatureHeader
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	h := &handler{deps: deps, clock: clock, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", AdminTokenHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/api/payments/webhook", h.PaymentWebhook)
	r.Post("/api/delivery/quote", h.DeliveryQuote)

	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/{id}", h.GetOrder)
		r.Post("/{id}/payment-link", h.IssuePaymentLink)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(AdminTokenMiddleware(deps.AdminToken, deps.Logger))
		r.Post("/orders/{id}/status", h.ChangeOrderStatus)
		r.Post("/orders/{id}/refund", h.RefundOrder)
		r.Get("/payments/export", h.ExportPayments)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}
