package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/delivery"
	"FoodOrders/internal/memstore"
	"FoodOrders/internal/models"
	"FoodOrders/internal/orderflow"
	"FoodOrders/internal/payments"
)

const (
	testSecret     = "s3cret"
	testAdminToken = "adm-token"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type stubGeocoder struct {
	point delivery.Point
	err   error
}

func (s stubGeocoder) Geocode(context.Context, string) (delivery.Point, error) {
	return s.point, s.err
}

type fakeGateway struct {
	mu        sync.Mutex
	created   int
	refunds   []decimal.Decimal
	refundErr error
}

func (g *fakeGateway) CreatePayment(_ context.Context, req orderflow.PaymentLinkRequest) (orderflow.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created++
	return orderflow.GatewayPayment{
		ID:              fmt.Sprintf("tr-%d", req.OrderID),
		Status:          constants.PAYMENT_STATUS_PENDING,
		ConfirmationURL: fmt.Sprintf("https://pay.example/%d", req.OrderID),
	}, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, req orderflow.RefundRequest) (orderflow.GatewayRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return orderflow.GatewayRefund{}, g.refundErr
	}
	g.refunds = append(g.refunds, req.Amount)
	return orderflow.GatewayRefund{
		ID:     fmt.Sprintf("rf-%d", len(g.refunds)),
		Status: constants.PAYMENT_STATUS_SUCCEEDED,
		Amount: req.Amount,
	}, nil
}

type testServer struct {
	store   *memstore.Store
	gateway *fakeGateway
	router  http.Handler
}

func newTestServer(t *testing.T, geo delivery.Geocoder) *testServer {
	t.Helper()
	return newTestServerWithSecret(t, geo, testSecret)
}

func newTestServerWithSecret(t *testing.T, geo delivery.Geocoder, secret string) *testServer {
	t.Helper()
	clock := func() time.Time { return testNow }
	store := memstore.New(clock)
	machine := orderflow.NewStateMachine(store, nil, clock, nil)
	gw := &fakeGateway{}
	if geo == nil {
		def := models.DefaultDeliverySetting()
		geo = stubGeocoder{point: delivery.Point{Lat: def.OriginLat, Lon: def.OriginLon}}
	}
	router := NewRouter(Dependencies{
		Store:            store,
		Machine:          machine,
		Reconciler:       orderflow.NewReconciler(store, machine, gw, clock, nil),
		Calculator:       delivery.NewCalculator(geo, time.Second, nil),
		WebhookSecret:    secret,
		AdminToken:       testAdminToken,
		PaymentReturnURL: "https://shop.example/thanks",
		Clock:            clock,
	})
	return &testServer{store: store, gateway: gw, router: router}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) admin(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	return s.do(t, http.MethodPost, path, body, map[string]string{AdminTokenHeader: testAdminToken})
}

func (s *testServer) webhook(t *testing.T, body []byte) *httptest.ResponseRecorder {
	return s.do(t, http.MethodPost, "/api/payments/webhook", body, map[string]string{
		DefaultSignatureHeader: payments.Sign(testSecret, body),
	})
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func (s *testServer) createOrder(t *testing.T, total string, linked bool) orderflow.OrderView {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/orders", map[string]interface{}{
		"customer_chat_id":   555,
		"total_amount":       total,
		"delivery_method":    constants.DELIVERY_METHOD_COURIER,
		"delivery_address":   "Москва, Тверская 1",
		"issue_payment_link": linked,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view orderflow.OrderView
	decodeEnvelope(t, rec, &view)
	return view
}

func paymentEvent(event, txID string, orderID int64) []byte {
	return []byte(fmt.Sprintf(`{"type":"notification","event":%q,"object":{"id":%q,"status":"succeeded",
		"amount":{"value":"1500.00","currency":"RUB"},"metadata":{"order_id":"%d"}}}`, event, txID, orderID))
}

func TestCreateAndGetOrder(t *testing.T) {
	s := newTestServer(t, nil)
	view := s.createOrder(t, "1200", false)

	assert.Equal(t, "A-000001", view.Code)
	assert.Equal(t, constants.STATUS_NEW, view.Status)
	assert.Equal(t, constants.PAYMENT_STATUS_PENDING, view.PaymentStatus)
	assert.True(t, view.TotalAmount.Equal(decimal.NewFromInt(1200)))
	assert.True(t, view.DeliveryCost.Equal(decimal.NewFromInt(300)))

	payment, err := s.store.GetPaymentByOrderID(context.Background(), view.ID)
	require.NoError(t, err)
	assert.True(t, payment.Amount.Equal(decimal.NewFromInt(1500)), payment.Amount.String())

	rec := s.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%d", view.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var details OrderDetails
	decodeEnvelope(t, rec, &details)
	assert.Equal(t, view.ID, details.Order.ID)
	assert.Empty(t, details.History)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/orders/999", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/orders/abc", nil, nil).Code)
}

func TestCreateOrderValidation(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("pickup has no delivery cost", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/orders", map[string]interface{}{
			"total_amount": 700, "delivery_method": constants.DELIVERY_METHOD_PICKUP,
		}, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var view orderflow.OrderView
		decodeEnvelope(t, rec, &view)
		assert.True(t, view.DeliveryCost.IsZero())
	})

	t.Run("courier needs address", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/orders", map[string]interface{}{"total_amount": 700}, nil)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		env := decodeEnvelope(t, rec, nil)
		assert.Equal(t, "Укажите адрес доставки.", env.Message)
	})

	t.Run("non positive total", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/orders", map[string]interface{}{"total_amount": 0}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown method", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/orders", map[string]interface{}{"total_amount": 10, "delivery_method": "drone"}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("broken json", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/orders", []byte(`{"total_amount":`), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDeliveryQuote(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/delivery/quote", map[string]interface{}{"address": "Тверская 1", "cartTotal": "900"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result delivery.CheckoutResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Valid)
	require.NotNil(t, result.Cost)
	assert.True(t, result.Cost.Equal(decimal.NewFromInt(300)))

	unavailable := newTestServer(t, stubGeocoder{err: errors.New("connection refused")})
	rec = unavailable.do(t, http.MethodPost, "/api/delivery/quote", map[string]interface{}{"address": "Тверская 1", "cartTotal": 900}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result = delivery.CheckoutResult{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Error)

	notFound := newTestServer(t, stubGeocoder{err: delivery.ErrAddressNotFound})
	rec = notFound.do(t, http.MethodPost, "/api/delivery/quote", map[string]interface{}{"address": "нигде", "cartTotal": 900}, nil)
	result = delivery.CheckoutResult{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Адрес не найден. Проверьте написание и укажите город.", result.Error)
}

func TestPaymentWebhookFlow(t *testing.T) {
	s := newTestServer(t, nil)
	view := s.createOrder(t, "1200", true)
	assert.Equal(t, "https://pay.example/1", view.ConfirmationURL)

	body := paymentEvent(constants.EVENT_PAYMENT_SUCCEEDED, "tr-1", view.ID)
	rec := s.webhook(t, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out map[string]string
	decodeEnvelope(t, rec, &out)
	assert.Equal(t, string(orderflow.OutcomeApplied), out["outcome"])

	order, err := s.store.GetOrder(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.STATUS_ACCEPTED, order.Status)
	assert.Equal(t, constants.PAYMENT_STATUS_SUCCEEDED, order.PaymentStatus)

	rec = s.webhook(t, body)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeEnvelope(t, rec, &out)
	assert.Equal(t, string(orderflow.OutcomeDuplicate), out["outcome"])

	rec = s.webhook(t, paymentEvent(constants.EVENT_PAYMENT_SUCCEEDED, "tr-unknown", 0))
	require.Equal(t, http.StatusOK, rec.Code)
	decodeEnvelope(t, rec, &out)
	assert.Equal(t, string(orderflow.OutcomeIgnored), out["outcome"])
}

func TestPaymentWebhookRejects(t *testing.T) {
	s := newTestServer(t, nil)
	body := paymentEvent(constants.EVENT_PAYMENT_SUCCEEDED, "tr-1", 1)

	rec := s.do(t, http.MethodPost, "/api/payments/webhook", body, map[string]string{DefaultSignatureHeader: payments.Sign("wrong", body)})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/payments/webhook", body, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, http.StatusBadRequest, s.webhook(t, []byte(`{"event":`)).Code)
	assert.Equal(t, http.StatusBadRequest, s.webhook(t, []byte(`{"event":"payment.succeeded","object":{}}`)).Code)
	assert.Zero(t, s.store.ProcessedEvents())
}

func TestPaymentWebhookWithoutSecret(t *testing.T) {
	s := newTestServerWithSecret(t, nil, "")
	view := s.createOrder(t, "1200", true)
	body := paymentEvent(constants.EVENT_PAYMENT_SUCCEEDED, "tr-1", view.ID)

	// Подпись нечем проверить, такой запрос не применяется.
	rec := s.do(t, http.MethodPost, "/api/payments/webhook", body, map[string]string{DefaultSignatureHeader: payments.Sign("any", body)})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, s.store.ProcessedEvents())

	rec = s.do(t, http.MethodPost, "/api/payments/webhook", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order, err := s.store.GetOrder(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.PAYMENT_STATUS_SUCCEEDED, order.PaymentStatus)
}

func TestRefundWebhookBeforePaymentIsRetried(t *testing.T) {
	s := newTestServer(t, nil)
	view := s.createOrder(t, "1200", true)
	refundBody := []byte(`{"event":"refund.succeeded","object":{"id":"rf-1","payment_id":"tr-1","status":"succeeded",
		"amount":{"value":"400.00","currency":"RUB"}}}`)

	assert.Equal(t, http.StatusServiceUnavailable, s.webhook(t, refundBody).Code)
	assert.Zero(t, s.store.ProcessedEvents())

	require.Equal(t, http.StatusOK, s.webhook(t, paymentEvent(constants.EVENT_PAYMENT_SUCCEEDED, "tr-1", view.ID)).Code)
	rec := s.webhook(t, refundBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out map[string]string
	decodeEnvelope(t, rec, &out)
	assert.Equal(t, string(orderflow.OutcomeApplied), out["outcome"])

	payment, err := s.store.GetPaymentByOrderID(context.Background(), view.ID)
	require.NoError(t, err)
	assert.True(t, payment.RefundedAmount.Equal(decimal.NewFromInt(400)), payment.RefundedAmount.String())
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, nil)
	view := s.createOrder(t, "1000", false)
	path := fmt.Sprintf("/api/admin/orders/%d/status", view.ID)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, path, map[string]string{"status": "preparing"}, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, path, map[string]string{"status": "preparing"},
		map[string]string{AdminTokenHeader: "nope"}).Code)
}

func TestAdminChangeStatus(t *testing.T) {
	s := newTestServer(t, nil)
	view := s.createOrder(t, "1000", false)
	path := fmt.Sprintf("/api/admin/orders/%d/status", view.ID)

	rec := s.admin(t, path, map[string]string{"status": constants.STATUS_PREPARING, "actor": "@boss"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	history, err := s.store.ListStatusHistory(context.Background(), view.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "@boss", history[0].Actor)
	assert.Equal(t, constants.ROLE_ADMIN, history[0].Role)

	require.Equal(t, http.StatusOK, s.admin(t, path, map[string]string{"status": constants.STATUS_DELIVERED}).Code)
	assert.Equal(t, http.StatusConflict, s.admin(t, path, map[string]string{"status": constants.STATUS_PREPARING}).Code)
	assert.Equal(t, http.StatusBadRequest, s.admin(t, path, map[string]string{}).Code)
	assert.Equal(t, http.StatusNotFound, s.admin(t, "/api/admin/orders/404/status", map[string]string{"status": constants.STATUS_PREPARING}).Code)
}

func TestAdminRefund(t *testing.T) {
	s := newTestServer(t, nil)
	view := s.createOrder(t, "1200", true)
	path := fmt.Sprintf("/api/admin/orders/%d/refund", view.ID)

	assert.Equal(t, http.StatusConflict, s.admin(t, path, map[string]string{"amount": "100"}).Code)

	require.Equal(t, http.StatusOK, s.webhook(t, paymentEvent(constants.EVENT_PAYMENT_SUCCEEDED, "tr-1", view.ID)).Code)

	assert.Equal(t, http.StatusUnprocessableEntity, s.admin(t, path, map[string]string{"amount": "5000"}).Code)

	rec := s.admin(t, path, map[string]string{"amount": "500"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var after orderflow.OrderView
	decodeEnvelope(t, rec, &after)
	assert.Equal(t, constants.PAYMENT_STATUS_PARTIALLY_REFUNDED, after.PaymentStatus)
	assert.True(t, after.RefundedAmount.Equal(decimal.NewFromInt(500)))
	assert.True(t, after.RefundableAmount.Equal(decimal.NewFromInt(1000)))

	// Вебхук о том же возврате уже учтён.
	refundBody := []byte(`{"event":"refund.succeeded","object":{"id":"rf-1","payment_id":"tr-1","status":"succeeded",
		"amount":{"value":"500.00","currency":"RUB"}}}`)
	rec = s.webhook(t, refundBody)
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]string
	decodeEnvelope(t, rec, &out)
	assert.Equal(t, string(orderflow.OutcomeDuplicate), out["outcome"])

	rec = s.admin(t, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeEnvelope(t, rec, &after)
	assert.Equal(t, constants.PAYMENT_STATUS_REFUNDED, after.PaymentStatus)
	assert.True(t, after.RefundableAmount.IsZero())

	assert.Equal(t, http.StatusConflict, s.admin(t, path, nil).Code)
}

func TestAdminRefundGatewayFailure(t *testing.T) {
	s := newTestServer(t, nil)
	view := s.createOrder(t, "1200", true)
	require.Equal(t, http.StatusOK, s.webhook(t, paymentEvent(constants.EVENT_PAYMENT_SUCCEEDED, "tr-1", view.ID)).Code)

	s.gateway.refundErr = errors.New("timeout")
	rec := s.admin(t, fmt.Sprintf("/api/admin/orders/%d/refund", view.ID), nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	payment, err := s.store.GetPaymentByOrderID(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.PAYMENT_STATUS_SUCCEEDED, payment.Status)
	assert.True(t, payment.RefundedAmount.IsZero())
}

func TestIssuePaymentLinkReusesLink(t *testing.T) {
	s := newTestServer(t, nil)
	view := s.createOrder(t, "1000", false)
	path := fmt.Sprintf("/api/orders/%d/payment-link", view.ID)

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, path, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out map[string]string
		decodeEnvelope(t, rec, &out)
		assert.Equal(t, "https://pay.example/1", out["confirmation_url"])
	}
	assert.Equal(t, 1, s.gateway.created)
}

func TestExportPayments(t *testing.T) {
	s := newTestServer(t, nil)
	s.createOrder(t, "1000", false)
	s.createOrder(t, "2000", false)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/payments/export?from=2026-03-01&to=2026-03-01", nil)
	req.Header.Set(AdminTokenHeader, testAdminToken)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "payments_2026-03-01_2026-03-01.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(reportSheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, reportHeaders[0], rows[0][0])
	assert.Equal(t, "A-000001", rows[1][1])

	req = httptest.NewRequest(http.MethodGet, "/api/admin/payments/export?from=2026-02-01&to=2026-02-28", nil)
	req.Header.Set(AdminTokenHeader, testAdminToken)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	f2, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f2.Close()
	rows, err = f2.GetRows(reportSheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestReportPeriod(t *testing.T) {
	now := time.Date(2026, 3, 5, 18, 30, 0, 0, time.UTC)
	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	tests := []struct {
		query    string
		from, to time.Time
		wantErr  bool
	}{
		{query: "", from: day(5), to: day(6)},
		{query: "from=2026-03-01", from: day(1), to: day(2)},
		{query: "from=2026-03-01&to=2026-03-03", from: day(1), to: day(4)},
		{query: "from=01.03.2026", wantErr: true},
		{query: "from=2026-03-03&to=2026-03-01", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/export?"+tt.query, nil)
			from, to, err := reportPeriod(r, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.from, from)
			assert.Equal(t, tt.to, to)
		})
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", orderflow.ErrInvalidTransition), http.StatusConflict},
		{fmt.Errorf("%w: x", orderflow.ErrInvalidState), http.StatusConflict},
		{fmt.Errorf("%w: x", orderflow.ErrAmountExceeded), http.StatusUnprocessableEntity},
		{orderflow.ErrAuthenticationFailed, http.StatusForbidden},
		{orderflow.ErrOrderNotFound, http.StatusNotFound},
		{orderflow.ErrPaymentNotFound, http.StatusNotFound},
		{orderflow.ErrGatewayUnavailable, http.StatusBadGateway},
		{fmt.Errorf("%w: x", orderflow.ErrEventOutOfOrder), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, msg := errorStatus(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
		assert.NotEmpty(t, msg)
	}
}
