package payments

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FoodOrders/internal/constants"
	"FoodOrders/internal/orderflow"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(ClientConfig{ShopID: "shop", SecretKey: "secret", Endpoint: srv.URL + "/", Timeout: time.Second}, nil)
}

func TestCreatePayment(t *testing.T) {
	var got PaymentRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "shop", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "key-1", r.Header.Get("Idempotence-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"2c5d-pay","status":"pending","amount":{"value":"1500.00","currency":"RUB"},
			"confirmation":{"type":"redirect","confirmation_url":"https://yoomoney.ru/checkout/2c5d"}}`))
	})

	p, err := client.CreatePayment(context.Background(), orderflow.PaymentLinkRequest{
		OrderID:        42,
		OrderCode:      "A-000042",
		Amount:         decimal.NewFromInt(1500),
		Currency:       constants.DEFAULT_CURRENCY,
		Description:    "Оплата заказа A-000042",
		ReturnURL:      "https://shop.example/orders/42",
		IdempotenceKey: "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "2c5d-pay", p.ID)
	assert.Equal(t, "pending", p.Status)
	assert.Equal(t, "https://yoomoney.ru/checkout/2c5d", p.ConfirmationURL)
	assert.NotEmpty(t, p.Raw)

	assert.Equal(t, Amount{Value: "1500.00", Currency: "RUB"}, got.Amount)
	assert.Equal(t, "42", got.Metadata["order_id"])
	assert.True(t, got.Capture)
	assert.Equal(t, "redirect", got.Confirmation.Type)
	assert.Nil(t, got.Receipt)
}

func TestCreatePaymentErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantAPI bool
	}{
		{name: "api error", status: http.StatusBadRequest, body: `{"type":"error","code":"invalid_request","description":"bad amount"}`, wantAPI: true},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, wantAPI: true},
		{name: "no confirmation url", status: http.StatusOK, body: `{"id":"p1","status":"pending"}`},
		{name: "broken json", status: http.StatusOK, body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.CreatePayment(context.Background(), orderflow.PaymentLinkRequest{OrderID: 1, Amount: decimal.NewFromInt(10), Currency: "RUB"})
			require.Error(t, err)
			var apiErr *APIError
			assert.Equal(t, tt.wantAPI, errors.As(err, &apiErr))
			if tt.wantAPI {
				assert.Equal(t, tt.status, apiErr.StatusCode)
			}
		})
	}
}

func TestCreatePaymentAttachesReceipt(t *testing.T) {
	var got PaymentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"id":"p1","status":"pending","confirmation":{"confirmation_url":"https://pay"}}`))
	}))
	defer srv.Close()
	client := NewClient(ClientConfig{Endpoint: srv.URL, ReceiptEmail: "cashier@shop.example"}, nil)

	_, err := client.CreatePayment(context.Background(), orderflow.PaymentLinkRequest{
		OrderID: 1, Amount: decimal.RequireFromString("99.5"), Currency: "RUB", Description: "Заказ",
	})
	require.NoError(t, err)
	require.NotNil(t, got.Receipt)
	assert.Equal(t, "cashier@shop.example", got.Receipt.Customer.Email)
	require.Len(t, got.Receipt.Items, 1)
	assert.Equal(t, "99.50", got.Receipt.Items[0].Amount.Value)
	assert.Equal(t, 1, got.Receipt.Items[0].VATCode)
}

func TestCreateRefund(t *testing.T) {
	var got RefundCreateRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/refunds", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Idempotence-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"id":"rf-77","payment_id":"tr-1","status":"succeeded","amount":{"value":"400.00","currency":"RUB"}}`))
	})

	refund, err := client.CreateRefund(context.Background(), orderflow.RefundRequest{
		TransactionID: "tr-1",
		Amount:        decimal.NewFromInt(400),
		Currency:      "RUB",
	})
	require.NoError(t, err)
	assert.Equal(t, "rf-77", refund.ID)
	assert.Equal(t, "succeeded", refund.Status)
	assert.True(t, refund.Amount.Equal(decimal.NewFromInt(400)))
	assert.Equal(t, RefundCreateRequest{PaymentID: "tr-1", Amount: Amount{Value: "400.00", Currency: "RUB"}}, got)
}

func TestCreateRefundTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	client := NewClient(ClientConfig{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}, nil)

	_, err := client.CreateRefund(context.Background(), orderflow.RefundRequest{TransactionID: "tr-1", Amount: decimal.NewFromInt(1)})
	assert.Error(t, err)
}

func TestToGatewayEvent(t *testing.T) {
	t.Run("payment", func(t *testing.T) {
		raw := []byte(`{"type":"notification","event":"payment.succeeded","object":{"id":"tr-9","status":"succeeded",
			"amount":{"value":"1500.00","currency":"RUB"},"metadata":{"order_id":"12"}}}`)
		n, err := ParseNotification(raw)
		require.NoError(t, err)
		ev, err := n.ToGatewayEvent(raw)
		require.NoError(t, err)
		assert.Equal(t, constants.EVENT_PAYMENT_SUCCEEDED, ev.Type)
		assert.Equal(t, "tr-9", ev.TransactionID)
		assert.Empty(t, ev.EventID)
		assert.Equal(t, int64(12), ev.OrderID)
		require.NotNil(t, ev.Amount)
		assert.True(t, ev.Amount.Equal(decimal.NewFromInt(1500)))
		assert.Nil(t, ev.RefundAmount)
		assert.Equal(t, raw, ev.Payload)
	})

	t.Run("refund", func(t *testing.T) {
		raw := []byte(`{"event":"refund.succeeded","object":{"id":"rf-1","payment_id":"tr-9","status":"succeeded",
			"amount":{"value":"400.00","currency":"RUB"}}}`)
		n, err := ParseNotification(raw)
		require.NoError(t, err)
		ev, err := n.ToGatewayEvent(raw)
		require.NoError(t, err)
		assert.Equal(t, "tr-9", ev.TransactionID)
		assert.Equal(t, "rf-1", ev.EventID)
		require.NotNil(t, ev.RefundAmount)
		assert.True(t, ev.RefundAmount.Equal(decimal.NewFromInt(400)))
		assert.Zero(t, ev.OrderID)
	})

	t.Run("bad amount", func(t *testing.T) {
		n := YooKassaNotification{Event: "payment.succeeded", Object: PaymentResponse{ID: "x", Amount: Amount{Value: "много"}}}
		_, err := n.ToGatewayEvent(nil)
		assert.Error(t, err)
	})

	t.Run("broken json", func(t *testing.T) {
		_, err := ParseNotification([]byte(`{"event":`))
		assert.Error(t, err)
	})
}

func TestMetadataOrderID(t *testing.T) {
	assert.Equal(t, int64(5), metadataOrderID(map[string]interface{}{"order_id": "5"}))
	assert.Equal(t, int64(5), metadataOrderID(map[string]interface{}{"order_id": float64(5)}))
	assert.Zero(t, metadataOrderID(map[string]interface{}{"order_id": "A-5"}))
	assert.Zero(t, metadataOrderID(map[string]interface{}{"order_id": 5.5}))
	assert.Zero(t, metadataOrderID(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"payment.succeeded"}`)
	mac := Sign("s3cret", body)
	raw, err := hex.DecodeString(mac)
	require.NoError(t, err)

	assert.NoError(t, VerifySignature("s3cret", mac, body))
	assert.NoError(t, VerifySignature("s3cret", "sha256="+mac, body))
	assert.NoError(t, VerifySignature("s3cret", base64.StdEncoding.EncodeToString(raw), body))

	for name, sig := range map[string]string{
		"wrong secret": Sign("other", body),
		"empty":        "",
		"garbage":      "не подпись",
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, VerifySignature("s3cret", sig, body), orderflow.ErrAuthenticationFailed)
		})
	}
	assert.ErrorIs(t, VerifySignature("s3cret", mac, append(body, ' ')), orderflow.ErrAuthenticationFailed)
	assert.ErrorIs(t, VerifySignature("", mac, body), orderflow.ErrAuthenticationFailed)
}
