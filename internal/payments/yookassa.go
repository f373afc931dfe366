package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"FoodOrders/internal/orderflow"
)

// API-адрес YooKassa
const DefaultAPIEndpoint = "https://api.yookassa.ru/v3"

// Receipt представляет структуру фискального чека.
type Receipt struct {
	Customer Customer      `json:"customer"`
	Items    []ReceiptItem `json:"items"`
}

// Customer представляет данные о покупателе.
type Customer struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// ReceiptItem представляет товарную позицию в чеке.
type ReceiptItem struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	Amount      Amount `json:"amount"`
	VATCode     int    `json:"vat_code"` // Код ставки НДС. 1 = без НДС.
}

// PaymentRequest - структура запроса на создание платежа.
type PaymentRequest struct {
	Amount       Amount            `json:"amount"`
	Confirmation Confirmation      `json:"confirmation"`
	Description  string            `json:"description"`
	Capture      bool              `json:"capture"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Receipt      *Receipt          `json:"receipt,omitempty"`
}

// RefundCreateRequest - структура запроса на возврат.
type RefundCreateRequest struct {
	PaymentID string `json:"payment_id"`
	Amount    Amount `json:"amount"`
}

// Amount - сумма платежа.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Decimal разбирает значение суммы.
func (a Amount) Decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(a.Value)
}

// Confirmation - способ подтверждения платежа.
type Confirmation struct {
	Type      string `json:"type"`
	ReturnURL string `json:"return_url,omitempty"`
}

// PaymentResponse - объект платежа или возврата в ответах и уведомлениях YooKassa.
// У возврата PaymentID указывает на исходный платёж.
type PaymentResponse struct {
	ID           string                 `json:"id"`
	PaymentID    string                 `json:"payment_id,omitempty"`
	Status       string                 `json:"status"`
	Paid         bool                   `json:"paid"`
	Amount       Amount                 `json:"amount"`
	Confirmation ConfirmationResponse   `json:"confirmation"`
	CreatedAt    time.Time              `json:"created_at"`
	Description  string                 `json:"description"`
	Metadata     map[string]interface{} `json:"metadata"`
	Test         bool                   `json:"test"`
}

// ConfirmationResponse - содержит URL для подтверждения платежа пользователем.
type ConfirmationResponse struct {
	Type            string `json:"type"`
	ConfirmationURL string `json:"confirmation_url"`
}

// APIError - ответ YooKassa с кодом не 2xx.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ошибка API YooKassa, статус %d: %s %s", e.StatusCode, e.Code, e.Description)
}

// ClientConfig - параметры магазина.
type ClientConfig struct {
	ShopID    string
	SecretKey string
	Endpoint  string
	Timeout   time.Duration
	// Чек прикладывается, если задан ReceiptEmail.
	ReceiptEmail   string
	ReceiptVATCode int
}

// Client - HTTP-клиент YooKassa. Реализует orderflow.Gateway.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ orderflow.Gateway = (*Client)(nil)

// NewClient создаёт клиент YooKassa.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultAPIEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.ReceiptVATCode == 0 {
		cfg.ReceiptVATCode = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// CreatePayment создаёт платёж с подтверждением через redirect и возвращает ссылку на оплату.
func (c *Client) CreatePayment(ctx context.Context, req orderflow.PaymentLinkRequest) (orderflow.GatewayPayment, error) {
	c.logger.Info("Создание платежа YooKassa", zap.Int64("order_id", req.OrderID), zap.String("amount", req.Amount.StringFixed(2)))

	amount := Amount{Value: req.Amount.StringFixed(2), Currency: req.Currency}
	body := PaymentRequest{
		Amount:       amount,
		Confirmation: Confirmation{Type: "redirect", ReturnURL: req.ReturnURL},
		Description:  req.Description,
		Capture:      true,
		Metadata: map[string]string{
			"order_id":   fmt.Sprintf("%d", req.OrderID),
			"order_code": req.OrderCode,
		},
	}
	if c.cfg.ReceiptEmail != "" {
		body.Receipt = &Receipt{
			Customer: Customer{Email: c.cfg.ReceiptEmail},
			Items: []ReceiptItem{{
				Description: req.Description,
				Quantity:    "1.00",
				Amount:      amount,
				VATCode:     c.cfg.ReceiptVATCode,
			}},
		}
	}

	var resp PaymentResponse
	raw, err := c.post(ctx, "/payments", req.IdempotenceKey, body, &resp)
	if err != nil {
		return orderflow.GatewayPayment{}, err
	}
	if resp.ID == "" || resp.Confirmation.ConfirmationURL == "" {
		c.logger.Error("API YooKassa не вернул ссылку на оплату", zap.Int64("order_id", req.OrderID), zap.ByteString("body", raw))
		return orderflow.GatewayPayment{}, fmt.Errorf("API YooKassa не вернул ссылку на оплату")
	}

	c.logger.Info("Успешно создан платеж YooKassa", zap.String("payment_id", resp.ID), zap.String("status", resp.Status))
	return orderflow.GatewayPayment{
		ID:              resp.ID,
		Status:          resp.Status,
		ConfirmationURL: resp.Confirmation.ConfirmationURL,
		Raw:             raw,
	}, nil
}

// CreateRefund создаёт возврат по платежу.
func (c *Client) CreateRefund(ctx context.Context, req orderflow.RefundRequest) (orderflow.GatewayRefund, error) {
	c.logger.Info("Создание возврата YooKassa", zap.String("payment_id", req.TransactionID), zap.String("amount", req.Amount.StringFixed(2)))

	body := RefundCreateRequest{
		PaymentID: req.TransactionID,
		Amount:    Amount{Value: req.Amount.StringFixed(2), Currency: req.Currency},
	}
	var resp PaymentResponse
	raw, err := c.post(ctx, "/refunds", req.IdempotenceKey, body, &resp)
	if err != nil {
		return orderflow.GatewayRefund{}, err
	}
	refunded, err := resp.Amount.Decimal()
	if err != nil {
		return orderflow.GatewayRefund{}, fmt.Errorf("некорректная сумма возврата в ответе API: %w", err)
	}
	c.logger.Info("Возврат YooKassa создан", zap.String("refund_id", resp.ID), zap.String("status", resp.Status))
	return orderflow.GatewayRefund{ID: resp.ID, Status: resp.Status, Amount: refunded, Raw: raw}, nil
}

func (c *Client) post(ctx context.Context, path, idempotenceKey string, body, out interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP-запроса: %w", err)
	}
	if idempotenceKey == "" {
		idempotenceKey = uuid.New().String()
	}
	req.SetBasicAuth(c.cfg.ShopID, c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", idempotenceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Ошибка выполнения HTTP-запроса к YooKassa", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("ошибка выполнения запроса к API YooKassa: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа API: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		c.logger.Warn("API YooKassa вернул ошибку", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.ByteString("body", raw))
		return nil, apiErr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("ошибка обработки ответа API: %w", err)
	}
	return raw, nil
}
