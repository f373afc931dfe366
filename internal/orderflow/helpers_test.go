package orderflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"FoodOrders/internal/memstore"
	"FoodOrders/internal/models"
	"FoodOrders/internal/orderflow"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMessage struct {
	Ref         string
	RecipientID int64
	Msg         models.OutboundMessage
}

type recordingMessenger struct {
	mu      sync.Mutex
	seq     int
	sent    []sentMessage
	edited  []string
	deleted []string
	failing bool
}

func (m *recordingMessenger) Send(_ context.Context, recipientID int64, msg models.OutboundMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return "", errors.New("telegram недоступен")
	}
	m.seq++
	ref := fmt.Sprintf("%d:%d", recipientID, m.seq)
	m.sent = append(m.sent, sentMessage{Ref: ref, RecipientID: recipientID, Msg: msg})
	return ref, nil
}

func (m *recordingMessenger) Edit(_ context.Context, ref string, _ models.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edited = append(m.edited, ref)
	return nil
}

func (m *recordingMessenger) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ref)
	return nil
}

func (m *recordingMessenger) sentTo(recipientID int64) []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMessage
	for _, s := range m.sent {
		if s.RecipientID == recipientID {
			out = append(out, s)
		}
	}
	return out
}

type fakeGateway struct {
	refundStatus string
	refunds      []orderflow.RefundRequest
	payments     []orderflow.PaymentLinkRequest
	err          error
}

func (g *fakeGateway) CreatePayment(_ context.Context, req orderflow.PaymentLinkRequest) (orderflow.GatewayPayment, error) {
	if g.err != nil {
		return orderflow.GatewayPayment{}, g.err
	}
	g.payments = append(g.payments, req)
	id := fmt.Sprintf("tr-%d-%d", req.OrderID, len(g.payments))
	return orderflow.GatewayPayment{ID: id, Status: "pending", ConfirmationURL: "https://pay.example/" + id}, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, req orderflow.RefundRequest) (orderflow.GatewayRefund, error) {
	if g.err != nil {
		return orderflow.GatewayRefund{}, g.err
	}
	g.refunds = append(g.refunds, req)
	status := g.refundStatus
	if status == "" {
		status = "succeeded"
	}
	return orderflow.GatewayRefund{ID: fmt.Sprintf("rf-%d", len(g.refunds)), Status: status, Amount: req.Amount}, nil
}

const (
	adminChat    = int64(-100)
	kitchenChat  = int64(-200)
	courierChat  = int64(-300)
	customerChat = int64(555)
)

type harness struct {
	clock      *fakeClock
	store      *memstore.Store
	messenger  *recordingMessenger
	gateway    *fakeGateway
	notifier   *orderflow.Notifier
	machine    *orderflow.StateMachine
	reconciler *orderflow.Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     newFakeClock(),
		messenger: &recordingMessenger{},
		gateway:   &fakeGateway{},
	}
	h.store = memstore.New(h.clock.Now)
	h.notifier = orderflow.NewNotifier(h.messenger, orderflow.NewNotificationLog(h.clock.Now),
		orderflow.NotifierConfig{AdminChatID: adminChat, KitchenChatID: kitchenChat, CourierChatID: courierChat}, nil)
	h.machine = orderflow.NewStateMachine(h.store, h.notifier, h.clock.Now, nil)
	h.reconciler = orderflow.NewReconciler(h.store, h.machine, h.gateway, h.clock.Now, nil)
	return h
}

func (h *harness) createOrder(t *testing.T, amount int64, transactionID string) models.Order {
	t.Helper()
	p := models.Payment{Amount: decimal.NewFromInt(amount)}
	if transactionID != "" {
		p.TransactionID = models.NewNullString(transactionID)
	}
	order, _, err := h.store.CreateOrder(context.Background(), models.Order{
		CustomerChatID:  customerChat,
		TotalAmount:     decimal.NewFromInt(amount),
		DeliveryMethod:  "courier",
		DeliveryAddress: "Москва, Тверская 1",
	}, p)
	require.NoError(t, err)
	return order
}

func (h *harness) order(t *testing.T, id int64) models.Order {
	t.Helper()
	o, err := h.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (h *harness) payment(t *testing.T, orderID int64) models.Payment {
	t.Helper()
	p, err := h.store.GetPaymentByOrderID(context.Background(), orderID)
	require.NoError(t, err)
	return p
}

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func customerText(text string) models.OutboundMessage {
	return models.OutboundMessage{Text: text}
}
