package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pos_engine/internal/sales"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSale() *sales.Sale {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &sales.Sale{
		ID:         "sale-1",
		Number:     7,
		GrandTotal: decimal.RequireFromString("29.13"),
		Status:     sales.StatusCommitted,
		Lines:      []sales.Line{{Barcode: "001", Quantity: 3}},
		CreatedAt:  at,
		UpdatedAt:  at,
		Version:    1,
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)
	e := New(SaleCommitted, testSale(), time.Now().UTC())

	require.NoError(t, p.Publish(context.Background(), e))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "sale-1", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, "sale.committed", string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, SaleCommitted, decoded.Type)
	assert.Equal(t, "sale-1", decoded.SaleID)
	require.NotNil(t, decoded.Sale)
	assert.True(t, decimal.RequireFromString("29.13").Equal(decoded.Sale.GrandTotal))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisher(w)

	err := p.Publish(context.Background(), New(SaleVoided, testSale(), time.Now()))
	assert.ErrorContains(t, err, "broker down")
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter("a:9092, b:9092", "pos.sales")
	assert.Equal(t, "pos.sales", w.Topic)
	assert.Contains(t, w.Addr.String(), "a:9092")
	assert.Contains(t, w.Addr.String(), "b:9092")
}

func TestWebhookPublisher(t *testing.T) {
	var got Event
	var eventType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		eventType = r.Header.Get("X-Event-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p := NewWebhookPublisher(server.URL, time.Second)
	defer p.Close()

	require.NoError(t, p.Publish(context.Background(), New(SaleVoided, testSale(), time.Now().UTC())))
	assert.Equal(t, "sale.voided", eventType)
	assert.Equal(t, SaleVoided, got.Type)
	assert.Equal(t, "sale-1", got.SaleID)
}

func TestWebhookPublisher_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewWebhookPublisher(server.URL, time.Second)
	defer p.Close()

	err := p.Publish(context.Background(), New(SaleCommitted, testSale(), time.Now()))
	assert.ErrorContains(t, err, "500")
}

func TestRecorderAndMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	m := Multi{a, NopPublisher{}, b}

	require.NoError(t, m.Publish(context.Background(), New(SaleCommitted, testSale(), time.Now())))
	require.NoError(t, m.Publish(context.Background(), New(SaleVoided, testSale(), time.Now())))

	assert.Len(t, a.Events(), 2)
	assert.Len(t, b.OfType(SaleVoided), 1)
	assert.NoError(t, m.Close())
}

func TestNew_CopiesSale(t *testing.T) {
	sale := testSale()
	e := New(SaleCommitted, sale, time.Now())
	sale.Lines[0].Quantity = 99
	assert.Equal(t, 3, e.Sale.Lines[0].Quantity)
}
