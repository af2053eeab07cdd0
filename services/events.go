package services

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types published on the order topic.
const (
	EventOrderSubmitted           = "OrderSubmitted"
	EventOrderApproved            = "OrderApproved"
	EventOrderRejected            = "OrderRejected"
	EventFulfillmentPlaced        = "FulfillmentPlaced"
	EventFulfillmentFailed        = "FulfillmentFailed"
	EventFulfillmentStatusChanged = "FulfillmentStatusChanged"
	EventMarginChanged            = "MarginChanged"
)

// Envelope is the JSON message written to the topic.
type Envelope struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	OrderID int64     `json:"order_id,omitempty"`
	At      time.Time `json:"at"`
	Data    any       `json:"data,omitempty"`
}

func NewEnvelope(typ string, orderID int64, data any) Envelope {
	return Envelope{ID: uuid.NewString(), Type: typ, OrderID: orderID, At: time.Now().UTC(), Data: data}
}

// Publisher delivers events. Publish never blocks on the broker.
type Publisher interface {
	Publish(ev Envelope)
}

type NopPublisher struct{}

func (NopPublisher) Publish(Envelope) {}

// KafkaPublisher buffers envelopes and writes them from a single goroutine.
// When the buffer is full the event is dropped and logged.
type KafkaPublisher struct {
	w      *kafka.Writer
	inbox  chan kafka.Message
	log    *zap.Logger
	closed chan struct{}

	mu   sync.RWMutex
	done bool
}

func NewKafkaPublisher(brokers []string, topic string, buf int, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		inbox:  make(chan kafka.Message, buf),
		log:    log,
		closed: make(chan struct{}),
	}
}

// Start runs the write loop until ctx is done, then flushes what is buffered.
func (p *KafkaPublisher) Start(ctx context.Context) {
	go func() {
		defer close(p.closed)
		for {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.done = true
				close(p.inbox)
				p.mu.Unlock()
				for m := range p.inbox {
					p.write(m)
				}
				if err := p.w.Close(); err != nil {
					p.log.Warn("kafka writer close", zap.Error(err))
				}
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *KafkaPublisher) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.Error("publish event", zap.ByteString("key", m.Key), zap.Error(err))
	}
}

func (p *KafkaPublisher) Publish(ev Envelope) {
	value, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	key := []byte(ev.Type)
	if ev.OrderID != 0 {
		key = []byte(strconv.FormatInt(ev.OrderID, 10))
	}
	msg := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    ev.At,
		Headers: []kafka.Header{{Key: "type", Value: []byte(ev.Type)}},
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.done {
		p.log.Warn("event after shutdown dropped", zap.String("type", ev.Type))
		return
	}
	select {
	case p.inbox <- msg:
	default:
		p.log.Warn("event buffer full, dropped", zap.String("type", ev.Type), zap.Int64("order_id", ev.OrderID))
	}
}

// WaitClosed blocks until the write loop has flushed and exited.
func (p *KafkaPublisher) WaitClosed() { <-p.closed }

// MemoryPublisher records events in order.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Envelope
}

func (p *MemoryPublisher) Publish(ev Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *MemoryPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func (p *MemoryPublisher) Events() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Envelope(nil), p.events...)
}
