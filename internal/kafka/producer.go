package kafka

import (
	"context"
	"encoding/json"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

var (
	ErrClosed     = errors.New("kafka: producer closed")
	ErrBufferFull = errors.New("kafka: producer buffer full")
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes envelopes to any topic from one background loop.
// Publish never waits on the broker; when the buffer is full the event is
// dropped with ErrBufferFull.
type Producer struct {
	w      messageWriter
	log    *slog.Logger
	inbox  chan kafka.Message
	mu     sync.RWMutex
	closed bool
	once   sync.Once
	done   chan struct{}
}

func NewProducer(brokers []string, buf int, log *slog.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}, buf, log)
}

func newProducer(w messageWriter, buf int, log *slog.Logger) *Producer {
	if buf <= 0 {
		buf = 1024
	}
	return &Producer{w: w, log: log, inbox: make(chan kafka.Message, buf), done: make(chan struct{})}
}

var _ orders.Publisher = (*Producer)(nil)

// Start runs the write loop until ctx is cancelled or Close is called, then
// flushes what is buffered.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		for {
			select {
			case <-ctx.Done():
				p.Close()
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					p.finish()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) drain() {
	for m := range p.inbox {
		p.write(m)
	}
	p.finish()
}

func (p *Producer) finish() {
	if err := p.w.Close(); err != nil {
		p.log.Error("kafka writer close", slog.String("error", err.Error()))
	}
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.log.Error("kafka write failed",
			slog.String("topic", m.Topic),
			slog.String("key", string(m.Key)),
			slog.String("error", err.Error()))
	}
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, env orders.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	m := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: b,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(env.EventType)},
			{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.inbox <- m:
		return nil
	default:
		return errors.Wrapf(ErrBufferFull, "topic %s", topic)
	}
}

// Close stops accepting events; buffered ones are still flushed. Safe to
// call more than once.
func (p *Producer) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.inbox)
		p.mu.Unlock()
	})
}

// WaitClosed blocks until the write loop has flushed and exited.
func (p *Producer) WaitClosed() { <-p.done }
