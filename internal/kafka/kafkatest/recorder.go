// Package kafkatest provides an in-memory publisher for tests.
package kafkatest

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"sync"
)

type Message struct {
	Topic    string
	Key      string
	Envelope orders.Envelope
}

// Recorder captures everything published to it. Err, when set, is returned
// from Publish after the message is recorded.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	Err  error
}

func (r *Recorder) Publish(ctx context.Context, topic string, key []byte, env orders.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{Topic: topic, Key: string(key), Envelope: env})
	return r.Err
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// ByTopic returns the messages published to topic, in order.
func (r *Recorder) ByTopic(topic string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}
