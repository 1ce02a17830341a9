package kafka

import (
	"encoding/json"
	"github.com/ariefcatur/go-checkout-saga/internal/orders"
	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// DecodeEnvelope reads the envelope carried by m.
func DecodeEnvelope(m kafka.Message) (orders.Envelope, error) {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return env, errors.Wrapf(err, "decode envelope at %s/%d/%d", m.Topic, m.Partition, m.Offset)
	}
	return env, nil
}

// EventType prefers the header and falls back to the envelope.
func EventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "x-event-type" {
			return string(h.Value)
		}
	}
	env, err := DecodeEnvelope(m)
	if err != nil {
		return ""
	}
	return env.EventType
}
