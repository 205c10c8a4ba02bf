package kafka

import segkafka "github.com/segmentio/kafka-go"

// HeaderCarrier lets the otel propagator read and write trace context on
// Kafka message headers.
type HeaderCarrier []segkafka.Header

func (c HeaderCarrier) index(key string) int {
	for i := range c {
		if c[i].Key == key {
			return i
		}
	}
	return -1
}

func (c HeaderCarrier) Get(key string) string {
	if i := c.index(key); i >= 0 {
		return string(c[i].Value)
	}
	return ""
}

// Set overwrites an existing header in place or appends a new one.
func (c *HeaderCarrier) Set(key, value string) {
	if i := c.index(key); i >= 0 {
		(*c)[i].Value = []byte(value)
		return
	}
	*c = append(*c, segkafka.Header{Key: key, Value: []byte(value)})
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, h := range c {
		keys = append(keys, h.Key)
	}
	return keys
}
