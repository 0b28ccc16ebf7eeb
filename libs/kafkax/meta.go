package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/eventoutbox/libs/outbox"
)

// EventMeta is the metadata every outbox message carries in its headers.
type EventMeta struct {
	EventID   string
	EventType string
}

// ExtractEventMeta reads the outbox headers, falling back to the topic for the
// type. The key is the aggregate id, so EventID stays empty without a header.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	eventID := HeaderValue(msg.Headers, outbox.HeaderEventID)
	eventType := HeaderValue(msg.Headers, outbox.HeaderEventType)
	if eventType == "" {
		eventType = msg.Topic
	}
	return EventMeta{EventID: eventID, EventType: eventType}
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
