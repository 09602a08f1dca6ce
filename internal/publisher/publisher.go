// Package publisher mirrors dashboard broadcasts onto an MQTT broker so other
// systems can follow calls and extensions without holding a push connection.
package publisher

import "context"

// Message is one outbound publish.
type Message struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// Publisher defines the interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}
