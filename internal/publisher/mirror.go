package publisher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/asterisk-dashboard/internal/correlator"
	"github.com/sweeney/asterisk-dashboard/internal/state"
)

// envelope is the JSON structure published to MQTT.
type envelope struct {
	Event       string `json:"event"`
	Description string `json:"description,omitempty"`
	Timestamp   string `json:"timestamp"`
	Data        any    `json:"data"`
}

var deltaDescriptions = map[correlator.DeltaKind]string{
	correlator.DeltaStart:  "A call leg has been created",
	correlator.DeltaUpdate: "A call leg has changed",
	correlator.DeltaEnd:    "A call leg has hung up",
}

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

// WithMirrorClock sets the timestamp source.
func WithMirrorClock(c Clock) MirrorOption {
	return func(m *Mirror) { m.clock = c }
}

// WithQueueDepth sets how many messages may wait for the broker.
func WithQueueDepth(n int) MirrorOption {
	return func(m *Mirror) {
		if n > 0 {
			m.queue = make(chan Message, n)
		}
	}
}

// Mirror maps gateway broadcasts onto MQTT topics:
//
//	<prefix>/call/<id>/<deltaKind>
//	<prefix>/peer/<id>
//	<prefix>/device/<device>
//	<prefix>/status (retained)
//
// Broadcast never blocks; publishing happens in Run.
type Mirror struct {
	pub    Publisher
	prefix string
	clock  Clock
	queue  chan Message
}

// NewMirror creates a mirror publishing through pub under prefix.
func NewMirror(pub Publisher, prefix string, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "/"),
		clock:  time.Now,
		queue:  make(chan Message, 512),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StatusTopic is the retained connection status topic.
func (m *Mirror) StatusTopic() string {
	return m.prefix + "/status"
}

// OfflineStatus is the retained status message the broker publishes as our
// last will.
func OfflineStatus(prefix string) Message {
	m := NewMirror(nil, prefix, WithQueueDepth(1))
	msg, _ := m.translate(correlator.EventConnectionStatus, state.ConnectionState{Connected: false, Error: "dashboard offline"})
	return msg
}

// Broadcast queues the MQTT form of a broadcast. Events without a topic
// mapping are ignored; a full queue drops the message.
func (m *Mirror) Broadcast(event string, payload any) {
	msg, ok := m.translate(event, payload)
	if !ok {
		return
	}
	select {
	case m.queue <- msg:
	default:
		log.Warn().Str("component", "mqtt").Str("topic", msg.Topic).Msg("mirror queue full, dropping message")
	}
}

func (m *Mirror) translate(event string, payload any) (Message, bool) {
	env := envelope{
		Event:     event,
		Timestamp: m.clock().UTC().Format(time.RFC3339),
		Data:      payload,
	}
	var topic string
	retain := false

	switch p := payload.(type) {
	case correlator.CallDelta:
		topic = m.prefix + "/call/" + topicSegment(p.ID) + "/" + string(p.DeltaKind)
		env.Event = string(p.DeltaKind)
		env.Description = deltaDescriptions[p.DeltaKind]
	case state.PeerRecord:
		topic = m.prefix + "/peer/" + topicSegment(p.ID)
	case correlator.DeviceState:
		topic = m.prefix + "/device/" + topicSegment(p.Device)
	case state.ConnectionState:
		topic = m.StatusTopic()
		retain = true
	default:
		return Message{}, false
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Str("component", "mqtt").Str("event", event).Err(err).Msg("marshaling payload")
		return Message{}, false
	}
	return Message{Topic: topic, Payload: data, Retain: retain}, true
}

// Run publishes queued messages until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-m.queue:
			log.Debug().Str("component", "mqtt").Str("topic", msg.Topic).Msg("publishing")
			if err := m.pub.Publish(ctx, msg); err != nil && ctx.Err() == nil {
				log.Warn().Str("component", "mqtt").Str("topic", msg.Topic).Err(err).Msg("publish error")
			}
		}
	}
}

// topicSegment keeps MQTT wildcards out of ids. Slashes are kept so that
// PJSIP/2001 nests naturally.
func topicSegment(s string) string {
	return strings.NewReplacer("+", "_", "#", "_").Replace(s)
}
