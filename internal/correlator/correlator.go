// Package correlator normalizes AMI events into state.Store mutations and the
// deltas broadcast to dashboard clients.
package correlator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/asterisk-dashboard/internal/ami"
	"github.com/sweeney/asterisk-dashboard/internal/state"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

type handlerFunc func(evt ami.Event) ([]Message, error)

// on adapts a typed handler into a registry entry. The event is decoded into
// T before fn runs.
func on[T any](fn func(T) []Message) handlerFunc {
	return func(evt ami.Event) ([]Message, error) {
		var v T
		if err := ami.Unmarshal(evt, &v); err != nil {
			return nil, err
		}
		return fn(v), nil
	}
}

// Correlator applies AMI events to a Store and returns the resulting
// broadcasts. It is not safe for concurrent use.
type Correlator struct {
	store    *state.Store
	clock    Clock
	handlers map[string]handlerFunc
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithClock sets the time source for the correlator.
func WithClock(c Clock) Option {
	return func(corr *Correlator) { corr.clock = c }
}

// New creates a Correlator writing into store.
func New(store *state.Store, opts ...Option) *Correlator {
	c := &Correlator{
		store: store,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.handlers = map[string]handlerFunc{
		"newchannel":        on(c.handleNewchannel),
		"newstate":          on(c.handleNewstate),
		"newexten":          on(c.handleNewexten),
		"dialbegin":         on(c.handleDialBegin),
		"dialend":           on(c.handleDialEnd),
		"hangup":            on(c.handleHangup),
		"coreshowchannel":   on(c.handleCoreShowChannel),
		"peerentry":         on(handlePeer[peerEntryEvent](c)),
		"endpointlist":      on(handlePeer[endpointListEvent](c)),
		"peerstatus":        on(handlePeer[peerStatusEvent](c)),
		"devicestatechange": on(c.handleDeviceStateChange),
	}
	return c
}

// Handles reports whether the correlator has a handler for the event type.
func (c *Correlator) Handles(eventType string) bool {
	_, ok := c.handlers[strings.ToLower(eventType)]
	return ok
}

// Process ingests an AMI event and returns the broadcasts it produced.
// A failing or panicking handler is logged and yields no messages.
func (c *Correlator) Process(evt ami.Event) []Message {
	if evt.IsResponse() {
		return nil
	}
	h, ok := c.handlers[strings.ToLower(evt.Type())]
	if !ok {
		return nil
	}
	return c.guard(evt.Type(), func() ([]Message, error) { return h(evt) })
}

// IngestEndpointList parses "pjsip list endpoints" output and records every
// numeric endpoint it finds.
func (c *Correlator) IngestEndpointList(lines []string) []Message {
	return c.guard("EndpointListCommand", func() ([]Message, error) {
		var msgs []Message
		for _, line := range lines {
			entry, ok := parseEndpointLine(line)
			if !ok {
				continue
			}
			msgs = append(msgs, c.recordPeer(entry)...)
		}
		log.Debug().Str("component", "correlator").Int("peers", c.store.Stats().Peers).Msg("endpoint list parsed")
		return msgs, nil
	})
}

func (c *Correlator) guard(name string, fn func() ([]Message, error)) (msgs []Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "correlator").
				Str("event", name).
				Str("panic", fmt.Sprint(r)).
				Msg("event handler panicked")
			msgs = nil
		}
	}()

	out, err := fn()
	if err != nil {
		log.Warn().Str("component", "correlator").Str("event", name).Err(err).Msg("dropping malformed event")
		return nil
	}
	return out
}

func (c *Correlator) now() int64 {
	return c.clock().UnixMilli()
}

func (c *Correlator) handleNewchannel(e newchannelEvent) []Message {
	if e.Uniqueid == "" {
		log.Debug().Str("component", "correlator").Str("channel", e.Channel).Msg("Newchannel without Uniqueid")
		return nil
	}
	callerNum, callerName := clean(e.CallerIDNum), clean(e.CallerIDName)

	c.store.SetCall(e.Uniqueid, state.CallRecord{
		LinkedID:            e.Linkedid,
		ChannelName:         e.Channel,
		CallerID:            firstNonEmpty(callerNum, callerName, "Unknown"),
		CallerName:          callerName,
		State:               firstNonEmpty(e.ChannelStateDesc, e.ChannelState),
		Extension:           firstNonEmpty(e.Exten, e.DNID),
		DialplanContext:     e.Context,
		Application:         e.Application,
		ConnectedLineNumber: clean(e.ConnectedLineNum),
		ConnectedLineName:   clean(e.ConnectedLineName),
		AccountCode:         e.AccountCode,
		StartedAtEpochMs:    c.now(),
	})

	rec, _ := c.store.GetCall(e.Uniqueid)
	log.Debug().Str("component", "correlator").Str("uniqueid", e.Uniqueid).Str("channel", e.Channel).Msg("call started")
	return []Message{startDelta(rec)}
}

func (c *Correlator) handleNewstate(e newstateEvent) []Message {
	var patch state.CallPatch
	if e.ChannelStateDesc != "" {
		patch.State = state.Str(e.ChannelStateDesc)
	}
	if v := clean(e.ConnectedLineNum); v != "" {
		patch.ConnectedLineNumber = state.Str(v)
	}
	if v := clean(e.ConnectedLineName); v != "" {
		patch.ConnectedLineName = state.Str(v)
	}

	rec, ok := c.store.UpdateCall(e.Uniqueid, patch)
	if !ok {
		log.Debug().Str("component", "correlator").Str("uniqueid", e.Uniqueid).Msg("Newstate for unknown call")
		return nil
	}

	return []Message{updateDelta(state.CallRecord{
		ID:                  e.Uniqueid,
		ChannelName:         e.Channel,
		State:               rec.State,
		ConnectedLineNumber: rec.ConnectedLineNumber,
		ConnectedLineName:   rec.ConnectedLineName,
	})}
}

func (c *Correlator) handleNewexten(e newextenEvent) []Message {
	delta := state.CallRecord{ID: e.Uniqueid, ChannelName: e.Channel}
	var patch state.CallPatch
	if e.Application != "" {
		patch.Application = state.Str(e.Application)
		delta.Application = e.Application
	}
	if e.Context != "" {
		patch.DialplanContext = state.Str(e.Context)
		delta.DialplanContext = e.Context
	}
	if e.Exten != "" {
		patch.Extension = state.Str(e.Exten)
		delta.Extension = e.Exten
	}
	if patch.IsEmpty() {
		return nil
	}

	if _, ok := c.store.UpdateCall(e.Uniqueid, patch); !ok {
		return nil
	}
	return []Message{updateDelta(delta)}
}

func (c *Correlator) handleDialBegin(e dialBeginEvent) []Message {
	destination := e.DialString
	if destination == "" {
		destination = channelToken(e.DestChannel)
	}

	var patch state.CallPatch
	if destination != "" {
		patch.Destination = state.Str(destination)
	}
	if e.DestChannel != "" {
		patch.DestinationChannelName = state.Str(e.DestChannel)
	}
	if patch.IsEmpty() {
		return nil
	}

	rec, ok := c.store.UpdateCall(e.Uniqueid, patch)
	if !ok {
		log.Warn().Str("component", "correlator").Str("uniqueid", e.Uniqueid).Str("dest", e.DestChannel).Msg("DialBegin for unknown call")
		return nil
	}

	return []Message{updateDelta(state.CallRecord{
		ID:                     e.Uniqueid,
		ChannelName:            e.Channel,
		Destination:            rec.Destination,
		DestinationChannelName: rec.DestinationChannelName,
	})}
}

func (c *Correlator) handleDialEnd(e dialEndEvent) []Message {
	if e.DialStatus == "" {
		return nil
	}
	if _, ok := c.store.UpdateCall(e.Uniqueid, state.CallPatch{DialOutcome: state.Str(e.DialStatus)}); !ok {
		return nil
	}
	return []Message{updateDelta(state.CallRecord{
		ID:          e.Uniqueid,
		ChannelName: e.Channel,
		DialOutcome: e.DialStatus,
	})}
}

func (c *Correlator) handleHangup(e hangupEvent) []Message {
	c.store.DeleteCall(e.Uniqueid)
	log.Debug().Str("component", "correlator").Str("uniqueid", e.Uniqueid).Str("cause", e.CauseTxt).Msg("call ended")

	return []Message{{Event: EventCallDelta, Payload: CallDelta{
		DeltaKind:  DeltaEnd,
		CallRecord: state.CallRecord{ID: e.Uniqueid, ChannelName: e.Channel},
		Cause:      hangupCause(e.CauseTxt, e.Cause),
	}}}
}

func (c *Correlator) handleCoreShowChannel(e coreShowChannelEvent) []Message {
	if e.Uniqueid == "" {
		return nil
	}
	now := c.now()
	rec := state.CallRecord{
		LinkedID:            e.Linkedid,
		ChannelName:         e.Channel,
		CallerID:            firstNonEmpty(clean(e.CallerIDNum), "Unknown"),
		CallerName:          clean(e.CallerIDName),
		State:               firstNonEmpty(e.ChannelStateDesc, "Active"),
		Extension:           firstNonEmpty(e.Exten, e.Extension),
		DialplanContext:     e.Context,
		Application:         e.Application,
		ConnectedLineNumber: clean(e.ConnectedLineNum),
		ConnectedLineName:   clean(e.ConnectedLineName),
		AccountCode:         e.AccountCode,
		StartedAtEpochMs:    now,
	}
	if secs, ok := parseDuration(e.Duration); ok {
		rec.DurationSeconds = &secs
		rec.StartedAtEpochMs = now - int64(secs)*1000
	}

	c.store.SetCall(e.Uniqueid, rec)
	rec, _ = c.store.GetCall(e.Uniqueid)
	return []Message{startDelta(rec)}
}

func (c *Correlator) handleDeviceStateChange(e deviceStateChangeEvent) []Message {
	return []Message{{Event: EventDeviceState, Payload: DeviceState{Device: e.Device, State: e.State}}}
}

// handlePeer builds the handler for one peer report shape.
func handlePeer[T peerSource](c *Correlator) func(T) []Message {
	return func(e T) []Message {
		return c.recordPeer(e)
	}
}

func (c *Correlator) recordPeer(src peerSource) []Message {
	id, f, ok := src.peer()
	if !ok {
		return nil
	}
	rec := c.store.SetPeer(id, state.PeerReport{StatusLabel: f.status, Address: f.address})
	log.Debug().Str("component", "correlator").Str("peer", id).Str("status", rec.StatusLabel).Msg("peer update")
	return []Message{peerUpdate(rec)}
}

// hangupCause prefers Asterisk's text, then the known description for the
// numeric code, then the raw code.
func hangupCause(text, code string) string {
	if text != "" {
		return text
	}
	if n, err := strconv.Atoi(code); err == nil {
		if info, ok := HangupCause[n]; ok {
			return info.Description
		}
	}
	return code
}

// parseDuration converts an HH:MM:SS duration into seconds.
func parseDuration(s string) (int, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

// channelToken extracts the endpoint part of a channel name: the text after
// the first "/" up to the next "-" (PJSIP/2001-00000001 → 2001).
func channelToken(channel string) string {
	_, rest, ok := strings.Cut(channel, "/")
	if !ok {
		return ""
	}
	token, _, _ := strings.Cut(rest, "-")
	return token
}

// clean treats AMI's "<unknown>" placeholder as an absent value.
func clean(s string) string {
	if s == "<unknown>" {
		return ""
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func isExtension(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
