// Package gateway owns the live PBX state. It reacts to session lifecycle
// changes and AMI events on a single loop, and fans the resulting messages
// out to dashboard clients and any extra sinks.
package gateway

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/asterisk-dashboard/internal/ami"
	"github.com/sweeney/asterisk-dashboard/internal/correlator"
	"github.com/sweeney/asterisk-dashboard/internal/hub"
	"github.com/sweeney/asterisk-dashboard/internal/redact"
	"github.com/sweeney/asterisk-dashboard/internal/state"
	"github.com/sweeney/asterisk-dashboard/internal/view"
)

// ErrNotConnected is returned by Refresh while there is no PBX link.
var ErrNotConnected = errors.New("gateway: PBX not connected")

// EndpointListCommand is the CLI command whose output lists PJSIP extensions.
const EndpointListCommand = "pjsip list endpoints like ^[0-9]"

// Sink receives every broadcast in addition to the hub.
type Sink interface {
	Broadcast(event string, payload any)
}

// Status is the operational summary served by the health endpoint.
type Status struct {
	PBXConnected    bool `json:"pbxConnected"`
	ActiveCallCount int  `json:"activeCallCount"`
	PeerCount       int  `json:"peerCount"`
}

// Snapshot is the full server-side state.
type Snapshot struct {
	Connection state.ConnectionState `json:"connection"`
	Calls      []state.CallRecord    `json:"calls"`
	Peers      []state.PeerRecord    `json:"peers"`
}

// View is the derived dashboard model.
type View struct {
	Connection state.ConnectionState `json:"connection"`
	Calls      []view.MergedCall     `json:"calls"`
	Extensions []view.ExtensionRow   `json:"extensions"`
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithDebug sets the initial diagnostic mirroring flag.
func WithDebug(on bool) Option {
	return func(g *Gateway) { g.debug.Store(on) }
}

// WithSink adds a broadcast sink.
func WithSink(s Sink) Option {
	return func(g *Gateway) { g.sinks = append(g.sinks, s) }
}

// WithQueueDepth sets the loop queue depth.
func WithQueueDepth(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.loop = NewLoop(n)
		}
	}
}

// Gateway implements session.Observer and hub.Source.
type Gateway struct {
	loop  *Loop
	store *state.Store
	corr  *correlator.Correlator
	hub   *hub.Hub
	sinks []Sink
	debug atomic.Bool

	// Loop-owned.
	sender ami.Sender
}

// New wires a gateway around an existing store and correlator.
func New(store *state.Store, corr *correlator.Correlator, h *hub.Hub, opts ...Option) *Gateway {
	g := &Gateway{
		loop:  NewLoop(1024),
		store: store,
		corr:  corr,
		hub:   h,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run drives the reaction loop until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	return g.loop.Run(ctx)
}

// SetDebug toggles diagnostic mirroring.
func (g *Gateway) SetDebug(on bool) {
	g.debug.Store(on)
}

// Debug reports whether diagnostic mirroring is on.
func (g *Gateway) Debug() bool {
	return g.debug.Load()
}

func (g *Gateway) post(fn func()) {
	if !g.loop.Post(fn) {
		log.Debug().Str("component", "gateway").Msg("loop stopped, dropping reaction")
	}
}

func (g *Gateway) broadcast(event string, payload any) {
	g.hub.Broadcast(event, payload)
	for _, s := range g.sinks {
		s.Broadcast(event, payload)
	}
}

func (g *Gateway) broadcastAll(msgs []correlator.Message) {
	for _, m := range msgs {
		g.broadcast(m.Event, m.Payload)
	}
}

func (g *Gateway) initialState() correlator.InitialState {
	return correlator.InitialState{Calls: g.store.ListCalls(), Peers: g.store.ListPeers()}
}

// OnConnected marks the link up, enables events and repopulates state.
func (g *Gateway) OnConnected(s ami.Sender) {
	g.post(func() {
		g.sender = s
		g.store.SetConnection(true, "")
		g.broadcast(correlator.EventConnectionStatus, g.store.Connection())
		log.Info().Str("component", "gateway").Msg("PBX connected, repopulating")

		g.send(ami.NewAction("Events", "EventMask", "on"), func(_ ami.Event, err error) {
			if err != nil {
				log.Warn().Str("component", "gateway").Err(err).Msg("enabling events failed")
			}
		})
		g.repopulate()
	})
}

// OnDisconnected invalidates every call and pushes an empty-calls snapshot.
func (g *Gateway) OnDisconnected(err error) {
	g.post(func() {
		g.sender = nil
		g.store.SetConnection(false, errText(err))
		g.broadcast(correlator.EventConnectionStatus, g.store.Connection())

		n := g.store.ClearCalls()
		log.Warn().Str("component", "gateway").Err(err).Int("cleared_calls", n).Msg("PBX disconnected")
		g.broadcast(correlator.EventInitialState, g.initialState())
	})
}

// OnConnectError reports a failed connection attempt.
func (g *Gateway) OnConnectError(err error) {
	g.post(func() {
		g.store.SetConnection(false, errText(err))
		g.broadcast(correlator.EventConnectionStatus, g.store.Connection())
	})
}

// OnEvent mirrors the raw event when debugging and applies it to the store.
func (g *Gateway) OnEvent(evt ami.Event) {
	if !g.debug.Load() && !g.corr.Handles(evt.Type()) {
		return
	}
	g.post(func() {
		if g.debug.Load() {
			g.broadcast(correlator.EventDiagnostic, redact.Sanitize(evt.Map()))
		}
		g.broadcastAll(g.corr.Process(evt))
	})
}

// send issues an action with its reply delivered back on the loop.
func (g *Gateway) send(a ami.Action, cb ami.ResponseFunc) {
	if g.sender == nil {
		return
	}
	err := g.sender.Send(a, func(resp ami.Event, err error) {
		g.post(func() { cb(resp, err) })
	})
	if err != nil {
		log.Warn().Str("component", "gateway").Str("action", a.Name).Err(err).Msg("sending action failed")
	}
}

// repopulate issues the three bulk queries. Listing entries arrive as events;
// the endpoint command reply is parsed here. Failures leave state untouched.
func (g *Gateway) repopulate() {
	g.send(ami.NewAction("SIPpeers"), logFailure("SIPpeers"))
	g.send(ami.NewAction("Command", "Command", EndpointListCommand), func(resp ami.Event, err error) {
		if err != nil {
			logFailure("Command")(resp, err)
			return
		}
		g.broadcastAll(g.corr.IngestEndpointList(ami.CommandOutput(resp)))
	})
	g.send(ami.NewAction("CoreShowChannels"), logFailure("CoreShowChannels"))
}

func logFailure(action string) ami.ResponseFunc {
	return func(_ ami.Event, err error) {
		if err != nil {
			log.Warn().Str("component", "gateway").Str("action", action).Err(err).Msg("bulk query failed")
		}
	}
}

// Refresh re-runs the bulk queries without clearing state.
func (g *Gateway) Refresh() error {
	var err error
	if doErr := g.loop.Do(context.Background(), func() {
		if g.sender == nil {
			err = ErrNotConnected
			return
		}
		log.Info().Str("component", "gateway").Msg("refresh requested")
		g.repopulate()
	}); doErr != nil {
		return doErr
	}
	return err
}

// Subscribe attaches a new client and queues the connection status followed
// by the full initial state. A client created for a caller that gave up is
// detached again.
func (g *Gateway) Subscribe(ctx context.Context) (*hub.Client, error) {
	var c *hub.Client
	err := g.loop.Do(ctx, func() {
		c = g.hub.NewClient()
		if err := c.Send(correlator.EventConnectionStatus, g.store.Connection()); err != nil {
			log.Warn().Str("component", "gateway").Err(err).Msg("queueing connection status")
		}
		if err := c.Send(correlator.EventInitialState, g.initialState()); err != nil {
			log.Warn().Str("component", "gateway").Err(err).Msg("queueing initial state")
		}
	})
	if err != nil {
		// The reaction may still be queued or running; detach behind it.
		detach := func() {
			if c != nil {
				g.hub.Detach(c)
			}
		}
		if !g.loop.Post(detach) {
			detach()
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		g.hub.Detach(c)
		return nil, err
	}
	return c, nil
}

// Unsubscribe detaches a client.
func (g *Gateway) Unsubscribe(c *hub.Client) {
	g.hub.Detach(c)
}

// Status returns the health summary.
func (g *Gateway) Status(ctx context.Context) (Status, error) {
	var st Status
	err := g.loop.Do(ctx, func() {
		stats := g.store.Stats()
		st = Status{
			PBXConnected:    g.store.Connection().Connected,
			ActiveCallCount: stats.Calls,
			PeerCount:       stats.Peers,
		}
	})
	return st, err
}

// Snapshot returns the full server-side state.
func (g *Gateway) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := g.loop.Do(ctx, func() {
		snap = Snapshot{
			Connection: g.store.Connection(),
			Calls:      g.store.ListCalls(),
			Peers:      g.store.ListPeers(),
		}
	})
	return snap, err
}

// View returns the merged calls and extension rows derived from the current
// state.
func (g *Gateway) View(ctx context.Context) (View, error) {
	snap, err := g.Snapshot(ctx)
	if err != nil {
		return View{}, err
	}
	merged := view.MergeCalls(snap.Calls)
	return View{
		Connection: snap.Connection,
		Calls:      merged,
		Extensions: view.DeriveExtensions(snap.Peers, merged),
	}, nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
