// Package session keeps an AMI connection alive, redialing with exponential
// backoff and reporting each transition to an Observer.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/asterisk-dashboard/internal/ami"
)

// State is the lifecycle state of the PBX link.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Conn is a logged-in AMI connection.
type Conn interface {
	ami.Sender
	Run(ctx context.Context, onEvent func(ami.Event)) error
	Close() error
}

// Dialer opens and logs in a new connection.
type Dialer func(ctx context.Context) (Conn, error)

// AMIDialer returns a Dialer backed by ami.Dial.
func AMIDialer(opts ami.Options) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c, err := ami.Dial(ctx, opts)
		if err != nil {
			return nil, err
		}
		log.Info().Str("component", "session").Str("banner", c.Banner()).Msg("AMI authenticated")
		return c, nil
	}
}

// Observer receives lifecycle notifications. Calls are made from the
// Manager's goroutine (OnEvent from the connection reader) and must not block.
type Observer interface {
	OnConnected(s ami.Sender)
	OnConnectError(err error)
	OnDisconnected(err error)
	OnEvent(evt ami.Event)
}

// Options configures reconnect pacing.
type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BackOff overrides the exponential policy built from the intervals.
	BackOff backoff.BackOff
}

// Manager owns the connect/reconnect loop.
type Manager struct {
	dial Dialer
	obs  Observer
	bo   backoff.BackOff

	mu    sync.Mutex
	state State
}

// New creates a Manager. Run starts it.
func New(dial Dialer, obs Observer, opts Options) *Manager {
	bo := opts.BackOff
	if bo == nil {
		exp := backoff.NewExponentialBackOff()
		if opts.InitialBackoff > 0 {
			exp.InitialInterval = opts.InitialBackoff
		}
		if opts.MaxBackoff > 0 {
			exp.MaxInterval = opts.MaxBackoff
		}
		exp.MaxElapsedTime = 0
		exp.Reset()
		bo = exp
	}
	return &Manager{dial: dial, obs: obs, bo: bo}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Run connects and reconnects until ctx is cancelled. It always returns nil
// once ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(Disconnected)

	for {
		err := m.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}

		wait := m.bo.NextBackOff()
		if wait == backoff.Stop {
			wait = time.Second
		}
		log.Warn().Str("component", "session").Err(err).Dur("retry_in", wait).Msg("AMI session ended, reconnecting")

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}
}

func (m *Manager) runSession(ctx context.Context) error {
	m.setState(Connecting)
	log.Info().Str("component", "session").Msg("connecting to AMI")

	conn, err := m.dial(ctx)
	if err != nil {
		m.setState(Disconnected)
		if ctx.Err() == nil {
			m.obs.OnConnectError(err)
		}
		return err
	}
	defer conn.Close()

	m.bo.Reset()
	m.setState(Connected)
	m.obs.OnConnected(conn)

	err = conn.Run(ctx, m.obs.OnEvent)
	m.setState(Disconnected)
	if ctx.Err() == nil {
		m.obs.OnDisconnected(err)
	}
	return err
}
