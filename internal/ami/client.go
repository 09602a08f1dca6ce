package ami

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrConnectionClosed is returned when the AMI stream ends.
	ErrConnectionClosed = errors.New("ami: connection closed")
	// ErrLoginFailed is returned when Asterisk rejects the credentials.
	ErrLoginFailed = errors.New("ami: login failed")
	// ErrActionFailed wraps a Response: Error reply to an action.
	ErrActionFailed = errors.New("ami: action failed")
)

// Action is an outbound AMI request.
type Action struct {
	Name   string
	fields []Header
}

// NewAction builds an action from key-value pairs.
func NewAction(name string, kvs ...string) Action {
	a := Action{Name: name}
	for i := 0; i+1 < len(kvs); i += 2 {
		a.fields = append(a.fields, Header{Key: kvs[i], Value: kvs[i+1]})
	}
	return a
}

// Get returns a field value of the action.
func (a Action) Get(key string) string {
	for _, h := range a.fields {
		if strings.EqualFold(h.Key, key) {
			return h.Value
		}
	}
	return ""
}

func (a Action) encode(actionID string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s\r\nActionID: %s\r\n", a.Name, actionID)
	for _, h := range a.fields {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Key, h.Value)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// ResponseFunc receives the reply to an action. err is non-nil when the
// connection closed before a reply arrived or the reply was Response: Error.
type ResponseFunc func(resp Event, err error)

// Sender issues actions. Replies are delivered asynchronously.
type Sender interface {
	Send(a Action, cb ResponseFunc) error
}

// Options configures a Client.
type Options struct {
	Addr        string
	Username    string
	Secret      string
	DialTimeout time.Duration
}

// Client is a logged-in AMI connection.
type Client struct {
	conn   net.Conn
	parser *Parser
	banner string

	mu      sync.Mutex
	pending map[string]ResponseFunc
	nextID  uint64
	closed  bool
}

// Dial connects to Asterisk, reads the banner and logs in.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial AMI %s: %w", opts.Addr, err)
	}

	c, err := handshake(conn, opts, timeout)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func handshake(conn net.Conn, opts Options, timeout time.Duration) (*Client, error) {
	_ = conn.SetDeadline(time.Now().Add(timeout))
	defer conn.SetDeadline(time.Time{})

	reader := bufio.NewReader(conn)
	banner, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading AMI banner: %w", err)
	}

	c := &Client{
		conn:    conn,
		parser:  NewParser(reader),
		banner:  strings.TrimSpace(banner),
		pending: make(map[string]ResponseFunc),
	}

	login := NewAction("Login", "Username", opts.Username, "Secret", opts.Secret, "Events", "off")
	if _, err := conn.Write(login.encode("login")); err != nil {
		return nil, fmt.Errorf("sending login: %w", err)
	}

	for {
		evt, ok := c.parser.Next()
		if !ok {
			if err := c.parser.Err(); err != nil {
				return nil, fmt.Errorf("reading login response: %w", err)
			}
			return nil, ErrConnectionClosed
		}
		if !evt.IsResponse() {
			continue
		}
		if !evt.IsSuccess() {
			return nil, fmt.Errorf("%w: %s", ErrLoginFailed, evt.Get("Message"))
		}
		return c, nil
	}
}

// Banner returns the greeting line sent by Asterisk.
func (c *Client) Banner() string {
	return c.banner
}

// Send writes an action and registers cb for its reply. cb may be nil.
// Callbacks run on the goroutine executing Run.
func (c *Client) Send(a Action, cb ResponseFunc) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	if cb != nil {
		c.pending[id] = cb
	}
	_, err := c.conn.Write(a.encode(id))
	if err != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("sending %s: %w", a.Name, err)
	}
	return nil
}

// Run reads the stream until the connection ends or ctx is cancelled. Events
// are passed to onEvent; responses resolve pending actions. Run returns nil
// when ctx was cancelled and ErrConnectionClosed (possibly wrapped) otherwise.
func (c *Client) Run(ctx context.Context, onEvent func(Event)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-stop:
		}
	}()

	for {
		evt, ok := c.parser.Next()
		if !ok {
			c.failPending()
			if ctx.Err() != nil {
				return nil
			}
			if err := c.parser.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			}
			return ErrConnectionClosed
		}

		if evt.IsResponse() {
			c.resolve(evt)
			continue
		}
		if onEvent != nil {
			onEvent(evt)
		}
	}
}

// Close terminates the connection. Pending actions fail with ErrConnectionClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	_, _ = c.conn.Write(NewAction("Logoff").encode("logoff"))
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) resolve(resp Event) {
	id := resp.ActionID()
	c.mu.Lock()
	cb, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	if !resp.IsSuccess() {
		cb(resp, fmt.Errorf("%w: %s", ErrActionFailed, resp.Get("Message")))
		return
	}
	cb(resp, nil)
}

func (c *Client) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]ResponseFunc)
	c.closed = true
	c.mu.Unlock()

	for _, cb := range pending {
		cb(Event{}, ErrConnectionClosed)
	}
}
