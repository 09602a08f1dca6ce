package ami_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/asterisk-dashboard/internal/ami"
)

// fakePBX accepts one AMI connection and lets a test script the server side.
type fakePBX struct {
	ln     net.Listener
	connCh chan net.Conn
}

func newFakePBX(t *testing.T) *fakePBX {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &fakePBX{ln: ln, connCh: make(chan net.Conn, 1)}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		p.connCh <- conn
	}()
	t.Cleanup(func() { ln.Close() })
	return p
}

// accept greets the client and answers the login with the given response.
func (p *fakePBX) accept(t *testing.T, loginResponse string) (net.Conn, *ami.Parser) {
	t.Helper()
	var conn net.Conn
	select {
	case conn = <-p.connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}
	t.Cleanup(func() { conn.Close() })

	conn.Write([]byte("Asterisk Call Manager/7.0.3\r\n"))
	parser := ami.NewParser(bufio.NewReader(conn))
	login, ok := parser.Next()
	if !ok {
		t.Fatal("expected login action")
	}
	if login.Get("Action") != "Login" || login.Get("Username") != "admin" {
		t.Errorf("unexpected login action: %q", login.String())
	}
	conn.Write([]byte(loginResponse))
	return conn, parser
}

func dialAsync(p *fakePBX, secret string) (chan *ami.Client, chan error) {
	clientCh := make(chan *ami.Client, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ami.Dial(context.Background(), ami.Options{
			Addr:        p.ln.Addr().String(),
			Username:    "admin",
			Secret:      secret,
			DialTimeout: 2 * time.Second,
		})
		if err != nil {
			errCh <- err
			return
		}
		clientCh <- c
	}()
	return clientCh, errCh
}

func TestDialLoginRejected(t *testing.T) {
	p := newFakePBX(t)
	_, errCh := dialAsync(p, "wrong")
	p.accept(t, "Response: Error\r\nActionID: login\r\nMessage: Authentication failed\r\n\r\n")

	select {
	case err := <-errCh:
		if !errors.Is(err, ami.ErrLoginFailed) {
			t.Fatalf("expected ErrLoginFailed, got %v", err)
		}
		if !strings.Contains(err.Error(), "Authentication failed") {
			t.Errorf("expected message in error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Dial did not return")
	}
}

func TestClientActionsAndEvents(t *testing.T) {
	p := newFakePBX(t)
	clientCh, errCh := dialAsync(p, "s3cret")
	conn, serverParser := p.accept(t, "Response: Success\r\nActionID: login\r\nMessage: Authentication accepted\r\n\r\n")

	var client *ami.Client
	select {
	case client = <-clientCh:
	case err := <-errCh:
		t.Fatalf("dial failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Dial did not return")
	}
	if client.Banner() != "Asterisk Call Manager/7.0.3" {
		t.Errorf("unexpected banner %q", client.Banner())
	}

	var (
		mu     sync.Mutex
		events []ami.Event
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- client.Run(ctx, func(evt ami.Event) {
			mu.Lock()
			events = append(events, evt)
			mu.Unlock()
		})
	}()

	replies := make(chan ami.Event, 2)
	failures := make(chan error, 2)
	if err := client.Send(ami.NewAction("Command", "Command", "pjsip list endpoints"), func(resp ami.Event, err error) {
		if err != nil {
			failures <- err
			return
		}
		replies <- resp
	}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := client.Send(ami.NewAction("SIPpeers"), func(resp ami.Event, err error) {
		failures <- err
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	cmd, ok := serverParser.Next()
	if !ok || cmd.Get("Action") != "Command" {
		t.Fatalf("expected Command action, got %q", cmd.String())
	}
	peers, ok := serverParser.Next()
	if !ok || peers.Get("Action") != "SIPpeers" {
		t.Fatalf("expected SIPpeers action, got %q", peers.String())
	}

	conn.Write([]byte("Event: PeerStatus\r\nPeer: PJSIP/100\r\nPeerStatus: Reachable\r\n\r\n"))
	conn.Write([]byte("Response: Success\r\nActionID: " + cmd.ActionID() + "\r\nOutput: line one\r\n\r\n"))
	conn.Write([]byte("Response: Error\r\nActionID: " + peers.ActionID() + "\r\nMessage: Invalid/unknown command\r\n\r\n"))

	select {
	case resp := <-replies:
		if got := ami.CommandOutput(resp); len(got) != 1 || got[0] != "line one" {
			t.Errorf("unexpected command output %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no command reply")
	}
	select {
	case err := <-failures:
		if !errors.Is(err, ami.ErrActionFailed) {
			t.Errorf("expected ErrActionFailed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no SIPpeers reply")
	}

	conn.Close()
	select {
	case err := <-runErr:
		if !errors.Is(err, ami.ErrConnectionClosed) {
			t.Errorf("expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after close")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Type() != "PeerStatus" {
		t.Errorf("expected one PeerStatus event, got %d", len(events))
	}

	if err := client.Send(ami.NewAction("Ping"), nil); !errors.Is(err, ami.ErrConnectionClosed) {
		t.Errorf("expected send after close to fail, got %v", err)
	}
}

func TestRunReturnsNilOnCancel(t *testing.T) {
	p := newFakePBX(t)
	clientCh, errCh := dialAsync(p, "s3cret")
	p.accept(t, "Response: Success\r\nActionID: login\r\n\r\n")

	var client *ami.Client
	select {
	case client = <-clientCh:
	case err := <-errCh:
		t.Fatalf("dial failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Dial did not return")
	}

	ctx, cancel := context.WithCancel(context.Background())
	pending := make(chan error, 1)
	client.Send(ami.NewAction("CoreShowChannels"), func(_ ami.Event, err error) { pending <- err })

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx, nil) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if err := <-pending; !errors.Is(err, ami.ErrConnectionClosed) {
		t.Errorf("expected pending action to fail, got %v", err)
	}
}
