package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// KeepAlive is the interval between SSE comments and WebSocket pings.
	KeepAlive = 25 * time.Second

	// WriteTimeout bounds a single WebSocket write.
	WriteTimeout = 2 * time.Second

	// RequestRefresh is the client request that re-runs the bulk queries.
	RequestRefresh = "refresh"
)

// Source is the state owner the transports subscribe to.
type Source interface {
	Subscribe(ctx context.Context) (*Client, error)
	Unsubscribe(c *Client)
	Refresh() error
}

// ServeSSE streams frames as Server-Sent Events, one named event per frame.
func ServeSSE(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		c, err := src.Subscribe(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer src.Unsubscribe(c)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(KeepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-c.Done():
				return
			case f := <-c.Messages():
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Event, f.Data); err != nil {
					log.Debug().Str("component", "hub").Str("clientId", c.ID).Err(err).Msg("SSE write failed")
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type request struct {
	Type string `json:"type"`
}

// ServeWS streams frames as JSON text messages and accepts refresh requests.
func ServeWS(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Str("component", "hub").Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c, err := src.Subscribe(ctx)
		if err != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(WriteTimeout))
			return
		}
		defer src.Unsubscribe(c)

		go readRequests(conn, src, c.ID, cancel)

		ping := time.NewTicker(KeepAlive)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				return
			case f := <-c.Messages():
				_ = conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
				if err := conn.WriteJSON(f); err != nil {
					log.Debug().Str("component", "hub").Str("clientId", c.ID).Err(err).Msg("websocket write failed")
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteTimeout)); err != nil {
					return
				}
			}
		}
	}
}

func readRequests(conn *websocket.Conn, src Source, clientID string, cancel context.CancelFunc) {
	defer cancel()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			log.Debug().Str("component", "hub").Str("clientId", clientID).Msg("ignoring malformed client request")
			continue
		}
		if req.Type != RequestRefresh {
			continue
		}
		if err := src.Refresh(); err != nil {
			log.Info().Str("component", "hub").Str("clientId", clientID).Err(err).Msg("refresh rejected")
		}
	}
}
