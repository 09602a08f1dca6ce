// Command dashwatch is a terminal dashboard. It follows the gateway's event
// stream, keeps a local replica of the call and peer state and prints the
// extension board whenever it changes.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/asterisk-dashboard/internal/logging"
	"github.com/sweeney/asterisk-dashboard/internal/view"
)

func main() {
	url := flag.String("url", "http://localhost:3000/api/events", "Gateway event stream URL")
	level := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	if err := logging.Setup(*level, "console"); err != nil {
		fmt.Fprintf(os.Stderr, "configuring logging: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w := &watcher{url: *url, out: os.Stdout, now: time.Now}
	w.run(ctx)
}

type watcher struct {
	url string
	out io.Writer
	now func() time.Time
}

// run follows the stream until ctx is cancelled, reconnecting with backoff.
// Each connection starts from a fresh replica; the gateway always opens a
// stream with the full state.
func (w *watcher) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		m := view.NewModel()
		err := w.follow(ctx, m, bo.Reset)
		if ctx.Err() != nil {
			return
		}
		render(w.out, m, false, w.now())

		wait := bo.NextBackOff()
		log.Warn().Err(err).Dur("retry_in", wait).Msg("event stream lost")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (w *watcher) follow(ctx context.Context, m *view.Model, connected func()) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	connected()

	return readStream(resp.Body, func(event string, data []byte) error {
		if err := m.Apply(event, data); err != nil {
			log.Debug().Str("event", event).Err(err).Msg("ignoring malformed frame")
			return nil
		}
		render(w.out, m, true, w.now())
		return nil
	})
}

// readStream decodes Server-Sent Events and calls fn once per complete
// event. Comments and unnamed events are skipped.
func readStream(r io.Reader, fn func(event string, data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		event string
		data  strings.Builder
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" {
				if err := fn(event, []byte(data.String())); err != nil {
					return err
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("stream closed")
}

var indicatorText = map[view.Indicator]string{
	view.IndicatorConnected:    "● connected",
	view.IndicatorPartial:      "◐ PBX unreachable",
	view.IndicatorDisconnected: "○ disconnected",
}

// render prints the board: connection light, extension rows and the most
// recent activity.
func render(out io.Writer, m *view.Model, linkUp bool, now time.Time) {
	fmt.Fprintf(out, "\n%s  %s\n", now.Format("15:04:05"), indicatorText[m.Indicator(linkUp)])

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"EXT", "STATUS", "FOR", "WITH"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	for _, row := range m.Rows() {
		table.Append([]string{row.Extension, row.StatusText, since(row.SinceEpochMs, now), row.InCallWith})
	}
	table.Render()

	entries := m.Log()
	if len(entries) > 5 {
		entries = entries[len(entries)-5:]
	}
	for _, e := range entries {
		fmt.Fprintf(out, "  [%s] %s\n", e.Kind, e.Message)
	}
}

// since formats the time elapsed from epochMs as m:ss or h:mm:ss.
func since(epochMs int64, now time.Time) string {
	if epochMs <= 0 {
		return ""
	}
	d := now.Sub(time.UnixMilli(epochMs))
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	h, m, s := secs/3600, secs/60%60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
