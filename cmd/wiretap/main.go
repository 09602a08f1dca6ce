// Command wiretap records a live AMI event stream to a capture file for use
// as a test fixture, or sanitizes an existing capture in place.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/asterisk-dashboard/internal/ami"
	"github.com/sweeney/asterisk-dashboard/internal/redact"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Asterisk AMI host")
	port := flag.Int("port", 5038, "Asterisk AMI port")
	user := flag.String("user", "admin", "AMI username")
	secret := flag.String("secret", "", "AMI secret")
	outDir := flag.String("outdir", "testdata/captures", "Output directory for captures")
	raw := flag.Bool("raw", false, "Write events without redaction")
	sanitize := flag.String("sanitize", "", "Sanitize a capture file in-place (keeps .bak)")
	flag.Parse()

	if *sanitize != "" {
		if err := sanitizeFile(*sanitize); err != nil {
			fmt.Fprintf(os.Stderr, "sanitize error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("sanitized:", *sanitize)
		return
	}

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "error: -secret is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := ami.Options{
		Addr:     net.JoinHostPort(*host, strconv.Itoa(*port)),
		Username: *user,
		Secret:   *secret,
	}
	if err := capture(ctx, opts, *outDir, !*raw); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func capture(ctx context.Context, opts ami.Options, outDir string, redacted bool) error {
	fmt.Printf("connecting to %s...\n", opts.Addr)

	client, err := ami.Dial(ctx, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	filename := filepath.Join(outDir, time.Now().Format("20060102-150405")+".raw")
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	defer f.Close()

	fmt.Printf("writing to %s\n", filename)
	fmt.Printf("banner: %s\n", client.Banner())
	fmt.Fprintf(f, "%s\r\nResponse: Success\r\nMessage: Authentication accepted\r\n\r\n", client.Banner())

	if err := client.Send(ami.NewAction("Events", "EventMask", "on"), nil); err != nil {
		return err
	}

	fmt.Println("streaming events (ctrl+c to stop)...")
	var writeErr error
	count := 0
	runErr := client.Run(ctx, func(evt ami.Event) {
		if writeErr != nil {
			return
		}
		if redacted {
			evt = sanitizeEvent(evt)
		}
		_, writeErr = f.WriteString(evt.String())
		count++
	})
	fmt.Printf("captured %d events\n", count)
	if writeErr != nil {
		return fmt.Errorf("write: %w", writeErr)
	}
	return runErr
}

var ipPattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

// anonymizeIPs replaces every address except loopback.
func anonymizeIPs(s string) string {
	return ipPattern.ReplaceAllStringFunc(s, func(ip string) string {
		if ip == "127.0.0.1" {
			return ip
		}
		return "10.0.0.1"
	})
}

// sanitizeEvent applies the diagnostic redaction rules to every header and
// hides addresses.
func sanitizeEvent(evt ami.Event) ami.Event {
	var kvs []string
	for _, h := range evt.Headers() {
		kvs = append(kvs, h.Key, sanitizeValue(h.Key, h.Value))
	}
	return ami.NewEvent(kvs...)
}

func sanitizeValue(key, value string) string {
	if key != "" {
		if s, ok := redact.Field(key, value).(string); ok {
			value = s
		}
	}
	return anonymizeIPs(value)
}

// sanitizeLine redacts one line of a capture. Lines that are not headers
// only have addresses hidden.
func sanitizeLine(line string) string {
	key, value, ok := strings.Cut(line, ": ")
	if !ok || strings.ContainsAny(key, " \t") {
		return anonymizeIPs(line)
	}
	return key + ": " + sanitizeValue(key, strings.TrimRight(value, "\r")) + crSuffix(line)
}

func crSuffix(line string) string {
	if strings.HasSuffix(line, "\r") {
		return "\r"
	}
	return ""
}

func sanitizeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	bakPath := path + ".bak"
	if err := os.WriteFile(bakPath, data, 0o644); err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		lines[i] = sanitizeLine(line)
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o644)
}
