package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/asterisk-dashboard/internal/ami"
	"github.com/sweeney/asterisk-dashboard/internal/config"
	"github.com/sweeney/asterisk-dashboard/internal/correlator"
	"github.com/sweeney/asterisk-dashboard/internal/gateway"
	"github.com/sweeney/asterisk-dashboard/internal/httpapi"
	"github.com/sweeney/asterisk-dashboard/internal/hub"
	"github.com/sweeney/asterisk-dashboard/internal/logging"
	"github.com/sweeney/asterisk-dashboard/internal/publisher"
	"github.com/sweeney/asterisk-dashboard/internal/session"
	"github.com/sweeney/asterisk-dashboard/internal/state"
)

const shutdownTimeout = 5 * time.Second

// app is the assembled service: one gateway fed by the AMI session, served
// over HTTP and optionally mirrored to MQTT.
type app struct {
	cfg    *config.Config
	gw     *gateway.Gateway
	mgr    *session.Manager
	mirror *publisher.Mirror
	server *http.Server
}

// newApp wires the components. pub may be nil when MQTT is disabled.
func newApp(cfg *config.Config, pub publisher.Publisher) *app {
	store := state.New()
	opts := []gateway.Option{gateway.WithDebug(cfg.Debug())}

	var mirror *publisher.Mirror
	if pub != nil {
		mirror = publisher.NewMirror(pub, cfg.MQTT.TopicPrefix)
		opts = append(opts, gateway.WithSink(mirror))
	}

	gw := gateway.New(store, correlator.New(store), hub.New(), opts...)

	mgr := session.New(session.AMIDialer(ami.Options{
		Addr:        cfg.AMI.Addr(),
		Username:    cfg.AMI.Username,
		Secret:      cfg.AMI.Secret,
		DialTimeout: cfg.AMI.DialTimeout,
	}), gw, session.Options{
		InitialBackoff: cfg.AMI.Reconnect.Initial,
		MaxBackoff:     cfg.AMI.Reconnect.Max,
	})

	router := httpapi.NewRouter(gw, httpapi.Options{
		StaticDir:   cfg.HTTP.StaticDir,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})

	return &app{
		cfg:    cfg,
		gw:     gw,
		mgr:    mgr,
		mirror: mirror,
		server: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// reload applies the settings that can change without a restart.
func (a *app) reload(cfg *config.Config) {
	a.gw.SetDebug(cfg.Debug())
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		log.Warn().Err(err).Msg("keeping previous log level")
	}
	log.Info().Bool("debug_events", cfg.Debug()).Str("log_level", cfg.Log.Level).Msg("applied config change")
}

// run serves on ln until ctx is cancelled or a component fails. When
// configPath is set the file is watched for reloadable changes.
func (a *app) run(ctx context.Context, ln net.Listener, configPath string) error {
	g, ctx := errgroup.WithContext(ctx)

	// Request contexts end with the app so streaming clients let Shutdown
	// finish.
	a.server.BaseContext = func(net.Listener) context.Context { return ctx }

	g.Go(func() error { return a.gw.Run(ctx) })
	g.Go(func() error { return a.mgr.Run(ctx) })
	if a.mirror != nil {
		g.Go(func() error { return a.mirror.Run(ctx) })
	}
	if configPath != "" {
		g.Go(func() error { return config.Watch(ctx, configPath, a.reload) })
	}

	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
