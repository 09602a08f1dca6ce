package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/asterisk-dashboard/internal/config"
	"github.com/sweeney/asterisk-dashboard/internal/logging"
	"github.com/sweeney/asterisk-dashboard/internal/publisher"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional; environment variables override it)")
	envFile := flag.String("env-file", ".env", "Path to a dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(os.Stderr, "configuring logging: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	var pub publisher.Publisher
	if cfg.MQTT.Enabled {
		will := publisher.OfflineStatus(cfg.MQTT.TopicPrefix)
		mqttPub, err := publisher.NewMQTTPublisher(publisher.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			QoS:         1,
			WillTopic:   will.Topic,
			WillPayload: will.Payload,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("connecting to MQTT")
		}
		defer mqttPub.Close()
		pub = mqttPub
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Addr())
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.HTTP.Addr()).Msg("listening")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("ami", cfg.AMI.Addr()).
		Bool("mqtt", cfg.MQTT.Enabled).
		Bool("debug_events", cfg.Debug()).
		Msg("starting asterisk-dashboard")

	if err := newApp(cfg, pub).run(ctx, ln, *configPath); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("fatal error")
		cancel()
		os.Exit(1)
	}

	log.Info().Msg("shutdown complete")
}
