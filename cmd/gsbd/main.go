// Package main is the entry point for gsbd, a small demo/debug host
// for the gsb client library: it loads configuration, dials a broker,
// and serves an HTTP surface for inspecting the result.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/howard-nolan/gsb"
	"github.com/howard-nolan/gsb/internal/config"
	"github.com/howard-nolan/gsb/internal/server"
	"github.com/howard-nolan/gsb/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// transportKinds maps the config file's broker.kind string to the
// transport.Kind constant that dials it. A map keeps this a one-line
// addition when a third transport shows up, instead of growing an
// if/else chain.
var transportKinds = map[string]transport.Kind{
	"tcp":  transport.KindTCP,
	"unix": transport.KindUnix,
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().
			Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)

	clientInfo, err := gsb.NewClientInfo(cfg.Client.Name, cfg.Client.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid client info")
	}

	kind, ok := transportKinds[cfg.Broker.Kind]
	if !ok {
		log.Fatal().Str("kind", cfg.Broker.Kind).Msg("unknown broker kind")
	}

	metrics := gsb.NewMetrics(prometheus.DefaultRegisterer)
	router := gsb.Default()

	dialCtx, cancel := context.WithTimeout(context.Background(), cfg.Broker.DialTimeout)
	defer cancel()

	conn, err := gsb.ConnectBrokerWithHandler(dialCtx, kind, cfg.Broker.Addr, clientInfo, nil, router, metrics, log)
	if err != nil {
		// The debug surface is still useful without a broker: run with
		// a nil connection rather than refusing to start.
		log.Error().Err(err).Msg("failed to connect to broker; starting without one")
		conn = nil
	} else {
		log.Info().Str("addr", cfg.Broker.Addr).Str("kind", cfg.Broker.Kind).Msg("connected to broker")
	}

	srv := server.New(cfg, router, conn)

	httpServer := &http.Server{
		Addr:         cfg.Debug.ListenAddr,
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", cfg.Debug.ListenAddr).Msg("gsbd debug surface listening")

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("debug server error")
	}
}
