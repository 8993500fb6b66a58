// Command zenceliumd is the relay process: it wires configuration, the
// logger, the catalog store, the pub/sub bus, the subscription registry,
// and the HTTP/WebSocket upgrade server together and runs until signalled
// to stop.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zencelium/zencelium/internal/agentconn"
	"github.com/zencelium/zencelium/internal/bus"
	"github.com/zencelium/zencelium/internal/catalog"
	"github.com/zencelium/zencelium/internal/config"
	"github.com/zencelium/zencelium/internal/registry"
	"github.com/zencelium/zencelium/internal/server"
	"github.com/zencelium/zencelium/internal/session"
	"github.com/zencelium/zencelium/internal/zlog"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	zlog.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := zlog.Log

	store, err := catalog.NewSQLiteStore(cfg.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open catalog store")
	}
	defer store.Close()

	var busHub bus.Bus
	if cfg.NATSURL != "" {
		natsBus, err := bus.DialNATS(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to nats")
		}
		busHub = natsBus
	} else {
		log.Info().Msg("no nats_url configured, using in-process bus")
		busHub = bus.NewInMemory()
	}
	defer busHub.Close()

	reg := registry.New(busHub)
	sessions := session.NewManager(cfg.JWTSecret, 24*time.Hour)

	connCfg := agentconn.Config{
		DefaultFrameMaxSize: cfg.DefaultFrameMaxSize,
		StaleBusBackoff:     cfg.StaleBusBackoff,
		UnsubscribedBackoff: cfg.UnsubscribedBackoff,
	}

	srv := server.New(store, reg, busHub, sessions, connCfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(cfg.HTTPAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server exited with error")
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}
}
