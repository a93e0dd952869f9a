package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/livecast/signaling/backend/chat"
	"github.com/livecast/signaling/backend/config"
	"github.com/livecast/signaling/backend/registry"
	"github.com/livecast/signaling/backend/relay"
	httpServer "github.com/livecast/signaling/backend/server/http"
	websocketServer "github.com/livecast/signaling/backend/server/websocket"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)
	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a", cfg.APIListenAddr, "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", cfg.WSListenAddr, "websocket listen address")
		logLevel      = fs.StringP("log-level", "l", cfg.LogLevel, "log level")
	)
	if err = fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	rooms := registry.NewRoomRegistry()
	participants := registry.NewParticipantRegistry(rooms)

	rl := relay.New(relay.Config{
		Logger:       &logger,
		Rooms:        rooms,
		Participants: participants,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:       &logger,
		Rooms:        rooms,
		Participants: participants,
		ListenAddr:   *apiListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:     &logger,
		Relay:      rl,
		Chat:       chat.NewHub(&logger),
		ListenAddr: *wsListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
