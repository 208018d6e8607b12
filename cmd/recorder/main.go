package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/isqad/livelook-recorder/internal/api"
	"github.com/isqad/livelook-recorder/internal/config"
	"github.com/isqad/livelook-recorder/internal/core"
	"github.com/isqad/livelook-recorder/internal/eventbus"
	"github.com/isqad/livelook-recorder/internal/recorder"
	"github.com/isqad/livelook-recorder/internal/rtc"
	"github.com/isqad/livelook-recorder/internal/transcode"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:        "livelook-recorder",
		Usage:       "Records WebRTC media of peers with ffmpeg",
		Description: "",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
				Value: string(core.DevelopmentEnv),
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':3000' for listen on 0.0.0.0:3000",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the config file, environment variables override it",
			},
		},
		Action: startRecorder,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startRecorder(c *cli.Context) error {
	api.InitLogger(core.Environment(c.String("env")))

	conf, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("address") {
		conf.Address = c.String("address")
	}

	rtcConf, err := config.NewWebRTCConfig(conf)
	if err != nil {
		return err
	}

	ports, err := rtc.NewPortsAllocator(conf.Recording.PortRangeStart, conf.Recording.PortRangeEnd)
	if err != nil {
		return err
	}

	router := rtc.NewRouter(rtc.RouterParams{Peer: conf.Peer, WebRTC: rtcConf})
	defer router.Close()

	params := recorder.ManagerParams{
		Config: conf.Recording,
		Router: router,
		Ports:  ports,
	}
	appOptions := api.AppOptions{
		Env:     core.Environment(c.String("env")),
		Address: conf.Address,
		Peers:   router,
	}

	var subscriber eventbus.Subscriber
	if conf.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: conf.Redis.Addr,
			DB:   conf.Redis.DB,
		})
		defer rdb.Close()

		bus := eventbus.RedisPubSub(rdb)
		subscriber = bus
		params.Notifier = eventbus.NewRecordingNotifier(bus)
		appOptions.EventsSubscriber = bus
	}

	if conf.Database.DSN != "" {
		db, err := sqlx.Connect("pgx", conf.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		recordings := core.NewRecordingsRepository(db)
		params.Catalog = recordings
		appOptions.Recordings = recordings
	}

	manager := recorder.NewManager(params)
	appOptions.Recorder = manager

	router.OnPeerRemoved(func(peerID core.PeerID) {
		if err := manager.StopPeer(peerID); err != nil {
			log.Error().Err(err).Str("service", "recorder").Str("peerID", string(peerID)).Msg("can't stop recordings of the peer")
		}
	})
	if conf.Recording.AutoStart {
		router.OnProducer(func(p core.Producer) {
			// errors are logged by the manager
			_, _ = manager.Start(context.Background(), p.PeerID, p.Kind)
		})
	}

	commands, err := eventbus.NewRouter(subscriber)
	if err != nil {
		return err
	}
	commands.OnStartRecording(func(peerID core.PeerID, kind core.MediaKind) error {
		_, err := manager.Start(context.Background(), peerID, kind)
		return err
	})
	commands.OnStopRecording(manager.Stop)
	appOptions.Commands = commands

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	webApp := api.NewApp(appOptions)
	g.Go(func() error {
		return webApp.Start(ctx)
	})

	<-commands.Start()
	g.Go(func() error {
		<-ctx.Done()
		<-commands.Stop()
		return nil
	})

	if conf.NATS.Addr != "" {
		daemon, err := transcode.New(conf.NATS.Addr, commands)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}

		g.Go(daemon.Run)
		g.Go(func() error {
			<-ctx.Done()
			daemon.Stop()
			return nil
		})
	}

	err = g.Wait()

	log.Info().Str("service", "recorder").Msg("stopping recordings")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if shutdownErr := manager.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Str("service", "recorder").Msg("recordings have been killed")
	}

	return err
}
