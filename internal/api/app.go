package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/isqad/melody"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-recorder/internal/core"
	"github.com/isqad/livelook-recorder/internal/eventbus"
	"github.com/isqad/livelook-recorder/internal/recorder"
)

// PeerRouter is the media router peers publish to
type PeerRouter interface {
	Publish(ctx context.Context, peerID core.PeerID, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	AddICECandidate(peerID core.PeerID, candidate webrtc.ICECandidateInit) error
	RemovePeer(peerID core.PeerID) error
	Capabilities() core.RTPParameters
}

// Recorder starts and stops recordings
type Recorder interface {
	Start(ctx context.Context, peerID core.PeerID, kind core.MediaKind) (*recorder.Session, error)
	Stop(peerID core.PeerID, kind core.MediaKind) error
	StopPeer(peerID core.PeerID) error
	Sessions() []*recorder.Session
}

// AppOptions is options of the application
type AppOptions struct {
	Env     core.Environment
	Address string

	Peers            PeerRouter
	Recorder         Recorder
	Recordings       core.RecordingsDBStorer
	EventsSubscriber eventbus.Subscriber
	Commands         Dispatcher

	router    *chi.Mux
	websocket *melody.Melody
}

// App is HTTP application for signaling and recordings control
type App struct {
	AppOptions

	routesOnce sync.Once
}

func NewApp(options AppOptions) *App {
	options.router = chi.NewRouter()
	options.websocket = melody.New()
	options.websocket.Config.MaxMessageSize = 200 * 1024 // 200K

	app := &App{
		AppOptions: options,
	}
	return app
}

// Start serves HTTP until ctx is done
func (app *App) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              app.Address,
		Handler:           app.Router(),
		ReadHeaderTimeout: 1 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	done := make(chan struct{})

	// Shutdown the HTTP server
	go func() {
		defer close(done)

		<-ctx.Done()
		log.Warn().Str("service", "web").Msg("the server is going shutting down")

		// Wait 20 seconds for close http connections
		waitIdleConnCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := app.websocket.Close(); err != nil {
			log.Error().Err(err).Str("service", "web").Msg("can't close websockets")
		}

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(waitIdleConnCtx); err != nil {
			log.Error().Err(err).Str("service", "web").Msg("can't gracefully shutdown the server")
		}
	}()

	log.Info().Str("service", "web").Str("address", app.Address).Msg("server started")

	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-done
	log.Info().Str("service", "web").Msg("server stopped")

	return nil
}

// Router is function for construct http router
func (app *App) Router() http.Handler {
	app.routesOnce.Do(app.mountRoutes)

	return app.router
}

func (app *App) mountRoutes() {
	r := app.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/rtpCapabilities", CapabilitiesHandler(app.Peers))

	r.Route("/peers/{peerID}", func(r chi.Router) {
		r.Post("/offer", OfferHandler(app.Peers))
		r.Post("/candidates", ICECandidateHandler(app.Peers))
		r.Delete("/", PeerDeleteHandler(app.Peers, app.Recorder))
		r.Post("/recordings/{kind}", RecordingStartHandler(app.Recorder))
		r.Delete("/recordings/{kind}", RecordingStopHandler(app.Recorder))
	})

	r.Get("/recordings", RecordingListHandler(app.Recorder))
	r.Get("/recordings/history", RecordingHistoryHandler(app.Recordings))

	if app.EventsSubscriber != nil {
		app.websocket.HandleConnect(ConnectHandler)
		app.websocket.HandleDisconnect(DisconnectHandler)
		app.websocket.HandleMessage(HandleMessage(app.Commands))
		app.websocket.HandleError(func(s *melody.Session, err error) {
			log.Error().Err(err).Str("service", "websockets").Msg("error in websocket session")
		})

		r.Get("/ws", WebsocketsHandler(app.EventsSubscriber, app.websocket))
	}

	r.Handle("/metrics", promhttp.Handler())
}

// InitLogger sets the global logger up for the environment
func InitLogger(env core.Environment) {
	cw := zerolog.NewConsoleWriter()
	log.Logger = log.Output(cw)

	level := zerolog.InfoLevel

	if env.IsDevelopment() {
		level = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(level)
}
