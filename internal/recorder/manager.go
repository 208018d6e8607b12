package recorder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-recorder/internal/config"
	"github.com/isqad/livelook-recorder/internal/core"
	"github.com/isqad/livelook-recorder/internal/telemetry"
)

var errEventsInterrupted = errors.New("process events ended without close")

// Router is the media routing engine recordings consume streams from
type Router interface {
	Producer(peerID core.PeerID, kind core.MediaKind) (core.Producer, bool)
	// Consume starts sending RTP of producer to the local port
	Consume(ctx context.Context, producer core.Producer, port int) (core.Consumer, error)
}

type PortAllocator interface {
	Allocate() (int, error)
	Deallocate(port int)
}

// Supervisor runs the recording process of a session
type Supervisor interface {
	Start() error
	Stop() error
	Kill() error
	Events() <-chan ProcessEvent
	State() ProcessState
}

type SupervisorFactory func(binary string, args []string, input []byte) Supervisor

// Notifier is told about recordings lifecycle, i.e. eventbus
type Notifier interface {
	RecordingStarted(s *Session) error
	RecordingClosed(s *Session, exitErr error) error
}

// Catalog keeps finished recordings
type Catalog interface {
	Save(*core.Recording) error
}

type ManagerParams struct {
	Config        config.RecordingConfig
	Router        Router
	Ports         PortAllocator
	Notifier      Notifier
	Catalog       Catalog
	NewSupervisor SupervisorFactory
}

// Manager starts and stops recordings and owns the registry of running ones.
// There is at most one recording per peer and media kind.
type Manager struct {
	ManagerParams

	now func() time.Time

	lock     sync.Mutex
	sessions map[sessionKey]*Session
	pending  map[sessionKey]struct{}
}

func NewManager(params ManagerParams) *Manager {
	if params.NewSupervisor == nil {
		params.NewSupervisor = func(binary string, args []string, input []byte) Supervisor {
			return NewProcess(binary, args, input)
		}
	}

	return &Manager{
		ManagerParams: params,
		now:           time.Now,
		sessions:      make(map[sessionKey]*Session),
		pending:       make(map[sessionKey]struct{}),
	}
}

// Start begins recording of the peer's producer of the given kind.
// A second start for a running or starting recording is rejected with ErrAlreadyRecording.
func (m *Manager) Start(ctx context.Context, peerID core.PeerID, kind core.MediaKind) (*Session, error) {
	key := sessionKey{peerID: peerID, kind: kind}

	m.lock.Lock()
	_, running := m.sessions[key]
	_, starting := m.pending[key]
	if running || starting {
		m.lock.Unlock()
		m.startFailed(key, ErrAlreadyRecording)
		return nil, ErrAlreadyRecording
	}
	m.pending[key] = struct{}{}
	m.lock.Unlock()

	session, err := m.start(ctx, key)

	m.lock.Lock()
	delete(m.pending, key)
	if err == nil {
		m.sessions[key] = session
	}
	m.lock.Unlock()

	if err != nil {
		m.startFailed(key, err)
		return nil, err
	}

	telemetry.ServiceOperationCounter.WithLabelValues("recording_start", "success", "").Add(1)
	telemetry.RecordingStarted()

	log.Info().
		Str("service", "recorder").
		Str("peerID", string(peerID)).
		Str("kind", string(kind)).
		Int("port", session.Port).
		Str("path", session.OutputPath).
		Msg("recording started")

	// Events are drained while the notifier is busy, closing waits for it
	notified := make(chan struct{})
	go m.watch(session, notified)

	if m.Notifier != nil {
		if err := m.Notifier.RecordingStarted(session); err != nil {
			log.Error().Err(err).Str("service", "recorder").Msg("can't notify recording started")
		}
	}
	close(notified)

	return session, nil
}

func (m *Manager) start(ctx context.Context, key sessionKey) (*Session, error) {
	producer, ok := m.Router.Producer(key.peerID, key.kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNoProducer, key.peerID, key.kind)
	}

	port, err := m.Ports.Allocate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPortPoolExhausted, err)
	}

	consumer, err := m.Router.Consume(ctx, producer, port)
	if err != nil {
		m.Ports.Deallocate(port)
		if errors.Is(err, core.ErrProducerClosed) {
			return nil, fmt.Errorf("%w: %w", ErrNoProducer, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConsumeFailed, err)
	}

	params := consumer.Parameters()
	remotePort := params.RemoteRTPPort
	if remotePort == 0 {
		remotePort = port
	}

	codec, err := CodecInfoFromRTPParameters(key.kind, params.RTPParameters)
	if err != nil {
		m.abort(port, consumer)
		return nil, err
	}

	sdp, err := BuildSessionDescription(key.kind, codec, remotePort)
	if err != nil {
		m.abort(port, consumer)
		return nil, err
	}

	startedAt := m.now()
	fileName := strconv.FormatInt(startedAt.UnixMilli(), 10)
	outputPath := OutputPath(m.Config.FileLocationPath, key.peerID, key.kind, fileName, m.Config.Extension)

	log.Debug().Str("service", "recorder").Str("sdp", string(sdp)).Msg("session description")

	supervisor := m.NewSupervisor(m.Config.FFmpegPath, CommandArgs(key.kind, outputPath), sdp)
	if err := supervisor.Start(); err != nil {
		m.abort(port, consumer)
		if !errors.Is(err, ErrSpawnFailed) {
			err = fmt.Errorf("%w: %w", ErrSpawnFailed, err)
		}
		return nil, err
	}

	return &Session{
		ID:                 uuid.NewString(),
		PeerID:             key.peerID,
		Kind:               key.kind,
		Port:               port,
		FileName:           fileName,
		OutputPath:         outputPath,
		RTPParameters:      params.RTPParameters,
		Codec:              *codec,
		StartedAt:          startedAt,
		sessionDescription: sdp,
		supervisor:         supervisor,
		consumer:           consumer,
		closed:             make(chan struct{}),
	}, nil
}

func (m *Manager) abort(port int, consumer core.Consumer) {
	if err := consumer.Close(); err != nil {
		log.Error().Err(err).Str("service", "recorder").Msg("can't close consumer")
	}
	m.Ports.Deallocate(port)
}

func (m *Manager) startFailed(key sessionKey, err error) {
	kind := ErrorKind(err)

	telemetry.ServiceOperationCounter.WithLabelValues("recording_start", "error", kind).Add(1)

	log.Error().
		Err(err).
		Str("service", "recorder").
		Str("peerID", string(key.peerID)).
		Str("kind", string(key.kind)).
		Str("errorKind", kind).
		Msg("can't start recording")
}

func (m *Manager) watch(s *Session, notified <-chan struct{}) {
	logger := log.With().
		Str("service", "recorder").
		Str("peerID", string(s.PeerID)).
		Str("kind", string(s.Kind)).
		Logger()

	closed := false
	for ev := range s.supervisor.Events() {
		switch ev.Type {
		case EventOutput:
			logger.Debug().Str("stream", ev.Stream).Msg(ev.Line)
		case EventError:
			logger.Error().Err(ev.Err).Str("line", ev.Line).Msg("recording process error")
		case EventClosed:
			if !closed {
				closed = true
				<-notified
				m.finish(s, ev.Err)
			}
		}
	}

	if !closed {
		<-notified
		m.finish(s, errEventsInterrupted)
	}
}

func (m *Manager) finish(s *Session, exitErr error) {
	m.lock.Lock()
	if m.sessions[s.key()] == s {
		delete(m.sessions, s.key())
	}
	m.lock.Unlock()

	if err := s.consumer.Close(); err != nil {
		log.Error().Err(err).Str("service", "recorder").Msg("can't close consumer")
	}
	m.Ports.Deallocate(s.Port)

	finishedAt := m.now()
	telemetry.RecordingStopped(finishedAt.Sub(s.StartedAt).Seconds())

	log.Info().
		AnErr("exitErr", exitErr).
		Str("service", "recorder").
		Str("peerID", string(s.PeerID)).
		Str("kind", string(s.Kind)).
		Int("port", s.Port).
		Msg("recording closed")

	if m.Notifier != nil {
		if err := m.Notifier.RecordingClosed(s, exitErr); err != nil {
			log.Error().Err(err).Str("service", "recorder").Msg("can't notify recording closed")
		}
	}

	if m.Catalog != nil {
		rec := &core.Recording{
			ID:         s.ID,
			PeerID:     s.PeerID,
			Kind:       s.Kind,
			Codec:      s.Codec.CodecName,
			FilePath:   s.OutputPath,
			StartedAt:  s.StartedAt,
			FinishedAt: finishedAt,
		}
		if exitErr != nil {
			msg := exitErr.Error()
			rec.ExitError = &msg
		}
		if err := m.Catalog.Save(rec); err != nil {
			log.Error().Err(err).Str("service", "recorder").Msg("can't save recording")
		}
	}

	close(s.closed)
}

// Stop asks the recording process to finish. Nothing happens if there is
// no running recording.
func (m *Manager) Stop(peerID core.PeerID, kind core.MediaKind) error {
	s := m.Session(peerID, kind)
	if s == nil {
		log.Debug().Str("service", "recorder").Str("peerID", string(peerID)).Str("kind", string(kind)).Msg("recording already stopped")
		return nil
	}

	return s.supervisor.Stop()
}

// StopPeer stops all recordings of the peer
func (m *Manager) StopPeer(peerID core.PeerID) error {
	return errors.Join(
		m.Stop(peerID, core.AudioKind),
		m.Stop(peerID, core.VideoKind),
	)
}

func (m *Manager) Session(peerID core.PeerID, kind core.MediaKind) *Session {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.sessions[sessionKey{peerID: peerID, kind: kind}]
}

// Sessions returns running recordings ordered by peer and kind
func (m *Manager) Sessions() []*Session {
	m.lock.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.lock.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].PeerID != sessions[j].PeerID {
			return sessions[i].PeerID < sessions[j].PeerID
		}
		return sessions[i].Kind < sessions[j].Kind
	})

	return sessions
}

// Shutdown stops all recordings and waits until they are closed.
// Processes still running when ctx is done are killed.
func (m *Manager) Shutdown(ctx context.Context) error {
	sessions := m.Sessions()

	for _, s := range sessions {
		if err := s.supervisor.Stop(); err != nil {
			log.Error().Err(err).Str("service", "recorder").Str("peerID", string(s.PeerID)).Msg("can't stop recording")
		}
	}

	for _, s := range sessions {
		select {
		case <-s.closed:
		case <-ctx.Done():
			for _, s := range sessions {
				if err := s.supervisor.Kill(); err != nil {
					log.Error().Err(err).Str("service", "recorder").Str("peerID", string(s.PeerID)).Msg("can't kill recording process")
				}
			}
			return ctx.Err()
		}
	}

	return nil
}
