package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-recorder/internal/config"
	"github.com/isqad/livelook-recorder/internal/core"
)

var (
	ErrNoParticipant = errors.New("participant is not found")
	ErrNoTrack       = fmt.Errorf("%w: track is not published", core.ErrProducerClosed)
)

type RouterParams struct {
	Peer   config.PeerConfig
	WebRTC *config.WebRTCConfig
}

// Router receives media of the participants and forwards it to consumers
type Router struct {
	RouterParams

	lock         sync.RWMutex
	participants map[core.PeerID]*Participant

	onProducer    func(core.Producer)
	onPeerRemoved func(core.PeerID)
}

func NewRouter(params RouterParams) *Router {
	return &Router{
		RouterParams: params,
		participants: make(map[core.PeerID]*Participant),
	}
}

// OnProducer sets the handler called when a peer starts publishing a track
func (r *Router) OnProducer(f func(core.Producer)) {
	r.lock.Lock()
	r.onProducer = f
	r.lock.Unlock()
}

// OnPeerRemoved sets the handler called when a participant is gone
func (r *Router) OnPeerRemoved(f func(core.PeerID)) {
	r.lock.Lock()
	r.onPeerRemoved = f
	r.lock.Unlock()
}

// Publish handles an offer of the peer. The participant is created on the first offer.
func (r *Router) Publish(ctx context.Context, peerID core.PeerID, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	participant, err := r.participant(peerID)
	if err != nil {
		return nil, err
	}

	return participant.HandleOffer(ctx, offer)
}

func (r *Router) AddICECandidate(peerID core.PeerID, candidate webrtc.ICECandidateInit) error {
	r.lock.RLock()
	participant := r.participants[peerID]
	r.lock.RUnlock()

	if participant == nil {
		return ErrNoParticipant
	}

	return participant.AddICECandidate(candidate)
}

func (r *Router) participant(peerID core.PeerID) (*Participant, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if p, ok := r.participants[peerID]; ok {
		return p, nil
	}

	p, err := NewParticipant(peerID, ParticipantParams{
		EnabledCodecs: r.Peer.EnabledCodecs,
		Config:        r.WebRTC,
		OnTrack:       r.trackPublished,
		OnClose:       r.participantClosed,
	})
	if err != nil {
		return nil, err
	}
	r.participants[peerID] = p

	log.Info().Str("service", "router").Str("peerID", string(peerID)).Msg("participant joined")

	return p, nil
}

func (r *Router) join(p *Participant) {
	r.lock.Lock()
	r.participants[p.ID] = p
	r.lock.Unlock()
}

func (r *Router) trackPublished(mt *MediaTrack) {
	r.lock.RLock()
	onProducer := r.onProducer
	r.lock.RUnlock()

	log.Info().Str("service", "router").Str("peerID", string(mt.PeerID)).Str("kind", string(mt.Kind)).Str("codec", mt.Codec.MimeType).Msg("producer created")

	if onProducer != nil {
		go onProducer(mt.Producer())
	}
}

func (r *Router) participantClosed(p *Participant) {
	r.lock.Lock()
	if r.participants[p.ID] == p {
		delete(r.participants, p.ID)
	}
	onPeerRemoved := r.onPeerRemoved
	r.lock.Unlock()

	log.Info().Str("service", "router").Str("peerID", string(p.ID)).Msg("participant left")

	if onPeerRemoved != nil {
		onPeerRemoved(p.ID)
	}
}

// RemovePeer closes the participant and its tracks
func (r *Router) RemovePeer(peerID core.PeerID) error {
	r.lock.RLock()
	participant := r.participants[peerID]
	r.lock.RUnlock()

	if participant == nil {
		return ErrNoParticipant
	}

	participant.Close()

	return nil
}

func (r *Router) Producer(peerID core.PeerID, kind core.MediaKind) (core.Producer, bool) {
	track := r.track(peerID, kind)
	if track == nil {
		return core.Producer{}, false
	}

	return track.Producer(), true
}

func (r *Router) Producers() []core.Producer {
	r.lock.RLock()
	participants := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		participants = append(participants, p)
	}
	r.lock.RUnlock()

	producers := make([]core.Producer, 0, len(participants)*2)
	for _, p := range participants {
		for _, kind := range []core.MediaKind{core.AudioKind, core.VideoKind} {
			if t := p.Track(kind); t != nil {
				producers = append(producers, t.Producer())
			}
		}
	}

	return producers
}

func (r *Router) track(peerID core.PeerID, kind core.MediaKind) *MediaTrack {
	r.lock.RLock()
	participant := r.participants[peerID]
	r.lock.RUnlock()

	if participant == nil {
		return nil
	}

	return participant.Track(kind)
}

// Consume starts sending RTP of the producer to 127.0.0.1:port
func (r *Router) Consume(ctx context.Context, producer core.Producer, port int) (core.Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	track := r.track(producer.PeerID, producer.Kind)
	if track == nil || string(track.ID) != producer.ID {
		return nil, fmt.Errorf("%w: %s", ErrNoTrack, producer.ID)
	}

	sink, err := NewUDPSink(track, port)
	if err != nil {
		return nil, err
	}

	if err := track.AddSink(sink); err != nil {
		_ = sink.Close()
		return nil, err
	}

	if err := track.RequestKeyframe(); err != nil {
		log.Error().Err(err).Str("service", "router").Str("peerID", string(producer.PeerID)).Msg("can't request keyframe")
	}

	log.Debug().Str("service", "router").Str("peerID", string(producer.PeerID)).Str("kind", string(producer.Kind)).Int("port", port).Msg("consumer created")

	return sink, nil
}

// Capabilities returns codecs the router accepts from publishers
func (r *Router) Capabilities() core.RTPParameters {
	codecs := enabledRouterCodecs(r.Peer.EnabledCodecs, config.RTCPFeedbackConfig{})

	params := core.RTPParameters{Codecs: make([]core.RTPCodecParameters, 0, len(codecs))}
	for _, c := range codecs {
		params.Codecs = append(params.Codecs, codecParameters(c.RTPCodecParameters))
	}

	return params
}

// Close closes all participants
func (r *Router) Close() {
	r.lock.RLock()
	participants := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		participants = append(participants, p)
	}
	r.lock.RUnlock()

	for _, p := range participants {
		p.Close()
	}
}
