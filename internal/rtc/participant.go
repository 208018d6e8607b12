package rtc

import (
	"context"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-recorder/internal/config"
	"github.com/isqad/livelook-recorder/internal/core"
	"github.com/isqad/livelook-recorder/internal/telemetry"
)

type ParticipantParams struct {
	EnabledCodecs []config.CodecSpec
	Config        *config.WebRTCConfig
	// OnTrack is called when the participant starts publishing a track
	OnTrack func(*MediaTrack)
	// OnClose is called once after the participant is closed
	OnClose func(*Participant)
}

// Participant is a peer publishing its media to the router
type Participant struct {
	sync.Mutex

	ID              core.PeerID
	publisher       *PCTransport
	publishedTracks map[core.MediaKind]*MediaTrack
	closeOnce       sync.Once

	ParticipantParams
}

func NewParticipant(peerID core.PeerID, params ParticipantParams) (*Participant, error) {
	p := newParticipant(peerID, params)

	publisher, err := NewPCTransport(TransportParams{
		EnabledCodecs: params.EnabledCodecs,
		Config:        params.Config,
	})
	if err != nil {
		return nil, err
	}
	p.publisher = publisher

	p.publisher.pc.OnConnectionStateChange(p.handlePrimaryStateChange)
	p.publisher.pc.OnTrack(p.onMediaTrack)

	return p, nil
}

func newParticipant(peerID core.PeerID, params ParticipantParams) *Participant {
	return &Participant{
		ID:                peerID,
		publishedTracks:   make(map[core.MediaKind]*MediaTrack),
		ParticipantParams: params,
	}
}

func (p *Participant) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	log.Debug().Str("service", "participant").Str("ID", string(p.ID)).Msg("add ICE candidate")

	return p.publisher.AddICECandidate(candidate)
}

// HandleOffer applies the publisher's offer and returns the answer
func (p *Participant) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	log.Debug().Str("service", "participant").Str("ID", string(p.ID)).Msg("handle offer")

	if err := p.publisher.SetRemoteDescription(offer); err != nil {
		return nil, err
	}

	answer, err := p.publisher.Answer(ctx)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("service", "participant").Str("ID", string(p.ID)).Str("sdp", answer.SDP).Msg("created answer")

	return answer, nil
}

func (p *Participant) Track(kind core.MediaKind) *MediaTrack {
	p.Lock()
	defer p.Unlock()

	return p.publishedTracks[kind]
}

func (p *Participant) handlePrimaryStateChange(state webrtc.PeerConnectionState) {
	log.Debug().Str("service", "participant").Str("ID", string(p.ID)).Str("state", state.String()).Msg("connection state changed")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		telemetry.ServiceOperationCounter.WithLabelValues("ice_connection", "success", "").Add(1)
	case webrtc.PeerConnectionStateFailed:
		telemetry.ServiceOperationCounter.WithLabelValues("ice_connection", "error", "state_failed").Add(1)
		p.Close()
	case webrtc.PeerConnectionStateClosed:
		p.Close()
	}
}

func (p *Participant) onMediaTrack(track *webrtc.TrackRemote, rtpReceiver *webrtc.RTPReceiver) {
	kind, err := core.ParseMediaKind(track.Kind().String())
	if err != nil {
		log.Error().Err(err).Str("service", "participant").Str("ID", string(p.ID)).Msg("")
		return
	}

	log.Debug().Str("service", "participant").Str("ID", string(p.ID)).Str("kind", string(kind)).Str("codec", track.Codec().MimeType).Msg("on media track")

	// Read incoming RTCP, interceptors process it before returning
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := rtpReceiver.Read(rtcpBuf); rtcpErr != nil {
				return
			}
		}
	}()

	mt := NewMediaTrack(MediaTrackID(track.ID()), MediaTrackParams{
		PeerID: p.ID,
		Kind:   kind,
		Codec:  codecParameters(track.Codec()),
		SSRC:   uint32(track.SSRC()),
		WriteRTCP: func(pkts []rtcp.Packet) error {
			return p.publisher.pc.WriteRTCP(pkts)
		},
	})

	if !p.addTrack(mt) {
		return
	}

	go mt.SendPLI(rtcpPLIInterval)

	if p.OnTrack != nil {
		p.OnTrack(mt)
	}

	mt.ForwardRTP(track)
}

func (p *Participant) addTrack(mt *MediaTrack) bool {
	p.Lock()
	defer p.Unlock()

	if p.publishedTracks == nil {
		return false
	}
	if prev, ok := p.publishedTracks[mt.Kind]; ok {
		prev.Close()
	}
	p.publishedTracks[mt.Kind] = mt

	return true
}

func (p *Participant) Close() {
	p.closeOnce.Do(func() {
		log.Debug().Str("service", "participant").Str("ID", string(p.ID)).Msg("close participant")

		p.Lock()
		for _, t := range p.publishedTracks {
			t.Close()
		}
		p.publishedTracks = nil
		p.Unlock()

		// Close peer connections without blocking participant close. If peer connections are gathering candidates
		// Close will block.
		if p.publisher != nil {
			go p.publisher.Close()
		}

		if p.OnClose != nil {
			p.OnClose(p)
		}
	})
}
