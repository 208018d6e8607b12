package rtc

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-recorder/internal/core"
)

var errTrackClosed = fmt.Errorf("%w: media track is closed", core.ErrProducerClosed)

type MediaTrackID string

// RTPReader is a source of RTP packets, i.e. webrtc.TrackRemote
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type MediaTrackParams struct {
	PeerID core.PeerID
	Kind   core.MediaKind
	Codec  core.RTPCodecParameters
	SSRC   uint32
	// WriteRTCP sends feedback to the publisher
	WriteRTCP func([]rtcp.Packet) error
}

// MediaTrack is a published track. Every packet read from the publisher
// is written to all attached sinks.
type MediaTrack struct {
	ID MediaTrackID

	MediaTrackParams

	lock      sync.RWMutex
	sinks     map[*UDPSink]struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func NewMediaTrack(id MediaTrackID, params MediaTrackParams) *MediaTrack {
	return &MediaTrack{
		ID:               id,
		MediaTrackParams: params,
		sinks:            make(map[*UDPSink]struct{}),
		closed:           make(chan struct{}),
	}
}

func (t *MediaTrack) Producer() core.Producer {
	return core.Producer{ID: string(t.ID), PeerID: t.PeerID, Kind: t.Kind}
}

func (t *MediaTrack) AddSink(s *UDPSink) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	select {
	case <-t.closed:
		return errTrackClosed
	default:
	}

	t.sinks[s] = struct{}{}

	return nil
}

func (t *MediaTrack) RemoveSink(s *UDPSink) {
	t.lock.Lock()
	delete(t.sinks, s)
	t.lock.Unlock()
}

func (t *MediaTrack) SinksCount() int {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return len(t.sinks)
}

// RequestKeyframe asks the publisher for a keyframe, ffmpeg can't decode video until it gets one
func (t *MediaTrack) RequestKeyframe() error {
	if t.Kind != core.VideoKind || t.WriteRTCP == nil {
		return nil
	}

	return t.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: t.SSRC}})
}

// ForwardRTP reads the publisher until the track is closed or the reader fails
func (t *MediaTrack) ForwardRTP(reader RTPReader) {
	defer t.Close()

	for {
		pkt, _, err := reader.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Error().Err(err).Str("service", "mediatrack").Str("ID", string(t.ID)).Msg("can't read RTP")
			}
			return
		}

		select {
		case <-t.closed:
			return
		default:
		}

		t.lock.RLock()
		for s := range t.sinks {
			if err := s.WriteRTP(pkt); err != nil {
				log.Debug().Err(err).Str("service", "mediatrack").Str("ID", string(t.ID)).Int("port", s.port).Msg("can't write RTP to sink")
			}
		}
		t.lock.RUnlock()
	}
}

// SendPLI requests a keyframe every rtcpPLIInterval while the track is open
func (t *MediaTrack) SendPLI(interval time.Duration) {
	if t.Kind != core.VideoKind {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			if err := t.RequestKeyframe(); err != nil {
				log.Error().Err(err).Str("service", "mediatrack").Str("ID", string(t.ID)).Msg("can't send PLI")
			}
		}
	}
}

func (t *MediaTrack) Closed() <-chan struct{} {
	return t.closed
}

// Close stops forwarding. Sinks are closed by their owners.
func (t *MediaTrack) Close() {
	t.closeOnce.Do(func() {
		log.Debug().Str("service", "mediatrack").Str("ID", string(t.ID)).Msg("close media track")

		t.lock.Lock()
		close(t.closed)
		t.sinks = make(map[*UDPSink]struct{})
		t.lock.Unlock()
	})
}
