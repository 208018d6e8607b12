package core

import (
	"errors"
	"strings"
)

// PeerID identifies a peer publishing media to the router
type PeerID string

type MediaKind string

const (
	VideoKind MediaKind = "video"
	AudioKind MediaKind = "audio"
)

var (
	// ErrProducerClosed is returned by a router consuming a producer which is gone
	ErrProducerClosed = errors.New("producer is closed")

	errUnknownMediaKind = errors.New("unknown media kind")
)

// ParseMediaKind converts the kind from URLs and RPC params
func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(strings.ToLower(s)) {
	case VideoKind:
		return VideoKind, nil
	case AudioKind:
		return AudioKind, nil
	}

	return "", errUnknownMediaKind
}

func (k MediaKind) String() string {
	return string(k)
}

// RTPCodecParameters is a codec negotiated by the router for a stream
type RTPCodecParameters struct {
	MimeType    string `json:"mime_type"`
	PayloadType uint8  `json:"payload_type"`
	ClockRate   uint32 `json:"clock_rate"`
	Channels    uint16 `json:"channels,omitempty"`
	SDPFmtpLine string `json:"sdp_fmtp_line,omitempty"`
}

// Kind returns media kind by MIME type, i.e. video/VP8 is video
func (c RTPCodecParameters) Kind() MediaKind {
	kind, _, _ := strings.Cut(c.MimeType, "/")

	return MediaKind(strings.ToLower(kind))
}

type RTPParameters struct {
	Codecs []RTPCodecParameters `json:"codecs"`
}

// Producer is a media source of the router
type Producer struct {
	ID     string    `json:"id"`
	PeerID PeerID    `json:"peer_id"`
	Kind   MediaKind `json:"kind"`
}

// ConsumerParameters describes a stream which the router sends to a local port.
// The receiver listens for RTCP on RemoteRTCPPort, that is RemoteRTPPort + 1.
// LocalPort is the source port of the RTP packets.
type ConsumerParameters struct {
	RemoteRTPPort  int           `json:"remote_rtp_port"`
	RemoteRTCPPort int           `json:"remote_rtcp_port"`
	LocalPort      int           `json:"local_port,omitempty"`
	RTPParameters  RTPParameters `json:"rtp_parameters"`
}

// Consumer is a plain RTP stream going out of the router
type Consumer interface {
	Parameters() ConsumerParameters
	Close() error
}
