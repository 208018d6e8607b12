package recorder

import (
	"time"

	"github.com/isqad/livelook-recorder/internal/core"
)

type sessionKey struct {
	peerID core.PeerID
	kind   core.MediaKind
}

// Session is one running recording of one media kind of a peer
type Session struct {
	ID            string             `json:"id"`
	PeerID        core.PeerID        `json:"peer_id"`
	Kind          core.MediaKind     `json:"kind"`
	Port          int                `json:"port"`
	FileName      string             `json:"file_name"`
	OutputPath    string             `json:"output_path"`
	RTPParameters core.RTPParameters `json:"rtp_parameters"`
	Codec         CodecInfo          `json:"codec"`
	StartedAt     time.Time          `json:"started_at"`

	sessionDescription []byte
	supervisor         Supervisor
	consumer           core.Consumer
	closed             chan struct{}
}

func (s *Session) key() sessionKey {
	return sessionKey{peerID: s.PeerID, kind: s.Kind}
}

func (s *Session) State() ProcessState {
	return s.supervisor.State()
}

// SessionDescription returns the SDP given to ffmpeg
func (s *Session) SessionDescription() string {
	return string(s.sessionDescription)
}

// Closed is closed after the process has exited and the port is released
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}
