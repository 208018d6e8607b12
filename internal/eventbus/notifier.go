package eventbus

import (
	"github.com/isqad/livelook-recorder/internal/eventbus/rpc"
	"github.com/isqad/livelook-recorder/internal/recorder"
)

// RecordingNotifier publishes lifecycle of recordings to the peers
type RecordingNotifier struct {
	publisher Publisher
}

func NewRecordingNotifier(publisher Publisher) *RecordingNotifier {
	return &RecordingNotifier{publisher: publisher}
}

func (n *RecordingNotifier) RecordingStarted(s *recorder.Session) error {
	return n.publisher.PublishClient(s.PeerID, rpc.NewRecordingStartedRpc(recordingParams(s, nil)))
}

func (n *RecordingNotifier) RecordingClosed(s *recorder.Session, exitErr error) error {
	return n.publisher.PublishClient(s.PeerID, rpc.NewRecordingClosedRpc(recordingParams(s, exitErr)))
}

func recordingParams(s *recorder.Session, exitErr error) rpc.RecordingParams {
	params := rpc.RecordingParams{
		ID:        s.ID,
		PeerID:    s.PeerID,
		Kind:      s.Kind,
		Port:      s.Port,
		Codec:     s.Codec.CodecName,
		FilePath:  s.OutputPath,
		StartedAt: s.StartedAt,
	}
	if exitErr != nil {
		params.ExitError = exitErr.Error()
	}

	return params
}
