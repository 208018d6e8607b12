package eventbus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-recorder/internal/core"
	"github.com/isqad/livelook-recorder/internal/eventbus/rpc"
	"github.com/isqad/livelook-recorder/internal/recorder"
)

type MockPublisher struct {
	PeerID  core.PeerID
	Rpc     rpc.Rpc
	MockErr error
}

func (p *MockPublisher) PublishClient(peerID core.PeerID, r rpc.Rpc) error {
	p.PeerID = peerID
	p.Rpc = r

	return p.MockErr
}

func (p *MockPublisher) PublishServer(msg ServerMessage) error {
	return p.MockErr
}

var mockSession = &recorder.Session{
	ID:         "42",
	PeerID:     "P1",
	Kind:       core.VideoKind,
	Port:       20000,
	OutputPath: "files/P1-video-1651399200000.webm",
	Codec:      recorder.CodecInfo{PayloadType: 100, CodecName: "VP8", ClockRate: 90000},
	StartedAt:  time.Date(2022, 5, 1, 10, 0, 0, 0, time.UTC),
}

func TestRecordingNotifierStarted(t *testing.T) {
	publisher := &MockPublisher{}
	notifier := NewRecordingNotifier(publisher)

	require.Nil(t, notifier.RecordingStarted(mockSession))

	assert.Equal(t, core.PeerID("P1"), publisher.PeerID)
	assert.Equal(t, rpc.NewRecordingStartedRpc(rpc.RecordingParams{
		ID:        "42",
		PeerID:    "P1",
		Kind:      core.VideoKind,
		Port:      20000,
		Codec:     "VP8",
		FilePath:  "files/P1-video-1651399200000.webm",
		StartedAt: mockSession.StartedAt,
	}), publisher.Rpc)
}

func TestRecordingNotifierClosed(t *testing.T) {
	publisher := &MockPublisher{}
	notifier := NewRecordingNotifier(publisher)

	require.Nil(t, notifier.RecordingClosed(mockSession, errors.New("exit status 255")))

	event, ok := publisher.Rpc.(*rpc.RecordingEventRpc)
	require.True(t, ok)
	assert.Equal(t, rpc.RecordingClosedMethod, event.GetMethod())
	assert.Equal(t, "exit status 255", event.Params.ExitError)

	publisher.MockErr = errors.New("redis is down")
	assert.EqualError(t, notifier.RecordingClosed(mockSession, nil), "redis is down")
}
