package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-recorder/internal/core"
	"github.com/isqad/livelook-recorder/internal/eventbus"
	"github.com/isqad/livelook-recorder/internal/eventbus/rpc"
	"github.com/isqad/livelook-recorder/internal/recorder"
	"github.com/isqad/livelook-recorder/internal/rtc"
)

const minimalTestSdp = "v=0\r\n" +
	"o=- 4596489990601351948 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n"

var (
	minimalOfferSdp = webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  minimalTestSdp,
	}

	mockSession = &recorder.Session{
		ID:         "42",
		PeerID:     "P1",
		Kind:       core.VideoKind,
		Port:       20000,
		FileName:   "1651399200000",
		OutputPath: "files/P1-video-1651399200000.webm",
		Codec:      recorder.CodecInfo{PayloadType: 100, CodecName: "VP8", ClockRate: 90000},
	}
)

type MockRouter struct {
	Offer      *webrtc.SessionDescription
	Candidate  *webrtc.ICECandidateInit
	Removed    core.PeerID
	PublishErr error
	RemoveErr  error
}

func (r *MockRouter) Publish(ctx context.Context, peerID core.PeerID, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	r.Offer = &offer
	if r.PublishErr != nil {
		return nil, r.PublishErr
	}

	return &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: minimalTestSdp}, nil
}

func (r *MockRouter) AddICECandidate(peerID core.PeerID, candidate webrtc.ICECandidateInit) error {
	r.Candidate = &candidate
	return r.RemoveErr
}

func (r *MockRouter) RemovePeer(peerID core.PeerID) error {
	r.Removed = peerID
	return r.RemoveErr
}

func (r *MockRouter) Capabilities() core.RTPParameters {
	return core.RTPParameters{Codecs: []core.RTPCodecParameters{
		{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000},
	}}
}

type MockRecorder struct {
	lock     sync.Mutex
	Started  []core.MediaKind
	Stopped  []core.MediaKind
	Peers    []core.PeerID
	StartErr error
}

func (r *MockRecorder) Start(ctx context.Context, peerID core.PeerID, kind core.MediaKind) (*recorder.Session, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.Started = append(r.Started, kind)
	if r.StartErr != nil {
		return nil, r.StartErr
	}

	return mockSession, nil
}

func (r *MockRecorder) Stop(peerID core.PeerID, kind core.MediaKind) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.Stopped = append(r.Stopped, kind)
	return nil
}

func (r *MockRecorder) StopPeer(peerID core.PeerID) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.Peers = append(r.Peers, peerID)
	return nil
}

func (r *MockRecorder) Sessions() []*recorder.Session {
	return []*recorder.Session{mockSession}
}

func (r *MockRecorder) StartedKinds() []core.MediaKind {
	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]core.MediaKind{}, r.Started...)
}

func newTestServer(t *testing.T, options AppOptions) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(NewApp(options).Router())
	t.Cleanup(ts.Close)

	return ts
}

func doRequest(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.Nil(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.Nil(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.Nil(t, err)

	return resp, respBody
}

func TestCapabilitiesHandler(t *testing.T) {
	ts := newTestServer(t, AppOptions{Peers: &MockRouter{}, Recorder: &MockRecorder{}})

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/rtpCapabilities", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"codecs":[{"mime_type":"video/VP8","payload_type":96,"clock_rate":90000}]}`, string(body))
}

func TestOfferHandler(t *testing.T) {
	t.Run("with sdp offer responds with the answer", func(t *testing.T) {
		router := &MockRouter{}
		ts := newTestServer(t, AppOptions{Peers: router, Recorder: &MockRecorder{}})

		offer, err := json.Marshal(minimalOfferSdp)
		require.Nil(t, err)

		resp, body := doRequest(t, http.MethodPost, ts.URL+"/peers/P1/offer", string(offer))

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, minimalOfferSdp, *router.Offer)

		answer := webrtc.SessionDescription{}
		require.Nil(t, json.Unmarshal(body, &answer))
		assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	})

	t.Run("bad request if offer is malformed", func(t *testing.T) {
		ts := newTestServer(t, AppOptions{Peers: &MockRouter{}, Recorder: &MockRecorder{}})

		resp, _ := doRequest(t, http.MethodPost, ts.URL+"/peers/P1/offer", "{")

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unprocessable entity if publish has been failed", func(t *testing.T) {
		router := &MockRouter{PublishErr: errors.New("Boom!")}
		ts := newTestServer(t, AppOptions{Peers: router, Recorder: &MockRecorder{}})

		offer, err := json.Marshal(minimalOfferSdp)
		require.Nil(t, err)

		resp, body := doRequest(t, http.MethodPost, ts.URL+"/peers/P1/offer", string(offer))

		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.JSONEq(t, `{"error":"Boom!"}`, string(body))
	})
}

func TestICECandidateHandler(t *testing.T) {
	router := &MockRouter{}
	ts := newTestServer(t, AppOptions{Peers: router, Recorder: &MockRecorder{}})

	resp, _ := doRequest(t, http.MethodPost, ts.URL+"/peers/P1/candidates", `{"candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host"}`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "candidate:1 1 udp 1 127.0.0.1 5000 typ host", router.Candidate.Candidate)

	router.RemoveErr = rtc.ErrNoParticipant
	resp, _ = doRequest(t, http.MethodPost, ts.URL+"/peers/P1/candidates", `{"candidate":""}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPeerDeleteHandler(t *testing.T) {
	router := &MockRouter{}
	rec := &MockRecorder{}
	ts := newTestServer(t, AppOptions{Peers: router, Recorder: rec})

	resp, _ := doRequest(t, http.MethodDelete, ts.URL+"/peers/P1", "")

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, core.PeerID("P1"), router.Removed)
	assert.Equal(t, []core.PeerID{"P1"}, rec.Peers)

	router.RemoveErr = rtc.ErrNoParticipant
	resp, _ = doRequest(t, http.MethodDelete, ts.URL+"/peers/P1", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecordingStartHandler(t *testing.T) {
	t.Run("starts recording", func(t *testing.T) {
		rec := &MockRecorder{}
		ts := newTestServer(t, AppOptions{Peers: &MockRouter{}, Recorder: rec})

		resp, body := doRequest(t, http.MethodPost, ts.URL+"/peers/P1/recordings/video", "")

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, []core.MediaKind{core.VideoKind}, rec.StartedKinds())

		session := &recorder.Session{}
		require.Nil(t, json.Unmarshal(body, session))
		assert.Equal(t, "42", session.ID)
		assert.Equal(t, 20000, session.Port)
		assert.Equal(t, "VP8", session.Codec.CodecName)
	})

	t.Run("bad request for unknown kind", func(t *testing.T) {
		rec := &MockRecorder{}
		ts := newTestServer(t, AppOptions{Peers: &MockRouter{}, Recorder: rec})

		resp, _ := doRequest(t, http.MethodPost, ts.URL+"/peers/P1/recordings/screen", "")

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Empty(t, rec.StartedKinds())
	})

	for _, tc := range []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("%w: P2 audio", recorder.ErrNoProducer), http.StatusNotFound, "NO_PRODUCER"},
		{recorder.ErrAlreadyRecording, http.StatusConflict, "ALREADY_RECORDING"},
		{fmt.Errorf("%w: %w", recorder.ErrPortPoolExhausted, rtc.ErrNoFreePorts), http.StatusServiceUnavailable, "PORT_POOL_EXHAUSTED"},
		{recorder.ErrMissingCodec, http.StatusUnprocessableEntity, "MISSING_CODEC"},
		{recorder.ErrSpawnFailed, http.StatusInternalServerError, "SPAWN_FAILED"},
		{errors.New("Boom!"), http.StatusInternalServerError, "UNKNOWN"},
	} {
		t.Run("responds "+tc.kind, func(t *testing.T) {
			ts := newTestServer(t, AppOptions{Peers: &MockRouter{}, Recorder: &MockRecorder{StartErr: tc.err}})

			resp, body := doRequest(t, http.MethodPost, ts.URL+"/peers/P2/recordings/audio", "")

			assert.Equal(t, tc.status, resp.StatusCode)

			res := errorResponse{}
			require.Nil(t, json.Unmarshal(body, &res))
			assert.Equal(t, tc.kind, res.Kind)
			assert.Equal(t, tc.err.Error(), res.Error)
		})
	}
}

func TestRecordingStopHandler(t *testing.T) {
	rec := &MockRecorder{}
	ts := newTestServer(t, AppOptions{Peers: &MockRouter{}, Recorder: rec})

	resp, _ := doRequest(t, http.MethodDelete, ts.URL+"/peers/P1/recordings/audio", "")

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []core.MediaKind{core.AudioKind}, rec.Stopped)
}

func TestRecordingListHandler(t *testing.T) {
	ts := newTestServer(t, AppOptions{Peers: &MockRouter{}, Recorder: &MockRecorder{}})

	resp, body := doRequest(t, http.MethodGet, ts.URL+"/recordings", "")

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	sessions := []*recorder.Session{}
	require.Nil(t, json.Unmarshal(body, &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, core.PeerID("P1"), sessions[0].PeerID)
}

func TestRecordingHistoryHandler(t *testing.T) {
	t.Run("service unavailable without storage", func(t *testing.T) {
		ts := newTestServer(t, AppOptions{Peers: &MockRouter{}, Recorder: &MockRecorder{}})

		resp, _ := doRequest(t, http.MethodGet, ts.URL+"/recordings/history", "")

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("returns page of recordings", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.Nil(t, err)
		defer db.Close()

		finishedAt := time.Date(2022, 5, 1, 10, 5, 0, 0, time.UTC)

		mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectQuery("SELECT").
			WithArgs(2, 2).
			WillReturnRows(sqlmock.NewRows([]string{"id", "peer_id", "kind", "codec", "file_path", "exit_error", "started_at", "finished_at"}).
				AddRow("42", "P1", "video", "VP8", "files/P1-video-1.webm", nil, finishedAt.Add(-time.Minute), finishedAt))

		repo := core.NewRecordingsRepository(sqlx.NewDb(db, "sqlmock"))
		ts := newTestServer(t, AppOptions{Peers: &MockRouter{}, Recorder: &MockRecorder{}, Recordings: repo})

		resp, body := doRequest(t, http.MethodGet, ts.URL+"/recordings/history?p=2&limit=2", "")

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		page := &core.RecordingsPage{}
		require.Nil(t, json.Unmarshal(body, page))
		assert.Equal(t, 2, page.TotalPages)
		require.Len(t, page.Recordings, 1)
		assert.Equal(t, "42", page.Recordings[0].ID)
		assert.Nil(t, mock.ExpectationsWereMet())
	})

	t.Run("bad request for invalid page", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.Nil(t, err)
		defer db.Close()

		repo := core.NewRecordingsRepository(sqlx.NewDb(db, "sqlmock"))
		ts := newTestServer(t, AppOptions{Peers: &MockRouter{}, Recorder: &MockRecorder{}, Recordings: repo})

		resp, _ := doRequest(t, http.MethodGet, ts.URL+"/recordings/history?p=zero", "")

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestMetricsHandler(t *testing.T) {
	ts := newTestServer(t, AppOptions{Peers: &MockRouter{}, Recorder: &MockRecorder{}})

	resp, err := http.Get(ts.URL + "/metrics")
	require.Nil(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketsHandler(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	bus := eventbus.RedisPubSub(rdb)

	commands, err := eventbus.NewRouter(nil)
	require.Nil(t, err)

	rec := &MockRecorder{}
	commands.OnStartRecording(func(peerID core.PeerID, kind core.MediaKind) error {
		_, err := rec.Start(context.Background(), peerID, kind)
		return err
	})

	ts := newTestServer(t, AppOptions{
		Peers:            &MockRouter{},
		Recorder:         rec,
		EventsSubscriber: bus,
		Commands:         commands,
	})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?peer_id=P1"

	t.Run("bad request without peer id", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
		assert.NotNil(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("streams recording events of the peer", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Nil(t, err)
		defer conn.Close()

		notifier := eventbus.NewRecordingNotifier(bus)

		// the subscription is created before the upgrade, no need to wait for it
		require.Nil(t, notifier.RecordingStarted(mockSession))

		require.Nil(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.Nil(t, err)

		event := &rpc.RecordingEventRpc{}
		require.Nil(t, json.Unmarshal(msg, event))
		assert.Equal(t, rpc.RecordingStartedMethod, event.GetMethod())
		assert.Equal(t, "42", event.Params.ID)
		assert.Equal(t, core.PeerID("P1"), event.Params.PeerID)
	})

	t.Run("dispatches commands of the peer", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Nil(t, err)
		defer conn.Close()

		cmd, err := rpc.NewStartRecordingRpc(core.AudioKind).ToJSON()
		require.Nil(t, err)
		require.Nil(t, conn.WriteMessage(websocket.TextMessage, cmd))

		assert.Eventually(t, func() bool {
			return len(rec.StartedKinds()) == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, []core.MediaKind{core.AudioKind}, rec.StartedKinds())
	})
}
