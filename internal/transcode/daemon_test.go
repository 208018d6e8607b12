package transcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-recorder/internal/recorder"
)

type MockDispatcher struct {
	Payload []byte
	MockErr error
}

func (d *MockDispatcher) Dispatch(payload []byte) error {
	d.Payload = payload

	return d.MockErr
}

func TestDaemonHandle(t *testing.T) {
	dispatcher := &MockDispatcher{}
	d := newDaemon(nil, dispatcher)

	payload := []byte(`{"peer_id":"P1","rpc":{"jsonrpc":"2.0","method":"start_recording","params":{"kind":"video"}}}`)

	reply, err := d.handle(payload)
	require.Nil(t, err)

	assert.Equal(t, payload, dispatcher.Payload)
	assert.JSONEq(t, `{"ok":true}`, string(reply))
}

func TestDaemonHandleError(t *testing.T) {
	dispatcher := &MockDispatcher{MockErr: fmt.Errorf("%w: P2 audio", recorder.ErrNoProducer)}
	d := newDaemon(nil, dispatcher)

	reply, err := d.handle([]byte(`{}`))
	assert.ErrorIs(t, err, recorder.ErrNoProducer)
	assert.JSONEq(t, `{"ok":false,"error":"peer has no producer of media kind: P2 audio","error_kind":"NO_PRODUCER"}`, string(reply))

	dispatcher.MockErr = errors.New("Boom!")
	reply, _ = d.handle([]byte(`{}`))
	assert.JSONEq(t, `{"ok":false,"error":"Boom!","error_kind":"UNKNOWN"}`, string(reply))
}

func TestDaemonStopIsIdempotent(t *testing.T) {
	d := newDaemon(nil, &MockDispatcher{})

	d.Stop()
	d.Stop()

	<-d.stop
}
