package eventbus

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-recorder/internal/core"
	"github.com/isqad/livelook-recorder/internal/eventbus/rpc"
)

var (
	errConvertCommand  = errors.New("can't convert to recording command")
	errNoPeerID        = errors.New("can't get peer id")
	errUndefinedMethod = errors.New("undefined method")
	errNoCallback      = errors.New("callback is not set")
)

// RecordingCallback handles a recording command of the peer
type RecordingCallback func(core.PeerID, core.MediaKind) error

// Router dispatches commands of the peers to callbacks.
// Commands come from redis pub/sub or are passed to Dispatch directly.
type Router struct {
	EventsSubscriber Subscriber
	subscription     RedisBus

	onStartRecording RecordingCallback
	onStopRecording  RecordingCallback

	stopOnce sync.Once
	stopped  chan struct{}
}

func NewRouter(sub Subscriber) (*Router, error) {
	router := &Router{
		EventsSubscriber: sub,
		stopped:          make(chan struct{}),
	}

	if sub != nil {
		subscription, err := router.EventsSubscriber.SubscribeServer()
		if err != nil {
			return nil, err
		}
		router.subscription = subscription
	}

	return router, nil
}

// Start reads the server subscription in background. The returned channel
// is closed when reading has begun.
func (router *Router) Start() <-chan struct{} {
	log.Debug().Str("service", "router").Msg("start")

	started := make(chan struct{})

	go func() {
		defer close(router.stopped)

		if router.subscription == nil {
			close(started)
			return
		}

		channel := router.subscription.Channel()
		close(started)

		for msg := range channel {
			if err := router.Dispatch([]byte(msg.Payload)); err != nil {
				log.Error().Err(err).Str("service", "router").Msg("")
			}
		}
	}()

	return started
}

// Stop closes the subscription. The returned channel is closed after
// the last message is handled.
func (router *Router) Stop() <-chan struct{} {
	router.stopOnce.Do(func() {
		if router.subscription == nil {
			return
		}
		if err := router.subscription.Close(); err != nil {
			log.Error().Err(err).Str("service", "router").Msg("can't close subscription")
		}
	})

	return router.stopped
}

// Dispatch handles a ServerMessage payload
func (router *Router) Dispatch(payload []byte) error {
	peerID, r, err := parseRpc(payload)
	if err != nil {
		return err
	}

	cmd, ok := r.(*rpc.RecordingCommandRpc)
	if !ok {
		return errConvertCommand
	}

	var callback RecordingCallback

	switch r.GetMethod() {
	case rpc.StartRecordingMethod:
		callback = router.onStartRecording
	case rpc.StopRecordingMethod:
		callback = router.onStopRecording
	default:
		log.Error().Err(errUndefinedMethod).Str("rpcMethod", string(r.GetMethod())).Str("service", "router").Msg("")
		return errUndefinedMethod
	}

	if callback == nil {
		return errNoCallback
	}

	return callback(peerID, cmd.Params.Kind)
}

func parseRpc(payload []byte) (core.PeerID, rpc.Rpc, error) {
	serverMessage := ServerMessage{}
	if err := json.Unmarshal(payload, &serverMessage); err != nil {
		return "", nil, err
	}

	if serverMessage.PeerID == "" {
		log.Error().Str("payload", string(payload)).Str("service", "router").Err(errNoPeerID).Msg("")
		return "", nil, errNoPeerID
	}

	r, err := rpc.RpcFromReader(bytes.NewReader(serverMessage.Message))
	if err != nil {
		return "", nil, err
	}

	return serverMessage.PeerID, r, nil
}

func (router *Router) OnStartRecording(callback RecordingCallback) {
	router.onStartRecording = callback
}

func (router *Router) OnStopRecording(callback RecordingCallback) {
	router.onStopRecording = callback
}
