package eventbus

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"github.com/isqad/livelook-recorder/internal/core"
	"github.com/isqad/livelook-recorder/internal/eventbus/rpc"
)

type Channel string

const (
	// RecordingEvents is a channel of a peer's recording events
	RecordingEvents Channel = "recording_events"
	// ServerMessages is a channel of commands for the recorder
	ServerMessages Channel = "recorder_commands"
)

func (c Channel) buildChannel(peerID core.PeerID) string {
	return string(c) + ":" + string(peerID)
}

// ServerMessage is a command of a peer
type ServerMessage struct {
	PeerID  core.PeerID     `json:"peer_id"`
	Message json.RawMessage `json:"rpc"`
}

type Publisher interface {
	PublishClient(peerID core.PeerID, r rpc.Rpc) error
	PublishServer(msg ServerMessage) error
}

type Subscriber interface {
	SubscribeClient(peerID core.PeerID) (RedisBus, error)
	SubscribeServer() (RedisBus, error)
}

type RedisBus interface {
	Channel() <-chan *redis.Message
	Close() error
}

type Subscription struct {
	pubsub *redis.PubSub
}

func (s *Subscription) Channel() <-chan *redis.Message {
	return s.pubsub.Channel()
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

type Eventbus struct {
	rdb *redis.Client
}

// RedisPubSub is factory for building Eventbus based on redis pubsub
func RedisPubSub(rdb *redis.Client) *Eventbus {
	return &Eventbus{rdb: rdb}
}

func (e *Eventbus) PublishClient(peerID core.PeerID, r rpc.Rpc) error {
	msg, err := r.ToJSON()
	if err != nil {
		return err
	}

	return e.rdb.Publish(context.Background(), RecordingEvents.buildChannel(peerID), msg).Err()
}

func (e *Eventbus) PublishServer(msg ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return e.rdb.Publish(context.Background(), string(ServerMessages), payload).Err()
}

func (e *Eventbus) SubscribeClient(peerID core.PeerID) (RedisBus, error) {
	return e.subscribe(RecordingEvents.buildChannel(peerID))
}

func (e *Eventbus) SubscribeServer() (RedisBus, error) {
	return e.subscribe(string(ServerMessages))
}

func (e *Eventbus) subscribe(channel string) (RedisBus, error) {
	ctx := context.Background()

	pubsub := e.rdb.Subscribe(ctx, channel)
	// Wait until subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	return &Subscription{pubsub: pubsub}, nil
}
