package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-recorder/internal/core"
	"github.com/isqad/livelook-recorder/internal/eventbus"
)

const (
	wsSubscriptionSessionKey = "subscription"
	wsPeerIDSessionKey       = "peerId"
)

// Dispatcher applies recording commands, see eventbus.Router
type Dispatcher interface {
	Dispatch(payload []byte) error
}

// WebsocketsHandler streams recording events of the peer given by peer_id
func WebsocketsHandler(eventsSubscriber eventbus.Subscriber, websocket *melody.Melody) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID := core.PeerID(r.URL.Query().Get("peer_id"))
		if peerID == "" {
			writeError(w, http.StatusBadRequest, errEmptyPeerID, "")
			return
		}

		subscription, err := eventsSubscriber.SubscribeClient(peerID)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("can't subscribe the peer to recording events")
			writeError(w, http.StatusInternalServerError, err, "")
			return
		}

		sessKeys := make(map[string]interface{})
		sessKeys[wsPeerIDSessionKey] = peerID
		sessKeys[wsSubscriptionSessionKey] = subscription

		if err := websocket.HandleRequestWithKeys(w, r, sessKeys); err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("can't handle request")
			if err := subscription.Close(); err != nil {
				log.Error().Err(err).Str("service", "websockets").Msg("close subscription")
			}
		}
	}
}

func ConnectHandler(session *melody.Session) {
	subscription, err := getPeerSubscription(session)
	if err != nil {
		log.Error().Err(err).Str("service", "websockets").Msg("extract subscription")
		_ = session.Close()
		return
	}

	go func() {
		for msg := range subscription.Channel() {
			if err := session.Write([]byte(msg.Payload)); err != nil {
				// there's only session closed error can be
				log.Debug().Err(err).Str("service", "websockets").Msg("can't write to websocket")
				return
			}
		}
	}()
}

func DisconnectHandler(session *melody.Session) {
	subscription, err := getPeerSubscription(session)
	if err != nil {
		log.Error().Err(err).Str("service", "websockets").Msg("extract subscription")
		return
	}

	if err := subscription.Close(); err != nil {
		log.Error().Err(err).Str("service", "websockets").Msg("close subscription")
	}
}

// HandleMessage passes recording commands of the peer to the dispatcher
func HandleMessage(commands Dispatcher) func(s *melody.Session, msg []byte) {
	return func(s *melody.Session, msg []byte) {
		if commands == nil {
			return
		}

		peerID, err := getPeerIDFromSession(s)
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("extract peerID")
			return
		}

		payload, err := json.Marshal(eventbus.ServerMessage{PeerID: peerID, Message: msg})
		if err != nil {
			log.Error().Err(err).Str("service", "websockets").Msg("")
			return
		}

		if err := commands.Dispatch(payload); err != nil {
			log.Error().Err(err).Str("service", "websockets").Str("peerID", string(peerID)).Msg("can't dispatch command")
		}
	}
}

func getPeerSubscription(s *melody.Session) (eventbus.RedisBus, error) {
	sub, ok := s.Keys[wsSubscriptionSessionKey]
	if !ok {
		return nil, fmt.Errorf("no sub for given session: %+v", s)
	}
	subscription, ok := sub.(eventbus.RedisBus)
	if !ok {
		return nil, fmt.Errorf("can't convert sub: %+v", sub)
	}
	return subscription, nil
}

func getPeerIDFromSession(s *melody.Session) (core.PeerID, error) {
	peerID, ok := s.Keys[wsPeerIDSessionKey]
	if !ok {
		return "", fmt.Errorf("no peer id for given session: %+v", s)
	}
	id, ok := peerID.(core.PeerID)
	if !ok {
		return "", fmt.Errorf("can't convert peerID: %+v", peerID)
	}
	return id, nil
}
