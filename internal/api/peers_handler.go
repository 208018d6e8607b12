package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-recorder/internal/core"
	"github.com/isqad/livelook-recorder/internal/rtc"
)

var errEmptyPeerID = errors.New("empty peer id")

func CapabilitiesHandler(router PeerRouter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, router.Capabilities())
	}
}

// OfferHandler applies the SDP offer of the publisher and responds with the answer
func OfferHandler(router PeerRouter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID, err := peerIDFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err, "")
			return
		}

		offer := webrtc.SessionDescription{}
		if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
			log.Error().Err(err).Str("service", "web").Msg("can't parse offer")
			writeError(w, http.StatusBadRequest, err, "")
			return
		}

		answer, err := router.Publish(r.Context(), peerID, offer)
		if err != nil {
			log.Error().Err(err).Str("service", "web").Str("peerID", string(peerID)).Msg("can't handle offer")
			writeError(w, http.StatusUnprocessableEntity, err, "")
			return
		}

		writeJSON(w, http.StatusOK, answer)
	}
}

func ICECandidateHandler(router PeerRouter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID, err := peerIDFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err, "")
			return
		}

		candidate := webrtc.ICECandidateInit{}
		if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
			writeError(w, http.StatusBadRequest, err, "")
			return
		}

		if err := router.AddICECandidate(peerID, candidate); err != nil {
			status := http.StatusUnprocessableEntity
			if errors.Is(err, rtc.ErrNoParticipant) {
				status = http.StatusNotFound
			}
			writeError(w, status, err, "")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// PeerDeleteHandler stops recordings of the peer and closes its transport
func PeerDeleteHandler(router PeerRouter, rec Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID, err := peerIDFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err, "")
			return
		}

		if err := rec.StopPeer(peerID); err != nil {
			log.Error().Err(err).Str("service", "web").Str("peerID", string(peerID)).Msg("can't stop recordings")
		}

		if err := router.RemovePeer(peerID); err != nil {
			if errors.Is(err, rtc.ErrNoParticipant) {
				writeError(w, http.StatusNotFound, err, "")
				return
			}
			writeError(w, http.StatusInternalServerError, err, "")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func peerIDFromRequest(r *http.Request) (core.PeerID, error) {
	peerID := chi.URLParam(r, "peerID")
	if peerID == "" {
		return "", errEmptyPeerID
	}

	return core.PeerID(peerID), nil
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error, kind string) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Str("service", "web").Msg("can't write response")
	}
}
