package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-recorder/internal/core"
	"github.com/isqad/livelook-recorder/internal/recorder"
)

var errNoRecordingsStorage = errors.New("recordings storage is not configured")

func RecordingStartHandler(rec Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID, kind, err := recordingKeyFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err, "")
			return
		}

		session, err := rec.Start(r.Context(), peerID, kind)
		if err != nil {
			errKind := recorder.ErrorKind(err)
			writeError(w, startErrorStatus(errKind), err, errKind)
			return
		}

		writeJSON(w, http.StatusCreated, session)
	}
}

func startErrorStatus(kind string) int {
	switch kind {
	case "NO_PRODUCER":
		return http.StatusNotFound
	case "ALREADY_RECORDING":
		return http.StatusConflict
	case "PORT_POOL_EXHAUSTED":
		return http.StatusServiceUnavailable
	case "MISSING_CODEC", "INVALID_CODEC":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RecordingStopHandler asks the recording to stop, it is closed asynchronously
func RecordingStopHandler(rec Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peerID, kind, err := recordingKeyFromRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err, "")
			return
		}

		if err := rec.Stop(peerID, kind); err != nil {
			log.Error().Err(err).Str("service", "web").Str("peerID", string(peerID)).Msg("can't stop recording")
			writeError(w, http.StatusInternalServerError, err, "")
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

func RecordingListHandler(rec Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rec.Sessions())
	}
}

func RecordingHistoryHandler(recordings core.RecordingsDBStorer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if recordings == nil {
			writeError(w, http.StatusServiceUnavailable, errNoRecordingsStorage, "")
			return
		}

		var (
			page    int
			perPage int
			err     error
		)

		if pageParam := r.URL.Query().Get("p"); pageParam != "" {
			page, err = strconv.Atoi(pageParam)
			if err != nil || page < 1 {
				writeError(w, http.StatusBadRequest, errors.New("invalid page"), "")
				return
			}
		}
		if perPageParam := r.URL.Query().Get("limit"); perPageParam != "" {
			perPage, err = strconv.Atoi(perPageParam)
			if err != nil || perPage < 1 {
				writeError(w, http.StatusBadRequest, errors.New("invalid limit"), "")
				return
			}
		}

		result, err := recordings.GetAll(page, perPage)
		if err != nil {
			log.Error().Err(err).Str("service", "web").Msg("can't get recordings")
			writeError(w, http.StatusInternalServerError, err, "")
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func recordingKeyFromRequest(r *http.Request) (core.PeerID, core.MediaKind, error) {
	peerID, err := peerIDFromRequest(r)
	if err != nil {
		return "", "", err
	}

	kind, err := core.ParseMediaKind(chi.URLParam(r, "kind"))
	if err != nil {
		return "", "", err
	}

	return peerID, kind, nil
}
