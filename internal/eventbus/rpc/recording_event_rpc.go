package rpc

import (
	"encoding/json"
	"time"

	"github.com/isqad/livelook-recorder/internal/core"
)

// RecordingParams describes a recording to clients
type RecordingParams struct {
	ID        string         `json:"id"`
	PeerID    core.PeerID    `json:"peer_id"`
	Kind      core.MediaKind `json:"kind"`
	Port      int            `json:"port"`
	Codec     string         `json:"codec"`
	FilePath  string         `json:"file_path"`
	StartedAt time.Time      `json:"started_at"`
	ExitError string         `json:"exit_error,omitempty"`
}

type RecordingEventRpc struct {
	jsonRpcHead
	Params RecordingParams `json:"params"`
}

func NewRecordingStartedRpc(params RecordingParams) *RecordingEventRpc {
	return newRecordingEventRpc(RecordingStartedMethod, params)
}

func NewRecordingClosedRpc(params RecordingParams) *RecordingEventRpc {
	return newRecordingEventRpc(RecordingClosedMethod, params)
}

func newRecordingEventRpc(method Method, params RecordingParams) *RecordingEventRpc {
	return &RecordingEventRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  method,
		},
		Params: params,
	}
}

func (r RecordingEventRpc) GetMethod() Method {
	return r.Method
}

func (r RecordingEventRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
