package rpc

import (
	"encoding/json"

	"github.com/isqad/livelook-recorder/internal/core"
)

type RecordingCommandParams struct {
	Kind core.MediaKind `json:"kind"`
}

// RecordingCommandRpc asks the recorder to start or stop recording of a peer's media kind
type RecordingCommandRpc struct {
	jsonRpcHead
	Params RecordingCommandParams `json:"params"`
}

func NewStartRecordingRpc(kind core.MediaKind) *RecordingCommandRpc {
	return newRecordingCommandRpc(StartRecordingMethod, kind)
}

func NewStopRecordingRpc(kind core.MediaKind) *RecordingCommandRpc {
	return newRecordingCommandRpc(StopRecordingMethod, kind)
}

func newRecordingCommandRpc(method Method, kind core.MediaKind) *RecordingCommandRpc {
	return &RecordingCommandRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  method,
		},
		Params: RecordingCommandParams{Kind: kind},
	}
}

func (r RecordingCommandRpc) GetMethod() Method {
	return r.Method
}

func (r RecordingCommandRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
