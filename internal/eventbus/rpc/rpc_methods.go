package rpc

import (
	"encoding/json"
	"errors"
	"io"
)

const jsonRpcVersion = "2.0"

type Method string

const (
	// Events sent to clients
	RecordingStartedMethod Method = "recording_started"
	RecordingClosedMethod  Method = "recording_closed"

	// Commands sent to the recorder
	StartRecordingMethod Method = "start_recording"
	StopRecordingMethod  Method = "stop_recording"
)

var (
	ErrUnknownRpcType = errors.New("unknown RPC type")
	ErrMalformedRpc   = errors.New("malformed RPC")
)

type Rpc interface {
	GetMethod() Method
	ToJSON() ([]byte, error)
}

type jsonRpcHead struct {
	Version string `json:"jsonrpc"`
	Method  Method `json:"method"`
}

type jsonRpc struct {
	jsonRpcHead
	Params json.RawMessage `json:"params"`
}

func RpcFromReader(reader io.Reader) (Rpc, error) {
	rpc := &jsonRpc{}

	err := json.NewDecoder(reader).Decode(rpc)
	if err != nil {
		return nil, err
	}

	if rpc.Version != jsonRpcVersion {
		return nil, ErrMalformedRpc
	}

	switch rpc.Method {
	case StartRecordingMethod, StopRecordingMethod:
		params := RecordingCommandParams{}
		if err := unmarshalParams(rpc.Params, &params); err != nil {
			return nil, err
		}

		if rpc.Method == StartRecordingMethod {
			return NewStartRecordingRpc(params.Kind), nil
		}
		return NewStopRecordingRpc(params.Kind), nil
	case RecordingStartedMethod, RecordingClosedMethod:
		params := RecordingParams{}
		if err := unmarshalParams(rpc.Params, &params); err != nil {
			return nil, err
		}

		if rpc.Method == RecordingStartedMethod {
			return NewRecordingStartedRpc(params), nil
		}
		return NewRecordingClosedRpc(params), nil
	default:
		return nil, ErrUnknownRpcType
	}
}

func unmarshalParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return ErrMalformedRpc
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Join(ErrMalformedRpc, err)
	}

	return nil
}
