package recorder

import "errors"

var (
	ErrMissingCodec       = errors.New("no negotiated codec for media kind")
	ErrInvalidCodec       = errors.New("invalid codec parameters")
	ErrPortPoolExhausted  = errors.New("port pool exhausted")
	ErrSpawnFailed        = errors.New("can't spawn recording process")
	ErrNoProducer         = errors.New("peer has no producer of media kind")
	ErrAlreadyRecording   = errors.New("recording is already running")
	ErrConsumeFailed      = errors.New("can't consume producer")
	errProcessNotStarting = errors.New("process has been started already")
)

// ErrorKind returns a stable error code for API responses and metric labels
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCodec):
		return "MISSING_CODEC"
	case errors.Is(err, ErrInvalidCodec):
		return "INVALID_CODEC"
	case errors.Is(err, ErrPortPoolExhausted):
		return "PORT_POOL_EXHAUSTED"
	case errors.Is(err, ErrSpawnFailed):
		return "SPAWN_FAILED"
	case errors.Is(err, ErrNoProducer):
		return "NO_PRODUCER"
	case errors.Is(err, ErrAlreadyRecording):
		return "ALREADY_RECORDING"
	case errors.Is(err, ErrConsumeFailed):
		return "CONSUME_FAILED"
	default:
		return "UNKNOWN"
	}
}
