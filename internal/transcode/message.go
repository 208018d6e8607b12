package transcode

import "github.com/isqad/livelook-recorder/internal/recorder"

// Reply is sent back to requesters of a recording command
type Reply struct {
	// OK is true when the command has been applied
	OK bool `json:"ok"`
	// Error keeps the error message of a failed command
	Error string `json:"error,omitempty"`
	// ErrorKind is a stable code of the error, i.e. NO_PRODUCER
	ErrorKind string `json:"error_kind,omitempty"`
}

func newReply(err error) *Reply {
	if err == nil {
		return &Reply{OK: true}
	}

	return &Reply{
		Error:     err.Error(),
		ErrorKind: recorder.ErrorKind(err),
	}
}
