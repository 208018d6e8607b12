package core

import "time"

// Recording is a finished recording stored in the catalog
type Recording struct {
	ID         string    `json:"id" db:"id"`
	PeerID     PeerID    `json:"peer_id" db:"peer_id"`
	Kind       MediaKind `json:"kind" db:"kind"`
	Codec      string    `json:"codec" db:"codec"`
	FilePath   string    `json:"file_path" db:"file_path"`
	ExitError  *string   `json:"exit_error,omitempty" db:"exit_error"`
	StartedAt  time.Time `json:"started_at" db:"started_at"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
}
