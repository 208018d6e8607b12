package core

import (
	"math"

	"github.com/jmoiron/sqlx"
)

const (
	recordingsPageDefault    int = 1
	recordingsPerPageDefault int = 50
)

// RecordingsDBStorer keeps metadata of finished recordings
type RecordingsDBStorer interface {
	Save(*Recording) error
	GetAll(page int, perPage int) (*RecordingsPage, error)
}

type RecordingsPage struct {
	Recordings []*Recording `json:"recordings"`
	TotalPages int          `json:"total_pages"`
}

type RecordingsRepository struct {
	db *sqlx.DB
}

func NewRecordingsRepository(db *sqlx.DB) *RecordingsRepository {
	return &RecordingsRepository{
		db: db,
	}
}

func (r *RecordingsRepository) Save(rec *Recording) error {
	_, err := r.db.Exec(
		`INSERT INTO recordings
			(id, peer_id, kind, codec, file_path, exit_error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID,
		string(rec.PeerID),
		string(rec.Kind),
		rec.Codec,
		rec.FilePath,
		rec.ExitError,
		rec.StartedAt,
		rec.FinishedAt,
	)

	return err
}

func (r *RecordingsRepository) GetAll(page int, perPage int) (*RecordingsPage, error) {
	if page == 0 {
		page = recordingsPageDefault
	}
	if perPage == 0 {
		perPage = recordingsPerPageDefault
	}

	result := &RecordingsPage{}

	var total int
	err := r.db.Get(&total, `SELECT COUNT(*) FROM recordings`)
	if err != nil {
		return nil, err
	}
	result.TotalPages = int(math.Ceil(float64(total) / float64(perPage)))

	recordings := []*Recording{}
	err = r.db.Select(&recordings,
		`SELECT
			id,
			peer_id,
			kind,
			codec,
			file_path,
			exit_error,
			started_at,
			finished_at
		FROM recordings
		ORDER BY finished_at DESC LIMIT $1 OFFSET $2`,
		perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, err
	}

	result.Recordings = recordings

	return result, nil
}
