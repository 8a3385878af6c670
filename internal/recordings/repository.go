package recordings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orbit-meet/backend/internal/models"
)

const recordingColumns = `id, room_id, room_code, room_name, owner_id, owner_name, participant_ids,
	status, start_time, end_time, duration_seconds, storage_key, storage_url, file_size,
	scratch_path, error_detail, retention_deadline, created_at, updated_at`

// UpdateFields is a partial update of a recording. Nil fields are left
// untouched, so concurrent writers never clobber each other's columns.
type UpdateFields struct {
	Status            *string
	EndTime           *time.Time
	DurationSeconds   *int
	StorageKey        *string
	StorageURL        *string
	FileSize          *int64
	ScratchPath       *string
	ErrorDetail       *string
	RetentionDeadline *time.Time
}

// Repository handles recording persistence on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(
		&rec.ID, &rec.RoomID, &rec.RoomCode, &rec.RoomName, &rec.OwnerID, &rec.OwnerName, &rec.ParticipantIDs,
		&rec.Status, &rec.StartTime, &rec.EndTime, &rec.DurationSeconds, &rec.StorageKey, &rec.StorageURL, &rec.FileSize,
		&rec.ScratchPath, &rec.ErrorDetail, &rec.RetentionDeadline, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create inserts a new recording job. A unique partial index on
// (room_id, status in recording/processing) makes the one-active-per-room
// invariant atomic; a violation is surfaced as ErrConflict.
func (r *Repository) Create(ctx context.Context, rec *models.Recording) error {
	const q = `INSERT INTO recordings
		(room_id, room_code, room_name, owner_id, owner_name, participant_ids, status, start_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q,
		rec.RoomID, rec.RoomCode, rec.RoomName, rec.OwnerID, rec.OwnerName, rec.ParticipantIDs, rec.Status, rec.StartTime,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return err
	}
	return nil
}

// Update applies a field-merge partial update; unset fields keep their values.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, fields UpdateFields) error {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{id}
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if fields.Status != nil {
		add("status", *fields.Status)
	}
	if fields.EndTime != nil {
		add("end_time", *fields.EndTime)
	}
	if fields.DurationSeconds != nil {
		add("duration_seconds", *fields.DurationSeconds)
	}
	if fields.StorageKey != nil {
		add("storage_key", *fields.StorageKey)
	}
	if fields.StorageURL != nil {
		add("storage_url", *fields.StorageURL)
	}
	if fields.FileSize != nil {
		add("file_size", *fields.FileSize)
	}
	if fields.ScratchPath != nil {
		add("scratch_path", *fields.ScratchPath)
	}
	if fields.ErrorDetail != nil {
		add("error_detail", *fields.ErrorDetail)
	}
	if fields.RetentionDeadline != nil {
		add("retention_deadline", *fields.RetentionDeadline)
	}

	q := fmt.Sprintf("UPDATE recordings SET %s WHERE id = $1", strings.Join(sets, ", "))
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID returns a recording by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	q := fmt.Sprintf("SELECT %s FROM recordings WHERE id = $1", recordingColumns)
	rec, err := scanRecording(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListByRoom returns all recordings for a room, newest first.
func (r *Repository) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Recording, error) {
	q := fmt.Sprintf("SELECT %s FROM recordings WHERE room_id = $1 ORDER BY start_time DESC", recordingColumns)
	return r.list(ctx, q, roomID)
}

// ListForUser returns recordings the user owns or participated in, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Recording, error) {
	q := fmt.Sprintf(
		"SELECT %s FROM recordings WHERE owner_id = $1 OR $1 = ANY(participant_ids) ORDER BY start_time DESC",
		recordingColumns)
	return r.list(ctx, q, userID)
}

// GetActive returns the recording holding the room's active slot, or nil.
func (r *Repository) GetActive(ctx context.Context, roomID uuid.UUID) (*models.Recording, error) {
	q := fmt.Sprintf(
		"SELECT %s FROM recordings WHERE room_id = $1 AND status IN ('recording', 'processing') LIMIT 1",
		recordingColumns)
	rec, err := scanRecording(r.pool.QueryRow(ctx, q, roomID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// ListExpired returns completed recordings whose retention deadline has passed.
func (r *Repository) ListExpired(ctx context.Context, now time.Time) ([]models.Recording, error) {
	q := fmt.Sprintf(
		`SELECT %s FROM recordings
		WHERE status = 'completed' AND retention_deadline IS NOT NULL AND retention_deadline <= $1
		ORDER BY retention_deadline`, recordingColumns)
	return r.list(ctx, q, now)
}

// Delete removes a recording's metadata record.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM recordings WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) list(ctx context.Context, q string, arg interface{}) ([]models.Recording, error) {
	rows, err := r.pool.Query(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
