package rooms

import (
	"context"
	"crypto/rand"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orbit-meet/backend/internal/models"
)

// ErrRoomNotFound is returned when no room matches the lookup.
var ErrRoomNotFound = errors.New("room not found")

// Repository handles room and membership persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a rooms repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newJoinCode generates a short human-typable room code.
func newJoinCode() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b[:4]) + "-" + string(b[4:])
}

// Create inserts a room with a generated join code and adds the creator as member.
func (r *Repository) Create(ctx context.Context, name string, createdBy uuid.UUID) (*models.Room, error) {
	room := &models.Room{Code: newJoinCode(), Name: name, CreatedBy: createdBy}
	const q = `INSERT INTO rooms (code, name, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`
	if err := r.pool.QueryRow(ctx, q, room.Code, room.Name, room.CreatedBy).
		Scan(&room.ID, &room.CreatedAt, &room.UpdatedAt); err != nil {
		return nil, err
	}
	if err := r.AddMember(ctx, room.ID, createdBy); err != nil {
		return nil, err
	}
	return room, nil
}

// GetByID returns a room by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	const q = `SELECT id, code, name, created_by, created_at, updated_at FROM rooms WHERE id = $1`
	return r.get(ctx, q, id)
}

// GetByCode returns a room by join code.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.Room, error) {
	const q = `SELECT id, code, name, created_by, created_at, updated_at FROM rooms WHERE code = $1`
	return r.get(ctx, q, code)
}

func (r *Repository) get(ctx context.Context, q string, arg interface{}) (*models.Room, error) {
	var room models.Room
	err := r.pool.QueryRow(ctx, q, arg).
		Scan(&room.ID, &room.Code, &room.Name, &room.CreatedBy, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// ListForUser returns rooms the user belongs to, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Room, error) {
	const q = `SELECT r.id, r.code, r.name, r.created_by, r.created_at, r.updated_at
		FROM rooms r JOIN room_members m ON m.room_id = r.id
		WHERE m.user_id = $1 ORDER BY r.created_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Room
	for rows.Next() {
		var room models.Room
		if err := rows.Scan(&room.ID, &room.Code, &room.Name, &room.CreatedBy, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

// AddMember adds the user to the room; already-a-member is a no-op.
func (r *Repository) AddMember(ctx context.Context, roomID, userID uuid.UUID) error {
	const q = `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)
		ON CONFLICT (room_id, user_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, roomID, userID)
	return err
}

// IsMember reports room membership.
func (r *Repository) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`
	var ok bool
	err := r.pool.QueryRow(ctx, q, roomID, userID).Scan(&ok)
	return ok, err
}

// ListMemberIDs returns the ids of all room members.
func (r *Repository) ListMemberIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	const q = `SELECT user_id FROM room_members WHERE room_id = $1 ORDER BY joined_at`
	rows, err := r.pool.Query(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
