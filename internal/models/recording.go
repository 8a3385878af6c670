package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingStatus represents recording lifecycle.
const (
	RecordingStatusRecording  = "recording"
	RecordingStatusProcessing = "processing"
	RecordingStatusCompleted  = "completed"
	RecordingStatusFailed     = "failed"
)

// Recording is one recording job for a room session (scratch file → durable storage → retention purge).
type Recording struct {
	ID                uuid.UUID   `json:"id"`
	RoomID            uuid.UUID   `json:"room_id"`
	RoomCode          string      `json:"room_code"`
	RoomName          string      `json:"room_name"`
	OwnerID           uuid.UUID   `json:"owner_id"`
	OwnerName         string      `json:"owner_name"`
	ParticipantIDs    []uuid.UUID `json:"participant_ids"`
	Status            string      `json:"status"`
	StartTime         time.Time   `json:"start_time"`
	EndTime           *time.Time  `json:"end_time,omitempty"`
	DurationSeconds   int         `json:"duration_seconds"`
	StorageKey        string      `json:"storage_key,omitempty"`
	StorageURL        string      `json:"storage_url,omitempty"`
	FileSize          int64       `json:"file_size"`
	ScratchPath       string      `json:"-"`
	ErrorDetail       string      `json:"error_detail,omitempty"`
	RetentionDeadline *time.Time  `json:"retention_deadline,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Active reports whether the recording still holds the room's recording slot.
func (r *Recording) Active() bool {
	return r.Status == RecordingStatusRecording || r.Status == RecordingStatusProcessing
}

// Stale reports whether an in-progress recording has gone past the liveness
// timeout without a stop signal. Only jobs still in "recording" can be stale;
// "processing" means a stop already arrived and upload is underway.
func (r *Recording) Stale(timeout time.Duration, now time.Time) bool {
	return r.Status == RecordingStatusRecording && r.EndTime == nil && now.Sub(r.StartTime) > timeout
}

// IsOwner reports whether the user started this recording.
func (r *Recording) IsOwner(userID uuid.UUID) bool { return r.OwnerID == userID }

// CanView reports whether the user may read/download this recording
// (owner or captured session participant).
func (r *Recording) CanView(userID uuid.UUID) bool {
	if r.OwnerID == userID {
		return true
	}
	for _, p := range r.ParticipantIDs {
		if p == userID {
			return true
		}
	}
	return false
}
