package recordings

import (
	"context"
	"errors"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbit-meet/backend/internal/middleware"
	"github.com/orbit-meet/backend/internal/models"
	"github.com/orbit-meet/backend/internal/upload"
	"github.com/orbit-meet/backend/pkg/response"
)

// RoomDirectory resolves room identity and membership for recording starts.
// The rooms package implements it; the room itself is an external
// collaborator as far as the recording core is concerned.
type RoomDirectory interface {
	GetByID(ctx context.Context, roomID uuid.UUID) (*models.Room, error)
	ListMemberIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
}

// SweepFunc triggers one retention sweep run and returns (deleted, failed).
type SweepFunc func(ctx context.Context) (int, int)

// Handler handles recording HTTP endpoints.
type Handler struct {
	svc       *Service
	rooms     RoomDirectory
	assembler *upload.Assembler
	sweepNow  SweepFunc // optional: manual retention sweep trigger
	maxChunks int
	logger    *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(svc *Service, rooms RoomDirectory, assembler *upload.Assembler, maxChunks int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxChunks <= 0 {
		maxChunks = 10000
	}
	return &Handler{svc: svc, rooms: rooms, assembler: assembler, maxChunks: maxChunks, logger: logger}
}

// SetSweepTrigger wires the manual retention sweep endpoint.
func (h *Handler) SetSweepTrigger(fn SweepFunc) { h.sweepNow = fn }

// StartRequest is the body for POST /recordings/start.
type StartRequest struct {
	RoomID uuid.UUID `json:"room_id" binding:"required"`
}

// Start handles POST /recordings/start. 409 when an active, non-stale
// recording already exists for the room.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	userName := c.GetString(middleware.ContextUserName)

	room, err := h.rooms.GetByID(c.Request.Context(), req.RoomID)
	if err != nil {
		response.NotFound(c, "room not found")
		return
	}
	member, err := h.rooms.IsMember(c.Request.Context(), room.ID, userID)
	if err != nil || !member {
		response.Forbidden(c, "not a member of this room")
		return
	}
	participants, err := h.rooms.ListMemberIDs(c.Request.Context(), room.ID)
	if err != nil {
		h.logger.Error("list room members failed", zap.Error(err), zap.String("room_id", room.ID.String()))
		response.Internal(c, "failed to start recording")
		return
	}

	rec, err := h.svc.Start(c.Request.Context(), StartParams{
		RoomID:         room.ID,
		RoomCode:       room.Code,
		RoomName:       room.Name,
		OwnerID:        userID,
		OwnerName:      userName,
		ParticipantIDs: participants,
	})
	if err != nil {
		h.respondError(c, err, "failed to start recording")
		return
	}
	response.Created(c, gin.H{"recording_id": rec.ID, "status": rec.Status, "start_time": rec.StartTime})
}

// StopRequest is the body for POST /recordings/:id/stop.
type StopRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

// Stop handles POST /recordings/:id/stop.
func (h *Handler) Stop(c *gin.Context) {
	id, userID, ok := h.idAndUser(c)
	if !ok {
		return
	}
	var req StopRequest
	_ = c.ShouldBindJSON(&req) // body optional

	rec, err := h.svc.Stop(c.Request.Context(), id, userID, req.DurationSeconds)
	if err != nil {
		h.respondError(c, err, "failed to stop recording")
		return
	}
	response.OK(c, gin.H{"recording_id": rec.ID, "status": rec.Status, "duration_seconds": rec.DurationSeconds})
}

// Upload handles POST /recordings/:id/upload (single multipart file).
func (h *Handler) Upload(c *gin.Context) {
	id, userID, ok := h.idAndUser(c)
	if !ok {
		return
	}
	if !h.authorizeUpload(c, id, userID) {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "missing multipart file field")
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		response.BadRequest(c, "unreadable multipart file")
		return
	}
	defer f.Close()

	scratchPath, _, err := h.assembler.SaveStream(f, fileHeader.Filename)
	if err != nil {
		h.logger.Error("save upload to scratch failed", zap.Error(err), zap.String("recording_id", id.String()))
		response.Internal(c, "failed to store upload")
		return
	}

	rec, err := h.svc.FinishUpload(c.Request.Context(), id, userID, scratchPath, fileHeader.Filename)
	if err != nil {
		if !errors.Is(err, ErrStorage) {
			// Job state untouched; the saved scratch file has no owner.
			_ = os.Remove(scratchPath)
		}
		h.respondError(c, err, "failed to complete upload")
		return
	}
	response.OK(c, gin.H{"recording_id": rec.ID, "status": rec.Status, "file_size": rec.FileSize})
}

// UploadInitRequest is the body for POST /recordings/:id/upload/init.
type UploadInitRequest struct {
	TotalChunks int    `json:"total_chunks" binding:"required,min=1"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
}

// UploadInit handles POST /recordings/:id/upload/init.
func (h *Handler) UploadInit(c *gin.Context) {
	id, userID, ok := h.idAndUser(c)
	if !ok {
		return
	}
	var req UploadInitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.TotalChunks > h.maxChunks {
		response.BadRequest(c, "total_chunks exceeds limit")
		return
	}
	if !h.authorizeUpload(c, id, userID) {
		return
	}

	uploadID, err := h.assembler.Init(req.TotalChunks)
	if err != nil {
		h.respondError(c, err, "failed to init upload")
		return
	}
	response.Created(c, gin.H{"upload_id": uploadID, "total_chunks": req.TotalChunks})
}

// UploadChunk handles POST /recordings/:id/upload/chunk (multipart "chunk"
// part plus upload_id and chunk_index form fields). Idempotent per index.
func (h *Handler) UploadChunk(c *gin.Context) {
	id, userID, ok := h.idAndUser(c)
	if !ok {
		return
	}
	if !h.authorizeUpload(c, id, userID) {
		return
	}
	uploadID := c.PostForm("upload_id")
	if uploadID == "" {
		response.BadRequest(c, "upload_id required")
		return
	}
	index, err := strconv.Atoi(c.PostForm("chunk_index"))
	if err != nil {
		response.BadRequest(c, "invalid chunk_index")
		return
	}
	fileHeader, err := c.FormFile("chunk")
	if err != nil {
		response.BadRequest(c, "missing multipart chunk field")
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		response.BadRequest(c, "unreadable multipart chunk")
		return
	}
	defer f.Close()

	n, err := h.assembler.PutChunk(uploadID, index, f)
	if err != nil {
		h.respondError(c, err, "failed to store chunk")
		return
	}
	response.OK(c, gin.H{"upload_id": uploadID, "chunk_index": index, "bytes": n})
}

// UploadCompleteRequest is the body for POST /recordings/:id/upload/complete.
type UploadCompleteRequest struct {
	UploadID string `json:"upload_id" binding:"required"`
	FileName string `json:"file_name"`
}

// UploadComplete handles POST /recordings/:id/upload/complete: assembles the
// chunks and offloads the result to durable storage.
func (h *Handler) UploadComplete(c *gin.Context) {
	id, userID, ok := h.idAndUser(c)
	if !ok {
		return
	}
	var req UploadCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !h.authorizeUpload(c, id, userID) {
		return
	}

	finalPath, err := h.assembler.Complete(req.UploadID, req.FileName)
	if err != nil {
		h.respondError(c, err, "failed to assemble upload")
		return
	}

	rec, err := h.svc.FinishUpload(c.Request.Context(), id, userID, finalPath, req.FileName)
	if err != nil {
		if !errors.Is(err, ErrStorage) {
			_ = os.Remove(finalPath)
		}
		h.respondError(c, err, "failed to complete upload")
		return
	}
	response.OK(c, gin.H{"recording_id": rec.ID, "status": rec.Status, "file_size": rec.FileSize})
}

// List handles GET /recordings: jobs owned by or shared with the caller.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.svc.ListVisible(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to list recordings")
		return
	}
	if list == nil {
		list = []models.Recording{}
	}
	response.OK(c, list)
}

// Download handles GET /recordings/:id/download. Returns a signed URL; owner
// or participant only.
func (h *Handler) Download(c *gin.Context) {
	id, userID, ok := h.idAndUser(c)
	if !ok {
		return
	}
	url, ttl, err := h.svc.Download(c.Request.Context(), id, userID)
	if err != nil {
		h.respondError(c, err, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(ttl.Seconds())})
}

// Delete handles DELETE /recordings/:id. Owner only; blob first, then metadata.
func (h *Handler) Delete(c *gin.Context) {
	id, userID, ok := h.idAndUser(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id, userID); err != nil {
		h.respondError(c, err, "failed to delete recording")
		return
	}
	response.NoContent(c)
}

// CleanupRoom handles POST /recordings/cleanup/:roomId: force-fails the
// room's active recording (operator escape hatch).
func (h *Handler) CleanupRoom(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("roomId"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}
	rec, err := h.svc.CleanupRoom(c.Request.Context(), roomID)
	if err != nil {
		h.respondError(c, err, "failed to clean up room recording")
		return
	}
	response.OK(c, gin.H{"recording_id": rec.ID, "status": rec.Status, "error_detail": rec.ErrorDetail})
}

// SweepNow handles POST /recordings/sweep: manual retention sweep trigger.
func (h *Handler) SweepNow(c *gin.Context) {
	if h.sweepNow == nil {
		response.Internal(c, "retention sweep not configured")
		return
	}
	deleted, failed := h.sweepNow(c.Request.Context())
	response.OK(c, gin.H{"deleted": deleted, "blob_delete_failures": failed})
}

// authorizeUpload verifies the recording exists, the caller owns it, and it
// can still accept an upload. Runs before any assembler state is touched so a
// rejected request cannot consume a session or discard its output.
func (h *Handler) authorizeUpload(c *gin.Context, id, userID uuid.UUID) bool {
	rec, err := h.svc.Get(c.Request.Context(), id, userID)
	if err != nil {
		h.respondError(c, err, "failed to validate upload")
		return false
	}
	if !rec.IsOwner(userID) {
		response.Forbidden(c, "only the owner may upload")
		return false
	}
	if rec.Status != models.RecordingStatusRecording && rec.Status != models.RecordingStatusProcessing {
		h.respondError(c, ErrInvalidState, "failed to validate upload")
		return false
	}
	return true
}

func (h *Handler) idAndUser(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return uuid.Nil, uuid.Nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	return id, userID, true
}

func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	var incomplete *upload.IncompleteUploadError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, upload.ErrUploadNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState):
		response.Conflict(c, err.Error())
	case errors.As(err, &incomplete):
		response.BadRequest(c, incomplete.Error())
	case errors.Is(err, upload.ErrChunkIndexOutOfRange), errors.Is(err, upload.ErrInvalidChunkCount):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrStorage):
		response.BadGateway(c, err.Error())
	default:
		h.logger.Error(fallback, zap.Error(err))
		response.Internal(c, fallback)
	}
}
