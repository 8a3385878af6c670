package rooms

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbit-meet/backend/internal/middleware"
	"github.com/orbit-meet/backend/internal/models"
	"github.com/orbit-meet/backend/pkg/response"
)

// Handler handles room HTTP endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a rooms handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// CreateRequest is the body for POST /rooms.
type CreateRequest struct {
	Name string `json:"name" binding:"required"`
}

// Create handles POST /rooms.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	room, err := h.repo.Create(c.Request.Context(), req.Name, userID)
	if err != nil {
		h.logger.Error("create room failed", zap.Error(err))
		response.Internal(c, "failed to create room")
		return
	}
	response.Created(c, room)
}

// JoinRequest is the body for POST /rooms/join.
type JoinRequest struct {
	Code string `json:"code" binding:"required"`
}

// Join handles POST /rooms/join: join a room by its code.
func (h *Handler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	room, err := h.repo.GetByCode(c.Request.Context(), req.Code)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			response.NotFound(c, "room not found")
			return
		}
		h.logger.Error("get room by code failed", zap.Error(err))
		response.Internal(c, "failed to join room")
		return
	}
	if err := h.repo.AddMember(c.Request.Context(), room.ID, userID); err != nil {
		h.logger.Error("add room member failed", zap.Error(err))
		response.Internal(c, "failed to join room")
		return
	}
	response.OK(c, room)
}

// List handles GET /rooms: rooms the caller belongs to.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.repo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list rooms failed", zap.Error(err))
		response.Internal(c, "failed to list rooms")
		return
	}
	if list == nil {
		list = []models.Room{}
	}
	response.OK(c, list)
}

// Get handles GET /rooms/:id. Members only.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	room, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			response.NotFound(c, "room not found")
			return
		}
		h.logger.Error("get room failed", zap.Error(err))
		response.Internal(c, "failed to get room")
		return
	}
	member, err := h.repo.IsMember(c.Request.Context(), id, userID)
	if err != nil || !member {
		response.Forbidden(c, "not a member of this room")
		return
	}
	response.OK(c, room)
}
