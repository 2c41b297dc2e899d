package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MayoPickle/tofu-chillsync/internal/config"
	"github.com/MayoPickle/tofu-chillsync/internal/domain"
	"github.com/MayoPickle/tofu-chillsync/internal/room"
	"github.com/MayoPickle/tofu-chillsync/internal/service"
	"github.com/MayoPickle/tofu-chillsync/pkg/log"
	"github.com/MayoPickle/tofu-chillsync/pkg/response"
)

// multipartOverhead is headroom for form boundaries and headers on top of
// the file size cap.
const multipartOverhead = 1 << 20

// Handler handles the room admin HTTP API.
type Handler struct {
	roomService service.RoomService
	upload      config.UploadConfig
}

// NewHandler creates a new HTTP handler.
func NewHandler(roomService service.RoomService, upload config.UploadConfig) *Handler {
	if upload.FormField == "" {
		upload.FormField = "video"
	}
	return &Handler{
		roomService: roomService,
		upload:      upload,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		rooms := api.Group("/rooms")
		{
			rooms.POST("", h.CreateRoom)
			rooms.GET("", h.ListRooms)
			rooms.GET("/:roomId", h.GetRoom)
			rooms.POST("/:roomId/upload", h.UploadVideo)
		}
	}
}

// CreateRoom creates a new room. An empty body is fine: every field has a default.
func (h *Handler) CreateRoom(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.CreateRoomRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			l.Warn().Err(err).Msg("failed to bind create room request")
			response.BadRequest(c, err.Error())
			return
		}
	}

	resp, err := h.roomService.CreateRoom(ctx, &req)
	if err != nil {
		l.Error().Err(err).Msg("failed to create room")
		response.InternalError(c, "failed to create room")
		return
	}

	response.Created(c, resp, "Room created successfully")
}

// GetRoom returns a room snapshot.
func (h *Handler) GetRoom(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	roomID := c.Param("roomId")

	snap, err := h.roomService.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			response.NotFound(c, "Room not found")
			return
		}
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to get room")
		response.InternalError(c, "failed to get room")
		return
	}

	response.Success(c, snap)
}

// ListRooms lists every live room.
func (h *Handler) ListRooms(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	result, err := h.roomService.ListRooms(ctx)
	if err != nil {
		l.Error().Err(err).Msg("failed to list rooms")
		response.InternalError(c, "failed to list rooms")
		return
	}

	response.Success(c, result)
}

// UploadVideo stores a multipart video for a room. The room is checked
// before the body is read.
func (h *Handler) UploadVideo(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	roomID := c.Param("roomId")
	if _, err := h.roomService.GetRoom(ctx, roomID); err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			response.NotFound(c, "Room not found")
			return
		}
		response.InternalError(c, "failed to get room")
		return
	}

	if h.upload.MaxSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.upload.MaxSize+multipartOverhead)
	}

	header, err := c.FormFile(h.upload.FormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(c, "Video exceeds the upload limit")
			return
		}
		response.BadRequest(c, "No video file uploaded")
		return
	}
	if h.upload.MaxSize > 0 && header.Size > h.upload.MaxSize {
		response.TooLarge(c, "Video exceeds the upload limit")
		return
	}

	file, err := header.Open()
	if err != nil {
		l.Error().Err(err).Msg("failed to open uploaded file")
		response.InternalError(c, "failed to read upload")
		return
	}
	defer file.Close()

	info, err := h.roomService.UploadVideo(ctx, roomID, &service.Upload{
		OriginalName: header.Filename,
		MimeType:     header.Header.Get("Content-Type"),
		Size:         header.Size,
		Body:         file,
	})
	if err != nil {
		switch {
		case errors.Is(err, room.ErrRoomNotFound):
			response.NotFound(c, "Room not found")
		case errors.Is(err, service.ErrMissingFile):
			response.BadRequest(c, "No video file uploaded")
		default:
			l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to store video")
			response.InternalError(c, "failed to store video")
		}
		return
	}

	c.JSON(http.StatusOK, response.Response{
		Success: true,
		Data:    info,
		Message: "Video uploaded successfully",
	})
}

// RegisterHealth registers the liveness probe.
func RegisterHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// RegisterUploads serves locally stored videos under prefix.
func RegisterUploads(r *gin.Engine, prefix, dir string) {
	r.Static(prefix, dir)
}
