package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MayoPickle/tofu-chillsync/internal/config"
	"github.com/MayoPickle/tofu-chillsync/internal/domain"
	"github.com/MayoPickle/tofu-chillsync/internal/hub"
	"github.com/MayoPickle/tofu-chillsync/internal/service"
	"github.com/MayoPickle/tofu-chillsync/pkg/log"
)

type WSHandler struct {
	hub      *hub.Hub
	service  service.SyncService
	wsCfg    config.WebSocketConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, svc service.SyncService, wsCfg config.WebSocketConfig, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		wsCfg:   wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || OriginAllowed(allowedOrigins, origin)
			},
		},
	}
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	l := log.Ctx(c.Request.Context())

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.wsCfg)
	h.hub.Register(client)

	l.Info().Str(log.FieldConnectionID, client.ID).Str(log.FieldClientIP, c.ClientIP()).Msg("client connected")

	go client.WritePump()
	go client.ReadPump(h.handleMessage, h.handleClose)
}

func (h *WSHandler) handleClose(client *hub.Client) {
	ctx, l := log.ForConnection(context.Background(), client.ID)
	if err := h.service.HandleDisconnect(ctx, client); err != nil {
		l.Warn().Err(err).Msg("disconnect cleanup failed")
	}
	l.Info().Msg("client disconnected")
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	ctx, l := log.ForConnection(context.Background(), client.ID)
	l = l.With().Str(log.FieldMessageType, base.Type).Logger()

	var err error
	switch base.Type {
	case domain.MsgTypeJoin:
		var msg domain.JoinMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleJoin(ctx, client, &msg)

	case domain.MsgTypePlaybackControl:
		var msg domain.PlaybackControlMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandlePlaybackControl(ctx, client, &msg)

	case domain.MsgTypeRequestSync:
		var msg domain.RequestSyncMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleRequestSync(ctx, client, &msg)

	case domain.MsgTypeChatMessage:
		var msg domain.ChatMessageIn
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleChatMessage(ctx, client, &msg)

	case domain.MsgTypeUserNameChanged:
		var msg domain.RenameMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleRename(ctx, client, &msg)

	case domain.MsgTypeLeave:
		var msg domain.LeaveMessage
		if !h.decode(client, message, &msg) {
			return
		}
		err = h.service.HandleLeave(ctx, client, &msg)

	case domain.MsgTypePing:
		client.SendMessage(&domain.PongMessage{Type: domain.MsgTypePong})

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
	}

	if err != nil {
		l.Debug().Err(err).Msg("request rejected")
	}
}

func (h *WSHandler) decode(client *hub.Client, message []byte, v interface{}) bool {
	if err := json.Unmarshal(message, v); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message payload"))
		return false
	}
	return true
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}
