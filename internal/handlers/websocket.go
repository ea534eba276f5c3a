package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/rtc-rooms/internal/coordinator"
	"github.com/mossy-p/rtc-rooms/internal/models"
	"github.com/mossy-p/rtc-rooms/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// HandleWebSocket upgrades a connection that joins rooms through events
func (h *Handler) HandleWebSocket(c *gin.Context) {
	h.serve(c, nil)
}

// HandleSignaling upgrades a connection and joins it to a registered room,
// looked up by id or share code, before any event is read
func (h *Handler) HandleSignaling(c *gin.Context) {
	room, err := h.findRoom(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		h.roomError(c, err)
		return
	}
	// Early answer for the common case; JoinLimited settles races after the upgrade
	if count := h.coord.ParticipantCount(room.Name); room.MaxParticipants > 0 && count >= room.MaxParticipants {
		c.JSON(http.StatusConflict, gin.H{"error": "Room is full"})
		return
	}

	displayName := strings.TrimSpace(c.Query("displayName"))
	if displayName == "" {
		displayName = "Guest"
	}
	h.serve(c, func(ctx context.Context, client *Client) bool {
		_, err := h.coord.JoinLimited(ctx, client.id, room.Name, displayName, room.MaxParticipants)
		if err == nil {
			return true
		}
		client.fail(models.EventJoinRoom, err, "")
		return !errors.Is(err, coordinator.ErrRoomFull)
	})
}

// serve upgrades the request and starts the pumps. onConnect runs before the
// first read; returning false closes the connection.
func (h *Handler) serve(c *gin.Context, onConnect func(context.Context, *Client) bool) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "error", err)
		return
	}

	client := newClient(uuid.NewString(), conn, h)
	if err := h.coord.Connect(client); err != nil {
		h.log.Error("Failed to register connection", "error", err)
		_ = conn.Close()
		return
	}
	h.log.Info("Connection opened", "connection", client.id, "remote", c.ClientIP())

	// The request context ends when this handler returns
	ctx, cancel := context.WithCancel(context.Background())
	go client.writePump()
	go func() {
		defer cancel()
		if onConnect != nil && !onConnect(ctx, client) {
			client.close()
			return
		}
		client.readPump(ctx)
	}()
}

func (h *Handler) findRoom(ctx context.Context, idOrCode string) (models.RoomMetadata, error) {
	idOrCode = strings.TrimSpace(idOrCode)
	if idOrCode == "" {
		return models.RoomMetadata{}, store.ErrNotFound
	}
	if len(idOrCode) == store.RoomCodeLength {
		idOrCode = strings.ToUpper(idOrCode)
	}
	return h.rooms.FindRoom(ctx, idOrCode)
}

func (h *Handler) roomError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	h.log.Error("Room lookup failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
}
