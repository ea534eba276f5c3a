package handlers

import (
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mossy-p/rtc-rooms/internal/middleware"
	"github.com/mossy-p/rtc-rooms/internal/models"
	"github.com/mossy-p/rtc-rooms/internal/store"
	"github.com/samber/lo"
)

const (
	defaultMaxParticipants = 8
	codeChars              = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// CreateRoom registers a named room (requires authentication)
func (h *Handler) CreateRoom(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Room name is required"})
		return
	}
	if req.MaxParticipants == 0 {
		req.MaxParticipants = defaultMaxParticipants
	}

	room := models.RoomMetadata{
		ID:              uuid.NewString(),
		Code:            generateRoomCode(),
		Name:            req.Name,
		CreatorID:       userID,
		CreatedAt:       time.Now().UTC(),
		MaxParticipants: req.MaxParticipants,
	}
	if err := h.rooms.CreateRoom(c.Request.Context(), room); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Room already exists"})
			return
		}
		h.log.Error("Failed to create room", "name", room.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	h.log.Info("Room created", "room_id", room.ID, "code", room.Code, "name", room.Name, "user_id", userID)
	c.JSON(http.StatusCreated, models.CreateRoomResponse{
		RoomID: room.ID,
		Code:   room.Code,
		Name:   room.Name,
	})
}

// ListRooms returns every registered room with its live participant count
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to list rooms", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list rooms"})
		return
	}
	c.JSON(http.StatusOK, lo.Map(rooms, func(room models.RoomMetadata, _ int) models.RoomMetadata {
		return h.withLiveCount(room)
	}))
}

// GetRoom gets room information by code or ID (public)
func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.findRoom(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		h.roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.withLiveCount(room))
}

// DeleteRoom deletes a room (requires authentication and creator)
func (h *Handler) DeleteRoom(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	room, err := h.findRoom(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		h.roomError(c, err)
		return
	}
	if room.CreatorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	if err := h.rooms.DeleteRoom(c.Request.Context(), room.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		h.log.Error("Failed to delete room", "room_id", room.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
		return
	}

	h.log.Info("Room deleted", "room_id", room.ID, "user_id", userID)
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

func (h *Handler) withLiveCount(room models.RoomMetadata) models.RoomMetadata {
	room.ParticipantCount = h.coord.ParticipantCount(room.Name)
	return room
}

// generateRoomCode generates a random room code
func generateRoomCode() string {
	code := make([]byte, store.RoomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}
