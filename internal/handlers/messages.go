package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/rtc-rooms/internal/coordinator"
	"github.com/mossy-p/rtc-rooms/internal/models"
)

// GetMessages returns a room's history, oldest first
func (h *Handler) GetMessages(c *gin.Context) {
	room := strings.TrimSpace(c.Param("room"))
	messages, err := h.messages.FindMessagesByRoom(c.Request.Context(), room)
	if err != nil {
		h.log.Error("Failed to fetch messages", "room", room, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	c.JSON(http.StatusOK, messages)
}

// PostMessage stores a message and relays it to the room's live members
func (h *Handler) PostMessage(c *gin.Context) {
	var req models.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "All fields are required"})
		return
	}

	stored, err := h.coord.PostMessage(c.Request.Context(), models.ChatMessage{
		Room:        req.Room,
		DisplayName: req.Username,
		Body:        req.Message,
	})
	switch {
	case errors.Is(err, coordinator.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.log.Error("Failed to send message", "room", req.Room, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Message sent successfully", "data": stored})
}
