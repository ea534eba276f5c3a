package models

import "time"

// RoomMetadata is the persisted counterpart of a live room
type RoomMetadata struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"` // Short, shareable room code (e.g., "ABCD23")
	Name             string    `json:"name"`
	CreatorID        string    `json:"creatorId"`
	CreatedAt        time.Time `json:"createdAt"`
	MaxParticipants  int       `json:"maxParticipants"`
	ParticipantCount int       `json:"participantCount"`
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	Name            string `json:"name" binding:"required,max=128"`
	MaxParticipants int    `json:"maxParticipants" binding:"omitempty,min=2,max=64"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
	Name   string `json:"name"`
}

// PostMessageRequest mirrors the chatMessage event for HTTP clients
type PostMessageRequest struct {
	Room     string `json:"room" binding:"required"`
	Username string `json:"username" binding:"required"`
	Message  string `json:"message" binding:"required"`
}

// User is a registered account
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}
