package models

import (
	"encoding/json"
	"time"
)

// EventType names an event carried over a room connection
type EventType string

// Client to server events. Several names travel in both directions.
const (
	EventJoinRoom           EventType = "joinRoom"
	EventLeaveRoom          EventType = "leaveRoom"
	EventJoinVideoRoom      EventType = "joinVideoRoom"
	EventLeaveVideoRoom     EventType = "leaveVideoRoom"
	EventChatMessage        EventType = "chatMessage"
	EventTyping             EventType = "typing"
	EventStopTyping         EventType = "stopTyping"
	EventOffer              EventType = "offer"
	EventAnswer             EventType = "answer"
	EventCandidate          EventType = "candidate"
	EventScreenShare        EventType = "screenShare"
	EventScreenShareStarted EventType = "screenShareStarted"
	EventScreenShareEnded   EventType = "screenShareEnded"
	EventRaiseHand          EventType = "raiseHand"
	EventSendReaction       EventType = "sendReaction"
)

// Server to client events.
const (
	EventConnected         EventType = "connected"
	EventChatHistory       EventType = "chatHistory"
	EventOnlineUsers       EventType = "onlineUsers"
	EventParticipantCount  EventType = "participantCount"
	EventUserTyping        EventType = "userTyping"
	EventUserStoppedTyping EventType = "userStoppedTyping"
	EventNewUser           EventType = "newUser"
	EventUserLeft          EventType = "userLeft"
	EventHandRaised        EventType = "handRaised"
	EventReaction          EventType = "reaction"
	EventError             EventType = "error"
)

// Envelope is an inbound frame; Data is decoded once the type is known
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// OutboundEvent is what the coordinator hands to a connection
type OutboundEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

// ChatMessage is a persisted room message. ClientID is never stored; it
// echoes the sender's optimistic id back so the client can reconcile.
type ChatMessage struct {
	ID          string    `json:"id"`
	Room        string    `json:"room" validate:"required,max=128"`
	DisplayName string    `json:"displayName" validate:"required,max=64"`
	Body        string    `json:"body" validate:"required,max=4000"`
	Timestamp   time.Time `json:"timestamp"`
	ClientID    string    `json:"clientId,omitempty"`
}

// RoomPayload is sent with joinRoom and leaveRoom
type RoomPayload struct {
	DisplayName string `json:"displayName"`
	Room        string `json:"room"`
}

type ChatMessagePayload struct {
	Room        string     `json:"room"`
	DisplayName string     `json:"displayName"`
	Body        string     `json:"body"`
	ClientID    string     `json:"clientId,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// SignalPayload carries an offer, answer or candidate. From is ignored on
// input; the server stamps the sending connection.
type SignalPayload struct {
	Payload json.RawMessage `json:"payload"`
	To      string          `json:"to"`
	From    string          `json:"from,omitempty"`
}

type ScreenSharePayload struct {
	Room      string `json:"room"`
	IsSharing *bool  `json:"isSharing,omitempty"`
}

type RaiseHandPayload struct {
	Room        string `json:"room"`
	DisplayName string `json:"displayName"`
	IsRaised    bool   `json:"isRaised"`
}

type ReactionPayload struct {
	Room        string `json:"room"`
	DisplayName string `json:"displayName"`
	Icon        string `json:"icon"`
}

// Participant is one connection's presence in one room
type Participant struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

type ParticipantCount struct {
	Room  string `json:"room"`
	Count int    `json:"count"`
}

type Roster struct {
	Room         string        `json:"room"`
	Participants []Participant `json:"participants"`
}

type ChatHistory struct {
	Room     string        `json:"room"`
	Messages []ChatMessage `json:"messages"`
}

type TypingIndicator struct {
	Room        string `json:"room"`
	DisplayName string `json:"displayName,omitempty"`
	Text        string `json:"text,omitempty"`
}

// SignalForward is what the target of a relay receives
type SignalForward struct {
	Payload json.RawMessage `json:"payload"`
	From    string          `json:"from"`
}

type ScreenShareState struct {
	Room      string `json:"room"`
	From      string `json:"from"`
	IsSharing bool   `json:"isSharing"`
}

type HandRaised struct {
	Room        string `json:"room"`
	From        string `json:"from"`
	DisplayName string `json:"displayName"`
	IsRaised    bool   `json:"isRaised"`
}

type Reaction struct {
	Room        string `json:"room"`
	From        string `json:"from"`
	DisplayName string `json:"displayName"`
	Icon        string `json:"icon"`
}

type Connected struct {
	ConnectionID string `json:"connectionId"`
}

// ErrorPayload acknowledges a rejected or failed event to its sender only
type ErrorPayload struct {
	Event    EventType `json:"event,omitempty"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	ClientID string    `json:"clientId,omitempty"`
}
