package coordinator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mossy-p/rtc-rooms/internal/models"
)

// Client supplied timestamps must fit in int64 nanoseconds
var (
	earliestTimestamp = time.Unix(0, math.MinInt64).UTC()
	latestTimestamp   = time.Unix(0, math.MaxInt64).UTC()
)

// PostMessage validates and persists msg, then broadcasts the stored copy to
// every member of its room, sender included. Nothing is broadcast when
// validation or the store fails. A zero Timestamp is assigned by the store.
func (c *Coordinator) PostMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	msg.Room = strings.TrimSpace(msg.Room)
	msg.DisplayName = strings.TrimSpace(msg.DisplayName)
	msg.Body = strings.TrimSpace(msg.Body)
	msg.ID = ""
	if err := c.validate.Struct(msg); err != nil {
		return models.ChatMessage{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if ts := msg.Timestamp; !ts.IsZero() && (ts.Before(earliestTimestamp) || ts.After(latestTimestamp)) {
		return models.ChatMessage{}, fmt.Errorf("%w: timestamp %s out of range", ErrValidation, ts.Format(time.RFC3339))
	}

	var (
		stored  models.ChatMessage
		postErr error
	)
	err := c.registry.run(msg.Room, func(rm *room) {
		stored, postErr = c.post(ctx, rm, msg)
	})
	if err != nil {
		return models.ChatMessage{}, err
	}
	return stored, postErr
}

func (c *Coordinator) post(ctx context.Context, rm *room, msg models.ChatMessage) (models.ChatMessage, error) {
	sctx, cancel := c.storeContext(ctx)
	defer cancel()

	stored, err := c.messages.SaveMessage(sctx, msg)
	if err != nil {
		c.log.Warn("Message not stored", "room", rm.name, "displayName", msg.DisplayName, "error", err)
		return models.ChatMessage{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	stored.ClientID = msg.ClientID

	rm.mu.RLock()
	sent := rm.broadcastLocked(models.OutboundEvent{Type: models.EventChatMessage, Data: stored}, "")
	rm.mu.RUnlock()

	c.log.Debug("Message relayed", "room", rm.name, "id", stored.ID, "recipients", sent)
	return stored, nil
}

// TypingStarted tells the other members that displayName is typing.
// Non-members are ignored.
func (c *Coordinator) TypingStarted(connID, roomName, displayName string) {
	rm := c.registry.lookup(strings.TrimSpace(roomName))
	if rm == nil {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.participants[connID]
	if !ok {
		return
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = p.displayName
	}
	p.typing = true
	rm.broadcastLocked(models.OutboundEvent{
		Type: models.EventUserTyping,
		Data: models.TypingIndicator{Room: rm.name, DisplayName: name, Text: name + " is typing..."},
	}, connID)
}

// TypingStopped clears the indicator. The stop is only announced when one
// was active, so each start yields at most one stop.
func (c *Coordinator) TypingStopped(connID, roomName string) {
	rm := c.registry.lookup(strings.TrimSpace(roomName))
	if rm == nil {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.participants[connID]
	if !ok || !p.typing {
		return
	}
	p.typing = false
	rm.broadcastLocked(models.OutboundEvent{
		Type: models.EventUserStoppedTyping,
		Data: models.TypingIndicator{Room: rm.name, DisplayName: p.displayName},
	}, connID)
}
