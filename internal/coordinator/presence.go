package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/mossy-p/rtc-rooms/internal/models"
)

// Join adds connID to the room under displayName and returns the roster
// that was broadcast. The joiner receives the room history before it can
// observe any live event of the room. Joining again replaces the display
// name. A history failure does not prevent the join: the roster is returned
// together with an ErrPersistence.
func (c *Coordinator) Join(ctx context.Context, connID, roomName, displayName string) ([]models.Participant, error) {
	return c.JoinLimited(ctx, connID, roomName, displayName, 0)
}

// JoinLimited is Join for a room that holds at most capacity participants.
// The check runs on the room's worker, so concurrent joins cannot overfill
// it. Rejoining members are never refused. A capacity of zero is unlimited.
func (c *Coordinator) JoinLimited(ctx context.Context, connID, roomName, displayName string, capacity int) ([]models.Participant, error) {
	roomName, displayName = strings.TrimSpace(roomName), strings.TrimSpace(displayName)
	// Same limits as a posted message, so a member can always chat
	if err := c.validate.StructPartial(models.ChatMessage{Room: roomName, DisplayName: displayName}, "Room", "DisplayName"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	cn := c.lookup(connID)
	if cn == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}

	var (
		roster  []models.Participant
		joinErr error
	)
	err := c.registry.run(roomName, func(rm *room) {
		roster, joinErr = c.join(ctx, cn, rm, displayName, capacity)
	})
	if err != nil {
		return nil, err
	}
	return roster, joinErr
}

func (c *Coordinator) join(ctx context.Context, cn *connection, rm *room, displayName string, capacity int) ([]models.Participant, error) {
	id := cn.conn.ID()
	if capacity > 0 {
		rm.mu.RLock()
		_, member := rm.participants[id]
		size := len(rm.participants)
		rm.mu.RUnlock()
		if !member && size >= capacity {
			return nil, fmt.Errorf("%w: %s holds %d participants", ErrRoomFull, rm.name, capacity)
		}
	}
	if !cn.enter(rm.name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}

	// Not a member yet (or already one), so nothing live can reach the
	// joiner between the history and the roster update below.
	var historyErr error
	history, err := c.history(ctx, rm.name)
	if err != nil {
		historyErr = err
		c.log.Warn("History unavailable", "room", rm.name, "connection", id, "error", err)
	} else {
		cn.conn.Send(models.OutboundEvent{
			Type: models.EventChatHistory,
			Data: models.ChatHistory{Room: rm.name, Messages: history},
		})
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if p, ok := rm.participants[id]; ok {
		p.displayName = displayName
	} else {
		rm.participants[id] = &participant{conn: cn.conn, displayName: displayName}
		rm.broadcastLocked(models.OutboundEvent{
			Type: models.EventNewUser,
			Data: models.Participant{ConnectionID: id, DisplayName: displayName},
		}, id)
		c.log.Info("Participant joined", "room", rm.name, "connection", id, "displayName", displayName)
	}
	return rm.announceRosterLocked(), historyErr
}

func (c *Coordinator) history(ctx context.Context, roomName string) ([]models.ChatMessage, error) {
	sctx, cancel := c.storeContext(ctx)
	defer cancel()
	messages, err := c.messages.FindMessagesByRoom(sctx, roomName)
	if err != nil {
		return nil, fmt.Errorf("%w: history for %s: %v", ErrPersistence, roomName, err)
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	return messages, nil
}

// Leave removes connID from the room. Unknown rooms, unknown connections and
// non-members are a silent no-op. The displayName is informational; the
// notice carries the name the participant joined with.
func (c *Coordinator) Leave(_ context.Context, connID, roomName, displayName string) error {
	roomName = strings.TrimSpace(roomName)
	if roomName == "" || c.registry.lookup(roomName) == nil {
		return nil
	}
	err := c.registry.run(roomName, func(rm *room) {
		if c.removeParticipant(rm, connID) {
			if cn := c.lookup(connID); cn != nil {
				cn.exit(rm.name)
			}
		}
	})
	if err != nil {
		c.log.Debug("Leave dropped", "room", roomName, "connection", connID, "displayName", displayName, "error", err)
	}
	return nil
}

// removeParticipant runs on the room's worker. It ends the participant's
// ephemeral state, announces the departure and the new roster, and reports
// whether anything was removed.
func (c *Coordinator) removeParticipant(rm *room, connID string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.participants[connID]
	if !ok {
		return false
	}
	delete(rm.participants, connID)

	if p.typing {
		rm.broadcastLocked(models.OutboundEvent{
			Type: models.EventUserStoppedTyping,
			Data: models.TypingIndicator{Room: rm.name, DisplayName: p.displayName},
		}, "")
	}
	if p.handRaised {
		rm.broadcastLocked(models.OutboundEvent{
			Type: models.EventHandRaised,
			Data: models.HandRaised{Room: rm.name, From: connID, DisplayName: p.displayName, IsRaised: false},
		}, "")
	}
	if p.sharing {
		rm.broadcastLocked(models.OutboundEvent{
			Type: models.EventScreenShareEnded,
			Data: models.ScreenShareState{Room: rm.name, From: connID, IsSharing: false},
		}, "")
	}
	rm.broadcastLocked(models.OutboundEvent{
		Type: models.EventUserLeft,
		Data: models.Participant{ConnectionID: connID, DisplayName: p.displayName},
	}, "")
	rm.announceRosterLocked()

	c.log.Info("Participant left", "room", rm.name, "connection", connID, "displayName", p.displayName)
	return true
}

// ParticipantCount is always the length of the room's roster
func (c *Coordinator) ParticipantCount(roomName string) int {
	return c.registry.Count(roomName)
}

func (c *Coordinator) Roster(roomName string) []models.Participant {
	return c.registry.Roster(roomName)
}
