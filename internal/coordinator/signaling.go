package coordinator

import (
	"encoding/json"
	"strings"

	"github.com/mossy-p/rtc-rooms/internal/models"
)

// RelayOffer forwards an SDP offer to exactly one connection
func (c *Coordinator) RelayOffer(from, to string, payload json.RawMessage) bool {
	return c.relay(models.EventOffer, from, to, payload)
}

func (c *Coordinator) RelayAnswer(from, to string, payload json.RawMessage) bool {
	return c.relay(models.EventAnswer, from, to, payload)
}

func (c *Coordinator) RelayCandidate(from, to string, payload json.RawMessage) bool {
	return c.relay(models.EventCandidate, from, to, payload)
}

// relay is a single best-effort hop. An unknown target drops the payload;
// nothing is queued or retried.
func (c *Coordinator) relay(kind models.EventType, from, to string, payload json.RawMessage) bool {
	target := c.lookup(to)
	if target == nil {
		c.log.Debug("Relay target not found", "type", kind, "from", from, "to", to)
		return false
	}
	return target.conn.Send(models.OutboundEvent{
		Type: kind,
		Data: models.SignalForward{Payload: payload, From: from},
	})
}

// BroadcastScreenShareState announces the start or end of a screen share to
// the other members. Returns false when from is not a member of the room.
func (c *Coordinator) BroadcastScreenShareState(roomName, from string, isSharing bool) bool {
	evt := models.EventScreenShareEnded
	if isSharing {
		evt = models.EventScreenShareStarted
	}
	return c.withMember(roomName, from, func(rm *room, p *participant) {
		p.sharing = isSharing
		rm.broadcastLocked(models.OutboundEvent{
			Type: evt,
			Data: models.ScreenShareState{Room: rm.name, From: from, IsSharing: isSharing},
		}, from)
	})
}

func (c *Coordinator) BroadcastHandRaised(roomName, from, displayName string, isRaised bool) bool {
	return c.withMember(roomName, from, func(rm *room, p *participant) {
		p.handRaised = isRaised
		rm.broadcastLocked(models.OutboundEvent{
			Type: models.EventHandRaised,
			Data: models.HandRaised{Room: rm.name, From: from, DisplayName: nameOr(displayName, p), IsRaised: isRaised},
		}, from)
	})
}

func (c *Coordinator) BroadcastReaction(roomName, from, displayName, icon string) bool {
	if strings.TrimSpace(icon) == "" {
		return false
	}
	return c.withMember(roomName, from, func(rm *room, p *participant) {
		rm.broadcastLocked(models.OutboundEvent{
			Type: models.EventReaction,
			Data: models.Reaction{Room: rm.name, From: from, DisplayName: nameOr(displayName, p), Icon: icon},
		}, from)
	})
}

// withMember runs fn under the room lock when connID is a member
func (c *Coordinator) withMember(roomName, connID string, fn func(rm *room, p *participant)) bool {
	rm := c.registry.lookup(strings.TrimSpace(roomName))
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p, ok := rm.participants[connID]
	if !ok {
		return false
	}
	fn(rm, p)
	return true
}

func nameOr(displayName string, p *participant) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}
	return p.displayName
}
