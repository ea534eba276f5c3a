package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mossy-p/rtc-rooms/internal/coordinator"
	"github.com/mossy-p/rtc-rooms/internal/models"
)

// dispatch routes one inbound envelope. Events are handled one at a time in
// the order the connection sent them.
func (c *Client) dispatch(ctx context.Context, env models.Envelope) {
	switch env.Type {
	case models.EventJoinRoom, models.EventJoinVideoRoom:
		var p models.RoomPayload
		if !c.decode(env, &p) {
			return
		}
		if _, err := c.coord.Join(ctx, c.id, p.Room, p.DisplayName); err != nil {
			c.fail(env.Type, err, "")
		}

	case models.EventLeaveRoom, models.EventLeaveVideoRoom:
		var p models.RoomPayload
		if !c.decode(env, &p) {
			return
		}
		_ = c.coord.Leave(ctx, c.id, p.Room, p.DisplayName)

	case models.EventChatMessage:
		var p models.ChatMessagePayload
		if !c.decode(env, &p) {
			return
		}
		msg := models.ChatMessage{Room: p.Room, DisplayName: p.DisplayName, Body: p.Body, ClientID: p.ClientID}
		if p.Timestamp != nil {
			msg.Timestamp = p.Timestamp.UTC()
		}
		if _, err := c.coord.PostMessage(ctx, msg); err != nil {
			c.fail(env.Type, err, p.ClientID)
		}

	case models.EventTyping:
		var p models.RoomPayload
		if c.decode(env, &p) {
			c.coord.TypingStarted(c.id, p.Room, p.DisplayName)
		}

	case models.EventStopTyping:
		var p models.RoomPayload
		if c.decode(env, &p) {
			c.coord.TypingStopped(c.id, p.Room)
		}

	case models.EventOffer, models.EventAnswer, models.EventCandidate:
		var p models.SignalPayload
		if !c.decode(env, &p) {
			return
		}
		c.relay(env.Type, p)

	case models.EventScreenShare, models.EventScreenShareStarted, models.EventScreenShareEnded:
		var p models.ScreenSharePayload
		if !c.decode(env, &p) {
			return
		}
		sharing := env.Type == models.EventScreenShareStarted
		if env.Type == models.EventScreenShare {
			if p.IsSharing == nil {
				c.fail(env.Type, fmt.Errorf("%w: isSharing is required", coordinator.ErrValidation), "")
				return
			}
			sharing = *p.IsSharing
		}
		c.coord.BroadcastScreenShareState(p.Room, c.id, sharing)

	case models.EventRaiseHand:
		var p models.RaiseHandPayload
		if c.decode(env, &p) {
			c.coord.BroadcastHandRaised(p.Room, c.id, p.DisplayName, p.IsRaised)
		}

	case models.EventSendReaction:
		var p models.ReactionPayload
		if c.decode(env, &p) {
			c.coord.BroadcastReaction(p.Room, c.id, p.DisplayName, p.Icon)
		}

	default:
		c.fail(env.Type, fmt.Errorf("%w: unknown event type %q", coordinator.ErrValidation, env.Type), "")
	}
}

func (c *Client) decode(env models.Envelope, v any) bool {
	if len(env.Data) == 0 {
		c.fail(env.Type, fmt.Errorf("%w: missing data", coordinator.ErrValidation), "")
		return false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.fail(env.Type, fmt.Errorf("%w: %v", coordinator.ErrValidation, err), "")
		return false
	}
	return true
}

func (c *Client) relay(kind models.EventType, p models.SignalPayload) {
	if p.To == "" || len(p.Payload) == 0 {
		c.fail(kind, fmt.Errorf("%w: to and payload are required", coordinator.ErrValidation), "")
		return
	}
	switch kind {
	case models.EventOffer:
		c.coord.RelayOffer(c.id, p.To, p.Payload)
	case models.EventAnswer:
		c.coord.RelayAnswer(c.id, p.To, p.Payload)
	case models.EventCandidate:
		c.coord.RelayCandidate(c.id, p.To, p.Payload)
	}
}
