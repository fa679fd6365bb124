package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/broadcast"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/delivery"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/event"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/signal"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/store"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/pkg/presence"
)

// Client is the authenticated connection a frame arrived on. The
// gateway binds it once at upgrade time; every handler trusts it.
type Client struct {
	ID       string
	Username string
	Conn     presence.Conn
}

// EventRouter dispatches each inbound frame to the owning component by
// event kind. It owns no business logic: validation, then handoff.
type EventRouter struct {
	logger    *slog.Logger
	store     store.Store
	delivery  *delivery.Pipeline
	broadcast *broadcast.Broadcaster
	signal    *signal.Coordinator
}

func NewEventRouter(logger *slog.Logger, st store.Store, dp *delivery.Pipeline, bc *broadcast.Broadcaster, sc *signal.Coordinator) *EventRouter {
	return &EventRouter{
		logger:    logger.With(slog.String("component", "event_router")),
		store:     st,
		delivery:  dp,
		broadcast: bc,
		signal:    sc,
	}
}

// HandleMessage parses and dispatches one inbound frame. Every failure
// here is soft: the client gets an error event, the connection lives.
func (r *EventRouter) HandleMessage(ctx context.Context, c *Client, raw []byte) {
	var env event.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.logger.Warn("Failed to unmarshal client frame", slog.String("userID", c.ID), slog.Any("error", err))
		r.softError(c, "bad_envelope", "malformed message envelope")
		return
	}

	r.logger.Debug("Dispatching event", slog.String("event", env.Event), slog.String("userID", c.ID))

	switch env.Event {
	case event.SendMessage:
		r.handleSendMessage(ctx, c, env.Payload)
	case event.MessageDelivered:
		r.handleAck(ctx, c, env.Payload)
	case event.SendGroupMessage:
		r.handleSendGroupMessage(ctx, c, env.Payload)
	case event.GroupMessageDelivered:
		// Group history is permanent; the ack triggers no deletion.
	case event.AddGroupMember:
		r.handleAddMember(ctx, c, env.Payload)
	case event.TypingInGroup:
		r.handleTyping(ctx, c, env.Payload, false)
	case event.StoppedTypingInGroup:
		r.handleTyping(ctx, c, env.Payload, true)
	case event.CallUser:
		r.handleCallUser(ctx, c, env.Payload)
	case event.CallAccepted, event.CallDeclined, event.CallEnded:
		r.handleCallLifecycle(c, env.Event, env.Payload)
	case event.WebRTCOffer, event.WebRTCAnswer, event.ICECandidate:
		r.handleRelay(c, env.Event, env.Payload)
	default:
		r.logger.Warn("Received unknown event", slog.String("event", env.Event), slog.String("userID", c.ID))
		r.softError(c, "unknown_event", "unknown event: "+env.Event)
	}
}

func (r *EventRouter) handleSendMessage(ctx context.Context, c *Client, payload json.RawMessage) {
	var p sendMessagePayload
	if err := decode(payload, &p, "receiver_username"); err != nil {
		r.softError(c, "bad_payload", err.Error())
		return
	}

	// Existence check is the gateway's job; the pipeline assumes a
	// valid receiver.
	receiverID, err := r.store.ResolveUsername(ctx, p.ReceiverUsername)
	if errors.Is(err, store.ErrNotFound) {
		r.softError(c, "user_not_found", "no such user: "+p.ReceiverUsername)
		return
	}
	if err != nil {
		r.logger.Error("Receiver resolution failed", slog.Any("error", err))
		r.softError(c, "not_sent", "message could not be sent")
		return
	}

	receipt, err := r.delivery.Send(ctx, c.ID, receiverID, p.content())
	if errors.Is(err, delivery.ErrEmptyMessage) {
		r.softError(c, "empty_message", "message needs text or media")
		return
	}
	if err != nil {
		r.logger.Error("Direct send failed", slog.Any("error", err))
		r.softError(c, "not_sent", "message could not be sent")
		return
	}

	if frame, err := event.Marshal(event.MessageSent, receipt); err == nil {
		c.Conn.Send(frame)
	}
}

func (r *EventRouter) handleAck(ctx context.Context, c *Client, payload json.RawMessage) {
	var p ackPayload
	if err := decode(payload, &p, "message_id"); err != nil {
		r.softError(c, "bad_payload", err.Error())
		return
	}
	if err := r.delivery.Ack(ctx, p.MessageID); err != nil {
		r.logger.Error("Ack purge failed", slog.Int64("messageID", p.MessageID), slog.Any("error", err))
	}
}

func (r *EventRouter) handleSendGroupMessage(ctx context.Context, c *Client, payload json.RawMessage) {
	var p sendGroupMessagePayload
	if err := decode(payload, &p, "group_id"); err != nil {
		r.softError(c, "bad_payload", err.Error())
		return
	}

	_, err := r.broadcast.Send(ctx, c.ID, p.GroupID, p.content())
	switch {
	case errors.Is(err, broadcast.ErrNotMember):
		r.softError(c, "not_a_member", "you are not a member of this group")
	case errors.Is(err, broadcast.ErrEmptyMessage):
		r.softError(c, "empty_message", "message needs text or media")
	case err != nil:
		r.logger.Error("Group send failed", slog.Any("error", err))
		r.softError(c, "not_sent", "message could not be sent")
	}
}

func (r *EventRouter) handleAddMember(ctx context.Context, c *Client, payload json.RawMessage) {
	var p addMemberPayload
	if err := decode(payload, &p, "group_id", "username"); err != nil {
		r.softError(c, "bad_payload", err.Error())
		return
	}

	err := r.broadcast.AddMember(ctx, c.ID, p.GroupID, p.Username)
	switch {
	case errors.Is(err, broadcast.ErrNotMember):
		r.softError(c, "not_a_member", "you are not a member of this group")
	case errors.Is(err, store.ErrNotFound):
		r.softError(c, "user_not_found", "no such user or group")
	case err != nil:
		r.logger.Error("Add member failed", slog.Any("error", err))
		r.softError(c, "not_sent", "member could not be added")
	}
}

func (r *EventRouter) handleTyping(ctx context.Context, c *Client, payload json.RawMessage, stopped bool) {
	var p groupRefPayload
	if err := decode(payload, &p, "group_id"); err != nil {
		r.softError(c, "bad_payload", err.Error())
		return
	}
	// Ephemeral; a failed indicator is dropped, not reported.
	if err := r.broadcast.Typing(ctx, c.ID, c.Username, p.GroupID, stopped); err != nil {
		r.logger.Debug("Typing indicator dropped", slog.String("groupID", p.GroupID), slog.Any("error", err))
	}
}

func (r *EventRouter) handleCallUser(ctx context.Context, c *Client, payload json.RawMessage) {
	var p callUserPayload
	if err := decode(payload, &p, "targetUsername"); err != nil {
		r.softError(c, "bad_payload", err.Error())
		return
	}
	r.signal.Initiate(ctx, c.ID, c.Username, p.TargetUsername)
}

func (r *EventRouter) handleCallLifecycle(c *Client, name string, payload json.RawMessage) {
	var p callRefPayload
	if err := decode(payload, &p, "callId"); err != nil {
		r.softError(c, "bad_payload", err.Error())
		return
	}
	switch name {
	case event.CallAccepted:
		r.signal.Accept(p.CallID, c.ID)
	case event.CallDeclined:
		r.signal.Decline(p.CallID, c.ID)
	case event.CallEnded:
		r.signal.End(p.CallID, c.ID)
	}
}

func (r *EventRouter) handleRelay(c *Client, name string, payload json.RawMessage) {
	var p callRefPayload
	if err := decode(payload, &p, "callId"); err != nil {
		r.softError(c, "bad_payload", err.Error())
		return
	}
	r.signal.Relay(name, p.CallID, c.ID, payload)
}

func (r *EventRouter) softError(c *Client, code, message string) {
	frame, err := event.Marshal(event.Error, event.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.Conn.Send(frame)
}
