// Package signal brokers peer-to-peer call setup between exactly two
// connected clients. The server relays session descriptions and ICE
// candidates opaquely; media never flows through it.
package signal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/event"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/store"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/pkg/presence"
)

type State string

const (
	StateRinging State = "ringing"
	StateActive  State = "active"
)

// Call is one signaling session. A call absent from the table is
// implicitly ended. Exactly two distinct parties, always.
type Call struct {
	ID           string
	CallerID     string
	ReceiverID   string
	CallerName   string
	ReceiverName string
	State        State
	CreatedAt    time.Time
}

// ErrUnknownCall marks events referencing a call id not in the table.
// Always a soft error, never fatal to the connection.
var ErrUnknownCall = errors.New("signal: unknown call")

type Coordinator struct {
	registry *presence.Registry
	store    store.Store

	mu    sync.Mutex
	calls map[string]*Call

	logger *slog.Logger
}

func NewCoordinator(registry *presence.Registry, st store.Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		registry: registry,
		store:    st,
		calls:    make(map[string]*Call),
		logger:   logger.With(slog.String("component", "call_coordinator")),
	}
}

type incomingCallPayload struct {
	CallID     string `json:"callId"`
	CallerName string `json:"callerName"`
}

type callErrorPayload struct {
	Reason string `json:"reason"`
}

type callAnsweredPayload struct {
	CallID       string `json:"callId"`
	ReceiverName string `json:"receiverName"`
}

type callEndedPayload struct {
	CallID  string `json:"callId"`
	EndedBy string `json:"endedBy"` // "you", "other", or "disconnect"
}

// Initiate resolves targetUsername and, if the target is reachable,
// creates a ringing call and pushes incoming-call to the target. On
// any failure the caller gets call-error and no call is created.
func (c *Coordinator) Initiate(ctx context.Context, callerID, callerName, targetUsername string) {
	targetID, err := c.store.ResolveUsername(ctx, targetUsername)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.pushError(callerID, "User not found")
		} else {
			c.logger.Error("Target resolution failed", slog.Any("error", err))
			c.pushError(callerID, "Failed to initiate call")
		}
		return
	}

	// A call always has two distinct parties.
	if targetID == callerID {
		c.pushError(callerID, "You cannot call yourself")
		return
	}

	targetConn, reachable := c.registry.Lookup(targetID)
	if !reachable {
		c.pushError(callerID, "User is offline")
		return
	}

	call := &Call{
		ID:           newCallID(),
		CallerID:     callerID,
		ReceiverID:   targetID,
		CallerName:   callerName,
		ReceiverName: targetUsername,
		State:        StateRinging,
		CreatedAt:    time.Now(),
	}

	c.mu.Lock()
	c.calls[call.ID] = call
	c.mu.Unlock()

	frame, err := event.Marshal(event.IncomingCall, incomingCallPayload{
		CallID:     call.ID,
		CallerName: callerName,
	})
	if err != nil {
		c.logger.Error("Failed to encode incoming-call", slog.Any("error", err))
		return
	}
	targetConn.Send(frame)

	c.logger.Info("Call initiated",
		slog.String("callID", call.ID),
		slog.String("callerID", callerID),
		slog.String("receiverID", targetID),
	)
}

// Accept transitions ringing -> active and notifies the caller.
// Accepting a call that is not ringing is a state violation: logged
// and ignored, nothing mutated.
func (c *Coordinator) Accept(callID, actorID string) {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if ok && (call.State != StateRinging || actorID != call.ReceiverID) {
		c.mu.Unlock()
		c.logger.Warn("Ignored invalid accept",
			slog.String("callID", callID),
			slog.String("actorID", actorID),
		)
		return
	}
	if ok {
		call.State = StateActive
	}
	c.mu.Unlock()

	if !ok {
		c.softUnknown(callID, actorID)
		return
	}

	if conn, reachable := c.registry.Lookup(call.CallerID); reachable {
		frame, err := event.Marshal(event.CallAccepted, callAnsweredPayload{
			CallID:       callID,
			ReceiverName: call.ReceiverName,
		})
		if err == nil {
			conn.Send(frame)
		}
	}
	c.logger.Info("Call accepted", slog.String("callID", callID))
}

// Decline notifies the caller and removes the call.
func (c *Coordinator) Decline(callID, actorID string) {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if ok && actorID != call.ReceiverID {
		c.mu.Unlock()
		c.logger.Warn("Ignored decline from non-receiver", slog.String("callID", callID))
		return
	}
	if ok {
		delete(c.calls, callID)
	}
	c.mu.Unlock()

	if !ok {
		c.softUnknown(callID, actorID)
		return
	}

	if conn, reachable := c.registry.Lookup(call.CallerID); reachable {
		frame, err := event.Marshal(event.CallDeclined, callAnsweredPayload{
			CallID:       callID,
			ReceiverName: call.ReceiverName,
		})
		if err == nil {
			conn.Send(frame)
		}
	}
	c.logger.Info("Call declined", slog.String("callID", callID))
}

// Relay forwards a signaling payload verbatim to whichever of the two
// parties is not the sender. A sender who is neither party gets
// nothing; relay events never reach a third identity.
func (c *Coordinator) Relay(name, callID, senderID string, payload json.RawMessage) {
	c.mu.Lock()
	call, ok := c.calls[callID]
	c.mu.Unlock()

	if !ok {
		c.softUnknown(callID, senderID)
		return
	}

	var targetID string
	switch senderID {
	case call.CallerID:
		targetID = call.ReceiverID
	case call.ReceiverID:
		targetID = call.CallerID
	default:
		c.logger.Warn("Relay from non-party ignored",
			slog.String("callID", callID),
			slog.String("senderID", senderID),
		)
		return
	}

	conn, reachable := c.registry.Lookup(targetID)
	if !reachable {
		return
	}
	frame, err := json.Marshal(event.Envelope{Event: name, Payload: payload})
	if err != nil {
		c.logger.Error("Failed to encode relay frame", slog.Any("error", err))
		return
	}
	conn.Send(frame)
	c.logger.Debug("Relayed signaling payload",
		slog.String("event", name),
		slog.String("callID", callID),
	)
}

// End removes the call and notifies both parties, tagging which side
// ended it.
func (c *Coordinator) End(callID, actorID string) {
	c.mu.Lock()
	call, ok := c.calls[callID]
	if ok && actorID != call.CallerID && actorID != call.ReceiverID {
		c.mu.Unlock()
		c.logger.Warn("Ignored end from non-party", slog.String("callID", callID))
		return
	}
	if ok {
		delete(c.calls, callID)
	}
	c.mu.Unlock()

	if !ok {
		c.softUnknown(callID, actorID)
		return
	}

	c.notifyEnded(call.CallerID, callID, endedByTag(actorID, call.CallerID))
	c.notifyEnded(call.ReceiverID, callID, endedByTag(actorID, call.ReceiverID))
	c.logger.Info("Call ended", slog.String("callID", callID), slog.String("endedBy", actorID))
}

// Disconnect tears down every call identity is a party of, notifying
// the other side once per call. Runs to completion even when a notify
// push cannot be delivered.
func (c *Coordinator) Disconnect(identity string) {
	c.mu.Lock()
	var torn []*Call
	for id, call := range c.calls {
		if call.CallerID == identity || call.ReceiverID == identity {
			delete(c.calls, id)
			torn = append(torn, call)
		}
	}
	c.mu.Unlock()

	for _, call := range torn {
		other := call.CallerID
		if other == identity {
			other = call.ReceiverID
		}
		c.notifyEnded(other, call.ID, "disconnect")
		c.logger.Info("Call torn down on disconnect",
			slog.String("callID", call.ID),
			slog.String("identity", identity),
		)
	}
}

// ActiveCalls reports the size of the call table.
func (c *Coordinator) ActiveCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *Coordinator) notifyEnded(identity, callID, endedBy string) {
	conn, reachable := c.registry.Lookup(identity)
	if !reachable {
		return
	}
	frame, err := event.Marshal(event.CallEnded, callEndedPayload{CallID: callID, EndedBy: endedBy})
	if err != nil {
		return
	}
	conn.Send(frame)
}

func (c *Coordinator) pushError(identity, reason string) {
	conn, reachable := c.registry.Lookup(identity)
	if !reachable {
		return
	}
	frame, err := event.Marshal(event.CallError, callErrorPayload{Reason: reason})
	if err != nil {
		return
	}
	conn.Send(frame)
}

func (c *Coordinator) softUnknown(callID, actorID string) {
	c.logger.Warn("Event for unknown call", slog.String("callID", callID))
	c.pushError(actorID, "Call not found")
}

func endedByTag(actorID, partyID string) string {
	if actorID == partyID {
		return "you"
	}
	return "other"
}

// newCallID returns a cryptographically random call identifier. Relay
// events are gated only by party membership, so ids must be
// unguessable.
func newCallID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return hex.EncodeToString(b)
}
