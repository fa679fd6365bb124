// Package event defines the wire envelope shared by every component
// that pushes to a client connection.
package event

import "encoding/json"

// Envelope is the shape of every frame in both directions:
// {"event": "...", "payload": {...}}.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client -> server event names.
const (
	SendMessage            = "send_message"
	MessageDelivered       = "message_delivered"
	SendGroupMessage       = "send_group_message"
	GroupMessageDelivered  = "group_message_delivered"
	AddGroupMember         = "add_group_member"
	TypingInGroup          = "typing_in_group"
	StoppedTypingInGroup   = "stopped_typing_in_group"
	CallUser               = "call-user"
	CallAccepted           = "call-accepted"
	CallDeclined           = "call-declined"
	WebRTCOffer            = "webrtc-offer"
	WebRTCAnswer           = "webrtc-answer"
	ICECandidate           = "ice-candidate"
	CallEnded              = "call-ended"
)

// Server -> client event names. The call events reuse the inbound
// names: an accepted/declined/relay frame is forwarded under the same
// event the counterpart sent.
const (
	MessageSent        = "message_sent"
	NewMessage         = "new_message"
	NewGroupMessage    = "new_group_message"
	MemberAdded        = "member_added"
	UserTyping         = "user_typing"
	UserStoppedTyping  = "user_stopped_typing"
	IncomingCall       = "incoming-call"
	CallError          = "call-error"
	Error              = "error"
)

// Marshal wraps payload in an Envelope and encodes it.
func Marshal(name string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: name, Payload: raw})
}

// ErrorPayload is the body of soft-error events pushed back to the
// originating client. Soft errors never terminate the connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
