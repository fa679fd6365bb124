// Package store defines the persistence surface the engine consumes.
// The engine never touches SQL directly; it talks to this interface,
// implemented by sqlitestore.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for unknown users, groups, and messages.
var ErrNotFound = errors.New("store: not found")

// Payload is the client-supplied content of a message. Text may be
// empty only when media metadata is present; callers validate before
// persisting.
type Payload struct {
	Text        string `json:"text,omitempty"`
	MessageType string `json:"message_type"`
	MediaURL    string `json:"media_url,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
}

// HasContent reports whether the payload carries either text or media.
func (p Payload) HasContent() bool {
	return p.Text != "" || p.MediaURL != ""
}

// Message is a direct message buffered for its receiver until acked.
type Message struct {
	ID         int64
	SenderID   string
	SenderName string
	ReceiverID string
	Payload
	CreatedAt time.Time
}

// GroupMessage is a message in a room's permanent history. The
// delivery subsystem never deletes these.
type GroupMessage struct {
	ID         int64
	GroupID    string
	SenderID   string
	SenderName string
	Payload
	CreatedAt time.Time
}

type Store interface {
	// ResolveUsername maps a username to its stable identity.
	// Returns ErrNotFound for unknown usernames.
	ResolveUsername(ctx context.Context, username string) (id string, err error)
	// Username maps an identity back to its display name.
	Username(ctx context.Context, id string) (string, error)

	// PersistMessage durably buffers a direct message and returns it
	// with id, sender name and creation time filled in.
	PersistMessage(ctx context.Context, senderID, receiverID string, p Payload) (*Message, error)
	// FetchUndelivered returns all buffered messages for receiverID in
	// createdAt order.
	FetchUndelivered(ctx context.Context, receiverID string) ([]*Message, error)
	// DeleteMessage purges an acknowledged message from the buffer.
	DeleteMessage(ctx context.Context, id int64) error

	// PersistGroupMessage appends to a room's permanent history.
	PersistGroupMessage(ctx context.Context, groupID, senderID string, p Payload) (*GroupMessage, error)
	// GroupMessages pages through a room's history, newest first,
	// optionally bounded by beforeID.
	GroupMessages(ctx context.Context, groupID string, limit int, beforeID int64) ([]*GroupMessage, error)

	// IsGroupMember checks membership against the authoritative store.
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	// GroupMembers returns the identities of all members of groupID.
	GroupMembers(ctx context.Context, groupID string) ([]string, error)
	// MemberGroups returns the groupIDs userID belongs to.
	MemberGroups(ctx context.Context, userID string) ([]string, error)
	// AddGroupMember records a new membership. Adding an existing
	// member is a no-op.
	AddGroupMember(ctx context.Context, groupID, userID string) error
}
