// Package broadcast fans persisted group messages out to every room
// member reachable at that instant. Group history is permanent: the
// acknowledgment cycle of the direct pipeline does not apply here, and
// nothing in this package ever deletes a group message.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/event"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/store"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/pkg/presence"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/pkg/rooms"
)

var (
	// ErrNotMember is returned when the sender is not a member of the
	// room per the authoritative store.
	ErrNotMember = errors.New("broadcast: not a member of this group")
	// ErrEmptyMessage mirrors the direct pipeline's validation.
	ErrEmptyMessage = errors.New("broadcast: message needs text or media")
)

type Broadcaster struct {
	store    store.Store
	registry *presence.Registry
	rooms    *rooms.Index
	logger   *slog.Logger
}

func NewBroadcaster(st store.Store, registry *presence.Registry, ix *rooms.Index, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		store:    st,
		registry: registry,
		rooms:    ix,
		logger:   logger.With(slog.String("component", "group_broadcast")),
	}
}

// groupMessagePayload is the body of a new_group_message push.
type groupMessagePayload struct {
	MessageID   int64     `json:"message_id"`
	GroupID     string    `json:"group_id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	Text        string    `json:"text,omitempty"`
	MessageType string    `json:"message_type"`
	MediaURL    string    `json:"media_url,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	FileSize    int64     `json:"file_size,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type typingPayload struct {
	GroupID    string `json:"group_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
}

type memberAddedPayload struct {
	GroupID  string `json:"group_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	AddedBy  string `json:"added_by"`
}

// Send persists a group message and pushes it to every member found
// reachable right now. Membership is checked against the store, not
// the live index. Unreachable members catch up via history.
func (b *Broadcaster) Send(ctx context.Context, senderID, groupID string, payload store.Payload) (*store.GroupMessage, error) {
	member, err := b.store.IsGroupMember(ctx, groupID, senderID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotMember
	}
	if !payload.HasContent() {
		return nil, ErrEmptyMessage
	}

	msg, err := b.store.PersistGroupMessage(ctx, groupID, senderID, payload)
	if err != nil {
		return nil, err
	}

	frame, err := event.Marshal(event.NewGroupMessage, groupMessagePayload{
		MessageID:   msg.ID,
		GroupID:     msg.GroupID,
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		Text:        msg.Text,
		MessageType: msg.MessageType,
		MediaURL:    msg.MediaURL,
		FileName:    msg.FileName,
		FileSize:    msg.FileSize,
		CreatedAt:   msg.CreatedAt,
	})
	if err != nil {
		return msg, err
	}

	b.fanOut(groupID, frame, "")
	return msg, nil
}

// Typing pushes an ephemeral typing indicator to every other reachable
// member. Nothing is persisted and nothing is acknowledged.
func (b *Broadcaster) Typing(ctx context.Context, senderID, senderName, groupID string, stopped bool) error {
	// Ephemeral events are gated by the live index only.
	subscribed := false
	for _, id := range b.rooms.Members(groupID) {
		if id == senderID {
			subscribed = true
			break
		}
	}
	if !subscribed {
		return ErrNotMember
	}

	name := event.UserTyping
	if stopped {
		name = event.UserStoppedTyping
	}
	frame, err := event.Marshal(name, typingPayload{
		GroupID:    groupID,
		SenderID:   senderID,
		SenderName: senderName,
	})
	if err != nil {
		return err
	}

	b.fanOut(groupID, frame, senderID)
	return nil
}

// AddMember records the membership in the authoritative store and, if
// the new member is connected, subscribes them live so future
// broadcasts reach them without a reconnect.
func (b *Broadcaster) AddMember(ctx context.Context, actorID, groupID, username string) error {
	member, err := b.store.IsGroupMember(ctx, groupID, actorID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotMember
	}

	userID, err := b.store.ResolveUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := b.store.AddGroupMember(ctx, groupID, userID); err != nil {
		return err
	}

	if _, reachable := b.registry.Lookup(userID); reachable {
		b.rooms.Subscribe(userID, groupID)
	}

	frame, err := event.Marshal(event.MemberAdded, memberAddedPayload{
		GroupID:  groupID,
		UserID:   userID,
		Username: username,
		AddedBy:  actorID,
	})
	if err != nil {
		return err
	}
	b.fanOut(groupID, frame, "")

	b.logger.Info("Member added to group",
		slog.String("groupID", groupID),
		slog.String("userID", userID),
		slog.String("addedBy", actorID),
	)
	return nil
}

// fanOut pushes frame to every subscribed member reachable in the
// registry, skipping exclude when set.
func (b *Broadcaster) fanOut(groupID string, frame []byte, exclude string) {
	for _, identity := range b.rooms.Members(groupID) {
		if identity == exclude {
			continue
		}
		if conn, ok := b.registry.Lookup(identity); ok {
			conn.Send(frame)
		}
	}
}
