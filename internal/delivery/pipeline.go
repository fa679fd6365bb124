// Package delivery implements the direct-message pipeline:
// persist -> attempt real-time push -> purge on client acknowledgment.
// Persisting always precedes the push attempt, so a crash between the
// two never loses the message; a push alone never deletes, so the
// worst case is a duplicate the client de-duplicates by message id.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/event"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/notify"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/store"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/pkg/presence"
)

// ErrEmptyMessage is returned when a payload has neither text nor
// media metadata. Rejected before anything is persisted.
var ErrEmptyMessage = errors.New("delivery: message needs text or media")

type Pipeline struct {
	store    store.Store
	registry *presence.Registry
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewPipeline(st store.Store, registry *presence.Registry, notifier notify.Notifier, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:    st,
		registry: registry,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "delivery_pipeline")),
	}
}

// Receipt is reported back to the sender after a send.
type Receipt struct {
	MessageID int64 `json:"message_id"`
	Delivered bool  `json:"delivered"`
}

// messagePayload is the body of a new_message push.
type messagePayload struct {
	MessageID   int64     `json:"message_id"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	Text        string    `json:"text,omitempty"`
	MessageType string    `json:"message_type"`
	MediaURL    string    `json:"media_url,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	FileSize    int64     `json:"file_size,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Send persists the message, then pushes it if the receiver is
// reachable. The receiver is assumed valid; existence is checked by
// the caller before invoking the pipeline.
func (p *Pipeline) Send(ctx context.Context, senderID, receiverID string, payload store.Payload) (Receipt, error) {
	if !payload.HasContent() {
		return Receipt{}, ErrEmptyMessage
	}

	// Durability precedes visibility.
	msg, err := p.store.PersistMessage(ctx, senderID, receiverID, payload)
	if err != nil {
		return Receipt{}, err
	}

	conn, reachable := p.registry.Lookup(receiverID)
	if !reachable {
		p.logger.Debug("Receiver offline, message buffered",
			slog.Int64("messageID", msg.ID),
			slog.String("receiverID", receiverID),
		)
		go p.notifyOffline(receiverID, msg)
		return Receipt{MessageID: msg.ID, Delivered: false}, nil
	}

	if err := p.push(conn, msg); err != nil {
		// The message stays buffered; replay covers it on reconnect.
		p.logger.Warn("Real-time push failed", slog.Int64("messageID", msg.ID), slog.Any("error", err))
		return Receipt{MessageID: msg.ID, Delivered: false}, nil
	}
	return Receipt{MessageID: msg.ID, Delivered: true}, nil
}

// Replay pushes every buffered message for identity over conn in
// createdAt order. Runs as part of the connect sequence, before any
// inbound event for the connection is processed.
func (p *Pipeline) Replay(ctx context.Context, identity string, conn presence.Conn) error {
	msgs, err := p.store.FetchUndelivered(ctx, identity)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := p.push(conn, msg); err != nil {
			return err
		}
	}
	if len(msgs) > 0 {
		p.logger.Info("Replayed buffered messages",
			slog.String("identity", identity),
			slog.Int("count", len(msgs)),
		)
	}
	return nil
}

// Ack purges a message after the client confirms receipt. The ack is
// the only deletion trigger.
func (p *Pipeline) Ack(ctx context.Context, messageID int64) error {
	if err := p.store.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	p.logger.Debug("Message acknowledged and purged", slog.Int64("messageID", messageID))
	return nil
}

func (p *Pipeline) push(conn presence.Conn, msg *store.Message) error {
	frame, err := event.Marshal(event.NewMessage, messagePayload{
		MessageID:   msg.ID,
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
		return err
	}
	conn.Send(frame)
	return nil
}

func (p *Pipeline) notifyOffline(identity string, msg *store.Message) {
	preview := msg.Text
	if preview == "" {
		preview = "New media message"
	}
	if err := p.notifier.NotifyOffline(context.Background(), identity, preview); err != nil {
		// Best-effort only; never fails the send.
		p.logger.Warn("Offline notification failed", slog.String("identity", identity), slog.Any("error", err))
	}
}
