// Package notify is the outbound offline-notification collaborator.
// Delivery invokes it best-effort when a direct message lands in the
// buffer for an unreachable receiver; failures are swallowed and never
// affect the send path.
package notify

import (
	"context"
	"log/slog"
)

type Notifier interface {
	NotifyOffline(ctx context.Context, identity, preview string) error
}

// LogNotifier records the notification instead of sending it. The SMS
// gateway integration lives outside this repo and drops in behind the
// same interface.
type LogNotifier struct {
	logger *slog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "offline_notifier"))}
}

func (n *LogNotifier) NotifyOffline(ctx context.Context, identity, preview string) error {
	n.logger.Info("Offline notification",
		slog.String("identity", identity),
		slog.String("preview", preview),
	)
	return nil
}
