package presence

import (
	"log/slog"
	"sync"
)

// Conn is the transport surface the registry needs from a live
// connection. *transport.Connection satisfies it.
type Conn interface {
	Send(message []byte)
	Close(err error)
}

// Registry is the process-wide mapping of identity -> reachable
// connection. It is the single source of truth for "is this identity
// reachable now". Nothing here is persisted; a restart clears all
// presence.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn

	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]Conn),
		logger: logger.With(slog.String("component", "presence_registry")),
	}
}

// Register binds identity to conn, unconditionally overwriting any
// prior entry (last connect wins). The superseded connection, if any,
// is returned so the caller can close it.
func (r *Registry) Register(identity string, conn Conn) Conn {
	r.mu.Lock()
	prev := r.conns[identity]
	r.conns[identity] = conn
	r.mu.Unlock()

	if prev != nil {
		r.logger.Info("Connection superseded", slog.String("identity", identity))
	}
	r.logger.Debug("Identity registered", slog.String("identity", identity))
	return prev
}

// Lookup returns the live connection for identity, if any.
func (r *Registry) Lookup(identity string) (Conn, bool) {
	r.mu.RLock()
	conn, ok := r.conns[identity]
	r.mu.RUnlock()
	return conn, ok
}

// Unregister removes the entry for identity only if conn is the
// currently registered handle. A stale disconnect from a superseded
// connection must not evict the newer one. Reports whether the entry
// was removed.
func (r *Registry) Unregister(identity string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[identity]
	if !ok || current != conn {
		r.logger.Debug("Ignored stale unregister", slog.String("identity", identity))
		return false
	}
	delete(r.conns, identity)
	r.logger.Debug("Identity unregistered", slog.String("identity", identity))
	return true
}

// All returns every live connection. Used by graceful shutdown.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Online returns the number of identities currently reachable.
func (r *Registry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
