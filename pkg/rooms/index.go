// Package rooms holds the in-memory room membership index. It is an
// eventually-accurate cache of the authoritative store, rebuilt for
// each identity on connect and updated on membership-changing actions.
package rooms

import (
	"log/slog"
	"sync"
)

type Index struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]struct{} // roomID -> set of identities
	byIdent map[string]map[string]struct{} // identity -> set of roomIDs

	logger *slog.Logger
}

func NewIndex(logger *slog.Logger) *Index {
	return &Index{
		rooms:   make(map[string]map[string]struct{}),
		byIdent: make(map[string]map[string]struct{}),
		logger:  logger.With(slog.String("component", "room_index")),
	}
}

// Subscribe adds identity to roomID's live membership.
func (ix *Index) Subscribe(identity, roomID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	room, ok := ix.rooms[roomID]
	if !ok {
		room = make(map[string]struct{})
		ix.rooms[roomID] = room
	}
	room[identity] = struct{}{}

	owned, ok := ix.byIdent[identity]
	if !ok {
		owned = make(map[string]struct{})
		ix.byIdent[identity] = owned
	}
	owned[roomID] = struct{}{}

	ix.logger.Debug("Subscribed to room", slog.String("identity", identity), slog.String("roomID", roomID))
}

// Unsubscribe removes identity from roomID. Empty rooms are dropped.
func (ix *Index) Unsubscribe(identity, roomID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.unsubscribeLocked(identity, roomID)
}

// DropAll removes identity from every room it is subscribed to. Called
// when the identity's connection goes away.
func (ix *Index) DropAll(identity string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for roomID := range ix.byIdent[identity] {
		ix.unsubscribeLocked(identity, roomID)
	}
}

func (ix *Index) unsubscribeLocked(identity, roomID string) {
	if room, ok := ix.rooms[roomID]; ok {
		delete(room, identity)
		if len(room) == 0 {
			delete(ix.rooms, roomID)
		}
	}
	if owned, ok := ix.byIdent[identity]; ok {
		delete(owned, roomID)
		if len(owned) == 0 {
			delete(ix.byIdent, identity)
		}
	}
}

// Members returns the identities currently subscribed to roomID.
func (ix *Index) Members(roomID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	room, ok := ix.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(room))
	for identity := range room {
		members = append(members, identity)
	}
	return members
}

// Rooms returns the roomIDs identity is currently subscribed to.
func (ix *Index) Rooms(identity string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	owned, ok := ix.byIdent[identity]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(owned))
	for roomID := range owned {
		ids = append(ids, roomID)
	}
	return ids
}
