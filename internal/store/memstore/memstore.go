// Package memstore is an in-memory implementation of the store
// interface: mutex-protected maps, no durability across restarts.
// It backs tests and development runs; production uses sqlitestore.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/store"
)

type Store struct {
	mu sync.RWMutex

	usernames map[string]string // username -> id
	users     map[string]string // id -> username

	nextMsgID int64
	messages  map[int64]*store.Message

	nextGroupMsgID int64
	groupMessages  []*store.GroupMessage

	groups map[string]map[string]struct{} // groupID -> member ids
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		usernames: make(map[string]string),
		users:     make(map[string]string),
		messages:  make(map[int64]*store.Message),
		groups:    make(map[string]map[string]struct{}),
	}
}

// CreateUser registers a user. Bootstrap/test surface, mirroring
// sqlitestore.
func (s *Store) CreateUser(ctx context.Context, id, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usernames[username] = id
	s.users[id] = username
	return nil
}

// CreateGroup creates a group with creatorID as its first member.
func (s *Store) CreateGroup(ctx context.Context, id, name, creatorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[id] = map[string]struct{}{creatorID: {}}
	return nil
}

func (s *Store) ResolveUsername(ctx context.Context, username string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return "", store.ErrNotFound
	}
	return id, nil
}

func (s *Store) Username(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	username, ok := s.users[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return username, nil
}

func (s *Store) PersistMessage(ctx context.Context, senderID, receiverID string, p store.Payload) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	senderName, ok := s.users[senderID]
	if !ok {
		return nil, store.ErrNotFound
	}

	s.nextMsgID++
	msg := &store.Message{
		ID:         s.nextMsgID,
		SenderID:   senderID,
		SenderName: senderName,
		ReceiverID: receiverID,
		Payload:    p,
		CreatedAt:  time.Now().UTC(),
	}
	s.messages[msg.ID] = msg
	return msg, nil
}

func (s *Store) FetchUndelivered(ctx context.Context, receiverID string) ([]*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var msgs []*store.Message
	for _, m := range s.messages {
		if m.ReceiverID == receiverID {
			msgs = append(msgs, m)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	return nil
}

// HasMessage reports whether a message is still buffered. Test helper.
func (s *Store) HasMessage(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.messages[id]
	return ok
}

func (s *Store) PersistGroupMessage(ctx context.Context, groupID, senderID string, p store.Payload) (*store.GroupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	senderName, ok := s.users[senderID]
	if !ok {
		return nil, store.ErrNotFound
	}

	s.nextGroupMsgID++
	msg := &store.GroupMessage{
		ID:         s.nextGroupMsgID,
		GroupID:    groupID,
		SenderID:   senderID,
		SenderName: senderName,
		Payload:    p,
		CreatedAt:  time.Now().UTC(),
	}
	s.groupMessages = append(s.groupMessages, msg)
	return msg, nil
}

func (s *Store) GroupMessages(ctx context.Context, groupID string, limit int, beforeID int64) ([]*store.GroupMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	var msgs []*store.GroupMessage
	for i := len(s.groupMessages) - 1; i >= 0 && len(msgs) < limit; i-- {
		m := s.groupMessages[i]
		if m.GroupID != groupID {
			continue
		}
		if beforeID > 0 && m.ID >= beforeID {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *Store) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.groups[groupID]
	if !ok {
		return false, nil
	}
	_, member := members[userID]
	return member, nil
}

func (s *Store) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.groups[groupID]
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) MemberGroups(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var groups []string
	for id, members := range s.groups {
		if _, ok := members[userID]; ok {
			groups = append(groups, id)
		}
	}
	return groups, nil
}

func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.groups[groupID]
	if !ok {
		return store.ErrNotFound
	}
	members[userID] = struct{}{}
	return nil
}
