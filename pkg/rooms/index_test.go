package rooms_test

import (
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/SatyamKumarChoudhary/messaging-app-backend/pkg/rooms"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func TestSubscribeAndMembers(t *testing.T) {
	ix := rooms.NewIndex(newTestLogger())

	ix.Subscribe("alice", "room-1")
	ix.Subscribe("bob", "room-1")
	ix.Subscribe("alice", "room-2")

	members := ix.Members("room-1")
	sort.Strings(members)
	if len(members) != 2 || members[0] != "alice" || members[1] != "bob" {
		t.Errorf("unexpected room-1 members: %v", members)
	}

	owned := ix.Rooms("alice")
	sort.Strings(owned)
	if len(owned) != 2 || owned[0] != "room-1" || owned[1] != "room-2" {
		t.Errorf("unexpected alice rooms: %v", owned)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	ix := rooms.NewIndex(newTestLogger())
	ix.Subscribe("alice", "room-1")
	ix.Subscribe("alice", "room-1")

	if got := len(ix.Members("room-1")); got != 1 {
		t.Errorf("expected 1 member, got %d", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	ix := rooms.NewIndex(newTestLogger())
	ix.Subscribe("alice", "room-1")
	ix.Subscribe("bob", "room-1")

	ix.Unsubscribe("alice", "room-1")

	members := ix.Members("room-1")
	if len(members) != 1 || members[0] != "bob" {
		t.Errorf("unexpected members after unsubscribe: %v", members)
	}
	if got := ix.Rooms("alice"); got != nil {
		t.Errorf("alice should own no rooms, got %v", got)
	}
}

func TestDropAll(t *testing.T) {
	ix := rooms.NewIndex(newTestLogger())
	ix.Subscribe("alice", "room-1")
	ix.Subscribe("alice", "room-2")
	ix.Subscribe("bob", "room-1")

	ix.DropAll("alice")

	if got := ix.Rooms("alice"); got != nil {
		t.Errorf("alice still subscribed after DropAll: %v", got)
	}
	if members := ix.Members("room-1"); len(members) != 1 || members[0] != "bob" {
		t.Errorf("unexpected room-1 members: %v", members)
	}
	// room-2 had only alice and should have been dropped entirely.
	if members := ix.Members("room-2"); members != nil {
		t.Errorf("room-2 should be empty, got %v", members)
	}
}

func TestConcurrentSubscriptions(t *testing.T) {
	ix := rooms.NewIndex(newTestLogger())
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity := "user-" + strconv.Itoa(i%10)
			roomID := "room-" + strconv.Itoa(i%5)
			ix.Subscribe(identity, roomID)
			ix.Members(roomID)
			if i%3 == 0 {
				ix.DropAll(identity)
			}
		}(i)
	}
	wg.Wait()
}
