package sqlitestore_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/store"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/store/sqlitestore"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func openStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := sqlitestore.Open(path, newTestLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	if err := st.CreateUser(ctx, "alice-id", "alice"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := st.CreateUser(ctx, "bob-id", "bob"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return st
}

func TestResolveUsername(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	id, err := st.ResolveUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("ResolveUsername failed: %v", err)
	}
	if id != "alice-id" {
		t.Errorf("resolved wrong id: %s", id)
	}

	if _, err := st.ResolveUsername(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUsernameLookup(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	name, err := st.Username(ctx, "bob-id")
	if err != nil {
		t.Fatalf("Username failed: %v", err)
	}
	if name != "bob" {
		t.Errorf("wrong username: %s", name)
	}

	if _, err := st.Username(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPersistAndFetchInOrder(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	for _, text := range []string{"first", "second", "third"} {
		_, err := st.PersistMessage(ctx, "alice-id", "bob-id", store.Payload{Text: text, MessageType: "text"})
		if err != nil {
			t.Fatalf("PersistMessage failed: %v", err)
		}
	}

	msgs, err := st.FetchUndelivered(ctx, "bob-id")
	if err != nil {
		t.Fatalf("FetchUndelivered failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 buffered messages, got %d", len(msgs))
	}
	want := []string{"first", "second", "third"}
	for i, m := range msgs {
		if m.Text != want[i] {
			t.Errorf("out of order at %d: got %q, want %q", i, m.Text, want[i])
		}
		if m.SenderName != "alice" {
			t.Errorf("sender name not joined: %q", m.SenderName)
		}
	}

	// alice's inbox is independent of bob's.
	msgs, _ = st.FetchUndelivered(ctx, "alice-id")
	if len(msgs) != 0 {
		t.Errorf("sender's inbox should be empty, got %d", len(msgs))
	}
}

func TestPersistMessageUnknownSender(t *testing.T) {
	st := openStore(t)
	_, err := st.PersistMessage(context.Background(), "ghost", "bob-id", store.Payload{Text: "hi", MessageType: "text"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMessage(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	msg, err := st.PersistMessage(ctx, "alice-id", "bob-id", store.Payload{Text: "hi", MessageType: "text"})
	if err != nil {
		t.Fatalf("PersistMessage failed: %v", err)
	}

	if err := st.DeleteMessage(ctx, msg.ID); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}

	msgs, _ := st.FetchUndelivered(ctx, "bob-id")
	if len(msgs) != 0 {
		t.Error("message still buffered after delete")
	}

	// Deleting an already-deleted id is not an error.
	if err := st.DeleteMessage(ctx, msg.ID); err != nil {
		t.Errorf("repeat delete failed: %v", err)
	}
}

func TestMediaFieldsRoundTrip(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	_, err := st.PersistMessage(ctx, "alice-id", "bob-id", store.Payload{
		MessageType: "image",
		MediaURL:    "https://cdn.example.com/pic.jpg",
		FileName:    "pic.jpg",
		FileSize:    2048,
	})
	if err != nil {
		t.Fatalf("PersistMessage failed: %v", err)
	}

	msgs, _ := st.FetchUndelivered(ctx, "bob-id")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.MediaURL != "https://cdn.example.com/pic.jpg" || m.FileName != "pic.jpg" || m.FileSize != 2048 {
		t.Errorf("media fields lost: %+v", m)
	}
}

func TestGroupMembership(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	if err := st.CreateGroup(ctx, "g1", "general", "alice-id"); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	// Creator is a member from the start.
	member, err := st.IsGroupMember(ctx, "g1", "alice-id")
	if err != nil || !member {
		t.Fatalf("creator not a member: member=%v err=%v", member, err)
	}

	member, _ = st.IsGroupMember(ctx, "g1", "bob-id")
	if member {
		t.Error("bob is a member before being added")
	}

	if err := st.AddGroupMember(ctx, "g1", "bob-id"); err != nil {
		t.Fatalf("AddGroupMember failed: %v", err)
	}
	member, _ = st.IsGroupMember(ctx, "g1", "bob-id")
	if !member {
		t.Error("bob not a member after add")
	}

	// Adding twice is idempotent.
	if err := st.AddGroupMember(ctx, "g1", "bob-id"); err != nil {
		t.Errorf("repeat add failed: %v", err)
	}

	if err := st.AddGroupMember(ctx, "no-such-group", "bob-id"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown group, got %v", err)
	}

	groups, err := st.MemberGroups(ctx, "bob-id")
	if err != nil {
		t.Fatalf("MemberGroups failed: %v", err)
	}
	if len(groups) != 1 || groups[0] != "g1" {
		t.Errorf("unexpected bob groups: %v", groups)
	}

	members, err := st.GroupMembers(ctx, "g1")
	if err != nil {
		t.Fatalf("GroupMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("expected 2 members, got %v", members)
	}
}

func TestGroupHistoryPaging(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	if err := st.CreateGroup(ctx, "g1", "general", "alice-id"); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	for _, text := range []string{"one", "two", "three", "four", "five"} {
		if _, err := st.PersistGroupMessage(ctx, "g1", "alice-id", store.Payload{Text: text, MessageType: "text"}); err != nil {
			t.Fatalf("PersistGroupMessage failed: %v", err)
		}
	}

	// Newest-first, limited.
	page, err := st.GroupMessages(ctx, "g1", 2, 0)
	if err != nil {
		t.Fatalf("GroupMessages failed: %v", err)
	}
	if len(page) != 2 || page[0].Text != "five" || page[1].Text != "four" {
		t.Fatalf("unexpected first page: %v", page)
	}

	// Next page continues before the oldest id of the previous one.
	page, err = st.GroupMessages(ctx, "g1", 2, page[1].ID)
	if err != nil {
		t.Fatalf("GroupMessages failed: %v", err)
	}
	if len(page) != 2 || page[0].Text != "three" || page[1].Text != "two" {
		t.Fatalf("unexpected second page: %v", page)
	}
}

func TestGroupHistorySurvivesDirectPurges(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	if err := st.CreateGroup(ctx, "g1", "general", "alice-id"); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	gm, err := st.PersistGroupMessage(ctx, "g1", "alice-id", store.Payload{Text: "keep", MessageType: "text"})
	if err != nil {
		t.Fatalf("PersistGroupMessage failed: %v", err)
	}

	// DeleteMessage targets the direct-message buffer only.
	if err := st.DeleteMessage(ctx, gm.ID); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	history, _ := st.GroupMessages(ctx, "g1", 10, 0)
	if len(history) != 1 {
		t.Error("group history lost a message")
	}
}

func TestSchemaIsIdempotentAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	st, err := sqlitestore.Open(path, newTestLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()
	if err := st.CreateUser(ctx, "alice-id", "alice"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := st.PersistMessage(ctx, "alice-id", "alice-id", store.Payload{Text: "note", MessageType: "text"}); err != nil {
		t.Fatalf("PersistMessage failed: %v", err)
	}
	st.Close()

	st, err = sqlitestore.Open(path, newTestLogger())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer st.Close()

	msgs, err := st.FetchUndelivered(ctx, "alice-id")
	if err != nil {
		t.Fatalf("FetchUndelivered failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "note" {
		t.Errorf("buffered message lost across reopen: %v", msgs)
	}
}
