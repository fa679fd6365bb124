package signal_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/event"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/signal"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/store/memstore"
	"github.com/SatyamKumarChoudhary/messaging-app-backend/pkg/presence"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) Send(m []byte) {
	c.mu.Lock()
	c.frames = append(c.frames, m)
	c.mu.Unlock()
}

func (c *fakeConn) Close(err error) {}

func (c *fakeConn) envelopes(t *testing.T) []event.Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	envs := make([]event.Envelope, 0, len(c.frames))
	for _, frame := range c.frames {
		var env event.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("malformed frame: %v", err)
		}
		envs = append(envs, env)
	}
	return envs
}

// countByEvent tallies frames per event name.
func countByEvent(t *testing.T, c *fakeConn) map[string]int {
	t.Helper()
	counts := make(map[string]int)
	for _, env := range c.envelopes(t) {
		counts[env.Event]++
	}
	return counts
}

type fixture struct {
	sc       *signal.Coordinator
	registry *presence.Registry
	alice    *fakeConn
	bob      *fakeConn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	ctx := context.Background()
	st.CreateUser(ctx, "alice-id", "alice")
	st.CreateUser(ctx, "bob-id", "bob")
	st.CreateUser(ctx, "carol-id", "carol")

	registry := presence.NewRegistry(newTestLogger())
	sc := signal.NewCoordinator(registry, st, newTestLogger())

	f := &fixture{sc: sc, registry: registry, alice: &fakeConn{}, bob: &fakeConn{}}
	registry.Register("alice-id", f.alice)
	registry.Register("bob-id", f.bob)
	return f
}

// ringUp initiates alice -> bob and returns the call id bob received.
func (f *fixture) ringUp(t *testing.T) string {
	t.Helper()
	f.sc.Initiate(context.Background(), "alice-id", "alice", "bob")

	envs := f.bob.envelopes(t)
	if len(envs) == 0 || envs[len(envs)-1].Event != event.IncomingCall {
		t.Fatalf("bob did not receive incoming-call: %v", envs)
	}
	var body struct {
		CallID     string `json:"callId"`
		CallerName string `json:"callerName"`
	}
	if err := json.Unmarshal(envs[len(envs)-1].Payload, &body); err != nil {
		t.Fatalf("malformed incoming-call payload: %v", err)
	}
	if body.CallerName != "alice" {
		t.Errorf("wrong caller name: %s", body.CallerName)
	}
	if body.CallID == "" {
		t.Fatal("empty call id")
	}
	return body.CallID
}

func TestInitiateReachableTarget(t *testing.T) {
	f := newFixture(t)
	f.ringUp(t)

	if got := countByEvent(t, f.bob)[event.IncomingCall]; got != 1 {
		t.Errorf("bob received %d incoming-call events, want exactly 1", got)
	}
	if f.sc.ActiveCalls() != 1 {
		t.Errorf("expected 1 active call, got %d", f.sc.ActiveCalls())
	}
}

func TestInitiateUnreachableTarget(t *testing.T) {
	f := newFixture(t)
	// carol exists but has no connection.
	f.sc.Initiate(context.Background(), "alice-id", "alice", "carol")

	envs := f.alice.envelopes(t)
	if len(envs) != 1 || envs[0].Event != event.CallError {
		t.Fatalf("expected call-error to caller, got %v", envs)
	}
	if f.sc.ActiveCalls() != 0 {
		t.Error("call created for unreachable target")
	}
}

func TestInitiateUnknownTarget(t *testing.T) {
	f := newFixture(t)
	f.sc.Initiate(context.Background(), "alice-id", "alice", "nobody")

	envs := f.alice.envelopes(t)
	if len(envs) != 1 || envs[0].Event != event.CallError {
		t.Fatalf("expected call-error to caller, got %v", envs)
	}
}

func TestInitiateSelfCallRejected(t *testing.T) {
	f := newFixture(t)
	f.sc.Initiate(context.Background(), "alice-id", "alice", "alice")

	envs := f.alice.envelopes(t)
	if len(envs) != 1 || envs[0].Event != event.CallError {
		t.Fatalf("expected call-error for a self call, got %v", envs)
	}
	if countByEvent(t, f.alice)[event.IncomingCall] != 0 {
		t.Error("caller received their own incoming-call")
	}
	if f.sc.ActiveCalls() != 0 {
		t.Error("self call entered the call table")
	}

	// No call exists, so a follow-up relay cannot echo back either.
	f.sc.Relay(event.ICECandidate, "deadbeef", "alice-id", json.RawMessage(`{}`))
	if countByEvent(t, f.alice)[event.ICECandidate] != 0 {
		t.Error("relay frame echoed to the sender")
	}
}

func TestAcceptNotifiesCallerOnce(t *testing.T) {
	f := newFixture(t)
	callID := f.ringUp(t)

	f.sc.Accept(callID, "bob-id")

	if got := countByEvent(t, f.alice)[event.CallAccepted]; got != 1 {
		t.Errorf("alice received %d call-accepted events, want exactly 1", got)
	}

	// A second accept is a state violation: ignored, no second push.
	f.sc.Accept(callID, "bob-id")
	if got := countByEvent(t, f.alice)[event.CallAccepted]; got != 1 {
		t.Errorf("state violation produced a duplicate call-accepted (%d)", got)
	}
}

func TestDeclineRemovesCall(t *testing.T) {
	f := newFixture(t)
	callID := f.ringUp(t)

	f.sc.Decline(callID, "bob-id")

	if got := countByEvent(t, f.alice)[event.CallDeclined]; got != 1 {
		t.Errorf("alice received %d call-declined events, want 1", got)
	}
	if f.sc.ActiveCalls() != 0 {
		t.Error("declined call still in active table")
	}
}

func TestRelayReachesOnlyCounterparty(t *testing.T) {
	f := newFixture(t)
	callID := f.ringUp(t)
	f.sc.Accept(callID, "bob-id")

	payload := json.RawMessage(`{"callId":"` + callID + `","candidate":{"sdpMid":"0"}}`)
	f.sc.Relay(event.ICECandidate, callID, "alice-id", payload)

	bobCounts := countByEvent(t, f.bob)
	if bobCounts[event.ICECandidate] != 1 {
		t.Errorf("bob received %d ice-candidate events, want 1", bobCounts[event.ICECandidate])
	}
	if countByEvent(t, f.alice)[event.ICECandidate] != 0 {
		t.Error("ice-candidate echoed back to the sender")
	}

	// The payload is relayed verbatim.
	for _, env := range f.bob.envelopes(t) {
		if env.Event == event.ICECandidate && string(env.Payload) != string(payload) {
			t.Errorf("relay mutated payload: %s", env.Payload)
		}
	}
}

func TestRelayFromThirdPartyIsIgnored(t *testing.T) {
	f := newFixture(t)
	callID := f.ringUp(t)

	carol := &fakeConn{}
	f.registry.Register("carol-id", carol)

	before := countByEvent(t, f.bob)[event.WebRTCOffer] + countByEvent(t, f.alice)[event.WebRTCOffer]
	f.sc.Relay(event.WebRTCOffer, callID, "carol-id", json.RawMessage(`{"callId":"x","offer":{}}`))
	after := countByEvent(t, f.bob)[event.WebRTCOffer] + countByEvent(t, f.alice)[event.WebRTCOffer]

	if before != after {
		t.Error("relay from a non-party reached a call participant")
	}
}

func TestRelayUnknownCallIsSoftError(t *testing.T) {
	f := newFixture(t)
	f.sc.Relay(event.WebRTCOffer, "deadbeef", "alice-id", json.RawMessage(`{}`))

	envs := f.alice.envelopes(t)
	if len(envs) != 1 || envs[0].Event != event.CallError {
		t.Fatalf("expected call-error for unknown call, got %v", envs)
	}
}

func TestEndNotifiesBothPartiesWithTags(t *testing.T) {
	f := newFixture(t)
	callID := f.ringUp(t)
	f.sc.Accept(callID, "bob-id")

	f.sc.End(callID, "alice-id")

	assertEndedBy := func(conn *fakeConn, want string) {
		t.Helper()
		for _, env := range conn.envelopes(t) {
			if env.Event != event.CallEnded {
				continue
			}
			var body struct {
				EndedBy string `json:"endedBy"`
			}
			json.Unmarshal(env.Payload, &body)
			if body.EndedBy != want {
				t.Errorf("endedBy = %q, want %q", body.EndedBy, want)
			}
			return
		}
		t.Error("no call-ended received")
	}
	assertEndedBy(f.alice, "you")
	assertEndedBy(f.bob, "other")

	if f.sc.ActiveCalls() != 0 {
		t.Error("ended call still in active table")
	}
}

func TestDisconnectTearsDownCalls(t *testing.T) {
	f := newFixture(t)
	callID := f.ringUp(t)
	f.sc.Accept(callID, "bob-id")

	f.sc.Disconnect("alice-id")

	counts := countByEvent(t, f.bob)
	if counts[event.CallEnded] != 1 {
		t.Errorf("bob received %d call-ended events, want exactly 1", counts[event.CallEnded])
	}
	for _, env := range f.bob.envelopes(t) {
		if env.Event == event.CallEnded {
			var body struct {
				EndedBy string `json:"endedBy"`
			}
			json.Unmarshal(env.Payload, &body)
			if body.EndedBy != "disconnect" {
				t.Errorf("endedBy = %q, want disconnect", body.EndedBy)
			}
		}
	}
	if f.sc.ActiveCalls() != 0 {
		t.Error("disconnect left a dangling call")
	}
}

func TestCallIDsAreUnique(t *testing.T) {
	f := newFixture(t)
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		callID := f.ringUp(t)
		if _, dup := seen[callID]; dup {
			t.Fatalf("call id reused: %s", callID)
		}
		seen[callID] = struct{}{}
		f.sc.End(callID, "alice-id")
	}
}
