package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pingline/pingline/internal/models"
	"github.com/pingline/pingline/internal/presence"
	"github.com/pingline/pingline/internal/protocol"
	"github.com/pingline/pingline/internal/relay"
)

type fakeConn struct {
	user   string
	closed bool
	events []protocol.Envelope
}

func (f *fakeConn) Deliver(env protocol.Envelope) error {
	f.events = append(f.events, env)
	return nil
}

func (f *fakeConn) Close()              { f.closed = true }
func (f *fakeConn) User() string        { return f.user }
func (f *fakeConn) setUser(user string) { f.user = user }

func (f *fakeConn) count(event string) int {
	n := 0
	for _, env := range f.events {
		if env.Event == event {
			n++
		}
	}
	return n
}

type fakeStore struct {
	enqueued   []models.Message
	enqueueErr error
	unread     []models.Message
	markFrom   string
	markTo     string
}

func (s *fakeStore) Close()                         {}
func (s *fakeStore) Ping(ctx context.Context) error { return nil }

func (s *fakeStore) Enqueue(ctx context.Context, msg *models.Message) error {
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.enqueued = append(s.enqueued, *msg)
	return nil
}

func (s *fakeStore) DrainUnread(ctx context.Context, user string) ([]models.Message, error) {
	return s.unread, nil
}

func (s *fakeStore) MarkRead(ctx context.Context, from, to string) (int64, error) {
	s.markFrom, s.markTo = from, to
	return 1, nil
}

func newTestManager(st *fakeStore) (*Manager, *presence.Directory) {
	dir := presence.NewDirectory()
	engine := relay.NewEngine(dir, st, zerolog.Nop())
	return NewManager(dir, engine, nil, zerolog.Nop(), nil), dir
}

func join(t *testing.T, m *Manager, c conn, user string) {
	t.Helper()
	m.HandleEvent(context.Background(), c, protocol.NewEnvelope(protocol.EventJoin, user))
}

func TestJoinRegistersAndBroadcasts(t *testing.T) {
	m, dir := newTestManager(&fakeStore{})

	bob := &fakeConn{}
	join(t, m, bob, "bob")

	alice := &fakeConn{}
	join(t, m, alice, "alice")

	if !dir.IsOnline("alice") {
		t.Fatal("alice should be registered after join")
	}

	// Everyone else hears about the join; the joiner does not.
	if got := bob.count(protocol.EventUserOnline); got != 1 {
		t.Errorf("bob got %d user_online events, want 1", got)
	}
	if got := alice.count(protocol.EventUserOnline); got != 0 {
		t.Errorf("alice got %d user_online events about herself, want 0", got)
	}

	// The joiner gets exactly one unread replay, even when empty.
	if got := alice.count(protocol.EventUnreadMessages); got != 1 {
		t.Errorf("alice got %d unread_messages events, want 1", got)
	}
}

func TestJoinObjectForm(t *testing.T) {
	m, dir := newTestManager(&fakeStore{})

	c := &fakeConn{}
	m.HandleEvent(context.Background(), c, protocol.NewEnvelope(protocol.EventJoin, protocol.JoinPayload{UserID: "alice"}))

	if !dir.IsOnline("alice") {
		t.Error("object-form join should register the user")
	}
}

func TestJoinWithoutUserIgnored(t *testing.T) {
	m, dir := newTestManager(&fakeStore{})

	c := &fakeConn{}
	join(t, m, c, "")

	if c.User() != "" {
		t.Error("connection should stay anonymous after an empty join")
	}
	if len(dir.ListOnline()) != 0 {
		t.Error("nothing should be registered")
	}
	if len(c.events) != 0 {
		t.Errorf("connection got %d events, want 0", len(c.events))
	}
}

func TestDuplicateJoinIgnored(t *testing.T) {
	m, dir := newTestManager(&fakeStore{})

	c := &fakeConn{}
	join(t, m, c, "alice")
	join(t, m, c, "eve")

	if c.User() != "alice" {
		t.Errorf("user = %q, want alice", c.User())
	}
	if dir.IsOnline("eve") {
		t.Error("second join on the same connection must not register a new identity")
	}
	// Only the first join triggers a replay.
	if got := c.count(protocol.EventUnreadMessages); got != 1 {
		t.Errorf("got %d unread_messages events, want 1", got)
	}
}

func TestJoinDisplacesOldSession(t *testing.T) {
	m, dir := newTestManager(&fakeStore{})

	observer := &fakeConn{}
	join(t, m, observer, "bob")

	old := &fakeConn{}
	join(t, m, old, "alice")

	newer := &fakeConn{}
	join(t, m, newer, "alice")

	if !old.closed {
		t.Error("displaced session should be closed")
	}
	if got, _ := dir.Lookup("alice"); got != conn(newer) {
		t.Error("newer session should own the presence entry")
	}
	// Alice never went offline, she just moved; no offline broadcast.
	if got := observer.count(protocol.EventUserOffline); got != 0 {
		t.Errorf("observer got %d user_offline events, want 0", got)
	}

	// The displaced session's disconnect must not take alice offline either.
	m.Disconnect(old)
	if !dir.IsOnline("alice") {
		t.Error("alice should still be online via the newer session")
	}
	if got := observer.count(protocol.EventUserOffline); got != 0 {
		t.Errorf("observer got %d user_offline events after stale disconnect, want 0", got)
	}
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	m, dir := newTestManager(&fakeStore{})

	alice := &fakeConn{}
	join(t, m, alice, "alice")
	bob := &fakeConn{}
	join(t, m, bob, "bob")

	m.Disconnect(alice)

	if dir.IsOnline("alice") {
		t.Error("alice should be offline after disconnect")
	}
	if !alice.closed {
		t.Error("disconnect should close the connection")
	}
	if got := bob.count(protocol.EventUserOffline); got != 1 {
		t.Errorf("bob got %d user_offline events, want 1", got)
	}

	// Duplicate disconnects change nothing.
	before := len(bob.events)
	m.Disconnect(alice)
	if len(bob.events) != before {
		t.Error("duplicate disconnect must not broadcast again")
	}
}

func TestDisconnectNeverJoined(t *testing.T) {
	m, _ := newTestManager(&fakeStore{})

	observer := &fakeConn{}
	join(t, m, observer, "bob")

	anon := &fakeConn{}
	m.Disconnect(anon)

	if got := observer.count(protocol.EventUserOffline); got != 0 {
		t.Errorf("observer got %d user_offline events, want 0", got)
	}
}

func TestGetOnlineUsers(t *testing.T) {
	m, _ := newTestManager(&fakeStore{})

	alice := &fakeConn{}
	join(t, m, alice, "alice")
	bob := &fakeConn{}
	join(t, m, bob, "bob")

	m.HandleEvent(context.Background(), alice, protocol.NewEnvelope(protocol.EventGetOnlineUsers, nil))

	if got := alice.count(protocol.EventOnlineUsers); got != 1 {
		t.Fatalf("alice got %d online_users events, want 1", got)
	}
	last := alice.events[len(alice.events)-1]
	var payload protocol.OnlineUsersPayload
	if err := json.Unmarshal(last.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.Users) != 2 {
		t.Errorf("snapshot has %d users, want 2", len(payload.Users))
	}
}

func TestSendMessageRouted(t *testing.T) {
	st := &fakeStore{}
	m, _ := newTestManager(st)

	alice := &fakeConn{}
	join(t, m, alice, "alice")
	bob := &fakeConn{}
	join(t, m, bob, "bob")

	m.HandleEvent(context.Background(), alice, protocol.NewEnvelope(protocol.EventSendMessage, protocol.SendMessagePayload{
		From:    "alice",
		To:      "bob",
		Message: "hey",
	}))

	if got := bob.count(protocol.EventReceiveMessage); got != 1 {
		t.Errorf("bob got %d receive_message events, want 1", got)
	}
	if got := bob.count(protocol.EventChatNotification); got != 1 {
		t.Errorf("bob got %d chat_notification events, want 1", got)
	}
	if len(st.enqueued) != 0 {
		t.Errorf("store has %d messages after live delivery, want 0", len(st.enqueued))
	}
}

func TestSendMessageStoreErrorSurfaced(t *testing.T) {
	st := &fakeStore{enqueueErr: errors.New("disk full")}
	m, _ := newTestManager(st)

	alice := &fakeConn{}
	join(t, m, alice, "alice")

	m.HandleEvent(context.Background(), alice, protocol.NewEnvelope(protocol.EventSendMessage, protocol.SendMessagePayload{
		From:    "alice",
		To:      "bob",
		Message: "hey",
	}))

	if got := alice.count(protocol.EventError); got != 1 {
		t.Errorf("alice got %d error events, want 1", got)
	}
}

func TestMarkAsRead(t *testing.T) {
	st := &fakeStore{}
	m, _ := newTestManager(st)

	alice := &fakeConn{}
	join(t, m, alice, "alice")

	m.HandleEvent(context.Background(), alice, protocol.NewEnvelope(protocol.EventMarkAsRead, protocol.MarkAsReadPayload{
		From: "bob",
		To:   "alice",
	}))

	if st.markFrom != "bob" || st.markTo != "alice" {
		t.Errorf("MarkRead called with (%q, %q), want (bob, alice)", st.markFrom, st.markTo)
	}
}

func TestMarkAsReadMalformedIgnored(t *testing.T) {
	st := &fakeStore{}
	m, _ := newTestManager(st)

	alice := &fakeConn{}
	join(t, m, alice, "alice")

	m.HandleEvent(context.Background(), alice, protocol.NewEnvelope(protocol.EventMarkAsRead, protocol.MarkAsReadPayload{
		From: "bob",
	}))

	if st.markFrom != "" {
		t.Error("MarkRead must not run for a payload missing the recipient")
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	m, _ := newTestManager(&fakeStore{})

	alice := &fakeConn{}
	join(t, m, alice, "alice")

	before := len(alice.events)
	m.HandleEvent(context.Background(), alice, protocol.NewEnvelope("typing_indicator", nil))
	if len(alice.events) != before {
		t.Error("unknown events must produce no response")
	}
}

func TestParseJoinUser(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"bare string", `"alice"`, "alice"},
		{"object form", `{"userId":"alice"}`, "alice"},
		{"empty object", `{}`, ""},
		{"garbage", `42`, ""},
		{"null", `null`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseJoinUser(json.RawMessage(tt.data)); got != tt.want {
				t.Errorf("parseJoinUser(%s) = %q, want %q", tt.data, got, tt.want)
			}
		})
	}
}
