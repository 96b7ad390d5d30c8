package desk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naveenspark/supportdesk/pkg/client"
	"github.com/naveenspark/supportdesk/pkg/domain"
	"github.com/naveenspark/supportdesk/pkg/stream"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

var errNotFound = &client.HTTPError{StatusCode: 404, Message: "not found"}

// fakeAPI is a scripted REST backend. Zero values answer with empty data.
type fakeAPI struct {
	mu sync.Mutex

	rooms       []domain.Room
	roomsErr    error
	legacyRooms []domain.Room

	history       map[domain.ID][]domain.Message
	historyErr    error
	legacyHistory map[domain.ID][]domain.Message

	respond       *domain.Message
	respondErr    error
	legacyRespond *domain.Message

	online    map[domain.ID]bool
	statusErr map[domain.ID]error

	calls []string
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) ListRooms(context.Context) ([]domain.Room, error) {
	f.record("rooms")
	return f.rooms, f.roomsErr
}

func (f *fakeAPI) ListLegacyChats(context.Context) ([]domain.Room, error) {
	f.record("legacy-rooms")
	return f.legacyRooms, nil
}

func (f *fakeAPI) RoomHistory(_ context.Context, roomID domain.ID) ([]domain.Message, error) {
	f.record("history:" + roomID.String())
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.history[roomID]...), nil
}

func (f *fakeAPI) LegacySessionHistory(_ context.Context, sessionID domain.ID) ([]domain.Message, error) {
	f.record("legacy-history:" + sessionID.String())
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.legacyHistory[sessionID]...), nil
}

// store keeps a sent reply so later history reads include it.
func store(log *map[domain.ID][]domain.Message, id domain.ID, echo *domain.Message, text string) {
	m := domain.Message{Text: text, SenderType: domain.SenderAdmin, Timestamp: testNow}
	if echo != nil {
		m = *echo
	}
	if *log == nil {
		*log = make(map[domain.ID][]domain.Message)
	}
	(*log)[id] = append((*log)[id], m)
}

func (f *fakeAPI) Respond(_ context.Context, roomID domain.ID, text string) (*domain.Message, error) {
	f.record("respond:" + roomID.String() + ":" + text)
	if f.respondErr != nil {
		return nil, f.respondErr
	}
	f.mu.Lock()
	store(&f.history, roomID, f.respond, text)
	f.mu.Unlock()
	return f.respond, nil
}

func (f *fakeAPI) LegacyRespond(_ context.Context, sessionID domain.ID, text string) (*domain.Message, error) {
	f.record("legacy-respond:" + sessionID.String() + ":" + text)
	f.mu.Lock()
	store(&f.legacyHistory, sessionID, f.legacyRespond, text)
	f.mu.Unlock()
	return f.legacyRespond, nil
}

func (f *fakeAPI) UserStatus(_ context.Context, userID domain.ID) (bool, error) {
	f.record("status:" + userID.String())
	if err := f.statusErr[userID]; err != nil {
		return false, err
	}
	return f.online[userID], nil
}

// fakeStream records emitted signals in order.
type fakeStream struct {
	mu      sync.Mutex
	events  chan stream.Event
	signals []string
	closed  bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan stream.Event, 8)}
}

func (s *fakeStream) emit(sig string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stream.ErrClosed
	}
	s.signals = append(s.signals, sig)
	return nil
}

func (s *fakeStream) Events() <-chan stream.Event { return s.events }
func (s *fakeStream) Err() error                  { return nil }
func (s *fakeStream) AdminConnect(id string) error {
	return s.emit("admin:" + id)
}
func (s *fakeStream) JoinRoom(roomID, userID string) error {
	return s.emit("join:" + roomID + ":" + userID)
}
func (s *fakeStream) LeaveRoom(roomID, userID string) error {
	return s.emit("leave:" + roomID + ":" + userID)
}
func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, "close")
	s.closed = true
	return nil
}

func (s *fakeStream) Signals() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.signals...)
}

// -- helpers --

func newTestModel(api *fakeAPI) Model {
	return New(Options{
		API:     api,
		Logger:  zerolog.Nop(),
		AdminID: "admin-1",
		Now:     func() time.Time { return testNow },
	})
}

// run executes cmd and returns the messages it produced, expanding batches.
// Callers must not pass commands that contain timers.
func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, run(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

// settle feeds cmd's results back into the model until nothing is left.
func settle(m Model, cmd tea.Cmd) Model {
	queue := run(cmd)
	for len(queue) > 0 {
		msg := queue[0]
		queue = queue[1:]
		var next tea.Cmd
		m, next = m.Update(msg)
		queue = append(queue, run(next)...)
	}
	return m
}

func loadRooms(t *testing.T, m Model) Model {
	t.Helper()
	m, cmd := m.LoadRooms()
	require.NotNil(t, cmd)
	return settle(m, cmd)
}

func connect(m Model, s *fakeStream) Model {
	m, _ = m.Update(streamConnectedMsg{gen: m.streamGen, conn: s})
	return m
}

func room(id, userID string) domain.Room {
	return domain.Room{RoomID: domain.ID(id), User: domain.UserRef{ID: domain.ID(userID)}, Status: domain.RoomActive}
}

func msgID(id, text string) domain.Message {
	return domain.Message{MessageID: domain.ID(id), Text: text, SenderType: domain.SenderUser, IsFromUser: true, Timestamp: testNow}
}

func pushed(t *testing.T, name string, payload any) stream.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return stream.Event{Name: name, Data: data}
}

func texts(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

// -- directory --

func TestLoadRoomsWithPresence(t *testing.T) {
	api := &fakeAPI{
		rooms:  []domain.Room{{RoomID: "r1", User: domain.UserRef{ID: "u1"}, Status: domain.RoomActive, UnreadCount: 2}},
		online: map[domain.ID]bool{"u1": true},
	}
	m := loadRooms(t, newTestModel(api))

	rooms := m.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, domain.ID("r1"), rooms[0].RoomID)
	assert.Equal(t, 2, rooms[0].UnreadCount)
	assert.True(t, rooms[0].IsOnline)
	assert.False(t, m.LoadingRooms())
	assert.Equal(t, []string{"rooms", "status:u1"}, api.Calls())
}

func TestLoadRoomsKeepsBackendOrder(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r3", "u3"), room("r1", "u1"), room("r2", "u2")}}
	m := loadRooms(t, newTestModel(api))

	var ids []domain.ID
	for _, r := range m.Rooms() {
		ids = append(ids, r.RoomID)
	}
	assert.Equal(t, []domain.ID{"r3", "r1", "r2"}, ids)
}

func TestLoadRoomsLegacyFallback(t *testing.T) {
	var legacy []domain.Room
	raw := `[{"session_id":"s9","user":{"_id":"u9","full_name":"Dana"},"total_messages":4}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &legacy))

	api := &fakeAPI{roomsErr: errNotFound, legacyRooms: legacy}
	m := loadRooms(t, newTestModel(api))

	rooms := m.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, domain.ID("s9"), rooms[0].RoomID)
	assert.Equal(t, "Dana", rooms[0].User.Name)
	assert.Equal(t, 4, rooms[0].TotalMessages)
	assert.True(t, m.Legacy())
	assert.Equal(t, []string{"rooms", "legacy-rooms", "status:u9"}, api.Calls())
}

func TestLoadRoomsErrorKeepsDirectory(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r1", "u1")}}
	m := loadRooms(t, newTestModel(api))

	api.rooms = nil
	api.roomsErr = &client.HTTPError{StatusCode: 500, Message: "boom"}
	m = loadRooms(t, m)

	assert.Len(t, m.Rooms(), 1)
	assert.Equal(t, "could not load rooms: HTTP 500: boom", m.Notice())
}

func TestLoadRoomsOutOfOrderDropsStale(t *testing.T) {
	m := newTestModel(&fakeAPI{})
	m, _ = m.LoadRooms() // seq 1
	m, _ = m.LoadRooms() // seq 2

	m, _ = m.Update(roomsLoadedMsg{seq: 2, rooms: []domain.Room{room("new", "u1")}})
	m, cmd := m.Update(roomsLoadedMsg{seq: 1, rooms: []domain.Room{room("old", "u1")}})

	assert.Nil(t, cmd)
	require.Len(t, m.Rooms(), 1)
	assert.Equal(t, domain.ID("new"), m.Rooms()[0].RoomID)
	assert.False(t, m.LoadingRooms())
}

func TestLoadingRoomsCoversInitialLoad(t *testing.T) {
	m := newTestModel(&fakeAPI{})
	assert.True(t, m.LoadingRooms(), "nothing answered yet")

	m, _ = m.LoadRooms() // seq 1 while the initial seq 0 load is out
	m, _ = m.Update(roomsLoadedMsg{seq: 0, rooms: []domain.Room{room("r1", "u1")}})
	assert.True(t, m.LoadingRooms(), "reload still pending")
	assert.Len(t, m.Rooms(), 1)

	m, _ = m.Update(roomsLoadedMsg{seq: 1, rooms: []domain.Room{room("r2", "u2")}})
	assert.False(t, m.LoadingRooms())
	assert.Equal(t, domain.ID("r2"), m.Rooms()[0].RoomID)
}

func TestLoadRoomsPreservesSelection(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r1", "u1"), room("r2", "u2")}}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r2"))

	api.rooms = []domain.Room{room("r2", "u2"), room("r1", "u1")}
	api.rooms[0].UnreadCount = 7
	m = loadRooms(t, m)

	sel, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, domain.ID("r2"), sel.RoomID)
	assert.Equal(t, 7, sel.UnreadCount)
}

func TestLoadRoomsDropsVanishedSelection(t *testing.T) {
	api := &fakeAPI{
		rooms:   []domain.Room{room("r1", "u1")},
		history: map[domain.ID][]domain.Message{"r1": {msgID("m1", "hi")}},
	}
	s := newFakeStream()
	m := connect(loadRooms(t, newTestModel(api)), s)
	m = settle(m.Select("r1"))
	require.Len(t, m.Messages(), 1)

	api.rooms = []domain.Room{room("r2", "u2")}
	m = loadRooms(t, m)

	assert.Equal(t, domain.ID(""), m.SelectedID())
	assert.Empty(t, m.Messages())
	assert.Equal(t, []string{"admin:admin-1", "join:r1:admin-1", "leave:r1:admin-1"}, s.Signals())
}

// -- presence --

func TestPresenceFailureMeansOffline(t *testing.T) {
	api := &fakeAPI{
		rooms:     []domain.Room{room("r1", "u1"), room("r2", "u2"), room("r3", "u1")},
		online:    map[domain.ID]bool{"u1": true, "u2": true},
		statusErr: map[domain.ID]error{"u2": errors.New("timeout")},
	}
	m := loadRooms(t, newTestModel(api))

	online := map[domain.ID]bool{}
	for _, r := range m.Rooms() {
		online[r.RoomID] = r.IsOnline
	}
	assert.Equal(t, map[domain.ID]bool{"r1": true, "r2": false, "r3": true}, online)

	statusCalls := 0
	for _, c := range api.Calls() {
		if len(c) > 7 && c[:7] == "status:" {
			statusCalls++
		}
	}
	assert.Equal(t, 2, statusCalls, "one lookup per distinct user")
}

func TestPresenceEmptySetNotCommitted(t *testing.T) {
	m := newTestModel(&fakeAPI{})
	m.dir.Replace([]domain.Room{room("r1", "u1")})

	m, _ = m.Update(presenceLoadedMsg{seq: 1, queried: 0, online: map[domain.ID]bool{"u1": true}})
	assert.False(t, m.Rooms()[0].IsOnline)
}

func TestPresenceStalePassDropped(t *testing.T) {
	m := newTestModel(&fakeAPI{})
	m.dir.Replace([]domain.Room{room("r1", "u1")})

	m, _ = m.Update(presenceLoadedMsg{seq: 2, queried: 1, online: map[domain.ID]bool{"u1": true}})
	m, _ = m.Update(presenceLoadedMsg{seq: 1, queried: 1, online: map[domain.ID]bool{"u1": false}})
	assert.True(t, m.Rooms()[0].IsOnline)
}

func TestPresenceCarriedAcrossReload(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r1", "u1")}, online: map[domain.ID]bool{"u1": true}}
	m := loadRooms(t, newTestModel(api))

	m, _ = m.LoadRooms()
	m, _ = m.Update(roomsLoadedMsg{seq: m.roomSeq, rooms: []domain.Room{room("r1", "u1")}})
	assert.True(t, m.Rooms()[0].IsOnline, "known presence applies before the next pass completes")
}

func TestFetchPresenceConcurrencyLimit(t *testing.T) {
	api := &fakeAPI{online: map[domain.ID]bool{"a": true}}
	ids := []domain.ID{"a", "b", "c", "d", "e"}

	got := fetchPresence(context.Background(), api, ids, 2, zerolog.Nop())
	assert.Equal(t, map[domain.ID]bool{"a": true, "b": false, "c": false, "d": false, "e": false}, got)
}

// -- selection --

func TestSelectEmitsLeaveBeforeJoin(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("A", "u1"), room("B", "u2")}}
	s := newFakeStream()
	m := connect(loadRooms(t, newTestModel(api)), s)

	m, _ = m.Select("A")
	m, _ = m.Select("B")

	assert.Equal(t, []string{
		"admin:admin-1",
		"join:A:admin-1",
		"leave:A:admin-1",
		"join:B:admin-1",
	}, s.Signals())
	assert.Equal(t, domain.ID("B"), m.SelectedID())
}

func TestSelectUnknownRoomIsNoop(t *testing.T) {
	m := newTestModel(&fakeAPI{})
	m, cmd := m.Select("missing")
	assert.Nil(t, cmd)
	assert.Equal(t, domain.ID(""), m.SelectedID())
}

func TestStaleHistoryIgnored(t *testing.T) {
	api := &fakeAPI{
		rooms: []domain.Room{room("A", "u1"), room("B", "u2")},
		history: map[domain.ID][]domain.Message{
			"A": {msgID("a1", "from A")},
			"B": {msgID("b1", "from B")},
		},
	}
	m := loadRooms(t, newTestModel(api))

	m, cmdA := m.Select("A")
	m, cmdB := m.Select("B")

	m = settle(m, cmdB)
	require.Equal(t, []string{"from B"}, texts(m.Messages()))

	m = settle(m, cmdA)
	assert.Equal(t, []string{"from B"}, texts(m.Messages()), "history for A arrived after B was selected")
}

func TestSelectHistoryLegacyFallback(t *testing.T) {
	r := room("r1", "u1")
	r.SessionID = "sess-1"
	api := &fakeAPI{
		rooms:         []domain.Room{r},
		historyErr:    errNotFound,
		legacyHistory: map[domain.ID][]domain.Message{"sess-1": {msgID("m1", "old api")}},
	}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))

	assert.Equal(t, []string{"old api"}, texts(m.Messages()))
	assert.Contains(t, api.Calls(), "legacy-history:sess-1")
	assert.False(t, m.LoadingHistory())
}

func TestHistoryErrorSetsNotice(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r1", "u1")}, historyErr: errors.New("client.RoomHistory: do request: connection refused")}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))

	assert.Equal(t, "could not load messages: connection refused", m.Notice())
	assert.Empty(t, m.Messages())
}

func TestHistoryReplaceDedups(t *testing.T) {
	api := &fakeAPI{
		rooms: []domain.Room{room("r1", "u1")},
		history: map[domain.ID][]domain.Message{"r1": {
			msgID("m1", "hi"), msgID("m1", "hi"), msgID("m2", "there"),
		}},
	}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))

	assert.Equal(t, []string{"hi", "there"}, texts(m.Messages()))
}

// -- events --

func TestIngestNewUserMessage(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r1", "u1")}}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))

	ts := "2026-03-14T09:00:00Z"
	payload := map[string]any{
		"room_id": "r1",
		"message": map[string]any{"_id": "m1", "message": "hi", "sender_type": "user", "timestamp": ts},
	}

	m, cmd := m.ingest(pushed(t, "newUserMessage", payload))
	require.Len(t, m.Messages(), 1)
	got := m.Messages()[0]
	assert.Equal(t, domain.ID("m1"), got.MessageID)
	assert.Equal(t, "hi", got.Text)
	assert.True(t, got.IsFromUser)
	assert.True(t, got.Timestamp.Equal(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)))
	assert.True(t, m.NewMessage())

	m, _ = m.ingest(pushed(t, "newUserMessage", payload))
	assert.Len(t, m.Messages(), 1, "identical event is a no-op")

	// The forced reload and history refresh must not duplicate it either.
	api.history = map[domain.ID][]domain.Message{"r1": {got}}
	m = settle(m, cmd)
	assert.Len(t, m.Messages(), 1)
}

func TestIngestOtherRoomOnlyReloads(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r1", "u1"), room("r2", "u2")}}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))
	before := len(api.Calls())

	m, cmd := m.ingest(pushed(t, "newMessage", map[string]any{
		"room_id": "r2",
		"message": map[string]any{"_id": "x", "text": "elsewhere", "sender_type": "user"},
	}))
	assert.Empty(t, m.Messages())
	assert.False(t, m.NewMessage())

	settle(m, cmd)
	assert.Equal(t, "rooms", api.Calls()[before])
	assert.NotContains(t, api.Calls()[before:], "history:r1")
}

func TestIngestAdminMessageNoIndicator(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r1", "u1")}}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))

	m, _ = m.ingest(pushed(t, "newAdminMessage", map[string]any{
		"room_id": "r1",
		"message": map[string]any{"id": 5, "message": "on it"},
	}))
	require.Len(t, m.Messages(), 1)
	assert.False(t, m.Messages()[0].IsFromUser)
	assert.True(t, m.Messages()[0].Timestamp.Equal(testNow), "missing timestamp defaults to receive time")
	assert.False(t, m.NewMessage())
}

func TestIngestSessionEventsReload(t *testing.T) {
	for _, name := range []string{"newChatSession", "userJoinedRoom", "userLeftRoom"} {
		t.Run(name, func(t *testing.T) {
			api := &fakeAPI{rooms: []domain.Room{room("r1", "u1")}}
			m := newTestModel(api)

			m, cmd := m.ingest(pushed(t, name, map[string]any{"room_id": "r1"}))
			m = settle(m, cmd)
			assert.Len(t, m.Rooms(), 1)
			assert.Equal(t, "rooms", api.Calls()[0])
		})
	}
}

func TestIngestTyping(t *testing.T) {
	m := newTestModel(&fakeAPI{})

	m, cmd := m.ingest(pushed(t, "userTyping", map[string]any{"room_id": "r1", "is_typing": true}))
	assert.NotNil(t, cmd)
	assert.True(t, m.Typing("r1"))
	assert.False(t, m.Typing("r2"))

	deadline := m.typing["r1"]
	m, _ = m.Update(typingExpiredMsg{roomID: "r1", deadline: deadline})
	assert.False(t, m.Typing("r1"))

	m, _ = m.ingest(pushed(t, "userTyping", map[string]any{"room_id": "r1", "is_typing": true}))
	m, _ = m.ingest(pushed(t, "userTyping", map[string]any{"room_id": "r1", "is_typing": false}))
	assert.False(t, m.Typing("r1"))
}

func TestIngestUnknownEventIgnored(t *testing.T) {
	m := newTestModel(&fakeAPI{})
	m, cmd := m.ingest(stream.Event{Name: "orderShipped", Data: json.RawMessage(`{}`)})
	assert.Nil(t, cmd)
}

func TestStreamEventFromOldConnectionIgnored(t *testing.T) {
	m := connect(newTestModel(&fakeAPI{}), newFakeStream())
	m, cmd := m.Update(streamEventMsg{gen: m.streamGen + 1, event: stream.Event{Name: "newChatSession"}})
	assert.Nil(t, cmd)
	assert.Equal(t, uint64(0), m.roomSeq)
}

// Property: no interleaving of pushes, reloads and history refreshes yields a
// duplicate entry in the log.
func TestDedupAcrossPaths(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r1", "u1")}}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))

	var history []domain.Message
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("m%d", i%3)
		ev := pushed(t, "newMessage", map[string]any{
			"room_id": "r1",
			"message": map[string]any{"_id": id, "text": "t" + id, "sender_type": "user", "timestamp": "2026-03-14T09:00:00Z"},
		})
		var cmd tea.Cmd
		m, cmd = m.ingest(ev)
		if i%2 == 0 {
			history = append(history, m.Messages()...)
			api.history = map[domain.ID][]domain.Message{"r1": history}
			m = settle(m, cmd)
		}
		// Id-less echo of the same text and time.
		m, _ = m.ingest(pushed(t, "newMessage", map[string]any{
			"room_id": "r1",
			"message": map[string]any{"text": "t" + id, "sender_type": "user", "timestamp": "2026-03-14T09:00:00Z"},
		}))
	}

	seen := map[string]bool{}
	for _, msg := range m.Messages() {
		key := msg.MessageID.String()
		if key == "" {
			key = msg.Text + "@" + msg.Timestamp.String()
		}
		assert.False(t, seen[key], "duplicate %s", key)
		seen[key] = true
	}
}

// -- sending --

func TestSendBlankIsNoop(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r1", "u1")}}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))
	before := len(api.Calls())

	for _, text := range []string{"", "   ", "\n\t"} {
		var cmd tea.Cmd
		m, cmd = m.SetComposer(text).Send()
		assert.Nil(t, cmd)
	}
	assert.Len(t, api.Calls(), before)
	assert.Empty(t, m.Messages())
}

func TestSendWithoutSelectionIsNoop(t *testing.T) {
	m := newTestModel(&fakeAPI{})
	m, cmd := m.SetComposer("hello").Send()
	assert.Nil(t, cmd)
	assert.Equal(t, "hello", m.Composer())
}

func TestSendSuccess(t *testing.T) {
	api := &fakeAPI{
		rooms:   []domain.Room{room("r1", "u1")},
		respond: &domain.Message{MessageID: "srv-1", Text: "Hello there", SenderType: domain.SenderAdmin, Timestamp: testNow},
	}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))

	m, cmd := m.SetComposer("  Hello there ").Send()
	require.NotNil(t, cmd)
	assert.True(t, m.Sending())

	m, again := m.Send()
	assert.Nil(t, again, "second send while in flight")

	m = settle(m, cmd)
	assert.False(t, m.Sending())
	assert.Equal(t, "", m.Composer())
	require.Len(t, m.Messages(), 1)
	assert.Equal(t, domain.ID("srv-1"), m.Messages()[0].MessageID)
	assert.Contains(t, api.Calls(), "respond:r1:Hello there")
}

func TestSendWithoutEchoUsesInput(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r1", "u1")}}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))

	m, cmd := m.SetComposer("thanks!").Send()
	m = settle(m, cmd)

	require.Len(t, m.Messages(), 1)
	got := m.Messages()[0]
	assert.Equal(t, "thanks!", got.Text)
	assert.Equal(t, domain.SenderAdmin, got.SenderType)
	assert.True(t, got.Timestamp.Equal(testNow))
}

func TestSendLegacyFallback(t *testing.T) {
	r := room("r1", "u1")
	r.SessionID = "sess-1"
	api := &fakeAPI{
		rooms:         []domain.Room{r},
		historyErr:    errNotFound,
		respondErr:    errNotFound,
		legacyRespond: &domain.Message{MessageID: "legacy-1", Text: "ok"},
	}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))

	m, cmd := m.SetComposer("ok").Send()
	m = settle(m, cmd)

	assert.Contains(t, api.Calls(), "legacy-respond:sess-1:ok")
	require.Len(t, m.Messages(), 1)
	assert.Equal(t, domain.ID("legacy-1"), m.Messages()[0].MessageID)
	assert.Empty(t, m.Notice())
}

func TestSendFailureKeepsComposer(t *testing.T) {
	api := &fakeAPI{
		rooms:      []domain.Room{room("r1", "u1")},
		respondErr: &client.HTTPError{StatusCode: 500, Message: "db down"},
	}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))

	m, cmd := m.SetComposer("please hold").Send()
	m = settle(m, cmd)

	assert.Equal(t, "please hold", m.Composer())
	assert.Equal(t, "send failed: HTTP 500: db down", m.Notice())
	assert.Empty(t, m.Messages())
	assert.False(t, m.Sending())
}

func TestSendRefreshesHistoryAndDropsOlderFetch(t *testing.T) {
	api := &fakeAPI{
		rooms:   []domain.Room{room("r1", "u1")},
		history: map[domain.ID][]domain.Message{"r1": {msgID("m1", "where is my parcel?")}},
	}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))

	// a poll is issued before the send and answered after it
	m, earlier := m.RefreshMessages()
	stale := run(earlier)

	m, cmd := m.SetComposer("on its way").Send()
	m = settle(m, cmd)
	require.Equal(t, []string{"where is my parcel?", "on its way"}, texts(m.Messages()))
	fetches := 0
	for _, c := range api.Calls() {
		if c == "history:r1" {
			fetches++
		}
	}
	assert.Equal(t, 3, fetches, "select, poll, and the refresh after sending")

	for _, msg := range stale {
		m, _ = m.Update(msg)
	}
	assert.Equal(t, []string{"where is my parcel?", "on its way"}, texts(m.Messages()),
		"an answer to an older fetch must not drop the sent reply")
}

func TestSendKeepsComposerEditedInFlight(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r1", "u1")}}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))

	m, cmd := m.SetComposer("first").Send()
	m = m.SetComposer("second draft")
	m = settle(m, cmd)

	assert.Equal(t, "second draft", m.Composer())
}

func TestSendResultForOtherRoomNotAppended(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r1", "u1"), room("r2", "u2")}}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))

	m, cmd := m.SetComposer("to r1").Send()
	m = settle(m.Select("r2"))
	m = settle(m, cmd)

	assert.Empty(t, m.Messages())
}

// -- stream lifecycle --

func TestConnectAnnouncesAndJoinsSelected(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r1", "u1")}}
	m := loadRooms(t, newTestModel(api))
	m = settle(m.Select("r1"))

	s := newFakeStream()
	m = connect(m, s)
	assert.True(t, m.Connected())
	assert.Equal(t, []string{"admin:admin-1", "join:r1:admin-1"}, s.Signals())
}

func TestStreamClosedSchedulesReconnect(t *testing.T) {
	m := connect(newTestModel(&fakeAPI{}), newFakeStream())
	m.dial = func(context.Context) (Stream, error) { return newFakeStream(), nil }

	m, cmd := m.Update(streamClosedMsg{gen: m.streamGen})
	assert.NotNil(t, cmd)
	assert.False(t, m.Connected())

	m, cmd = m.Update(reconnectTickMsg(testNow))
	require.NotNil(t, cmd)
	assert.Equal(t, 1, m.streamGen)

	msg := cmd()
	connected, ok := msg.(streamConnectedMsg)
	require.True(t, ok)
	assert.Equal(t, 1, connected.gen)
}

func TestStaleConnectionClosed(t *testing.T) {
	m := newTestModel(&fakeAPI{})
	m.streamGen = 2
	s := newFakeStream()

	m, _ = m.Update(streamConnectedMsg{gen: 1, conn: s})
	assert.False(t, m.Connected())
	assert.Equal(t, []string{"close"}, s.Signals())
}

func TestTeardownLeavesThenCloses(t *testing.T) {
	api := &fakeAPI{rooms: []domain.Room{room("r1", "u1")}}
	s := newFakeStream()
	m := connect(loadRooms(t, newTestModel(api)), s)
	m = settle(m.Select("r1"))

	m = m.Teardown()
	assert.Equal(t, []string{"admin:admin-1", "join:r1:admin-1", "leave:r1:admin-1", "close"}, s.Signals())
	assert.False(t, m.Connected())

	m, cmd := m.LoadRooms()
	assert.Nil(t, cmd, "engine is inert after teardown")

	late := newFakeStream()
	m, _ = m.Update(streamConnectedMsg{gen: m.streamGen, conn: late})
	assert.Equal(t, []string{"close"}, late.Signals())
}
