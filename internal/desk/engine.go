// Package desk is the sync engine behind the support console. It owns the
// room directory, the selected room's message log, the composer and the
// event stream, and reconciles manual actions, poll timers, pushed events
// and REST completions through a single bubbletea Update loop.
package desk

import (
	"context"
	"errors"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/naveenspark/supportdesk/pkg/client"
	"github.com/naveenspark/supportdesk/pkg/domain"
	"github.com/naveenspark/supportdesk/pkg/stream"
)

// typingWindow is how long a userTyping event keeps a room marked as typing.
const typingWindow = 4 * time.Second

// API is the subset of the REST client the engine uses.
type API interface {
	ListRooms(ctx context.Context) ([]domain.Room, error)
	ListLegacyChats(ctx context.Context) ([]domain.Room, error)
	RoomHistory(ctx context.Context, roomID domain.ID) ([]domain.Message, error)
	LegacySessionHistory(ctx context.Context, sessionID domain.ID) ([]domain.Message, error)
	Respond(ctx context.Context, roomID domain.ID, text string) (*domain.Message, error)
	LegacyRespond(ctx context.Context, sessionID domain.ID, text string) (*domain.Message, error)
	UserStatus(ctx context.Context, userID domain.ID) (bool, error)
}

// Stream is a live event connection.
type Stream interface {
	Events() <-chan stream.Event
	Err() error
	AdminConnect(adminID string) error
	JoinRoom(roomID, userID string) error
	LeaveRoom(roomID, userID string) error
	Close() error
}

// Dialer opens a new event stream connection.
type Dialer func(ctx context.Context) (Stream, error)

// Intervals are the poll periods of the engine's timers.
type Intervals struct {
	Rooms     time.Duration
	Messages  time.Duration
	Presence  time.Duration
	Reconnect time.Duration
}

// DefaultIntervals returns the standard poll periods.
func DefaultIntervals() Intervals {
	return Intervals{
		Rooms:     30 * time.Second,
		Messages:  15 * time.Second,
		Presence:  5 * time.Second,
		Reconnect: 5 * time.Second,
	}
}

// Options configures New.
type Options struct {
	API                 API
	Dial                Dialer // nil disables the event stream
	Logger              zerolog.Logger
	AdminID             string
	Intervals           Intervals
	PresenceConcurrency int
	Now                 func() time.Time
}

// -- messages --

type roomsLoadedMsg struct {
	seq    uint64
	rooms  []domain.Room
	legacy bool
	err    error
}

type historyLoadedMsg struct {
	seq      uint64
	roomID   domain.ID
	messages []domain.Message
	err      error
}

type sendResultMsg struct {
	roomID   domain.ID
	text     string
	composer string
	message  *domain.Message
	err      error
}

type presenceLoadedMsg struct {
	seq     uint64
	queried int
	online  map[domain.ID]bool
}

type streamConnectedMsg struct {
	gen  int
	conn Stream
	err  error
}

type streamEventMsg struct {
	gen   int
	event stream.Event
}

type streamClosedMsg struct {
	gen int
	err error
}

type typingExpiredMsg struct {
	roomID   domain.ID
	deadline time.Time
}

type (
	roomsTickMsg     time.Time
	messagesTickMsg  time.Time
	presenceTickMsg  time.Time
	reconnectTickMsg time.Time
)

// -- model --

// Model is the engine state. It is a value type; Update returns the next state.
type Model struct {
	api       API
	dial      Dialer
	log       zerolog.Logger
	now       func() time.Time
	adminID   string
	intervals Intervals
	limit     int

	dir        Directory
	msgs       MessageLog
	selectedID domain.ID
	composer   string
	notice     string
	legacy     bool

	sending        bool
	roomsLoaded    bool
	loadingHistory bool
	newMessage     bool
	typing         map[domain.ID]time.Time
	online         map[domain.ID]bool

	roomSeq           uint64
	roomsAnswered     uint64
	roomsCommitted    uint64
	historySeq        uint64
	historyCommitted  uint64
	presenceSeq       uint64
	presenceCommitted uint64

	conn          Stream
	streamGen     int
	connected     bool
	everConnected bool
	closed        bool
}

// New returns an engine with no rooms loaded. Call Init to start it.
func New(opts Options) Model {
	iv := opts.Intervals
	def := DefaultIntervals()
	if iv.Rooms <= 0 {
		iv.Rooms = def.Rooms
	}
	if iv.Messages <= 0 {
		iv.Messages = def.Messages
	}
	if iv.Presence <= 0 {
		iv.Presence = def.Presence
	}
	if iv.Reconnect <= 0 {
		iv.Reconnect = def.Reconnect
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return Model{
		api:       opts.API,
		dial:      opts.Dial,
		log:       opts.Logger.With().Str("component", "desk").Logger(),
		now:       now,
		adminID:   opts.AdminID,
		intervals: iv,
		limit:     opts.PresenceConcurrency,
		typing:    make(map[domain.ID]time.Time),
		online:    make(map[domain.ID]bool),
	}
}

// Init loads the directory, arms the poll timers and dials the stream.
// The initial load carries sequence zero, so any later reload supersedes it.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.fetchRooms(0),
		tick(m.intervals.Rooms, func(t time.Time) tea.Msg { return roomsTickMsg(t) }),
		tick(m.intervals.Messages, func(t time.Time) tea.Msg { return messagesTickMsg(t) }),
		tick(m.intervals.Presence, func(t time.Time) tea.Msg { return presenceTickMsg(t) }),
	}
	if m.dial != nil {
		cmds = append(cmds, m.connectStream(0))
	}
	return tea.Batch(cmds...)
}

func tick(d time.Duration, fn func(time.Time) tea.Msg) tea.Cmd {
	return tea.Tick(d, fn)
}

// -- accessors --

func (m Model) Rooms() []domain.Room          { return m.dir.Rooms() }
func (m Model) Messages() []domain.Message    { return m.msgs.Items() }
func (m Model) SelectedID() domain.ID         { return m.selectedID }
func (m Model) Composer() string              { return m.composer }
func (m Model) Notice() string                { return m.notice }
func (m Model) Sending() bool                 { return m.sending }
func (m Model) LoadingRooms() bool            { return !m.roomsLoaded || m.roomsAnswered < m.roomSeq }
func (m Model) LoadingHistory() bool          { return m.loadingHistory }
func (m Model) NewMessage() bool              { return m.newMessage }
func (m Model) Connected() bool               { return m.connected }
func (m Model) Legacy() bool                  { return m.legacy }
func (m Model) Directory() Directory          { return m.dir }
func (m Model) StreamEnabled() bool           { return m.dial != nil }
func (m Model) Selected() (domain.Room, bool) { return m.dir.Find(m.selectedID) }

// Typing reports whether the customer in the room is typing.
func (m Model) Typing(roomID domain.ID) bool {
	deadline, ok := m.typing[roomID]
	return ok && m.now().Before(deadline)
}

// SetComposer replaces the draft reply.
func (m Model) SetComposer(text string) Model {
	m.composer = text
	return m
}

// AckNewMessage clears the new-message indicator.
func (m Model) AckNewMessage() Model {
	m.newMessage = false
	return m
}

// ClearNotice drops the current notice.
func (m Model) ClearNotice() Model {
	m.notice = ""
	return m
}

// -- operations --

// LoadRooms starts a directory reload.
func (m Model) LoadRooms() (Model, tea.Cmd) {
	if m.closed {
		return m, nil
	}
	m.roomSeq++
	return m, m.fetchRooms(m.roomSeq)
}

func (m Model) fetchRooms(seq uint64) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx := context.Background()
		rooms, err := api.ListRooms(ctx)
		if client.IsNotFound(err) {
			rooms, err = api.ListLegacyChats(ctx)
			return roomsLoadedMsg{seq: seq, rooms: rooms, legacy: true, err: err}
		}
		return roomsLoadedMsg{seq: seq, rooms: rooms, err: err}
	}
}

// Select makes the room with the given id the selected room. Leave for the
// previous room is emitted before join for the new one.
func (m Model) Select(id domain.ID) (Model, tea.Cmd) {
	if m.closed {
		return m, nil
	}
	room, ok := m.dir.Find(id)
	if !ok {
		return m, nil
	}
	if id == m.selectedID {
		return m.RefreshMessages()
	}

	if m.selectedID != "" {
		m.emitLeave(m.selectedID)
	}
	m.selectedID = id
	m.msgs.Reset()
	m.newMessage = false
	m.notice = ""
	m.emitJoin(id)

	m.loadingHistory = true
	return m.fetchHistory(room)
}

// RefreshMessages re-fetches the selected room's history.
func (m Model) RefreshMessages() (Model, tea.Cmd) {
	if m.closed {
		return m, nil
	}
	room, ok := m.dir.Find(m.selectedID)
	if !ok {
		return m, nil
	}
	return m.fetchHistory(room)
}

// Refresh reloads the directory and the selected room's history.
func (m Model) Refresh() (Model, tea.Cmd) {
	m, roomsCmd := m.LoadRooms()
	m, historyCmd := m.RefreshMessages()
	return m, tea.Batch(roomsCmd, historyCmd)
}

// fetchHistory issues a numbered history request. Answers to requests older
// than the last applied one are dropped.
func (m Model) fetchHistory(room domain.Room) (Model, tea.Cmd) {
	m.historySeq++
	seq := m.historySeq
	api := m.api
	return m, func() tea.Msg {
		ctx := context.Background()
		msgs, err := api.RoomHistory(ctx, room.RoomID)
		if client.IsNotFound(err) {
			msgs, err = api.LegacySessionHistory(ctx, room.LegacyID())
		}
		return historyLoadedMsg{seq: seq, roomID: room.RoomID, messages: msgs, err: err}
	}
}

// Send posts the composer text to the selected room. It is a no-op when the
// text is blank, no room is selected, or a send is already in flight.
func (m Model) Send() (Model, tea.Cmd) {
	text := strings.TrimSpace(m.composer)
	if m.closed || text == "" || m.sending {
		return m, nil
	}
	room, ok := m.dir.Find(m.selectedID)
	if !ok {
		return m, nil
	}
	m.sending = true
	api := m.api
	composer := m.composer
	return m, func() tea.Msg {
		ctx := context.Background()
		msg, err := api.Respond(ctx, room.RoomID, text)
		if client.IsNotFound(err) {
			msg, err = api.LegacyRespond(ctx, room.LegacyID(), text)
		}
		return sendResultMsg{roomID: room.RoomID, text: text, composer: composer, message: msg, err: err}
	}
}

// Teardown leaves the selected room and closes the event stream. The engine
// ignores all further input.
func (m Model) Teardown() Model {
	if m.closed {
		return m
	}
	m.closed = true
	if m.conn != nil {
		if m.selectedID != "" {
			m.emitLeave(m.selectedID)
		}
		if err := m.conn.Close(); err != nil {
			m.log.Debug().Err(err).Msg("close stream")
		}
		m.conn = nil
	}
	m.connected = false
	return m
}

func (m Model) presencePass() (Model, tea.Cmd) {
	if m.closed {
		return m, nil
	}
	m.presenceSeq++
	seq := m.presenceSeq
	queried := m.dir.Len()
	ids := m.dir.UserIDs()
	api, limit, log := m.api, m.limit, m.log
	return m, func() tea.Msg {
		online := fetchPresence(context.Background(), api, ids, limit, log)
		return presenceLoadedMsg{seq: seq, queried: queried, online: online}
	}
}

func (m Model) emitJoin(roomID domain.ID) {
	if m.conn == nil {
		return
	}
	if err := m.conn.JoinRoom(roomID.String(), m.adminID); err != nil {
		m.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("join room")
	}
}

func (m Model) emitLeave(roomID domain.ID) {
	if m.conn == nil {
		return
	}
	if err := m.conn.LeaveRoom(roomID.String(), m.adminID); err != nil {
		m.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("leave room")
	}
}

// -- stream lifecycle --

func (m Model) connectStream(gen int) tea.Cmd {
	dial := m.dial
	return func() tea.Msg {
		conn, err := dial(context.Background())
		return streamConnectedMsg{gen: gen, conn: conn, err: err}
	}
}

func waitForEvent(gen int, conn Stream) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-conn.Events()
		if !ok {
			return streamClosedMsg{gen: gen, err: conn.Err()}
		}
		return streamEventMsg{gen: gen, event: ev}
	}
}

func (m Model) scheduleReconnect() tea.Cmd {
	return tick(m.intervals.Reconnect, func(t time.Time) tea.Msg { return reconnectTickMsg(t) })
}

// -- update --

// Update applies one message to the engine.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.closed {
		if c, ok := msg.(streamConnectedMsg); ok && c.conn != nil {
			_ = c.conn.Close()
		}
		return m, nil
	}

	switch msg := msg.(type) {
	case roomsLoadedMsg:
		return m.applyRooms(msg)

	case historyLoadedMsg:
		if msg.roomID != m.selectedID || msg.seq < m.historyCommitted {
			return m, nil
		}
		m.historyCommitted = msg.seq
		m.loadingHistory = false
		if msg.err != nil {
			m.log.Error().Err(msg.err).Str("room_id", msg.roomID.String()).Msg("load history")
			m.notice = "could not load messages: " + errText(msg.err)
			return m, nil
		}
		m.msgs.Replace(msg.messages)

	case sendResultMsg:
		return m.applySend(msg)

	case presenceLoadedMsg:
		if msg.queried == 0 || msg.seq < m.presenceCommitted {
			return m, nil
		}
		m.presenceCommitted = msg.seq
		for id, v := range msg.online {
			m.online[id] = v
		}
		m.dir.ApplyPresence(msg.online)

	case roomsTickMsg:
		m, cmd := m.LoadRooms()
		return m, tea.Batch(cmd, tick(m.intervals.Rooms, func(t time.Time) tea.Msg { return roomsTickMsg(t) }))

	case messagesTickMsg:
		m, cmd := m.RefreshMessages()
		return m, tea.Batch(cmd, tick(m.intervals.Messages, func(t time.Time) tea.Msg { return messagesTickMsg(t) }))

	case presenceTickMsg:
		m, cmd := m.presencePass()
		return m, tea.Batch(cmd, tick(m.intervals.Presence, func(t time.Time) tea.Msg { return presenceTickMsg(t) }))

	case typingExpiredMsg:
		if d, ok := m.typing[msg.roomID]; ok && d.Equal(msg.deadline) {
			delete(m.typing, msg.roomID)
		}

	case streamConnectedMsg:
		return m.applyConnected(msg)

	case streamEventMsg:
		if msg.gen != m.streamGen || m.conn == nil {
			return m, nil
		}
		m, cmd := m.ingest(msg.event)
		return m, tea.Batch(cmd, waitForEvent(msg.gen, m.conn))

	case streamClosedMsg:
		if msg.gen != m.streamGen {
			return m, nil
		}
		m.log.Warn().Err(msg.err).Msg("event stream closed")
		m.conn = nil
		m.connected = false
		return m, m.scheduleReconnect()

	case reconnectTickMsg:
		if m.conn != nil || m.dial == nil {
			return m, nil
		}
		m.streamGen++
		return m, m.connectStream(m.streamGen)
	}
	return m, nil
}

func (m Model) applyRooms(msg roomsLoadedMsg) (Model, tea.Cmd) {
	if msg.seq > m.roomsAnswered {
		m.roomsAnswered = msg.seq
	}
	if msg.seq < m.roomsCommitted {
		m.log.Debug().Uint64("seq", msg.seq).Uint64("committed", m.roomsCommitted).Msg("drop stale room list")
		return m, nil
	}
	m.roomsLoaded = true
	if msg.err != nil {
		m.log.Error().Err(msg.err).Bool("legacy", msg.legacy).Msg("load rooms")
		m.notice = "could not load rooms: " + errText(msg.err)
		return m, nil
	}
	m.roomsCommitted = msg.seq
	m.legacy = msg.legacy

	rooms := make([]domain.Room, len(msg.rooms))
	copy(rooms, msg.rooms)
	for i := range rooms {
		if v, ok := m.online[rooms[i].User.ID]; ok {
			rooms[i].IsOnline = v
		}
	}
	m.dir.Replace(rooms)

	if m.selectedID != "" {
		if _, ok := m.dir.Find(m.selectedID); !ok {
			m.log.Info().Str("room_id", m.selectedID.String()).Msg("selected room no longer listed")
			m.emitLeave(m.selectedID)
			m.selectedID = ""
			m.msgs.Reset()
			m.loadingHistory = false
			m.newMessage = false
		}
	}
	return m.presencePass()
}

func (m Model) applySend(msg sendResultMsg) (Model, tea.Cmd) {
	m.sending = false
	if msg.err != nil {
		m.log.Error().Err(msg.err).Str("room_id", msg.roomID.String()).Msg("send reply")
		m.notice = "send failed: " + errText(msg.err)
		return m, nil
	}

	local := domain.Message{Text: msg.text}
	if msg.message != nil {
		local = *msg.message
		if local.Text == "" {
			local.Text = msg.text
		}
	}
	local = local.WithSender(domain.SenderAdmin)
	if local.Timestamp.IsZero() {
		local.Timestamp = m.now()
	}
	if msg.roomID == m.selectedID {
		m.msgs.Add(local)
	}
	if m.composer == msg.composer {
		m.composer = ""
	}
	m.notice = ""
	m, roomsCmd := m.LoadRooms()
	m, historyCmd := m.RefreshMessages()
	return m, tea.Batch(roomsCmd, historyCmd)
}

func (m Model) applyConnected(msg streamConnectedMsg) (Model, tea.Cmd) {
	if msg.gen != m.streamGen {
		if msg.conn != nil {
			_ = msg.conn.Close()
		}
		return m, nil
	}
	if msg.err != nil {
		m.log.Warn().Err(msg.err).Msg("connect event stream")
		return m, m.scheduleReconnect()
	}

	m.conn = msg.conn
	m.connected = true
	m.log.Info().Int("gen", msg.gen).Msg("event stream connected")
	if err := m.conn.AdminConnect(m.adminID); err != nil {
		m.log.Warn().Err(err).Msg("announce admin")
	}
	if m.selectedID != "" {
		m.emitJoin(m.selectedID)
	}

	cmds := []tea.Cmd{waitForEvent(msg.gen, m.conn)}
	if m.everConnected {
		var cmd tea.Cmd
		m, cmd = m.Refresh()
		cmds = append(cmds, cmd)
	}
	m.everConnected = true
	return m, tea.Batch(cmds...)
}

// ingest applies one pushed event.
func (m Model) ingest(raw stream.Event) (Model, tea.Cmd) {
	ev, err := domain.DecodeEvent(raw.Name, raw.Data, m.now())
	if err != nil {
		if errors.Is(err, domain.ErrUnknownEvent) {
			m.log.Debug().Str("event", raw.Name).Msg("ignore event")
		} else {
			m.log.Warn().Err(err).Str("event", raw.Name).Msg("decode event")
		}
		return m, nil
	}

	switch {
	case ev.Kind.CarriesMessage():
		var cmds []tea.Cmd
		if ev.RoomID != "" && ev.RoomID == m.selectedID {
			added := false
			if ev.Message != nil {
				added = m.msgs.Add(*ev.Message)
			}
			if ev.Kind == domain.EventNewUserMessage || (added && ev.Message.IsFromUser) {
				m.newMessage = true
			}
			var cmd tea.Cmd
			m, cmd = m.RefreshMessages()
			cmds = append(cmds, cmd)
		}
		var cmd tea.Cmd
		m, cmd = m.LoadRooms()
		return m, tea.Batch(append(cmds, cmd)...)

	case ev.Kind == domain.EventNewChatSession,
		ev.Kind == domain.EventUserJoinedRoom,
		ev.Kind == domain.EventUserLeftRoom:
		return m.LoadRooms()

	case ev.Kind == domain.EventUserTyping:
		if ev.RoomID == "" {
			return m, nil
		}
		if !ev.IsTyping {
			delete(m.typing, ev.RoomID)
			return m, nil
		}
		deadline := m.now().Add(typingWindow)
		m.typing[ev.RoomID] = deadline
		roomID := ev.RoomID
		return m, tea.Tick(typingWindow, func(time.Time) tea.Msg {
			return typingExpiredMsg{roomID: roomID, deadline: deadline}
		})
	}
	return m, nil
}

// errText renders an error for the one-line notice.
func errText(err error) string {
	var he *client.HTTPError
	if errors.As(err, &he) {
		return he.Error()
	}
	s := err.Error()
	if i := strings.LastIndex(s, ": "); i >= 0 && i+2 < len(s) {
		return s[i+2:]
	}
	return s
}
