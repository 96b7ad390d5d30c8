package tui

import (
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/naveenspark/supportdesk/internal/browser"
	"github.com/naveenspark/supportdesk/internal/desk"
	"github.com/naveenspark/supportdesk/pkg/domain"
)

type focus int

const (
	focusRooms focus = iota
	focusComposer
)

// roomsPaneWidth is the width of the left column including its border.
const roomsPaneWidth = 36

// copyResultMsg reports the outcome of a clipboard write.
type copyResultMsg struct {
	what string
	err  error
}

// openResultMsg reports the outcome of a browser hand-off.
type openResultMsg struct {
	err error
}

// Swapped out in tests.
var (
	clipboardWrite = clipboard.WriteAll
	openBrowser    = browser.Open
)

// App is the root Bubbletea model.
type App struct {
	desk     desk.Model
	name     string
	version  string
	focus    focus
	cursor   int
	helpOpen bool
	status   string
	webURL   string
	width    int
	height   int
	frame    int // logo shimmer animation frame
}

// NewApp wraps a sync engine in the console UI. name labels the staff member.
func NewApp(engine desk.Model, name, version string) App {
	if name == "" {
		name = "staff"
	}
	return App{desk: engine, name: name, version: version}
}

// WithWebURL enables opening customer profiles in the web admin.
func (a App) WithWebURL(u string) App {
	a.webURL = u
	return a
}

func (a App) Init() tea.Cmd {
	return tea.Batch(a.desk.Init(), shimmerTickCmd())
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case shimmerTickMsg:
		a.frame++
		return a, shimmerTickCmd()

	case copyResultMsg:
		if msg.err != nil {
			a.status = "copy failed: " + msg.err.Error()
		} else {
			a.status = "copied " + msg.what
		}
		return a, nil

	case openResultMsg:
		if msg.err != nil {
			a.status = "open failed: " + errSuffix(msg.err)
		} else {
			a.status = "opened customer profile"
		}
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	prev := a.cursorRoom()
	var cmd tea.Cmd
	a.desk, cmd = a.desk.Update(msg)
	if i := a.desk.Directory().IndexOf(prev); i >= 0 {
		a.cursor = i
	}
	a.clampCursor()
	return a, cmd
}

// cursorRoom is the id of the highlighted room, if any.
func (a App) cursorRoom() domain.ID {
	rooms := a.desk.Rooms()
	if a.cursor < len(rooms) {
		return rooms[a.cursor].RoomID
	}
	return ""
}

func (a App) quit() (tea.Model, tea.Cmd) {
	a.desk = a.desk.Teardown()
	return a, tea.Quit
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return a.quit()
	}

	if a.helpOpen {
		switch key {
		case "h", "?", "esc":
			a.helpOpen = false
		case "q":
			return a.quit()
		}
		return a, nil
	}

	if a.focus == focusComposer {
		return a.updateComposer(msg)
	}

	a.status = ""
	rooms := a.desk.Rooms()
	switch key {
	case "q":
		return a.quit()
	case "h", "?":
		a.helpOpen = true
	case "j", "down":
		if a.cursor < len(rooms)-1 {
			a.cursor++
		}
	case "k", "up":
		if a.cursor > 0 {
			a.cursor--
		}
	case "g", "home":
		a.cursor = 0
	case "G", "end":
		if len(rooms) > 0 {
			a.cursor = len(rooms) - 1
		}
	case "enter":
		if a.cursor < len(rooms) {
			var cmd tea.Cmd
			a.desk, cmd = a.desk.Select(rooms[a.cursor].RoomID)
			a.focus = focusComposer
			return a, cmd
		}
	case "tab":
		if a.desk.SelectedID() != "" {
			a.focus = focusComposer
		}
	case "r":
		var cmd tea.Cmd
		a.desk, cmd = a.desk.Refresh()
		a.status = "refreshing"
		return a, cmd
	case "n":
		a.desk = a.desk.AckNewMessage()
	case "y":
		return a, a.copySelected()
	case "o":
		return a, a.openSelected()
	}
	return a, nil
}

func (a App) updateComposer(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "tab":
		a.focus = focusRooms
		return a, nil
	case "enter":
		var cmd tea.Cmd
		a.desk = a.desk.ClearNotice().AckNewMessage()
		a.desk, cmd = a.desk.Send()
		return a, cmd
	}
	a.desk = a.desk.SetComposer(editComposer(a.desk.Composer(), msg))
	return a, nil
}

// copySelected copies the customer's email of the highlighted room, or the
// room id when the customer has no email on file.
func (a App) copySelected() tea.Cmd {
	rooms := a.desk.Rooms()
	if a.cursor >= len(rooms) {
		return nil
	}
	r := rooms[a.cursor]
	text, what := r.User.Email, "email"
	if text == "" {
		text, what = r.RoomID.String(), "room id"
	}
	return func() tea.Msg {
		return copyResultMsg{what: what, err: clipboardWrite(text)}
	}
}

// openSelected opens the highlighted customer's profile in the web admin.
func (a App) openSelected() tea.Cmd {
	rooms := a.desk.Rooms()
	if a.webURL == "" || a.cursor >= len(rooms) {
		return nil
	}
	target, err := browser.CustomerURL(a.webURL, rooms[a.cursor].User.ID.String())
	return func() tea.Msg {
		if err != nil {
			return openResultMsg{err: err}
		}
		return openResultMsg{err: openBrowser(target)}
	}
}

// errSuffix drops the package prefixes from a wrapped error.
func errSuffix(err error) string {
	s := err.Error()
	if i := strings.LastIndex(s, ": "); i >= 0 {
		return s[i+2:]
	}
	return s
}

func (a *App) clampCursor() {
	n := len(a.desk.Rooms())
	if a.cursor >= n {
		a.cursor = n - 1
	}
	if a.cursor < 0 {
		a.cursor = 0
	}
}

func (a App) View() string {
	logo := renderShimmerLogo(a.frame)
	logoPad := (a.width - lipgloss.Width(logo)) / 2
	if logoPad < 0 {
		logoPad = 0
	}
	header := strings.Repeat(" ", logoPad) + logo

	// Status line: who, stream state, API generation.
	parts := []string{selectedStyle.Render(a.name)}
	switch {
	case !a.desk.StreamEnabled():
		parts = append(parts, dimStyle.Render("polling"))
	case a.desk.Connected():
		parts = append(parts, presenceDotStyle.Render("●")+" "+dimStyle.Render("live"))
	default:
		parts = append(parts, metaStyle.Render("○ reconnecting"))
	}
	if a.desk.Legacy() {
		parts = append(parts, goldStyle.Render("legacy api"))
	}
	if a.version != "" {
		parts = append(parts, metaStyle.Render(a.version))
	}
	statusLine := strings.Join(parts, metaStyle.Render(" . "))
	statusPad := (a.width - lipgloss.Width(statusLine)) / 2
	if statusPad < 0 {
		statusPad = 0
	}
	header += "\n" + strings.Repeat(" ", statusPad) + statusLine

	// Chrome: header(2) + notice(1) + help(1) = 4 lines
	bodyHeight := a.height - 4
	if bodyHeight < 3 {
		bodyHeight = 3
	}

	var body string
	if a.helpOpen {
		body = strings.TrimRight(clipLines(helpView(), bodyHeight), "\n")
	} else {
		chatWidth := a.width - roomsPaneWidth - 1
		if chatWidth < 20 {
			chatWidth = 20
		}
		left := paneStyle.Width(roomsPaneWidth - 1).Height(bodyHeight).
			Render(renderRooms(a.desk, a.cursor, roomsPaneWidth-2, bodyHeight))
		right := lipgloss.NewStyle().PaddingLeft(1).Width(chatWidth).Height(bodyHeight).
			Render(renderChat(a.desk, a.name, a.focus == focusComposer, a.frame, chatWidth-1, bodyHeight))
		body = lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	}

	notice := ""
	switch {
	case a.desk.Notice() != "":
		notice = " " + noticeStyle.Render(truncStr(a.desk.Notice(), max(a.width-2, 1)))
	case a.status != "":
		notice = " " + dimStyle.Render(a.status)
	}

	var help string
	switch {
	case a.helpOpen:
		help = " " + helpEntry("esc", "close") + "  " + helpEntry("q", "quit")
	case a.focus == focusComposer:
		help = " " + helpEntry("enter", "send") + "  " + helpEntry("ctrl+u", "clear") + "  " + helpEntry("esc", "rooms")
	default:
		help = " " + helpEntry("j/k", "nav") + "  " + helpEntry("enter", "open") + "  " + helpEntry("tab", "reply") +
			"  " + helpEntry("r", "refresh") + "  " + helpEntry("y", "copy") + "  " + helpEntry("o", "profile") + "  " + helpEntry("h", "help") + "  " + helpEntry("q", "quit")
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s", header, body, notice, help)
}
