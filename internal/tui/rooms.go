package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/naveenspark/supportdesk/internal/desk"
	"github.com/naveenspark/supportdesk/pkg/domain"
)

// roomName is the label shown for a room's customer.
func roomName(r domain.Room) string {
	fallback := r.User.Email
	if fallback == "" {
		fallback = "guest " + truncStr(r.RoomID.String(), 8)
	}
	return cleanText(r.User.DisplayName(fallback), true)
}

// renderRooms renders the rooms column. Each room takes two lines: the
// customer with presence and unread count, then the last message preview.
func renderRooms(m desk.Model, cursor, width, height int) string {
	rooms := m.Rooms()
	if len(rooms) == 0 {
		if m.LoadingRooms() {
			return dimStyle.Render(" loading rooms...")
		}
		return dimStyle.Render(" no active rooms")
	}

	// Keep the cursor visible: two lines per room plus the title.
	visible := (height - 2) / 2
	if visible < 1 {
		visible = 1
	}
	start := 0
	if cursor >= visible {
		start = cursor - visible + 1
	}

	var b strings.Builder
	title := fmt.Sprintf(" rooms %d", len(rooms))
	if m.LoadingRooms() {
		title += " ..."
	}
	b.WriteString(metaStyle.Render(title) + "\n\n")

	for i := start; i < len(rooms) && i < start+visible; i++ {
		r := rooms[i]
		marker := "  "
		if i == cursor {
			marker = accentStyle.Render("> ")
		}

		name := roomName(r)
		nameStyle := normalStyle
		if r.RoomID == m.SelectedID() {
			nameStyle = selectedStyle
		}
		badge := ""
		if r.UnreadCount > 0 {
			badge = " " + unreadStyle.Render(fmt.Sprintf("(%d)", r.UnreadCount))
		}
		if m.Typing(r.RoomID) {
			badge += " " + accentStyle.Render("…")
		}
		nameMax := width - 4 - lipgloss.Width(badge)
		line1 := marker + presenceDot(r.IsOnline) + " " + nameStyle.Render(truncStr(name, nameMax)) + badge

		preview, when := "", formatTime(r.LastActivity)
		if r.LastMessage != nil {
			preview = cleanText(r.LastMessage.Text, true)
			if !r.LastMessage.IsUser && preview != "" {
				preview = "you: " + preview
			}
			if !r.LastMessage.Timestamp.IsZero() {
				when = formatTime(r.LastMessage.Timestamp)
			}
		}
		if r.Status != domain.RoomActive {
			when = StatusStyle(r.Status).Render(string(r.Status))
		} else if when != "" {
			when = metaStyle.Render(when)
		}
		previewMax := width - 5 - lipgloss.Width(when)
		line2 := "    " + dimStyle.Render(truncStr(preview, previewMax))
		if when != "" {
			pad := width - lipgloss.Width(line2) - lipgloss.Width(when)
			if pad < 1 {
				pad = 1
			}
			line2 += strings.Repeat(" ", pad) + when
		}

		if i == cursor {
			line1 = selectedRowBg.Width(width).Render(line1)
		}
		b.WriteString(line1 + "\n" + line2 + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
