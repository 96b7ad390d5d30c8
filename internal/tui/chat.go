package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/naveenspark/supportdesk/internal/desk"
	"github.com/naveenspark/supportdesk/pkg/domain"
)

// renderChat renders the conversation column: room header, the tail of the
// message log that fits, and the reply box.
func renderChat(m desk.Model, self string, focused bool, frame, width, height int) string {
	room, ok := m.Selected()
	if !ok {
		return renderSummary(m)
	}

	// Header
	name := roomName(room)
	head := []string{selectedStyle.Render(name)}
	if room.User.Email != "" {
		head = append(head, dimStyle.Render(cleanText(room.User.Email, true)))
	}
	head = append(head, StatusStyle(room.Status).Render(string(room.Status)))
	if room.IsOnline {
		head = append(head, presenceDotStyle.Render("● online"))
	} else {
		head = append(head, metaStyle.Render("○ offline"))
	}
	if room.Admin != nil {
		head = append(head, metaStyle.Render("assigned "+cleanText(room.Admin.DisplayName(room.Admin.ID.String()), true)))
	}
	header := strings.Join(head, chatSepStyle.Render(" · "))
	stats := metaStyle.Render(pluralize(room.TotalMessages, "message") + " · room " + room.RoomID.String())

	// Footer: typing hint, new-message marker, reply box.
	var footer []string
	if m.Typing(room.RoomID) {
		footer = append(footer, chatSysStyle.Render("        "+name+" is typing..."))
	}
	if m.NewMessage() {
		footer = append(footer, accentStyle.Render("        ▼ new message from customer (n to dismiss)"))
	}
	placeholder := "tab to reply..."
	if focused {
		placeholder = ""
	}
	if m.Sending() {
		footer = append(footer, chatSysStyle.Render("        sending..."))
	}
	footer = append(footer, renderChatInput(self, m.Composer(), placeholder, focused, frame))

	// Messages fill whatever is left, newest at the bottom.
	avail := height - 3 - len(footer)
	var lines []string
	switch {
	case m.LoadingHistory() && len(m.Messages()) == 0:
		lines = []string{dimStyle.Render("  loading messages...")}
	case len(m.Messages()) == 0:
		lines = []string{dimStyle.Render("  no messages yet")}
	default:
		now := time.Now()
		for _, msg := range m.Messages() {
			lines = append(lines, renderMessage(msg, name, self, now, width)...)
		}
	}
	if avail > 0 && len(lines) > avail {
		lines = lines[len(lines)-avail:]
	}

	var b strings.Builder
	b.WriteString(header + "\n" + stats + "\n\n")
	b.WriteString(strings.Join(lines, "\n"))
	body := b.String()
	gap := height - lipgloss.Height(body) - len(footer)
	if gap > 0 {
		body += strings.Repeat("\n", gap)
	}
	return body + "\n" + strings.Join(footer, "\n")
}

// renderMessage renders one message as "HH:MM  name · text", wrapping the
// text under itself.
func renderMessage(msg domain.Message, customer, self string, now time.Time, width int) []string {
	ts := metaStyle.Render(clock(msg.Timestamp, now))
	who := chatSelfNameStyle.Render(senderLabel(msg, self))
	textStyle := chatSelfTextStyle
	if msg.IsFromUser {
		who = chatCustomerNameStyle.Render(senderLabel(msg, customer))
		textStyle = chatTextStyle
	}
	prefix := ts + "  " + who + chatSepStyle.Render(" · ")
	indent := lipgloss.Width(prefix)

	textWidth := width - indent
	if textWidth < 10 {
		textWidth = 10
	}
	wrapped := lipgloss.NewStyle().Width(textWidth).Render(cleanText(msg.Text, false))
	out := strings.Split(wrapped, "\n")
	for i, l := range out {
		l = textStyle.Render(strings.TrimRight(l, " "))
		if i == 0 {
			out[i] = prefix + l
		} else {
			out[i] = strings.Repeat(" ", indent) + l
		}
	}
	return out
}

func senderLabel(msg domain.Message, fallback string) string {
	if msg.SenderName != "" {
		return cleanText(msg.SenderName, true)
	}
	return fallback
}

func pluralize(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// renderSummary is shown while no room is open.
func renderSummary(m desk.Model) string {
	total, active, online := m.Directory().Summary()
	stat := func(n int, label string) string {
		return "  " + accentStyle.Render(fmt.Sprintf("%4d", n)) + "  " + dimStyle.Render(label)
	}
	return strings.Join([]string{
		"",
		dimStyle.Render("  select a room with enter"),
		"",
		stat(total, "conversations"),
		stat(active, "active"),
		stat(online, "customers online"),
	}, "\n")
}
