package tui

import (
	"strings"
	"unicode"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
)

// maxInputLen is the maximum number of runes allowed in the reply box.
const maxInputLen = 2000

// editComposer applies one key event to the draft reply. Typed and pasted
// text is appended as a single line, clamped to maxInputLen runes. Named
// keys other than the editing ones leave the draft unchanged.
func editComposer(text string, msg tea.KeyMsg) string {
	switch msg.Type {
	case tea.KeySpace:
		return appendClamped(text, " ")
	case tea.KeyRunes:
		if msg.Alt {
			return text
		}
		return appendClamped(text, oneLine(string(msg.Runes)))
	case tea.KeyBackspace:
		if text == "" {
			return text
		}
		_, size := utf8.DecodeLastRuneInString(text)
		return text[:len(text)-size]
	case tea.KeyCtrlW:
		return dropLastWord(text)
	case tea.KeyCtrlU:
		return ""
	}
	return text
}

// oneLine turns line breaks and tabs in pasted text into spaces.
func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func appendClamped(text, add string) string {
	room := maxInputLen - utf8.RuneCountInString(text)
	if room <= 0 || add == "" {
		return text
	}
	if utf8.RuneCountInString(add) > room {
		add = string([]rune(add)[:room])
	}
	return text + add
}

// dropLastWord removes trailing spaces and then the word before them.
func dropLastWord(text string) string {
	t := strings.TrimRightFunc(text, unicode.IsSpace)
	i := strings.LastIndexFunc(t, unicode.IsSpace)
	if i < 0 {
		return ""
	}
	return t[:i+1]
}

// clipLines keeps at most n lines of s. n <= 0 keeps everything.
func clipLines(s string, n int) string {
	if n <= 0 {
		return s
	}
	lines := strings.SplitAfter(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "")
}

// renderChatInput renders the reply box: the staff name, a blinking cursor,
// and a placeholder when empty.
func renderChatInput(name, input, placeholder string, focused bool, animFrame int) string {
	const timeIndent = "        " // matches the "15:04  " message gutter

	sep := chatSepStyle.Render(" · ")
	namePart := chatInputNameStyle.Render(name)
	if !focused {
		if input == "" {
			return timeIndent + namePart + sep + inputPlaceholderStyle.Render(placeholder)
		}
		return timeIndent + namePart + sep + dimStyle.Render(input)
	}
	cursor := " "
	if (animFrame/4)%2 == 0 {
		cursor = accentStyle.Render("█")
	}
	if input == "" {
		return timeIndent + namePart + sep + cursor
	}
	return timeIndent + namePart + sep + chatComposingStyle.Render(input) + cursor
}
