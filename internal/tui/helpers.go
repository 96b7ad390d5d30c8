package tui

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// textPolicy strips all markup from customer supplied text.
var textPolicy = bluemonday.StrictPolicy()

// formatTime renders a relative timestamp for the rooms list.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// clock renders a message timestamp as local HH:MM, with the date when it is
// not from today.
func clock(t, now time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	t = t.Local()
	now = now.Local()
	if t.YearDay() == now.YearDay() && t.Year() == now.Year() {
		return t.Format("15:04")
	}
	return t.Format("Jan 2 15:04")
}

// truncStr truncates a string to maxLen runes, appending an ellipsis if needed.
func truncStr(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen-1]) + "…"
}

// cleanText turns message text into something safe to print: markup is
// stripped, entities decoded and control characters (including terminal
// escape sequences) dropped. Newlines survive unless oneLine is set.
func cleanText(raw string, oneLine bool) string {
	s := html.UnescapeString(textPolicy.Sanitize(raw))
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			if oneLine {
				return ' '
			}
			return r
		case r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	if oneLine {
		s = strings.Join(strings.Fields(s), " ")
	}
	return strings.TrimSpace(s)
}
