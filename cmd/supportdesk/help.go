package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/naveenspark/supportdesk/internal/auth"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5eead4")).Bold(true)
	cmdStyle   = lipgloss.NewStyle().Bold(true)
	descStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	denyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#e06060")).Bold(true)
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func printHelp() {
	commands := []struct{ cmd, desc string }{
		{"supportdesk", "Open the support console"},
		{"supportdesk login [token]", "Store a staff session token (reads stdin if omitted)"},
		{"supportdesk logout", "Clear the stored session"},
		{"supportdesk whoami", "Show the signed-in identity"},
		{"supportdesk dashboard", "Open the web chat dashboard"},
		{"supportdesk --version", "Show version"},
		{"supportdesk help", "You are here"},
	}

	fmt.Printf("\n  %s\n\n  Commands:\n", titleStyle.Render("S U P P O R T D E S K"))
	for _, c := range commands {
		fmt.Printf("    %s  %s\n", cmdStyle.Render(fmt.Sprintf("%-26s", c.cmd)), descStyle.Render(c.desc))
	}
	fmt.Printf("\n  %s\n\n", hintStyle.Render("Settings: SUPPORTDESK_* env vars or ~/.supportdesk/config.yaml"))
}

func printAccessDenied(err error) {
	writeAccessDenied(os.Stdout, err)
}

// writeAccessDenied explains why the console will not open.
func writeAccessDenied(w io.Writer, err error) {
	var reason, hint string
	switch {
	case errors.Is(err, auth.ErrNoToken):
		reason = "You are not signed in."
		hint = "To sign in: supportdesk login <token>"
	case errors.Is(err, auth.ErrTokenExpired):
		reason = "Your session has expired."
		hint = "Sign in again: supportdesk login <token>"
	case errors.Is(err, auth.ErrForbidden):
		reason = "This account is not an admin or staff member."
		hint = "Ask an administrator for a staff account."
	default:
		reason = err.Error()
		hint = "To sign in: supportdesk login <token>"
	}
	fmt.Fprintf(w, "\n%s\n\n%s\n\n%s\n\n",
		denyStyle.Render("ACCESS DENIED"), reason, hintStyle.Render(hint))
}
