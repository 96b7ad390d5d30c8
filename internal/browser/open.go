// Package browser hands web admin pages off to the desktop browser.
package browser

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"
)

// command returns the launcher for the current platform.
var command = func(goos, target string) (*exec.Cmd, error) {
	switch goos {
	case "darwin":
		return exec.Command("open", target), nil
	case "linux", "freebsd", "openbsd":
		return exec.Command("xdg-open", target), nil
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target), nil
	default:
		return nil, fmt.Errorf("browser.Open: unsupported OS: %s", goos)
	}
}

// Open launches the default browser on an http(s) URL.
func Open(target string) error {
	if err := checkURL(target); err != nil {
		return err
	}
	cmd, err := command(runtime.GOOS, target)
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("browser.Open: %w", err)
	}
	return nil
}

// CustomerURL is the web admin page for a customer account.
func CustomerURL(webURL, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("browser.CustomerURL: customer has no id")
	}
	return join(webURL, "admin", "customers", userID)
}

// ChatURL is the web admin chat dashboard.
func ChatURL(webURL string) (string, error) {
	return join(webURL, "chat")
}

func join(base string, elems ...string) (string, error) {
	if err := checkURL(base); err != nil {
		return "", err
	}
	out, err := url.JoinPath(strings.TrimRight(base, "/"), elems...)
	if err != nil {
		return "", fmt.Errorf("browser: join %q: %w", base, err)
	}
	return out, nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("browser: parse %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("browser: refusing %q: not an http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("browser: refusing %q: missing host", raw)
	}
	return nil
}
