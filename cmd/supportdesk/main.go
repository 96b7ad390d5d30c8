package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/naveenspark/supportdesk/internal/auth"
	"github.com/naveenspark/supportdesk/internal/browser"
	"github.com/naveenspark/supportdesk/internal/config"
	"github.com/naveenspark/supportdesk/internal/desk"
	"github.com/naveenspark/supportdesk/internal/logging"
	"github.com/naveenspark/supportdesk/internal/tui"
	"github.com/naveenspark/supportdesk/pkg/client"
	"github.com/naveenspark/supportdesk/pkg/stream"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "--version", "version", "-v":
			fmt.Println("supportdesk " + version)
			return nil
		case "help", "--help", "-h":
			printHelp()
			return nil
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store := auth.NewStore(cfg.Dir)

	if len(args) > 0 {
		switch args[0] {
		case "login":
			return runLogin(cfg, store, args[1:])
		case "logout":
			return runLogout(store, os.Stdout)
		case "whoami":
			return runWhoami(store, os.Stdout, time.Now())
		case "dashboard":
			return runDashboard(cfg)
		default:
			return fmt.Errorf("unknown command %q, see: supportdesk help", args[0])
		}
	}

	creds, err := store.Hydrate()
	if err != nil {
		return err
	}
	if err := auth.Authorize(creds, time.Now()); err != nil {
		printAccessDenied(err)
		return nil
	}
	return launch(cfg, creds)
}

// launch opens the log file, wires the engine to the REST client and the
// event stream, and runs the console until the user quits.
func launch(cfg config.Config, creds auth.Credentials) error {
	logger, logFile, err := logging.OpenFile(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logFile.Close() //nolint:errcheck

	logger.Info().Str("admin", creds.Identity.Key()).Str("api", cfg.APIURL).Msg("console starting")

	c := client.New(cfg.APIURL, creds.Token, client.WithTimeout(cfg.HTTPTimeout))

	var dial desk.Dialer
	if cfg.StreamEnabled {
		dial = streamDialer(cfg, creds.Token, logging.Component(logger, "stream"))
	}

	intervals := desk.DefaultIntervals()
	intervals.Rooms = cfg.RoomsInterval
	intervals.Messages = cfg.MessagesInterval
	intervals.Presence = cfg.PresenceInterval

	engine := desk.New(desk.Options{
		API:                 c,
		Dial:                dial,
		Logger:              logger,
		AdminID:             creds.Identity.Key(),
		Intervals:           intervals,
		PresenceConcurrency: cfg.PresenceConcurrency,
	})
	app := tui.NewApp(engine, creds.Identity.Label(), version).WithWebURL(cfg.WebURL)

	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui error: %w", err)
	}
	logger.Info().Msg("console closed")
	return nil
}

// streamDialer adapts stream.Dial to the engine's Dialer.
func streamDialer(cfg config.Config, token string, log zerolog.Logger) desk.Dialer {
	return func(ctx context.Context) (desk.Stream, error) {
		conn, err := stream.Dial(ctx, cfg.EventStreamURL(), token,
			stream.WithLogger(log),
			stream.WithPath(cfg.StreamPath),
		)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("sid", conn.SID()).Msg("stream dialed")
		return conn, nil
	}
}

// readTokenInput returns the token from args, or prompts for it on in.
func readTokenInput(args []string, in io.Reader, out io.Writer) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(args[0]), nil
	}
	fmt.Fprint(out, "Paste your session token: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read token: %w", err)
	}
	tok := strings.TrimSpace(line)
	if tok == "" {
		return "", auth.ErrNoToken
	}
	return tok, nil
}

// login checks that token belongs to admin or staff and stores it.
func login(store *auth.Store, token string, now time.Time) (auth.Credentials, error) {
	id, err := auth.IdentityFromToken(token)
	if err != nil {
		return auth.Credentials{}, err
	}
	creds := auth.Credentials{Token: token, Identity: id}
	if err := auth.Authorize(creds, now); err != nil {
		return auth.Credentials{}, err
	}
	if err := store.Save(creds); err != nil {
		return auth.Credentials{}, err
	}
	return creds, nil
}

func runLogin(cfg config.Config, store *auth.Store, args []string) error {
	token, err := readTokenInput(args, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	creds, err := login(store, token, time.Now())
	if err != nil {
		if errors.Is(err, auth.ErrForbidden) || errors.Is(err, auth.ErrTokenExpired) {
			printAccessDenied(err)
			return nil
		}
		return err
	}

	// Verify against the rooms endpoint; a network error still leaves the token saved.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	defer cancel()
	c := client.New(cfg.APIURL, creds.Token, client.WithTimeout(cfg.HTTPTimeout))
	if err := verify(ctx, c); err != nil {
		fmt.Printf("Token saved but verification failed: %v\n", err)
		return nil
	}
	fmt.Printf("Signed in as %s (%s)\n\n", creds.Identity.Label(), creds.Identity.Role)

	return launch(cfg, creds)
}

// verify probes the primary rooms endpoint, falling back to the legacy one.
func verify(ctx context.Context, c *client.Client) error {
	_, err := c.ListRooms(ctx)
	if client.IsNotFound(err) {
		_, err = c.ListLegacyChats(ctx)
	}
	return err
}

func runLogout(store *auth.Store, out io.Writer) error {
	removed, err := store.Clear()
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintln(out, "Already logged out.")
		return nil
	}
	fmt.Fprintln(out, "Logged out.")
	return nil
}

func runWhoami(store *auth.Store, out io.Writer, now time.Time) error {
	creds, err := store.Hydrate()
	if err != nil {
		return err
	}
	if creds.Token == "" {
		fmt.Fprintln(out, "Not logged in. Run: supportdesk login")
		return nil
	}
	id := creds.Identity
	fmt.Fprintf(out, "%s\n", id.Label())
	if id.Email != "" && id.Email != id.Label() {
		fmt.Fprintf(out, "  email    %s\n", id.Email)
	}
	if id.Key() != "" {
		fmt.Fprintf(out, "  id       %s\n", id.Key())
	}
	role := id.Role
	if role == "" {
		role = "none"
	}
	fmt.Fprintf(out, "  role     %s\n", role)
	if perms := id.Permissions(); len(perms) > 0 {
		fmt.Fprintf(out, "  can      %s\n", strings.Join(perms, ", "))
	}
	switch {
	case id.Expires.IsZero():
	case id.Expired(now):
		fmt.Fprintf(out, "  expired  %s\n", id.Expires.Local().Format(time.RFC1123))
	default:
		fmt.Fprintf(out, "  expires  %s\n", id.Expires.Local().Format(time.RFC1123))
	}
	if err := auth.Authorize(creds, now); err != nil {
		fmt.Fprintf(out, "  access   denied (%v)\n", err)
	}
	return nil
}

func runDashboard(cfg config.Config) error {
	target, err := browser.ChatURL(cfg.WebURL)
	if err != nil {
		return err
	}
	if err := browser.Open(target); err != nil {
		fmt.Printf("Could not open browser. Visit this URL manually:\n  %s\n", target)
	}
	return nil
}
