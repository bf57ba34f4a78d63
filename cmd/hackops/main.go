package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/five82/hackops/internal/app"
	"github.com/five82/hackops/internal/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "override config path (optional)")
	pollSeconds := flag.Int("poll", 0, "refresh interval in seconds (optional, defaults to poll_seconds)")
	headless := flag.Bool("headless", false, "keep caches in sync without the dashboard")
	userID := flag.String("login", "", "sign in as this user id before starting")
	role := flag.String("role", "participant", "role for -login (admin, organizer, coordinator, faculty, participant)")
	name := flag.String("name", "", "display name for -login")
	email := flag.String("email", "", "email for -login")
	lab := flag.String("lab", "", "assigned lab for -login")
	logout := flag.Bool("logout", false, "clear the stored session before starting")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := app.Options{ConfigPath: *configPath, Headless: *headless, Logout: *logout}
	if poll := *pollSeconds; poll > 0 {
		opts.PollEvery = poll
	}
	if id := strings.TrimSpace(*userID); id != "" {
		if *logout {
			fmt.Fprintln(os.Stderr, "hackops: -login and -logout are mutually exclusive")
			return 2
		}
		opts.Login = &session.Session{
			ID:          id,
			Role:        strings.TrimSpace(*role),
			DisplayName: strings.TrimSpace(*name),
			Email:       strings.TrimSpace(*email),
			Lab:         strings.TrimSpace(*lab),
		}
	}

	if err := app.Run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "hackops: %v\n", err)
		return 1
	}
	return 0
}
