package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/five82/hackops/internal/api"
	"github.com/five82/hackops/internal/config"
	"github.com/five82/hackops/internal/kv"
	"github.com/five82/hackops/internal/metrics"
	"github.com/five82/hackops/internal/netcall"
	"github.com/five82/hackops/internal/outbox"
	"github.com/five82/hackops/internal/prefs"
	"github.com/five82/hackops/internal/session"
	"github.com/five82/hackops/internal/state"
	"github.com/five82/hackops/internal/ui"
)

// Options configure the hackops application.
type Options struct {
	ConfigPath string
	PollEvery  int  // seconds; zero uses the config value
	Headless   bool // run sync only, no dashboard
	Login      *session.Session
	Logout     bool
}

// Run boots hackops until the context is cancelled.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	interval := cfg.PollInterval
	if opts.PollEvery > 0 {
		interval = time.Duration(opts.PollEvery) * time.Second
	}

	logger, closeLog, err := newLogger(cfg, opts.Headless)
	if err != nil {
		return err
	}
	defer closeLog()
	log := logrus.NewEntry(logger)

	db, err := kv.OpenSQLite(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open client store: %w", err)
	}
	defer func() { _ = db.Close() }()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("init cookie jar: %w", err)
	}
	client, err := api.NewClient(cfg.APIURL, jar)
	if err != nil {
		return fmt.Errorf("init api client: %w", err)
	}
	sessions, err := session.NewStore(session.Options{KV: db, Jar: jar, BaseURL: client.BaseURL(), Log: log})
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}

	recorder := metrics.New()
	monitor := netcall.NewMonitor(netcall.MonitorOptions{
		Probe:    func(ctx context.Context) error { return client.Probe(ctx, cfg.ProbePath) },
		Interval: cfg.ProbeInterval,
		Log:      log,
		Metrics:  recorder,
	})
	queue, err := outbox.Open(ctx, outbox.Options{
		KV:          db,
		MaxAttempts: cfg.OutboxMaxAttempts,
		Log:         log,
		Metrics:     recorder,
	})
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}

	store, err := state.New(state.Options{
		Client:             client,
		Session:            sessions,
		Monitor:            monitor,
		Outbox:             queue,
		Log:                log,
		Metrics:            recorder,
		QueueOfflineWrites: cfg.QueueOfflineWrites,
	})
	if err != nil {
		return fmt.Errorf("init sync store: %w", err)
	}
	defer store.Dispose()

	if _, err := sessions.Restore(ctx); err != nil {
		log.WithError(err).Warn("session restore failed; continuing signed out")
	}
	if n := len(queue.Pending()); n > 0 {
		// The poller's first refresh replays these before any fetch.
		log.WithField("pending", n).Info("queued writes restored from the last run")
	}
	switch {
	case opts.Logout:
		if err := store.Logout(ctx); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	case opts.Login != nil:
		if err := store.Login(ctx, opts.Login); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}

	go monitor.Run(ctx)
	if cfg.MetricsAddr != "" {
		if err := StartMetricsServer(ctx, cfg.MetricsAddr, recorder, log); err != nil {
			return err
		}
	}
	StartPoller(ctx, store, interval, log)

	if opts.Headless {
		log.WithFields(logrus.Fields{"api": client.BaseURL().String(), "poll": interval}).Info("running headless")
		<-ctx.Done()
		return nil
	}

	userPrefs, _ := prefs.Load(cfg.PrefsPath())
	if cfg.Theme != "" {
		userPrefs.Theme = cfg.Theme
	}
	return ui.Run(ui.Options{
		Context:   ctx,
		Store:     store,
		PollTick:  interval,
		Prefs:     userPrefs,
		PrefsPath: cfg.PrefsPath(),
		LogPath:   cfg.LogPath(),
	})
}

// newLogger writes to stderr when headless and to the log file otherwise, so
// log lines never draw over the dashboard.
func newLogger(cfg config.Config, headless bool) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log_level %q: %w", cfg.LogLevel, err)
	}
	logger.SetLevel(level)

	if headless {
		logger.SetOutput(os.Stderr)
		return logger, func() {}, nil
	}

	path := cfg.LogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(file)
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	return logger, func() {
		logger.SetOutput(io.Discard)
		if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			fmt.Fprintf(os.Stderr, "hackops: close log: %v\n", err)
		}
	}, nil
}
