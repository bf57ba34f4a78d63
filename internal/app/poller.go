package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultPollInterval = 15 * time.Second

// refresher is the part of state.Store the poller drives.
type refresher interface {
	Refresh(ctx context.Context) error
}

// StartPoller launches a background goroutine that refreshes the store at a
// fixed cadence. It returns immediately.
func StartPoller(ctx context.Context, store refresher, interval time.Duration, log *logrus.Entry) {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if err := store.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Debug("poll refresh incomplete")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
