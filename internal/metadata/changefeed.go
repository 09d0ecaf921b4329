// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package metadata

import (
	"context"
	"log/slog"
	"time"
)

// ChangeFeed polls the app repository for modifications and notifies a
// subscriber when the auth configuration changed. The gateway uses it to
// rebuild the authentication handler registry without a restart.
type ChangeFeed struct {
	apps     AppRepository
	interval time.Duration
	logger   *slog.Logger
	onChange func(ctx context.Context, apps []*AuthApp) error

	cursor time.Time
}

// NewChangeFeed creates a poller over the given repository.
//
// # Parameters
//   - apps: Repository to watch.
//   - interval: Polling period.
//   - logger: Structured logger for poll outcomes.
//   - onChange: Called with the fresh app list whenever a change is detected.
func NewChangeFeed(
	apps AppRepository,
	interval time.Duration,
	logger *slog.Logger,
	onChange func(ctx context.Context, apps []*AuthApp) error,
) *ChangeFeed {
	return &ChangeFeed{
		apps:     apps,
		interval: interval,
		logger:   logger,
		onChange: onChange,
	}
}

// Run polls until the context is cancelled. An immediate first poll loads
// the initial configuration; poll failures are logged and retried on the
// next tick rather than terminating the feed.
func (feed *ChangeFeed) Run(ctx context.Context) {
	if err := feed.poll(ctx); err != nil {
		feed.logger.Error("auth_app_feed_initial_load_failed", slog.Any("error", err))
	}

	ticker := time.NewTicker(feed.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := feed.poll(ctx); err != nil {
				feed.logger.Error("auth_app_feed_poll_failed", slog.Any("error", err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (feed *ChangeFeed) poll(ctx context.Context) error {

	// 1. Compare the newest modification stamp against the cursor
	changedAt, err := feed.apps.LastChangedAt(ctx)
	if err != nil {
		return err
	}
	if !feed.cursor.IsZero() && !changedAt.After(feed.cursor) {
		return nil
	}

	// 2. Something changed: reload the active apps
	apps, err := feed.apps.ListActive(ctx)
	if err != nil {
		return err
	}

	// 3. Hand the fresh configuration to the subscriber
	if err := feed.onChange(ctx, apps); err != nil {
		return err
	}

	// Advance the cursor only after a successful hand-off, so a failed
	// rebuild is retried on the next tick.
	feed.cursor = changedAt
	if feed.cursor.IsZero() {
		feed.cursor = time.Unix(1, 0)
	}

	feed.logger.Info("auth_app_feed_reloaded",
		slog.Int("app_count", len(apps)),
		slog.Time("changed_at", changedAt),
	)

	return nil
}
