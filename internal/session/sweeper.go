// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// DefaultSweepInterval is how often expired sessions are removed.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically deletes expired sessions from a Store,
// independent of request handling.
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger

	nowFunc func() time.Time
	onSweep func(removed, active int64)
	stop    chan struct{}
	done    chan struct{}
}

// NewSweeper creates a Sweeper. It does not start until Start is called.
func NewSweeper(store Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		nowFunc:  time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnSweep registers a callback invoked after each successful sweep with
// the number of sessions removed and the number still stored. Must be
// called before Start.
func (sw *Sweeper) OnSweep(fn func(removed, active int64)) {
	sw.onSweep = fn
}

// Start runs the sweep loop in a new goroutine.
func (sw *Sweeper) Start() {
	go sw.loop()
}

// Close stops the sweep loop and waits for it to exit.
func (sw *Sweeper) Close() {
	close(sw.stop)
	<-sw.done
}

func (sw *Sweeper) loop() {
	defer close(sw.done)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sw.stop:
			return
		case <-ticker.C:
			sw.sweep()
		}
	}
}

func (sw *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sw.interval)
	defer cancel()

	removed, err := sw.store.DeleteExpired(ctx, sw.nowFunc())
	if err != nil {
		errutil.LogError(sw.logger, "session sweep failed", err)
		return
	}
	if removed > 0 {
		sw.logger.Debug("swept expired sessions", "removed", removed)
	}

	if sw.onSweep != nil {
		active, err := sw.store.Count(ctx)
		if err != nil {
			errutil.LogError(sw.logger, "session count failed", err)
			return
		}
		sw.onSweep(removed, active)
	}
}
