// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Let-s-build-something/client-app/lib/clock"
	"github.com/Let-s-build-something/client-app/messaging"
)

// ResponseFunc consumes one sync response. Subscribers run in
// registration order on the loop goroutine; the next poll starts after
// all of them return.
type ResponseFunc func(ctx context.Context, response *messaging.SyncResponse)

// Config holds the parameters for NewService.
type Config struct {
	// Session is the authenticated homeserver session. Required.
	Session *messaging.Session

	// Clock provides backoff timing. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger

	// MaxBackoff caps the retry delay after transport errors. The loop
	// backs off exponentially from one second. Default: 30 seconds.
	MaxBackoff time.Duration
}

// StartOptions controls one run of the sync loop.
type StartOptions struct {
	// Timeout is the long-poll hold in milliseconds. Default: 30000.
	Timeout int

	// Presence is reported with every poll: "online", "unavailable",
	// or "offline". Empty leaves the server default (online).
	Presence string

	// Filter is an optional inline JSON sync filter.
	Filter string
}

// Service runs the long-poll sync loop for one authenticated session.
// At most one loop runs at a time: Start while running is a no-op, and
// Stop blocks until the worker has exited and the account has been
// reported offline.
type Service struct {
	session    *messaging.Session
	clock      clock.Clock
	logger     *slog.Logger
	maxBackoff time.Duration

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	since       string
	options     StartOptions
	subscribers []ResponseFunc
	runningSubs []chan bool
	running     bool
}

// NewService validates the configuration and returns a stopped Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("syncer: Session is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return &Service{
		session:    cfg.Session,
		clock:      clk,
		logger:     logger,
		maxBackoff: maxBackoff,
	}, nil
}

// Subscribe registers a response consumer. Must be called before
// Start; consumers registered first see each response first.
func (s *Service) Subscribe(fn ResponseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Running reports whether the loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunningUpdates returns a channel carrying running-state transitions.
// The channel is buffered and latest-wins: a slow reader observes the
// most recent state, not every flip.
func (s *Service) RunningUpdates() <-chan bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	channel := make(chan bool, 1)
	s.runningSubs = append(s.runningSubs, channel)
	return channel
}

// Start validates the account and launches the sync loop. A second
// Start while the loop is running is a no-op. The loop stops when ctx
// is cancelled, Stop is called, or the session's credentials are
// rejected; after a credential rejection it stays stopped until the
// next explicit Start.
func (s *Service) Start(ctx context.Context, options StartOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	// Account validity gate: a revoked token fails here instead of
	// spinning the loop against 401s.
	if _, err := s.session.WhoAmI(ctx); err != nil {
		return fmt.Errorf("syncer: account validation: %w", err)
	}

	if options.Timeout <= 0 {
		options.Timeout = 30000
	}
	s.options = options

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.setRunningLocked(true)

	go s.run(loopCtx, done, options)
	return nil
}

// Stop cancels the loop, waits for the worker to exit, and makes a
// best-effort attempt to report the account offline so the homeserver
// does not hold a dangling long-poll presence. Safe to call when
// already stopped.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("syncer: stop: %w", ctx.Err())
	}

	// The loop context is gone; use a short fresh one so the offline
	// report still goes out during teardown.
	offlineCtx, offlineCancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer offlineCancel()
	if err := s.session.SetPresence(offlineCtx, "offline", ""); err != nil {
		s.logger.Warn("offline presence report failed", "error", err)
	}
	s.session.CloseIdleConnections()
	return nil
}

// Restart stops the loop if it is running and starts it again with the
// last options.
func (s *Service) Restart(ctx context.Context) error {
	s.mu.Lock()
	options := s.options
	s.mu.Unlock()

	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx, options)
}

// run is the loop worker. It owns s.since; nobody else touches it while
// the loop runs.
func (s *Service) run(ctx context.Context, done chan struct{}, options StartOptions) {
	defer close(done)
	defer func() {
		s.mu.Lock()
		s.setRunningLocked(false)
		s.mu.Unlock()
	}()

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		response, err := s.session.Sync(ctx, messaging.SyncOptions{
			Since:       s.since,
			Timeout:     options.Timeout,
			SetTimeout:  true,
			Filter:      options.Filter,
			SetPresence: options.Presence,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if messaging.IsAuthError(err) {
				// Credentials revoked mid-session. The loop cannot
				// recover; the app re-invokes Start after re-login.
				s.logger.Error("sync credentials rejected, loop stopping", "error", err)
				return
			}
			s.logger.Error("sync failed, retrying", "error", err, "backoff", backoff)
			s.session.CloseIdleConnections()
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(backoff):
			}
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
			continue
		}

		backoff = time.Second
		s.since = response.NextBatch

		s.mu.Lock()
		subscribers := make([]ResponseFunc, len(s.subscribers))
		copy(subscribers, s.subscribers)
		s.mu.Unlock()

		// A long-poll timeout returns an empty delta; dispatching it is
		// harmless and keeps subscriber logic uniform.
		for _, subscriber := range subscribers {
			subscriber(ctx, response)
		}
	}
}

func (s *Service) setRunningLocked(running bool) {
	if s.running == running {
		return
	}
	s.running = running
	for _, subscriber := range s.runningSubs {
		select {
		case subscriber <- running:
		default:
			select {
			case <-subscriber:
			default:
			}
			select {
			case subscriber <- running:
			default:
			}
		}
	}
}
