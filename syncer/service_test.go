// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Let-s-build-something/client-app/lib/clock"
	"github.com/Let-s-build-something/client-app/lib/ref"
	"github.com/Let-s-build-something/client-app/lib/testutil"
	"github.com/Let-s-build-something/client-app/messaging"
)

// fakeHomeserver is a minimal sync-capable homeserver.
type fakeHomeserver struct {
	t *testing.T

	whoAmICalls   atomic.Int64
	syncCalls     atomic.Int64
	presenceCalls atomic.Int64
	lastPresence  atomic.Value // string

	// syncStatus, when non-zero, makes /sync fail with that HTTP
	// status and the configured errcode.
	syncStatus atomic.Int64
	syncError  atomic.Value // string errcode
}

func (f *fakeHomeserver) handler() http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		switch {
		case strings.HasSuffix(request.URL.Path, "/account/whoami"):
			f.whoAmICalls.Add(1)
			writeTestJSON(f.t, writer, map[string]any{"user_id": "@alice:augmy.org"})

		case strings.HasSuffix(request.URL.Path, "/sync"):
			count := f.syncCalls.Add(1)
			if status := f.syncStatus.Load(); status != 0 {
				errcode, _ := f.syncError.Load().(string)
				writer.WriteHeader(int(status))
				writeTestJSON(f.t, writer, map[string]any{
					"errcode": errcode,
					"error":   "induced failure",
				})
				return
			}
			writeTestJSON(f.t, writer, map[string]any{
				"next_batch": "s" + strconv.FormatInt(count, 10),
				"rooms":      map[string]any{},
			})

		case request.Method == http.MethodPut && strings.Contains(request.URL.Path, "/presence/"):
			f.presenceCalls.Add(1)
			var body struct {
				Presence string `json:"presence"`
			}
			if err := json.NewDecoder(request.Body).Decode(&body); err == nil {
				f.lastPresence.Store(body.Presence)
			}
			writeTestJSON(f.t, writer, map[string]any{})

		default:
			f.t.Errorf("unexpected request: %s %s", request.Method, request.URL.Path)
			writer.WriteHeader(http.StatusNotFound)
		}
	}
}


func writeTestJSON(t *testing.T, writer http.ResponseWriter, value any) {
	t.Helper()
	writer.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(value); err != nil {
		t.Errorf("encoding response: %v", err)
	}
}

func newTestService(t *testing.T, fake *fakeHomeserver, clk clock.Clock) *Service {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	client, err := messaging.NewClient(messaging.ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	session, err := client.SessionFromToken(
		ref.MustParseUserID("@alice:augmy.org"),
		ref.MustParseDeviceID("DEVICE1"),
		"syt_test_token",
	)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	service, err := NewService(Config{
		Session: session,
		Clock:   clk,
		Logger:  slog.Default(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		service.Stop(stopCtx)
	})
	return service
}

func TestStartIsIdempotent(t *testing.T) {
	fake := &fakeHomeserver{t: t}
	service := newTestService(t, fake, clock.Real())
	ctx := context.Background()

	responses := make(chan *messaging.SyncResponse, 16)
	service.Subscribe(func(_ context.Context, response *messaging.SyncResponse) {
		select {
		case responses <- response:
		default:
		}
	})

	if err := service.Start(ctx, StartOptions{Timeout: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Second Start while running: no second loop, no second account
	// validation.
	if err := service.Start(ctx, StartOptions{Timeout: 1}); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	testutil.RequireReceive(t, responses, 5*time.Second, "first sync response")
	if !service.Running() {
		t.Error("Running() = false while loop active")
	}
	if got := fake.whoAmICalls.Load(); got != 1 {
		t.Errorf("whoami calls = %d, want 1 (second Start must be a no-op)", got)
	}
}

func TestStopReportsOfflineAndWaitsForWorker(t *testing.T) {
	fake := &fakeHomeserver{t: t}
	service := newTestService(t, fake, clock.Real())
	ctx := context.Background()

	running := service.RunningUpdates()

	if err := service.Start(ctx, StartOptions{Timeout: 1, Presence: "online"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := testutil.RequireReceive(t, running, 5*time.Second, "running=true"); !got {
		t.Fatalf("first running update = %v, want true", got)
	}

	if err := service.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if service.Running() {
		t.Error("Running() = true after Stop returned")
	}
	if got := testutil.RequireReceive(t, running, 5*time.Second, "running=false"); got {
		t.Fatalf("running update after Stop = %v, want false", got)
	}
	if fake.presenceCalls.Load() == 0 {
		t.Error("no presence call during Stop")
	}
	if got, _ := fake.lastPresence.Load().(string); got != "offline" {
		t.Errorf("final presence = %q, want offline", got)
	}

	// Stop again: no-op.
	if err := service.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestAuthErrorStopsLoopUntilNextStart(t *testing.T) {
	fake := &fakeHomeserver{t: t}
	service := newTestService(t, fake, clock.Real())
	ctx := context.Background()

	running := service.RunningUpdates()

	if err := service.Start(ctx, StartOptions{Timeout: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	testutil.RequireReceive(t, running, 5*time.Second, "running=true")

	// Revoke credentials mid-session.
	fake.syncError.Store("M_UNKNOWN_TOKEN")
	fake.syncStatus.Store(http.StatusUnauthorized)

	if got := testutil.RequireReceive(t, running, 5*time.Second, "running=false after revocation"); got {
		t.Fatalf("running update = %v, want false", got)
	}
	if service.Running() {
		t.Error("loop still running after credential rejection")
	}

	// The loop stays down without an explicit Start.
	syncsAfterStop := fake.syncCalls.Load()
	time.Sleep(50 * time.Millisecond)
	if got := fake.syncCalls.Load(); got != syncsAfterStop {
		t.Errorf("loop kept polling after auth failure: %d -> %d", syncsAfterStop, got)
	}

	// An explicit Start after re-auth brings it back.
	fake.syncStatus.Store(0)
	if err := service.Start(ctx, StartOptions{Timeout: 1}); err != nil {
		t.Fatalf("Start after re-auth: %v", err)
	}
	testutil.RequireReceive(t, running, 5*time.Second, "running=true again")
}

func TestTransportErrorBacksOffExponentially(t *testing.T) {
	fake := &fakeHomeserver{t: t}
	fake.syncError.Store("M_UNKNOWN")
	fake.syncStatus.Store(http.StatusInternalServerError)

	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	service := newTestService(t, fake, fakeClock)
	ctx := context.Background()

	if err := service.Start(ctx, StartOptions{Timeout: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First failure parks the loop on a 1s backoff timer.
	fakeClock.WaitForTimers(1)
	first := fake.syncCalls.Load()
	if first != 1 {
		t.Fatalf("sync calls before advance = %d, want 1", first)
	}

	// Releasing 1s triggers the second attempt, which parks on 2s.
	fakeClock.Advance(time.Second)
	fakeClock.WaitForTimers(1)
	if got := fake.syncCalls.Load(); got != 2 {
		t.Fatalf("sync calls after 1s = %d, want 2", got)
	}

	// 1s is not enough for the doubled backoff; 2s is.
	fakeClock.Advance(time.Second)
	if got := fake.syncCalls.Load(); got != 2 {
		t.Fatalf("sync fired before the doubled backoff elapsed: %d calls", got)
	}
	fakeClock.Advance(time.Second)
	fakeClock.WaitForTimers(1)
	if got := fake.syncCalls.Load(); got != 3 {
		t.Fatalf("sync calls after 2s backoff = %d, want 3", got)
	}

	if !service.Running() {
		t.Error("transport errors must not stop the loop")
	}
}

func TestRestartRunsOneFreshLoop(t *testing.T) {
	fake := &fakeHomeserver{t: t}
	service := newTestService(t, fake, clock.Real())
	ctx := context.Background()

	if err := service.Start(ctx, StartOptions{Timeout: 1}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := service.Restart(ctx); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if !service.Running() {
		t.Error("not running after Restart")
	}
	if got := fake.whoAmICalls.Load(); got != 2 {
		t.Errorf("whoami calls = %d, want 2 (one per Start)", got)
	}
}
