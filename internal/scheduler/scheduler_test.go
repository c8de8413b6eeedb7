/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package scheduler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-display-go/internal/assets"
	"github.com/loqalabs/loqa-display-go/internal/config"
	"github.com/loqalabs/loqa-display-go/internal/content"
	"github.com/loqalabs/loqa-display-go/internal/fetch"
	"github.com/loqalabs/loqa-display-go/internal/player"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submission struct {
	size  int
	dwell int
}

type fakeRenderer struct {
	mu          sync.Mutex
	counter     int
	submissions []submission
	assets      []string
	immediate   []bool
	submitErr   error
}

func (r *fakeRenderer) Submit(buf *content.Buffer, dwellSecs int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitErr != nil {
		return 0, r.submitErr
	}
	r.counter++
	r.submissions = append(r.submissions, submission{size: buf.Len(), dwell: dwellSecs})
	buf.Release()
	return r.counter, nil
}

func (r *fakeRenderer) PlayAsset(name string, immediate bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets = append(r.assets, name)
	r.immediate = append(r.immediate, immediate)
	return nil
}

func (r *fakeRenderer) snapshot() ([]submission, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]submission(nil), r.submissions...), append([]string(nil), r.assets...)
}

type fakeDisplay struct {
	mu           sync.Mutex
	brightness   []int
	indicators   int
	onBrightness func()
}

func (d *fakeDisplay) SetBrightness(pct int) {
	d.mu.Lock()
	d.brightness = append(d.brightness, pct)
	hook := d.onBrightness
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (d *fakeDisplay) DrawErrorIndicator() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.indicators++
}

func (d *fakeDisplay) indicatorCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.indicators
}

type fakeUpdater struct {
	mu   sync.Mutex
	urls []string
}

func (u *fakeUpdater) Trigger(url string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.urls = append(u.urls, url)
}

// scriptedFetcher answers each call from a queue of responses. A call with
// no response queued blocks until one is pushed or ctx ends.
type scriptedFetcher struct {
	calls     atomic.Int32
	responses chan fetchResponse
	released  atomic.Int32
}

type fetchResponse struct {
	res *fetch.Result
	err error
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{responses: make(chan fetchResponse, 8)}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, _ string) (*fetch.Result, error) {
	f.calls.Add(1)
	select {
	case r := <-f.responses:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *scriptedFetcher) ok(size int, opts ...func(*fetch.Result)) {
	buf := content.New(make([]byte, size), content.WithReleaseHook(func() { f.released.Add(1) }))
	res := &fetch.Result{Buffer: buf, StatusCode: http.StatusOK}
	for _, o := range opts {
		o(res)
	}
	f.responses <- fetchResponse{res: res}
}

func (f *scriptedFetcher) fail(status int) {
	f.responses <- fetchResponse{err: &fetch.StatusError{StatusCode: status, Err: errors.New("boom")}}
}

func withDwell(secs int) func(*fetch.Result) {
	return func(r *fetch.Result) { r.DwellSecs = mo.Some(secs) }
}

type harness struct {
	sched    *Scheduler
	renderer *fakeRenderer
	display  *fakeDisplay
	updater  *fakeUpdater
	fetcher  *scriptedFetcher
	dwell    *config.Dwell
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		renderer: &fakeRenderer{},
		display:  &fakeDisplay{},
		updater:  &fakeUpdater{},
		fetcher:  newScriptedFetcher(),
		dwell:    config.NewDwell(10),
	}
	h.sched = New(cfg, Deps{
		Renderer: h.renderer,
		Fetcher:  h.fetcher,
		Display:  h.display,
		Updater:  h.updater,
		Dwell:    h.dwell,
	})
	t.Cleanup(h.sched.Stop)
	return h
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.sched.State() == want }, 2*time.Second, 5*time.Millisecond,
		"state is %s, want %s", h.sched.State(), want)
}

func (h *harness) waitSubmissions(t *testing.T, n int) []submission {
	t.Helper()
	require.Eventually(t, func() bool {
		subs, _ := h.renderer.snapshot()
		return len(subs) >= n
	}, 2*time.Second, 5*time.Millisecond)
	subs, _ := h.renderer.snapshot()
	return subs
}

func TestPollHappyPathPrefetches(t *testing.T) {
	h := newHarness(t, Config{PrefetchLead: 4900 * time.Millisecond, RetryDelay: time.Hour})

	h.fetcher.ok(100, withDwell(5))
	require.NoError(t, h.sched.StartHTTP("http://hub.local/next"))
	assert.Equal(t, ModePoll, h.sched.Mode())

	subs := h.waitSubmissions(t, 1)
	assert.Equal(t, submission{size: 100, dwell: 5}, subs[0])
	h.waitState(t, StatePlaying)

	h.sched.HandleEvent(player.Event{Type: player.EventPlaying, Counter: 1, Dwell: 5 * time.Second})
	assert.True(t, h.sched.PrefetchArmed())

	// The second fetch stays in flight while the first image plays.
	h.waitState(t, StatePrefetching)
	assert.Equal(t, 2, h.sched.FetchCount())

	h.fetcher.ok(50)
	subs = h.waitSubmissions(t, 2)
	assert.Equal(t, submission{size: 50, dwell: 5}, subs[1], "header dwell becomes the default")
	h.waitState(t, StatePlaying)
}

func TestFetchIsSingleFlight(t *testing.T) {
	h := newHarness(t, Config{RetryDelay: time.Hour})

	require.NoError(t, h.sched.StartHTTP("http://hub.local/next"))
	require.Eventually(t, func() bool { return h.fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, h.sched.triggerFetch())
	assert.False(t, h.sched.triggerFetch())
	assert.Equal(t, 1, h.sched.FetchCount())
	assert.Equal(t, int32(1), h.fetcher.calls.Load())
}

func TestResultAppliesBrightnessAndUpdate(t *testing.T) {
	h := newHarness(t, Config{RetryDelay: time.Hour})

	h.fetcher.ok(10, func(r *fetch.Result) {
		r.Brightness = mo.Some(42)
		r.UpdateURL = "https://hub.local/fw.bin"
	})
	require.NoError(t, h.sched.StartHTTP("http://hub.local/next"))

	subs := h.waitSubmissions(t, 1)
	assert.Equal(t, 10, subs[0].dwell, "default dwell without a header")

	h.display.mu.Lock()
	assert.Equal(t, []int{42}, h.display.brightness)
	h.display.mu.Unlock()
	h.updater.mu.Lock()
	assert.Equal(t, []string{"https://hub.local/fw.bin"}, h.updater.urls)
	h.updater.mu.Unlock()
}

func TestHeaderDwellZeroIsClamped(t *testing.T) {
	h := newHarness(t, Config{RetryDelay: time.Hour})

	h.fetcher.ok(10, withDwell(0))
	require.NoError(t, h.sched.StartHTTP("http://hub.local/next"))

	subs := h.waitSubmissions(t, 1)
	assert.Equal(t, 1, subs[0].dwell)
}

func TestNotFoundShowsAssetAndRetries(t *testing.T) {
	h := newHarness(t, Config{RetryDelay: 50 * time.Millisecond})

	h.fetcher.fail(http.StatusNotFound)
	require.NoError(t, h.sched.StartHTTP("http://hub.local/next"))

	require.Eventually(t, func() bool {
		_, shown := h.renderer.snapshot()
		return len(shown) == 1
	}, time.Second, 5*time.Millisecond)
	_, shown := h.renderer.snapshot()
	assert.Equal(t, []string{assets.NotFound}, shown)
	assert.Equal(t, 1, h.display.indicatorCount())

	h.fetcher.ok(10)
	h.waitSubmissions(t, 1)
	assert.Equal(t, 2, h.sched.FetchCount())
	h.waitState(t, StatePlaying)
}

func TestOversizeDoesNotResubmitAsset(t *testing.T) {
	h := newHarness(t, Config{RetryDelay: time.Hour})

	h.fetcher.fail(http.StatusRequestEntityTooLarge)
	require.NoError(t, h.sched.StartHTTP("http://hub.local/next"))

	require.Eventually(t, h.sched.RetryArmed, time.Second, 5*time.Millisecond)
	h.waitState(t, StateIdle)
	_, shown := h.renderer.snapshot()
	assert.Empty(t, shown)
}

func TestStoppedEventPolicy(t *testing.T) {
	t.Run("pending buffer keeps playing", func(t *testing.T) {
		h := newHarness(t, Config{RetryDelay: time.Hour})
		h.fetcher.ok(10)
		require.NoError(t, h.sched.StartHTTP("http://hub.local/next"))
		h.waitState(t, StatePlaying)

		h.sched.HandleEvent(player.Event{Type: player.EventStopped, Counter: 1, Pending: true})
		assert.Equal(t, StatePlaying, h.sched.State())
		assert.Equal(t, 1, h.sched.FetchCount())
	})

	t.Run("nothing ready fetches now", func(t *testing.T) {
		h := newHarness(t, Config{RetryDelay: time.Hour})
		h.fetcher.ok(10, withDwell(1))
		require.NoError(t, h.sched.StartHTTP("http://hub.local/next"))
		h.waitState(t, StatePlaying)

		// A one second dwell is shorter than the prefetch lead.
		h.sched.HandleEvent(player.Event{Type: player.EventPlaying, Counter: 1, Dwell: time.Second})
		assert.False(t, h.sched.PrefetchArmed())

		h.sched.HandleEvent(player.Event{Type: player.EventStopped, Counter: 1})
		assert.Equal(t, StateFetching, h.sched.State())
		assert.Equal(t, 2, h.sched.FetchCount())
	})

	t.Run("prefetch in flight waits", func(t *testing.T) {
		h := newHarness(t, Config{PrefetchLead: 4950 * time.Millisecond, RetryDelay: time.Hour})
		h.fetcher.ok(10)
		require.NoError(t, h.sched.StartHTTP("http://hub.local/next"))
		h.waitState(t, StatePlaying)

		h.sched.HandleEvent(player.Event{Type: player.EventPlaying, Counter: 1, Dwell: 5 * time.Second})
		h.waitState(t, StatePrefetching)

		h.sched.HandleEvent(player.Event{Type: player.EventStopped, Counter: 1})
		assert.Equal(t, StateFetching, h.sched.State())
		assert.Equal(t, 2, h.sched.FetchCount())

		h.fetcher.ok(20)
		h.waitSubmissions(t, 2)
		h.waitState(t, StatePlaying)
	})
}

func TestStoppedWhileApplyingPrefetchDoesNotRefetch(t *testing.T) {
	h := newHarness(t, Config{PrefetchLead: 4950 * time.Millisecond, RetryDelay: time.Hour})
	h.fetcher.ok(10)
	require.NoError(t, h.sched.StartHTTP("http://hub.local/next"))
	h.waitState(t, StatePlaying)

	h.sched.HandleEvent(player.Event{Type: player.EventPlaying, Counter: 1, Dwell: 5 * time.Second})
	h.waitState(t, StatePrefetching)

	// The dwell ends while the prefetched result is being applied.
	var once sync.Once
	h.display.mu.Lock()
	h.display.onBrightness = func() {
		once.Do(func() {
			h.sched.HandleEvent(player.Event{Type: player.EventStopped, Counter: 1})
		})
	}
	h.display.mu.Unlock()

	h.fetcher.ok(20, func(r *fetch.Result) { r.Brightness = mo.Some(60) })
	h.waitSubmissions(t, 2)
	h.waitState(t, StatePlaying)

	assert.Equal(t, 2, h.sched.FetchCount())
	assert.Equal(t, int32(2), h.fetcher.calls.Load())
}

func TestPlaybackErrorArmsRetry(t *testing.T) {
	h := newHarness(t, Config{RetryDelay: time.Hour})
	h.fetcher.ok(10)
	require.NoError(t, h.sched.StartHTTP("http://hub.local/next"))
	h.waitState(t, StatePlaying)

	h.sched.HandleEvent(player.Event{Type: player.EventError, Counter: 1, Code: player.ErrorDecode})

	assert.Equal(t, StateIdle, h.sched.State())
	assert.True(t, h.sched.RetryArmed())
	assert.Equal(t, 1, h.display.indicatorCount())
}

func TestPushModeIsPassive(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.sched.StartPush())
	assert.Equal(t, ModePush, h.sched.Mode())

	h.sched.OnConnect()
	h.sched.HandleEvent(player.Event{Type: player.EventPlaying, Counter: 1, Dwell: 30 * time.Second})
	assert.Equal(t, StatePlaying, h.sched.State())
	assert.False(t, h.sched.PrefetchArmed())

	h.sched.HandleEvent(player.Event{Type: player.EventStopped, Counter: 1})
	assert.Equal(t, StateIdle, h.sched.State())
	assert.Zero(t, h.sched.FetchCount())

	h.sched.OnDisconnect()
	_, shown := h.renderer.snapshot()
	assert.Equal(t, []string{assets.Disconnected}, shown)
	assert.Equal(t, []bool{true}, h.renderer.immediate)
	assert.Equal(t, StateIdle, h.sched.State())
}

func TestStopDisarmsTimersAndDropsLateResult(t *testing.T) {
	h := newHarness(t, Config{RetryDelay: time.Hour})
	require.NoError(t, h.sched.StartHTTP("http://hub.local/next"))
	require.Eventually(t, func() bool { return h.fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	h.sched.Stop()
	assert.False(t, h.sched.PrefetchArmed())
	assert.False(t, h.sched.RetryArmed())
	assert.ErrorIs(t, h.sched.StartHTTP("http://hub.local/next"), ErrStopped)

	subs, _ := h.renderer.snapshot()
	assert.Empty(t, subs)
}

func TestRunConsumesEvents(t *testing.T) {
	h := newHarness(t, Config{})
	require.NoError(t, h.sched.StartPush())

	events := make(chan player.Event, 1)
	done := make(chan struct{})
	go func() {
		h.sched.Run(context.Background(), events)
		close(done)
	}()

	events <- player.Event{Type: player.EventPlaying, Counter: 1}
	h.waitState(t, StatePlaying)

	close(events)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the event stream closed")
	}
	assert.ErrorIs(t, h.sched.StartPush(), ErrStopped)
}
