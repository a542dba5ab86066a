/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/radiorelay/internal/events"
	"github.com/friendsincode/radiorelay/internal/metadata"
	"github.com/friendsincode/radiorelay/internal/stations"
)

type fakeDecoder struct {
	mu          sync.Mutex
	gen         uint64
	spawned     []string
	live        bool
	paused      bool
	pauseCalls  int
	fail        map[string]bool
	gain        func() int
	onExhausted func(uint64)
	// beforeSpawn, when set, runs at the start of Spawn outside mu.
	beforeSpawn func(url string)

	inSpawn    atomic.Int32
	overlapped atomic.Bool
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{fail: map[string]bool{}}
}

func (f *fakeDecoder) Spawn(url string) (uint64, error) {
	if f.inSpawn.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	defer f.inSpawn.Add(-1)
	f.mu.Lock()
	hook := f.beforeSpawn
	f.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	time.Sleep(time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.live = false
	f.paused = false
	if f.fail[url] {
		return f.gen, errors.New("spawn failed")
	}
	f.spawned = append(f.spawned, url)
	f.live = true
	return f.gen, nil
}

func (f *fakeDecoder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.live = false
}

func (f *fakeDecoder) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	if f.live {
		f.paused = true
	}
	return nil
}

func (f *fakeDecoder) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	return nil
}

func (f *fakeDecoder) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

func (f *fakeDecoder) SetGain(fn func() int) {
	f.mu.Lock()
	f.gain = fn
	f.mu.Unlock()
}

func (f *fakeDecoder) OnExhausted(fn func(uint64)) {
	f.mu.Lock()
	f.onExhausted = fn
	f.mu.Unlock()
}

func (f *fakeDecoder) spawns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spawned...)
}

func (f *fakeDecoder) last() string {
	s := f.spawns()
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

func (f *fakeDecoder) isPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

// exhaust simulates the current process ending on its own.
func (f *fakeDecoder) exhaust() {
	f.mu.Lock()
	gen, fn := f.gen, f.onExhausted
	f.live = false
	f.mu.Unlock()
	fn(gen)
}

const (
	grooveURL = "https://ice2.somafm.com/groovesalad-128-mp3"
	droneURL  = "https://ice2.somafm.com/dronezone-128-mp3"
)

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *fakeDecoder) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Cooldown = 20 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	dec := newFakeDecoder()
	e := New(cfg, stations.NewBuiltinDirectory(), dec, nil, nil, zerolog.Nop())
	t.Cleanup(func() { e.Close() })
	return e, dec
}

func startedEngine(t *testing.T, mutate func(*Config)) (*Engine, *fakeDecoder) {
	t.Helper()
	e, dec := newTestEngine(t, mutate)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return e, dec
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartPlaysDefaultStation(t *testing.T) {
	e, dec := startedEngine(t, nil)

	st := e.State()
	if st.Mode != ModeAmbient {
		t.Errorf("Mode = %q, want radio", st.Mode)
	}
	if st.CurrentStation == nil || st.CurrentStation.ID != "groovesalad" {
		t.Errorf("CurrentStation = %+v", st.CurrentStation)
	}
	if st.NowPlaying != "Groove Salad" {
		t.Errorf("NowPlaying = %q", st.NowPlaying)
	}
	if st.Volume != 80 {
		t.Errorf("Volume = %d, want 80", st.Volume)
	}
	if dec.last() != grooveURL {
		t.Errorf("spawned %q", dec.last())
	}
	if dec.gain() != 80 {
		t.Errorf("decoder gain hook = %d, want 80", dec.gain())
	}
}

func TestConfiguredStation(t *testing.T) {
	_, dec := startedEngine(t, func(c *Config) { c.StationID = "dronezone" })
	if dec.last() != droneURL {
		t.Fatalf("spawned %q, want dronezone", dec.last())
	}
}

func TestEnqueueWhileAmbientSwitchesToQueued(t *testing.T) {
	e, dec := startedEngine(t, nil)

	entry, err := e.Enqueue(context.Background(), "http://x/a.mp3", "", "alice")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if entry.Title != "a" {
		t.Errorf("derived title = %q, want a", entry.Title)
	}
	if entry.AddedBy != "alice" || entry.ID == "" {
		t.Errorf("entry = %+v", entry)
	}

	st := e.State()
	if st.Mode != ModeQueued {
		t.Fatalf("Mode = %q, want queue", st.Mode)
	}
	if st.CurrentTrack == nil || st.CurrentTrack.ID != entry.ID {
		t.Fatalf("CurrentTrack = %+v, want %s", st.CurrentTrack, entry.ID)
	}
	if len(st.Queue) != 0 {
		t.Errorf("pending queue = %v, want empty", st.Queue)
	}
	if st.NowPlaying != "a" {
		t.Errorf("NowPlaying = %q", st.NowPlaying)
	}
	if dec.last() != "http://x/a.mp3" {
		t.Errorf("decoder playing %q", dec.last())
	}
}

func TestEnqueueWhileQueuedAppends(t *testing.T) {
	e, dec := startedEngine(t, nil)
	ctx := context.Background()

	first, _ := e.Enqueue(ctx, "http://x/1.mp3", "One", "a")
	second, _ := e.Enqueue(ctx, "http://x/2.mp3", "Two", "b")
	third, _ := e.Enqueue(ctx, "http://x/3.mp3", "Three", "c")

	st := e.State()
	if st.CurrentTrack.ID != first.ID {
		t.Fatalf("playing %s, want %s", st.CurrentTrack.ID, first.ID)
	}
	if len(st.Queue) != 2 || st.Queue[0].ID != second.ID || st.Queue[1].ID != third.ID {
		t.Fatalf("queue = %+v", st.Queue)
	}
	if n := len(dec.spawns()); n != 2 {
		t.Fatalf("spawns = %d, want 2 (station + first entry)", n)
	}
}

func TestQueueIDsAreUnique(t *testing.T) {
	e, _ := startedEngine(t, func(c *Config) { c.QueueCap = 100 })
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		entry, err := e.Enqueue(context.Background(), fmt.Sprintf("http://x/%d.mp3", i), "", "")
		if err != nil {
			t.Fatal(err)
		}
		if seen[entry.ID] {
			t.Fatalf("duplicate id %s", entry.ID)
		}
		seen[entry.ID] = true
		e.Remove(entry.ID)
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	e, _ := startedEngine(t, func(c *Config) { c.QueueCap = 2 })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := e.Enqueue(ctx, fmt.Sprintf("http://x/%d.mp3", i), "", ""); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	if _, err := e.Enqueue(ctx, "http://x/overflow.mp3", "", ""); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if n := len(e.State().Queue); n != 2 {
		t.Fatalf("pending = %d, want 2", n)
	}
}

func TestSkipWithEmptyQueueReturnsToAmbient(t *testing.T) {
	e, dec := startedEngine(t, nil)
	ctx := context.Background()
	e.Enqueue(ctx, "http://x/a.mp3", "", "")

	e.Skip(ctx)

	st := e.State()
	if st.Mode != ModeAmbient || st.CurrentTrack != nil {
		t.Fatalf("state = %+v, want ambient with no track", st)
	}
	if dec.last() != grooveURL {
		t.Fatalf("decoder playing %q, want station", dec.last())
	}
	if st.NowPlaying != "Groove Salad" {
		t.Errorf("NowPlaying = %q", st.NowPlaying)
	}
}

func TestSkipAdvancesQueue(t *testing.T) {
	e, dec := startedEngine(t, nil)
	ctx := context.Background()
	e.Enqueue(ctx, "http://x/a.mp3", "", "")
	b, _ := e.Enqueue(ctx, "http://x/b.mp3", "", "")

	e.Skip(ctx)

	if got := e.State().CurrentTrack; got == nil || got.ID != b.ID {
		t.Fatalf("CurrentTrack = %+v, want %s", got, b.ID)
	}
	if dec.last() != "http://x/b.mp3" {
		t.Fatalf("decoder playing %q", dec.last())
	}
}

func TestSkipInAmbientIsNoop(t *testing.T) {
	e, dec := startedEngine(t, nil)
	before := dec.Generation()
	e.Skip(context.Background())
	if dec.Generation() != before {
		t.Fatal("skip in ambient mode touched the decoder")
	}
}

func TestSetStation(t *testing.T) {
	t.Run("ambient restarts", func(t *testing.T) {
		e, dec := startedEngine(t, nil)
		if !e.SetStation(context.Background(), "dronezone") {
			t.Fatal("SetStation returned false")
		}
		if dec.last() != droneURL {
			t.Fatalf("decoder playing %q", dec.last())
		}
		if e.State().NowPlaying != "Drone Zone" {
			t.Errorf("NowPlaying = %q", e.State().NowPlaying)
		}
	})

	t.Run("queued defers", func(t *testing.T) {
		e, dec := startedEngine(t, nil)
		ctx := context.Background()
		e.Enqueue(ctx, "http://x/a.mp3", "", "")
		spawns := len(dec.spawns())

		if !e.SetStation(ctx, "dronezone") {
			t.Fatal("SetStation returned false")
		}
		if len(dec.spawns()) != spawns {
			t.Fatal("SetStation interrupted the queued entry")
		}
		st := e.State()
		if st.Mode != ModeQueued || st.CurrentStation.ID != "dronezone" {
			t.Fatalf("state = %+v", st)
		}

		e.Skip(ctx)
		if dec.last() != droneURL {
			t.Fatalf("after queue drained playing %q, want dronezone", dec.last())
		}
	})

	t.Run("unknown rejected", func(t *testing.T) {
		e, dec := startedEngine(t, nil)
		before := dec.Generation()
		if e.SetStation(context.Background(), "nope") {
			t.Fatal("SetStation(nope) = true")
		}
		if dec.Generation() != before || e.State().CurrentStation.ID != "groovesalad" {
			t.Fatal("unknown station changed state")
		}
	})
}

func TestRemove(t *testing.T) {
	e, _ := startedEngine(t, nil)
	ctx := context.Background()
	playing, _ := e.Enqueue(ctx, "http://x/0.mp3", "", "")
	a, _ := e.Enqueue(ctx, "http://x/a.mp3", "", "")
	b, _ := e.Enqueue(ctx, "http://x/b.mp3", "", "")
	c, _ := e.Enqueue(ctx, "http://x/c.mp3", "", "")

	if e.Remove(playing.ID) {
		t.Error("removed the playing entry")
	}
	if e.Remove("999") {
		t.Error("removed an absent id")
	}
	if !e.Remove(b.ID) {
		t.Fatal("failed to remove pending entry")
	}
	if e.Remove(b.ID) {
		t.Error("removed the same entry twice")
	}

	q := e.State().Queue
	if len(q) != 2 || q[0].ID != a.ID || q[1].ID != c.ID {
		t.Fatalf("queue = %+v, want [%s %s]", q, a.ID, c.ID)
	}
}

func TestSetVolumeClamps(t *testing.T) {
	e, dec := startedEngine(t, nil)
	tests := []struct{ in, want int }{
		{50, 50}, {150, 100}, {-5, 0}, {100, 100}, {0, 0},
	}
	for _, tt := range tests {
		if got := e.SetVolume(tt.in); got != tt.want {
			t.Errorf("SetVolume(%d) = %d, want %d", tt.in, got, tt.want)
		}
		if e.State().Volume != tt.want || dec.gain() != tt.want {
			t.Errorf("after SetVolume(%d): state %d, gain %d", tt.in, e.State().Volume, dec.gain())
		}
	}
}

func TestTogglePause(t *testing.T) {
	e, dec := startedEngine(t, nil)
	ctx := context.Background()
	gen := dec.Generation()

	if !e.TogglePause(ctx) {
		t.Fatal("first toggle should pause")
	}
	if !dec.isPaused() || !e.State().Paused {
		t.Fatal("decoder not paused")
	}
	if dec.Generation() != gen || e.State().Mode != ModeAmbient {
		t.Fatal("pause changed generation or mode")
	}

	// A source change while paused starts the new source paused.
	e.Enqueue(ctx, "http://x/a.mp3", "", "")
	if !dec.isPaused() {
		t.Fatal("new source not paused")
	}

	if e.TogglePause(ctx) {
		t.Fatal("second toggle should resume")
	}
	if dec.isPaused() || e.State().Paused {
		t.Fatal("decoder not resumed")
	}
}

func TestExhaustedQueuedAdvancesThenFallsBack(t *testing.T) {
	e, dec := startedEngine(t, nil)
	ctx := context.Background()
	e.Enqueue(ctx, "http://x/a.mp3", "", "")
	b, _ := e.Enqueue(ctx, "http://x/b.mp3", "", "")

	dec.exhaust()
	if got := e.State().CurrentTrack; got == nil || got.ID != b.ID {
		t.Fatalf("after exhaustion playing %+v, want %s", got, b.ID)
	}

	dec.exhaust()
	st := e.State()
	if st.Mode != ModeAmbient || dec.last() != grooveURL {
		t.Fatalf("mode %q playing %q, want station", st.Mode, dec.last())
	}
}

func TestExhaustedLastEntryResumesLastSetStation(t *testing.T) {
	e, dec := startedEngine(t, nil)
	ctx := context.Background()
	e.Enqueue(ctx, "http://x/a.mp3", "", "")
	e.SetStation(ctx, "dronezone")

	dec.exhaust()

	if e.State().Mode != ModeAmbient || dec.last() != droneURL {
		t.Fatalf("mode %q playing %q, want dronezone", e.State().Mode, dec.last())
	}
}

func TestExhaustedStaleGenerationIgnored(t *testing.T) {
	e, dec := startedEngine(t, nil)
	stale := dec.Generation()
	e.Enqueue(context.Background(), "http://x/a.mp3", "", "")
	spawns := len(dec.spawns())

	e.SourceExhausted(stale)

	if len(dec.spawns()) != spawns || e.State().Mode != ModeQueued {
		t.Fatal("stale exhausted event changed playback")
	}
}

func TestExhaustedAmbientRetriesAfterCooldown(t *testing.T) {
	_, dec := startedEngine(t, nil)
	go dec.exhaust()

	eventually(t, "station respawn", func() bool { return len(dec.spawns()) == 2 })
	if dec.last() != grooveURL {
		t.Fatalf("respawned %q", dec.last())
	}
}

func TestExhaustedAmbientRetryCancelledBySourceChange(t *testing.T) {
	e, dec := startedEngine(t, func(c *Config) { c.Cooldown = 100 * time.Millisecond })

	done := make(chan struct{})
	go func() {
		dec.exhaust()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	e.SetStation(context.Background(), "dronezone")
	<-done

	spawns := dec.spawns()
	if len(spawns) != 2 || spawns[1] != droneURL {
		t.Fatalf("spawns = %v, want station change only", spawns)
	}
}

func TestSpawnFailureAdvancesQueue(t *testing.T) {
	e, dec := startedEngine(t, nil)
	dec.fail["http://x/broken.mp3"] = true
	ctx := context.Background()

	e.Enqueue(ctx, "http://x/broken.mp3", "", "")
	good, _ := e.Enqueue(ctx, "http://x/good.mp3", "", "")

	eventually(t, "advance past broken entry", func() bool {
		cur := e.State().CurrentTrack
		return cur != nil && cur.ID == good.ID
	})
	if dec.last() != "http://x/good.mp3" {
		t.Fatalf("decoder playing %q", dec.last())
	}
}

func TestControlOperationsAreSerialized(t *testing.T) {
	e, dec := startedEngine(t, func(c *Config) { c.QueueCap = 1000 })
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				switch (i + j) % 4 {
				case 0:
					e.Enqueue(ctx, fmt.Sprintf("http://x/%d-%d.mp3", i, j), "", "")
				case 1:
					e.Skip(ctx)
				case 2:
					e.SetStation(ctx, "dronezone")
				case 3:
					e.SetVolume(j * 10)
				}
				_ = e.State()
			}
		}(i)
	}
	wg.Wait()

	if dec.overlapped.Load() {
		t.Fatal("two sources were spawned concurrently")
	}
	st := e.State()
	if st.Mode == ModeQueued && st.CurrentTrack == nil {
		t.Fatal("queued mode without a current track")
	}
	if st.Generation != dec.Generation() {
		t.Fatalf("snapshot generation %d, decoder %d", st.Generation, dec.Generation())
	}
}

func TestStateSnapshotIsImmutable(t *testing.T) {
	e, _ := startedEngine(t, nil)
	ctx := context.Background()
	e.Enqueue(ctx, "http://x/0.mp3", "", "")
	e.Enqueue(ctx, "http://x/a.mp3", "A", "")

	st := e.State()
	st.Queue[0].Title = "mutated"
	st.CurrentStation.Name = "mutated"

	again := e.State()
	if again.Queue[0].Title != "A" || again.CurrentStation.Name != "Groove Salad" {
		t.Fatal("snapshot mutation leaked into engine state")
	}
}

func TestCloseStopsDecoder(t *testing.T) {
	e, dec := startedEngine(t, nil)
	gen := dec.Generation()

	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if dec.Generation() <= gen {
		t.Fatal("Close did not stop the decoder")
	}
	if _, err := e.Enqueue(context.Background(), "http://x/a.mp3", "", ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("Enqueue after Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatal("second Close failed")
	}
}

func TestMetadataTitlesOnlyInAmbient(t *testing.T) {
	prober := metadata.ProberFunc(func(ctx context.Context, url string) (string, error) {
		if url == grooveURL {
			return "Artist - Song", nil
		}
		return "", nil
	})
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	dec := newFakeDecoder()
	e := New(cfg, stations.NewBuiltinDirectory(), dec, prober, nil, zerolog.Nop())
	defer e.Close()
	ctx := context.Background()
	e.Start(ctx)

	eventually(t, "stream title", func() bool {
		return e.State().NowPlaying == "Artist - Song"
	})

	e.Enqueue(ctx, "http://x/track.mp3", "", "")
	time.Sleep(30 * time.Millisecond)
	if got := e.State().NowPlaying; got != "track" {
		t.Fatalf("NowPlaying in queued mode = %q, want track", got)
	}
}

func TestPublishesEvents(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(events.EventNowPlaying)
	dec := newFakeDecoder()
	e := New(DefaultConfig(), stations.NewBuiltinDirectory(), dec, nil, bus, zerolog.Nop())
	defer e.Close()

	e.Start(context.Background())

	select {
	case p := <-sub:
		if p["title"] != "Groove Salad" {
			t.Fatalf("payload = %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no now_playing event")
	}
}

func TestTitleFromURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"http://x/a.mp3", "a"},
		{"https://host/music/My%20Song.flac?x=1", "My Song"},
		{"https://host/archive.tar.gz", "archive.tar"},
		{"https://host/noext", "noext"},
		{"https://host/", "https://host/"},
		{"https://host", "https://host"},
		{"http://x/100%2525.mp3", "100%25"},
		{"http://x/a%2Fb.mp3", "a/b"},
	}
	for _, tt := range tests {
		if got := TitleFromURL(tt.in); got != tt.want {
			t.Errorf("TitleFromURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSnapshotReflectsNextEntryWhileSpawning(t *testing.T) {
	e, dec := startedEngine(t, nil)
	ctx := context.Background()
	e.Enqueue(ctx, "http://x/a.mp3", "", "")
	b, _ := e.Enqueue(ctx, "http://x/b.mp3", "", "")

	release := make(chan struct{})
	entered := make(chan struct{})
	dec.mu.Lock()
	dec.beforeSpawn = func(url string) {
		if url == "http://x/b.mp3" {
			close(entered)
			<-release
		}
	}
	dec.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.Skip(ctx)
		close(done)
	}()

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("skip never reached the decoder")
	}

	st := e.State()
	if st.CurrentTrack == nil || st.CurrentTrack.ID != b.ID {
		t.Errorf("CurrentTrack during spawn = %+v, want %s", st.CurrentTrack, b.ID)
	}
	if len(st.Queue) != 0 {
		t.Errorf("Queue during spawn = %+v, want empty", st.Queue)
	}
	if e.Remove(b.ID) {
		t.Error("Remove of the playing entry should report false")
	}

	close(release)
	<-done
}
