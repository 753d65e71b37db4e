package persist

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rgblight/internal/core"
)

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	was := !f.stopped
	f.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// fireLive runs every timer that has not been stopped and returns how many fired.
func (c *fakeClock) fireLive() int {
	c.mu.Lock()
	var live []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped {
			live = append(live, t)
			t.stopped = true
		}
	}
	c.mu.Unlock()
	for _, t := range live {
		t.fn()
	}
	return len(live)
}

type countingStore struct {
	*MemoryStore
	mu      sync.Mutex
	puts    int
	failing bool
}

func (c *countingStore) Put(key string, value uint16) error {
	c.mu.Lock()
	c.puts++
	failing := c.failing
	c.mu.Unlock()
	if failing {
		return errors.New("flash busy")
	}
	return c.MemoryStore.Put(key, value)
}

func TestBurstCoalescesIntoOneFlush(t *testing.T) {
	state := core.NewState(core.DefaultValues())
	store := &countingStore{MemoryStore: NewMemoryStore()}
	clock := &fakeClock{}
	flushes := 0
	m := NewManager(state, store, 0, zerolog.Nop(),
		WithAfterFunc(clock.AfterFunc),
		WithFlushHook(func(err error) { flushes++ }))

	for i := 0; i < 10; i++ {
		speed := uint8(i)
		state.Apply(func(v *core.Values) { v.Speed = speed })
		m.Schedule()
	}

	if fired := clock.fireLive(); fired != 1 {
		t.Fatalf("live timers = %d, want 1", fired)
	}
	if flushes != 1 {
		t.Fatalf("flushes = %d, want 1", flushes)
	}
	for _, tm := range clock.timers {
		if tm.d != DefaultDelay {
			t.Errorf("timer delay = %v, want %v", tm.d, DefaultDelay)
		}
	}
	if got, _ := store.Get(KeySpeed, 0); got != 9 {
		t.Errorf("stored speed = %d, want last value 9", got)
	}
}

func TestRearmIgnoresTimerAlreadyFired(t *testing.T) {
	state := core.NewState(core.DefaultValues())
	store := &countingStore{MemoryStore: NewMemoryStore()}
	clock := &fakeClock{}
	m := NewManager(state, store, 0, zerolog.Nop(), WithAfterFunc(clock.AfterFunc))

	m.Schedule()
	first := clock.timers[0].fn
	m.Schedule()

	// The first timer's callback was already running when it got stopped.
	first()

	store.mu.Lock()
	puts := store.puts
	store.mu.Unlock()
	if puts != 0 {
		t.Fatalf("stale timer flushed %d keys before the new quiet period", puts)
	}

	if fired := clock.fireLive(); fired != 1 {
		t.Fatalf("live timers = %d, want 1", fired)
	}
	store.mu.Lock()
	puts = store.puts
	store.mu.Unlock()
	if puts == 0 {
		t.Error("current timer did not flush")
	}
}

func TestFailedFlushRetries(t *testing.T) {
	state := core.NewState(core.DefaultValues())
	store := &countingStore{MemoryStore: NewMemoryStore(), failing: true}
	clock := &fakeClock{}
	m := NewManager(state, store, time.Second, zerolog.Nop(), WithAfterFunc(clock.AfterFunc))

	m.Schedule()
	clock.fireLive()

	store.mu.Lock()
	store.failing = false
	store.mu.Unlock()

	if fired := clock.fireLive(); fired != 1 {
		t.Fatalf("retry timers = %d, want 1", fired)
	}
	if got, _ := store.Get(KeyMode, 99); got != uint16(core.ModeStatic) {
		t.Errorf("stored mode = %d after retry", got)
	}
}

func TestCloseFlushesPending(t *testing.T) {
	state := core.NewState(core.DefaultValues())
	store := NewMemoryStore()
	clock := &fakeClock{}
	m := NewManager(state, store, time.Second, zerolog.Nop(), WithAfterFunc(clock.AfterFunc))

	state.Apply(func(v *core.Values) { v.RainbowBrightness = 77 })
	m.Schedule()
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.Get(KeyBrightness, 0); got != 77 {
		t.Errorf("brightness = %d, want 77", got)
	}
	if fired := clock.fireLive(); fired != 0 {
		t.Errorf("timer still live after Close")
	}
	m.Schedule()
	if len(clock.timers) != 1 {
		t.Errorf("Schedule after Close armed a timer")
	}
}

func TestLoadDefaultsOnFirstBoot(t *testing.T) {
	defaults := core.DefaultValues()
	v, err := Load(NewMemoryStore(), defaults)
	if err != nil {
		t.Fatal(err)
	}
	if v != defaults {
		t.Errorf("Load on empty store = %+v, want defaults %+v", v, defaults)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	snap := Snapshot{
		Mode:              core.ModeStrobe,
		Speed:             200,
		RainbowBrightness: 10,
		Primary:           core.Color{1, 2, 3},
		Secondary:         core.Color{4095, 0, 4095},
	}
	if err := Save(store, snap); err != nil {
		t.Fatal(err)
	}
	v, err := Load(store, core.DefaultValues())
	if err != nil {
		t.Fatal(err)
	}
	if got := SnapshotOf(v); got != snap {
		t.Errorf("restored %+v, want %+v", got, snap)
	}
}

func TestLoadRainbowUsesStartColor(t *testing.T) {
	store := NewMemoryStore()
	if err := Save(store, Snapshot{Mode: core.ModeRainbow, Primary: core.Color{100, 2000, 3}}); err != nil {
		t.Fatal(err)
	}
	v, err := Load(store, core.DefaultValues())
	if err != nil {
		t.Fatal(err)
	}
	if v.Primary != core.RainbowStart {
		t.Errorf("Primary = %v, want %v", v.Primary, core.RainbowStart)
	}
	if v.Cursor != core.ResetCursor() {
		t.Errorf("Cursor = %+v, want reset", v.Cursor)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvs.db")
	s, err := OpenSQLite(path, "light")
	if err != nil {
		t.Fatal(err)
	}

	if got, err := s.Get("mode", 7); err != nil || got != 7 {
		t.Fatalf("Get on empty = %d, %v; want default 7", got, err)
	}
	if err := s.Put("mode", 2); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("mode", 1); err != nil {
		t.Fatal(err)
	}

	other, err := OpenSQLite(path, "other")
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	if got, _ := other.Get("mode", 0); got != 0 {
		t.Errorf("namespace leak: other sees %d", got)
	}

	s.Close()
	reopened, err := OpenSQLite(path, "light")
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if got, _ := reopened.Get("mode", 0); got != 1 {
		t.Errorf("after reopen mode = %d, want 1", got)
	}
}
