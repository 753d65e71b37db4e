package persist

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rgblight/internal/core"
)

// Keys written by a flush.
const (
	KeyMode       = "mode"
	KeySpeed      = "speed"
	KeyBrightness = "brightness"
	KeyPrimaryR   = "c1r"
	KeyPrimaryG   = "c1g"
	KeyPrimaryB   = "c1b"
	KeySecondaryR = "c2r"
	KeySecondaryG = "c2g"
	KeySecondaryB = "c2b"
)

// DefaultDelay is the quiet period after the last mutation before a flush.
const DefaultDelay = 5 * time.Second

// Timer is the subset of *time.Timer the manager needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules fn after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, fn func()) Timer

func realAfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Snapshot is the persisted subset of the device state. Battery level,
// power and provisioning are session state and are not stored.
type Snapshot struct {
	Mode              core.Mode
	Speed             uint8
	RainbowBrightness uint8
	Primary           core.Color
	Secondary         core.Color
}

// SnapshotOf extracts the persisted fields from v.
func SnapshotOf(v core.Values) Snapshot {
	return Snapshot{
		Mode:              v.Mode,
		Speed:             v.Speed,
		RainbowBrightness: v.RainbowBrightness,
		Primary:           v.Primary,
		Secondary:         v.Secondary,
	}
}

// Manager debounces state mutations into single flushes.
type Manager struct {
	state     *core.State
	store     Store
	delay     time.Duration
	afterFunc AfterFunc
	logger    zerolog.Logger
	onFlush   func(err error)

	mu      sync.Mutex
	timer   Timer
	gen     uint64 // bumped on every arm; a timer from an older arm is stale
	pending bool
	closed  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithAfterFunc replaces the timer factory.
func WithAfterFunc(fn AfterFunc) Option {
	return func(m *Manager) { m.afterFunc = fn }
}

// WithFlushHook registers a callback run after every flush attempt.
func WithFlushHook(fn func(err error)) Option {
	return func(m *Manager) { m.onFlush = fn }
}

// NewManager creates a Manager. A non-positive delay uses DefaultDelay.
func NewManager(state *core.State, store Store, delay time.Duration, logger zerolog.Logger, opts ...Option) *Manager {
	if delay <= 0 {
		delay = DefaultDelay
	}
	m := &Manager{
		state:     state,
		store:     store,
		delay:     delay,
		afterFunc: realAfterFunc,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Schedule (re)arms the debounce timer. Only the state at the time the
// timer fires is written.
func (m *Manager) Schedule() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.pending = true
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.timer = m.afterFunc(m.delay, func() { m.fire(gen) })
}

// fire flushes for the arm numbered gen. A timer that already fired when
// Schedule stopped it finds a newer generation and does nothing.
func (m *Manager) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.pending || m.closed {
		m.mu.Unlock()
		return
	}
	m.pending = false
	m.timer = nil
	m.mu.Unlock()

	if err := m.Flush(); err != nil {
		m.logger.Error().Err(err).Msg("Persisting state failed, will retry")
		m.Schedule()
	}
}

// Flush writes the current snapshot immediately.
func (m *Manager) Flush() error {
	snap := SnapshotOf(m.state.Snapshot())
	err := Save(m.store, snap)
	if err == nil {
		m.logger.Debug().
			Str("mode", snap.Mode.String()).
			Uint8("speed", snap.Speed).
			Msg("State persisted")
	}
	if m.onFlush != nil {
		m.onFlush(err)
	}
	return err
}

// Close cancels the timer and flushes a pending write.
func (m *Manager) Close() error {
	m.mu.Lock()
	pending := m.pending
	m.pending = false
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	if pending {
		return m.Flush()
	}
	return nil
}

// Save writes every field of snap. All keys are attempted; the errors are
// joined.
func Save(store Store, snap Snapshot) error {
	entries := []struct {
		key   string
		value uint16
	}{
		{KeyMode, uint16(snap.Mode)},
		{KeySpeed, uint16(snap.Speed)},
		{KeyBrightness, uint16(snap.RainbowBrightness)},
		{KeyPrimaryR, snap.Primary[core.Red]},
		{KeyPrimaryG, snap.Primary[core.Green]},
		{KeyPrimaryB, snap.Primary[core.Blue]},
		{KeySecondaryR, snap.Secondary[core.Red]},
		{KeySecondaryG, snap.Secondary[core.Green]},
		{KeySecondaryB, snap.Secondary[core.Blue]},
	}
	var errs []error
	for _, e := range entries {
		if err := store.Put(e.key, e.value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Load builds the boot state from the store, falling back to defaults for
// absent keys. A restored rainbow mode restarts the fade from its canonical
// start colour instead of a stored mid-fade value.
func Load(store Store, defaults core.Values) (core.Values, error) {
	v := defaults
	var errs []error

	get := func(key string, def uint16) uint16 {
		val, err := store.Get(key, def)
		if err != nil {
			errs = append(errs, err)
			return def
		}
		return val
	}
	color := func(r, g, b string, def core.Color) core.Color {
		c := core.Color{get(r, def[0]), get(g, def[1]), get(b, def[2])}
		for i := range c {
			if c[i] > core.MaxIntensity {
				c[i] = core.MaxIntensity
			}
		}
		return c
	}
	byteVal := func(key string, def uint8) uint8 {
		val := get(key, uint16(def))
		if val > 255 {
			return 255
		}
		return uint8(val)
	}

	mode := core.Mode(byteVal(KeyMode, uint8(defaults.Mode)))
	v.Speed = byteVal(KeySpeed, defaults.Speed)
	v.RainbowBrightness = byteVal(KeyBrightness, defaults.RainbowBrightness)
	v.Primary = color(KeyPrimaryR, KeyPrimaryG, KeyPrimaryB, defaults.Primary)
	v.Secondary = color(KeySecondaryR, KeySecondaryG, KeySecondaryB, defaults.Secondary)
	v.SetMode(mode)
	v.PowerOn = defaults.PowerOn

	if len(errs) > 0 {
		return v, fmt.Errorf("restoring state: %w", errors.Join(errs...))
	}
	return v, nil
}
