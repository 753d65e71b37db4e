package battery

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"rgblight/internal/core"
)

type seqSource struct {
	values []uint16
	err    error
}

func (s *seqSource) Read() (uint16, error) {
	if s.err != nil {
		return 0, s.err
	}
	v := s.values[0]
	if len(s.values) > 1 {
		s.values = s.values[1:]
	}
	return v, nil
}

type countingPublisher struct {
	events []core.Event
}

func (c *countingPublisher) Publish(ev core.Event) {
	c.events = append(c.events, ev)
}

func TestBandPercent(t *testing.T) {
	tests := []struct {
		name string
		band Band
		raw  uint16
		want uint8
	}{
		{"idle empty", IdleBand, 3000, 0},
		{"idle full", IdleBand, 3900, 100},
		{"idle half", IdleBand, 3450, 50},
		{"idle below", IdleBand, 100, 0},
		{"idle above", IdleBand, 4095, 100},
		{"powered full", PoweredBand, 3700, 100},
		{"powered same raw reads higher", PoweredBand, 3450, 72},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.band.Percent(tt.raw); got != tt.want {
				t.Errorf("Percent(%d) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestSampleNotifiesOnlyOnChange(t *testing.T) {
	v := core.DefaultValues()
	v.PowerOn = false
	state := core.NewState(v)
	pub := &countingPublisher{}
	src := &seqSource{values: []uint16{3450, 3451}}
	s := NewSampler(state, src, pub, Config{Window: 1}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, _, err := s.Sample(); err != nil {
			t.Fatal(err)
		}
	}

	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	if pub.events[0].Attribute != core.AttrBattery || pub.events[0].Value[0] != 50 {
		t.Errorf("event = %+v, want battery 50", pub.events[0])
	}
	if got := state.Snapshot().BatteryPercent; got != 50 {
		t.Errorf("BatteryPercent = %d, want 50", got)
	}
}

func TestSampleRunningMean(t *testing.T) {
	v := core.DefaultValues()
	v.PowerOn = false
	state := core.NewState(v)
	src := &seqSource{values: []uint16{3000, 3900, 3900, 3900}}
	s := NewSampler(state, src, &countingPublisher{}, Config{Window: 2}, zerolog.Nop())

	want := []uint8{0, 50, 100, 100}
	for i, w := range want {
		got, _, err := s.Sample()
		if err != nil {
			t.Fatal(err)
		}
		if got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestSampleBandFollowsPower(t *testing.T) {
	state := core.NewState(core.DefaultValues())
	s := NewSampler(state, FixedSource(3700), &countingPublisher{}, Config{}, zerolog.Nop())

	got, _, err := s.Sample()
	if err != nil {
		t.Fatal(err)
	}
	if got != 100 {
		t.Errorf("powered percent = %d, want 100", got)
	}

	state.Apply(func(v *core.Values) { v.PowerOn = false })
	got, changed, _ := s.Sample()
	if got != 77 || !changed {
		t.Errorf("idle percent = %d (changed=%v), want 77", got, changed)
	}
}

func TestSampleReadErrorLeavesState(t *testing.T) {
	state := core.NewState(core.DefaultValues())
	pub := &countingPublisher{}
	s := NewSampler(state, &seqSource{err: errors.New("adc busy")}, pub, Config{}, zerolog.Nop())

	if _, _, err := s.Sample(); err == nil {
		t.Fatal("expected error")
	}
	if len(pub.events) != 0 {
		t.Errorf("published on read error")
	}
}

func TestSysfsSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in_voltage0_raw")
	if err := os.WriteFile(path, []byte("3456\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := NewSysfsSource(path).Read()
	if err != nil {
		t.Fatal(err)
	}
	if got != 3456 {
		t.Errorf("Read() = %d, want 3456", got)
	}

	if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSysfsSource(path).Read(); err == nil {
		t.Error("expected parse error")
	}
}
