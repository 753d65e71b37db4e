package core

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSetModeRainbowResetsColorAndCursor(t *testing.T) {
	for _, from := range []Mode{ModeStatic, ModeRainbow, ModeStrobe} {
		t.Run(from.String(), func(t *testing.T) {
			v := DefaultValues()
			v.Mode = from
			v.Primary = Color{12, 34, 56}
			v.PowerOn = false
			v.Cursor = Cursor{FadingUp: 0, FadingDown: 2, StrobeSecondary: true, LastStep: time.Unix(100, 0)}

			v.SetMode(ModeRainbow)

			if v.Primary != RainbowStart {
				t.Errorf("Primary = %v, want %v", v.Primary, RainbowStart)
			}
			if v.Cursor.FadingUp != 1 || v.Cursor.FadingDown != 0 {
				t.Errorf("cursor = %d/%d, want 1/0", v.Cursor.FadingUp, v.Cursor.FadingDown)
			}
			if v.Cursor.StrobeSecondary || !v.Cursor.LastStep.IsZero() {
				t.Errorf("cursor not reset: %+v", v.Cursor)
			}
			if !v.PowerOn {
				t.Error("SetMode should force power on")
			}
		})
	}
}

func TestSetModeClampsUnknown(t *testing.T) {
	v := DefaultValues()
	v.SetMode(Mode(9))
	if v.Mode != ModeStrobe {
		t.Errorf("Mode = %v, want strobe", v.Mode)
	}
}

func TestOutput(t *testing.T) {
	base := DefaultValues()
	base.Primary = Color{4095, 2048, 0}
	base.Secondary = Color{1, 2, 3}

	tests := []struct {
		name   string
		mutate func(v *Values)
		want   Color
	}{
		{"static shows primary", func(v *Values) {}, Color{4095, 2048, 0}},
		{"power off is dark", func(v *Values) { v.PowerOn = false }, Color{}},
		{"rainbow scales by brightness", func(v *Values) {
			v.Mode = ModeRainbow
			v.RainbowBrightness = 51
		}, Color{819, 409, 0}},
		{"strobe primary phase", func(v *Values) { v.Mode = ModeStrobe }, Color{4095, 2048, 0}},
		{"strobe secondary phase", func(v *Values) {
			v.Mode = ModeStrobe
			v.Cursor.StrobeSecondary = true
		}, Color{1, 2, 3}},
		{"strobe power off", func(v *Values) {
			v.Mode = ModeStrobe
			v.PowerOn = false
		}, Color{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := base
			tt.mutate(&v)
			if got := v.Output(); got != tt.want {
				t.Errorf("Output() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScaleDoesNotMutate(t *testing.T) {
	c := Color{4095, 4095, 4095}
	if got := c.Scale(0); got != (Color{}) {
		t.Errorf("Scale(0) = %v", got)
	}
	if got := c.Scale(255); got != c {
		t.Errorf("Scale(255) = %v, want %v", got, c)
	}
	if c != (Color{4095, 4095, 4095}) {
		t.Errorf("receiver modified: %v", c)
	}
}

func TestStateColorNeverTorn(t *testing.T) {
	v := DefaultValues()
	v.Primary = Color{}
	s := NewState(v)
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				n := uint16((i + w) % MaxIntensity)
				s.Apply(func(v *Values) { v.Primary = Color{n, n, n} })
			}
		}(w)
	}

	for i := 0; i < 2000; i++ {
		c := s.Snapshot().Primary
		if c[0] != c[1] || c[1] != c[2] {
			close(stop)
			wg.Wait()
			t.Fatalf("observed torn colour %v", c)
		}
	}
	close(stop)
	wg.Wait()
}

func TestColorCodec(t *testing.T) {
	c := Color{4095, 5, 0x0102}
	data := EncodeColor(c)
	want := []byte{0xFF, 0x0F, 0x05, 0x00, 0x02, 0x01}
	if !bytes.Equal(data, want) {
		t.Fatalf("EncodeColor = %x, want %x", data, want)
	}
	got, err := DecodeColor(data)
	if err != nil {
		t.Fatal(err)
	}
	if got != c {
		t.Errorf("DecodeColor = %v, want %v", got, c)
	}
}

func TestDecodeColorClampsAndRejects(t *testing.T) {
	got, err := DecodeColor([]byte{0xFF, 0xFF, 0x00, 0x10, 0x00, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if got != (Color{4095, 4095, 0}) {
		t.Errorf("DecodeColor = %v, want clamped", got)
	}

	if _, err := DecodeColor([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("short payload error = %v, want ErrInvalidLength", err)
	}
	if _, err := DecodeByte(nil); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("empty byte payload error = %v, want ErrInvalidLength", err)
	}
}

func TestParseAttribute(t *testing.T) {
	for _, a := range Attributes {
		got, err := ParseAttribute(a.String())
		if err != nil {
			t.Fatalf("ParseAttribute(%q): %v", a, err)
		}
		if got != a {
			t.Errorf("ParseAttribute(%q) = %v", a, got)
		}
	}
	if _, err := ParseAttribute("nope"); err == nil {
		t.Error("expected error for unknown name")
	}
	if AttrBattery.Writable() {
		t.Error("battery must not be writable")
	}
}
