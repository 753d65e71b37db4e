package mathx

import "testing"

func TestClamp(t *testing.T) {
	tests := []struct {
		name         string
		v, lo, hi, w int
	}{
		{"inside", 5, 0, 10, 5},
		{"below", -3, 0, 10, 0},
		{"above", 11, 0, 10, 10},
		{"swapped bounds", 11, 10, 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clamp(tt.v, tt.lo, tt.hi); got != tt.w {
				t.Errorf("Clamp(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.w)
			}
		})
	}
}

func TestMapRange(t *testing.T) {
	tests := []struct {
		name                            string
		x, inMin, inMax, outMin, outMax int64
		want                            int64
	}{
		{"low end", 3000, 3000, 3900, 0, 100, 0},
		{"high end", 3900, 3000, 3900, 0, 100, 100},
		{"midpoint", 3450, 3000, 3900, 0, 100, 50},
		{"below range clamps", 100, 3000, 3900, 0, 100, 0},
		{"inverted output", 0, 0, 255, 2000, 0, 2000},
		{"inverted output top", 255, 0, 255, 2000, 0, 0},
		{"degenerate input", 7, 5, 5, 42, 99, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapRange(tt.x, tt.inMin, tt.inMax, tt.outMin, tt.outMax)
			if got != tt.want {
				t.Errorf("MapRange(%d) = %d, want %d", tt.x, got, tt.want)
			}
		})
	}
}
