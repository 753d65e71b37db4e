package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MapRange maps x in [inMin,inMax] linearly onto [outMin,outMax] using
// 64-bit intermediates. Inputs outside the range are clamped first.
// outMax may be smaller than outMin for an inverted mapping.
func MapRange(x, inMin, inMax, outMin, outMax int64) int64 {
	if inMax == inMin {
		return outMin
	}
	x = Clamp(x, inMin, inMax)
	return outMin + (x-inMin)*(outMax-outMin)/(inMax-inMin)
}
