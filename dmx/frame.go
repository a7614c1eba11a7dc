// Package dmx holds the shared universe of levels and the output devices
// that commit it to hardware.
package dmx

import "math"

const (
	UniverseSize = 512
	MaxLevel     = 255
)

// Frame is one universe of levels. Index i holds channel i+1.
type Frame [UniverseSize]uint8

// ValidChannel reports whether ch is an addressable channel (1-512)
func ValidChannel(ch int) bool {
	return ch >= 1 && ch <= UniverseSize
}

// Level returns the level of a 1-indexed channel
func (f *Frame) Level(ch int) uint8 {
	return f[ch-1]
}

// SetLevel sets the level of a 1-indexed channel
func (f *Frame) SetLevel(ch int, level uint8) {
	f[ch-1] = level
}

// UnitToLevel maps a fader position in [0,1] to a level in [0,255].
// Out of range input is clamped and the result is truncated, so 0.5 -> 127.
func UnitToLevel(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return MaxLevel
	}
	return uint8(MaxLevel * v)
}

// LevelToUnit maps a level to a fader position
func LevelToUnit(level uint8) float32 {
	return float32(level) / MaxLevel
}
