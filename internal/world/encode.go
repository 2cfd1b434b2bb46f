package world

import "github.com/quakesync/server/internal/mathx"

// Encoded alpha: 0 means "not set", 1 fully transparent, 255 opaque.
const (
	AlphaDefault uint8 = 0
	AlphaZero    uint8 = 1
	AlphaOne     uint8 = 255
)

// ScaleDefault is the encoded form of scale 1.0 (units of 1/16).
const ScaleDefault uint8 = 16

// EncodeAlpha maps a 0..1 alpha onto a byte, keeping 0 for "unset".
func EncodeAlpha(a float32) uint8 {
	if a == 0 {
		return AlphaDefault
	}
	return uint8(mathx.Clamp(1, mathx.Rint(a*254+1), 255))
}

// EncodeScale maps a scale factor onto sixteenths, 0 meaning the default.
func EncodeScale(s float32) uint8 {
	if s == 0 {
		return ScaleDefault
	}
	return uint8(mathx.Clamp(0, int(s*16), 255))
}
