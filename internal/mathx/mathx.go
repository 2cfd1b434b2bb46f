// Package mathx holds the small vector helpers shared by the visibility,
// relevance and encoding code.
package mathx

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Vec3 is a world-space vector. Index 0/1/2 = x/y/z, or pitch/yaw/roll for angles.
type Vec3 [3]float32

const (
	Pitch = 0
	Yaw   = 1
	Roll  = 2
)

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }

func (v Vec3) Scale(s float32) Vec3 { return Vec3{v[0] * s, v[1] * s, v[2] * s} }

func Dot(a, b Vec3) float32 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

// Clamp returns v limited to [lo, hi].
func Clamp[T constraints.Ordered](lo, v, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Rint rounds half away from zero, the rounding every wire quantizer uses.
func Rint(f float32) int {
	if f > 0 {
		return int(f + 0.5)
	}
	return int(f - 0.5)
}

// AngleVectors converts pitch/yaw/roll degrees into forward, right and up unit vectors.
func AngleVectors(angles Vec3) (forward, right, up Vec3) {
	toRad := math.Pi * 2 / 360

	sy, cy := math.Sincos(float64(angles[Yaw]) * toRad)
	sp, cp := math.Sincos(float64(angles[Pitch]) * toRad)
	sr, cr := math.Sincos(float64(angles[Roll]) * toRad)

	forward = Vec3{float32(cp * cy), float32(cp * sy), float32(-sp)}
	right = Vec3{
		float32(-1*sr*sp*cy + -1*cr*-sy),
		float32(-1*sr*sp*sy + -1*cr*cy),
		float32(-1 * sr * cp),
	}
	up = Vec3{
		float32(cr*sp*cy + -sr*-sy),
		float32(cr*sp*sy + -sr*cy),
		float32(cr * cp),
	}
	return forward, right, up
}
