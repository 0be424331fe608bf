package orientation

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Identity is the orientation reported for a sensor with no samples.
var Identity = quat.Number{Real: 1}

const unitEpsilon = 1e-9

// Relative returns the rotation taking ref to current, current * conj(ref).
func Relative(ref, current quat.Number) quat.Number {
	return quat.Mul(current, quat.Conj(ref))
}

// AxisAngle converts q to an angle in degrees and a unit rotation axis.
// q and -q describe the same rotation; the one with a non-negative scalar
// part is used, so the angle lies in [0, 180]. A zero or identity quaternion
// yields angle 0 about the x axis.
func AxisAngle(q quat.Number) (float64, r3.Vec) {
	n := quat.Abs(q)
	if n < unitEpsilon || math.IsNaN(n) {
		return 0, r3.Vec{X: 1}
	}
	q = quat.Scale(1/n, q)
	// Folding into w >= 0 caps the angle at 180; a delta beyond 180 comes
	// out as its complement with the axis, and so the sign, flipped.
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}

	w := math.Min(1, q.Real)
	angle := 2 * math.Acos(w) * 180 / math.Pi

	s := math.Sqrt(1 - w*w)
	if s < unitEpsilon {
		return 0, r3.Vec{X: 1}
	}
	return angle, r3.Vec{X: q.Imag / s, Y: q.Jmag / s, Z: q.Kmag / s}
}

// SignedYaw approximates the rotation about the vertical axis as the angle
// times the sign of the axis z component. A rotation about a horizontal axis
// yields 0. Accuracy degrades as the axis tilts away from vertical.
func SignedYaw(q quat.Number) float64 {
	angle, axis := AxisAngle(q)
	switch {
	case axis.Z > 0:
		return angle
	case axis.Z < 0:
		return -angle
	}
	return 0
}

// Rotate rotates v by q. q need not be unit length.
func Rotate(v r3.Vec, q quat.Number) r3.Vec {
	n := quat.Abs(q)
	if n < unitEpsilon || math.IsNaN(n) {
		return v
	}
	return r3.Rotation(quat.Scale(1/n, q)).Rotate(v)
}

// Unwind expresses a body-frame acceleration sample in the frame the
// orientation q is measured against.
func Unwind(accel r3.Vec, q quat.Number) r3.Vec {
	return Rotate(accel, quat.Conj(q))
}
