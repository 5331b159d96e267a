// Package geom provides the double-precision quaternion and vector helpers
// used by the processing pipeline. Vectors are gonum's r3.Vec; the quaternion
// type wraps gonum's quat.Number with the guarded operations the pipeline
// depends on (normalize-or-identity, slerp, exponential map).
package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Epsilon is the magnitude floor for normalize/inverse style operations.
// Inputs at or below it fall back to identity (quaternions) or zero (vectors)
// instead of dividing by a near-zero length.
const Epsilon = 1e-12

// Quat is a rotation quaternion. The zero value is NOT a valid rotation; use
// Identity for the no-rotation value.
type Quat struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity returns the identity rotation.
func Identity() Quat {
	return Quat{W: 1}
}

func (q Quat) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

func fromNumber(n quat.Number) Quat {
	return Quat{W: n.Real, X: n.Imag, Y: n.Jmag, Z: n.Kmag}
}

// Mul returns the Hamilton product q ⊗ r (apply r, then q).
func (q Quat) Mul(r Quat) Quat {
	return fromNumber(quat.Mul(q.number(), r.number()))
}

// Dot returns the four-component dot product.
func (q Quat) Dot(r Quat) float64 {
	return q.W*r.W + q.X*r.X + q.Y*r.Y + q.Z*r.Z
}

// Len returns the quaternion magnitude.
func (q Quat) Len() float64 {
	return quat.Abs(q.number())
}

// LenSq returns the squared magnitude.
func (q Quat) LenSq() float64 {
	return q.Dot(q)
}

// Conjugate negates the vector part.
func (q Quat) Conjugate() Quat {
	return fromNumber(quat.Conj(q.number()))
}

// Inverse returns the multiplicative inverse, or identity when the magnitude
// is degenerate.
func (q Quat) Inverse() Quat {
	if q.LenSq() <= Epsilon {
		return Identity()
	}
	return fromNumber(quat.Inv(q.number()))
}

// Normalize returns the unit quaternion, or identity when the magnitude is
// degenerate.
func (q Quat) Normalize() Quat {
	mag := q.Len()
	if mag <= Epsilon {
		return Identity()
	}
	return q.Scale(1 / mag)
}

// Scale multiplies every component by s.
func (q Quat) Scale(s float64) Quat {
	return Quat{W: q.W * s, X: q.X * s, Y: q.Y * s, Z: q.Z * s}
}

// Add returns the componentwise sum.
func (q Quat) Add(r Quat) Quat {
	return Quat{W: q.W + r.W, X: q.X + r.X, Y: q.Y + r.Y, Z: q.Z + r.Z}
}

// Neg returns the componentwise negation. -q represents the same rotation.
func (q Quat) Neg() Quat {
	return Quat{W: -q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Rotate applies the rotation to v. Assumes q is (close to) unit length.
func (q Quat) Rotate(v r3.Vec) r3.Vec {
	return r3.Rotation(q.number()).Rotate(v)
}

// FromAxisAngle builds a rotation of angle radians about axis. The axis is
// normalized; a degenerate axis yields identity.
func FromAxisAngle(axis r3.Vec, angle float64) Quat {
	n := NormalizeOrZero(axis)
	if n == (r3.Vec{}) {
		return Identity()
	}
	half := angle * 0.5
	s := math.Sin(half)
	return Quat{W: math.Cos(half), X: n.X * s, Y: n.Y * s, Z: n.Z * s}
}

// FromScaledAxis builds the exponential-map rotation for an axis-angle vector
// whose magnitude is the angle in radians. Near-zero input yields identity.
func FromScaledAxis(v r3.Vec) Quat {
	angle := r3.Norm(v)
	if angle <= Epsilon {
		return Identity()
	}
	return FromAxisAngle(r3.Scale(1/angle, v), angle)
}

// Lerp linearly interpolates from q to r by s and renormalizes.
func (q Quat) Lerp(r Quat, s float64) Quat {
	d := r.Add(q.Neg())
	return q.Add(d.Scale(s)).Normalize()
}

// Slerp spherically interpolates from q to r by s, taking the shorter arc.
// Falls back to Lerp when the quaternions are nearly parallel.
func (q Quat) Slerp(r Quat, s float64) Quat {
	cos := q.Dot(r)
	if cos < 0 {
		cos = -cos
		r = r.Neg()
	}
	if cos > 0.9995 {
		return q.Lerp(r, s)
	}
	theta := math.Acos(cos)
	sin := math.Sin(theta)
	w1 := math.Sin((1-s)*theta) / sin
	w2 := math.Sin(s*theta) / sin
	return q.Scale(w1).Add(r.Scale(w2)).Normalize()
}

// Euler returns the ZYX (yaw-pitch-roll) Euler angles in degrees as
// (roll, pitch, yaw) about (X, Y, Z). The pitch term is clamped so a gimbal
// pole never produces NaN.
func (q Quat) Euler() r3.Vec {
	sinr := 2 * (q.W*q.X + q.Y*q.Z)
	cosr := 1 - 2*(q.X*q.X+q.Y*q.Y)
	roll := math.Atan2(sinr, cosr)

	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	var pitch float64
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	siny := 2 * (q.W*q.Z + q.X*q.Y)
	cosy := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	yaw := math.Atan2(siny, cosy)

	const radToDeg = 180 / math.Pi
	return r3.Vec{X: roll * radToDeg, Y: pitch * radToDeg, Z: yaw * radToDeg}
}

// NormalizeOrZero returns the unit vector, or the zero vector when the
// magnitude is degenerate.
func NormalizeOrZero(v r3.Vec) r3.Vec {
	mag := r3.Norm(v)
	if mag <= Epsilon {
		return r3.Vec{}
	}
	return r3.Scale(1/mag, v)
}
