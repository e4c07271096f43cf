// Package quat holds the coordinate conversions used by the attitude
// estimator. Quaternions are Hamilton, unit-norm, rotating the NED world
// frame into the body frame; Euler angles are aerospace roll/pitch/yaw in
// degrees.
package quat

import "math"

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
)

// FromRPY converts roll/pitch/yaw in degrees to a quaternion on the
// positive-q0 hemisphere.
func FromRPY(rpy [3]float64) [4]float64 {
	phi := rpy[0] * deg2rad / 2
	theta := rpy[1] * deg2rad / 2
	psi := rpy[2] * deg2rad / 2

	cphi, sphi := math.Cos(phi), math.Sin(phi)
	ctheta, stheta := math.Cos(theta), math.Sin(theta)
	cpsi, spsi := math.Cos(psi), math.Sin(psi)

	q := [4]float64{
		cphi*ctheta*cpsi + sphi*stheta*spsi,
		sphi*ctheta*cpsi - cphi*stheta*spsi,
		cphi*stheta*cpsi + sphi*ctheta*spsi,
		cphi*ctheta*spsi - sphi*stheta*cpsi,
	}

	if q[0] < 0 {
		for i := range q {
			q[i] = -q[i]
		}
	}
	return q
}

// ToRPY converts a quaternion to roll/pitch/yaw in degrees. Roll and yaw
// land in (-180, 180], pitch in [-90, 90].
func ToRPY(q [4]float64) [3]float64 {
	q0s := q[0] * q[0]
	q1s := q[1] * q[1]
	q2s := q[2] * q[2]
	q3s := q[3] * q[3]

	r13 := 2 * (q[1]*q[3] - q[0]*q[2])
	r11 := q0s + q1s - q2s - q3s
	r12 := 2 * (q[1]*q[2] + q[0]*q[3])
	r23 := 2 * (q[2]*q[3] + q[0]*q[1])
	r33 := q0s - q1s - q2s + q3s

	return [3]float64{
		rad2deg * math.Atan2(r23, r33),
		rad2deg * math.Asin(-r13),
		rad2deg * math.Atan2(r12, r11),
	}
}

// ToR expands a quaternion into the rotation matrix R such that
// v_body = R * v_world.
func ToR(q [4]float64) [3][3]float64 {
	q0s := q[0] * q[0]
	q1s := q[1] * q[1]
	q2s := q[2] * q[2]
	q3s := q[3] * q[3]

	return [3][3]float64{
		{q0s + q1s - q2s - q3s, 2 * (q[1]*q[2] + q[0]*q[3]), 2 * (q[1]*q[3] - q[0]*q[2])},
		{2 * (q[1]*q[2] - q[0]*q[3]), q0s - q1s + q2s - q3s, 2 * (q[2]*q[3] + q[0]*q[1])},
		{2 * (q[1]*q[3] + q[0]*q[2]), 2 * (q[2]*q[3] - q[0]*q[1]), q0s - q1s - q2s + q3s},
	}
}

// Identity is the 3x3 identity rotation.
func Identity() [3][3]float64 {
	return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Rotate applies a rotation matrix to a 3-vector.
func Rotate(r [3][3]float64, v [3]float64) [3]float64 {
	return [3]float64{
		r[0][0]*v[0] + r[0][1]*v[1] + r[0][2]*v[2],
		r[1][0]*v[0] + r[1][1]*v[1] + r[1][2]*v[2],
		r[2][0]*v[0] + r[2][1]*v[1] + r[2][2]*v[2],
	}
}

// Cross is the 3-vector cross product a × b.
func Cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// Norm is the Euclidean norm of a quaternion.
func Norm(q [4]float64) float64 {
	return math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
}
