package quat

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	gquat "gonum.org/v1/gonum/num/quat"
)

func TestFromRPYIdentity(t *testing.T) {
	q := FromRPY([3]float64{0, 0, 0})
	require.InDelta(t, 1, q[0], 1e-12)
	require.InDelta(t, 0, q[1], 1e-12)
	require.InDelta(t, 0, q[2], 1e-12)
	require.InDelta(t, 0, q[3], 1e-12)
}

func TestFromRPYKnownRotations(t *testing.T) {
	s := math.Sqrt2 / 2

	q := FromRPY([3]float64{90, 0, 0})
	require.InDelta(t, s, q[0], 1e-12)
	require.InDelta(t, s, q[1], 1e-12)

	q = FromRPY([3]float64{0, 90, 0})
	require.InDelta(t, s, q[0], 1e-12)
	require.InDelta(t, s, q[2], 1e-12)

	q = FromRPY([3]float64{0, 0, 90})
	require.InDelta(t, s, q[0], 1e-12)
	require.InDelta(t, s, q[3], 1e-12)
}

func TestFromRPYHemisphere(t *testing.T) {
	// A rotation past 180° flips the sign of q0; the conversion must keep
	// the canonical q0 >= 0 representative.
	for _, roll := range []float64{-350, -190, 185, 270, 359} {
		q := FromRPY([3]float64{roll, 0, 0})
		require.GreaterOrEqual(t, q[0], 0.0, "roll %v", roll)
		require.InDelta(t, 1, Norm(q), 1e-12)
	}
}

func TestRPYRoundTrip(t *testing.T) {
	// Stay away from pitch = ±90 where roll and yaw degenerate.
	for _, roll := range []float64{-170, -45, 0, 30, 179} {
		for _, pitch := range []float64{-80, -15, 0, 45, 80} {
			for _, yaw := range []float64{-179, -90, 0, 60, 175} {
				t.Run(fmt.Sprintf("%v_%v_%v", roll, pitch, yaw), func(t *testing.T) {
					got := ToRPY(FromRPY([3]float64{roll, pitch, yaw}))
					require.InDelta(t, roll, got[0], 1e-9)
					require.InDelta(t, pitch, got[1], 1e-9)
					require.InDelta(t, yaw, got[2], 1e-9)
				})
			}
		}
	}
}

func TestToROrthonormal(t *testing.T) {
	r := ToR(FromRPY([3]float64{23, -41, 117}))

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += r[i][k] * r[j][k]
			}
			want := 0.0
			if i == j {
				want = 1.0
			}
			require.InDelta(t, want, dot, 1e-12)
		}
	}

	det := r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
	require.InDelta(t, 1, det, 1e-12)
}

// TestToRAgainstGonum checks the matrix against the quaternion sandwich
// product q* v q, which maps a world-frame vector into the body frame for
// our world-to-body convention.
func TestToRAgainstGonum(t *testing.T) {
	angles := [][3]float64{
		{0, 0, 0},
		{90, 0, 0},
		{0, 45, 0},
		{0, 0, -120},
		{30, -60, 145},
		{-171, 12, 4},
	}
	vectors := [][3]float64{
		{0, 0, -1},
		{1, 0, 0},
		{0.3, -1.2, 9.8},
	}

	for _, a := range angles {
		q := FromRPY(a)
		r := ToR(q)
		qn := gquat.Number{Real: q[0], Imag: q[1], Jmag: q[2], Kmag: q[3]}

		for _, v := range vectors {
			vn := gquat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}
			rot := gquat.Mul(gquat.Conj(qn), gquat.Mul(vn, qn))
			got := Rotate(r, v)

			require.InDelta(t, rot.Imag, got[0], 1e-9, "angles %v vector %v", a, v)
			require.InDelta(t, rot.Jmag, got[1], 1e-9, "angles %v vector %v", a, v)
			require.InDelta(t, rot.Kmag, got[2], 1e-9, "angles %v vector %v", a, v)
		}
	}
}

func TestCross(t *testing.T) {
	x := [3]float64{1, 0, 0}
	y := [3]float64{0, 1, 0}
	z := [3]float64{0, 0, 1}

	require.Equal(t, z, Cross(x, y))
	require.Equal(t, x, Cross(y, z))
	require.Equal(t, y, Cross(z, x))

	a := [3]float64{1.5, -2, 0.25}
	require.Equal(t, [3]float64{0, 0, 0}, Cross(a, a))

	b := [3]float64{-3, 0.5, 7}
	ab := Cross(a, b)
	ba := Cross(b, a)
	for i := range ab {
		require.InDelta(t, -ba[i], ab[i], 1e-15)
	}
	// result is orthogonal to both inputs
	require.InDelta(t, 0, ab[0]*a[0]+ab[1]*a[1]+ab[2]*a[2], 1e-12)
	require.InDelta(t, 0, ab[0]*b[0]+ab[1]*b[1]+ab[2]*b[2], 1e-12)
}

func TestGravityRotationMatchesFilterShortcut(t *testing.T) {
	// The estimator inlines the third column of ToR when rotating gravity;
	// the shortcut and the full matrix must agree.
	for _, a := range [][3]float64{{10, -20, 30}, {-75, 40, 0}, {120, 5, -60}} {
		q := FromRPY(a)
		full := Rotate(ToR(q), [3]float64{0, 0, -1})
		short := [3]float64{
			-(2 * (q[1]*q[3] - q[0]*q[2])),
			-(2 * (q[2]*q[3] + q[0]*q[1])),
			-(q[0]*q[0] - q[1]*q[1] - q[2]*q[2] + q[3]*q[3]),
		}
		for i := range full {
			require.InDelta(t, full[i], short[i], 1e-12)
		}
	}
}
