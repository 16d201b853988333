package mathkernel

import (
	"math"
	"testing"
)

func approxEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestSkewCrossProduct(t *testing.T) {
	v := Vec3{1, 2, 3}
	w := Vec3{4, 5, 6}

	skew := Skew(v)
	got := RotateVec3(skew, w)

	want := Vec3{
		v[1]*w[2] - v[2]*w[1],
		v[2]*w[0] - v[0]*w[2],
		v[0]*w[1] - v[1]*w[0],
	}

	for i := range got {
		if !approxEqual(got[i], want[i], 1e-12) {
			t.Errorf("Skew(v)*w[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestQuatExpLogRoundTrip(t *testing.T) {
	cases := []Vec3{
		{0, 0, 0},
		{0.1, 0, 0},
		{0, 0.2, 0},
		{0.05, -0.1, 0.15},
		{1e-6, 1e-6, 1e-6},
	}

	for _, v := range cases {
		q := QuatExpMap(v)
		back := QuatLogMap(q)
		for i := range v {
			if !approxEqual(v[i], back[i], 1e-6) {
				t.Errorf("round trip for %v: got %v", v, back)
				break
			}
		}
	}
}

func TestQuatExpMapIsUnit(t *testing.T) {
	v := Vec3{0.3, -0.2, 0.1}
	q := QuatExpMap(v)
	n := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if !approxEqual(n, 1, 1e-9) {
		t.Errorf("expected unit quaternion, got norm %f", n)
	}
}

func TestRotationMatrixNearZero(t *testing.T) {
	// Near-zero angle should be close to identity.
	v := Vec3{1e-6, 0, 0}
	m := RotationMatrix(v)
	identity := Identity3()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if !approxEqual(m[i][j], identity[i][j], 1e-4) {
				t.Errorf("RotationMatrix near zero deviates at [%d][%d]: %f", i, j, m[i][j])
			}
		}
	}
}

func TestRotationMatrixMatchesQuaternion(t *testing.T) {
	v := Vec3{0.2, 0.1, -0.3}
	fromRodrigues := RotationMatrix(v)
	q := QuatExpMap(v)
	fromQuat := QuatToRotationMatrix(q)

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if !approxEqual(fromRodrigues[i][j], fromQuat[i][j], 1e-6) {
				t.Errorf("rotation matrices diverge at [%d][%d]: %f vs %f", i, j, fromRodrigues[i][j], fromQuat[i][j])
			}
		}
	}
}

func TestQuatMulIdentity(t *testing.T) {
	q := QuatExpMap(Vec3{0.1, 0.2, 0.3})
	id := IdentityQuaternion()

	got := QuatMul(q, id)
	if !approxEqual(got.X, q.X, 1e-12) || !approxEqual(got.W, q.W, 1e-12) {
		t.Errorf("q*identity = %v, want %v", got, q)
	}
}

func TestQuatConjugateInverse(t *testing.T) {
	q := QuatExpMap(Vec3{0.1, -0.2, 0.05})
	inv := QuatConjugate(q)
	product := QuatMul(q, inv)

	id := IdentityQuaternion()
	if !approxEqual(product.W, id.W, 1e-9) {
		t.Errorf("q*conjugate(q) = %v, want identity", product)
	}
}

func TestQuatNegateSameRotation(t *testing.T) {
	q := QuatExpMap(Vec3{0.1, 0.2, 0.3})
	neg := QuatNegate(q)

	r1 := QuatToRotationMatrix(q)
	r2 := QuatToRotationMatrix(neg)

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if !approxEqual(r1[i][j], r2[i][j], 1e-9) {
				t.Errorf("negated quaternion produced a different rotation at [%d][%d]", i, j)
			}
		}
	}
}

func TestDecayPower(t *testing.T) {
	got := DecayPower(0.9, 1.0)
	if !approxEqual(got, 0.9, 1e-12) {
		t.Errorf("DecayPower(0.9, 1.0) = %f, want 0.9", got)
	}

	got = DecayPower(0.9, 0)
	if !approxEqual(got, 1.0, 1e-12) {
		t.Errorf("DecayPower(0.9, 0) = %f, want 1.0", got)
	}
}

func TestAllFinite(t *testing.T) {
	if !AllFinite([]float64{1, 2, 3}) {
		t.Error("expected all finite values to pass")
	}
	if AllFinite([]float64{1, math.NaN(), 3}) {
		t.Error("expected NaN to fail AllFinite")
	}
	if AllFinite([]float64{1, math.Inf(1), 3}) {
		t.Error("expected Inf to fail AllFinite")
	}
}
