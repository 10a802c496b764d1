package field

import (
	"math/big"
	"testing"
)

func TestAddSubMulInverse(t *testing.T) {
	a := FromInt64(17)
	b := FromInt64(9)

	if got := a.Add(b); got.Int64() != 26 {
		t.Errorf("Add = %v, want 26", got)
	}
	if got := a.Sub(b); got.Int64() != 8 {
		t.Errorf("Sub = %v, want 8", got)
	}
	if got := a.Mul(b); got.Int64() != 153 {
		t.Errorf("Mul = %v, want 153", got)
	}

	inv, err := a.Inv()
	if err != nil {
		t.Fatalf("Inv: %v", err)
	}
	if got := a.Mul(inv); !got.Equal(One()) {
		t.Errorf("a * a^-1 = %v, want 1", got)
	}
}

func TestInvZero(t *testing.T) {
	if _, err := Zero().Inv(); err != ErrDivisionByZero {
		t.Errorf("Inv(0) err = %v, want ErrDivisionByZero", err)
	}
}

func TestSubWraps(t *testing.T) {
	got := FromInt64(3).Sub(FromInt64(5))
	// 3 - 5 mod p == p - 2
	expected := new(big.Int).Sub(Prime, big.NewInt(2))
	if got.BigInt().Cmp(expected) != 0 {
		t.Errorf("Sub wraparound = %v, want %v", got, expected)
	}
}

func TestPolynomialEvalAndInterpolate(t *testing.T) {
	s := NewSeededSampler(42)
	secret := FromInt64(1234)
	poly := RandomPolynomial(1, secret, s)

	xs := []Element{FromInt64(1), FromInt64(2)}
	ys := []Element{poly.Eval(xs[0]), poly.Eval(xs[1])}

	got := LagrangeAtZero(xs, ys)
	if !got.Equal(secret) {
		t.Errorf("LagrangeAtZero = %v, want %v", got, secret)
	}
}

func TestLagrangeCoefficientsMatchDirectInterpolation(t *testing.T) {
	xs := []Element{FromInt64(1), FromInt64(2), FromInt64(3)}
	ys := []Element{FromInt64(10), FromInt64(20), FromInt64(40)}

	lambdas := LagrangeCoefficientsAtZero(xs)
	sum := Zero()
	for i, l := range lambdas {
		sum = sum.Add(l.Mul(ys[i]))
	}

	want := LagrangeAtZero(xs, ys)
	if !sum.Equal(want) {
		t.Errorf("precomputed lambdas = %v, want %v", sum, want)
	}
}

func TestSeededSamplerDeterministic(t *testing.T) {
	a := NewSeededSampler(7)
	b := NewSeededSampler(7)

	for i := 0; i < 5; i++ {
		if x, y := a.Rand(), b.Rand(); !x.Equal(y) {
			t.Errorf("draw %d diverged: %v != %v", i, x, y)
		}
	}
}
