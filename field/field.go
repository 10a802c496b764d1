// Package field implements arithmetic in F_p, the wire alphabet for every
// share, mask, and coin value in the protocol stack.
package field

import (
	"errors"
	"math/big"
)

// Prime is the field modulus, p = 2^127 - 1 (a Mersenne prime), chosen for
// simple modular reduction and comfortable headroom over the 5-bit bid space.
var Prime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 127)
	return p.Sub(p, big.NewInt(1))
}()

// ErrDivisionByZero is returned by Inv(0); a fatal programming error per
// spec.md §7, never expected to surface from correct protocol logic.
var ErrDivisionByZero = errors.New("field: division by zero")

// Element is a residue mod Prime.
type Element struct {
	v *big.Int
}

// Zero is the additive identity.
func Zero() Element { return Element{big.NewInt(0)} }

// One is the multiplicative identity.
func One() Element { return Element{big.NewInt(1)} }

// FromInt64 builds an Element from a signed integer, reducing mod Prime.
func FromInt64(x int64) Element {
	v := big.NewInt(x)
	v.Mod(v, Prime)
	if v.Sign() < 0 {
		v.Add(v, Prime)
	}
	return Element{v}
}

// FromBigInt builds an Element from a big.Int, reducing mod Prime. The input
// is copied; callers retain ownership of x.
func FromBigInt(x *big.Int) Element {
	v := new(big.Int).Mod(x, Prime)
	if v.Sign() < 0 {
		v.Add(v, Prime)
	}
	return Element{v}
}

// BigInt returns the element's canonical representative in [0, Prime).
func (e Element) BigInt() *big.Int {
	return new(big.Int).Set(e.v)
}

// Int64 returns the element's canonical representative as an int64. Only
// meaningful for elements known to be small (bid values, indicator bits).
func (e Element) Int64() int64 {
	return e.v.Int64()
}

// IsZero reports whether e is the additive identity.
func (e Element) IsZero() bool {
	return e.v.Sign() == 0
}

// Equal reports whether e and o are the same residue.
func (e Element) Equal(o Element) bool {
	return e.v.Cmp(o.v) == 0
}

// Add returns e + o mod Prime.
func (e Element) Add(o Element) Element {
	v := new(big.Int).Add(e.v, o.v)
	v.Mod(v, Prime)
	return Element{v}
}

// Sub returns e - o mod Prime.
func (e Element) Sub(o Element) Element {
	v := new(big.Int).Sub(e.v, o.v)
	v.Mod(v, Prime)
	if v.Sign() < 0 {
		v.Add(v, Prime)
	}
	return Element{v}
}

// Neg returns -e mod Prime.
func (e Element) Neg() Element {
	return Zero().Sub(e)
}

// Mul returns e * o mod Prime.
func (e Element) Mul(o Element) Element {
	v := new(big.Int).Mul(e.v, o.v)
	v.Mod(v, Prime)
	return Element{v}
}

// ScalarMul returns c * e mod Prime for a plain int64 scalar c.
func (e Element) ScalarMul(c int64) Element {
	return e.Mul(FromInt64(c))
}

// Pow returns e^k mod Prime for k >= 0.
func (e Element) Pow(k int64) Element {
	v := new(big.Int).Exp(e.v, big.NewInt(k), Prime)
	return Element{v}
}

// Inv returns the multiplicative inverse of e via Fermat's little theorem
// (e^(p-2) mod p). Returns ErrDivisionByZero for e == 0.
func (e Element) Inv() (Element, error) {
	if e.IsZero() {
		return Element{}, ErrDivisionByZero
	}
	exp := new(big.Int).Sub(Prime, big.NewInt(2))
	v := new(big.Int).Exp(e.v, exp, Prime)
	return Element{v}, nil
}

// Bytes16 encodes e as a big-endian 16-byte unsigned integer, the wire
// encoding named (but not mandated) by spec.md §6.
func (e Element) Bytes16() [16]byte {
	var out [16]byte
	b := e.v.Bytes()
	copy(out[16-len(b):], b)
	return out
}

// String renders the element's canonical decimal representative.
func (e Element) String() string {
	return e.v.String()
}
