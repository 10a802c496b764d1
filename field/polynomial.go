package field

// Polynomial is a univariate polynomial over F_p. Coeffs[0] is the constant
// term; Coeffs[i] is the coefficient of x^i.
type Polynomial struct {
	Coeffs []Element
}

// NewPolynomial wraps a coefficient slice as a Polynomial.
func NewPolynomial(coeffs []Element) Polynomial {
	return Polynomial{Coeffs: coeffs}
}

// Degree returns the polynomial's degree (len(Coeffs)-1, or -1 if empty).
func (p Polynomial) Degree() int {
	return len(p.Coeffs) - 1
}

// Eval evaluates p(x) via Horner's method.
func (p Polynomial) Eval(x Element) Element {
	result := Zero()
	for i := len(p.Coeffs) - 1; i >= 0; i-- {
		result = result.Mul(x).Add(p.Coeffs[i])
	}
	return result
}

// RandomPolynomial samples a polynomial of the given degree with a fixed
// constant term, drawing the remaining degree coefficients uniformly from
// the sampler. This realizes Polynomial.random(degree, constant_term) from
// spec.md §4.1, used for degree-f Shamir dealing. The degree-2f product
// inside multiplication is formed locally from shares and never sampled.
func RandomPolynomial(degree int, constant Element, s Sampler) Polynomial {
	coeffs := make([]Element, degree+1)
	coeffs[0] = constant
	for i := 1; i <= degree; i++ {
		coeffs[i] = s.Rand()
	}
	return Polynomial{Coeffs: coeffs}
}

// LagrangeCoefficientsAtZero precomputes the Lagrange basis coefficients
// {lambda_k} for interpolating a polynomial at x=0 given evaluation points
// xs. For any subsequent set of values y_k sampled on the same xs, the
// secret/constant-term is sum(lambda_k * y_k).
func LagrangeCoefficientsAtZero(xs []Element) []Element {
	n := len(xs)
	lambdas := make([]Element, n)
	for j := 0; j < n; j++ {
		num := One()
		den := One()
		for m := 0; m < n; m++ {
			if m == j {
				continue
			}
			num = num.Mul(xs[m].Neg())
			den = den.Mul(xs[j].Sub(xs[m]))
		}
		denInv, err := den.Inv()
		if err != nil {
			// xs contains a duplicate point; this is a misuse of the
			// interpolation API (degenerate point set), not a field error
			// that can occur from honest protocol use.
			panic("field: duplicate interpolation point")
		}
		lambdas[j] = num.Mul(denInv)
	}
	return lambdas
}

// LagrangeAtZero interpolates the unique polynomial of degree < len(points)
// through (xs[i], ys[i]) and returns its value at x=0.
func LagrangeAtZero(xs, ys []Element) Element {
	lambdas := LagrangeCoefficientsAtZero(xs)
	result := Zero()
	for i, lambda := range lambdas {
		result = result.Add(lambda.Mul(ys[i]))
	}
	return result
}

// LagrangeAt interpolates the unique polynomial of degree < len(xs) through
// (xs[i], ys[i]) and returns its value at an arbitrary point atX. Used to
// recover points of a CSS-defined polynomial that were never directly
// observed (e.g. a missing dealer share, or another party's evaluation).
func LagrangeAt(xs, ys []Element, atX Element) Element {
	n := len(xs)
	result := Zero()
	for j := 0; j < n; j++ {
		num := One()
		den := One()
		for m := 0; m < n; m++ {
			if m == j {
				continue
			}
			num = num.Mul(atX.Sub(xs[m]))
			den = den.Mul(xs[j].Sub(xs[m]))
		}
		denInv, err := den.Inv()
		if err != nil {
			panic("field: duplicate interpolation point")
		}
		result = result.Add(ys[j].Mul(num).Mul(denInv))
	}
	return result
}
