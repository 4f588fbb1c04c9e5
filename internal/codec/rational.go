package codec

import "math/big"

// Rational is the exact fractional value backing a FieldSpec's add/multiply
// coefficients. Using big.Rat rather than float64 keeps the half-to-even
// rounding in ApplyTransform/InvertTransform exact regardless of how the
// coefficients were entered in a model file.
type Rational struct {
	r *big.Rat
}

// NewRational builds a Rational equal to num/den. den must be non-zero.
func NewRational(num, den int64) Rational {
	return Rational{r: big.NewRat(num, den)}
}

// RationalFromInt builds a Rational with an integer value.
func RationalFromInt(n int64) Rational {
	return Rational{r: big.NewRat(n, 1)}
}

// RationalFromFloat64 builds a Rational exactly equal to the given double,
// used when a model file expresses add/multiply as a decimal literal.
// big.Rat.SetFloat64 is exact (the float64's own binary fraction), so no
// precision is lost converting a parsed TOML number into a Rational.
func RationalFromFloat64(f float64) Rational {
	r := new(big.Rat)
	r.SetFloat64(f)
	return Rational{r: r}
}

// IsZero reports whether the Rational is exactly zero.
func (r Rational) IsZero() bool {
	return r.r == nil || r.r.Sign() == 0
}

// IsOne reports whether the Rational is exactly one.
func (r Rational) IsOne() bool {
	return r.r != nil && r.r.Cmp(big.NewRat(1, 1)) == 0
}

func (r Rational) rat() *big.Rat {
	if r.r == nil {
		return new(big.Rat)
	}
	return r.r
}

// roundHalfToEven rounds the exact rational r to the nearest integer,
// breaking ties toward the even neighbor.
func roundHalfToEven(r *big.Rat) int64 {
	num := new(big.Int).Set(r.Num())
	den := new(big.Int).Set(r.Denom())

	q := new(big.Int)
	rem := new(big.Int)
	q.DivMod(num, den, rem) // Euclidean: 0 <= rem < den

	twice := new(big.Int).Lsh(rem, 1) // 2*rem
	cmp := twice.Cmp(den)

	switch {
	case cmp < 0:
		// closer to q
	case cmp > 0:
		q.Add(q, big.NewInt(1))
	default:
		// exact tie: round to even
		if q.Bit(0) == 1 {
			q.Add(q, big.NewInt(1))
		}
	}
	return q.Int64()
}

// ApplyTransform computes the encode-side numeric transform: add first,
// then multiply, each step independently rounded half-to-even.
func ApplyTransform(value int64, add, multiply Rational) int64 {
	added := new(big.Rat).Add(big.NewRat(value, 1), add.rat())
	roundedAdd := roundHalfToEven(added)

	scaled := new(big.Rat).Mul(big.NewRat(roundedAdd, 1), multiply.rat())
	return roundHalfToEven(scaled)
}

// InvertTransform computes the decode-side inverse transform: divide by
// multiply, subtract add, round half-to-even.
func InvertTransform(raw int64, add, multiply Rational) (int64, error) {
	if multiply.rat().Sign() == 0 {
		return 0, ErrZeroMultiply
	}
	divided := new(big.Rat).Quo(big.NewRat(raw, 1), multiply.rat())
	subtracted := new(big.Rat).Sub(divided, add.rat())
	return roundHalfToEven(subtracted), nil
}
