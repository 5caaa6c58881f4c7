// Package fixed implements the scaled-integer arithmetic used by the valuation
// code. USD amounts, prices and factors carry 30 decimals; token amounts carry
// the token's own decimals. Division truncates toward zero unless a function
// says otherwise.
package fixed

import "math/big"

var (
	// Precision is the scale of USD values, prices and factors (10^30).
	Precision = ExpandDecimals(1, 30)

	// WeiPrecision is 10^18, used to pre-scale pool P&L before taking ratios.
	WeiPrecision = ExpandDecimals(1, 18)

	// BasisPointsDivisor is 100% expressed in basis points.
	BasisPointsDivisor = big.NewInt(10_000)
)

// Zero returns a fresh zero value.
func Zero() *big.Int { return new(big.Int) }

// ExpandDecimals returns n * 10^decimals.
func ExpandDecimals(n int64, decimals int) *big.Int {
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return exp.Mul(exp, big.NewInt(n))
}

// OrZero returns v, or a fresh zero when v is nil.
func OrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Copy returns an independent copy of v. A nil v stays nil.
func Copy(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// Add returns a + b. Nil operands count as zero.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(OrZero(a), OrZero(b))
}

// Sub returns a - b. Nil operands count as zero.
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(OrZero(a), OrZero(b))
}

// Neg returns -v.
func Neg(v *big.Int) *big.Int {
	return new(big.Int).Neg(OrZero(v))
}

// Abs returns |v|.
func Abs(v *big.Int) *big.Int {
	return new(big.Int).Abs(OrZero(v))
}

// Max returns the larger of a and b.
func Max(a, b *big.Int) *big.Int {
	if OrZero(a).Cmp(OrZero(b)) >= 0 {
		return Copy(OrZero(a))
	}
	return Copy(OrZero(b))
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if OrZero(a).Cmp(OrZero(b)) <= 0 {
		return Copy(OrZero(a))
	}
	return Copy(OrZero(b))
}

// Quo returns a / b truncated toward zero. The caller guarantees b != 0.
func Quo(a, b *big.Int) *big.Int {
	return new(big.Int).Quo(OrZero(a), b)
}

// MulDiv returns a * b / c truncated toward zero. The caller guarantees c != 0.
func MulDiv(a, b, c *big.Int) *big.Int {
	out := new(big.Int).Mul(OrZero(a), OrZero(b))
	return out.Quo(out, c)
}

// ApplyFactor returns value * factor / Precision.
func ApplyFactor(value, factor *big.Int) *big.Int {
	return MulDiv(value, factor, Precision)
}

// DivRound divides a by b rounding half away from zero.
func DivRound(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(OrZero(a), b, new(big.Int))
	twice := new(big.Int).Abs(r)
	twice.Lsh(twice, 1)
	if twice.Cmp(new(big.Int).Abs(b)) >= 0 {
		if (OrZero(a).Sign() < 0) != (b.Sign() < 0) {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return q
}

// ConvertToUsd converts a token amount into a USD value. It returns nil when
// the price is missing.
func ConvertToUsd(amount *big.Int, decimals int, price *big.Int) *big.Int {
	if amount == nil || price == nil {
		return nil
	}
	return MulDiv(amount, price, ExpandDecimals(1, decimals))
}

// ConvertToTokenAmount converts a USD value into a token amount. It returns
// nil when the price is missing or zero.
func ConvertToTokenAmount(usd *big.Int, decimals int, price *big.Int) *big.Int {
	if usd == nil || price == nil || price.Sign() == 0 {
		return nil
	}
	return MulDiv(usd, ExpandDecimals(1, decimals), price)
}

// BasisPoints returns numerator expressed in basis points of denominator.
func BasisPoints(numerator, denominator *big.Int) *big.Int {
	if denominator == nil || denominator.Sign() == 0 {
		return new(big.Int)
	}
	return MulDiv(numerator, BasisPointsDivisor, denominator)
}

// IsPositive reports whether v is non-nil and greater than zero.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
