package fixed

import (
	"math/big"
	"sync"
)

// fractionBits bounds the binary expansion used by log2 and exp2. 2^-100 is
// well below the 10^-30 resolution of Precision.
const fractionBits = 100

var (
	rootsOnce sync.Once
	roots     []*big.Int // roots[i] = 2^(2^-(i+1)) scaled by Precision
)

func sqrtTwoPowers() []*big.Int {
	rootsOnce.Do(func() {
		roots = make([]*big.Int, fractionBits)
		prev := new(big.Int).Mul(Precision, Precision)
		prev.Lsh(prev, 1)
		roots[0] = new(big.Int).Sqrt(prev)
		for i := 1; i < fractionBits; i++ {
			sq := new(big.Int).Mul(roots[i-1], Precision)
			roots[i] = sq.Sqrt(sq)
		}
	})
	return roots
}

// Pow returns x^y where both operands and the result are scaled by
// Precision. Integral exponents are computed exactly by repeated
// multiplication; the fractional part goes through log2/exp2 on integers.
func Pow(x, y *big.Int) *big.Int {
	if y == nil || y.Sign() == 0 {
		return Copy(Precision)
	}
	if x == nil || x.Sign() <= 0 {
		return new(big.Int)
	}
	if y.Sign() < 0 {
		p := Pow(x, Neg(y))
		if p.Sign() == 0 {
			return new(big.Int)
		}
		return MulDiv(Precision, Precision, p)
	}

	whole, frac := new(big.Int).QuoRem(y, Precision, new(big.Int))

	result := Copy(Precision)
	base := Copy(x)
	for n := new(big.Int).Set(whole); n.Sign() > 0; n.Rsh(n, 1) {
		if n.Bit(0) == 1 {
			result = MulDiv(result, base, Precision)
		}
		base = MulDiv(base, base, Precision)
	}

	if frac.Sign() == 0 {
		return result
	}
	return MulDiv(result, exp2(MulDiv(frac, log2(x), Precision)), Precision)
}

// log2 returns log2(x) scaled by Precision. x must be positive.
func log2(x *big.Int) *big.Int {
	if x.Cmp(Precision) < 0 {
		return Neg(log2(MulDiv(Precision, Precision, x)))
	}

	n := Quo(x, Precision).BitLen() - 1
	result := new(big.Int).Mul(big.NewInt(int64(n)), Precision)

	y := new(big.Int).Rsh(x, uint(n))
	if y.Cmp(Precision) == 0 {
		return result
	}

	two := new(big.Int).Lsh(Precision, 1)
	delta := new(big.Int).Rsh(Precision, 1)
	for i := 0; i < fractionBits && delta.Sign() > 0; i++ {
		y = MulDiv(y, y, Precision)
		if y.Cmp(two) >= 0 {
			result.Add(result, delta)
			y.Rsh(y, 1)
		}
		delta.Rsh(delta, 1)
	}
	return result
}

// exp2 returns 2^z with z and the result scaled by Precision.
func exp2(z *big.Int) *big.Int {
	if z.Sign() < 0 {
		return MulDiv(Precision, Precision, exp2(Neg(z)))
	}

	whole, frac := new(big.Int).QuoRem(z, Precision, new(big.Int))

	result := Copy(Precision)
	rs := sqrtTwoPowers()
	for i := 0; i < len(rs) && frac.Sign() > 0; i++ {
		frac.Lsh(frac, 1)
		if frac.Cmp(Precision) >= 0 {
			frac.Sub(frac, Precision)
			result = MulDiv(result, rs[i], Precision)
		}
	}
	return result.Lsh(result, uint(whole.Uint64()))
}
