package recorder

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"
)

// Rational is a time base: the duration of one tick, in seconds.
type Rational struct {
	Num int
	Den int
}

func NewRational(num, den int) Rational {
	return Rational{Num: num, Den: den}
}

func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Invert returns den/num, e.g. a frame rate from a frame period.
func (r Rational) Invert() Rational {
	return Rational{Num: r.Den, Den: r.Num}
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Rescale converts v from one time base to another, rounding to nearest with
// halves away from zero. Results beyond the int64 range saturate.
func Rescale(v int64, from, to Rational) int64 {
	if from == to || !from.Valid() || !to.Valid() {
		return v
	}
	// v * b / c with b = from.Num*to.Den and c = from.Den*to.Num
	bHi, b := bits.Mul64(uint64(from.Num), uint64(to.Den))
	cHi, c := bits.Mul64(uint64(from.Den), uint64(to.Num))
	if bHi != 0 || cHi != 0 {
		return rescaleBig(v, from, to)
	}

	neg := v < 0
	a := uint64(v)
	if neg {
		a = -a
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return saturate(neg)
	}
	q, r := bits.Div64(hi, lo, c)
	if r >= c-r {
		q++
		if q == 0 {
			return saturate(neg)
		}
	}
	return signed(q, neg)
}

func saturate(neg bool) int64 {
	if neg {
		return math.MinInt64
	}
	return math.MaxInt64
}

// signed applies the sign to magnitude q, saturating outside int64.
func signed(q uint64, neg bool) int64 {
	if neg {
		if q > 1<<63 {
			return math.MinInt64
		}
		return int64(-q)
	}
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}

// rescaleBig handles time bases whose cross products exceed 64 bits.
func rescaleBig(v int64, from, to Rational) int64 {
	n := new(big.Int).SetInt64(v)
	n.Mul(n, big.NewInt(int64(from.Num)))
	n.Mul(n, big.NewInt(int64(to.Den)))
	d := new(big.Int).Mul(big.NewInt(int64(from.Den)), big.NewInt(int64(to.Num)))

	q, m := new(big.Int).QuoRem(n, d, new(big.Int))
	m.Abs(m).Lsh(m, 1)
	if m.Cmp(d) >= 0 {
		if n.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	if !q.IsInt64() {
		return saturate(q.Sign() < 0)
	}
	return q.Int64()
}
