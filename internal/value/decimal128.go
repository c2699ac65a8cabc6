// ABOUTME: IEEE 754-2008 decimal128 (binary integer decimal) encoding
// ABOUTME: 34 decimal digits of coefficient, biased exponent, sign bit

package value

import (
	"fmt"
	"math/big"
)

const decimalBias = 6176

var (
	tenPow33 = new(big.Int).Exp(big.NewInt(10), big.NewInt(33), nil)
	tenPow34 = new(big.Int).Exp(big.NewInt(10), big.NewInt(34), nil)
	mask64   = new(big.Int).SetUint64(^uint64(0))
)

// Decimal128 is the decoded form: sign * coefficient * 10^exponent, with
// 0 <= coefficient < 10^34.
type Decimal128 struct {
	Negative    bool
	Coefficient big.Int
	Exponent    int32
}

// NewDecimal128 builds a Decimal128 from its decoded parts.
func NewDecimal128(negative bool, coefficient *big.Int, exponent int32) Decimal128 {
	var c big.Int
	c.Set(coefficient)
	return Decimal128{Negative: negative, Coefficient: c, Exponent: exponent}
}

// Bytes encodes the value into its 16-byte little-endian BID representation.
func (d Decimal128) Bytes() [16]byte {
	coeff := new(big.Int).Set(&d.Coefficient)
	if coeff.Sign() < 0 {
		coeff.Neg(coeff)
	}
	if coeff.Cmp(tenPow34) >= 0 {
		coeff.Mod(coeff, tenPow34)
	}

	msd := new(big.Int).Div(coeff, tenPow33)
	trailing := new(big.Int).Mod(coeff, tenPow33)
	msdVal := msd.Uint64()

	biased := uint32(int64(d.Exponent) + decimalBias)
	var combination uint32
	if msdVal <= 7 {
		combination = ((biased >> 12) << 15) | (uint32(msdVal) << 12) | (biased & 0xFFF)
	} else {
		combination = (0b11 << 15) | (((biased >> 12) & 0x3) << 13) | ((uint32(msdVal) - 8) << 12) | (biased & 0xFFF)
	}

	total := new(big.Int)
	if d.Negative {
		total.SetUint64(1)
	} else {
		total.SetUint64(0)
	}
	total.Lsh(total, 17)
	total.Or(total, new(big.Int).SetUint64(uint64(combination)))
	total.Lsh(total, 110)
	total.Or(total, trailing)

	hi := new(big.Int).Rsh(total, 64)
	lo := new(big.Int).And(total, mask64)

	var out [16]byte
	loBytes := lo.Bytes()
	hiBytes := hi.Bytes()
	putBigEndianTail(out[0:8], loBytes)
	putBigEndianTail(out[8:16], hiBytes)
	reverse(out[0:8])
	reverse(out[8:16])
	return out
}

// putBigEndianTail right-aligns src into dst (dst is zeroed first).
func putBigEndianTail(dst []byte, src []byte) {
	for i := range dst {
		dst[i] = 0
	}
	if len(src) > len(dst) {
		src = src[len(src)-len(dst):]
	}
	copy(dst[len(dst)-len(src):], src)
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// DecodeDecimal128 parses the 16-byte little-endian BID representation.
func DecodeDecimal128(b [16]byte) (Decimal128, error) {
	if len(b) != 16 {
		return Decimal128{}, fmt.Errorf("decimal128: need 16 bytes, got %d", len(b))
	}
	lo := make([]byte, 8)
	hi := make([]byte, 8)
	copy(lo, b[0:8])
	copy(hi, b[8:16])
	reverse(lo)
	reverse(hi)

	total := new(big.Int).SetBytes(hi)
	total.Lsh(total, 64)
	total.Or(total, new(big.Int).SetBytes(lo))

	trailing := new(big.Int).And(total, new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 110), big.NewInt(1)))
	rest := new(big.Int).Rsh(total, 110)
	combination := new(big.Int).And(rest, big.NewInt(0x1FFFF)).Uint64()
	signBit := new(big.Int).Rsh(rest, 17).Uint64() & 1

	var msdVal uint64
	var biased uint32
	top2 := (combination >> 15) & 0x3
	if top2 != 0b11 {
		msdVal = (combination >> 12) & 0x7
		biased = uint32(((combination>>15)&0x3)<<12 | (combination & 0xFFF))
	} else {
		msdVal = 8 + ((combination >> 12) & 0x1)
		biased = uint32(((combination>>13)&0x3)<<12 | (combination & 0xFFF))
	}

	coeff := new(big.Int).Mul(big.NewInt(int64(msdVal)), tenPow33)
	coeff.Add(coeff, trailing)

	exponent := int32(biased) - decimalBias

	return Decimal128{Negative: signBit == 1, Coefficient: *coeff, Exponent: exponent}, nil
}

// Cmp orders two decimal128 values numerically (sign, then scaled coefficient).
func (d Decimal128) Cmp(o Decimal128) int {
	a := d.signedRat()
	b := o.signedRat()
	return a.Cmp(b)
}

func (d Decimal128) signedRat() *big.Rat {
	coeff := new(big.Int).Set(&d.Coefficient)
	r := new(big.Rat).SetInt(coeff)
	if d.Exponent >= 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d.Exponent)), nil)
		r.Mul(r, new(big.Rat).SetInt(scale))
	} else {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-d.Exponent)), nil)
		r.Quo(r, new(big.Rat).SetInt(scale))
	}
	if d.Negative {
		r.Neg(r)
	}
	return r
}

// Float64 widens the decimal to a float64 for comparison against other
// numeric types (§4.8 lossless-widening rule; this widening is lossy for
// decimal128 but only used when comparing against int/double, matching
// the spec's "decimal128 compares only with decimal128 and with integral
// widths when representable").
func (d Decimal128) Float64() float64 {
	f, _ := d.signedRat().Float64()
	return f
}

func (d Decimal128) String() string {
	sign := ""
	if d.Negative {
		sign = "-"
	}
	return fmt.Sprintf("%s%sE%d", sign, d.Coefficient.String(), d.Exponent)
}
