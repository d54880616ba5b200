// Package fixed implements unsigned fixed-point decimals backed by an
// arbitrary precision integer. The raw integer is exactly what the ledger
// and staking protocols put on the wire; the decimals say where the point is.
package fixed

import (
	"math"
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	E8Decimals  uint8 = 8  // token units
	E12Decimals uint8 = 12 // pool share units
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundHalfUp
	RoundUp
)

var (
	ErrUnderflow      = errors.New("fixed: result would be negative")
	ErrDivisionByZero = errors.New("fixed: division by zero")
	ErrNegative       = errors.New("fixed: negative value")
	ErrOverflow       = errors.New("fixed: value does not fit in uint64")
)

// EDs is a non-negative fixed-point number: val / 10^decimals.
// The zero value is a valid zero.
type EDs struct {
	val      *big.Int
	decimals uint8
}

func New(raw uint64, decimals uint8) EDs {
	return EDs{val: new(big.Int).SetUint64(raw), decimals: decimals}
}

func NewE8s(raw uint64) EDs {
	return New(raw, E8Decimals)
}

func NewE12s(raw uint64) EDs {
	return New(raw, E12Decimals)
}

func Zero(decimals uint8) EDs {
	return EDs{val: new(big.Int), decimals: decimals}
}

// One returns 1.0 at the given precision (raw 10^decimals).
func One(decimals uint8) EDs {
	return EDs{val: pow10(decimals), decimals: decimals}
}

// FromBig copies raw. Negative values are rejected.
func FromBig(raw *big.Int, decimals uint8) (EDs, error) {
	if raw == nil {
		return Zero(decimals), nil
	}
	if raw.Sign() < 0 {
		return EDs{}, ErrNegative
	}

	return EDs{val: new(big.Int).Set(raw), decimals: decimals}, nil
}

// FromString parses the raw base-10 integer representation.
func FromString(raw string, decimals uint8) (EDs, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return EDs{}, errors.Errorf("fixed: invalid raw integer %q", raw)
	}

	return FromBig(v, decimals)
}

// ParseDecimal parses human text such as "0.5" into a value with the given
// precision, rounding any extra fractional digits with mode.
func ParseDecimal(text string, decimals uint8, mode RoundingMode) (EDs, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(text))
	if err != nil {
		return EDs{}, errors.Wrapf(err, "fixed: invalid decimal %q", text)
	}

	return fromDecimal(d, decimals, mode)
}

// FromFloat converts a float, e.g. a USD price quote.
func FromFloat(f float64, decimals uint8, mode RoundingMode) (EDs, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return EDs{}, errors.Errorf("fixed: cannot convert %v", f)
	}

	return fromDecimal(decimal.NewFromFloat(f), decimals, mode)
}

func fromDecimal(d decimal.Decimal, decimals uint8, mode RoundingMode) (EDs, error) {
	if d.IsNegative() {
		return EDs{}, ErrNegative
	}

	scaled := d.Shift(int32(decimals))

	switch mode {
	case RoundUp:
		scaled = scaled.Ceil()
	case RoundHalfUp:
		scaled = scaled.Round(0)
	default:
		scaled = scaled.Truncate(0)
	}

	return EDs{val: scaled.BigInt(), decimals: decimals}, nil
}

func (e EDs) int() *big.Int {
	if e.val == nil {
		return new(big.Int)
	}
	return e.val
}

func (e EDs) Decimals() uint8 {
	return e.decimals
}

// Raw returns a copy of the protocol integer.
func (e EDs) Raw() *big.Int {
	return new(big.Int).Set(e.int())
}

func (e EDs) RawString() string {
	return e.int().String()
}

func (e EDs) Uint64() (uint64, error) {
	v := e.int()
	if !v.IsUint64() {
		return 0, ErrOverflow
	}

	return v.Uint64(), nil
}

// ToDecimals rescales. Scaling up is exact; scaling down rounds with mode.
func (e EDs) ToDecimals(decimals uint8, mode RoundingMode) EDs {
	switch {
	case decimals == e.decimals:
		return EDs{val: e.Raw(), decimals: decimals}
	case decimals > e.decimals:
		v := new(big.Int).Mul(e.int(), pow10(decimals-e.decimals))
		return EDs{val: v, decimals: decimals}
	default:
		v := divRound(e.int(), pow10(e.decimals-decimals), mode)
		return EDs{val: v, decimals: decimals}
	}
}

// align brings both operands to the larger precision without loss.
func align(a, b EDs) (*big.Int, *big.Int, uint8) {
	d := a.decimals
	if b.decimals > d {
		d = b.decimals
	}

	return a.ToDecimals(d, RoundDown).int(), b.ToDecimals(d, RoundDown).int(), d
}

func (e EDs) Cmp(o EDs) int {
	x, y, _ := align(e, o)
	return x.Cmp(y)
}

func (e EDs) Eq(o EDs) bool { return e.Cmp(o) == 0 }
func (e EDs) Lt(o EDs) bool { return e.Cmp(o) < 0 }
func (e EDs) Le(o EDs) bool { return e.Cmp(o) <= 0 }
func (e EDs) Gt(o EDs) bool { return e.Cmp(o) > 0 }
func (e EDs) Ge(o EDs) bool { return e.Cmp(o) >= 0 }

func (e EDs) IsZero() bool {
	return e.int().Sign() == 0
}

func (e EDs) Add(o EDs) EDs {
	x, y, d := align(e, o)
	return EDs{val: new(big.Int).Add(x, y), decimals: d}
}

// Sub returns ErrUnderflow instead of a negative result.
func (e EDs) Sub(o EDs) (EDs, error) {
	x, y, d := align(e, o)
	if x.Cmp(y) < 0 {
		return EDs{}, ErrUnderflow
	}

	return EDs{val: new(big.Int).Sub(x, y), decimals: d}, nil
}

func (e EDs) SaturatingSub(o EDs) EDs {
	r, err := e.Sub(o)
	if err != nil {
		_, _, d := align(e, o)
		return Zero(d)
	}

	return r
}

// Mul keeps the receiver's precision.
func (e EDs) Mul(o EDs, mode RoundingMode) EDs {
	prod := new(big.Int).Mul(e.int(), o.int())
	return EDs{val: divRound(prod, pow10(o.decimals), mode), decimals: e.decimals}
}

// Div keeps the receiver's precision.
func (e EDs) Div(o EDs, mode RoundingMode) (EDs, error) {
	if o.IsZero() {
		return EDs{}, ErrDivisionByZero
	}

	num := new(big.Int).Mul(e.int(), pow10(o.decimals))
	return EDs{val: divRound(num, o.int(), mode), decimals: e.decimals}, nil
}

func (e EDs) MulUint64(n uint64) EDs {
	v := new(big.Int).Mul(e.int(), new(big.Int).SetUint64(n))
	return EDs{val: v, decimals: e.decimals}
}

func (e EDs) DivUint64(n uint64, mode RoundingMode) (EDs, error) {
	if n == 0 {
		return EDs{}, ErrDivisionByZero
	}

	return EDs{val: divRound(e.int(), new(big.Int).SetUint64(n), mode), decimals: e.decimals}, nil
}

// Decimal is the human value, for display and USD math.
func (e EDs) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(e.int(), -int32(e.decimals))
}

// String renders human text with trailing zeros trimmed ("0.5", "12").
func (e EDs) String() string {
	return e.Decimal().String()
}

func (e EDs) StringFixed(places int32) string {
	return e.Decimal().StringFixed(places)
}

func (e EDs) Float64() float64 {
	return e.Decimal().InexactFloat64()
}

// divRound divides two non-negative integers.
func divRound(num, den *big.Int, mode RoundingMode) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() == 0 {
		return q
	}

	switch mode {
	case RoundUp:
		q.Add(q, big.NewInt(1))
	case RoundHalfUp:
		if new(big.Int).Lsh(r, 1).Cmp(den) >= 0 {
			q.Add(q, big.NewInt(1))
		}
	}

	return q
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
