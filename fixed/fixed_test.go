package fixed

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawRoundTrip(t *testing.T) {

	raws := []string{"0", "1", "10000", "50000000", "18446744073709551615", "340282366920938463463374607431768211455"}

	for _, raw := range raws {
		for _, d := range []uint8{E8Decimals, E12Decimals} {
			v, err := FromString(raw, d)
			require.NoError(t, err)
			assert.Equal(t, raw, v.RawString())

			back, ok := new(big.Int).SetString(raw, 10)
			require.True(t, ok)
			assert.Equal(t, 0, back.Cmp(v.Raw()))
		}
	}
}

func TestRawCopyIsIndependent(t *testing.T) {
	v := NewE8s(42)
	r := v.Raw()
	r.SetInt64(7)

	assert.Equal(t, "42", v.RawString())
}

func TestRejectsNegative(t *testing.T) {
	_, err := FromString("-1", E8Decimals)
	assert.ErrorIs(t, err, ErrNegative)

	_, err = ParseDecimal("-0.5", E8Decimals, RoundDown)
	assert.ErrorIs(t, err, ErrNegative)

	_, err = FromString("12abc", E8Decimals)
	assert.Error(t, err)
}

func TestParseDecimal(t *testing.T) {

	half, err := ParseDecimal("0.5", E8Decimals, RoundDown)
	require.NoError(t, err)
	assert.Equal(t, "50000000", half.RawString())
	assert.Equal(t, "0.5", half.String())

	// Extra digits are rounded with the requested mode
	down, err := ParseDecimal("1.123456789", E8Decimals, RoundDown)
	require.NoError(t, err)
	assert.Equal(t, "112345678", down.RawString())

	halfUp, err := ParseDecimal("1.123456785", E8Decimals, RoundHalfUp)
	require.NoError(t, err)
	assert.Equal(t, "112345679", halfUp.RawString())

	up, err := ParseDecimal("0.000000001", E8Decimals, RoundUp)
	require.NoError(t, err)
	assert.Equal(t, "1", up.RawString())
}

func TestFromFloat(t *testing.T) {
	v, err := FromFloat(12.34, E8Decimals, RoundHalfUp)
	require.NoError(t, err)
	assert.Equal(t, "1234000000", v.RawString())
}

func TestUint64(t *testing.T) {
	v := NewE8s(123)
	n, err := v.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(123), n)

	huge, err := FromString("18446744073709551616", E8Decimals)
	require.NoError(t, err)
	_, err = huge.Uint64()
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestComparisonAcrossPrecisions(t *testing.T) {
	e8 := NewE8s(100_000_000)
	e12 := NewE12s(1_000_000_000_000)
	bigger := NewE12s(1_000_000_000_001)

	assert.True(t, e8.Eq(e12))
	assert.True(t, e8.Lt(bigger))
	assert.True(t, bigger.Gt(e8))
	assert.True(t, e8.Le(e12))
	assert.True(t, e8.Ge(e12))
	assert.True(t, EDs{}.IsZero())
}

func TestAddSub(t *testing.T) {
	a := NewE8s(150)
	b := NewE8s(50)

	assert.Equal(t, "200", a.Add(b).RawString())

	r, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "100", r.RawString())

	_, err = b.Sub(a)
	assert.ErrorIs(t, err, ErrUnderflow)
	assert.True(t, b.SaturatingSub(a).IsZero())

	// Mixed precision aligns up
	mixed := NewE8s(1).Add(NewE12s(1))
	assert.Equal(t, E12Decimals, mixed.Decimals())
	assert.Equal(t, "10001", mixed.RawString())
}

func TestMulDiv(t *testing.T) {

	// 1.5 * 2.0 = 3.0
	x, _ := ParseDecimal("1.5", E8Decimals, RoundDown)
	y, _ := ParseDecimal("2", E12Decimals, RoundDown)
	assert.Equal(t, "3", x.Mul(y, RoundDown).String())

	// 1 / 3 at 8 decimals
	one := One(E8Decimals)
	three := NewE8s(300_000_000)

	down, err := one.Div(three, RoundDown)
	require.NoError(t, err)
	assert.Equal(t, "33333333", down.RawString())

	up, err := one.Div(three, RoundUp)
	require.NoError(t, err)
	assert.Equal(t, "33333334", up.RawString())

	// 2 / 3 rounds half up to ...67
	two := NewE8s(200_000_000)
	hu, err := two.Div(three, RoundHalfUp)
	require.NoError(t, err)
	assert.Equal(t, "66666667", hu.RawString())

	_, err = one.Div(Zero(E8Decimals), RoundDown)
	assert.ErrorIs(t, err, ErrDivisionByZero)

	_, err = one.DivUint64(0, RoundDown)
	assert.ErrorIs(t, err, ErrDivisionByZero)

	q, err := NewE8s(10).DivUint64(4, RoundHalfUp)
	require.NoError(t, err)
	assert.Equal(t, "3", q.RawString())
	assert.Equal(t, "40", NewE8s(10).MulUint64(4).RawString())
}

func TestToDecimals(t *testing.T) {
	e8 := NewE8s(123_456_789)

	e12 := e8.ToDecimals(E12Decimals, RoundDown)
	assert.Equal(t, "1234567890000", e12.RawString())

	// Scaling up then down is lossless
	assert.Equal(t, e8.RawString(), e12.ToDecimals(E8Decimals, RoundDown).RawString())

	odd := NewE12s(1_234_567_895_000)
	assert.Equal(t, "123456789", odd.ToDecimals(E8Decimals, RoundDown).RawString())
	assert.Equal(t, "123456790", odd.ToDecimals(E8Decimals, RoundHalfUp).RawString())
}

func TestStringFormatting(t *testing.T) {
	assert.Equal(t, "1", NewE8s(100_000_000).String())
	assert.Equal(t, "0.0001", NewE8s(10_000).String())
	assert.Equal(t, "0.00010000", NewE8s(10_000).StringFixed(8))
	assert.Equal(t, "0", EDs{}.String())
}

func TestJSON(t *testing.T) {

	type payload struct {
		Reward EDs `json:"reward"`
	}

	out, err := json.Marshal(payload{Reward: NewE8s(99)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"reward":"99"}`, string(out))

	var p payload
	require.NoError(t, json.Unmarshal([]byte(`{"reward":12345}`), &p))
	assert.Equal(t, "12345", p.Reward.RawString())
	assert.Equal(t, E8Decimals, p.Reward.Decimals())

	share := Zero(E12Decimals)
	require.NoError(t, json.Unmarshal([]byte(`"7"`), &share))
	assert.Equal(t, E12Decimals, share.Decimals())
	assert.Equal(t, "7", share.RawString())
}
