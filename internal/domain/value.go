package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Multipliers are tried in order; the first that makes the scaled value integral wins.
var Multipliers = []int64{1, 100, 1000}

// Value is a numeric quantity stored as an integer and a power-of-ten multiplier.
type Value struct {
	Value      int64  `json:"value"`
	Multiplier int64  `json:"multiplier"`
	Unit       string `json:"unit,omitempty"`
}

// EncodeValue scales x by the smallest multiplier that yields an exact integer.
// Quantities with more than three decimals are rounded at the largest multiplier.
// Non-finite input and results outside int64 fail with ErrMalformedPayload.
func EncodeValue(x float64, unit string) (Value, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return Value{}, fmt.Errorf("%w: encode value %v: not a finite number", ErrMalformedPayload, x)
	}
	for _, m := range Multipliers {
		scaled := x * float64(m)
		rounded := math.Round(scaled)
		if math.Abs(scaled-rounded) <= 1e-9*math.Max(1, math.Abs(scaled)) {
			return scaledValue(x, rounded, m, unit)
		}
	}
	last := Multipliers[len(Multipliers)-1]
	return scaledValue(x, math.Round(x*float64(last)), last, unit)
}

// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
func scaledValue(x, rounded float64, m int64, unit string) (Value, error) {
	if rounded >= math.MaxInt64 || rounded < math.MinInt64 {
		return Value{}, fmt.Errorf("%w: encode value %v: overflows int64 at multiplier %d", ErrMalformedPayload, x, m)
	}
	return Value{Value: int64(rounded), Multiplier: m, Unit: unit}, nil
}

// EncodeDecimal parses a decimal string without going through float64.
func EncodeDecimal(s, unit string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{}, fmt.Errorf("%w: encode decimal: empty value", ErrMalformedPayload)
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if (whole == "" && frac == "") || !digitsOnly(whole) || !digitsOnly(frac) {
		return Value{}, fmt.Errorf("%w: encode decimal %q: not a number", ErrMalformedPayload, s)
	}
	frac = strings.TrimRight(frac, "0")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 3 {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: encode decimal %q: %w", ErrMalformedPayload, s, err)
		}
		if neg {
			f = -f
		}
		return EncodeValue(f, unit)
	}

	var mul int64
	switch {
	case frac == "":
		mul = 1
	case len(frac) <= 2:
		mul = 100
		frac += strings.Repeat("0", 2-len(frac))
	default:
		mul = 1000
	}

	digits := whole + frac
	if neg {
		digits = "-" + digits
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: encode decimal %q: %w", ErrMalformedPayload, s, err)
	}
	return Value{Value: n, Multiplier: mul, Unit: unit}, nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Float decodes the value back to a real number.
func (v Value) Float() float64 {
	if v.Multiplier == 0 {
		return float64(v.Value)
	}
	return float64(v.Value) / float64(v.Multiplier)
}

// MinorUnits wraps an amount already expressed in hundredths (pence, cents).
func MinorUnits(amount int64, unit string) Value {
	if amount%100 == 0 {
		return Value{Value: amount / 100, Multiplier: 1, Unit: unit}
	}
	return Value{Value: amount, Multiplier: 100, Unit: unit}
}
