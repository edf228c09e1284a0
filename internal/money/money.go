package money

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned when an amount is non-finite or would overflow minor units.
	ErrInvalidAmount = errors.New("invalid monetary amount")
	// ErrUnknownCurrency is returned for currency codes outside the supported table.
	ErrUnknownCurrency = errors.New("unknown currency")
)

// Currency is an ISO-like currency code with a fixed minor-unit exponent.
type Currency string

// Supported currencies.
const (
	TND Currency = "TND"
	EUR Currency = "EUR"
	USD Currency = "USD"
	GBP Currency = "GBP"
	CAD Currency = "CAD"
)

// exponents maps each supported currency to its minor-unit exponent. The
// table is fixed and not user-configurable.
var exponents = map[Currency]int32{
	TND: 3,
	EUR: 2,
	USD: 2,
	GBP: 2,
	CAD: 2,
}

// Exponent returns the minor-unit exponent for the currency.
func (c Currency) Exponent() (int32, error) {
	exp, ok := exponents[c]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, string(c))
	}
	return exp, nil
}

// Valid reports whether the currency is part of the supported table.
func (c Currency) Valid() bool {
	_, ok := exponents[c]
	return ok
}

// ToMinorUnits converts a decimal amount to an integer number of minor units,
// rounding half away from zero. Binary floating point artifacts on the input
// are absorbed by the rounding step. Negative amounts are legal: refunds and
// credit notes are ordinary flows.
func ToMinorUnits(amount float64, cur Currency) (int64, error) {
	exp, err := cur.Exponent()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, fmt.Errorf("%w: non-finite value", ErrInvalidAmount)
	}
	scaled := amount * math.Pow10(int(exp))
	if scaled >= math.MaxInt64 || scaled <= math.MinInt64 {
		return 0, fmt.Errorf("%w: overflows minor units", ErrInvalidAmount)
	}
	return int64(math.Round(scaled)), nil
}

// FromMinorUnits converts minor units back to a decimal amount.
func FromMinorUnits(v int64, cur Currency) (float64, error) {
	exp, err := cur.Exponent()
	if err != nil {
		return 0, err
	}
	return float64(v) / math.Pow10(int(exp)), nil
}

// ParseAmount converts a decimal string (e.g. "120.500") to minor units
// without passing through binary floats, rounding half away from zero when
// the input carries more precision than the currency.
func ParseAmount(s string, cur Currency) (int64, error) {
	exp, err := cur.Exponent()
	if err != nil {
		return 0, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	scaled := d.Shift(exp).Round(0)
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: overflows minor units", ErrInvalidAmount)
	}
	return scaled.IntPart(), nil
}

// FormatAmount renders minor units as a plain decimal string with the
// currency's full precision. Locale-aware formatting stays in the
// presentation layer; this is only the canonical wire form.
func FormatAmount(v int64, cur Currency) (string, error) {
	exp, err := cur.Exponent()
	if err != nil {
		return "", err
	}
	return decimal.New(v, -exp).StringFixed(exp), nil
}

// PercentBps applies a basis-point rate to an amount in minor units, rounding
// half away from zero. The computation is exact integer arithmetic: a single
// rounding step per call, bounded to half a minor unit. When amount*bps
// exceeds int64 the product is taken with arbitrary precision, so the result
// stays exact for any amount as long as the rate is at most 100%.
func PercentBps(amount int64, bps int64) int64 {
	if amount == 0 || bps == 0 {
		return 0
	}
	prod := amount * bps
	if (amount == math.MinInt64 && bps == -1) || (bps == math.MinInt64 && amount == -1) || prod/amount != bps {
		return percentBpsBig(amount, bps)
	}
	q := prod / 10000
	r := prod % 10000
	switch {
	case r >= 5000:
		q++
	case r <= -5000:
		q--
	}
	return q
}

func percentBpsBig(amount, bps int64) int64 {
	prod := new(big.Int).Mul(big.NewInt(amount), big.NewInt(bps))
	q, r := new(big.Int).QuoRem(prod, big.NewInt(10000), new(big.Int))
	switch {
	case r.Int64() >= 5000:
		q.Add(q, big.NewInt(1))
	case r.Int64() <= -5000:
		q.Sub(q, big.NewInt(1))
	}
	return q.Int64()
}

// RoundQty multiplies a fractional quantity by a unit price in minor units
// and rounds once, half away from zero.
func RoundQty(qty float64, unitPrice int64) int64 {
	return int64(math.Round(qty * float64(unitPrice)))
}
