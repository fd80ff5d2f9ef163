// Package token provides shared BZZ parsing and formatting utilities.
//
// BZZ uses 16 decimal places. All amounts are stored as big.Int in
// the smallest unit (PLUR; 1 BZZ = 10^16 PLUR).
package token

import (
	"math/big"
	"strings"
)

const Decimals = 16

var plurPerBZZ = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Parse converts a decimal string (e.g. "1.5") to its smallest-unit
// big.Int representation. Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional parts are padded/truncated to 16 decimal places
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	for len(frac) < Decimals {
		frac += "0"
	}
	frac = frac[:Decimals]

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a smallest-unit big.Int to a human-readable decimal
// string with exactly 16 decimal places.
func Format(amount *big.Int) string {
	if amount == nil {
		return "0." + strings.Repeat("0", Decimals)
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// ToBZZ converts a smallest-unit amount to whole BZZ as a float64.
// Only for display and threshold checks; never for accounting.
func ToBZZ(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(amount, plurPerBZZ).Float64()
	return f
}

// FromBZZ converts whole BZZ to the smallest unit.
func FromBZZ(bzz int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(bzz), plurPerBZZ)
}
