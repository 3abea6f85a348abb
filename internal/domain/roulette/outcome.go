package roulette

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"SpinCast/internal/domain/models"
)

// Colors, parities and ranges as stored in counter keys.
const (
	ColorRed   = "red"
	ColorBlack = "black"
	ColorGreen = "green"

	ParityZero = "zero"
	ParityEven = "even"
	ParityOdd  = "odd"

	RangeZero = "zero"
	RangeLow  = "low"
	RangeHigh = "high"
)

// Validate fails with ErrInvalidOutcome unless 0 <= n <= 36.
func Validate(n int) error {
	if n < 0 || n >= NumOutcomes {
		return fmt.Errorf("%w: %d out of range", models.ErrInvalidOutcome, n)
	}
	return nil
}

// Parse accepts an integer literal in any of the shapes producers send:
// Go integers, integral floats, json.Number and decimal strings.
func Parse(v any) (int, error) {
	var n int
	switch x := v.(type) {
	case int:
		n = x
	case int32:
		n = int(x)
	case int64:
		n = int(x)
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return 0, fmt.Errorf("%w: %v is not an integer", models.ErrInvalidOutcome, x)
		}
		n = int(x)
	case json.Number:
		i, err := strconv.Atoi(x.String())
		if err != nil {
			return 0, fmt.Errorf("%w: %q", models.ErrInvalidOutcome, x.String())
		}
		n = i
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("%w: %q", models.ErrInvalidOutcome, x)
		}
		n = i
	case []byte:
		return Parse(string(x))
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", models.ErrInvalidOutcome, v)
	}
	if err := Validate(n); err != nil {
		return 0, err
	}
	return n, nil
}

// Enrich derives the fixed attributes of a validated outcome.
func Enrich(n int) models.Attributes {
	return models.Attributes{
		Number:      n,
		Color:       Color(n),
		Dozen:       Dozen(n),
		Column:      Column(n),
		Parity:      Parity(n),
		Range:       Range(n),
		Sector:      WheelSector(n),
		MacroSector: macroOf[n],
	}
}

func Color(n int) string {
	switch {
	case n == 0:
		return ColorGreen
	case redSet[n]:
		return ColorRed
	default:
		return ColorBlack
	}
}

func Dozen(n int) int {
	if n == 0 {
		return 0
	}
	return (n-1)/12 + 1
}

func Column(n int) int {
	if n == 0 {
		return 0
	}
	return (n-1)%3 + 1
}

func Parity(n int) string {
	switch {
	case n == 0:
		return ParityZero
	case n%2 == 0:
		return ParityEven
	default:
		return ParityOdd
	}
}

func Range(n int) string {
	switch {
	case n == 0:
		return RangeZero
	case n <= 18:
		return RangeLow
	default:
		return RangeHigh
	}
}

// WheelSector buckets the wheel into eight arcs of five pockets (the last holds two).
func WheelSector(n int) int {
	return wheelIndex[n] / 5
}

// MacroSector returns voisins_zero, tiers or orphelins.
func MacroSector(n int) string {
	return macroOf[n]
}
