package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"expensetracker/internal/core"
)

// Args are the keyword arguments of a tool call, as decoded from JSON.
// Numbers may arrive as float64, json.Number or numeric strings.
type Args map[string]any

// String returns the argument and whether it was supplied. A JSON null
// counts as not supplied. Numbers are rejected rather than formatted, so
// 20240107 never lands in a date column.
func (a Args) String(key string) (string, bool, error) {
	raw, ok := a[key]
	if !ok || raw == nil {
		return "", false, nil
	}
	switch v := raw.(type) {
	case string:
		return v, true, nil
	default:
		return "", true, core.NewValidationError(key, fmt.Sprintf("must be a string, got %T", raw))
	}
}

// RequiredString rejects a missing or blank argument.
func (a Args) RequiredString(key string) (string, error) {
	v, ok, err := a.String(key)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(v) == "" {
		return "", core.NewValidationError(key, "is required")
	}
	return v, nil
}

// OptionalString maps a missing argument to core.None.
func (a Args) OptionalString(key string) (core.Optional[string], error) {
	v, ok, err := a.String(key)
	if err != nil || !ok {
		return core.None[string](), err
	}
	return core.Some(v), nil
}

// Decimal parses a numeric argument without going through float parsing
// of strings, so "10.10" stays exact until the final conversion.
func (a Args) Decimal(key string) (decimal.Decimal, bool, error) {
	raw, ok := a[key]
	if !ok || raw == nil {
		return decimal.Zero, false, nil
	}

	var (
		d   decimal.Decimal
		err error
	)
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, true, core.NewValidationError(key, "must be a finite number")
		}
		d = decimal.NewFromFloat(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	case json.Number:
		d, err = decimal.NewFromString(v.String())
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(v))
	default:
		return decimal.Zero, true, core.NewValidationError(key, fmt.Sprintf("must be a number, got %T", raw))
	}
	if err != nil {
		return decimal.Zero, true, core.NewValidationError(key, "must be a number")
	}
	return d, true, nil
}

// RequiredAmount parses a mandatory numeric argument.
func (a Args) RequiredAmount(key string) (float64, error) {
	d, ok, err := a.Decimal(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, core.NewValidationError(key, "is required")
	}
	return finiteFloat(key, d)
}

func (a Args) OptionalAmount(key string) (core.Optional[float64], error) {
	d, ok, err := a.Decimal(key)
	if err != nil || !ok {
		return core.None[float64](), err
	}
	f, err := finiteFloat(key, d)
	if err != nil {
		return core.None[float64](), err
	}
	return core.Some(f), nil
}

// finiteFloat converts d, rejecting values such as 1e400 that overflow
// float64.
func finiteFloat(key string, d decimal.Decimal) (float64, error) {
	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, core.NewValidationError(key, "must be a finite number")
	}
	return f, nil
}

// ID parses a required integral identifier.
func (a Args) ID(key string) (int64, error) {
	d, ok, err := a.Decimal(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, core.NewValidationError(key, "is required")
	}
	if !d.IsInteger() {
		return 0, core.NewValidationError(key, "must be an integer")
	}
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || d.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, core.NewValidationError(key, "is out of range")
	}
	return d.IntPart(), nil
}
