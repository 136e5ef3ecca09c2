package core

import (
	"errors"
	"math"
	"testing"
)

func TestNewExpenseValidate(t *testing.T) {
	good := NewExpense{Date: "2024-01-05", Amount: 42.5, Category: "Food"}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	// Amount has no sign constraint.
	negative := NewExpense{Date: "2024-01-05", Amount: -3, Category: "Food"}
	if err := negative.Validate(); err != nil {
		t.Fatalf("expected negative amount to be accepted, got %v", err)
	}

	bads := []struct {
		e     NewExpense
		field string
	}{
		{NewExpense{Date: "", Amount: 1, Category: "Food"}, "date"},
		{NewExpense{Date: "  ", Amount: 1, Category: "Food"}, "date"},
		{NewExpense{Date: "2024-01-05", Amount: 1, Category: ""}, "category"},
		{NewExpense{Date: "2024-01-05", Amount: math.Inf(1), Category: "Food"}, "amount"},
		{NewExpense{Date: "2024-01-05", Amount: math.NaN(), Category: "Food"}, "amount"},
	}
	for i, tc := range bads {
		err := tc.e.Validate()
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != tc.field {
			t.Fatalf("case %d expected field %q, got %v", i, tc.field, err)
		}
	}
}

func TestExpenseEdit(t *testing.T) {
	if !(ExpenseEdit{}).IsEmpty() {
		t.Fatalf("zero edit should be empty")
	}

	noteOnly := ExpenseEdit{Note: Some("")}
	if noteOnly.IsEmpty() {
		t.Fatalf("edit with empty note is not empty")
	}
	if err := noteOnly.Validate(); err != nil {
		t.Fatalf("clearing the note should be allowed, got %v", err)
	}

	for i, e := range []ExpenseEdit{
		{Date: Some("")},
		{Category: Some(" ")},
		{Amount: Some(math.Inf(-1))},
		{Amount: Some(math.NaN())},
	} {
		if err := e.Validate(); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
	}
}

func TestOptional(t *testing.T) {
	none := None[string]()
	if none.IsSet() {
		t.Fatalf("None should be unset")
	}
	if got := none.OrElse("x"); got != "x" {
		t.Fatalf("OrElse on unset = %q", got)
	}

	some := Some(0.0)
	v, ok := some.Get()
	if !ok || v != 0 {
		t.Fatalf("Some(0) = %v, %v", v, ok)
	}
}

func TestDateRange(t *testing.T) {
	r := DateRange{Start: "2024-01-01", End: "2024-01-31"}
	cases := []struct {
		date string
		in   bool
	}{
		{"2024-01-01", true},
		{"2024-01-15", true},
		{"2024-01-31", true},
		{"2023-12-31", false},
		{"2024-02-01", false},
	}
	for _, tc := range cases {
		if got := r.Contains(tc.date); got != tc.in {
			t.Fatalf("Contains(%q) = %v, want %v", tc.date, got, tc.in)
		}
	}

	swapped := DateRange{Start: "2024-02-01", End: "2024-01-01"}
	if !swapped.IsEmpty() || swapped.Contains("2024-01-15") {
		t.Fatalf("reversed range should match nothing")
	}
}

func TestIsISODate(t *testing.T) {
	for s, want := range map[string]bool{
		"2024-01-05": true,
		"2024-1-5":   false,
		"2024-13-01": false,
		"":           false,
		"05/01/2024": false,
	} {
		if got := IsISODate(s); got != want {
			t.Fatalf("IsISODate(%q) = %v, want %v", s, got, want)
		}
	}
}
