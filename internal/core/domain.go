package core

import (
	"math"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

type (
	// Expense is a stored ledger record.
	Expense struct {
		ID          int64   `json:"id"`
		Date        string  `json:"date"` // YYYY-MM-DD
		Amount      float64 `json:"amount"`
		Category    string  `json:"category"`
		Subcategory string  `json:"subcategory"`
		Note        string  `json:"note"`
	}

	// NewExpense carries the caller supplied values for a record that
	// does not exist yet. The store assigns the ID.
	NewExpense struct {
		Date        string
		Amount      float64
		Category    string
		Subcategory string
		Note        string
	}

	// ExpenseEdit holds the fields to change on an existing record.
	// Unset fields keep their stored value.
	ExpenseEdit struct {
		Date        Optional[string]
		Amount      Optional[float64]
		Category    Optional[string]
		Subcategory Optional[string]
		Note        Optional[string]
	}

	// DateRange is an inclusive [Start, End] filter over ISO-8601 dates.
	DateRange struct {
		Start string
		End   string
	}

	// CategoryTotal is one row of a category summary.
	CategoryTotal struct {
		Category    string  `json:"category"`
		TotalAmount float64 `json:"total_amount"`
	}

	// MutationResult reports how many rows a delete or edit touched.
	MutationResult struct {
		ID       int64
		Affected int64
	}

	// CreditResult is the outcome of a successful credit.
	CreditResult struct {
		ID        int64
		NewAmount float64
	}
)

func (e NewExpense) Validate() error {
	if strings.TrimSpace(e.Date) == "" {
		return NewValidationError("date", "is required")
	}
	if strings.TrimSpace(e.Category) == "" {
		return NewValidationError("category", "is required")
	}
	return ValidateAmount("amount", e.Amount)
}

// IsEmpty reports whether no field was supplied.
func (e ExpenseEdit) IsEmpty() bool {
	return !e.Date.IsSet() &&
		!e.Amount.IsSet() &&
		!e.Category.IsSet() &&
		!e.Subcategory.IsSet() &&
		!e.Note.IsSet()
}

// Validate rejects edits that would blank a required field.
// Subcategory and note may be set to the empty string.
func (e ExpenseEdit) Validate() error {
	if v, ok := e.Date.Get(); ok && strings.TrimSpace(v) == "" {
		return NewValidationError("date", "cannot be empty")
	}
	if v, ok := e.Category.Get(); ok && strings.TrimSpace(v) == "" {
		return NewValidationError("category", "cannot be empty")
	}
	if v, ok := e.Amount.Get(); ok {
		return ValidateAmount("amount", v)
	}
	return nil
}

// ValidateAmount rejects NaN and infinities, which SQLite stores but JSON
// cannot encode.
func ValidateAmount(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NewValidationError(field, "must be a finite number")
	}
	return nil
}

// Contains uses plain string comparison, which matches calendar order
// for zero padded dates. A range with Start > End contains nothing.
func (r DateRange) Contains(date string) bool {
	return r.Start <= date && date <= r.End
}

// IsEmpty reports whether the range cannot match any date.
func (r DateRange) IsEmpty() bool {
	return r.Start > r.End
}

// IsISODate reports whether s is a well formed YYYY-MM-DD date.
func IsISODate(s string) bool {
	if len(s) != len(dateLayout) {
		return false
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}
