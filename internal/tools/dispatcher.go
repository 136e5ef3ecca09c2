// Package tools maps named tool calls onto ledger operations.
//
// A host process supplies a tool name and keyword arguments; the dispatcher
// coerces the arguments, runs exactly one ledger operation and returns a
// JSON-ready payload. Validation failures and missing records come back as
// an ErrorPayload value. Storage and timeout failures come back as errors
// so the transport can surface them as faults.
package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"expensetracker/internal/core"
	applog "expensetracker/internal/log"
)

const (
	StatusOK       = "ok"
	StatusDeleted  = "deleted"
	StatusUpdated  = "updated"
	StatusCredited = "credited"
	StatusError    = "error"
)

const CategoriesURI = "expense://categories"

var (
	ErrUnknownTool     = errors.New("unknown tool")
	ErrUnknownResource = errors.New("unknown resource")
)

// Ledger is the set of operations the dispatcher exposes.
type Ledger interface {
	AddExpense(ctx context.Context, e core.NewExpense) (int64, error)
	ListExpenses(ctx context.Context, rng core.DateRange) ([]core.Expense, error)
	Summarize(ctx context.Context, rng core.DateRange, category string) ([]core.CategoryTotal, error)
	DeleteExpense(ctx context.Context, id int64) (core.MutationResult, error)
	EditExpense(ctx context.Context, id int64, edit core.ExpenseEdit) (core.MutationResult, error)
	CreditExpense(ctx context.Context, id int64, amount float64) (core.CreditResult, error)
}

type (
	AddResult struct {
		Status string `json:"status"`
		ID     int64  `json:"id"`
	}

	// MutationResult is returned by delete and edit. Affected is 0 when the
	// id did not exist; the call still succeeds.
	MutationResult struct {
		Status   string `json:"status"`
		ID       int64  `json:"id"`
		Affected int64  `json:"affected"`
	}

	CreditResult struct {
		Status    string  `json:"status"`
		ID        int64   `json:"id"`
		NewAmount float64 `json:"new_amount"`
	}

	ErrorPayload struct {
		Status  string `json:"status"`
		Error   string `json:"error"`
		Message string `json:"message"`
		Field   string `json:"field,omitempty"`
	}

	// Tool describes one callable operation.
	Tool struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Required    []string `json:"required"`
		Optional    []string `json:"optional,omitempty"`
	}

	handler func(ctx context.Context, args Args) (any, error)
)

type Dispatcher struct {
	ledger         Ledger
	categoriesPath string
	tools          map[string]Tool
	handlers       map[string]handler
}

func NewDispatcher(ledger Ledger, categoriesPath string) *Dispatcher {
	d := &Dispatcher{
		ledger:         ledger,
		categoriesPath: categoriesPath,
		tools:          make(map[string]Tool),
		handlers:       make(map[string]handler),
	}

	d.register(Tool{
		Name:        "add_expense",
		Description: "Add a new expense entry to the database.",
		Required:    []string{"date", "amount", "category"},
		Optional:    []string{"subcategory", "note"},
	}, d.addExpense)
	d.register(Tool{
		Name:        "list_expenses",
		Description: "List expense entries within an inclusive date range.",
		Required:    []string{"start_date", "end_date"},
	}, d.listExpenses)
	d.register(Tool{
		Name:        "summarize",
		Description: "Summarize expenses by category within an inclusive date range.",
		Required:    []string{"start_date", "end_date"},
		Optional:    []string{"category"},
	}, d.summarize)
	d.register(Tool{
		Name:        "delete_expense",
		Description: "Delete an expense entry by its ID.",
		Required:    []string{"expense_id"},
	}, d.deleteExpense)
	d.register(Tool{
		Name:        "edit_expense",
		Description: "Edit an existing expense entry. Only provided fields will be updated.",
		Required:    []string{"expense_id"},
		Optional:    []string{"date", "amount", "category", "subcategory", "note"},
	}, d.editExpense)
	d.register(Tool{
		Name:        "credit_expense",
		Description: "Credit (reduce) an expense entry by its ID.",
		Required:    []string{"expense_id", "amount"},
	}, d.creditExpense)

	return d
}

func (d *Dispatcher) register(t Tool, h handler) {
	d.tools[t.Name] = t
	d.handlers[t.Name] = h
}

// Tools lists the registered tools sorted by name.
func (d *Dispatcher) Tools() []Tool {
	out := make([]Tool, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs the named tool. The returned error is non-nil only for unknown
// tools and for storage or timeout failures.
func (d *Dispatcher) Call(ctx context.Context, name string, args Args) (any, error) {
	h, ok := d.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = Args{}
	}

	logger := applog.FromContext(ctx).WithComponent(applog.ComponentTools)
	start := time.Now()

	result, err := h(ctx, args)

	var ve *core.ValidationError
	switch {
	case errors.As(err, &ve):
		logger.WarnContext(ctx, "Tool call rejected",
			applog.NewFields().WithTool(name).WithError(err, applog.ErrorTypeValidation).ToSlice()...)
		return ErrorPayload{
			Status:  StatusError,
			Error:   applog.ErrorTypeValidation,
			Message: ve.Error(),
			Field:   ve.Field,
		}, nil
	case errors.Is(err, core.ErrNotFound):
		logger.InfoContext(ctx, "Tool call found no expense", applog.FieldTool, name)
		return ErrorPayload{
			Status:  StatusError,
			Error:   applog.ErrorTypeNotFound,
			Message: "Expense not found",
		}, nil
	case err != nil:
		logger.ErrorContext(ctx, "Tool call failed",
			applog.NewFields().WithTool(name).WithError(err, ErrorType(err)).ToSlice()...)
		return nil, err
	}

	logger.DebugContext(ctx, "Tool call completed",
		applog.FieldTool, name,
		applog.FieldDuration, time.Since(start).Milliseconds())
	return result, nil
}

// ErrorType names the failure class of an error returned by Call.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, ErrUnknownTool):
		return applog.ErrorTypeUnknownTool
	case errors.Is(err, core.ErrTimeout):
		return applog.ErrorTypeTimeout
	case errors.Is(err, core.ErrStorageUnavailable):
		return applog.ErrorTypeStorage
	default:
		return applog.ErrorTypeInternal
	}
}

// Fault wraps an error returned by Call in the error payload shape so
// transports without status codes can still report it.
func Fault(err error) ErrorPayload {
	return ErrorPayload{
		Status:  StatusError,
		Error:   ErrorType(err),
		Message: err.Error(),
	}
}

// ReadResource returns the taxonomy document verbatim. The file is read on
// every call so edits take effect without a restart.
func (d *Dispatcher) ReadResource(_ context.Context, uri string) ([]byte, string, error) {
	if uri != CategoriesURI {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownResource, uri)
	}
	data, err := os.ReadFile(d.categoriesPath)
	if err != nil {
		return nil, "", fmt.Errorf("read categories: %w", err)
	}
	return data, "application/json", nil
}

func (d *Dispatcher) addExpense(ctx context.Context, args Args) (any, error) {
	date, err := args.RequiredString("date")
	if err != nil {
		return nil, err
	}
	if err := checkDate("date", date); err != nil {
		return nil, err
	}
	amount, err := args.RequiredAmount("amount")
	if err != nil {
		return nil, err
	}
	category, err := args.RequiredString("category")
	if err != nil {
		return nil, err
	}
	subcategory, err := args.OptionalString("subcategory")
	if err != nil {
		return nil, err
	}
	note, err := args.OptionalString("note")
	if err != nil {
		return nil, err
	}

	id, err := d.ledger.AddExpense(ctx, core.NewExpense{
		Date:        date,
		Amount:      amount,
		Category:    category,
		Subcategory: subcategory.OrElse(""),
		Note:        note.OrElse(""),
	})
	if err != nil {
		return nil, err
	}
	return AddResult{Status: StatusOK, ID: id}, nil
}

func (d *Dispatcher) listExpenses(ctx context.Context, args Args) (any, error) {
	rng, err := dateRange(args)
	if err != nil {
		return nil, err
	}
	return d.ledger.ListExpenses(ctx, rng)
}

func (d *Dispatcher) summarize(ctx context.Context, args Args) (any, error) {
	rng, err := dateRange(args)
	if err != nil {
		return nil, err
	}
	category, err := args.OptionalString("category")
	if err != nil {
		return nil, err
	}
	// An empty category means no filter.
	return d.ledger.Summarize(ctx, rng, category.OrElse(""))
}

func (d *Dispatcher) deleteExpense(ctx context.Context, args Args) (any, error) {
	id, err := args.ID("expense_id")
	if err != nil {
		return nil, err
	}
	res, err := d.ledger.DeleteExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	return MutationResult{Status: StatusDeleted, ID: res.ID, Affected: res.Affected}, nil
}

func (d *Dispatcher) editExpense(ctx context.Context, args Args) (any, error) {
	id, err := args.ID("expense_id")
	if err != nil {
		return nil, err
	}

	var edit core.ExpenseEdit
	if edit.Date, err = args.OptionalString("date"); err != nil {
		return nil, err
	}
	if date, ok := edit.Date.Get(); ok {
		if err := checkDate("date", date); err != nil {
			return nil, err
		}
	}
	if edit.Amount, err = args.OptionalAmount("amount"); err != nil {
		return nil, err
	}
	if edit.Category, err = args.OptionalString("category"); err != nil {
		return nil, err
	}
	if edit.Subcategory, err = args.OptionalString("subcategory"); err != nil {
		return nil, err
	}
	if edit.Note, err = args.OptionalString("note"); err != nil {
		return nil, err
	}

	res, err := d.ledger.EditExpense(ctx, id, edit)
	if err != nil {
		return nil, err
	}
	return MutationResult{Status: StatusUpdated, ID: res.ID, Affected: res.Affected}, nil
}

func (d *Dispatcher) creditExpense(ctx context.Context, args Args) (any, error) {
	id, err := args.ID("expense_id")
	if err != nil {
		return nil, err
	}
	amount, err := args.RequiredAmount("amount")
	if err != nil {
		return nil, err
	}

	res, err := d.ledger.CreditExpense(ctx, id, amount)
	if err != nil {
		return nil, err
	}
	return CreditResult{Status: StatusCredited, ID: res.ID, NewAmount: res.NewAmount}, nil
}

// checkDate rejects stored dates that would break lexicographic range
// queries. Range bounds are compared as given.
func checkDate(key, value string) error {
	if !core.IsISODate(value) {
		return core.NewValidationError(key, "must be a YYYY-MM-DD date")
	}
	return nil
}

func dateRange(args Args) (core.DateRange, error) {
	start, err := args.RequiredString("start_date")
	if err != nil {
		return core.DateRange{}, err
	}
	end, err := args.RequiredString("end_date")
	if err != nil {
		return core.DateRange{}, err
	}
	return core.DateRange{Start: start, End: end}, nil
}
