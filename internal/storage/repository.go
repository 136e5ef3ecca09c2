package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"expensetracker/internal/core"
	applog "expensetracker/internal/log"

	_ "modernc.org/sqlite"
)

// Options configures the SQLite connection pool.
type Options struct {
	Path         string
	MaxOpenConns int
	BusyTimeout  time.Duration
}

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

// DSN builds a modernc.org/sqlite data source name with WAL journaling and
// a busy timeout so concurrent writers wait instead of failing.
func DSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		path, busyTimeout.Milliseconds())
}

func NewSQLiteRepository(opts Options) (*SQLiteRepository, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 1
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(opts.Path, opts.BusyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping verifies the backing file is still reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Add inserts a record and returns the id assigned by the store.
func (r *SQLiteRepository) Add(ctx context.Context, e core.NewExpense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	id, err := r.queries.CreateExpense(ctx, CreateExpenseParams{
		Date:        e.Date,
		Amount:      e.Amount,
		Category:    e.Category,
		Subcategory: e.Subcategory,
		Note:        e.Note,
	})
	if err != nil {
		return 0, fmt.Errorf("create expense: %w", err)
	}

	logger(ctx).InfoContext(ctx, "Expense saved to SQLite",
		applog.FieldExpenseID, id,
		"date", e.Date,
		applog.FieldAmount, e.Amount,
		applog.FieldCategory, e.Category)

	return id, nil
}

// Get returns a single record or core.ErrNotFound.
func (r *SQLiteRepository) Get(ctx context.Context, id int64) (core.Expense, error) {
	row, err := r.queries.GetExpense(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, core.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense by id: %w", err)
	}
	return toCore(row), nil
}

// List returns records dated within the inclusive range, by ascending id.
func (r *SQLiteRepository) List(ctx context.Context, rng core.DateRange) ([]core.Expense, error) {
	rows, err := r.queries.ListExpensesByDate(ctx, ListExpensesByDateParams{
		StartDate: rng.Start,
		EndDate:   rng.End,
	})
	if err != nil {
		return nil, fmt.Errorf("list expenses by date: %w", err)
	}

	expenses := make([]core.Expense, len(rows))
	for i, row := range rows {
		expenses[i] = toCore(row)
	}
	return expenses, nil
}

// Summarize totals amounts per category over the inclusive range. An empty
// category means all categories.
func (r *SQLiteRepository) Summarize(ctx context.Context, rng core.DateRange, category string) ([]core.CategoryTotal, error) {
	var (
		rows []SumByCategoryRow
		err  error
	)
	if category != "" {
		rows, err = r.queries.SumByCategoryFiltered(ctx, SumByCategoryFilteredParams{
			StartDate: rng.Start,
			EndDate:   rng.End,
			Category:  category,
		})
	} else {
		rows, err = r.queries.SumByCategory(ctx, SumByCategoryParams{
			StartDate: rng.Start,
			EndDate:   rng.End,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("sum by category: %w", err)
	}

	totals := make([]core.CategoryTotal, len(rows))
	for i, row := range rows {
		totals[i] = core.CategoryTotal{
			Category:    row.Category,
			TotalAmount: row.TotalAmount,
		}
	}
	return totals, nil
}

// Delete removes a record. Missing ids are not an error; Affected is 0.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) (core.MutationResult, error) {
	affected, err := r.queries.DeleteExpense(ctx, id)
	if err != nil {
		return core.MutationResult{}, fmt.Errorf("delete expense: %w", err)
	}

	if affected == 0 {
		logger(ctx).WarnContext(ctx, "Delete matched no expense", applog.FieldExpenseID, id)
	} else {
		logger(ctx).InfoContext(ctx, "Expense deleted", applog.FieldExpenseID, id)
	}

	return core.MutationResult{ID: id, Affected: affected}, nil
}

// Edit applies the supplied fields only. An empty edit touches nothing.
func (r *SQLiteRepository) Edit(ctx context.Context, id int64, edit core.ExpenseEdit) (core.MutationResult, error) {
	if err := edit.Validate(); err != nil {
		return core.MutationResult{}, err
	}
	if edit.IsEmpty() {
		return core.MutationResult{ID: id}, nil
	}

	var result core.MutationResult
	err := r.withTx(ctx, func(q *Queries) error {
		affected, err := q.UpdateExpense(ctx, toUpdateParams(id, edit))
		if err != nil {
			return fmt.Errorf("update expense: %w", err)
		}
		result = core.MutationResult{ID: id, Affected: affected}

		if affected == 0 {
			logger(ctx).WarnContext(ctx, "Edit matched no expense", applog.FieldExpenseID, id)
			return nil
		}

		updated, err := q.GetExpense(ctx, id)
		if err != nil {
			return fmt.Errorf("reload expense: %w", err)
		}
		logger(ctx).InfoContext(ctx, "Expense updated",
			applog.FieldExpenseID, updated.ID,
			"date", updated.Date,
			applog.FieldAmount, updated.Amount,
			applog.FieldCategory, updated.Category)
		return nil
	})
	if err != nil {
		return core.MutationResult{}, err
	}

	return result, nil
}

// Credit subtracts amount from the stored amount in a single statement and
// returns the new value, or core.ErrNotFound.
func (r *SQLiteRepository) Credit(ctx context.Context, id int64, amount float64) (core.CreditResult, error) {
	if err := core.ValidateAmount("amount", amount); err != nil {
		return core.CreditResult{}, err
	}

	newAmount, err := r.queries.CreditExpense(ctx, CreditExpenseParams{
		Amount: amount,
		ID:     id,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return core.CreditResult{}, core.ErrNotFound
	}
	if err != nil {
		return core.CreditResult{}, fmt.Errorf("credit expense: %w", err)
	}

	logger(ctx).InfoContext(ctx, "Expense credited",
		applog.FieldExpenseID, id,
		applog.FieldAmount, amount,
		"new_amount", newAmount)

	return core.CreditResult{ID: id, NewAmount: newAmount}, nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(r.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func logger(ctx context.Context) *applog.Logger {
	return applog.FromContext(ctx).WithComponent(applog.ComponentStorage)
}

func toCore(row Expense) core.Expense {
	return core.Expense{
		ID:          row.ID,
		Date:        row.Date,
		Amount:      row.Amount,
		Category:    row.Category,
		Subcategory: row.Subcategory,
		Note:        row.Note,
	}
}

func toUpdateParams(id int64, edit core.ExpenseEdit) UpdateExpenseParams {
	params := UpdateExpenseParams{ID: id}
	if v, ok := edit.Date.Get(); ok {
		params.Date = sql.NullString{String: v, Valid: true}
	}
	if v, ok := edit.Amount.Get(); ok {
		params.Amount = sql.NullFloat64{Float64: v, Valid: true}
	}
	if v, ok := edit.Category.Get(); ok {
		params.Category = sql.NullString{String: v, Valid: true}
	}
	if v, ok := edit.Subcategory.Get(); ok {
		params.Subcategory = sql.NullString{String: v, Valid: true}
	}
	if v, ok := edit.Note.Get(); ok {
		params.Note = sql.NullString{String: v, Valid: true}
	}
	return params
}
