package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"expensetracker/internal/cache"
	"expensetracker/internal/core"
	applog "expensetracker/internal/log"
)

// Repository is the persistent ledger the service drives.
type Repository interface {
	Add(ctx context.Context, e core.NewExpense) (int64, error)
	List(ctx context.Context, rng core.DateRange) ([]core.Expense, error)
	Summarize(ctx context.Context, rng core.DateRange, category string) ([]core.CategoryTotal, error)
	Delete(ctx context.Context, id int64) (core.MutationResult, error)
	Edit(ctx context.Context, id int64, edit core.ExpenseEdit) (core.MutationResult, error)
	Credit(ctx context.Context, id int64, amount float64) (core.CreditResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// EventPublisher is notified after every successful mutation.
type EventPublisher interface {
	PublishExpenseChanged(ctx context.Context, id int64, operation string) error
	Close() error
}

// Options tune an ExpenseService. Zero values disable the feature.
type Options struct {
	Timeout      time.Duration
	SummaryCache cache.Cache[[]core.CategoryTotal]
	Publisher    EventPublisher
}

// ExpenseService bounds every ledger operation in time, classifies storage
// failures, caches summaries and emits change notifications.
type ExpenseService struct {
	repo       Repository
	timeout    time.Duration
	summaries  cache.Cache[[]core.CategoryTotal]
	publisher  EventPublisher
	generation atomic.Uint64
}

func NewExpenseService(repo Repository, opts Options) *ExpenseService {
	return &ExpenseService{
		repo:      repo,
		timeout:   opts.Timeout,
		summaries: opts.SummaryCache,
		publisher: opts.Publisher,
	}
}

func (s *ExpenseService) AddExpense(ctx context.Context, e core.NewExpense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id, err := s.repo.Add(ctx, e)
	if err != nil {
		return 0, s.fail(ctx, applog.OpAdd, err)
	}

	s.afterWrite(ctx, id, applog.OpAdd)
	return id, nil
}

func (s *ExpenseService) ListExpenses(ctx context.Context, rng core.DateRange) ([]core.Expense, error) {
	if rng.IsEmpty() {
		return []core.Expense{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	expenses, err := s.repo.List(ctx, rng)
	if err != nil {
		return nil, s.fail(ctx, applog.OpList, err)
	}

	fields := applog.NewFields().WithOperation(applog.OpList).WithDateRange(rng.Start, rng.End)
	logger(ctx).DebugContext(ctx, "Expenses listed", append(fields.ToSlice(), "count", len(expenses))...)
	return expenses, nil
}

// Summarize totals per category. An empty category summarizes all of them.
func (s *ExpenseService) Summarize(ctx context.Context, rng core.DateRange, category string) ([]core.CategoryTotal, error) {
	if rng.IsEmpty() {
		return []core.CategoryTotal{}, nil
	}

	// Keys embed the generation, so entries computed before a write are
	// never served after it.
	key := fmt.Sprintf("%d|%s|%s|%s", s.generation.Load(), rng.Start, rng.End, category)
	if s.summaries != nil {
		if totals, ok := s.summaries.Get(key); ok {
			logger(ctx).DebugContext(ctx, "Summary served from cache",
				applog.NewFields().WithOperation(applog.OpSummarize).WithDateRange(rng.Start, rng.End).ToSlice()...)
			return cloneTotals(totals), nil
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	totals, err := s.repo.Summarize(ctx, rng, category)
	if err != nil {
		return nil, s.fail(ctx, applog.OpSummarize, err)
	}

	if s.summaries != nil {
		s.summaries.Set(key, cloneTotals(totals))
	}
	return totals, nil
}

// DeleteExpense is idempotent; Affected tells the caller whether a row existed.
func (s *ExpenseService) DeleteExpense(ctx context.Context, id int64) (core.MutationResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.repo.Delete(ctx, id)
	if err != nil {
		return core.MutationResult{}, s.fail(ctx, applog.OpDelete, err)
	}

	if res.Affected > 0 {
		s.afterWrite(ctx, id, applog.OpDelete)
	}
	return res, nil
}

func (s *ExpenseService) EditExpense(ctx context.Context, id int64, edit core.ExpenseEdit) (core.MutationResult, error) {
	if err := edit.Validate(); err != nil {
		return core.MutationResult{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.repo.Edit(ctx, id, edit)
	if err != nil {
		return core.MutationResult{}, s.fail(ctx, applog.OpEdit, err)
	}

	if res.Affected > 0 {
		s.afterWrite(ctx, id, applog.OpEdit)
	}
	return res, nil
}

// CreditExpense returns core.ErrNotFound when the id does not exist.
func (s *ExpenseService) CreditExpense(ctx context.Context, id int64, amount float64) (core.CreditResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.repo.Credit(ctx, id, amount)
	if err != nil {
		return core.CreditResult{}, s.fail(ctx, applog.OpCredit, err)
	}

	s.afterWrite(ctx, id, applog.OpCredit)
	return res, nil
}

// Ready reports whether the backing store answers.
func (s *ExpenseService) Ready(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.repo.Ping(ctx); err != nil {
		return classify(ctx, err)
	}
	return nil
}

// Close releases the publisher and the repository.
func (s *ExpenseService) Close() error {
	var errs []error

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}

	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("repository: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close expense service: %w", errors.Join(errs...))
	}
	return nil
}

func (s *ExpenseService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *ExpenseService) afterWrite(ctx context.Context, id int64, operation string) {
	s.generation.Add(1)

	fields := applog.NewFields().WithOperation(operation).WithExpenseID(id)
	logger(ctx).DebugContext(ctx, "Ledger changed", fields.ToSlice()...)

	if s.publisher == nil {
		return
	}
	// Publishing must not fail a write that already committed.
	if err := s.publisher.PublishExpenseChanged(context.WithoutCancel(ctx), id, operation); err != nil {
		logger(ctx).ErrorContext(ctx, "Failed to publish expense change",
			fields.WithError(err, applog.ErrorTypeInternal).ToSlice()...)
	}
}

// fail classifies err and logs the failures callers cannot fix themselves.
func (s *ExpenseService) fail(ctx context.Context, operation string, err error) error {
	err = classify(ctx, err)

	var errorType string
	switch {
	case errors.Is(err, core.ErrTimeout):
		errorType = applog.ErrorTypeTimeout
	case errors.Is(err, core.ErrStorageUnavailable):
		errorType = applog.ErrorTypeStorage
	default:
		return err
	}
	logger(ctx).ErrorContext(ctx, "Ledger operation failed",
		applog.NewFields().WithOperation(operation).WithError(err, errorType).ToSlice()...)
	return err
}

func logger(ctx context.Context) *applog.Logger {
	return applog.FromContext(ctx).WithComponent(applog.ComponentService)
}

// classify maps repository errors onto the ledger error kinds. Validation
// and not-found pass through unchanged.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrNotFound):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", core.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
}

func cloneTotals(in []core.CategoryTotal) []core.CategoryTotal {
	out := make([]core.CategoryTotal, len(in))
	copy(out, in)
	return out
}
