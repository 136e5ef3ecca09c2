package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Expense is the row shape of the expenses table.
type Expense struct {
	ID          int64
	Date        string
	Amount      float64
	Category    string
	Subcategory string
	Note        string
}

const createExpense = `-- name: CreateExpense :one
INSERT INTO expenses (date, amount, category, subcategory, note)
VALUES (?, ?, ?, ?, ?)
RETURNING id
`

type CreateExpenseParams struct {
	Date        string
	Amount      float64
	Category    string
	Subcategory string
	Note        string
}

func (q *Queries) CreateExpense(ctx context.Context, arg CreateExpenseParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, createExpense,
		arg.Date,
		arg.Amount,
		arg.Category,
		arg.Subcategory,
		arg.Note,
	)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const getExpense = `-- name: GetExpense :one
SELECT id, date, amount, category, subcategory, note
FROM expenses
WHERE id = ?
`

func (q *Queries) GetExpense(ctx context.Context, id int64) (Expense, error) {
	row := q.db.QueryRowContext(ctx, getExpense, id)
	var i Expense
	err := row.Scan(
		&i.ID,
		&i.Date,
		&i.Amount,
		&i.Category,
		&i.Subcategory,
		&i.Note,
	)
	return i, err
}

const listExpensesByDate = `-- name: ListExpensesByDate :many
SELECT id, date, amount, category, subcategory, note
FROM expenses
WHERE date BETWEEN ? AND ?
ORDER BY id ASC
`

type ListExpensesByDateParams struct {
	StartDate string
	EndDate   string
}

func (q *Queries) ListExpensesByDate(ctx context.Context, arg ListExpensesByDateParams) ([]Expense, error) {
	rows, err := q.db.QueryContext(ctx, listExpensesByDate, arg.StartDate, arg.EndDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Expense{}
	for rows.Next() {
		var i Expense
		if err := rows.Scan(
			&i.ID,
			&i.Date,
			&i.Amount,
			&i.Category,
			&i.Subcategory,
			&i.Note,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const sumByCategory = `-- name: SumByCategory :many
SELECT category, SUM(amount) AS total_amount
FROM expenses
WHERE date BETWEEN ? AND ?
GROUP BY category
ORDER BY category ASC
`

const sumByCategoryFiltered = `-- name: SumByCategoryFiltered :many
SELECT category, SUM(amount) AS total_amount
FROM expenses
WHERE date BETWEEN ? AND ? AND category = ?
GROUP BY category
ORDER BY category ASC
`

type SumByCategoryParams struct {
	StartDate string
	EndDate   string
}

type SumByCategoryFilteredParams struct {
	StartDate string
	EndDate   string
	Category  string
}

type SumByCategoryRow struct {
	Category    string
	TotalAmount float64
}

func (q *Queries) SumByCategory(ctx context.Context, arg SumByCategoryParams) ([]SumByCategoryRow, error) {
	return q.sumRows(ctx, sumByCategory, arg.StartDate, arg.EndDate)
}

func (q *Queries) SumByCategoryFiltered(ctx context.Context, arg SumByCategoryFilteredParams) ([]SumByCategoryRow, error) {
	return q.sumRows(ctx, sumByCategoryFiltered, arg.StartDate, arg.EndDate, arg.Category)
}

func (q *Queries) sumRows(ctx context.Context, query string, args ...interface{}) ([]SumByCategoryRow, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []SumByCategoryRow{}
	for rows.Next() {
		var i SumByCategoryRow
		if err := rows.Scan(&i.Category, &i.TotalAmount); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteExpense = `-- name: DeleteExpense :execrows
DELETE FROM expenses WHERE id = ?
`

func (q *Queries) DeleteExpense(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteExpense, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// NULL parameters leave the column as stored; a valid empty string
// overwrites it.
const updateExpense = `-- name: UpdateExpense :execrows
UPDATE expenses SET
    date = COALESCE(?, date),
    amount = COALESCE(?, amount),
    category = COALESCE(?, category),
    subcategory = COALESCE(?, subcategory),
    note = COALESCE(?, note)
WHERE id = ?
`

type UpdateExpenseParams struct {
	Date        sql.NullString
	Amount      sql.NullFloat64
	Category    sql.NullString
	Subcategory sql.NullString
	Note        sql.NullString
	ID          int64
}

func (q *Queries) UpdateExpense(ctx context.Context, arg UpdateExpenseParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateExpense,
		arg.Date,
		arg.Amount,
		arg.Category,
		arg.Subcategory,
		arg.Note,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Subtraction happens inside the statement, so concurrent credits on the
// same row serialize on the write lock instead of racing on a read.
const creditExpense = `-- name: CreditExpense :one
UPDATE expenses SET amount = amount - ?
WHERE id = ?
RETURNING amount
`

type CreditExpenseParams struct {
	Amount float64
	ID     int64
}

func (q *Queries) CreditExpense(ctx context.Context, arg CreditExpenseParams) (float64, error) {
	row := q.db.QueryRowContext(ctx, creditExpense, arg.Amount, arg.ID)
	var amount float64
	err := row.Scan(&amount)
	return amount, err
}
