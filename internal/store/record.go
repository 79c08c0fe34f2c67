package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/achievehub/apiserver/internal/records"
)

// StoredRecord is one collection row in its storage shape: schema column
// values plus the raw extra bundle.
type StoredRecord struct {
	Known map[string]string
	Extra string
}

// RecordRepository handles persistence for all record collections. The SQL
// is built from each collection's fixed column list so the three variants
// share one code path.
type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// ListByUser returns the user's rows for one collection in insertion order.
func (r *RecordRepository) ListByUser(ctx context.Context, c records.Collection, userID int) ([]StoredRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s, extra FROM %s WHERE user_id = $1 ORDER BY id`,
		strings.Join(c.Columns, ", "), c.Table,
	)
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]StoredRecord, 0)
	for rows.Next() {
		values := make([]string, len(c.Columns))
		dest := make([]any, 0, len(c.Columns)+1)
		for i := range values {
			dest = append(dest, &values[i])
		}
		var extra string
		dest = append(dest, &extra)

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		known := make(map[string]string, len(c.Columns))
		for i, col := range c.Columns {
			known[col] = values[i]
		}
		out = append(out, StoredRecord{Known: known, Extra: extra})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplaceAll deletes every row the user owns in the collection and inserts
// the submitted rows in order. Both steps run in one transaction so a
// concurrent reader never observes the emptied intermediate state. The
// owner's user row is locked first so racing replaces for the same user
// serialize to last-writer-wins: at read committed the later delete would
// otherwise miss the earlier transaction's inserts and leave a mix of both
// payloads. The self-assignment form takes the row lock on every supported
// driver; sqlite has no FOR UPDATE.
func (r *RecordRepository) ReplaceAll(ctx context.Context, c records.Collection, userID int, rows []StoredRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `UPDATE users SET id = id WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("lock user row: %w", err)
	}

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, c.Table)
	if _, err := tx.ExecContext(ctx, deleteQuery, userID); err != nil {
		return fmt.Errorf("delete existing rows: %w", err)
	}

	insertQuery := insertSQL(c)
	now := time.Now()
	for _, row := range rows {
		args := make([]any, 0, len(c.Columns)+3)
		args = append(args, userID)
		for _, col := range c.Columns {
			args = append(args, row.Known[col])
		}
		extra := row.Extra
		if extra == "" {
			extra = "{}"
		}
		args = append(args, extra, now)

		if _, err := tx.ExecContext(ctx, insertQuery, args...); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

func insertSQL(c records.Collection) string {
	cols := make([]string, 0, len(c.Columns)+3)
	cols = append(cols, "user_id")
	cols = append(cols, c.Columns...)
	cols = append(cols, "extra", "updated_at")

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	return fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s)`,
		c.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)
}
