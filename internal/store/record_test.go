package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/achievehub/apiserver/internal/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecordRepo(t *testing.T) (*RecordRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "failed to create sqlmock")
	return NewRecordRepository(db), mock, db
}

func patentRow(title, applicationNo, extra string) []driverValue {
	return []driverValue{title, "", applicationNo, "", "", "", "", "", extra}
}

type driverValue = driver.Value

func patentColumns() []string {
	cols := append([]string{}, records.Patents.Columns...)
	return append(cols, "extra")
}

func TestListByUser_ScopedAndOrdered(t *testing.T) {
	repo, mock, db := newTestRecordRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows(patentColumns()).
		AddRow(patentRow("first", "A1", `{"x":"1"}`)...).
		AddRow(patentRow("second", "A2", "{}")...)

	mock.ExpectQuery("SELECT (.+) FROM patents WHERE user_id = (.+) ORDER BY id").
		WithArgs(7).
		WillReturnRows(rows)

	out, err := repo.ListByUser(context.Background(), records.Patents, 7)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Known["title"])
	assert.Equal(t, "A1", out[0].Known["application_no"])
	assert.Equal(t, `{"x":"1"}`, out[0].Extra)
	assert.Equal(t, "second", out[1].Known["title"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByUser_Empty(t *testing.T) {
	repo, mock, db := newTestRecordRepo(t)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM papers WHERE user_id").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, records.Papers.Columns...), "extra")))

	out, err := repo.ListByUser(context.Background(), records.Papers, 7)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func storedPatent(title string) StoredRecord {
	known := make(map[string]string, len(records.Patents.Columns))
	for _, col := range records.Patents.Columns {
		known[col] = ""
	}
	known["title"] = title
	return StoredRecord{Known: known, Extra: "{}"}
}

// expectUserLock expects the owner-row lock that opens every replace
// transaction.
func expectUserLock(mock sqlmock.Sqlmock, userID int) {
	mock.ExpectExec("UPDATE users SET id = id WHERE id").
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestReplaceAll_DeleteThenInsertInOneTransaction(t *testing.T) {
	repo, mock, db := newTestRecordRepo(t)
	defer db.Close()

	insertArgs := make([]driverValue, 0, len(records.Patents.Columns)+3)
	insertArgs = append(insertArgs, 7)
	for range records.Patents.Columns {
		insertArgs = append(insertArgs, sqlmock.AnyArg())
	}
	insertArgs = append(insertArgs, "{}", sqlmock.AnyArg())

	mock.ExpectBegin()
	expectUserLock(mock, 7)
	mock.ExpectExec("DELETE FROM patents WHERE user_id").
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO patents").
		WithArgs(insertArgs...).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO patents").
		WithArgs(insertArgs...).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := repo.ReplaceAll(context.Background(), records.Patents, 7, []StoredRecord{
		storedPatent("one"),
		storedPatent("two"),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceAll_EmptyListClearsCollection(t *testing.T) {
	repo, mock, db := newTestRecordRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	expectUserLock(mock, 7)
	mock.ExpectExec("DELETE FROM copyrights WHERE user_id").
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := repo.ReplaceAll(context.Background(), records.Copyrights, 7, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceAll_InsertFailureRollsBack(t *testing.T) {
	repo, mock, db := newTestRecordRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	expectUserLock(mock, 7)
	mock.ExpectExec("DELETE FROM patents WHERE user_id").
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO patents").
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	err := repo.ReplaceAll(context.Background(), records.Patents, 7, []StoredRecord{storedPatent("one")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert row")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceAll_LocksOwnerRowBeforeDelete(t *testing.T) {
	repo, mock, db := newTestRecordRepo(t)
	defer db.Close()

	// Expectations are ordered: the user-row lock must precede the delete
	// so racing replaces for the same user serialize to last-writer-wins.
	mock.ExpectBegin()
	expectUserLock(mock, 7)
	mock.ExpectExec("DELETE FROM patents WHERE user_id").
		WithArgs(7).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.ReplaceAll(context.Background(), records.Patents, 7, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceAll_LockFailureRollsBack(t *testing.T) {
	repo, mock, db := newTestRecordRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET id = id WHERE id").
		WithArgs(7).
		WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	err := repo.ReplaceAll(context.Background(), records.Patents, 7, []StoredRecord{storedPatent("one")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock user row")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceAll_BeginFailure(t *testing.T) {
	repo, mock, db := newTestRecordRepo(t)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection lost"))

	err := repo.ReplaceAll(context.Background(), records.Patents, 7, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin replace")
}
