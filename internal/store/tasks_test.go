package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "postgres"), nil), mock
}

func TestCreateTask(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO task_jobs")).
		WithArgs([]byte(`["kw1","kw2"]`), []byte(`["deepseek"]`), 2, []byte(`{"headless":true}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO task_query")).
		WithArgs(int64(7), "kw1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO task_query")).
		WithArgs(int64(7), "kw2").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	taskID, err := s.CreateTask(context.Background(),
		[]string{"kw1", "kw2"}, []string{"deepseek"}, 2,
		map[string]any{"headless": true})
	require.NoError(t, err)
	assert.Equal(t, int64(7), taskID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTaskRollsBackOnQueryInsertError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO task_jobs")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO task_query")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := s.CreateTask(context.Background(),
		[]string{"kw1"}, []string{"deepseek"}, 1, nil)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM task_jobs")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetTask(context.Background(), 99)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestFinishTask(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE task_jobs")).
		WithArgs([]byte(`[{"platform":"deepseek","status":"completed"}]`), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.FinishTask(context.Background(), 7,
		[]map[string]string{{"platform": "deepseek", "status": "completed"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUndefinedTable(t *testing.T) {
	assert.True(t, IsUndefinedTable(&pq.Error{Code: "42P01"}))
	assert.False(t, IsUndefinedTable(&pq.Error{Code: "23505"}))
	assert.False(t, IsUndefinedTable(assert.AnError))
	assert.False(t, IsUndefinedTable(nil))
}

func TestRecordStatusCounts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY search_status")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"search_status", "count"}).
			AddRow("completed", 4).
			AddRow("failed", 2))

	counts, err := s.RecordStatusCounts(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"completed": 4, "failed": 2}, counts)
}
