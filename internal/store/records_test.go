package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geowatch/internal/provider"
)

func TestSaveUnitCompleted(t *testing.T) {
	s, mock := newMockStore(t)

	unit := Unit{
		TaskID:         7,
		TaskQueryID:    11,
		Keyword:        "glp-1",
		Platform:       "deepseek",
		Prompt:         "glp-1",
		PromptType:     "api_task",
		ResponseTimeMS: 1500,
		Result: &provider.Result{
			AnswerText: "answer",
			SubQueries: []string{"q1", "q2"},
			Citations: []provider.Citation{
				{URL: "https://a.zhihu.com/1", Title: "A", CiteIndex: 1, QueryIndexes: []int{1}},
				{URL: "https://b.qq.com/2", Title: "B", CiteIndex: 2},
			},
		},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO search_records")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO search_queries")).
		WithArgs(int64(42), "q1", 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO search_queries")).
		WithArgs(int64(42), "q2", 2).
		WillReturnResult(sqlmock.NewResult(2, 1))

	// first citation: genuine insert, stats bump, log row bound to q2
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO citations")).
		WithArgs(int64(42), 1, "https://a.zhihu.com/1", "zhihu.com", "A", "", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO domain_stats")).
		WithArgs("zhihu.com", `{"deepseek": 1}`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO executor_sub_query_log")).
		WithArgs(int64(7), int64(11), int64(42), "deepseek", "q2",
			"https://a.zhihu.com/1", "zhihu.com", "A", "", "", 1).
		WillReturnResult(sqlmock.NewResult(1, 1))

	// second citation: conflict, nothing else happens for it
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO citations")).
		WithArgs(int64(42), 2, "https://b.qq.com/2", "qq.com", "B", "", "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	recordID, inserted, err := s.SaveUnit(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, int64(42), recordID)
	assert.Equal(t, 1, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveUnitFailureWritesRecordOnly(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO search_records")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(43)))
	mock.ExpectCommit()

	recordID, inserted, err := s.SaveUnit(context.Background(), Unit{
		Keyword:      "kw",
		Platform:     "doubao",
		PromptType:   "api_task",
		ErrorMessage: "auth_required: doubao session is not logged in",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(43), recordID)
	assert.Zero(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveUnitRollsBackOnCitationError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO search_records")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(44)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO citations")).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, _, err := s.SaveUnit(context.Background(), Unit{
		Keyword:  "kw",
		Platform: "deepseek",
		Result: &provider.Result{
			AnswerText: "answer",
			Citations:  []provider.Citation{{URL: "https://a.com/1"}},
		},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnitRecordStatus(t *testing.T) {
	completed := Unit{Result: &provider.Result{AnswerText: "text"}}
	assert.Equal(t, RecordCompleted, completed.recordStatus())

	emptyAnswer := Unit{Result: &provider.Result{}}
	assert.Equal(t, RecordFailed, emptyAnswer.recordStatus())

	withError := Unit{Result: &provider.Result{AnswerText: "text"}, ErrorMessage: "boom"}
	assert.Equal(t, RecordFailed, withError.recordStatus())

	noResult := Unit{}
	assert.Equal(t, RecordFailed, noResult.recordStatus())
}

func TestBindSubQuery(t *testing.T) {
	queries := []string{"q1", "q2", "q3"}

	assert.Equal(t, "q2", bindSubQuery(queries, []int{1}))
	assert.Equal(t, "q1", bindSubQuery(queries, []int{0, 2}))
	// out of range with several queries: unbound
	assert.Nil(t, bindSubQuery(queries, []int{9}))
	assert.Nil(t, bindSubQuery(queries, nil))
	// a single sub-query binds everything
	assert.Equal(t, "only", bindSubQuery([]string{"only"}, nil))
	assert.Equal(t, "only", bindSubQuery([]string{"only"}, []int{5}))
	assert.Nil(t, bindSubQuery(nil, nil))
}
