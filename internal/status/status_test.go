package status

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geowatch/internal/store"
)

func newMockProjector(t *testing.T) (*Projector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(store.NewWithDB(sqlx.NewDb(db, "postgres"), nil), nil), mock
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}

func taskJobColumns() []string {
	return []string{"id", "keywords", "platforms", "query_count", "status", "settings", "result_data", "created_at", "updated_at"}
}

func expectFullProjection(mock sqlmock.Sqlmock, now time.Time) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM task_jobs")).
		WillReturnRows(sqlmock.NewRows(taskJobColumns()).AddRow(
			int64(7), []byte(`["kw"]`), []byte(`["deepseek"]`), 1, "done", []byte(`{}`),
			[]byte(`[{"platform":"deepseek","status":"completed","record_id":1,"citations_count":2,"response_time_ms":1200}]`),
			now, now))

	mock.ExpectQuery(regexp.QuoteMeta("FROM task_query")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "task_id", "query", "created_at"}).
			AddRow(int64(11), int64(7), "kw", now))

	logColumns := []string{"id", "task_id", "task_query_id", "record_id", "platform", "sub_query",
		"url", "domain", "title", "snippet", "site_name", "cite_index", "created_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM executor_sub_query_log")).
		WillReturnRows(sqlmock.NewRows(logColumns).
			AddRow(int64(1), int64(7), int64(11), int64(1), "deepseek", "q1",
				"https://a.com/1", "a.com", "A", "sa", "A site", 1, now).
			AddRow(int64(2), int64(7), int64(11), int64(1), "deepseek", "q1",
				"https://b.com/2", "b.com", "B", "sb", "B site", 2, now))

	mock.ExpectQuery(regexp.QuoteMeta("FROM search_records")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "task_query_id", "platform", "created_at"}).
			AddRow(int64(1), int64(11), "deepseek", now))

	mock.ExpectQuery(regexp.QuoteMeta("FROM search_queries")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "record_id", "task_query_id", "platform", "query", "query_order"}).
			AddRow(int64(21), int64(1), int64(11), "deepseek", "q1", 1))

	mock.ExpectQuery(regexp.QuoteMeta("FROM citations")).
		WillReturnRows(sqlmock.NewRows([]string{"record_id", "url", "title", "snippet", "site_name", "cite_index", "domain"}).
			AddRow(int64(1), "https://a.com/1", "A", "sa", "A site", 1, "a.com").
			AddRow(int64(1), "https://b.com/2", "B", "sb", "B site", 2, "b.com"))

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY search_status")).
		WillReturnRows(sqlmock.NewRows([]string{"search_status", "count"}).
			AddRow("completed", 1))
}

func TestStatusSingleTask(t *testing.T) {
	p, mock := newMockProjector(t)
	expectFullProjection(mock, time.Now())

	envelope, err := p.Status(context.Background(), []int64{7})
	require.NoError(t, err)
	assert.Equal(t, "done", envelope.Status)

	view, ok := envelope.Data.(*TaskView)
	require.True(t, ok)
	assert.Equal(t, int64(7), view.TaskID)
	assert.Equal(t, []string{"kw"}, view.Keywords)
	assert.Equal(t, []string{"deepseek"}, view.Platforms)
	require.Len(t, view.TaskQueries, 1)
	require.Len(t, view.SubQueryLogs, 2)

	require.NotNil(t, view.PlatformProgress)
	assert.Equal(t, Progress{Completed: 1, Failed: 0, Pending: 0, Total: 1}, *view.PlatformProgress)

	deepseek, ok := view.ResultsByPlatform["deepseek"]
	require.True(t, ok)
	assert.Equal(t, "completed", deepseek.Status)
	assert.Equal(t, 2, deepseek.CitationsCount)
	require.Len(t, deepseek.QueryTokens, 1)
	assert.Equal(t, "q1", deepseek.QueryTokens[0].Query)
	assert.Len(t, deepseek.QueryTokens[0].Citations, 2)

	require.Len(t, view.SummaryTable, 1)
	assert.Equal(t, SummaryRow{Query: "kw", Platform: "deepseek", SubQuery: "q1", Count: 2}, view.SummaryTable[0])

	require.Len(t, view.DetailLogs, 2)
	assert.Equal(t, 1, view.DetailLogs[0].Round)
	assert.Equal(t, "deepseek", view.DetailLogs[0].Platform)
	assert.NotEmpty(t, view.Results)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusCachesProjection(t *testing.T) {
	p, mock := newMockProjector(t)
	expectFullProjection(mock, time.Now())

	first, err := p.Status(context.Background(), []int64{7})
	require.NoError(t, err)
	// second call is served from cache, no further queries expected
	second, err := p.Status(context.Background(), []int64{7})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusUnknownTask(t *testing.T) {
	p, mock := newMockProjector(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM task_jobs")).
		WillReturnRows(sqlmock.NewRows(taskJobColumns()))

	envelope, err := p.Status(context.Background(), []int64{404})
	require.NoError(t, err)
	assert.Equal(t, "none", envelope.Status)
	assert.Nil(t, envelope.Data)
}

func TestStatusMissingTable(t *testing.T) {
	p, mock := newMockProjector(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM task_jobs")).
		WillReturnError(&pq.Error{Code: "42P01", Message: `relation "task_jobs" does not exist`})

	envelope, err := p.Status(context.Background(), []int64{7})
	require.NoError(t, err)
	assert.Equal(t, "none", envelope.Status)

	data, ok := envelope.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["error"])
	assert.Equal(t, "table_not_found", data["error_type"])
}

func TestStatusNoIDs(t *testing.T) {
	p, _ := newMockProjector(t)
	_, err := p.Status(context.Background(), nil)
	assert.Error(t, err)
}

func TestInferRounds(t *testing.T) {
	base := time.Now()
	records := []store.RecordRef{
		{ID: 1, TaskQueryID: nullInt(11), Platform: "deepseek", CreatedAt: base},
		{ID: 2, TaskQueryID: nullInt(11), Platform: "doubao", CreatedAt: base.Add(time.Minute)},
		{ID: 3, TaskQueryID: nullInt(11), Platform: "deepseek", CreatedAt: base.Add(2 * time.Minute)},
		{ID: 4, TaskQueryID: nullInt(12), Platform: "deepseek", CreatedAt: base.Add(3 * time.Minute)},
	}
	rounds, platforms := inferRounds(records)
	assert.Equal(t, 1, rounds[1])
	assert.Equal(t, 1, rounds[2])
	assert.Equal(t, 2, rounds[3])
	assert.Equal(t, 1, rounds[4])
	assert.Equal(t, "deepseek", platforms[1])
}

func TestSubstituteDoubaoTokens(t *testing.T) {
	byPlatform := map[string]PlatformResult{
		"doubao": {QueryTokens: []QueryToken{{Query: "q1"}, {Query: "q2"}}},
	}
	assert.Equal(t, "q1, q2", substituteDoubaoTokens("doubao", "", byPlatform))
	assert.Equal(t, "existing", substituteDoubaoTokens("doubao", "existing", byPlatform))
	assert.Equal(t, "", substituteDoubaoTokens("deepseek", "", byPlatform))
}
