package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geowatch/internal/store"
)

func newMockExporter(t *testing.T) (*Exporter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(store.NewWithDB(sqlx.NewDb(db, "postgres"), nil), nil), mock
}

func exportColumns() []string {
	return []string{"task_query_id", "query", "task_id", "platforms", "sub_query",
		"url", "domain", "title", "snippet", "site_name", "cite_index", "created_at"}
}

func TestWriteCSV(t *testing.T) {
	e, mock := newMockExporter(t)
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM task_query tq")).
		WillReturnRows(sqlmock.NewRows(exportColumns()).
			AddRow(int64(11), "中文关键词", int64(7), []byte(`["deepseek","doubao"]`),
				"q1", "https://a.com/1", "a.com", "A", "sa", "A site", 1, created).
			AddRow(int64(12), "kw2", int64(7), []byte(`["deepseek","doubao"]`),
				nil, nil, nil, nil, nil, nil, nil, nil))

	var buf bytes.Buffer
	require.NoError(t, e.WriteCSV(context.Background(), &buf, []int64{7}))

	out := buf.Bytes()
	require.True(t, bytes.HasPrefix(out, []byte{0xEF, 0xBB, 0xBF}))

	reader := csv.NewReader(bytes.NewReader(out[3:]))
	records, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, header, records[0])
	assert.Equal(t, []string{
		"7", "中文关键词", "deepseek, doubao", "q1", "https://a.com/1", "a.com",
		"A", "sa", "A site", "1", "2026-08-01T12:00:00Z",
	}, records[1])
	// keyword without citations still exports as an empty detail row
	assert.Equal(t, "kw2", records[2][1])
	assert.Equal(t, "", records[2][4])
	assert.Equal(t, "", records[2][9])
}

func TestWriteCSVNoIDs(t *testing.T) {
	e, _ := newMockExporter(t)
	err := e.WriteCSV(context.Background(), &bytes.Buffer{}, nil)
	assert.Error(t, err)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "task_7_export.csv", Filename([]int64{7}))
	assert.True(t, strings.HasPrefix(Filename([]int64{7, 8}), "tasks_export_"))
}
