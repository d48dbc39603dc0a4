package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SubQueryLogs returns the flattened citation rows for the given task
// keywords, ordered for projection.
func (s *Store) SubQueryLogs(ctx context.Context, taskQueryIDs []int64) ([]SubQueryLog, error) {
	if len(taskQueryIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT id, task_id, task_query_id, record_id, platform, sub_query,
		       url, domain, title, snippet, site_name, cite_index, created_at
		FROM executor_sub_query_log
		WHERE task_query_id IN (?)
		ORDER BY task_query_id, created_at`, taskQueryIDs)
	if err != nil {
		return nil, fmt.Errorf("build sub-query log query: %w", err)
	}
	var logs []SubQueryLog
	if err := s.db.SelectContext(ctx, &logs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load sub-query logs: %w", err)
	}
	return logs, nil
}

// RecordRef locates one search record for round inference.
type RecordRef struct {
	ID          int64         `db:"id"`
	TaskQueryID sql.NullInt64 `db:"task_query_id"`
	Platform    string        `db:"platform"`
	CreatedAt   time.Time     `db:"created_at"`
}

// TaskRecords returns the task's api-task records in execution order.
func (s *Store) TaskRecords(ctx context.Context, taskID int64) ([]RecordRef, error) {
	var records []RecordRef
	err := s.db.SelectContext(ctx, &records, `
		SELECT id, task_query_id, platform, created_at
		FROM search_records
		WHERE task_id = $1 AND prompt_type = 'api_task'
		ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task records: %w", err)
	}
	return records, nil
}

// RecordStatusCounts returns how many api-task records of the task hold
// each search_status.
func (s *Store) RecordStatusCounts(ctx context.Context, taskID int64) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT search_status, COUNT(*)
		FROM search_records
		WHERE task_id = $1 AND prompt_type = 'api_task'
		GROUP BY search_status`, taskID)
	if err != nil {
		return nil, fmt.Errorf("count task records: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan record count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// GetTasks loads several task jobs ordered by id. Missing ids are
// simply absent from the result.
func (s *Store) GetTasks(ctx context.Context, taskIDs []int64) ([]TaskJob, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT id, keywords, platforms, query_count, status, settings, result_data, created_at, updated_at
		FROM task_jobs
		WHERE id IN (?)
		ORDER BY id`, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("build tasks query: %w", err)
	}
	var jobs []TaskJob
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	return jobs, nil
}

// RecordSubQuery is one sub-query row joined to its record, used for
// per-platform grouping.
type RecordSubQuery struct {
	ID          int64         `db:"id"`
	RecordID    int64         `db:"record_id"`
	TaskQueryID sql.NullInt64 `db:"task_query_id"`
	Platform    string        `db:"platform"`
	Query       string        `db:"query"`
	QueryOrder  int           `db:"query_order"`
}

// RecordSubQueries returns the task's sub-queries with their record
// linkage, in display order.
func (s *Store) RecordSubQueries(ctx context.Context, taskID int64) ([]RecordSubQuery, error) {
	var rows []RecordSubQuery
	err := s.db.SelectContext(ctx, &rows, `
		SELECT sq.id, sq.record_id, sr.task_query_id, sr.platform, sq.query, sq.query_order
		FROM search_queries sq
		INNER JOIN search_records sr ON sq.record_id = sr.id
		WHERE sr.task_id = $1 AND sr.prompt_type = 'api_task'
		ORDER BY sq.query_order, sq.id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load record sub-queries: %w", err)
	}
	return rows, nil
}

// CitationRow is one stored citation of a record.
type CitationRow struct {
	RecordID  int64          `db:"record_id"`
	URL       string         `db:"url"`
	Title     sql.NullString `db:"title"`
	Snippet   sql.NullString `db:"snippet"`
	SiteName  sql.NullString `db:"site_name"`
	CiteIndex int            `db:"cite_index"`
	Domain    sql.NullString `db:"domain"`
}

// CitationsForRecords returns the citations of the given records in
// cite_index order.
func (s *Store) CitationsForRecords(ctx context.Context, recordIDs []int64) ([]CitationRow, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT record_id, url, title, snippet, site_name, cite_index, domain
		FROM citations
		WHERE record_id IN (?)
		ORDER BY cite_index, id`, recordIDs)
	if err != nil {
		return nil, fmt.Errorf("build citations query: %w", err)
	}
	var rows []CitationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load citations: %w", err)
	}
	return rows, nil
}

// ExportRow is one CSV line of the task detail export. The left join
// keeps keywords with no citations visible as empty rows.
type ExportRow struct {
	TaskQueryID int64           `db:"task_query_id"`
	Query       string          `db:"query"`
	TaskID      int64           `db:"task_id"`
	Platforms   json.RawMessage `db:"platforms"`
	SubQuery    sql.NullString  `db:"sub_query"`
	URL         sql.NullString  `db:"url"`
	Domain      sql.NullString  `db:"domain"`
	Title       sql.NullString  `db:"title"`
	Snippet     sql.NullString  `db:"snippet"`
	SiteName    sql.NullString  `db:"site_name"`
	CiteIndex   sql.NullInt64   `db:"cite_index"`
	CreatedAt   sql.NullTime    `db:"created_at"`
}

// ExportRows returns the detail rows for the given tasks ordered by
// task, keyword, and citation time.
func (s *Store) ExportRows(ctx context.Context, taskIDs []int64) ([]ExportRow, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT
			tq.id AS task_query_id,
			tq.query,
			tq.task_id,
			tj.platforms,
			esql.sub_query,
			esql.url,
			esql.domain,
			esql.title,
			esql.snippet,
			esql.site_name,
			esql.cite_index,
			esql.created_at
		FROM task_query tq
		INNER JOIN task_jobs tj ON tq.task_id = tj.id
		LEFT JOIN executor_sub_query_log esql ON tq.id = esql.task_query_id
		WHERE tq.task_id IN (?)
		ORDER BY tq.task_id, tq.id, esql.created_at`, taskIDs)
	if err != nil {
		return nil, fmt.Errorf("build export query: %w", err)
	}
	var rows []ExportRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load export rows: %w", err)
	}
	return rows, nil
}
