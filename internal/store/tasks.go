package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrTaskNotFound is returned when a task id has no row.
var ErrTaskNotFound = errors.New("task not found")

// pqUndefinedTable is the Postgres error code for a missing relation.
const pqUndefinedTable = "42P01"

// IsUndefinedTable reports whether err means a required table does not
// exist yet.
func IsUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUndefinedTable
}

// CreateTask inserts the job and one task_query row per keyword in a
// single transaction, returning the new task id.
func (s *Store) CreateTask(ctx context.Context, keywords, platforms []string, queryCount int, settings map[string]any) (int64, error) {
	keywordsJSON, err := json.Marshal(keywords)
	if err != nil {
		return 0, fmt.Errorf("encode keywords: %w", err)
	}
	platformsJSON, err := json.Marshal(platforms)
	if err != nil {
		return 0, fmt.Errorf("encode platforms: %w", err)
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return 0, fmt.Errorf("encode settings: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin task tx: %w", err)
	}
	defer tx.Rollback()

	var taskID int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO task_jobs (keywords, platforms, query_count, status, settings)
		VALUES ($1, $2, $3, 'pending', $4)
		RETURNING id`,
		keywordsJSON, platformsJSON, queryCount, settingsJSON).Scan(&taskID)
	if err != nil {
		return 0, fmt.Errorf("insert task job: %w", err)
	}

	for _, keyword := range keywords {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_query (task_id, query) VALUES ($1, $2)`,
			taskID, keyword); err != nil {
			return 0, fmt.Errorf("insert task query: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit task tx: %w", err)
	}
	s.logger.Info("task created", "task_id", taskID,
		"keywords", len(keywords), "platforms", len(platforms), "query_count", queryCount)
	return taskID, nil
}

// GetTask loads one task job.
func (s *Store) GetTask(ctx context.Context, taskID int64) (*TaskJob, error) {
	var job TaskJob
	err := s.db.GetContext(ctx, &job, `
		SELECT id, keywords, platforms, query_count, status, settings, result_data, created_at, updated_at
		FROM task_jobs WHERE id = $1`, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task %d: %w", taskID, err)
	}
	return &job, nil
}

// TaskQueries returns the task's keyword rows ordered by id.
func (s *Store) TaskQueries(ctx context.Context, taskID int64) ([]TaskQuery, error) {
	var queries []TaskQuery
	err := s.db.SelectContext(ctx, &queries, `
		SELECT id, task_id, query, created_at
		FROM task_query WHERE task_id = $1 ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task queries for %d: %w", taskID, err)
	}
	return queries, nil
}

// FinishTask marks the task done and stores the per-unit outcome list.
func (s *Store) FinishTask(ctx context.Context, taskID int64, results any) error {
	resultJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode task results: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE task_jobs
		SET status = 'done', result_data = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2`, resultJSON, taskID)
	if err != nil {
		return fmt.Errorf("finish task %d: %w", taskID, err)
	}
	return nil
}
