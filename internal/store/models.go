package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// TaskJob is one submitted monitoring task.
type TaskJob struct {
	ID         int64           `db:"id"`
	Keywords   json.RawMessage `db:"keywords"`
	Platforms  json.RawMessage `db:"platforms"`
	QueryCount int             `db:"query_count"`
	Status     string          `db:"status"`
	Settings   json.RawMessage `db:"settings"`
	ResultData json.RawMessage `db:"result_data"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

// KeywordList decodes the keywords JSONB column.
func (t *TaskJob) KeywordList() []string { return decodeStrings(t.Keywords) }

// PlatformList decodes the platforms JSONB column.
func (t *TaskJob) PlatformList() []string { return decodeStrings(t.Platforms) }

func decodeStrings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// TaskQuery is one keyword of a task, kept as its own row so citation
// logs can bind to it.
type TaskQuery struct {
	ID        int64     `db:"id"`
	TaskID    int64     `db:"task_id"`
	Query     string    `db:"query"`
	CreatedAt time.Time `db:"created_at"`
}

// SearchRecord is one unit of work: one keyword on one platform in one
// round.
type SearchRecord struct {
	ID             int64          `db:"id"`
	TaskID         sql.NullInt64  `db:"task_id"`
	TaskQueryID    sql.NullInt64  `db:"task_query_id"`
	Keyword        string         `db:"keyword"`
	Platform       string         `db:"platform"`
	PromptType     string         `db:"prompt_type"`
	Prompt         sql.NullString `db:"prompt"`
	FullAnswer     sql.NullString `db:"full_answer"`
	ResponseTimeMS sql.NullInt64  `db:"response_time_ms"`
	SearchStatus   string         `db:"search_status"`
	ErrorMessage   sql.NullString `db:"error_message"`
	CreatedAt      time.Time      `db:"created_at"`
}

// SubQueryLog is one flattened citation row bound to its task keyword,
// read by the status and export surfaces.
type SubQueryLog struct {
	ID          int64          `db:"id"`
	TaskID      sql.NullInt64  `db:"task_id"`
	TaskQueryID sql.NullInt64  `db:"task_query_id"`
	RecordID    sql.NullInt64  `db:"record_id"`
	Platform    sql.NullString `db:"platform"`
	SubQuery    sql.NullString `db:"sub_query"`
	URL         string         `db:"url"`
	Domain      sql.NullString `db:"domain"`
	Title       sql.NullString `db:"title"`
	Snippet     sql.NullString `db:"snippet"`
	SiteName    sql.NullString `db:"site_name"`
	CiteIndex   int            `db:"cite_index"`
	CreatedAt   time.Time      `db:"created_at"`
}

// Record statuses.
const (
	RecordCompleted = "completed"
	RecordFailed    = "failed"
)

// Task statuses.
const (
	TaskPending = "pending"
	TaskDone    = "done"
)
