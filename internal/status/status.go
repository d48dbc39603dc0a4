// Package status projects persisted task state into the API response
// shape: per-platform sub-query groups with their citations, progress
// counters, a summary table, and flat detail logs with inferred rounds.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"geowatch/internal/logging"
	"geowatch/internal/store"
)

// Envelope is the response of the status endpoint. Status is one of
// none, pending, done, or multiple.
type Envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

type TaskQueryView struct {
	ID        int64  `json:"id"`
	Query     string `json:"query"`
	CreatedAt string `json:"created_at,omitempty"`
}

type SubQueryLogView struct {
	ID          int64  `json:"id"`
	TaskQueryID int64  `json:"task_query_id,omitempty"`
	SubQuery    string `json:"sub_query,omitempty"`
	URL         string `json:"url"`
	Domain      string `json:"domain,omitempty"`
	Title       string `json:"title,omitempty"`
	Snippet     string `json:"snippet,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
	CiteIndex   int    `json:"cite_index"`
	CreatedAt   string `json:"created_at,omitempty"`
}

type CitationView struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	SiteName  string `json:"site_name"`
	CiteIndex int    `json:"cite_index"`
	Domain    string `json:"domain"`
}

type QueryToken struct {
	Query     string         `json:"query"`
	Citations []CitationView `json:"citations"`
}

type PlatformResult struct {
	QueryTokens    []QueryToken `json:"query_tokens"`
	Status         string       `json:"status,omitempty"`
	RecordID       int64        `json:"record_id,omitempty"`
	CitationsCount int          `json:"citations_count"`
	ResponseTimeMS int64        `json:"response_time_ms,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
}

type Progress struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Total     int `json:"total"`
}

type SummaryRow struct {
	Query    string `json:"query"`
	Platform string `json:"platform"`
	SubQuery string `json:"sub_query"`
	Count    int    `json:"count"`
}

type DetailRow struct {
	TaskID   int64  `json:"task_id"`
	Query    string `json:"query"`
	Round    int    `json:"round,omitempty"`
	Platform string `json:"platform"`
	SubQuery string `json:"sub_query"`
	Time     string `json:"time,omitempty"`
	Domain   string `json:"domain"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
}

// TaskView is the full projection of one task.
type TaskView struct {
	TaskID            int64                     `json:"task_id"`
	Keywords          []string                  `json:"keywords"`
	Platforms         []string                  `json:"platforms"`
	QueryCount        int                       `json:"query_count"`
	Status            string                    `json:"status"`
	CreatedAt         string                    `json:"created_at,omitempty"`
	UpdatedAt         string                    `json:"updated_at,omitempty"`
	TaskQueries       []TaskQueryView           `json:"task_queries"`
	SubQueryLogs      []SubQueryLogView         `json:"sub_query_logs"`
	ResultsByPlatform map[string]PlatformResult `json:"results_by_platform,omitempty"`
	PlatformProgress  *Progress                 `json:"platform_progress,omitempty"`
	SummaryTable      []SummaryRow              `json:"summary_table"`
	DetailLogs        []DetailRow               `json:"detail_logs"`
	Results           json.RawMessage           `json:"results,omitempty"`
}

const cacheTTL = 3 * time.Second

type Projector struct {
	store  *store.Store
	logger *logging.Logger
	cache  *expirable.LRU[string, *Envelope]
}

func New(st *store.Store, logger *logging.Logger) *Projector {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Projector{
		store:  st,
		logger: logger.Component("status"),
		cache:  expirable.NewLRU[string, *Envelope](256, nil, cacheTTL),
	}
}

// Status projects one or more tasks. A single id yields that task's
// status and full projection; several ids yield status "multiple" with
// a task list; no matching rows yield "none". A missing table is a
// projection outcome, not a failure.
func (p *Projector) Status(ctx context.Context, taskIDs []int64) (*Envelope, error) {
	if len(taskIDs) == 0 {
		return nil, fmt.Errorf("no task ids given")
	}

	key := cacheKey(taskIDs)
	if cached, ok := p.cache.Get(key); ok {
		return cached, nil
	}

	envelope, err := p.project(ctx, taskIDs)
	if err != nil {
		if store.IsUndefinedTable(err) {
			p.logger.Warn("status query hit missing table", "error", err)
			return &Envelope{
				Status: "none",
				Data: map[string]any{
					"error":      true,
					"error_type": "table_not_found",
					"message":    err.Error(),
				},
			}, nil
		}
		return nil, err
	}

	p.cache.Add(key, envelope)
	return envelope, nil
}

func (p *Projector) project(ctx context.Context, taskIDs []int64) (*Envelope, error) {
	jobs, err := p.store.GetTasks(ctx, taskIDs)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return &Envelope{Status: "none", Data: nil}, nil
	}

	if len(taskIDs) == 1 {
		view, err := p.projectTask(ctx, &jobs[0])
		if err != nil {
			return nil, err
		}
		return &Envelope{Status: jobs[0].Status, Data: view}, nil
	}

	views := make([]*TaskView, 0, len(jobs))
	for i := range jobs {
		view, err := p.projectTask(ctx, &jobs[i])
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return &Envelope{Status: "multiple", Data: map[string]any{"tasks": views}}, nil
}

// projectTask builds the full projection for one task. The same path
// serves single and multi id requests.
func (p *Projector) projectTask(ctx context.Context, job *store.TaskJob) (*TaskView, error) {
	view := &TaskView{
		TaskID:       job.ID,
		Keywords:     job.KeywordList(),
		Platforms:    job.PlatformList(),
		QueryCount:   job.QueryCount,
		Status:       job.Status,
		CreatedAt:    formatTime(job.CreatedAt),
		UpdatedAt:    formatTime(job.UpdatedAt),
		SummaryTable: []SummaryRow{},
		DetailLogs:   []DetailRow{},
	}

	queries, err := p.store.TaskQueries(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	queryText := make(map[int64]string, len(queries))
	queryIDs := make([]int64, 0, len(queries))
	for _, q := range queries {
		view.TaskQueries = append(view.TaskQueries, TaskQueryView{
			ID: q.ID, Query: q.Query, CreatedAt: formatTime(q.CreatedAt),
		})
		queryText[q.ID] = q.Query
		queryIDs = append(queryIDs, q.ID)
	}

	logs, err := p.store.SubQueryLogs(ctx, queryIDs)
	if err != nil {
		return nil, err
	}
	for _, l := range logs {
		view.SubQueryLogs = append(view.SubQueryLogs, SubQueryLogView{
			ID:          l.ID,
			TaskQueryID: l.TaskQueryID.Int64,
			SubQuery:    l.SubQuery.String,
			URL:         l.URL,
			Domain:      l.Domain.String,
			Title:       l.Title.String,
			Snippet:     l.Snippet.String,
			SiteName:    l.SiteName.String,
			CiteIndex:   l.CiteIndex,
			CreatedAt:   formatTime(l.CreatedAt),
		})
	}

	records, err := p.store.TaskRecords(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	rounds, recordPlatform := inferRounds(records)

	if len(view.Keywords) > 0 && len(view.Platforms) > 0 {
		if err := p.buildPlatformResults(ctx, job, view); err != nil {
			return nil, err
		}
		progress, err := p.progress(ctx, job, len(queryIDs))
		if err != nil {
			return nil, err
		}
		view.PlatformProgress = progress
	}

	view.SummaryTable = buildSummary(logs, queryText, recordPlatform, view.ResultsByPlatform)
	view.DetailLogs = buildDetails(job.ID, logs, queryText, rounds, recordPlatform, view.ResultsByPlatform)

	if job.Status == store.TaskDone && len(job.ResultData) > 0 {
		view.Results = job.ResultData
	}
	return view, nil
}

// inferRounds numbers each record within its (task_query_id, platform)
// group by creation time, ties broken by id. The input is already in
// that order.
func inferRounds(records []store.RecordRef) (map[int64]int, map[int64]string) {
	type groupKey struct {
		queryID  int64
		platform string
	}
	next := make(map[groupKey]int)
	rounds := make(map[int64]int, len(records))
	platforms := make(map[int64]string, len(records))
	for _, r := range records {
		key := groupKey{r.TaskQueryID.Int64, strings.ToLower(r.Platform)}
		next[key]++
		rounds[r.ID] = next[key]
		platforms[r.ID] = strings.ToLower(r.Platform)
	}
	return rounds, platforms
}

// buildPlatformResults groups sub-queries and their citations per
// platform and folds in the per-unit outcome recorded in result_data.
func (p *Projector) buildPlatformResults(ctx context.Context, job *store.TaskJob, view *TaskView) error {
	subQueries, err := p.store.RecordSubQueries(ctx, job.ID)
	if err != nil {
		return err
	}

	recordIDs := make([]int64, 0, len(subQueries))
	seenRecord := make(map[int64]struct{})
	for _, sq := range subQueries {
		if _, ok := seenRecord[sq.RecordID]; !ok {
			seenRecord[sq.RecordID] = struct{}{}
			recordIDs = append(recordIDs, sq.RecordID)
		}
	}
	citations, err := p.store.CitationsForRecords(ctx, recordIDs)
	if err != nil {
		return err
	}
	citationsByRecord := make(map[int64][]CitationView)
	for _, c := range citations {
		citationsByRecord[c.RecordID] = append(citationsByRecord[c.RecordID], CitationView{
			URL:       c.URL,
			Title:     c.Title.String,
			Snippet:   c.Snippet.String,
			SiteName:  c.SiteName.String,
			CiteIndex: c.CiteIndex,
			Domain:    c.Domain.String,
		})
	}

	outcomes := platformOutcomes(job.ResultData)

	view.ResultsByPlatform = make(map[string]PlatformResult, len(view.Platforms))
	for _, platform := range view.Platforms {
		platformLower := strings.ToLower(platform)
		result := PlatformResult{QueryTokens: []QueryToken{}}

		seenQuery := make(map[string]struct{})
		for _, sq := range subQueries {
			if strings.ToLower(sq.Platform) != platformLower || sq.Query == "" {
				continue
			}
			if _, dup := seenQuery[sq.Query]; dup {
				continue
			}
			seenQuery[sq.Query] = struct{}{}
			result.QueryTokens = append(result.QueryTokens, QueryToken{
				Query:     sq.Query,
				Citations: citationsByRecord[sq.RecordID],
			})
		}

		if outcome, ok := outcomes[platformLower]; ok {
			result.Status = outcome.Status
			result.RecordID = outcome.RecordID
			result.CitationsCount = outcome.CitationsCount
			result.ResponseTimeMS = outcome.ResponseTimeMS
			result.ErrorMessage = outcome.ErrorMessage
		} else {
			result.Status = "pending"
		}
		view.ResultsByPlatform[platformLower] = result
	}
	return nil
}

type outcomeEntry struct {
	Platform       string `json:"platform"`
	Status         string `json:"status"`
	RecordID       int64  `json:"record_id"`
	CitationsCount int    `json:"citations_count"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	ErrorMessage   string `json:"error_message"`
}

// platformOutcomes extracts the latest per-platform unit outcome from
// the task's result_data list.
func platformOutcomes(raw json.RawMessage) map[string]outcomeEntry {
	out := make(map[string]outcomeEntry)
	if len(raw) == 0 {
		return out
	}
	var entries []outcomeEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return out
	}
	for _, e := range entries {
		if e.Platform != "" {
			out[strings.ToLower(e.Platform)] = e
		}
	}
	return out
}

func (p *Projector) progress(ctx context.Context, job *store.TaskJob, keywordCount int) (*Progress, error) {
	counts, err := p.store.RecordStatusCounts(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	total := keywordCount * len(job.PlatformList()) * job.QueryCount
	progress := &Progress{
		Completed: counts[store.RecordCompleted],
		Failed:    counts[store.RecordFailed],
		Total:     total,
	}
	progress.Pending = total - progress.Completed - progress.Failed
	if progress.Pending < 0 {
		progress.Pending = 0
	}
	return progress, nil
}

// buildSummary counts distinct cited URLs per (keyword, platform,
// sub-query), in first-seen order.
func buildSummary(logs []store.SubQueryLog, queryText map[int64]string, recordPlatform map[int64]string, byPlatform map[string]PlatformResult) []SummaryRow {
	type summaryKey struct {
		query, platform, subQuery string
	}
	urls := make(map[summaryKey]map[string]struct{})
	var order []summaryKey

	for _, l := range logs {
		subQuery := l.SubQuery.String
		if subQuery == "" && l.URL == "" {
			continue
		}
		platform := recordPlatform[l.RecordID.Int64]
		subQuery = substituteDoubaoTokens(platform, subQuery, byPlatform)

		key := summaryKey{queryText[l.TaskQueryID.Int64], platform, subQuery}
		if _, ok := urls[key]; !ok {
			urls[key] = make(map[string]struct{})
			order = append(order, key)
		}
		if l.URL != "" {
			urls[key][l.URL] = struct{}{}
		}
	}

	rows := make([]SummaryRow, 0, len(order))
	for _, key := range order {
		rows = append(rows, SummaryRow{
			Query:    key.query,
			Platform: key.platform,
			SubQuery: key.subQuery,
			Count:    len(urls[key]),
		})
	}
	return rows
}

func buildDetails(taskID int64, logs []store.SubQueryLog, queryText map[int64]string, rounds map[int64]int, recordPlatform map[int64]string, byPlatform map[string]PlatformResult) []DetailRow {
	rows := make([]DetailRow, 0, len(logs))
	for _, l := range logs {
		subQuery := l.SubQuery.String
		if subQuery == "" && l.URL == "" {
			continue
		}
		platform := recordPlatform[l.RecordID.Int64]
		subQuery = substituteDoubaoTokens(platform, subQuery, byPlatform)

		rows = append(rows, DetailRow{
			TaskID:   taskID,
			Query:    queryText[l.TaskQueryID.Int64],
			Round:    rounds[l.RecordID.Int64],
			Platform: platform,
			SubQuery: subQuery,
			Time:     formatTime(l.CreatedAt),
			Domain:   l.Domain.String,
			URL:      l.URL,
			Title:    l.Title.String,
			Snippet:  l.Snippet.String,
		})
	}
	return rows
}

// substituteDoubaoTokens fills an empty doubao sub-query with the
// platform's joined query tokens. Doubao often binds citations to the
// whole batch rather than a single sub-query.
func substituteDoubaoTokens(platform, subQuery string, byPlatform map[string]PlatformResult) string {
	if subQuery != "" || platform != "doubao" || byPlatform == nil {
		return subQuery
	}
	result, ok := byPlatform["doubao"]
	if !ok {
		return subQuery
	}
	tokens := make([]string, 0, len(result.QueryTokens))
	for _, qt := range result.QueryTokens {
		if qt.Query != "" {
			tokens = append(tokens, qt.Query)
		}
	}
	return strings.Join(tokens, ", ")
}

func cacheKey(ids []int64) string {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var b strings.Builder
	for i, id := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", id)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
