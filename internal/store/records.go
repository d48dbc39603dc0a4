package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"geowatch/internal/domains"
	"geowatch/internal/provider"
)

// Unit describes one finished unit of work ready for persistence.
// Result is nil when the search failed before producing anything.
type Unit struct {
	TaskID         int64
	TaskQueryID    int64
	Keyword        string
	Platform       string
	Prompt         string
	PromptType     string
	Result         *provider.Result
	ResponseTimeMS int64
	ErrorMessage   string
}

func (u Unit) recordStatus() string {
	if u.ErrorMessage != "" {
		return RecordFailed
	}
	if u.Result == nil || u.Result.AnswerText == "" {
		return RecordFailed
	}
	return RecordCompleted
}

// SaveUnit writes a finished unit in a single transaction: the search
// record, its sub-queries in order, its citations (duplicates within
// the record are dropped by the unique constraint), the domain counters
// for genuinely inserted citations, and one flattened log row per
// persisted citation. Returns the record id and the number of citations
// actually inserted.
func (s *Store) SaveUnit(ctx context.Context, u Unit) (int64, int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin unit tx: %w", err)
	}
	defer tx.Rollback()

	promptType := u.PromptType
	if promptType == "" {
		promptType = "default"
	}
	answer := ""
	if u.Result != nil {
		answer = u.Result.AnswerText
	}

	var recordID int64
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO search_records
		(task_id, task_query_id, keyword, platform, prompt_type, prompt, full_answer, response_time_ms, search_status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		nullID(u.TaskID), nullID(u.TaskQueryID), u.Keyword, u.Platform, promptType,
		u.Prompt, answer, u.ResponseTimeMS, u.recordStatus(), nullString(u.ErrorMessage),
	).Scan(&recordID)
	if err != nil {
		return 0, 0, fmt.Errorf("insert search record: %w", err)
	}

	if u.Result == nil {
		if err := tx.Commit(); err != nil {
			return 0, 0, fmt.Errorf("commit unit tx: %w", err)
		}
		s.logger.Warn("unit saved without result", "record_id", recordID,
			"keyword", u.Keyword, "platform", u.Platform, "error", u.ErrorMessage)
		return recordID, 0, nil
	}

	for order, query := range u.Result.SubQueries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO search_queries (record_id, query, query_order) VALUES ($1, $2, $3)`,
			recordID, query, order+1); err != nil {
			return 0, 0, fmt.Errorf("insert sub-query: %w", err)
		}
	}

	inserted := 0
	for _, c := range u.Result.Citations {
		if c.URL == "" {
			continue
		}
		domain := domains.Registrable(c.URL)

		res, err := tx.ExecContext(ctx, `
			INSERT INTO citations (record_id, cite_index, url, domain, title, snippet, site_name)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (record_id, url) DO NOTHING`,
			recordID, c.CiteIndex, c.URL, domain, c.Title, c.Snippet, c.SiteName)
		if err != nil {
			return 0, 0, fmt.Errorf("insert citation: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return 0, 0, fmt.Errorf("citation rows affected: %w", err)
		}
		if rows == 0 {
			continue
		}
		inserted++

		if err := upsertDomainStats(ctx, tx, domain, u.Platform); err != nil {
			return 0, 0, err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO executor_sub_query_log
			(task_id, task_query_id, record_id, platform, sub_query, url, domain, title, snippet, site_name, cite_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			nullID(u.TaskID), nullID(u.TaskQueryID), recordID, u.Platform,
			bindSubQuery(u.Result.SubQueries, c.QueryIndexes),
			c.URL, domain, c.Title, c.Snippet, c.SiteName, c.CiteIndex); err != nil {
			return 0, 0, fmt.Errorf("insert sub-query log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit unit tx: %w", err)
	}
	s.logger.Info("unit saved", "record_id", recordID,
		"keyword", u.Keyword, "platform", u.Platform,
		"sub_queries", len(u.Result.SubQueries), "citations", inserted)
	return recordID, inserted, nil
}

// upsertDomainStats bumps the cross-task counters for one genuinely
// inserted citation.
func upsertDomainStats(ctx context.Context, tx *sqlx.Tx, domain, platform string) error {
	platformJSON := fmt.Sprintf(`{%q: 1}`, platform)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO domain_stats (domain, total_citations, keyword_coverage, platforms, last_seen)
		VALUES ($1, 1, 1, $2::jsonb, CURRENT_TIMESTAMP)
		ON CONFLICT (domain) DO UPDATE SET
			total_citations = domain_stats.total_citations + 1,
			platforms = domain_stats.platforms || $2::jsonb,
			last_seen = CURRENT_TIMESTAMP`,
		domain, platformJSON)
	if err != nil {
		return fmt.Errorf("upsert domain stats: %w", err)
	}
	return nil
}

// nullID maps a zero id to NULL; ad-hoc units carry no task linkage.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// bindSubQuery resolves which sub-query a citation belongs to: the
// first query index when it is in range, otherwise the sole sub-query
// when there is exactly one, otherwise NULL.
func bindSubQuery(subQueries []string, queryIndexes []int) any {
	if len(queryIndexes) > 0 {
		idx := queryIndexes[0]
		if idx >= 0 && idx < len(subQueries) {
			return subQueries[idx]
		}
	}
	if len(subQueries) == 1 {
		return subQueries[0]
	}
	return nil
}
