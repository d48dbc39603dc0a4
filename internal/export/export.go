// Package export renders task detail data as CSV for download.
package export

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"geowatch/internal/logging"
	"geowatch/internal/store"
)

// Header cells of the detail CSV.
var header = []string{
	"task_id", "query", "platforms", "sub_query", "url", "domain",
	"title", "snippet", "site_name", "cite_index", "created_at",
}

// utf8BOM makes spreadsheet tools detect the encoding; without it
// Chinese cells open garbled in Excel.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type Exporter struct {
	store  *store.Store
	logger *logging.Logger
}

func New(st *store.Store, logger *logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Exporter{store: st, logger: logger.Component("export")}
}

// WriteCSV streams the detail rows of the given tasks as a UTF-8 CSV
// with a byte order mark. Keywords that produced no citations still
// appear as a row with empty citation fields.
func (e *Exporter) WriteCSV(ctx context.Context, w io.Writer, taskIDs []int64) error {
	if len(taskIDs) == 0 {
		return fmt.Errorf("no task ids given")
	}

	rows, err := e.store.ExportRows(ctx, taskIDs)
	if err != nil {
		return err
	}

	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("write bom: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.TaskID, 10),
			row.Query,
			platformsCell(row.Platforms),
			row.SubQuery.String,
			row.URL.String,
			row.Domain.String,
			row.Title.String,
			row.Snippet.String,
			row.SiteName.String,
			citeIndexCell(row.CiteIndex),
			createdAtCell(row.CreatedAt),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	e.logger.Info("export written", "tasks", len(taskIDs), "rows", len(rows))
	return nil
}

// Filename returns the attachment name for a download of the given
// tasks.
func Filename(taskIDs []int64) string {
	if len(taskIDs) == 1 {
		return fmt.Sprintf("task_%d_export.csv", taskIDs[0])
	}
	return fmt.Sprintf("tasks_export_%s.csv", time.Now().Format("20060102_150405"))
}

func platformsCell(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var platforms []string
	if err := json.Unmarshal(raw, &platforms); err != nil {
		return string(raw)
	}
	return strings.Join(platforms, ", ")
}

func citeIndexCell(v sql.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}

func createdAtCell(v sql.NullTime) string {
	if !v.Valid {
		return ""
	}
	return v.Time.Format(time.RFC3339)
}
