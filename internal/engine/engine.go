// Package engine owns the task lifecycle: validate and persist a
// submitted task, then work through every round × keyword × platform
// combination in the background, recording each unit regardless of its
// outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"geowatch/internal/logging"
	"geowatch/internal/metrics"
	"geowatch/internal/provider"
	"geowatch/internal/store"
)

// ErrInvalidArgument marks a rejected submission.
var ErrInvalidArgument = errors.New("invalid argument")

// SubmitRequest is one monitoring task as received from the API.
type SubmitRequest struct {
	Keywords   []string       `json:"keywords"`
	Platforms  []string       `json:"platforms"`
	QueryCount int            `json:"query_count"`
	Settings   map[string]any `json:"settings"`
}

// DefaultSettings are merged under the submitted settings.
var DefaultSettings = map[string]any{
	"headless":            true,
	"timeout":             60000,
	"delay_between_tasks": 5,
}

type Engine struct {
	store    *store.Store
	registry *provider.Registry
	logger   *logging.Logger
	metrics  *metrics.Metrics

	wg sync.WaitGroup

	mu     sync.Mutex
	cancel map[int64]context.CancelFunc
	root   context.Context
	stop   context.CancelFunc
}

func New(st *store.Store, registry *provider.Registry, m *metrics.Metrics, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	root, stop := context.WithCancel(context.Background())
	return &Engine{
		store:    st,
		registry: registry,
		logger:   logger.Component("engine"),
		metrics:  m,
		cancel:   make(map[int64]context.CancelFunc),
		root:     root,
		stop:     stop,
	}
}

// Submit validates the request, persists the job and its keyword rows,
// and launches the background execution. Returns the task id.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (int64, error) {
	keywords := cleanList(req.Keywords)
	platforms := cleanList(req.Platforms)
	if len(keywords) == 0 {
		return 0, fmt.Errorf("%w: keywords must not be empty", ErrInvalidArgument)
	}
	if len(platforms) == 0 {
		return 0, fmt.Errorf("%w: platforms must not be empty", ErrInvalidArgument)
	}
	if req.QueryCount < 1 {
		return 0, fmt.Errorf("%w: query_count must be at least 1", ErrInvalidArgument)
	}

	settings := make(map[string]any, len(DefaultSettings)+len(req.Settings))
	for k, v := range DefaultSettings {
		settings[k] = v
	}
	for k, v := range req.Settings {
		settings[k] = v
	}

	taskID, err := e.store.CreateTask(ctx, keywords, platforms, req.QueryCount, settings)
	if err != nil {
		return 0, err
	}
	queries, err := e.store.TaskQueries(ctx, taskID)
	if err != nil {
		return 0, err
	}

	job := taskJob{
		taskID:     taskID,
		keywords:   keywords,
		platforms:  platforms,
		queryCount: req.QueryCount,
		queryIDs:   make(map[string]int64, len(queries)),
		delay:      settingsDelay(settings),
		timeout:    settingsTimeout(settings),
	}
	for _, q := range queries {
		job.queryIDs[q.Query] = q.ID
	}

	taskCtx, cancel := context.WithCancel(e.root)
	e.mu.Lock()
	e.cancel[taskID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			cancel()
			e.mu.Lock()
			delete(e.cancel, taskID)
			e.mu.Unlock()
		}()
		e.execute(taskCtx, job)
	}()

	if e.metrics != nil {
		e.metrics.TasksSubmitted.Inc()
	}
	return taskID, nil
}

// Cancel stops a running task. Unknown or finished ids are a no-op.
func (e *Engine) Cancel(taskID int64) {
	e.mu.Lock()
	cancel, ok := e.cancel[taskID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown cancels all running tasks and waits for their workers.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stop()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type taskJob struct {
	taskID     int64
	keywords   []string
	platforms  []string
	queryCount int
	queryIDs   map[string]int64
	delay      time.Duration
	timeout    time.Duration
}

// unitOutcome is one entry of the task's result_data list.
type unitOutcome struct {
	Keyword        string `json:"keyword,omitempty"`
	Platform       string `json:"platform,omitempty"`
	Round          int    `json:"round,omitempty"`
	Status         string `json:"status,omitempty"`
	RecordID       int64  `json:"record_id,omitempty"`
	CitationsCount int    `json:"citations_count"`
	ResponseTimeMS int64  `json:"response_time_ms,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	Error          string `json:"error,omitempty"`
}

// execute works through rounds, then keywords, then platforms. Unit
// failures are recorded and do not stop the task; persistence failures
// do, with the error folded into result_data.
func (e *Engine) execute(ctx context.Context, job taskJob) {
	logger := e.logger.With("task_id", job.taskID)
	logger.Info("task started",
		"keywords", len(job.keywords), "platforms", len(job.platforms), "rounds", job.queryCount)

	total := job.queryCount * len(job.keywords) * len(job.platforms)
	results := make([]unitOutcome, 0, total)
	done := 0

	for round := 1; round <= job.queryCount; round++ {
		for _, keyword := range job.keywords {
			for _, platform := range job.platforms {
				outcome, persistErr := e.runUnit(ctx, job, round, keyword, platform)
				results = append(results, outcome)
				if persistErr != nil {
					logger.Error("persistence failed, aborting task", "error", persistErr)
					results = append(results, unitOutcome{Error: persistErr.Error()})
					e.finish(job.taskID, results, logger)
					return
				}
				if outcome.ErrorMessage == "cancelled" {
					logger.Warn("task cancelled")
					e.finish(job.taskID, results, logger)
					return
				}

				done++
				if done < total && job.delay > 0 {
					select {
					case <-time.After(job.delay):
					case <-ctx.Done():
					}
				}
			}
		}
	}

	e.finish(job.taskID, results, logger)
	logger.Info("task complete", "units", len(results))
}

// runUnit executes one keyword/platform pair and persists the outcome.
// The returned error is a persistence error only; provider failures are
// folded into the outcome.
func (e *Engine) runUnit(ctx context.Context, job taskJob, round int, keyword, platform string) (unitOutcome, error) {
	outcome := unitOutcome{Keyword: keyword, Platform: platform, Round: round}
	logger := e.logger.With("task_id", job.taskID, "keyword", keyword, "platform", platform, "round", round)

	unit := store.Unit{
		TaskID:      job.taskID,
		TaskQueryID: job.queryIDs[keyword],
		Keyword:     keyword,
		Prompt:      keyword,
		PromptType:  "api_task",
	}

	p, canonical, ok := e.registry.Resolve(platform)
	unit.Platform = canonical
	outcome.Platform = canonical
	if !ok {
		unit.Platform = strings.ToLower(strings.TrimSpace(platform))
		outcome.Platform = unit.Platform
		unit.ErrorMessage = fmt.Sprintf("no provider for %s", platform)
	} else if err := ctx.Err(); err != nil {
		unit.ErrorMessage = "cancelled"
	} else {
		// The per-unit timeout from the task settings bounds one
		// search session, not the whole task.
		searchCtx := ctx
		if job.timeout > 0 {
			var cancel context.CancelFunc
			searchCtx, cancel = context.WithTimeout(ctx, job.timeout)
			defer cancel()
		}
		start := time.Now()
		result, err := p.Search(searchCtx, keyword, keyword)
		unit.ResponseTimeMS = time.Since(start).Milliseconds()
		outcome.ResponseTimeMS = unit.ResponseTimeMS
		if err != nil {
			kind := provider.KindOf(err)
			if kind == provider.KindCancelled {
				unit.ErrorMessage = "cancelled"
			} else {
				unit.ErrorMessage = err.Error()
			}
			logger.Warn("unit failed", "kind", string(kind), "error", err)
		} else if result == nil || result.AnswerText == "" && len(result.Citations) == 0 {
			unit.ErrorMessage = "no usable result"
			unit.Result = result
		} else {
			unit.Result = result
		}
		if e.metrics != nil {
			e.metrics.ObserveUnit(unit.Platform, unit.ErrorMessage == "", time.Since(start))
		}
	}

	// A cancelled unit must still leave its failed record behind.
	saveCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
	}
	recordID, citations, err := e.store.SaveUnit(saveCtx, unit)
	if err != nil {
		return outcome, err
	}

	outcome.RecordID = recordID
	outcome.CitationsCount = citations
	outcome.ErrorMessage = unit.ErrorMessage
	if unit.ErrorMessage == "" && unit.Result != nil && unit.Result.AnswerText != "" {
		outcome.Status = "completed"
	} else {
		outcome.Status = "failed"
	}
	return outcome, nil
}

func (e *Engine) finish(taskID int64, results []unitOutcome, logger *logging.Logger) {
	// The worker context may already be cancelled; finishing the task
	// must still go through.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.store.FinishTask(ctx, taskID, results); err != nil {
		logger.Error("could not mark task done", "error", err)
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func settingsDelay(settings map[string]any) time.Duration {
	switch v := settings["delay_between_tasks"].(type) {
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v) * time.Second
	}
	return 0
}

// settingsTimeout reads the per-unit search budget in milliseconds.
func settingsTimeout(settings map[string]any) time.Duration {
	switch v := settings["timeout"].(type) {
	case int:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v) * time.Millisecond
	}
	return 0
}
