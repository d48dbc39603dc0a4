package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"geowatch/internal/logging"
)

// Tab is a single browser tab scoped to one search. It is not safe for
// concurrent use.
type Tab struct {
	ctx     context.Context
	cfg     Config
	logger  *logging.Logger
	timeout time.Duration
}

// Run executes chromedp actions under the tab's default timeout.
func (t *Tab) Run(actions ...chromedp.Action) error {
	return t.RunTimeout(t.timeout, actions...)
}

// RunTimeout executes chromedp actions under an explicit timeout.
func (t *Tab) RunTimeout(timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = t.timeout
	}
	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// HTML returns the full rendered document.
func (t *Tab) HTML() (string, error) {
	var html string
	err := t.Run(chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// Text returns the visible text of the first node matching sel, or ""
// when the node is absent.
func (t *Tab) Text(sel string) (string, error) {
	var text string
	script := fmt.Sprintf(
		`(() => { const n = document.querySelector(%q); return n ? n.innerText : ""; })()`, sel)
	err := t.RunTimeout(10*time.Second, chromedp.Evaluate(script, &text))
	return strings.TrimSpace(text), err
}

// Exists reports whether a node matching sel is present.
func (t *Tab) Exists(sel string) bool {
	var found bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, sel)
	if err := t.RunTimeout(10*time.Second, chromedp.Evaluate(script, &found)); err != nil {
		return false
	}
	return found
}

// Location returns the tab's current URL.
func (t *Tab) Location() (string, error) {
	var loc string
	err := t.RunTimeout(10*time.Second, chromedp.Location(&loc))
	return loc, err
}

// WaitStable polls answerSel until its text is non-empty and unchanged
// across two consecutive samples while no node matches generatingSel
// (the stop-generation affordance). It returns the stable text, or the
// last sampled text with a timeout error when generation never settles.
func (t *Tab) WaitStable(ctx context.Context, answerSel, generatingSel string) (string, error) {
	interval := t.cfg.stableIntervalOrDefault()
	deadline := time.Now().Add(t.cfg.stableTimeoutOrDefault())

	var last string
	for {
		if ctx != nil && ctx.Err() != nil {
			return last, ctx.Err()
		}
		if time.Now().After(deadline) {
			return last, fmt.Errorf("generation did not settle: %w", context.DeadlineExceeded)
		}

		text, err := t.Text(answerSel)
		if err != nil {
			t.logger.Debug("answer sample failed", "error", err)
		}
		generating := generatingSel != "" && t.Exists(generatingSel)
		if text != "" && text == last && !generating {
			return text, nil
		}
		last = text

		select {
		case <-time.After(interval):
		case <-t.ctx.Done():
			return last, t.ctx.Err()
		}
	}
}
