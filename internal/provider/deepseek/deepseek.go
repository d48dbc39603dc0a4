// Package deepseek drives chat.deepseek.com through a logged-in browser
// profile and recovers search behavior from the chat completion stream.
package deepseek

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"geowatch/internal/browser"
	"geowatch/internal/logging"
	"geowatch/internal/normalize"
	"geowatch/internal/provider"
	"geowatch/internal/stream"
)

const (
	baseURL   = "https://chat.deepseek.com/"
	ownDomain = "deepseek.com"

	searchToggleLabel = "联网搜索"
	loginButtonLabel  = "登录"
	stopLabel         = "停止生成"
)

// Stream endpoints worth intercepting; text/event-stream responses are
// captured regardless.
var endpointFragments = []string{"/api/v0/chat", "/chat/completion"}

var inputSelectors = []string{
	`textarea[placeholder*="输入"]`,
	`textarea[placeholder*="消息"]`,
	`textarea`,
	`[contenteditable="true"]`,
}

var sendSelectors = []string{
	`button[type="submit"]`,
	`[aria-label*="发送"]`,
	`.send-button`,
}

var answerSelectors = []string{
	`[data-message-role="assistant"]`,
	`.message-content`,
	`[class*="answer"]`,
	`article`,
}

type Provider struct {
	mgr    *browser.Manager
	logger *logging.Logger
}

func New(mgr *browser.Manager, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Provider{mgr: mgr, logger: logger.Component("deepseek")}
}

func (p *Provider) Name() string { return "deepseek" }

// Search submits the prompt in a fresh chat and returns the citations,
// sub-queries, and answer text recovered from the intercepted stream,
// falling back to rendered DOM links when the stream carried no
// citations.
func (p *Provider) Search(ctx context.Context, keyword, prompt string) (*provider.Result, error) {
	collector := stream.NewCollector(p.logger)
	var result *provider.Result

	err := p.mgr.WithTab(ctx, p.Name(), func(tab *browser.Tab) error {
		if err := tab.CaptureStream(browser.MatchEndpoint(endpointFragments...), collector.Submit); err != nil {
			return provider.Errorf(provider.KindProviderError, "enable network capture: %v", err)
		}
		if err := tab.Run(chromedp.Navigate(baseURL), chromedp.Sleep(3*time.Second)); err != nil {
			return provider.Errorf(provider.KindProviderError, "open %s: %v", baseURL, err)
		}
		if tab.ExistsText(loginButtonLabel) {
			return provider.NewError(provider.KindAuthRequired, "deepseek session is not logged in", nil)
		}

		// The web-search toggle sits under the input and keeps its
		// state across messages; click only when inactive.
		if active, found := tab.ToggleActive(searchToggleLabel); found && !active {
			tab.ClickText(searchToggleLabel)
		}

		if _, err := tab.FillFirst(inputSelectors, prompt); err != nil {
			return provider.Errorf(provider.KindProviderError, "locate prompt input: %v", err)
		}
		if !tab.ClickFirst(sendSelectors) && !tab.ClickText("发送") {
			if err := tab.Run(chromedp.KeyEvent(kb.Enter)); err != nil {
				return provider.Errorf(provider.KindProviderError, "send prompt: %v", err)
			}
		}

		answer := p.waitForAnswer(ctx, tab)

		res := collector.Result()
		if res.AnswerText == "" {
			res.AnswerText = answer
		}
		if len(res.Citations) == 0 {
			p.logger.Info("stream carried no citations, extracting from DOM",
				"keyword", keyword)
			if html, err := tab.HTML(); err == nil {
				res.Citations = browser.ExtractCitations(html, ownDomain)
			}
		}
		result = res
		return nil
	})
	if err != nil {
		collector.Close()
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, provider.NewError(provider.KindOf(ctxErr), "search interrupted", ctxErr)
	}
	return normalize.Result(result), nil
}

// waitForAnswer polls the first matching answer container until
// generation settles. A timeout is not fatal; whatever the stream
// collected so far is still usable.
func (p *Provider) waitForAnswer(ctx context.Context, tab *browser.Tab) string {
	sel := answerSelectors[len(answerSelectors)-1]
	for _, candidate := range answerSelectors {
		if tab.Exists(candidate) {
			sel = candidate
			break
		}
	}
	text, err := tab.WaitStable(ctx, sel, "")
	if err != nil {
		p.logger.Warn("answer generation did not settle", "error", err)
	}
	if tab.ExistsText(stopLabel) {
		p.logger.Warn("stop-generation control still visible after wait")
	}
	return text
}
