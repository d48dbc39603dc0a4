// Package doubao drives www.doubao.com through a logged-in browser
// profile. Doubao streams its answer as patch-op envelopes; search
// results arrive inside dedicated content blocks on the same stream.
package doubao

import (
	"context"
	"strings"
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
	baseURL   = "https://www.doubao.com/"
	ownDomain = "doubao.com"

	searchToggleLabel = "联网搜索"
	deepSearchLabel   = "深度搜索"
	stopLabel         = "停止生成"
)

var endpointFragments = []string{"/chat/completion", "/api/chat", "/api/v1/chat", "/api/bot/chat", "/stream"}

var inputSelectors = []string{
	`textarea[placeholder*="输入"]`,
	`textarea[placeholder*="提问"]`,
	`textarea`,
	`[contenteditable="true"]`,
	`.input-area textarea`,
}

var sendSelectors = []string{
	`button#flow-end-msg-send`,
	`button[data-testid="chat_input_send_button"]`,
	`.send-btn-wrapper button`,
	`button[type="submit"]`,
	`[aria-label*="发送"]`,
	`.send-button`,
}

var answerSelectors = []string{
	`article`,
	`.message-content`,
	`[class*="message"]`,
	`[class*="answer"]`,
	`[class*="response"]`,
}

type Provider struct {
	mgr    *browser.Manager
	logger *logging.Logger
}

func New(mgr *browser.Manager, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Provider{mgr: mgr, logger: logger.Component("doubao")}
}

func (p *Provider) Name() string { return "doubao" }

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
		if p.needsLogin(tab) {
			return provider.NewError(provider.KindAuthRequired, "doubao session is not logged in", nil)
		}

		if _, err := tab.FillFirst(inputSelectors, prompt); err != nil {
			return provider.Errorf(provider.KindProviderError, "locate prompt input: %v", err)
		}

		p.enableWebSearch(tab)

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

func (p *Provider) needsLogin(tab *browser.Tab) bool {
	if loc, err := tab.Location(); err == nil && strings.Contains(strings.ToLower(loc), "login") {
		return true
	}
	return tab.ExistsText("登录") || tab.ExistsText("立即登录")
}

// enableWebSearch turns the web-search mode on when it is off. Doubao
// sometimes ships it enabled by default and clicking again would turn
// it off, so the toggle state is inspected first.
func (p *Provider) enableWebSearch(tab *browser.Tab) {
	for _, label := range []string{searchToggleLabel, deepSearchLabel} {
		active, found := tab.ToggleActive(label)
		if !found {
			continue
		}
		if active {
			p.logger.Debug("web search already enabled", "toggle", label)
			return
		}
		if tab.ClickText(label) {
			p.logger.Debug("web search enabled", "toggle", label)
		}
		return
	}
	p.logger.Debug("no web search toggle found")
}

func (p *Provider) waitForAnswer(ctx context.Context, tab *browser.Tab) string {
	sel := "body"
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
	if tab.ExistsText(stopLabel) || tab.ExistsText("停止") {
		p.logger.Warn("stop-generation control still visible after wait")
	}
	return text
}
