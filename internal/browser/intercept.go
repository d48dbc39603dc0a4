package browser

import (
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// MatchFunc decides whether a network response should be captured,
// given its URL and MIME type.
type MatchFunc func(url, mimeType string) bool

// MatchEndpoint matches event-stream responses plus any response whose
// URL contains one of the given fragments.
func MatchEndpoint(fragments ...string) MatchFunc {
	return func(url, mimeType string) bool {
		for _, f := range fragments {
			if f != "" && strings.Contains(url, f) {
				return true
			}
		}
		return strings.Contains(mimeType, "text/event-stream")
	}
}

// CaptureStream watches the tab's network traffic and hands every
// matched response body to sink once its download finishes. Bodies are
// fetched off the event goroutine so slow CDP round trips never stall
// page events. Capture lasts for the tab's lifetime.
func (t *Tab) CaptureStream(match MatchFunc, sink func(body string)) error {
	if err := t.Run(network.Enable()); err != nil {
		return err
	}

	var mu sync.Mutex
	pending := make(map[network.RequestID]string)

	chromedp.ListenTarget(t.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if match(e.Response.URL, e.Response.MimeType) {
				mu.Lock()
				pending[e.RequestID] = e.Response.URL
				mu.Unlock()
			}
		case *network.EventLoadingFinished:
			mu.Lock()
			url, ok := pending[e.RequestID]
			delete(pending, e.RequestID)
			mu.Unlock()
			if !ok {
				return
			}
			id := e.RequestID
			go func() {
				c := chromedp.FromContext(t.ctx)
				body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(t.ctx, c.Target))
				if err != nil {
					t.logger.Debug("response body fetch failed", "url", url, "error", err)
					return
				}
				sink(string(body))
			}()
		case *network.EventLoadingFailed:
			mu.Lock()
			delete(pending, e.RequestID)
			mu.Unlock()
		}
	})
	return nil
}
