// Package browser runs the headless Chrome sessions the browser-driven
// platforms are searched through. Each platform gets its own Chrome
// profile so logins survive restarts; a profile is used by at most one
// search at a time.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"geowatch/internal/logging"
)

// Manager owns one Chrome process per platform profile. Call Close to
// terminate them on shutdown.
type Manager struct {
	cfg    Config
	logger *logging.Logger

	mu       sync.Mutex
	profiles map[string]*profile
}

// profile is a platform's dedicated Chrome process. run is held for the
// whole duration of a search so the profile directory only ever has a
// single writer.
type profile struct {
	run sync.Mutex

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	lastUsed    time.Time
}

func NewManager(cfg Config, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.Component("browser"),
		profiles: make(map[string]*profile),
	}
}

// WithTab acquires the platform's profile, opens a fresh tab, runs fn,
// and closes the tab. The profile lock serializes searches on the same
// platform; different platforms run concurrently.
func (m *Manager) WithTab(ctx context.Context, platform string, fn func(tab *Tab) error) error {
	if m == nil {
		return fmt.Errorf("browser manager is nil")
	}
	p := m.profile(platform)

	p.run.Lock()
	defer p.run.Unlock()

	tab, cleanup, err := m.newTab(ctx, platform, p)
	if err != nil {
		// Chrome may have died since the last search; restart once.
		m.resetProfile(p)
		tab, cleanup, err = m.newTab(ctx, platform, p)
		if err != nil {
			return err
		}
	}
	defer cleanup()
	return fn(tab)
}

func (m *Manager) profile(platform string) *profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[platform]
	if !ok {
		p = &profile{}
		m.profiles[platform] = p
	}
	return p
}

// ensureAllocator lazily starts the profile's Chrome process. Must be
// called with p.mu held.
func (m *Manager) ensureAllocator(platform string, p *profile) error {
	if p.allocCtx != nil && p.allocCtx.Err() == nil {
		return nil
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("disable-gpu", m.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if path := strings.TrimSpace(m.cfg.ChromePath); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	if root := strings.TrimSpace(m.cfg.ProfileRoot); root != "" {
		dir := filepath.Join(root, platform)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create profile dir %s: %w", dir, err)
		}
		opts = append(opts, chromedp.UserDataDir(dir))
	}

	p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	m.logger.Info("chrome allocator started", "platform", platform)
	return nil
}

func (m *Manager) resetProfile(p *profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allocCancel != nil {
		p.allocCancel()
		p.allocCancel = nil
		p.allocCtx = nil
	}
}

func (m *Manager) newTab(ctx context.Context, platform string, p *profile) (*Tab, func(), error) {
	p.mu.Lock()
	if err := m.ensureAllocator(platform, p); err != nil {
		p.mu.Unlock()
		return nil, nil, err
	}
	allocCtx := p.allocCtx
	p.lastUsed = time.Now()
	p.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(allocCtx)
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-tabCtx.Done():
			}
		}()
	}
	if err := chromedp.Run(tabCtx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("open tab for %s: %w", platform, err)
	}

	tab := &Tab{
		ctx:     tabCtx,
		cfg:     m.cfg,
		logger:  m.logger.With("platform", platform),
		timeout: m.cfg.timeoutOrDefault(),
	}
	return tab, cancel, nil
}

// Close terminates every profile's Chrome process.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for platform, p := range m.profiles {
		p.mu.Lock()
		if p.allocCancel != nil {
			p.allocCancel()
			p.allocCancel = nil
			p.allocCtx = nil
		}
		p.mu.Unlock()
		delete(m.profiles, platform)
	}
}
