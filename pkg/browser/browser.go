// Package browser drives a shared Chrome instance through go-rod. A single
// Manager owns the browser; all access is serialized through its mutex so
// concurrent agent sessions never race on page state.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const maxPageText = 8000

// Manager handles the Chrome browser lifecycle and page navigation.
type Manager struct {
	mu       sync.Mutex
	browser  *rod.Browser
	page     *rod.Page
	headless bool
	logger   *slog.Logger
	// Links of the last snapshot, for click-by-index.
	lastLinks []Element
}

// Option configures a Manager.
type Option func(*Manager)

// WithHeadless sets headless mode (default true).
func WithHeadless(h bool) Option {
	return func(m *Manager) { m.headless = h }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager with options.
func New(opts ...Option) *Manager {
	m := &Manager{
		headless: true,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start launches a Chrome browser.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		return fmt.Errorf("browser already running")
	}

	l := launcher.New().
		Headless(m.headless).
		Set("disable-gpu").
		Set("no-first-run").
		Set("no-default-browser-check")

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch Chrome: %w", err)
	}

	m.logger.Info("Chrome launched", "cdp", controlURL, "headless", m.headless)

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to Chrome: %w", err)
	}

	m.browser = b
	return nil
}

// Stop closes the Chrome browser.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return nil
	}

	err := m.browser.Close()
	m.browser = nil
	m.page = nil
	m.lastLinks = nil
	return err
}

// Status returns current browser status.
func (m *Manager) Status() *StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser == nil {
		return &StatusInfo{Running: false}
	}
	info := &StatusInfo{Running: true}
	if m.page != nil {
		if pi, err := m.page.Info(); err == nil {
			info.URL = pi.URL
			info.Title = pi.Title
		}
	}
	return info
}

// Navigate loads a URL and returns the scored interactive elements of the
// resulting page, highest score first, capped at maxResults.
func (m *Manager) Navigate(ctx context.Context, target string, maxResults int) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page, err := m.currentPage()
	if err != nil {
		return nil, err
	}
	if err := page.Context(ctx).Navigate(target); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", target, err)
	}
	waitStable(page)

	return m.snapshotLocked(page, maxResults)
}

// ClickLink follows a link by its index in the last snapshot and returns
// the new page's snapshot.
func (m *Manager) ClickLink(ctx context.Context, index, maxResults int) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.lastLinks) {
		return nil, fmt.Errorf("link index %d out of range (have %d links), navigate first", index, len(m.lastLinks))
	}
	target := m.lastLinks[index].URL
	if target == "" {
		return nil, fmt.Errorf("link %d has no URL", index)
	}

	page, err := m.currentPage()
	if err != nil {
		return nil, err
	}
	if err := page.Context(ctx).Navigate(target); err != nil {
		return nil, fmt.Errorf("follow link %d (%s): %w", index, target, err)
	}
	waitStable(page)

	return m.snapshotLocked(page, maxResults)
}

// Back navigates to the previous page in history.
func (m *Manager) Back(ctx context.Context, maxResults int) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page, err := m.currentPage()
	if err != nil {
		return nil, err
	}
	if err := page.Context(ctx).NavigateBack(); err != nil {
		return nil, fmt.Errorf("navigate back: %w", err)
	}
	waitStable(page)

	return m.snapshotLocked(page, maxResults)
}

// PageText returns the readable text of the current page: lines with more
// than three words, truncated to a model-friendly size.
func (m *Manager) PageText(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page, err := m.currentPage()
	if err != nil {
		return "", err
	}

	body, err := page.Context(ctx).Element("body")
	if err != nil {
		return "", fmt.Errorf("page body: %w", err)
	}
	raw, err := body.Text()
	if err != nil {
		return "", fmt.Errorf("page text: %w", err)
	}
	return CleanPageText(raw), nil
}

// currentPage returns the shared page, creating it lazily.
// Must be called with m.mu held.
func (m *Manager) currentPage() (*rod.Page, error) {
	if m.browser == nil {
		return nil, fmt.Errorf("browser not running")
	}
	if m.page != nil {
		return m.page, nil
	}
	page, err := m.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	m.page = page
	return page, nil
}

// snapshotLocked extracts, scores and sorts the page's interactive
// elements. Must be called with m.mu held.
func (m *Manager) snapshotLocked(page *rod.Page, maxResults int) (*Snapshot, error) {
	if maxResults <= 0 {
		maxResults = 20
	}

	info, _ := page.Info()
	snap := &Snapshot{}
	if info != nil {
		snap.URL = info.URL
		snap.Title = info.Title
	}

	links := extractLinks(page, snap.URL, maxResults)
	buttons := extractButtons(page)
	forms := extractForms(page)

	snap.LinkCount = len(links)
	snap.FormCount = len(forms)

	elements := make([]Element, 0, len(links)+len(buttons)+len(forms))
	elements = append(elements, links...)
	elements = append(elements, buttons...)
	elements = append(elements, forms...)

	sort.SliceStable(elements, func(i, j int) bool {
		return elements[i].Score > elements[j].Score
	})
	if len(elements) > maxResults {
		elements = elements[:maxResults]
	}
	snap.Elements = elements

	m.lastLinks = links
	return snap, nil
}

func extractLinks(page *rod.Page, pageURL string, max int) []Element {
	anchors, err := page.Elements("a[href]")
	if err != nil {
		return nil
	}

	base, _ := url.Parse(pageURL)
	var links []Element
	for _, a := range anchors {
		if len(links) >= max {
			break
		}
		text, _ := a.Text()
		text = strings.TrimSpace(text)
		href, _ := a.Attribute("href")
		if href == nil || *href == "" || strings.HasPrefix(*href, "javascript:") {
			continue
		}

		abs := *href
		domain := ""
		if base != nil {
			if u, err := base.Parse(*href); err == nil {
				abs = u.String()
				domain = u.Hostname()
			}
		}

		links = append(links, Element{
			Type:   ElementLink,
			Text:   text,
			URL:    abs,
			Domain: domain,
			Index:  len(links),
			Score:  ScoreText(text),
		})
	}
	return links
}

func extractButtons(page *rod.Page) []Element {
	nodes, err := page.Elements(`button, input[type="submit"], input[type="button"]`)
	if err != nil {
		return nil
	}

	var buttons []Element
	for i, b := range nodes {
		text, _ := b.Text()
		text = strings.TrimSpace(text)
		if text == "" {
			if v, _ := b.Attribute("value"); v != nil {
				text = *v
			}
		}
		buttons = append(buttons, Element{
			Type:  ElementButton,
			Text:  text,
			Index: i,
			Score: ScoreText(text),
		})
	}
	return buttons
}

func extractForms(page *rod.Page) []Element {
	nodes, err := page.Elements("form")
	if err != nil {
		return nil
	}

	var forms []Element
	for i, f := range nodes {
		action := ""
		if a, _ := f.Attribute("action"); a != nil {
			action = *a
		}
		method := "GET"
		if mth, _ := f.Attribute("method"); mth != nil && *mth != "" {
			method = strings.ToUpper(*mth)
		}

		var inputs []string
		if fields, err := f.Elements("input[name], textarea[name], select[name]"); err == nil {
			for _, field := range fields {
				if n, _ := field.Attribute("name"); n != nil {
					inputs = append(inputs, *n)
				}
			}
		}

		forms = append(forms, Element{
			Type:   ElementForm,
			Action: action,
			Method: method,
			Inputs: inputs,
			Index:  i,
			Score:  formScore,
		})
	}
	return forms
}

// CleanPageText keeps lines with more than three words and truncates to a
// model-friendly size.
func CleanPageText(raw string) string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if len(strings.Fields(line)) > 3 {
			lines = append(lines, line)
		}
	}
	cleaned := strings.Join(lines, "\n")
	if len(cleaned) > maxPageText {
		cleaned = cleaned[:maxPageText] + "\n\n... (content truncated)"
	}
	return cleaned
}

// waitStable waits for the page to settle (no network/DOM activity).
func waitStable(page *rod.Page) {
	_ = page.WaitStable(300 * time.Millisecond)
}
