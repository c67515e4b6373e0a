// Package headless drives an interactive Chrome instance that holds the
// logged-in session for authenticated endpoints.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/cafe-etl/internal/fetcher"
)

// DefaultLoginURL is the page the operator logs in on.
const DefaultLoginURL = "https://nid.naver.com/nidlogin.login"

// ErrClosed is returned by Fetch after Close.
var ErrClosed = errors.New("session closed")

// Config controls the browser session.
type Config struct {
	LoginURL string
	// LoginWait is how long the operator has to log in. The session is handed
	// out afterwards whether or not the login succeeded.
	LoginWait time.Duration
	// Headless hides the browser window. Interactive login needs it off.
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	// RequestDelay is the pause before every session fetch.
	RequestDelay time.Duration
}

type runFunc func(ctx context.Context, actions ...chromedp.Action) error

// Session is a live browser that has been through the login window. It must
// be closed exactly once; Close is idempotent so every exit path may call it.
type Session struct {
	cfg    Config
	logger *zap.Logger
	run    runFunc

	allocCancel   context.CancelFunc
	browser       context.Context
	browserCancel context.CancelFunc
	meta          *responseMeta

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// Acquire launches the browser, opens the login page and blocks for the
// login window. Cancelling ctx during the wait closes the browser.
func Acquire(ctx context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	return acquire(ctx, cfg, logger, chromedp.Run)
}

func acquire(ctx context.Context, cfg Config, logger *zap.Logger, run runFunc) (*Session, error) {
	cfg = withDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browser, browserCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		cfg:           cfg,
		logger:        logger.Named("session"),
		run:           run,
		allocCancel:   allocCancel,
		browser:       browser,
		browserCancel: browserCancel,
		meta:          newResponseMeta(),
	}
	chromedp.ListenTarget(browser, s.meta.captureEvent)

	// The browser process is bound to the context of the first Run, so start
	// it on the tab context before any timeout is applied.
	if err := run(browser); err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	if err := s.runBounded(ctx, cfg.NavigationTimeout, s.setupAction(), chromedp.Navigate(cfg.LoginURL)); err != nil {
		s.Close()
		return nil, fmt.Errorf("open login page: %w", err)
	}

	s.logger.Info("waiting for login", zap.String("url", cfg.LoginURL), zap.Duration("wait", cfg.LoginWait))
	if err := sleep(ctx, cfg.LoginWait); err != nil {
		s.Close()
		return nil, fmt.Errorf("login wait: %w", err)
	}
	s.logger.Info("login window finished, starting crawl")
	return s, nil
}

// Fetch loads rawURL in the logged-in tab and returns the rendered document.
func (s *Session) Fetch(ctx context.Context, rawURL string) (fetcher.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fetcher.Response{}, ErrClosed
	}

	if err := sleep(ctx, s.cfg.RequestDelay); err != nil {
		return fetcher.Response{}, fmt.Errorf("session delay: %w", err)
	}

	s.meta.reset()
	var (
		html     string
		finalURL string
	)
	start := time.Now()
	err := s.runBounded(ctx, s.cfg.NavigationTimeout,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return fetcher.Response{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, headers, _ := s.meta.snapshotWithFallbacks(rawURL, finalURL)
	if finalURL == "" {
		finalURL = rawURL
	}
	return fetcher.Response{
		URL:         rawURL,
		FinalURL:    finalURL,
		StatusCode:  status,
		Headers:     headers,
		Body:        []byte(html),
		Encoding:    "utf-8",
		Duration:    time.Since(start),
		UsedSession: true,
	}, nil
}

// Close shuts the browser down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.browserCancel()
		s.allocCancel()
		s.logger.Info("browser closed")
	})
}

// runBounded runs actions in the browser tab, bounded by timeout and by the
// caller's ctx. The tab itself outlives both.
func (s *Session) runBounded(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.browser, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := s.run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func withDefaults(cfg Config) Config {
	if cfg.LoginURL == "" {
		cfg.LoginURL = DefaultLoginURL
	}
	if cfg.LoginWait < 0 {
		cfg.LoginWait = 0
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.RequestDelay < 0 {
		cfg.RequestDelay = 0
	}
	return cfg
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.headers = http.Header{}
	m.url = ""
	m.mu.Unlock()
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}
