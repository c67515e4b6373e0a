package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cafe-etl/internal/metrics"
)

// Backend performs one fetch over a single transport.
type Backend interface {
	Fetch(ctx context.Context, rawURL string) (Response, error)
}

// Throttle admits one request at a time.
type Throttle interface {
	Acquire(ctx context.Context) (func(), error)
}

// RouterConfig controls routing decisions.
type RouterConfig struct {
	// SessionHosts are hosts (and their subdomains) served through the browser session.
	SessionHosts []string
}

// Router is the single entry point for outbound requests.
type Router struct {
	session      Backend
	plain        Backend
	throttle     Throttle
	sessionHosts []string
	logger       *zap.Logger
}

// NewRouter wires the two fetch paths behind a shared throttle. session may be
// nil when no browser session was acquired.
func NewRouter(cfg RouterConfig, session, plain Backend, throttle Throttle, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	hosts := make([]string, 0, len(cfg.SessionHosts))
	for _, h := range cfg.SessionHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Router{
		session:      session,
		plain:        plain,
		throttle:     throttle,
		sessionHosts: hosts,
		logger:       logger,
	}
}

// RequiresSession reports whether rawURL targets a host that needs login.
func (r *Router) RequiresSession(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range r.sessionHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Fetch issues the request on the matching path once the throttle admits it.
// Errors are returned as-is to the caller; nothing is retried.
func (r *Router) Fetch(ctx context.Context, request Request) (Response, error) {
	useSession := request.RequiresSession || r.RequiresSession(request.URL)
	path, backend := PathPlain, r.plain
	if useSession {
		path, backend = PathSession, r.session
	}
	if backend == nil {
		if useSession {
			return Response{}, fmt.Errorf("fetch %s: %w", request.URL, ErrNoSession)
		}
		return Response{}, fmt.Errorf("fetch %s: no plain fetcher configured", request.URL)
	}

	release, err := r.acquire(ctx)
	if err != nil {
		return Response{}, err
	}
	defer release()

	start := time.Now()
	resp, err := backend.Fetch(ctx, request.URL)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveFetch(request.URL, path, "error", elapsed, 0)
		return Response{}, fmt.Errorf("fetch %s: %w", request.URL, err)
	}
	resp.UsedSession = useSession
	if resp.Duration == 0 {
		resp.Duration = elapsed
	}
	if resp.StatusCode >= http.StatusBadRequest {
		metrics.ObserveFetch(request.URL, path, "status", elapsed, len(resp.Body))
		return resp, fmt.Errorf("fetch %s: %w %d", request.URL, ErrBadStatus, resp.StatusCode)
	}
	metrics.ObserveFetch(request.URL, path, "ok", elapsed, len(resp.Body))
	r.logger.Debug("fetched",
		zap.String("path", path),
		zap.String("url", request.URL),
		zap.String("final_url", resp.FinalURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(resp.Body)),
	)
	return resp, nil
}

func (r *Router) acquire(ctx context.Context) (func(), error) {
	if r.throttle == nil {
		return func() {}, nil
	}
	release, err := r.throttle.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("throttle: %w", err)
	}
	return release, nil
}
