package fetcher

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubBackend struct {
	calls atomic.Int32
	resp  Response
	err   error
}

func (s *stubBackend) Fetch(_ context.Context, rawURL string) (Response, error) {
	s.calls.Add(1)
	if s.err != nil {
		return Response{}, s.err
	}
	resp := s.resp
	resp.URL = rawURL
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	return resp, nil
}

type countingThrottle struct {
	acquired atomic.Int32
	released atomic.Int32
}

func (c *countingThrottle) Acquire(context.Context) (func(), error) {
	c.acquired.Add(1)
	return func() { c.released.Add(1) }, nil
}

func TestRouterRoutesBySessionHost(t *testing.T) {
	t.Parallel()

	session, plain := &stubBackend{}, &stubBackend{}
	throttle := &countingThrottle{}
	r := NewRouter(RouterConfig{SessionHosts: []string{"apis.naver.com", " "}}, session, plain, throttle, zap.NewNop())

	resp, err := r.Fetch(context.Background(), Request{URL: "https://apis.naver.com/cafe-web/cafe-articleapi/v3/cafes/1/articles/2"})
	require.NoError(t, err)
	require.True(t, resp.UsedSession)

	resp, err = r.Fetch(context.Background(), Request{URL: "https://article.cafe.naver.com/gw/v3/cafes/1/articles/2"})
	require.NoError(t, err)
	require.False(t, resp.UsedSession)

	resp, err = r.Fetch(context.Background(), Request{URL: "https://blog.naver.com/PostView.naver", RequiresSession: true})
	require.NoError(t, err)
	require.True(t, resp.UsedSession)

	require.Equal(t, int32(2), session.calls.Load())
	require.Equal(t, int32(1), plain.calls.Load())
	require.Equal(t, int32(3), throttle.acquired.Load())
	require.Equal(t, int32(3), throttle.released.Load())
}

func TestRouterRequiresSessionSubdomain(t *testing.T) {
	t.Parallel()

	r := NewRouter(RouterConfig{SessionHosts: []string{"Naver.com"}}, nil, nil, nil, nil)
	require.True(t, r.RequiresSession("https://apis.naver.com/x"))
	require.True(t, r.RequiresSession("https://naver.com/x"))
	require.False(t, r.RequiresSession("https://notnaver.com/x"))
	require.False(t, r.RequiresSession("://bad"))
}

func TestRouterNoSession(t *testing.T) {
	t.Parallel()

	r := NewRouter(RouterConfig{}, nil, &stubBackend{}, nil, nil)
	_, err := r.Fetch(context.Background(), Request{URL: "https://apis.naver.com/x", RequiresSession: true})
	require.ErrorIs(t, err, ErrNoSession)
}

func TestRouterBadStatusAndBackendError(t *testing.T) {
	t.Parallel()

	plain := &stubBackend{resp: Response{StatusCode: http.StatusForbidden}}
	r := NewRouter(RouterConfig{}, nil, plain, nil, nil)
	resp, err := r.Fetch(context.Background(), Request{URL: "https://cafe.naver.com/a/1"})
	require.ErrorIs(t, err, ErrBadStatus)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	boom := errors.New("connection reset")
	r = NewRouter(RouterConfig{}, nil, &stubBackend{err: boom}, nil, nil)
	_, err = r.Fetch(context.Background(), Request{URL: "https://cafe.naver.com/a/1"})
	require.ErrorIs(t, err, boom)
}
