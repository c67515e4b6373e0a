// Package fetcher routes outbound requests either through the authenticated
// browser session or through the plain HTTP path, one request at a time, and
// normalizes what comes back.
package fetcher

import (
	"errors"
	"net/http"
	"time"
)

// Fetch paths, used as metric and log labels.
const (
	PathSession = "session"
	PathPlain   = "plain"
)

var (
	// ErrNoSession is returned when a request needs the browser session but none was acquired.
	ErrNoSession = errors.New("no authenticated session available")
	// ErrBadStatus is returned for HTTP error statuses.
	ErrBadStatus = errors.New("unexpected status code")
	// ErrNoJSON is returned when a body carries no JSON object.
	ErrNoJSON = errors.New("response carries no JSON object")
)

// Request captures everything needed to fetch a URL.
type Request struct {
	URL string
	// RequiresSession forces the browser path even for hosts the router
	// would otherwise send down the plain path.
	RequiresSession bool
}

// Response is the normalized result of either fetch path.
type Response struct {
	// URL is the URL that was requested.
	URL string
	// FinalURL is the URL after redirects.
	FinalURL    string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Encoding    string
	Duration    time.Duration
	UsedSession bool
}

// Location returns the final URL, falling back to the requested one.
func (r Response) Location() string {
	if r.FinalURL != "" {
		return r.FinalURL
	}
	return r.URL
}
