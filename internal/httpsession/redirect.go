package httpsession

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrTooManyRedirects is returned when a redirect chain exceeds the
// configured hop limit.
var ErrTooManyRedirects = errors.New("httpsession: too many redirects")

// redirectPolicy returns a CheckRedirect function enforcing maxRedirects
// hops: hop counting plus cross-origin header stripping, with the limit
// parameterized instead of fixed.
func redirectPolicy(maxRedirects int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			lastURL := via[len(via)-1].URL.String()
			return fmt.Errorf("%w: exceeded %d hops (last URL: %s)",
				ErrTooManyRedirects, maxRedirects, lastURL)
		}
		if len(via) > 0 {
			prev := via[len(via)-1]
			if isCrossOrigin(prev.URL, req.URL) {
				stripUnsafeHeaders(req)
			}
		}
		return nil
	}
}

func isCrossOrigin(a, b *url.URL) bool {
	return a.Host != b.Host
}

// safeHeaders survive a cross-origin redirect hop; everything else is
// stripped to avoid leaking credentials to a different host.
var safeHeaders = map[string]bool{
	"User-Agent":      true,
	"Accept":          true,
	"Accept-Language": true,
	"Accept-Encoding": true,
}

func stripUnsafeHeaders(req *http.Request) {
	for key := range req.Header {
		if !safeHeaders[http.CanonicalHeaderKey(key)] {
			req.Header.Del(key)
		}
	}
}
