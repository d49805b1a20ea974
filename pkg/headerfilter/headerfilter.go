// Package headerfilter removes transport-framing and edge-specific headers
// when forwarding a request upstream or relaying a response back to the
// caller. Both deny lists match header names case-insensitively.
package headerfilter

import (
	"net/http"
	"regexp"
	"strings"
)

// RequestDenyList covers headers that must be recomputed by the HTTP layer
// rather than forwarded stale to the upstream provider.
var RequestDenyList = compile(
	`^content-length$`,
	`^host$`,
	`^connection$`,
	`^accept-encoding$`,
	`^cf-.*$`,
	`^x-forwarded-.*$`,
)

// ResponseDenyList covers framing headers invalidated by re-serializing the
// response body.
var ResponseDenyList = compile(
	`^content-length$`,
	`^transfer-encoding$`,
	`^connection$`,
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Filter returns a copy of h without the headers whose name matches any
// pattern in the deny list. The input header is never modified.
func Filter(h http.Header, deny []*regexp.Regexp) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		if denied(name, deny) {
			continue
		}
		for _, v := range values {
			out.Add(name, v)
		}
	}
	return out
}

func denied(name string, deny []*regexp.Regexp) bool {
	lower := strings.ToLower(name)
	for _, pattern := range deny {
		if pattern.MatchString(lower) {
			return true
		}
	}
	return false
}
