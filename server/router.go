// File: server/router.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Path routing. Static paths are looked up in a map; patterns with :name
// segments are compiled to anchored regular expressions and tried in
// registration order.

package server

import (
	"regexp"
	"strings"
	"sync"

	"github.com/aahoughton/cowboy/handler"
)

// Match is the result of a successful lookup.
type Match struct {
	Handler  handler.Handler
	Opts     any
	Bindings map[string]string
}

// Router maps a request path to a handler.
type Router interface {
	Lookup(path string) (Match, bool)
}

type route struct {
	re     *regexp.Regexp
	params []string
	h      handler.Handler
	opts   any
}

// Routes is the default Router.
type Routes struct {
	mu       sync.RWMutex
	static   map[string]route
	patterns []route
}

// NewRoutes creates an empty routing table.
func NewRoutes() *Routes {
	return &Routes{static: make(map[string]route)}
}

// Handle registers h for pattern. Segments of the form :name bind the
// matching path segment under name; a final "*" segment matches the rest
// of the path and binds it as "*". opts is passed to h.Init.
func (rs *Routes) Handle(pattern string, h handler.Handler, opts any) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if !strings.ContainsAny(pattern, ":*") {
		rs.static[pattern] = route{h: h, opts: opts}
		return
	}
	expr, params := convertToRegex(pattern)
	rs.patterns = append(rs.patterns, route{
		re:     regexp.MustCompile("^" + expr + "$"),
		params: params,
		h:      h,
		opts:   opts,
	})
}

// HandleFunc registers a plain function.
func (rs *Routes) HandleFunc(pattern string, fn handler.Func, opts any) {
	rs.Handle(pattern, fn, opts)
}

// Lookup implements Router.
func (rs *Routes) Lookup(path string) (Match, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	if r, ok := rs.static[path]; ok {
		return Match{Handler: r.h, Opts: r.opts}, true
	}
	for _, r := range rs.patterns {
		m := r.re.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		b := make(map[string]string, len(r.params))
		for i, name := range r.params {
			b[name] = m[i+1]
		}
		return Match{Handler: r.h, Opts: r.opts, Bindings: b}, true
	}
	return Match{}, false
}

// convertToRegex turns a parameterized route into a regex and the names of
// its capture groups.
func convertToRegex(pattern string) (string, []string) {
	parts := strings.Split(pattern, "/")
	out := make([]string, 0, len(parts))
	var params []string
	for i, part := range parts {
		switch {
		case strings.HasPrefix(part, ":"):
			out = append(out, `([^/]+)`)
			params = append(params, part[1:])
		case part == "*" && i == len(parts)-1:
			out = append(out, `(.*)`)
			params = append(params, "*")
		default:
			out = append(out, regexp.QuoteMeta(part))
		}
	}
	return strings.Join(out, "/"), params
}
