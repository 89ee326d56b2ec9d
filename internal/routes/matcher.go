package routes

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"

	"github.com/studiowebux/restcall/internal/types"
)

// DefaultBasePath prefixes the predefined route of request types without routes
const DefaultBasePath = "/json/reply/"

// knownMethods are the verbs a client may send, including WebDAV extensions
var knownMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodPatch:   true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
	http.MethodConnect: true,
	"PROPFIND":         true,
	"PROPPATCH":        true,
	"MKCOL":            true,
	"COPY":             true,
	"MOVE":             true,
	"LOCK":             true,
	"UNLOCK":           true,
	"REPORT":           true,
	"SEARCH":           true,
	"PURGE":            true,
}

// ValidMethod reports whether method is a known HTTP verb
func ValidMethod(method string) bool {
	return knownMethods[strings.ToUpper(method)]
}

// IsBodyless reports whether requests with this verb carry no body
func IsBodyless(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodDelete, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Error reports a request that could not be routed
type Error struct {
	Operation string
	Method    string
	Ambiguous bool
	Results   []Result
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Ambiguous {
		fmt.Fprintf(&sb, "ambiguous matching routes found for '%s' request:", e.Operation)
		for _, r := range e.Results {
			fmt.Fprintf(&sb, "\n  %s -> %s", r.Route.Path, r.URI)
		}
		return sb.String()
	}
	fmt.Fprintf(&sb, "none of the given rest routes matches '%s' %s request:", e.Operation, e.Method)
	for _, r := range e.Results {
		fmt.Fprintf(&sb, "\n  %s: %s", r.Route.Path, r.Reason)
	}
	return sb.String()
}

// Matcher resolves request values to relative URLs
type Matcher struct {
	// BasePath prefixes the predefined route; DefaultBasePath when empty
	BasePath string
}

var defaultMatcher = &Matcher{}

// Resolve resolves a request with the default base path
func Resolve(request any, method string) (string, *types.Route, error) {
	return defaultMatcher.Resolve(request, method)
}

// Resolve returns the relative URL for request sent with method and the route that
// produced it. The route is nil when the predefined route was used.
func (m *Matcher) Resolve(request any, method string) (string, *types.Route, error) {
	method = strings.ToUpper(method)
	desc := DescriptorFor(request)
	fields := Fields(request)

	if len(desc.routes) == 0 {
		uri := m.PredefinedPath(desc.Name)
		if IsBodyless(method) {
			uri = appendQuery(uri, queryString(fields, nil))
		}
		return uri, nil, nil
	}

	var results, matches []Result
	for _, route := range desc.routes {
		result := route.apply(desc, fields, method)
		results = append(results, result)
		if result.Matches() {
			matches = append(matches, result)
		}
	}

	if len(matches) == 0 {
		return "", nil, &Error{Operation: desc.Name, Method: method, Results: results}
	}

	best, ok := mostSpecific(matches)
	if !ok {
		return "", nil, &Error{Operation: desc.Name, Method: method, Ambiguous: true, Results: best}
	}

	uri := best[0].URI
	if IsBodyless(method) {
		uri = appendQuery(uri, queryString(fields, best[0].Bound))
	}
	route := best[0].Route
	return uri, &route, nil
}

// PredefinedPath returns the convention path for an operation
func (m *Matcher) PredefinedPath(operation string) string {
	return NormalizeBasePath(m.BasePath) + operation
}

// NormalizeBasePath ensures a base path has leading and trailing slashes
func NormalizeBasePath(basePath string) string {
	if basePath == "" {
		return DefaultBasePath
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}
	return basePath
}

// mostSpecific narrows matches to the best candidates: most bound variables, then lowest
// priority, then shortest template. It fails when the survivors bind different variables.
func mostSpecific(matches []Result) ([]Result, bool) {
	if len(matches) == 1 {
		return matches, true
	}

	best := filterBest(matches, func(r Result) int { return -len(r.Bound) })
	best = filterBest(best, func(r Result) int { return r.Route.Priority })
	best = filterBest(best, func(r Result) int { return len(r.Route.Path) })

	first := boundSet(best[0])
	for _, r := range best[1:] {
		if !slices.Equal(first, boundSet(r)) {
			return best, false
		}
	}
	return best, true
}

// filterBest keeps the results with the lowest score, preserving declaration order
func filterBest(results []Result, score func(Result) int) []Result {
	lowest := score(results[0])
	for _, r := range results[1:] {
		if s := score(r); s < lowest {
			lowest = s
		}
	}
	var out []Result
	for _, r := range results {
		if score(r) == lowest {
			out = append(out, r)
		}
	}
	return out
}

func boundSet(r Result) []string {
	names := make([]string, len(r.Bound))
	for i, n := range r.Bound {
		names[i] = strings.ToLower(n)
	}
	sort.Strings(names)
	return names
}

// QueryString encodes the request's set, query-visible properties in declaration order,
// skipping properties named in exclude
func QueryString(request any, exclude ...string) string {
	return queryString(Fields(request), exclude)
}

func queryString(fields []Field, exclude []string) string {
	var pairs []string
	for _, f := range fields {
		if f.SkipQuery || !f.IsSet() || containsFold(exclude, f.Name) {
			continue
		}
		pairs = append(pairs, url.QueryEscape(f.WireName)+"="+url.QueryEscape(formatValue(f.Value)))
	}
	return strings.Join(pairs, "&")
}

func appendQuery(uri, query string) string {
	if query == "" {
		return uri
	}
	if strings.Contains(uri, "?") {
		return uri + "&" + query
	}
	return uri + "?" + query
}

func containsFold(list []string, name string) bool {
	for _, s := range list {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}
