package routes

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/studiowebux/restcall/internal/types"
)

// AnyVerb is the universal verb marker accepted by every method
const AnyVerb = "ANY"

type variable struct {
	placeholder string // "{Id}" or "{Path*}" as written in the template
	name        string
	wildcard    bool
	property    int
}

// compiledRoute is a route bound to a descriptor's properties.
// Compilation runs once; its error is sticky for the lifetime of the descriptor.
type compiledRoute struct {
	route     types.Route
	once      sync.Once
	err       error
	variables []variable
}

// Result is the outcome of applying one route to a request
type Result struct {
	Route  types.Route
	URI    string
	Bound  []string // property names bound as path variables
	Reason string   // empty on success
}

// Matches reports whether the route applied cleanly
func (r Result) Matches() bool {
	return r.Reason == ""
}

func (c *compiledRoute) compile(d *Descriptor) error {
	c.once.Do(func() {
		c.variables, c.err = scanVariables(c.route.Path, d)
	})
	return c.err
}

func scanVariables(path string, d *Descriptor) ([]variable, error) {
	var variables []variable
	for _, segment := range strings.Split(path, "/") {
		open := strings.Count(segment, "{")
		closing := strings.Count(segment, "}")
		if open == 0 && closing == 0 {
			continue
		}
		switch {
		case open > 1 || closing > 1:
			return nil, fmt.Errorf("component '%s' can only have one variable", segment)
		case closing == 0:
			return nil, fmt.Errorf("component '%s' can not have a variable prefix without a suffix", segment)
		case open == 0:
			return nil, fmt.Errorf("component '%s' has a variable suffix without a prefix", segment)
		}

		start := strings.IndexByte(segment, '{')
		end := strings.IndexByte(segment, '}')
		if end < start {
			return nil, fmt.Errorf("component '%s' has a variable suffix without a prefix", segment)
		}

		name := segment[start+1 : end]
		wildcard := strings.HasSuffix(name, "*")
		name = strings.TrimSuffix(name, "*")
		if name == "" {
			return nil, fmt.Errorf("component '%s' has an empty variable", segment)
		}

		index, ok := d.property(name)
		if !ok {
			return nil, fmt.Errorf("variable '%s' does not match any property on '%s'", name, d.Name)
		}
		variables = append(variables, variable{
			placeholder: segment[start : end+1],
			name:        name,
			wildcard:    wildcard,
			property:    index,
		})
	}
	return variables, nil
}

// allows reports whether the route accepts the method
func (c *compiledRoute) allows(method string) bool {
	if len(c.route.Verbs) == 0 {
		return true
	}
	for _, verb := range c.route.Verbs {
		if strings.EqualFold(verb, method) || strings.EqualFold(verb, AnyVerb) {
			return true
		}
	}
	return false
}

func (c *compiledRoute) apply(d *Descriptor, fields []Field, method string) Result {
	result := Result{Route: c.route}

	if err := c.compile(d); err != nil {
		result.Reason = err.Error()
		return result
	}

	if !c.allows(method) {
		result.Reason = fmt.Sprintf("allowed HTTP methods '%s' do not support the specified '%s' method",
			strings.Join(c.route.Verbs, ", "), method)
		return result
	}

	uri := c.route.Path
	var unmatched []string
	for _, v := range c.variables {
		var field Field
		if v.property < len(fields) {
			field = fields[v.property]
		}
		if !field.IsSet() {
			if !v.wildcard {
				unmatched = append(unmatched, v.name)
				continue
			}
			uri = strings.Replace(uri, v.placeholder, "", 1)
			continue
		}

		value := formatValue(field.Value)
		if v.wildcard {
			value = escapeWildcard(value)
		} else {
			value = url.PathEscape(value)
		}
		uri = strings.Replace(uri, v.placeholder, value, 1)
		result.Bound = append(result.Bound, field.Name)
	}

	if len(unmatched) > 0 {
		result.Reason = "could not match following variables: " + strings.Join(unmatched, ",")
		return result
	}

	result.URI = uri
	return result
}

// escapeWildcard escapes each path segment of a wildcard value, keeping separators
func escapeWildcard(value string) string {
	segments := strings.Split(strings.TrimPrefix(value, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
