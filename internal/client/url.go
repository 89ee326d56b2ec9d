package client

import (
	"strings"
)

// ToAbsoluteURL joins a relative URL with the base URI. URLs that already carry an
// http or https scheme are returned unchanged.
func (c *Client) ToAbsoluteURL(relativeOrAbsolute string) string {
	if hasHTTPScheme(relativeOrAbsolute) {
		return relativeOrAbsolute
	}
	base := c.baseURL.String()
	if relativeOrAbsolute == "" {
		return base
	}
	return base + "/" + strings.TrimPrefix(relativeOrAbsolute, "/")
}

// ResolveURLString applies Config.URLResolver to a relative or absolute URL and makes
// the result absolute
func (c *Client) ResolveURLString(method, relativeOrAbsolute string) string {
	if c.cfg.URLResolver != nil {
		if u := c.cfg.URLResolver(c, method, relativeOrAbsolute); u != "" {
			relativeOrAbsolute = u
		}
	}
	return c.ToAbsoluteURL(relativeOrAbsolute)
}

// ResolveURL returns the absolute URL for request sent with method.
// Config.TypedURLResolver is consulted before the route matcher.
func (c *Client) ResolveURL(method string, request any) (string, error) {
	if c.cfg.TypedURLResolver != nil {
		if u := c.cfg.TypedURLResolver(c, method, request); u != "" {
			return c.ToAbsoluteURL(u), nil
		}
	}
	relative, _, err := c.matcher.Resolve(request, method)
	if err != nil {
		return "", err
	}
	return c.ResolveURLString(method, relative), nil
}

// PredefinedURL returns the absolute convention URL of an operation
func (c *Client) PredefinedURL(method, operation string) string {
	return c.ResolveURLString(method, c.matcher.PredefinedPath(operation))
}

func hasHTTPScheme(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http:") || strings.HasPrefix(lower, "https:")
}

// methodFor picks the verb Send uses when the caller passed none
func (c *Client) methodFor(request any) string {
	if v, ok := request.(Verber); ok {
		if m := v.HTTPMethod(); m != "" {
			return strings.ToUpper(m)
		}
	}
	if c.cfg.DefaultMethod != "" {
		return strings.ToUpper(c.cfg.DefaultMethod)
	}
	return "POST"
}
