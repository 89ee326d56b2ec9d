package mock

import "time"

// Path types of a route
const (
	PathTemplate = "template"
	PathExact    = "exact"
	PathPrefix   = "prefix"
	PathRegex    = "regex"
)

// Authentication schemes a mock service can demand
const (
	AuthBearer = "bearer"
	AuthBasic  = "basic"
	AuthDigest = "digest"
)

// Config represents the mock service configuration
type Config struct {
	Port    int         `json:"port" yaml:"port"`                     // Server port, 0 picks a free one
	Host    string      `json:"host" yaml:"host"`                     // Server host (default: localhost)
	Routes  []Route     `json:"routes" yaml:"routes"`                 // Route definitions
	Auth    *AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty"` // Authentication demanded by every route
	Logging bool        `json:"logging" yaml:"logging"`               // Enable request logging
}

// Route represents a mock route configuration
type Route struct {
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`               // Route description
	Method      string            `json:"method" yaml:"method"`                               // HTTP method, ANY matches all
	Path        string            `json:"path" yaml:"path"`                                   // URL path pattern
	PathType    string            `json:"pathType,omitempty" yaml:"pathType,omitempty"`       // template, exact, prefix, regex (default: template)
	Status      int               `json:"status" yaml:"status"`                               // HTTP status code
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`         // Response headers
	Body        string            `json:"body,omitempty" yaml:"body,omitempty"`               // Response body; {Var} is replaced by template variables
	BodyFile    string            `json:"bodyFile,omitempty" yaml:"bodyFile,omitempty"`       // Path to response body file
	Delay       int               `json:"delay,omitempty" yaml:"delay,omitempty"`             // Response delay in milliseconds
	Public      bool              `json:"public,omitempty" yaml:"public,omitempty"`           // Skip authentication
	Description string            `json:"description,omitempty" yaml:"description,omitempty"` // Route documentation
}

// AuthConfig describes the credentials a mock service accepts
type AuthConfig struct {
	Scheme   string   `json:"scheme" yaml:"scheme"` // bearer, basic or digest
	Realm    string   `json:"realm,omitempty" yaml:"realm,omitempty"`
	UserName string   `json:"userName,omitempty" yaml:"userName,omitempty"`
	Password string   `json:"password,omitempty" yaml:"password,omitempty"`
	Tokens   []string `json:"tokens,omitempty" yaml:"tokens,omitempty"` // accepted bearer tokens
	// RefreshToken enables the access token endpoint, which trades it for new bearer tokens
	RefreshToken    string `json:"refreshToken,omitempty" yaml:"refreshToken,omitempty"`
	AccessTokenPath string `json:"accessTokenPath,omitempty" yaml:"accessTokenPath,omitempty"` // default: /access-token
	Qop             string `json:"qop,omitempty" yaml:"qop,omitempty"`                         // digest qop offered, default: auth; "none" for RFC 2069
}

// RequestLog represents a logged request
type RequestLog struct {
	Timestamp   time.Time         `json:"timestamp"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	MatchedRule string            `json:"matchedRule"`
	Status      int               `json:"status"`
	Duration    time.Duration     `json:"duration"`
}
