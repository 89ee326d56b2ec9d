package types

import (
	"strings"
	"time"
)

// Route is a route template declared by a request type
type Route struct {
	Path     string   `json:"path" yaml:"path"`
	Verbs    []string `json:"verbs,omitempty" yaml:"verbs,omitempty"`
	Priority int      `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// NewRoute builds a route from a path and an optional comma separated verb list
// ("GET", "GET,POST", "ANY")
func NewRoute(path string, verbs string) Route {
	return Route{Path: path, Verbs: splitVerbs(verbs)}
}

// WithPriority returns a copy of the route with the given priority
func (r Route) WithPriority(priority int) Route {
	r.Priority = priority
	return r
}

// ResponseStatus is the structured error carried by error responses
type ResponseStatus struct {
	ErrorCode  string            `json:"errorCode,omitempty" yaml:"errorCode,omitempty"`
	Message    string            `json:"message,omitempty" yaml:"message,omitempty"`
	StackTrace string            `json:"stackTrace,omitempty" yaml:"stackTrace,omitempty"`
	Errors     []ResponseError   `json:"errors,omitempty" yaml:"errors,omitempty"`
	Meta       map[string]string `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// ResponseError is a single field-level error
type ResponseError struct {
	ErrorCode string            `json:"errorCode,omitempty" yaml:"errorCode,omitempty"`
	FieldName string            `json:"fieldName,omitempty" yaml:"fieldName,omitempty"`
	Message   string            `json:"message,omitempty" yaml:"message,omitempty"`
	Meta      map[string]string `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// HasResponseStatus is implemented by response DTOs that carry a ResponseStatus
type HasResponseStatus interface {
	GetResponseStatus() *ResponseStatus
}

// ErrorResponse is the generic error envelope used when no better type is known
type ErrorResponse struct {
	ResponseStatus *ResponseStatus `json:"responseStatus,omitempty" yaml:"responseStatus,omitempty"`
}

// GetResponseStatus implements HasResponseStatus
func (e *ErrorResponse) GetResponseStatus() *ResponseStatus {
	return e.ResponseStatus
}

// GetAccessToken exchanges a refresh token for a new access token
type GetAccessToken struct {
	RefreshToken   string `json:"refreshToken,omitempty"`
	UseTokenCookie bool   `json:"useTokenCookie,omitempty"`
}

// Routes implements the route provider contract used by the route matcher
func (GetAccessToken) Routes() []Route {
	return []Route{NewRoute("/access-token", "")}
}

// GetAccessTokenResponse is returned by the refresh endpoint
type GetAccessTokenResponse struct {
	AccessToken    string          `json:"accessToken,omitempty"`
	ResponseStatus *ResponseStatus `json:"responseStatus,omitempty"`
}

// GetResponseStatus implements HasResponseStatus
func (r *GetAccessTokenResponse) GetResponseStatus() *ResponseStatus {
	return r.ResponseStatus
}

// TLSConfig contains TLS/mTLS settings for outgoing connections
type TLSConfig struct {
	CertFile           string `json:"certFile,omitempty" yaml:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty" yaml:"keyFile,omitempty"`
	CAFile             string `json:"caFile,omitempty" yaml:"caFile,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}

// Session represents state persisted between CLI runs
type Session struct {
	ActiveProfile  string                  `json:"activeProfile,omitempty"`
	HistoryEnabled *bool                   `json:"historyEnabled,omitempty"`
	Tokens         map[string]SessionToken `json:"tokens,omitempty"` // key: profile name
}

// SessionToken holds the credentials obtained for a profile
type SessionToken struct {
	BearerToken  string    `json:"bearerToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"` // oauth access token expiry
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// RequestResult is the CLI view of a completed call
type RequestResult struct {
	Operation    string            `json:"operation,omitempty" yaml:"operation,omitempty"`
	Method       string            `json:"method" yaml:"method"`
	URL          string            `json:"url" yaml:"url"`
	Status       int               `json:"status" yaml:"status"`
	StatusText   string            `json:"statusText" yaml:"statusText"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body         string            `json:"body" yaml:"body"`
	Duration     int64             `json:"duration" yaml:"duration"` // milliseconds
	ResponseSize int               `json:"responseSize" yaml:"responseSize"`
	ErrorCode    string            `json:"errorCode,omitempty" yaml:"errorCode,omitempty"`
	Error        string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// HistoryEntry represents a recorded call
type HistoryEntry struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	ProfileName string    `json:"profileName,omitempty"`
	RequestFile string    `json:"requestFile,omitempty"`
	Operation   string    `json:"operation"`
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	Status      int       `json:"status"`
	StatusText  string    `json:"statusText,omitempty"`
	ErrorCode   string    `json:"errorCode,omitempty"`
	Duration    int64     `json:"duration"` // milliseconds
	Size        int       `json:"size"`
	Error       string    `json:"error,omitempty"`
}

func splitVerbs(verbs string) []string {
	fields := strings.FieldsFunc(verbs, func(r rune) bool {
		return r == ',' || r == ' '
	})
	for i := range fields {
		fields[i] = strings.ToUpper(fields[i])
	}
	return fields
}

// Profile is a named set of client settings
type Profile struct {
	Name                   string            `json:"name" yaml:"name"`
	BaseURL                string            `json:"baseUrl" yaml:"baseUrl"`
	BasePath               string            `json:"basePath,omitempty" yaml:"basePath,omitempty"`
	Workdir                string            `json:"workdir,omitempty" yaml:"workdir,omitempty"` // request files, relative to the config directory
	Headers                map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	UserName               string            `json:"userName,omitempty" yaml:"userName,omitempty"`
	Password               string            `json:"password,omitempty" yaml:"password,omitempty"`
	BearerToken            string            `json:"bearerToken,omitempty" yaml:"bearerToken,omitempty"`
	RefreshToken           string            `json:"refreshToken,omitempty" yaml:"refreshToken,omitempty"`
	RefreshTokenURI        string            `json:"refreshTokenUri,omitempty" yaml:"refreshTokenUri,omitempty"`
	AutoRefreshToken       *bool             `json:"autoRefreshToken,omitempty" yaml:"autoRefreshToken,omitempty"`
	UseTokenCookie         bool              `json:"useTokenCookie,omitempty" yaml:"useTokenCookie,omitempty"`
	AlwaysSendBasicAuth    bool              `json:"alwaysSendBasicAuth,omitempty" yaml:"alwaysSendBasicAuth,omitempty"`
	RequestCompression     string            `json:"requestCompression,omitempty" yaml:"requestCompression,omitempty"` // gzip, deflate
	DisableAutoCompression bool              `json:"disableAutoCompression,omitempty" yaml:"disableAutoCompression,omitempty"`
	Proxy                  string            `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	AllowAutoRedirect      *bool             `json:"allowAutoRedirect,omitempty" yaml:"allowAutoRedirect,omitempty"`
	Timeout                string            `json:"timeout,omitempty" yaml:"timeout,omitempty"` // Go duration, e.g. "30s"
	RateLimit              float64           `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"` // requests per second
	RateBurst              int               `json:"rateBurst,omitempty" yaml:"rateBurst,omitempty"`
	Version                int               `json:"version,omitempty" yaml:"version,omitempty"`
	TLS                    *TLSConfig        `json:"tls,omitempty" yaml:"tls,omitempty"`
	OAuth                  *OAuthConfig      `json:"oauth,omitempty" yaml:"oauth,omitempty"`
	Output                 string            `json:"output,omitempty" yaml:"output,omitempty"` // json, yaml, text, body
	HistoryEnabled         *bool             `json:"historyEnabled,omitempty" yaml:"historyEnabled,omitempty"`
}

// OAuthConfig contains OAuth 2.0 authorization code settings
type OAuthConfig struct {
	AuthURL      string   `json:"authUrl" yaml:"authUrl"`
	TokenURL     string   `json:"tokenUrl" yaml:"tokenUrl"`
	ClientID     string   `json:"clientId" yaml:"clientId"`
	ClientSecret string   `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty"`
	RedirectURI  string   `json:"redirectUri,omitempty" yaml:"redirectUri,omitempty"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	CallbackPort int      `json:"callbackPort,omitempty" yaml:"callbackPort,omitempty"`
}
