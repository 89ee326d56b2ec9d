// Package client sends typed request DTOs to a remote service and decodes typed responses.
//
// A Client resolves each request to a URL through its declared routes (or the predefined
// /json/reply/{Operation} convention), sends it, and classifies the response. Unauthorized
// responses are recovered once, either by exchanging the refresh token for a new bearer
// token or by replaying with Basic or Digest credentials.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/studiowebux/restcall/internal/auth"
	"github.com/studiowebux/restcall/internal/codec"
	"github.com/studiowebux/restcall/internal/compress"
	"github.com/studiowebux/restcall/internal/routes"
	"github.com/studiowebux/restcall/internal/types"
)

// Conventional cookie names
const (
	TokenCookie        = "ss-tok"
	RefreshTokenCookie = "ss-reftok"
	SessionIDCookie    = "ss-id"
	PermSessionCookie  = "ss-pid"
	SessionOptsCookie  = "ss-opt"
)

const (
	DefaultOneWayPath      = "/json/oneway/"
	DefaultRefreshTokenURI = "/access-token"
	DefaultTimeout         = 30 * time.Second
)

// RequestFilter may modify an outgoing request before it is sent
type RequestFilter func(req *http.Request)

// ResponseFilter observes a response before its body is read
type ResponseFilter func(resp *http.Response)

// ResultsFilter may return a cached or mocked response. A non-nil result assignable to
// the response target is returned without any network I/O.
type ResultsFilter func(method, url string, request any) any

// ResultsFilterResponse observes a decoded response, e.g. to populate a cache
type ResultsFilterResponse func(resp *http.Response, response any, method, url string, request any)

// ExceptionFilter may turn a service error into a response. A non-nil result assignable
// to the response target replaces the error.
type ExceptionFilter func(err *ServiceError, method, url string, request any) any

// Filters are request and response hooks shared by several clients.
// They run after a client's own filters.
type Filters struct {
	mu       sync.RWMutex
	request  []RequestFilter
	response []ResponseFilter
}

// AddRequestFilter appends a request hook
func (f *Filters) AddRequestFilter(filter RequestFilter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.request = append(f.request, filter)
}

// AddResponseFilter appends a response hook
func (f *Filters) AddResponseFilter(filter ResponseFilter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.response = append(f.response, filter)
}

func (f *Filters) requestFilters() []RequestFilter {
	if f == nil {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]RequestFilter(nil), f.request...)
}

func (f *Filters) responseFilters() []ResponseFilter {
	if f == nil {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]ResponseFilter(nil), f.response...)
}

// Config is the configuration of a Client. The client keeps the pointer it was built
// with; both the blocking and the async paths read it.
type Config struct {
	BaseURI    string
	BasePath   string // predefined route prefix, routes.DefaultBasePath when empty
	OneWayPath string // DefaultOneWayPath when empty

	// DefaultMethod is used by Send when neither the caller nor the request names a verb
	DefaultMethod string

	Headers http.Header

	UserName            string
	Password            string
	AlwaysSendBasicAuth bool

	BearerToken             string
	RefreshToken            string
	RefreshTokenURI         string
	DisableAutoRefreshToken bool
	UseTokenCookie          bool

	DisableAutoCompression bool
	RequestCompressionType string

	Proxy               string
	DisableAutoRedirect bool
	Timeout             time.Duration
	TLS                 *types.TLSConfig

	RateLimit float64 // requests per second, unlimited when zero
	RateBurst int

	RequestIDHeader string
	Version         int
	SessionID       string

	Codec       codec.Codec
	Compressors *compress.Registry
	HTTPClient  *http.Client
	Logger      logrus.FieldLogger

	RequestFilter         RequestFilter
	ResponseFilter        ResponseFilter
	GlobalFilters         *Filters
	ResultsFilter         ResultsFilter
	ResultsFilterResponse ResultsFilterResponse
	ExceptionFilter       ExceptionFilter

	// OnAuthenticationRequired runs before credentials are replayed after a 401
	OnAuthenticationRequired func(c *Client)
	// OnTokenRefreshed receives each access token obtained with the refresh token
	OnTokenRefreshed func(accessToken string)

	// TypedURLResolver overrides the URL of a request; an empty result falls through
	TypedURLResolver func(c *Client, method string, request any) string
	// URLResolver rewrites every resolved absolute URL
	URLResolver func(c *Client, method, url string) string
}

// Versioned requests receive Config.Version before they are sent
type Versioned interface {
	SetVersion(version int)
}

// Verber requests name their own HTTP method for Send
type Verber interface {
	HTTPMethod() string
}

// Client sends requests for one service
type Client struct {
	cfg        *Config
	baseURL    *url.URL
	httpClient *http.Client
	jar        http.CookieJar
	matcher    *routes.Matcher
	limiter    *rate.Limiter
	codec      codec.Codec
	compress   *compress.Registry
	log        logrus.FieldLogger

	mu           sync.RWMutex
	bearerToken  string
	refreshToken string
	userName     string
	password     string
	authInfo     *auth.Info

	refreshGroup singleflight.Group

	requests atomic.Int64
	inFlight atomic.Int64
}

// New builds a client for cfg
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("client config is required")
	}

	baseURL, err := url.Parse(strings.TrimSuffix(cfg.BaseURI, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URI %q: %w", cfg.BaseURI, err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("base URI %q must be an absolute http(s) URL", cfg.BaseURI)
	}

	c := &Client{
		cfg:          cfg,
		baseURL:      baseURL,
		matcher:      &routes.Matcher{BasePath: cfg.BasePath},
		codec:        cfg.Codec,
		compress:     cfg.Compressors,
		log:          cfg.Logger,
		bearerToken:  cfg.BearerToken,
		refreshToken: cfg.RefreshToken,
		userName:     cfg.UserName,
		password:     cfg.Password,
	}
	if c.codec == nil {
		c.codec = codec.JSON{}
	}
	if c.compress == nil {
		c.compress = compress.Default
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	c.log = c.log.WithField("baseURI", baseURL.String())

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	if c.httpClient, err = buildHTTPClient(cfg); err != nil {
		return nil, err
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		c.httpClient.Jar = jar
	}
	c.jar = c.httpClient.Jar

	if cfg.SessionID != "" {
		c.SetCookie(SessionIDCookie, cfg.SessionID)
	}
	return c, nil
}

// Config returns the configuration the client was built with
func (c *Client) Config() *Config {
	return c.cfg
}

// BaseURL returns the parsed base URI
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// BearerToken returns the current access token
func (c *Client) BearerToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bearerToken
}

// SetBearerToken replaces the access token
func (c *Client) SetBearerToken(token string) {
	c.mu.Lock()
	c.bearerToken = token
	c.mu.Unlock()
}

// RefreshToken returns the refresh token, falling back to the refresh token cookie
func (c *Client) RefreshToken() string {
	c.mu.RLock()
	token := c.refreshToken
	c.mu.RUnlock()
	if token == "" {
		token = c.Cookie(RefreshTokenCookie)
	}
	return token
}

// SetRefreshToken replaces the refresh token
func (c *Client) SetRefreshToken(token string) {
	c.mu.Lock()
	c.refreshToken = token
	c.mu.Unlock()
}

// SetCredentials sets the user name and password used for Basic and Digest auth
func (c *Client) SetCredentials(userName, password string) {
	c.mu.Lock()
	c.userName = userName
	c.password = password
	c.mu.Unlock()
}

func (c *Client) credentials() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userName, c.password
}

func (c *Client) storedAuthInfo() *auth.Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authInfo
}

func (c *Client) setAuthInfo(info *auth.Info) {
	c.mu.Lock()
	c.authInfo = info
	c.mu.Unlock()
}

// Cookie returns the value of a cookie stored for the base URI
func (c *Client) Cookie(name string) string {
	for _, cookie := range c.jar.Cookies(c.baseURL) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

// Cookies returns all cookies stored for the base URI
func (c *Client) Cookies() []*http.Cookie {
	return c.jar.Cookies(c.baseURL)
}

// SetCookie stores a cookie for the base URI
func (c *Client) SetCookie(name, value string) {
	c.jar.SetCookies(c.baseURL, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

// DeleteCookie expires a cookie for the base URI
func (c *Client) DeleteCookie(name string) {
	c.jar.SetCookies(c.baseURL, []*http.Cookie{{Name: name, Path: "/", MaxAge: -1}})
}

// TokenCookie returns the bearer token cookie
func (c *Client) TokenCookie() string {
	return c.Cookie(TokenCookie)
}

// SessionID returns the session id cookie
func (c *Client) SessionID() string {
	return c.Cookie(SessionIDCookie)
}

// SetSessionID stores the session id cookie
func (c *Client) SetSessionID(id string) {
	c.SetCookie(SessionIDCookie, id)
}

// Stats are diagnostic counters
type Stats struct {
	Requests int64
	InFlight int64
}

// Stats returns the request counters
func (c *Client) Stats() Stats {
	return Stats{Requests: c.requests.Load(), InFlight: c.inFlight.Load()}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) oneWayPath() string {
	if c.cfg.OneWayPath == "" {
		return DefaultOneWayPath
	}
	return routes.NormalizeBasePath(c.cfg.OneWayPath)
}
