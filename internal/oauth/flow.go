// Package oauth obtains access tokens with the OAuth 2.0 authorization code flow and PKCE.
package oauth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/studiowebux/restcall/internal/client"
	"github.com/studiowebux/restcall/internal/types"
)

const (
	// OAuthCallbackTimeout is the maximum time to wait for OAuth callback
	OAuthCallbackTimeout = 5 * time.Minute
	// TokenRequestTimeout is the timeout for token exchange HTTP requests
	TokenRequestTimeout = 30 * time.Second
)

// NewConfig converts profile OAuth settings into an oauth2 configuration
func NewConfig(oc *types.OAuthConfig, redirectURL string) *oauth2.Config {
	if redirectURL == "" {
		redirectURL = oc.RedirectURI
	}
	return &oauth2.Config{
		ClientID:     oc.ClientID,
		ClientSecret: oc.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  oc.AuthURL,
			TokenURL: oc.TokenURL,
		},
		RedirectURL: redirectURL,
		Scopes:      oc.Scopes,
	}
}

// StartFlow runs the authorization code flow: it serves the redirect URI locally, hands
// the authorization URL to open and exchanges the returned code for a token
func StartFlow(ctx context.Context, oc *types.OAuthConfig, open func(authURL string) error) (*oauth2.Token, error) {
	if oc == nil || oc.AuthURL == "" || oc.TokenURL == "" || oc.ClientID == "" {
		return nil, fmt.Errorf("oauth requires authUrl, tokenUrl and clientId")
	}

	port, path, err := callbackAddress(oc)
	if err != nil {
		return nil, err
	}

	server := NewCallbackServer(port, path)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}
	defer server.Shutdown(context.Background())

	redirectURL := oc.RedirectURI
	if redirectURL == "" {
		redirectURL = server.RedirectURL()
	}
	cfg := NewConfig(oc, redirectURL)

	pkce := GeneratePKCEPair()
	// state guards against forged redirects
	state := oauth2.GenerateVerifier()

	authURL := cfg.AuthCodeURL(state, pkce.AuthOptions()...)
	if err := open(authURL); err != nil {
		return nil, fmt.Errorf("failed to open browser: %w\nPlease visit: %s", err, authURL)
	}

	result, err := server.WaitForCallback(ctx, OAuthCallbackTimeout)
	if err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("authorization failed: %s", result.Error)
	}
	if result.Code == "" {
		return nil, fmt.Errorf("no authorization code received")
	}
	if result.State != state {
		return nil, fmt.Errorf("state mismatch (possible CSRF attack)")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: TokenRequestTimeout})
	token, err := cfg.Exchange(ctx, result.Code, pkce.ExchangeOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	return token, nil
}

// callbackAddress takes the port and path from the configured redirect URI
func callbackAddress(oc *types.OAuthConfig) (int, string, error) {
	if oc.RedirectURI == "" {
		return oc.CallbackPort, "/callback", nil
	}

	u, err := url.Parse(oc.RedirectURI)
	if err != nil {
		return 0, "", fmt.Errorf("invalid redirect URI %q: %w", oc.RedirectURI, err)
	}
	port := oc.CallbackPort
	if p := u.Port(); p != "" && port == 0 {
		if port, err = strconv.Atoi(p); err != nil {
			return 0, "", fmt.Errorf("invalid redirect URI port %q: %w", p, err)
		}
	}
	if port == 0 {
		return 0, "", fmt.Errorf("redirect URI %q needs an explicit port", oc.RedirectURI)
	}
	if host := u.Hostname(); host != "localhost" && net.ParseIP(host) == nil {
		return 0, "", fmt.Errorf("redirect URI %q must point to the loopback interface", oc.RedirectURI)
	}
	return port, u.Path, nil
}

// TokenSource refreshes token through the token endpoint when it expires
func TokenSource(ctx context.Context, oc *types.OAuthConfig, token *oauth2.Token) oauth2.TokenSource {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: TokenRequestTimeout})
	return NewConfig(oc, "").TokenSource(ctx, token)
}

// NotifyingSource calls onChange whenever src yields a different access token
func NotifyingSource(src oauth2.TokenSource, current *oauth2.Token, onChange func(*oauth2.Token)) oauth2.TokenSource {
	last := ""
	if current != nil {
		last = current.AccessToken
	}
	return &notifyingSource{src: src, last: last, onChange: onChange}
}

type notifyingSource struct {
	src      oauth2.TokenSource
	onChange func(*oauth2.Token)

	mu   sync.Mutex
	last string
}

func (s *notifyingSource) Token() (*oauth2.Token, error) {
	token, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	changed := token.AccessToken != s.last
	s.last = token.AccessToken
	s.mu.Unlock()

	if changed && s.onChange != nil {
		s.onChange(token)
	}
	return token, nil
}

// RequestFilter authorizes every outgoing request with a token from src
func RequestFilter(src oauth2.TokenSource, log logrus.FieldLogger) client.RequestFilter {
	return func(req *http.Request) {
		token, err := src.Token()
		if err != nil {
			log.WithError(err).Warn("failed to obtain oauth token")
			return
		}
		token.SetAuthHeader(req)
	}
}

// OpenBrowser opens the default browser with the given URL
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}

	return cmd.Start()
}
