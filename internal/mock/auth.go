package mock

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/studiowebux/restcall/internal/auth"
	"github.com/studiowebux/restcall/internal/client"
)

// guard enforces a service's AuthConfig
type guard struct {
	cfg    AuthConfig
	scheme string

	mu     sync.Mutex
	tokens map[string]bool
	nonces map[string]bool
}

func newGuard(cfg *AuthConfig) *guard {
	g := &guard{
		cfg:    *cfg,
		scheme: strings.ToLower(cfg.Scheme),
		tokens: make(map[string]bool),
		nonces: make(map[string]bool),
	}
	if g.cfg.Realm == "" {
		g.cfg.Realm = "restcall-mock"
	}
	if g.cfg.AccessTokenPath == "" {
		g.cfg.AccessTokenPath = "/access-token"
	}
	for _, t := range cfg.Tokens {
		g.tokens[t] = true
	}
	return g
}

func (g *guard) authorize(r *http.Request) bool {
	switch g.scheme {
	case AuthBearer:
		method, params := auth.ParseAuthorization(r.Header.Get("Authorization"))
		if method == "bearer" && g.validToken(params["token"]) {
			return true
		}
		if c, err := r.Cookie(client.TokenCookie); err == nil {
			return g.validToken(c.Value)
		}
		return false

	case AuthBasic:
		user, pass, ok := r.BasicAuth()
		return ok && g.validCredentials(user, pass)

	case AuthDigest:
		method, params := auth.ParseAuthorization(r.Header.Get("Authorization"))
		if method != auth.Digest || params["username"] != g.cfg.UserName || params["realm"] != g.cfg.Realm {
			return false
		}
		if params["uri"] != r.URL.RequestURI() || !g.knownNonce(params["nonce"]) {
			return false
		}
		return auth.VerifyDigest(r.Method, params, g.cfg.Password)
	}
	return false
}

func (g *guard) validToken(token string) bool {
	if token == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tokens[token]
}

func (g *guard) validCredentials(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(g.cfg.UserName)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(g.cfg.Password)) == 1
	return userOK && passOK
}

func (g *guard) knownNonce(nonce string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nonces[nonce]
}

// challenge writes the WWW-Authenticate header of a 401
func (g *guard) challenge(w http.ResponseWriter) {
	switch g.scheme {
	case AuthBearer:
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="%s"`, g.cfg.Realm))
	case AuthBasic:
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, g.cfg.Realm))
	case AuthDigest:
		nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
		g.mu.Lock()
		g.nonces[nonce] = true
		g.mu.Unlock()

		header := fmt.Sprintf(`Digest realm="%s", nonce="%s", opaque="%s"`, g.cfg.Realm, nonce, g.cfg.Realm)
		switch qop := strings.ToLower(g.cfg.Qop); qop {
		case "none":
		case "":
			header += `, qop="auth"`
		default:
			header += fmt.Sprintf(`, qop="%s"`, qop)
		}
		w.Header().Set("WWW-Authenticate", header)
	}
}

// issueToken trades a refresh token for a new access token
func (g *guard) issueToken(refreshToken string) (string, bool) {
	if g.cfg.RefreshToken == "" || subtle.ConstantTimeCompare([]byte(refreshToken), []byte(g.cfg.RefreshToken)) != 1 {
		return "", false
	}
	token := "mock-" + uuid.NewString()
	g.mu.Lock()
	g.tokens[token] = true
	g.mu.Unlock()
	return token, true
}

// revoke forgets every issued and configured token, forcing clients to refresh
func (g *guard) revoke() {
	g.mu.Lock()
	g.tokens = make(map[string]bool)
	g.mu.Unlock()
}
