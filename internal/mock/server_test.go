package mock

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/restcall/internal/client"
	"github.com/studiowebux/restcall/internal/types"
)

type GetWidget struct {
	Id int `json:"id"`
}

func (GetWidget) Routes() []types.Route {
	return []types.Route{types.NewRoute("/widgets/{Id}", "GET")}
}

type Widget struct {
	Id   int    `json:"id"`
	Name string `json:"name"`
}

func widgetRoutes() []Route {
	return []Route{
		{Name: "get widget", Method: "GET", Path: "/widgets/{Id}", Body: `{"id":{Id},"name":"widget {Id}"}`},
		{Method: "ANY", Path: "/files/{Path*}", Body: "file {Path}"},
		{Method: "GET", Path: "/health", PathType: PathExact, Body: "ok", Public: true},
		{Method: "GET", Path: "/slow", Body: "late", Delay: 5000},
	}
}

func startServer(t *testing.T, cfg *Config) (*Server, *httptest.Server) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cfg.Logging = true
	s := NewServer(cfg, t.TempDir(), logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func newClient(t *testing.T, srv *httptest.Server, configure func(*client.Config)) *client.Client {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cfg := &client.Config{BaseURI: srv.URL, Logger: logger}
	if configure != nil {
		configure(cfg)
	}
	c, err := client.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestMatchTemplate(t *testing.T) {
	tests := []struct {
		template string
		path     string
		want     map[string]string
		ok       bool
	}{
		{"/widgets/{Id}", "/widgets/42", map[string]string{"Id": "42"}, true},
		{"/widgets/{Id}", "/widgets/42/parts", nil, false},
		{"/widgets/{Id}", "/widgets", nil, false},
		{"/widgets/{Id}/parts", "/WIDGETS/7/parts", map[string]string{"Id": "7"}, true},
		{"/v{Version}/status", "/v2/status", map[string]string{"Version": "2"}, true},
		{"/files/{Path*}", "/files/a/b/c.txt", map[string]string{"Path": "a/b/c.txt"}, true},
		{"/files/{Path*}", "/files", map[string]string{"Path": ""}, true},
		{"/", "/", map[string]string{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.template+" "+tt.path, func(t *testing.T) {
			vars, ok := matchTemplate(tt.template, tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, vars)
			}
		})
	}
}

func TestServer_TemplateRouteWithClient(t *testing.T) {
	s, srv := startServer(t, &Config{Routes: widgetRoutes()})
	c := newClient(t, srv, nil)

	widget, err := client.Do[Widget](context.Background(), c, http.MethodGet, GetWidget{Id: 42})
	require.NoError(t, err)
	assert.Equal(t, Widget{Id: 42, Name: "widget 42"}, *widget)

	var text string
	require.NoError(t, c.SendURL(context.Background(), http.MethodPost, "/files/docs/readme.md", nil, &text))
	assert.Equal(t, "file docs/readme.md", text)

	logs := s.GetLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, "get widget", logs[0].MatchedRule)
	assert.Equal(t, "ANY /files/{Path*}", logs[1].MatchedRule)
	select {
	case <-s.NotifyChannel():
	default:
		t.Fatal("expected a log notification")
	}

	s.ClearLogs()
	assert.Empty(t, s.GetLogs())
}

func TestServer_UnknownRouteIsStructuredNotFound(t *testing.T) {
	_, srv := startServer(t, &Config{Routes: widgetRoutes()})
	c := newClient(t, srv, nil)

	err := c.SendURL(context.Background(), http.MethodDelete, "/widgets/1", nil, &Widget{})
	var serviceErr *client.ServiceError
	require.True(t, errors.As(err, &serviceErr))
	assert.Equal(t, http.StatusNotFound, serviceErr.StatusCode)
	assert.Equal(t, "NotFound", serviceErr.ErrorCode())
	assert.Contains(t, serviceErr.Message(), "No route configured for DELETE /widgets/1")
}

func TestServer_DelayHonoursCancellation(t *testing.T) {
	_, srv := startServer(t, &Config{Routes: widgetRoutes()})
	c := newClient(t, srv, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := c.SendURL(ctx, http.MethodGet, "/slow", nil, new(string))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestServer_BodyFile(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "widget.json"), []byte(`{"id":1,"name":"from file"}`), 0600))

	s := NewServer(&Config{Routes: []Route{
		{Method: "GET", Path: "/widgets/{Id}", BodyFile: "widget.json"},
		{Method: "GET", Path: "/missing", BodyFile: "nope.json"},
	}}, dir, logger)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	c := newClient(t, srv, nil)

	widget, err := client.Do[Widget](context.Background(), c, http.MethodGet, GetWidget{Id: 1})
	require.NoError(t, err)
	assert.Equal(t, "from file", widget.Name)

	err = c.SendURL(context.Background(), http.MethodGet, "/missing", nil, new(string))
	var serviceErr *client.ServiceError
	require.True(t, errors.As(err, &serviceErr))
	assert.Equal(t, "BodyFileError", serviceErr.ErrorCode())
}

func TestServer_DigestAuth(t *testing.T) {
	for _, qop := range []string{"", "none"} {
		t.Run("qop="+qop, func(t *testing.T) {
			s, srv := startServer(t, &Config{
				Routes: widgetRoutes(),
				Auth:   &AuthConfig{Scheme: AuthDigest, UserName: "admin", Password: "secret", Qop: qop},
			})
			c := newClient(t, srv, func(cfg *client.Config) {
				cfg.UserName = "admin"
				cfg.Password = "secret"
			})

			for id := 1; id <= 3; id++ {
				widget, err := client.Do[Widget](context.Background(), c, http.MethodGet, GetWidget{Id: id})
				require.NoError(t, err)
				assert.Equal(t, id, widget.Id)
			}
			// only the first call needed a challenge
			assert.Len(t, s.GetLogs(), 4)
			assert.Equal(t, http.StatusUnauthorized, s.GetLogs()[0].Status)
		})
	}
}

func TestServer_DigestRejectsWrongPassword(t *testing.T) {
	_, srv := startServer(t, &Config{
		Routes: widgetRoutes(),
		Auth:   &AuthConfig{Scheme: AuthDigest, UserName: "admin", Password: "secret"},
	})
	c := newClient(t, srv, func(cfg *client.Config) {
		cfg.UserName = "admin"
		cfg.Password = "guess"
	})

	_, err := client.Do[Widget](context.Background(), c, http.MethodGet, GetWidget{Id: 1})
	var serviceErr *client.ServiceError
	require.True(t, errors.As(err, &serviceErr))
	assert.Equal(t, http.StatusUnauthorized, serviceErr.StatusCode)
	assert.Equal(t, "Unauthorized", serviceErr.ErrorCode())
}

func TestServer_BasicAuthAndPublicRoutes(t *testing.T) {
	_, srv := startServer(t, &Config{
		Routes: widgetRoutes(),
		Auth:   &AuthConfig{Scheme: AuthBasic, UserName: "u", Password: "p"},
	})

	anonymous := newClient(t, srv, nil)
	var health string
	require.NoError(t, anonymous.SendURL(context.Background(), http.MethodGet, "/health", nil, &health))
	assert.Equal(t, "ok", health)

	_, err := client.Do[Widget](context.Background(), anonymous, http.MethodGet, GetWidget{Id: 1})
	require.Error(t, err)

	authed := newClient(t, srv, func(cfg *client.Config) {
		cfg.UserName = "u"
		cfg.Password = "p"
	})
	_, err = client.Do[Widget](context.Background(), authed, http.MethodGet, GetWidget{Id: 1})
	require.NoError(t, err)
}

func TestServer_BearerRefresh(t *testing.T) {
	s, srv := startServer(t, &Config{
		Routes: widgetRoutes(),
		Auth:   &AuthConfig{Scheme: AuthBearer, Tokens: []string{"initial"}, RefreshToken: "r1"},
	})

	var refreshed []string
	c := newClient(t, srv, func(cfg *client.Config) {
		cfg.BearerToken = "initial"
		cfg.RefreshToken = "r1"
		cfg.OnTokenRefreshed = func(token string) { refreshed = append(refreshed, token) }
	})

	_, err := client.Do[Widget](context.Background(), c, http.MethodGet, GetWidget{Id: 1})
	require.NoError(t, err)
	assert.Empty(t, refreshed)

	s.RevokeTokens()
	_, err = client.Do[Widget](context.Background(), c, http.MethodGet, GetWidget{Id: 2})
	require.NoError(t, err)
	require.Len(t, refreshed, 1)
	assert.Equal(t, refreshed[0], c.BearerToken())
}

func TestServer_BearerRefreshWithTokenCookie(t *testing.T) {
	s, srv := startServer(t, &Config{
		Routes: widgetRoutes(),
		Auth:   &AuthConfig{Scheme: AuthBearer, RefreshToken: "r1"},
	})
	s.RevokeTokens()

	c := newClient(t, srv, func(cfg *client.Config) {
		cfg.RefreshToken = "r1"
		cfg.UseTokenCookie = true
	})

	_, err := client.Do[Widget](context.Background(), c, http.MethodGet, GetWidget{Id: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, c.TokenCookie())
}

func TestServer_InvalidRefreshToken(t *testing.T) {
	_, srv := startServer(t, &Config{
		Routes: widgetRoutes(),
		Auth:   &AuthConfig{Scheme: AuthBearer, Tokens: []string{"valid"}, RefreshToken: "r1"},
	})
	c := newClient(t, srv, func(cfg *client.Config) {
		cfg.BearerToken = "expired"
		cfg.RefreshToken = "stolen"
	})

	_, err := client.Do[Widget](context.Background(), c, http.MethodGet, GetWidget{Id: 1})
	var refreshErr *client.RefreshTokenError
	require.True(t, errors.As(err, &refreshErr))
	var serviceErr *client.ServiceError
	require.True(t, errors.As(err, &serviceErr))
	assert.Equal(t, "TokenException", serviceErr.ErrorCode())
}

func TestServer_StartAndStop(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := NewServer(&Config{Host: "127.0.0.1", Routes: widgetRoutes()}, "", logger)
	require.NoError(t, s.Start())
	defer s.Stop()

	resp, err := http.Get(s.GetAddress() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
}
