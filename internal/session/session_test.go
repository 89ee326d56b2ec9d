package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/restcall/internal/client"
	"github.com/studiowebux/restcall/internal/types"
)

func newTestManager(t *testing.T, profiles string) *Manager {
	t.Helper()
	dir := t.TempDir()
	profilesPath := filepath.Join(dir, ".profiles.json")
	if profiles != "" {
		require.NoError(t, os.WriteFile(profilesPath, []byte(profiles), 0600))
	}
	m := NewManagerWithPaths(filepath.Join(dir, ".session.json"), profilesPath)
	require.NoError(t, m.Load())
	return m
}

func TestLoad_DefaultsWhenFilesAreMissing(t *testing.T) {
	m := newTestManager(t, "")

	profiles := m.GetProfiles()
	require.Len(t, profiles, 1)
	assert.Equal(t, "Default", profiles[0].Name)
	assert.True(t, m.IsHistoryEnabled(types.Profile{}))
}

func TestActiveProfile(t *testing.T) {
	m := newTestManager(t, `[{"name":"dev","baseUrl":"http://dev"},{"name":"prod","baseUrl":"http://prod"}]`)

	assert.Equal(t, "dev", m.GetActiveProfile().Name)

	require.NoError(t, m.SetActiveProfile("prod"))
	assert.Equal(t, "prod", m.GetActiveProfile().Name)

	assert.EqualError(t, m.SetActiveProfile("staging"), "profile not found: staging")

	// persisted across managers
	reloaded := NewManagerWithPaths(m.sessionPath, m.profilesPath)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, "prod", reloaded.GetActiveProfile().Name)

	p, err := reloaded.GetProfile("")
	require.NoError(t, err)
	assert.Equal(t, "prod", p.Name)
	_, err = reloaded.GetProfile("nope")
	assert.Error(t, err)
}

func TestAddAndDeleteProfile(t *testing.T) {
	m := newTestManager(t, `[{"name":"dev","baseUrl":"http://dev"}]`)

	require.NoError(t, m.AddProfile(types.Profile{Name: "qa", BaseURL: "http://qa"}))
	assert.EqualError(t, m.AddProfile(types.Profile{Name: "qa"}), "profile already exists: qa")
	require.NoError(t, m.SetToken("qa", types.SessionToken{BearerToken: "t"}))

	require.NoError(t, m.DeleteProfile("qa"))
	_, ok := m.Token("qa")
	assert.False(t, ok)
	assert.Error(t, m.DeleteProfile("qa"))
	assert.Len(t, m.GetProfiles(), 1)
}

func TestTokens_PersistPerProfile(t *testing.T) {
	m := newTestManager(t, "")

	require.NoError(t, m.SetToken("dev", types.SessionToken{BearerToken: "a", RefreshToken: "r"}))
	require.NoError(t, m.SetToken("prod", types.SessionToken{BearerToken: "b"}))

	data, err := os.ReadFile(m.sessionPath)
	require.NoError(t, err)
	var stored types.Session
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.Equal(t, "a", stored.Tokens["dev"].BearerToken)
	assert.Equal(t, "r", stored.Tokens["dev"].RefreshToken)
	assert.False(t, stored.Tokens["dev"].UpdatedAt.IsZero())

	require.NoError(t, m.ClearToken("dev"))
	_, ok := m.Token("dev")
	assert.False(t, ok)
	token, ok := m.Token("prod")
	require.True(t, ok)
	assert.Equal(t, "b", token.BearerToken)
}

func TestHistoryEnabled_ProfileOverridesSession(t *testing.T) {
	m := newTestManager(t, "")
	require.NoError(t, m.SetHistoryEnabled(false))

	assert.False(t, m.IsHistoryEnabled(types.Profile{}))
	enabled := true
	assert.True(t, m.IsHistoryEnabled(types.Profile{HistoryEnabled: &enabled}))
}

// TestBind_PersistsRefreshedToken runs a real refresh and checks the new token lands in the session file
func TestBind_PersistsRefreshedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/access-token":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(types.GetAccessTokenResponse{AccessToken: "fresh"})
		default:
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	m := newTestManager(t, "")
	require.NoError(t, m.SetToken("dev", types.SessionToken{BearerToken: "stale", RefreshToken: "r1"}))

	var notified string
	logger, _ := test.NewNullLogger()
	cfg := &client.Config{
		BaseURI:          srv.URL,
		Logger:           logger,
		OnTokenRefreshed: func(token string) { notified = token },
	}
	m.Bind(cfg, "dev")
	assert.Equal(t, "stale", cfg.BearerToken)
	assert.Equal(t, "r1", cfg.RefreshToken)

	c, err := client.New(cfg)
	require.NoError(t, err)
	defer c.Close()

	var out map[string]bool
	require.NoError(t, c.SendURL(context.Background(), http.MethodGet, "/ping", nil, &out))
	assert.True(t, out["ok"])
	assert.Equal(t, "fresh", notified)

	token, ok := m.Token("dev")
	require.True(t, ok)
	assert.Equal(t, "fresh", token.BearerToken)
	assert.Equal(t, "r1", token.RefreshToken)
}

func TestBind_ConfigTokensWin(t *testing.T) {
	m := newTestManager(t, "")
	require.NoError(t, m.SetToken("dev", types.SessionToken{BearerToken: "stored", SessionID: "sid"}))

	cfg := &client.Config{BaseURI: "http://x", BearerToken: "explicit"}
	m.Bind(cfg, "dev")
	assert.Equal(t, "explicit", cfg.BearerToken)
	assert.Equal(t, "sid", cfg.SessionID)
}

func TestCapture_StoresClientCredentials(t *testing.T) {
	m := newTestManager(t, "")

	c, err := client.New(&client.Config{BaseURI: "http://example.test", BearerToken: "t", SessionID: "s1"})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, m.Capture(c, "dev"))
	token, ok := m.Token("dev")
	require.True(t, ok)
	assert.Equal(t, "t", token.BearerToken)
	assert.Equal(t, "s1", token.SessionID)

	empty, err := client.New(&client.Config{BaseURI: "http://example.test"})
	require.NoError(t, err)
	require.NoError(t, m.Capture(empty, "other"))
	_, ok = m.Token("other")
	assert.False(t, ok)
}
