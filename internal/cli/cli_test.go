package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/restcall/internal/history"
	"github.com/studiowebux/restcall/internal/mock"
	"github.com/studiowebux/restcall/internal/session"
	"github.com/studiowebux/restcall/internal/types"
)

type testEnv struct {
	app    *App
	out    *bytes.Buffer
	mock   *mock.Server
	server *httptest.Server
	dir    string
}

func newTestEnv(t *testing.T, auth *mock.AuthConfig, profileExtra string) *testEnv {
	t.Helper()
	logger, _ := test.NewNullLogger()

	s := mock.NewServer(&mock.Config{
		Logging: true,
		Auth:    auth,
		Routes: []mock.Route{
			{Method: "GET", Path: "/widgets/{Id}", Body: `{"id":{Id},"name":"widget {Id}"}`},
			{Method: "POST", Path: "/json/reply/Hello", Body: `{"result":"Hello"}`},
			{Method: "POST", Path: "/json/oneway/Audit", Status: 204},
			{Method: "GET", Path: "/health", PathType: mock.PathExact, Body: "ok", Public: true},
		},
	}, "", logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	profiles := fmt.Sprintf(`[{"name":"test","baseUrl":%q%s}]`, srv.URL, profileExtra)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".profiles.json"), []byte(profiles), 0600))
	sessions := session.NewManagerWithPaths(filepath.Join(dir, ".session.json"), filepath.Join(dir, ".profiles.json"))
	require.NoError(t, sessions.Load())

	hist, err := history.NewManager(history.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	out := &bytes.Buffer{}
	return &testEnv{
		app:    &App{Sessions: sessions, History: hist, Log: logger, Out: out},
		out:    out,
		mock:   s,
		server: srv,
		dir:    dir,
	}
}

func (e *testEnv) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const getWidgetFile = `
operation: GetWidget
routes:
  - path: /widgets/{Id}
    verbs: GET
properties:
  Id: 7
headers:
  X-Trace: from-file
`

func TestApp_SendRequestFile(t *testing.T) {
	env := newTestEnv(t, nil, "")
	file := env.writeFile(t, "get-widget.yaml", getWidgetFile)

	err := env.app.Send(context.Background(), SendOptions{
		RequestOptions: RequestOptions{File: file},
		Output:         OutputJSON,
	})
	require.NoError(t, err)

	var result types.RequestResult
	require.NoError(t, json.Unmarshal(env.out.Bytes(), &result))
	assert.Equal(t, "GetWidget", result.Operation)
	assert.Equal(t, "GET", result.Method)
	assert.Equal(t, env.server.URL+"/widgets/7", result.URL)
	assert.Equal(t, 200, result.Status)
	assert.JSONEq(t, `{"id":7,"name":"widget 7"}`, result.Body)

	logs := env.mock.GetLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "from-file", logs[0].Headers["X-Trace"])

	entries, err := env.app.History.Load(history.Query{ProfileName: "test"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "GetWidget", entries[0].Operation)
	assert.Equal(t, file, entries[0].RequestFile)
}

func TestApp_SendOverridesAndQuery(t *testing.T) {
	env := newTestEnv(t, nil, "")
	file := env.writeFile(t, "get-widget.yaml", getWidgetFile)

	err := env.app.Send(context.Background(), SendOptions{
		RequestOptions: RequestOptions{
			File:    file,
			Set:     []string{"Id=42"},
			Headers: []string{"x-trace: from-flag"},
		},
		Output: OutputBody,
		Query:  "name",
	})
	require.NoError(t, err)
	assert.Equal(t, "\"widget 42\"\n", env.out.String())
	assert.Equal(t, "from-flag", env.mock.GetLogs()[0].Headers["X-Trace"])
}

func TestApp_SendAdHocOperationUsesPredefinedRoute(t *testing.T) {
	env := newTestEnv(t, nil, "")

	err := env.app.Send(context.Background(), SendOptions{
		RequestOptions: RequestOptions{Operation: "Hello", Set: []string{"Name=World"}},
		Output:         OutputBody,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"Hello"}`, env.out.String())

	logs := env.mock.GetLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "/json/reply/Hello", logs[0].Path)
	assert.JSONEq(t, `{"Name":"World"}`, logs[0].Body)
}

func TestApp_SendFailureIsRecorded(t *testing.T) {
	env := newTestEnv(t, nil, "")

	err := env.app.Send(context.Background(), SendOptions{
		RequestOptions: RequestOptions{Operation: "Missing"},
		Output:         OutputText,
	})
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, env.out.String(), "404 Not Found")
	assert.Contains(t, env.out.String(), "No route configured for POST /json/reply/Missing")

	entries, err := env.app.History.Load(history.Query{FailedOnly: true})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 404, entries[0].Status)
	assert.Equal(t, "NotFound", entries[0].ErrorCode)
}

func TestApp_SendRoutingErrorIsReported(t *testing.T) {
	env := newTestEnv(t, nil, "")
	file := env.writeFile(t, "bad.yaml", `
operation: GetWidget
routes:
  - path: /widgets/{Id}
    verbs: GET
`)

	err := env.app.Send(context.Background(), SendOptions{
		RequestOptions: RequestOptions{File: file},
		Output:         OutputJSON,
	})
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Empty(t, env.mock.GetLogs())

	var result types.RequestResult
	require.NoError(t, json.Unmarshal(env.out.Bytes(), &result))
	assert.NotEmpty(t, result.Error)
	assert.Zero(t, result.Status)
}

func TestApp_SendListInParallelKeepsOrder(t *testing.T) {
	env := newTestEnv(t, nil, "")
	file := env.writeFile(t, "batch.yaml", `
requests:
  - operation: GetWidget
    routes: [{path: "/widgets/{Id}", verbs: GET}]
    properties: {Id: 1}
  - operation: GetWidget
    routes: [{path: "/widgets/{Id}", verbs: GET}]
    properties: {Id: 2}
  - url: /health
  - operation: Audit
    oneWay: true
    properties: {Action: send}
`)

	err := env.app.Send(context.Background(), SendOptions{
		RequestOptions: RequestOptions{File: file},
		Output:         OutputJSON,
		Parallel:       3,
	})
	require.NoError(t, err)

	dec := json.NewDecoder(env.out)
	var results []types.RequestResult
	for dec.More() {
		var r types.RequestResult
		require.NoError(t, dec.Decode(&r))
		results = append(results, r)
	}
	require.Len(t, results, 4)
	assert.Equal(t, env.server.URL+"/widgets/1", results[0].URL)
	assert.Equal(t, env.server.URL+"/widgets/2", results[1].URL)
	assert.Equal(t, "ok", results[2].Body)
	assert.Equal(t, "POST", results[3].Method)
	assert.Equal(t, env.server.URL+"/json/oneway/Audit", results[3].URL)
	assert.Equal(t, 204, results[3].Status)
	assert.Len(t, env.mock.GetLogs(), 4)
}

func TestApp_SendWithBasicAuthProfile(t *testing.T) {
	auth := &mock.AuthConfig{Scheme: mock.AuthBasic, UserName: "u", Password: "p"}
	env := newTestEnv(t, auth, `,"userName":"u","password":"p","alwaysSendBasicAuth":true`)
	file := env.writeFile(t, "get-widget.yaml", getWidgetFile)

	err := env.app.Send(context.Background(), SendOptions{
		RequestOptions: RequestOptions{File: file},
		Output:         OutputBody,
	})
	require.NoError(t, err)
	assert.Contains(t, env.out.String(), "widget 7")
}

func TestApp_SendPersistsRefreshedToken(t *testing.T) {
	auth := &mock.AuthConfig{Scheme: mock.AuthBearer, Tokens: []string{"stale"}, RefreshToken: "r1"}
	env := newTestEnv(t, auth, `,"refreshToken":"r1"`)
	env.mock.RevokeTokens()
	file := env.writeFile(t, "get-widget.yaml", getWidgetFile)

	err := env.app.Send(context.Background(), SendOptions{
		RequestOptions: RequestOptions{File: file},
		Output:         OutputBody,
	})
	require.NoError(t, err)

	token, ok := env.app.Sessions.Token("test")
	require.True(t, ok)
	assert.NotEmpty(t, token.BearerToken)
	assert.NotEqual(t, "stale", token.BearerToken)
}

func TestApp_HistoryHidesWhenDisabled(t *testing.T) {
	env := newTestEnv(t, nil, `,"historyEnabled":false`)

	require.NoError(t, env.app.Send(context.Background(), SendOptions{
		RequestOptions: RequestOptions{URL: "/health"},
		Output:         OutputBody,
	}))
	count, err := env.app.History.GetCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestApp_Route(t *testing.T) {
	env := newTestEnv(t, nil, "")
	file := env.writeFile(t, "get-widget.yaml", getWidgetFile)

	require.NoError(t, env.app.Route(context.Background(), RequestOptions{File: file, Set: []string{"Id=9", "Verbose=true"}}))
	assert.Equal(t, "GET     "+env.server.URL+"/widgets/9?Verbose=true\n", env.out.String())
	assert.Empty(t, env.mock.GetLogs())

	env.out.Reset()
	require.NoError(t, env.app.Route(context.Background(), RequestOptions{Operation: "Hello"}))
	assert.Equal(t, "POST    "+env.server.URL+"/json/reply/Hello\n", env.out.String())
}

func TestApp_RequestSelectionErrors(t *testing.T) {
	env := newTestEnv(t, nil, "")

	err := env.app.Send(context.Background(), SendOptions{})
	assert.EqualError(t, err, "a request file, an operation or a url is required")

	err = env.app.Send(context.Background(), SendOptions{RequestOptions: RequestOptions{Operation: "Hello", Method: "FETCH"}})
	assert.EqualError(t, err, `unknown HTTP method "FETCH"`)

	err = env.app.Send(context.Background(), SendOptions{RequestOptions: RequestOptions{Operation: "Hello", Headers: []string{"nocolon"}}})
	assert.ErrorContains(t, err, "invalid header")

	err = env.app.Send(context.Background(), SendOptions{RequestOptions: RequestOptions{Profile: "prod", Operation: "Hello"}})
	assert.EqualError(t, err, "profile not found: prod")
}

func TestApp_HistoryCommands(t *testing.T) {
	env := newTestEnv(t, nil, "")
	for i := 0; i < 2; i++ {
		require.NoError(t, env.app.Send(context.Background(), SendOptions{
			RequestOptions: RequestOptions{Operation: "Hello"},
			Output:         OutputBody,
		}))
	}
	env.out.Reset()

	require.NoError(t, env.app.ListHistory(HistoryOptions{Profile: "test", Limit: 10}))
	assert.Contains(t, env.out.String(), "OPERATION")
	assert.Contains(t, env.out.String(), "Hello")

	env.out.Reset()
	require.NoError(t, env.app.HistoryStats("test", OutputJSON))
	var stats []history.OperationStats
	require.NoError(t, json.Unmarshal(env.out.Bytes(), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Calls)

	env.out.Reset()
	entries, err := env.app.History.Load(history.Query{Limit: 1})
	require.NoError(t, err)
	require.NoError(t, env.app.ShowHistory(entries[0].ID, OutputText))
	assert.Contains(t, env.out.String(), "Operation: Hello")

	env.out.Reset()
	require.NoError(t, env.app.ClearHistory("test"))
	assert.Equal(t, "Deleted 2 history entries\n", env.out.String())

	env.app.History = nil
	assert.EqualError(t, env.app.ListHistory(HistoryOptions{}), "history is not available")
}

func TestApp_Profiles(t *testing.T) {
	env := newTestEnv(t, nil, "")

	require.NoError(t, env.app.ListProfiles())
	assert.Contains(t, env.out.String(), "*  test")

	assert.EqualError(t, env.app.UseProfile("missing"), "profile not found: missing")
	require.NoError(t, env.app.SetHistoryEnabled(false))
	assert.False(t, env.app.Sessions.IsHistoryEnabled(types.Profile{}))
}

func TestApp_LoginRequiresOAuth(t *testing.T) {
	env := newTestEnv(t, nil, "")
	assert.EqualError(t, env.app.Login(context.Background(), ""), `profile "test" has no oauth settings`)
}

func TestApp_OAuthProfileNeedsLogin(t *testing.T) {
	env := newTestEnv(t, nil, `,"oauth":{"authUrl":"http://a","tokenUrl":"http://t","clientId":"c"}`)
	err := env.app.Send(context.Background(), SendOptions{RequestOptions: RequestOptions{Operation: "Hello"}})
	assert.EqualError(t, err, `no oauth token for profile "test", run restcall login first`)
}

func TestApp_OAuthProfileSendsStoredToken(t *testing.T) {
	auth := &mock.AuthConfig{Scheme: mock.AuthBearer, Tokens: []string{"oauth-access"}}
	env := newTestEnv(t, auth, `,"oauth":{"authUrl":"http://a","tokenUrl":"http://t","clientId":"c"}`)
	require.NoError(t, env.app.Sessions.SetToken("test", types.SessionToken{BearerToken: "oauth-access"}))

	require.NoError(t, env.app.Send(context.Background(), SendOptions{
		RequestOptions: RequestOptions{Operation: "Hello"},
		Output:         OutputBody,
	}))
	assert.Equal(t, "Bearer oauth-access", env.mock.GetLogs()[0].Headers["Authorization"])
}

func TestApp_MockStopsWithContext(t *testing.T) {
	env := newTestEnv(t, nil, "")
	cfg := env.writeFile(t, "mock.yaml", `
routes:
  - method: GET
    path: /ping
    body: pong
`)

	out := &syncBuffer{}
	env.app.Out = out

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.app.Mock(ctx, MockOptions{ConfigPath: cfg, Host: "127.0.0.1", Quiet: true}) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Mock server listening on http://127.0.0.1:")
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
