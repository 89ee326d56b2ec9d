// Package cli implements the restcall commands on top of the service client: sending
// request files, previewing routes, browsing history, logging in and hosting mocks.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/studiowebux/restcall/internal/client"
	"github.com/studiowebux/restcall/internal/config"
	"github.com/studiowebux/restcall/internal/history"
	"github.com/studiowebux/restcall/internal/mock"
	"github.com/studiowebux/restcall/internal/oauth"
	"github.com/studiowebux/restcall/internal/routes"
	"github.com/studiowebux/restcall/internal/session"
	"github.com/studiowebux/restcall/internal/types"
)

// App holds what every command needs
type App struct {
	Sessions *session.Manager
	History  *history.Manager // nil disables recording
	Log      logrus.FieldLogger
	Out      io.Writer
	Color    bool

	// OpenBrowser shows the authorization page during login
	OpenBrowser func(url string) error
}

// NewApp builds an App writing to stdout, colored when stdout is a terminal
func NewApp(sessions *session.Manager, hist *history.Manager, log logrus.FieldLogger) *App {
	return &App{
		Sessions:    sessions,
		History:     hist,
		Log:         log,
		Out:         os.Stdout,
		Color:       IsTerminal(os.Stdout),
		OpenBrowser: oauth.OpenBrowser,
	}
}

// RequestOptions select the requests of a command
type RequestOptions struct {
	Profile   string
	File      string   // request file name or path
	Operation string   // ad-hoc operation when no file is given
	Method    string   // overrides the method of every request
	URL       string   // ad-hoc explicit URL
	Set       []string // key=value property overrides
	Headers   []string // "Name: value" headers added to every request
}

// SendOptions contains options for sending requests
type SendOptions struct {
	RequestOptions
	Output   string // text, json, yaml, body
	Filter   string
	Query    string
	Full     bool
	Parallel int
	FailFast bool
	SavePath string
}

// Send sends the selected requests and writes their results.
// ErrRequestFailed is returned when any call failed.
func (a *App) Send(ctx context.Context, opts SendOptions) error {
	profile, err := a.Sessions.GetProfile(opts.Profile)
	if err != nil {
		return err
	}

	requests, source, err := a.loadRequests(profile, opts.RequestOptions)
	if err != nil {
		return err
	}

	c, err := a.newClient(ctx, profile)
	if err != nil {
		return err
	}
	defer c.Close()

	results, sendErr := ExecuteAll(ctx, c, requests, opts.Parallel, opts.FailFast, a.Log)
	if sendErr != nil && !errors.Is(sendErr, ErrRequestFailed) {
		return sendErr
	}

	if profile.OAuth == nil {
		if err := a.Sessions.Capture(c, profile.Name); err != nil {
			a.Log.WithError(err).Warn("failed to save session tokens")
		}
	}

	a.record(profile, source, results)

	anyFailed := false
	for i, result := range results {
		filterExpr, queryExpr := requests[i].Filter, requests[i].Query
		if opts.Filter != "" {
			filterExpr = opts.Filter
		}
		if opts.Query != "" {
			queryExpr = opts.Query
		}
		if err := applyQuery(ctx, result, filterExpr, queryExpr); err != nil {
			a.Log.WithError(err).Warn("filter/query error")
		}
		anyFailed = anyFailed || failed(result)
	}

	format := pickFormat(opts.Output, profile.Output, a.Color)
	if opts.SavePath != "" {
		f, err := os.OpenFile(opts.SavePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.FilePermissions)
		if err != nil {
			return fmt.Errorf("failed to save response: %w", err)
		}
		defer f.Close()
		if err := writeResults(f, results, format, opts.Full, false); err != nil {
			return fmt.Errorf("failed to save response: %w", err)
		}
		a.Log.WithField("path", opts.SavePath).Info("response saved")
	} else if err := writeResults(a.Out, results, format, opts.Full, a.Color); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}

	if anyFailed {
		return ErrRequestFailed
	}
	return nil
}

// Route writes the method and URL each selected request resolves to, without sending
func (a *App) Route(ctx context.Context, opts RequestOptions) error {
	profile, err := a.Sessions.GetProfile(opts.Profile)
	if err != nil {
		return err
	}
	requests, _, err := a.loadRequests(profile, opts)
	if err != nil {
		return err
	}

	cfg, err := config.ClientConfig(&profile, a.Log)
	if err != nil {
		return err
	}
	c, err := client.New(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	for _, req := range requests {
		method := methodOf(req)
		if method == "" {
			method = http.MethodPost
			if req.URL != "" {
				method = http.MethodGet
			}
		}

		var url string
		switch {
		case req.URL != "":
			url = c.ResolveURLString(method, req.URL)
			if routes.IsBodyless(method) {
				if qs := routes.QueryString(req.Dynamic()); qs != "" {
					url += "?" + qs
				}
			}
		default:
			url, err = c.ResolveURL(method, req.Dynamic())
			if err != nil {
				return fmt.Errorf("%s: %w", req.Name, err)
			}
		}
		fmt.Fprintf(a.Out, "%-7s %s\n", method, url)
	}
	return nil
}

// loadRequests reads the request file, or builds one ad-hoc request, and applies the
// command line overrides. It returns the requests and the file they came from.
func (a *App) loadRequests(profile types.Profile, opts RequestOptions) ([]Request, string, error) {
	var requests []Request
	var source string

	switch {
	case opts.File != "":
		workdir, err := config.GetWorkingDirectory(profile.Workdir)
		if err != nil {
			return nil, "", err
		}
		source, err = resolveFilePath(opts.File, workdir)
		if err != nil {
			return nil, "", err
		}
		if requests, err = LoadRequestFile(source); err != nil {
			return nil, "", err
		}
	case opts.Operation != "" || opts.URL != "":
		requests = []Request{{Name: opts.Operation, Operation: opts.Operation, URL: opts.URL}}
	default:
		return nil, "", fmt.Errorf("a request file, an operation or a url is required")
	}

	props, err := ParseAssignments(opts.Set)
	if err != nil {
		return nil, "", err
	}
	headers, err := parseHeaders(opts.Headers)
	if err != nil {
		return nil, "", err
	}
	method := strings.ToUpper(opts.Method)
	if method != "" && !routes.ValidMethod(method) {
		return nil, "", fmt.Errorf("unknown HTTP method %q", opts.Method)
	}

	for i := range requests {
		req := &requests[i]
		if method != "" {
			req.Method = method
		}
		for _, kv := range props {
			req.Set(kv.Key, kv.Value)
		}
		if len(headers) > 0 {
			merged := make(map[string]string, len(req.Headers)+len(headers))
			for k, v := range req.Headers {
				merged[k] = v
			}
			for k, v := range headers {
				merged[k] = v
			}
			req.Headers = merged
		}
	}
	return requests, source, nil
}

// newClient builds the client of a profile. Stored session tokens are reused and
// refreshed tokens persisted; OAuth profiles authorize through their token source.
func (a *App) newClient(ctx context.Context, profile types.Profile) (*client.Client, error) {
	cfg, err := config.ClientConfig(&profile, a.Log)
	if err != nil {
		return nil, err
	}
	cfg.RequestFilter = addHeaders
	cfg.ResponseFilter = observeResponse

	if profile.OAuth == nil {
		a.Sessions.Bind(cfg, profile.Name)
		return client.New(cfg)
	}

	stored, ok := a.Sessions.Token(profile.Name)
	if !ok || stored.BearerToken == "" {
		return nil, fmt.Errorf("no oauth token for profile %q, run restcall login first", profile.Name)
	}
	current := &oauth2.Token{
		AccessToken:  stored.BearerToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       stored.Expiry,
	}
	src := oauth.NotifyingSource(oauth.TokenSource(ctx, profile.OAuth, current), current, func(t *oauth2.Token) {
		if err := a.Sessions.SetToken(profile.Name, sessionToken(t)); err != nil {
			a.Log.WithError(err).Warn("failed to persist oauth token")
		}
	})
	authorize := oauth.RequestFilter(src, a.Log)
	cfg.RequestFilter = func(req *http.Request) {
		authorize(req)
		addHeaders(req)
	}
	cfg.DisableAutoRefreshToken = true
	cfg.BearerToken = ""
	cfg.RefreshToken = ""
	return client.New(cfg)
}

// record stores the results in history unless the profile or session disables it
func (a *App) record(profile types.Profile, source string, results []*types.RequestResult) {
	if a.History == nil || !a.Sessions.IsHistoryEnabled(profile) {
		return
	}
	for _, result := range results {
		if result == nil {
			continue
		}
		if _, err := a.History.Save(history.NewEntry(profile.Name, source, result)); err != nil {
			a.Log.WithError(err).Warn("failed to save history")
		}
	}
}

// Login runs the OAuth authorization code flow of a profile and stores the tokens
func (a *App) Login(ctx context.Context, profileName string) error {
	profile, err := a.Sessions.GetProfile(profileName)
	if err != nil {
		return err
	}
	if profile.OAuth == nil {
		return fmt.Errorf("profile %q has no oauth settings", profile.Name)
	}

	open := func(url string) error {
		fmt.Fprintf(a.Out, "Open this URL to authorize restcall:\n%s\n", url)
		if a.OpenBrowser == nil {
			return nil
		}
		if err := a.OpenBrowser(url); err != nil {
			a.Log.WithError(err).Warn("failed to open browser")
		}
		return nil
	}

	token, err := oauth.StartFlow(ctx, profile.OAuth, open)
	if err != nil {
		return err
	}
	if err := a.Sessions.SetToken(profile.Name, sessionToken(token)); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	fmt.Fprintf(a.Out, "Logged in to profile %s\n", profile.Name)
	return nil
}

// Logout forgets the tokens stored for a profile
func (a *App) Logout(profileName string) error {
	profile, err := a.Sessions.GetProfile(profileName)
	if err != nil {
		return err
	}
	return a.Sessions.ClearToken(profile.Name)
}

func sessionToken(t *oauth2.Token) types.SessionToken {
	return types.SessionToken{
		BearerToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

// MockOptions contains options for hosting a mock service
type MockOptions struct {
	ConfigPath string
	Port       int // overrides the configured port when set
	Host       string
	Quiet      bool
}

// Mock hosts the mock service described by a config file until ctx is done
func (a *App) Mock(ctx context.Context, opts MockOptions) error {
	cfg, err := mock.LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Port != 0 {
		cfg.Port = opts.Port
	}
	if opts.Host != "" {
		cfg.Host = opts.Host
	}
	cfg.Logging = !opts.Quiet

	server := mock.NewServer(cfg, filepath.Dir(opts.ConfigPath), a.Log)
	if err := server.Start(); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Mock server listening on %s (%d routes)\n", server.GetAddress(), len(cfg.Routes))

	<-ctx.Done()
	return server.Stop()
}

// parseHeaders reads "Name: value" arguments
func parseHeaders(args []string) (map[string]string, error) {
	headers := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected Name: value", arg)
		}
		headers[http.CanonicalHeaderKey(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}
