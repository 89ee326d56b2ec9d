// Package mock hosts a configurable fake service: template routes with canned responses,
// the structured error envelope and optional bearer, basic or digest authentication.
package mock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/studiowebux/restcall/internal/client"
	"github.com/studiowebux/restcall/internal/types"
)

const maxLogs = 1000

// Server represents the mock HTTP server
type Server struct {
	config     *Config
	log        logrus.FieldLogger
	httpServer *http.Server
	listener   net.Listener
	workdir    string
	patterns   []*regexp.Regexp // compiled regex routes, by route index
	guard      *guard

	logs      []RequestLog
	logsMutex sync.RWMutex
	notifyCh  chan struct{} // notified when a new log arrives
}

// NewServer creates a new mock server. The config must have been validated by LoadConfig.
func NewServer(cfg *Config, workdir string, log logrus.FieldLogger) *Server {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		config:   cfg,
		log:      log.WithField("component", "mock"),
		workdir:  workdir,
		patterns: make([]*regexp.Regexp, len(cfg.Routes)),
		notifyCh: make(chan struct{}, 100),
	}
	for i, route := range cfg.Routes {
		if route.PathType == PathRegex {
			s.patterns[i] = regexp.MustCompile(route.Path)
		}
	}
	if cfg.Auth != nil {
		s.guard = newGuard(cfg.Auth)
	}
	return s
}

// Handler serves the mock routes
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleRequest)
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("mock server stopped")
		}
	}()

	s.log.WithField("address", s.GetAddress()).Info("mock server listening")
	return nil
}

// Stop stops the mock server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

// RevokeTokens invalidates every bearer token, as if they had expired
func (s *Server) RevokeTokens() {
	if s.guard != nil {
		s.guard.revoke()
	}
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	bodyBytes, _ := io.ReadAll(r.Body)
	r.Body.Close()

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	matchedRule := s.serve(rec, r, bodyBytes)

	if s.config.Logging {
		duration := time.Since(start)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"rule":     matchedRule,
			"duration": duration,
		}).Info("mock request")

		s.logRequest(RequestLog{
			Timestamp:   start,
			Method:      r.Method,
			Path:        r.URL.Path,
			Headers:     flattenHeaders(r.Header),
			Body:        string(bodyBytes),
			MatchedRule: matchedRule,
			Status:      rec.status,
			Duration:    duration,
		})
	}
}

// serve writes the response and returns the name of the rule that produced it
func (s *Server) serve(w http.ResponseWriter, r *http.Request, body []byte) string {
	if s.guard != nil && s.guard.cfg.RefreshToken != "" && r.URL.Path == s.guard.cfg.AccessTokenPath {
		s.handleAccessToken(w, r, body)
		return "access-token"
	}

	route, vars := s.findMatchingRoute(r.Method, r.URL.Path)
	if route == nil {
		writeError(w, http.StatusNotFound, "NotFound",
			fmt.Sprintf("Mock server: No route configured for %s %s", r.Method, r.URL.Path))
		return "none"
	}

	matchedRule := route.Name
	if matchedRule == "" {
		matchedRule = fmt.Sprintf("%s %s", route.Method, route.Path)
	}

	if s.guard != nil && !route.Public && !s.guard.authorize(r) {
		s.guard.challenge(w)
		writeError(w, http.StatusUnauthorized, "Unauthorized", "Authentication required")
		return matchedRule
	}

	if route.Delay > 0 {
		select {
		case <-time.After(time.Duration(route.Delay) * time.Millisecond):
		case <-r.Context().Done():
			return matchedRule
		}
	}

	responseBody, err := s.responseBody(route, vars)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "BodyFileError", err.Error())
		return matchedRule
	}

	for key, value := range route.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" && len(responseBody) > 0 {
		if json.Valid(responseBody) {
			w.Header().Set("Content-Type", "application/json")
		} else {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
	}

	status := route.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(responseBody)
	return matchedRule
}

func (s *Server) handleAccessToken(w http.ResponseWriter, r *http.Request, body []byte) {
	var req types.GetAccessToken
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "SerializationException", err.Error())
			return
		}
	}
	if req.RefreshToken == "" {
		if c, err := r.Cookie(client.RefreshTokenCookie); err == nil {
			req.RefreshToken = c.Value
		}
	}

	token, ok := s.guard.issueToken(req.RefreshToken)
	if !ok {
		writeError(w, http.StatusUnauthorized, "TokenException", "Invalid refresh token")
		return
	}

	resp := types.GetAccessTokenResponse{AccessToken: token}
	if req.UseTokenCookie {
		http.SetCookie(w, &http.Cookie{Name: client.TokenCookie, Value: token, Path: "/", HttpOnly: true})
		resp.AccessToken = ""
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) responseBody(route *Route, vars map[string]string) ([]byte, error) {
	if route.BodyFile != "" {
		filePath := route.BodyFile
		if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(s.workdir, filePath)
		}
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read body file %s: %w", route.BodyFile, err)
		}
		return data, nil
	}

	body := route.Body
	for name, value := range vars {
		body = strings.ReplaceAll(body, "{"+name+"}", value)
	}
	return []byte(body), nil
}

// findMatchingRoute finds the first route that matches the method and path
func (s *Server) findMatchingRoute(method, path string) (*Route, map[string]string) {
	for i := range s.config.Routes {
		route := &s.config.Routes[i]
		if route.Method != "*" && !strings.EqualFold(route.Method, "ANY") && !strings.EqualFold(route.Method, method) {
			continue
		}

		switch route.PathType {
		case PathExact:
			if route.Path == path {
				return route, nil
			}
		case PathPrefix:
			if strings.HasPrefix(path, route.Path) {
				return route, nil
			}
		case PathRegex:
			if s.patterns[i].MatchString(path) {
				return route, nil
			}
		default:
			if vars, ok := matchTemplate(route.Path, path); ok {
				return route, vars
			}
		}
	}

	return nil, nil
}

// matchTemplate matches a path against a route template such as /widgets/{Id} or
// /files/{Path*}. A wildcard must be the last component and may span several.
func matchTemplate(template, path string) (map[string]string, bool) {
	tparts := strings.Split(strings.Trim(template, "/"), "/")
	pparts := strings.Split(strings.Trim(path, "/"), "/")
	vars := map[string]string{}

	for i, tp := range tparts {
		open := strings.IndexByte(tp, '{')
		end := strings.IndexByte(tp, '}')
		if open < 0 || end < open {
			if i >= len(pparts) || !strings.EqualFold(tp, pparts[i]) {
				return nil, false
			}
			continue
		}

		prefix, name, suffix := tp[:open], tp[open+1:end], tp[end+1:]
		if strings.HasSuffix(name, "*") && i == len(tparts)-1 {
			rest := strings.Join(pparts[min(i, len(pparts)):], "/")
			if !strings.HasPrefix(rest, prefix) {
				return nil, false
			}
			vars[strings.TrimSuffix(name, "*")] = strings.TrimPrefix(rest, prefix)
			return vars, true
		}
		if i >= len(pparts) {
			return nil, false
		}
		part := pparts[i]
		if len(part) <= len(prefix)+len(suffix) || !strings.HasPrefix(part, prefix) || !strings.HasSuffix(part, suffix) {
			return nil, false
		}
		vars[name] = part[len(prefix) : len(part)-len(suffix)]
	}

	if len(pparts) != len(tparts) {
		return nil, false
	}
	return vars, true
}

// writeError writes the structured error envelope
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(types.ErrorResponse{
		ResponseStatus: &types.ResponseStatus{ErrorCode: code, Message: message},
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequest(entry RequestLog) {
	s.logsMutex.Lock()
	defer s.logsMutex.Unlock()

	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogs {
		s.logs = s.logs[len(s.logs)-maxLogs:]
	}

	// Notify listeners (non-blocking)
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// NotifyChannel returns the notification channel
func (s *Server) NotifyChannel() <-chan struct{} {
	return s.notifyCh
}

// GetLogs returns all logged requests
func (s *Server) GetLogs() []RequestLog {
	s.logsMutex.RLock()
	defer s.logsMutex.RUnlock()

	logs := make([]RequestLog, len(s.logs))
	copy(logs, s.logs)
	return logs
}

// ClearLogs clears all logged requests
func (s *Server) ClearLogs() {
	s.logsMutex.Lock()
	defer s.logsMutex.Unlock()

	s.logs = nil
}

// GetAddress returns the server address
func (s *Server) GetAddress() string {
	if s.listener != nil {
		return "http://" + s.listener.Addr().String()
	}
	return "http://" + net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// flattenHeaders converts http.Header to map[string]string (first value only)
func flattenHeaders(headers http.Header) map[string]string {
	result := make(map[string]string)
	for key, values := range headers {
		if len(values) > 0 {
			result[key] = values[0]
		}
	}
	return result
}
