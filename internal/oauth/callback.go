package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// CallbackResult is what the authorization server sent to the redirect URI
type CallbackResult struct {
	Code  string
	State string
	Error string
}

// CallbackServer receives the authorization redirect on the loopback interface
type CallbackServer struct {
	port     int
	path     string
	listener net.Listener
	server   *http.Server
	results  chan CallbackResult
}

// NewCallbackServer creates a callback server for path; port 0 picks a free port
func NewCallbackServer(port int, path string) *CallbackServer {
	if path == "" {
		path = "/callback"
	}
	return &CallbackServer{
		port:    port,
		path:    path,
		results: make(chan CallbackResult, 1),
	}
}

// Start begins listening
func (s *CallbackServer) Start() error {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleCallback)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deliver(CallbackResult{Error: err.Error()})
		}
	}()
	return nil
}

// RedirectURL is the URL the authorization server must redirect to
func (s *CallbackServer) RedirectURL() string {
	return "http://" + s.listener.Addr().String() + s.path
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result := CallbackResult{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	}
	if desc := q.Get("error_description"); desc != "" {
		result.Error += ": " + desc
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if result.Error != "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, "Authorization failed. You can close this window.")
	} else {
		fmt.Fprintln(w, "Authorization complete. You can close this window.")
	}
	s.deliver(result)
}

// deliver keeps only the first result
func (s *CallbackServer) deliver(result CallbackResult) {
	select {
	case s.results <- result:
	default:
	}
}

// WaitForCallback blocks until the redirect arrives, ctx is done or timeout elapses
func (s *CallbackServer) WaitForCallback(ctx context.Context, timeout time.Duration) (CallbackResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-s.results:
		return result, nil
	case <-timer.C:
		return CallbackResult{}, fmt.Errorf("timed out waiting for authorization after %s", timeout)
	case <-ctx.Done():
		return CallbackResult{}, ctx.Err()
	}
}

// Shutdown stops the server
func (s *CallbackServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
