package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/studiowebux/restcall/internal/client"
	"github.com/studiowebux/restcall/internal/filter"
	"github.com/studiowebux/restcall/internal/types"
)

// ErrRequestFailed is returned when at least one call did not succeed
var ErrRequestFailed = errors.New("request failed")

type callKey struct{}

// call carries per-request headers into the shared client and collects what its
// filters observe about the final response
type call struct {
	headers map[string]string

	mu     sync.Mutex
	url    string
	status int
}

func withCall(ctx context.Context, c *call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

func callFrom(ctx context.Context) *call {
	c, _ := ctx.Value(callKey{}).(*call)
	return c
}

// addHeaders sets the headers of the request file on each outgoing request
func addHeaders(req *http.Request) {
	if c := callFrom(req.Context()); c != nil {
		for name, value := range c.headers {
			req.Header.Set(name, value)
		}
	}
}

// observeResponse records the final URL and status of a call
func observeResponse(resp *http.Response) {
	if resp.Request == nil {
		return
	}
	if c := callFrom(resp.Request.Context()); c != nil {
		c.mu.Lock()
		c.url = resp.Request.URL.String()
		c.status = resp.StatusCode
		c.mu.Unlock()
	}
}

// Execute sends one request and reports its outcome. Failures, including routing
// errors, are recorded in the result.
func Execute(ctx context.Context, c *client.Client, req Request) *types.RequestResult {
	method := methodOf(req)
	result := &types.RequestResult{Operation: req.Operation, Method: method}

	tracked := &call{headers: req.Headers}
	ctx = withCall(ctx, tracked)
	dto := req.Dynamic()

	var resp *http.Response
	var err error
	start := time.Now()
	switch {
	case req.OneWay:
		result.Method = http.MethodPost
		err = c.SendOneWay(ctx, dto)
	case req.URL != "":
		if method == "" {
			method = http.MethodGet
			result.Method = method
		}
		result.URL = c.ResolveURLString(method, req.URL)
		err = c.SendURL(ctx, method, req.URL, dto, &resp)
	default:
		if method == "" {
			method = c.Config().DefaultMethod
			if method == "" {
				method = http.MethodPost
			}
			result.Method = method
		}
		result.URL, err = c.ResolveURL(method, dto)
		if err == nil {
			err = c.Send(ctx, method, dto, &resp)
		}
	}
	result.Duration = time.Since(start).Milliseconds()

	tracked.mu.Lock()
	if tracked.url != "" {
		result.URL = tracked.url
	}
	if tracked.status != 0 {
		result.Status = tracked.status
		result.StatusText = fmt.Sprintf("%d %s", tracked.status, http.StatusText(tracked.status))
	}
	tracked.mu.Unlock()

	if err != nil {
		describeError(result, err)
		return result
	}

	if resp != nil {
		result.Status = resp.StatusCode
		result.StatusText = resp.Status
		result.Headers = flattenHeaders(resp.Header)
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		result.Duration = time.Since(start).Milliseconds()
		if readErr != nil {
			result.Error = fmt.Sprintf("failed to read response: %v", readErr)
		}
		result.Body = string(body)
		result.ResponseSize = len(body)
	}
	return result
}

func describeError(result *types.RequestResult, err error) {
	var serviceErr *client.ServiceError
	var transportErr *client.TransportError
	switch {
	case errors.As(err, &serviceErr):
		result.Status = serviceErr.StatusCode
		result.StatusText = fmt.Sprintf("%d %s", serviceErr.StatusCode, serviceErr.StatusDescription)
		result.Headers = flattenHeaders(serviceErr.Headers)
		result.Body = serviceErr.Body
		result.ResponseSize = len(serviceErr.Body)
		result.ErrorCode = serviceErr.ErrorCode()
		result.Error = err.Error()
	case errors.As(err, &transportErr):
		if transportErr.URL != "" {
			result.URL = transportErr.URL
		}
		result.Error = transportErr.Error()
	default:
		result.Error = err.Error()
	}
}

// methodOf picks the verb of a request: explicit, else the only verb of its first route
func methodOf(req Request) string {
	if req.Method != "" {
		return req.Method
	}
	if len(req.Routes) > 0 && len(req.Routes[0].Verbs) == 1 && req.Routes[0].Verbs[0] != "ANY" {
		return req.Routes[0].Verbs[0]
	}
	return ""
}

// ExecuteAll sends requests with at most parallel calls in flight and returns the
// results in request order. With failFast the first failure cancels the calls not yet
// finished.
func ExecuteAll(ctx context.Context, c *client.Client, requests []Request, parallel int, failFast bool, log logrus.FieldLogger) ([]*types.RequestResult, error) {
	results := make([]*types.RequestResult, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = &types.RequestResult{Operation: req.Operation, Method: methodOf(req), Error: gctx.Err().Error()}
				return nil
			}

			result := Execute(gctx, c, req)
			results[i] = result
			log.WithFields(logrus.Fields{
				"operation": result.Operation,
				"method":    result.Method,
				"url":       result.URL,
				"status":    result.Status,
				"duration":  result.Duration,
			}).Debug("call completed")

			if failFast && failed(result) {
				return fmt.Errorf("%s: %w", req.Name, ErrRequestFailed)
			}
			return nil
		})
	}

	err := g.Wait()
	return results, err
}

// applyQuery runs the filter and query of a call over its body
func applyQuery(ctx context.Context, result *types.RequestResult, filterExpr, queryExpr string) error {
	if result.Body == "" || (filterExpr == "" && queryExpr == "") {
		return nil
	}
	body, err := filter.Apply(ctx, []byte(result.Body), filterExpr, queryExpr)
	if err != nil {
		return err
	}
	result.Body = strings.TrimRight(string(body), "\n")
	return nil
}

func failed(result *types.RequestResult) bool {
	return result.Error != "" || result.Status >= 400
}

// flattenHeaders converts http.Header to map[string]string (first value only)
func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	result := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) > 0 {
			result[key] = values[0]
		}
	}
	return result
}
