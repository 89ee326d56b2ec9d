package client

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/studiowebux/restcall/internal/routes"
)

// Send resolves request to a URL and sends it. An empty method falls back to the
// request's HTTPMethod, then Config.DefaultMethod, then POST.
//
// response is a pointer to a DTO or one of the passthrough targets *[]byte, *string,
// *io.ReadCloser and **http.Response; the caller closes the last two. A nil response
// discards the body.
func (c *Client) Send(ctx context.Context, method string, request, response any) error {
	if method == "" {
		method = c.methodFor(request)
	}
	method = strings.ToUpper(method)
	if !routes.ValidMethod(method) {
		return fmt.Errorf("unknown HTTP method %q", method)
	}

	c.stampVersion(request)
	url, err := c.ResolveURL(method, request)
	if err != nil {
		return err
	}
	return c.send(ctx, method, url, request, response)
}

// SendURL sends request to an explicit relative or absolute URL. Bodyless verbs carry
// the request's properties in the query string.
func (c *Client) SendURL(ctx context.Context, method, relativeOrAbsolute string, request, response any) error {
	method = strings.ToUpper(method)
	if !routes.ValidMethod(method) {
		return fmt.Errorf("unknown HTTP method %q", method)
	}

	c.stampVersion(request)
	url := c.ResolveURLString(method, relativeOrAbsolute)
	if request != nil && routes.IsBodyless(method) {
		if qs := routes.QueryString(request); qs != "" {
			sep := "?"
			if strings.Contains(url, "?") {
				sep = "&"
			}
			url += sep + qs
		}
	}
	return c.send(ctx, method, url, request, response)
}

func (c *Client) Get(ctx context.Context, request, response any) error {
	return c.Send(ctx, http.MethodGet, request, response)
}

func (c *Client) Post(ctx context.Context, request, response any) error {
	return c.Send(ctx, http.MethodPost, request, response)
}

func (c *Client) Put(ctx context.Context, request, response any) error {
	return c.Send(ctx, http.MethodPut, request, response)
}

func (c *Client) Patch(ctx context.Context, request, response any) error {
	return c.Send(ctx, http.MethodPatch, request, response)
}

func (c *Client) Delete(ctx context.Context, request, response any) error {
	return c.Send(ctx, http.MethodDelete, request, response)
}

// Do sends request and decodes the response into a new T
func Do[T any](ctx context.Context, c *Client, method string, request any) (*T, error) {
	var response T
	if err := c.Send(ctx, method, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// SendAll posts a batch of requests of one type to the predefined "{Operation}[]" route
// and decodes the responses in order
func SendAll[Resp any, Req any](ctx context.Context, c *Client, requests []Req) ([]Resp, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	for _, request := range requests {
		c.stampVersion(request)
	}
	url := c.PredefinedURL(http.MethodPost, routes.OperationName(requests[0])+"[]")

	var responses []Resp
	if err := c.send(ctx, http.MethodPost, url, requests, &responses); err != nil {
		return nil, err
	}
	return responses, nil
}

// SendOneWay posts request to the one-way route and ignores the response body
func (c *Client) SendOneWay(ctx context.Context, request any) error {
	c.stampVersion(request)
	url := c.ResolveURLString(http.MethodPost, c.oneWayPath()+routes.OperationName(request))
	return c.send(ctx, http.MethodPost, url, request, nil)
}

// SendAllOneWay posts a batch of requests to the one-way "{Operation}[]" route
func SendAllOneWay[Req any](ctx context.Context, c *Client, requests []Req) error {
	if len(requests) == 0 {
		return nil
	}
	for _, request := range requests {
		c.stampVersion(request)
	}
	url := c.ResolveURLString(http.MethodPost, c.oneWayPath()+routes.OperationName(requests[0])+"[]")
	return c.send(ctx, http.MethodPost, url, requests, nil)
}

// Call is an asynchronous request started by SendAsync
type Call struct {
	Method   string
	Request  any
	Response any
	Error    error

	done chan struct{}
}

// Done is closed when the call completes
func (call *Call) Done() <-chan struct{} {
	return call.done
}

// Wait blocks until the call completes and returns its error
func (call *Call) Wait() error {
	<-call.done
	return call.Error
}

// SendAsync runs Send on its own goroutine. Cancelling ctx aborts the call at whichever
// step it is in.
func (c *Client) SendAsync(ctx context.Context, method string, request, response any) *Call {
	call := &Call{Method: method, Request: request, Response: response, done: make(chan struct{})}
	go func() {
		defer close(call.done)
		call.Error = c.Send(ctx, method, request, response)
	}()
	return call
}

// send runs one logical call: results filter, encode, exchange
func (c *Client) send(ctx context.Context, method, url string, request, response any) error {
	if c.applyResultsFilter(method, url, request, response) {
		return nil
	}

	p, err := c.encodeRequest(method, request)
	if err != nil {
		return err
	}
	return c.exchange(ctx, method, url, request, response, p)
}

// exchange sends the request, recovers one 401 and classifies the final response
func (c *Client) exchange(ctx context.Context, method, url string, request, response any, p *payload) error {
	log := c.log.WithFields(logrus.Fields{"method": method, "url": url})

	if err := c.wait(ctx); err != nil {
		return newTransportError(method, url, err)
	}

	c.requests.Add(1)
	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	req, err := c.newRequest(ctx, method, url, p)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Debug("request failed")
		return newTransportError(method, url, err)
	}
	log.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("response received")

	if resp.StatusCode == http.StatusUnauthorized {
		if resp, err = c.reauthenticate(ctx, method, url, req, resp, p); err != nil {
			return err
		}
	}
	return c.handleResponse(method, url, request, response, resp)
}

// applyResultsFilter copies a ResultsFilter hit into response
func (c *Client) applyResultsFilter(method, url string, request, response any) bool {
	if c.cfg.ResultsFilter == nil {
		return false
	}
	result := c.cfg.ResultsFilter(method, url, request)
	if result == nil {
		return false
	}
	if !c.assign(response, result) {
		c.log.WithFields(logrus.Fields{
			"result":   fmt.Sprintf("%T", result),
			"response": fmt.Sprintf("%T", response),
		}).Debug("results filter value not assignable to response, sending request")
		return false
	}
	return true
}

// assign stores value into the target pointer. Raw []byte or string values are decoded
// with the client codec when the target is a DTO.
func (c *Client) assign(target, value any) bool {
	if target == nil {
		return true
	}
	tv := reflect.ValueOf(target)
	if tv.Kind() != reflect.Pointer || tv.IsNil() {
		return false
	}
	elem := tv.Elem()

	vv := reflect.ValueOf(value)
	if vv.Type().AssignableTo(elem.Type()) {
		elem.Set(vv)
		return true
	}
	if vv.Kind() == reflect.Pointer && !vv.IsNil() && vv.Elem().Type().AssignableTo(elem.Type()) {
		elem.Set(vv.Elem())
		return true
	}

	switch raw := value.(type) {
	case []byte:
		return c.codec.Unmarshal(raw, target) == nil
	case string:
		return c.codec.Unmarshal([]byte(raw), target) == nil
	}
	return false
}
