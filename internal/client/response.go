package client

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/studiowebux/restcall/internal/codec"
	"github.com/studiowebux/restcall/internal/routes"
	"github.com/studiowebux/restcall/internal/types"
)

// handleResponse classifies the final response of an exchange and owns its body
func (c *Client) handleResponse(method, url string, request, response any, resp *http.Response) error {
	if c.cfg.ResponseFilter != nil {
		c.cfg.ResponseFilter(resp)
	}
	for _, filter := range c.cfg.GlobalFilters.responseFilters() {
		filter(resp)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleError(method, url, request, response, resp)
	}

	body, err := c.decodedBody(resp)
	if err != nil {
		resp.Body.Close()
		return c.readFailure(resp, err)
	}

	switch target := response.(type) {
	case nil:
		io.Copy(io.Discard, body)
		body.Close()
	case **http.Response:
		resp.Body = body
		*target = resp
	case *io.ReadCloser:
		*target = body
	case *[]byte:
		data, err := readAndClose(body)
		if err != nil {
			return c.readFailure(resp, err)
		}
		*target = data
	case *string:
		data, err := readAndClose(body)
		if err != nil {
			return c.readFailure(resp, err)
		}
		*target = string(data)
	default:
		data, err := readAndClose(body)
		if err != nil {
			return c.readFailure(resp, err)
		}
		if err := c.responseCodec(resp).Unmarshal(data, response); err != nil {
			return &DeserializationError{
				StatusCode: resp.StatusCode,
				Headers:    resp.Header,
				Body:       string(data),
				Type:       fmt.Sprintf("%T", response),
				err:        err,
			}
		}
	}

	if c.cfg.ResultsFilterResponse != nil {
		c.cfg.ResultsFilterResponse(resp, response, method, url, request)
	}
	return nil
}

// handleError turns a non-2xx response into a ServiceError, unless ExceptionFilter
// supplies a response instead
func (c *Client) handleError(method, url string, request, response any, resp *http.Response) error {
	serr := c.newServiceError(resp, request, response)

	c.log.WithFields(logrus.Fields{
		"method":    method,
		"url":       url,
		"status":    serr.StatusCode,
		"errorCode": serr.ErrorCode(),
	}).Debug("service error")

	if c.cfg.ExceptionFilter != nil {
		if result := c.cfg.ExceptionFilter(serr, method, url, request); result != nil && c.assign(response, result) {
			return nil
		}
	}
	return serr
}

// newServiceError reads and closes the body of a failed response
func (c *Client) newServiceError(resp *http.Response, request, response any) *ServiceError {
	defer resp.Body.Close()

	serr := &ServiceError{
		StatusCode:        resp.StatusCode,
		StatusDescription: statusDescription(resp),
		Headers:           resp.Header,
	}

	body, err := c.decodedBody(resp)
	if err != nil {
		serr.Err = err
		return serr
	}
	data, err := readAndClose(body)
	if err != nil {
		serr.Err = err
	}
	serr.Body = string(data)

	contentType := resp.Header.Get("Content-Type")
	if codec.IsJSON(contentType) || (contentType == "" && codec.LooksLikeJSON(data)) {
		c.parseErrorResponse(serr, data, request, response)
	}
	return serr
}

// parseErrorResponse decodes the error DTO: the response type when it carries a
// ResponseStatus, else a registered "{Operation}Response", else ErrorResponse
func (c *Client) parseErrorResponse(serr *ServiceError, data []byte, request, response any) {
	dto := errorDTO(request, response)
	if err := (codec.JSON{}).Unmarshal(data, dto); err != nil {
		c.log.WithError(err).Debug("failed to parse error response")
		return
	}
	serr.Response = dto

	if hs, ok := dto.(types.HasResponseStatus); ok {
		serr.ResponseStatus = hs.GetResponseStatus()
	}
	if serr.ResponseStatus == nil {
		var envelope types.ErrorResponse
		if (codec.JSON{}).Unmarshal(data, &envelope) == nil {
			serr.ResponseStatus = envelope.ResponseStatus
		}
	}
}

func errorDTO(request, response any) any {
	if _, ok := response.(types.HasResponseStatus); ok {
		if t := reflect.TypeOf(response); t.Kind() == reflect.Pointer {
			return reflect.New(t.Elem()).Interface()
		}
	}
	if request != nil {
		if dto, ok := types.NewResponseType(routes.OperationName(request) + "Response"); ok {
			return dto
		}
	}
	return &types.ErrorResponse{}
}

// decodedBody wraps the body in the decompressor named by Content-Encoding
func (c *Client) decodedBody(resp *http.Response) (io.ReadCloser, error) {
	encoding := strings.TrimSpace(resp.Header.Get("Content-Encoding"))
	if encoding == "" || strings.EqualFold(encoding, "identity") {
		return resp.Body, nil
	}

	br := bufio.NewReader(resp.Body)
	if _, err := br.Peek(1); err == io.EOF {
		return resp.Body, nil
	} else if err != nil {
		return nil, err
	}

	body, err := c.compress.Decompress(encoding, &bufferedBody{Reader: br, Closer: resp.Body})
	if err != nil {
		return nil, err
	}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return body, nil
}

// responseCodec picks the codec for a 2xx body from its Content-Type
func (c *Client) responseCodec(resp *http.Response) codec.Codec {
	if cd, ok := codec.ForContentType(resp.Header.Get("Content-Type")); ok {
		return cd
	}
	return c.codec
}

func (c *Client) readFailure(resp *http.Response, err error) error {
	return &ServiceError{
		StatusCode:        resp.StatusCode,
		StatusDescription: statusDescription(resp),
		Headers:           resp.Header,
		Err:               err,
	}
}

type bufferedBody struct {
	io.Reader
	io.Closer
}

func readAndClose(body io.ReadCloser) ([]byte, error) {
	defer body.Close()
	return io.ReadAll(body)
}

func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
