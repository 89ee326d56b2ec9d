package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/studiowebux/restcall/internal/auth"
	"github.com/studiowebux/restcall/internal/types"
)

// reauthenticate tries to recover a 401 and replays the call once. It returns the
// original response untouched when no recovery applies.
func (c *Client) reauthenticate(ctx context.Context, method, url string, req *http.Request, resp *http.Response, p *payload) (*http.Response, error) {
	if !c.cfg.DisableAutoRefreshToken && c.RefreshToken() != "" {
		drainAndClose(resp)
		if err := c.refreshAccessToken(ctx); err != nil {
			c.log.WithError(err).Warn("access token refresh failed")
			return nil, err
		}
		return c.replay(ctx, method, url, p)
	}

	if req.Header.Get("Authorization") != "" {
		// no second replay; a fresh challenge such as a new nonce is kept for the next call
		if c.storedAuthInfo() != nil && c.BearerToken() == "" {
			if info, err := auth.ParseChallenges(resp.Header.Values("WWW-Authenticate")); err == nil {
				c.setAuthInfo(info)
				c.log.WithFields(logrus.Fields{"scheme": info.Method, "realm": info.Realm}).Debug("stored challenge replaced")
			}
		}
		return resp, nil
	}
	if user, _ := c.credentials(); user == "" && c.cfg.OnAuthenticationRequired == nil {
		return resp, nil
	}

	if c.cfg.OnAuthenticationRequired != nil {
		c.cfg.OnAuthenticationRequired(c)
	}

	if user, _ := c.credentials(); user != "" {
		info, err := auth.ParseChallenges(resp.Header.Values("WWW-Authenticate"))
		if err != nil {
			info = &auth.Info{Method: auth.Basic}
		}
		c.setAuthInfo(info)
		c.log.WithFields(logrus.Fields{"scheme": info.Method, "realm": info.Realm}).Debug("replaying with credentials")
	} else if c.BearerToken() == "" {
		return resp, nil
	}

	drainAndClose(resp)
	return c.replay(ctx, method, url, p)
}

// replay sends a freshly built copy of the request
func (c *Client) replay(ctx context.Context, method, url string, p *payload) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, url, p)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newTransportError(method, url, err)
	}
	return resp, nil
}

// refreshAccessToken exchanges the refresh token for a new access token. Concurrent
// refreshes on one client share a single call to the refresh endpoint.
func (c *Client) refreshAccessToken(ctx context.Context) error {
	ch := c.refreshGroup.DoChan("refresh", func() (any, error) {
		return nil, c.doRefresh(ctx)
	})
	select {
	case <-ctx.Done():
		return &RefreshTokenError{
			Message: "access token refresh cancelled",
			URL:     c.refreshURL(),
			Cause:   newTransportError(http.MethodPost, c.refreshURL(), ctx.Err()),
		}
	case res := <-ch:
		return res.Err
	}
}

func (c *Client) refreshURL() string {
	if c.cfg.RefreshTokenURI != "" {
		return c.ToAbsoluteURL(c.cfg.RefreshTokenURI)
	}
	if url, err := c.ResolveURL(http.MethodPost, &types.GetAccessToken{}); err == nil {
		return url
	}
	return c.ToAbsoluteURL(DefaultRefreshTokenURI)
}

func (c *Client) doRefresh(ctx context.Context) error {
	refreshToken := c.RefreshToken()
	c.SetBearerToken("")
	c.DeleteCookie(TokenCookie)

	url := c.refreshURL()
	request := &types.GetAccessToken{RefreshToken: refreshToken, UseTokenCookie: c.cfg.UseTokenCookie}
	data, err := c.codec.Marshal(request)
	if err != nil {
		return &RefreshTokenError{Message: "failed to serialize refresh token request", URL: url, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return &RefreshTokenError{Message: "failed to create refresh token request", URL: url, Cause: err}
	}
	req.Header.Set("Accept", c.codec.ContentType())
	req.Header.Set("Content-Type", c.codec.ContentType())
	for key, values := range c.cfg.Headers {
		if http.CanonicalHeaderKey(key) == "Authorization" {
			continue
		}
		req.Header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}

	c.log.WithField("url", url).Info("refreshing access token")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RefreshTokenError{
			Message: "failed to refresh access token",
			URL:     url,
			Cause:   newTransportError(http.MethodPost, url, err),
		}
	}

	var tokenResponse types.GetAccessTokenResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serr := c.newServiceError(resp, request, &tokenResponse)
		return &RefreshTokenError{Message: "failed to refresh access token", URL: url, Cause: serr}
	}

	body, err := c.decodedBody(resp)
	if err != nil {
		resp.Body.Close()
		return &RefreshTokenError{Message: "failed to read refresh token response", URL: url, Cause: err}
	}
	raw, err := readAndClose(body)
	if err != nil {
		return &RefreshTokenError{Message: "failed to read refresh token response", URL: url, Cause: err}
	}
	if err := c.responseCodec(resp).Unmarshal(raw, &tokenResponse); err != nil {
		return &RefreshTokenError{
			Message: "failed to parse refresh token response",
			URL:     url,
			Cause: &DeserializationError{
				StatusCode: resp.StatusCode,
				Headers:    resp.Header,
				Body:       string(raw),
				Type:       fmt.Sprintf("%T", &tokenResponse),
				err:        err,
			},
		}
	}

	token := tokenResponse.AccessToken
	if token != "" {
		c.SetBearerToken(token)
	} else if token = c.TokenCookie(); token == "" {
		return &RefreshTokenError{Message: fmt.Sprintf("could not retrieve new access token from %s", url), URL: url}
	}

	if c.cfg.OnTokenRefreshed != nil {
		c.cfg.OnTokenRefreshed(token)
	}
	return nil
}
