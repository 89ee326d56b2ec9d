// Package auth parses WWW-Authenticate challenges and builds Basic and Digest
// Authorization headers.
package auth

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Method is an HTTP authentication scheme
type Method string

const (
	Basic  Method = "basic"
	Digest Method = "digest"
)

// Info is the state of an authentication challenge. A digest Info is reused for
// every request on a client; each header consumes the next nonce count.
type Info struct {
	Method    Method
	Realm     string
	Nonce     string
	Opaque    string
	Qop       string // "auth" when the server offered it, empty for RFC 2069 digest
	Algorithm string

	cnonce string
	nc     atomic.Uint32
}

// ParseChallenge parses a WWW-Authenticate header value. Digest is preferred when the
// server offers several schemes in one value.
func ParseChallenge(header string) (*Info, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}

	scheme, rest, _ := strings.Cut(header, " ")
	switch strings.ToLower(scheme) {
	case string(Basic):
		params := parseParams(rest)
		return &Info{Method: Basic, Realm: params["realm"]}, nil
	case string(Digest):
		params := parseParams(rest)
		if params["nonce"] == "" {
			return nil, fmt.Errorf("digest challenge without nonce")
		}
		info := &Info{
			Method:    Digest,
			Realm:     params["realm"],
			Nonce:     params["nonce"],
			Opaque:    params["opaque"],
			Algorithm: params["algorithm"],
			cnonce:    strings.ReplaceAll(uuid.NewString(), "-", ""),
		}
		for _, q := range strings.Split(params["qop"], ",") {
			if strings.EqualFold(strings.TrimSpace(q), "auth") {
				info.Qop = "auth"
			}
		}
		return info, nil
	}
	return nil, fmt.Errorf("unsupported authentication scheme %q", scheme)
}

// ParseChallenges picks the strongest supported challenge from several header values
func ParseChallenges(headers []string) (*Info, error) {
	var best *Info
	var lastErr error
	for _, h := range headers {
		info, err := ParseChallenge(h)
		if err != nil {
			lastErr = err
			continue
		}
		if best == nil || (best.Method == Basic && info.Method == Digest) {
			best = info
		}
	}
	if best == nil {
		if lastErr == nil {
			lastErr = fmt.Errorf("no WWW-Authenticate challenge")
		}
		return nil, lastErr
	}
	return best, nil
}

// parseParams splits auth-params, honouring quoted values that contain commas
func parseParams(s string) map[string]string {
	params := map[string]string{}
	for len(s) > 0 {
		s = strings.TrimLeft(s, " ,\t")
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = strings.TrimLeft(s[eq+1:], " \t")

		var value string
		if strings.HasPrefix(s, `"`) {
			var sb strings.Builder
			i := 1
			for ; i < len(s); i++ {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					i++
					sb.WriteByte(s[i])
					continue
				}
				if c == '"' {
					break
				}
				sb.WriteByte(c)
			}
			value = sb.String()
			if i < len(s) {
				i++
			}
			s = s[i:]
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			value = strings.TrimSpace(s[:end])
			s = s[end:]
		}
		params[key] = value
	}
	return params
}

// NonceCount returns the number of digest headers built so far
func (i *Info) NonceCount() uint32 {
	return i.nc.Load()
}

// Header builds the Authorization header for one request
func (i *Info) Header(method, uri, user, password string) string {
	if i.Method != Digest {
		return BasicHeader(user, password)
	}
	return i.digest(method, uri, user, password)
}

func (i *Info) digest(method, uri, user, password string) string {
	nc := fmt.Sprintf("%08x", i.nc.Add(1))
	response := digestResponse(method, uri, user, i.Realm, password, i.Nonce, nc, i.cnonce, i.Qop, i.Algorithm)

	var sb strings.Builder
	fmt.Fprintf(&sb, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		user, i.Realm, i.Nonce, uri, response)
	if i.Algorithm != "" {
		fmt.Fprintf(&sb, ", algorithm=%s", i.Algorithm)
	}
	if i.Opaque != "" {
		fmt.Fprintf(&sb, `, opaque="%s"`, i.Opaque)
	}
	if i.Qop != "" {
		fmt.Fprintf(&sb, ", qop=%s", i.Qop)
	}
	fmt.Fprintf(&sb, `, nc=%s, cnonce="%s"`, nc, i.cnonce)
	return sb.String()
}

func digestResponse(method, uri, user, realm, password, nonce, nc, cnonce, qop, algorithm string) string {
	ha1 := md5Hex(user + ":" + realm + ":" + password)
	if strings.EqualFold(algorithm, "MD5-sess") {
		ha1 = md5Hex(ha1 + ":" + nonce + ":" + cnonce)
	}
	ha2 := md5Hex(strings.ToUpper(method) + ":" + uri)

	if qop != "" {
		return md5Hex(strings.Join([]string{ha1, nonce, nc, cnonce, qop, ha2}, ":"))
	}
	return md5Hex(ha1 + ":" + nonce + ":" + ha2)
}

// ParseAuthorization splits an Authorization header into its scheme and parameters.
// The token of a Basic or Bearer header is returned under the "token" key.
func ParseAuthorization(header string) (Method, map[string]string) {
	scheme, rest, _ := strings.Cut(strings.TrimSpace(header), " ")
	rest = strings.TrimSpace(rest)
	if strings.EqualFold(scheme, string(Digest)) {
		return Digest, parseParams(rest)
	}
	return Method(strings.ToLower(scheme)), map[string]string{"token": rest}
}

// VerifyDigest checks the response of parsed Digest credentials against password
func VerifyDigest(method string, params map[string]string, password string) bool {
	expected := digestResponse(method, params["uri"], params["username"], params["realm"], password,
		params["nonce"], params["nc"], params["cnonce"], params["qop"], params["algorithm"])
	return params["response"] != "" && subtle.ConstantTimeCompare([]byte(expected), []byte(params["response"])) == 1
}

// BasicHeader builds a Basic Authorization header
func BasicHeader(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// BearerHeader builds a Bearer Authorization header
func BearerHeader(token string) string {
	return "Bearer " + token
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
