// Package codec serializes request and response DTOs for the wire.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	MimeJSON = "application/json"
	MimeYAML = "application/yaml"
)

// Codec converts DTOs to and from a wire format
type Codec interface {
	ContentType() string
	Marshal(value any) ([]byte, error)
	Unmarshal(data []byte, value any) error
}

// JSON is the default codec
type JSON struct{}

func (JSON) ContentType() string {
	return MimeJSON
}

func (JSON) Marshal(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (JSON) Unmarshal(data []byte, value any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, value)
}

// YAML encodes DTOs as YAML documents
type YAML struct{}

func (YAML) ContentType() string {
	return MimeYAML
}

func (YAML) Marshal(value any) ([]byte, error) {
	return yaml.Marshal(value)
}

func (YAML) Unmarshal(data []byte, value any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return yaml.Unmarshal(data, value)
}

// Decode reads the whole stream and unmarshals it with c
func Decode(c Codec, r io.Reader, value any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}
	return c.Unmarshal(data, value)
}

// MediaType returns the lower-cased media type without parameters such as charset
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// MatchesContentType reports whether two content types name the same media type
func MatchesContentType(a, b string) bool {
	return MediaType(a) == MediaType(b)
}

// IsJSON reports whether the content type is JSON (application/json or a +json suffix)
func IsJSON(contentType string) bool {
	mediaType := MediaType(contentType)
	return mediaType == MimeJSON || mediaType == "text/json" || strings.HasSuffix(mediaType, "+json")
}

// LooksLikeJSON reports whether body starts with a JSON object
func LooksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// ForContentType returns the codec registered for a content type
func ForContentType(contentType string) (Codec, bool) {
	switch mediaType := MediaType(contentType); {
	case IsJSON(mediaType):
		return JSON{}, true
	case mediaType == MimeYAML, mediaType == "application/x-yaml", mediaType == "text/yaml":
		return YAML{}, true
	}
	return nil, false
}
