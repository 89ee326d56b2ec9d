package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/restcall/internal/routes"
	"github.com/studiowebux/restcall/internal/types"
)

// RouteSpec is a route declared in a request file
type RouteSpec struct {
	Path     string `yaml:"path"`
	Verbs    string `yaml:"verbs,omitempty"` // comma or space separated, empty for any
	Priority int    `yaml:"priority,omitempty"`
}

// Request is one call described by a request file. Properties keep their file order.
type Request struct {
	Name       string
	Operation  string
	Method     string
	URL        string // explicit relative or absolute URL, skips route matching
	OneWay     bool
	Routes     []types.Route
	Properties []routes.KeyValue
	Headers    map[string]string
	Filter     string // JMESPath expression narrowing the response
	Query      string // JMESPath query or $(command) applied after the filter
}

// rawRequest is the file shape; properties stay a node so their order survives decoding
type rawRequest struct {
	Name       string            `yaml:"name"`
	Operation  string            `yaml:"operation"`
	Method     string            `yaml:"method"`
	URL        string            `yaml:"url"`
	OneWay     bool              `yaml:"oneWay"`
	Routes     []RouteSpec       `yaml:"routes"`
	Properties yaml.Node         `yaml:"properties"`
	Headers    map[string]string `yaml:"headers"`
	Filter     string            `yaml:"filter"`
	Query      string            `yaml:"query"`
}

type rawFile struct {
	rawRequest `yaml:",inline"`
	Requests   []rawRequest `yaml:"requests"`
}

// LoadRequestFile reads the requests of a YAML or JSON (with comments) file.
// A file holds either one request or a "requests" list.
func LoadRequestFile(path string) ([]Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" || ext == ".jsonc" {
		// compacted JSON is a single line of flow YAML
		var buf bytes.Buffer
		if err := json.Compact(&buf, jsonc.ToJSON(data)); err != nil {
			return nil, fmt.Errorf("failed to parse request file %s: %w", path, err)
		}
		data = buf.Bytes()
	}

	return ParseRequests(data, path)
}

// ParseRequests decodes request file content. source names the content in errors.
func ParseRequests(data []byte, source string) ([]Request, error) {
	var file rawFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse request file %s: %w", source, err)
	}

	raws := file.Requests
	if len(raws) == 0 {
		if file.Operation == "" && file.URL == "" {
			return nil, fmt.Errorf("no requests found in file: %s", source)
		}
		raws = []rawRequest{file.rawRequest}
	}

	requests := make([]Request, 0, len(raws))
	for i, raw := range raws {
		req, err := raw.build()
		if err != nil {
			return nil, fmt.Errorf("%s: request %d: %w", source, i+1, err)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func (r rawRequest) build() (Request, error) {
	req := Request{
		Name:      r.Name,
		Operation: r.Operation,
		Method:    strings.ToUpper(r.Method),
		URL:       r.URL,
		OneWay:    r.OneWay,
		Headers:   r.Headers,
		Filter:    r.Filter,
		Query:     r.Query,
	}
	if req.Name == "" {
		req.Name = req.Operation
	}
	if req.Operation == "" && req.URL == "" {
		return req, fmt.Errorf("operation or url is required")
	}
	if req.Method != "" && !routes.ValidMethod(req.Method) {
		return req, fmt.Errorf("unknown HTTP method %q", r.Method)
	}

	for _, rs := range r.Routes {
		if rs.Path == "" {
			return req, fmt.Errorf("route path is required")
		}
		req.Routes = append(req.Routes, types.NewRoute(rs.Path, rs.Verbs).WithPriority(rs.Priority))
	}

	props, err := orderedProperties(&r.Properties)
	if err != nil {
		return req, err
	}
	req.Properties = props
	return req, nil
}

// orderedProperties walks a mapping node pair by pair
func orderedProperties(node *yaml.Node) ([]routes.KeyValue, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("properties must be a mapping (line %d)", node.Line)
	}

	props := make([]routes.KeyValue, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		var v any
		if err := value.Decode(&v); err != nil {
			return nil, fmt.Errorf("property %q: %w", key.Value, err)
		}
		props = append(props, routes.KeyValue{Key: key.Value, Value: v})
	}
	return props, nil
}

// Dynamic returns the request DTO sent for r
func (r Request) Dynamic() *routes.Dynamic {
	return &routes.Dynamic{
		Operation: r.Operation,
		RouteList: r.Routes,
		Values:    r.Properties,
	}
}

// Set overrides a property value or appends a new property
func (r *Request) Set(key string, value any) {
	for i := range r.Properties {
		if r.Properties[i].Key == key {
			r.Properties[i].Value = value
			return
		}
	}
	r.Properties = append(r.Properties, routes.KeyValue{Key: key, Value: value})
}

// ParseAssignments turns key=value arguments into typed property values.
// Values are read as YAML scalars, so 42 is a number and true a boolean.
func ParseAssignments(args []string) ([]routes.KeyValue, error) {
	props := make([]routes.KeyValue, 0, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q, expected key=value", arg)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		props = append(props, routes.KeyValue{Key: key, Value: value})
	}
	return props, nil
}

// resolveFilePath attempts to find the actual file path, trying common extensions
// if the exact path doesn't exist. Returns the resolved path and any error.
func resolveFilePath(basePath, workdir string) (string, error) {
	extensions := []string{"", ".yaml", ".yml", ".json", ".jsonc"}

	if filepath.IsAbs(basePath) {
		for _, ext := range extensions {
			candidate := basePath + ext
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
		return "", fmt.Errorf("file not found: %s (tried .yaml, .yml, .json, .jsonc extensions)", basePath)
	}

	// Check in current directory first
	for _, ext := range extensions {
		candidate := basePath + ext
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if workdir != "" {
		for _, ext := range extensions {
			candidate := filepath.Join(workdir, basePath+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("file not found: %s (searched current directory and %s, tried .yaml, .yml, .json, .jsonc extensions)", basePath, workdir)
}
