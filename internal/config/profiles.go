package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/restcall/internal/client"
	"github.com/studiowebux/restcall/internal/compress"
	"github.com/studiowebux/restcall/internal/types"
)

// LoadProfiles reads a profiles file. YAML is picked by extension; anything else is
// parsed as JSON with comments and trailing commas allowed.
func LoadProfiles(path string) ([]types.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var profiles []types.Profile
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &profiles); err != nil {
			return nil, fmt.Errorf("failed to parse profiles file %s: %w", path, err)
		}
	} else if err := json.Unmarshal(jsonc.ToJSON(data), &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(profiles))
	for i := range profiles {
		name := profiles[i].Name
		if name == "" {
			return nil, fmt.Errorf("profile #%d in %s has no name", i+1, path)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate profile %q in %s", name, path)
		}
		seen[name] = true
		if profiles[i].Headers == nil {
			profiles[i].Headers = make(map[string]string)
		}
	}
	return profiles, nil
}

// SaveProfiles writes profiles in the format matching the file extension
func SaveProfiles(path string, profiles []types.Profile) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(profiles)
	} else {
		data, err = json.MarshalIndent(profiles, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal profiles: %w", err)
	}
	if err := os.WriteFile(path, data, FilePermissions); err != nil {
		return fmt.Errorf("failed to write profiles file: %w", err)
	}
	return nil
}

// FindProfile returns the named profile
func FindProfile(profiles []types.Profile, name string) (*types.Profile, error) {
	for i := range profiles {
		if profiles[i].Name == name {
			return &profiles[i], nil
		}
	}
	return nil, fmt.Errorf("profile not found: %s", name)
}

// ClientConfig converts a profile into a client configuration.
// Credentials and header values may reference environment variables as $NAME or ${NAME}.
func ClientConfig(p *types.Profile, logger logrus.FieldLogger) (*client.Config, error) {
	if p.BaseURL == "" {
		return nil, fmt.Errorf("profile %q has no baseUrl", p.Name)
	}

	cfg := &client.Config{
		BaseURI:                p.BaseURL,
		BasePath:               p.BasePath,
		UserName:               os.ExpandEnv(p.UserName),
		Password:               os.ExpandEnv(p.Password),
		AlwaysSendBasicAuth:    p.AlwaysSendBasicAuth,
		BearerToken:            os.ExpandEnv(p.BearerToken),
		RefreshToken:           os.ExpandEnv(p.RefreshToken),
		RefreshTokenURI:        p.RefreshTokenURI,
		UseTokenCookie:         p.UseTokenCookie,
		DisableAutoCompression: p.DisableAutoCompression,
		RequestCompressionType: strings.ToLower(p.RequestCompression),
		Proxy:                  p.Proxy,
		TLS:                    p.TLS,
		RateLimit:              p.RateLimit,
		RateBurst:              p.RateBurst,
		Version:                p.Version,
		Logger:                 logger,
	}

	if p.AutoRefreshToken != nil {
		cfg.DisableAutoRefreshToken = !*p.AutoRefreshToken
	}
	if p.AllowAutoRedirect != nil {
		cfg.DisableAutoRedirect = !*p.AllowAutoRedirect
	}

	if p.Timeout != "" {
		timeout, err := time.ParseDuration(p.Timeout)
		if err != nil {
			return nil, fmt.Errorf("profile %q: invalid timeout %q: %w", p.Name, p.Timeout, err)
		}
		cfg.Timeout = timeout
	}

	if cfg.RequestCompressionType != "" {
		if _, ok := compress.Default.Get(cfg.RequestCompressionType); !ok {
			return nil, fmt.Errorf("profile %q: unsupported request compression %q", p.Name, p.RequestCompression)
		}
	}

	if len(p.Headers) > 0 {
		cfg.Headers = make(http.Header, len(p.Headers))
		for name, value := range p.Headers {
			cfg.Headers.Set(name, os.ExpandEnv(value))
		}
	}

	if cfg.TLS != nil {
		tls := *cfg.TLS
		tls.CertFile = expandHome(tls.CertFile)
		tls.KeyFile = expandHome(tls.KeyFile)
		tls.CAFile = expandHome(tls.CAFile)
		cfg.TLS = &tls
	}

	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}
