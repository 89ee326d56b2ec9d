package client

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/studiowebux/restcall/internal/types"
)

// buildHTTPClient creates the HTTP client with proxy, redirect and TLS settings
func buildHTTPClient(cfg *Config) (*http.Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	if cfg.HTTPClient != nil {
		hc := *cfg.HTTPClient
		if cfg.Timeout != 0 {
			hc.Timeout = cfg.Timeout
		}
		if cfg.DisableAutoRedirect {
			hc.CheckRedirect = noRedirect
		}
		return &hc, nil
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Accept-Encoding is negotiated by the client itself
	transport.DisableCompression = true

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	tlsCfg, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		transport.TLSClientConfig = tlsCfg
	}

	hc := &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
	if cfg.DisableAutoRedirect {
		hc.CheckRedirect = noRedirect
	}
	return hc, nil
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func buildTLSConfig(tlsConfig *types.TLSConfig) (*tls.Config, error) {
	if tlsConfig == nil {
		return nil, nil
	}

	tlsCfg := &tls.Config{
		InsecureSkipVerify: tlsConfig.InsecureSkipVerify,
	}

	// Client certificate for mTLS
	if tlsConfig.CertFile != "" && tlsConfig.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if tlsConfig.CAFile != "" {
		caCert, err := os.ReadFile(tlsConfig.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}
