// Package compress maps Content-Encoding names to stream compressors.
package compress

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

const (
	Gzip    = "gzip"
	Deflate = "deflate"
)

// Compressor compresses and decompresses one encoding
type Compressor interface {
	Compress(w io.Writer) (io.WriteCloser, error)
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// Registry maps encoding names (case-insensitive) to compressors
type Registry struct {
	mu          sync.RWMutex
	compressors map[string]Compressor
}

// NewRegistry returns a registry with gzip and deflate installed
func NewRegistry() *Registry {
	r := &Registry{compressors: make(map[string]Compressor)}
	r.Register(Gzip, gzipCompressor{})
	r.Register(Deflate, deflateCompressor{})
	return r
}

// Default is the registry used by clients that don't install their own
var Default = NewRegistry()

// Register installs or replaces the compressor for an encoding
func (r *Registry) Register(encoding string, c Compressor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compressors[strings.ToLower(encoding)] = c
}

// Get returns the compressor for an encoding
func (r *Registry) Get(encoding string) (Compressor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.compressors[strings.ToLower(strings.TrimSpace(encoding))]
	return c, ok
}

// Encodings returns the registered encodings, sorted, for Accept-Encoding
func (r *Registry) Encodings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.compressors))
	for name := range r.compressors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compress compresses data with the named encoding
func (r *Registry) Compress(encoding string, data []byte) ([]byte, error) {
	c, ok := r.Get(encoding)
	if !ok {
		return nil, fmt.Errorf("unsupported compression type: %s", encoding)
	}
	var buf bytes.Buffer
	w, err := c.Compress(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to compress body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress body: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress wraps body according to a Content-Encoding header value.
// Identity or empty encodings return body unchanged.
func (r *Registry) Decompress(encoding string, body io.ReadCloser) (io.ReadCloser, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding == "" || encoding == "identity" {
		return body, nil
	}
	c, ok := r.Get(encoding)
	if !ok {
		return nil, fmt.Errorf("unsupported content encoding: %s", encoding)
	}
	reader, err := c.Decompress(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s body: %w", encoding, err)
	}
	return &closeBoth{ReadCloser: reader, underlying: body}, nil
}

type closeBoth struct {
	io.ReadCloser
	underlying io.Closer
}

func (c *closeBoth) Close() error {
	err := c.ReadCloser.Close()
	if uerr := c.underlying.Close(); err == nil {
		err = uerr
	}
	return err
}

type gzipCompressor struct{}

func (gzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gzipCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// deflateCompressor writes zlib-wrapped deflate and reads either zlib or raw deflate,
// since servers disagree on what "deflate" means
type deflateCompressor struct{}

func (deflateCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zlib.NewWriter(w), nil
}

func (deflateCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(2)
	if err == nil && isZlibHeader(header) {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

func isZlibHeader(h []byte) bool {
	return h[0]&0x0f == 8 && (uint16(h[0])<<8|uint16(h[1]))%31 == 0
}
