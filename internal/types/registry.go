package types

import (
	"sync"
)

var (
	responseTypesMu sync.RWMutex
	responseTypes   = map[string]func() any{}
)

// RegisterResponseType registers a constructor for a response DTO by name.
// The client uses it to find "{Operation}Response" when decoding error bodies.
func RegisterResponseType(name string, factory func() any) {
	responseTypesMu.Lock()
	defer responseTypesMu.Unlock()
	responseTypes[name] = factory
}

// NewResponseType returns a fresh value of the registered response type
func NewResponseType(name string) (any, bool) {
	responseTypesMu.RLock()
	factory, ok := responseTypes[name]
	responseTypesMu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(), true
}

func init() {
	RegisterResponseType("GetAccessTokenResponse", func() any { return &GetAccessTokenResponse{} })
}
