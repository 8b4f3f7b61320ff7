// Package model defines shared types for the gateway.
package model

import (
	"net/http"
)

// Target is a backend reachable under a path prefix. Immutable after startup.
type Target struct {
	Name    string
	Prefix  string
	BaseURL string
	// Methods restricts forwarded methods; empty means any method.
	Methods []string
}

// AllowsMethod reports whether the target forwards the given method.
func (t Target) AllowsMethod(method string) bool {
	if len(t.Methods) == 0 {
		return true
	}
	for _, m := range t.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// InboundRequest is a client request captured once at the gateway edge.
type InboundRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// OutboundRequest is the request issued to a backend.
type OutboundRequest struct {
	Backend string
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
}

// OutboundResponse is what a backend sent back.
type OutboundResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Encoding describes how a relayed body was produced.
type Encoding string

const (
	EncodingEmpty      Encoding = "empty"
	EncodingStructured Encoding = "structured"
	EncodingOpaque     Encoding = "opaque"
)

// RelayedResponse is the response sent back to the original caller.
type RelayedResponse struct {
	StatusCode  int
	Header      http.Header
	Encoding    Encoding
	ContentType string
	Body        []byte
}
