// Package service implements the forwarding core: it turns an inbound request
// into a backend call and the backend's answer into the relayed response.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"service-gateway/internal/client"
	"service-gateway/internal/codec"
	"service-gateway/internal/model"
)

// droppedRequestHeaders are removed from the outbound request; Host would
// address the gateway itself.
var droppedRequestHeaders = []string{
	"Host",
}

// relayedResponseHeaders are the backend response headers passed to the caller.
// Content-Type and Content-Length follow from the chosen body encoding.
// X-Request-Id is owned by the gateway's request ID middleware.
var relayedResponseHeaders = []string{
	"Cache-Control",
	"Etag",
	"Last-Modified",
	"Location",
	"Retry-After",
}

const contentTypeText = "text/plain; charset=utf-8"

// Sender issues one backend call. *client.UpstreamClient implements it.
type Sender interface {
	Send(ctx context.Context, req *model.OutboundRequest) (*model.OutboundResponse, error)
}

// Forwarder relays requests to backends. It holds no per-request state and
// is safe for concurrent use.
type Forwarder struct {
	sender Sender
	logger *slog.Logger
}

// NewForwarder creates a Forwarder around the shared upstream client.
func NewForwarder(c *client.UpstreamClient, logger *slog.Logger) *Forwarder {
	return newForwarder(c, logger)
}

func newForwarder(s Sender, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		sender: s,
		logger: logger.With("component", "forwarder"),
	}
}

// Forward makes exactly one backend call for in and returns the relayed response.
// A backend status of any value, 4xx and 5xx included, is a successful forward;
// only a call that produced no response returns an error (*client.UpstreamError).
func (f *Forwarder) Forward(ctx context.Context, in *model.InboundRequest, target model.Target, suffix string) (*model.RelayedResponse, error) {
	out := BuildOutbound(in, target, suffix)

	f.logger.Debug("forwarding request",
		"backend", target.Name,
		"method", out.Method,
		"url", out.URL,
	)

	resp, err := f.sender.Send(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", target.Name, err)
	}

	rel, err := Relay(resp)
	if err != nil {
		return nil, fmt.Errorf("relay from %s: %w", target.Name, err)
	}
	if rel.Encoding == model.EncodingOpaque {
		f.logger.Debug("relaying unstructured body",
			"backend", target.Name,
			"status", rel.StatusCode,
			"bytes", len(rel.Body),
		)
	}
	return rel, nil
}

// BuildOutbound derives the backend request: same method, body and query,
// URL = target base + suffix, headers minus Host.
func BuildOutbound(in *model.InboundRequest, target model.Target, suffix string) *model.OutboundRequest {
	u := joinURL(target.BaseURL, suffix)
	if in.RawQuery != "" {
		u += "?" + in.RawQuery
	}

	header := in.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	for _, h := range droppedRequestHeaders {
		for key := range header {
			if strings.EqualFold(key, h) {
				delete(header, key)
			}
		}
	}

	return &model.OutboundRequest{
		Backend: target.Name,
		Method:  in.Method,
		URL:     u,
		Header:  header,
		Body:    in.Body,
	}
}

// Relay turns a backend response into the response for the caller. The status
// code is always copied unchanged; only the body encoding is chosen here.
func Relay(resp *model.OutboundResponse) (*model.RelayedResponse, error) {
	rel := &model.RelayedResponse{
		StatusCode: resp.StatusCode,
		Header:     relayHeaders(resp.Header),
	}

	if len(resp.Body) == 0 {
		rel.Encoding = model.EncodingEmpty
		return rel, nil
	}

	// A content coding the client could not undo leaves the body unreadable
	// here; it goes out as-is with the coding declared.
	if ce := resp.Header.Get("Content-Encoding"); ce != "" && !strings.EqualFold(ce, "identity") {
		rel.Header.Set("Content-Encoding", ce)
		return opaque(rel, resp, resp.Body), nil
	}

	res := codec.Parse(resp.Body)
	if !res.IsParsed() {
		return opaque(rel, resp, res.Raw()), nil
	}

	body, err := codec.Encode(res)
	if err != nil {
		return nil, err
	}
	rel.Encoding = model.EncodingStructured
	rel.ContentType = codec.ContentTypeJSON
	rel.Body = body
	return rel, nil
}

func opaque(rel *model.RelayedResponse, resp *model.OutboundResponse, body []byte) *model.RelayedResponse {
	rel.Encoding = model.EncodingOpaque
	rel.ContentType = resp.Header.Get("Content-Type")
	if rel.ContentType == "" {
		rel.ContentType = contentTypeText
	}
	rel.Body = body
	return rel
}

func relayHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for _, key := range relayedResponseHeaders {
		if vals := src.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = append([]string(nil), vals...)
		}
	}
	return dst
}

// joinURL appends suffix to base without doubling the slash between them.
func joinURL(base, suffix string) string {
	if strings.HasSuffix(base, "/") && strings.HasPrefix(suffix, "/") {
		return base + suffix[1:]
	}
	return base + suffix
}
