// Package codec decides how a backend body is carried back to the caller.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ContentTypeJSON is the media type of re-encoded structured bodies.
const ContentTypeJSON = "application/json"

// Result is the outcome of Parse: a structured value together with its source
// bytes, or raw bytes that could not be parsed.
type Result struct {
	value  any
	raw    []byte
	parsed bool
}

// Parsed wraps a structured value that has no source bytes.
func Parsed(v any) Result { return Result{value: v, parsed: true} }

// Unparsed wraps bytes that are not structured data.
func Unparsed(raw []byte) Result { return Result{raw: raw} }

// IsParsed reports whether the body was structured data.
func (r Result) IsParsed() bool { return r.parsed }

// Value returns the structured value; nil for Unparsed results.
func (r Result) Value() any { return r.value }

// Raw returns the original bytes. Parse keeps them for both outcomes.
func (r Result) Raw() []byte { return r.raw }

// Parse attempts to read body as a single JSON document. Anything else,
// including trailing data after a valid document, is Unparsed.
func Parse(body []byte) Result {
	if len(bytes.TrimSpace(body)) == 0 {
		return Unparsed(body)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Unparsed(body)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Unparsed(body)
	}
	return Result{value: v, raw: body, parsed: true}
}

// Encode serializes a parsed result back to JSON. Documents read by Parse are
// compacted from their source bytes, so object key order and number literals
// are exactly the backend's. HTML characters are not escaped.
func Encode(r Result) ([]byte, error) {
	if !r.parsed {
		return nil, errors.New("encode structured body: result is unparsed")
	}

	var buf bytes.Buffer
	if r.raw != nil {
		if err := json.Compact(&buf, r.raw); err != nil {
			return nil, fmt.Errorf("encode structured body: %w", err)
		}
		return buf.Bytes(), nil
	}

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r.value); err != nil {
		return nil, fmt.Errorf("encode structured body: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
