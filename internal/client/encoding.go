package client

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// decodeContent removes a gzip or deflate content coding from body so it can
// be parsed. The transport only does this itself when the caller sent no
// Accept-Encoding; forwarded requests usually carry one. Any other coding is
// returned untouched with Content-Encoding left in place.
func decodeContent(h http.Header, body []byte) ([]byte, error) {
	if len(body) == 0 {
		return body, nil
	}

	var (
		r   io.ReadCloser
		err error
	)
	switch coding := strings.ToLower(strings.TrimSpace(h.Get("Content-Encoding"))); coding {
	case "gzip", "x-gzip":
		r, err = gzip.NewReader(bytes.NewReader(body))
	case "deflate":
		r, err = zlib.NewReader(bytes.NewReader(body))
	case "identity":
		h.Del("Content-Encoding")
		return body, nil
	default:
		return body, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}

	h.Del("Content-Encoding")
	h.Del("Content-Length")
	return out, nil
}
