package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"service-gateway/internal/config"
	"service-gateway/internal/metrics"
	"service-gateway/internal/model"
)

func newTestClient(timeoutSeconds int, m *metrics.Metrics) *UpstreamClient {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  timeoutSeconds,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewUpstreamClient(cfg, logger, m)
}

func TestUpstreamClient_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.Header.Get("X-Trace") != "abc" {
			t.Errorf("X-Trace = %q, want %q", r.Header.Get("X-Trace"), "abc")
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"username":"alice"}` {
			t.Errorf("body = %q", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	c := newTestClient(10, nil)
	defer c.Close()

	resp, err := c.Send(context.Background(), &model.OutboundRequest{
		Backend: "users",
		Method:  http.MethodPost,
		URL:     srv.URL + "/users/",
		Header:  http.Header{"X-Trace": {"abc"}},
		Body:    []byte(`{"username":"alice"}`),
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if string(resp.Body) != `{"id":1}` {
		t.Errorf("body = %q, want %q", resp.Body, `{"id":1}`)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
}

func TestUpstreamClient_Send_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	c := newTestClient(10, nil)
	resp, err := c.Send(context.Background(), &model.OutboundRequest{
		Backend: "users", Method: http.MethodGet, URL: srv.URL + "/users", Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if resp.Header.Get("Location") != "/elsewhere" {
		t.Errorf("Location = %q, want %q", resp.Header.Get("Location"), "/elsewhere")
	}
}

func TestUpstreamClient_Send_ErrorKinds(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		_, _ = buf.WriteString("this is not http\r\n\r\n")
		_ = buf.Flush()
		_ = conn.Close()
	}))
	defer garbage.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		url  string
		want Kind
	}{
		{"timeout", context.Background(), slow.URL + "/slow", KindTimeout},
		{"connection refused", context.Background(), closedURL + "/gone", KindConnectionRefused},
		{"protocol error", context.Background(), garbage.URL + "/bad", KindProtocol},
		{"canceled", canceled, slow.URL + "/slow", KindCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(1, nil)
			defer c.Close()

			_, err := c.Send(tt.ctx, &model.OutboundRequest{
				Backend: "orders", Method: http.MethodGet, URL: tt.url, Header: http.Header{},
			})
			if err == nil {
				t.Fatal("Send() expected error, got nil")
			}

			var uerr *UpstreamError
			if !errors.As(err, &uerr) {
				t.Fatalf("error = %T, want *UpstreamError", err)
			}
			if uerr.Kind != tt.want {
				t.Errorf("Kind = %q, want %q (cause: %v)", uerr.Kind, tt.want, uerr.Cause)
			}
			if uerr.Backend != "orders" {
				t.Errorf("Backend = %q, want %q", uerr.Backend, "orders")
			}
		})
	}
}

func TestUpstreamClient_Send_InvalidURL(t *testing.T) {
	c := newTestClient(1, nil)
	_, err := c.Send(context.Background(), &model.OutboundRequest{
		Backend: "users", Method: http.MethodGet, URL: "http://[::1", Header: http.Header{},
	})

	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if uerr.Kind != KindProtocol {
		t.Errorf("Kind = %q, want %q", uerr.Kind, KindProtocol)
	}
}

func TestUpstreamClient_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := metrics.New()
	c := newTestClient(10, m)

	if _, err := c.Send(context.Background(), &model.OutboundRequest{
		Backend: "orders", Method: http.MethodGet, URL: srv.URL + "/orders/999", Header: http.Header{},
	}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	for _, f := range families {
		if f.GetName() != "gateway_upstream_responses_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["backend"] == "orders" && labels["status_code"] == "404" {
				if v := metric.GetCounter().GetValue(); v != 1 {
					t.Errorf("counter = %v, want 1", v)
				}
				return
			}
		}
	}
	t.Error("expected gateway_upstream_responses_total with backend=orders, status_code=404")
}

func TestUpstreamClient_DefaultTimeout(t *testing.T) {
	c := newTestClient(0, nil)
	if c.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v, want %v", c.Timeout(), DefaultTimeout)
	}
}

func TestUpstreamClient_CloseIsIdempotent(t *testing.T) {
	c := newTestClient(1, nil)
	c.Close()
	c.Close()
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindCanceled},
		{"other", errors.New("malformed HTTP response"), KindProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify() = %q, want %q", got, tt.want)
			}
		})
	}
}
