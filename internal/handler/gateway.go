package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"service-gateway/internal/client"
	"service-gateway/internal/metrics"
	"service-gateway/internal/model"
	"service-gateway/internal/registry"
	"service-gateway/internal/service"
)

// HeaderGatewayError marks responses generated by the gateway itself.
const HeaderGatewayError = "X-Gateway-Error"

// Gateway error kinds that do not come from the upstream client.
const (
	kindRegistryMiss     = "registry_miss"
	kindMethodNotAllowed = "method_not_allowed"
	kindInternal         = "internal"
)

// gatewayErrorBody is shaped differently from backend error bodies
// ({"detail": ...}) so callers can tell the two apart.
type gatewayErrorBody struct {
	GatewayError gatewayError `json:"gateway_error"`
}

type gatewayError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Backend string `json:"backend,omitempty"`
}

// GatewayHandler routes every non-local request to its backend.
type GatewayHandler struct {
	registry  *registry.Registry
	forwarder *service.Forwarder
	logger    *slog.Logger
}

// NewGatewayHandler creates a GatewayHandler.
func NewGatewayHandler(reg *registry.Registry, fwd *service.Forwarder, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		registry:  reg,
		forwarder: fwd,
		logger:    logger.With("component", "gateway_handler"),
	}
}

// Handle resolves the backend for the request path and relays the backend's
// response. Registry misses and disallowed methods are answered locally
// without contacting any backend.
func (h *GatewayHandler) Handle(c echo.Context) error {
	req := c.Request()
	path := req.URL.EscapedPath()

	target, suffix, err := h.registry.Resolve(path)
	if err != nil {
		c.Set(metrics.BackendContextKey, metrics.RouteMiss)
		return writeGatewayError(c, http.StatusNotFound, kindRegistryMiss, "no backend configured for path", "")
	}
	c.Set(metrics.BackendContextKey, target.Name)

	if !target.AllowsMethod(req.Method) {
		c.Response().Header().Set(echo.HeaderAllow, strings.Join(target.Methods, ", "))
		return writeGatewayError(c, http.StatusMethodNotAllowed, kindMethodNotAllowed,
			"method "+req.Method+" is not routed to this backend", target.Name)
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body").SetInternal(err)
	}

	in := &model.InboundRequest{
		Method:   req.Method,
		Path:     path,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header.Clone(),
		Body:     body,
	}

	rel, err := h.forwarder.Forward(req.Context(), in, target, suffix)
	if err != nil {
		return h.mapError(c, target, err)
	}

	return writeRelayed(c, rel)
}

func writeRelayed(c echo.Context, rel *model.RelayedResponse) error {
	h := c.Response().Header()
	for key, vals := range rel.Header {
		h.Del(key)
		for _, v := range vals {
			h.Add(key, v)
		}
	}

	if rel.Encoding == model.EncodingEmpty {
		return c.NoContent(rel.StatusCode)
	}
	return c.Blob(rel.StatusCode, rel.ContentType, rel.Body)
}

func (h *GatewayHandler) mapError(c echo.Context, target model.Target, err error) error {
	var uerr *client.UpstreamError
	if !errors.As(err, &uerr) {
		h.logger.Error("forward failed", "err", err, "backend", target.Name, "path", c.Request().URL.Path)
		return writeGatewayError(c, http.StatusBadGateway, kindInternal, "upstream request failed", target.Name)
	}

	if uerr.Kind == client.KindCanceled {
		h.logger.Info("client disconnected before backend answered",
			"backend", target.Name,
			"path", c.Request().URL.Path,
		)
	} else {
		h.logger.Error("upstream error",
			"err", uerr.Cause,
			"kind", uerr.Kind,
			"backend", target.Name,
			"path", c.Request().URL.Path,
		)
	}

	status := http.StatusBadGateway
	msg := "upstream request failed"
	switch uerr.Kind {
	case client.KindTimeout:
		status = http.StatusGatewayTimeout
		msg = "upstream request timed out"
	case client.KindConnectionRefused:
		msg = "upstream host unreachable"
	case client.KindProtocol:
		msg = "upstream returned an invalid response"
	case client.KindCanceled:
		msg = "client disconnected"
	}

	return writeGatewayError(c, status, string(uerr.Kind), msg, target.Name)
}

func writeGatewayError(c echo.Context, status int, kind, msg, backend string) error {
	c.Response().Header().Set(HeaderGatewayError, kind)
	return c.JSON(status, gatewayErrorBody{
		GatewayError: gatewayError{Kind: kind, Message: msg, Backend: backend},
	})
}
