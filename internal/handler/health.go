package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"service-gateway/internal/config"
	"service-gateway/internal/registry"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg      *config.Config
	registry *registry.Registry
	version  Version
}

type backendStatus struct {
	Name    string   `json:"name"`
	Prefix  string   `json:"prefix"`
	BaseURL string   `json:"base_url"`
	Methods []string `json:"methods,omitempty"`
}

type statusResponse struct {
	Status         string          `json:"status"`
	Version        string          `json:"version"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	Backends       []backendStatus `json:"backends"`
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, reg *registry.Registry, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, registry: reg, version: v}
}

// Healthz reports the gateway's own readiness; backends are not probed.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns the routing table and build information.
func (h *HealthHandler) Status(c echo.Context) error {
	targets := h.registry.Targets()
	backends := make([]backendStatus, 0, len(targets))
	for _, t := range targets {
		backends = append(backends, backendStatus{
			Name:    t.Name,
			Prefix:  t.Prefix,
			BaseURL: t.BaseURL,
			Methods: t.Methods,
		})
	}

	return c.JSON(http.StatusOK, statusResponse{
		Status:         "ok",
		Version:        string(h.version),
		TimeoutSeconds: h.cfg.Upstream.TimeoutSeconds,
		Backends:       backends,
	})
}
