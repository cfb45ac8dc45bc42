// Package httpapi implements the HTTP API gateway for Kivuli.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 4 MB; file budgets are far smaller)
//   - Strict validation delegated to the sandbox supervisor
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/kivuli/internal/history"
	"github.com/jkaninda/kivuli/internal/observability"
	"github.com/jkaninda/kivuli/internal/sandbox"
	"github.com/jkaninda/kivuli/internal/tools"
)

const defaultMaxRequestSize = 4 << 20 // 4 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr string
	EnableDocs bool
	APIKeys    []string // Bearer keys. Empty = unauthenticated (dev only).

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config   Config
	registry *tools.Registry
	store    history.Store // nil = /v1/executions disabled
	logger   *slog.Logger
	server   *http.Server

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway serving the tool registry.
func NewGateway(cfg Config, registry *tools.Registry, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:   cfg,
		registry: registry,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithHistory enables the execution record listing endpoint.
func (g *Gateway) WithHistory(store history.Store) *Gateway {
	g.store = store
	return g
}

// WithOpenAPIDocs serves the generated OpenAPI documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Kivuli",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/execute", g.handleExecute,
		okapi.DocSummary("Execute Python code in the sandbox"),
		okapi.DocTags("Execute"),
		okapi.DocRequestBody(ExecuteRequest{}),
		okapi.DocResponse(ExecuteResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusBadGateway, ErrorBody{}),
		okapi.DocResponse(http.StatusServiceUnavailable, ErrorBody{}),
		okapi.DocResponse(http.StatusGatewayTimeout, ErrorBody{}),
	)
	g.group.Get("/tools", g.handleTools,
		okapi.DocSummary("List available tools with their input schemas"),
		okapi.DocTags("Tools"),
		okapi.DocResponse([]ToolResponse{}),
	)
	if g.store != nil {
		g.group.Get("/executions", g.handleExecutions,
			okapi.DocSummary("List recent execution records"),
			okapi.DocTags("Executions"),
			okapi.DocResponse([]history.Record{}),
		)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      11 * time.Minute, // must outlive the maximum execution timeout
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// ExecuteRequest is the JSON body for POST /v1/execute. Pointer fields
// distinguish "absent" from zero so server-side defaults apply.
type ExecuteRequest struct {
	Code       string            `json:"code"`
	Files      map[string]string `json:"files,omitempty"`
	Packages   []string          `json:"packages,omitempty"`
	PythonPath []string          `json:"pythonpath,omitempty"`
	TimeoutMS  *int              `json:"timeout_ms,omitempty"`
	MemoryMB   *int              `json:"memory_mb,omitempty"`
	Reset      bool              `json:"reset,omitempty"`
	Format     string            `json:"format,omitempty"` // "text" (default) or "json"
}

// ExecuteResponse is the JSON response for POST /v1/execute.
type ExecuteResponse struct {
	Success  bool           `json:"success"`
	Output   string         `json:"output"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (g *Gateway) handleExecute(c *okapi.Context) error {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	tool := g.registry.Get("python_sandbox")
	if tool == nil {
		return c.AbortServiceUnavailable("python_sandbox tool not registered")
	}

	params := map[string]any{"code": req.Code}
	if req.Files != nil {
		params["files"] = req.Files
	}
	if req.Packages != nil {
		params["packages"] = req.Packages
	}
	if req.PythonPath != nil {
		params["pythonpath"] = req.PythonPath
	}
	if req.TimeoutMS != nil {
		params["timeout_ms"] = *req.TimeoutMS
	}
	if req.MemoryMB != nil {
		params["memory_mb"] = *req.MemoryMB
	}
	if req.Reset {
		params["reset"] = true
	}
	if req.Format != "" {
		params["format"] = req.Format
	}

	result, err := tool.Execute(c.Context(), params)
	if err != nil {
		return g.executeError(c, err)
	}

	return c.OK(ExecuteResponse{
		Success:  result.Success,
		Output:   result.Output,
		Error:    result.Error,
		Metadata: result.Metadata,
	})
}

// executeError maps sandbox failures onto HTTP status codes. Python
// errors never reach here — they are data, returned with HTTP 200.
func (g *Gateway) executeError(c *okapi.Context, err error) error {
	var (
		vErr *sandbox.ValidationError
		lErr *sandbox.LaunchError
		tErr *sandbox.TimeoutError
		dErr *sandbox.WorkerDiedError
		pErr *sandbox.ProtocolError
	)
	switch {
	case errors.As(err, &vErr):
		return c.AbortBadRequest(vErr.Error())
	case errors.As(err, &lErr):
		g.logger.Error("sandbox launch failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusServiceUnavailable, ErrorBody{Error: "sandbox unavailable"})
	case errors.As(err, &tErr):
		return c.JSON(http.StatusGatewayTimeout, ErrorBody{Error: tErr.Error()})
	case errors.As(err, &dErr):
		g.logger.Error("sandbox worker died", slog.String("error", err.Error()))
		return c.JSON(http.StatusBadGateway, ErrorBody{Error: dErr.Error()})
	case errors.As(err, &pErr):
		g.logger.Error("sandbox protocol violation", slog.String("error", err.Error()))
		return c.JSON(http.StatusBadGateway, ErrorBody{Error: "sandbox protocol violation"})
	default:
		g.logger.Error("execution failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("execution failed")
	}
}

// ToolResponse describes one registered tool.
type ToolResponse struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

func (g *Gateway) handleTools(c *okapi.Context) error {
	all := g.registry.All()
	out := make([]ToolResponse, 0, len(all))
	for _, t := range all {
		out = append(out, ToolResponse{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return c.OK(out)
}

func (g *Gateway) handleExecutions(c *okapi.Context) error {
	limit := parseLimit(c.Request().URL.Query().Get("limit"))
	records, err := g.store.List(c.Context(), limit)
	if err != nil {
		g.logger.Error("listing executions failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("listing executions failed")
	}
	return c.OK(records)
}

// HealthResponse is the JSON response for the liveness probe.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// authenticate validates the Bearer API key. When no keys are
// configured the gateway is open (development use only).
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		matched := false
		for _, key := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				matched = true
			}
		}
		if !matched {
			return c.AbortUnauthorized("invalid API key")
		}
		return next(c)
	}
}

// parseLimit parses the ?limit= query parameter, clamped to [1, 500].
func parseLimit(raw string) int {
	if raw == "" {
		return 50
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 50
	}
	if n > 500 {
		return 500
	}
	return n
}
