// Package python implements the python_sandbox tool: Python execution
// inside a persistent Deno + Pyodide worker.
//
// The tool is a thin adapter. It rejects wrong-typed parameters at the
// boundary, hands a typed request to the sandbox supervisor (which
// clamps numeric ranges server-side), and renders the governed response
// in text or JSON form. All the hard lifecycle work lives in
// internal/sandbox.
package python

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kivuli/internal/history"
	"github.com/jkaninda/kivuli/internal/observability"
	"github.com/jkaninda/kivuli/internal/sandbox"
	"github.com/jkaninda/kivuli/internal/tools"
)

// Format selects the response rendering.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Tool executes Python code through the sandbox supervisor.
type Tool struct {
	sandbox sandbox.Sandbox
	logger  *slog.Logger

	// Optional collaborators; nil disables the feature.
	store   history.Store
	metrics *observability.MetricsCollector
	tracer  trace.Tracer
}

// NewTool creates the python_sandbox tool.
func NewTool(sbx sandbox.Sandbox, logger *slog.Logger) *Tool {
	return &Tool{sandbox: sbx, logger: logger}
}

// WithHistory enables execution audit records.
func (t *Tool) WithHistory(store history.Store) *Tool {
	t.store = store
	return t
}

// WithMetrics enables Prometheus metrics.
func (t *Tool) WithMetrics(m *observability.MetricsCollector) *Tool {
	t.metrics = m
	return t
}

// WithTracer enables a span per execution.
func (t *Tool) WithTracer(tracer trace.Tracer) *Tool {
	t.tracer = tracer
	return t
}

func (t *Tool) Name() string { return "python_sandbox" }

func (t *Tool) Description() string {
	return "Executes Python code in a sandbox using Deno + Pyodide (WebAssembly). " +
		"Returns captured stdout/stderr and the value of the final expression."
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": "Python code to execute. The value of the final expression (if any) is returned.",
			},
			"files": map[string]any{
				"type":                 "object",
				"description":          "Optional mapping of file paths to contents. Files are written into the sandbox under /work/<path> (path traversal is rejected).",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"packages": map[string]any{
				"type":        "array",
				"description": "Optional Pyodide packages to load. Only packages included in the vendored distribution are available.",
				"items":       map[string]any{"type": "string"},
			},
			"pythonpath": map[string]any{
				"type":        "array",
				"description": "Extra in-sandbox paths to prepend to sys.path (e.g. ['/work']).",
				"items":       map[string]any{"type": "string"},
			},
			"timeout_ms": map[string]any{
				"type":        "integer",
				"description": "Execution timeout in milliseconds. On timeout, the sandbox process is killed.",
				"minimum":     sandbox.MinTimeoutMS,
				"maximum":     sandbox.MaxTimeoutMS,
			},
			"memory_mb": map[string]any{
				"type":        "integer",
				"description": "V8 heap limit (MB) for the worker process. Best-effort guard, not a strict RSS cap.",
				"minimum":     sandbox.MinMemoryMB,
				"maximum":     sandbox.MaxMemoryMB,
			},
			"reset": map[string]any{
				"type":        "boolean",
				"description": "If true, restarts the sandbox process before executing (clears all state).",
			},
			"format": map[string]any{
				"type":        "string",
				"enum":        []string{FormatText, FormatJSON},
				"description": "Output format. 'text' returns a readable block; 'json' returns a JSON object string.",
			},
		},
		"required": []string{"code"},
	}
}

// Validate rejects wrong-typed parameters. Out-of-range numbers pass —
// the supervisor clamps them; the clamp/reject asymmetry is deliberate.
func (t *Tool) Validate(params map[string]any) error {
	if _, err := parseRequest(params); err != nil {
		return err
	}
	return nil
}

// Execute runs one sandbox exchange. Python-level failures come back as
// a Result with Success=false; supervisor failures (validation, launch,
// timeout, death, protocol) are returned as errors for the gateways to
// map onto their own error surfaces.
func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	parsed, vErr := parseRequest(params)
	if vErr != nil {
		t.record(ctx, parsed, nil, 0, vErr)
		return nil, vErr
	}

	t.logger.InfoContext(ctx, "python_sandbox executing",
		slog.Int("code_size", len(parsed.req.Code)),
		slog.Int("files", len(parsed.req.Files)),
		slog.Bool("reset", parsed.req.Reset),
	)

	var span trace.Span
	if t.tracer != nil {
		ctx, span = observability.StartExecutionSpan(ctx, t.tracer,
			len(parsed.req.Code), len(parsed.req.Files), parsed.req.Reset)
	}

	start := time.Now()
	resp, err := t.sandbox.Execute(ctx, parsed.req)
	elapsed := time.Since(start)

	if span != nil {
		observability.FinishExecutionSpan(span, outcome(resp, err))
	}
	t.observe(elapsed, resp, err)
	t.record(ctx, parsed, resp, elapsed, err)

	if err != nil {
		return nil, err
	}

	res := &tools.Result{
		Success: resp.OK,
		Metadata: map[string]any{
			"format":      parsed.format,
			"duration_ms": elapsed.Milliseconds(),
		},
	}
	if !resp.OK {
		if resp.Error != nil {
			res.Error = *resp.Error
		} else {
			res.Error = "Python execution failed"
		}
	}

	switch parsed.format {
	case FormatJSON:
		body, mErr := json.Marshal(resp)
		if mErr != nil {
			return nil, fmt.Errorf("encoding response: %w", mErr)
		}
		res.Output = string(body)
	default:
		res.Output = renderText(resp)
	}
	return res, nil
}

// renderText formats a response as labeled blocks, omitting empty
// sections, with a placeholder when nothing was produced.
func renderText(resp *sandbox.Response) string {
	var blocks []string
	if resp.Stdout != "" {
		blocks = append(blocks, "stdout:\n"+strings.TrimRight(resp.Stdout, "\n"))
	}
	if resp.Stderr != "" {
		blocks = append(blocks, "stderr:\n"+strings.TrimRight(resp.Stderr, "\n"))
	}
	if resp.Result != nil {
		blocks = append(blocks, "result:\n"+strings.TrimRight(*resp.Result, "\n"))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, "(no output)")
	}
	return strings.Join(blocks, "\n\n") + "\n"
}

// parsedRequest carries the typed request plus adapter-only fields.
type parsedRequest struct {
	req    sandbox.Request
	format string
}

// parseRequest converts loosely-typed params into a sandbox.Request,
// rejecting type mismatches. JSON numbers arrive as float64; integral
// values are accepted, fractional ones are not integers and fail.
func parseRequest(params map[string]any) (parsedRequest, *sandbox.ValidationError) {
	out := parsedRequest{format: FormatText}

	code, ok := params["code"].(string)
	if !ok || strings.TrimSpace(code) == "" {
		return out, &sandbox.ValidationError{Field: "code", Message: "code is required and must be a non-empty string"}
	}
	out.req.Code = code

	timeoutMS, err := intParam(params, "timeout_ms")
	if err != nil {
		return out, err
	}
	out.req.TimeoutMS = timeoutMS

	memoryMB, err := intParam(params, "memory_mb")
	if err != nil {
		return out, err
	}
	out.req.MemoryMB = memoryMB

	if v, present := params["reset"]; present && v != nil {
		b, ok := v.(bool)
		if !ok {
			return out, &sandbox.ValidationError{Field: "reset", Message: "reset must be a boolean"}
		}
		out.req.Reset = b
	}

	if v, present := params["format"]; present && v != nil {
		f, ok := v.(string)
		if !ok || (f != FormatText && f != FormatJSON) {
			return out, &sandbox.ValidationError{Field: "format", Message: "format must be 'text' or 'json'"}
		}
		out.format = f
	}

	files, err := stringMapParam(params, "files")
	if err != nil {
		return out, err
	}
	out.req.Files = files

	packages, err := stringSliceParam(params, "packages")
	if err != nil {
		return out, err
	}
	out.req.Packages = packages

	pythonPath, err := stringSliceParam(params, "pythonpath")
	if err != nil {
		return out, err
	}
	out.req.PythonPath = pythonPath

	return out, nil
}

// intParam returns nil when the key is absent. Presence is preserved so
// that an explicit zero reaches the supervisor's clamp instead of being
// mistaken for "use the default".
func intParam(params map[string]any, key string) (*int, *sandbox.ValidationError) {
	v, present := params[key]
	if !present || v == nil {
		return nil, nil
	}
	switch n := v.(type) {
	case int:
		return &n, nil
	case int64:
		i := int(n)
		return &i, nil
	case float64:
		if n != math.Trunc(n) {
			return nil, &sandbox.ValidationError{Field: key, Message: key + " must be an integer"}
		}
		i := int(n)
		return &i, nil
	default:
		return nil, &sandbox.ValidationError{Field: key, Message: key + " must be an integer"}
	}
}

func stringMapParam(params map[string]any, key string) (map[string]string, *sandbox.ValidationError) {
	v, present := params[key]
	if !present || v == nil {
		return nil, nil
	}
	switch m := v.(type) {
	case map[string]string:
		return m, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			s, ok := val.(string)
			if !ok {
				return nil, &sandbox.ValidationError{Field: key, Message: key + " must map string paths to string contents"}
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, &sandbox.ValidationError{Field: key, Message: key + " must be an object (mapping path -> content)"}
	}
}

func stringSliceParam(params map[string]any, key string) ([]string, *sandbox.ValidationError) {
	v, present := params[key]
	if !present || v == nil {
		return nil, nil
	}
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, &sandbox.ValidationError{Field: key, Message: key + " must be an array of strings"}
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, &sandbox.ValidationError{Field: key, Message: key + " must be an array of strings"}
	}
}

// observe records Prometheus metrics for one exchange.
func (t *Tool) observe(elapsed time.Duration, resp *sandbox.Response, err error) {
	if t.metrics == nil {
		return
	}
	t.metrics.SandboxExecutionsTotal.WithLabelValues(outcome(resp, err)).Inc()
	t.metrics.SandboxExecutionDuration.Observe(elapsed.Seconds())
}

// record appends an execution audit record. Best-effort: a failing
// store never fails the execution.
func (t *Tool) record(ctx context.Context, parsed parsedRequest, resp *sandbox.Response, elapsed time.Duration, err error) {
	if t.store == nil {
		return
	}
	rec := &history.Record{
		ID:         uuid.New(),
		CreatedAt:  time.Now().UTC(),
		DurationMS: elapsed.Milliseconds(),
		CodeBytes:  len(parsed.req.Code),
		Reset:      parsed.req.Reset,
		OK:         err == nil && resp != nil && resp.OK,
		Failure:    outcome(resp, err),
	}
	// Requested values, zero when the server default applied.
	if parsed.req.TimeoutMS != nil {
		rec.TimeoutMS = *parsed.req.TimeoutMS
	}
	if parsed.req.MemoryMB != nil {
		rec.MemoryMB = *parsed.req.MemoryMB
	}
	if resp != nil {
		rec.StdoutBytes = len(resp.Stdout)
		rec.StderrBytes = len(resp.Stderr)
	}
	if rec.Failure == "ok" {
		rec.Failure = ""
	}
	if sErr := t.store.Record(ctx, rec); sErr != nil {
		t.logger.Warn("recording execution failed", slog.String("error", sErr.Error()))
	}
}

// outcome classifies an exchange for metrics labels and audit records.
func outcome(resp *sandbox.Response, err error) string {
	switch {
	case err == nil && resp != nil && resp.OK:
		return "ok"
	case err == nil:
		return "python_error"
	}
	var (
		vErr *sandbox.ValidationError
		lErr *sandbox.LaunchError
		tErr *sandbox.TimeoutError
		dErr *sandbox.WorkerDiedError
		pErr *sandbox.ProtocolError
	)
	switch {
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &lErr):
		return "launch"
	case errors.As(err, &tErr):
		return "timeout"
	case errors.As(err, &dErr):
		return "worker_died"
	case errors.As(err, &pErr):
		return "protocol"
	default:
		return "error"
	}
}
