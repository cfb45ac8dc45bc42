package python

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kivuli/internal/sandbox"
)

// fakeSandbox records the request it received and returns a canned
// response or error.
type fakeSandbox struct {
	lastReq sandbox.Request
	resp    *sandbox.Response
	err     error
}

func (f *fakeSandbox) Execute(_ context.Context, req sandbox.Request) (*sandbox.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newTestTool(fake *fakeSandbox) *Tool {
	return NewTool(fake, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func strPtr(s string) *string { return &s }

func TestValidate_TypeMismatchesRejected(t *testing.T) {
	tool := newTestTool(&fakeSandbox{})

	tests := []struct {
		name    string
		params  map[string]any
		wantErr string
	}{
		{"missing code", map[string]any{}, "code"},
		{"blank code", map[string]any{"code": "   "}, "code"},
		{"code wrong type", map[string]any{"code": 42}, "code"},
		{"timeout string", map[string]any{"code": "1", "timeout_ms": "5000"}, "timeout_ms"},
		{"timeout bool", map[string]any{"code": "1", "timeout_ms": true}, "timeout_ms"},
		{"timeout fractional", map[string]any{"code": "1", "timeout_ms": 1500.5}, "timeout_ms"},
		{"memory string", map[string]any{"code": "1", "memory_mb": "lots"}, "memory_mb"},
		{"reset string", map[string]any{"code": "1", "reset": "yes"}, "reset"},
		{"format unknown", map[string]any{"code": "1", "format": "yaml"}, "format"},
		{"files non-string value", map[string]any{"code": "1", "files": map[string]any{"a.txt": 7}}, "files"},
		{"files wrong type", map[string]any{"code": "1", "files": []any{"a.txt"}}, "files"},
		{"packages non-string item", map[string]any{"code": "1", "packages": []any{"numpy", 3}}, "packages"},
		{"pythonpath wrong type", map[string]any{"code": "1", "pythonpath": "/work"}, "pythonpath"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tool.Validate(tc.params)
			if err == nil {
				t.Fatalf("Validate accepted %v", tc.params)
			}
			var vErr *sandbox.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("error type = %T, want *sandbox.ValidationError", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_OutOfRangeNumbersPass(t *testing.T) {
	tool := newTestTool(&fakeSandbox{})
	// Range enforcement is a clamp downstream, not a rejection here.
	err := tool.Validate(map[string]any{
		"code":       "1 + 1",
		"timeout_ms": float64(10_000_000),
		"memory_mb":  float64(1),
	})
	if err != nil {
		t.Errorf("Validate = %v, want nil", err)
	}
}

func TestExecute_MapsParamsOntoRequest(t *testing.T) {
	fake := &fakeSandbox{resp: &sandbox.Response{OK: true, Result: strPtr("4")}}
	tool := newTestTool(fake).WithTracer(trace.NewNoopTracerProvider().Tracer("test"))

	_, err := tool.Execute(context.Background(), map[string]any{
		"code":       "2 + 2",
		"timeout_ms": float64(5000),
		"memory_mb":  float64(256),
		"reset":      true,
		"files":      map[string]any{"data.txt": "hello"},
		"packages":   []any{"numpy"},
		"pythonpath": []any{"/work"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	req := fake.lastReq
	if req.Code != "2 + 2" || !req.Reset {
		t.Errorf("request = %+v", req)
	}
	if req.TimeoutMS == nil || *req.TimeoutMS != 5000 {
		t.Errorf("timeout_ms = %v, want 5000", req.TimeoutMS)
	}
	if req.MemoryMB == nil || *req.MemoryMB != 256 {
		t.Errorf("memory_mb = %v, want 256", req.MemoryMB)
	}
	if req.Files["data.txt"] != "hello" {
		t.Errorf("files = %v", req.Files)
	}
	if len(req.Packages) != 1 || req.Packages[0] != "numpy" {
		t.Errorf("packages = %v", req.Packages)
	}
	if len(req.PythonPath) != 1 || req.PythonPath[0] != "/work" {
		t.Errorf("pythonpath = %v", req.PythonPath)
	}
}

func TestExecute_PreservesNumberPresence(t *testing.T) {
	fake := &fakeSandbox{resp: &sandbox.Response{OK: true}}
	tool := newTestTool(fake)

	// Absent numbers stay nil so the supervisor applies its defaults.
	if _, err := tool.Execute(context.Background(), map[string]any{"code": "1"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fake.lastReq.TimeoutMS != nil || fake.lastReq.MemoryMB != nil {
		t.Errorf("absent numbers arrived as %v/%v, want nil/nil",
			fake.lastReq.TimeoutMS, fake.lastReq.MemoryMB)
	}

	// An explicit zero is present and must reach the supervisor's clamp,
	// not be swallowed into "use the default".
	if _, err := tool.Execute(context.Background(), map[string]any{
		"code":       "1",
		"timeout_ms": float64(0),
		"memory_mb":  float64(0),
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fake.lastReq.TimeoutMS == nil || *fake.lastReq.TimeoutMS != 0 {
		t.Errorf("explicit zero timeout arrived as %v, want 0", fake.lastReq.TimeoutMS)
	}
	if fake.lastReq.MemoryMB == nil || *fake.lastReq.MemoryMB != 0 {
		t.Errorf("explicit zero memory arrived as %v, want 0", fake.lastReq.MemoryMB)
	}
}

func TestExecute_TextFormat(t *testing.T) {
	tests := []struct {
		name string
		resp *sandbox.Response
		want string
	}{
		{
			"all sections",
			&sandbox.Response{OK: true, Stdout: "hi\n", Stderr: "warn\n", Result: strPtr("42")},
			"stdout:\nhi\n\nstderr:\nwarn\n\nresult:\n42\n",
		},
		{
			"result only",
			&sandbox.Response{OK: true, Result: strPtr("42")},
			"result:\n42\n",
		},
		{
			"nothing produced",
			&sandbox.Response{OK: true},
			"(no output)\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := newTestTool(&fakeSandbox{resp: tc.resp})
			res, err := tool.Execute(context.Background(), map[string]any{"code": "x"})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.Output != tc.want {
				t.Errorf("output = %q, want %q", res.Output, tc.want)
			}
			if !res.Success {
				t.Errorf("success = false")
			}
		})
	}
}

func TestExecute_JSONFormat(t *testing.T) {
	tool := newTestTool(&fakeSandbox{
		resp: &sandbox.Response{OK: true, Stdout: "hi\n", Result: strPtr("42")},
	})
	res, err := tool.Execute(context.Background(), map[string]any{"code": "x", "format": "json"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var decoded sandbox.Response
	if err := json.Unmarshal([]byte(res.Output), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if !decoded.OK || decoded.Stdout != "hi\n" || decoded.Result == nil || *decoded.Result != "42" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestExecute_PythonFailureIsDataNotError(t *testing.T) {
	tool := newTestTool(&fakeSandbox{
		resp: &sandbox.Response{OK: false, Stderr: "Traceback...\n", Error: strPtr("ZeroDivisionError: division by zero")},
	})
	res, err := tool.Execute(context.Background(), map[string]any{"code": "1/0"})
	if err != nil {
		t.Fatalf("Execute returned error for a Python failure: %v", err)
	}
	if res.Success {
		t.Errorf("success = true, want false")
	}
	if !strings.Contains(res.Error, "ZeroDivisionError") {
		t.Errorf("error = %q", res.Error)
	}
	if !strings.Contains(res.Output, "stderr:") {
		t.Errorf("output = %q, want stderr block", res.Output)
	}
}

func TestExecute_SupervisorFailurePropagates(t *testing.T) {
	wantErr := &sandbox.TimeoutError{TimeoutMS: 300}
	tool := newTestTool(&fakeSandbox{err: wantErr})

	_, err := tool.Execute(context.Background(), map[string]any{"code": "while True: pass"})
	var tErr *sandbox.TimeoutError
	if !errors.As(err, &tErr) {
		t.Fatalf("error = %v, want TimeoutError", err)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		resp *sandbox.Response
		err  error
		want string
	}{
		{"ok", &sandbox.Response{OK: true}, nil, "ok"},
		{"python error", &sandbox.Response{OK: false}, nil, "python_error"},
		{"validation", nil, &sandbox.ValidationError{Field: "code"}, "validation"},
		{"launch", nil, &sandbox.LaunchError{Reason: "no deno"}, "launch"},
		{"timeout", nil, &sandbox.TimeoutError{TimeoutMS: 1}, "timeout"},
		{"worker died", nil, &sandbox.WorkerDiedError{}, "worker_died"},
		{"protocol", nil, &sandbox.ProtocolError{Raw: "junk"}, "protocol"},
		{"other", nil, errors.New("boom"), "error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := outcome(tc.resp, tc.err); got != tc.want {
				t.Errorf("outcome = %q, want %q", got, tc.want)
			}
		})
	}
}
