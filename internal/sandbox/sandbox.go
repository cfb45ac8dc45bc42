// Package sandbox supervises a persistent, locked-down Deno + Pyodide
// worker process that executes untrusted Python code.
//
// Security model (defense-in-depth):
//   - Python runs inside Pyodide (WebAssembly), isolated from the host OS
//   - The Deno process is launched with no network, no environment access,
//     and read access limited to the runner script and the vendored runtime
//   - A V8 heap cap bounds worker memory (best-effort, not a strict RSS cap)
//   - The supervisor force-kills the worker on timeout to recover from
//     infinite loops, and bounds every field that crosses the pipe
//
// The worker speaks a line protocol: one JSON request per line on stdin,
// exactly one JSON response per line on stdout. Interpreter state persists
// across requests as long as the same worker stays alive — that is the
// feature that makes variables and imports carry over between calls.
package sandbox

import (
	"context"
	"path/filepath"
	"time"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultTimeoutMS      = 30000
	DefaultMemoryMB       = 512
	DefaultMaxOutputChars = 12000

	defaultDenoBin = "deno"
)

// Sandbox executes Python code in an isolated worker.
type Sandbox interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// Request defines one execution against the sandbox.
type Request struct {
	// Code is the Python source to execute. The value of the final
	// expression (if any) is returned as Result.
	Code string `json:"code"`

	// Files maps in-sandbox paths (relative to /work) to contents.
	Files map[string]string `json:"files,omitempty"`

	// Packages are Pyodide packages to load before execution. Only
	// packages present in the vendored distribution are available.
	Packages []string `json:"packages,omitempty"`

	// PythonPath entries are prepended to sys.path inside the sandbox.
	PythonPath []string `json:"pythonpath,omitempty"`

	// TimeoutMS bounds the wait for a response. Nil = supervisor
	// default; a present value — explicit zero included — is clamped
	// to [1, 600000].
	TimeoutMS *int `json:"timeout_ms,omitempty"`

	// MemoryMB is the V8 heap cap for the worker. Nil = supervisor
	// default; a present value is clamped to [16, 4096]. Changing it
	// replaces the worker.
	MemoryMB *int `json:"memory_mb,omitempty"`

	// Reset discards the current worker (and all interpreter state)
	// before executing.
	Reset bool `json:"reset,omitempty"`
}

// Response is the worker's answer to one request.
// OK=false with a non-nil Error means the Python code itself failed —
// that is data, not a protocol fault, and does not discard the worker.
type Response struct {
	OK     bool    `json:"ok"`
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Result *string `json:"result"`
	Error  *string `json:"error"`
}

// Config configures the supervisor. Read once at construction; the
// launch arguments are re-derived from it on every spawn.
type Config struct {
	// DenoBin is the Deno executable name or path. Default: "deno".
	DenoBin string

	// RuntimeDir contains deno/runner.ts and vendor/pyodide, and is the
	// worker's working directory.
	RuntimeDir string

	// DefaultTimeoutMS applies when a request carries no timeout.
	DefaultTimeoutMS int

	// DefaultMemoryMB applies when a request carries no memory ceiling.
	DefaultMemoryMB int

	// MaxOutputChars caps stdout, stderr, and textual results, in
	// characters, independent of any truncation inside the worker.
	MaxOutputChars int

	// AllowNet grants the worker network access. Off by default; when
	// enabling it, restrict the config to a trusted deployment.
	AllowNet bool
}

// RunnerPath returns the path of the worker entry script.
func (c Config) RunnerPath() string {
	return filepath.Join(c.RuntimeDir, "deno", "runner.ts")
}

// VendorPath returns the vendored Pyodide distribution directory.
func (c Config) VendorPath() string {
	return filepath.Join(c.RuntimeDir, "vendor", "pyodide")
}

// withDefaults fills zero fields with package defaults.
func (c Config) withDefaults() Config {
	if c.DenoBin == "" {
		c.DenoBin = defaultDenoBin
	}
	if c.DefaultTimeoutMS == 0 {
		c.DefaultTimeoutMS = DefaultTimeoutMS
	}
	if c.DefaultMemoryMB == 0 {
		c.DefaultMemoryMB = DefaultMemoryMB
	}
	if c.MaxOutputChars == 0 {
		c.MaxOutputChars = DefaultMaxOutputChars
	}
	return c
}

// timeout returns the effective response deadline. Only valid after
// normalize, which guarantees a non-nil TimeoutMS.
func (r Request) timeout() time.Duration {
	return time.Duration(*r.TimeoutMS) * time.Millisecond
}
