package sandbox

import (
	"fmt"
	"path"
	"strings"
)

// Bounds applied at the trust boundary. Numeric fields are clamped into
// range rather than rejected; file budgets are hard limits that reject
// the request outright, before any worker is spawned.
const (
	MinTimeoutMS = 1
	MaxTimeoutMS = 600000
	MinMemoryMB  = 16
	MaxMemoryMB  = 4096

	MaxFileCount      = 32
	MaxFileBytes      = 256 << 10 // per entry
	MaxTotalFileBytes = 1 << 20   // aggregate
)

// clampInt bounds v into [lo, hi].
func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

// validate rejects requests that must not reach a worker: empty code,
// oversized file maps, and paths escaping the sandbox work root.
func (r *Request) validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return &ValidationError{Field: "code", Message: "code is required and must be a non-empty string"}
	}
	return validateFiles(r.Files)
}

// normalize applies server-side defaults and clamps numeric bounds.
// A nil field means the caller sent nothing and gets the configured
// default; a present value is clamped, not rejected — an explicit 0
// lands on the floor, never on the default. After normalize both
// fields are non-nil.
func (r *Request) normalize(cfg Config) {
	t := cfg.DefaultTimeoutMS
	if r.TimeoutMS != nil {
		t = *r.TimeoutMS
	}
	t = clampInt(t, MinTimeoutMS, MaxTimeoutMS)
	r.TimeoutMS = &t

	m := cfg.DefaultMemoryMB
	if r.MemoryMB != nil {
		m = *r.MemoryMB
	}
	m = clampInt(m, MinMemoryMB, MaxMemoryMB)
	r.MemoryMB = &m
}

func validateFiles(files map[string]string) error {
	if len(files) > MaxFileCount {
		return &ValidationError{
			Field:   "files",
			Message: fmt.Sprintf("too many files: %d (limit %d)", len(files), MaxFileCount),
		}
	}
	total := 0
	for name, content := range files {
		if err := validateFilePath(name); err != nil {
			return err
		}
		if len(content) > MaxFileBytes {
			return &ValidationError{
				Field:   "files",
				Message: fmt.Sprintf("file %q exceeds %d bytes", name, MaxFileBytes),
			}
		}
		total += len(content)
	}
	if total > MaxTotalFileBytes {
		return &ValidationError{
			Field:   "files",
			Message: fmt.Sprintf("files exceed %d bytes in total", MaxTotalFileBytes),
		}
	}
	return nil
}

// validateFilePath rejects paths that would escape the sandbox work
// root. Paths are POSIX (the runner writes them under /work), so the
// check uses path, not filepath.
func validateFilePath(name string) error {
	if name == "" {
		return &ValidationError{Field: "files", Message: "file path must not be empty"}
	}
	if path.IsAbs(name) {
		return &ValidationError{Field: "files", Message: fmt.Sprintf("file path %q must be relative", name)}
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return &ValidationError{Field: "files", Message: fmt.Sprintf("file path %q escapes the sandbox root", name)}
	}
	return nil
}
