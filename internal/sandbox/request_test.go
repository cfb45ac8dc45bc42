package sandbox

import (
	"strings"
	"testing"
)

func intp(v int) *int { return &v }

func TestNormalize_ClampsInsteadOfRejecting(t *testing.T) {
	cfg := Config{}.withDefaults()

	tests := []struct {
		name        string
		req         Request
		wantTimeout int
		wantMemory  int
	}{
		{"absent fields get defaults", Request{}, DefaultTimeoutMS, DefaultMemoryMB},
		{"in range", Request{TimeoutMS: intp(1500), MemoryMB: intp(256)}, 1500, 256},
		{"below range", Request{TimeoutMS: intp(-5), MemoryMB: intp(1)}, MinTimeoutMS, MinMemoryMB},
		{"above range", Request{TimeoutMS: intp(10_000_000), MemoryMB: intp(100_000)}, MaxTimeoutMS, MaxMemoryMB},
		// An explicit zero is present, so it clamps to the floor; only
		// an absent field falls back to the default.
		{"explicit zero clamps to floor", Request{TimeoutMS: intp(0), MemoryMB: intp(0)}, MinTimeoutMS, MinMemoryMB},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.normalize(cfg)
			if tc.req.TimeoutMS == nil || *tc.req.TimeoutMS != tc.wantTimeout {
				t.Errorf("TimeoutMS = %v, want %d", tc.req.TimeoutMS, tc.wantTimeout)
			}
			if tc.req.MemoryMB == nil || *tc.req.MemoryMB != tc.wantMemory {
				t.Errorf("MemoryMB = %v, want %d", tc.req.MemoryMB, tc.wantMemory)
			}
		})
	}
}

func TestNormalize_DoesNotAliasCallerValue(t *testing.T) {
	cfg := Config{}.withDefaults()
	v := 0
	req := Request{TimeoutMS: &v, MemoryMB: &v}
	req.normalize(cfg)
	if v != 0 {
		t.Errorf("caller's value mutated to %d", v)
	}
	if *req.TimeoutMS != MinTimeoutMS || *req.MemoryMB != MinMemoryMB {
		t.Errorf("normalized = (%d, %d), want floors", *req.TimeoutMS, *req.MemoryMB)
	}
}

func TestValidateFiles(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{"nil", nil, ""},
		{"simple", map[string]string{"a.txt": "hi", "data/b.csv": "1,2"}, ""},
		{"dot-relative", map[string]string{"./a.txt": "hi"}, ""},
		{"empty path", map[string]string{"": "hi"}, "must not be empty"},
		{"absolute", map[string]string{"/etc/shadow": "hi"}, "must be relative"},
		{"parent escape", map[string]string{"../secrets": "hi"}, "escapes the sandbox root"},
		{"nested escape", map[string]string{"a/../../b": "hi"}, "escapes the sandbox root"},
		{"oversized entry", map[string]string{"big": strings.Repeat("x", MaxFileBytes+1)}, "exceeds"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateFiles(tc.files)
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("validateFiles = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("validateFiles = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateFiles_AggregateBudget(t *testing.T) {
	chunk := strings.Repeat("x", MaxFileBytes)
	files := map[string]string{}
	for i := 0; len(files)*MaxFileBytes <= MaxTotalFileBytes; i++ {
		files[strings.Repeat("f", i+1)+".txt"] = chunk
	}
	err := validateFiles(files)
	if err == nil || !strings.Contains(err.Error(), "in total") {
		t.Errorf("validateFiles = %v, want aggregate budget rejection", err)
	}
}

func TestClampInt(t *testing.T) {
	if got := clampInt(5, 1, 10); got != 5 {
		t.Errorf("clampInt(5,1,10) = %d", got)
	}
	if got := clampInt(-3, 1, 10); got != 1 {
		t.Errorf("clampInt(-3,1,10) = %d", got)
	}
	if got := clampInt(99, 1, 10); got != 10 {
		t.Errorf("clampInt(99,1,10) = %d", got)
	}
}
