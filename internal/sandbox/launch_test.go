package sandbox

import (
	"slices"
	"strings"
	"testing"
)

func TestLaunchArgs_MinimalPrivilege(t *testing.T) {
	args := launchArgs(launchSpec{
		RunnerPath: "/srv/kivuli/deno/runner.ts",
		VendorPath: "/srv/kivuli/vendor/pyodide",
		MemoryMB:   512,
	})

	if args[0] != "run" {
		t.Fatalf("args[0] = %q, want run", args[0])
	}
	for _, required := range []string{
		"--no-remote",
		"--no-prompt",
		"--no-lock",
		"--allow-read=/srv/kivuli/deno/runner.ts,/srv/kivuli/vendor/pyodide",
		"--v8-flags=--max-old-space-size=512",
	} {
		if !slices.Contains(args, required) {
			t.Errorf("args missing %q: %v", required, args)
		}
	}
	if slices.Contains(args, "--allow-net") {
		t.Errorf("network allowed by default: %v", args)
	}
	for _, a := range args {
		if strings.HasPrefix(a, "--allow-write") || strings.HasPrefix(a, "--allow-env") {
			t.Errorf("unexpected grant %q", a)
		}
	}
	if args[len(args)-1] != "/srv/kivuli/deno/runner.ts" {
		t.Errorf("last arg = %q, want runner path", args[len(args)-1])
	}
}

func TestLaunchArgs_AllowNet(t *testing.T) {
	args := launchArgs(launchSpec{
		RunnerPath: "/r/runner.ts",
		VendorPath: "/r/vendor",
		MemoryMB:   64,
		AllowNet:   true,
	})
	if !slices.Contains(args, "--allow-net") {
		t.Errorf("args missing --allow-net: %v", args)
	}
}

func TestLaunchArgs_MemoryCeilingChangesArgs(t *testing.T) {
	spec := launchSpec{RunnerPath: "/r/runner.ts", VendorPath: "/r/vendor"}

	spec.MemoryMB = 128
	a := launchArgs(spec)
	spec.MemoryMB = 2048
	b := launchArgs(spec)

	if slices.Equal(a, b) {
		t.Errorf("memory ceiling change produced identical argv")
	}
	if !slices.Contains(b, "--v8-flags=--max-old-space-size=2048") {
		t.Errorf("heap cap not derived from ceiling: %v", b)
	}
}
