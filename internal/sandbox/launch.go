package sandbox

import "fmt"

// launchSpec is the minimal-privilege parameter set for one worker
// spawn. It is computed fresh for every spawn so a changed memory
// ceiling produces a new process instead of mutating a running one.
type launchSpec struct {
	RunnerPath string
	VendorPath string
	MemoryMB   int
	AllowNet   bool
}

// launchArgs derives the Deno argument list for one worker spawn. Pure — no I/O.
//
// The produced process has:
//   - no module downloads (--no-remote) and no permission prompts
//   - read access to exactly the runner script and the vendored runtime
//   - no write, no env access (absent --allow-env, the script cannot
//     read the inherited environment)
//   - a best-effort V8 heap cap derived from the memory ceiling
//   - network only when explicitly allowed; deployments enabling it
//     should restrict domains, e.g. --allow-net=cdn.jsdelivr.net
func launchArgs(spec launchSpec) []string {
	args := []string{
		"run",
		"--quiet",
		"--no-prompt",
		"--no-lock",
		"--no-remote",
		"--unstable-detect-cjs", // Pyodide ships CommonJS files.
		fmt.Sprintf("--allow-read=%s,%s", spec.RunnerPath, spec.VendorPath),
	}
	if spec.AllowNet {
		args = append(args, "--allow-net")
	}
	args = append(args,
		fmt.Sprintf("--v8-flags=--max-old-space-size=%d", spec.MemoryMB),
		spec.RunnerPath,
	)
	return args
}
