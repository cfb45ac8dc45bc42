package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jkaninda/kivuli/internal/sandbox"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
workspace: /srv/kivuli
sandbox:
  timeout_ms: 5000
  memory_mb: 256
  allow_net: true
server:
  listen_addr: ":9000"
  api_keys: ["k1", "k2"]
history:
  driver: sqlite
  retention_days: 7
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace != "/srv/kivuli" {
		t.Errorf("workspace = %q", cfg.Workspace)
	}
	if cfg.Sandbox.TimeoutMS != 5000 || cfg.Sandbox.MemoryMB != 256 || !cfg.Sandbox.AllowNet {
		t.Errorf("sandbox = %+v", cfg.Sandbox)
	}
	if cfg.Server.Addr() != ":9000" || len(cfg.Server.APIKeys) != 2 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.History.Retention().Hours() != 7*24 {
		t.Errorf("retention = %v", cfg.History.Retention())
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"sandbox": {"timeout_ms": 1000}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sandbox.TimeoutMS != 1000 {
		t.Errorf("timeout_ms = %d", cfg.Sandbox.TimeoutMS)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("KIVULI_DENO", "/opt/deno/bin/deno")
	t.Setenv("KIVULI_TIMEOUT_MS", "45000")
	t.Setenv("KIVULI_ALLOW_NET", "true")
	t.Setenv("KIVULI_API_KEY", "secret1,secret2")

	path := writeConfig(t, "config.yaml", `
sandbox:
  deno: /usr/bin/deno
  timeout_ms: 5000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sandbox.Deno != "/opt/deno/bin/deno" {
		t.Errorf("deno = %q, env should win", cfg.Sandbox.Deno)
	}
	if cfg.Sandbox.TimeoutMS != 45000 {
		t.Errorf("timeout_ms = %d, env should win", cfg.Sandbox.TimeoutMS)
	}
	if !cfg.Sandbox.AllowNet {
		t.Errorf("allow_net not overridden")
	}
	if len(cfg.Server.APIKeys) != 2 || cfg.Server.APIKeys[0] != "secret1" {
		t.Errorf("api keys = %v", cfg.Server.APIKeys)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"negative timeout", "sandbox:\n  timeout_ms: -1\n", "timeout_ms"},
		{"excessive memory", "sandbox:\n  memory_mb: 999999\n", "memory_mb"},
		{"unknown driver", "history:\n  driver: oracle\n", "driver"},
		{"postgres without dsn", "history:\n  driver: postgres\n", "dsn"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tc.yaml)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Load = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg == nil {
		t.Fatalf("cfg = nil")
	}
	if cfg.Server != nil || cfg.History != nil {
		t.Errorf("default enabled optional sections: %+v", cfg)
	}
}

func TestSandboxSettings(t *testing.T) {
	cfg := &Config{
		Workspace: "/srv/kivuli",
		Sandbox:   SandboxConfig{Deno: "deno", TimeoutMS: 1000, MemoryMB: 128, MaxOutputChars: 500, AllowNet: true},
	}
	got := cfg.SandboxSettings()
	want := sandbox.Config{
		DenoBin:          "deno",
		RuntimeDir:       "/srv/kivuli/runtime",
		DefaultTimeoutMS: 1000,
		DefaultMemoryMB:  128,
		MaxOutputChars:   500,
		AllowNet:         true,
	}
	if got != want {
		t.Errorf("SandboxSettings = %+v, want %+v", got, want)
	}
}
