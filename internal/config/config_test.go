package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("agent:\n  url: http://localhost:5050/ask\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8080 {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Server.ReadTimeout != 30*time.Second || cfg.Server.MaxBodyBytes != 1<<20 {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if !cfg.Agent.PropagateTraceID {
		t.Fatalf("trace propagation should default to on")
	}
	if cfg.Agent.Timeout != 0 {
		t.Fatalf("agent timeout should default to transport default, got %v", cfg.Agent.Timeout)
	}
	if cfg.Audit.Enabled() || cfg.Audit.Topic != "command.audit" {
		t.Fatalf("unexpected audit defaults: %+v", cfg.Audit)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != LogFormatText {
		t.Fatalf("unexpected log defaults: %+v", cfg.Log)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestParseExpandsEnvVars(t *testing.T) {
	t.Setenv("GATEWAY_TEST_AGENT_URL", "https://agent.internal/ask")

	cfg, err := Parse([]byte("agent:\n  url: ${GATEWAY_TEST_AGENT_URL}\n  propagate_trace_id: false\n  timeout: 5s\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Agent.URL != "https://agent.internal/ask" {
		t.Fatalf("env var not expanded: %q", cfg.Agent.URL)
	}
	if cfg.Agent.PropagateTraceID {
		t.Fatalf("explicit propagate_trace_id=false ignored")
	}
	if cfg.Agent.Timeout != 5*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.Agent.Timeout)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg, err := Parse([]byte("agent:\n  url: ${GATEWAY_TEST_UNSET_VAR}\nserver:\n  port: 70000\nlog:\n  level: loud\n  format: xml\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	err = cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"agent.url", "server.port", "log.level", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in error, got: %v", want, err)
		}
	}
}

func TestValidateRejectsNonHTTPAgentURL(t *testing.T) {
	for _, raw := range []string{"ftp://agent/ask", "localhost:5050", "http://"} {
		cfg := &Config{
			Server: ServerConfig{Port: 8080},
			Agent:  AgentConfig{URL: raw},
			Log:    LogConfig{Level: "info", Format: LogFormatJSON},
		}
		if err := cfg.Validate(); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestLogConfigSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"ERROR": slog.LevelError,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := (LogConfig{Level: in}).SlogLevel(); got != want {
			t.Fatalf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestManagerReloadKeepsPreviousConfigOnInvalidFile(t *testing.T) {
	path := writeConfig(t, "agent:\n  url: http://a.example/ask\n")
	mgr := NewManager(path, nil)
	if err := mgr.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var reloaded []*Config
	mgr.OnReload(func(cfg *Config) { reloaded = append(reloaded, cfg) })

	if err := os.WriteFile(path, []byte("agent:\n  url: http://b.example/ask\n"), 0o644); err != nil {
		t.Fatalf("rewrite config failed: %v", err)
	}
	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got := mgr.Get().Agent.URL; got != "http://b.example/ask" {
		t.Fatalf("reload not applied: %s", got)
	}
	if len(reloaded) != 1 || reloaded[0].Agent.URL != "http://b.example/ask" {
		t.Fatalf("reload callback not invoked with new config")
	}

	if err := os.WriteFile(path, []byte("agent:\n  url: \"\"\n"), 0o644); err != nil {
		t.Fatalf("rewrite config failed: %v", err)
	}
	if err := mgr.Reload(); err == nil {
		t.Fatalf("expected invalid config to be rejected")
	}
	if got := mgr.Get().Agent.URL; got != "http://b.example/ask" {
		t.Fatalf("invalid reload replaced config: %s", got)
	}
	if len(reloaded) != 1 {
		t.Fatalf("callback invoked for rejected reload")
	}
}

func TestManagerLoadMissingFile(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err := mgr.Load(); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestManagerWatchChangesReloads(t *testing.T) {
	path := writeConfig(t, "agent:\n  url: http://a.example/ask\n")
	mgr := NewManager(path, nil)
	if err := mgr.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	done := make(chan *Config, 1)
	mgr.OnReload(func(cfg *Config) {
		select {
		case done <- cfg:
		default:
		}
	})

	stop, err := mgr.WatchChanges()
	if err != nil {
		t.Fatalf("WatchChanges failed: %v", err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte("agent:\n  url: http://c.example/ask\n"), 0o644); err != nil {
		t.Fatalf("rewrite config failed: %v", err)
	}

	select {
	case cfg := <-done:
		if cfg.Agent.URL != "http://c.example/ask" {
			t.Fatalf("unexpected reloaded url: %s", cfg.Agent.URL)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("config change not observed")
	}
}

func TestManagerWatchChangesSurvivesAtomicReplace(t *testing.T) {
	path := writeConfig(t, "agent:\n  url: http://a.example/ask\n")
	mgr := NewManager(path, nil)
	if err := mgr.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	reloaded := make(chan string, 8)
	mgr.OnReload(func(cfg *Config) {
		reloaded <- cfg.Agent.URL
	})

	stop, err := mgr.WatchChanges()
	if err != nil {
		t.Fatalf("WatchChanges failed: %v", err)
	}
	defer stop()

	// 写入临时文件后rename覆盖，连续替换两次
	for _, want := range []string{"http://b.example/ask", "http://c.example/ask"} {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, []byte("agent:\n  url: "+want+"\n"), 0o644); err != nil {
			t.Fatalf("write temp config failed: %v", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			t.Fatalf("rename config failed: %v", err)
		}

		deadline := time.After(5 * time.Second)
	wait:
		for {
			select {
			case got := <-reloaded:
				if got == want {
					break wait
				}
			case <-deadline:
				t.Fatalf("replace to %s not observed, current %s", want, mgr.Get().Agent.URL)
			}
		}
	}

	if got := mgr.Get().Agent.URL; got != "http://c.example/ask" {
		t.Fatalf("unexpected url after replaces: %s", got)
	}
}
