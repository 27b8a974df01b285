package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ragline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: sqlite\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.SQLitePath == "" {
		t.Fatal("sqlite path default not applied")
	}
	if cfg.Store.SecretEnv != DefaultSecretEnv {
		t.Fatalf("secret env = %q", cfg.Store.SecretEnv)
	}
	if cfg.LLM.TimeoutSeconds != 15 {
		t.Fatalf("llm timeout = %d", cfg.LLM.TimeoutSeconds)
	}
	if cfg.Retention.DefaultDays != 30 || cfg.Retention.SweepSchedule == "" {
		t.Fatalf("retention defaults = %+v", cfg.Retention)
	}
}

func TestLoadRedisRequiresAddr(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: redis\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "redisAddr") {
		t.Fatalf("err = %v", err)
	}

	path = writeConfig(t, "store:\n  backend: redis\n  redisAddr: localhost:6379\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Backend != BackendRedis {
		t.Fatalf("backend = %q", cfg.Store.Backend)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: dynamo\n")
	if _, err := Load(path); err == nil {
		t.Fatal("unknown backend accepted")
	}
}

func TestSecretComesFromEnv(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Store.SecretEnv = "RAGLINE_TEST_SECRET"

	t.Setenv("RAGLINE_TEST_SECRET", "")
	if _, err := cfg.Secret(); err == nil {
		t.Fatal("empty secret accepted")
	}

	t.Setenv("RAGLINE_TEST_SECRET", "hunter2")
	secret, err := cfg.Secret()
	if err != nil {
		t.Fatal(err)
	}
	if string(secret) != "hunter2" {
		t.Fatalf("secret = %q", secret)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv(EnvLLMTimeoutSeconds, "45")
	t.Setenv(EnvRetentionDays, "7")
	t.Setenv(EnvOTel, "yes")

	path := writeConfig(t, "llm:\n  timeoutSeconds: 20\nretention:\n  defaultDays: 90\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.TimeoutSeconds != 45 {
		t.Fatalf("llm timeout = %d", cfg.LLM.TimeoutSeconds)
	}
	if cfg.Retention.DefaultDays != 7 {
		t.Fatalf("retention days = %d", cfg.Retention.DefaultDays)
	}
	if !cfg.Observe.OTel {
		t.Fatal("otel override not applied")
	}
}

func TestEnvOverridesKeepFileValuesWhenUnset(t *testing.T) {
	t.Setenv(EnvLLMTimeoutSeconds, "")
	t.Setenv(EnvRetentionDays, "not a number")

	cfg := Default(t.TempDir())
	cfg.ApplyEnvOverrides()
	if cfg.LLM.TimeoutSeconds != 15 || cfg.Retention.DefaultDays != 30 {
		t.Fatalf("defaults clobbered: %+v", cfg)
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("RAGLINE_TEST_INT", "42")
	if got := ParseIntEnv("RAGLINE_TEST_INT", 7); got != 42 {
		t.Fatalf("got %d", got)
	}
	t.Setenv("RAGLINE_TEST_INT", "nope")
	if got := ParseIntEnv("RAGLINE_TEST_INT", 7); got != 7 {
		t.Fatalf("got %d", got)
	}
}

func TestParseBoolString(t *testing.T) {
	cases := map[string]bool{
		"1": true, "true": true, "YES": true, "on": true,
		"0": false, "false": false, "No": false, "off": false,
	}
	for raw, want := range cases {
		if got := ParseBoolString(raw, !want); got != want {
			t.Fatalf("ParseBoolString(%q) = %v", raw, got)
		}
	}
	if got := ParseBoolString("maybe", true); got != true {
		t.Fatal("fallback not honored")
	}
}

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("RAGLINE_TEST_BOOL", "on")
	if !ParseBoolEnv("RAGLINE_TEST_BOOL", false) {
		t.Fatal("set value ignored")
	}
	t.Setenv("RAGLINE_TEST_BOOL", "")
	if !ParseBoolEnv("RAGLINE_TEST_BOOL", true) {
		t.Fatal("fallback not honored")
	}
}
