package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	return path
}

func TestConfigConstants(t *testing.T) {
	if Name != "fedmerge" {
		t.Errorf("Expected Name 'fedmerge', got '%s'", Name)
	}

	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestReadConfWithYaml(t *testing.T) {
	path := writeConfig(t, `
conf:
  host: 127.0.0.1
  httpPort: 9999
  instances: [a.example]
  skipInstances: [bad.example]
  cacheContentMins: 15
  statusRequestTimeoutMs: 500
`)

	config, err := ReadConfFrom(path)
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}
	if config.ContentTTL() != 15*time.Minute {
		t.Errorf("Expected content TTL 15m, got %v", config.ContentTTL())
	}
	if config.StatusRequestTimeout() != 500*time.Millisecond {
		t.Errorf("Expected status timeout 500ms, got %v", config.StatusRequestTimeout())
	}
	if !config.IsSkipped("BAD.example") {
		t.Error("Expected bad.example to be skipped")
	}
	if !config.IsAllowedHome("a.example") || config.IsAllowedHome("b.example") {
		t.Error("Expected only a.example to be an allowed home")
	}
}

func TestReadConfDefaults(t *testing.T) {
	config, err := ReadConfFrom(writeConfig(t, "conf:\n  host: 0.0.0.0\n"))
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.CacheContentMins != 30 {
		t.Errorf("Expected CacheContentMins 30, got %d", config.Conf.CacheContentMins)
	}
	if config.ContextRequestTimeout() != 2*time.Second {
		t.Errorf("Expected context timeout 2s, got %v", config.ContextRequestTimeout())
	}
	if config.SearchTimeout() != 10*time.Second {
		t.Errorf("Expected search timeout 10s, got %v", config.SearchTimeout())
	}
	if config.InstanceTTL() != 24*time.Hour {
		t.Errorf("Expected instance TTL 24h, got %v", config.InstanceTTL())
	}
	if config.ProbeCeiling() != 2*time.Second {
		t.Errorf("Expected probe ceiling 2s, got %v", config.ProbeCeiling())
	}
	if !config.IsAllowedHome("anything.example") {
		t.Error("An empty allowlist should allow every home")
	}
	if config.Conf.UserAgent == "" {
		t.Error("Expected a default user agent")
	}
}

func TestReadConfWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
conf:
  host: 127.0.0.1
  httpPort: 9999
`)

	t.Setenv("FEDMERGE_HOST", "192.168.1.1")
	t.Setenv("FEDMERGE_HTTPPORT", "8080")
	t.Setenv("FEDMERGE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("FEDMERGE_SKIP_INSTANCES", "x.example, y.example")
	t.Setenv("FEDMERGE_CACHE_CONTENT_MINS", "5")

	config, err := ReadConfFrom(path)
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "192.168.1.1" {
		t.Errorf("Expected Host '192.168.1.1' from env, got '%s'", config.Conf.Host)
	}
	if config.Conf.HttpPort != 8080 {
		t.Errorf("Expected HttpPort 8080 from env, got %d", config.Conf.HttpPort)
	}
	if config.Conf.RedisUrl != "redis://localhost:6379/0" {
		t.Errorf("Expected RedisUrl from env, got '%s'", config.Conf.RedisUrl)
	}
	if len(config.Conf.SkipInstances) != 2 || config.Conf.SkipInstances[1] != "y.example" {
		t.Errorf("Expected two skipped instances, got %v", config.Conf.SkipInstances)
	}
	if config.Conf.CacheContentMins != 5 {
		t.Errorf("Expected CacheContentMins 5, got %d", config.Conf.CacheContentMins)
	}
}

func TestReadConfInvalidPortEnv(t *testing.T) {
	path := writeConfig(t, "conf:\n  httpPort: 9999\n")
	t.Setenv("FEDMERGE_HTTPPORT", "not_a_number")

	config, err := ReadConfFrom(path)
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	// invalid env values are ignored, the yaml value stays
	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}
}

func TestReadConfInvalidYaml(t *testing.T) {
	path := writeConfig(t, `
conf:
  host: 127.0.0.1
  httpPort: not_a_number
  invalid yaml structure
`)

	_, err := ReadConfFrom(path)
	if err == nil {
		t.Error("Expected error when parsing invalid YAML")
	}
}

func TestReadConfMissingFileUsesEmbedded(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	config, err := ReadConfFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}
	if config.Conf.HttpPort != 9090 {
		t.Errorf("Expected embedded HttpPort 9090, got %d", config.Conf.HttpPort)
	}
}

func TestFingerprint(t *testing.T) {
	a := &AppConfig{}
	a.Conf.SkipInstances = []string{"x.example"}
	b := &AppConfig{}
	b.Conf.SkipInstances = []string{"x.example"}

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("Equal configs should have equal fingerprints")
	}

	b.Conf.SkipInstances = append(b.Conf.SkipInstances, "y.example")
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("Changing the skip list should change the fingerprint")
	}

	// unrelated settings do not invalidate stored capabilities
	b.Conf.SkipInstances = a.Conf.SkipInstances
	b.Conf.HttpPort = 1234
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("HttpPort should not affect the fingerprint")
	}
}
