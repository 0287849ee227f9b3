package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	conf := "conf:\n  database: \":memory:\"\n  logLevel: error\n"
	if err := os.WriteFile(path, []byte(conf), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	RootCmd.SetArgs(append([]string{"--config", path}, args...))
	err := RootCmd.Execute()
	return out.String(), err
}

func TestClearCommand(t *testing.T) {
	out, err := run(t, "clear")
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if !strings.Contains(out, "metadata cleared") || !strings.Contains(out, "0 mapping rows removed") {
		t.Errorf("Unexpected output: %s", out)
	}
}

func TestResolveOpaqueID(t *testing.T) {
	out, err := run(t, "resolve", "status", "https://A.example/", "not-a-status-id")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !strings.Contains(out, "not found via a.example") {
		t.Errorf("Unexpected output: %s", out)
	}

	out, err = run(t, "resolve", "account", "a.example", "s:s:b.example:42")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !strings.Contains(out, "not found") {
		t.Errorf("A status id should not resolve as an account: %s", out)
	}
}

func TestArgumentValidation(t *testing.T) {
	tests := [][]string{
		{"thread", "a.example"},
		{"resolve", "status", "a.example"},
		{"instance"},
		{"clear", "extra"},
	}
	for _, args := range tests {
		if _, err := run(t, args...); err == nil {
			t.Errorf("Expected %v to be rejected", args)
		}
	}
}

func TestUnopenableDatabase(t *testing.T) {
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing", "config.yaml"), "clear"})
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FEDMERGE_DATABASE", filepath.Join(t.TempDir(), "nodir", "x", "fedmerge.db"))
	if err := RootCmd.Execute(); err == nil {
		t.Error("Expected an unopenable database to fail the command")
	}
}
