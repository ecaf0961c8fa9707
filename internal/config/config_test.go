package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsRequeueOnFailure(t *testing.T) {
	path := writeConfig(t, `app:
  name: agent-dispatch
  env: test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Dispatch.RequeueOnFailure {
		t.Fatal("requeue_on_failure must default to true when the key is omitted")
	}
}

func TestLoadRequeueOnFailureOptOut(t *testing.T) {
	path := writeConfig(t, `dispatch:
  requeue_on_failure: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dispatch.RequeueOnFailure {
		t.Fatal("explicit requeue_on_failure: false must be honoured")
	}
}
