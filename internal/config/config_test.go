package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	watermark "github.com/gcslaoli/watermark-guard-go"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "watermark.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
text: [INTERNAL, alice@example.com]
watermark:
  opacity: 0
  font_size: 14
defense:
  monitor: false
file:
  debounce: 200ms
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if len(cfg.Text) != 2 || cfg.Text[1] != "alice@example.com" {
		t.Fatalf("text = %v", cfg.Text)
	}
	opts := cfg.Options()
	if opts.Opacity != 0 || opts.FontSize != 14 {
		t.Fatalf("options = %+v", opts)
	}
	if opts.Width != watermark.DefaultOptions().Width {
		t.Fatalf("unset width not defaulted: %d", opts.Width)
	}
	if cfg.Monitoring() {
		t.Fatalf("monitor: false was ignored")
	}
	if cfg.File.Debounce != 200*time.Millisecond {
		t.Fatalf("debounce = %v", cfg.File.Debounce)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
}

func TestDefault(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !cfg.Monitoring() || cfg.Text[0] != "CONFIDENTIAL" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Options() != watermark.DefaultOptions() {
		t.Fatalf("default options differ")
	}
}

func TestLoadFileRejectsInvalidOptions(t *testing.T) {
	path := writeConfig(t, "watermark:\n  width: -5\n")
	_, err := LoadFile(path)
	var cerr *watermark.ConfigError
	if !errors.As(err, &cerr) || cerr.Field != "width" {
		t.Fatalf("expected width ConfigError, got %v", err)
	}
}

func TestLoadFileBadYAML(t *testing.T) {
	if _, err := LoadFile(writeConfig(t, "text: [unterminated")); err == nil {
		t.Fatalf("expected parse error")
	}
}
