package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.TimeoutSec != 600 {
		t.Errorf("TimeoutSec = %d, want 600", cfg.Agent.TimeoutSec)
	}
	if cfg.Chunk.MaxLen != 4000 {
		t.Errorf("MaxLen = %d, want 4000", cfg.Chunk.MaxLen)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		// comments are fine
		channel: {
			phone_number: "+15550001111",
			allow_from: ["+1 555 000 2222"],
		},
		agent: { workdir: "/work", timeout_sec: 60 },
	}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channel.PhoneNumber != "+15550001111" {
		t.Errorf("PhoneNumber = %q", cfg.Channel.PhoneNumber)
	}
	if cfg.Agent.WorkDir != "/work" || cfg.Agent.TimeoutSec != 60 {
		t.Errorf("Agent = %+v", cfg.Agent)
	}
	if !cfg.Channel.IsAllowed("+15550002222") {
		t.Error("normalized whitelist entry should match")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIGCLAW_PHONE_NUMBER", "+15553334444")
	t.Setenv("SIGCLAW_ALLOW_FROM", "+15550001111, +15550002222")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channel.PhoneNumber != "+15553334444" {
		t.Errorf("PhoneNumber = %q", cfg.Channel.PhoneNumber)
	}
	if len(cfg.Channel.AllowFrom) != 2 {
		t.Fatalf("AllowFrom = %v", cfg.Channel.AllowFrom)
	}
}

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"+1 (555) 000-1111", "+15550001111"},
		{"  +15550001111  ", "+15550001111"},
		{"+1.555.000.1111", "+15550001111"},
	}
	for _, tt := range tests {
		if got := NormalizeNumber(tt.in); got != tt.want {
			t.Errorf("NormalizeNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmptyWhitelistAllowsNobody(t *testing.T) {
	var ch ChannelConfig
	if ch.IsAllowed("+15550001111") {
		t.Error("empty whitelist must reject all senders")
	}
}
