package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Channel: ChannelConfig{
			BridgeURL: "ws://127.0.0.1:8380/ws",
		},
		Agent: AgentConfig{
			Command:    "agent",
			WorkDir:    "~/.sigclaw/workspace",
			TimeoutSec: 600,
		},
		Media: MediaConfig{
			Dir:           "~/.sigclaw/media",
			OCRTimeoutSec: 30,
		},
		Sessions: SessionsConfig{
			File:    "~/.sigclaw/sessions.json",
			FlushMS: 2000,
		},
		Chunk: ChunkConfig{
			MaxLen:  4000,
			DelayMS: 500,
		},
		Archive: ArchiveConfig{
			Path: "~/.sigclaw/archive.db",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("SIGCLAW_BRIDGE_URL", &c.Channel.BridgeURL)
	envStr("SIGCLAW_PHONE_NUMBER", &c.Channel.PhoneNumber)
	envStr("SIGCLAW_AGENT_COMMAND", &c.Agent.Command)
	envStr("SIGCLAW_AGENT_WORKDIR", &c.Agent.WorkDir)
	envStr("SIGCLAW_LEGACY_API_URL", &c.Agent.LegacyAPIURL)
	envStr("SIGCLAW_OCR_COMMAND", &c.Media.OCRCommand)
	envStr("SIGCLAW_SESSION_FILE", &c.Sessions.File)

	if v := os.Getenv("SIGCLAW_ALLOW_FROM"); v != "" {
		c.Channel.AllowFrom = splitList(v)
	}
	if v := os.Getenv("SIGCLAW_AGENT_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agent.TimeoutSec = n
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Save writes the config back to disk as plain JSON (valid JSON5).
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
