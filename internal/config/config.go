// Package config defines the bridge configuration surface: a JSON5 file,
// environment overrides, and command-line flag overlays.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config is the root configuration object.
type Config struct {
	Channel  ChannelConfig  `json:"channel"`
	Agent    AgentConfig    `json:"agent"`
	Media    MediaConfig    `json:"media"`
	Sessions SessionsConfig `json:"sessions"`
	Chunk    ChunkConfig    `json:"chunk"`
	Archive  ArchiveConfig  `json:"archive"`
}

// ChannelConfig describes the messaging channel bridge connection.
type ChannelConfig struct {
	// BridgeURL is the WebSocket endpoint of the channel bridge daemon
	// (signal-cli compatible). Pairing (QR / numeric code) is handled there.
	BridgeURL string `json:"bridge_url"`
	// PhoneNumber is the paired account address in E.164 form.
	PhoneNumber string `json:"phone_number"`
	// AllowFrom is the identity whitelist. Senders not listed here are
	// silently ignored. Entries are normalized phone numbers.
	AllowFrom []string `json:"allow_from"`
}

// AgentConfig describes the external agent CLI.
type AgentConfig struct {
	// Command is the agent binary (resolved via PATH if not absolute).
	Command string `json:"command"`
	// WorkDir is the working directory the agent runs in.
	WorkDir string `json:"workdir"`
	// TimeoutSec is the hard wall-clock budget for one agent turn.
	TimeoutSec int `json:"timeout_sec"`
	// LegacyAPIURL selects the legacy HTTP API mode instead of the CLI.
	// Not supported in this build; kept so configs round-trip.
	LegacyAPIURL string `json:"legacy_api_url,omitempty"`
}

// MediaConfig describes inbound media handling.
type MediaConfig struct {
	// Dir is where inbound media files are persisted.
	Dir string `json:"dir"`
	// OCRCommand is the OCR engine binary. It is invoked with the image
	// file path as its only argument and must print recognized text on
	// stdout. Empty disables OCR.
	OCRCommand string `json:"ocr_command"`
	// OCRTimeoutSec bounds a single OCR invocation.
	OCRTimeoutSec int `json:"ocr_timeout_sec"`
}

// SessionsConfig describes durable session state.
type SessionsConfig struct {
	// File is the JSON session file, rewritten wholesale on each save.
	File string `json:"file"`
	// FlushMS is the debounce interval for persisting dirty state.
	FlushMS int `json:"flush_ms"`
}

// ChunkConfig describes outbound reply splitting.
type ChunkConfig struct {
	// MaxLen is the transport's per-message character limit.
	MaxLen int `json:"max_len"`
	// DelayMS paces consecutive chunk sends.
	DelayMS int `json:"delay_ms"`
}

// ArchiveConfig describes the optional transcript archive.
type ArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// NormalizeNumber canonicalizes a phone-number-derived identity: spaces,
// dashes and parentheses are stripped so whitelist comparison is stable.
func NormalizeNumber(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case ' ', '-', '(', ')', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsAllowed reports whether the sender identity is on the whitelist.
// An empty whitelist allows nobody: the bridge acts for listed identities only.
func (c *ChannelConfig) IsAllowed(senderID string) bool {
	norm := NormalizeNumber(senderID)
	for _, allowed := range c.AllowFrom {
		if NormalizeNumber(allowed) == norm {
			return true
		}
	}
	return false
}
