package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/sigclaw/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

func runOnboard() {
	cfgPath := resolveConfigPath()
	cfg := config.Default()
	if existing, err := config.Load(cfgPath); err == nil {
		cfg = existing
	}

	var allowCSV string
	if len(cfg.Channel.AllowFrom) > 0 {
		allowCSV = strings.Join(cfg.Channel.AllowFrom, ",")
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Your phone number").
				Description("The number this bridge sends and receives as, e.g. +15550001111").
				Value(&cfg.Channel.PhoneNumber),
			huh.NewInput().
				Title("Bridge websocket URL").
				Value(&cfg.Channel.BridgeURL),
			huh.NewInput().
				Title("Allowed senders").
				Description("Comma-separated numbers permitted to talk to the agent. Empty blocks everyone.").
				Value(&allowCSV),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Agent command").
				Description("The CLI binary invoked for each turn").
				Value(&cfg.Agent.Command),
			huh.NewInput().
				Title("Agent working directory").
				Value(&cfg.Agent.WorkDir),
			huh.NewInput().
				Title("OCR command (optional)").
				Description("A binary that takes an image path and prints text. Leave empty to disable.").
				Value(&cfg.Media.OCRCommand),
			huh.NewConfirm().
				Title("Archive conversation transcripts to sqlite?").
				Value(&cfg.Archive.Enabled),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "setup aborted:", err)
		os.Exit(1)
	}

	cfg.Channel.AllowFrom = cfg.Channel.AllowFrom[:0]
	for _, part := range strings.Split(allowCSV, ",") {
		if n := config.NormalizeNumber(part); n != "" {
			cfg.Channel.AllowFrom = append(cfg.Channel.AllowFrom, n)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "failed to create config directory:", err)
		os.Exit(1)
	}
	if err := cfg.Save(cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "failed to write config:", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Config written to", cfgPath)
	fmt.Println("Start the bridge with:  sigclaw")
	fmt.Println("Check your setup with:  sigclaw doctor")
}
