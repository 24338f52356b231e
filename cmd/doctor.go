package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/sigclaw/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("sigclaw doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND — run `sigclaw onboard`)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Channel:")
	fmt.Printf("    %-10s %s\n", "Bridge:", cfg.Channel.BridgeURL)
	if cfg.Channel.PhoneNumber == "" {
		fmt.Printf("    %-10s (MISSING)\n", "Number:")
	} else {
		fmt.Printf("    %-10s %s\n", "Number:", cfg.Channel.PhoneNumber)
	}
	if len(cfg.Channel.AllowFrom) == 0 {
		fmt.Printf("    %-10s empty — all senders will be ignored\n", "Allow:")
	} else {
		fmt.Printf("    %-10s %d number(s)\n", "Allow:", len(cfg.Channel.AllowFrom))
	}

	fmt.Println()
	fmt.Println("  Agent:")
	checkBinary("Command:", cfg.Agent.Command)
	fmt.Printf("    %-10s %s\n", "Workdir:", config.ExpandHome(cfg.Agent.WorkDir))
	fmt.Printf("    %-10s %ds\n", "Timeout:", cfg.Agent.TimeoutSec)
	if cfg.Agent.LegacyAPIURL != "" {
		fmt.Printf("    %-10s %s (UNSUPPORTED — remove legacy_api_url)\n", "API URL:", cfg.Agent.LegacyAPIURL)
	}

	fmt.Println()
	fmt.Println("  Media:")
	fmt.Printf("    %-10s %s\n", "Dir:", config.ExpandHome(cfg.Media.Dir))
	if cfg.Media.OCRCommand == "" {
		fmt.Printf("    %-10s disabled\n", "OCR:")
	} else {
		checkBinary("OCR:", cfg.Media.OCRCommand)
	}

	fmt.Println()
	fmt.Println("  Sessions:")
	sessFile := config.ExpandHome(cfg.Sessions.File)
	fmt.Printf("    %-10s %s", "File:", sessFile)
	if _, err := os.Stat(sessFile); err != nil {
		fmt.Println(" (not yet created)")
	} else {
		fmt.Println(" (OK)")
	}

	if cfg.Archive.Enabled {
		fmt.Println()
		fmt.Println("  Archive:")
		fmt.Printf("    %-10s %s\n", "Path:", config.ExpandHome(cfg.Archive.Path))
	}
}

func checkBinary(label, command string) {
	path, err := exec.LookPath(command)
	if err != nil {
		fmt.Printf("    %-10s %s (NOT FOUND in PATH)\n", label, command)
		return
	}
	fmt.Printf("    %-10s %s\n", label, path)
}
