package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	agentpkg "github.com/nextlevelbuilder/sigclaw/internal/agent"
	"github.com/nextlevelbuilder/sigclaw/internal/archive"
	"github.com/nextlevelbuilder/sigclaw/internal/bus"
	signalchan "github.com/nextlevelbuilder/sigclaw/internal/channels/signal"
	"github.com/nextlevelbuilder/sigclaw/internal/config"
	"github.com/nextlevelbuilder/sigclaw/internal/guard"
	"github.com/nextlevelbuilder/sigclaw/internal/media"
	"github.com/nextlevelbuilder/sigclaw/internal/router"
	"github.com/nextlevelbuilder/sigclaw/internal/sessions"
	"github.com/nextlevelbuilder/sigclaw/internal/tracing"
)

var (
	flagWorkdir string
	flagNumber  string
	flagAllow   []string
	flagAPIURL  string
)

func bridgeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagWorkdir, "workdir", "", "agent working directory (overrides config)")
	cmd.Flags().StringVar(&flagNumber, "number", "", "own phone number on the bridge (overrides config)")
	cmd.Flags().StringSliceVar(&flagAllow, "allow", nil, "whitelisted sender numbers (overrides config)")
	cmd.Flags().StringVar(&flagAPIURL, "api-url", "", "legacy HTTP API endpoint (no longer supported)")
}

func runBridge() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if flagWorkdir != "" {
		cfg.Agent.WorkDir = flagWorkdir
	}
	if flagNumber != "" {
		cfg.Channel.PhoneNumber = flagNumber
	}
	if len(flagAllow) > 0 {
		cfg.Channel.AllowFrom = flagAllow
	}
	if flagAPIURL != "" {
		cfg.Agent.LegacyAPIURL = flagAPIURL
	}

	// The HTTP API transport was retired in favor of the session-keeping
	// CLI. Refuse to start rather than silently ignore the setting.
	if cfg.Agent.LegacyAPIURL != "" {
		slog.Error("legacy HTTP API mode is no longer supported; remove legacy_api_url (or SIGCLAW_LEGACY_API_URL, --api-url) and use the agent CLI")
		os.Exit(1)
	}
	if cfg.Channel.PhoneNumber == "" {
		slog.Error("no phone number configured; run `sigclaw onboard` or set SIGCLAW_PHONE_NUMBER")
		os.Exit(1)
	}
	if len(cfg.Channel.AllowFrom) == 0 {
		slog.Warn("allow_from is empty: every inbound message will be discarded")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, Version)
	if err != nil {
		slog.Warn("tracing setup failed", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	workdir := config.ExpandHome(cfg.Agent.WorkDir)
	if !filepath.IsAbs(workdir) {
		workdir, _ = filepath.Abs(workdir)
	}
	mediaDir := config.ExpandHome(cfg.Media.Dir)
	sessionFile := config.ExpandHome(cfg.Sessions.File)
	for _, dir := range []string{workdir, mediaDir, filepath.Dir(sessionFile)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("failed to create directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store := sessions.NewStore(sessionFile, time.Duration(cfg.Sessions.FlushMS)*time.Millisecond)
	msgBus := bus.New()

	channel, err := signalchan.New(cfg.Channel.BridgeURL, cfg.Channel.PhoneNumber, msgBus)
	if err != nil {
		slog.Error("invalid bridge configuration", "error", err)
		os.Exit(1)
	}

	echoGuard := guard.NewEchoGuard()
	// A bridge ack arriving after Send gave up still carries the real
	// outgoing id; register it so the echoed delivery is recognized.
	channel.SetLateAckHandler(func(chatID, messageID string) {
		echoGuard.MarkSent(config.NormalizeNumber(chatID), messageID)
	})

	invoker := agentpkg.NewInvoker(cfg.Agent.Command, workdir,
		time.Duration(cfg.Agent.TimeoutSec)*time.Second, store)
	pre := media.NewPreprocessor(mediaDir, cfg.Media.OCRCommand,
		time.Duration(cfg.Media.OCRTimeoutSec)*time.Second)

	var recorder router.Recorder
	var arc *archive.Archive
	if cfg.Archive.Enabled {
		arc, err = archive.Open(config.ExpandHome(cfg.Archive.Path))
		if err != nil {
			slog.Warn("transcript archive unavailable", "error", err)
		} else {
			recorder = arc
		}
	}

	rtr := router.New(channel, invoker, store, echoGuard, guard.NewBusyGuard(),
		pre, recorder, router.Options{
			OwnNumber:    cfg.Channel.PhoneNumber,
			AllowFrom:    cfg.Channel.AllowFrom,
			MaxLen:       cfg.Chunk.MaxLen,
			ChunkDelay:   time.Duration(cfg.Chunk.DelayMS) * time.Millisecond,
			LegacyAPIURL: cfg.Agent.LegacyAPIURL,
		})

	go store.Run(ctx)
	go rtr.Run(ctx, msgBus)

	if err := channel.Start(ctx); err != nil {
		slog.Error("channel start failed", "error", err)
		os.Exit(1)
	}

	if err := config.Watch(ctx, cfgPath, func(fresh *config.Config) {
		rtr.SetAllowList(fresh.Channel.AllowFrom)
	}); err != nil {
		slog.Warn("config watch unavailable, whitelist edits need a restart", "error", err)
	}

	slog.Info("sigclaw running", "number", cfg.Channel.PhoneNumber,
		"bridge", cfg.Channel.BridgeURL, "workdir", workdir)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := channel.Stop(shutdownCtx); err != nil {
		slog.Warn("channel stop", "error", err)
	}
	if err := store.Flush(); err != nil {
		slog.Warn("final session flush failed", "error", err)
	}
	if arc != nil {
		if err := arc.Close(); err != nil {
			slog.Warn("archive close", "error", err)
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing shutdown", "error", err)
	}
	slog.Info("goodbye")
}
