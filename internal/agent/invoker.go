// Package agent spawns the external agent CLI once per turn, supplies
// session-continuity flags, enforces a hard wall-clock timeout, and parses
// the structured reply.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/sigclaw/internal/sessions"
)

const (
	// stderrExcerptLen bounds the stderr excerpt carried by ProcessError.
	stderrExcerptLen = 500

	channelName = "signal"
)

// TurnResult is the complete outcome of one agent invocation. It is never
// partially observable: Invoke returns either a full result or a classified
// error.
type TurnResult struct {
	Text      string
	Cost      float64
	IsError   bool
	SessionID string
}

// cliOutput is the structured JSON object the agent CLI emits on stdout.
type cliOutput struct {
	Result       string  `json:"result"`
	SessionID    string  `json:"session_id"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	IsError      bool    `json:"is_error"`
}

// Invoker runs the agent CLI. One process per turn; the caller serializes
// turns per conversation via the busy guard.
type Invoker struct {
	command string
	workDir string
	timeout time.Duration
	store   *sessions.Store
}

// NewInvoker creates an invoker for the given agent binary and workdir.
func NewInvoker(command, workDir string, timeout time.Duration, store *sessions.Store) *Invoker {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Invoker{command: command, workDir: workDir, timeout: timeout, store: store}
}

// WorkDir returns the agent's working directory.
func (inv *Invoker) WorkDir() string { return inv.workDir }

// Invoke runs one agent turn for a conversation. The session descriptor is
// "create-session" for first contact and "resume-session <token>" once the
// session is initialized; the context preamble and message body travel over
// stdin so multi-word content never hits argv quoting.
func (inv *Invoker) Invoke(ctx context.Context, conversationID, body string) (*TurnResult, error) {
	sess := inv.store.GetOrCreate(conversationID)

	mode := "create-session"
	args := []string{"create-session"}
	if sess.Initialized && sess.SessionID != "" {
		mode = "resume-session"
		args = []string{"resume-session", sess.SessionID}
	}

	tracer := otel.Tracer("sigclaw/agent")
	ctx, span := tracer.Start(ctx, "agent.turn")
	span.SetAttributes(
		attribute.String("agent.mode", mode),
		attribute.String("conversation.id", conversationID),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, inv.command, args...)
	cmd.Dir = inv.workDir
	cmd.Stdin = strings.NewReader(inv.preamble(conversationID) + body + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result, err := inv.finishTurn(runErr, ctx.Err(), stdout.String(), stderr.String())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Error("agent turn failed", "conversation", conversationID, "elapsed", elapsed, "error", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Float64("agent.cost_usd", result.Cost),
		attribute.Bool("agent.is_error", result.IsError),
		attribute.Int64("agent.duration_ms", elapsed.Milliseconds()),
	)

	if !result.IsError || result.SessionID != "" {
		inv.store.Update(conversationID, result.SessionID)
	}

	slog.Info("agent turn complete",
		"conversation", conversationID,
		"mode", mode,
		"elapsed", elapsed,
		"cost_usd", result.Cost,
		"is_error", result.IsError,
	)
	return result, nil
}

// finishTurn classifies a finished run. A clean exit always yields a result,
// even if the deadline fired during process teardown; the deadline only
// explains a killed process.
func (inv *Invoker) finishTurn(runErr, ctxErr error, stdout, stderr string) (*TurnResult, error) {
	if runErr == nil {
		return parseOutput(stdout), nil
	}
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return nil, &TimeoutError{Budget: inv.timeout}
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		code = exitErr.ExitCode()
	} else if stdout == "" && stderr == "" {
		return nil, fmt.Errorf("spawn agent: %w", runErr)
	}
	return nil, &ProcessError{ExitCode: code, Stderr: excerpt(stderr)}
}

// parseOutput decodes the agent's stdout. A malformed-but-present reply is
// preferred over no reply: parse failures fall back to the raw text with the
// error flag set.
func parseOutput(raw string) *TurnResult {
	raw = strings.TrimSpace(raw)

	var out cliOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("agent output did not parse, using raw text", "error", err)
		return &TurnResult{Text: raw, IsError: true}
	}
	return &TurnResult{
		Text:      out.Result,
		Cost:      out.TotalCostUSD,
		IsError:   out.IsError,
		SessionID: out.SessionID,
	}
}

// preamble synthesizes the context header prepended to every message body.
func (inv *Invoker) preamble(conversationID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[channel: %s]\n", channelName)
	fmt.Fprintf(&b, "[from: %s]\n", conversationID)
	b.WriteString("Keep replies terse; they are delivered as chat messages.\n\n")
	return b.String()
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrExcerptLen {
		return s[:stderrExcerptLen]
	}
	return s
}
