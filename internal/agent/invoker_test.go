package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/sigclaw/internal/sessions"
)

// fakeAgent writes an executable shell script standing in for the agent CLI.
func fakeAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newStore(t *testing.T) *sessions.Store {
	t.Helper()
	return sessions.NewStore(filepath.Join(t.TempDir(), "sessions.json"), time.Second)
}

func TestSessionContinuity(t *testing.T) {
	argsLog := filepath.Join(t.TempDir(), "args.log")
	script := fmt.Sprintf(`echo "$@" >> %q
cat > /dev/null
echo '{"result":"ok","session_id":"sess-xyz","total_cost_usd":0.01}'`, argsLog)

	inv := NewInvoker(fakeAgent(t, script), t.TempDir(), time.Minute, newStore(t))

	if _, err := inv.Invoke(context.Background(), "+1555", "first"); err != nil {
		t.Fatalf("first Invoke: %v", err)
	}
	if _, err := inv.Invoke(context.Background(), "+1555", "second"); err != nil {
		t.Fatalf("second Invoke: %v", err)
	}

	data, err := os.ReadFile(argsLog)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("agent invoked %d times, want 2", len(lines))
	}
	if lines[0] != "create-session" {
		t.Errorf("first call args = %q, want create-session", lines[0])
	}
	if lines[1] != "resume-session sess-xyz" {
		t.Errorf("second call args = %q, want resume-session sess-xyz", lines[1])
	}
}

func TestBodyDeliveredViaStdin(t *testing.T) {
	stdinLog := filepath.Join(t.TempDir(), "stdin.log")
	script := fmt.Sprintf(`cat > %q
echo '{"result":"ok"}'`, stdinLog)

	inv := NewInvoker(fakeAgent(t, script), t.TempDir(), time.Minute, newStore(t))
	if _, err := inv.Invoke(context.Background(), "+1555", "what is 2+2?"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	data, _ := os.ReadFile(stdinLog)
	got := string(data)
	if !strings.Contains(got, "what is 2+2?") {
		t.Errorf("stdin = %q, missing message body", got)
	}
	if !strings.Contains(got, "[channel: signal]") || !strings.Contains(got, "[from: +1555]") {
		t.Errorf("stdin = %q, missing context preamble", got)
	}
}

func TestTimeout(t *testing.T) {
	inv := NewInvoker(fakeAgent(t, "sleep 30"), t.TempDir(), 50*time.Millisecond, newStore(t))

	start := time.Now()
	_, err := inv.Invoke(context.Background(), "c", "hi")
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("process not killed promptly on timeout")
	}
}

func TestProcessFailureCarriesStderr(t *testing.T) {
	long := strings.Repeat("e", 800)
	script := fmt.Sprintf(`cat > /dev/null
echo "%s" >&2
exit 3`, long)

	inv := NewInvoker(fakeAgent(t, script), t.TempDir(), time.Minute, newStore(t))
	_, err := inv.Invoke(context.Background(), "c", "hi")

	var pe *ProcessError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProcessError", err)
	}
	if pe.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", pe.ExitCode)
	}
	if len(pe.Stderr) != 500 {
		t.Errorf("stderr excerpt = %d chars, want 500", len(pe.Stderr))
	}
}

func TestMalformedOutputIsDegradedSuccess(t *testing.T) {
	script := `cat > /dev/null
echo "I am not JSON but I am an answer"`

	store := newStore(t)
	inv := NewInvoker(fakeAgent(t, script), t.TempDir(), time.Minute, store)
	res, err := inv.Invoke(context.Background(), "c", "hi")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.IsError {
		t.Error("malformed output must flag IsError")
	}
	if res.Text != "I am not JSON but I am an answer" {
		t.Errorf("Text = %q, want raw stdout", res.Text)
	}
	if sess, ok := store.Get("c"); ok && sess.Initialized {
		t.Error("session must not be initialized without a parsed session id")
	}
}

func TestCleanExitAtDeadlineKeepsResult(t *testing.T) {
	inv := NewInvoker("agent", t.TempDir(), time.Minute, newStore(t))

	// The process can finish successfully in the same instant the deadline
	// fires. The completed result wins over the expired context.
	res, err := inv.finishTurn(nil, context.DeadlineExceeded,
		`{"result":"done","session_id":"s9"}`, "")
	if err != nil {
		t.Fatalf("finishTurn on clean exit: %v", err)
	}
	if res.Text != "done" || res.SessionID != "s9" {
		t.Errorf("result = %+v", res)
	}

	// A killed process with an expired deadline is still a timeout.
	_, err = inv.finishTurn(errors.New("signal: killed"), context.DeadlineExceeded, "", "")
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
}

func TestAgentReportedError(t *testing.T) {
	script := `cat > /dev/null
echo '{"result":"something broke","is_error":true,"session_id":"s1"}'`

	inv := NewInvoker(fakeAgent(t, script), t.TempDir(), time.Minute, newStore(t))
	res, err := inv.Invoke(context.Background(), "c", "hi")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.IsError || res.Text != "something broke" || res.SessionID != "s1" {
		t.Errorf("result = %+v", res)
	}
}
