package router

import (
	"fmt"
	"strings"
)

const commandPrefix = "!"

const helpText = `Commands:
!reset   start a fresh agent session for this conversation
!status  show session and runtime details
!help    show this message

Anything else is forwarded to the agent.`

// lookupCommand matches a built-in command against the raw message body.
// Commands are exact, case-insensitive, and never reach the agent.
func (r *Router) lookupCommand(content string) (func(conversationID string) string, bool) {
	body := strings.ToLower(strings.TrimSpace(content))
	if !strings.HasPrefix(body, commandPrefix) {
		return nil, false
	}
	switch body {
	case "!reset":
		return r.cmdReset, true
	case "!status":
		return r.cmdStatus, true
	case "!help":
		return func(string) string { return helpText }, true
	}
	return nil, false
}

func (r *Router) cmdReset(conversationID string) string {
	r.sessions.Delete(conversationID)
	return "Session reset. The next message starts a fresh conversation."
}

func (r *Router) cmdStatus(conversationID string) string {
	mode := "agent CLI"
	if r.legacyAPIURL != "" {
		mode = "legacy API (unsupported)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Mode: %s\n", mode)
	if sess, ok := r.sessions.Get(conversationID); ok && sess.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", sess.SessionID)
		fmt.Fprintf(&b, "Initialized: %t\n", sess.Initialized)
	} else {
		b.WriteString("Session: (none)\n")
	}
	fmt.Fprintf(&b, "Workdir: %s", r.invoker.WorkDir())
	return b.String()
}
