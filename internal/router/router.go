// Package router dispatches inbound channel events: echo filtering, identity
// whitelisting, built-in commands, media enrichment, and the concurrency-
// guarded agent turn.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	agentpkg "github.com/nextlevelbuilder/sigclaw/internal/agent"
	"github.com/nextlevelbuilder/sigclaw/internal/archive"
	"github.com/nextlevelbuilder/sigclaw/internal/bus"
	"github.com/nextlevelbuilder/sigclaw/internal/chunk"
	"github.com/nextlevelbuilder/sigclaw/internal/config"
	"github.com/nextlevelbuilder/sigclaw/internal/guard"
	"github.com/nextlevelbuilder/sigclaw/internal/media"
	"github.com/nextlevelbuilder/sigclaw/internal/sessions"
)

// Sender delivers outbound text and reports the assigned message id.
type Sender interface {
	Send(ctx context.Context, chatID, text string) (string, error)
}

// Invoker runs one agent turn.
type Invoker interface {
	Invoke(ctx context.Context, conversationID, body string) (*agentpkg.TurnResult, error)
	WorkDir() string
}

// Preprocessor persists media and extracts text from images.
type Preprocessor interface {
	Process(ctx context.Context, conversationID string, att bus.MediaAttachment) (media.Result, error)
}

// Recorder archives completed turns. Optional.
type Recorder interface {
	Record(ctx context.Context, t archive.Turn) error
}

const (
	busyNotice     = "Still working on your previous message — it will be answered first."
	timeoutReply   = "The agent timed out. Please try again."
	failureReply   = "The agent failed: "
	fallbackNotice = "Sorry, I could not deliver the reply."
)

// Options carries the router's static configuration.
type Options struct {
	OwnNumber    string
	AllowFrom    []string
	MaxLen       int
	ChunkDelay   time.Duration
	LegacyAPIURL string
}

// Router wires the bridge components together. All keyed state lives in the
// injected guards and stores so tests can swap them for fakes.
type Router struct {
	sender   Sender
	invoker  Invoker
	sessions *sessions.Store
	echo     *guard.EchoGuard
	busy     *guard.BusyGuard
	pre      Preprocessor
	recorder Recorder

	ownNumber    string
	maxLen       int
	chunkDelay   time.Duration
	legacyAPIURL string

	mu        sync.RWMutex
	allowFrom []string
}

// New creates a router. recorder may be nil.
func New(sender Sender, invoker Invoker, store *sessions.Store, echo *guard.EchoGuard,
	busy *guard.BusyGuard, pre Preprocessor, recorder Recorder, opts Options) *Router {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 4000
	}
	return &Router{
		sender:       sender,
		invoker:      invoker,
		sessions:     store,
		echo:         echo,
		busy:         busy,
		pre:          pre,
		recorder:     recorder,
		ownNumber:    config.NormalizeNumber(opts.OwnNumber),
		maxLen:       maxLen,
		chunkDelay:   opts.ChunkDelay,
		legacyAPIURL: opts.LegacyAPIURL,
		allowFrom:    opts.AllowFrom,
	}
}

// SetAllowList replaces the identity whitelist (config hot reload).
func (r *Router) SetAllowList(allowFrom []string) {
	r.mu.Lock()
	r.allowFrom = allowFrom
	r.mu.Unlock()
}

func (r *Router) isAllowed(conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch := config.ChannelConfig{AllowFrom: r.allowFrom}
	return ch.IsAllowed(conversationID)
}

// Run consumes inbound messages until ctx is cancelled. Each message is
// handled on its own goroutine; per-conversation ordering is enforced by the
// busy guard, and a panic in one conversation never takes down the loop.
func (r *Router) Run(ctx context.Context, msgBus *bus.MessageBus) {
	slog.Info("message router started")
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("message router stopped")
			return
		}
		go func(msg bus.InboundMessage) {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("panic handling inbound message", "conversation", msg.ChatID, "panic", rec)
				}
			}()
			r.HandleInbound(ctx, msg)
		}(msg)
	}
}

// HandleInbound runs the dispatch gates for one inbound event. Each gate is
// hard: failing it stops processing.
func (r *Router) HandleInbound(ctx context.Context, msg bus.InboundMessage) {
	conversationID := config.NormalizeNumber(msg.ChatID)

	// Gate 1: self-origin filter.
	if msg.Broadcast {
		slog.Debug("discarding broadcast event", "conversation", conversationID)
		return
	}
	if r.echo.ShouldDiscard(msg.ID, conversationID) {
		slog.Debug("discarding own echo", "id", msg.ID, "conversation", conversationID)
		return
	}
	if msg.FromSelf && conversationID != r.ownNumber {
		// Our own prior replies surfacing in someone else's conversation.
		slog.Debug("discarding self-origin event outside self-chat", "conversation", conversationID)
		return
	}

	// Gate 2: identity whitelist. A hard security boundary — never act for
	// an unlisted identity, even if the channel delivers the event.
	if !r.isAllowed(conversationID) {
		slog.Info("discarding message from unlisted identity", "conversation", conversationID)
		return
	}

	// Gate 3: built-in commands bypass the agent entirely.
	if cmd, ok := r.lookupCommand(msg.Content); ok {
		r.sendReply(ctx, conversationID, cmd(conversationID))
		return
	}

	// Gate 4: media enrichment.
	body := strings.TrimSpace(msg.Content)
	if msg.HasMedia() && r.pre != nil {
		if ocrText := r.processMedia(ctx, conversationID, msg.Media); ocrText != "" {
			if body == "" {
				body = ocrText
			} else {
				body = body + "\n" + ocrText
			}
		}
	}

	// Gate 5: empty-message short-circuit.
	if body == "" {
		slog.Debug("dropping blank message", "conversation", conversationID)
		return
	}

	// Gate 6: concurrency-guarded agent turn.
	if !r.busy.TryAcquire(conversationID) {
		if r.busy.MarkNotified(conversationID) {
			r.sendReply(ctx, conversationID, busyNotice)
		} else {
			slog.Info("dropping message during busy window", "conversation", conversationID)
		}
		return
	}
	defer r.busy.Release(conversationID)

	r.agentTurn(ctx, conversationID, body)
}

// agentTurn invokes the agent and relays the outcome. Timeout and process
// failure both produce a user-visible reply: silence is a correctness bug.
func (r *Router) agentTurn(ctx context.Context, conversationID, body string) {
	start := time.Now()
	result, err := r.invoker.Invoke(ctx, conversationID, body)

	var reply, errorKind string
	var cost float64
	switch {
	case err == nil:
		reply = result.Text
		cost = result.Cost
		if result.IsError {
			errorKind = "MalformedOutput"
		}
		if strings.TrimSpace(reply) == "" {
			reply = "(the agent returned an empty reply)"
		}
	default:
		var te *agentpkg.TimeoutError
		var pe *agentpkg.ProcessError
		switch {
		case errors.As(err, &te):
			errorKind = "Timeout"
			reply = timeoutReply
		case errors.As(err, &pe):
			errorKind = "ProcessFailure"
			reply = failureReply + pe.Stderr
			if pe.Stderr == "" {
				reply = strings.TrimSuffix(failureReply, ": ") + "."
			}
		default:
			errorKind = "ProcessFailure"
			reply = failureReply + err.Error()
		}
		slog.Error("agent turn error", "conversation", conversationID, "kind", errorKind, "error", err)
	}

	r.sendReply(ctx, conversationID, reply)
	r.sessions.MarkDirty()
	r.record(ctx, archive.Turn{
		ConversationID: conversationID,
		Prompt:         body,
		Reply:          reply,
		CostUSD:        cost,
		Duration:       time.Since(start),
		ErrorKind:      errorKind,
	})
}

// sendReply chunks and sends text, keeping the conversation's mid-send
// window open across every chunk so echoed deliveries are discarded. A
// transport failure is logged and answered with one best-effort fallback.
// Pacing applies between the chunks of this reply only; conversations
// never wait on each other's sends.
func (r *Router) sendReply(ctx context.Context, conversationID, text string) {
	chunks := chunk.Split(text, r.maxLen)
	if len(chunks) == 0 {
		return
	}

	r.echo.BeginSending(conversationID)
	defer r.echo.EndSending(conversationID)

	pacer := chunk.NewPacer(r.chunkDelay)
	for i, segment := range chunks {
		if err := pacer.Wait(ctx); err != nil {
			return
		}
		id, err := r.sender.Send(ctx, conversationID, segment)
		if err != nil {
			slog.Error("transport failure sending reply", "conversation", conversationID, "chunk", i+1, "error", err)
			if fid, ferr := r.sender.Send(ctx, conversationID, fallbackNotice); ferr == nil {
				r.echo.MarkSent(conversationID, fid)
			}
			return
		}
		r.echo.MarkSent(conversationID, id)
	}
}

// processMedia runs the preprocessor over every attachment and joins the
// extracted text. Persistence failures are logged; the body passes through.
func (r *Router) processMedia(ctx context.Context, conversationID string, atts []bus.MediaAttachment) string {
	var parts []string
	for _, att := range atts {
		res, err := r.pre.Process(ctx, conversationID, att)
		if err != nil {
			slog.Warn("media preprocessing failed", "conversation", conversationID, "error", err)
			continue
		}
		if res.Text != "" {
			parts = append(parts, res.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (r *Router) record(ctx context.Context, t archive.Turn) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(ctx, t); err != nil {
		slog.Warn("transcript archive write failed", "conversation", t.ConversationID, "error", err)
	}
}
