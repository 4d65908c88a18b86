// Package bot implements the operator command surface: authorization,
// command parsing and the replies for each command.
package bot

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/zealywatch/internal/config"
	"github.com/JakeFAU/zealywatch/internal/metrics"
	"github.com/JakeFAU/zealywatch/internal/monitor"
	"github.com/JakeFAU/zealywatch/internal/progress"
	"github.com/JakeFAU/zealywatch/internal/scheduler"
)

// diagnosticLimit bounds error text relayed to the operator.
const diagnosticLimit = 200

// Replier posts and edits chat messages.
type Replier interface {
	Reply(ctx context.Context, chatID int64, text string) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string) error
}

// Registry is the watch list as seen by commands.
type Registry interface {
	Add(target monitor.Target) error
	CanAdd(url string) error
	Remove(url string) (monitor.Target, error)
	Snapshot() []monitor.Target
	Purge() int
	Len() int
	Capacity() int
}

// Scheduler is the loop control surface.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop() bool
	State() scheduler.State
	CheckNow(ctx context.Context, url string) (scheduler.Inspection, error)
	Policy() scheduler.Policy
}

// Config holds the handler's fixed settings.
type Config struct {
	ChatID     int64
	URLPattern string
	// VerifyTimeout bounds the /add verification fetch; zero means none.
	VerifyTimeout time.Duration
}

// Deps are the handler's collaborators. Emitter, Stats and Logger may be nil.
type Deps struct {
	Registry  Registry
	Scheduler Scheduler
	Fetcher   monitor.Fetcher
	Replier   Replier
	Clock     monitor.Clock
	Emitter   progress.Emitter
	Stats     *monitor.Stats
	Logger    *zap.Logger
}

// Handler dispatches operator commands.
type Handler struct {
	cfg       Config
	pattern   *regexp.Regexp
	registry  Registry
	scheduler Scheduler
	fetcher   monitor.Fetcher
	replier   Replier
	clock     monitor.Clock
	emitter   progress.Emitter
	stats     *monitor.Stats
	logger    *zap.Logger

	mu     sync.Mutex
	listed []string
}

// New compiles the URL pattern and wires deps.
func New(cfg Config, deps Deps) (*Handler, error) {
	if cfg.URLPattern == "" {
		cfg.URLPattern = config.DefaultURLPattern
	}
	pattern, err := regexp.Compile(cfg.URLPattern)
	if err != nil {
		return nil, err
	}
	emitter := deps.Emitter
	if emitter == nil {
		emitter = progress.Discard{}
	}
	stats := deps.Stats
	if stats == nil {
		stats = monitor.NewStats(deps.Clock.Now())
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:       cfg,
		pattern:   pattern,
		registry:  deps.Registry,
		scheduler: deps.Scheduler,
		fetcher:   deps.Fetcher,
		replier:   deps.Replier,
		clock:     deps.Clock,
		emitter:   emitter,
		stats:     stats,
		logger:    logger,
	}, nil
}

// ChatID returns the only chat allowed to issue commands.
func (h *Handler) ChatID() int64 {
	return h.cfg.ChatID
}

// HandleMessage authorizes and executes one inbound message.
func (h *Handler) HandleMessage(ctx context.Context, chatID int64, text string) {
	name, args, isCommand := parseCommand(text)
	if chatID != h.cfg.ChatID {
		h.unauthorized(ctx, chatID, name, text)
		return
	}
	if !isCommand {
		return
	}
	metrics.ObserveCommand(name, true)
	h.emitter.Emit(progress.Event{
		TS:      h.clock.Now(),
		Stage:   progress.StageCommand,
		Command: name,
		ChatID:  chatID,
		Note:    monitor.Truncate(args, diagnosticLimit),
	})
	h.logger.Debug("command received", zap.String("command", name), zap.String("args", args))

	switch name {
	case "start", "help":
		h.reply(ctx, chatID, h.welcome())
	case "add":
		h.add(ctx, chatID, args)
	case "remove":
		h.remove(ctx, chatID, args)
	case "list":
		h.list(ctx, chatID)
	case "status":
		h.status(ctx, chatID)
	case "debug":
		h.debug(ctx, chatID, args)
	case "run":
		h.run(ctx, chatID)
	case "stop":
		h.stop(ctx, chatID)
	case "purge":
		h.purge(ctx, chatID)
	case "stats":
		h.reply(ctx, chatID, h.statsReport())
	default:
		h.reply(ctx, chatID, "❓ Unknown command. Send /help for the list.")
	}
}

func (h *Handler) unauthorized(ctx context.Context, chatID int64, name, text string) {
	metrics.ObserveCommand(name, false)
	h.logger.Warn("unauthorized access attempt", zap.Int64("chat_id", chatID), zap.String("command", name))
	h.emitter.Emit(progress.Event{
		TS:      h.clock.Now(),
		Stage:   progress.StageUnauthorized,
		ChatID:  chatID,
		Command: name,
		Note:    monitor.Truncate(text, diagnosticLimit),
	})
	h.reply(ctx, chatID, "🚫 Unauthorized access!")
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) int {
	id, err := h.replier.Reply(ctx, chatID, monitor.TruncateUTF16(text, maxReplyLength))
	if err != nil {
		h.logger.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return id
}

func (h *Handler) edit(ctx context.Context, chatID int64, messageID int, text string) {
	if messageID == 0 {
		h.reply(ctx, chatID, text)
		return
	}
	if err := h.replier.Edit(ctx, chatID, messageID, monitor.TruncateUTF16(text, maxReplyLength)); err != nil {
		h.logger.Warn("edit failed, replying instead", zap.Error(err))
		h.reply(ctx, chatID, text)
	}
}

// parseCommand splits "/cmd@bot args" into ("cmd", "args", true).
func parseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text, false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest), head != ""
}

// Canonicalize lowercases raw and drops any fragment and trailing slash.
func Canonicalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s, _, _ = strings.Cut(s, "#")
	if u, err := url.Parse(s); err == nil && u.Scheme != "" {
		u.Fragment = ""
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
		return u.String()
	}
	return strings.TrimRight(s, "/")
}

func (h *Handler) setListed(urls []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listed = urls
}

// resolveIndex maps a 1-based position to a URL from the most recent /list,
// or from the current order when nothing has been listed yet.
func (h *Handler) resolveIndex(n int) (string, int, bool) {
	h.mu.Lock()
	listed := h.listed
	h.mu.Unlock()
	if listed == nil {
		for _, t := range h.registry.Snapshot() {
			listed = append(listed, t.URL)
		}
	}
	if n < 1 || n > len(listed) {
		return "", len(listed), false
	}
	return listed[n-1], len(listed), true
}
