// Package trust implements the three-tier authorization gate in front of the
// tool registry. Tools start UNTRUSTED; safe tools are promoted to VERIFIED
// in bulk, and TRUSTED is granted explicitly. The permission check always
// happens before delegation, so a denied call never reaches a handler.
package trust

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"toolgate/internal/bus"
	"toolgate/internal/domain"
	"toolgate/internal/metrics"
	"toolgate/internal/tool"
)

// Classification is the a-priori split of tools into safe (read-only,
// promotable via verify) and destructive (side-effect-bearing, explicit
// trust required). Unlisted tools are treated as destructive.
type Classification struct {
	Safe        []string
	Destructive []string
}

// Gateway guards tool execution by trust tier. It is an injected instance,
// not process-global state; tests construct their own.
type Gateway struct {
	mu          sync.RWMutex
	levels      map[string]domain.TrustLevel
	safe        map[string]bool
	destructive map[string]bool

	registry *tool.Registry
	events   *bus.EventBus
	audit    domain.AuditLogger
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithAuditLogger(a domain.AuditLogger) Option { return func(g *Gateway) { g.audit = a } }
func WithEventBus(b *bus.EventBus) Option         { return func(g *Gateway) { g.events = b } }
func WithRecorder(r *metrics.Recorder) Option     { return func(g *Gateway) { g.recorder = r } }

func NewGateway(registry *tool.Registry, cls Classification, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		levels:      make(map[string]domain.TrustLevel),
		safe:        make(map[string]bool),
		destructive: make(map[string]bool),
		registry:    registry,
		logger:      logger,
	}
	for _, name := range cls.Safe {
		g.safe[name] = true
		g.levels[name] = domain.Untrusted
	}
	for _, name := range cls.Destructive {
		g.destructive[name] = true
		g.levels[name] = domain.Untrusted
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// known reports whether the gateway has any record of the tool: classified
// up front, or currently registered. Callers must hold at least a read lock.
func (g *Gateway) known(name string) bool {
	if _, ok := g.levels[name]; ok {
		return true
	}
	for _, n := range g.registry.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// requiredLevel is the minimum tier a tool needs before the gated path will
// execute it. Unclassified tools are held to the destructive bar.
func (g *Gateway) requiredLevel(name string) domain.TrustLevel {
	if g.safe[name] && !g.destructive[name] {
		return domain.Verified
	}
	return domain.Trusted
}

// VerifyCapabilities promotes every safe tool at UNTRUSTED to VERIFIED and
// returns the newly promoted names. Verification is bulk-only; destructive
// tools are untouched.
func (g *Gateway) VerifyCapabilities() []string {
	g.mu.Lock()
	var promoted []string
	for name := range g.safe {
		if g.levels[name] < domain.Verified {
			g.levels[name] = domain.Verified
			promoted = append(promoted, name)
		}
	}
	g.mu.Unlock()

	sort.Strings(promoted)
	for _, name := range promoted {
		g.recordPromotion(name, domain.Verified, "verify_capabilities")
	}
	return promoted
}

// TrustTool promotes a single tool directly to TRUSTED.
func (g *Gateway) TrustTool(name string) error {
	g.mu.Lock()
	if !g.known(name) {
		g.mu.Unlock()
		return domain.NewError(domain.CodeNotFound, "unknown tool: %s", name)
	}
	g.levels[name] = domain.Trusted
	g.mu.Unlock()

	g.recordPromotion(name, domain.Trusted, "trust_tool")
	return nil
}

// TrustAll promotes every known tool to TRUSTED and returns the list.
func (g *Gateway) TrustAll() []string {
	g.mu.Lock()
	for _, name := range g.registry.Names() {
		if _, ok := g.levels[name]; !ok {
			g.levels[name] = domain.Untrusted
		}
	}
	promoted := make([]string, 0, len(g.levels))
	for name := range g.levels {
		g.levels[name] = domain.Trusted
		promoted = append(promoted, name)
	}
	g.mu.Unlock()

	sort.Strings(promoted)
	for _, name := range promoted {
		g.recordPromotion(name, domain.Trusted, "trust_all")
	}
	return promoted
}

// ResetTrust snaps every tool back to UNTRUSTED. Trust never survives a
// reset; callers re-promote from scratch.
func (g *Gateway) ResetTrust() {
	g.mu.Lock()
	for name := range g.levels {
		g.levels[name] = domain.Untrusted
	}
	g.mu.Unlock()

	g.logger.Info("trust reset, all tools untrusted")
	g.logAudit(context.Background(), domain.AuditEntry{
		Action: "trust_reset",
		Level:  domain.Untrusted.String(),
		Result: "reset",
	})
	g.publish(bus.EventTrustReset, map[string]any{})
}

// IsTrusted reports whether the tool is at the TRUSTED tier.
func (g *Gateway) IsTrusted(name string) bool {
	return g.Level(name) == domain.Trusted
}

// Level returns the tool's current tier; unknown names are UNTRUSTED.
func (g *Gateway) Level(name string) domain.TrustLevel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.levels[name]
}

// Call is the gated entry point. The tier check runs strictly before
// delegation: a denial returns a PERMISSION_DENIED envelope and the handler
// is never invoked. Handler failures are data in the returned ToolResult.
func (g *Gateway) Call(ctx context.Context, name string, args map[string]any) (domain.ToolResult, error) {
	g.mu.RLock()
	level := g.levels[name]
	required := g.requiredLevel(name)
	g.mu.RUnlock()

	if level < required {
		err := domain.NewError(domain.CodePermission,
			"tool %s requires %s trust, currently %s", name, required, level)
		g.logger.Warn("gated call denied", "tool", name, "level", level.String(), "required", required.String())
		if g.recorder != nil {
			g.recorder.TrustDenied(name)
		}
		g.logAudit(ctx, domain.AuditEntry{
			Action:   "call_denied",
			ToolName: name,
			Level:    level.String(),
			Result:   "denied",
			Details:  err.Message,
		})
		g.publish(bus.EventTrustDenied, map[string]any{
			"tool":     name,
			"level":    level.String(),
			"required": required.String(),
		})
		return domain.ToolResult{}, err
	}

	res := g.registry.Execute(ctx, domain.ToolCall{Name: name, Arguments: args})
	g.logAudit(ctx, domain.AuditEntry{
		Action:   "tool_exec",
		ToolName: name,
		Level:    level.String(),
		Result:   string(res.Status),
	})
	g.publish(bus.EventToolExecuted, map[string]any{
		"tool":   name,
		"status": string(res.Status),
	})
	return res, nil
}

// Report is a serializable snapshot grouping tool names by tier.
type Report struct {
	ByLevel map[string][]string `json:"by_level"`
}

func (g *Gateway) Report() Report {
	g.mu.RLock()
	defer g.mu.RUnlock()

	report := Report{ByLevel: map[string][]string{
		domain.Untrusted.String(): {},
		domain.Verified.String():  {},
		domain.Trusted.String():   {},
	}}
	seen := make(map[string]bool, len(g.levels))
	for name, level := range g.levels {
		report.ByLevel[level.String()] = append(report.ByLevel[level.String()], name)
		seen[name] = true
	}
	for _, name := range g.registry.Names() {
		if !seen[name] {
			report.ByLevel[domain.Untrusted.String()] = append(report.ByLevel[domain.Untrusted.String()], name)
		}
	}
	for level := range report.ByLevel {
		sort.Strings(report.ByLevel[level])
	}
	return report
}

func (g *Gateway) recordPromotion(name string, level domain.TrustLevel, via string) {
	g.logger.Info("tool promoted", "tool", name, "level", level.String(), "via", via)
	g.logAudit(context.Background(), domain.AuditEntry{
		Action:   "trust_promoted",
		ToolName: name,
		Level:    level.String(),
		Result:   "promoted",
		Details:  via,
	})
	g.publish(bus.EventTrustPromoted, map[string]any{
		"tool":  name,
		"level": level.String(),
		"via":   via,
	})
}

func (g *Gateway) logAudit(ctx context.Context, entry domain.AuditEntry) {
	if g.audit == nil {
		return
	}
	if err := g.audit.LogAudit(ctx, entry); err != nil {
		g.logger.Warn("audit write failed", "action", entry.Action, "err", err)
	}
}

func (g *Gateway) publish(t bus.EventType, payload map[string]any) {
	if g.events == nil {
		return
	}
	if err := g.events.Publish(bus.Event{Type: t, Source: "trust", Payload: payload}); err != nil {
		g.logger.Warn("event publish failed", "type", t, "err", err)
	}
}
