package rules

import (
	"strings"
	"sync/atomic"

	"fleetalert/internal/domain"
)

const (
	defaultEscalationWindowMinutes = 60
	defaultAutoCloseWindowMinutes  = 120
)

// EscalationRule is one per-alert-type lifecycle rule.
// Params: escalation thresholds and auto-close criteria from the rule file.
// Returns: declarative rule consumed by the engine.
type EscalationRule struct {
	AlertType domain.AlertType

	EscalateIfCount    int
	WindowMinutes      int
	EscalationSeverity domain.AlertSeverity

	AutoCloseIfNoRepeat    bool
	AutoCloseIf            string
	AutoCloseWindowMinutes int

	Enabled  bool
	Priority int
}

// EscalationWindowMinutes returns the escalation window with its default.
// Params: none.
// Returns: configured window or 60 minutes.
func (r EscalationRule) EscalationWindowMinutes() int {
	if r.WindowMinutes > 0 {
		return r.WindowMinutes
	}
	return defaultEscalationWindowMinutes
}

// AutoCloseWindow returns the auto-close window with its default.
// Params: none.
// Returns: configured window or 120 minutes.
func (r EscalationRule) AutoCloseWindow() int {
	if r.AutoCloseWindowMinutes > 0 {
		return r.AutoCloseWindowMinutes
	}
	return defaultAutoCloseWindowMinutes
}

// MatchesCondition checks the condition token case-insensitively.
// Params: condition value from alert metadata.
// Returns: true when the rule's autoCloseIf matches.
func (r EscalationRule) MatchesCondition(condition string) bool {
	if r.AutoCloseIf == "" || condition == "" {
		return false
	}
	return strings.EqualFold(r.AutoCloseIf, condition)
}

// Set is one immutable rule snapshot keyed by alert type.
// Params: rules indexed at build time, first match per type wins.
// Returns: lookup table shared by concurrent evaluations.
type Set struct {
	byType map[domain.AlertType]EscalationRule
	count  int
}

// NewSet indexes a loaded rule list into a snapshot.
// Duplicate alert types keep the first entry.
// Params: parsed rule list in file order.
// Returns: immutable snapshot.
func NewSet(list []EscalationRule) *Set {
	byType := make(map[domain.AlertType]EscalationRule, len(list))
	for _, rule := range list {
		if _, exists := byType[rule.AlertType]; exists {
			continue
		}
		byType[rule.AlertType] = rule
	}
	return &Set{byType: byType, count: len(byType)}
}

// ForType looks up the rule configured for one alert type.
// Params: alert type key.
// Returns: rule and true, or zero rule and false when none is configured.
func (s *Set) ForType(alertType domain.AlertType) (EscalationRule, bool) {
	rule, ok := s.byType[alertType]
	return rule, ok
}

// Len returns the number of distinct rules in the snapshot.
// Params: none.
// Returns: rule count.
func (s *Set) Len() int {
	return s.count
}

// Provider hands out the current rule snapshot and swaps it atomically
// on reload, so readers mid-evaluation never observe a partial set.
// Params: atomically replaceable snapshot pointer.
// Returns: shared rule access for engine and manager.
type Provider struct {
	current atomic.Pointer[Set]
}

// NewProvider creates a provider seeded with an initial snapshot.
// Params: initial rule set.
// Returns: provider ready for concurrent reads.
func NewProvider(initial *Set) *Provider {
	provider := &Provider{}
	provider.current.Store(initial)
	return provider
}

// Snapshot returns the current rule set.
// Params: none.
// Returns: immutable snapshot valid for the whole evaluation call.
func (p *Provider) Snapshot() *Set {
	return p.current.Load()
}

// Replace swaps in a freshly built snapshot in one step.
// Params: replacement rule set.
// Returns: none.
func (p *Provider) Replace(next *Set) {
	p.current.Store(next)
}
