package engine

import (
	"fmt"
	"time"

	"fleetalert/internal/domain"
	"fleetalert/internal/rules"
)

// EscalationDecision is one escalation evaluation result.
// Params: escalate flag, target severity, and audit reason.
// Returns: deterministic decision applied by the orchestrator.
type EscalationDecision struct {
	Escalate    bool
	NewSeverity domain.AlertSeverity
	Reason      string
}

// AutoCloseDecision is one auto-close evaluation result.
// Params: close flag and audit reason.
// Returns: deterministic decision applied by the orchestrator.
type AutoCloseDecision struct {
	Close  bool
	Reason string
}

// noEscalation builds a negative escalation decision.
// Params: audit reason.
// Returns: decision with Escalate=false.
func noEscalation(reason string) EscalationDecision {
	return EscalationDecision{Reason: reason}
}

// noClose builds a negative auto-close decision.
// Params: audit reason.
// Returns: decision with Close=false.
func noClose(reason string) AutoCloseDecision {
	return AutoCloseDecision{Reason: reason}
}

// EvaluateEscalation decides whether a burst of same-type same-driver alerts
// crosses the configured escalation threshold. The decision depends only on
// candidate timestamps, never on list order.
// Params: rule snapshot, alert type, candidate set, and evaluation time.
// Returns: escalation decision with an auditable reason.
func EvaluateEscalation(set *rules.Set, alertType domain.AlertType, candidates []domain.Alert, now time.Time) EscalationDecision {
	rule, ok := set.ForType(alertType)
	if !ok {
		return noEscalation("No rule configured")
	}
	if !rule.Enabled {
		return noEscalation("Rule is disabled")
	}
	if rule.EscalateIfCount <= 0 {
		return noEscalation("No escalation threshold configured")
	}

	windowMinutes := rule.EscalationWindowMinutes()
	windowStart := now.Add(-time.Duration(windowMinutes) * time.Minute)

	inWindow := make([]domain.Alert, 0, len(candidates))
	for _, candidate := range candidates {
		if !candidate.Timestamp.Before(windowStart) {
			inWindow = append(inWindow, candidate)
		}
	}

	count := len(inWindow)
	if count < rule.EscalateIfCount {
		return noEscalation(fmt.Sprintf("Count %d below threshold %d", count, rule.EscalateIfCount))
	}
	if count == 0 {
		return noEscalation("No alerts in window")
	}

	oldest, newest := timestampBounds(inWindow)
	spanMinutes := int64(newest.Sub(oldest) / time.Minute)

	if spanMinutes <= int64(windowMinutes) {
		reason := fmt.Sprintf(
			"%d occurrences of %s within %d minutes (threshold: %d in %d minutes)",
			count, alertType, spanMinutes, rule.EscalateIfCount, windowMinutes,
		)
		return EscalationDecision{Escalate: true, NewSeverity: rule.EscalationSeverity, Reason: reason}
	}

	return noEscalation("Conditions not met")
}

// EvaluateAutoClose decides whether one alert qualifies for system closure.
// The condition path is checked first and short-circuits; the time path
// requires the window to have elapsed with no strictly newer candidate.
// Params: rule snapshot, alert under evaluation, candidate set, and evaluation time.
// Returns: auto-close decision with an auditable reason.
func EvaluateAutoClose(set *rules.Set, alert domain.Alert, candidates []domain.Alert, now time.Time) AutoCloseDecision {
	rule, ok := set.ForType(alert.AlertType)
	if !ok {
		return noClose("No rule configured")
	}
	if !rule.Enabled {
		return noClose("Rule is disabled")
	}

	if rule.AutoCloseIf != "" && rule.MatchesCondition(alert.Condition()) {
		return AutoCloseDecision{Close: true, Reason: fmt.Sprintf("Condition met: %s", rule.AutoCloseIf)}
	}

	if rule.AutoCloseIfNoRepeat {
		windowMinutes := rule.AutoCloseWindow()
		elapsed := now.Sub(alert.Timestamp)
		if elapsed < time.Duration(windowMinutes)*time.Minute {
			return noClose("Auto-close window still open")
		}
		if hasRepeat(alert, candidates, now) {
			return noClose("Repeat alert found in window")
		}
		return AutoCloseDecision{Close: true, Reason: fmt.Sprintf("No repeat within %d minutes (window expired)", windowMinutes)}
	}

	return noClose("Conditions not met")
}

// hasRepeat reports whether any candidate occurred strictly between the
// alert's own timestamp and now.
// Params: anchor alert, candidate set, and evaluation time.
// Returns: true when a newer sibling exists.
func hasRepeat(alert domain.Alert, candidates []domain.Alert, now time.Time) bool {
	for _, candidate := range candidates {
		if candidate.AlertID == alert.AlertID {
			continue
		}
		if candidate.Timestamp.After(alert.Timestamp) && candidate.Timestamp.Before(now) {
			return true
		}
	}
	return false
}

// timestampBounds finds the oldest and newest candidate timestamps.
// Params: non-empty candidate list.
// Returns: min and max timestamps regardless of list order.
func timestampBounds(candidates []domain.Alert) (time.Time, time.Time) {
	oldest := candidates[0].Timestamp
	newest := candidates[0].Timestamp
	for _, candidate := range candidates[1:] {
		if candidate.Timestamp.Before(oldest) {
			oldest = candidate.Timestamp
		}
		if candidate.Timestamp.After(newest) {
			newest = candidate.Timestamp
		}
	}
	return oldest, newest
}
