package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"fleetalert/internal/domain"
)

// ruleDocument mirrors the persisted rule-config shape.
// Params: top-level object with one rules array.
// Returns: raw entries decoded one by one so a bad entry is skippable.
type ruleDocument struct {
	Rules []json.RawMessage `json:"rules"`
}

// ruleRecord mirrors one persisted rule entry before validation.
// Params: optional fields with pointer defaults for enabled.
// Returns: intermediate record normalized into EscalationRule.
type ruleRecord struct {
	AlertType              string `json:"alertType"`
	EscalateIfCount        int    `json:"escalateIfCount"`
	WindowMinutes          int    `json:"windowMinutes"`
	EscalationSeverity     string `json:"escalationSeverity"`
	AutoCloseIfNoRepeat    bool   `json:"autoCloseIfNoRepeat"`
	AutoCloseIf            string `json:"autoCloseIf"`
	AutoCloseWindowMinutes int    `json:"autoCloseWindowMinutes"`
	Enabled                *bool  `json:"enabled"`
	Priority               int    `json:"priority"`
}

// Load reads the rule snapshot from one JSON resource.
// A missing or unreadable resource is fatal; malformed individual entries
// are skipped with a warning.
// Params: rule file path and logger for skip warnings.
// Returns: immutable rule set or load error.
func Load(path string, logger *slog.Logger) (*Set, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %q: %w", path, err)
	}

	var document ruleDocument
	if err := json.Unmarshal(body, &document); err != nil {
		return nil, fmt.Errorf("decode rules file %q: %w", path, err)
	}

	loaded := make([]EscalationRule, 0, len(document.Rules))
	for index, raw := range document.Rules {
		rule, err := parseRule(raw)
		if err != nil {
			logger.Warn("skipping malformed rule entry", "index", index, "error", err.Error())
			continue
		}
		loaded = append(loaded, rule)
	}

	logger.Info("rules loaded", "path", path, "rules", len(loaded))
	return NewSet(loaded), nil
}

// parseRule normalizes one raw rule entry.
// Params: raw JSON entry from the rules array.
// Returns: validated rule or per-entry error.
func parseRule(raw json.RawMessage) (EscalationRule, error) {
	var record ruleRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return EscalationRule{}, err
	}

	alertType, err := domain.ParseAlertType(record.AlertType)
	if err != nil {
		return EscalationRule{}, err
	}

	severity := domain.SeverityWarning
	if record.EscalationSeverity != "" {
		severity, err = domain.ParseSeverity(record.EscalationSeverity)
		if err != nil {
			return EscalationRule{}, err
		}
	}

	enabled := true
	if record.Enabled != nil {
		enabled = *record.Enabled
	}

	return EscalationRule{
		AlertType:              alertType,
		EscalateIfCount:        record.EscalateIfCount,
		WindowMinutes:          record.WindowMinutes,
		EscalationSeverity:     severity,
		AutoCloseIfNoRepeat:    record.AutoCloseIfNoRepeat,
		AutoCloseIf:            record.AutoCloseIf,
		AutoCloseWindowMinutes: record.AutoCloseWindowMinutes,
		Enabled:                enabled,
		Priority:               record.Priority,
	}, nil
}
