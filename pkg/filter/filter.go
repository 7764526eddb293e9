// Package filter evaluates per-tenant inclusion rules against webhook
// payloads. Filters are comma-separated allow-lists: an empty filter allows
// everything, "*" matches everything, and values are compared after trimming.
package filter

import (
	"log"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/jakedev796/github-notifier/internal"
	"github.com/jakedev796/github-notifier/pkg/storage"
)

const branchRefPrefix = "refs/heads/"

// Engine decides whether an event should produce a notification for a tenant.
type Engine struct {
	logger *log.Logger
}

// New creates a filter engine.
func New(logger *log.Logger) *Engine {
	if logger == nil {
		logger = internal.NewLogger("filter")
	}
	return &Engine{logger: logger}
}

// ShouldNotify applies a tenant's filter config to a decoded payload.
// A nil config allows everything.
func (e *Engine) ShouldNotify(eventType string, payload map[string]interface{}, cfg *storage.FilterRecord) bool {
	if cfg == nil {
		return true
	}

	switch eventType {
	case "push":
		ref, _ := payload["ref"].(string)
		branch := strings.TrimPrefix(ref, branchRefPrefix)
		if !Allowed(cfg.BranchFilter, branch) {
			return false
		}
		pusher, _ := payload["pusher"].(map[string]interface{})
		name, _ := pusher["name"].(string)
		if !Allowed(cfg.AuthorFilter, name) {
			return false
		}
	case "pull_request":
		pr, _ := payload["pull_request"].(map[string]interface{})
		base, _ := pr["base"].(map[string]interface{})
		branch, _ := base["ref"].(string)
		if !Allowed(cfg.BranchFilter, branch) {
			return false
		}
		user, _ := pr["user"].(map[string]interface{})
		login, _ := user["login"].(string)
		if !Allowed(cfg.AuthorFilter, login) {
			return false
		}
		if !labelAllowed(cfg.LabelFilter, labelNames(pr["labels"])) {
			return false
		}
	case "issues":
		issue, _ := payload["issue"].(map[string]interface{})
		if !labelAllowed(cfg.LabelFilter, labelNames(issue["labels"])) {
			return false
		}
		user, _ := issue["user"].(map[string]interface{})
		login, _ := user["login"].(string)
		if !Allowed(cfg.AuthorFilter, login) {
			return false
		}
	}

	return e.ruleAllows(cfg.RuleExpr, payload)
}

// ruleAllows evaluates an optional custom expression against the flattened
// payload. Compile and evaluation failures allow the event; a broken
// expression must not silence a tenant's notifications.
func (e *Engine) ruleAllows(expr string, payload map[string]interface{}) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}
	compiled, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		e.logger.Printf("rule expression compile failed: %v", err)
		return true
	}
	result, err := compiled.Evaluate(internal.Flatten(payload))
	if err != nil {
		e.logger.Printf("rule expression eval failed: %v", err)
		return true
	}
	allowed, ok := result.(bool)
	if !ok {
		e.logger.Printf("rule expression did not yield a boolean: %q", expr)
		return true
	}
	return allowed
}

// Allowed reports whether value appears in the comma-separated allow-list.
// An empty list allows everything; "*" matches everything.
func Allowed(allowList, value string) bool {
	if allowList == "" {
		return true
	}
	for _, entry := range strings.Split(allowList, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "*" || entry == value {
			return true
		}
	}
	return false
}

// labelAllowed reports whether any of the item's labels appears in the
// allow-list. A non-empty, non-wildcard filter rejects items with no labels.
func labelAllowed(allowList string, labels []string) bool {
	if allowList == "" {
		return true
	}
	entries := strings.Split(allowList, ",")
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "*" {
			return true
		}
	}
	if len(labels) == 0 {
		return false
	}
	for _, label := range labels {
		for _, entry := range entries {
			if strings.TrimSpace(entry) == label {
				return true
			}
		}
	}
	return false
}

func labelNames(value interface{}) []string {
	items, ok := value.([]interface{})
	if !ok {
		return nil
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		switch typed := item.(type) {
		case map[string]interface{}:
			if name, ok := typed["name"].(string); ok {
				names = append(names, name)
			}
		case string:
			names = append(names, typed)
		}
	}
	return names
}
