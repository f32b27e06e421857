// Decides whether a single moderation log entry should raise an operator warning.
//
// Rules are configured per action kind as an ordered list of field/value matches:
//
//	"value"   field must equal value
//	"!"       field must be absent (empty)
//	"!value"  field is expected to equal value; any other value raises
//	"~value"  field must contain value
//
// All matches of a rule must hold for it to fire; the first failed match ends evaluation with no warning. The code of the last evaluated match is reported.
package classifier

import (
	"fmt"
	"strings"

	"github.com/queuebot/queuebot/platform"
)

const (
	CodeUnknownModerator = "1"
	CodeUnknownAction    = "2"
	CodeExactMatch       = "3"
	CodeUnexpectedValue  = "4"
	CodeExpectedAbsent   = "5"
	CodeContains         = "6"
)

// actions where the target is worth surfacing when the moderator is unknown
var sensitiveActions = map[string]bool{
	"removelink":    true,
	"removecomment": true,
	"spamlink":      true,
	"spamcomment":   true,
	"marknsfw":      true,
}

type FieldMatch struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type RuleConfig struct {
	Match []FieldMatch `json:"match"`
	// field names surfaced in the warning text
	Print []string `json:"print,omitempty"`
}

type matcher struct {
	field Field
	value string
}

type rule struct {
	matches []matcher
	print   []Field
}

// Compiled rule table, keyed by action kind
type Rules map[string]rule

// Resolves field names in the rule configuration. Unknown field names are an error.
func Compile(cfg map[string]RuleConfig) (Rules, error) {
	out := make(Rules, len(cfg))
	for action, rc := range cfg {
		var r rule
		for _, m := range rc.Match {
			f, err := ParseField(m.Field)
			if err != nil {
				return nil, fmt.Errorf("warning rule for %q: %w", action, err)
			}
			r.matches = append(r.matches, matcher{field: f, value: m.Value})
		}
		for _, name := range rc.Print {
			f, err := ParseField(name)
			if err != nil {
				return nil, fmt.Errorf("warning rule for %q print: %w", action, err)
			}
			r.print = append(r.print, f)
		}
		out[action] = r
	}
	return out, nil
}

type Finding struct {
	Code    string
	Message string
}

type Classifier struct {
	Community    string
	Moderators   map[string]bool
	KnownActions map[string]bool
	Rules        Rules
}

// Returns nil when the entry is unremarkable. Exactly one of the unknown moderator, configured rule, or unknown action paths applies to an entry, in that order of precedence.
func (c *Classifier) Classify(entry *platform.LogEntry) *Finding {
	var code string
	var items []string

	if !c.Moderators[entry.Moderator] {
		code = CodeUnknownModerator
		if sensitiveActions[entry.Action] {
			items = append(items, entry.TargetAuthor, entry.TargetPermalink)
		}
	} else if r, ok := c.Rules[entry.Action]; ok {
		code = r.evaluate(entry)
		for _, f := range r.print {
			items = append(items, f.Get(entry))
		}
	} else if !c.KnownActions[entry.Action] {
		code = CodeUnknownAction
	}

	if code == "" {
		return nil
	}
	msg := fmt.Sprintf("r/%s: %s:Mod action by u/%s: %s", c.Community, code, entry.Moderator, entry.Action)
	if len(items) > 0 {
		msg += " " + strings.Join(items, " ")
	}
	return &Finding{Code: code, Message: msg}
}

func (r *rule) evaluate(entry *platform.LogEntry) string {
	code := ""
	for _, m := range r.matches {
		actual := m.field.Get(entry)
		switch {
		case m.value == "!":
			if actual != "" {
				return ""
			}
			code = CodeExpectedAbsent
		case strings.HasPrefix(m.value, "!"):
			if actual == m.value[1:] {
				return ""
			}
			code = CodeUnexpectedValue
		case strings.HasPrefix(m.value, "~"):
			if actual == "" || !strings.Contains(actual, m.value[1:]) {
				return ""
			}
			code = CodeContains
		default:
			if actual != m.value {
				return ""
			}
			code = CodeExactMatch
		}
	}
	return code
}
