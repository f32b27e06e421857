package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/queuebot/queuebot/modbot/bantier"
	"github.com/queuebot/queuebot/modbot/classifier"
)

type RuleKind string

const (
	// ban (or warn) using the escalation ladder, or an explicit length from the report
	RuleEscalate RuleKind = "escalate"
	// always a warning, never a ban
	RuleWarn RuleKind = "warn"
	// remove the comment thread, no action against the author
	RuleRemove RuleKind = "remove"
)

// Moderator report rule for comments, matched on the first token of the report text.
type CommentRule struct {
	Token       string         `json:"token"`
	Kind        RuleKind       `json:"kind"`
	Description string         `json:"description"`
	Ladder      bantier.Ladder `json:"ladder,omitempty"`
	// optional text for the warning or ban message
	Message string `json:"message,omitempty"`
}

// Older comment rule format: a map from token to description, always escalating.
type LegacyCommentRule struct {
	Description string `json:"description"`
	WarnOnly    bool   `json:"warn_only,omitempty"`
}

// Removal reason for posts, keyed by exact moderator report text
type RemovalReason struct {
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

type Threshold struct {
	Track bool `json:"track"`
	Post  *int `json:"post,omitempty"`
	Ping  *int `json:"ping,omitempty"`
}

func (t Threshold) Tracked() bool {
	return t.Track || t.Post != nil || t.Ping != nil
}

type RestrictionAction string

const (
	RestrictRemove RestrictionAction = "remove"
	RestrictReport RestrictionAction = "report"
)

const DefaultLiveScoreBar = 10

// Enhanced moderation for threads with selected flairs: comments from authors without enough history in the community are removed or reported.
type Restriction struct {
	Flairs             []string `json:"flairs"`
	WindowDays         int      `json:"comment_days"`
	MinItems           int      `json:"comments"`
	MinKarma           int      `json:"karma"`
	MinAccountAgeDays  int      `json:"account_age_days,omitempty"`
	IncludeSubmissions bool     `json:"include_submissions,omitempty"`
	// comments scoring at or above this are left alone; defaults to DefaultLiveScoreBar, negative disables the live check
	LiveScoreBar int               `json:"live_score_bar,omitempty"`
	Action       RestrictionAction `json:"action,omitempty"`
	NoticeText   string            `json:"notice_text,omitempty"`
}

func (r *Restriction) FlairRestricted(flair string) bool {
	for _, f := range r.Flairs {
		if f == flair {
			return true
		}
	}
	return false
}

// Keeps the sidebar link to a recurring megathread up to date
type Megathread struct {
	Author        string `json:"author"`
	TitleContains string `json:"title_contains"`
	WikiPage      string `json:"wiki_page"`
	LinkText      string `json:"link_text"`
}

type ChatPostPolicy struct {
	AllowedAuthors []string `json:"allowed_authors"`
	Reply          string   `json:"reply"`
}

type CommunityConfig struct {
	Name string `json:"name"`
	// moderator name to notification handle (eg, a chat user id); the handle may be empty
	Moderators    map[string]string                `json:"moderators"`
	KnownLogTypes []string                         `json:"known_log_types,omitempty"`
	WarningRules  map[string]classifier.RuleConfig `json:"warning_log_types,omitempty"`

	ReapproveReasons   []string                     `json:"reapprove_reasons,omitempty"`
	RemovalReasons     map[string]RemovalReason     `json:"report_reasons,omitempty"`
	RemovalHeader      string                       `json:"removal_header,omitempty"`
	RemovalFooter      string                       `json:"removal_footer,omitempty"`
	CommentRules       []CommentRule                `json:"comment_rules,omitempty"`
	LegacyCommentRules map[string]LegacyCommentRule `json:"comment_report_reasons,omitempty"`

	Thresholds map[string]Threshold `json:"thresholds,omitempty"`
	// tracked count metrics at or below this count as a cleared queue
	ClearAt int `json:"clear_at,omitempty"`

	Restriction *Restriction `json:"restricted,omitempty"`

	ModmailAlerts         bool            `json:"modmail_alerts,omitempty"`
	ArchiveAutomodMail    bool            `json:"archive_automod_modmail,omitempty"`
	NotifyUnflaired       bool            `json:"notify_unflaired,omitempty"`
	Megathread            *Megathread     `json:"megathread,omitempty"`
	ChatPosts             *ChatPostPolicy `json:"chat_posts,omitempty"`
	WebhookURL            string          `json:"webhook_url,omitempty"`
	UseBackupForUsernotes bool            `json:"use_backup_for_usernotes,omitempty"`
}

const (
	defaultRemovalHeader = "Hi, thanks for your submission to r/%s. Unfortunately it has been removed for the following reason:"
	defaultRemovalFooter = "If you have questions about this removal, please [message the moderators of r/%s](https://www.reddit.com/message/compose?to=/r/%s)."
	defaultNoticeText    = "Due to the topic, enhanced moderation has been turned on for this thread. Comments from users new to r/%s will be automatically removed."
)

// Reads a JSON array of community configurations
func LoadCommunityConfigs(path string) ([]CommunityConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCommunityConfigs(raw)
}

func ParseCommunityConfigs(raw []byte) ([]CommunityConfig, error) {
	var out []CommunityConfig
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parsing community config: %w", err)
	}
	for i := range out {
		if out[i].Name == "" {
			return nil, fmt.Errorf("community config %d: missing name", i)
		}
		if err := MigrateLegacyCommentRules(&out[i]); err != nil {
			return nil, fmt.Errorf("community %s: %w", out[i].Name, err)
		}
	}
	return out, nil
}

// Converts the legacy token-to-description comment rule map in to CommentRules. Tokens defined in both forms are an error.
func MigrateLegacyCommentRules(cfg *CommunityConfig) error {
	if len(cfg.LegacyCommentRules) == 0 {
		return nil
	}
	existing := make(map[string]bool, len(cfg.CommentRules))
	for _, r := range cfg.CommentRules {
		existing[strings.ToLower(r.Token)] = true
	}
	tokens := make([]string, 0, len(cfg.LegacyCommentRules))
	for token := range cfg.LegacyCommentRules {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	for _, token := range tokens {
		if existing[strings.ToLower(token)] {
			return fmt.Errorf("comment rule %q defined in both comment_rules and comment_report_reasons", token)
		}
		legacy := cfg.LegacyCommentRules[token]
		kind := RuleEscalate
		if legacy.WarnOnly {
			kind = RuleWarn
		}
		cfg.CommentRules = append(cfg.CommentRules, CommentRule{
			Token:       token,
			Kind:        kind,
			Description: legacy.Description,
		})
	}
	cfg.LegacyCommentRules = nil
	return nil
}

func (cfg *CommunityConfig) validateThresholds() (map[Metric]Threshold, error) {
	out := make(map[Metric]Threshold, len(cfg.Thresholds))
	for name, th := range cfg.Thresholds {
		m, err := ParseMetric(name)
		if err != nil {
			return nil, err
		}
		out[m] = th
	}
	return out, nil
}

func (cfg *CommunityConfig) commentRules() (map[string]CommentRule, error) {
	out := make(map[string]CommentRule, len(cfg.CommentRules))
	for _, r := range cfg.CommentRules {
		switch r.Kind {
		case RuleEscalate, RuleWarn, RuleRemove:
		case "":
			r.Kind = RuleEscalate
		default:
			return nil, fmt.Errorf("comment rule %q: unknown kind %q", r.Token, r.Kind)
		}
		if r.Token == "" {
			return nil, fmt.Errorf("comment rule with empty token")
		}
		if r.Kind == RuleEscalate && len(r.Ladder) == 0 {
			r.Ladder = bantier.DefaultLadder
		}
		out[strings.ToLower(r.Token)] = r
	}
	return out, nil
}
