package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/queuebot/queuebot/modbot/classifier"
	"github.com/queuebot/queuebot/modbot/recent"
	"github.com/queuebot/queuebot/modbot/setstore"
	"github.com/queuebot/queuebot/platform"
)

// capacity of the recently-notified and recently-overlapping caches
const recentCapacity = 50

type QueueCounts struct {
	Unmod        int
	UnmodHours   int
	Modqueue     int
	Modmail      int
	ModmailHours int
}

// Runtime state for one moderated community. Cycle fields are reset at the start of every polling cycle; alert state and caches live for the whole process.
type Community struct {
	Name       string
	Config     CommunityConfig
	Logger     *slog.Logger
	Classifier *classifier.Classifier
	// keyed by lower-case token
	CommentRules     map[string]CommentRule
	ReapproveReasons map[string]bool
	Thresholds       map[Metric]Threshold
	// overrides the engine notifier when set
	Notifier Notifier

	// per-cycle
	Counts      QueueCounts
	NewLog      []platform.LogEntry
	queue       []platform.QueueItem
	queueLoaded bool
	modmail     map[platform.ConversationState][]platform.Conversation

	// per-process
	LastAlert        time.Time
	HasAlerted       bool
	Notified         *recent.Set[string]
	Overlaps         *recent.Set[string]
	ProcessedModmail map[string]time.Time
	PostChecked      time.Time
}

// Compiles a community configuration. Unknown classifier fields, threshold metrics, and comment rule kinds are errors.
func NewCommunity(cfg CommunityConfig, sets *setstore.MemSetStore, logger *slog.Logger) (*Community, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := MigrateLegacyCommentRules(&cfg); err != nil {
		return nil, err
	}
	rules, err := classifier.Compile(cfg.WarningRules)
	if err != nil {
		return nil, fmt.Errorf("community %s: %w", cfg.Name, err)
	}
	thresholds, err := cfg.validateThresholds()
	if err != nil {
		return nil, fmt.Errorf("community %s: %w", cfg.Name, err)
	}
	commentRules, err := cfg.commentRules()
	if err != nil {
		return nil, fmt.Errorf("community %s: %w", cfg.Name, err)
	}
	if r := cfg.Restriction; r != nil {
		switch r.Action {
		case "":
			r.Action = RestrictRemove
		case RestrictRemove, RestrictReport:
		default:
			return nil, fmt.Errorf("community %s: unknown restriction action %q", cfg.Name, r.Action)
		}
		if r.LiveScoreBar == 0 {
			r.LiveScoreBar = DefaultLiveScoreBar
		}
	}

	known := sets.Map(setstore.SetKnownLogTypes)
	for _, t := range cfg.KnownLogTypes {
		known[t] = true
	}
	mods := make(map[string]bool, len(cfg.Moderators))
	for name := range cfg.Moderators {
		mods[name] = true
	}
	reapprove := make(map[string]bool, len(cfg.ReapproveReasons))
	for _, r := range cfg.ReapproveReasons {
		reapprove[r] = true
	}

	notified, err := recent.NewSet[string](recentCapacity)
	if err != nil {
		return nil, err
	}
	overlaps, err := recent.NewSet[string](recentCapacity)
	if err != nil {
		return nil, err
	}

	c := &Community{
		Name:   cfg.Name,
		Config: cfg,
		Logger: logger.With("community", cfg.Name),
		Classifier: &classifier.Classifier{
			Community:    cfg.Name,
			Moderators:   mods,
			KnownActions: known,
			Rules:        rules,
		},
		CommentRules:     commentRules,
		ReapproveReasons: reapprove,
		Thresholds:       thresholds,
		Notified:         notified,
		Overlaps:         overlaps,
		ProcessedModmail: make(map[string]time.Time),
	}
	return c, nil
}

func (c *Community) ResetCycle() {
	c.Counts = QueueCounts{}
	c.NewLog = nil
	c.queue = nil
	c.queueLoaded = false
	c.modmail = nil
}

// How a moderator is referred to in notifications: a mention when a numeric chat id is configured, otherwise the name.
func (c *Community) DisplayName(mod string) string {
	handle := c.Config.Moderators[mod]
	if handle != "" && strings.Trim(handle, "0123456789") == "" {
		return fmt.Sprintf("<@%s>", handle)
	}
	return mod
}

func (c *Community) removalHeader() string {
	if c.Config.RemovalHeader != "" {
		return fmtCommunity(c.Config.RemovalHeader, c.Name)
	}
	return fmt.Sprintf(defaultRemovalHeader, c.Name)
}

func (c *Community) removalFooter() string {
	if c.Config.RemovalFooter != "" {
		return fmtCommunity(c.Config.RemovalFooter, c.Name)
	}
	return fmt.Sprintf(defaultRemovalFooter, c.Name, c.Name)
}

func (c *Community) noticeText() string {
	if c.Config.Restriction != nil && c.Config.Restriction.NoticeText != "" {
		return fmtCommunity(c.Config.Restriction.NoticeText, c.Name)
	}
	return fmt.Sprintf(defaultNoticeText, c.Name)
}

// operator templates may use {community} as a placeholder
func fmtCommunity(tmpl, name string) string {
	return strings.ReplaceAll(tmpl, "{community}", name)
}

// Fetches the moderation queue once per cycle
func (eng *Engine) modQueue(ctx context.Context, c *Community) ([]platform.QueueItem, error) {
	if c.queueLoaded {
		return c.queue, nil
	}
	items, err := eng.Platform.ModQueue(ctx, c.Name)
	if err != nil {
		return nil, fmt.Errorf("fetching modqueue: %w", err)
	}
	c.queue = items
	c.queueLoaded = true
	return items, nil
}

// Fetches conversations in the given state once per cycle
func (eng *Engine) conversations(ctx context.Context, c *Community, state platform.ConversationState) ([]platform.Conversation, error) {
	if convs, ok := c.modmail[state]; ok {
		return convs, nil
	}
	convs, err := eng.Platform.Conversations(ctx, c.Name, state)
	if err != nil {
		return nil, fmt.Errorf("fetching %s modmail: %w", state, err)
	}
	if c.modmail == nil {
		c.modmail = make(map[platform.ConversationState][]platform.Conversation)
	}
	c.modmail[state] = convs
	return convs, nil
}

// Drops a conversation from the cycle's cached listings, after it has been archived
func (c *Community) forgetConversation(id string) {
	for state, convs := range c.modmail {
		kept := make([]platform.Conversation, 0, len(convs))
		for _, conv := range convs {
			if conv.ID != id {
				kept = append(kept, conv)
			}
		}
		c.modmail[state] = kept
	}
}
