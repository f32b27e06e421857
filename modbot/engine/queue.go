package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rivo/uniseg"

	"github.com/queuebot/queuebot/modbot/bantier"
	"github.com/queuebot/queuebot/modbot/countstore"
	"github.com/queuebot/queuebot/modbot/usernotes"
	"github.com/queuebot/queuebot/platform"
)

// queue items older than this are removed unconditionally
const maxQueueAge = 180 * 24 * time.Hour

// platform limit on ban reason length
const maxBanReason = 100

// Shortens s to at most max characters, without splitting grapheme clusters (eg, emoji with modifiers)
func truncateText(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	var b strings.Builder
	n := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		runes := gr.Runes()
		if n+len(runes) > max {
			break
		}
		n += len(runes)
		b.WriteString(gr.Str())
	}
	return b.String()
}

// Splits a moderator report of the form "<token> [w|p|days] [note...]". The flag is nil when the second word is not a ban length, in which case it is part of the note.
func ParseModReport(s string) (token string, days *int, note string) {
	words := strings.Fields(s)
	if len(words) == 0 {
		return "", nil, ""
	}
	token = strings.ToLower(words[0])
	rest := words[1:]
	if len(rest) > 0 {
		var d int
		ok := true
		switch strings.ToLower(rest[0]) {
		case "w":
			d = bantier.WarnOnly
		case "p":
			d = bantier.Permanent
		default:
			n, err := strconv.Atoi(rest[0])
			if err != nil || n < 0 {
				ok = false
			}
			d = n
		}
		if ok {
			days = &d
			rest = rest[1:]
		}
	}
	return token, days, strings.Join(rest, " ")
}

// Processes the community's moderation queue. Items that get handled are dropped from the cycle's queue snapshot; everything else stays pending and is looked at again next cycle.
func (eng *Engine) ProcessQueue(ctx context.Context, c *Community) error {
	items, err := eng.modQueue(ctx, c)
	if err != nil {
		return err
	}
	retained := make([]platform.QueueItem, 0, len(items))
	for i := range items {
		item := &items[i]
		done, err := eng.processQueueItem(ctx, c, item)
		if err != nil {
			ProcessError(c.Logger.With("item", item.Fullname), "processing queue item", err)
		}
		if !done {
			retained = append(retained, *item)
		}
	}
	c.queue = retained
	return nil
}

func (eng *Engine) processQueueItem(ctx context.Context, c *Community, item *platform.QueueItem) (bool, error) {
	logger := c.Logger.With("item", item.Fullname)

	if item.Approved && c.reapprovable(item) {
		logger.Info("reapproving item")
		err := eng.mutate(c, "approve", item.Fullname, func() error {
			return eng.Platform.Approve(ctx, item.Fullname)
		})
		if err != nil {
			return false, fmt.Errorf("reapproving: %w", err)
		}
		eng.Metrics.QueueActions.WithLabelValues(c.Name, "reapprove").Inc()
		return true, nil
	}

	if !item.Created.IsZero() && eng.now().Sub(item.Created) > maxQueueAge {
		logger.Info("removing stale queue item", "created", item.Created)
		err := eng.mutate(c, "remove", item.Fullname, func() error {
			return eng.Platform.Remove(ctx, item.Fullname, "")
		})
		if err != nil {
			return false, fmt.Errorf("removing stale item: %w", err)
		}
		eng.Metrics.QueueActions.WithLabelValues(c.Name, "age_remove").Inc()
		return true, nil
	}

	if item.IsComment() {
		for _, r := range item.ModReports {
			token, days, note := ParseModReport(r.Reason)
			rule, ok := c.CommentRules[token]
			if !ok {
				continue
			}
			return eng.applyCommentRule(ctx, c, item, rule, r.Moderator, days, note)
		}
	}

	if item.IsSubmission() && len(c.Config.RemovalReasons) > 0 {
		for _, r := range item.ModReports {
			reason, ok := c.Config.RemovalReasons[r.Reason]
			if !ok {
				continue
			}
			return eng.applyRemovalReason(ctx, c, item, reason, r.Moderator)
		}
	}
	return false, nil
}

// An item is reapprovable when each of its reports is on the community's allow-list. With no allow-list configured, every approved item is.
func (c *Community) reapprovable(item *platform.QueueItem) bool {
	if len(c.ReapproveReasons) == 0 {
		return true
	}
	for _, r := range item.UserReports {
		if !c.ReapproveReasons[r.Reason] {
			return false
		}
	}
	for _, r := range item.ModReports {
		if !c.ReapproveReasons[r.Reason] {
			return false
		}
	}
	return true
}

func (eng *Engine) applyCommentRule(ctx context.Context, c *Community, item *platform.QueueItem, rule CommentRule, mod string, flag *int, note string) (bool, error) {
	logger := c.Logger.With("item", item.Fullname, "rule", rule.Token, "mod", mod)
	hasAuthor := item.Author != "" && item.Author != platform.DeletedName

	if rule.Kind != RuleRemove && hasAuthor {
		days, err := eng.commentRuleDays(ctx, c, item.Author, rule, flag)
		if err != nil {
			return false, err
		}
		if days == bantier.WarnOnly {
			if err := eng.warnUser(ctx, c, item, rule, mod); err != nil {
				return false, err
			}
		} else {
			ok, err := eng.quotaAvailable(ctx, c, "ban", QuotaBansDay, countstore.PeriodDay)
			if err != nil || !ok {
				return false, err
			}
			if err := eng.banUser(ctx, c, item, rule, mod, days, note); err != nil {
				return false, err
			}
			if err := eng.spendQuota(ctx, c, "ban"); err != nil {
				ProcessError(logger, "recording ban quota", err)
			}
		}
		if err := eng.AddUsernote(ctx, c, item.Author, ruleNote(rule, mod, days, item.Permalink, eng.now())); err != nil {
			ProcessError(logger, "adding usernote", err)
		}
	} else if rule.Kind != RuleRemove {
		logger.Info("comment author missing, removing without user action")
	}

	count, err := eng.removeTree(ctx, c, item.Fullname, item.Removed)
	if err != nil {
		// the user action already happened, so the item is done either way
		ProcessError(logger, "removing comment thread", err)
	}
	if count > 1 {
		logger.Info("recursively removed comments", "count", count)
	}
	eng.Metrics.QueueActions.WithLabelValues(c.Name, "remove_thread").Inc()
	return true, nil
}

// Ban length for a comment rule: explicit flag from the report, otherwise the next tier after the user's most recent warning or ban.
func (eng *Engine) commentRuleDays(ctx context.Context, c *Community, author string, rule CommentRule, flag *int) (int, error) {
	if rule.Kind == RuleWarn {
		return bantier.WarnOnly, nil
	}
	if flag != nil {
		return *flag, nil
	}
	notes, err := eng.LoadUsernotes(ctx, c)
	if err != nil {
		return 0, fmt.Errorf("loading usernotes: %w", err)
	}
	prior, stale := bantier.PriorFromNotes(notes.Notes(author), eng.now())
	return bantier.Resolve(rule.Ladder, prior, stale), nil
}

func (eng *Engine) warnUser(ctx context.Context, c *Community, item *platform.QueueItem, rule CommentRule, mod string) error {
	subject := fmt.Sprintf("Warning from r/%s", c.Name)
	body := rule.Message
	if body == "" {
		body = fmt.Sprintf("Your [comment](https://www.reddit.com%s) was removed for: %s\n\nFurther violations may result in a ban.", item.Permalink, rule.Description)
	}
	c.Logger.Info("warning user", "user", item.Author, "rule", rule.Token, "mod", mod)
	err := eng.mutate(c, "message", item.Author, func() error {
		return eng.Platform.Message(ctx, item.Author, subject, body, c.Name)
	})
	if err != nil {
		return fmt.Errorf("sending warning to %s: %w", item.Author, err)
	}
	eng.Metrics.QueueActions.WithLabelValues(c.Name, "warn").Inc()
	eng.archiveOutgoing(ctx, c, item.Author)
	return nil
}

// Warnings sent from the community show up in modmail as a new conversation. Archive it so it does not count as pending mail.
func (eng *Engine) archiveOutgoing(ctx context.Context, c *Community, user string) {
	if eng.DryRun {
		return
	}
	convs, err := eng.Platform.Conversations(ctx, c.Name, platform.ConversationsAll)
	if err != nil {
		ProcessError(c.Logger, "fetching modmail to archive warning", err)
		return
	}
	parties := map[string]bool{eng.Account: true, user: true}
	for _, conv := range convs {
		if len(conv.Authors) != 2 || len(conv.Messages) != 1 {
			continue
		}
		if !parties[conv.Authors[0].Name] || !parties[conv.Authors[1].Name] {
			continue
		}
		c.Logger.Info("archiving warning modmail", "conversation", conv.ID)
		if err := eng.Platform.ArchiveConversation(ctx, conv.ID); err != nil {
			ProcessError(c.Logger, "archiving warning modmail", err)
			return
		}
		c.forgetConversation(conv.ID)
		return
	}
	c.Logger.Warn("could not find warning modmail to archive", "user", user)
}

func (eng *Engine) banUser(ctx context.Context, c *Community, item *platform.QueueItem, rule CommentRule, mod string, days int, note string) error {
	reason := truncateText(fmt.Sprintf("%s (%s)", rule.Description, mod), maxBanReason)
	ban := platform.Ban{
		User:    item.Author,
		Days:    days,
		Reason:  reason,
		Note:    strings.TrimSpace(fmt.Sprintf("%s https://www.reddit.com%s", note, item.Permalink)),
		Message: rule.Message,
	}
	c.Logger.Info("banning user", "user", item.Author, "days", days, "rule", rule.Token, "mod", mod)
	err := eng.mutate(c, "ban", item.Author, func() error {
		return eng.Platform.Ban(ctx, c.Name, ban)
	})
	if err != nil {
		return fmt.Errorf("banning %s: %w", item.Author, err)
	}
	eng.Metrics.QueueActions.WithLabelValues(c.Name, "ban").Inc()
	return nil
}

func ruleNote(rule CommentRule, mod string, days int, permalink string, now time.Time) usernotes.Note {
	n := usernotes.Note{
		Time:      now,
		Moderator: mod,
		Link:      usernotes.CanonicalLink(permalink),
	}
	switch {
	case days == bantier.WarnOnly:
		n.Warning = usernotes.WarningWarn
		n.Text = "warning: " + rule.Description
	case days == bantier.Permanent:
		n.Warning = usernotes.WarningPermBan
		n.Text = "permanent ban: " + rule.Description
	default:
		n.Warning = usernotes.WarningTempBan
		n.Text = fmt.Sprintf("%d day ban: %s", days, rule.Description)
	}
	return n
}

// Removes a comment and every reply under it. Returns how many comments were actually removed.
func (eng *Engine) removeTree(ctx context.Context, c *Community, fullname string, removed bool) (int, error) {
	replies, err := eng.Platform.Replies(ctx, fullname)
	if err != nil {
		return 0, fmt.Errorf("fetching replies of %s: %w", fullname, err)
	}
	count := 0
	for _, r := range replies {
		n, err := eng.removeTree(ctx, c, r.Fullname(), r.IsRemoved())
		count += n
		if err != nil {
			return count, err
		}
	}
	if !removed {
		err := eng.mutate(c, "remove", fullname, func() error {
			return eng.Platform.Remove(ctx, fullname, "")
		})
		if err != nil {
			return count, fmt.Errorf("removing %s: %w", fullname, err)
		}
		count++
	}
	return count, nil
}

func (eng *Engine) applyRemovalReason(ctx context.Context, c *Community, item *platform.QueueItem, reason RemovalReason, mod string) (bool, error) {
	logger := c.Logger.With("item", item.Fullname, "rule", reason.Rule, "mod", mod)
	logger.Info("removing post for rule")
	err := eng.mutate(c, "remove", item.Fullname, func() error {
		return eng.Platform.Remove(ctx, item.Fullname, "")
	})
	if err != nil {
		return false, fmt.Errorf("removing post: %w", err)
	}
	eng.Metrics.QueueActions.WithLabelValues(c.Name, "remove_post").Inc()

	// the post is gone at this point, so later failures only get logged
	steps := []struct {
		what string
		fn   func() error
	}{
		{"lock", func() error { return eng.Platform.Lock(ctx, item.Fullname) }},
		{"flair", func() error { return eng.Platform.SetFlair(ctx, c.Name, item.Fullname, "Removed") }},
	}
	for _, s := range steps {
		if err := eng.mutate(c, s.what, item.Fullname, s.fn); err != nil {
			ProcessError(logger, "post removal: "+s.what, err)
		}
	}

	text := fmt.Sprintf("%s\n\n%s\n\n%s\n\nTriggered by mod %s", c.removalHeader(), reason.Reason, c.removalFooter(), mod)
	var reply string
	err = eng.mutate(c, "reply", item.Fullname, func() error {
		var err error
		reply, err = eng.Platform.Reply(ctx, item.Fullname, text)
		return err
	})
	if err != nil {
		ProcessError(logger, "posting removal reason", err)
		return true, nil
	}
	if reply != "" {
		err = eng.mutate(c, "distinguish", reply, func() error {
			return eng.Platform.Distinguish(ctx, reply, true)
		})
		if err != nil {
			ProcessError(logger, "distinguishing removal reason", err)
		}
	}
	return true, nil
}
