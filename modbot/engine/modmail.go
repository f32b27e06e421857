package engine

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/queuebot/queuebot/platform"
)

var submissionLinkRegex = regexp.MustCompile(`reddit\.com/r/\w*/comments/(\w*)`)

// A conversation needs handling if it was updated after process start, and after the last time it was handled.
func (c *Community) modmailPending(conv *platform.Conversation, start time.Time) bool {
	if !conv.LastUpdated.After(start) {
		return false
	}
	prev, ok := c.ProcessedModmail[conv.ID]
	return !ok || conv.LastUpdated.After(prev)
}

// Warns about unread conversations that are highlighted or involve a platform admin.
func (eng *Engine) LogHighlightedModmail(ctx context.Context, c *Community) error {
	if !c.Config.ModmailAlerts {
		return nil
	}
	convs, err := eng.conversations(ctx, c, platform.ConversationsAll)
	if err != nil {
		return err
	}
	for i := range convs {
		conv := &convs[i]
		if !conv.IsUnread() {
			continue
		}
		kind := ""
		switch {
		case conv.HasAdminAuthor():
			kind = "Admin"
		case conv.IsHighlighted:
			kind = "Highlighted"
		default:
			continue
		}
		if !c.modmailPending(conv, eng.StartTime) {
			continue
		}
		msg := fmt.Sprintf("r/%s: %s modmail has a new reply: https://mod.reddit.com/mail/all/%s", c.Name, kind, conv.ID)
		c.Logger.Warn(msg, "conversation", conv.ID)
		eng.notifyBestEffort(ctx, c, msg)
		c.ProcessedModmail[conv.ID] = conv.LastUpdated
	}
	return nil
}

// Warns about conversations that were archived while the last message was from the user.
func (eng *Engine) LogArchivedWithoutReply(ctx context.Context, c *Community) error {
	if !c.Config.ModmailAlerts {
		return nil
	}
	convs, err := eng.conversations(ctx, c, platform.ConversationsArchived)
	if err != nil {
		return err
	}
	for i := range convs {
		conv := &convs[i]
		if conv.LastUserUpdate.IsZero() {
			continue
		}
		if !conv.LastModUpdate.IsZero() && !conv.LastModUpdate.Before(conv.LastUserUpdate) {
			continue
		}
		if !c.modmailPending(conv, eng.StartTime) {
			continue
		}
		msg := fmt.Sprintf("r/%s: Modmail archived without reply: https://mod.reddit.com/mail/archived/%s", c.Name, conv.ID)
		c.Logger.Warn(msg, "conversation", conv.ID)
		eng.notifyBestEffort(ctx, c, msg)
		c.ProcessedModmail[conv.ID] = conv.LastUpdated
	}
	return nil
}

// Archives automod notifications about a single post once that post has been dealt with, leaving an internal note saying how.
func (eng *Engine) ArchiveAutomodNotifications(ctx context.Context, c *Community) error {
	if !c.Config.ArchiveAutomodMail {
		return nil
	}
	convs, err := eng.conversations(ctx, c, platform.ConversationsAll)
	if err != nil {
		return err
	}
	var archived []string
	for i := range convs {
		conv := &convs[i]
		if len(conv.Authors) != 1 || conv.Authors[0].Name != automodAccount || len(conv.Messages) != 1 {
			continue
		}
		links := submissionLinkRegex.FindAllStringSubmatch(conv.Messages[0].Body, -1)
		if len(links) != 1 {
			continue
		}
		sub, err := eng.Platform.Submission(ctx, links[0][1])
		if err != nil {
			ProcessError(c.Logger.With("conversation", conv.ID), "fetching submission for automod notification", err)
			continue
		}
		note := automodArchiveNote(sub)
		if note == "" {
			continue
		}
		c.Logger.Info("archiving automod notification", "conversation", conv.ID, "note", note)
		err = eng.mutate(c, "archive", conv.ID, func() error {
			if err := eng.Platform.ReplyConversation(ctx, conv.ID, note, true); err != nil {
				return err
			}
			return eng.Platform.ArchiveConversation(ctx, conv.ID)
		})
		if err != nil {
			ProcessError(c.Logger.With("conversation", conv.ID), "archiving automod notification", err)
			continue
		}
		archived = append(archived, conv.ID)
	}
	for _, id := range archived {
		c.forgetConversation(id)
	}
	return nil
}

const automodAccount = "AutoModerator"

// How a post was resolved, or empty if it still needs attention
func automodArchiveNote(s *platform.Submission) string {
	switch {
	case s.IsDeleted():
		return "Deleted by user"
	case s.Locked || s.Removed:
		if s.StickiedCommentAuthor != "" {
			return fmt.Sprintf("Removed by u/%s", s.StickiedCommentAuthor)
		}
		return ""
	case s.Approved:
		return fmt.Sprintf("Approved by u/%s", s.ApprovedBy)
	}
	return ""
}
