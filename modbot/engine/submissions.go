package engine

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/queuebot/queuebot/platform"
)

// how many of the newest posts are looked at each cycle
const newSubmissionsLimit = 25

// Handles posts made since the last cycle (chat thread removal, megathread sidebar link), and flags approved posts with no flair.
func (eng *Engine) ProcessNewSubmissions(ctx context.Context, c *Community) error {
	if c.Config.ChatPosts == nil && c.Config.Megathread == nil && !c.Config.NotifyUnflaired {
		return nil
	}
	subs, err := eng.Platform.NewSubmissions(ctx, c.Name, newSubmissionsLimit)
	if err != nil {
		return fmt.Errorf("fetching new submissions: %w", err)
	}
	if c.PostChecked.IsZero() {
		c.PostChecked = eng.StartTime
	}

	checked := c.PostChecked
	for i := range subs {
		s := &subs[i]
		if s.Created.After(c.PostChecked) {
			if s.Created.After(checked) {
				checked = s.Created
			}
			if err := eng.checkMegathread(ctx, c, s); err != nil {
				ProcessError(c.Logger.With("submission", s.ID), "updating megathread link", err)
			}
			if err := eng.checkChatPost(ctx, c, s); err != nil {
				ProcessError(c.Logger.With("submission", s.ID), "removing chat post", err)
			}
		}
		eng.notifyUnflaired(ctx, c, s)
	}
	c.PostChecked = checked
	return nil
}

// Points the sidebar link at a new recurring megathread
func (eng *Engine) checkMegathread(ctx context.Context, c *Community, s *platform.Submission) error {
	m := c.Config.Megathread
	if m == nil || s.Author != m.Author || !strings.Contains(s.Title, m.TitleContains) {
		return nil
	}
	c.Logger.Info("found new megathread, updating sidebar", "submission", s.ID)
	err := eng.mutate(c, "approve", s.Fullname(), func() error {
		return eng.Platform.Approve(ctx, s.Fullname())
	})
	if err != nil {
		return err
	}
	page, err := eng.Platform.WikiRead(ctx, c.Name, m.WikiPage)
	if err != nil {
		return fmt.Errorf("reading %s: %w", m.WikiPage, err)
	}
	updated := ReplaceMegathreadLink(page, m.LinkText, s.ID)
	if updated == page {
		c.Logger.Warn("megathread link not found in wiki page", "page", m.WikiPage, "linkText", m.LinkText)
		return nil
	}
	return eng.mutate(c, "wiki write", m.WikiPage, func() error {
		return eng.Platform.WikiWrite(ctx, c.Name, m.WikiPage, updated, "update megathread link")
	})
}

// Rewrites the short link in "[<linkText>](https://redd.it/<id>)" to point at the given post
func ReplaceMegathreadLink(page, linkText, id string) string {
	re := regexp.MustCompile(`(\[` + regexp.QuoteMeta(linkText) + `\]\(https://redd\.it/)(\w{4,10})`)
	return re.ReplaceAllString(page, "${1}"+id)
}

func (eng *Engine) checkChatPost(ctx context.Context, c *Community, s *platform.Submission) error {
	p := c.Config.ChatPosts
	if p == nil || !strings.EqualFold(s.DiscussionType, "chat") || slices.Contains(p.AllowedAuthors, s.Author) {
		return nil
	}
	c.Logger.Info("removing live chat post", "submission", s.ID, "author", s.Author)
	reply := p.Reply
	if reply == "" {
		reply = "Don't post live chat threads"
	}
	var replyID string
	err := eng.mutate(c, "reply", s.Fullname(), func() error {
		var err error
		replyID, err = eng.Platform.Reply(ctx, s.Fullname(), reply)
		return err
	})
	if err != nil {
		return err
	}
	if replyID != "" {
		err = eng.mutate(c, "distinguish", replyID, func() error {
			return eng.Platform.Distinguish(ctx, replyID, true)
		})
		if err != nil {
			ProcessError(c.Logger, "distinguishing chat post reply", err)
		}
	}
	err = eng.mutate(c, "remove", s.Fullname(), func() error {
		return eng.Platform.Remove(ctx, s.Fullname(), "")
	})
	if err != nil {
		return err
	}
	return eng.mutate(c, "lock", s.Fullname(), func() error {
		return eng.Platform.Lock(ctx, s.Fullname())
	})
}

// Posts a notice, once per post, when a moderator approves a post without flairing it
func (eng *Engine) notifyUnflaired(ctx context.Context, c *Community, s *platform.Submission) {
	if !c.Config.NotifyUnflaired || !s.Approved || s.LinkFlair != "" || c.Notified.Contains(s.ID) {
		return
	}
	msg := fmt.Sprintf("%s approved without adding a flair: <https://www.reddit.com%s>", c.DisplayName(s.ApprovedBy), s.Permalink)
	c.Logger.Info("posting unflaired approval", "submission", s.ID, "mod", s.ApprovedBy)
	c.Notified.Put(s.ID)
	eng.notifyBestEffort(ctx, c, msg)
}
