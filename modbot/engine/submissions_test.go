package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuebot/queuebot/platform"
)

func TestReplaceMegathreadLink(t *testing.T) {
	assert := assert.New(t)
	page := "* [Weekly thread](https://redd.it/abc123)\n* [Rules](https://redd.it/zzz999)"

	assert.Equal("* [Weekly thread](https://redd.it/new456)\n* [Rules](https://redd.it/zzz999)", ReplaceMegathreadLink(page, "Weekly thread", "new456"))
	assert.Equal(page, ReplaceMegathreadLink(page, "Daily thread", "new456"))
}

func TestMegathread(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{Megathread: &Megathread{
		Author:        "AutoModerator",
		TitleContains: "Weekly Discussion",
		WikiPage:      "config/sidebar",
		LinkText:      "Weekly thread",
	}})
	f.Platform.Wiki[TestCommunity+"/config/sidebar"] = "[Weekly thread](https://redd.it/old111)"
	f.Platform.New[TestCommunity] = []platform.Submission{
		{ID: "new222", Author: "AutoModerator", Title: "Weekly Discussion - June", Created: f.Now.Add(-time.Minute)},
		{ID: "fake33", Author: "someone", Title: "Weekly Discussion - fake", Created: f.Now.Add(-2 * time.Minute)},
		{ID: "old111", Author: "AutoModerator", Title: "Weekly Discussion - May", Created: f.Now.Add(-7 * 24 * time.Hour)},
	}

	require.NoError(f.Engine.ProcessNewSubmissions(ctx, c))
	assert.Equal("[Weekly thread](https://redd.it/new222)", f.Platform.Wiki[TestCommunity+"/config/sidebar"])
	assert.Equal([]platform.Action{{Kind: "approve", Target: "t3_new222"}}, f.Platform.ActionsOf("approve"))
	assert.Equal(f.Now.Add(-time.Minute), c.PostChecked)

	// posts are only looked at once
	f.Platform.ResetActions()
	require.NoError(f.Engine.ProcessNewSubmissions(ctx, c))
	assert.Empty(f.Platform.Actions)
}

func TestChatPosts(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{ChatPosts: &ChatPostPolicy{AllowedAuthors: []string{"modA"}}})
	f.Platform.New[TestCommunity] = []platform.Submission{
		{ID: "chat1", Author: "someone", DiscussionType: "CHAT", Created: f.Now.Add(-time.Minute)},
		{ID: "chat2", Author: "modA", DiscussionType: "CHAT", Created: f.Now.Add(-time.Minute)},
		{ID: "link1", Author: "someone", Created: f.Now.Add(-time.Minute)},
	}

	require.NoError(f.Engine.ProcessNewSubmissions(ctx, c))
	assert.Equal([]platform.Action{
		{Kind: "reply", Target: "t3_chat1", Detail: "Don't post live chat threads"},
		{Kind: "distinguish", Target: "t1_reply1", Detail: "sticky=true"},
		{Kind: "remove", Target: "t3_chat1"},
		{Kind: "lock", Target: "t3_chat1"},
	}, f.Platform.Actions)
}

func TestNotifyUnflaired(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{
		NotifyUnflaired: true,
		Moderators:      map[string]string{"modA": "1234", "modB": ""},
	})
	f.Platform.New[TestCommunity] = []platform.Submission{
		{ID: "a", Approved: true, ApprovedBy: "modA", Permalink: "/r/testcommunity/comments/a/x/", Created: f.Now.Add(-time.Minute)},
		{ID: "b", Approved: true, ApprovedBy: "modB", LinkFlair: "News", Permalink: "/r/testcommunity/comments/b/x/", Created: f.Now.Add(-time.Minute)},
		{ID: "c", Permalink: "/r/testcommunity/comments/c/x/", Created: f.Now.Add(-time.Minute)},
		// older posts are still checked
		{ID: "d", Approved: true, ApprovedBy: "modB", Permalink: "/r/testcommunity/comments/d/x/", Created: f.Now.Add(-48 * time.Hour)},
	}

	require.NoError(f.Engine.ProcessNewSubmissions(ctx, c))
	assert.Equal([]string{
		"<@1234> approved without adding a flair: <https://www.reddit.com/r/testcommunity/comments/a/x/>",
		"modB approved without adding a flair: <https://www.reddit.com/r/testcommunity/comments/d/x/>",
	}, f.Notifier.Sent())

	require.NoError(f.Engine.ProcessNewSubmissions(ctx, c))
	assert.Len(f.Notifier.Sent(), 2)
}
