package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuebot/queuebot/modbot/countstore"
	"github.com/queuebot/queuebot/platform"
)

func logEntry(id, mod, action string, created time.Time) platform.LogEntry {
	return platform.LogEntry{
		ID:              id,
		Created:         created,
		Moderator:       mod,
		Action:          action,
		TargetAuthor:    "someone",
		TargetFullname:  "t1_abc",
		TargetPermalink: "/r/testcommunity/comments/xyz/title/abc/",
	}
}

func TestIngestLogDedupe(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{})

	f.Platform.Log[TestCommunity] = []platform.LogEntry{
		logEntry("e2", "modA", "lock", f.Now.Add(-time.Minute)),
		logEntry("e1", "modA", "lock", f.Now.Add(-2*time.Minute)),
	}
	require.NoError(f.Engine.IngestLog(ctx, c))
	require.Len(c.NewLog, 2)
	// oldest first
	assert.Equal("e1", c.NewLog[0].ID)
	assert.Equal(TestCommunity, c.NewLog[0].Community)

	// next cycle only sees the new entry
	c.ResetCycle()
	f.Platform.Log[TestCommunity] = append([]platform.LogEntry{logEntry("e3", "modB", "lock", f.Now)}, f.Platform.Log[TestCommunity]...)
	require.NoError(f.Engine.IngestLog(ctx, c))
	require.Len(c.NewLog, 1)
	assert.Equal("e3", c.NewLog[0].ID)

	assert.Equal(2.0, testutil.ToFloat64(f.Engine.Metrics.ModActions.WithLabelValues("modA", TestCommunity)))
	n, err := f.Counters.GetCount(ctx, modActionsCountKey, TestCommunity+"/modB", countstore.PeriodTotal)
	require.NoError(err)
	assert.Equal(1, n)

	entries, err := f.Engine.Store.RecentLogEntries(ctx, TestCommunity, 10)
	require.NoError(err)
	assert.Len(entries, 3)
	assert.Empty(f.Notifier.Sent())
}

func TestIngestLogRepeatedPage(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{})

	// the platform can return the same entry twice while paging
	f.Platform.Log[TestCommunity] = []platform.LogEntry{
		logEntry("e2", "modA", "lock", f.Now.Add(-time.Minute)),
		logEntry("e1", "modA", "lock", f.Now.Add(-2*time.Minute)),
		logEntry("e1", "modA", "lock", f.Now.Add(-2*time.Minute)),
		logEntry("e0", "modA", "lock", f.Now.Add(-3*time.Minute)),
	}
	assert.NoError(f.Engine.IngestLog(ctx, c))
	assert.Len(c.NewLog, 2)
}

func TestIngestLogClassifier(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{})

	f.Platform.Log[TestCommunity] = []platform.LogEntry{
		logEntry("e2", "modA", "frobnicate", f.Now.Add(-time.Minute)),
		logEntry("e1", "stranger", "removecomment", f.Now.Add(-2*time.Minute)),
	}
	require.NoError(f.Engine.IngestLog(ctx, c))
	assert.Equal([]string{
		"r/testcommunity: 1:Mod action by u/stranger: removecomment someone /r/testcommunity/comments/xyz/title/abc/",
		"r/testcommunity: 2:Mod action by u/modA: frobnicate",
	}, f.Notifier.Sent())
	assert.Equal(1.0, testutil.ToFloat64(f.Engine.Metrics.ClassifierWarnings.WithLabelValues(TestCommunity, "2")))
}

func TestIngestLogOverlap(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{})

	f.Platform.Log[TestCommunity] = []platform.LogEntry{
		logEntry("e3", "modB", "approvecomment", f.Now.Add(-5*time.Minute)),
		logEntry("e2", "modA", "removecomment", f.Now.Add(-10*time.Minute)),
		logEntry("e1", "modA", "approvecomment", f.Now.Add(-20*time.Minute)),
	}
	require.NoError(f.Engine.IngestLog(ctx, c))
	// e2 reverses the mod's own approval, e3 reverses another mod's removal
	assert.Equal([]string{
		"r/testcommunity: u/modB approvecomment after u/modA removecomment: https://www.reddit.com/r/testcommunity/comments/xyz/title/abc/",
	}, f.Notifier.Sent())

	// a later flip on the same target is not repeated
	c.ResetCycle()
	f.Platform.Log[TestCommunity] = append([]platform.LogEntry{logEntry("e4", "modA", "removecomment", f.Now)}, f.Platform.Log[TestCommunity]...)
	require.NoError(f.Engine.IngestLog(ctx, c))
	assert.Len(f.Notifier.Sent(), 1)
}

func TestIngestLogOverlapWindow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{})

	f.Platform.Log[TestCommunity] = []platform.LogEntry{
		logEntry("e2", "modB", "approvecomment", f.Now),
		logEntry("e1", "modA", "removecomment", f.Now.Add(-2*time.Hour)),
	}
	assert.NoError(f.Engine.IngestLog(ctx, c))
	assert.Empty(f.Notifier.Sent())
}

func TestIngestLogFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{})

	f.Platform.Log[TestCommunity] = []platform.LogEntry{logEntry("e1", "modA", "lock", f.Now)}
	f.Platform.FailOn("modlog", TestCommunity, &platform.Error{StatusCode: 503})
	err := f.Engine.IngestLog(ctx, c)
	assert.Error(err)
	assert.True(platform.IsTransient(err))
	assert.Empty(c.NewLog)
}
