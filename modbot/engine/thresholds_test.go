package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuebot/queuebot/modbot/store"
	"github.com/queuebot/queuebot/platform"
)

func TestAlertText(t *testing.T) {
	assert := assert.New(t)
	th := map[Metric]Threshold{
		MetricUnmod:    {Post: intp(10), Ping: intp(20)},
		MetricModqueue: {Post: intp(5)},
		MetricModmail:  {Track: true},
	}

	_, ok := AlertText(QueueCounts{Unmod: 9, Modqueue: 4, Modmail: 100}, th)
	assert.False(ok)

	text, ok := AlertText(QueueCounts{Unmod: 12}, th)
	assert.True(ok)
	assert.Equal("Unmod: 12", text)

	text, ok = AlertText(QueueCounts{Unmod: 25, Modqueue: 7}, th)
	assert.True(ok)
	assert.Equal("@here Unmod: 25\nModqueue: 7", text)

	// ping bar crossed on a metric that did not cross its post bar
	th[MetricModqueue] = Threshold{Post: intp(50), Ping: intp(6)}
	text, ok = AlertText(QueueCounts{Unmod: 12, Modqueue: 7}, th)
	assert.True(ok)
	assert.Equal("@here Unmod: 12", text)
}

func TestParseMetric(t *testing.T) {
	assert := assert.New(t)
	m, err := ParseMetric("modmail_hours")
	assert.NoError(err)
	assert.Equal(MetricModmailHours, m)
	_, err = ParseMetric("reports")
	assert.Error(err)
}

func TestCountQueues(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{Thresholds: map[string]Threshold{
		"unmod":         {Track: true},
		"unmod_hours":   {Track: true},
		"modqueue":      {Track: true},
		"modmail":       {Track: true},
		"modmail_hours": {Track: true},
	}})
	f.Platform.Unmod[TestCommunity] = []platform.Submission{
		{ID: "a", Created: f.Now.Add(-90 * time.Minute)},
		{ID: "b", Created: f.Now.Add(-5*time.Hour - 59*time.Minute)},
	}
	f.Platform.Queue[TestCommunity] = []platform.QueueItem{{Fullname: "t1_x"}, {Fullname: "t3_y"}, {Fullname: "t3_z"}}
	f.Platform.SetConversations(TestCommunity, platform.ConversationsAll, []platform.Conversation{
		{ID: "m1", LastUpdated: f.Now.Add(-2 * time.Hour)},
		{ID: "m2", LastUpdated: f.Now.Add(-30 * time.Hour), IsHighlighted: true},
	})
	f.Platform.SetConversations(TestCommunity, platform.ConversationsAppeals, []platform.Conversation{
		{ID: "m3", LastUpdated: f.Now.Add(-10 * time.Hour)},
	})

	require.NoError(f.Engine.CountQueues(ctx, c))
	assert.Equal(QueueCounts{Unmod: 2, UnmodHours: 5, Modqueue: 3, Modmail: 2, ModmailHours: 10}, c.Counts)
	assert.Equal(3.0, testutil.ToFloat64(f.Engine.Metrics.QueueSize.WithLabelValues("modqueue", TestCommunity)))
	assert.Equal(10.0, testutil.ToFloat64(f.Engine.Metrics.QueueSize.WithLabelValues("modmail_hours", TestCommunity)))

	// untracked metrics are not fetched
	f2, c2 := testFixture(t, CommunityConfig{Thresholds: map[string]Threshold{"modqueue": {Post: intp(1)}}})
	f2.Platform.Unmod[TestCommunity] = f.Platform.Unmod[TestCommunity]
	f2.Platform.Queue[TestCommunity] = f.Platform.Queue[TestCommunity]
	require.NoError(f2.Engine.CountQueues(ctx, c2))
	assert.Equal(QueueCounts{Modqueue: 3}, c2.Counts)
}

func TestPingQueuesRateLimit(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{Thresholds: map[string]Threshold{"unmod": {Post: intp(10), Ping: intp(30)}}})

	c.Counts = QueueCounts{Unmod: 5}
	require.NoError(f.Engine.PingQueues(ctx, c))
	assert.Empty(f.Notifier.Sent())

	c.Counts = QueueCounts{Unmod: 12}
	require.NoError(f.Engine.PingQueues(ctx, c))
	assert.Equal([]string{"Unmod: 12"}, f.Notifier.Sent())
	assert.True(c.HasAlerted)

	// deeper queue, but inside the window
	f.Advance(30 * time.Minute)
	c.Counts = QueueCounts{Unmod: 40}
	require.NoError(f.Engine.PingQueues(ctx, c))
	assert.Len(f.Notifier.Sent(), 1)

	f.Advance(31 * time.Minute)
	require.NoError(f.Engine.PingQueues(ctx, c))
	assert.Equal([]string{"Unmod: 12", "@here Unmod: 40"}, f.Notifier.Sent())
}

func TestPingQueuesNotifyFailure(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{Thresholds: map[string]Threshold{"unmod": {Post: intp(10)}}})

	f.Notifier.Err = errors.New("webhook down")
	c.Counts = QueueCounts{Unmod: 12}
	assert.Error(f.Engine.PingQueues(ctx, c))
	assert.True(c.LastAlert.IsZero())
	assert.False(c.HasAlerted)

	// retried on the next cycle
	f.Notifier.Err = nil
	assert.NoError(f.Engine.PingQueues(ctx, c))
	assert.Len(f.Notifier.Sent(), 1)
}

func addLogEntries(t *testing.T, s *store.Store, now time.Time, mod string, n int, start int) {
	t.Helper()
	for i := 0; i < n; i++ {
		e := &platform.LogEntry{
			ID:        fmt.Sprintf("ModAction_%s_%d", mod, start+i),
			Created:   now.Add(-time.Duration(start+i) * 10 * time.Second),
			Moderator: mod,
			Action:    "removecomment",
			Community: TestCommunity,
		}
		require.NoError(t, s.UpsertLogEntry(context.Background(), store.NewLogEntry(e)))
	}
}

func TestPingQueuesClearAttribution(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{
		Moderators: map[string]string{"modA": "1234", "modB": ""},
		Thresholds: map[string]Threshold{"unmod": {Post: intp(10)}, "unmod_hours": {Post: intp(100)}},
	})

	c.Counts = QueueCounts{Unmod: 15, UnmodHours: 3}
	require.NoError(f.Engine.PingQueues(ctx, c))
	require.Len(f.Notifier.Sent(), 1)

	addLogEntries(t, f.Engine.Store, f.Now, "modA", 25, 0)
	addLogEntries(t, f.Engine.Store, f.Now, "modB", 10, 25)
	addLogEntries(t, f.Engine.Store, f.Now, "AutoModerator", 40, 35)

	// queue still has items
	f.Advance(10 * time.Minute)
	c.Counts = QueueCounts{Unmod: 1, UnmodHours: 3}
	require.NoError(f.Engine.PingQueues(ctx, c))
	assert.Len(f.Notifier.Sent(), 1)

	// age metrics don't count towards clearing
	c.Counts = QueueCounts{UnmodHours: 3}
	require.NoError(f.Engine.PingQueues(ctx, c))
	assert.Equal("<@1234> cleared the queues!", f.Notifier.Sent()[1])
	assert.False(c.HasAlerted)

	// only announced once
	require.NoError(f.Engine.PingQueues(ctx, c))
	assert.Len(f.Notifier.Sent(), 2)

	// the day's tally from log ingestion is included
	f.Advance(AlertWindow)
	c.Counts = QueueCounts{Unmod: 15}
	require.NoError(f.Engine.PingQueues(ctx, c))
	require.Len(f.Notifier.Sent(), 3)
	for i := 0; i < 4; i++ {
		require.NoError(f.Counters.Increment(ctx, modActionsCountKey, TestCommunity+"/modA"))
	}
	addLogEntries(t, f.Engine.Store, f.Now, "modA", 5, 100)
	f.Advance(time.Minute)
	c.Counts = QueueCounts{}
	require.NoError(f.Engine.PingQueues(ctx, c))
	require.Len(f.Notifier.Sent(), 4)
	assert.Equal("<@1234> cleared the queues! (4 mod actions today)", f.Notifier.Sent()[3])
}

func syntheticEntries(now time.Time, mods ...string) []platform.LogEntry {
	out := make([]platform.LogEntry, 0, len(mods))
	for i, m := range mods {
		out = append(out, platform.LogEntry{
			ID:        fmt.Sprintf("e%d", i),
			Created:   now.Add(-time.Duration(i) * 20 * time.Second),
			Moderator: m,
		})
	}
	return out
}

func repeat(mod string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = mod
	}
	return out
}

func TestAttributeClear(t *testing.T) {
	assert := assert.New(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	opts := AttributionOptions{Limit: 100, MaxAge: 40 * time.Minute, Floor: 2, Exclude: map[string]bool{"AutoModerator": true}}

	var mods []string
	mods = append(mods, repeat("modA", 25)...)
	mods = append(mods, repeat("modB", 10)...)
	mods = append(mods, repeat("AutoModerator", 65)...)
	entries := syntheticEntries(now, mods...)
	for i := range entries {
		entries[i].Created = now.Add(-time.Duration(i) * 10 * time.Second)
	}
	mod, ok := AttributeClear(entries, now, opts)
	assert.True(ok)
	assert.Equal("modA", mod)

	// nobody above the floor
	_, ok = AttributeClear(syntheticEntries(now, "modA", "modB", "modA", "modB"), now, opts)
	assert.False(ok)

	// tie goes to the moderator who reached it first
	mod, ok = AttributeClear(syntheticEntries(now, "modB", "modA", "modA", "modB", "modA", "modB"), now, opts)
	assert.True(ok)
	assert.Equal("modB", mod)

	// old entries are not counted
	old := syntheticEntries(now.Add(-time.Hour), "modA", "modA", "modA", "modA")
	_, ok = AttributeClear(old, now, opts)
	assert.False(ok)

	// service accounts never win
	_, ok = AttributeClear(syntheticEntries(now, repeat("AutoModerator", 10)...), now, opts)
	assert.False(ok)

	// entries past the limit are not counted
	limited := syntheticEntries(now, append(repeat("AutoModerator", 3), repeat("modA", 10)...)...)
	mod, ok = AttributeClear(limited, now, opts)
	assert.True(ok)
	assert.Equal("modA", mod)
	opts.Limit = 3
	_, ok = AttributeClear(limited, now, opts)
	assert.False(ok)
	opts.Limit = 5
	_, ok = AttributeClear(limited, now, opts)
	assert.False(ok)
	opts.Limit = 6
	mod, ok = AttributeClear(limited, now, opts)
	assert.True(ok)
	assert.Equal("modA", mod)
}
