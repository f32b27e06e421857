package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuebot/queuebot/platform"
)

func TestRunCycleStepFailure(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{Thresholds: map[string]Threshold{"modqueue": {Post: intp(1)}}})

	f.Platform.Log[TestCommunity] = []platform.LogEntry{logEntry("e1", "modA", "lock", f.Now)}
	f.Platform.FailOn("modlog", TestCommunity, &platform.Error{StatusCode: 503})
	f.Platform.Queue[TestCommunity] = []platform.QueueItem{
		{Fullname: "t3_old", Created: f.Now.Add(-200 * 24 * time.Hour)},
		{Fullname: "t1_a", Created: f.Now},
		{Fullname: "t1_b", Created: f.Now},
	}

	require.NoError(f.Engine.RunCycle(ctx))
	assert.Equal(1.0, testutil.ToFloat64(f.Engine.Metrics.CycleErrors.WithLabelValues(TestCommunity)))
	assert.Equal([]platform.Action{{Kind: "remove", Target: "t3_old"}}, f.Platform.Actions)
	// counts reflect the processed queue
	assert.Equal(2, c.Counts.Modqueue)
	assert.Equal([]string{"Modqueue: 2"}, f.Notifier.Sent())
	assert.False(f.Engine.Store.InTransaction())

	// log is picked up once the platform recovers
	delete(f.Platform.Failures, "modlog/"+TestCommunity)
	require.NoError(f.Engine.RunCycle(ctx))
	has, err := f.Engine.Store.HasLogEntry(ctx, "e1")
	require.NoError(err)
	assert.True(has)
}

// panics when listing the modqueue of one community
type panickyPlatform struct {
	*platform.MockPlatform
	community string
}

func (p *panickyPlatform) ModQueue(ctx context.Context, community string) ([]platform.QueueItem, error) {
	if community == p.community {
		panic("boom")
	}
	return p.MockPlatform.ModQueue(ctx, community)
}

func TestRunCyclePanic(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f, bad := testFixture(t, CommunityConfig{Name: "bad"})
	good, err := f.AddCommunity(CommunityConfig{Name: "good", Moderators: map[string]string{"modA": ""}})
	require.NoError(err)
	f.Engine.Platform = &panickyPlatform{MockPlatform: f.Platform, community: bad.Name}

	f.Platform.Log[good.Name] = []platform.LogEntry{logEntry("e1", "modA", "lock", f.Now)}
	f.Platform.Queue[good.Name] = []platform.QueueItem{{Fullname: "t3_old", Created: f.Now.Add(-200 * 24 * time.Hour)}}

	require.NoError(f.Engine.RunCycle(ctx))
	assert.Equal(1.0, testutil.ToFloat64(f.Engine.Metrics.CycleErrors.WithLabelValues("bad")))
	assert.Equal([]platform.Action{{Kind: "remove", Target: "t3_old"}}, f.Platform.Actions)
	assert.Len(good.NewLog, 1)
}

func TestRunOnce(t *testing.T) {
	assert := assert.New(t)
	f, _ := testFixture(t, CommunityConfig{})
	f.Engine.StartTime = time.Time{}

	assert.NoError(f.Engine.Run(context.Background(), time.Minute, true))
	assert.Equal(f.Now, f.Engine.StartTime)
}

func TestRunCancelled(t *testing.T) {
	assert := assert.New(t)
	f, _ := testFixture(t, CommunityConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error)
	go func() {
		done <- f.Engine.Run(ctx, time.Hour, false)
	}()
	select {
	case err := <-done:
		assert.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("polling loop did not stop")
	}
}
