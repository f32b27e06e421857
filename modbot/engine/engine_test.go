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

func intp(v int) *int {
	return &v
}

func testFixture(t *testing.T, cfg CommunityConfig) (*TestFixture, *Community) {
	t.Helper()
	f, err := EngineTestFixture()
	require.NoError(t, err)
	if cfg.Moderators == nil {
		cfg.Moderators = map[string]string{"modA": "", "modB": ""}
	}
	c, err := f.AddCommunity(cfg)
	require.NoError(t, err)
	return f, c
}

func TestQuota(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{})
	eng := f.Engine

	ok, err := eng.quotaAvailable(ctx, c, "ban", 2, countstore.PeriodDay)
	require.NoError(err)
	assert.True(ok)
	require.NoError(eng.spendQuota(ctx, c, "ban"))
	require.NoError(eng.spendQuota(ctx, c, "ban"))

	ok, err = eng.quotaAvailable(ctx, c, "ban", 2, countstore.PeriodDay)
	require.NoError(err)
	assert.False(ok)

	// other kinds and other days are separate
	ok, err = eng.quotaAvailable(ctx, c, "removal", 2, countstore.PeriodDay)
	require.NoError(err)
	assert.True(ok)
	f.Advance(25 * time.Hour)
	ok, err = eng.quotaAvailable(ctx, c, "ban", 2, countstore.PeriodDay)
	require.NoError(err)
	assert.True(ok)
}

func TestDryRun(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f, c := testFixture(t, CommunityConfig{})
	f.Engine.DryRun = true
	f.Platform.Queue[TestCommunity] = []platform.QueueItem{
		{Fullname: "t3_old", Author: "someone", Created: f.Now.AddDate(-1, 0, 0)},
	}

	assert.NoError(f.Engine.ProcessQueue(ctx, c))
	assert.Empty(f.Platform.Actions)
	assert.Equal(1.0, testutil.ToFloat64(f.Engine.Metrics.QueueActions.WithLabelValues(TestCommunity, "age_remove")))
}

func TestDisplayName(t *testing.T) {
	assert := assert.New(t)
	_, c := testFixture(t, CommunityConfig{Moderators: map[string]string{"modA": "123456789", "modB": "", "modC": "modc#1"}})

	assert.Equal("<@123456789>", c.DisplayName("modA"))
	assert.Equal("modB", c.DisplayName("modB"))
	assert.Equal("modC", c.DisplayName("modC"))
	assert.Equal("stranger", c.DisplayName("stranger"))
}
