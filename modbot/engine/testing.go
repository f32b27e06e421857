package engine

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/queuebot/queuebot/modbot/cachestore"
	"github.com/queuebot/queuebot/modbot/countstore"
	"github.com/queuebot/queuebot/modbot/setstore"
	"github.com/queuebot/queuebot/modbot/store"
	"github.com/queuebot/queuebot/platform"
)

const (
	TestAccount   = "queuebot"
	TestCommunity = "testcommunity"
)

var fixtureSeq atomic.Int64

// Engine wired to in-memory stores and a mock platform, with a fixed clock. Tests add communities with AddCommunity.
type TestFixture struct {
	Engine   *Engine
	Platform *platform.MockPlatform
	Notifier *MemNotifier
	Counters *countstore.MemCountStore
	Now      time.Time
}

func EngineTestFixture() (*TestFixture, error) {
	db, err := store.OpenMemory(fmt.Sprintf("engine-test-%d", fixtureSeq.Add(1)))
	if err != nil {
		return nil, err
	}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f := &TestFixture{
		Platform: platform.NewMockPlatform(TestAccount),
		Notifier: &MemNotifier{},
		Counters: countstore.NewMemCountStore(),
		Now:      now,
	}
	f.Counters.Clock = func() time.Time { return f.Now }
	f.Engine = &Engine{
		Logger:    slog.Default(),
		Platform:  f.Platform,
		Store:     db,
		Counters:  f.Counters,
		Sets:      setstore.NewDefaultSetStore(),
		Cache:     cachestore.NewMemCacheStore(100, time.Hour),
		Notifier:  f.Notifier,
		Metrics:   NewMetrics(prometheus.NewRegistry()),
		Account:   TestAccount,
		StartTime: now.Add(-time.Hour),
		Clock:     func() time.Time { return f.Now },
	}
	return f, nil
}

func (f *TestFixture) AddCommunity(cfg CommunityConfig) (*Community, error) {
	if cfg.Name == "" {
		cfg.Name = TestCommunity
	}
	c, err := NewCommunity(cfg, f.Engine.Sets, f.Engine.Logger)
	if err != nil {
		return nil, err
	}
	f.Engine.Communities = append(f.Engine.Communities, c)
	return c, nil
}

func (f *TestFixture) Advance(d time.Duration) {
	f.Now = f.Now.Add(d)
}
