package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/queuebot/queuebot/modbot/cachestore"
	"github.com/queuebot/queuebot/modbot/countstore"
	"github.com/queuebot/queuebot/modbot/setstore"
	"github.com/queuebot/queuebot/modbot/store"
	"github.com/queuebot/queuebot/platform"
)

// runtime for the moderation decision engine: platform access, durable and ephemeral stores, and per-community state.
//
// Several fields are pointers or interfaces which must not be nil; see EngineTestFixture for a minimal working configuration.
type Engine struct {
	Logger   *slog.Logger
	Platform platform.Platform
	// second identity for actions the main account lacks permission for (optional)
	Backup   platform.Platform
	Store    *store.Store
	Counters countstore.CountStore
	Sets     *setstore.MemSetStore
	Cache    cachestore.CacheStore
	// default notifier; communities with their own webhook override it
	Notifier    Notifier
	Metrics     *Metrics
	Communities []*Community
	// name of the bot's own account
	Account string
	// log mutating platform calls instead of making them
	DryRun    bool
	StartTime time.Time
	Clock     func() time.Time
}

// Circuit breaker limits on automated actions, per community
const (
	QuotaBansDay       = 25
	QuotaRemovalsHour  = 200
	quotaCounterName   = "modbot-quota"
	modActionsCountKey = "mod-actions"
)

func (eng *Engine) now() time.Time {
	if eng.Clock != nil {
		return eng.Clock()
	}
	return time.Now().UTC()
}

func (eng *Engine) notify(ctx context.Context, c *Community, text string) error {
	n := eng.Notifier
	if c.Notifier != nil {
		n = c.Notifier
	}
	if n == nil {
		c.Logger.Debug("no notifier configured", "text", text)
		return nil
	}
	return n.Send(ctx, text)
}

// Notifies without failing the caller; delivery problems are only logged
func (eng *Engine) notifyBestEffort(ctx context.Context, c *Community, text string) {
	if err := eng.notify(ctx, c, text); err != nil {
		ProcessError(c.Logger, "sending notification", err)
	}
}

// Runs a mutating platform call, unless this is a dry run
func (eng *Engine) mutate(c *Community, what, target string, fn func() error) error {
	if eng.DryRun {
		c.Logger.Info("dry run, skipping action", "action", what, "target", target)
		return nil
	}
	return fn()
}

// Checks an action quota. Returns false, and logs, if the quota for this period is used up.
func (eng *Engine) quotaAvailable(ctx context.Context, c *Community, kind string, limit int, period string) (bool, error) {
	n, err := eng.Counters.GetCount(ctx, quotaCounterName, c.Name+"/"+kind, period)
	if err != nil {
		return false, fmt.Errorf("checking %s quota: %w", kind, err)
	}
	if n >= limit {
		c.Logger.Warn("CIRCUIT BREAKER: automod action quota exceeded", "kind", kind, "period", period, "limit", limit)
		return false, nil
	}
	return true, nil
}

func (eng *Engine) spendQuota(ctx context.Context, c *Community, kind string) error {
	return eng.Counters.Increment(ctx, quotaCounterName, c.Name+"/"+kind)
}

// Looks up a configured community by name
func (eng *Engine) Community(name string) *Community {
	for _, c := range eng.Communities {
		if c.Name == name {
			return c
		}
	}
	return nil
}
