package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/queuebot/queuebot/modbot/store"
	"github.com/queuebot/queuebot/platform"
)

// approvals and removals of the same item by different moderators within this window are flagged
const overlapWindow = time.Hour

var (
	approveActions = []string{"approvelink", "approvecomment"}
	removeActions  = []string{"removelink", "removecomment", "spamlink", "spamcomment"}
)

// Ingests new moderation log entries: scans newest-first and stops at the first entry already stored (or already seen in this pass). Each new entry is tallied, classified, checked for conflicting actions, and persisted.
func (eng *Engine) IngestLog(ctx context.Context, c *Community) error {
	var fresh []platform.LogEntry
	seen := make(map[string]bool)
	var lookupErr error
	err := eng.Platform.ModLog(ctx, c.Name, func(e *platform.LogEntry) bool {
		if seen[e.ID] {
			return false
		}
		exists, err := eng.Store.HasLogEntry(ctx, e.ID)
		if err != nil {
			lookupErr = err
			return false
		}
		if exists {
			return false
		}
		seen[e.ID] = true
		fresh = append(fresh, *e)
		return true
	})
	if err != nil {
		return fmt.Errorf("fetching mod log: %w", err)
	}
	if lookupErr != nil {
		return fmt.Errorf("checking log history: %w", lookupErr)
	}

	// oldest first, so overlap checks see earlier entries from the same batch
	for i := len(fresh) - 1; i >= 0; i-- {
		e := &fresh[i]
		if e.Community == "" {
			e.Community = c.Name
		}
		if err := eng.ingestLogEntry(ctx, c, e); err != nil {
			return err
		}
	}
	if len(fresh) > 0 {
		c.Logger.Debug("ingested mod log", "count", len(fresh))
	}
	return nil
}

func (eng *Engine) ingestLogEntry(ctx context.Context, c *Community, e *platform.LogEntry) error {
	eng.Metrics.ModActions.WithLabelValues(e.Moderator, c.Name).Inc()
	if err := eng.Counters.Increment(ctx, modActionsCountKey, c.Name+"/"+e.Moderator); err != nil {
		ProcessError(c.Logger, "incrementing action tally", err)
	}

	if f := c.Classifier.Classify(e); f != nil {
		c.Logger.Warn(f.Message, "code", f.Code, "logID", e.ID)
		eng.Metrics.ClassifierWarnings.WithLabelValues(c.Name, f.Code).Inc()
		eng.notifyBestEffort(ctx, c, f.Message)
	}

	if err := eng.checkOverlap(ctx, c, e); err != nil {
		ProcessError(c.Logger, "checking overlapping actions", err)
	}

	if err := eng.Store.UpsertLogEntry(ctx, store.NewLogEntry(e)); err != nil {
		return fmt.Errorf("saving log entry %s: %w", e.ID, err)
	}
	c.NewLog = append(c.NewLog, *e)
	return nil
}

// Flags an approval that reverses a removal by another moderator (or the other way around) shortly after.
func (eng *Engine) checkOverlap(ctx context.Context, c *Community, e *platform.LogEntry) error {
	if e.TargetFullname == "" {
		return nil
	}
	var opposite []string
	switch {
	case slices.Contains(approveActions, e.Action):
		opposite = removeActions
	case slices.Contains(removeActions, e.Action):
		opposite = approveActions
	default:
		return nil
	}
	prior, err := eng.Store.LastActionOnTarget(ctx, c.Name, e.TargetFullname, opposite, e.Created.Add(-overlapWindow))
	if err != nil {
		return err
	}
	if prior == nil || prior.Moderator == e.Moderator {
		return nil
	}
	if !c.Overlaps.Put(e.TargetFullname) {
		return nil
	}
	msg := fmt.Sprintf("r/%s: u/%s %s after u/%s %s: https://www.reddit.com%s", c.Name, e.Moderator, e.Action, prior.Moderator, prior.Action, e.TargetPermalink)
	c.Logger.Warn(msg, "target", e.TargetFullname)
	eng.notifyBestEffort(ctx, c, msg)
	return nil
}
