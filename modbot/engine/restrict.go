package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/queuebot/queuebot/modbot/countstore"
	"github.com/queuebot/queuebot/modbot/store"
	"github.com/queuebot/queuebot/platform"
)

const (
	// karma and removal state are only backfilled once the platform's numbers settle
	backfillStableAfter = 24 * time.Hour
	backfillLimit       = 500
	// most ids per platform info lookup
	infoBatchSize = 100

	cacheAccountCreated = "account-created"
)

type Eligibility struct {
	Eligible bool
	// why the author is not eligible, eg "comments 3 < 20"
	Reason  string
	History store.History
}

// Ingests new comments for restricted thread tracking: scans newest-first, stops at the first stored comment. Comments on restricted submissions by ineligible authors are filtered.
func (eng *Engine) IngestComments(ctx context.Context, c *Community) error {
	if c.Config.Restriction == nil {
		return nil
	}
	var fresh []platform.Comment
	var lookupErr error
	err := eng.Platform.Comments(ctx, c.Name, func(pc *platform.Comment) bool {
		exists, err := eng.Store.HasComment(ctx, pc.ID)
		if err != nil {
			lookupErr = err
			return false
		}
		if exists {
			return false
		}
		fresh = append(fresh, *pc)
		return true
	})
	if err != nil {
		return fmt.Errorf("fetching comments: %w", err)
	}
	if lookupErr != nil {
		return fmt.Errorf("checking comment history: %w", lookupErr)
	}

	for i := len(fresh) - 1; i >= 0; i-- {
		if err := eng.ingestComment(ctx, c, &fresh[i]); err != nil {
			ProcessError(c.Logger.With("comment", fresh[i].ID), "ingesting comment", err)
		}
	}
	return nil
}

func (eng *Engine) ingestComment(ctx context.Context, c *Community, pc *platform.Comment) error {
	if pc.Author == "" || pc.Author == platform.DeletedName {
		eng.Metrics.UserComments.WithLabelValues(c.Name, "no_author").Inc()
		return nil
	}
	sub, err := eng.trackSubmission(ctx, c, pc.SubmissionID())
	if err != nil {
		return err
	}
	user, err := eng.Store.GetOrCreateUser(ctx, pc.Author)
	if err != nil {
		return err
	}
	row := &store.Comment{
		CommentID:  pc.ID,
		Submission: sub,
		Author:     user,
		Community:  c.Name,
		Created:    pc.Created.UTC(),
		IsRemoved:  pc.IsRemoved(),
		IsDeleted:  pc.IsDeleted(),
	}

	result := "unrestricted"
	if sub.IsRestricted && !row.IsRemoved && !row.IsDeleted {
		elig, err := eng.AuthorEligibility(ctx, c, user)
		if err != nil {
			return err
		}
		result = "allowed"
		if !elig.Eligible {
			row.AuthorRestricted = true
			result = "restricted"
			if c.aboveLiveBar(pc) {
				c.Logger.Debug("comment above live score bar", "comment", pc.ID, "score", pc.Score)
			} else {
				acted, err := eng.filterComment(ctx, c, pc.Fullname(), elig.Reason)
				if err != nil {
					ProcessError(c.Logger, "filtering comment", err)
				} else if acted && c.Config.Restriction.Action == RestrictRemove {
					row.IsRemoved = true
				}
			}
		}
	}
	eng.Metrics.UserComments.WithLabelValues(c.Name, result).Inc()
	return eng.Store.CreateComment(ctx, row)
}

func (c *Community) aboveLiveBar(pc *platform.Comment) bool {
	bar := c.Config.Restriction.LiveScoreBar
	return bar > 0 && pc.Score >= bar
}

// Returns the stored row for a submission, creating and evaluating it on first sight.
func (eng *Engine) trackSubmission(ctx context.Context, c *Community, id string) (*store.Submission, error) {
	row, err := eng.Store.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return row, nil
	}
	ps, err := eng.Platform.Submission(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching submission %s: %w", id, err)
	}
	row = &store.Submission{
		SubmissionID: id,
		Community:    c.Name,
		Created:      ps.Created.UTC(),
	}
	if err := eng.EvaluateSubmission(ctx, c, row, ps); err != nil {
		return nil, err
	}
	return row, nil
}

// Recomputes whether a submission is restricted from its flair, and saves the row. Becoming restricted (or being first seen as restricted) reprocesses the thread. Becoming unrestricted only clears the flag: nothing is reapproved.
func (eng *Engine) EvaluateSubmission(ctx context.Context, c *Community, row *store.Submission, ps *platform.Submission) error {
	logger := c.Logger.With("submission", ps.ID)
	isNew := row.ID == 0
	row.IsRemoved = ps.Removed
	row.IsDeleted = ps.IsDeleted()

	if ps.AuthorMissing() {
		logger.Info("submission author missing, not evaluating restriction")
		row.IsRestricted = false
		return eng.Store.SaveSubmission(ctx, row)
	}
	if row.Author == nil {
		u, err := eng.Store.GetOrCreateUser(ctx, ps.Author)
		if err != nil {
			return err
		}
		row.Author = u
	}

	r := c.Config.Restriction
	was := row.IsRestricted
	row.IsRestricted = r != nil && r.FlairRestricted(ps.LinkFlair)
	if err := eng.Store.SaveSubmission(ctx, row); err != nil {
		return fmt.Errorf("saving submission %s: %w", ps.ID, err)
	}

	switch {
	case row.IsRestricted && (isNew || !was):
		logger.Info("submission restricted", "flair", ps.LinkFlair)
		return eng.ReprocessSubmission(ctx, c, row)
	case !row.IsRestricted && was:
		logger.Info("submission no longer restricted", "flair", ps.LinkFlair)
	}
	return nil
}

// Posts the restriction notice (once) and re-audits every stored comment on the submission.
func (eng *Engine) ReprocessSubmission(ctx context.Context, c *Community, row *store.Submission) error {
	logger := c.Logger.With("submission", row.SubmissionID)
	if !row.IsNotified {
		if err := eng.postNotice(ctx, c, row); err != nil {
			ProcessError(logger, "posting restriction notice", err)
		} else {
			row.IsNotified = true
			if err := eng.Store.SaveSubmission(ctx, row); err != nil {
				return err
			}
		}
	}

	comments, err := eng.Store.CommentsForSubmission(ctx, row.ID)
	if err != nil {
		return fmt.Errorf("loading comments: %w", err)
	}
	memo := make(map[uint]Eligibility)
	var flagged []*store.Comment
	reasons := make(map[string]string)
	for i := range comments {
		cm := &comments[i]
		if cm.IsRemoved || cm.IsDeleted {
			continue
		}
		elig, ok := memo[cm.AuthorID]
		if !ok {
			elig, err = eng.AuthorEligibility(ctx, c, cm.Author)
			if err != nil {
				return err
			}
			memo[cm.AuthorID] = elig
		}
		if elig.Eligible {
			continue
		}
		if !cm.AuthorRestricted {
			cm.AuthorRestricted = true
			if err := eng.Store.UpdateComment(ctx, cm); err != nil {
				return err
			}
		}
		flagged = append(flagged, cm)
		reasons[cm.CommentID] = elig.Reason
	}

	live, err := eng.liveComments(ctx, c, flagged)
	if err != nil {
		return err
	}
	acted := 0
	for _, cm := range flagged {
		if live != nil {
			pc, ok := live[cm.CommentID]
			if !ok {
				logger.Info("restricted comment missing from platform", "comment", cm.CommentID)
				continue
			}
			if pc.IsRemoved() || pc.IsDeleted() || c.aboveLiveBar(&pc) {
				continue
			}
		}
		ok, err := eng.filterComment(ctx, c, platform.KindComment+cm.CommentID, reasons[cm.CommentID])
		if err != nil {
			ProcessError(logger, "filtering comment", err)
			continue
		}
		if !ok {
			break
		}
		acted++
		if c.Config.Restriction.Action == RestrictRemove {
			cm.IsRemoved = true
			if err := eng.Store.UpdateComment(ctx, cm); err != nil {
				return err
			}
		}
	}
	logger.Info("reprocessed restricted submission", "removed", fmt.Sprintf("%d/%d", acted, len(comments)))
	return nil
}

// Current platform state of the flagged comments, looked up in batches. Returns nil when no live score bar is configured.
func (eng *Engine) liveComments(ctx context.Context, c *Community, comments []*store.Comment) (map[string]platform.Comment, error) {
	if c.Config.Restriction.LiveScoreBar <= 0 || len(comments) == 0 {
		return nil, nil
	}
	out := make(map[string]platform.Comment, len(comments))
	for start := 0; start < len(comments); start += infoBatchSize {
		end := min(start+infoBatchSize, len(comments))
		fullnames := make([]string, 0, end-start)
		for _, cm := range comments[start:end] {
			fullnames = append(fullnames, platform.KindComment+cm.CommentID)
		}
		infos, err := eng.Platform.CommentsInfo(ctx, fullnames)
		if err != nil {
			return nil, fmt.Errorf("fetching live comment scores: %w", err)
		}
		for _, pc := range infos {
			out[pc.ID] = pc
		}
	}
	return out, nil
}

func (eng *Engine) postNotice(ctx context.Context, c *Community, row *store.Submission) error {
	parent := platform.KindSubmission + row.SubmissionID
	var reply string
	err := eng.mutate(c, "reply", parent, func() error {
		var err error
		reply, err = eng.Platform.Reply(ctx, parent, c.noticeText())
		return err
	})
	if err != nil || reply == "" {
		return err
	}
	return eng.mutate(c, "distinguish", reply, func() error {
		return eng.Platform.Distinguish(ctx, reply, true)
	})
}

// Removes or reports a comment by an ineligible author. Returns false without acting when the removal quota is used up.
func (eng *Engine) filterComment(ctx context.Context, c *Community, fullname, reason string) (bool, error) {
	if c.Config.Restriction.Action == RestrictReport {
		err := eng.mutate(c, "report", fullname, func() error {
			return eng.Platform.Report(ctx, fullname, "restricted thread: "+reason)
		})
		if err != nil {
			return false, err
		}
		eng.Metrics.QueueActions.WithLabelValues(c.Name, "restrict_report").Inc()
		return true, nil
	}

	ok, err := eng.quotaAvailable(ctx, c, "removal", QuotaRemovalsHour, countstore.PeriodHour)
	if err != nil || !ok {
		return false, err
	}
	c.Logger.Info("filtering comment in restricted thread", "comment", fullname, "reason", reason)
	err = eng.mutate(c, "remove", fullname, func() error {
		return eng.Platform.Remove(ctx, fullname, "filtered: "+reason)
	})
	if err != nil {
		return false, err
	}
	if err := eng.spendQuota(ctx, c, "removal"); err != nil {
		ProcessError(c.Logger, "recording removal quota", err)
	}
	eng.Metrics.QueueActions.WithLabelValues(c.Name, "restrict_remove").Inc()
	return true, nil
}

// Whether an author has enough history in the community to comment in restricted threads. Authors never seen before are not eligible.
func (eng *Engine) AuthorEligibility(ctx context.Context, c *Community, user *store.User) (Eligibility, error) {
	r := c.Config.Restriction
	if r == nil {
		return Eligibility{Eligible: true}, nil
	}
	if user == nil {
		return Eligibility{Reason: fmt.Sprintf("comments 0 < %d", r.MinItems)}, nil
	}
	now := eng.now()
	before := now.Add(-time.Duration(r.WindowDays) * 24 * time.Hour)
	h, err := eng.Store.AuthorHistory(ctx, user.ID, c.Name, before, r.IncludeSubmissions)
	if err != nil {
		return Eligibility{}, err
	}
	out := Eligibility{History: h}
	if h.Count == 0 || h.Count < r.MinItems {
		out.Reason = fmt.Sprintf("comments %d < %d", h.Count, r.MinItems)
		return out, nil
	}
	if h.Karma < r.MinKarma {
		out.Reason = fmt.Sprintf("karma %d < %d", h.Karma, r.MinKarma)
		return out, nil
	}
	if r.MinAccountAgeDays > 0 {
		created, err := eng.accountCreated(ctx, user)
		if err != nil {
			return Eligibility{}, err
		}
		if created.IsZero() {
			out.Reason = "account age unknown"
			return out, nil
		}
		if age := int(now.Sub(created).Hours() / 24); age < r.MinAccountAgeDays {
			out.Reason = fmt.Sprintf("account age %d < %d", age, r.MinAccountAgeDays)
			return out, nil
		}
	}
	out.Eligible = true
	return out, nil
}

// Account creation time, from the database, the cache, or the platform, in that order. Zero if the account no longer exists.
func (eng *Engine) accountCreated(ctx context.Context, user *store.User) (time.Time, error) {
	if user.Created != nil {
		return *user.Created, nil
	}
	if user.IsDeleted {
		return time.Time{}, nil
	}
	cached, err := eng.Cache.Get(ctx, cacheAccountCreated, user.Name)
	if err != nil {
		return time.Time{}, err
	}
	if cached != "" {
		t, err := time.Parse(time.RFC3339, cached)
		if err == nil {
			return t, nil
		}
		eng.Logger.Warn("dropping bad cached account creation time", "user", user.Name, "value", cached)
		if err := eng.Cache.Purge(ctx, cacheAccountCreated, user.Name); err != nil {
			ProcessError(eng.Logger, "purging cached account creation time", err)
		}
	}

	pu, err := eng.Platform.User(ctx, user.Name)
	if errors.Is(err, platform.ErrNotFound) {
		return time.Time{}, eng.Store.MarkUserDeleted(ctx, user)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("fetching user %s: %w", user.Name, err)
	}
	created := pu.Created.UTC()
	if err := eng.Store.SetUserCreated(ctx, user, created); err != nil {
		return time.Time{}, err
	}
	if err := eng.Cache.Set(ctx, cacheAccountCreated, user.Name, created.Format(time.RFC3339)); err != nil {
		ProcessError(eng.Logger, "caching account creation time", err)
	}
	return created, nil
}

// Re-evaluates submissions whose flair was edited, per this cycle's new log entries.
func (eng *Engine) CheckFlairChanges(ctx context.Context, c *Community) error {
	if c.Config.Restriction == nil {
		return nil
	}
	done := make(map[string]bool)
	for _, e := range c.NewLog {
		if e.Action != "editflair" || !strings.HasPrefix(e.TargetFullname, platform.KindSubmission) {
			continue
		}
		id := platform.StripKind(e.TargetFullname)
		if done[id] {
			continue
		}
		done[id] = true

		ps, err := eng.Platform.Submission(ctx, id)
		if err != nil {
			ProcessError(c.Logger.With("submission", id), "fetching submission after flair change", err)
			continue
		}
		row, err := eng.Store.GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		if row == nil {
			row = &store.Submission{
				SubmissionID: id,
				Community:    c.Name,
				Created:      ps.Created.UTC(),
			}
		}
		if err := eng.EvaluateSubmission(ctx, c, row, ps); err != nil {
			ProcessError(c.Logger.With("submission", id), "evaluating submission after flair change", err)
		}
	}
	return nil
}

// Fills in karma and removal state for comments old enough that the platform's numbers are stable.
func (eng *Engine) BackfillKarma(ctx context.Context, c *Community) error {
	if c.Config.Restriction == nil {
		return nil
	}
	cutoff := eng.now().Add(-backfillStableAfter)
	comments, err := eng.Store.CommentsNeedingKarma(ctx, c.Name, cutoff, backfillLimit)
	if err != nil {
		return fmt.Errorf("loading comments to backfill: %w", err)
	}
	if len(comments) == 0 {
		return nil
	}

	results := make(map[string]int)
	for start := 0; start < len(comments); start += infoBatchSize {
		batch := comments[start:min(start+infoBatchSize, len(comments))]
		fullnames := make([]string, 0, len(batch))
		for _, cm := range batch {
			fullnames = append(fullnames, platform.KindComment+cm.CommentID)
		}
		infos, err := eng.Platform.CommentsInfo(ctx, fullnames)
		if err != nil {
			return fmt.Errorf("fetching comments to backfill: %w", err)
		}
		byID := make(map[string]platform.Comment, len(infos))
		for _, pc := range infos {
			byID[pc.ID] = pc
		}

		for i := range batch {
			cm := &batch[i]
			pc, ok := byID[cm.CommentID]
			result := "updated"
			karma := 0
			switch {
			case !ok:
				result = "missing"
				c.Logger.Info("comment missing from backfill lookup", "comment", cm.CommentID)
			case pc.IsDeleted():
				result = "deleted"
				cm.IsDeleted = true
				karma = pc.Score
			case pc.IsRemoved():
				result = "removed"
				cm.IsRemoved = true
				karma = pc.Score
			default:
				karma = pc.Score
			}
			cm.Karma = &karma
			if err := eng.Store.UpdateComment(ctx, cm); err != nil {
				return err
			}
			results[result]++
			eng.Metrics.BackfillComments.WithLabelValues(c.Name, result).Inc()
		}
	}
	c.Logger.Info("backfilled comment karma", "updated", results["updated"], "removed", results["removed"], "deleted", results["deleted"], "missing", results["missing"])
	return nil
}
