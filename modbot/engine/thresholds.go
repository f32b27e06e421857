package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/queuebot/queuebot/modbot/countstore"
	"github.com/queuebot/queuebot/modbot/setstore"
	"github.com/queuebot/queuebot/platform"
)

type Metric string

const (
	MetricUnmod        Metric = "unmod"
	MetricUnmodHours   Metric = "unmod_hours"
	MetricModqueue     Metric = "modqueue"
	MetricModmail      Metric = "modmail"
	MetricModmailHours Metric = "modmail_hours"
)

// Alert line order
var allMetrics = []Metric{MetricUnmod, MetricUnmodHours, MetricModqueue, MetricModmail, MetricModmailHours}

var metricLabels = map[Metric]string{
	MetricUnmod:        "Unmod",
	MetricUnmodHours:   "Oldest unmod in hours",
	MetricModqueue:     "Modqueue",
	MetricModmail:      "Modmail",
	MetricModmailHours: "Oldest modmail in hours",
}

func ParseMetric(name string) (Metric, error) {
	m := Metric(name)
	if _, ok := metricLabels[m]; !ok {
		return "", fmt.Errorf("unknown threshold metric: %q", name)
	}
	return m, nil
}

// Age metrics never count towards a cleared queue
func (m Metric) isCount() bool {
	return m == MetricUnmod || m == MetricModqueue || m == MetricModmail
}

func (qc QueueCounts) Get(m Metric) int {
	switch m {
	case MetricUnmod:
		return qc.Unmod
	case MetricUnmodHours:
		return qc.UnmodHours
	case MetricModqueue:
		return qc.Modqueue
	case MetricModmail:
		return qc.Modmail
	case MetricModmailHours:
		return qc.ModmailHours
	}
	return 0
}

// Minimum time between two alerts for the same community
const AlertWindow = time.Hour

// Refreshes the community's queue depth counts and gauges. Only tracked metrics are fetched.
func (eng *Engine) CountQueues(ctx context.Context, c *Community) error {
	now := eng.now()
	tracked := func(ms ...Metric) bool {
		for _, m := range ms {
			if c.Thresholds[m].Tracked() {
				return true
			}
		}
		return false
	}

	if tracked(MetricUnmod, MetricUnmodHours) {
		subs, err := eng.Platform.Unmoderated(ctx, c.Name)
		if err != nil {
			return fmt.Errorf("fetching unmoderated: %w", err)
		}
		c.Counts.Unmod = len(subs)
		oldest := now
		for _, s := range subs {
			if s.Created.Before(oldest) {
				oldest = s.Created
			}
		}
		c.Counts.UnmodHours = int(now.Sub(oldest).Hours())
	}

	if tracked(MetricModqueue) {
		items, err := eng.modQueue(ctx, c)
		if err != nil {
			return err
		}
		c.Counts.Modqueue = len(items)
	}

	if tracked(MetricModmail, MetricModmailHours) {
		oldest := now
		for _, state := range []platform.ConversationState{platform.ConversationsAll, platform.ConversationsAppeals} {
			convs, err := eng.conversations(ctx, c, state)
			if err != nil {
				return err
			}
			for _, conv := range convs {
				if conv.IsHighlighted {
					continue
				}
				c.Counts.Modmail++
				if conv.LastUpdated.Before(oldest) {
					oldest = conv.LastUpdated
				}
			}
		}
		c.Counts.ModmailHours = int(now.Sub(oldest).Hours())
	}

	c.Logger.Debug("queue counts", "unmod", c.Counts.Unmod, "unmod_hours", c.Counts.UnmodHours, "modqueue", c.Counts.Modqueue, "modmail", c.Counts.Modmail, "modmail_hours", c.Counts.ModmailHours)
	for _, m := range allMetrics {
		if c.Thresholds[m].Tracked() {
			eng.Metrics.QueueSize.WithLabelValues(string(m), c.Name).Set(float64(c.Counts.Get(m)))
		}
	}
	return nil
}

// Renders the threshold alert for the current counts. Returns false if no metric is at or above its post bar.
func AlertText(counts QueueCounts, thresholds map[Metric]Threshold) (string, bool) {
	var lines []string
	ping := false
	for _, m := range allMetrics {
		th, ok := thresholds[m]
		if !ok {
			continue
		}
		val := counts.Get(m)
		if th.Post != nil && val >= *th.Post {
			lines = append(lines, fmt.Sprintf("%s: %d", metricLabels[m], val))
		}
		if th.Ping != nil && val >= *th.Ping {
			ping = true
		}
	}
	if len(lines) == 0 {
		return "", false
	}
	text := strings.Join(lines, "\n")
	if ping {
		text = "@here " + text
	}
	return text, true
}

// True when every tracked count metric is at or below the community's clear level
func (c *Community) queuesClear() bool {
	for _, m := range allMetrics {
		if m.isCount() && c.Thresholds[m].Tracked() && c.Counts.Get(m) > c.Config.ClearAt {
			return false
		}
	}
	return true
}

// Posts a threshold alert at most once per AlertWindow. Inside the window, announces who cleared the queues once they drop back down.
func (eng *Engine) PingQueues(ctx context.Context, c *Community) error {
	now := eng.now()
	if c.LastAlert.IsZero() || now.Sub(c.LastAlert) >= AlertWindow {
		text, ok := AlertText(c.Counts, c.Thresholds)
		if !ok {
			c.HasAlerted = false
			return nil
		}
		c.Logger.Info("posting queue alert", "text", text)
		if err := eng.notify(ctx, c, text); err != nil {
			return fmt.Errorf("posting queue alert: %w", err)
		}
		c.LastAlert = now
		c.HasAlerted = true
		return nil
	}

	if !c.HasAlerted || !c.queuesClear() {
		return nil
	}
	c.Logger.Info("queues clear, attributing")
	entries, err := eng.Store.RecentLogEntries(ctx, c.Name, defaultAttribution.Limit)
	if err != nil {
		return fmt.Errorf("loading recent log entries: %w", err)
	}
	opts := defaultAttribution
	opts.Exclude = eng.Sets.Map(setstore.SetServiceAccounts)
	opts.Exclude[eng.Account] = true
	logEntries := make([]platform.LogEntry, 0, len(entries))
	for _, e := range entries {
		logEntries = append(logEntries, e.Entry())
	}
	mod, ok := AttributeClear(logEntries, now, opts)
	c.HasAlerted = false
	if !ok {
		c.Logger.Info("no moderator to attribute queue clear to")
		return nil
	}
	msg := fmt.Sprintf("%s cleared the queues!", c.DisplayName(mod))
	today, err := eng.Counters.GetCount(ctx, modActionsCountKey, c.Name+"/"+mod, countstore.PeriodDay)
	if err != nil {
		ProcessError(c.Logger, "reading action tally", err)
	} else if today > 0 {
		msg += fmt.Sprintf(" (%d mod actions today)", today)
	}
	if err := eng.notify(ctx, c, msg); err != nil {
		return fmt.Errorf("posting queue clear: %w", err)
	}
	return nil
}

type AttributionOptions struct {
	// most entries considered
	Limit int
	// entries older than this are not counted
	MaxAge time.Duration
	// a moderator needs strictly more actions than this
	Floor   int
	Exclude map[string]bool
}

var defaultAttribution = AttributionOptions{
	Limit:  100,
	MaxAge: 40 * time.Minute,
	Floor:  2,
}

// Picks the moderator with the most recent actions, from entries ordered newest-first. On a tie, the moderator who reached the count first keeps it.
func AttributeClear(entries []platform.LogEntry, now time.Time, opts AttributionOptions) (string, bool) {
	tally := make(map[string]int)
	var order []string
	for i, e := range entries {
		if opts.Limit > 0 && i >= opts.Limit {
			break
		}
		if opts.MaxAge > 0 && now.Sub(e.Created) > opts.MaxAge {
			break
		}
		if opts.Exclude[e.Moderator] {
			continue
		}
		if _, ok := tally[e.Moderator]; !ok {
			order = append(order, e.Moderator)
		}
		tally[e.Moderator]++
	}

	winner := ""
	best := opts.Floor
	for _, mod := range order {
		if tally[mod] > best {
			winner = mod
			best = tally[mod]
		}
	}
	return winner, winner != ""
}
