// Escalating ban ladder: picks the next ban length for a user from their most recent warning or ban.
package bantier

import (
	"regexp"
	"strconv"
	"time"

	"github.com/queuebot/queuebot/modbot/usernotes"
)

const (
	WarnOnly  = 0
	Permanent = -1
)

// A prior note older than this no longer counts towards escalation
const StaleAfter = 182 * 24 * time.Hour

// Ordered tiers, in days. A tier of 0 is a warning without a ban.
type Ladder []int

var DefaultLadder = Ladder{0, 3, 7, 14}

// Returns the tier following current. A nil current (no history) or a stale prior note restarts at the base tier. When no tier is strictly greater than current, including when current is Permanent, exceeded is true and callers should issue a permanent ban.
func (l Ladder) Next(current *int, stale bool) (days int, exceeded bool) {
	if len(l) == 0 {
		return Permanent, true
	}
	if current == nil || stale {
		return l[0], false
	}
	if *current == Permanent {
		return Permanent, true
	}
	for _, tier := range l {
		if tier > *current {
			return tier, false
		}
	}
	return Permanent, true
}

// Like Next, but folds the exceeded case in to Permanent
func Resolve(l Ladder, current *int, stale bool) int {
	days, exceeded := l.Next(current, stale)
	if exceeded {
		return Permanent
	}
	return days
}

var (
	reDays  = regexp.MustCompile(`(?i)(\d+)\s*-?\s*days?\b`)
	reShort = regexp.MustCompile(`(?i)\b(\d+)d\b`)
)

// Derives the current tier from a user's notes (most-recent-first): the first warn or ban note decides. Returns nil if the user has no such note.
func PriorFromNotes(notes []usernotes.Note, now time.Time) (current *int, stale bool) {
	for _, n := range notes {
		var days int
		switch n.Kind() {
		case usernotes.KindWarn:
			days = WarnOnly
		case usernotes.KindPermBan:
			days = Permanent
		case usernotes.KindTempBan:
			days = parseBanDays(n.Text)
		default:
			continue
		}
		return &days, now.Sub(n.Time) > StaleAfter
	}
	return nil, false
}

// unparseable temp bans count as a one day ban
func parseBanDays(text string) int {
	for _, re := range []*regexp.Regexp{reDays, reShort} {
		if m := re.FindStringSubmatch(text); m != nil {
			if d, err := strconv.Atoi(m[1]); err == nil && d > 0 {
				return d
			}
		}
	}
	return 1
}
