// Interface and types for the content platform the bot moderates (communities, posts, comments, moderation log, modmail, wiki pages).
//
// The decision engine only talks to the platform through the `Platform` interface. `reddit.Client` is the production implementation; `MockPlatform` is an in-memory implementation used by tests.
package platform

import (
	"context"
	"strings"
	"time"
)

const (
	// fullname prefix for comments
	KindComment = "t1_"
	// fullname prefix for posts ("links")
	KindSubmission = "t3_"
)

// Immutable moderation log event, as returned by the platform.
type LogEntry struct {
	ID              string
	Created         time.Time
	Moderator       string
	Action          string
	Details         string
	Description     string
	TargetAuthor    string
	TargetFullname  string
	TargetPermalink string
	TargetTitle     string
	TargetBody      string
	Community       string
}

// A single report attached to a queue item. For user reports, Moderator is empty and Count holds the number of users who made the report.
type Report struct {
	Reason    string
	Moderator string
	Count     int
}

// Reported content pending operator attention. Fetched fresh every poll cycle.
type QueueItem struct {
	Fullname    string
	Author      string
	Permalink   string
	LinkFlair   string
	Community   string
	Created     time.Time
	Approved    bool
	Removed     bool
	UserReports []Report
	ModReports  []Report
}

func (q *QueueItem) IsComment() bool {
	return strings.HasPrefix(q.Fullname, KindComment)
}

func (q *QueueItem) IsSubmission() bool {
	return strings.HasPrefix(q.Fullname, KindSubmission)
}

// ID without the type prefix
func (q *QueueItem) ID() string {
	return StripKind(q.Fullname)
}

type Submission struct {
	ID         string
	Author     string
	Title      string
	Permalink  string
	LinkFlair  string
	Selftext   string
	Community  string
	ApprovedBy string
	// the platform's "discussion type", eg "CHAT" for live chat posts
	DiscussionType string
	Created        time.Time
	Score          int
	Approved       bool
	Removed        bool
	Locked         bool
	// author of the stickied top-level comment, if any
	StickiedCommentAuthor string
}

func (s *Submission) Fullname() string {
	return KindSubmission + s.ID
}

// Returns true if the author account is gone, in which case the submission can't be evaluated against author history.
func (s *Submission) AuthorMissing() bool {
	return s.Author == "" || s.Author == DeletedName
}

func (s *Submission) IsDeleted() bool {
	return s.Selftext == DeletedName || s.Author == DeletedName
}

type Comment struct {
	ID        string
	LinkID    string
	ParentID  string
	Author    string
	Body      string
	Permalink string
	Community string
	BannedBy  string
	Created   time.Time
	Score     int
	Removed   bool
	Stickied  bool
}

func (c *Comment) Fullname() string {
	return KindComment + c.ID
}

// Submission ID (without prefix) the comment belongs to
func (c *Comment) SubmissionID() string {
	return StripKind(c.LinkID)
}

func (c *Comment) IsDeleted() bool {
	return c.Body == DeletedName
}

// Whether the comment body or moderation state indicates it was removed by moderators.
func (c *Comment) IsRemoved() bool {
	return c.Removed || c.Body == RemovedName || c.BannedBy != ""
}

type User struct {
	Name    string
	Created time.Time
}

type Participant struct {
	Name    string
	IsMod   bool
	IsAdmin bool
}

type Message struct {
	ID         string
	Author     string
	Body       string
	Created    time.Time
	IsInternal bool
}

// Modmail conversation. Zero times mean the platform did not report a value.
type Conversation struct {
	ID             string
	Subject        string
	Authors        []Participant
	Messages       []Message
	LastUpdated    time.Time
	LastUnread     time.Time
	LastUserUpdate time.Time
	LastModUpdate  time.Time
	IsHighlighted  bool
	IsArchived     bool
}

func (c *Conversation) IsUnread() bool {
	return !c.LastUnread.IsZero() && c.LastUnread.After(c.LastUpdated)
}

func (c *Conversation) HasAdminAuthor() bool {
	for _, a := range c.Authors {
		if a.IsAdmin {
			return true
		}
	}
	return false
}

type ConversationState string

const (
	ConversationsAll      ConversationState = "all"
	ConversationsArchived ConversationState = "archived"
	ConversationsAppeals  ConversationState = "appeals"
)

// Ban request. Days <= 0 means a permanent ban.
type Ban struct {
	User    string
	Days    int
	Reason  string
	Note    string
	Message string
}

func (b *Ban) Permanent() bool {
	return b.Days <= 0
}

const (
	DeletedName = "[deleted]"
	RemovedName = "[removed]"
)

func StripKind(fullname string) string {
	if len(fullname) > 3 && fullname[2] == '_' {
		return fullname[3:]
	}
	return fullname
}

// Everything the decision engine needs from the content platform. Any method may fail with a *Error wrapping one of the sentinel errors (permission, rate limit, not found), or with a transport error.
type Platform interface {
	// Name of the authenticated account
	Me(ctx context.Context) (string, error)

	// Streams moderation log entries newest-first. Iteration stops early when visit returns false.
	ModLog(ctx context.Context, community string, visit func(*LogEntry) bool) error
	ModQueue(ctx context.Context, community string) ([]QueueItem, error)
	Unmoderated(ctx context.Context, community string) ([]Submission, error)
	NewSubmissions(ctx context.Context, community string, limit int) ([]Submission, error)
	// Streams new comments in the community newest-first. Iteration stops early when visit returns false.
	Comments(ctx context.Context, community string, visit func(*Comment) bool) error
	// Batch lookup of comments by fullname. Comments the platform no longer knows about are omitted.
	CommentsInfo(ctx context.Context, fullnames []string) ([]Comment, error)
	Submission(ctx context.Context, id string) (*Submission, error)
	// Direct replies to a comment, with current moderation state.
	Replies(ctx context.Context, commentFullname string) ([]Comment, error)
	User(ctx context.Context, name string) (*User, error)

	Conversations(ctx context.Context, community string, state ConversationState) ([]Conversation, error)
	ReplyConversation(ctx context.Context, id, body string, internal bool) error
	ArchiveConversation(ctx context.Context, id string) error

	Approve(ctx context.Context, fullname string) error
	Remove(ctx context.Context, fullname, modNote string) error
	Lock(ctx context.Context, fullname string) error
	SetFlair(ctx context.Context, community, fullname, text string) error
	Ban(ctx context.Context, community string, ban Ban) error
	// Posts a reply and returns the fullname of the new comment
	Reply(ctx context.Context, parentFullname, text string) (string, error)
	Distinguish(ctx context.Context, fullname string, sticky bool) error
	Report(ctx context.Context, fullname, reason string) error
	Message(ctx context.Context, to, subject, body, fromCommunity string) error

	WikiRead(ctx context.Context, community, page string) (string, error)
	WikiWrite(ctx context.Context, community, page, content, reason string) error
}
