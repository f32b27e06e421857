package store

import (
	"time"

	"github.com/queuebot/queuebot/platform"
)

// Moderation log entry, stored once per platform id and never updated
type LogEntry struct {
	ID              string    `gorm:"primaryKey;size:60"`
	Created         time.Time `gorm:"index;not null"`
	Moderator       string    `gorm:"index;size:60;not null"`
	Action          string    `gorm:"size:80;not null"`
	Details         string    `gorm:"size:80"`
	Description     string    `gorm:"size:300"`
	TargetAuthor    string    `gorm:"size:80"`
	TargetFullname  string    `gorm:"index;size:20"`
	TargetPermalink string    `gorm:"size:160"`
	TargetTitle     string    `gorm:"size:300"`
	TargetBody      string    `gorm:"size:300"`
	Community       string    `gorm:"index;size:80"`
}

func NewLogEntry(e *platform.LogEntry) *LogEntry {
	return &LogEntry{
		ID:              e.ID,
		Created:         e.Created.UTC(),
		Moderator:       e.Moderator,
		Action:          e.Action,
		Details:         truncate(e.Details, 80),
		Description:     truncate(e.Description, 300),
		TargetAuthor:    e.TargetAuthor,
		TargetFullname:  e.TargetFullname,
		TargetPermalink: truncate(e.TargetPermalink, 160),
		TargetTitle:     truncate(e.TargetTitle, 300),
		TargetBody:      truncate(e.TargetBody, 300),
		Community:       e.Community,
	}
}

func (e *LogEntry) Entry() platform.LogEntry {
	return platform.LogEntry{
		ID:              e.ID,
		Created:         e.Created,
		Moderator:       e.Moderator,
		Action:          e.Action,
		Details:         e.Details,
		Description:     e.Description,
		TargetAuthor:    e.TargetAuthor,
		TargetFullname:  e.TargetFullname,
		TargetPermalink: e.TargetPermalink,
		TargetTitle:     e.TargetTitle,
		TargetBody:      e.TargetBody,
		Community:       e.Community,
	}
}

// cuts s to at most n runes
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type User struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;size:80;not null"`
	// account creation time, when it has been looked up
	Created   *time.Time
	IsDeleted bool
}

// Submission tracked for restricted-thread moderation
type Submission struct {
	ID           uint   `gorm:"primaryKey"`
	SubmissionID string `gorm:"uniqueIndex;size:12;not null"`
	Community    string `gorm:"index;size:80"`
	AuthorID     *uint
	Author       *User
	Created      time.Time `gorm:"index"`
	IsRestricted bool
	IsRemoved    bool
	IsDeleted    bool
	IsNotified   bool
}

type Comment struct {
	ID           uint   `gorm:"primaryKey"`
	CommentID    string `gorm:"uniqueIndex;size:12;not null"`
	SubmissionID uint   `gorm:"index;not null"`
	Submission   *Submission
	AuthorID     uint `gorm:"index;not null"`
	Author       *User
	Community    string    `gorm:"index;size:80"`
	Created      time.Time `gorm:"index"`
	// nil until backfilled
	Karma            *int
	IsRemoved        bool
	IsDeleted        bool
	AuthorRestricted bool
}
