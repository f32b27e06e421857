package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	s, err := OpenMemory(t.Name())
	require.NoError(t, err)
	return s
}

func TestLogEntryUpsert(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := testStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	e := LogEntry{ID: "ModAction_1", Created: now, Moderator: "modA", Action: "removelink", Community: "test"}
	require.NoError(s.UpsertLogEntry(ctx, &e))

	// a second insert with the same id does not change the row
	dupe := e
	dupe.Moderator = "modB"
	require.NoError(s.UpsertLogEntry(ctx, &dupe))

	ok, err := s.HasLogEntry(ctx, "ModAction_1")
	require.NoError(err)
	assert.True(ok)
	ok, err = s.HasLogEntry(ctx, "ModAction_2")
	require.NoError(err)
	assert.False(ok)

	entries, err := s.RecentLogEntries(ctx, "test", 10)
	require.NoError(err)
	require.Len(entries, 1)
	assert.Equal("modA", entries[0].Moderator)
}

func TestTransaction(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := testStore(t)

	require.NoError(s.Begin(ctx))
	assert.True(s.InTransaction())
	assert.Error(s.Begin(ctx))
	require.NoError(s.UpsertLogEntry(ctx, &LogEntry{ID: "a", Created: time.Now(), Moderator: "m", Action: "x", Community: "test"}))
	require.NoError(s.Rollback())

	ok, err := s.HasLogEntry(ctx, "a")
	require.NoError(err)
	assert.False(ok)

	require.NoError(s.Begin(ctx))
	require.NoError(s.UpsertLogEntry(ctx, &LogEntry{ID: "b", Created: time.Now(), Moderator: "m", Action: "x", Community: "test"}))
	require.NoError(s.Commit())
	assert.False(s.InTransaction())
	ok, err = s.HasLogEntry(ctx, "b")
	require.NoError(err)
	assert.True(ok)

	// no-ops outside a transaction
	assert.NoError(s.Commit())
	assert.NoError(s.Rollback())
}

func TestLastActionOnTarget(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := testStore(t)

	now := time.Now().UTC()
	require.NoError(s.UpsertLogEntry(ctx, &LogEntry{ID: "1", Created: now.Add(-2 * time.Hour), Moderator: "modA", Action: "approvelink", TargetFullname: "t3_abc", Community: "test"}))
	require.NoError(s.UpsertLogEntry(ctx, &LogEntry{ID: "2", Created: now.Add(-10 * time.Minute), Moderator: "modB", Action: "removelink", TargetFullname: "t3_abc", Community: "test"}))

	e, err := s.LastActionOnTarget(ctx, "test", "t3_abc", []string{"approvelink", "removelink"}, now.Add(-time.Hour))
	require.NoError(err)
	if assert.NotNil(e) {
		assert.Equal("2", e.ID)
	}
	e, err = s.LastActionOnTarget(ctx, "test", "t3_abc", []string{"approvelink"}, now.Add(-time.Hour))
	require.NoError(err)
	assert.Nil(e)
}

func TestAuthorHistory(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := testStore(t)

	author, err := s.GetOrCreateUser(ctx, "author")
	require.NoError(err)
	again, err := s.GetOrCreateUser(ctx, "author")
	require.NoError(err)
	assert.Equal(author.ID, again.ID)

	now := time.Now().UTC()
	sub := Submission{SubmissionID: "abc", Community: "test", Author: author, Created: now.Add(-60 * 24 * time.Hour)}
	require.NoError(s.SaveSubmission(ctx, &sub))

	karma := func(v int) *int { return &v }
	comments := []Comment{
		{CommentID: "c1", Created: now.Add(-40 * 24 * time.Hour), Karma: karma(5)},
		{CommentID: "c2", Created: now.Add(-35 * 24 * time.Hour), Karma: karma(7)},
		{CommentID: "c3", Created: now.Add(-33 * 24 * time.Hour), Karma: nil},
		{CommentID: "c4", Created: now.Add(-32 * 24 * time.Hour), Karma: karma(100), IsRemoved: true},
		{CommentID: "c5", Created: now.Add(-1 * time.Hour), Karma: karma(50)},
	}
	for i := range comments {
		comments[i].Author = author
		comments[i].Submission = &sub
		comments[i].Community = "test"
		require.NoError(s.CreateComment(ctx, &comments[i]))
	}
	// different community
	require.NoError(s.CreateComment(ctx, &Comment{CommentID: "c6", Author: author, Submission: &sub, Community: "other", Created: now.Add(-40 * 24 * time.Hour), Karma: karma(1000)}))

	cutoff := now.Add(-30 * 24 * time.Hour)
	h, err := s.AuthorHistory(ctx, author.ID, "test", cutoff, false)
	require.NoError(err)
	assert.Equal(History{Count: 3, Karma: 12}, h)

	h, err = s.AuthorHistory(ctx, author.ID, "test", cutoff, true)
	require.NoError(err)
	assert.Equal(History{Count: 4, Karma: 12}, h)

	stranger, err := s.GetOrCreateUser(ctx, "stranger")
	require.NoError(err)
	h, err = s.AuthorHistory(ctx, stranger.ID, "test", cutoff, true)
	require.NoError(err)
	assert.Equal(History{}, h)

	need, err := s.CommentsNeedingKarma(ctx, "test", now.Add(-24*time.Hour), 0)
	require.NoError(err)
	require.Len(need, 1)
	assert.Equal("c3", need[0].CommentID)

	need[0].Karma = karma(3)
	require.NoError(s.UpdateComment(ctx, &need[0]))
	h, err = s.AuthorHistory(ctx, author.ID, "test", cutoff, false)
	require.NoError(err)
	assert.Equal(15, h.Karma)

	got, err := s.GetSubmission(ctx, "abc")
	require.NoError(err)
	if assert.NotNil(got) && assert.NotNil(got.Author) {
		assert.Equal("author", got.Author.Name)
	}
	got, err = s.GetSubmission(ctx, "nope")
	require.NoError(err)
	assert.Nil(got)

	all, err := s.CommentsForSubmission(ctx, sub.ID)
	require.NoError(err)
	assert.Len(all, 6)

	ok, err := s.HasComment(ctx, "c1")
	require.NoError(err)
	assert.True(ok)
}
