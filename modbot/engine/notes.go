package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/queuebot/queuebot/modbot/usernotes"
	"github.com/queuebot/queuebot/platform"
)

// Reads the community's usernotes from its wiki page. A missing or empty page is an empty store.
func (eng *Engine) LoadUsernotes(ctx context.Context, c *Community) (*usernotes.Store, error) {
	raw, err := eng.Platform.WikiRead(ctx, c.Name, usernotes.WikiPage)
	if errors.Is(err, platform.ErrNotFound) {
		return usernotes.NewStore(), nil
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return usernotes.NewStore(), nil
	}
	return usernotes.Decode([]byte(raw))
}

// Writes the usernotes wiki page. If the write is rejected for lack of permission and a backup identity is configured, the write is retried once with the backup.
func (eng *Engine) SaveUsernotes(ctx context.Context, c *Community, s *usernotes.Store, reason string) error {
	raw, err := usernotes.Encode(s)
	if err != nil {
		return err
	}
	write := func(p platform.Platform) error {
		return eng.mutate(c, "wiki write", usernotes.WikiPage, func() error {
			return p.WikiWrite(ctx, c.Name, usernotes.WikiPage, string(raw), reason)
		})
	}

	primary := eng.Platform
	if c.Config.UseBackupForUsernotes && eng.Backup != nil {
		primary = eng.Backup
	}
	err = write(primary)
	if err == nil || !platform.IsPermission(err) || eng.Backup == nil || primary == eng.Backup {
		return err
	}
	c.Logger.Warn("failed to save usernotes, retrying with backup identity", "err", err)
	if err := write(eng.Backup); err != nil {
		return fmt.Errorf("saving usernotes with backup identity: %w", err)
	}
	c.Logger.Warn("saved usernotes with backup identity")
	return nil
}

// Prepends a note to the user's notes and saves the page
func (eng *Engine) AddUsernote(ctx context.Context, c *Community, user string, n usernotes.Note) error {
	s, err := eng.LoadUsernotes(ctx, c)
	if err != nil {
		return fmt.Errorf("loading usernotes: %w", err)
	}
	s.AddNote(user, n)
	reason := fmt.Sprintf("\"create new note on user %s\" via %s", user, eng.Account)
	return eng.SaveUsernotes(ctx, c, s, reason)
}
