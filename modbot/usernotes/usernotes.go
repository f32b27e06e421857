// Codec for the per-community usernotes blob: moderation annotations against users, stored on a wiki page in a compact, compressed, schema-versioned JSON format.
//
// The outer document carries plaintext index tables (moderator names, warning type names) and a schema version. The notes themselves are JSON, zlib compressed, then base64 encoded into a single "blob" field. Each note references the index tables by integer position.
package usernotes

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"
)

// Only supported layout. Any change to field layout needs a version bump.
const SchemaVersion = 6

// Name of the wiki page the blob is stored on
const WikiPage = "usernotes"

var (
	ErrUnsupportedVersion = errors.New("unsupported usernotes schema version")
	ErrCorruptIndex       = errors.New("usernote references out-of-range index")
)

type Kind string

const (
	KindWarn    Kind = "warn"
	KindTempBan Kind = "tempban"
	KindPermBan Kind = "permban"
	KindOther   Kind = "other"
)

// Warning type names written by the bot itself
const (
	WarningWarn    = "abusewarn"
	WarningTempBan = "ban"
	WarningPermBan = "permban"
)

type Note struct {
	Text      string
	Time      time.Time
	Moderator string
	// expanded form of the link
	Link    string
	Warning string
}

// Kind is derived from the warning type name, since that is all the format stores.
func (n *Note) Kind() Kind {
	w := strings.ToLower(n.Warning)
	switch {
	case strings.Contains(w, "perm"):
		return KindPermBan
	case strings.Contains(w, "ban"):
		return KindTempBan
	case strings.Contains(w, "warn"):
		return KindWarn
	}
	return KindOther
}

type Store struct {
	Version    int
	Moderators []string
	// empty string stands for a null entry in the wire table
	Warnings []string
	// most-recent-first per user
	Users map[string][]Note
}

func NewStore() *Store {
	return &Store{
		Version: SchemaVersion,
		Users:   make(map[string][]Note),
	}
}

// Prepends a note to the user's collection
func (s *Store) AddNote(user string, n Note) {
	if s.Users == nil {
		s.Users = make(map[string][]Note)
	}
	s.Users[user] = append([]Note{n}, s.Users[user]...)
}

func (s *Store) Notes(user string) []Note {
	return s.Users[user]
}

type wireConstants struct {
	Users    []string  `json:"users"`
	Warnings []*string `json:"warnings"`
}

type wireDoc struct {
	Version   int           `json:"ver"`
	Constants wireConstants `json:"constants"`
	Blob      string        `json:"blob"`
}

type wireNote struct {
	Text      string `json:"n"`
	Time      int64  `json:"t"`
	Moderator int    `json:"m"`
	Link      string `json:"l"`
	Warning   int    `json:"w"`
}

type wireUser struct {
	Notes []wireNote `json:"ns"`
}

func Decode(raw []byte) (*Store, error) {
	var doc wireDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing usernotes document: %w", err)
	}
	if doc.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}

	s := &Store{
		Version:    doc.Version,
		Moderators: doc.Constants.Users,
		Warnings:   make([]string, len(doc.Constants.Warnings)),
		Users:      make(map[string][]Note),
	}
	for i, w := range doc.Constants.Warnings {
		if w != nil {
			s.Warnings[i] = *w
		}
	}
	if doc.Blob == "" {
		return s, nil
	}

	compressed, err := base64.StdEncoding.DecodeString(doc.Blob)
	if err != nil {
		return nil, fmt.Errorf("decoding usernotes blob: %w", err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("decompressing usernotes blob: %w", err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing usernotes blob: %w", err)
	}

	var users map[string]wireUser
	if err := json.Unmarshal(plain, &users); err != nil {
		return nil, fmt.Errorf("parsing usernotes blob: %w", err)
	}
	for name, wu := range users {
		notes := make([]Note, 0, len(wu.Notes))
		for _, wn := range wu.Notes {
			if wn.Moderator < 0 || wn.Moderator >= len(s.Moderators) {
				return nil, fmt.Errorf("%w: user %s moderator %d", ErrCorruptIndex, name, wn.Moderator)
			}
			if wn.Warning < 0 || wn.Warning >= len(s.Warnings) {
				return nil, fmt.Errorf("%w: user %s warning %d", ErrCorruptIndex, name, wn.Warning)
			}
			notes = append(notes, Note{
				Text:      wn.Text,
				Time:      time.Unix(wn.Time, 0).UTC(),
				Moderator: s.Moderators[wn.Moderator],
				Link:      ExpandLink(wn.Link),
				Warning:   s.Warnings[wn.Warning],
			})
		}
		s.Users[name] = notes
	}
	return s, nil
}

// Serializes the store. Moderator and warning names referenced by notes but missing from the index tables are appended to the store's tables first.
func Encode(s *Store) ([]byte, error) {
	users := make(map[string]wireUser, len(s.Users))
	for name, notes := range s.Users {
		wu := wireUser{Notes: make([]wireNote, 0, len(notes))}
		for _, n := range notes {
			wu.Notes = append(wu.Notes, wireNote{
				Text:      n.Text,
				Time:      n.Time.Unix(),
				Moderator: intern(&s.Moderators, n.Moderator),
				Link:      CompactLink(n.Link),
				Warning:   intern(&s.Warnings, n.Warning),
			})
		}
		users[name] = wu
	}

	plain, err := json.Marshal(users)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	warnings := make([]*string, len(s.Warnings))
	for i := range s.Warnings {
		if s.Warnings[i] != "" {
			warnings[i] = &s.Warnings[i]
		}
	}
	mods := s.Moderators
	if mods == nil {
		mods = []string{}
	}
	s.Version = SchemaVersion
	return json.Marshal(wireDoc{
		Version: SchemaVersion,
		Constants: wireConstants{
			Users:    mods,
			Warnings: warnings,
		},
		Blob: base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
}

func intern(table *[]string, name string) int {
	for i, v := range *table {
		if v == name {
			return i
		}
	}
	*table = append(*table, name)
	return len(*table) - 1
}
