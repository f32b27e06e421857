// Named sets of strings: known moderation log action kinds, service accounts, and other operator lists.
package setstore

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"
)

const (
	SetKnownLogTypes   = "known-log-types"
	SetServiceAccounts = "service-accounts"
)

type SetStore interface {
	InSet(ctx context.Context, name, val string) (bool, error)
}

type MemSetStore struct {
	mu   sync.RWMutex
	Sets map[string]map[string]bool
}

var _ SetStore = (*MemSetStore)(nil)

func NewMemSetStore() *MemSetStore {
	return &MemSetStore{
		Sets: make(map[string]map[string]bool),
	}
}

// Store populated with built-in known log action kinds and service accounts
func NewDefaultSetStore() *MemSetStore {
	s := NewMemSetStore()
	s.Add(SetKnownLogTypes, defaultKnownLogTypes...)
	s.Add(SetServiceAccounts, "AutoModerator")
	return s
}

func (s *MemSetStore) InSet(ctx context.Context, name, val string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.Sets[name]
	if !ok {
		// NOTE: currently returns false when entire set isn't found
		return false, nil
	}
	return set[val], nil
}

func (s *MemSetStore) Add(name string, vals ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.Sets[name]
	if !ok {
		set = make(map[string]bool, len(vals))
		s.Sets[name] = set
	}
	for _, v := range vals {
		set[v] = true
	}
}

// Sorted members of a set, or nil if it doesn't exist
func (s *MemSetStore) Members(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.Sets[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Copy of a set as a map, for components that want direct lookups
func (s *MemSetStore) Map(name string) map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.Sets[name]))
	for v := range s.Sets[name] {
		out[v] = true
	}
	return out
}

// Loads sets from a JSON object of name to list of strings. Sets in the file replace any existing set with the same name.
func (s *MemSetStore) LoadFromFileJSON(p string) error {

	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	var sets map[string][]string
	if err := json.Unmarshal(raw, &sets); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, l := range sets {
		m := make(map[string]bool, len(l))
		for _, val := range l {
			m[val] = true
		}
		s.Sets[name] = m
	}
	return nil
}

var defaultKnownLogTypes = []string{
	"spamlink",
	"removelink",
	"approvelink",
	"spamcomment",
	"removecomment",
	"approvecomment",
	"showcomment",
	"distinguish",
	"marknsfw",
	"ignorereports",
	"unignorereports",
	"setsuggestedsort",
	"sticky",
	"unsticky",
	"setcontestmode",
	"unsetcontestmode",
	"lock",
	"unlock",
	"spoiler",
	"unspoiler",
	"modmail_enrollment",
	"markoriginalcontent",
	"banuser",
	"unbanuser",
	"muteuser",
	"unmuteuser",
	"editflair",
	"wikirevise",
	"addremovalreason",
	"addnote",
	"deletenote",
}
