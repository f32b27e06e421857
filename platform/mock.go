package platform

import (
	"context"
	"fmt"
	"sync"
)

// One mutating call recorded by MockPlatform
type Action struct {
	Kind   string
	Target string
	Detail string
}

// A fake in-memory platform, for use in tests. Mutating calls are applied to the in-memory state and recorded in Actions.
type MockPlatform struct {
	mu *sync.RWMutex

	Account string
	// per-community, newest-first
	Log      map[string][]LogEntry
	Queue    map[string][]QueueItem
	Unmod    map[string][]Submission
	New      map[string][]Submission
	Stream   map[string][]Comment
	ByID     map[string]*Comment
	Subs     map[string]*Submission
	Children map[string][]string
	Users    map[string]*User
	Convs    map[string]map[ConversationState][]Conversation
	Wiki     map[string]string
	Actions  []Action
	Failures map[string]error
	replySeq int
}

var _ Platform = (*MockPlatform)(nil)

func NewMockPlatform(account string) *MockPlatform {
	return &MockPlatform{
		mu:       &sync.RWMutex{},
		Account:  account,
		Log:      make(map[string][]LogEntry),
		Queue:    make(map[string][]QueueItem),
		Unmod:    make(map[string][]Submission),
		New:      make(map[string][]Submission),
		Stream:   make(map[string][]Comment),
		ByID:     make(map[string]*Comment),
		Subs:     make(map[string]*Submission),
		Children: make(map[string][]string),
		Users:    make(map[string]*User),
		Convs:    make(map[string]map[ConversationState][]Conversation),
		Wiki:     make(map[string]string),
		Failures: make(map[string]error),
	}
}

// Makes the next calls of the given kind (eg "ban") against target fail with err. An empty target matches any target.
func (p *MockPlatform) FailOn(kind, target string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Failures[kind+"/"+target] = err
}

func (p *MockPlatform) AddComment(c Comment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ByID[c.Fullname()] = &c
	if c.ParentID != "" {
		p.Children[c.ParentID] = append(p.Children[c.ParentID], c.Fullname())
	}
}

func (p *MockPlatform) AddSubmission(s Submission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Subs[s.ID] = &s
}

func (p *MockPlatform) AddUser(u User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Users[u.Name] = &u
}

func (p *MockPlatform) SetConversations(community string, state ConversationState, convs []Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Convs[community] == nil {
		p.Convs[community] = make(map[ConversationState][]Conversation)
	}
	p.Convs[community][state] = convs
}

// Returns recorded actions of the given kind
func (p *MockPlatform) ActionsOf(kind string) []Action {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Action
	for _, a := range p.Actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func (p *MockPlatform) ResetActions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Actions = nil
}

// caller must hold the write lock
func (p *MockPlatform) record(kind, target, detail string) error {
	if err := p.failure(kind, target); err != nil {
		return err
	}
	p.Actions = append(p.Actions, Action{Kind: kind, Target: target, Detail: detail})
	return nil
}

func (p *MockPlatform) failure(kind, target string) error {
	if err, ok := p.Failures[kind+"/"+target]; ok {
		return err
	}
	if err, ok := p.Failures[kind+"/"]; ok {
		return err
	}
	return nil
}

func (p *MockPlatform) Me(ctx context.Context) (string, error) {
	return p.Account, nil
}

func (p *MockPlatform) ModLog(ctx context.Context, community string, visit func(*LogEntry) bool) error {
	p.mu.RLock()
	entries := append([]LogEntry(nil), p.Log[community]...)
	err := p.failure("modlog", community)
	p.mu.RUnlock()
	if err != nil {
		return err
	}
	for i := range entries {
		if !visit(&entries[i]) {
			break
		}
	}
	return nil
}

func (p *MockPlatform) ModQueue(ctx context.Context, community string) ([]QueueItem, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.failure("modqueue", community); err != nil {
		return nil, err
	}
	return append([]QueueItem(nil), p.Queue[community]...), nil
}

func (p *MockPlatform) Unmoderated(ctx context.Context, community string) ([]Submission, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Submission(nil), p.Unmod[community]...), nil
}

func (p *MockPlatform) NewSubmissions(ctx context.Context, community string, limit int) ([]Submission, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	subs := p.New[community]
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return append([]Submission(nil), subs...), nil
}

func (p *MockPlatform) Comments(ctx context.Context, community string, visit func(*Comment) bool) error {
	p.mu.RLock()
	stream := append([]Comment(nil), p.Stream[community]...)
	p.mu.RUnlock()
	for i := range stream {
		if !visit(&stream[i]) {
			break
		}
	}
	return nil
}

func (p *MockPlatform) CommentsInfo(ctx context.Context, fullnames []string) ([]Comment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.failure("info", ""); err != nil {
		return nil, err
	}
	var out []Comment
	for _, fn := range fullnames {
		if c, ok := p.ByID[fn]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (p *MockPlatform) Submission(ctx context.Context, id string) (*Submission, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.Subs[id]
	if !ok {
		return nil, &Error{StatusCode: 404, Wrapped: fmt.Errorf("submission %s", id)}
	}
	out := *s
	return &out, nil
}

func (p *MockPlatform) Replies(ctx context.Context, commentFullname string) ([]Comment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Comment
	for _, fn := range p.Children[commentFullname] {
		if c, ok := p.ByID[fn]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (p *MockPlatform) User(ctx context.Context, name string) (*User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.Users[name]
	if !ok {
		return nil, &Error{StatusCode: 404, Wrapped: fmt.Errorf("user %s", name)}
	}
	out := *u
	return &out, nil
}

func (p *MockPlatform) Conversations(ctx context.Context, community string, state ConversationState) ([]Conversation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	byState, ok := p.Convs[community]
	if !ok {
		return nil, nil
	}
	return append([]Conversation(nil), byState[state]...), nil
}

func (p *MockPlatform) ReplyConversation(ctx context.Context, id, body string, internal bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	kind := "modmail_reply"
	if internal {
		kind = "modmail_note"
	}
	return p.record(kind, id, body)
}

func (p *MockPlatform) ArchiveConversation(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("archive", id, "")
}

func (p *MockPlatform) Approve(ctx context.Context, fullname string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("approve", fullname, ""); err != nil {
		return err
	}
	if c, ok := p.ByID[fullname]; ok {
		c.Removed = false
	}
	return nil
}

func (p *MockPlatform) Remove(ctx context.Context, fullname, modNote string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("remove", fullname, modNote); err != nil {
		return err
	}
	if c, ok := p.ByID[fullname]; ok {
		c.Removed = true
	}
	if s, ok := p.Subs[StripKind(fullname)]; ok {
		s.Removed = true
	}
	return nil
}

func (p *MockPlatform) Lock(ctx context.Context, fullname string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("lock", fullname, "")
}

func (p *MockPlatform) SetFlair(ctx context.Context, community, fullname, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("flair", fullname, text)
}

func (p *MockPlatform) Ban(ctx context.Context, community string, ban Ban) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("ban", ban.User, fmt.Sprintf("%d:%s", ban.Days, ban.Reason))
}

func (p *MockPlatform) Reply(ctx context.Context, parentFullname, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("reply", parentFullname, text); err != nil {
		return "", err
	}
	p.replySeq++
	return fmt.Sprintf("%sreply%d", KindComment, p.replySeq), nil
}

func (p *MockPlatform) Distinguish(ctx context.Context, fullname string, sticky bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("distinguish", fullname, fmt.Sprintf("sticky=%t", sticky))
}

func (p *MockPlatform) Report(ctx context.Context, fullname, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("report", fullname, reason)
}

func (p *MockPlatform) Message(ctx context.Context, to, subject, body, fromCommunity string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.record("message", to, subject+"\n"+body)
}

func (p *MockPlatform) WikiRead(ctx context.Context, community, page string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	content, ok := p.Wiki[community+"/"+page]
	if !ok {
		return "", &Error{StatusCode: 404, Wrapped: fmt.Errorf("wiki page %s", page)}
	}
	return content, nil
}

func (p *MockPlatform) WikiWrite(ctx context.Context, community, page, content, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("wiki", community+"/"+page, reason); err != nil {
		return err
	}
	p.Wiki[community+"/"+page] = content
	return nil
}
