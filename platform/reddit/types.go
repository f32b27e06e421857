package reddit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/araddon/dateparse"

	"github.com/queuebot/queuebot/platform"
)

type listing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string  `json:"after"`
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Fields of a link (t3) or comment (t1) listing entry. Which ones are set depends on the kind.
type thingData struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Author            string            `json:"author"`
	Subreddit         string            `json:"subreddit"`
	Permalink         string            `json:"permalink"`
	CreatedUTC        float64           `json:"created_utc"`
	Score             int               `json:"score"`
	Approved          bool              `json:"approved"`
	ApprovedBy        string            `json:"approved_by"`
	Removed           bool              `json:"removed"`
	BannedBy          json.RawMessage   `json:"banned_by"`
	UserReports       []json.RawMessage `json:"user_reports"`
	ModReports        []json.RawMessage `json:"mod_reports"`
	Title             string            `json:"title"`
	Selftext          string            `json:"selftext"`
	LinkFlairText     string            `json:"link_flair_text"`
	Locked            bool              `json:"locked"`
	DiscussionType    string            `json:"discussion_type"`
	RemovedByCategory string            `json:"removed_by_category"`
	LinkID            string            `json:"link_id"`
	ParentID          string            `json:"parent_id"`
	Body              string            `json:"body"`
	Stickied          bool              `json:"stickied"`
	// "" when there are no replies, otherwise a listing
	Replies json.RawMessage `json:"replies"`
}

type modAction struct {
	ID              string  `json:"id"`
	CreatedUTC      float64 `json:"created_utc"`
	Mod             string  `json:"mod"`
	Action          string  `json:"action"`
	Details         string  `json:"details"`
	Description     string  `json:"description"`
	TargetAuthor    string  `json:"target_author"`
	TargetFullname  string  `json:"target_fullname"`
	TargetPermalink string  `json:"target_permalink"`
	TargetTitle     string  `json:"target_title"`
	TargetBody      string  `json:"target_body"`
	Subreddit       string  `json:"subreddit"`
}

type conversationsResponse struct {
	Conversations   map[string]wireConversation `json:"conversations"`
	ConversationIDs []string                    `json:"conversationIds"`
	Messages        map[string]wireMessage      `json:"messages"`
}

type wireConversation struct {
	ID            string `json:"id"`
	Subject       string `json:"subject"`
	IsHighlighted bool   `json:"isHighlighted"`
	State         int    `json:"state"`
	Authors       []struct {
		Name    string `json:"name"`
		IsMod   bool   `json:"isMod"`
		IsAdmin bool   `json:"isAdmin"`
	} `json:"authors"`
	ObjIDs []struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	} `json:"objIds"`
	LastUpdated    *string `json:"lastUpdated"`
	LastUnread     *string `json:"lastUnread"`
	LastUserUpdate *string `json:"lastUserUpdate"`
	LastModUpdate  *string `json:"lastModUpdate"`
}

type wireMessage struct {
	ID     string `json:"id"`
	Author struct {
		Name string `json:"name"`
	} `json:"author"`
	BodyMarkdown string `json:"bodyMarkdown"`
	Date         string `json:"date"`
	IsInternal   bool   `json:"isInternal"`
}

// modmail conversation state code for archived
const stateArchived = 2

// Response envelope of api_type=json endpoints
type jsonResponse struct {
	JSON struct {
		Errors [][]any          `json:"errors"`
		Data   *json.RawMessage `json:"data"`
	} `json:"json"`
}

type APIError struct {
	Code    string
	Message string
	Field   string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// The first error in the envelope, if any. A RATELIMIT error is reported as a throttled platform error.
func (r *jsonResponse) err() error {
	if len(r.JSON.Errors) == 0 {
		return nil
	}
	e := r.JSON.Errors[0]
	apiErr := &APIError{}
	for i, v := range e {
		s, _ := v.(string)
		switch i {
		case 0:
			apiErr.Code = s
		case 1:
			apiErr.Message = s
		case 2:
			apiErr.Field = s
		}
	}
	if apiErr.Code == "RATELIMIT" {
		return &platform.Error{StatusCode: 429, Wrapped: apiErr}
	}
	return apiErr
}

func unixTime(f float64) time.Time {
	if f == 0 {
		return time.Time{}
	}
	return time.Unix(int64(f), 0).UTC()
}

// Modmail timestamps are usually RFC 3339 with fractional seconds, but older conversations carry other layouts. Nulls and unparseable values are the zero time.
func isoTime(s *string) time.Time {
	if s == nil || *s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		t, err = dateparse.ParseIn(*s, time.UTC)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

// banned_by is null, a moderator name, or true
func bannedBy(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return ""
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name
	}
	return "true"
}

// User reports are [reason, count, ...] and mod reports are [reason, moderator]
func parseReports(raw []json.RawMessage, mod bool) []platform.Report {
	var out []platform.Report
	for _, r := range raw {
		var fields []any
		if err := json.Unmarshal(r, &fields); err != nil || len(fields) < 2 {
			continue
		}
		rep := platform.Report{}
		rep.Reason, _ = fields[0].(string)
		if mod {
			rep.Moderator, _ = fields[1].(string)
		} else if n, ok := fields[1].(float64); ok {
			rep.Count = int(n)
		}
		out = append(out, rep)
	}
	return out
}

func (d *thingData) queueItem() platform.QueueItem {
	return platform.QueueItem{
		Fullname:    d.Name,
		Author:      d.Author,
		Permalink:   d.Permalink,
		LinkFlair:   d.LinkFlairText,
		Community:   d.Subreddit,
		Created:     unixTime(d.CreatedUTC),
		Approved:    d.Approved,
		Removed:     d.Removed || bannedBy(d.BannedBy) != "",
		UserReports: parseReports(d.UserReports, false),
		ModReports:  parseReports(d.ModReports, true),
	}
}

func (d *thingData) submission() platform.Submission {
	return platform.Submission{
		ID:             d.ID,
		Author:         d.Author,
		Title:          d.Title,
		Permalink:      d.Permalink,
		LinkFlair:      d.LinkFlairText,
		Selftext:       d.Selftext,
		Community:      d.Subreddit,
		ApprovedBy:     d.ApprovedBy,
		DiscussionType: d.DiscussionType,
		Created:        unixTime(d.CreatedUTC),
		Score:          d.Score,
		Approved:       d.Approved,
		Removed:        d.Removed || d.RemovedByCategory == "moderator",
		Locked:         d.Locked,
	}
}

func (d *thingData) comment() platform.Comment {
	return platform.Comment{
		ID:        d.ID,
		LinkID:    d.LinkID,
		ParentID:  d.ParentID,
		Author:    d.Author,
		Body:      d.Body,
		Permalink: d.Permalink,
		Community: d.Subreddit,
		BannedBy:  bannedBy(d.BannedBy),
		Created:   unixTime(d.CreatedUTC),
		Score:     d.Score,
		Removed:   d.Removed,
		Stickied:  d.Stickied,
	}
}

func (a *modAction) entry() platform.LogEntry {
	return platform.LogEntry{
		ID:              a.ID,
		Created:         unixTime(a.CreatedUTC),
		Moderator:       a.Mod,
		Action:          a.Action,
		Details:         a.Details,
		Description:     a.Description,
		TargetAuthor:    a.TargetAuthor,
		TargetFullname:  a.TargetFullname,
		TargetPermalink: a.TargetPermalink,
		TargetTitle:     a.TargetTitle,
		TargetBody:      a.TargetBody,
		Community:       a.Subreddit,
	}
}

func (r *conversationsResponse) conversations() []platform.Conversation {
	out := make([]platform.Conversation, 0, len(r.ConversationIDs))
	for _, id := range r.ConversationIDs {
		wc, ok := r.Conversations[id]
		if !ok {
			continue
		}
		conv := platform.Conversation{
			ID:             wc.ID,
			Subject:        wc.Subject,
			LastUpdated:    isoTime(wc.LastUpdated),
			LastUnread:     isoTime(wc.LastUnread),
			LastUserUpdate: isoTime(wc.LastUserUpdate),
			LastModUpdate:  isoTime(wc.LastModUpdate),
			IsHighlighted:  wc.IsHighlighted,
			IsArchived:     wc.State == stateArchived,
		}
		for _, a := range wc.Authors {
			conv.Authors = append(conv.Authors, platform.Participant{Name: a.Name, IsMod: a.IsMod, IsAdmin: a.IsAdmin})
		}
		for _, obj := range wc.ObjIDs {
			if obj.Key != "messages" {
				continue
			}
			m, ok := r.Messages[obj.ID]
			if !ok {
				continue
			}
			conv.Messages = append(conv.Messages, platform.Message{
				ID:         m.ID,
				Author:     m.Author.Name,
				Body:       m.BodyMarkdown,
				Created:    isoTime(&m.Date),
				IsInternal: m.IsInternal,
			})
		}
		out = append(out, conv)
	}
	return out
}

// decodes the children of a listing with the given kind, skipping others (eg "more" stubs)
func children(l *listing, kind string) ([]thingData, error) {
	var out []thingData
	for _, t := range l.Data.Children {
		if t.Kind != kind {
			continue
		}
		var d thingData
		if err := json.Unmarshal(t.Data, &d); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", kind, err)
		}
		out = append(out, d)
	}
	return out, nil
}
