package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/queuebot/queuebot/platform"
)

const (
	kindComment   = "t1"
	kindLink      = "t3"
	kindModAction = "modaction"
	pageSize      = 100
	// most pages walked by a single listing call
	maxPages = 10
)

func communityPath(community, rest string) string {
	return "/r/" + url.PathEscape(community) + rest
}

func notFound(what string) error {
	return &platform.Error{StatusCode: http.StatusNotFound, Wrapped: fmt.Errorf("%s not found", what)}
}

// Walks a paginated listing, calling visit with each page until it returns false or pages run out
func (c *Client) paginate(ctx context.Context, path string, params url.Values, visit func(*listing) bool) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("limit", strconv.Itoa(pageSize))
	for page := 0; page < maxPages; page++ {
		var l listing
		if err := c.get(ctx, path, params, &l); err != nil {
			return err
		}
		if !visit(&l) || l.Data.After == "" {
			return nil
		}
		params.Set("after", l.Data.After)
	}
	c.Logger.Debug("listing page limit reached", "path", path)
	return nil
}

func (c *Client) Me(ctx context.Context) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	if err := c.get(ctx, "/api/v1/me", nil, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}

func (c *Client) ModLog(ctx context.Context, community string, visit func(*platform.LogEntry) bool) error {
	var decodeErr error
	err := c.paginate(ctx, communityPath(community, "/about/log"), nil, func(l *listing) bool {
		for _, t := range l.Data.Children {
			if t.Kind != kindModAction {
				continue
			}
			var a modAction
			if err := json.Unmarshal(t.Data, &a); err != nil {
				decodeErr = fmt.Errorf("decoding mod action: %w", err)
				return false
			}
			e := a.entry()
			if !visit(&e) {
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	return decodeErr
}

func (c *Client) ModQueue(ctx context.Context, community string) ([]platform.QueueItem, error) {
	var out []platform.QueueItem
	var decodeErr error
	err := c.paginate(ctx, communityPath(community, "/about/modqueue"), nil, func(l *listing) bool {
		for _, t := range l.Data.Children {
			if t.Kind != kindComment && t.Kind != kindLink {
				continue
			}
			var d thingData
			if err := json.Unmarshal(t.Data, &d); err != nil {
				decodeErr = fmt.Errorf("decoding modqueue item: %w", err)
				return false
			}
			out = append(out, d.queueItem())
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

func (c *Client) submissions(ctx context.Context, path string, limit int) ([]platform.Submission, error) {
	var out []platform.Submission
	var decodeErr error
	err := c.paginate(ctx, path, nil, func(l *listing) bool {
		links, err := children(l, kindLink)
		if err != nil {
			decodeErr = err
			return false
		}
		for i := range links {
			out = append(out, links[i].submission())
			if limit > 0 && len(out) >= limit {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

func (c *Client) Unmoderated(ctx context.Context, community string) ([]platform.Submission, error) {
	return c.submissions(ctx, communityPath(community, "/about/unmoderated"), 0)
}

func (c *Client) NewSubmissions(ctx context.Context, community string, limit int) ([]platform.Submission, error) {
	return c.submissions(ctx, communityPath(community, "/new"), limit)
}

func (c *Client) Comments(ctx context.Context, community string, visit func(*platform.Comment) bool) error {
	var decodeErr error
	err := c.paginate(ctx, communityPath(community, "/comments"), nil, func(l *listing) bool {
		comments, err := children(l, kindComment)
		if err != nil {
			decodeErr = err
			return false
		}
		for i := range comments {
			pc := comments[i].comment()
			if !visit(&pc) {
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	return decodeErr
}

func (c *Client) CommentsInfo(ctx context.Context, fullnames []string) ([]platform.Comment, error) {
	if len(fullnames) == 0 {
		return nil, nil
	}
	var out []platform.Comment
	for start := 0; start < len(fullnames); start += pageSize {
		batch := fullnames[start:min(start+pageSize, len(fullnames))]
		var l listing
		if err := c.get(ctx, "/api/info", url.Values{"id": {strings.Join(batch, ",")}}, &l); err != nil {
			return nil, err
		}
		comments, err := children(&l, kindComment)
		if err != nil {
			return nil, err
		}
		for i := range comments {
			out = append(out, comments[i].comment())
		}
	}
	return out, nil
}

// Fetches a post along with its first top-level comment, to find a stickied moderator comment
func (c *Client) Submission(ctx context.Context, id string) (*platform.Submission, error) {
	var resp []listing
	if err := c.get(ctx, "/comments/"+url.PathEscape(id), url.Values{"limit": {"1"}}, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, notFound("submission " + id)
	}
	links, err := children(&resp[0], kindLink)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, notFound("submission " + id)
	}
	s := links[0].submission()
	if len(resp) > 1 {
		comments, err := children(&resp[1], kindComment)
		if err != nil {
			return nil, err
		}
		if len(comments) > 0 && comments[0].Stickied {
			s.StickiedCommentAuthor = comments[0].Author
		}
	}
	return &s, nil
}

func (c *Client) Replies(ctx context.Context, commentFullname string) ([]platform.Comment, error) {
	infos, err := c.CommentsInfo(ctx, []string{commentFullname})
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, notFound("comment " + commentFullname)
	}
	target := infos[0]

	var resp []listing
	params := url.Values{
		"comment": {target.ID},
		"depth":   {"2"},
		"limit":   {"500"},
		"sort":    {"old"},
	}
	if err := c.get(ctx, "/comments/"+url.PathEscape(target.SubmissionID()), params, &resp); err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("unexpected comment tree response for %s", commentFullname)
	}
	comments, err := children(&resp[1], kindComment)
	if err != nil {
		return nil, err
	}
	for _, d := range comments {
		if d.ID != target.ID {
			continue
		}
		raw := d.Replies
		if len(raw) == 0 || raw[0] != '{' {
			return nil, nil
		}
		var replies listing
		if err := json.Unmarshal(raw, &replies); err != nil {
			return nil, fmt.Errorf("decoding replies: %w", err)
		}
		direct, err := children(&replies, kindComment)
		if err != nil {
			return nil, err
		}
		out := make([]platform.Comment, 0, len(direct))
		for i := range direct {
			out = append(out, direct[i].comment())
		}
		return out, nil
	}
	return nil, nil
}

func (c *Client) User(ctx context.Context, name string) (*platform.User, error) {
	var resp struct {
		Data struct {
			Name       string  `json:"name"`
			CreatedUTC float64 `json:"created_utc"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/user/"+url.PathEscape(name)+"/about", nil, &resp); err != nil {
		return nil, err
	}
	// suspended accounts come back without a creation time
	if resp.Data.CreatedUTC == 0 {
		return nil, notFound("user " + name)
	}
	return &platform.User{Name: resp.Data.Name, Created: unixTime(resp.Data.CreatedUTC)}, nil
}

// Only the first page of conversations in the given state.
func (c *Client) Conversations(ctx context.Context, community string, state platform.ConversationState) ([]platform.Conversation, error) {
	params := url.Values{
		"entity": {community},
		"state":  {string(state)},
		"limit":  {strconv.Itoa(pageSize)},
		"sort":   {"recent"},
	}
	var resp conversationsResponse
	if err := c.get(ctx, "/api/mod/conversations", params, &resp); err != nil {
		return nil, err
	}
	return resp.conversations(), nil
}

func (c *Client) ReplyConversation(ctx context.Context, id, body string, internal bool) error {
	form := url.Values{
		"body":       {body},
		"isInternal": {strconv.FormatBool(internal)},
	}
	return c.post(ctx, "/api/mod/conversations/"+url.PathEscape(id), form, nil)
}

func (c *Client) ArchiveConversation(ctx context.Context, id string) error {
	return c.post(ctx, "/api/mod/conversations/"+url.PathEscape(id)+"/archive", url.Values{}, nil)
}

func (c *Client) Approve(ctx context.Context, fullname string) error {
	return c.post(ctx, "/api/approve", url.Values{"id": {fullname}}, nil)
}

// The mod note is attached with a second request, after the removal itself.
func (c *Client) Remove(ctx context.Context, fullname, modNote string) error {
	if err := c.post(ctx, "/api/remove", url.Values{"id": {fullname}, "spam": {"false"}}, nil); err != nil {
		return err
	}
	if modNote == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]any{
		"item_ids":  []string{fullname},
		"mod_note":  modNote,
		"reason_id": nil,
	})
	if err != nil {
		return err
	}
	return c.post(ctx, "/api/v1/modactions/removal_reasons", url.Values{"json": {string(payload)}}, nil)
}

func (c *Client) Lock(ctx context.Context, fullname string) error {
	return c.post(ctx, "/api/lock", url.Values{"id": {fullname}}, nil)
}

func (c *Client) SetFlair(ctx context.Context, community, fullname, text string) error {
	form := url.Values{
		"api_type": {"json"},
		"link":     {fullname},
		"text":     {text},
	}
	return c.postJSON(ctx, communityPath(community, "/api/flair"), form, nil)
}

func (c *Client) Ban(ctx context.Context, community string, ban platform.Ban) error {
	form := url.Values{
		"api_type":    {"json"},
		"type":        {"banned"},
		"name":        {ban.User},
		"ban_reason":  {ban.Reason},
		"note":        {ban.Note},
		"ban_message": {ban.Message},
	}
	if !ban.Permanent() {
		form.Set("duration", strconv.Itoa(ban.Days))
	}
	return c.postJSON(ctx, communityPath(community, "/api/friend"), form, nil)
}

func (c *Client) Reply(ctx context.Context, parentFullname, text string) (string, error) {
	form := url.Values{
		"api_type": {"json"},
		"thing_id": {parentFullname},
		"text":     {text},
	}
	var data struct {
		Things []thing `json:"things"`
	}
	if err := c.postJSON(ctx, "/api/comment", form, &data); err != nil {
		return "", err
	}
	for _, t := range data.Things {
		var d thingData
		if err := json.Unmarshal(t.Data, &d); err != nil {
			return "", fmt.Errorf("decoding reply: %w", err)
		}
		if d.Name != "" {
			return d.Name, nil
		}
	}
	return "", fmt.Errorf("reply to %s returned no comment", parentFullname)
}

func (c *Client) Distinguish(ctx context.Context, fullname string, sticky bool) error {
	form := url.Values{
		"api_type": {"json"},
		"id":       {fullname},
		"how":      {"yes"},
	}
	if sticky {
		form.Set("sticky", "true")
	}
	return c.postJSON(ctx, "/api/distinguish", form, nil)
}

func (c *Client) Report(ctx context.Context, fullname, reason string) error {
	form := url.Values{
		"api_type": {"json"},
		"thing_id": {fullname},
		"reason":   {reason},
	}
	return c.postJSON(ctx, "/api/report", form, nil)
}

func (c *Client) Message(ctx context.Context, to, subject, body, fromCommunity string) error {
	form := url.Values{
		"api_type": {"json"},
		"to":       {to},
		"subject":  {subject},
		"text":     {body},
	}
	if fromCommunity != "" {
		form.Set("from_sr", fromCommunity)
	}
	return c.postJSON(ctx, "/api/compose", form, nil)
}

func (c *Client) WikiRead(ctx context.Context, community, page string) (string, error) {
	var resp struct {
		Data struct {
			ContentMD string `json:"content_md"`
		} `json:"data"`
	}
	if err := c.get(ctx, communityPath(community, "/wiki/"+page), nil, &resp); err != nil {
		return "", err
	}
	return resp.Data.ContentMD, nil
}

func (c *Client) WikiWrite(ctx context.Context, community, page, content, reason string) error {
	form := url.Values{
		"page":    {page},
		"content": {content},
		"reason":  {reason},
	}
	return c.post(ctx, communityPath(community, "/api/wiki/edit"), form, nil)
}

// Posts to an api_type=json endpoint, surfacing errors reported inside the envelope
func (c *Client) postJSON(ctx context.Context, path string, form url.Values, data any) error {
	var resp jsonResponse
	if err := c.post(ctx, path, form, &resp); err != nil {
		return err
	}
	if err := resp.err(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if data != nil && resp.JSON.Data != nil {
		if err := json.Unmarshal(*resp.JSON.Data, data); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}
