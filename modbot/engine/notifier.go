package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Interface for a type that can deliver operator notifications
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Posts messages to a chat "incoming webhook" (Discord style: a JSON object with a "content" field).
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

type WebhookBody struct {
	Content string `json:"content"`
}

func (n *WebhookNotifier) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(WebhookBody{Content: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("failed webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

// Collects messages in memory, for tests
type MemNotifier struct {
	mu       sync.Mutex
	Messages []string
	// returned from every Send when set
	Err error
}

func (n *MemNotifier) Send(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Messages = append(n.Messages, text)
	return nil
}

func (n *MemNotifier) Sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.Messages...)
}
