package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/metantonio/open-first-agent/internal/config"
)

// maxHistory bounds the conversation window sent with each request, counted
// in messages (user and assistant alternating).
const maxHistory = 40

const systemPrompt = `You are a technical assistant with direct access to the user's terminal.
When a request calls for running a shell command, put each command in its own fenced block tagged for execution:

` + "```bash {run}\ncommand here\n```" + `

Use {run:background} for long-running processes. Only tag commands that are safe to run. Keep prose short and concrete.`

// ChatClient talks to an OpenAI-compatible chat-completions endpoint. One
// client serves one session and carries that session's conversation window.
type ChatClient struct {
	provider   config.Provider
	endpoint   string
	httpClient *http.Client

	mu      sync.Mutex
	history []chatMessage
}

func NewChatClient(p config.Provider) *ChatClient {
	return &ChatClient{
		provider:   p,
		endpoint:   strings.TrimRight(p.BaseURL, "/") + "/chat/completions",
		httpClient: &http.Client{Timeout: p.Timeout()},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// SeedHistory replaces the conversation window with a persisted transcript.
// The window cap still applies, so only the most recent exchanges survive.
func (c *ChatClient) SeedHistory(msgs []SeedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = c.history[:0]
	for _, m := range msgs {
		switch m.Sender {
		case "user", "assistant":
			c.history = append(c.history, chatMessage{Role: m.Sender, Content: m.Content})
		}
	}
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
}

// Handle sends one user message, appends the exchange to the conversation
// window, and splits the reply into prose and command blocks.
func (c *ChatClient) Handle(ctx context.Context, text string, snap Snapshot) ([]ResponseEvent, error) {
	reply, err := c.complete(ctx, text, snap)
	if err != nil {
		return nil, &Error{Err: err}
	}

	content, blocks := extractCommandBlocks(reply, snap.WorkingDir)

	var events []ResponseEvent
	if len(blocks) > 0 {
		if t := strings.TrimSpace(content); t != "" {
			events = append(events, ChatText{Text: content})
		}
		for _, b := range blocks {
			events = append(events, b)
		}
		return events, nil
	}
	return []ResponseEvent{ChatText{Text: reply}}, nil
}

func (c *ChatClient) complete(ctx context.Context, text string, snap Snapshot) (string, error) {
	c.mu.Lock()
	messages := make([]chatMessage, 0, len(c.history)+2)
	messages = append(messages, chatMessage{Role: "system", Content: renderSystemPrompt(snap)})
	messages = append(messages, c.history...)
	messages = append(messages, chatMessage{Role: "user", Content: text})
	c.mu.Unlock()

	body, err := json.Marshal(chatRequest{
		Model:       c.provider.Model,
		Messages:    messages,
		Temperature: c.provider.Temperature,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(c.provider.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return "", fmt.Errorf("chat api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat api returned no choices")
	}
	reply := out.Choices[0].Message.Content

	c.mu.Lock()
	c.history = append(c.history,
		chatMessage{Role: "user", Content: text},
		chatMessage{Role: "assistant", Content: reply},
	)
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
	c.mu.Unlock()

	return reply, nil
}

func renderSystemPrompt(snap Snapshot) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	if snap.SSHConnected {
		b.WriteString("\n\nThe terminal is connected to a remote host over SSH; commands run there.")
	}
	if snap.Prompt != "" {
		fmt.Fprintf(&b, "\n\nCurrent terminal prompt: %s", snap.Prompt)
	}
	if snap.BrowserEnabled {
		b.WriteString("\nThe browsing agent is enabled; you may answer questions that need web lookups.")
	}
	return b.String()
}
