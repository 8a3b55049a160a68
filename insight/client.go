// ABOUTME: Insight generator backed by an OpenAI-compatible chat completions API
// ABOUTME: Sends one non-streaming request per deal and returns the reply text

package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deangilmoreremix/update3.0-new-sub002/models"
)

const systemPrompt = "You are a sales coach. Given a CRM deal, reply with a short assessment of its health and the single most useful next action."

// maxResponseBytes caps how much of a reply is read.
const maxResponseBytes = 1 << 20

var (
	ErrEmptyResponse    = errors.New("insight: empty response")
	ErrResponseTooLarge = errors.New("insight: response too large")
)

// Client calls <BaseURL>/chat/completions.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string

	http *http.Client
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) Analyze(ctx context.Context, deal models.Deal) (string, error) {
	dealJSON, err := json.Marshal(deal)
	if err != nil {
		return "", fmt.Errorf("failed to encode deal: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(dealJSON)},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call insight service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return "", err
	}
	if len(raw) > maxResponseBytes {
		return "", fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, maxResponseBytes)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("insight: /chat/completions returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode insight response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("insight: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
