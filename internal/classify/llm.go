package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/jhalloran/mailsift/internal/mail"
)

// DefaultSystemPrompt instructs the model for the regular sorting flow.
const DefaultSystemPrompt = "You are an email classifier. Categorize each email into one of these categories: Work, Personal, Finance, Shopping, Newsletter, Spam, Family, School."

// SpamReviewPrompt replaces the system prompt when re-auditing the spam
// folder. It biases the model toward rescuing legitimate mail.
const SpamReviewPrompt = `You are an email classifier focusing on identifying false positives in spam detection.
Review each email carefully to determine if it's legitimate or actual spam.

Categorize each email into one of these categories:
1. Work - Work-related communications
2. Personal - Personal communications from actual contacts
3. Finance - Banking, investments, bills, receipts
4. Shopping - Order confirmations, shipping notices, product info
5. Newsletter - Subscribed newsletters and updates
6. Spam - Actual spam, scams, unsolicited marketing
7. Family - Communications from family members
8. School - Educational communications

IMPORTANT: Be very careful when classifying. If there's ANY indication the email is from a
legitimate sender that the user might want to see, do NOT classify as Spam.
Consider the sender domain, writing style, and content. Many legitimate marketing emails
and newsletters are incorrectly flagged as spam.`

// ErrMalformed marks a completion response that arrived but did not carry a
// usable choices[0].message.content. Callers treat it as an unusable answer
// rather than a transport failure.
var ErrMalformed = errors.New("malformed completion response")

var addressRe = regexp.MustCompile(`<([^>]+)>`)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// LLMClient calls a chat-completions endpoint to classify a message.
type LLMClient struct {
	URL          string
	Model        string
	SystemPrompt string
	HTTPClient   *http.Client
}

// NewLLMClient builds a client with defaults filled in.
func NewLLMClient(url, model, systemPrompt string) *LLMClient {
	if model == "" {
		model = "local-model"
	}
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &LLMClient{
		URL:          url,
		Model:        model,
		SystemPrompt: systemPrompt,
		HTTPClient:   http.DefaultClient,
	}
}

// Classify sends the message to the endpoint and returns the raw response
// text. Transport, status and decode failures return an error; a response that
// decodes but has no choices returns ErrMalformed.
func (c *LLMClient) Classify(ctx context.Context, m mail.Message, personalContext []string) (string, error) {
	systemPrompt := c.SystemPrompt
	if len(personalContext) > 0 {
		systemPrompt = fmt.Sprintf(
			"%s\n\nHere is some personal context to help you better classify emails:\n%s\n\nUse this context to better understand the significance of senders and email contents.",
			systemPrompt, strings.Join(personalContext, "\n"))
	}

	req := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(m)},
		},
		Temperature: 0.1,
		MaxTokens:   50,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call completion endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("completion endpoint returned %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrMalformed
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func userPrompt(m mail.Message) string {
	address := ""
	if match := addressRe.FindStringSubmatch(m.From); match != nil {
		address = match[1]
	} else if strings.Contains(m.From, "@") {
		address = strings.TrimSpace(m.From)
	}
	return fmt.Sprintf(`Please categorize this email into exactly one of these categories: Work, Personal, Finance, Shopping, Newsletter, Spam, Family, School.

Subject: %s
From: %s
From Email: %s
Date: %s

%s`, m.Subject, m.From, address, m.Date, m.Body)
}
