package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hermod-ai/hermod/internal/mail"
)

const chatTimeout = 60 * time.Second

// message is a chat message in the Ollama API format.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// schema describes the expected JSON output structure for structured chat.
type schema struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type schemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   any       `json:"format,omitempty"`
}

// chatResponse is the JSON returned by POST /api/chat (non-streaming).
type chatResponse struct {
	Message message `json:"message"`
}

// OllamaAssistant implements Assistant against a local Ollama instance.
type OllamaAssistant struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaAssistant creates an assistant targeting the given Ollama base URL
// and chat model.
func NewOllamaAssistant(baseURL, model string) *OllamaAssistant {
	return &OllamaAssistant{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 0},
	}
}

// Ping returns true if the Ollama server responds to GET /api/tags with 200.
func (a *OllamaAssistant) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// chat sends messages to the configured model and returns the raw response.
// When jsonSchema is non-nil, structured output is requested.
func (a *OllamaAssistant) chat(ctx context.Context, messages []message, jsonSchema *schema) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	cr := chatRequest{
		Model:    a.model,
		Messages: messages,
		Stream:   false,
	}
	if jsonSchema != nil {
		cr.Format = jsonSchema
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat: unexpected status %d", resp.StatusCode)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	return result.Message.Content, nil
}

// emailDigest renders emails into a compact numbered list for a prompt.
func emailDigest(emails []mail.EmailSummary) string {
	var b strings.Builder
	for i, e := range emails {
		fmt.Fprintf(&b, "%d. id=%s from=%s subject=%q received=%s\n   %s\n",
			i+1, e.ID, e.From, e.Subject, e.Received.Format(time.RFC3339), e.Snippet)
	}
	return b.String()
}

func (a *OllamaAssistant) Classify(ctx context.Context, emails []mail.EmailSummary) ([]Classification, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	messages := []message{
		{Role: "system", Content: "You triage email. For every email decide a priority " +
			"(high, medium, or low) and a confidence between 0 and 1. Respond with JSON: " +
			`{"classifications":[{"email_id":...,"priority":...,"confidence":...,"reason":...}]}.`},
		{Role: "user", Content: emailDigest(emails)},
	}

	raw, err := a.chat(ctx, messages, &schema{
		Type: "object",
		Properties: map[string]schemaProperty{
			"classifications": {Type: "array", Description: "One verdict per email, in input order"},
		},
		Required: []string{"classifications"},
	})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	var result struct {
		Classifications []Classification `json:"classifications"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("classify: unmarshalling response: %w", err)
	}
	return result.Classifications, nil
}

func (a *OllamaAssistant) Summarize(ctx context.Context, emails []mail.EmailSummary) (InboxSummary, error) {
	messages := []message{
		{Role: "system", Content: "You summarize a batch of emails for a morning briefing. " +
			"Respond with JSON: a short summary paragraph, a list of action items, and a list of FYI notes."},
		{Role: "user", Content: emailDigest(emails)},
	}

	raw, err := a.chat(ctx, messages, &schema{
		Type: "object",
		Properties: map[string]schemaProperty{
			"summary":      {Type: "string", Description: "One-paragraph overview"},
			"action_items": {Type: "array", Description: "Things the user must act on"},
			"fyi":          {Type: "array", Description: "Notable but non-actionable items"},
		},
		Required: []string{"summary"},
	})
	if err != nil {
		return InboxSummary{}, fmt.Errorf("summarize: %w", err)
	}

	var result InboxSummary
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return InboxSummary{}, fmt.Errorf("summarize: unmarshalling response: %w", err)
	}
	return result, nil
}

func (a *OllamaAssistant) DraftReply(ctx context.Context, email mail.EmailSummary) (ReplyDraft, error) {
	messages := []message{
		{Role: "system", Content: "You decide whether an email needs a reply, and draft one when it does. " +
			"Newsletters, notifications, and FYI mail need no reply. Respond with JSON."},
		{Role: "user", Content: emailDigest([]mail.EmailSummary{email})},
	}

	raw, err := a.chat(ctx, messages, &schema{
		Type: "object",
		Properties: map[string]schemaProperty{
			"needs_reply": {Type: "boolean", Description: "Whether any response is warranted"},
			"draft":       {Type: "string", Description: "The reply body, when needs_reply is true"},
		},
		Required: []string{"needs_reply"},
	})
	if err != nil {
		return ReplyDraft{}, fmt.Errorf("draft reply: %w", err)
	}

	var result ReplyDraft
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return ReplyDraft{}, fmt.Errorf("draft reply: unmarshalling response: %w", err)
	}
	return result, nil
}

func (a *OllamaAssistant) EvaluateConfigChange(ctx context.Context, req EvolutionRequest) (ProposalEvaluation, error) {
	evidence, err := json.Marshal(req)
	if err != nil {
		return ProposalEvaluation{}, err
	}

	messages := []message{
		{Role: "system", Content: "You review an email agent's recent performance and decide whether " +
			"changing exactly one of its numeric parameters would help. Be conservative: when in doubt, " +
			"propose nothing. Respond with JSON."},
		{Role: "user", Content: string(evidence)},
	}

	raw, err := a.chat(ctx, messages, &schema{
		Type: "object",
		Properties: map[string]schemaProperty{
			"propose":   {Type: "boolean", Description: "Whether to propose a change at all"},
			"field":     {Type: "string", Description: "The parameter to change"},
			"new_value": {Type: "number", Description: "The proposed value"},
			"reasoning": {Type: "string", Description: "Why the change should help"},
		},
		Required: []string{"propose"},
	})
	if err != nil {
		return ProposalEvaluation{}, fmt.Errorf("evaluate config change: %w", err)
	}

	var result ProposalEvaluation
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return ProposalEvaluation{}, fmt.Errorf("evaluate config change: unmarshalling response: %w", err)
	}
	return result, nil
}
