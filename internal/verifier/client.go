package verifier

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
	"unicode/utf8"
)

const (
	nextActionSystem = `You are an auditor. Evaluate whether the "next action" is valid.
Valid = starts with a verb (call, email, draft, buy, schedule, etc.), has a concrete object (person/file/place), doable in one sitting, no placeholders (TBD, figure out, work on, handle).
Return PASS only if all criteria are met. Return FAIL with specific reasons otherwise. Return NEEDS_USER if the user must provide missing info.`

	completionSystem = `You are an auditor. Evaluate whether a task can be marked DONE given the evidence provided.
Evidence might be: draft text, email draft (recipient + subject + body), decision note, or file/schedule reference.
Return PASS only if the evidence is sufficient to confirm the work was done. Return FAIL with reasons if evidence is missing or vague.`

	projectOutcomeSystem = `You are an auditor. Evaluate whether a project "outcome statement" is concrete and testable.
Valid = specific, measurable or verifiable result (e.g. "Have signed contract with vendor X", "Launch feature Y on staging").
Return PASS only if the outcome is clear enough to know when the project is done. Return FAIL for vague outcomes (e.g. "improve things", "get organized"). Return NEEDS_USER if the user must provide missing info.`
)

// Client calls an OpenAI-compatible chat completions endpoint and parses the
// structured verdict. Every transport or parse problem degrades to NEEDS_USER
// so the gate asks the user instead of passing silently.
type Client struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{BaseURL: baseURL, APIKey: apiKey, Model: model, Timeout: timeout}
}

func (c *Client) VerifyNextAction(ctx context.Context, actionText string) Output {
	return c.check(ctx, nextActionSystem, fmt.Sprintf("Next action: %q", actionText))
}

func (c *Client) VerifyCompletion(ctx context.Context, title, actionText string, ev *Evidence) Output {
	summary := "No content or file provided."
	evType := ""
	if ev != nil {
		evType = ev.ArtifactType
		switch {
		case hasText(ev.Content):
			summary = "Content: " + truncate(*ev.Content, 1500)
		case hasText(ev.FilePointer):
			summary = "File/pointer: " + *ev.FilePointer
		}
	}
	user := fmt.Sprintf("Task: %q\nAction: %q\nEvidence type: %s\n%s", title, actionText, evType, summary)
	return c.check(ctx, completionSystem, user)
}

// truncate cuts s to at most n bytes, backing off to a rune boundary so the
// prompt never carries a broken UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func (c *Client) VerifyProjectOutcome(ctx context.Context, outcome string) Output {
	return c.check(ctx, projectOutcomeSystem, fmt.Sprintf("Outcome statement: %q", outcome))
}

func (c *Client) VerifyProjectNextAction(ctx context.Context, outcome, actionText string) Output {
	system := nextActionSystem + "\nAlso check that the next action is a legitimate first step toward the outcome."
	user := fmt.Sprintf("Outcome: %q\nNext action: %q", outcome, actionText)
	return c.check(ctx, system, user)
}

func (c *Client) VerifyProjectDone(ctx context.Context, outcome string, openTasks int) Output {
	system := fmt.Sprintf(`You are an auditor. Evaluate whether a project can be marked DONE. Outcome: %q. Remaining open tasks: %d. Return PASS if outcome is achieved and user can confirm. Return NEEDS_USER if open tasks should be resolved or acknowledged.`, outcome, openTasks)
	user := fmt.Sprintf("Can this project be marked done? Open tasks: %d", openTasks)
	return c.check(ctx, system, user)
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

var outputSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "status": {"type": "string", "enum": ["PASS", "FAIL", "NEEDS_USER"]},
    "failures": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "code": {"type": "string"},
          "severity": {"type": "string"},
          "message": {"type": "string"},
          "fieldRef": {"type": "string"}
        },
        "required": ["code", "severity", "message"],
        "additionalProperties": false
      }
    },
    "missingInputs": {"type": "array", "items": {"type": "string"}},
    "vaguenessFlags": {"type": "array", "items": {"type": "string"}},
    "unverifiableClaims": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["status", "failures", "missingInputs", "vaguenessFlags", "unverifiableClaims"],
  "additionalProperties": false
}`)

func (c *Client) check(ctx context.Context, system, user string) Output {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	payload := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: responseFormat{
			Type:       "json_schema",
			JSONSchema: jsonSchema{Name: "verifier_output", Strict: true, Schema: outputSchema},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return degraded("VERIFIER_ERROR", err)
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return degraded("VERIFIER_ERROR", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return degraded("VERIFIER_TIMEOUT", err)
		}
		return degraded("VERIFIER_ERROR", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return degraded("VERIFIER_ERROR", err)
	}
	if resp.StatusCode >= 300 {
		return degraded("VERIFIER_ERROR", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
	var chat chatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return degraded("BAD_VERIFIER_OUTPUT", err)
	}
	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return degraded("BAD_VERIFIER_OUTPUT", errors.New("empty verifier response"))
	}
	var out Output
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &out); err != nil {
		return degraded("BAD_VERIFIER_OUTPUT", err)
	}
	switch out.Status {
	case StatusPass, StatusFail, StatusNeedsUser:
		return out
	}
	return degraded("BAD_VERIFIER_OUTPUT", fmt.Errorf("unknown status %q", out.Status))
}

func degraded(code string, err error) Output {
	return Output{
		Status: StatusNeedsUser,
		Failures: []Failure{{
			Code:     code,
			Severity: "high",
			Message:  err.Error(),
		}},
	}
}
