// Package nextactionsdk is a minimal client for the NextAction HTTP API.
package nextactionsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a NextAction server.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Item is an inbox item in any lifecycle state.
type Item struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Body         string  `json:"body,omitempty"`
	Type         string  `json:"type"`
	State        string  `json:"state"`
	Source       string  `json:"source,omitempty"`
	WaitingOn    *string `json:"waiting_on,omitempty"`
	WaitingSince *string `json:"waiting_since,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

// Task is the actionable payload of a clarified item.
type Task struct {
	ID               string  `json:"id"`
	ItemID           string  `json:"item_id"`
	ProjectID        *string `json:"project_id,omitempty"`
	ActionText       string  `json:"action_text"`
	Context          string  `json:"context,omitempty"`
	Energy           string  `json:"energy,omitempty"`
	EstimatedMinutes *int    `json:"estimated_minutes,omitempty"`
	DueDate          *string `json:"due_date,omitempty"`
	SnoozedUntil     *string `json:"snoozed_until,omitempty"`
	Priority         int     `json:"priority"`
	Status           string  `json:"status"`
	Unverified       bool    `json:"unverified"`
	CompletedAt      *string `json:"completed_at,omitempty"`
}

// Project is a multi-step outcome.
type Project struct {
	ID               string  `json:"id"`
	ItemID           *string `json:"item_id,omitempty"`
	OutcomeStatement string  `json:"outcome_statement"`
	Status           string  `json:"status"`
	NextActionTaskID *string `json:"next_action_task_id,omitempty"`
	DueDate          *string `json:"due_date,omitempty"`
	Priority         int     `json:"priority"`
	FocusThisWeek    bool    `json:"focus_this_week"`
	LastProgressAt   *string `json:"last_progress_at,omitempty"`
}

// Artifact is a piece of evidence attached to an item.
type Artifact struct {
	ID           string  `json:"id"`
	ItemID       string  `json:"item_id"`
	ArtifactType string  `json:"artifact_type"`
	Content      *string `json:"content,omitempty"`
	FilePointer  *string `json:"file_pointer,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// AuditEntry is one row of the transition log.
type AuditEntry struct {
	ID               int64    `json:"id"`
	ItemID           string   `json:"item_id"`
	FromState        string   `json:"from_state"`
	ToStateAttempted string   `json:"to_state_attempted"`
	Decision         string   `json:"decision"`
	Actor            string   `json:"actor"`
	Reasons          []string `json:"reasons,omitempty"`
	Override         bool     `json:"override"`
	TS               string   `json:"ts"`
}

// TransitionResult is what a disposition or transition returns.
type TransitionResult struct {
	Item               Item    `json:"item"`
	Task               *Task   `json:"task,omitempty"`
	ProjectID          *string `json:"project_id,omitempty"`
	NextActionRequired bool    `json:"next_action_required,omitempty"`
}

// RankedTask is one entry of the Now list.
type RankedTask struct {
	Task       Task     `json:"task"`
	Score      float64  `json:"score"`
	ReasonTags []string `json:"reasonTags"`
}

// NowList is the ranked answer to "what should I do right now".
type NowList struct {
	Woke   int          `json:"woke"`
	Ranked []RankedTask `json:"ranked"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedItems wraps list responses with cursors.
type PaginatedItems struct {
	Items      []Item `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// Capture creates an inbox item.
func (c *Client) Capture(ctx context.Context, title, body, source string) (Item, error) {
	payload := map[string]any{"title": title}
	if body != "" {
		payload["body"] = body
	}
	if source != "" {
		payload["source"] = source
	}
	var resp Item
	err := c.do(ctx, http.MethodPost, "v0/items", payload, &resp)
	return resp, err
}

// Items returns a page of items.
func (c *Client) Items(ctx context.Context, state string, limit int, cursor string) (PaginatedItems, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/items"
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp PaginatedItems
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Disposition clarifies an item. Extra carries optional fields like
// action_text, context, energy, project_id, or force.
func (c *Client) Disposition(ctx context.Context, itemID, disposition string, extra map[string]any) (TransitionResult, error) {
	body := map[string]any{"disposition": disposition}
	for k, v := range extra {
		body[k] = v
	}
	var resp TransitionResult
	endpoint := fmt.Sprintf("v0/items/%s/disposition", url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Transition moves an item to a target state.
func (c *Client) Transition(ctx context.Context, itemID, target string, extra map[string]any) (TransitionResult, error) {
	body := map[string]any{"target": target}
	for k, v := range extra {
		body[k] = v
	}
	var resp TransitionResult
	endpoint := fmt.Sprintf("v0/items/%s/transition", url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Now returns the ranked list of what to work on.
func (c *Client) Now(ctx context.Context, minutes int, energy, taskContext string) (NowList, error) {
	q := url.Values{}
	if minutes > 0 {
		q.Set("time", fmt.Sprint(minutes))
	}
	if energy != "" {
		q.Set("energy", energy)
	}
	if taskContext != "" {
		q.Set("context", taskContext)
	}
	endpoint := "v0/now"
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp NowList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AddArtifact attaches evidence to an item.
func (c *Client) AddArtifact(ctx context.Context, itemID, artifactType, content string) (Artifact, error) {
	body := map[string]any{"artifact_type": artifactType}
	if content != "" {
		body["content"] = content
	}
	var resp Artifact
	endpoint := fmt.Sprintf("v0/items/%s/artifacts", url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// PaginatedTasks wraps task list responses with cursors.
type PaginatedTasks struct {
	Items      []Task `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// Tasks returns a page of tasks, optionally filtered by project and status.
func (c *Client) Tasks(ctx context.Context, projectID, status string, limit int, cursor string) (PaginatedTasks, error) {
	q := url.Values{}
	if projectID != "" {
		q.Set("project_id", projectID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/tasks"
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp PaginatedTasks
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Projects lists projects, optionally by status.
func (c *Client) Projects(ctx context.Context, status string) ([]Project, error) {
	endpoint := "v0/projects"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Project
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetProjectStatus changes a project's status.
func (c *Client) SetProjectStatus(ctx context.Context, projectID, status string, force bool) (Project, error) {
	body := map[string]any{"status": status}
	if force {
		body["force"] = true
	}
	var resp Project
	endpoint := fmt.Sprintf("v0/projects/%s/status", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ItemAudit returns an item's transition history.
func (c *Client) ItemAudit(ctx context.Context, itemID string) ([]AuditEntry, error) {
	var resp []AuditEntry
	endpoint := fmt.Sprintf("v0/items/%s/audit", url.PathEscape(itemID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
