package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"nextaction/internal/config"
	"nextaction/internal/db"
	"nextaction/internal/engine"
	"nextaction/internal/migrate"
	"nextaction/internal/rankconfig"
	"nextaction/internal/server"
	"nextaction/internal/verifier"
)

func newTestServer(t *testing.T, auth server.AuthConfig) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(), verifier.Offline{})
	handler, err := server.New(server.Config{
		Engine:  eng,
		RankCfg: rankconfig.NewStore(""),
		Auth:    auth,
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

type errEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestCaptureClarifyCompleteFlow(t *testing.T) {
	srv := newTestServer(t, server.AuthConfig{})

	var item struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	resp := doJSON(t, http.MethodPost, srv.URL+"/v0/items", map[string]any{
		"title": "Taxes",
	}, &item)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("capture status = %d", resp.StatusCode)
	}
	if item.State != "INBOX" {
		t.Fatalf("captured state = %s", item.State)
	}

	var envelope errEnvelope
	resp = doJSON(t, http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/disposition", map[string]any{
		"disposition": "next_action",
		"action_text": "figure out taxes",
	}, &envelope)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("vague disposition status = %d", resp.StatusCode)
	}
	if envelope.Error.Code != "gate_rejected" {
		t.Fatalf("error code = %s", envelope.Error.Code)
	}

	var got struct {
		State string `json:"state"`
	}
	doJSON(t, http.MethodGet, srv.URL+"/v0/items/"+item.ID, nil, &got)
	if got.State != "CLARIFYING" {
		t.Fatalf("state after rejection = %s", got.State)
	}

	var result struct {
		Item struct {
			State string `json:"state"`
		} `json:"item"`
		Task struct {
			ID string `json:"id"`
		} `json:"task"`
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/disposition", map[string]any{
		"disposition": "next_action",
		"action_text": "Call the accountant to book the filing appointment",
	}, &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clarified disposition status = %d", resp.StatusCode)
	}
	if result.Item.State != "ACTIONABLE" {
		t.Fatalf("state = %s", result.Item.State)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/transition", map[string]any{
		"target": "DONE",
	}, &envelope)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("done without evidence status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/artifacts", map[string]any{
		"artifact_type": "note",
		"content":       "Filed via the accountant portal, confirmation 84512",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("artifact status = %d", resp.StatusCode)
	}

	var done struct {
		Item struct {
			State string `json:"state"`
		} `json:"item"`
		Task struct {
			Status string `json:"status"`
		} `json:"task"`
	}
	resp = doJSON(t, http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/transition", map[string]any{
		"target": "DONE",
	}, &done)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("done with evidence status = %d", resp.StatusCode)
	}
	if done.Item.State != "DONE" || done.Task.Status != "done" {
		t.Fatalf("final state = %s / %s", done.Item.State, done.Task.Status)
	}

	var audit []struct {
		Decision string `json:"decision"`
	}
	doJSON(t, http.MethodGet, srv.URL+"/v0/items/"+item.ID+"/audit", nil, &audit)
	if len(audit) != 4 {
		t.Fatalf("audit rows = %d, want 4", len(audit))
	}
}

func TestValidationErrorsAre400(t *testing.T) {
	srv := newTestServer(t, server.AuthConfig{})
	var envelope errEnvelope
	resp := doJSON(t, http.MethodPost, srv.URL+"/v0/items", map[string]any{}, &envelope)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if envelope.Error.Code != "bad_request" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}

func TestUnknownItemIs404(t *testing.T) {
	srv := newTestServer(t, server.AuthConfig{})
	var envelope errEnvelope
	resp := doJSON(t, http.MethodGet, srv.URL+"/v0/items/nope", nil, &envelope)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}

func TestNowListsActionableTasks(t *testing.T) {
	srv := newTestServer(t, server.AuthConfig{})

	var item struct {
		ID string `json:"id"`
	}
	doJSON(t, http.MethodPost, srv.URL+"/v0/items", map[string]any{"title": "Seeds"}, &item)
	resp := doJSON(t, http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/disposition", map[string]any{
		"disposition": "next_action",
		"action_text": "Order tomato seeds from the garden catalog",
		"context":     "computer",
		"energy":      "low",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disposition status = %d", resp.StatusCode)
	}

	var now struct {
		Ranked []struct {
			Task struct {
				ActionText string `json:"action_text"`
			} `json:"task"`
			Score float64 `json:"score"`
		} `json:"ranked"`
		Excluded []any `json:"excluded"`
	}
	resp = doJSON(t, http.MethodGet, srv.URL+"/v0/now", nil, &now)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("now status = %d", resp.StatusCode)
	}
	if len(now.Ranked) != 1 {
		t.Fatalf("ranked = %d, want 1", len(now.Ranked))
	}
	if now.Ranked[0].Task.ActionText != "Order tomato seeds from the garden catalog" {
		t.Fatalf("ranked[0] = %q", now.Ranked[0].Task.ActionText)
	}

	var filtered struct {
		Ranked   []any `json:"ranked"`
		Excluded []struct {
			Reason string `json:"reason"`
		} `json:"excluded"`
	}
	doJSON(t, http.MethodGet, srv.URL+"/v0/now?context=calls&mode=strict", nil, &filtered)
	if len(filtered.Ranked) != 0 || len(filtered.Excluded) != 1 {
		t.Fatalf("strict filter: ranked=%d excluded=%d", len(filtered.Ranked), len(filtered.Excluded))
	}
}

func TestTaskPatchNullClearsField(t *testing.T) {
	srv := newTestServer(t, server.AuthConfig{})

	var item struct {
		ID string `json:"id"`
	}
	doJSON(t, http.MethodPost, srv.URL+"/v0/items", map[string]any{"title": "Dentist"}, &item)
	var result struct {
		Task struct {
			ID string `json:"id"`
		} `json:"task"`
	}
	doJSON(t, http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/disposition", map[string]any{
		"disposition": "next_action",
		"action_text": "Call the dentist to book a cleaning",
		"due_date":    "2030-06-01T00:00:00Z",
	}, &result)

	var task struct {
		DueDate *string `json:"due_date"`
	}
	resp := doJSON(t, http.MethodPatch, srv.URL+"/v0/tasks/"+result.Task.ID, map[string]any{
		"due_date": nil,
	}, &task)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	if task.DueDate != nil {
		t.Fatalf("due_date = %v, want cleared", *task.DueDate)
	}
}

func TestEnforcedAuthRejectsAnonymous(t *testing.T) {
	srv := newTestServer(t, server.AuthConfig{Enforce: true, JWTSecret: "secret"})

	resp, err := http.Get(srv.URL + "/v0/items")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
}
