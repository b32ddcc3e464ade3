package verifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func strPtr(s string) *string { return &s }

func TestOfflineCompletion(t *testing.T) {
	v := Offline{}
	out := v.VerifyCompletion(context.Background(), "Ship report", "Draft the summary", &Evidence{
		ArtifactType: "draft",
		Content:      strPtr("Summary draft v1"),
	})
	if out.Status != StatusPass {
		t.Fatalf("status = %s, want PASS", out.Status)
	}

	out = v.VerifyCompletion(context.Background(), "Ship report", "Draft the summary", &Evidence{
		ArtifactType: "draft",
		Content:      strPtr("   "),
	})
	if out.Status != StatusFail {
		t.Fatalf("status = %s, want FAIL for blank content", out.Status)
	}
	if len(out.Failures) != 1 || out.Failures[0].Code != "NO_EVIDENCE" {
		t.Fatalf("failures = %+v, want NO_EVIDENCE", out.Failures)
	}

	out = v.VerifyCompletion(context.Background(), "Ship report", "Draft the summary", nil)
	if out.Status != StatusFail {
		t.Fatalf("status = %s, want FAIL for nil evidence", out.Status)
	}
}

func TestOfflineProjectDone(t *testing.T) {
	v := Offline{}
	if out := v.VerifyProjectDone(context.Background(), "Launch site", 0); out.Status != StatusPass {
		t.Fatalf("status = %s, want PASS with zero open tasks", out.Status)
	}
	out := v.VerifyProjectDone(context.Background(), "Launch site", 3)
	if out.Status != StatusNeedsUser {
		t.Fatalf("status = %s, want NEEDS_USER", out.Status)
	}
	if out.Failures[0].Code != "OPEN_TASKS" {
		t.Fatalf("code = %s, want OPEN_TASKS", out.Failures[0].Code)
	}
}

func TestClientParsesVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		verdict := Output{
			Status:   StatusFail,
			Failures: []Failure{{Code: "VAGUE_OBJECT", Severity: "high", Message: "No concrete object"}},
		}
		content, _ := json.Marshal(verdict)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": string(content)}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "test-model", 5*time.Second)
	out := c.VerifyNextAction(context.Background(), "Do the thing")
	if out.Status != StatusFail {
		t.Fatalf("status = %s, want FAIL", out.Status)
	}
	if len(out.Failures) != 1 || out.Failures[0].Code != "VAGUE_OBJECT" {
		t.Fatalf("failures = %+v", out.Failures)
	}
}

func TestClientDegradesOnBadOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "not json"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "m", time.Second)
	out := c.VerifyNextAction(context.Background(), "Call the dentist")
	if out.Status != StatusNeedsUser {
		t.Fatalf("status = %s, want NEEDS_USER", out.Status)
	}
	if out.Failures[0].Code != "BAD_VERIFIER_OUTPUT" {
		t.Fatalf("code = %s", out.Failures[0].Code)
	}
}

func TestClientDegradesOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "m", 20*time.Millisecond)
	out := c.VerifyNextAction(context.Background(), "Call the dentist")
	if out.Status != StatusNeedsUser {
		t.Fatalf("status = %s, want NEEDS_USER on timeout", out.Status)
	}
	if out.Failures[0].Code != "VERIFIER_TIMEOUT" {
		t.Fatalf("code = %s, want VERIFIER_TIMEOUT", out.Failures[0].Code)
	}
}

func TestTruncateBacksOffToRuneBoundary(t *testing.T) {
	long := "a" + strings.Repeat("é", 800)
	got := truncate(long, 1500)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated evidence is not valid UTF-8")
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("got %q, want ... suffix", got[len(got)-6:])
	}
	if len(got) > 1503 {
		t.Fatalf("len = %d, want <= 1503", len(got))
	}
	if truncate("short", 1500) != "short" {
		t.Fatalf("short strings must pass through unchanged")
	}
}
