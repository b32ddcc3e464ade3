package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"nextaction/internal/config"
	"nextaction/internal/db"
	"nextaction/internal/domain"
	"nextaction/internal/engine"
	"nextaction/internal/migrate"
	"nextaction/internal/verifier"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(), verifier.Offline{})
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func captureItem(t *testing.T, env testEnv, title string) domain.Item {
	t.Helper()
	it, err := env.Engine.Capture(env.Ctx, title, "", "test")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	return it
}

func makeActionable(t *testing.T, env testEnv, title, actionText string) engine.TransitionResult {
	t.Helper()
	it := captureItem(t, env, title)
	res, err := env.Engine.Disposition(env.Ctx, it.ID, "next_action",
		engine.TransitionPayload{ActionText: actionText}, "tester", engine.TransitionOptions{})
	if err != nil {
		t.Fatalf("disposition next_action: %v", err)
	}
	return res
}

func addEvidence(t *testing.T, env testEnv, itemID, content string) {
	t.Helper()
	err := env.Engine.Repo.InsertArtifact(env.Ctx, domain.Artifact{
		ID:           "art-" + itemID,
		ItemID:       itemID,
		ArtifactType: "draft",
		Content:      &content,
		CreatedAt:    "2024-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("insert artifact: %v", err)
	}
}

func TestGateActionableVagueTextDowngrades(t *testing.T) {
	env := newTestEnv(t)
	it := captureItem(t, env, "Taxes")
	res, err := env.Engine.Disposition(env.Ctx, it.ID, "next_action",
		engine.TransitionPayload{ActionText: "figure out taxes"}, "tester", engine.TransitionOptions{})
	var gerr *engine.GateError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GateError, got %v", err)
	}
	if gerr.Code != "deterministic_fail" {
		t.Fatalf("code = %s", gerr.Code)
	}
	if len(gerr.Failures) != 1 || gerr.Failures[0].Code != "VAGUE" || gerr.Failures[0].FieldRef != "actionText" {
		t.Fatalf("failures = %+v", gerr.Failures)
	}
	// rejection keeps the work: task persisted, item parked in CLARIFYING
	if res.Item.State != domain.StateClarifying {
		t.Fatalf("item state = %s", res.Item.State)
	}
	task, err := env.Engine.Repo.GetTaskByItem(env.Ctx, it.ID)
	if err != nil {
		t.Fatalf("task not persisted: %v", err)
	}
	if task.ActionText != "figure out taxes" {
		t.Fatalf("actionText = %q", task.ActionText)
	}
	entries, err := env.Engine.Repo.ListAuditByItem(env.Ctx, it.ID)
	if err != nil || len(entries) != 1 {
		t.Fatalf("audit entries = %d, err %v", len(entries), err)
	}
	if entries[0].Decision != "rejected" || entries[0].ToStateAttempted != domain.StateActionable {
		t.Fatalf("unexpected audit entry %+v", entries[0])
	}
}

func TestGateActionableApproves(t *testing.T) {
	env := newTestEnv(t)
	res := makeActionable(t, env, "Dentist", "Call dentist to book cleaning")
	if res.Item.State != domain.StateActionable || res.Item.Type != "task" {
		t.Fatalf("item = %+v", res.Item)
	}
	if res.Task == nil || res.Task.Status != "open" {
		t.Fatalf("task = %+v", res.Task)
	}
	entries, _ := env.Engine.Repo.ListAuditByItem(env.Ctx, res.Item.ID)
	if len(entries) != 1 || entries[0].Decision != "approved" {
		t.Fatalf("audit = %+v", entries)
	}
}

func TestGateActionableMissingActionText(t *testing.T) {
	env := newTestEnv(t)
	it := captureItem(t, env, "Something")
	_, err := env.Engine.Disposition(env.Ctx, it.ID, "next_action",
		engine.TransitionPayload{}, "tester", engine.TransitionOptions{})
	var gerr *engine.GateError
	if !errors.As(err, &gerr) || gerr.Code != "missing_actionText" {
		t.Fatalf("expected missing_actionText, got %v", err)
	}
	if len(gerr.Failures) != 1 || gerr.Failures[0].Code != "MISSING" {
		t.Fatalf("failures = %+v", gerr.Failures)
	}
	if len(gerr.MissingInputs) != 1 || gerr.MissingInputs[0] != "actionText" {
		t.Fatalf("missing inputs = %v", gerr.MissingInputs)
	}
	got, _ := env.Engine.Repo.GetItem(env.Ctx, it.ID)
	if got.State != domain.StateInbox {
		t.Fatalf("item should be untouched, state = %s", got.State)
	}
}

func TestDoneGateRequiresEvidence(t *testing.T) {
	env := newTestEnv(t)
	res := makeActionable(t, env, "Dentist", "Call dentist to book cleaning")
	_, err := env.Engine.ExecuteTransition(env.Ctx, res.Item.ID, domain.StateDone,
		engine.TransitionPayload{}, "tester", engine.TransitionOptions{})
	var gerr *engine.GateError
	if !errors.As(err, &gerr) || gerr.Code != "no_evidence" {
		t.Fatalf("expected no_evidence, got %v", err)
	}

	addEvidence(t, env, res.Item.ID, "Appointment booked for Jan 12, confirmation #8841")
	done, err := env.Engine.ExecuteTransition(env.Ctx, res.Item.ID, domain.StateDone,
		engine.TransitionPayload{}, "tester", engine.TransitionOptions{})
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if done.Item.State != domain.StateDone {
		t.Fatalf("item state = %s", done.Item.State)
	}
	if done.Task.Status != "done" || done.Task.CompletedAt == nil || done.Task.Unverified {
		t.Fatalf("task = %+v", done.Task)
	}
}

func TestForcedDoneMarksUnverified(t *testing.T) {
	env := newTestEnv(t)
	res := makeActionable(t, env, "Dentist", "Call dentist to book cleaning")
	done, err := env.Engine.ExecuteTransition(env.Ctx, res.Item.ID, domain.StateDone,
		engine.TransitionPayload{}, "tester", engine.TransitionOptions{Force: true, OverrideReason: "did it by phone"})
	if err != nil {
		t.Fatalf("forced done: %v", err)
	}
	if !done.Task.Unverified {
		t.Fatalf("forced completion should be unverified")
	}
	entries, _ := env.Engine.Repo.ListAuditByItem(env.Ctx, res.Item.ID)
	last := entries[len(entries)-1]
	if !last.Override || last.OverrideReason == nil || *last.OverrideReason != "did it by phone" {
		t.Fatalf("override not recorded: %+v", last)
	}
}

func TestSnoozeRequiresUntilThenWakes(t *testing.T) {
	env := newTestEnv(t)
	res := makeActionable(t, env, "Dentist", "Call dentist to book cleaning")

	_, err := env.Engine.ExecuteTransition(env.Ctx, res.Item.ID, domain.StateSnoozed,
		engine.TransitionPayload{}, "tester", engine.TransitionOptions{})
	var gerr *engine.GateError
	if !errors.As(err, &gerr) || gerr.Code != "missing_snoozedUntil" {
		t.Fatalf("expected missing_snoozedUntil, got %v", err)
	}

	until := "2023-12-31T00:00:00Z"
	snoozed, err := env.Engine.ExecuteTransition(env.Ctx, res.Item.ID, domain.StateSnoozed,
		engine.TransitionPayload{SnoozedUntil: &until}, "tester", engine.TransitionOptions{})
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if snoozed.Item.State != domain.StateSnoozed || snoozed.Task.SnoozedUntil == nil {
		t.Fatalf("snoozed = %+v", snoozed)
	}

	n, err := env.Engine.WakeSnoozedTasks(env.Ctx)
	if err != nil || n != 1 {
		t.Fatalf("wake = %d, err %v", n, err)
	}
	it, _ := env.Engine.Repo.GetItem(env.Ctx, res.Item.ID)
	if it.State != domain.StateActionable {
		t.Fatalf("item state after wake = %s", it.State)
	}
	task, _ := env.Engine.Repo.GetTaskByItem(env.Ctx, res.Item.ID)
	if task.SnoozedUntil != nil {
		t.Fatalf("snoozed_until should be cleared")
	}
}

func TestWaitingSetsReminderAndWaitingOn(t *testing.T) {
	env := newTestEnv(t)
	it := captureItem(t, env, "Reimbursement")
	who := "finance team"
	followUp := "2024-01-08T09:00:00Z"
	res, err := env.Engine.Disposition(env.Ctx, it.ID, "waiting",
		engine.TransitionPayload{WaitingOn: &who, FollowUpAt: &followUp}, "tester", engine.TransitionOptions{})
	if err != nil {
		t.Fatalf("waiting: %v", err)
	}
	if res.Item.State != domain.StateWaiting || res.Item.WaitingOn == nil || *res.Item.WaitingOn != who {
		t.Fatalf("item = %+v", res.Item)
	}
	if res.Item.WaitingSince == nil {
		t.Fatalf("waiting_since not stamped")
	}
	due, err := env.Engine.Repo.DueReminders(env.Ctx, "2024-01-09T00:00:00Z")
	if err != nil || len(due) != 1 || due[0].ItemID != it.ID || due[0].Kind != "follow_up" {
		t.Fatalf("reminders = %+v, err %v", due, err)
	}
}

func TestDispositionProjectCreatesClarifyingProject(t *testing.T) {
	env := newTestEnv(t)
	it := captureItem(t, env, "Plan the garden overhaul")
	res, err := env.Engine.Disposition(env.Ctx, it.ID, "project",
		engine.TransitionPayload{}, "tester", engine.TransitionOptions{})
	if err != nil {
		t.Fatalf("disposition project: %v", err)
	}
	if res.Item.State != domain.StateProject || res.Item.Type != "project" {
		t.Fatalf("item = %+v", res.Item)
	}
	if res.ProjectID == nil {
		t.Fatalf("project id missing")
	}
	p, err := env.Engine.Repo.GetProject(env.Ctx, *res.ProjectID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if p.Status != domain.ProjectClarifying || p.OutcomeStatement != "Plan the garden overhaul" {
		t.Fatalf("project = %+v", p)
	}
	if p.ItemID == nil || *p.ItemID != it.ID {
		t.Fatalf("project not linked to item")
	}
}

func TestProjectActivationGate(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{OutcomeStatement: "Garden fully replanted by spring"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	// no next action designated
	_, err = env.Engine.SetProjectStatus(env.Ctx, p.ID, domain.ProjectActive, "tester", engine.TransitionOptions{})
	var gerr *engine.GateError
	if !errors.As(err, &gerr) || gerr.Code != "project_not_ready" {
		t.Fatalf("expected project_not_ready, got %v", err)
	}

	na := makeActionable(t, env, "Order seeds", "Buy tomato seeds from the garden center")
	naID := na.Task.ID
	if _, err := env.Engine.UpdateProject(env.Ctx, p.ID, engine.ProjectPatch{NextActionTaskID: &naID}, "tester", engine.TransitionOptions{}); err != nil {
		t.Fatalf("link next action: %v", err)
	}
	active, err := env.Engine.SetProjectStatus(env.Ctx, p.ID, domain.ProjectActive, "tester", engine.TransitionOptions{})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if active.Status != domain.ProjectActive {
		t.Fatalf("status = %s", active.Status)
	}
}

func TestActiveProjectEditShortOutcomeDemotesToClarifying(t *testing.T) {
	env := newTestEnv(t)
	p, _ := activeProjectWithNextAction(t, env)
	short := "Garden"
	updated, err := env.Engine.UpdateProject(env.Ctx, p.ID, engine.ProjectPatch{OutcomeStatement: &short}, "tester", engine.TransitionOptions{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != domain.ProjectClarifying {
		t.Fatalf("status = %s, want CLARIFYING", updated.Status)
	}
	if updated.NextActionTaskID != nil {
		t.Fatalf("next-action link should be cleared on demotion")
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.OutcomeStatement != "Garden" {
		t.Fatalf("edit should still land, got %q", got.OutcomeStatement)
	}
	if got.Status != domain.ProjectClarifying || got.NextActionTaskID != nil {
		t.Fatalf("persisted project = %+v", got)
	}
}

func TestActiveProjectEditDemotesToWaitingWhenNextActionBlocked(t *testing.T) {
	env := newTestEnv(t)
	p, na := activeProjectWithNextAction(t, env)

	// park the next-action item in WAITING without the status sync firing
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	it, err := env.Engine.Repo.GetItemTx(env.Ctx, tx, na.Item.ID)
	if err != nil {
		t.Fatal(err)
	}
	it.State = domain.StateWaiting
	if err := env.Engine.Repo.UpdateItemTx(env.Ctx, tx, it); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	short := "Garden"
	updated, err := env.Engine.UpdateProject(env.Ctx, p.ID, engine.ProjectPatch{OutcomeStatement: &short}, "tester", engine.TransitionOptions{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != domain.ProjectWaiting {
		t.Fatalf("status = %s, want WAITING", updated.Status)
	}
	if updated.NextActionTaskID == nil {
		t.Fatalf("waiting demotion should keep the next-action link")
	}
	if updated.WaitingSince == nil {
		t.Fatalf("waiting_since not stamped")
	}
}

func activeProjectWithNextAction(t *testing.T, env testEnv) (domain.Project, engine.TransitionResult) {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{OutcomeStatement: "Garden fully replanted by spring"})
	if err != nil {
		t.Fatal(err)
	}
	na := makeActionable(t, env, "Order seeds", "Buy tomato seeds from the garden center")
	naID := na.Task.ID
	if _, err := env.Engine.UpdateProject(env.Ctx, p.ID, engine.ProjectPatch{NextActionTaskID: &naID}, "tester", engine.TransitionOptions{}); err != nil {
		t.Fatal(err)
	}
	p, err = env.Engine.SetProjectStatus(env.Ctx, p.ID, domain.ProjectActive, "tester", engine.TransitionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	return p, na
}

func TestNextActionWaitingParksProject(t *testing.T) {
	env := newTestEnv(t)
	p, na := activeProjectWithNextAction(t, env)
	who := "supplier"
	if _, err := env.Engine.ExecuteTransition(env.Ctx, na.Item.ID, domain.StateWaiting,
		engine.TransitionPayload{WaitingOn: &who}, "tester", engine.TransitionOptions{}); err != nil {
		t.Fatalf("waiting: %v", err)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.ProjectWaiting {
		t.Fatalf("project status = %s", got.Status)
	}
	if got.NextActionTaskID == nil {
		t.Fatalf("waiting should keep the next-action link")
	}
}

func TestNextActionSnoozeSendsProjectBackToClarifying(t *testing.T) {
	env := newTestEnv(t)
	p, na := activeProjectWithNextAction(t, env)
	until := "2024-02-01T00:00:00Z"
	if _, err := env.Engine.ExecuteTransition(env.Ctx, na.Item.ID, domain.StateSnoozed,
		engine.TransitionPayload{SnoozedUntil: &until}, "tester", engine.TransitionOptions{}); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.ProjectClarifying {
		t.Fatalf("project status = %s", got.Status)
	}
	if got.NextActionTaskID != nil {
		t.Fatalf("next-action link should be cleared")
	}
	if got.LastProgressAt == nil {
		t.Fatalf("last_progress_at should be stamped")
	}
}

func TestDoneClearsProjectLinkAndFlagsNextAction(t *testing.T) {
	env := newTestEnv(t)
	p, na := activeProjectWithNextAction(t, env)
	addEvidence(t, env, na.Item.ID, "Seeds ordered, order #1234")
	done, err := env.Engine.ExecuteTransition(env.Ctx, na.Item.ID, domain.StateDone,
		engine.TransitionPayload{}, "tester", engine.TransitionOptions{})
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if done.ProjectID == nil || *done.ProjectID != p.ID || !done.NextActionRequired {
		t.Fatalf("result = %+v", done)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.NextActionTaskID != nil {
		t.Fatalf("next-action link should be cleared")
	}
	if got.LastProgressAt == nil {
		t.Fatalf("last_progress_at should be stamped")
	}
}

func TestDoneOnOtherProjectTaskStampsProgress(t *testing.T) {
	env := newTestEnv(t)
	p, _ := activeProjectWithNextAction(t, env)

	// a project task that is not the designated next action
	it := captureItem(t, env, "Build raised beds")
	side, err := env.Engine.Disposition(env.Ctx, it.ID, "next_action",
		engine.TransitionPayload{ActionText: "Buy lumber for raised beds", ProjectID: &p.ID},
		"tester", engine.TransitionOptions{})
	if err != nil {
		t.Fatal(err)
	}

	addEvidence(t, env, side.Item.ID, "Lumber receipt #5521")
	done, err := env.Engine.ExecuteTransition(env.Ctx, side.Item.ID, domain.StateDone,
		engine.TransitionPayload{}, "tester", engine.TransitionOptions{})
	if err != nil {
		t.Fatalf("done: %v", err)
	}
	if done.ProjectID != nil || done.NextActionRequired {
		t.Fatalf("side task should not release the next-action link: %+v", done)
	}
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.LastProgressAt == nil {
		t.Fatalf("last_progress_at should be stamped for the owning project")
	}
	if got.NextActionTaskID == nil {
		t.Fatalf("next-action link should be untouched")
	}
}

func TestCompleteProjectBlockedByOpenTasks(t *testing.T) {
	env := newTestEnv(t)
	p, _ := activeProjectWithNextAction(t, env)

	// file an open task under the project
	it := captureItem(t, env, "Build raised beds")
	if _, err := env.Engine.Disposition(env.Ctx, it.ID, "next_action",
		engine.TransitionPayload{ActionText: "Buy lumber for raised beds", ProjectID: &p.ID},
		"tester", engine.TransitionOptions{}); err != nil {
		t.Fatal(err)
	}

	_, err := env.Engine.CompleteProject(env.Ctx, p.ID, "tester", engine.TransitionOptions{})
	var gerr *engine.GateError
	if !errors.As(err, &gerr) || gerr.Code != "verifier_needs_user" {
		t.Fatalf("expected verifier_needs_user, got %v", err)
	}
	if len(gerr.Failures) == 0 || gerr.Failures[0].Code != "OPEN_TASKS" {
		t.Fatalf("failures = %+v", gerr.Failures)
	}

	forced, err := env.Engine.CompleteProject(env.Ctx, p.ID, "tester", engine.TransitionOptions{Force: true, OverrideReason: "remainder moot"})
	if err != nil {
		t.Fatalf("forced complete: %v", err)
	}
	if forced.Status != domain.ProjectDone {
		t.Fatalf("status = %s", forced.Status)
	}
}

func TestRepeatedTransitionAuditsExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	res := makeActionable(t, env, "Dentist", "Call dentist to book cleaning")
	before, _ := env.Engine.Repo.ListAuditByItem(env.Ctx, res.Item.ID)

	// ACTIONABLE has no self-loop; a repeat attempt is one rejected row
	_, err := env.Engine.ExecuteTransition(env.Ctx, res.Item.ID, domain.StateActionable,
		engine.TransitionPayload{}, "tester", engine.TransitionOptions{})
	var gerr *engine.GateError
	if !errors.As(err, &gerr) || gerr.Code != "transition_not_allowed" {
		t.Fatalf("expected transition_not_allowed, got %v", err)
	}
	after, _ := env.Engine.Repo.ListAuditByItem(env.Ctx, res.Item.ID)
	if len(after) != len(before)+1 {
		t.Fatalf("audit rows: before %d after %d", len(before), len(after))
	}
	last := after[len(after)-1]
	if last.Decision != "rejected" || len(last.Reasons) == 0 {
		t.Fatalf("last entry = %+v", last)
	}
	it, _ := env.Engine.Repo.GetItem(env.Ctx, res.Item.ID)
	if it.State != domain.StateActionable {
		t.Fatalf("state changed on rejected repeat: %s", it.State)
	}
}
