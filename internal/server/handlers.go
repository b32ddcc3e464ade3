package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"nextaction/internal/domain"
	"nextaction/internal/engine"
	"nextaction/internal/rankconfig"
	"nextaction/internal/ranking"
	"nextaction/internal/repo"
)

func engineNow(e engine.Engine) time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func registerItems(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "capture-item",
		Method:        http.MethodPost,
		Path:          "/items",
		Summary:       "Capture an item into the inbox",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CaptureRequest
	}) (*struct {
		Body domain.Item
	}, error) {
		it, err := eng.Capture(ctx, input.Body.Title, input.Body.Body, input.Body.Source)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Item
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items",
		Summary:     "List items",
	}, func(ctx context.Context, input *struct {
		State  string `query:"state"`
		Type   string `query:"type"`
		Limit  int    `query:"limit"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedItems
	}, error) {
		limit := normalizeLimit(input.Limit)
		ts, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		items, err := eng.Repo.ListItems(ctx, repo.ItemFilters{
			State:           input.State,
			Type:            input.Type,
			Limit:           limit + 1,
			CursorCreatedAt: ts,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := paginatedItems{Items: items}
		if len(items) > limit {
			out.Items = items[:limit]
			last := out.Items[limit-1]
			out.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		if out.Items == nil {
			out.Items = []domain.Item{}
		}
		return &struct {
			Body paginatedItems
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{id}",
		Summary:     "Get an item",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Item
	}, error) {
		it, err := eng.Repo.GetItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Item
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-item",
		Method:      http.MethodPatch,
		Path:        "/items/{id}",
		Summary:     "Edit an item's title or body",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ItemPatchRequest
	}) (*struct {
		Body domain.Item
	}, error) {
		it, err := eng.UpdateItem(ctx, input.ID, input.Body.Title, input.Body.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Item
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "disposition-item",
		Method:      http.MethodPost,
		Path:        "/items/{id}/disposition",
		Summary:     "Clarify an item into one of the GTD buckets",
		Description: "Runs the gated state machine for the chosen disposition. Gate rejections return 422 with the audit reasons.",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body DispositionRequest
	}) (*struct {
		Body engine.TransitionResult
	}, error) {
		res, err := eng.Disposition(ctx, input.ID, input.Body.Disposition, input.Body.payload(), actorFromContext(ctx), input.Body.options())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.TransitionResult
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-item",
		Method:      http.MethodPost,
		Path:        "/items/{id}/transition",
		Summary:     "Move an item to a target state",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body TransitionRequest
	}) (*struct {
		Body engine.TransitionResult
	}, error) {
		res, err := eng.ExecuteTransition(ctx, input.ID, input.Body.Target, input.Body.payload(), actorFromContext(ctx), input.Body.options())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.TransitionResult
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "item-audit",
		Method:      http.MethodGet,
		Path:        "/items/{id}/audit",
		Summary:     "Transition history for an item",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.AuditEntry
	}, error) {
		if _, err := eng.Repo.GetItem(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		entries, err := eng.Repo.ListAuditByItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if entries == nil {
			entries = []domain.AuditEntry{}
		}
		return &struct {
			Body []domain.AuditEntry
		}{Body: entries}, nil
	})
}

func registerTasks(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Status    string `query:"status" enum:",open,done"`
		Limit     int    `query:"limit"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks
	}, error) {
		limit := normalizeLimit(input.Limit)
		ts, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		tasks, err := eng.Repo.ListTasks(ctx, repo.TaskFilters{
			ProjectID:       input.ProjectID,
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: ts,
			CursorID:        id,
		})
		if err != nil {
			return nil, handleError(err)
		}
		out := paginatedTasks{Items: tasks}
		if len(tasks) > limit {
			out.Items = tasks[:limit]
			last := out.Items[limit-1]
			out.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		if out.Items == nil {
			out.Items = []domain.Task{}
		}
		return &struct {
			Body paginatedTasks
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get a task",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task
	}, error) {
		t, err := eng.Repo.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Edit task metadata",
		Description: "Omitted fields stay unchanged; an explicit JSON null clears a nullable field.",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body TaskPatchRequest
	}) (*struct {
		Body domain.Task
	}, error) {
		patch := taskPatchFromRequest(ctx, input.Body)
		t, err := eng.UpdateTask(ctx, input.ID, patch)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "wake-tasks",
		Method:      http.MethodPost,
		Path:        "/tasks/wake",
		Summary:     "Wake snoozed tasks whose time has come",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WakeResponse
	}, error) {
		n, err := eng.WakeSnoozedTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WakeResponse
		}{Body: WakeResponse{Woke: n}}, nil
	})
}

// taskPatchFromRequest maps the wire patch onto engine semantics, consulting
// the raw body so an explicit null becomes a clear instead of a no-op.
func taskPatchFromRequest(ctx context.Context, req TaskPatchRequest) engine.TaskPatch {
	raw := rawBodyMap(ctx)
	nulled := func(field string) bool {
		v, ok := raw[field]
		return ok && isNullRaw(v)
	}
	return engine.TaskPatch{
		ActionText:       req.ActionText,
		Context:          req.Context,
		Energy:           req.Energy,
		EstimatedMinutes: req.EstimatedMinutes,
		ClearEstimate:    nulled("estimated_minutes"),
		DueDate:          req.DueDate,
		ClearDueDate:     nulled("due_date"),
		SnoozedUntil:     req.SnoozedUntil,
		ClearSnooze:      nulled("snoozed_until"),
		PinnedOrder:      req.PinnedOrder,
		ClearPinned:      nulled("pinned_order"),
		ManualRank:       req.ManualRank,
		ClearManualRank:  nulled("manual_rank"),
		Priority:         req.Priority,
		ProjectID:        req.ProjectID,
		ClearProject:     nulled("project_id"),
	}
}

func registerNow(api huma.API, eng engine.Engine, store *rankconfig.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "now-list",
		Method:      http.MethodGet,
		Path:        "/now",
		Summary:     "Ranked list of what to work on now",
		Description: "Wakes due snoozes first, then scores the eligible pool against the ranking config.",
	}, func(ctx context.Context, input *struct {
		Time    int    `query:"time" doc:"Minutes available"`
		Energy  string `query:"energy" enum:",low,medium,high"`
		Context string `query:"context" enum:",calls,errands,computer,deep_work"`
		Mode    string `query:"mode" enum:",strict,soft"`
	}) (*struct {
		Body NowResponse
	}, error) {
		woke, err := eng.WakeSnoozedTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		now := engineNow(eng)
		cands, err := eng.Repo.RankingCandidates(ctx, now)
		if err != nil {
			return nil, handleError(err)
		}
		opts := ranking.Options{
			Filters: ranking.Filters{
				TimeAvailable: input.Time,
				Energy:        input.Energy,
				Context:       input.Context,
			},
			Mode: input.Mode,
		}
		ranked, excluded := ranking.Rank(now, cands, opts, store.Get())
		if ranked == nil {
			ranked = []ranking.Ranked{}
		}
		if excluded == nil {
			excluded = []ranking.Excluded{}
		}
		return &struct {
			Body NowResponse
		}{Body: NowResponse{Woke: woke, Ranked: ranked, Excluded: excluded}}, nil
	})
}

func registerProjects(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create a project",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest
	}) (*struct {
		Body domain.Project
	}, error) {
		p, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{
			OutcomeStatement: input.Body.OutcomeStatement,
			DueDate:          input.Body.DueDate,
			Priority:         input.Body.Priority,
			FocusThisWeek:    input.Body.FocusThisWeek,
			ThemeTag:         input.Body.ThemeTag,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:",CLARIFYING,ACTIVE,WAITING,ON_HOLD,SOMEDAY,DONE,ARCHIVED"`
	}) (*struct {
		Body []domain.Project
	}, error) {
		ps, err := eng.Repo.ListProjects(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		if ps == nil {
			ps = []domain.Project{}
		}
		return &struct {
			Body []domain.Project
		}{Body: ps}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get a project",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Project
	}, error) {
		p, err := eng.Repo.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}",
		Summary:     "Edit a project",
		Description: "Editing an ACTIVE project re-runs the readiness checks; a patch that would leave it unready is rejected with 422 and nothing written.",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ProjectPatchRequest
	}) (*struct {
		Body domain.Project
	}, error) {
		patch := projectPatchFromRequest(ctx, input.Body)
		p, err := eng.UpdateProject(ctx, input.ID, patch, actorFromContext(ctx), input.Body.options())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-project-status",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/status",
		Summary:     "Change a project's status",
		Description: "Activation runs the full readiness gate including verifier review of the outcome and next action.",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body SetProjectStatusRequest
	}) (*struct {
		Body domain.Project
	}, error) {
		p, err := eng.SetProjectStatus(ctx, input.ID, input.Body.Status, actorFromContext(ctx), input.Body.options())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-project",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/complete",
		Summary:     "Complete a project",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body ForceFields
	}) (*struct {
		Body domain.Project
	}, error) {
		p, err := eng.CompleteProject(ctx, input.ID, actorFromContext(ctx), input.Body.options())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project
		}{Body: p}, nil
	})
}

// projectPatchFromRequest maps nulls to clears for the nullable fields.
func projectPatchFromRequest(ctx context.Context, req ProjectPatchRequest) engine.ProjectPatch {
	raw := rawBodyMap(ctx)
	clearPtr := func(field string, v *string) *string {
		if raw, ok := raw[field]; ok && isNullRaw(raw) {
			empty := ""
			return &empty
		}
		return v
	}
	return engine.ProjectPatch{
		OutcomeStatement: req.OutcomeStatement,
		NextActionTaskID: clearPtr("next_action_task_id", req.NextActionTaskID),
		DueDate:          clearPtr("due_date", req.DueDate),
		Priority:         req.Priority,
		FocusThisWeek:    req.FocusThisWeek,
		ThemeTag:         clearPtr("theme_tag", req.ThemeTag),
		WaitingOn:        clearPtr("waiting_on", req.WaitingOn),
	}
}

func registerArtifacts(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-artifact",
		Method:        http.MethodPost,
		Path:          "/items/{id}/artifacts",
		Summary:       "Attach an artifact to an item",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body CreateArtifactRequest
	}) (*struct {
		Body domain.Artifact
	}, error) {
		if _, err := eng.Repo.GetItem(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		a := domain.Artifact{
			ID:           uuid.New().String(),
			ItemID:       input.ID,
			ArtifactType: input.Body.ArtifactType,
			Content:      input.Body.Content,
			FilePointer:  input.Body.FilePointer,
			CreatedAt:    engineNow(eng).Format(time.RFC3339),
		}
		if err := eng.Repo.InsertArtifact(ctx, a); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Artifact
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-artifacts",
		Method:      http.MethodGet,
		Path:        "/items/{id}/artifacts",
		Summary:     "List an item's artifacts",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Artifact
	}, error) {
		if _, err := eng.Repo.GetItem(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		as, err := eng.Repo.ListArtifactsByItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if as == nil {
			as = []domain.Artifact{}
		}
		return &struct {
			Body []domain.Artifact
		}{Body: as}, nil
	})
}

func registerReminders(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "due-reminders",
		Method:      http.MethodGet,
		Path:        "/reminders/due",
		Summary:     "Reminders whose due time has passed",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Reminder
	}, error) {
		rems, err := eng.Repo.DueReminders(ctx, engineNow(eng).Format(time.RFC3339))
		if err != nil {
			return nil, handleError(err)
		}
		if rems == nil {
			rems = []domain.Reminder{}
		}
		return &struct {
			Body []domain.Reminder
		}{Body: rems}, nil
	})
}

func registerAudit(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Recent audit entries, newest first",
	}, func(ctx context.Context, input *struct {
		Limit  int   `query:"limit"`
		Cursor int64 `query:"cursor"`
	}) (*struct {
		Body paginatedAudit
	}, error) {
		limit := normalizeLimit(input.Limit)
		entries, err := eng.Repo.ListAudit(ctx, limit+1, input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		out := paginatedAudit{Items: entries}
		if len(entries) > limit {
			out.Items = entries[:limit]
			out.NextCursor = out.Items[limit-1].ID
		}
		if out.Items == nil {
			out.Items = []domain.AuditEntry{}
		}
		return &struct {
			Body paginatedAudit
		}{Body: out}, nil
	})
}

func registerRankingConfig(api huma.API, store *rankconfig.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "get-ranking-config",
		Method:      http.MethodGet,
		Path:        "/config/ranking",
		Summary:     "Effective ranking configuration",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body rankconfig.Config
	}, error) {
		return &struct {
			Body rankconfig.Config
		}{Body: store.Get()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "invalidate-ranking-config",
		Method:      http.MethodPost,
		Path:        "/config/ranking/invalidate",
		Summary:     "Force a reload of the ranking config from disk",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		store.Invalidate()
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}
