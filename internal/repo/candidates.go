package repo

import (
	"context"
	"database/sql"
	"time"

	"nextaction/internal/domain"
	"nextaction/internal/ranking"
)

// RankingCandidates builds the eligible pool for the Now list: open tasks
// whose item is actionable and not snoozed into the future, plus tasks that
// are the designated next action of an active project.
func (r Repo) RankingCandidates(ctx context.Context, now time.Time) ([]ranking.Candidate, error) {
	nowStr := now.UTC().Format(time.RFC3339)
	query := `SELECT ` + prefixColumns("t", taskColumns) + `,
p.id, p.priority, p.focus_this_week, p.due_date, p.last_progress_at,
na.id,
(SELECT COUNT(*) FROM tasks t2 WHERE t2.project_id=na.id AND t2.status='open')
FROM tasks t
JOIN items i ON i.id=t.item_id
LEFT JOIN projects p ON p.id=t.project_id
LEFT JOIN projects na ON na.next_action_task_id=t.id AND na.status=?
WHERE t.status='open'
  AND ((i.state=? AND (t.snoozed_until IS NULL OR t.snoozed_until<=?)) OR na.id IS NOT NULL)
ORDER BY t.created_at ASC, t.id ASC`
	rows, err := r.DB.QueryContext(ctx, query, domain.ProjectActive, domain.StateActionable, nowStr)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ranking.Candidate
	for rows.Next() {
		var t domain.Task
		var projectID, context, energy, dueDate, snoozedUntil, completedAt sql.NullString
		var estimated, pinned, manual sql.NullInt64
		var unverified int
		var pID, pDue, pLastProgress, naID sql.NullString
		var pPriority, pFocus, naOpen sql.NullInt64
		err := rows.Scan(&t.ID, &t.ItemID, &projectID, &t.ActionText, &context, &energy, &estimated,
			&dueDate, &snoozedUntil, &pinned, &manual, &t.Priority, &t.Status, &unverified,
			&completedAt, &t.CreatedAt, &t.UpdatedAt,
			&pID, &pPriority, &pFocus, &pDue, &pLastProgress,
			&naID, &naOpen)
		if err != nil {
			return nil, err
		}
		if projectID.Valid {
			t.ProjectID = &projectID.String
		}
		if context.Valid {
			t.Context = context.String
		}
		if energy.Valid {
			t.Energy = energy.String
		}
		if estimated.Valid {
			v := int(estimated.Int64)
			t.EstimatedMinutes = &v
		}
		if dueDate.Valid {
			t.DueDate = &dueDate.String
		}
		if snoozedUntil.Valid {
			t.SnoozedUntil = &snoozedUntil.String
		}
		if pinned.Valid {
			v := int(pinned.Int64)
			t.PinnedOrder = &v
		}
		if manual.Valid {
			v := int(manual.Int64)
			t.ManualRank = &v
		}
		if completedAt.Valid {
			t.CompletedAt = &completedAt.String
		}
		t.Unverified = unverified != 0

		c := ranking.Candidate{
			Task:         t,
			DueDate:      parseTimePtr(t.DueDate),
			SnoozedUntil: parseTimePtr(t.SnoozedUntil),
			CreatedAt:    parseTime(t.CreatedAt),
			UpdatedAt:    parseTime(t.UpdatedAt),
		}
		if pID.Valid {
			c.Project = &ranking.ProjectInfo{
				ID:            pID.String,
				Priority:      int(pPriority.Int64),
				FocusThisWeek: pFocus.Int64 != 0,
			}
			if pDue.Valid {
				c.Project.DueDate = parseTimePtr(&pDue.String)
			}
			if pLastProgress.Valid {
				c.Project.LastProgressAt = parseTimePtr(&pLastProgress.String)
			}
		}
		if naID.Valid {
			c.NextActionOpenTasks = int(naOpen.Int64)
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}
