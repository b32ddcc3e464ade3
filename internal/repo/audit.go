package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"nextaction/internal/domain"
)

const auditColumns = `id,item_id,from_state,to_state_attempted,decision,actor,reasons_json,override,override_reason,ts`

func scanAuditEntry(scan func(...any) error) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	var reasonsJSON string
	var override int
	var overrideReason sql.NullString
	err := scan(&e.ID, &e.ItemID, &e.FromState, &e.ToStateAttempted, &e.Decision, &e.Actor,
		&reasonsJSON, &override, &overrideReason, &e.TS)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.Override = override != 0
	if overrideReason.Valid {
		e.OverrideReason = &overrideReason.String
	}
	if reasonsJSON != "" {
		_ = json.Unmarshal([]byte(reasonsJSON), &e.Reasons)
	}
	return e, nil
}

// ListAuditByItem returns the full transition history for an item, oldest
// first.
func (r Repo) ListAuditByItem(ctx context.Context, itemID string) ([]domain.AuditEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+auditColumns+` FROM transition_audit_log WHERE item_id=? ORDER BY id ASC`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuditRows(rows)
}

// ListAudit returns recent entries, newest first, paging backwards from the
// cursor id.
func (r Repo) ListAudit(ctx context.Context, limit int, cursor int64) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+auditColumns+` FROM transition_audit_log `+where+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuditRows(rows)
}

// AuditAfter returns entries with IDs greater than the cursor in ascending
// order. The webhook dispatcher tails the log with this.
func (r Repo) AuditAfter(ctx context.Context, limit int, cursor int64) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+auditColumns+` FROM transition_audit_log WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuditRows(rows)
}

// LatestAuditID returns the most recent audit entry ID.
func (r Repo) LatestAuditID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM transition_audit_log`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func collectAuditRows(rows *sql.Rows) ([]domain.AuditEntry, error) {
	var res []domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
