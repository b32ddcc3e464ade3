package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"nextaction/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const itemColumns = `id,title,body,type,state,source,waiting_on,waiting_since,created_at,updated_at`

func scanItem(scan func(...any) error) (domain.Item, error) {
	var it domain.Item
	var body, source, waitingOn, waitingSince sql.NullString
	err := scan(&it.ID, &it.Title, &body, &it.Type, &it.State, &source, &waitingOn, &waitingSince, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if body.Valid {
		it.Body = body.String
	}
	if source.Valid {
		it.Source = source.String
	}
	if waitingOn.Valid {
		it.WaitingOn = &waitingOn.String
	}
	if waitingSince.Valid {
		it.WaitingSince = &waitingSince.String
	}
	return it, nil
}

func (r Repo) InsertItem(ctx context.Context, it domain.Item) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.Title, nullable(it.Body), it.Type, it.State, nullable(it.Source),
		nullableStringPtr(it.WaitingOn), nullableStringPtr(it.WaitingSince), it.CreatedAt, it.UpdatedAt)
	return err
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.Item, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id)
	return scanItem(row.Scan)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.Item, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id)
	return scanItem(row.Scan)
}

type ItemFilters struct {
	State           string
	Type            string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]domain.Item, error) {
	var clauses []string
	var args []any
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + itemColumns + ` FROM items ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) UpdateItemTx(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	res, err := tx.ExecContext(ctx, `UPDATE items SET title=?, body=?, type=?, state=?, source=?, waiting_on=?, waiting_since=?, updated_at=? WHERE id=?`,
		it.Title, nullable(it.Body), it.Type, it.State, nullable(it.Source),
		nullableStringPtr(it.WaitingOn), nullableStringPtr(it.WaitingSince), it.UpdatedAt, it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const taskColumns = `id,item_id,project_id,action_text,context,energy,estimated_minutes,due_date,snoozed_until,pinned_order,manual_rank,priority,status,unverified,completed_at,created_at,updated_at`

func scanTask(scan func(...any) error) (domain.Task, error) {
	var t domain.Task
	var projectID, context, energy, dueDate, snoozedUntil, completedAt sql.NullString
	var estimated, pinned, manual sql.NullInt64
	var unverified int
	err := scan(&t.ID, &t.ItemID, &projectID, &t.ActionText, &context, &energy, &estimated,
		&dueDate, &snoozedUntil, &pinned, &manual, &t.Priority, &t.Status, &unverified,
		&completedAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
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
	return t, nil
}

func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ItemID, nullableStringPtr(t.ProjectID), t.ActionText, nullable(t.Context), nullable(t.Energy),
		nullableIntPtr(t.EstimatedMinutes), nullableStringPtr(t.DueDate), nullableStringPtr(t.SnoozedUntil),
		nullableIntPtr(t.PinnedOrder), nullableIntPtr(t.ManualRank), t.Priority, t.Status, boolInt(t.Unverified),
		nullableStringPtr(t.CompletedAt), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET project_id=?, action_text=?, context=?, energy=?, estimated_minutes=?, due_date=?, snoozed_until=?, pinned_order=?, manual_rank=?, priority=?, status=?, unverified=?, completed_at=?, updated_at=? WHERE id=?`,
		nullableStringPtr(t.ProjectID), t.ActionText, nullable(t.Context), nullable(t.Energy),
		nullableIntPtr(t.EstimatedMinutes), nullableStringPtr(t.DueDate), nullableStringPtr(t.SnoozedUntil),
		nullableIntPtr(t.PinnedOrder), nullableIntPtr(t.ManualRank), t.Priority, t.Status, boolInt(t.Unverified),
		nullableStringPtr(t.CompletedAt), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskByItem(ctx context.Context, itemID string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE item_id=?`, itemID)
	return scanTask(row.Scan)
}

func (r Repo) GetTaskByItemTx(ctx context.Context, tx *sql.Tx, itemID string) (domain.Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE item_id=?`, itemID)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	ProjectID       string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// SnoozedDue returns open tasks whose item is snoozed and whose wake time has
// arrived.
func (r Repo) SnoozedDue(ctx context.Context, now string) ([]domain.Task, error) {
	query := `SELECT ` + prefixColumns("t", taskColumns) + ` FROM tasks t
JOIN items i ON i.id=t.item_id
WHERE i.state=? AND t.snoozed_until IS NOT NULL AND t.snoozed_until<=? AND t.status='open'
ORDER BY t.snoozed_until ASC, t.id ASC`
	rows, err := r.DB.QueryContext(ctx, query, domain.StateSnoozed, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountOpenTasksTx(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE project_id=? AND status='open'`, projectID).Scan(&n)
	return n, err
}

func (r Repo) CountOpenTasks(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE project_id=? AND status='open'`, projectID).Scan(&n)
	return n, err
}

const projectColumns = `id,item_id,outcome_statement,status,next_action_task_id,due_date,priority,focus_this_week,last_progress_at,theme_tag,waiting_on,waiting_since,created_at,updated_at`

func scanProject(scan func(...any) error) (domain.Project, error) {
	var p domain.Project
	var itemID, nextAction, dueDate, lastProgress, themeTag, waitingOn, waitingSince sql.NullString
	var focus int
	err := scan(&p.ID, &itemID, &p.OutcomeStatement, &p.Status, &nextAction, &dueDate,
		&p.Priority, &focus, &lastProgress, &themeTag, &waitingOn, &waitingSince, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if itemID.Valid {
		p.ItemID = &itemID.String
	}
	if nextAction.Valid {
		p.NextActionTaskID = &nextAction.String
	}
	if dueDate.Valid {
		p.DueDate = &dueDate.String
	}
	if lastProgress.Valid {
		p.LastProgressAt = &lastProgress.String
	}
	if themeTag.Valid {
		p.ThemeTag = &themeTag.String
	}
	if waitingOn.Valid {
		p.WaitingOn = &waitingOn.String
	}
	if waitingSince.Valid {
		p.WaitingSince = &waitingSince.String
	}
	p.FocusThisWeek = focus != 0
	return p, nil
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, nullableStringPtr(p.ItemID), p.OutcomeStatement, p.Status, nullableStringPtr(p.NextActionTaskID),
		nullableStringPtr(p.DueDate), p.Priority, boolInt(p.FocusThisWeek), nullableStringPtr(p.LastProgressAt),
		nullableStringPtr(p.ThemeTag), nullableStringPtr(p.WaitingOn), nullableStringPtr(p.WaitingSince),
		p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET item_id=?, outcome_statement=?, status=?, next_action_task_id=?, due_date=?, priority=?, focus_this_week=?, last_progress_at=?, theme_tag=?, waiting_on=?, waiting_since=?, updated_at=? WHERE id=?`,
		nullableStringPtr(p.ItemID), p.OutcomeStatement, p.Status, nullableStringPtr(p.NextActionTaskID),
		nullableStringPtr(p.DueDate), p.Priority, boolInt(p.FocusThisWeek), nullableStringPtr(p.LastProgressAt),
		nullableStringPtr(p.ThemeTag), nullableStringPtr(p.WaitingOn), nullableStringPtr(p.WaitingSince),
		p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

// GetProjectByNextActionTaskTx finds the project whose designated next action
// is the given task, if any.
func (r Repo) GetProjectByNextActionTaskTx(ctx context.Context, tx *sql.Tx, taskID string) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE next_action_task_id=?`, taskID)
	return scanProject(row.Scan)
}

func (r Repo) ListProjects(ctx context.Context, status string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = prefix + "." + c
	}
	return strings.Join(parts, ",")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
