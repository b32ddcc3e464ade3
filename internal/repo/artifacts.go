package repo

import (
	"context"
	"database/sql"
	"strings"

	"nextaction/internal/domain"
)

const artifactColumns = `id,item_id,artifact_type,content,file_pointer,created_at`

func scanArtifact(scan func(...any) error) (domain.Artifact, error) {
	var a domain.Artifact
	var content, filePointer sql.NullString
	err := scan(&a.ID, &a.ItemID, &a.ArtifactType, &content, &filePointer, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if content.Valid {
		a.Content = &content.String
	}
	if filePointer.Valid {
		a.FilePointer = &filePointer.String
	}
	return a, nil
}

func (r Repo) InsertArtifact(ctx context.Context, a domain.Artifact) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO artifacts(`+artifactColumns+`) VALUES (?,?,?,?,?,?)`,
		a.ID, a.ItemID, a.ArtifactType, nullableStringPtr(a.Content), nullableStringPtr(a.FilePointer), a.CreatedAt)
	return err
}

func (r Repo) ListArtifactsByItem(ctx context.Context, itemID string) ([]domain.Artifact, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE item_id=? ORDER BY created_at ASC, id ASC`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func evidenceTypePlaceholders() (string, []any) {
	placeholders := make([]string, len(domain.EvidenceArtifactTypes))
	args := make([]any, len(domain.EvidenceArtifactTypes))
	for i, t := range domain.EvidenceArtifactTypes {
		placeholders[i] = "?"
		args[i] = t
	}
	return strings.Join(placeholders, ","), args
}

// HasEvidence reports whether the item has at least one evidence-grade
// artifact carrying content or a file pointer.
func (r Repo) HasEvidence(ctx context.Context, itemID string) (bool, error) {
	ph, args := evidenceTypePlaceholders()
	args = append([]any{itemID}, args...)
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM artifacts
WHERE item_id=? AND artifact_type IN (`+ph+`) AND (content IS NOT NULL OR file_pointer IS NOT NULL) LIMIT 1`, args...)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// LatestEvidence returns the most recent evidence-grade artifact for an item.
func (r Repo) LatestEvidence(ctx context.Context, itemID string) (domain.Artifact, error) {
	ph, args := evidenceTypePlaceholders()
	args = append([]any{itemID}, args...)
	row := r.DB.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts
WHERE item_id=? AND artifact_type IN (`+ph+`) ORDER BY created_at DESC, id DESC LIMIT 1`, args...)
	return scanArtifact(row.Scan)
}
