// Package db opens the workspace SQLite database. Everything a workspace owns
// lives in a single file under its .nextaction directory, so moving or backing
// up a workspace is a directory copy.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir = ".nextaction"
	dbFile       = "nextaction.db"
)

type Config struct {
	Workspace string
}

// EnsureWorkspace creates the .nextaction directory under workspace if it is
// missing and returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace dir: %w", err)
	}
	return dir, nil
}

// Path returns the database file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, dbFile)
}

// Open ensures the workspace exists, then opens its database with foreign keys
// enforced and a busy timeout so a CLI invocation and a running server contend
// on the file instead of failing immediately.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", Path(cfg.Workspace))
	return sql.Open("sqlite", dsn)
}
