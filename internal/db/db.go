// Package db owns the on-disk workspace: a .tracecheck directory
// holding the sqlite database of recorded validation runs.
package db

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir = ".tracecheck"
	databaseFile = "tracecheck.db"
)

// Path returns the database location inside a workspace. An empty
// workspace means the current directory.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, databaseFile)
}

// Open creates the workspace directory if needed and opens its
// database with foreign key enforcement on.
func Open(workspace string) (*sql.DB, error) {
	path := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return sql.Open("sqlite", "file:"+path+"?cache=shared&_pragma=foreign_keys(1)")
}
