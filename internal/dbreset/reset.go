// Package dbreset re-seeds the service's SQLite database from a SQL fixture
// before a replay run.
package dbreset

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrMissingExecutable is returned when the sqlite3 binary cannot be found.
var ErrMissingExecutable = errors.New("dbreset: sqlite3 executable not found")

// Resetter recreates the database.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Target names the database file and the SQL that seeds it.
type Target struct {
	DBPath      string
	FixturePath string
}

// prepare reads the seed SQL, removes the old database and creates its
// directory.
func (t Target) prepare() ([]byte, error) {
	script, err := os.ReadFile(t.FixturePath)
	if err != nil {
		return nil, fmt.Errorf("dbreset: read fixture: %w", err)
	}
	if err := os.Remove(t.DBPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("dbreset: remove %s: %w", t.DBPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(t.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("dbreset: create dir: %w", err)
	}
	return script, nil
}

// BinaryResetter feeds the seed SQL to the sqlite3 executable on stdin.
type BinaryResetter struct {
	target     Target
	binaryPath string
	timeout    time.Duration
}

// NewBinaryResetter resolves binary on PATH. A missing executable is a
// configuration error reported before any fixture runs.
func NewBinaryResetter(binary string, target Target) (*BinaryResetter, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingExecutable, binary, err)
	}
	return &BinaryResetter{target: target, binaryPath: path, timeout: time.Minute}, nil
}

// Reset recreates the database with `sqlite3 <db> < fixture`.
func (r *BinaryResetter) Reset(ctx context.Context) error {
	script, err := r.target.prepare()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binaryPath, r.target.DBPath)
	cmd.Stdin = bytes.NewReader(script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("dbreset: sqlite3 init failed: %w (stderr: %s)", err, stderr.String())
	}
	return nil
}

// EmbeddedResetter executes the seed SQL through the in-process SQLite
// driver, for hosts without a sqlite3 binary.
type EmbeddedResetter struct {
	target Target
}

// NewEmbeddedResetter creates an EmbeddedResetter.
func NewEmbeddedResetter(target Target) *EmbeddedResetter {
	return &EmbeddedResetter{target: target}
}

// Reset recreates the database and runs the seed script.
func (r *EmbeddedResetter) Reset(ctx context.Context) error {
	script, err := r.target.prepare()
	if err != nil {
		return err
	}

	db, err := sql.Open("sqlite", r.target.DBPath)
	if err != nil {
		return fmt.Errorf("dbreset: open %s: %w", r.target.DBPath, err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("dbreset: run fixture: %w", err)
	}
	return nil
}
