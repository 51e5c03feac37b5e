package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/cagekeep/broker/pkg/api"
	"github.com/cagekeep/broker/pkg/session"
)

// ErrFileNotFound means the requested path does not exist in the
// principal's workspace.
var ErrFileNotFound = errors.New("engine: file not found")

// resolveWorkspacePath resolves relPath against the principal's workspace
// root, rejecting any path that escapes it via ".." components or a
// symlink. securejoin walks the path component by component the same way
// a shell would, so a symlink planted mid-path can't be used to hop
// outside the workspace once it's resolved.
func (e *Engine) resolveWorkspacePath(principalID, relPath string) (string, error) {
	sess, ok := e.sessions.Inspect(principalID)
	if !ok {
		return "", fmt.Errorf("%w: no session for principal %s", session.ErrSessionNotFound, principalID)
	}
	return securejoin.SecureJoin(sess.WorkspacePath, relPath)
}

// ListFiles walks the principal's workspace and returns every regular file
// and directory within it, relative to the workspace root.
func (e *Engine) ListFiles(_ context.Context, principalID string) ([]api.WorkspaceFile, error) {
	sess, ok := e.sessions.Inspect(principalID)
	if !ok {
		return nil, fmt.Errorf("%w: no session for principal %s", session.ErrSessionNotFound, principalID)
	}

	var out []api.WorkspaceFile
	err := filepath.WalkDir(sess.WorkspacePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == sess.WorkspacePath {
			return nil
		}
		rel, err := filepath.Rel(sess.WorkspacePath, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, api.WorkspaceFile{
			Path:       rel,
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
			IsDir:      d.IsDir(),
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("engine: listing workspace for %s: %w", principalID, err)
	}
	return out, nil
}

// ReadFile returns the content of one file in the principal's workspace.
func (e *Engine) ReadFile(_ context.Context, principalID, path string) ([]byte, error) {
	full, err := e.resolveWorkspacePath(principalID, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("engine: reading %s: %w", path, err)
	}
	return data, nil
}

// WriteFile creates or overwrites one file in the principal's workspace,
// creating any parent directories it needs.
func (e *Engine) WriteFile(_ context.Context, principalID, path string, content []byte) error {
	full, err := e.resolveWorkspacePath(principalID, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return fmt.Errorf("engine: preparing directory for %s: %w", path, err)
	}
	if err := os.WriteFile(full, content, 0o600); err != nil {
		return fmt.Errorf("engine: writing %s: %w", path, err)
	}
	return nil
}

// DeleteFile removes one file or, if path names a directory, the
// directory and everything under it, from the principal's workspace.
func (e *Engine) DeleteFile(_ context.Context, principalID, path string) error {
	full, err := e.resolveWorkspacePath(principalID, path)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("engine: deleting %s: %w", path, err)
	}
	return nil
}
