// Package workspace manages the scoped temporary directory a pipeline run
// works in. The directory name carries a random suffix so concurrent runs can
// share a parent; teardown is explicit and idempotent — nothing removes the
// workspace except the orchestrator's cleanup policy.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/lucasnoah/tckfactory/internal/artifact"
)

// Workspace is a uniquely named temporary directory under a parent directory.
type Workspace struct {
	root   string
	parent string
}

// New allocates a workspace path under parentDir without touching the
// filesystem. When useCwd is set, parentDir is resolved relative to the
// current working directory. The random suffix keeps concurrent runs under a
// shared parent from colliding.
func New(parentDir string, useCwd bool) (*Workspace, error) {
	if useCwd && !filepath.IsAbs(parentDir) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		parentDir = filepath.Join(cwd, parentDir)
	}
	root := filepath.Join(parentDir, "tmp_dir_"+uuid.NewString()[:8])
	return &Workspace{root: root, parent: parentDir}, nil
}

// Root returns the workspace directory path.
func (w *Workspace) Root() string { return w.root }

// Parent returns the parent directory path.
func (w *Workspace) Parent() string { return w.parent }

// Materialize creates the workspace directory tree. Calling it on an
// existing workspace is a no-op.
func (w *Workspace) Materialize() error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.root, err)
	}
	return nil
}

// StageInput copies an external file into the workspace under its original
// basename and returns the in-workspace Artifact. The source file is left
// unchanged.
func (w *Workspace) StageInput(externalPath string) (artifact.Artifact, error) {
	dst := artifact.New(externalPath).InDir(w.root)
	if err := CopyFile(externalPath, dst.Path()); err != nil {
		return artifact.Artifact{}, fmt.Errorf("stage %s: %w", externalPath, err)
	}
	return dst, nil
}

// Join returns an Artifact for a workspace-relative file name.
func (w *Workspace) Join(name string) artifact.Artifact {
	return artifact.New(filepath.Join(w.root, name))
}

// CopyOut copies a final artifact into destDir, keeping its basename, and
// returns the destination Artifact.
func (w *Workspace) CopyOut(a artifact.Artifact, destDir string) (artifact.Artifact, error) {
	dst := a.InDir(destDir)
	if err := CopyFile(a.Path(), dst.Path()); err != nil {
		return artifact.Artifact{}, fmt.Errorf("copy out %s: %w", a.Base(), err)
	}
	return dst, nil
}

// Teardown removes the workspace directory; with removeParent set it removes
// the parent tree instead (used when the parent is itself disposable scratch
// space). Removing an already-absent directory is success.
func (w *Workspace) Teardown(removeParent bool) error {
	target := w.root
	if removeParent {
		target = w.parent
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("remove %s: %w", target, err)
	}
	return nil
}
