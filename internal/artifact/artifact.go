// Package artifact provides the Artifact value type used to name and derive
// every file the pipeline touches. An Artifact carries its resolved extension
// alongside the path so that multi-part extensions (.nii.gz, .mif.gz) survive
// suffix derivation intact.
package artifact

import (
	"os"
	"path/filepath"
	"strings"
)

// Imaging and sidecar extensions the pipeline produces. Multi-part
// extensions must be listed before their final component so inference
// matches the longest one first.
var knownExts = []string{
	".nii.gz",
	".mif.gz",
	".nii",
	".mif",
	".tck",
	".mat",
	".txt",
	".csv",
	".json",
	".bval",
	".bvec",
}

// Artifact is a file path with a resolved extension. The extension is fixed
// at construction and is never re-derived from the path; derivation methods
// return new Artifacts and never mutate the receiver.
type Artifact struct {
	path string
	ext  string
}

// New creates an Artifact, inferring the extension from the path. Multi-part
// extensions are matched before single-part ones, so "a.nii.gz" resolves to
// ".nii.gz", not ".gz". Paths with an unrecognised extension fall back to
// filepath.Ext.
func New(path string) Artifact {
	base := filepath.Base(path)
	for _, e := range knownExts {
		if strings.HasSuffix(base, e) {
			return Artifact{path: path, ext: e}
		}
	}
	return Artifact{path: path, ext: filepath.Ext(base)}
}

// NewWithExt creates an Artifact with an explicitly supplied extension,
// bypassing inference. Used when the caller already knows the file kind.
func NewWithExt(path, ext string) Artifact {
	return Artifact{path: path, ext: ext}
}

// Path returns the full file path.
func (a Artifact) Path() string { return a.path }

// Ext returns the resolved extension, including the leading dot.
func (a Artifact) Ext() string { return a.ext }

// IsZero reports whether the Artifact is the zero value.
func (a Artifact) IsZero() bool { return a.path == "" }

// Dir returns the directory containing the artifact.
func (a Artifact) Dir() string { return filepath.Dir(a.path) }

// Base returns the file name including extension.
func (a Artifact) Base() string { return filepath.Base(a.path) }

// Stem returns the file name with the resolved extension stripped. Because
// the extension was resolved at construction, "a.nii.gz" stems to "a", never
// "a.nii".
func (a Artifact) Stem() string {
	base := filepath.Base(a.path)
	return strings.TrimSuffix(base, a.ext)
}

// WithSuffix derives a sibling Artifact named {dir}/{stem}{suffix}{ext}.
// The suffix may itself contain dots (".fa", ".100000.streamlines"); the
// stored extension is appended verbatim so compressed extensions are never
// truncated.
func (a Artifact) WithSuffix(suffix string) Artifact {
	return Artifact{
		path: filepath.Join(a.Dir(), a.Stem()+suffix+a.ext),
		ext:  a.ext,
	}
}

// WithExt derives an Artifact with the same directory and stem but a new
// extension. This is the only way an Artifact changes kind (e.g. NIFTI to
// MIF); the new extension is explicit, never inferred.
func (a Artifact) WithExt(ext string) Artifact {
	return Artifact{
		path: filepath.Join(a.Dir(), a.Stem()+ext),
		ext:  ext,
	}
}

// InDir rebases the artifact into dir, keeping basename and extension.
func (a Artifact) InDir(dir string) Artifact {
	return Artifact{
		path: filepath.Join(dir, a.Base()),
		ext:  a.ext,
	}
}

// Exists reports whether the artifact is present on disk.
func (a Artifact) Exists() bool {
	_, err := os.Stat(a.path)
	return err == nil
}
