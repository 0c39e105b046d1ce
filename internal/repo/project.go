package repo

import (
	"os"
	"path/filepath"

	"github.com/cod-build/cod/internal/codutil"
	"github.com/cod-build/cod/internal/manifest"
)

// Project is a project's root cod.toml plus the repositories it declares,
// resolved relative to the directory a package build was invoked from.
type Project struct {
	RootDir  string
	WorkDir  string // RootDir/.cod, holds per-repo cache state
	Manifest *manifest.ProjectManifest

	repos map[string]Repository
}

// FindProjectDir walks up from dir looking for the nearest ancestor (dir
// itself included) that holds a cod.toml.
func FindProjectDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if codutil.FileExists(filepath.Join(abs, "cod.toml")) {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", codutil.NewFormatError("no cod.toml found in %s or any parent directory", dir)
		}
		abs = parent
	}
}

// LoadProject locates and loads the project rooted at or above pkgDir, and
// constructs its declared repositories plus the always-present "local" one.
func LoadProject(pkgDir string) (*Project, error) {
	rootDir, err := FindProjectDir(pkgDir)
	if err != nil {
		return nil, err
	}
	m, err := manifest.ParseProjectManifestFile(filepath.Join(rootDir, "cod.toml"))
	if err != nil {
		return nil, err
	}
	workDir := filepath.Join(rootDir, ".cod")

	p := &Project{RootDir: rootDir, WorkDir: workDir, Manifest: m}
	p.repos = map[string]Repository{"local": NewProjectLocalRepo(rootDir)}
	for name, rc := range m.Repo {
		cacheDir := p.RepoDir(name)
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			return nil, err
		}
		r, err := New(rc.Type, cacheDir, rc.Extra)
		if err != nil {
			return nil, &codutil.ManifestError{File: filepath.Join(rootDir, "cod.toml"), Field: "repo." + name, Err: err}
		}
		p.repos[name] = r
	}
	return p, nil
}

// RepoDir is the workspace-private cache directory reserved for a named
// repository's own state.
func (p *Project) RepoDir(name string) string {
	return filepath.Join(p.WorkDir, name)
}

// Repos returns the project's repositories keyed by the name they were
// declared under (plus "local").
func (p *Project) Repos() map[string]Repository {
	return p.repos
}

// Repo looks up a single named repository.
func (p *Project) Repo(name string) (Repository, bool) {
	r, ok := p.repos[name]
	return r, ok
}
