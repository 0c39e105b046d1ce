package repo

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/golang/glog"

	"github.com/cod-build/cod/internal/codutil"
	"github.com/cod-build/cod/internal/pkgprofile"
)

// ProjectLocalRepo serves packages out of the project's own source tree:
// every sibling directory with a cod.toml is a candidate package. Unlike
// LocalRepo it builds missing packages on demand by re-invoking the cod
// binary with "package" in that directory, so a project never needs to
// pre-build its own internal dependencies before resolving against them.
type ProjectLocalRepo struct {
	rootDir string

	mu       sync.Mutex
	loaded   bool
	packages map[string]string // pkgid -> path to its <pkgid>.cod file
}

// NewProjectLocalRepo constructs the always-present "local" view of a
// project's own package directories, rooted at the project's cod.toml
// directory.
func NewProjectLocalRepo(rootDir string) *ProjectLocalRepo {
	return &ProjectLocalRepo{rootDir: rootDir}
}

func (r *ProjectLocalRepo) scan() error {
	if r.loaded {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(r.rootDir, "*", ".cod", "*.cod"))
	if err != nil {
		return err
	}
	r.packages = make(map[string]string, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		pkgid := base[:len(base)-len(filepath.Ext(base))]
		r.packages[pkgid] = m
	}
	r.loaded = true
	return nil
}

func (r *ProjectLocalRepo) List() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.scan(); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(r.packages))
	for id := range r.packages {
		ids = append(ids, id)
	}
	return ids, nil
}

// Fetch builds pkgid in place if it isn't already cached.
func (r *ProjectLocalRepo) Fetch(pkgid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensure(pkgid)
}

func (r *ProjectLocalRepo) GetInfo(pkgid string) (*Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensure(pkgid); err != nil {
		return nil, err
	}
	return ReadArtifact(r.packages[pkgid])
}

func (r *ProjectLocalRepo) GetPath(pkgid string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensure(pkgid); err != nil {
		return "", err
	}
	return filepath.Dir(filepath.Dir(r.packages[pkgid])), nil
}

// ensure scans the cache and, if pkgid isn't present, locates its unique
// source directory among the project's sibling packages and builds it by
// re-invoking the cod binary. Caller must hold r.mu.
func (r *ProjectLocalRepo) ensure(pkgid string) error {
	if err := r.scan(); err != nil {
		return err
	}
	if _, ok := r.packages[pkgid]; ok {
		return nil
	}
	return r.doPackage(pkgid)
}

func (r *ProjectLocalRepo) doPackage(pkgid string) error {
	id, err := pkgprofile.ParseID(pkgid)
	if err != nil {
		return err
	}

	candidates, err := filepath.Glob(filepath.Join(r.rootDir, "*", "cod.toml"))
	if err != nil {
		return err
	}

	alreadyBuilt := make(map[string]bool, len(r.packages))
	for _, artifactPath := range r.packages {
		alreadyBuilt[filepath.Dir(filepath.Dir(artifactPath))] = true
	}

	var found string
	for _, manifestPath := range candidates {
		dir := filepath.Dir(manifestPath)
		if alreadyBuilt[dir] {
			continue
		}
		pkg, err := pkgprofile.Load(dir)
		if err != nil {
			continue
		}
		if pkg.Name != id.Name || pkg.EVR != id.EVR {
			continue
		}
		if !pkg.SupportsArch(id.Arch) {
			continue
		}
		if found != "" {
			return codutil.NewFormatError("multiple candidates for package %q under %s", pkgid, r.rootDir)
		}
		found = dir
	}
	if found == "" {
		return codutil.NewFormatError("package %q not found in project-local repo %s", pkgid, r.rootDir)
	}

	self, err := exec.LookPath(os.Args[0])
	if err != nil {
		self = os.Args[0]
	}
	cmd := exec.Command(self, "package")
	cmd.Dir = found
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	glog.Infof("repo: building %s in %s", pkgid, found)
	if err := cmd.Run(); err != nil {
		return codutil.NewFormatError("building package %q in %s: %s", pkgid, found, err)
	}

	artifact := filepath.Join(found, ".cod", pkgid+".cod")
	if !codutil.FileExists(artifact) {
		return codutil.NewFormatError("package %q did not produce %s", pkgid, artifact)
	}
	r.packages[pkgid] = artifact
	return nil
}
