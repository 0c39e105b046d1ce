package repo

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/cod-build/cod/internal/codutil"
)

// LocalRepo serves packages out of a directory of pre-built package
// checkouts, each containing a ".cod/<pkgid>.cod" artifact next to its
// built files. It never builds anything itself; Fetch is a no-op because
// every package under rootdir is already built.
type LocalRepo struct {
	rootDir string

	once     sync.Once
	loadErr  error
	packages map[string]string // pkgid -> path to the <pkgid>.cod file
}

func init() {
	Register("local", func(cacheDir string, config map[string]interface{}) (Repository, error) {
		path, _ := config["path"].(string)
		if path == "" {
			return nil, codutil.NewFormatError(`repo type "local" requires a "path" key`)
		}
		return &LocalRepo{rootDir: filepath.Join(cacheDir, path)}, nil
	})
}

func (r *LocalRepo) load() {
	r.once.Do(func() {
		matches, err := filepath.Glob(filepath.Join(r.rootDir, "*", ".cod", "*.cod"))
		if err != nil {
			r.loadErr = err
			return
		}
		r.packages = make(map[string]string, len(matches))
		for _, m := range matches {
			base := filepath.Base(m)
			pkgid := base[:len(base)-len(filepath.Ext(base))]
			r.packages[pkgid] = m
		}
	})
}

func (r *LocalRepo) List() ([]string, error) {
	r.load()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	ids := make([]string, 0, len(r.packages))
	for id := range r.packages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *LocalRepo) Fetch(pkgid string) error {
	return nil
}

func (r *LocalRepo) GetInfo(pkgid string) (*Artifact, error) {
	r.load()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	path, ok := r.packages[pkgid]
	if !ok {
		return nil, codutil.NewFormatError("package %q not found in local repo %s", pkgid, r.rootDir)
	}
	return ReadArtifact(path)
}

func (r *LocalRepo) GetPath(pkgid string) (string, error) {
	r.load()
	if r.loadErr != nil {
		return "", r.loadErr
	}
	path, ok := r.packages[pkgid]
	if !ok {
		return "", codutil.NewFormatError("package %q not found in local repo %s", pkgid, r.rootDir)
	}
	// path is .../<pkg>/.cod/<pkgid>.cod; its package root is two levels up.
	return filepath.Dir(filepath.Dir(path)), nil
}
