// Package repo defines the repository abstraction the resolver and
// workspace driver fetch built artifacts through, and a compile-time type
// registry that selects an implementation from a project manifest's
// [repo.<name>] "type" key.
package repo

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cod-build/cod/internal/codutil"
)

// Artifact is the decoded form of a "<pkgid>.cod" file: the provides/
// requires/conflicts/obsoletes lists a built package carries, read back by
// the resolver without needing the package's source tree.
type Artifact struct {
	ID        string   `json:"id"`
	Provides  []string `json:"provides"`
	Requires  []string `json:"requires"`
	Conflicts []string `json:"conflicts,omitempty"`
	Obsoletes []string `json:"obsoletes,omitempty"`
}

// WriteArtifact serializes a to path, pretty-printed for readability and
// for a clean line-oriented VCS diff.
func WriteArtifact(path string, a *Artifact) (bool, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return false, err
	}
	data = append(data, '\n')
	return codutil.WriteIfChanged(path, data, 0o644)
}

// ReadArtifact decodes the ".cod" file at path.
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, &codutil.ManifestError{File: path, Err: err}
	}
	return &a, nil
}

// Repository is a source of built packages, keyed by package id
// ("name-evr.arch"): a local cache directory, a project's own sibling
// packages built on demand, or (in principle) a remote fetcher.
type Repository interface {
	// List returns every package id currently available without fetching.
	List() ([]string, error)
	// Fetch makes pkgid's artifact and files available locally, building or
	// downloading it if necessary. It is a no-op if the package is already
	// present.
	Fetch(pkgid string) error
	// GetInfo returns the decoded artifact metadata for pkgid.
	GetInfo(pkgid string) (*Artifact, error)
	// GetPath returns the root directory pkgid's built files live under.
	GetPath(pkgid string) (string, error)
}

// Constructor builds a Repository from its [repo.<name>] table's
// implementation-specific keys (manifest.Repo.Extra) and the workspace
// directory reserved for this repo's local state.
type Constructor func(cacheDir string, config map[string]interface{}) (Repository, error)

var registry = map[string]Constructor{}

// Register adds a repository implementation under the given [repo.<name>]
// "type" string. Called from each implementation's init(), mirroring the
// original's entry_points plugin group but resolved at compile time instead
// of at import-scan time.
func Register(typ string, ctor Constructor) {
	if _, exists := registry[typ]; exists {
		panic(fmt.Sprintf("repo: duplicate registration for type %q", typ))
	}
	registry[typ] = ctor
}

// New constructs the repository named by typ, as declared in a project
// manifest's [repo.<name>] table.
func New(typ, cacheDir string, config map[string]interface{}) (Repository, error) {
	ctor, ok := registry[typ]
	if !ok {
		return nil, codutil.NewFormatError("unknown repository type %q", typ)
	}
	return ctor(cacheDir, config)
}
