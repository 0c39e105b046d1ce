// Package lock implements cod.lock persistence: an INI-like file with one
// section per "profile.arch" name, entries "pkgid = repo_name", sections
// and entries written in sorted order for a reproducible diff.
package lock

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cod-build/cod/internal/codutil"
)

// Entry is one installed package within a profile: which repository it was
// fetched from.
type Entry struct {
	PkgID string
	Repo  string
}

// File is the in-memory form of a cod.lock file: profile/arch section name
// to its installed entries.
type File struct {
	Path     string
	Sections map[string][]Entry
}

// Load reads path, or returns an empty File if it doesn't exist yet (a
// fresh workspace has no lockfile until its first install).
func Load(path string) (*File, error) {
	f := &File{Path: path, Sections: map[string][]Entry{}}

	r, err := os.Open(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var section string
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			if _, ok := f.Sections[section]; !ok {
				f.Sections[section] = nil
			}
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, &codutil.ManifestError{File: path, Err: codutil.NewFormatError("line %d: expected 'pkgid = repo'", lineNo)}
		}
		if section == "" {
			return nil, &codutil.ManifestError{File: path, Err: codutil.NewFormatError("line %d: entry outside any [section]", lineNo)}
		}
		pkgid := strings.TrimSpace(line[:idx])
		repo := strings.TrimSpace(line[idx+1:])
		f.Sections[section] = append(f.Sections[section], Entry{PkgID: pkgid, Repo: repo})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return f, nil
}

// Get returns the entries of a section (profile.arch), nil if absent.
func (f *File) Get(section string) []Entry {
	return f.Sections[section]
}

// Set replaces a section's entries wholesale. Callers are expected to have
// already deduplicated by pkgid.
func (f *File) Set(section string, entries []Entry) {
	f.Sections[section] = entries
}

// Prune drops every entry whose pkgid is not in reachable, across every
// section. Used after a successful build to garbage-collect lockfile
// entries that no longer correspond to anything the dependency graph
// still needs (a package dropped from requires, a profile no longer built).
func (f *File) Prune(reachable map[string]bool) (removed int) {
	for section, entries := range f.Sections {
		kept := entries[:0]
		for _, e := range entries {
			if reachable[e.PkgID] {
				kept = append(kept, e)
			} else {
				removed++
			}
		}
		f.Sections[section] = kept
	}
	return removed
}

// PruneSection drops every entry of a single section whose pkgid is not in
// reachable, leaving every other section untouched. Used by the workspace
// driver after a successful build of that one profile: sections are
// partitioned by profile name, so garbage-collecting one must never touch
// another's installed set.
func (f *File) PruneSection(section string, reachable map[string]bool) (removed int) {
	entries := f.Sections[section]
	kept := entries[:0]
	for _, e := range entries {
		if reachable[e.PkgID] {
			kept = append(kept, e)
		} else {
			removed++
		}
	}
	f.Sections[section] = kept
	return removed
}

// Save serializes sections and their entries in sorted order and rewrites
// the lockfile only if the content actually changed.
func (f *File) Save() (wrote bool, err error) {
	sectionNames := make([]string, 0, len(f.Sections))
	for name := range f.Sections {
		sectionNames = append(sectionNames, name)
	}
	sort.Strings(sectionNames)

	var b strings.Builder
	for _, name := range sectionNames {
		fmt.Fprintf(&b, "[%s]\n", name)
		entries := append([]Entry{}, f.Sections[name]...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].PkgID < entries[j].PkgID })
		for _, e := range entries {
			fmt.Fprintf(&b, "%s = %s\n", e.PkgID, e.Repo)
		}
	}

	return codutil.WriteIfChanged(f.Path, []byte(b.String()), 0o644)
}
