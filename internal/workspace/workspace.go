// Package workspace implements the build/install/package driver: the state
// machine that turns a package tree, its lockfile, and its repositories
// into a ninja build graph, runs the two-phase (headers then symbols)
// dependency discovery loop, and drives the external ninja invocation.
package workspace

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/golang/glog"

	"github.com/cod-build/cod/internal/arch"
	"github.com/cod-build/cod/internal/archive"
	"github.com/cod-build/cod/internal/buildgraph"
	"github.com/cod-build/cod/internal/capability"
	"github.com/cod-build/cod/internal/codutil"
	"github.com/cod-build/cod/internal/lock"
	"github.com/cod-build/cod/internal/ninjafile"
	"github.com/cod-build/cod/internal/pkgprofile"
	"github.com/cod-build/cod/internal/repo"
	"github.com/cod-build/cod/internal/resolver"
	"github.com/cod-build/cod/internal/scanner"
)

// LibProfile is the fixed profile name a distributed package is built
// under: the provides/requires a .cod artifact records always describe the
// release build, independent of whichever profile a consumer's own build
// happens to use.
const LibProfile = "release"

// Workspace ties a package's own tree to its project, lockfile, and
// resolver, and drives the build/install/package operations against them.
type Workspace struct {
	PkgDir  string
	WorkDir string // PkgDir/.cod

	Top      *pkgprofile.Package
	Project  *repo.Project
	Lock     *lock.File
	Resolver *resolver.Resolver

	// ToolchainDriver is the resolved entry point for the external C
	// toolchain (e.g. an absolute path to zig, or "zig" if it's on PATH).
	ToolchainDriver string
	// SelfPath is this binary's own executable path, reinvoked by the
	// generated ninja file's ar/objcopy/objconv rules as "$self __ar" etc.
	SelfPath string
	// Jobs caps ninja's parallelism; 0 leaves it to ninja's own default.
	Jobs int
}

// New loads the package rooted at pkgDir, its enclosing project, and its
// lockfile, and builds the resolver over the project's repositories.
func New(pkgDir string) (*Workspace, error) {
	abs, err := filepath.Abs(pkgDir)
	if err != nil {
		return nil, err
	}

	top, err := pkgprofile.Load(abs)
	if err != nil {
		return nil, err
	}

	project, err := repo.LoadProject(abs)
	if err != nil {
		return nil, err
	}

	lockFile, err := lock.Load(filepath.Join(abs, "cod.lock"))
	if err != nil {
		return nil, err
	}

	driver, err := resolveToolchainDriver()
	if err != nil {
		return nil, err
	}

	self, err := os.Executable()
	if err != nil {
		return nil, err
	}

	return &Workspace{
		PkgDir:          abs,
		WorkDir:         filepath.Join(abs, ".cod"),
		Top:             top,
		Project:         project,
		Lock:            lockFile,
		Resolver:        resolver.New(project.Repos(), lockFile),
		ToolchainDriver: driver,
		SelfPath:        self,
	}, nil
}

// resolveToolchainDriver finds the external compiler driver: COD_TOOLCHAIN
// if set, otherwise "zig" on PATH. No other repo component names a Go
// package wrapping zig's install, so this is the one place a raw
// entry-point name is resolved.
func resolveToolchainDriver() (string, error) {
	if v := os.Getenv("COD_TOOLCHAIN"); v != "" {
		return v, nil
	}
	path, err := exec.LookPath("zig")
	if err != nil {
		return "", codutil.NewFormatError("no C toolchain found: set COD_TOOLCHAIN or install zig on PATH")
	}
	return path, nil
}

// builddir is the root ninja directory for one "profile.arch" section.
func (w *Workspace) builddir(section string) string {
	return filepath.Join(w.WorkDir, section)
}

// archForGOARCH maps a Go runtime.GOARCH value to this build system's own
// architecture enum. No library in the stack carries this mapping (zig's
// own target-triple vocabulary is close but not identical), so it is a
// small, pure, directly-testable table.
func archForGOARCH(goarch string) (arch.Arch, error) {
	switch goarch {
	case "amd64":
		return arch.X86_64, nil
	case "386":
		return arch.I686, nil
	case "arm64":
		return arch.AArch64, nil
	}
	return "", codutil.NewFormatError("unsupported native architecture %q (pass -a explicitly)", goarch)
}

func nativeArch() (arch.Arch, error) {
	return archForGOARCH(runtime.GOARCH)
}

// resolveArch picks the architecture a build/install/package operation
// targets: an explicit -a flag wins, then a package declaring exactly one
// architecture, then the native host architecture. The result must still
// be one the package actually declares support for.
func (w *Workspace) resolveArch(requested string) (arch.Arch, error) {
	var a arch.Arch
	switch {
	case requested != "":
		parsed, ok := arch.Parse(requested)
		if !ok {
			return "", codutil.NewFormatError("unknown architecture %q", requested)
		}
		a = parsed
	case len(w.Top.Arch) == 1:
		a = w.Top.Arch[0]
	default:
		native, err := nativeArch()
		if err != nil {
			return "", err
		}
		a = native
	}
	if !w.Top.SupportsArch(a) {
		return "", &codutil.InvariantError{What: fmt.Sprintf(
			"architecture %s not supported by package %s (declares %v)", a, w.Top.Name, w.Top.Arch)}
	}
	return a, nil
}

// linkTargetArgs is the zig-style target-triple arguments used when
// probing or linking against the final, top-level build architecture: a
// "freestanding" target, with the 32-bit x86 variants sharing one "x86"
// triple disambiguated by -mcpu.
func linkTargetArgs(a arch.Arch) (tag string, extra []string) {
	switch a {
	case arch.I386, arch.I486, arch.I586, arch.I686:
		return "x86-freestanding-none", []string{"-mcpu=" + string(a)}
	default:
		return string(a) + "-freestanding-none", nil
	}
}

func (w *Workspace) linkToolchain(a arch.Arch) scanner.Toolchain {
	tag, extra := linkTargetArgs(a)
	return scanner.Toolchain{Driver: w.ToolchainDriver, TargetTag: tag, ExtraArgs: extra}
}

// headerToolchain is used for header-dependency scanning, which is scoped
// to each package's own build architecture rather than the top-level one.
func (w *Workspace) headerToolchain(buildArch arch.Arch) scanner.Toolchain {
	return scanner.Toolchain{Driver: w.ToolchainDriver, TargetTag: string(buildArch) + "-unknown-unknown"}
}

// dependencyProfile resolves one locked entry to the library profile it
// builds under: always LibProfile, at the architecture the resolver
// actually selected for it (recovered from its own pkgid), which may be a
// 32-bit variant cross-built under a 64-bit top arch.
func (w *Workspace) dependencyProfile(topArch arch.Arch, e lock.Entry) (*pkgprofile.Profile, error) {
	id, err := pkgprofile.ParseID(e.PkgID)
	if err != nil {
		return nil, err
	}
	repository, ok := w.Project.Repos()[e.Repo]
	if !ok {
		return nil, codutil.NewFormatError("lockfile entry %q references unknown repo %q", e.PkgID, e.Repo)
	}
	if err := repository.Fetch(e.PkgID); err != nil {
		return nil, err
	}
	root, err := repository.GetPath(e.PkgID)
	if err != nil {
		return nil, err
	}
	pkg, err := pkgprofile.Load(root)
	if err != nil {
		return nil, err
	}
	return pkgprofile.NewProfile(pkg, topArch, LibProfile, id.Arch)
}

type byID []*pkgprofile.Profile

func (s byID) Len() int           { return len(s) }
func (s byID) Less(i, j int) bool { return s[i].ID.String() < s[j].ID.String() }
func (s byID) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// writeBuild emits the root build.ninja for section (top's own profile plus
// every locked dependency's library profile), and returns the ninja-
// relative path of each package's library archive, in build order.
func (w *Workspace) writeBuild(section string, top *pkgprofile.Profile, a arch.Arch) ([]string, error) {
	packages := []*pkgprofile.Profile{top}
	for _, e := range w.Resolver.Packages(section) {
		dep, err := w.dependencyProfile(a, e)
		if err != nil {
			return nil, err
		}
		packages = append(packages, dep)
	}
	sort.Sort(byID(packages))

	rootDir := w.builddir(section)
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}

	var includeDirs []string
	for _, p := range packages {
		for _, d := range p.IncludeDirs {
			includeDirs = append(includeDirs, relTo(rootDir, d))
		}
	}

	w2 := ninjafile.NewWriter()
	w2.Variable("zig", []string{w.ToolchainDriver})
	w2.Variable("cc", []string{"$zig", "clang", fmt.Sprintf("--target=%s-unknown-unknown", a)})
	w2.Rule("cc", map[string]string{
		"command":     "$cc $cflags -MMD -MF $out.d -c $in -o $out",
		"depfile":     "$out.d",
		"description": "CC $out",
	})
	w2.Rule("as", map[string]string{
		"command":     "$cc $cflags $sflags -MMD -MF $out.d -c $in -o $out",
		"depfile":     "$out.d",
		"description": "AS $out",
	})
	w2.Rule("ar", map[string]string{
		"command":     fmt.Sprintf("%s __ar $out $in", w.SelfPath),
		"description": "AR $out",
	})
	w2.Rule("objcopy", map[string]string{
		"command":     fmt.Sprintf("%s __objcopy $out $in", w.SelfPath),
		"description": "OBJCOPY $out",
	})
	w2.Rule("objconv", map[string]string{
		"command":     fmt.Sprintf("%s __objconv $out $in", w.SelfPath),
		"description": "OBJCONV $out",
	})
	w2.Variable("linker-script", "linker-script")
	w2.Build([]string{"linker-script"}, "phony", nil, nil, nil)

	tag, extra := linkTargetArgs(a)
	ldArgs := append([]string{"$zig", "cc", "--target=" + tag}, extra...)
	ldArgs = append(ldArgs, "$cflags", "$ldflags", "$linker-script-flags", "$in", "$libs", "-o", "$out")
	w2.Rule("ld", map[string]string{
		"command":     joinSpace(ldArgs),
		"description": "LD $out",
	})

	cflags := []string{"-ffreestanding", "-nostdinc", "-nostdlib", "-fno-builtin"}
	for _, d := range includeDirs {
		cflags = append(cflags, "-I"+d)
	}
	w2.Variable("cflags", cflags)

	for _, p := range packages {
		exportPath := filepath.Join(rootDir, p.ID.String(), "export.ninja")
		if _, err := buildgraph.WriteExportFragment(exportPath, p, rootDir); err != nil {
			return nil, err
		}
		w2.Include(relTo(rootDir, exportPath))
	}

	var libs []string
	for _, p := range packages {
		objs, err := p.Objs()
		if err != nil {
			return nil, err
		}
		if len(objs) == 0 {
			continue
		}
		libNinja := filepath.Join(rootDir, p.ID.String(), "lib.ninja")
		libPath, _, err := buildgraph.WriteLibFragment(libNinja, p, rootDir)
		if err != nil {
			return nil, err
		}
		w2.Subninja(relTo(rootDir, libNinja))
		libs = append(libs, libPath)
	}
	w2.Build([]string{"libs"}, "phony", libs, nil, nil)
	w2.Variable("libs", libs)

	elfs, err := top.Elfs()
	if err != nil {
		return nil, err
	}
	if len(elfs) > 0 {
		binNinja := filepath.Join(rootDir, "obj", "lib.ninja")
		if _, _, err := buildgraph.WriteBinFragment(binNinja, top, rootDir); err != nil {
			return nil, err
		}
		w2.Subninja(relTo(rootDir, binNinja))
	}

	if _, err := codutil.WriteIfChanged(filepath.Join(rootDir, "build.ninja"), w2.Bytes(), 0o644); err != nil {
		return nil, err
	}
	return libs, nil
}

func relTo(root, target string) string {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}

func joinSpace(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func (w *Workspace) runNinja(dir string, targets []string) error {
	var args []string
	if w.Jobs > 0 {
		args = append(args, "-j", strconv.Itoa(w.Jobs))
	}
	args = append(args, targets...)

	cmd := exec.Command("ninja", args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	glog.V(1).Infof("ninja: %v (in %s)", args, dir)
	if err := cmd.Run(); err != nil {
		return codutil.Errorf("ninja %v failed: %w", args, err)
	}
	return nil
}

// readArmap parses the armap of the thin archive at rootDir/relPath, and
// rewrites each entry's member path to be relative to rootDir (armap
// entries are natively relative to the archive's own directory).
func readArmap(rootDir, relPath string) ([]archive.SymbolEntry, error) {
	f, err := os.Open(filepath.Join(rootDir, relPath))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := archive.ParseArmap(f)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(relPath)
	out := make([]archive.SymbolEntry, len(entries))
	for i, e := range entries {
		out[i] = archive.SymbolEntry{Symbol: e.Symbol, MemberPath: filepath.ToSlash(filepath.Join(dir, e.MemberPath))}
	}
	return out, nil
}

// undefinedSymbols runs the symbol-phase closure: for each object linked
// into the top package's executables, it starts from that object's own
// undefined symbols and pulls in whatever library member resolves each one
// (and that member's own further dependencies, transitively), until every
// reachable symbol either resolves to something already on the link line
// or is recorded as genuinely unresolved.
func (w *Workspace) undefinedSymbols(rootDir string, tc scanner.Toolchain, libs []string) ([]string, error) {
	scriptPath, err := scanner.WriteAlwaysFailScript(rootDir)
	if err != nil {
		return nil, err
	}

	binEntries, err := readArmap(rootDir, "lib/bin.a")
	if err != nil {
		return nil, err
	}

	symbolOwner := map[string]string{}
	members := map[string]bool{}
	for _, lib := range libs {
		entries, err := readArmap(rootDir, lib)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			symbolOwner[e.Symbol] = e.MemberPath
			members[e.MemberPath] = true
		}
	}

	libDeps := map[string][]string{}
	for member := range members {
		deps, err := tc.MissingSymbols(rootDir, member, scriptPath)
		if err != nil {
			return nil, err
		}
		libDeps[member] = deps
	}

	binDefs := map[string]map[string]bool{}
	var binOrder []string
	for _, e := range binEntries {
		if binDefs[e.MemberPath] == nil {
			binDefs[e.MemberPath] = map[string]bool{}
			binOrder = append(binOrder, e.MemberPath)
		}
		binDefs[e.MemberPath][e.Symbol] = true
	}
	sort.Strings(binOrder)

	initialQueues := map[string][]string{}
	for _, member := range binOrder {
		queue, err := tc.MissingSymbols(rootDir, member, scriptPath)
		if err != nil {
			return nil, err
		}
		initialQueues[member] = queue
	}

	return computeUndefinedSymbols(binOrder, binDefs, initialQueues, symbolOwner, libDeps), nil
}

// computeUndefinedSymbols is the pure graph-traversal half of
// undefinedSymbols, split out so it can be unit-tested without a real
// toolchain.
func computeUndefinedSymbols(binOrder []string, binDefs map[string]map[string]bool, initialQueues map[string][]string, symbolOwner map[string]string, libDeps map[string][]string) []string {
	undefined := map[string]bool{}
	for _, member := range binOrder {
		defs := binDefs[member]
		queue := append([]string(nil), initialQueues[member]...)
		for len(queue) > 0 {
			sym := queue[0]
			queue = queue[1:]
			if undefined[sym] || defs[sym] {
				continue
			}
			if owner, ok := symbolOwner[sym]; ok {
				defs[sym] = true
				queue = append(queue, libDeps[owner]...)
			} else {
				undefined[sym] = true
			}
		}
	}
	out := make([]string, 0, len(undefined))
	for s := range undefined {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Build drives the full build state machine for one (arch, profile): the
// header-dependency phase, root ninja emission, the library build, the
// iterated symbol-resolution loop (only when the package links
// executables), and the final link phase. The lockfile is saved after each
// resolve step and once more at the end; the end-of-build prune removes no
// entry (see finishBuild).
func (w *Workspace) Build(archFlag, profileName string, noBin bool) error {
	a, err := w.resolveArch(archFlag)
	if err != nil {
		return err
	}
	return w.buildFor(a, profileName, noBin)
}

// buildFor is Build with the target architecture already resolved, used
// directly by Package so that building each declared architecture's
// release profile doesn't re-run (and potentially disagree with)
// resolveArch's own defaulting.
func (w *Workspace) buildFor(a arch.Arch, profileName string, noBin bool) error {
	section := profileName + "." + string(a)

	top, err := pkgprofile.NewProfile(w.Top, a, profileName, a)
	if err != nil {
		return err
	}

	deps, err := top.IncludeDeps(w.headerToolchain(top.BuildArch))
	if err != nil {
		return err
	}
	if len(deps) > 0 {
		if _, err := w.Resolver.InstallProvides(section, deps); err != nil {
			return err
		}
		if _, err := w.Lock.Save(); err != nil {
			return err
		}
	}

	libs, err := w.writeBuild(section, top, a)
	if err != nil {
		return err
	}
	rootDir := w.builddir(section)

	elfs, err := top.Elfs()
	if err != nil {
		return err
	}
	if noBin || len(elfs) == 0 {
		if len(libs) > 0 {
			if err := w.runNinja(rootDir, libs); err != nil {
				return err
			}
		}
		return w.finishBuild(section)
	}

	tc := w.linkToolchain(a)
	for {
		targets := append([]string{"lib/bin.a"}, libs...)
		if err := w.runNinja(rootDir, targets); err != nil {
			return err
		}

		undefined, err := w.undefinedSymbols(rootDir, tc, libs)
		if err != nil {
			return err
		}
		if len(undefined) == 0 {
			break
		}

		dirty, err := w.Resolver.InstallFromSymbols(section, undefined)
		if err != nil {
			return err
		}
		if _, err := w.Lock.Save(); err != nil {
			return err
		}
		if !dirty {
			return &codutil.UnresolvedSymbolError{Symbols: undefined}
		}

		libs, err = w.writeBuild(section, top, a)
		if err != nil {
			return err
		}
	}

	if err := w.runNinja(rootDir, nil); err != nil {
		return err
	}
	return w.finishBuild(section)
}

// finishBuild hands PruneSection every entry this section already holds as
// the reachable set, so no entry is removed, and saves the lockfile if
// anything changed.
func (w *Workspace) finishBuild(section string) error {
	reachable := map[string]bool{}
	for _, e := range w.Resolver.Packages(section) {
		reachable[e.PkgID] = true
	}
	w.Lock.PruneSection(section, reachable)
	_, err := w.Lock.Save()
	return err
}

// Install resolves and records explicit package requests (by selector)
// into a profile's lockfile section, without building anything.
func (w *Workspace) Install(archFlag, profileName string, packages []string) error {
	a, err := w.resolveArch(archFlag)
	if err != nil {
		return err
	}
	section := profileName + "." + string(a)
	if _, err := w.Resolver.InstallPackages(section, packages); err != nil {
		return err
	}
	_, err = w.Lock.Save()
	return err
}

// Package builds the release profile for one architecture (or every
// architecture the top package declares, or the native one if it declares
// none) and, unless check is set, writes the resulting ".cod" artifact plus
// (for packages with their own objects) a distributable regular archive
// alongside the intermediate thin one. With check set, the library build
// still runs (and writes its ninja files, lockfile and thin archive), but
// neither the ".cod" artifact nor the distributable archive is written; the
// computed artifacts are only returned, for `cod package --check`.
func (w *Workspace) Package(archFlag string, check bool) ([]*repo.Artifact, error) {
	if archFlag != "" {
		a, ok := arch.Parse(archFlag)
		if !ok {
			return nil, codutil.NewFormatError("unknown architecture %q", archFlag)
		}
		info, err := w.packageOne(a, check)
		if err != nil {
			return nil, err
		}
		return []*repo.Artifact{info}, nil
	}
	if len(w.Top.Arch) > 0 {
		var out []*repo.Artifact
		for _, a := range w.Top.Arch {
			info, err := w.packageOne(a, check)
			if err != nil {
				return nil, err
			}
			out = append(out, info)
		}
		return out, nil
	}
	native, err := nativeArch()
	if err != nil {
		return nil, err
	}
	info, err := w.packageOne(native, check)
	if err != nil {
		return nil, err
	}
	return []*repo.Artifact{info}, nil
}

func (w *Workspace) packageOne(a arch.Arch, check bool) (*repo.Artifact, error) {
	if !w.Top.SupportsArch(a) {
		return nil, &codutil.InvariantError{What: fmt.Sprintf(
			"architecture %s not supported by package %s (declares %v)", a, w.Top.Name, w.Top.Arch)}
	}

	top, err := pkgprofile.NewProfile(w.Top, a, LibProfile, a)
	if err != nil {
		return nil, err
	}

	deps, err := top.IncludeDeps(w.headerToolchain(top.BuildArch))
	if err != nil {
		return nil, err
	}

	headerFiles, err := top.IncludeFiles()
	if err != nil {
		return nil, err
	}
	headerKeys := make([]string, 0, len(headerFiles))
	for k := range headerFiles {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)

	provides := make([]string, 0, len(headerKeys)+2)
	for _, k := range headerKeys {
		provides = append(provides, capability.Header(k).String())
	}
	if top.ExportFlags().LinkerScript != "" {
		provides = append(provides, capability.LinkerScript().String())
	}

	objs, err := top.Objs()
	if err != nil {
		return nil, err
	}

	section := fmt.Sprintf("%s.%s", LibProfile, a)
	rootDir := w.builddir(section)

	var libEntries []archive.SymbolEntry
	if len(objs) > 0 {
		if err := w.buildFor(a, LibProfile, true); err != nil {
			return nil, err
		}

		entries, err := readArmap(rootDir, top.LibraryArchiveName())
		if err != nil {
			return nil, err
		}
		libEntries = entries
		libName := filepath.Base(top.LibraryArchiveName())
		provides = append(provides, libName)
		seenSym := map[string]bool{}
		for _, e := range entries {
			if !seenSym[e.Symbol] {
				seenSym[e.Symbol] = true
				provides = append(provides, capability.Symbol(e.Symbol).String())
			}
		}
	}

	requires := make([]string, len(deps))
	for i, d := range deps {
		requires[i] = d.String()
	}

	info := &repo.Artifact{ID: top.ID.String(), Requires: requires, Provides: provides}
	if check {
		return info, nil
	}

	if libEntries != nil {
		if err := w.writeDistArchive(rootDir, top, libEntries); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(w.WorkDir, 0o755); err != nil {
		return nil, err
	}
	if _, err := repo.WriteArtifact(filepath.Join(w.WorkDir, top.ID.String()+".cod"), info); err != nil {
		return nil, err
	}
	return info, nil
}

// writeDistArchive converts the intermediate thin library archive's
// members into a regular, content-embedded, symbol-indexed archive:
// the format this build system distributes, as opposed to the thin one it
// builds and reads back locally.
func (w *Workspace) writeDistArchive(rootDir string, top *pkgprofile.Profile, entries []archive.SymbolEntry) error {
	names := map[string]string{}
	symbolsByMember := map[string][]string{}
	var order []string
	for _, e := range entries {
		name, ok := names[e.MemberPath]
		if !ok {
			name = filepath.Base(e.MemberPath)
			names[e.MemberPath] = name
			order = append(order, e.MemberPath)
		}
		symbolsByMember[name] = append(symbolsByMember[name], e.Symbol)
	}
	sort.Strings(order)

	members := make([]archive.Member, 0, len(order))
	for _, memberPath := range order {
		data, err := os.ReadFile(filepath.Join(rootDir, memberPath))
		if err != nil {
			return err
		}
		members = append(members, archive.Member{Name: names[memberPath], Data: data})
	}

	var buf bytes.Buffer
	if err := archive.WriteRegular(&buf, members, symbolsByMember); err != nil {
		return err
	}
	distPath := filepath.Join(w.WorkDir, top.ID.String()+".a")
	_, err := codutil.WriteIfChanged(distPath, buf.Bytes(), 0o644)
	return err
}
