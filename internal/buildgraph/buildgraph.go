// Package buildgraph emits the ninja fragments a package's profile compiles
// down to: per-object compile rules (with the objconv 32->64 lift spliced
// in where a cross-arch dependency needs it), the library archive a
// dependency exposes to its consumers, the top package's own executables,
// and the compiler/linker variables a dependent build pulls in via an
// exported flags fragment.
package buildgraph

import (
	"path/filepath"
	"strings"

	"github.com/cod-build/cod/internal/manifest"
	"github.com/cod-build/cod/internal/ninjafile"
	"github.com/cod-build/cod/internal/pkgprofile"
)

func relTo(root, target string) string {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}

// WriteExportFragment emits the compiler/linker variables a consumer needs
// when building against p: cflags/sflags/ldflags and the linker script p's
// manifest exports, meant to be pulled into the consumer's own scope with
// ninja's "include" (not "subninja").
func WriteExportFragment(ninjaPath string, p *pkgprofile.Profile, rootDir string) (bool, error) {
	return ninjafile.WriteFragment(ninjaPath, func(w *ninjafile.Writer) {
		flags := p.ExportFlags()
		writeLinkerVariables(w, p.Package.RootDir, rootDir, flags)
		writeCompilerVariables(w, flags, "")
	})
}

// writeBuildVariables emits the per-profile build-time overrides: a
// retargeted $cc when this profile builds for an architecture other than
// the top-level one, and the package's own resolved build flags.
func writeBuildVariables(w *ninjafile.Writer, p *pkgprofile.Profile, rootDir string) {
	if p.BuildArch != p.TopArch {
		w.Variable("arch", string(p.BuildArch))
		w.Variable("cc", []string{"$zig", "clang", "--target=${arch}-unknown-unknown"})
	}
	flags := p.BuildFlags()
	writeLinkerVariables(w, p.Package.RootDir, rootDir, flags)
	writeCompilerVariables(w, flags, "")
}

func writeLinkerVariables(w *ninjafile.Writer, pkgRoot, rootDir string, flags manifest.BuildFlags) {
	if len(flags.LDFlags) > 0 {
		w.Variable("ldflags", append([]string{"$ldflags"}, flags.LDFlags...))
	}
	if flags.LinkerScript != "" {
		script := relTo(rootDir, filepath.Join(pkgRoot, flags.LinkerScript))
		w.Variable("linker-script-flags", "-Wl,--script="+script)
		w.Variable("linker-script", script)
	}
}

func writeCompilerVariables(w *ninjafile.Writer, flags manifest.BuildFlags, suffix string) {
	if len(flags.CFlags) > 0 {
		w.Variable("cflags"+suffix, append([]string{"$cflags" + suffix}, flags.CFlags...))
	}
	if len(flags.SFlags) > 0 {
		w.Variable("sflags"+suffix, append([]string{"$sflags" + suffix}, flags.SFlags...))
	}
}

// withExt replaces key's final extension (as filepath.Ext sees it) with
// newExt, the way pathlib's Path.with_suffix does: "foo.s.o" -> "foo.s.bin"
// for newExt ".bin", "main.elf" -> "main.o" for newExt ".o".
func withExt(key, newExt string) string {
	return strings.TrimSuffix(key, filepath.Ext(key)) + newExt
}

// writeBuildObjs emits one compile rule per source file in objs (keyed by
// its logical output path, extension-swapped per key below), splicing an
// objconv lift step in front of any object this profile's architecture
// requires it for. It returns the sorted keys alongside the ninja output
// path of each resulting ".o", so callers can zip the two back together.
func writeBuildObjs(w *ninjafile.Writer, p *pkgprofile.Profile, rootDir string, objs map[string]string) (keys []string, outputs []string) {
	w.Variable("cflags", []string{"$cflags", "$cflags-" + string(p.BuildArch)})
	w.Variable("sflags", []string{"$sflags", "$sflags-" + string(p.BuildArch)})

	for k := range objs {
		keys = append(keys, k)
	}
	sortStrings(keys)

	for _, key := range keys {
		src := objs[key]
		out := "$basedir/" + withExt(key, ".o")
		srcRel := relTo(rootDir, src)

		if p.NeedsObjconv() {
			lifted := "$basedir/" + withExt(key, ".o32")
			w.Build([]string{out}, "objconv", []string{lifted}, nil, nil)
			buildObjRule(w, lifted, src, srcRel)
		} else {
			buildObjRule(w, out, src, srcRel)
		}
		outputs = append(outputs, out)
	}
	return keys, outputs
}

func buildObjRule(w *ninjafile.Writer, out, src, srcRel string) {
	rule := "cc"
	if filepath.Ext(src) == ".S" {
		rule = "as"
	}
	w.Build([]string{out}, rule, []string{srcRel}, nil, nil)
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// WriteLibFragment emits the ninja fragment that compiles p's sources into
// its library archive (lib/lib<name>.a), and returns that archive's
// ninja-relative path.
func WriteLibFragment(ninjaPath string, p *pkgprofile.Profile, rootDir string) (libPath string, wrote bool, err error) {
	objs, err := p.Objs()
	if err != nil {
		return "", false, err
	}
	libname := p.LibraryArchiveName()

	wrote, err = ninjafile.WriteFragment(ninjaPath, func(w *ninjafile.Writer) {
		writeBuildVariables(w, p, rootDir)
		w.Variable("basedir", relTo(rootDir, filepath.Dir(ninjaPath)))
		_, outputs := writeBuildObjs(w, p, rootDir, objs)
		w.Build([]string{libname}, "ar", outputs, nil, nil)
	})
	return libname, wrote, err
}

// BinOutput describes one built executable unit: its linked ELF path, and
// (when the profile's flags ask for it) the flat binary objcopy produces
// alongside it.
type BinOutput struct {
	Elf    string
	Binary string
}

// WriteBinFragment emits the ninja fragment that compiles and links the
// top package's own executables (its "bin/" sources), returning the
// resulting outputs.
func WriteBinFragment(ninjaPath string, p *pkgprofile.Profile, rootDir string) (outputs []BinOutput, wrote bool, err error) {
	elfs, err := p.Elfs()
	if err != nil {
		return nil, false, err
	}

	flags := p.BuildFlags()
	wrote, err = ninjafile.WriteFragment(ninjaPath, func(w *ninjafile.Writer) {
		writeBuildVariables(w, p, rootDir)
		w.Variable("basedir", relTo(rootDir, filepath.Dir(ninjaPath)))
		keys, objOutputs := writeBuildObjs(w, p, rootDir, elfs)
		w.Build([]string{"lib/bin.a"}, "ar", objOutputs, nil, nil)

		for i, key := range keys {
			obj := objOutputs[i]
			elf := filepath.ToSlash(filepath.Join("bin", key))
			w.Build([]string{elf}, "ld", []string{obj}, []string{"libs", "$linker-script"}, nil)
			bin := BinOutput{Elf: elf}
			if flags.Format == "binary" {
				bin.Binary = filepath.ToSlash(filepath.Join("bin", withExt(key, ".bin")))
				w.Build([]string{bin.Binary}, "objcopy", []string{elf}, nil, nil)
			}
			outputs = append(outputs, bin)
		}
	})
	return outputs, wrote, err
}
