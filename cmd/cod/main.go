// cod builds, installs dependencies for, and packages a C project: it drives
// the two-phase header/symbol dependency discovery loop, emits and runs a
// ninja build graph, and reads/writes the distributable ".cod" artifact
// format. See the "build", "install" and "package" subcommands below.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"

	"github.com/golang/glog"
	"github.com/ogier/pflag"

	"github.com/cod-build/cod/internal/codutil"
	"github.com/cod-build/cod/internal/elfedit"
	"github.com/cod-build/cod/internal/workspace"
)

func main() {
	flag.Parse() // glog's own flags (-v, -logtostderr, ...)
	defer glog.Flush()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "build":
		err = runBuild(rest)
	case "install":
		err = runInstall(rest)
	case "package":
		err = runPackage(rest)
	case "__ar":
		err = runAr(rest)
	case "__objcopy":
		err = runObjcopy(rest)
	case "__objconv":
		err = runObjconv(rest)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "cod: unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cod: %s\n", err)
		os.Exit(exitCode(err))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: cod <command> [options]

commands:
  build    [-a arch] [-p profile] [-j jobs] [--no-bin]
  install  [-a arch] [-p profile] <package...>
  package  [-a arch] [--check]`)
}

// exitCode maps a driver error to a process exit status, so scripts driving
// cod can tell "nothing to do" (bad arguments) from "dependencies could not
// be resolved" from "the toolchain itself failed".
func exitCode(err error) int {
	var unresolved *codutil.UnresolvedSymbolError
	var problem *codutil.ResolverProblem
	var ambiguous *codutil.AmbiguityError
	switch {
	case errors.As(err, &unresolved), errors.As(err, &problem), errors.As(err, &ambiguous):
		return 3
	}
	var scan *codutil.ScanError
	if errors.As(err, &scan) {
		return 4
	}
	return 1
}

func runBuild(args []string) error {
	fs := pflag.NewFlagSet("build", pflag.ContinueOnError)
	archFlag := fs.StringP("arch", "a", "", "target architecture (default: the package's own, or the host's)")
	profile := fs.StringP("profile", "p", "dev", "named build profile")
	jobs := fs.IntP("jobs", "j", 0, "ninja parallelism (default: ninja's own default)")
	noBin := fs.Bool("no-bin", false, "build libraries only, skip the link phase")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ws, err := workspace.New(".")
	if err != nil {
		return err
	}
	ws.Jobs = *jobs
	return ws.Build(*archFlag, *profile, *noBin)
}

func runInstall(args []string) error {
	fs := pflag.NewFlagSet("install", pflag.ContinueOnError)
	archFlag := fs.StringP("arch", "a", "", "target architecture")
	profile := fs.StringP("profile", "p", "dev", "named build profile")
	if err := fs.Parse(args); err != nil {
		return err
	}
	packages := fs.Args()
	if len(packages) == 0 {
		return codutil.NewFormatError("install: at least one package selector is required")
	}

	ws, err := workspace.New(".")
	if err != nil {
		return err
	}
	return ws.Install(*archFlag, *profile, packages)
}

func runPackage(args []string) error {
	fs := pflag.NewFlagSet("package", pflag.ContinueOnError)
	archFlag := fs.StringP("arch", "a", "", "target architecture (default: every architecture the package declares)")
	check := fs.Bool("check", false, "compute provides/requires without writing any artifact")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ws, err := workspace.New(".")
	if err != nil {
		return err
	}
	artifacts, err := ws.Package(*archFlag, *check)
	if err != nil {
		return err
	}
	if *check {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		for _, a := range artifacts {
			if err := enc.Encode(a); err != nil {
				return err
			}
		}
		return nil
	}
	for _, a := range artifacts {
		fmt.Println(a.ID)
	}
	return nil
}

// runAr is the ninja "ar" rule's command: it shells out to the toolchain's
// own ar, the same way it drives every other compilation step, rather than
// reimplementing a symbol-indexed thin archive writer. "qcs" quick-appends,
// creates if missing, and writes a symbol index; "--thin" keeps the archive
// referencing its members by path instead of embedding them, since these
// archives never leave the build tree.
func runAr(args []string) error {
	if len(args) < 2 {
		return codutil.NewFormatError("__ar: usage: __ar <archive> <member...>")
	}
	out, members := args[0], args[1:]
	if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
		return err
	}

	return runToolchain(toolchainDriver(), append([]string{"ar", "qcs", "--thin", out}, members...))
}

func runObjcopy(args []string) error {
	return runElfTransform(args, "__objcopy", elfedit.Objcopy)
}

func runObjconv(args []string) error {
	return runElfTransform(args, "__objconv", elfedit.Objconv)
}

func runElfTransform(args []string, name string, transform func([]byte) ([]byte, error)) error {
	if len(args) != 2 {
		return codutil.NewFormatError("%s: usage: %s <out> <in>", name, name)
	}
	out, in := args[0], args[1]

	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	converted, err := transform(data)
	if err != nil {
		return err
	}
	_, err = codutil.WriteIfChanged(out, converted, 0o644)
	return err
}

// toolchainDriver mirrors workspace.resolveToolchainDriver's COD_TOOLCHAIN
// override, but without the PATH lookup: ar is invoked as a subcommand of
// the same driver, so a bad value surfaces as an exec error immediately
// rather than a separate up-front check.
func toolchainDriver() string {
	if v := os.Getenv("COD_TOOLCHAIN"); v != "" {
		return v
	}
	return "zig"
}

func runToolchain(driver string, args []string) error {
	cmd := exec.Command(driver, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	glog.V(1).Infof("%s %v", driver, args)
	if err := cmd.Run(); err != nil {
		return codutil.Errorf("%s %v: %w", driver, args, err)
	}
	return nil
}
