// cascli is a minimal package store tool for walkthroughs: put and fetch
// packages against any registered backend, and move package sets around as
// deterministic bundles.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ipfs/go-cid"

	"quenyan.dev/qyn1/storage"
	"quenyan.dev/qyn1/storage/bundle"
	"quenyan.dev/qyn1/storage/casconfig"
	"quenyan.dev/qyn1/storage/casregistry"

	_ "quenyan.dev/qyn1/storage/grpccas"
	_ "quenyan.dev/qyn1/storage/localfs"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "put":
		return cmdPut(args[1:], out, errOut)
	case "get":
		return cmdGet(args[1:], out, errOut)
	case "export":
		return cmdExport(args[1:], out, errOut)
	case "import":
		return cmdImport(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "cascli: minimal package store tool for walkthroughs")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  cascli put --backend localfs --opt dir=<dir> <file.qyn1>")
	fmt.Fprintln(w, "  cascli get --backend localfs --opt dir=<dir> --cid <cid> [--out <file>]")
	fmt.Fprintln(w, "  cascli export --backend localfs --opt dir=<dir> --out <bundle.tar> <cid> [<cid> ...]")
	fmt.Fprintln(w, "  cascli import --backend localfs --opt dir=<dir> <bundle.tar>")
	fmt.Fprintln(w, "  cascli put --backend grpc --opt target=<host:port> <file.qyn1>")
	fmt.Fprintln(w, "  cascli put --config <cas.toml> <file.qyn1>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - put verifies the file is a structurally valid package first")
	fmt.Fprintln(w, "  - grpc backend talks to qyn1-casd (or any package CAS server)")
	fmt.Fprintln(w, "  - blobs are addressed as CIDv1 raw + sha2-256")
}

type optFlags map[string]string

func (o optFlags) String() string { return "" }

func (o optFlags) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	o[k] = val
	return nil
}

type commonFlags struct {
	backend      string
	configPath   string
	listBackends bool
	opts         optFlags
}

func (c *commonFlags) add(fs *flag.FlagSet) {
	c.opts = optFlags{}
	fs.StringVar(&c.backend, "backend", "localfs", "CAS backend name")
	fs.StringVar(&c.configPath, "config", "", "TOML backend config (overrides --backend/--opt)")
	fs.BoolVar(&c.listBackends, "list-backends", false, "List supported backends and exit")
	fs.Var(c.opts, "opt", "backend option as key=value (repeatable)")
}

func (c *commonFlags) openCAS() (storage.CAS, func() error, error) {
	if c.configPath != "" {
		cfg, err := casconfig.LoadFile(c.configPath)
		if err != nil {
			return nil, nil, err
		}
		return cfg.Open(casregistry.UsageTool, "")
	}
	return casregistry.Open(c.backend, casregistry.UsageTool, c.opts)
}

func printBackends(w io.Writer) {
	for _, b := range casregistry.List(casregistry.UsageTool) {
		if b.Description == "" {
			fmt.Fprintf(w, "%s\n", b.Name)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", b.Name, b.Description)
	}
}

func cmdPut(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if common.listBackends {
		printBackends(out)
		return 0
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: cascli put [common flags] <file.qyn1>")
		return 2
	}

	cas, closeFn, err := common.openCAS()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	p := fs.Arg(0)
	b, err := os.ReadFile(p)
	if err != nil {
		fmt.Fprintf(errOut, "read %s: %v\n", filepath.Base(p), err)
		return 1
	}
	store := storage.PackageStore{CAS: cas}
	id, err := store.PutPackage(b)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	fmt.Fprintln(out, id.String())
	return 0
}

func cmdGet(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)

	var cidStr string
	var outPath string
	fs.StringVar(&cidStr, "cid", "", "CID to fetch")
	fs.StringVar(&outPath, "out", "", "Output file (optional; default stdout)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if common.listBackends {
		printBackends(out)
		return 0
	}
	if cidStr == "" {
		fmt.Fprintln(errOut, "missing --cid")
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(errOut, "usage: cascli get [common flags] --cid <cid> [--out <file>]")
		return 2
	}

	cas, closeFn, err := common.openCAS()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	id, err := cid.Decode(cidStr)
	if err != nil {
		fmt.Fprintln(errOut, storage.ErrInvalidCID)
		return 1
	}

	store := storage.PackageStore{CAS: cas}
	b, meta, err := store.GetPackage(id)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	if outPath == "" {
		_, _ = out.Write(b)
		return 0
	}
	if err := os.WriteFile(outPath, b, 0o600); err != nil {
		fmt.Fprintf(errOut, "write %s: %v\n", outPath, err)
		return 1
	}
	fmt.Fprintf(errOut, "source_language: %s\n", meta.SourceLanguage)
	return 0
}

func cmdExport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)

	var outPath string
	fs.StringVar(&outPath, "out", "", "Bundle file to write")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if common.listBackends {
		printBackends(out)
		return 0
	}
	if outPath == "" || fs.NArg() == 0 {
		fmt.Fprintln(errOut, "usage: cascli export [common flags] --out <bundle.tar> <cid> [<cid> ...]")
		return 2
	}

	ids := make([]cid.Cid, 0, fs.NArg())
	for _, s := range fs.Args() {
		id, err := cid.Decode(s)
		if err != nil {
			fmt.Fprintf(errOut, "%s: %v\n", s, storage.ErrInvalidCID)
			return 1
		}
		ids = append(ids, id)
	}

	cas, closeFn, err := common.openCAS()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	f, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer f.Close()

	if err := bundle.Export(f, cas, ids, bundle.ExportOptions{IncludeIndex: true}); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}

func cmdImport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var common commonFlags
	common.add(fs)

	var verify bool
	fs.BoolVar(&verify, "verify", false, "Reject blobs that are not valid packages")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if common.listBackends {
		printBackends(out)
		return 0
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: cascli import [common flags] [--verify] <bundle.tar>")
		return 2
	}

	cas, closeFn, err := common.openCAS()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	defer f.Close()

	if err := bundle.ImportWithOptions(f, cas, bundle.ImportOptions{VerifyPackages: verify}); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}
