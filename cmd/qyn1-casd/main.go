// Command qyn1-casd serves a package CAS over gRPC.
//
// Backends come either from a TOML config file (-config) or from a single
// named backend (-backend) with key=value options (-opt).
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tliron/commonlog"
	"google.golang.org/grpc"

	"quenyan.dev/qyn1/storage"
	"quenyan.dev/qyn1/storage/casconfig"
	"quenyan.dev/qyn1/storage/casregistry"
	"quenyan.dev/qyn1/storage/grpccas"

	_ "github.com/tliron/commonlog/simple"
	_ "quenyan.dev/qyn1/storage/localfs"
)

var log = commonlog.GetLogger("qyn1.casd")

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

func main() {
	fs := flag.NewFlagSet("qyn1-casd", flag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1:7443", "listen address")
	configPath := fs.String("config", "", "TOML backend config (overrides -backend/-opt)")
	backend := fs.String("backend", "localfs", "CAS backend name")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")
	verbose := fs.Int("verbose", 0, "log verbosity")
	opts := optFlags{}
	fs.Var(opts, "opt", "backend option as key=value (repeatable)")

	_ = fs.Parse(os.Args[1:])

	commonlog.Configure(*verbose, nil)

	if *listBackends {
		for _, b := range casregistry.List(casregistry.UsageDaemon) {
			if b.Description == "" {
				fmt.Fprintf(os.Stdout, "%s\n", b.Name)
				continue
			}
			fmt.Fprintf(os.Stdout, "%s\t%s\n", b.Name, b.Description)
		}
		return
	}

	cas, closeFn, err := openCAS(*configPath, *backend, opts)
	if err != nil {
		log.Errorf("open backend: %s", err.Error())
		os.Exit(2)
	}
	if closeFn != nil {
		defer func() { _ = closeFn() }()
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Errorf("listen: %s", err.Error())
		os.Exit(1)
	}
	defer lis.Close()

	s := grpc.NewServer()
	grpccas.RegisterCASServer(s, &grpccas.Server{CAS: cas})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stop
		log.Noticef("received %s, draining", sig)
		s.GracefulStop()
	}()

	log.Noticef("listening on %s (backend=%s)", lis.Addr().String(), *backend)
	if err := s.Serve(lis); err != nil {
		log.Errorf("serve: %s", err.Error())
		os.Exit(1)
	}
}

func openCAS(configPath, backend string, opts map[string]string) (storage.CAS, func() error, error) {
	if configPath != "" {
		cfg, err := casconfig.LoadFile(configPath)
		if err != nil {
			return nil, nil, err
		}
		return cfg.Open(casregistry.UsageDaemon, "")
	}
	return casregistry.Open(backend, casregistry.UsageDaemon, opts)
}
