package localfs

import (
	"fmt"

	"quenyan.dev/qyn1/storage"
	"quenyan.dev/qyn1/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "localfs",
		Description: "local filesystem store (config key: dir)",
		Usage:       casregistry.UsageTool | casregistry.UsageDaemon,
		Open: func(config map[string]string) (storage.CAS, func() error, error) {
			dir := config["dir"]
			if dir == "" {
				return nil, nil, fmt.Errorf("localfs: missing config key %q", "dir")
			}
			cas, err := New(dir)
			return cas, nil, err
		},
	})
}
