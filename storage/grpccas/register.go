package grpccas

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"quenyan.dev/qyn1/storage"
	"quenyan.dev/qyn1/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "grpc",
		Description: "remote package CAS over gRPC (config keys: target, dial_timeout, timeout, max_msg_bytes)",
		Usage:       casregistry.UsageTool,
		Open: func(config map[string]string) (storage.CAS, func() error, error) {
			target := strings.TrimSpace(config["target"])
			if target == "" {
				return nil, nil, fmt.Errorf("grpc: missing config key %q", "target")
			}
			opts := DialOptions{Timeout: 5 * time.Second}
			if v := config["dial_timeout"]; v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return nil, nil, fmt.Errorf("grpc: bad dial_timeout: %w", err)
				}
				opts.Timeout = d
			}
			if v := config["max_msg_bytes"]; v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, nil, fmt.Errorf("grpc: bad max_msg_bytes: %w", err)
				}
				opts.MaxMsgBytes = n
			}
			client, err := Dial(target, opts)
			if err != nil {
				return nil, nil, err
			}
			if v := config["timeout"]; v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					_ = client.Close()
					return nil, nil, fmt.Errorf("grpc: bad timeout: %w", err)
				}
				client.Timeout = d
			}
			return client, client.Close, nil
		},
	})
}
