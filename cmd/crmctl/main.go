package main

// Operator CLI:
//   go run ./cmd/crmctl tenants activate <tenant-id> --email admin@example.ch
//   go run ./cmd/crmctl tenants export <tenant-id> --format xlsx --out ./exports

import (
	"fmt"
	"os"

	"brokercrm-backend/internal/bootstrap"
	"brokercrm-backend/internal/shared/config"
)

func main() {
	root := newRootCmd(func() (*bootstrap.App, error) {
		return bootstrap.Build(config.Load())
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
