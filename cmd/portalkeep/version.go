package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/portalkeep/portalkeep/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show client and daemon versions",
		RunE:  runVersion,
	}
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	clientVersion := version.String()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var daemonVersion string
	var daemonErr error
	if status, err := newClient().Status(ctx); err == nil {
		daemonVersion = status.Version
	} else {
		daemonErr = err
	}

	if out.jsonMode {
		data := map[string]any{
			"client": clientVersion,
		}
		if daemonErr == nil {
			data["daemon"] = daemonVersion
		} else {
			data["daemon"] = nil
			data["daemon_error"] = daemonErr.Error()
		}
		return out.Print(data)
	}

	fmt.Printf("Client: %s\n", version.Display())
	if daemonErr == nil {
		fmt.Printf("Daemon: %s\n", daemonVersion)
	} else {
		fmt.Printf("Daemon: unavailable (%v)\n", daemonErr)
	}
	return nil
}
