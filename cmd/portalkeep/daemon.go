package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/portalkeep/portalkeep/internal/config"
	"github.com/portalkeep/portalkeep/internal/daemon"
	"github.com/portalkeep/portalkeep/internal/procutil"
)

func newDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:           "daemon",
		Short:         "Daemon management commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	daemonStatusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Get daemon status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStatus,
	}

	daemonStopCmd := &cobra.Command{
		Use:           "stop",
		Short:         "Stop the daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStop,
	}

	daemonCmd.AddCommand(daemonStatusCmd, daemonStopCmd)
	return daemonCmd
}

func daemonStatus(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	c := newClient()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := c.Status(ctx)
	if err != nil {
		return connectError(out, err)
	}

	if out.jsonMode {
		return out.Print(status)
	}

	fmt.Println("Daemon Status:")
	fmt.Printf("  Version: %s\n", status.Version)
	fmt.Printf("  State:   %s\n", status.State)
	fmt.Printf("  Uptime:  %s\n", formatDuration(status.UptimeSeconds))
	fmt.Printf("  Socket:  %s\n", c.SocketPath())
	return nil
}

// daemonStop asks the daemon to shut down over the API and falls back to
// signalling the PID from the lock file when the socket is unreachable.
func daemonStop(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	c := newClient()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	apiErr := c.ShutdownDaemon(ctx)
	if apiErr == nil {
		return out.Success("Shutdown request sent to daemon", map[string]any{
			"method": "api",
		})
	}

	paths := config.GetPaths()
	pid, alive := daemon.LockPID(paths)
	if !alive {
		return out.Error("Daemon does not appear to be running", apiErr)
	}

	if err := procutil.TerminateByPID(pid); err != nil {
		return out.Error("Failed to signal daemon", err)
	}

	return out.Success("Sent termination signal to daemon", map[string]any{
		"pid":    pid,
		"method": "signal",
	})
}
