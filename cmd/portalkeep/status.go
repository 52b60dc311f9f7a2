package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show connection and daemon status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	fmt.Println("Daemon:")
	fmt.Printf("  Version: %s\n", status.Version)
	fmt.Printf("  Uptime:  %s\n", formatDuration(status.UptimeSeconds))
	fmt.Printf("  State:   %s\n", status.State)

	fmt.Println("Settings:")
	auto := onOff(status.AutoReconnect)
	if status.ForcedAutoReconnect {
		auto = "on (forced by configuration)"
	}
	fmt.Printf("  Auto-reconnect:  %s\n", auto)
	fmt.Printf("  Check interval:  %ds\n", status.CheckInterval)
	if status.PeriodicLoginInterval > 0 {
		line := fmt.Sprintf("every %ds", status.PeriodicLoginInterval)
		if status.PeriodicLoginDue != nil {
			line += fmt.Sprintf(", next at %s", status.PeriodicLoginDue.Local().Format("15:04:05"))
		}
		fmt.Printf("  Periodic login:  %s\n", line)
	} else {
		fmt.Printf("  Periodic login:  off\n")
	}
	if status.CredentialsConfigured {
		fmt.Printf("  Account:         %s\n", status.Username)
	} else {
		fmt.Printf("  Account:         not configured (run `portalkeep config set-credentials`)\n")
	}

	if status.LastProbe != nil {
		reach := "unreachable"
		if status.LastProbe.Reachable {
			reach = "reachable"
		}
		fmt.Println("Last probe:")
		fmt.Printf("  %s  %s  (%s, %dms)\n",
			status.LastProbe.CheckedAt.Local().Format("15:04:05"),
			reach, status.LastProbe.ProbeURL, status.LastProbe.LatencyMS)
	}

	if status.LastOutcome != nil {
		fmt.Println("Last login attempt:")
		fmt.Printf("  %s\n", formatOutcomeLine(*status.LastOutcome))
	}

	return nil
}
