package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/portalkeep/portalkeep/internal/api"
)

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "watch",
		Short:         "Stream daemon events (probes, login outcomes, config reloads)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	c := newClient()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stream, err := c.Events(ctx)
	if err != nil {
		return connectError(out, err)
	}
	defer stream.Close()

	if !out.jsonMode {
		fmt.Println("Watching daemon events (Ctrl-C to stop)...")
	}

	for msg := range stream.C() {
		if out.jsonMode {
			jsonBytes, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			fmt.Println(string(jsonBytes))
			continue
		}
		printEvent(msg)
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return out.Error("Event stream ended unexpectedly", err)
	}
	return nil
}

func printEvent(msg api.EventMessage) {
	stamp := msg.Timestamp.Local().Format("15:04:05")

	// Data arrives as generic JSON; re-decode into the typed DTO per topic.
	raw, err := json.Marshal(msg.Data)
	if err != nil {
		return
	}

	switch msg.Type {
	case "login.outcome":
		var outcome api.OutcomeDTO
		if json.Unmarshal(raw, &outcome) != nil {
			return
		}
		fmt.Printf("%s  login    %s\n", stamp, formatOutcomeLine(outcome))

	case "probe.status":
		var probe api.ProbeDTO
		if json.Unmarshal(raw, &probe) != nil {
			return
		}
		reach := "unreachable"
		if probe.Reachable {
			reach = "reachable"
		}
		fmt.Printf("%s  probe    %s  %s (%dms)\n", stamp, reach, probe.ProbeURL, probe.LatencyMS)

	case "config.reloaded":
		var reload api.ConfigReloadDTO
		if json.Unmarshal(raw, &reload) != nil {
			return
		}
		source := "api"
		if reload.External {
			source = "file edit"
		}
		fmt.Printf("%s  config   reloaded from %s (%s)\n", stamp, reload.Path, source)

	default:
		fmt.Printf("%s  %s  %s\n", stamp, msg.Type, string(raw))
	}
}
