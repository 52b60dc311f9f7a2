package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/portalkeep/portalkeep/internal/api"
	"github.com/portalkeep/portalkeep/internal/client"
)

const daemonHint = "is portalkeepd running?"

// connectError decorates daemon connection failures with a start hint.
func connectError(out *OutputFormatter, err error) error {
	return out.Error(fmt.Sprintf("Failed to reach daemon (%s)", daemonHint), err)
}

func formatOutcomeLine(o api.OutcomeDTO) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s  %-9s  %-15s", o.Status, o.Trigger, o.FinishedAt.Local().Format("15:04:05 Jan 02"))
	if o.Message != "" {
		fmt.Fprintf(&b, "  %s", o.Message)
	}
	return b.String()
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	d = d.Round(time.Second)
	if d < time.Minute {
		return d.String()
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

var newClient = func() *client.Client {
	return client.New()
}
