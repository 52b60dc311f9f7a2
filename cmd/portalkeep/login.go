package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "login",
		Short:         "Trigger a portal login attempt now",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runLogin,
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	c := newClient()

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Second)
	defer cancel()

	resp, err := c.Login(ctx)
	if err != nil {
		return connectError(out, err)
	}

	if out.jsonMode {
		return out.Print(resp)
	}

	if !resp.Completed {
		fmt.Printf("Login attempt %s is still running; check `portalkeep status` or `portalkeep watch`\n", resp.AttemptID)
		return nil
	}

	outcome := resp.Outcome
	switch outcome.Status {
	case "success":
		fmt.Printf("Login succeeded: %s\n", outcome.Message)
	case "failure":
		return out.Error(fmt.Sprintf("Login failed: %s", outcome.Message), nil)
	default:
		return out.Error(fmt.Sprintf("Login did not reach the portal: %s", outcome.Message), nil)
	}
	return nil
}
