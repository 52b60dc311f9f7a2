package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:           "history",
		Short:         "List recent login attempts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runHistory,
	}
	historyCmd.Flags().Int("limit", 0, "Maximum number of attempts to show (0 = daemon default)")
	return historyCmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	limit, _ := cmd.Flags().GetInt("limit")

	c := newClient()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	attempts, err := c.History(ctx, limit)
	if err != nil {
		return connectError(out, err)
	}

	if out.jsonMode {
		return out.Print(map[string]any{"attempts": attempts})
	}

	if len(attempts) == 0 {
		fmt.Println("No login attempts recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINISHED\tSTATUS\tTRIGGER\tMESSAGE")
	for _, attempt := range attempts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			attempt.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			attempt.Status, attempt.Trigger, attempt.Message)
	}
	return w.Flush()
}
