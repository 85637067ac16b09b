package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/torc-hpc/torc/pkg/types"
)

var eventsCmd = &cobra.Command{
	Use:   "events WORKFLOW_ID",
	Short: "Show a workflow's event log",
	Long: `Show a workflow's event log.

Events record every state transition: workflow lifecycle, job status
changes, compute node registration and death, scheduler allocations,
and triggered actions. With --follow the command prints stored events
and then streams new ones until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().String("category", "", "Filter: workflow, job, compute_node, scheduler, action")
	eventsCmd.Flags().Int64("after", 0, "Only events with an ID greater than this")
	eventsCmd.Flags().Int("limit", 0, "Stop after this many stored events")
	eventsCmd.Flags().BoolP("follow", "f", false, "Stream new events after printing stored ones")
}

func runEvents(cmd *cobra.Command, args []string) error {
	category, _ := cmd.Flags().GetString("category")
	after, _ := cmd.Flags().GetInt64("after")
	limit, _ := cmd.Flags().GetInt("limit")
	follow, _ := cmd.Flags().GetBool("follow")

	workflowID, err := parseID(args[0])
	if err != nil {
		return err
	}
	c, err := apiClient(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stored, err := c.ListEvents(ctx, workflowID, types.EventCategory(category), after, limit)
	if err != nil {
		return fmt.Errorf("failed to list events: %v", err)
	}
	for _, ev := range stored {
		printEvent(ev)
	}
	if !follow {
		return nil
	}

	err = c.WatchEvents(ctx, workflowID, types.EventCategory(category), func(ev *types.Event) error {
		// The stream starts at subscription time, so drop anything
		// the stored listing already covered.
		if len(stored) > 0 && ev.ID <= stored[len(stored)-1].ID {
			return nil
		}
		printEvent(ev)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printEvent(ev *types.Event) {
	fmt.Printf("%s  [%s] %s  %s\n",
		ev.Timestamp.Format("2006-01-02 15:04:05"), ev.Category, ev.Type, ev.Message)
}
