package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mio/internal/api"
	"mio/internal/store"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the background queue",
	}
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueCleanupCommand(ctx))
	return queueCmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "add <item-id>...",
		Short: "Queue items for background optimisation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *api.Service) error {
				added := make([]int64, 0, len(ids))
				for _, id := range ids {
					ok, err := svc.Enqueue(cmd.Context(), id, priority)
					if err != nil {
						return err
					}
					if ok {
						added = append(added, id)
					}
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string][]int64{"added": added})
				}
				out := cmd.OutOrStdout()
				if len(added) == 0 {
					fmt.Fprintln(out, "Items already queued")
					return nil
				}
				fmt.Fprintf(out, "Queued %d of %d items\n", len(added), len(ids))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "Lower runs sooner (defaults to queue.default_priority)")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseQueueStatuses(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *api.Service) error {
				entries, err := svc.ListQueue(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, entries)
				}
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					rows = append(rows, []string{
						strconv.FormatInt(entry.ID, 10),
						strconv.FormatInt(entry.ItemID, 10),
						statusLabel(entry.Status),
						strconv.Itoa(entry.Priority),
						fmt.Sprintf("%d/%d", entry.Retries, entry.MaxRetries),
						orDash(entry.AddedAt),
						orDash(entry.Error),
					})
				}
				printTable(cmd, "Queue is empty", []string{"ID", "Item", "Status", "Priority", "Retries", "Added", "Error"}, rows,
					[]columnAlignment{alignRight, alignRight, alignLeft, alignRight, alignRight, alignLeft, alignLeft})
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (pending, processing, completed, failed)")
	return cmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Count queue entries by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				summary, err := svc.QueueStats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, summary)
				}
				out := cmd.OutOrStdout()
				rows := [][]string{
					{"Pending", strconv.Itoa(summary.Pending)},
					{"Processing", strconv.Itoa(summary.Processing)},
					{"Completed", strconv.Itoa(summary.Completed)},
					{"Failed", strconv.Itoa(summary.Failed)},
					{"Total", strconv.Itoa(summary.Total)},
				}
				fmt.Fprintln(out, renderTable(out, []string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [entry-id...]",
		Short: "Return failed entries to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *api.Service) error {
				n, err := svc.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int64{"retried": n})
				}
				if n == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No failed entries to retry")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retrying %d entries\n", n)
				return nil
			})
		},
	}
}

func newQueueCleanupCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove finished entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				n, err := svc.CleanupQueue(cmd.Context(), days)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int64{"removed": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d queue entries\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Age in days (defaults to queue.cleanup_days)")
	return cmd
}

func parseQueueStatuses(values []string) ([]store.QueueStatus, error) {
	statuses := make([]store.QueueStatus, 0, len(values))
	for _, value := range values {
		switch status := store.QueueStatus(strings.ToLower(strings.TrimSpace(value))); status {
		case store.QueuePending, store.QueueProcessing, store.QueueCompleted, store.QueueFailed:
			statuses = append(statuses, status)
		default:
			return nil, fmt.Errorf("unknown queue status %q", value)
		}
	}
	return statuses, nil
}
