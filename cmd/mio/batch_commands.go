package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mio/internal/api"
	"mio/internal/batch"
	"mio/internal/store"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Bulk-optimise unoptimised items page by page",
	}
	batchCmd.AddCommand(newBatchStartCommand(ctx))
	batchCmd.AddCommand(newBatchRunCommand(ctx))
	batchCmd.AddCommand(newBatchResumeCommand(ctx))
	batchCmd.AddCommand(newBatchPauseCommand(ctx))
	batchCmd.AddCommand(newBatchStatusCommand(ctx))
	return batchCmd
}

func newBatchStartCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var noDrive bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new run from the first item and drive it to completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				state, err := svc.StartBatch(cmd.Context(), limit)
				if err != nil {
					return describeBatchError(err)
				}
				if noDrive {
					if ctx.jsonOutput() {
						return writeJSON(cmd, state)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Started batch run %s (limit %d)\n", state.RunID, state.Limit)
					return nil
				}
				return driveBatch(cmd, ctx, svc, state.Limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Items per page (defaults to batch.limit)")
	cmd.Flags().BoolVar(&noDrive, "no-drive", false, "Only reset the cursor; run pages with 'mio batch run'")
	return cmd
}

func newBatchRunCommand(ctx *commandContext) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a single page at an offset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				result, err := svc.RunBatch(cmd.Context(), offset, limit)
				if err != nil {
					return describeBatchError(err)
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				printBatchPage(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "Cursor offset (use next_offset from the previous page)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Items per page (defaults to batch.limit)")
	return cmd
}

func newBatchResumeCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused run from its saved offset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				state, err := svc.ResumeBatch(cmd.Context())
				if err != nil {
					return describeBatchError(err)
				}
				if limit <= 0 {
					limit = state.Limit
				}
				return driveBatch(cmd, ctx, svc, limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Items per page (defaults to the run's limit)")
	return cmd
}

func newBatchPauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the running batch after its current page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				paused, err := svc.Pause(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]bool{"paused": paused})
				}
				if paused {
					fmt.Fprintln(cmd.OutOrStdout(), "Batch paused; resume with `mio batch resume`")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "No batch is running")
				}
				return nil
			})
		},
	}
}

func newBatchStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the batch cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				status, err := svc.BatchStatus(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				rows := [][]string{
					{"State", statusLabel(string(status.State))},
					{"Run", orDash(status.RunID)},
					{"Offset", fmt.Sprint(status.Offset)},
					{"Processed", fmt.Sprint(status.Processed)},
					{"Succeeded", fmt.Sprint(status.Succeeded)},
					{"Failed", fmt.Sprint(status.Failed)},
					{"Skipped", fmt.Sprint(status.Skipped)},
					{"Saved", formatBytes(status.Savings)},
					{"Remaining", fmt.Sprint(status.Remaining)},
				}
				fmt.Fprintln(out, renderTable(out, []string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func driveBatch(cmd *cobra.Command, ctx *commandContext, svc *api.Service, limit int) error {
	out := cmd.OutOrStdout()
	var pages []batch.Result
	err := svc.DriveBatch(cmd.Context(), limit, func(result batch.Result) {
		if ctx.jsonOutput() {
			pages = append(pages, result)
			return
		}
		printBatchPage(out, result)
	})
	if err != nil {
		return describeBatchError(err)
	}
	if ctx.jsonOutput() {
		return writeJSON(cmd, pages)
	}
	return nil
}

func printBatchPage(out io.Writer, result batch.Result) {
	for _, entry := range result.Log {
		fmt.Fprintf(out, "  [%s] %s\n", statusLabel(string(entry.Type)), entry.Message)
	}
	switch {
	case result.Paused && result.Processed == 0:
		fmt.Fprintln(out, "Batch is paused; resume with `mio batch resume`")
	case result.State == store.BatchCompleted:
		fmt.Fprintf(out, "Page done: %d processed, %d ok, %d failed, %d skipped, saved %s. Run complete.\n",
			result.Processed, result.Succeeded, result.Failed, result.Skipped, formatBytes(result.Savings))
	default:
		fmt.Fprintf(out, "Page done: %d processed, %d ok, %d failed, %d skipped, saved %s. Next offset %d.\n",
			result.Processed, result.Succeeded, result.Failed, result.Skipped, formatBytes(result.Savings), result.NextOffset)
	}
}

func describeBatchError(err error) error {
	switch {
	case errors.Is(err, batch.ErrBusy):
		return fmt.Errorf("another batch call is in progress; try again when it finishes")
	case errors.Is(err, batch.ErrNotPaused):
		return fmt.Errorf("no paused batch to resume; start one with `mio batch start`")
	default:
		return err
	}
}
