package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mio/internal/api"
	"mio/internal/store"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Register images under the media root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				result, err := svc.Scan(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Scanned %d files: %d added, %d updated, %d variants\n",
					result.Files, result.Added, result.Updated, result.Variants)
				if result.Unsupported > 0 {
					fmt.Fprintf(out, "Ignored %d files with unsupported content\n", result.Unsupported)
				}
				if result.Pruned > 0 {
					fmt.Fprintf(out, "Removed %d items whose files are gone\n", result.Pruned)
				}
				if result.PruneDeferred > 0 {
					fmt.Fprintf(out, "Deferred removal of %d missing items until the batch run finishes\n", result.PruneDeferred)
				}
				return nil
			})
		},
	}
}

func newOptimizeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize <item-id>",
		Short: "Optimise one item now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *api.Service) error {
				view, err := svc.ProcessOne(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printRecord(cmd, ctx, view)
			})
		},
	}
}

func newReoptimizeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reoptimize <item-id>",
		Short: "Clear an item's result and optimise it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *api.Service) error {
				view, err := svc.Reoptimize(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printRecord(cmd, ctx, view)
			})
		},
	}
}

func newItemsCommand(ctx *commandContext) *cobra.Command {
	var (
		filter string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List catalogued images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseItemFilter(filter)
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *api.Service) error {
				items, err := svc.Items(cmd.Context(), f, limit, offset)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, items)
				}
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					status, method, saved := "Pending", "-", "-"
					if item.Record != nil {
						status = statusLabel(item.Record.Status)
						method = orDash(item.Record.Method)
						if item.Record.Optimized {
							saved = formatBytes(item.Record.Savings)
						}
					}
					rows = append(rows, []string{
						strconv.FormatInt(item.ID, 10),
						item.Path,
						strings.ToUpper(item.Format),
						formatBytes(item.Size),
						status,
						method,
						saved,
					})
				}
				printTable(cmd, "No items", []string{"ID", "Path", "Format", "Size", "Status", "Method", "Saved"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "all", "all, optimized, unoptimized or failed")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to show (0 for all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	return cmd
}

func printRecord(cmd *cobra.Command, ctx *commandContext, view api.RecordView) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, view)
	}
	out := cmd.OutOrStdout()
	switch view.Status {
	case string(store.LogSuccess):
		fmt.Fprintf(out, "Item %d optimised via %s: %s -> %s (saved %s, %s)\n",
			view.ItemID, view.Method, formatBytes(view.OriginalSize), formatBytes(view.OptimizedSize),
			formatBytes(view.Savings), formatPercent(view.SavingsPercent))
	case string(store.LogSkipped):
		fmt.Fprintf(out, "Item %d skipped: %s\n", view.ItemID, orDash(view.Message))
	default:
		fmt.Fprintf(out, "Item %d failed: %s\n", view.ItemID, orDash(view.Error))
	}
	return nil
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid item id %q", value)
	}
	return id, nil
}

func parseIDs(values []string) ([]int64, error) {
	ids := make([]int64, 0, len(values))
	for _, v := range values {
		id, err := parseID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseItemFilter(value string) (store.ItemFilter, error) {
	switch f := store.ItemFilter(strings.ToLower(strings.TrimSpace(value))); f {
	case "", store.FilterAll:
		return store.FilterAll, nil
	case store.FilterOptimized, store.FilterUnoptimized, store.FilterFailed:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q", value)
	}
}
