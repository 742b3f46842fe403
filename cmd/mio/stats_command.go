package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mio/internal/api"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var logs int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate savings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				stats, err := svc.Stats(cmd.Context())
				if err != nil {
					return err
				}
				var recent []api.LogView
				if logs > 0 {
					if recent, err = svc.RecentLogs(cmd.Context(), logs); err != nil {
						return err
					}
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, struct {
						Stats  api.StatsView `json:"stats"`
						Recent []api.LogView `json:"recent,omitempty"`
					}{stats, recent})
				}

				out := cmd.OutOrStdout()
				rows := [][]string{
					{"Items", strconv.Itoa(stats.TotalItems)},
					{"Optimised", strconv.Itoa(stats.OptimizedItems)},
					{"Failed", strconv.Itoa(stats.FailedItems)},
					{"Saved", formatBytes(stats.TotalSavings)},
					{"Saved share", formatPercent(stats.SavingsPercent)},
					{"Queue pending", strconv.Itoa(stats.QueuePending)},
				}
				fmt.Fprintln(out, renderTable(out, []string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

				if logs > 0 {
					logRows := make([][]string, 0, len(recent))
					for _, entry := range recent {
						logRows = append(logRows, []string{
							entry.CreatedAt,
							strconv.FormatInt(entry.ItemID, 10),
							statusLabel(entry.Status),
							orDash(entry.Method),
							formatBytes(entry.Savings),
							orDash(entry.Error),
						})
					}
					printTable(cmd, "No optimisation history", []string{"When", "Item", "Status", "Method", "Saved", "Error"}, logRows,
						[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft})
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&logs, "logs", 0, "Also show the most recent N history rows")
	return cmd
}
