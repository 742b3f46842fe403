package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mio/internal/api"
)

func newBackupCommand(ctx *commandContext) *cobra.Command {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage original-file backups",
	}
	backupCmd.AddCommand(newBackupCreateCommand(ctx))
	backupCmd.AddCommand(newBackupRestoreCommand(ctx))
	backupCmd.AddCommand(newBackupCleanupCommand(ctx))
	backupCmd.AddCommand(newBackupStatsCommand(ctx))
	return backupCmd
}

func newBackupCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create <item-id>",
		Short: "Back up an item's current file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *api.Service) error {
				ok, err := svc.CreateBackup(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]bool{"created": ok})
				}
				if ok {
					fmt.Fprintf(cmd.OutOrStdout(), "Backup ready for item %d\n", id)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "Backups are disabled (optimization.keep_original = false)")
				}
				return nil
			})
		},
	}
}

func newBackupRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <item-id>",
		Short: "Restore an item's original and mark it unoptimised",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withService(func(svc *api.Service) error {
				ok, err := svc.Restore(cmd.Context(), id)
				if err != nil {
					if api.IsNotFound(err) {
						return fmt.Errorf("no backup available for item %d", id)
					}
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]bool{"restored": ok})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored item %d from backup\n", id)
				return nil
			})
		},
	}
}

func newBackupCleanupCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete backups older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				age := time.Duration(days) * 24 * time.Hour
				removed, err := svc.CleanupBackups(cmd.Context(), age)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int{"removed": removed})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d backups\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Age in days (defaults to backup.retention_days)")
	return cmd
}

func newBackupStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise the backup directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				stats, err := svc.BackupStats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				out := cmd.OutOrStdout()
				rows := [][]string{
					{"Enabled", yesNo(stats.Enabled)},
					{"Directory", stats.Directory},
					{"Files", fmt.Sprint(stats.Files)},
					{"Size", formatBytes(stats.SizeBytes)},
					{"Oldest", orDash(stats.Oldest)},
					{"Newest", orDash(stats.Newest)},
				}
				fmt.Fprintln(out, renderTable(out, []string{"Field", "Value"}, rows, nil))
				return nil
			})
		},
	}
}
