package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mio/internal/api"
	"mio/internal/remote"
)

func newBackendCommand(ctx *commandContext) *cobra.Command {
	backendCmd := &cobra.Command{
		Use:   "backend",
		Short: "Inspect optimisation backends",
	}
	backendCmd.AddCommand(newBackendStatusCommand(ctx))
	backendCmd.AddCommand(newBackendTestCommand(ctx))
	return backendCmd
}

func newBackendStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List backends in selection order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(svc *api.Service) error {
				views := svc.Backends()
				if ctx.jsonOutput() {
					return writeJSON(cmd, views)
				}
				rows := make([][]string, 0, len(views))
				for _, view := range views {
					name := view.Name
					if view.Primary {
						name += " *"
					}
					rows = append(rows, []string{view.Kind, name, yesNo(view.Available), orDash(view.Detail)})
				}
				printTable(cmd, "No backends configured", []string{"Kind", "Name", "Available", "Detail"}, rows, nil)
				return nil
			})
		},
	}
}

func newBackendTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test [provider]",
		Short: "Check a backend or remote provider without touching files",
		Long: "Checks basic, high-quality, remote, resmushit or tinypng. " +
			"With no argument the configured remote provider is checked.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			return ctx.withService(func(svc *api.Service) error {
				result := svc.TestBackendConnection(name)
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, result); err != nil {
						return err
					}
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), connectionLine(result))
				}
				if !result.OK {
					return fmt.Errorf("backend check failed")
				}
				return nil
			})
		},
	}
}

func connectionLine(result remote.ConnectionResult) string {
	mark := "ok"
	if !result.OK {
		mark = "fail"
	}
	return strings.ToUpper(mark) + ": " + result.Message
}
