package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"mio/internal/api"
	"mio/internal/daemonctl"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	statusLabelWidth = 18
	statusIndent     = "  "
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database, backend, daemon and queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			process, probeErr := daemonctl.Probe(cfg)

			return ctx.withService(func(svc *api.Service) error {
				health := svc.Health(cmd.Context())
				queue, err := svc.QueueStats(cmd.Context())
				if err != nil {
					return err
				}
				batchStatus, err := svc.BatchStatus(cmd.Context())
				if err != nil {
					return err
				}

				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{
						"config_path": ctx.configPath,
						"health":      health,
						"daemon":      process,
						"queue":       queue,
						"batch":       batchStatus,
					})
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				printSection(out, "System Status", colorize)
				fmt.Fprintln(out, renderStatusLine("Config", statusInfo, orDash(ctx.configPath), colorize))
				fmt.Fprintln(out, renderStatusLine("Media root", statusInfo, cfg.Paths.MediaRoot, colorize))
				if health.DatabaseOK {
					fmt.Fprintln(out, renderStatusLine("Database", statusOK, fmt.Sprintf("schema v%d", health.SchemaVersion), colorize))
				} else {
					detail := health.Error
					if len(health.MissingTables) > 0 {
						detail = "missing tables: " + strings.Join(health.MissingTables, ", ")
					}
					fmt.Fprintln(out, renderStatusLine("Database", statusError, detail, colorize))
				}
				switch {
				case probeErr != nil:
					fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, probeErr.Error(), colorize))
				case process.Running && process.PID > 0:
					fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", process.PID), colorize))
				case process.Running:
					fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "running", colorize))
				default:
					fmt.Fprintln(out, renderStatusLine("Daemon", statusInfo, "not running", colorize))
				}
				fmt.Fprintln(out)

				printSection(out, "Backends", colorize)
				for _, view := range health.Backends {
					kind := statusWarn
					detail := "unavailable"
					if view.Available {
						kind = statusOK
						detail = "available"
					}
					if view.Primary {
						detail += ", primary"
					}
					if view.Detail != "" {
						detail += " (" + view.Detail + ")"
					}
					fmt.Fprintln(out, renderStatusLine(view.Name, kind, detail, colorize))
				}
				fmt.Fprintln(out)

				printSection(out, "Batch", colorize)
				fmt.Fprintln(out, renderStatusLine("State", statusInfo, statusLabel(string(batchStatus.State)), colorize))
				fmt.Fprintln(out, renderStatusLine("Remaining", statusInfo, fmt.Sprint(batchStatus.Remaining), colorize))
				fmt.Fprintln(out)

				printSection(out, "Queue Status", colorize)
				if queue.Total == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				rows := [][]string{
					{"Pending", fmt.Sprint(queue.Pending)},
					{"Processing", fmt.Sprint(queue.Processing)},
					{"Completed", fmt.Sprint(queue.Completed)},
					{"Failed", fmt.Sprint(queue.Failed)},
				}
				fmt.Fprintln(out, renderTable(out, []string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

func printSection(out io.Writer, title string, colorize bool) {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = text.FgBlue.Sprint(line)
		rule = text.FgBlue.Sprint(rule)
	}
	fmt.Fprintln(out, line)
	fmt.Fprintln(out, rule)
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		return statusKindColor(kind).Sprint(base)
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) text.Colors {
	switch kind {
	case statusOK:
		return text.Colors{text.FgGreen}
	case statusWarn:
		return text.Colors{text.FgYellow}
	case statusError:
		return text.Colors{text.FgRed}
	default:
		return text.Colors{text.FgBlue}
	}
}
