package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/rivalwatch/rivalwatch"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Manage monitored competitor pages.",
}

var addInterval time.Duration

var targetsAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Start monitoring a page.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		t := &rivalwatch.Target{
			OwnerID:      ownerID,
			Name:         args[0],
			URL:          args[1],
			ScanInterval: addInterval.Milliseconds(),
		}
		if err := a.svc.AddTarget(cmd.Context(), t); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", t.ID, t.URL)
		return nil
	},
}

var targetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the owner's targets.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		targets, err := a.svc.ListTargets(cmd.Context(), ownerID)
		if err != nil {
			return err
		}
		renderTargets(cmd.OutOrStdout(), targets)
		return nil
	},
}

var targetsRmCmd = &cobra.Command{
	Use:   "rm <target-id>...",
	Short: "Stop monitoring targets and delete their history.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, id := range args {
			if err := a.svc.DeleteTarget(cmd.Context(), ownerID, id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
		}
		return nil
	},
}

func setEnabledCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <target-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(); err != nil {
				return err
			}
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.svc.SetTargetEnabled(cmd.Context(), ownerID, args[0], enabled)
		},
	}
}

func renderTargets(w io.Writer, targets []*rivalwatch.Target) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Name", "URL", "Every", "Enabled", "Last scan", "Status", "Changes", "Tech"})
	for _, tg := range targets {
		t.AppendRow(table.Row{
			tg.ID,
			tg.Name,
			tg.URL,
			time.Duration(tg.ScanInterval) * time.Millisecond,
			tg.Enabled,
			formatMs(tg.LastScanAt),
			tg.LastStatus,
			tg.ChangesCount,
			strings.Join(tg.Technologies, ", "),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "Total", len(targets)})
	t.Render()
}

func init() {
	targetsAddCmd.Flags().DurationVar(&addInterval, "every", 0, "scan interval (default 24h)")
	targetsCmd.AddCommand(
		targetsAddCmd,
		targetsListCmd,
		targetsRmCmd,
		setEnabledCmd("pause", "Stop scheduled scans of a target.", false),
		setEnabledCmd("resume", "Resume scheduled scans of a target.", true),
	)
	rootCmd.AddCommand(targetsCmd)
}
