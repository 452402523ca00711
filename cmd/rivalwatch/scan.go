package main

import (
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/rivalwatch/rivalwatch"
)

var scanDue bool

var scanCmd = &cobra.Command{
	Use:   "scan [target-id]",
	Short: "Scan one target now, or every due target with --due.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		if scanDue {
			n := a.svc.RunDue(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "scanned %d due targets\n", n)
			return nil
		}
		if len(args) != 1 {
			return fmt.Errorf("target ID required (or --due)")
		}
		if err := requireOwner(); err != nil {
			return err
		}
		res, err := a.svc.ScanTarget(cmd.Context(), args[0], ownerID)
		if err != nil {
			return err
		}
		printScanResult(cmd.OutOrStdout(), res)
		return nil
	},
}

func printScanResult(w io.Writer, res *rivalwatch.ScanResult) {
	fmt.Fprintf(w, "status:   %s\nsnapshot: %s\nduration: %dms\n", res.Status, res.SnapshotID, res.DurationMs)
	if res.Change == nil {
		return
	}
	c := res.Change
	fmt.Fprintf(w, "\n[%s] %s\n", strings.ToUpper(string(c.Severity)), plain(c.Summary))
	if c.Details != "" {
		fmt.Fprintf(w, "%s\n", plain(c.Details))
	}
	if len(c.ImpactAreas) > 0 {
		fmt.Fprintf(w, "impact: %s\n", plain(strings.Join(c.ImpactAreas, ", ")))
	}
}

// plain undoes the HTML escaping of stored engine text for the terminal.
func plain(s string) string { return html.UnescapeString(s) }

func init() {
	scanCmd.Flags().BoolVar(&scanDue, "due", false, "scan every due target once")
	rootCmd.AddCommand(scanCmd)
}
