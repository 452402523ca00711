package main

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/rivalwatch/rivalwatch"
)

var (
	changesTarget   string
	changesSeverity string
	changesSince    time.Duration
	changesLimit    int
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "List detected changes, newest first.",
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

		f := rivalwatch.ChangeFilter{
			OwnerID:  ownerID,
			TargetID: changesTarget,
			Limit:    changesLimit,
		}
		if changesSeverity != "" {
			f.MinSeverity = rivalwatch.ParseSeverity(changesSeverity)
		}
		if changesSince > 0 {
			f.Since = time.Now().Add(-changesSince).UnixMilli()
		}
		changes, err := a.svc.ListChanges(cmd.Context(), f)
		if err != nil {
			return err
		}
		renderChanges(cmd.OutOrStdout(), changes)
		return nil
	},
}

var severityColors = map[rivalwatch.Severity]text.Colors{
	rivalwatch.SeverityCritical: {text.FgRed, text.Bold},
	rivalwatch.SeverityMajor:    {text.FgYellow},
	rivalwatch.SeverityMinor:    {text.FgHiBlack},
}

func renderChanges(w io.Writer, changes []*rivalwatch.ChangeEvent) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Detected", "Target", "Severity", "Summary", "Impact"})
	for _, c := range changes {
		sev := string(c.Severity)
		if colors, ok := severityColors[c.Severity]; ok {
			sev = colors.Sprint(sev)
		}
		t.AppendRow(table.Row{
			time.UnixMilli(c.DetectedAt).Format(time.DateTime),
			c.TargetName,
			sev,
			plain(c.Summary),
			len(c.ImpactAreas),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Name: "Summary", WidthMax: 60}})
	t.Render()
}

func init() {
	f := changesCmd.Flags()
	f.StringVar(&changesTarget, "target", "", "restrict to one target ID")
	f.StringVar(&changesSeverity, "severity", "", "minimum severity: minor, major or critical")
	f.DurationVar(&changesSince, "since", 0, "only changes newer than this, e.g. 72h")
	f.IntVar(&changesLimit, "limit", 50, "max results")
	rootCmd.AddCommand(changesCmd)
}
