package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/hazyhaar/rivalwatch/rivalwatch"
)

func TestNewLogger_Formats(t *testing.T) {
	// WHAT: "text" selects the terminal logger, anything else JSON.
	var buf bytes.Buffer
	newLogger(&buf, "json", slog.LevelInfo).Info("hello", "k", "v")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"k":"v"`) {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	logger := newLogger(&buf, "text", slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("text output = %q", out)
	}
}

func TestRenderTargets(t *testing.T) {
	var buf bytes.Buffer
	scanned := int64(1_700_000_000_000)
	renderTargets(&buf, []*rivalwatch.Target{
		{ID: "tgt_1", Name: "Acme", URL: "https://acme.example", ScanInterval: 3_600_000,
			Enabled: true, LastScanAt: &scanned, LastStatus: "ok", ChangesCount: 3,
			Technologies: []string{"React", "WordPress"}},
		{ID: "tgt_2", Name: "Globex", URL: "https://globex.example", ScanInterval: 86_400_000},
	})
	out := buf.String()
	for _, want := range []string{"tgt_1", "Acme", "1h0m0s", "React, WordPress", "tgt_2", "24h0m0s"} {
		if !strings.Contains(out, want) {
			t.Errorf("table lacks %q:\n%s", want, out)
		}
	}
}

func TestPrintScanResult(t *testing.T) {
	var buf bytes.Buffer
	printScanResult(&buf, &rivalwatch.ScanResult{
		Success: true, Status: "ok", SnapshotID: "snp_2", DurationMs: 120,
		Change: &rivalwatch.ChangeEvent{
			Severity: rivalwatch.SeverityCritical, Summary: "Price increase",
			Details: "Pro plan now $59", ImpactAreas: []string{"pricing"},
		},
	})
	out := buf.String()
	for _, want := range []string{"snp_2", "[CRITICAL] Price increase", "impact: pricing"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestRootCommands(t *testing.T) {
	want := map[string]bool{"serve": false, "targets": false, "scan": false, "changes": false, "mcp": false, "routes": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, ok := range want {
		if !ok {
			t.Errorf("command %s not registered", name)
		}
	}
}
