package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/rivalwatch/dbopen"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/classify"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func seedTarget(t *testing.T, s *Store, id, owner, url string) *Target {
	t.Helper()
	tgt := &Target{ID: id, OwnerID: owner, Name: "Acme " + id, URL: url, Enabled: true}
	if err := s.InsertTarget(context.Background(), tgt); err != nil {
		t.Fatalf("insert target: %v", err)
	}
	return tgt
}

func nowMs() int64 { return time.Now().UnixMilli() }

func snap(id, target string, at int64, text string) *Snapshot {
	return &Snapshot{
		ID: id, TargetID: target, CapturedAt: at, HTML: "<p>" + text + "</p>",
		Text: text, Title: "T", Metadata: map[string]string{"description": "d"},
		Technologies: []string{"React"}, ContentHash: "h-" + id,
	}
}

// WHAT: A new target round-trips with defaults applied.
// WHY: The scheduler depends on scan_interval and status defaults.
func TestInsertTarget_Defaults(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTarget(t, s, "t1", "u1", "https://acme.example/pricing")

	got, err := s.GetTarget(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("target not found")
	}
	if got.ScanInterval != DefaultScanInterval {
		t.Errorf("scan_interval = %d", got.ScanInterval)
	}
	if got.LastStatus != StatusPending || got.LastScanAt != nil || !got.Enabled {
		t.Errorf("unexpected state: %+v", got)
	}
	if got.Technologies == nil || len(got.Technologies) != 0 {
		t.Errorf("technologies = %#v, want empty", got.Technologies)
	}
}

// WHAT: GetTarget returns nil, nil for an unknown id.
// WHY: Callers map nil to not-found without inspecting errors.
func TestGetTarget_Missing(t *testing.T) {
	s := setupStore(t)
	got, err := s.GetTarget(context.Background(), "nope")
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
}

// WHAT: The same owner cannot register a URL twice; another owner can.
// WHY: Duplicate targets would double every scan and change event.
func TestInsertTarget_Duplicate(t *testing.T) {
	s := setupStore(t)
	seedTarget(t, s, "t1", "u1", "https://acme.example")

	err := s.InsertTarget(context.Background(),
		&Target{ID: "t2", OwnerID: "u1", Name: "again", URL: "https://acme.example"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	seedTarget(t, s, "t3", "u2", "https://acme.example")

	byURL, err := s.GetTargetByURL(context.Background(), "u2", "https://acme.example")
	if err != nil || byURL == nil || byURL.ID != "t3" {
		t.Fatalf("GetTargetByURL = %v, %v", byURL, err)
	}
}

// WHAT: ListTargets filters by owner; empty owner lists all.
func TestListTargets(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTarget(t, s, "a", "u1", "https://a.example")
	seedTarget(t, s, "b", "u2", "https://b.example")
	seedTarget(t, s, "c", "u1", "https://c.example")

	mine, err := s.ListTargets(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, tg := range mine {
		ids = append(ids, tg.ID)
	}
	if diff := cmp.Diff([]string{"a", "c"}, ids); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}

	all, _ := s.ListTargets(ctx, "")
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}
}

// WHAT: The latest snapshot wins; equal timestamps break by insertion order.
// WHY: A target has exactly one current snapshot.
func TestLatestSnapshot_TieBreak(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTarget(t, s, "t1", "u1", "https://acme.example")

	for _, sn := range []*Snapshot{
		snap("s1", "t1", 1000, "one"),
		snap("s2", "t1", 2000, "two"),
		snap("s3", "t1", 2000, "three"),
	} {
		if err := s.InsertSnapshot(ctx, sn); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := s.LatestSnapshot(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "s3" {
		t.Errorf("latest = %s, want s3", latest.ID)
	}
	if diff := cmp.Diff(snap("s3", "t1", 2000, "three"), latest); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}

	none, err := s.LatestSnapshot(ctx, "other")
	if err != nil || none != nil {
		t.Errorf("latest for unknown target = %v, %v", none, err)
	}
}

// WHAT: PreviousSnapshot walks back one step from a given snapshot.
// WHY: The classifier compares against the snapshot just before the new one.
func TestPreviousSnapshot(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTarget(t, s, "t1", "u1", "https://acme.example")
	seedTarget(t, s, "t2", "u1", "https://other.example")

	for _, sn := range []*Snapshot{
		snap("s1", "t1", 1000, "one"),
		snap("x1", "t2", 1500, "other"),
		snap("s2", "t1", 2000, "two"),
		snap("s3", "t1", 2000, "three"),
	} {
		if err := s.InsertSnapshot(ctx, sn); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		current string
		want    string
	}{
		{"s3", "s2"},
		{"s2", "s1"},
		{"s1", ""},
	}
	for _, c := range cases {
		prev, err := s.PreviousSnapshot(ctx, "t1", c.current)
		if err != nil {
			t.Fatalf("%s: %v", c.current, err)
		}
		got := ""
		if prev != nil {
			got = prev.ID
		}
		if got != c.want {
			t.Errorf("previous(%s) = %q, want %q", c.current, got, c.want)
		}
	}
}

// WHAT: ListSnapshots omits the heavy columns and returns newest first.
func TestListSnapshots(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTarget(t, s, "t1", "u1", "https://acme.example")
	s.InsertSnapshot(ctx, snap("s1", "t1", 1000, "one"))
	s.InsertSnapshot(ctx, snap("s2", "t1", 2000, "two"))

	list, err := s.ListSnapshots(ctx, "t1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "s2" {
		t.Fatalf("list = %+v", list)
	}
	if list[0].HTML != "" || list[0].Text != "two" {
		t.Errorf("unexpected columns: %+v", list[0])
	}
}

// WHAT: RecordScan writes the snapshot and target bookkeeping together.
// WHY: A snapshot must never exist without the target reflecting it.
func TestRecordScan(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTarget(t, s, "t1", "u1", "https://acme.example")
	s.RecordScanError(ctx, "t1", "boom")

	sn := snap("s1", "t1", 5000, "hello")
	sn.Technologies = []string{"React", "WordPress"}
	if err := s.RecordScan(ctx, sn); err != nil {
		t.Fatal(err)
	}

	tgt, _ := s.GetTarget(ctx, "t1")
	if tgt.LastScanAt == nil || *tgt.LastScanAt != 5000 {
		t.Errorf("last_scan_at = %v", tgt.LastScanAt)
	}
	if diff := cmp.Diff([]string{"React", "WordPress"}, tgt.Technologies); diff != "" {
		t.Errorf("technologies (-want +got):\n%s", diff)
	}
	if tgt.LastStatus != StatusOK || tgt.FailCount != 0 || tgt.LastError != "" {
		t.Errorf("status not reset: %+v", tgt)
	}
}

// WHAT: RecordScan for an unknown target keeps nothing.
// WHY: A failed transaction must not leave a half-written scan.
func TestRecordScan_RollsBack(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	err := s.RecordScan(ctx, snap("s1", "ghost", 1000, "x"))
	if err == nil {
		t.Fatal("expected an error for an unknown target")
	}
	got, _ := s.GetSnapshot(ctx, "s1")
	if got != nil {
		t.Error("snapshot persisted despite rollback")
	}
}

// WHAT: RecordScanError leaves last_scan_at and technologies untouched.
// WHY: A failed fetch must not look like a successful scan.
func TestRecordScanError(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTarget(t, s, "t1", "u1", "https://acme.example")
	sn := snap("s1", "t1", 1000, "x")
	if err := s.RecordScan(ctx, sn); err != nil {
		t.Fatal(err)
	}

	if err := s.RecordScanError(ctx, "t1", "HTTP 503"); err != nil {
		t.Fatal(err)
	}
	tgt, _ := s.GetTarget(ctx, "t1")
	if *tgt.LastScanAt != 1000 || tgt.Technologies[0] != "React" {
		t.Errorf("scan fields modified: %+v", tgt)
	}
	if tgt.LastStatus != StatusError || tgt.LastError != "HTTP 503" || tgt.FailCount != 1 {
		t.Errorf("error bookkeeping wrong: %+v", tgt)
	}
	if tgt.LastAttemptAt == nil || *tgt.LastAttemptAt < 1000 {
		t.Errorf("last_attempt_at = %v", tgt.LastAttemptAt)
	}
}

// WHAT: RecordChange inserts the event and bumps the counter.
func TestRecordChange(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTarget(t, s, "t1", "u1", "https://acme.example")
	s.InsertSnapshot(ctx, snap("s1", "t1", 1000, "a"))
	s.InsertSnapshot(ctx, snap("s2", "t1", 2000, "b"))

	ev := &ChangeEvent{
		ID: "c1", TargetID: "t1", OwnerID: "u1", TargetName: "Acme", URL: "https://acme.example",
		PreviousSnapshotID: "s1", CurrentSnapshotID: "s2", DetectedAt: 2000,
		Severity: classify.SeverityCritical, Summary: "Price raised",
		Details: "Pro plan $49 to $59", ImpactAreas: []string{"pricing"},
	}
	if err := s.RecordChange(ctx, ev); err != nil {
		t.Fatal(err)
	}

	tgt, _ := s.GetTarget(ctx, "t1")
	if tgt.ChangesCount != 1 {
		t.Errorf("changes_count = %d", tgt.ChangesCount)
	}
	got, err := s.GetChangeEvent(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ev, got); diff != "" {
		t.Errorf("event (-want +got):\n%s", diff)
	}
}

// WHAT: ListChangeEvents filters by owner, target and minimum severity.
// WHY: The feed shows only what the owner asked for, newest first.
func TestListChangeEvents_Filter(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTarget(t, s, "t1", "u1", "https://a.example")
	seedTarget(t, s, "t2", "u2", "https://b.example")
	s.InsertSnapshot(ctx, snap("s1", "t1", 1, "a"))
	s.InsertSnapshot(ctx, snap("s2", "t1", 2, "b"))
	s.InsertSnapshot(ctx, snap("x1", "t2", 1, "a"))
	s.InsertSnapshot(ctx, snap("x2", "t2", 2, "b"))

	sevs := []classify.Severity{classify.SeverityMinor, classify.SeverityMajor, classify.SeverityCritical}
	for i, sev := range sevs {
		for _, tg := range []struct{ target, owner, prev, cur string }{
			{"t1", "u1", "s1", "s2"}, {"t2", "u2", "x1", "x2"},
		} {
			err := s.InsertChangeEvent(ctx, &ChangeEvent{
				ID: fmt.Sprintf("%s-%d", tg.target, i), TargetID: tg.target, OwnerID: tg.owner,
				PreviousSnapshotID: tg.prev, CurrentSnapshotID: tg.cur,
				DetectedAt: int64(100 + i), Severity: sev, Summary: string(sev),
			})
			if err != nil {
				t.Fatal(err)
			}
		}
	}

	ids := func(evs []*ChangeEvent) []string {
		var out []string
		for _, e := range evs {
			out = append(out, e.ID)
		}
		return out
	}

	all, err := s.ListChangeEvents(ctx, ChangeFilter{OwnerID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"t1-2", "t1-1", "t1-0"}, ids(all)); diff != "" {
		t.Errorf("owner filter (-want +got):\n%s", diff)
	}

	major, _ := s.ListChangeEvents(ctx, ChangeFilter{OwnerID: "u1", MinSeverity: classify.SeverityMajor})
	if diff := cmp.Diff([]string{"t1-2", "t1-1"}, ids(major)); diff != "" {
		t.Errorf("severity filter (-want +got):\n%s", diff)
	}

	limited, _ := s.ListChangeEvents(ctx, ChangeFilter{TargetID: "t2", Limit: 1})
	if diff := cmp.Diff([]string{"t2-2"}, ids(limited)); diff != "" {
		t.Errorf("limit (-want +got):\n%s", diff)
	}

	since, _ := s.ListChangeEvents(ctx, ChangeFilter{Since: 101})
	if len(since) != 4 {
		t.Errorf("since = %d events, want 4", len(since))
	}
}

// WHAT: Bad severities are rejected by the schema.
func TestInsertChangeEvent_InvalidSeverity(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTarget(t, s, "t1", "u1", "https://a.example")
	s.InsertSnapshot(ctx, snap("s1", "t1", 1, "a"))
	s.InsertSnapshot(ctx, snap("s2", "t1", 2, "b"))

	err := s.InsertChangeEvent(ctx, &ChangeEvent{
		ID: "c", TargetID: "t1", OwnerID: "u1", PreviousSnapshotID: "s1",
		CurrentSnapshotID: "s2", DetectedAt: 1, Severity: "catastrophic", Summary: "x",
	})
	if err == nil {
		t.Fatal("expected CHECK constraint failure")
	}
}

// WHAT: Due targets exclude disabled, recently attempted and failing ones.
// WHY: The scheduler must not hammer a site that keeps failing.
func TestDueTargets(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTarget(t, s, "fresh", "u1", "https://fresh.example")
	seedTarget(t, s, "recent", "u1", "https://recent.example")
	seedTarget(t, s, "off", "u1", "https://off.example")
	seedTarget(t, s, "failing", "u1", "https://failing.example")

	s.RecordScan(ctx, snap("s1", "recent", 1, "x"))
	// RecordScan stamps the snapshot time; push the attempt to now.
	s.DB.ExecContext(ctx, `UPDATE targets SET last_attempt_at = ? WHERE id = 'recent'`, nowMs())
	s.SetTargetEnabled(ctx, "off", false)
	for range 3 {
		s.RecordScanError(ctx, "failing", "down")
	}
	s.DB.ExecContext(ctx, `UPDATE targets SET last_attempt_at = 0 WHERE id = 'failing'`)

	due, err := s.DueTargets(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != "fresh" {
		t.Fatalf("due = %+v", due)
	}

	// Re-enabling clears the streak.
	if err := s.SetTargetEnabled(ctx, "failing", true); err != nil {
		t.Fatal(err)
	}
	due, _ = s.DueTargets(ctx, 3)
	if len(due) != 2 {
		t.Errorf("due after re-enable = %d, want 2", len(due))
	}
}

// WHAT: SetScanInterval on a missing target reports ErrNotFound.
func TestSetScanInterval(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTarget(t, s, "t1", "u1", "https://a.example")

	if err := s.SetScanInterval(ctx, "t1", 3_600_000); err != nil {
		t.Fatal(err)
	}
	tgt, _ := s.GetTarget(ctx, "t1")
	if tgt.ScanInterval != 3_600_000 {
		t.Errorf("interval = %d", tgt.ScanInterval)
	}
	if err := s.SetScanInterval(ctx, "nope", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// WHAT: DeleteTarget removes everything attached to the target.
func TestDeleteTarget_Cascades(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	seedTarget(t, s, "t1", "u1", "https://a.example")
	s.RecordScan(ctx, snap("s1", "t1", 1, "a"))
	s.RecordScan(ctx, snap("s2", "t1", 2, "b"))
	s.RecordChange(ctx, &ChangeEvent{
		ID: "c1", TargetID: "t1", OwnerID: "u1", PreviousSnapshotID: "s1",
		CurrentSnapshotID: "s2", DetectedAt: 2, Severity: classify.SeverityMinor, Summary: "x",
	})
	s.InsertScanLog(ctx, &ScanLogEntry{ID: "l1", TargetID: "t1", Status: ScanOK, ScannedAt: 2})

	if err := s.DeleteTarget(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"targets", "snapshots", "change_events", "scan_log"} {
		var n int
		s.DB.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n)
		if n != 0 {
			t.Errorf("%s still has %d rows", table, n)
		}
	}
}

// WHAT: Scan history is returned newest first.
func TestScanHistory(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	for i, st := range []string{ScanFirst, ScanUnchanged, ScanFetchError} {
		err := s.InsertScanLog(ctx, &ScanLogEntry{
			ID: fmt.Sprintf("l%d", i), TargetID: "t1", Status: st,
			Stage: "RECORDING", DurationMs: 12, ScannedAt: int64(i + 1),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	hist, err := s.ScanHistory(ctx, "t1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].Status != ScanFetchError || hist[1].Status != ScanUnchanged {
		t.Fatalf("history = %+v", hist)
	}
}
