package rivalwatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/classify"
)

func do(t *testing.T, h http.Handler, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestAPI_TargetLifecycle(t *testing.T) {
	// WHAT: Create, list, scan, update and delete a target over HTTP.
	// WHY: The API is the primary surface for dashboards.
	svc, _ := setupTestService(t, WithEngine(&classify.StaticEngine{Response: criticalAnswer}))
	h := svc.Handler()
	pg, srv := newPage(t, pageV1)

	rec := do(t, h, http.MethodPost, "/api/targets", "u1",
		`{"name":"Acme","url":"`+srv.URL+`/pricing"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	created := decode[Target](t, rec)
	if created.ID == "" || created.OwnerID != "u1" {
		t.Fatalf("created = %+v", created)
	}

	rec = do(t, h, http.MethodGet, "/api/targets", "u1", "")
	if list := decode[[]Target](t, rec); len(list) != 1 {
		t.Errorf("list = %d targets", len(list))
	}

	rec = do(t, h, http.MethodPost, "/api/targets/"+created.ID+"/scan", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("scan: %d %s", rec.Code, rec.Body)
	}
	pg.set(pageV2, http.StatusOK)
	rec = do(t, h, http.MethodPost, "/api/targets/"+created.ID+"/scan", "u1", "")
	res := decode[ScanResult](t, rec)
	if res.Change == nil || res.Change.Severity != SeverityCritical {
		t.Errorf("scan result = %+v", res)
	}

	rec = do(t, h, http.MethodGet, "/api/changes?severity=major", "u1", "")
	if changes := decode[[]ChangeEvent](t, rec); len(changes) != 1 {
		t.Errorf("changes = %d", len(changes))
	}
	rec = do(t, h, http.MethodGet, "/api/targets/"+created.ID+"/snapshots", "u1", "")
	snaps := decode[[]Snapshot](t, rec)
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d", len(snaps))
	}
	rec = do(t, h, http.MethodGet, "/api/snapshots/"+snaps[0].ID, "u1", "")
	if got := decode[Snapshot](t, rec); got.HTML == "" {
		t.Errorf("snapshot html missing")
	}
	rec = do(t, h, http.MethodGet, "/api/targets/"+created.ID+"/history", "u1", "")
	if hist := decode[[]ScanLogEntry](t, rec); len(hist) != 2 {
		t.Errorf("history = %d", len(hist))
	}

	rec = do(t, h, http.MethodPatch, "/api/targets/"+created.ID, "u1",
		`{"enabled":false,"scan_interval":3600000}`)
	updated := decode[Target](t, rec)
	if updated.Enabled || updated.ScanInterval != 3600000 {
		t.Errorf("updated = %+v", updated)
	}

	rec = do(t, h, http.MethodDelete, "/api/targets/"+created.ID, "u1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("delete: %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/targets/"+created.ID, "u1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d", rec.Code)
	}
}

func TestAPI_StatusCodes(t *testing.T) {
	// WHAT: Service errors map to distinct HTTP statuses.
	svc, _ := setupTestService(t, WithEngine(&classify.StaticEngine{}))
	h := svc.Handler()
	pg, srv := newPage(t, "down")
	pg.set("down", http.StatusBadGateway)

	rec := do(t, h, http.MethodPost, "/api/targets", "u1", `{"name":"Acme","url":"`+srv.URL+`"}`)
	created := decode[Target](t, rec)

	cases := []struct {
		name   string
		method string
		path   string
		owner  string
		body   string
		want   int
	}{
		{"bad json", http.MethodPost, "/api/targets", "u1", `{`, http.StatusBadRequest},
		{"missing name", http.MethodPost, "/api/targets", "u1", `{"url":"https://a.example"}`, http.StatusBadRequest},
		{"duplicate", http.MethodPost, "/api/targets", "u1", `{"name":"Acme","url":"` + srv.URL + `/"}`, http.StatusConflict},
		{"no owner", http.MethodGet, "/api/targets", "", "", http.StatusBadRequest},
		{"forbidden", http.MethodGet, "/api/targets/" + created.ID, "u2", "", http.StatusForbidden},
		{"not found", http.MethodGet, "/api/targets/tgt_missing", "u1", "", http.StatusNotFound},
		{"snapshot not found", http.MethodGet, "/api/snapshots/snp_missing", "u1", "", http.StatusNotFound},
		{"fetch failure", http.MethodPost, "/api/targets/" + created.ID + "/scan", "u1", "", http.StatusBadGateway},
		{"bad since", http.MethodGet, "/api/changes?since=yesterday", "u1", "", http.StatusBadRequest},
		{"bad interval", http.MethodPatch, "/api/targets/" + created.ID, "u1", `{"scan_interval":5}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.owner, tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body)
			}
		})
	}
}

func TestAPI_OwnerSources(t *testing.T) {
	// WHAT: The owner comes from the header, else the query, else the body.
	svc, _ := setupTestService(t, WithEngine(&classify.StaticEngine{}))
	h := svc.Handler()

	rec := do(t, h, http.MethodPost, "/api/targets", "", `{"owner_id":"body","name":"A","url":"https://a.example"}`)
	if got := decode[Target](t, rec); got.OwnerID != "body" {
		t.Errorf("owner = %q", got.OwnerID)
	}
	rec = do(t, h, http.MethodPost, "/api/targets?owner=query", "", `{"owner_id":"body","name":"B","url":"https://b.example"}`)
	if got := decode[Target](t, rec); got.OwnerID != "query" {
		t.Errorf("owner = %q", got.OwnerID)
	}
	rec = do(t, h, http.MethodPost, "/api/targets?owner=query", "header", `{"name":"C","url":"https://c.example"}`)
	if got := decode[Target](t, rec); got.OwnerID != "header" {
		t.Errorf("owner = %q", got.OwnerID)
	}
}

func TestAPI_HealthAndHeaders(t *testing.T) {
	svc, _ := setupTestService(t, WithEngine(&classify.StaticEngine{}))
	rec := do(t, svc.Handler(), http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("security headers missing: %v", rec.Header())
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		ErrInvalidInput:                        http.StatusBadRequest,
		ErrForbidden:                           http.StatusForbidden,
		ErrTargetNotFound:                      http.StatusNotFound,
		ErrDuplicateTarget:                     http.StatusConflict,
		&FetchError{URL: "u", StatusCode: 500}: http.StatusBadGateway,
		errors.New("boom"):                     http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
