package rivalwatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/rivalwatch/kit"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/classify"
	"github.com/hazyhaar/rivalwatch/shield"
)

// Handler returns the HTTP API behind the shield middleware stack. The
// owner is taken from the X-Owner-ID header, the owner query parameter or
// the request body, in that order.
func (svc *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack() {
		r.Use(mw)
	}
	r.Use(ownerFromHeader)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/targets", func(r chi.Router) {
		r.Post("/", svc.apiAddTarget)
		r.Get("/", svc.apiListTargets)
		r.Get("/{id}", svc.apiGetTarget)
		r.Delete("/{id}", svc.apiDeleteTarget)
		r.Patch("/{id}", svc.apiUpdateTarget)
		r.Post("/{id}/scan", svc.apiScanTarget)
		r.Get("/{id}/snapshots", svc.apiListSnapshots)
		r.Get("/{id}/history", svc.apiScanHistory)
	})
	r.Get("/api/snapshots/{id}", svc.apiGetSnapshot)
	r.Get("/api/changes", svc.apiListChanges)
	return r
}

func ownerFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get("X-Owner-ID")
		if owner == "" {
			owner = r.URL.Query().Get("owner")
		}
		if owner != "" {
			r = r.WithContext(kit.WithOwnerID(r.Context(), owner))
		}
		next.ServeHTTP(w, r)
	})
}

func (svc *Service) apiAddTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID      string `json:"owner_id"`
		Name         string `json:"name"`
		URL          string `json:"url"`
		ScanInterval int64  `json:"scan_interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t := &Target{
		OwnerID:      owner(r, req.OwnerID),
		Name:         req.Name,
		URL:          req.URL,
		ScanInterval: req.ScanInterval,
	}
	if err := svc.AddTarget(r.Context(), t); err != nil {
		svc.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (svc *Service) apiListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := svc.ListTargets(r.Context(), owner(r, ""))
	if err != nil {
		svc.writeServiceError(w, r, err)
		return
	}
	if targets == nil {
		targets = []*Target{}
	}
	writeJSON(w, http.StatusOK, targets)
}

func (svc *Service) apiGetTarget(w http.ResponseWriter, r *http.Request) {
	t, err := svc.GetTarget(r.Context(), owner(r, ""), chi.URLParam(r, "id"))
	if err != nil {
		svc.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (svc *Service) apiDeleteTarget(w http.ResponseWriter, r *http.Request) {
	if err := svc.DeleteTarget(r.Context(), owner(r, ""), chi.URLParam(r, "id")); err != nil {
		svc.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (svc *Service) apiUpdateTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID      string `json:"owner_id"`
		Enabled      *bool  `json:"enabled"`
		ScanInterval int64  `json:"scan_interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, id, ownerID := r.Context(), chi.URLParam(r, "id"), owner(r, req.OwnerID)
	if req.Enabled != nil {
		if err := svc.SetTargetEnabled(ctx, ownerID, id, *req.Enabled); err != nil {
			svc.writeServiceError(w, r, err)
			return
		}
	}
	if req.ScanInterval != 0 {
		err := svc.SetScanInterval(ctx, ownerID, id, time.Duration(req.ScanInterval)*time.Millisecond)
		if err != nil {
			svc.writeServiceError(w, r, err)
			return
		}
	}
	t, err := svc.GetTarget(ctx, ownerID, id)
	if err != nil {
		svc.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (svc *Service) apiScanTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID string `json:"owner_id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	res, err := svc.ScanTarget(r.Context(), chi.URLParam(r, "id"), owner(r, req.OwnerID))
	if err != nil {
		svc.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (svc *Service) apiListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := svc.ListSnapshots(r.Context(), owner(r, ""), chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		svc.writeServiceError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []*Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (svc *Service) apiGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := svc.GetSnapshot(r.Context(), owner(r, ""), chi.URLParam(r, "id"))
	if err != nil {
		svc.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (svc *Service) apiScanHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := svc.ScanHistory(r.Context(), owner(r, ""), chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		svc.writeServiceError(w, r, err)
		return
	}
	if hist == nil {
		hist = []*ScanLogEntry{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (svc *Service) apiListChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ChangeFilter{
		OwnerID:  owner(r, ""),
		TargetID: q.Get("target"),
		Limit:    queryInt(r, "limit", 50),
	}
	if s := q.Get("severity"); s != "" {
		f.MinSeverity = classify.ParseSeverity(s)
	}
	if s := q.Get("since"); s != "" {
		since, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("since must be unix milliseconds"))
			return
		}
		f.Since = since
	}
	changes, err := svc.ListChanges(r.Context(), f)
	if err != nil {
		svc.writeServiceError(w, r, err)
		return
	}
	if changes == nil {
		changes = []*ChangeEvent{}
	}
	writeJSON(w, http.StatusOK, changes)
}

// owner returns the request's owner, falling back to fromBody.
func owner(r *http.Request, fromBody string) string {
	if id := kit.GetOwnerID(r.Context()); id != "" {
		return id
	}
	return strings.TrimSpace(fromBody)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var fe *FetchError
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrTargetNotFound), errors.Is(err, ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateTarget):
		return http.StatusConflict
	case errors.As(err, &fe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (svc *Service) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		shield.GetLogger(r.Context()).Error("rivalwatch: request failed", "error", err)
		writeJSON(w, code, map[string]string{"error": "internal error"})
		return
	}
	writeError(w, code, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
