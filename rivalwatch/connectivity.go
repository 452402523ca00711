package rivalwatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/rivalwatch/connectivity"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/classify"
)

// RegisterConnectivity registers rivalwatch operations as local handlers on
// a connectivity Router, so sibling services can drive scans by name.
func (svc *Service) RegisterConnectivity(router *connectivity.Router) {
	router.RegisterLocal("rivalwatch_add_target", svc.handleAddTarget)
	router.RegisterLocal("rivalwatch_list_targets", svc.handleListTargets)
	router.RegisterLocal("rivalwatch_delete_target", svc.handleDeleteTarget)
	router.RegisterLocal("rivalwatch_scan_target", svc.handleScanTarget)
	router.RegisterLocal("rivalwatch_list_changes", svc.handleListChanges)
}

func (svc *Service) handleAddTarget(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		OwnerID  string `json:"owner_id"`
		Name     string `json:"name"`
		URL      string `json:"url"`
		Interval int64  `json:"scan_interval"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	t := &Target{OwnerID: req.OwnerID, Name: req.Name, URL: req.URL, ScanInterval: req.Interval}
	if err := svc.AddTarget(ctx, t); err != nil {
		return nil, err
	}
	return json.Marshal(t)
}

func (svc *Service) handleListTargets(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		OwnerID string `json:"owner_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	targets, err := svc.ListTargets(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(targets)
}

func (svc *Service) handleDeleteTarget(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		OwnerID  string `json:"owner_id"`
		TargetID string `json:"target_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := svc.DeleteTarget(ctx, req.OwnerID, req.TargetID); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"status": "deleted"})
}

func (svc *Service) handleScanTarget(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		OwnerID  string `json:"owner_id"`
		TargetID string `json:"target_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	res, err := svc.ScanTarget(ctx, req.TargetID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func (svc *Service) handleListChanges(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		OwnerID     string `json:"owner_id"`
		TargetID    string `json:"target_id"`
		MinSeverity string `json:"min_severity"`
		Since       int64  `json:"since"`
		Limit       int    `json:"limit"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	f := ChangeFilter{OwnerID: req.OwnerID, TargetID: req.TargetID, Since: req.Since, Limit: req.Limit}
	if req.MinSeverity != "" {
		f.MinSeverity = classify.ParseSeverity(req.MinSeverity)
	}
	changes, err := svc.ListChanges(ctx, f)
	if err != nil {
		return nil, err
	}
	return json.Marshal(changes)
}
