package rivalwatch

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/rivalwatch/kit"
	"github.com/hazyhaar/rivalwatch/rivalwatch/internal/classify"
)

// RegisterMCP registers the rivalwatch tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerAddTarget(srv)
	svc.registerListTargets(srv)
	svc.registerScanTarget(srv)
	svc.registerListChanges(srv)
	svc.registerSetTargetEnabled(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// withOwner scopes the tool call to the owner named in its arguments.
func withOwner(decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error), ownerOf func(any) string) func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	return func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		res, err := decode(r)
		if err != nil {
			return nil, err
		}
		owner := ownerOf(res.Request)
		res.EnrichCtx = func(ctx context.Context) context.Context {
			return kit.WithOwnerID(ctx, owner)
		}
		return res, nil
	}
}

func (svc *Service) registerAddTarget(srv *mcp.Server) {
	type req struct {
		OwnerID  string `json:"owner_id"`
		Name     string `json:"name"`
		URL      string `json:"url"`
		Interval int64  `json:"scan_interval"`
	}

	tool := &mcp.Tool{
		Name:        "rivalwatch_add_target",
		Description: "Start monitoring a competitor page",
		InputSchema: inputSchema(map[string]any{
			"owner_id":      map[string]any{"type": "string", "description": "Owner ID"},
			"name":          map[string]any{"type": "string", "description": "Competitor name"},
			"url":           map[string]any{"type": "string", "description": "Page URL to monitor"},
			"scan_interval": map[string]any{"type": "integer", "description": "Scan interval in ms (default 24h)"},
		}, []string{"owner_id", "name", "url"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		t := &Target{
			OwnerID:      kit.GetOwnerID(ctx),
			Name:         p.Name,
			URL:          p.URL,
			ScanInterval: p.Interval,
		}
		if err := svc.AddTarget(ctx, t); err != nil {
			return nil, err
		}
		return t, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint,
		withOwner(kit.DecodeArgs[req](), func(r any) string { return r.(*req).OwnerID }))
}

func (svc *Service) registerListTargets(srv *mcp.Server) {
	type req struct {
		OwnerID string `json:"owner_id"`
	}

	tool := &mcp.Tool{
		Name:        "rivalwatch_list_targets",
		Description: "List the competitor pages an owner monitors",
		InputSchema: inputSchema(map[string]any{
			"owner_id": map[string]any{"type": "string", "description": "Owner ID"},
		}, []string{"owner_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		return svc.ListTargets(ctx, kit.GetOwnerID(ctx))
	}

	kit.RegisterMCPTool(srv, tool, endpoint,
		withOwner(kit.DecodeArgs[req](), func(r any) string { return r.(*req).OwnerID }))
}

func (svc *Service) registerScanTarget(srv *mcp.Server) {
	type req struct {
		OwnerID  string `json:"owner_id"`
		TargetID string `json:"target_id"`
	}

	tool := &mcp.Tool{
		Name:        "rivalwatch_scan_target",
		Description: "Scan a competitor page now and report what changed since the last scan",
		InputSchema: inputSchema(map[string]any{
			"owner_id":  map[string]any{"type": "string", "description": "Owner ID"},
			"target_id": map[string]any{"type": "string", "description": "Target ID"},
		}, []string{"owner_id", "target_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		return svc.ScanTarget(ctx, p.TargetID, kit.GetOwnerID(ctx))
	}

	kit.RegisterMCPTool(srv, tool, endpoint,
		withOwner(kit.DecodeArgs[req](), func(r any) string { return r.(*req).OwnerID }))
}

func (svc *Service) registerListChanges(srv *mcp.Server) {
	type req struct {
		OwnerID     string `json:"owner_id"`
		TargetID    string `json:"target_id"`
		MinSeverity string `json:"min_severity"`
		SinceHours  int    `json:"since_hours"`
		Limit       int    `json:"limit"`
	}

	tool := &mcp.Tool{
		Name:        "rivalwatch_list_changes",
		Description: "List detected competitor changes, newest first",
		InputSchema: inputSchema(map[string]any{
			"owner_id":     map[string]any{"type": "string", "description": "Owner ID"},
			"target_id":    map[string]any{"type": "string", "description": "Restrict to one target"},
			"min_severity": map[string]any{"type": "string", "description": "minor, major or critical"},
			"since_hours":  map[string]any{"type": "integer", "description": "Only changes from the last N hours"},
			"limit":        map[string]any{"type": "integer", "description": "Max results (default 50)"},
		}, []string{"owner_id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		f := ChangeFilter{
			OwnerID:  kit.GetOwnerID(ctx),
			TargetID: p.TargetID,
			Limit:    p.Limit,
		}
		if p.MinSeverity != "" {
			f.MinSeverity = classify.ParseSeverity(p.MinSeverity)
		}
		if p.SinceHours > 0 {
			f.Since = time.Now().Add(-time.Duration(p.SinceHours) * time.Hour).UnixMilli()
		}
		return svc.ListChanges(ctx, f)
	}

	kit.RegisterMCPTool(srv, tool, endpoint,
		withOwner(kit.DecodeArgs[req](), func(r any) string { return r.(*req).OwnerID }))
}

func (svc *Service) registerSetTargetEnabled(srv *mcp.Server) {
	type req struct {
		OwnerID  string `json:"owner_id"`
		TargetID string `json:"target_id"`
		Enabled  bool   `json:"enabled"`
	}

	tool := &mcp.Tool{
		Name:        "rivalwatch_set_target_enabled",
		Description: "Pause or resume scheduled scans of a competitor page",
		InputSchema: inputSchema(map[string]any{
			"owner_id":  map[string]any{"type": "string", "description": "Owner ID"},
			"target_id": map[string]any{"type": "string", "description": "Target ID"},
			"enabled":   map[string]any{"type": "boolean", "description": "true to resume, false to pause"},
		}, []string{"owner_id", "target_id", "enabled"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if err := svc.SetTargetEnabled(ctx, kit.GetOwnerID(ctx), p.TargetID, p.Enabled); err != nil {
			return nil, err
		}
		return map[string]any{"target_id": p.TargetID, "enabled": p.Enabled}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint,
		withOwner(kit.DecodeArgs[req](), func(r any) string { return r.(*req).OwnerID }))
}
