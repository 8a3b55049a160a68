// ABOUTME: MCP resource handlers for read-only pipeline data
// ABOUTME: Serves the board, single deals, stage history and failed moves via pipeline:// URIs
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deangilmoreremix/update3.0-new-sub002/pipeline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const resourceScheme = "pipeline://"

type ResourceHandlers struct {
	store *pipeline.Store
}

func NewResourceHandlers(store *pipeline.Store) *ResourceHandlers {
	return &ResourceHandlers{store: store}
}

// ReadResource handles resource read requests
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, resourceScheme) {
		return nil, fmt.Errorf("invalid URI scheme: expected %s", resourceScheme)
	}

	parts := strings.Split(strings.TrimPrefix(uri, resourceScheme), "/")
	switch parts[0] {
	case "board":
		return jsonResource(uri, pipelineToOutput(h.store.Snapshot()))

	case "deals":
		if len(parts) < 2 || parts[1] == "" {
			return nil, fmt.Errorf("deal ID is required")
		}
		d, ok := h.store.Deal(parts[1])
		if !ok {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		if len(parts) == 3 && parts[2] == "history" {
			out, err := dealHistory(ctx, h.store, d.ID)
			if err != nil {
				return nil, err
			}
			return jsonResource(uri, out)
		}
		if len(parts) > 2 {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		return jsonResource(uri, dealToOutput(d))

	case "failed-moves":
		_, out, err := NewPipelineHandlers(h.store).ListFailedMoves(ctx, nil, FailedMovesInput{})
		if err != nil {
			return nil, err
		}
		return jsonResource(uri, out)

	default:
		return nil, fmt.Errorf("unknown resource: %s", parts[0])
	}
}

// RegisterResources adds the pipeline resources to server.
func (h *ResourceHandlers) RegisterResources(server *mcp.Server) {
	server.AddResource(&mcp.Resource{
		URI:         resourceScheme + "board",
		Name:        "board",
		Description: "Pipeline board with columns, deals and totals",
		MIMEType:    "application/json",
	}, h.ReadResource)

	server.AddResource(&mcp.Resource{
		URI:         resourceScheme + "failed-moves",
		Name:        "failed-moves",
		Description: "Stage moves that could not be persisted",
		MIMEType:    "application/json",
	}, h.ReadResource)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: resourceScheme + "deals/{id}",
		Name:        "deal",
		Description: "A single deal by ID",
		MIMEType:    "application/json",
	}, h.ReadResource)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: resourceScheme + "deals/{id}/history",
		Name:        "deal-history",
		Description: "Stage changes recorded for a deal",
		MIMEType:    "application/json",
	}, h.ReadResource)
}

func jsonResource(uri string, v interface{}) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}

	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}
