// ABOUTME: MCP prompt handlers for pipeline review workflows
// ABOUTME: Builds deal-analysis and pipeline-review prompts from live board state
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/deangilmoreremix/update3.0-new-sub002/pipeline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type PromptHandlers struct {
	store *pipeline.Store
}

func NewPromptHandlers(store *pipeline.Store) *PromptHandlers {
	return &PromptHandlers{store: store}
}

// GetPrompt generates the prompt message based on the template
func (h *PromptHandlers) GetPrompt(_ context.Context, request *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	switch request.Params.Name {
	case "deal-analysis":
		return h.dealAnalysisPrompt(request.Params.Arguments)
	case "pipeline-review":
		return h.pipelineReviewPrompt()
	default:
		return nil, fmt.Errorf("unknown prompt: %s", request.Params.Name)
	}
}

func (h *PromptHandlers) RegisterPrompts(server *mcp.Server) {
	server.AddPrompt(&mcp.Prompt{
		Name:        "deal-analysis",
		Description: "Assess one deal's health and suggest the next action",
		Arguments: []*mcp.PromptArgument{
			{Name: "deal_id", Description: "Deal ID", Required: true},
		},
	}, h.GetPrompt)

	server.AddPrompt(&mcp.Prompt{
		Name:        "pipeline-review",
		Description: "Review the whole pipeline for health, risks and stuck deals",
	}, h.GetPrompt)
}

func (h *PromptHandlers) dealAnalysisPrompt(args map[string]string) (*mcp.GetPromptResult, error) {
	id, ok := args["deal_id"]
	if !ok || id == "" {
		return nil, fmt.Errorf("deal_id is required")
	}

	d, ok := h.store.Deal(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrDealNotFound, id)
	}

	var b strings.Builder
	b.WriteString("Please analyze this deal:\n\n")
	fmt.Fprintf(&b, "Title: %s\n", d.Title)
	fmt.Fprintf(&b, "Value: %s %.2f (weighted %.2f)\n", d.Currency, d.Value, d.WeightedValue())
	fmt.Fprintf(&b, "Stage: %s, %d days, %d%% probability\n", d.Stage.Title(), d.DaysInStage, d.Probability)
	fmt.Fprintf(&b, "Priority: %s\n", d.Priority)
	if d.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", d.Company)
	}
	if d.Contact != "" {
		fmt.Fprintf(&b, "Contact: %s\n", d.Contact)
	}
	if d.DueDate != nil {
		fmt.Fprintf(&b, "Expected close: %s\n", d.DueDate.Format("2006-01-02"))
	}
	if d.Notes != "" {
		fmt.Fprintf(&b, "\nNotes: %s\n", d.Notes)
	}

	b.WriteString("\nPlease provide:")
	b.WriteString("\n1. An assessment of how likely this deal is to close")
	b.WriteString("\n2. The main risks")
	b.WriteString("\n3. The single most useful next action")

	return userPrompt(fmt.Sprintf("Analysis for deal: %s", d.Title), b.String()), nil
}

func (h *PromptHandlers) pipelineReviewPrompt() (*mcp.GetPromptResult, error) {
	st := h.store.Snapshot()

	var b strings.Builder
	b.WriteString("Please review the current deal pipeline:\n\n")
	fmt.Fprintf(&b, "Total Deals: %d\n", len(st.Deals))
	fmt.Fprintf(&b, "Total Value: %.2f\n", st.TotalPipelineValue)
	fmt.Fprintf(&b, "Weighted Value: %.2f\n\n", st.WeightedPipelineValue)
	b.WriteString("Pipeline by Stage:\n")
	for _, stage := range st.ColumnOrder {
		fmt.Fprintf(&b, "  - %s: %d deals, %.2f\n", stage.Title(), st.StageCounts[stage], st.StageValues[stage])
	}

	if stale := h.store.StaleDeals(14); len(stale) > 0 {
		b.WriteString("\nDeals stuck more than 14 days:\n")
		for _, d := range stale {
			fmt.Fprintf(&b, "  - %s (%s, %d days)\n", d.Title, d.Stage.Title(), d.DaysInStage)
		}
	}

	b.WriteString("\nPlease provide:")
	b.WriteString("\n1. Analysis of pipeline health and distribution")
	b.WriteString("\n2. Deals that need attention and why")
	b.WriteString("\n3. Suggestions for improving conversion between stages")

	return userPrompt("Deal pipeline review", b.String()), nil
}

func userPrompt(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: text},
			},
		},
	}
}
