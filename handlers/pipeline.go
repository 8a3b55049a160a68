// ABOUTME: Pipeline MCP tool handlers
// ABOUTME: Exposes board listing, deal CRUD, stage moves, undo and insights as tools
package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deangilmoreremix/update3.0-new-sub002/models"
	"github.com/deangilmoreremix/update3.0-new-sub002/pipeline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type PipelineHandlers struct {
	store *pipeline.Store
}

func NewPipelineHandlers(store *pipeline.Store) *PipelineHandlers {
	return &PipelineHandlers{store: store}
}

type DealOutput struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Value         float64 `json:"value"`
	Currency      string  `json:"currency"`
	Stage         string  `json:"stage"`
	Company       string  `json:"company,omitempty"`
	Contact       string  `json:"contact,omitempty"`
	ContactID     string  `json:"contact_id"`
	DueDate       string  `json:"due_date,omitempty"`
	Probability   int     `json:"probability"`
	WeightedValue float64 `json:"weighted_value"`
	DaysInStage   int     `json:"days_in_stage"`
	Priority      string  `json:"priority"`
	Notes         string  `json:"notes,omitempty"`
	UpdatedAt     string  `json:"updated_at"`
}

type ColumnOutput struct {
	Stage string       `json:"stage"`
	Title string       `json:"title"`
	Count int          `json:"count"`
	Value float64      `json:"value"`
	Deals []DealOutput `json:"deals"`
}

type PipelineOutput struct {
	Columns       []ColumnOutput `json:"columns"`
	TotalValue    float64        `json:"total_value"`
	WeightedValue float64        `json:"weighted_value"`
	SelectedDeal  string         `json:"selected_deal,omitempty"`
	Error         string         `json:"error,omitempty"`
}

type ListPipelineInput struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"Reload deals from the backend before listing"`
}

func (h *PipelineHandlers) ListPipeline(ctx context.Context, _ *mcp.CallToolRequest, input ListPipelineInput) (*mcp.CallToolResult, PipelineOutput, error) {
	if input.Refresh {
		if err := h.store.FetchDeals(ctx); err != nil {
			return nil, PipelineOutput{}, err
		}
	}
	return nil, pipelineToOutput(h.store.Snapshot()), nil
}

type CreateDealInput struct {
	Title       string   `json:"title" jsonschema:"Deal title (required)"`
	Value       *float64 `json:"value,omitempty" jsonschema:"Deal value in currency units"`
	Currency    string   `json:"currency,omitempty" jsonschema:"Currency code (default USD)"`
	Stage       string   `json:"stage,omitempty" jsonschema:"Stage: qualification, proposal, negotiation, closed-won, closed-lost (default qualification)"`
	Company     string   `json:"company,omitempty" jsonschema:"Company name"`
	Contact     string   `json:"contact,omitempty" jsonschema:"Contact name"`
	ContactID   string   `json:"contact_id,omitempty" jsonschema:"Contact ID"`
	DueDate     string   `json:"due_date,omitempty" jsonschema:"Expected close date, RFC3339 or YYYY-MM-DD"`
	Probability *int     `json:"probability,omitempty" jsonschema:"Win probability 0-100 (default derived from stage)"`
	Priority    string   `json:"priority,omitempty" jsonschema:"Priority: low, medium, high"`
	Notes       string   `json:"notes,omitempty" jsonschema:"Free-form notes"`
}

func (h *PipelineHandlers) CreateDeal(ctx context.Context, _ *mcp.CallToolRequest, input CreateDealInput) (*mcp.CallToolResult, DealOutput, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, DealOutput{}, fmt.Errorf("title is required")
	}

	patch, err := buildPatch(dealFields{
		Title:       input.Title,
		Value:       input.Value,
		Currency:    input.Currency,
		Stage:       input.Stage,
		Company:     input.Company,
		Contact:     input.Contact,
		ContactID:   input.ContactID,
		DueDate:     input.DueDate,
		Probability: input.Probability,
		Priority:    input.Priority,
		Notes:       input.Notes,
	})
	if err != nil {
		return nil, DealOutput{}, err
	}

	deal, err := h.store.CreateDeal(ctx, patch)
	if err != nil {
		return nil, DealOutput{}, err
	}
	return nil, dealToOutput(deal), nil
}

type UpdateDealInput struct {
	ID          string   `json:"id" jsonschema:"Deal ID (required)"`
	Title       string   `json:"title,omitempty" jsonschema:"Updated title"`
	Value       *float64 `json:"value,omitempty" jsonschema:"Updated value"`
	Currency    string   `json:"currency,omitempty" jsonschema:"Updated currency code"`
	Stage       string   `json:"stage,omitempty" jsonschema:"New stage; moves the deal to the top of that column"`
	Company     string   `json:"company,omitempty" jsonschema:"Updated company name"`
	Contact     string   `json:"contact,omitempty" jsonschema:"Updated contact name"`
	ContactID   string   `json:"contact_id,omitempty" jsonschema:"Updated contact ID"`
	DueDate     string   `json:"due_date,omitempty" jsonschema:"Updated close date, RFC3339 or YYYY-MM-DD"`
	Probability *int     `json:"probability,omitempty" jsonschema:"Updated win probability 0-100"`
	Priority    string   `json:"priority,omitempty" jsonschema:"Updated priority"`
	Notes       string   `json:"notes,omitempty" jsonschema:"Updated notes"`
}

func (h *PipelineHandlers) UpdateDeal(ctx context.Context, _ *mcp.CallToolRequest, input UpdateDealInput) (*mcp.CallToolResult, DealOutput, error) {
	if input.ID == "" {
		return nil, DealOutput{}, fmt.Errorf("id is required")
	}

	patch, err := buildPatch(dealFields{
		Title:       input.Title,
		Value:       input.Value,
		Currency:    input.Currency,
		Stage:       input.Stage,
		Company:     input.Company,
		Contact:     input.Contact,
		ContactID:   input.ContactID,
		DueDate:     input.DueDate,
		Probability: input.Probability,
		Priority:    input.Priority,
		Notes:       input.Notes,
	})
	if err != nil {
		return nil, DealOutput{}, err
	}
	if patch.IsEmpty() {
		return nil, DealOutput{}, fmt.Errorf("no fields to update")
	}

	deal, err := h.store.UpdateDeal(ctx, input.ID, patch)
	if err != nil {
		return nil, DealOutput{}, err
	}
	return nil, dealToOutput(deal), nil
}

type MoveDealInput struct {
	ID    string `json:"id" jsonschema:"Deal ID (required)"`
	Stage string `json:"stage" jsonschema:"Destination stage (required)"`
	Index int    `json:"index,omitempty" jsonschema:"Position in the destination column (default 0, top)"`
}

type MoveDealOutput struct {
	Deal          DealOutput `json:"deal"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Moved         bool       `json:"moved"`
}

func (h *PipelineHandlers) MoveDeal(_ context.Context, _ *mcp.CallToolRequest, input MoveDealInput) (*mcp.CallToolResult, MoveDealOutput, error) {
	if input.ID == "" {
		return nil, MoveDealOutput{}, fmt.Errorf("id is required")
	}
	stage, err := parseStage(input.Stage)
	if err != nil {
		return nil, MoveDealOutput{}, err
	}

	current, ok := h.store.Deal(input.ID)
	if !ok {
		return nil, MoveDealOutput{}, fmt.Errorf("%w: %s", pipeline.ErrDealNotFound, input.ID)
	}

	correlationID, err := h.store.MoveDealToStage(input.ID, current.Stage, stage, input.Index)
	if err != nil {
		return nil, MoveDealOutput{}, err
	}

	moved, _ := h.store.Deal(input.ID)
	return nil, MoveDealOutput{
		Deal:          dealToOutput(moved),
		CorrelationID: correlationID,
		Moved:         correlationID != "",
	}, nil
}

type DealIDInput struct {
	ID string `json:"id" jsonschema:"Deal ID (required)"`
}

type DeleteDealOutput struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func (h *PipelineHandlers) DeleteDeal(ctx context.Context, _ *mcp.CallToolRequest, input DealIDInput) (*mcp.CallToolResult, DeleteDealOutput, error) {
	if input.ID == "" {
		return nil, DeleteDealOutput{}, fmt.Errorf("id is required")
	}
	if err := h.store.DeleteDeal(ctx, input.ID); err != nil {
		return nil, DeleteDealOutput{}, err
	}
	return nil, DeleteDealOutput{ID: input.ID, Deleted: true}, nil
}

type SelectDealInput struct {
	ID string `json:"id,omitempty" jsonschema:"Deal ID to select; empty clears the selection"`
}

type SelectDealOutput struct {
	SelectedDeal string `json:"selected_deal"`
}

func (h *PipelineHandlers) SelectDeal(_ context.Context, _ *mcp.CallToolRequest, input SelectDealInput) (*mcp.CallToolResult, SelectDealOutput, error) {
	if input.ID != "" {
		if _, ok := h.store.Deal(input.ID); !ok {
			return nil, SelectDealOutput{}, fmt.Errorf("%w: %s", pipeline.ErrDealNotFound, input.ID)
		}
	}
	h.store.SelectDeal(input.ID)
	return nil, SelectDealOutput{SelectedDeal: input.ID}, nil
}

type InsightOutput struct {
	DealID  string `json:"deal_id"`
	Insight string `json:"insight"`
}

// GenerateInsight selects the deal first so the result lands in the board state.
func (h *PipelineHandlers) GenerateInsight(ctx context.Context, _ *mcp.CallToolRequest, input DealIDInput) (*mcp.CallToolResult, InsightOutput, error) {
	if input.ID == "" {
		return nil, InsightOutput{}, fmt.Errorf("id is required")
	}
	if h.store.Snapshot().SelectedDeal != input.ID {
		h.store.SelectDeal(input.ID)
	}

	text, err := h.store.GenerateAIInsight(ctx, input.ID)
	if err != nil {
		return nil, InsightOutput{}, err
	}
	return nil, InsightOutput{DealID: input.ID, Insight: text}, nil
}

type UndoMoveInput struct {
	CorrelationID string `json:"correlation_id" jsonschema:"Correlation ID returned by move_deal (required)"`
}

type UndoMoveOutput struct {
	CorrelationID string     `json:"correlation_id"`
	Deal          DealOutput `json:"deal"`
}

func (h *PipelineHandlers) UndoMove(_ context.Context, _ *mcp.CallToolRequest, input UndoMoveInput) (*mcp.CallToolResult, UndoMoveOutput, error) {
	if input.CorrelationID == "" {
		return nil, UndoMoveOutput{}, fmt.Errorf("correlation_id is required")
	}

	var dealID string
	for _, f := range h.store.FailedMoves() {
		if f.Command.CorrelationID == input.CorrelationID {
			dealID = f.Command.DealID
		}
	}

	if err := h.store.Undo(input.CorrelationID); err != nil {
		return nil, UndoMoveOutput{}, err
	}

	out := UndoMoveOutput{CorrelationID: input.CorrelationID}
	if d, ok := h.store.Deal(dealID); ok {
		out.Deal = dealToOutput(d)
	}
	return nil, out, nil
}

type FailedMovesInput struct{}

type FailedMoveOutput struct {
	CorrelationID string `json:"correlation_id"`
	DealID        string `json:"deal_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Attempts      int    `json:"attempts"`
	Error         string `json:"error"`
	FailedAt      string `json:"failed_at"`
}

type FailedMovesOutput struct {
	Moves []FailedMoveOutput `json:"moves"`
}

func (h *PipelineHandlers) ListFailedMoves(_ context.Context, _ *mcp.CallToolRequest, _ FailedMovesInput) (*mcp.CallToolResult, FailedMovesOutput, error) {
	out := FailedMovesOutput{Moves: []FailedMoveOutput{}}
	for _, f := range h.store.FailedMoves() {
		out.Moves = append(out.Moves, FailedMoveOutput{
			CorrelationID: f.Command.CorrelationID,
			DealID:        f.Command.DealID,
			From:          string(f.Command.From),
			To:            string(f.Command.To),
			Attempts:      f.Attempts,
			Error:         f.Err.Error(),
			FailedAt:      f.FailedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

type StaleDealsInput struct {
	Days int `json:"days,omitempty" jsonschema:"Days in the current stage to exceed (default 14)"`
}

type StaleDealsOutput struct {
	Deals []DealOutput `json:"deals"`
}

func (h *PipelineHandlers) StaleDeals(_ context.Context, _ *mcp.CallToolRequest, input StaleDealsInput) (*mcp.CallToolResult, StaleDealsOutput, error) {
	days := input.Days
	if days <= 0 {
		days = 14
	}

	out := StaleDealsOutput{Deals: []DealOutput{}}
	for _, d := range h.store.StaleDeals(days) {
		out.Deals = append(out.Deals, dealToOutput(d))
	}
	return nil, out, nil
}

type StageChangeOutput struct {
	ID        string `json:"id"`
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	ChangedAt string `json:"changed_at"`
}

type DealHistoryOutput struct {
	DealID  string              `json:"deal_id"`
	Changes []StageChangeOutput `json:"changes"`
}

func (h *PipelineHandlers) DealHistory(ctx context.Context, _ *mcp.CallToolRequest, input DealIDInput) (*mcp.CallToolResult, DealHistoryOutput, error) {
	if input.ID == "" {
		return nil, DealHistoryOutput{}, fmt.Errorf("id is required")
	}
	out, err := dealHistory(ctx, h.store, input.ID)
	if err != nil {
		return nil, DealHistoryOutput{}, err
	}
	return nil, out, nil
}

func dealHistory(ctx context.Context, store *pipeline.Store, id string) (DealHistoryOutput, error) {
	changes, err := store.StageHistory(ctx, id)
	if err != nil {
		return DealHistoryOutput{}, err
	}
	out := DealHistoryOutput{DealID: id, Changes: make([]StageChangeOutput, 0, len(changes))}
	for _, c := range changes {
		out.Changes = append(out.Changes, StageChangeOutput{
			ID:        c.ID,
			From:      string(c.From),
			To:        string(c.To),
			ChangedAt: c.ChangedAt.Format(time.RFC3339),
		})
	}
	return out, nil
}

// RegisterTools adds every pipeline tool to server.
func (h *PipelineHandlers) RegisterTools(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_pipeline",
		Description: "Show the deal pipeline board with per-stage totals and weighted value",
	}, h.ListPipeline)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_deal",
		Description: "Create a new deal at the bottom of its stage column",
	}, h.CreateDeal)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_deal",
		Description: "Update a deal's fields; changing stage moves it to the top of the new column",
	}, h.UpdateDeal)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "move_deal",
		Description: "Move a deal to another stage immediately and persist the change in the background",
	}, h.MoveDeal)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_deal",
		Description: "Delete a deal from the pipeline",
	}, h.DeleteDeal)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "select_deal",
		Description: "Select a deal (or clear the selection) for insight generation",
	}, h.SelectDeal)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate_insight",
		Description: "Generate an AI insight for a deal",
	}, h.GenerateInsight)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "undo_move",
		Description: "Revert a stage move by its correlation ID, typically after persistence failed",
	}, h.UndoMove)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_failed_moves",
		Description: "List stage moves that could not be persisted",
	}, h.ListFailedMoves)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "deal_history",
		Description: "List a deal's recorded stage changes, oldest first",
	}, h.DealHistory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "stale_deals",
		Description: "List open deals that have sat in their stage longer than the given number of days",
	}, h.StaleDeals)
}

type dealFields struct {
	Title, Currency, Stage, Company, Contact, ContactID, DueDate, Priority, Notes string

	Value       *float64
	Probability *int
}

func buildPatch(f dealFields) (models.DealPatch, error) {
	var p models.DealPatch

	if f.Title != "" {
		p.Title = &f.Title
	}
	if f.Value != nil {
		if *f.Value < 0 {
			return p, fmt.Errorf("value must not be negative")
		}
		p.Value = f.Value
	}
	if f.Currency != "" {
		c := strings.ToUpper(f.Currency)
		p.Currency = &c
	}
	if f.Stage != "" {
		stage, err := parseStage(f.Stage)
		if err != nil {
			return p, err
		}
		p.Stage = &stage
	}
	if f.Company != "" {
		p.Company = &f.Company
	}
	if f.Contact != "" {
		p.Contact = &f.Contact
	}
	if f.ContactID != "" {
		p.ContactID = &f.ContactID
	}
	if f.DueDate != "" {
		due, err := parseDate(f.DueDate)
		if err != nil {
			return p, err
		}
		p.DueDate = &due
	}
	if f.Probability != nil {
		if *f.Probability < 0 || *f.Probability > 100 {
			return p, fmt.Errorf("probability must be between 0 and 100")
		}
		p.Probability = f.Probability
	}
	if f.Priority != "" {
		pr := models.Priority(strings.ToLower(f.Priority))
		switch pr {
		case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
		default:
			return p, fmt.Errorf("invalid priority: %s (valid: low, medium, high)", f.Priority)
		}
		p.Priority = &pr
	}
	if f.Notes != "" {
		p.Notes = &f.Notes
	}

	return p, nil
}

func parseStage(s string) (models.Stage, error) {
	stage, ok := models.ParseStage(strings.ToLower(strings.TrimSpace(s)))
	if !ok || !stage.HasColumn() {
		return "", fmt.Errorf("%w: %s (valid: qualification, proposal, negotiation, closed-won, closed-lost)", pipeline.ErrUnknownStage, s)
	}
	return stage, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due_date format (use RFC3339 or YYYY-MM-DD): %w", err)
	}
	return t, nil
}

func dealToOutput(d models.Deal) DealOutput {
	out := DealOutput{
		ID:            d.ID,
		Title:         d.Title,
		Value:         d.Value,
		Currency:      d.Currency,
		Stage:         string(d.Stage),
		Company:       d.Company,
		Contact:       d.Contact,
		ContactID:     d.ContactID,
		Probability:   d.Probability,
		WeightedValue: d.WeightedValue(),
		DaysInStage:   d.DaysInStage,
		Priority:      string(d.Priority),
		Notes:         d.Notes,
		UpdatedAt:     d.UpdatedAt.Format(time.RFC3339),
	}
	if d.DueDate != nil {
		out.DueDate = d.DueDate.Format("2006-01-02")
	}
	return out
}

func pipelineToOutput(st pipeline.State) PipelineOutput {
	out := PipelineOutput{
		Columns:       make([]ColumnOutput, 0, len(st.ColumnOrder)),
		TotalValue:    st.TotalPipelineValue,
		WeightedValue: st.WeightedPipelineValue,
		SelectedDeal:  st.SelectedDeal,
		Error:         st.Error,
	}
	for _, col := range st.Board() {
		co := ColumnOutput{
			Stage: string(col.ID),
			Title: col.Title,
			Count: st.StageCounts[col.ID],
			Value: st.StageValues[col.ID],
			Deals: make([]DealOutput, 0, len(col.DealIDs)),
		}
		for _, id := range col.DealIDs {
			if d, ok := st.Deals[id]; ok {
				co.Deals = append(co.Deals, dealToOutput(d))
			}
		}
		out.Columns = append(out.Columns, co)
	}
	return out
}
