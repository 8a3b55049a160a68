// ABOUTME: Tests for pipeline MCP tool, resource and prompt handlers
// ABOUTME: Runs handlers against a real SQLite-backed store
package handlers

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/deangilmoreremix/update3.0-new-sub002/db"
	"github.com/deangilmoreremix/update3.0-new-sub002/insight"
	"github.com/deangilmoreremix/update3.0-new-sub002/pipeline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *pipeline.Store {
	t.Helper()

	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDatabase failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	store := pipeline.NewStore(db.NewDealGateway(database), insight.NewRuleBased(),
		pipeline.WithRetryPolicy(pipeline.RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}))
	t.Cleanup(func() { _ = store.Close() })

	if err := store.FetchDeals(context.Background()); err != nil {
		t.Fatalf("FetchDeals failed: %v", err)
	}
	return store
}

func createTestDeal(t *testing.T, h *PipelineHandlers, title string, value float64, stage string) DealOutput {
	t.Helper()
	_, out, err := h.CreateDeal(context.Background(), nil, CreateDealInput{Title: title, Value: &value, Stage: stage})
	if err != nil {
		t.Fatalf("CreateDeal failed: %v", err)
	}
	return out
}

func TestCreateDeal(t *testing.T) {
	h := NewPipelineHandlers(setupTestStore(t))

	value := 50000.0
	_, out, err := h.CreateDeal(context.Background(), nil, CreateDealInput{
		Title:    "Enterprise License Deal",
		Value:    &value,
		Currency: "eur",
		Stage:    "proposal",
		Company:  "Acme Corp",
		DueDate:  "2026-06-30",
		Priority: "high",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, out.ID)
	assert.Equal(t, "Enterprise License Deal", out.Title)
	assert.Equal(t, "EUR", out.Currency)
	assert.Equal(t, "proposal", out.Stage)
	assert.Equal(t, 50, out.Probability)
	assert.Equal(t, 25000.0, out.WeightedValue)
	assert.Equal(t, "2026-06-30", out.DueDate)
	assert.Equal(t, "high", out.Priority)
}

func TestCreateDealValidation(t *testing.T) {
	h := NewPipelineHandlers(setupTestStore(t))
	neg := -1.0
	badProb := 140

	tests := []struct {
		name  string
		input CreateDealInput
	}{
		{name: "missing title", input: CreateDealInput{}},
		{name: "negative value", input: CreateDealInput{Title: "x", Value: &neg}},
		{name: "unknown stage", input: CreateDealInput{Title: "x", Stage: "prospecting"}},
		{name: "initial stage", input: CreateDealInput{Title: "x", Stage: "initial"}},
		{name: "bad date", input: CreateDealInput{Title: "x", DueDate: "next tuesday"}},
		{name: "bad probability", input: CreateDealInput{Title: "x", Probability: &badProb}},
		{name: "bad priority", input: CreateDealInput{Title: "x", Priority: "urgent"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := h.CreateDeal(context.Background(), nil, tt.input)
			assert.Error(t, err)
		})
	}
}

func TestListPipeline(t *testing.T) {
	h := NewPipelineHandlers(setupTestStore(t))
	createTestDeal(t, h, "Enterprise License", 75000, "qualification")
	createTestDeal(t, h, "Consulting Package", 45000, "proposal")

	_, out, err := h.ListPipeline(context.Background(), nil, ListPipelineInput{Refresh: true})
	require.NoError(t, err)

	require.Len(t, out.Columns, 5)
	assert.Equal(t, "qualification", out.Columns[0].Stage)
	assert.Equal(t, 1, out.Columns[0].Count)
	assert.Equal(t, "Enterprise License", out.Columns[0].Deals[0].Title)
	assert.Equal(t, 45000.0, out.Columns[1].Value)
	assert.Equal(t, 120000.0, out.TotalValue)
	assert.Equal(t, 7500.0+22500.0, out.WeightedValue)
}

func TestUpdateDealStageMovesToTop(t *testing.T) {
	h := NewPipelineHandlers(setupTestStore(t))
	first := createTestDeal(t, h, "First", 10, "proposal")
	mover := createTestDeal(t, h, "Mover", 20, "qualification")

	_, out, err := h.UpdateDeal(context.Background(), nil, UpdateDealInput{ID: mover.ID, Stage: "proposal", Notes: "sent quote"})
	require.NoError(t, err)
	assert.Equal(t, "proposal", out.Stage)
	assert.Equal(t, 50, out.Probability)
	assert.Equal(t, 0, out.DaysInStage)
	assert.Equal(t, "sent quote", out.Notes)

	_, board, err := h.ListPipeline(context.Background(), nil, ListPipelineInput{})
	require.NoError(t, err)
	assert.Equal(t, mover.ID, board.Columns[1].Deals[0].ID)
	assert.Equal(t, first.ID, board.Columns[1].Deals[1].ID)
}

func TestUpdateDealErrors(t *testing.T) {
	h := NewPipelineHandlers(setupTestStore(t))
	d := createTestDeal(t, h, "Deal", 10, "")

	_, _, err := h.UpdateDeal(context.Background(), nil, UpdateDealInput{})
	assert.Error(t, err)

	_, _, err = h.UpdateDeal(context.Background(), nil, UpdateDealInput{ID: d.ID})
	assert.ErrorContains(t, err, "no fields")

	_, _, err = h.UpdateDeal(context.Background(), nil, UpdateDealInput{ID: "ghost", Title: "x"})
	assert.ErrorIs(t, err, pipeline.ErrDealNotFound)
}

func TestMoveDealAndPersist(t *testing.T) {
	store := setupTestStore(t)
	h := NewPipelineHandlers(store)
	d := createTestDeal(t, h, "Mover", 1000, "qualification")

	_, out, err := h.MoveDeal(context.Background(), nil, MoveDealInput{ID: d.ID, Stage: "negotiation"})
	require.NoError(t, err)
	assert.True(t, out.Moved)
	assert.NotEmpty(t, out.CorrelationID)
	assert.Equal(t, "negotiation", out.Deal.Stage)
	assert.Equal(t, 75, out.Deal.Probability)

	store.Wait()
	_, failed, err := h.ListFailedMoves(context.Background(), nil, FailedMovesInput{})
	require.NoError(t, err)
	assert.Empty(t, failed.Moves)

	_, list, err := h.ListPipeline(context.Background(), nil, ListPipelineInput{Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, d.ID, list.Columns[2].Deals[0].ID, "move survives a reload from the backend")
}

func TestMoveDealSameStageIsNoop(t *testing.T) {
	h := NewPipelineHandlers(setupTestStore(t))
	d := createTestDeal(t, h, "Stay", 1000, "proposal")

	_, out, err := h.MoveDeal(context.Background(), nil, MoveDealInput{ID: d.ID, Stage: "proposal"})
	require.NoError(t, err)
	assert.False(t, out.Moved)
	assert.Empty(t, out.CorrelationID)
}

func TestMoveDealErrors(t *testing.T) {
	h := NewPipelineHandlers(setupTestStore(t))
	d := createTestDeal(t, h, "Deal", 10, "")

	_, _, err := h.MoveDeal(context.Background(), nil, MoveDealInput{ID: "ghost", Stage: "proposal"})
	assert.ErrorIs(t, err, pipeline.ErrDealNotFound)

	_, _, err = h.MoveDeal(context.Background(), nil, MoveDealInput{ID: d.ID, Stage: "initial"})
	assert.ErrorIs(t, err, pipeline.ErrUnknownStage)
}

func TestDeleteDeal(t *testing.T) {
	h := NewPipelineHandlers(setupTestStore(t))
	d := createTestDeal(t, h, "Doomed", 500, "")

	_, out, err := h.DeleteDeal(context.Background(), nil, DealIDInput{ID: d.ID})
	require.NoError(t, err)
	assert.True(t, out.Deleted)

	_, list, err := h.ListPipeline(context.Background(), nil, ListPipelineInput{Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, 0.0, list.TotalValue)
}

func TestGenerateInsight(t *testing.T) {
	store := setupTestStore(t)
	h := NewPipelineHandlers(store)
	d := createTestDeal(t, h, "Enterprise License", 75000, "negotiation")

	_, out, err := h.GenerateInsight(context.Background(), nil, DealIDInput{ID: d.ID})
	require.NoError(t, err)
	assert.Contains(t, out.Insight, "Enterprise License is in Negotiation")

	st := store.Snapshot()
	assert.Equal(t, d.ID, st.SelectedDeal)
	assert.Equal(t, out.Insight, st.AIInsight)
}

func TestSelectDeal(t *testing.T) {
	store := setupTestStore(t)
	h := NewPipelineHandlers(store)
	d := createTestDeal(t, h, "Pick me", 1, "")

	_, out, err := h.SelectDeal(context.Background(), nil, SelectDealInput{ID: d.ID})
	require.NoError(t, err)
	assert.Equal(t, d.ID, out.SelectedDeal)

	_, _, err = h.SelectDeal(context.Background(), nil, SelectDealInput{ID: "ghost"})
	assert.ErrorIs(t, err, pipeline.ErrDealNotFound)

	_, _, err = h.SelectDeal(context.Background(), nil, SelectDealInput{})
	require.NoError(t, err)
	assert.Empty(t, store.Snapshot().SelectedDeal)
}

func TestUndoMoveUnknown(t *testing.T) {
	h := NewPipelineHandlers(setupTestStore(t))

	_, _, err := h.UndoMove(context.Background(), nil, UndoMoveInput{})
	assert.Error(t, err)

	_, _, err = h.UndoMove(context.Background(), nil, UndoMoveInput{CorrelationID: "nope"})
	assert.ErrorIs(t, err, pipeline.ErrUnknownCommand)
}

func TestStaleDealsDefaultsToTwoWeeks(t *testing.T) {
	h := NewPipelineHandlers(setupTestStore(t))
	createTestDeal(t, h, "Fresh", 1, "")

	_, out, err := h.StaleDeals(context.Background(), nil, StaleDealsInput{})
	require.NoError(t, err)
	assert.Empty(t, out.Deals)
}

func TestReadResources(t *testing.T) {
	store := setupTestStore(t)
	h := NewPipelineHandlers(store)
	d := createTestDeal(t, h, "Readable", 300, "proposal")
	rh := NewResourceHandlers(store)

	res, err := rh.ReadResource(context.Background(), &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "pipeline://board"}})
	require.NoError(t, err)
	var board PipelineOutput
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &board))
	assert.Equal(t, 300.0, board.TotalValue)

	res, err = rh.ReadResource(context.Background(), &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "pipeline://deals/" + d.ID}})
	require.NoError(t, err)
	assert.Contains(t, res.Contents[0].Text, "Readable")

	_, err = rh.ReadResource(context.Background(), &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "crm://board"}})
	assert.Error(t, err)

	_, err = rh.ReadResource(context.Background(), &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "pipeline://deals/ghost"}})
	assert.Error(t, err)
}

func TestPrompts(t *testing.T) {
	store := setupTestStore(t)
	h := NewPipelineHandlers(store)
	d := createTestDeal(t, h, "Promptable", 900, "negotiation")
	ph := NewPromptHandlers(store)

	res, err := ph.GetPrompt(context.Background(), &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{
		Name:      "deal-analysis",
		Arguments: map[string]string{"deal_id": d.ID},
	}})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	text := res.Messages[0].Content.(*mcp.TextContent).Text
	assert.Contains(t, text, "Title: Promptable")
	assert.Contains(t, text, "75% probability")

	res, err = ph.GetPrompt(context.Background(), &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "pipeline-review"}})
	require.NoError(t, err)
	assert.Contains(t, res.Messages[0].Content.(*mcp.TextContent).Text, "Negotiation: 1 deals, 900.00")

	_, err = ph.GetPrompt(context.Background(), &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "deal-analysis"}})
	assert.Error(t, err)
}

func TestToolsRegisterOverMCP(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	server := mcp.NewServer(&mcp.Implementation{Name: "pipeline", Version: "test"}, nil)
	NewPipelineHandlers(store).RegisterTools(server)
	NewResourceHandlers(store).RegisterResources(server)
	NewPromptHandlers(store).RegisterPrompts(server)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"list_pipeline", "create_deal", "update_deal", "move_deal", "delete_deal",
		"select_deal", "generate_insight", "undo_move", "list_failed_moves", "stale_deals",
		"deal_history",
	}, names)

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "create_deal",
		Arguments: map[string]any{"title": "Over the wire", "value": 1200},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, 1200.0, store.Snapshot().TotalPipelineValue)
}

func TestDealHistory(t *testing.T) {
	store := setupTestStore(t)
	h := NewPipelineHandlers(store)
	d := createTestDeal(t, h, "Travelling", 500, "")

	_, _, err := h.MoveDeal(context.Background(), nil, MoveDealInput{ID: d.ID, Stage: "proposal"})
	require.NoError(t, err)
	store.Wait()

	_, out, err := h.DealHistory(context.Background(), nil, DealIDInput{ID: d.ID})
	require.NoError(t, err)
	require.Len(t, out.Changes, 1)
	assert.Equal(t, "qualification", out.Changes[0].From)
	assert.Equal(t, "proposal", out.Changes[0].To)

	_, _, err = h.DealHistory(context.Background(), nil, DealIDInput{})
	assert.Error(t, err)
	_, _, err = h.DealHistory(context.Background(), nil, DealIDInput{ID: "ghost"})
	assert.ErrorIs(t, err, pipeline.ErrDealNotFound)

	rh := NewResourceHandlers(store)
	res, err := rh.ReadResource(context.Background(), &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "pipeline://deals/" + d.ID + "/history"}})
	require.NoError(t, err)
	var history DealHistoryOutput
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &history))
	assert.Equal(t, d.ID, history.DealID)
	assert.Len(t, history.Changes, 1)
}
