// ABOUTME: Graphviz rendering of the deal pipeline
// ABOUTME: Stage nodes in flow order with each deal attached to its current stage
package viz

import (
	"bytes"
	"context"
	"fmt"

	"github.com/deangilmoreremix/update3.0-new-sub002/models"
	"github.com/deangilmoreremix/update3.0-new-sub002/pipeline"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

var stageFlow = [][2]models.Stage{
	{models.StageQualification, models.StageProposal},
	{models.StageProposal, models.StageNegotiation},
	{models.StageNegotiation, models.StageClosedWon},
	{models.StageNegotiation, models.StageClosedLost},
}

var stageFill = map[models.Stage]string{
	models.StageQualification: "lightblue",
	models.StageProposal:      "lightyellow",
	models.StageNegotiation:   "plum",
	models.StageClosedWon:     "palegreen",
	models.StageClosedLost:    "lightpink",
}

// GeneratePipelineGraph renders the board as DOT source.
func GeneratePipelineGraph(ctx context.Context, st pipeline.State) (string, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create graphviz: %w", err)
	}
	defer func() { _ = gv.Close() }()

	graph, err := gv.Graph()
	if err != nil {
		return "", fmt.Errorf("failed to create graph: %w", err)
	}
	defer func() { _ = graph.Close() }()

	graph.SetLabel(fmt.Sprintf("Sales Pipeline (%s, weighted %s)",
		formatMoney(st.TotalPipelineValue), formatMoney(st.WeightedPipelineValue)))
	graph.SetRankDir(cgraph.LRRank)

	stageNodes := make(map[models.Stage]*cgraph.Node)
	for _, stage := range st.ColumnOrder {
		node, err := graph.CreateNodeByName("stage_" + string(stage))
		if err != nil {
			return "", fmt.Errorf("failed to create stage node: %w", err)
		}
		node.SetLabel(fmt.Sprintf("%s\n%d deals\n%s", stage.Title(), st.StageCounts[stage], formatMoney(st.StageValues[stage])))
		node.SetShape("box")
		node.SetStyle("filled")
		node.SetFillColor(stageFill[stage])
		stageNodes[stage] = node
	}

	for _, step := range stageFlow {
		from, to := stageNodes[step[0]], stageNodes[step[1]]
		if from == nil || to == nil {
			continue
		}
		edge, err := graph.CreateEdgeByName(string(step[0])+"->"+string(step[1]), from, to)
		if err != nil {
			return "", fmt.Errorf("failed to create flow edge: %w", err)
		}
		edge.SetStyle("bold")
	}

	for _, col := range st.Board() {
		for _, id := range col.DealIDs {
			d, ok := st.Deals[id]
			if !ok {
				continue
			}
			node, err := graph.CreateNodeByName("deal_" + d.ID)
			if err != nil {
				return "", fmt.Errorf("failed to create deal node: %w", err)
			}
			node.SetLabel(fmt.Sprintf("%s\n%s (%d%%)", d.Title, formatMoney(d.Value), d.Probability))
			node.SetShape("ellipse")
			if d.ID == st.SelectedDeal {
				node.SetStyle("bold")
			}

			edge, err := graph.CreateEdgeByName("in_"+d.ID, stageNodes[col.ID], node)
			if err != nil {
				return "", fmt.Errorf("failed to create deal edge: %w", err)
			}
			edge.SetStyle("dashed")
			edge.SetDir("none")
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.XDOT, &buf); err != nil {
		return "", fmt.Errorf("failed to render graph: %w", err)
	}

	return buf.String(), nil
}
