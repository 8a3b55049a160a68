// ABOUTME: Terminal rendering of the pipeline board
// ABOUTME: Lipgloss kanban columns plus a compact bar-chart summary
package viz

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/deangilmoreremix/update3.0-new-sub002/models"
	"github.com/deangilmoreremix/update3.0-new-sub002/pipeline"
)

const columnWidth = 26

var (
	columnStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Width(columnWidth).
			Padding(0, 1)

	columnTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("170"))

	cardStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	selectedCardStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("62"))

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var stageColors = map[models.Stage]string{
	models.StageQualification: "39",
	models.StageProposal:      "214",
	models.StageNegotiation:   "170",
	models.StageClosedWon:     "42",
	models.StageClosedLost:    "203",
}

// RenderBoard draws one bordered column per stage, side by side.
func RenderBoard(st pipeline.State) string {
	columns := make([]string, 0, len(st.ColumnOrder))
	for _, col := range st.Board() {
		columns = append(columns, renderColumn(st, col))
	}

	var out strings.Builder
	out.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, columns...))
	out.WriteString("\n")
	out.WriteString(fmt.Sprintf("Pipeline: %s  Weighted: %s\n",
		formatMoney(st.TotalPipelineValue), formatMoney(st.WeightedPipelineValue)))
	if st.SelectedDeal != "" && st.AIInsight != "" {
		out.WriteString("\n")
		out.WriteString(columnTitleStyle.Render("INSIGHT"))
		out.WriteString("\n")
		out.WriteString(st.AIInsight)
		out.WriteString("\n")
	}
	if st.Error != "" {
		out.WriteString(errorStyle.Render("Error: " + st.Error))
		out.WriteString("\n")
	}
	return out.String()
}

func renderColumn(st pipeline.State, col models.Column) string {
	var s strings.Builder

	title := columnTitleStyle.Foreground(lipgloss.Color(stageColors[col.ID])).Render(strings.ToUpper(col.Title))
	s.WriteString(title)
	s.WriteString("\n")
	s.WriteString(mutedStyle.Render(fmt.Sprintf("%d deals · %s", st.StageCounts[col.ID], formatMoney(st.StageValues[col.ID]))))
	s.WriteString("\n")

	if len(col.DealIDs) == 0 {
		s.WriteString(mutedStyle.Render("(empty)"))
	}
	for i, id := range col.DealIDs {
		d, ok := st.Deals[id]
		if !ok {
			continue
		}
		if i > 0 {
			s.WriteString("\n")
		}
		style := cardStyle
		if id == st.SelectedDeal {
			style = selectedCardStyle
		}
		s.WriteString("\n")
		s.WriteString(style.Render(truncate(d.Title, columnWidth-2)))
		s.WriteString("\n")
		s.WriteString(mutedStyle.Render(fmt.Sprintf("%s · %d%% · %dd", formatMoney(d.Value), d.Probability, d.DaysInStage)))
	}

	return columnStyle.Render(s.String())
}

// RenderSummary prints a text overview with one bar per stage and the deals needing attention.
func RenderSummary(st pipeline.State, stale []models.Deal) string {
	var out strings.Builder

	out.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	out.WriteString("  SALES PIPELINE\n")
	out.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	maxCount := 1
	for _, stage := range st.ColumnOrder {
		if st.StageCounts[stage] > maxCount {
			maxCount = st.StageCounts[stage]
		}
	}

	for _, stage := range st.ColumnOrder {
		count := st.StageCounts[stage]
		barLength := (count * 10) / maxCount
		bar := strings.Repeat("█", barLength) + strings.Repeat("░", 10-barLength)
		out.WriteString(fmt.Sprintf("  %-13s %s  %2d (%s)\n", stage.Title(), bar, count, formatMoney(st.StageValues[stage])))
	}

	out.WriteString(fmt.Sprintf("\n  Total %s  Weighted %s\n", formatMoney(st.TotalPipelineValue), formatMoney(st.WeightedPipelineValue)))

	if len(stale) > 0 {
		out.WriteString("\nNEEDS ATTENTION\n")
		for _, d := range stale {
			out.WriteString(fmt.Sprintf("  ⚠️  %s - %d days in %s\n", d.Title, d.DaysInStage, d.Stage.Title()))
		}
	}

	return out.String()
}

func formatMoney(v float64) string {
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("$%.1fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("$%.1fK", v/1_000)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
