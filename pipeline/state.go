// ABOUTME: Pipeline state snapshot and derived aggregates
// ABOUTME: Holds deals partitioned into stage columns plus stage value rollups
package pipeline

import (
	"fmt"

	"github.com/deangilmoreremix/update3.0-new-sub002/models"
)

// State is one immutable snapshot of the pipeline. Writers clone it, mutate the
// clone and swap it in; readers get their own copy from Store.Snapshot.
type State struct {
	Deals       map[string]models.Deal         `json:"deals"`
	Columns     map[models.Stage]models.Column `json:"columns"`
	ColumnOrder []models.Stage                 `json:"column_order"`

	StageValues           map[models.Stage]float64 `json:"stage_values"`
	StageCounts           map[models.Stage]int     `json:"stage_counts"`
	TotalPipelineValue    float64                  `json:"total_pipeline_value"`
	WeightedPipelineValue float64                  `json:"weighted_pipeline_value"`

	SelectedDeal string          `json:"selected_deal,omitempty"`
	AIInsight    string          `json:"ai_insight,omitempty"`
	Analyzing    map[string]bool `json:"analyzing,omitempty"`

	IsLoading bool   `json:"is_loading"`
	Error     string `json:"error,omitempty"`
}

// Aggregates are the values derived from deals and columns.
type Aggregates struct {
	StageValues           map[models.Stage]float64
	StageCounts           map[models.Stage]int
	TotalPipelineValue    float64
	WeightedPipelineValue float64
}

// NewState returns an empty pipeline with the fixed column set.
func NewState() State {
	s := State{
		Deals:       map[string]models.Deal{},
		Columns:     emptyColumns(),
		ColumnOrder: models.PipelineStages(),
		Analyzing:   map[string]bool{},
	}
	s.recompute()
	return s
}

func emptyColumns() map[models.Stage]models.Column {
	cols := make(map[models.Stage]models.Column, len(models.PipelineStages()))
	for _, stage := range models.PipelineStages() {
		cols[stage] = models.Column{ID: stage, Title: stage.Title(), DealIDs: []string{}}
	}
	return cols
}

// IsAnalyzing reports whether any insight request is in flight.
func (s State) IsAnalyzing() bool {
	return len(s.Analyzing) > 0
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s

	out.Deals = make(map[string]models.Deal, len(s.Deals))
	for id, d := range s.Deals {
		if d.DueDate != nil {
			due := *d.DueDate
			d.DueDate = &due
		}
		out.Deals[id] = d
	}

	out.Columns = make(map[models.Stage]models.Column, len(s.Columns))
	for stage, col := range s.Columns {
		ids := make([]string, len(col.DealIDs))
		copy(ids, col.DealIDs)
		col.DealIDs = ids
		out.Columns[stage] = col
	}

	out.ColumnOrder = append([]models.Stage(nil), s.ColumnOrder...)

	out.StageValues = make(map[models.Stage]float64, len(s.StageValues))
	for k, v := range s.StageValues {
		out.StageValues[k] = v
	}
	out.StageCounts = make(map[models.Stage]int, len(s.StageCounts))
	for k, v := range s.StageCounts {
		out.StageCounts[k] = v
	}
	out.Analyzing = make(map[string]bool, len(s.Analyzing))
	for k, v := range s.Analyzing {
		out.Analyzing[k] = v
	}

	return out
}

// RecomputeAggregates derives stage rollups from deals and columns.
// Ids listed in a column but missing from deals contribute nothing.
func RecomputeAggregates(deals map[string]models.Deal, columns map[models.Stage]models.Column) Aggregates {
	agg := Aggregates{
		StageValues: make(map[models.Stage]float64, len(columns)),
		StageCounts: make(map[models.Stage]int, len(columns)),
	}

	for _, stage := range models.PipelineStages() {
		var sum float64
		var count int
		for _, id := range columns[stage].DealIDs {
			d, ok := deals[id]
			if !ok {
				continue
			}
			sum += d.Value
			count++
			agg.WeightedPipelineValue += d.WeightedValue()
		}
		agg.StageValues[stage] = sum
		agg.StageCounts[stage] = count
		agg.TotalPipelineValue += sum
	}

	return agg
}

// recompute is the only place that writes the aggregate fields.
func (s *State) recompute() {
	agg := RecomputeAggregates(s.Deals, s.Columns)
	s.StageValues = agg.StageValues
	s.StageCounts = agg.StageCounts
	s.TotalPipelineValue = agg.TotalPipelineValue
	s.WeightedPipelineValue = agg.WeightedPipelineValue
}

// Board returns the columns in display order.
func (s State) Board() []models.Column {
	out := make([]models.Column, 0, len(s.ColumnOrder))
	for _, stage := range s.ColumnOrder {
		col := s.Columns[stage]
		col.DealIDs = append([]string(nil), col.DealIDs...)
		out = append(out, col)
	}
	return out
}

// Validate checks the partition, column set, stage agreement and aggregate invariants.
func (s State) Validate() error {
	stages := models.PipelineStages()
	if len(s.Columns) != len(stages) {
		return fmt.Errorf("expected %d columns, got %d", len(stages), len(s.Columns))
	}

	seen := make(map[string]models.Stage, len(s.Deals))
	for _, stage := range stages {
		col, ok := s.Columns[stage]
		if !ok {
			return fmt.Errorf("missing column %s", stage)
		}
		if col.ID != stage {
			return fmt.Errorf("column %s has id %s", stage, col.ID)
		}
		for _, id := range col.DealIDs {
			if prev, dup := seen[id]; dup {
				return fmt.Errorf("deal %s listed in %s and %s", id, prev, stage)
			}
			seen[id] = stage
			d, ok := s.Deals[id]
			if !ok {
				return fmt.Errorf("column %s lists unknown deal %s", stage, id)
			}
			if d.Stage != stage {
				return fmt.Errorf("deal %s has stage %s but sits in column %s", id, d.Stage, stage)
			}
		}
	}
	for id := range s.Deals {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("deal %s is not in any column", id)
		}
	}

	agg := RecomputeAggregates(s.Deals, s.Columns)
	for _, stage := range stages {
		if agg.StageValues[stage] != s.StageValues[stage] {
			return fmt.Errorf("stage %s value %v, expected %v", stage, s.StageValues[stage], agg.StageValues[stage])
		}
	}
	if agg.TotalPipelineValue != s.TotalPipelineValue {
		return fmt.Errorf("total pipeline value %v, expected %v", s.TotalPipelineValue, agg.TotalPipelineValue)
	}
	return nil
}

// insertDeal appends or inserts id into the deal's column.
// An index past the end appends; a negative index prepends.
func (s *State) insertDeal(d models.Deal, index int) {
	s.Deals[d.ID] = d
	col := s.Columns[d.Stage]
	col.DealIDs = insertAt(col.DealIDs, d.ID, index)
	s.Columns[d.Stage] = col
}

// removeDeal drops id from every column and from deals, returning its former position.
func (s *State) removeDeal(id string) (models.Stage, int, bool) {
	d, ok := s.Deals[id]
	if !ok {
		return "", -1, false
	}
	delete(s.Deals, id)

	col := s.Columns[d.Stage]
	var idx int
	col.DealIDs, idx = removeID(col.DealIDs, id)
	s.Columns[d.Stage] = col
	return d.Stage, idx, true
}

func insertAt(ids []string, id string, index int) []string {
	if index < 0 {
		index = 0
	}
	if index >= len(ids) {
		return append(ids, id)
	}
	ids = append(ids, "")
	copy(ids[index+1:], ids[index:])
	ids[index] = id
	return ids
}

func removeID(ids []string, id string) ([]string, int) {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i], ids[i+1:]...), i
		}
	}
	return ids, -1
}
