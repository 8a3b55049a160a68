// ABOUTME: Tests for pipeline data models
// ABOUTME: Validates stage taxonomy, probability mapping, and patch conversion
package models

import (
	"testing"
	"time"
)

func TestPipelineStagesOrder(t *testing.T) {
	stages := PipelineStages()
	expected := []Stage{StageQualification, StageProposal, StageNegotiation, StageClosedWon, StageClosedLost}

	if len(stages) != len(expected) {
		t.Fatalf("expected %d stages, got %d", len(expected), len(stages))
	}
	for i := range expected {
		if stages[i] != expected[i] {
			t.Errorf("stage %d: expected %s, got %s", i, expected[i], stages[i])
		}
	}

	// Callers must not be able to reorder the shared column set.
	stages[0] = StageClosedLost
	if PipelineStages()[0] != StageQualification {
		t.Error("PipelineStages returned a shared slice")
	}
}

func TestStageProbability(t *testing.T) {
	cases := map[Stage]int{
		StageQualification: 10,
		StageInitial:       25,
		StageProposal:      50,
		StageNegotiation:   75,
		StageClosedWon:     100,
		StageClosedLost:    0,
	}
	for stage, want := range cases {
		if got := stage.Probability(); got != want {
			t.Errorf("%s: expected probability %d, got %d", stage, want, got)
		}
	}
}

func TestInitialStageHasNoColumn(t *testing.T) {
	if StageInitial.HasColumn() {
		t.Error("initial stage should not own a column")
	}
	if !StageNegotiation.HasColumn() {
		t.Error("negotiation should own a column")
	}
}

func TestParseStage(t *testing.T) {
	if s, ok := ParseStage("closed_won"); !ok || s != StageClosedWon {
		t.Errorf("expected closed_won to parse as %s, got %s (%v)", StageClosedWon, s, ok)
	}
	if s, ok := ParseStage("initial"); !ok || s != StageInitial {
		t.Errorf("expected initial to parse, got %s (%v)", s, ok)
	}
	if _, ok := ParseStage("prospecting"); ok {
		t.Error("prospecting is not part of the taxonomy")
	}
}

func TestParsePriorityDefaultsToMedium(t *testing.T) {
	if ParsePriority("high") != PriorityHigh {
		t.Error("expected high")
	}
	if ParsePriority("urgent") != PriorityMedium {
		t.Error("expected unknown priority to default to medium")
	}
}

func TestDealPatchRecord(t *testing.T) {
	title := "Renewal"
	value := 1200.5
	stage := StageProposal
	due := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	rec := DealPatch{Title: &title, Value: &value, Stage: &stage, DueDate: &due}.Record()

	if rec[FieldTitle] != "Renewal" {
		t.Errorf("expected title, got %v", rec[FieldTitle])
	}
	if rec[FieldAmount] != 1200.5 {
		t.Errorf("expected amount 1200.5, got %v", rec[FieldAmount])
	}
	if rec[FieldStage] != "proposal" {
		t.Errorf("expected stage proposal, got %v", rec[FieldStage])
	}
	if _, ok := rec[FieldNotes]; ok {
		t.Error("unset fields must not appear in the record")
	}
	if (DealPatch{}).IsEmpty() != true {
		t.Error("zero patch should be empty")
	}
}

func TestDealPatchApplyLeavesStage(t *testing.T) {
	notes := "call back Monday"
	stage := StageClosedWon
	deal := Deal{Stage: StageProposal, Notes: "old"}

	DealPatch{Notes: &notes, Stage: &stage}.Apply(&deal)

	if deal.Notes != notes {
		t.Errorf("expected notes %q, got %q", notes, deal.Notes)
	}
	if deal.Stage != StageProposal {
		t.Errorf("Apply must not change stage, got %s", deal.Stage)
	}
}

func TestWeightedValue(t *testing.T) {
	d := Deal{Value: 1000, Probability: 75}
	if d.WeightedValue() != 750 {
		t.Errorf("expected 750, got %v", d.WeightedValue())
	}
}
