// ABOUTME: Data models for the sales pipeline
// ABOUTME: Defines Deal, Stage, Column, DealPatch and the gateway Record shape
package models

import (
	"time"
)

// Stage identifies one phase of the sales pipeline.
type Stage string

const (
	StageInitial       Stage = "initial"
	StageQualification Stage = "qualification"
	StageProposal      Stage = "proposal"
	StageNegotiation   Stage = "negotiation"
	StageClosedWon     Stage = "closed-won"
	StageClosedLost    Stage = "closed-lost"
)

// Priority constants.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

const (
	// DefaultCurrency is applied when a record carries no currency.
	DefaultCurrency = "USD"

	// UnknownContactID marks a deal whose contact could not be resolved.
	UnknownContactID = "unknown"
)

// pipelineStages is the fixed left-to-right column order.
var pipelineStages = []Stage{
	StageQualification,
	StageProposal,
	StageNegotiation,
	StageClosedWon,
	StageClosedLost,
}

var stageProbability = map[Stage]int{
	StageQualification: 10,
	StageInitial:       25,
	StageProposal:      50,
	StageNegotiation:   75,
	StageClosedWon:     100,
	StageClosedLost:    0,
}

var stageTitles = map[Stage]string{
	StageInitial:       "Initial",
	StageQualification: "Qualification",
	StageProposal:      "Proposal",
	StageNegotiation:   "Negotiation",
	StageClosedWon:     "Closed Won",
	StageClosedLost:    "Closed Lost",
}

// PipelineStages returns the stages that own a column, in display order.
func PipelineStages() []Stage {
	out := make([]Stage, len(pipelineStages))
	copy(out, pipelineStages)
	return out
}

// ParseStage resolves a stage name from the full taxonomy.
// Underscore spellings (closed_won) are accepted.
func ParseStage(s string) (Stage, bool) {
	stage := Stage(s)
	switch s {
	case "closed_won":
		stage = StageClosedWon
	case "closed_lost":
		stage = StageClosedLost
	}
	_, ok := stageProbability[stage]
	return stage, ok
}

// HasColumn reports whether the stage is one of the pipeline columns.
func (s Stage) HasColumn() bool {
	for _, st := range pipelineStages {
		if st == s {
			return true
		}
	}
	return false
}

// IsClosed reports whether the stage ends the deal.
func (s Stage) IsClosed() bool {
	return s == StageClosedWon || s == StageClosedLost
}

// Probability returns the win probability implied by the stage.
func (s Stage) Probability() int {
	return stageProbability[s]
}

// Title returns the display title for the stage.
func (s Stage) Title() string {
	if t, ok := stageTitles[s]; ok {
		return t
	}
	return string(s)
}

// ParsePriority returns the priority, defaulting to medium.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityLow, PriorityHigh:
		return Priority(s)
	}
	return PriorityMedium
}

type Deal struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Value       float64    `json:"value"`
	Currency    string     `json:"currency"`
	Stage       Stage      `json:"stage"`
	Company     string     `json:"company"`
	Contact     string     `json:"contact"`
	ContactID   string     `json:"contact_id"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Probability int        `json:"probability"`
	DaysInStage int        `json:"days_in_stage"`
	Priority    Priority   `json:"priority"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	UserID      string     `json:"user_id"`
}

// WeightedValue is the deal value scaled by its win probability.
func (d Deal) WeightedValue() float64 {
	return d.Value * float64(d.Probability) / 100
}

// Column is one stage's ordered bucket of deal ids.
type Column struct {
	ID      Stage    `json:"id"`
	Title   string   `json:"title"`
	DealIDs []string `json:"deal_ids"`
}

// StageChange is one entry in a deal's stage history.
type StageChange struct {
	ID        string    `json:"id"`
	DealID    string    `json:"deal_id"`
	From      Stage     `json:"from"`
	To        Stage     `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}

// Record is a deal as exchanged with a remote gateway, keyed by external field names.
type Record map[string]interface{}

// Record field keys.
const (
	FieldID          = "id"
	FieldTitle       = "title"
	FieldAmount      = "amount"
	FieldValue       = "value"
	FieldCurrency    = "currency"
	FieldStage       = "stage"
	FieldCompany     = "company"
	FieldContact     = "contact"
	FieldContactID   = "contact_id"
	FieldDueDate     = "due_date"
	FieldProbability = "probability"
	FieldDaysInStage = "days_in_stage"
	FieldPriority    = "priority"
	FieldNotes       = "notes"
	FieldCreatedAt   = "created_at"
	FieldUpdatedAt   = "updated_at"
	FieldUserID      = "user_id"
)

// DealPatch is a partial deal. Nil fields are left untouched.
type DealPatch struct {
	Title       *string
	Value       *float64
	Currency    *string
	Stage       *Stage
	Company     *string
	Contact     *string
	ContactID   *string
	DueDate     *time.Time
	Probability *int
	Priority    *Priority
	Notes       *string
}

// IsEmpty reports whether the patch sets no field.
func (p DealPatch) IsEmpty() bool {
	return len(p.Record()) == 0
}

// Record converts the patch to gateway field names.
func (p DealPatch) Record() Record {
	rec := Record{}
	if p.Title != nil {
		rec[FieldTitle] = *p.Title
	}
	if p.Value != nil {
		rec[FieldAmount] = *p.Value
	}
	if p.Currency != nil {
		rec[FieldCurrency] = *p.Currency
	}
	if p.Stage != nil {
		rec[FieldStage] = string(*p.Stage)
	}
	if p.Company != nil {
		rec[FieldCompany] = *p.Company
	}
	if p.Contact != nil {
		rec[FieldContact] = *p.Contact
	}
	if p.ContactID != nil {
		rec[FieldContactID] = *p.ContactID
	}
	if p.DueDate != nil {
		rec[FieldDueDate] = *p.DueDate
	}
	if p.Probability != nil {
		rec[FieldProbability] = *p.Probability
	}
	if p.Priority != nil {
		rec[FieldPriority] = string(*p.Priority)
	}
	if p.Notes != nil {
		rec[FieldNotes] = *p.Notes
	}
	return rec
}

// Apply merges every non-stage field of the patch into the deal.
// Stage changes go through the pipeline so column membership stays consistent.
func (p DealPatch) Apply(d *Deal) {
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Value != nil {
		d.Value = *p.Value
	}
	if p.Currency != nil {
		d.Currency = *p.Currency
	}
	if p.Company != nil {
		d.Company = *p.Company
	}
	if p.Contact != nil {
		d.Contact = *p.Contact
	}
	if p.ContactID != nil {
		d.ContactID = *p.ContactID
	}
	if p.DueDate != nil {
		due := *p.DueDate
		d.DueDate = &due
	}
	if p.Probability != nil {
		d.Probability = *p.Probability
	}
	if p.Priority != nil {
		d.Priority = *p.Priority
	}
	if p.Notes != nil {
		d.Notes = *p.Notes
	}
}
