// ABOUTME: Deterministic local deal analysis
// ABOUTME: Scores stage, age, due date, priority and value into a short recommendation

package insight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deangilmoreremix/update3.0-new-sub002/models"
)

const (
	// StaleDays is how long a deal may sit in one stage before it is flagged.
	StaleDays = 14

	// LargeDealValue marks deals big enough to call out.
	LargeDealValue = 50000.0
)

// RuleBased analyzes deals without any network calls.
type RuleBased struct {
	Now func() time.Time
}

func NewRuleBased() *RuleBased {
	return &RuleBased{Now: time.Now}
}

func (r *RuleBased) Analyze(ctx context.Context, deal models.Deal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("%s is in %s with a %d%% win probability (weighted value %s %.2f).",
		deal.Title, deal.Stage.Title(), deal.Probability, deal.Currency, deal.WeightedValue()))

	if deal.Stage.IsClosed() {
		if deal.Stage == models.StageClosedWon {
			lines = append(lines, "Deal is won. Hand off to onboarding and ask for a referral.")
		} else {
			lines = append(lines, "Deal is lost. Record the loss reason and schedule a check-in next quarter.")
		}
		return strings.Join(lines, "\n"), nil
	}

	risks := 0
	if deal.DaysInStage >= StaleDays {
		risks++
		lines = append(lines, fmt.Sprintf("Risk: %d days in %s with no movement.", deal.DaysInStage, deal.Stage.Title()))
	}
	if deal.DueDate != nil {
		days := int(deal.DueDate.Sub(now()).Hours() / 24)
		switch {
		case days < 0:
			risks++
			lines = append(lines, fmt.Sprintf("Risk: close date passed %d days ago.", -days))
		case days <= 7:
			lines = append(lines, fmt.Sprintf("Close date is in %d days.", days))
		}
	}
	if deal.ContactID == "" || deal.ContactID == models.UnknownContactID {
		risks++
		lines = append(lines, "Risk: no contact is linked to this deal.")
	}
	if deal.Value >= LargeDealValue && deal.Priority != models.PriorityHigh {
		lines = append(lines, "Large deal not marked high priority; consider raising it.")
	}

	lines = append(lines, "Next step: "+nextStep(deal.Stage))
	if risks == 0 {
		lines = append(lines, "Outlook: on track.")
	} else {
		lines = append(lines, fmt.Sprintf("Outlook: %d risk(s) need attention.", risks))
	}

	return strings.Join(lines, "\n"), nil
}

func nextStep(stage models.Stage) string {
	switch stage {
	case models.StageQualification:
		return "confirm budget, authority and timeline with the buyer."
	case models.StageProposal:
		return "walk the buyer through the proposal and collect objections."
	case models.StageNegotiation:
		return "agree on terms and get the contract in front of the signer."
	default:
		return "review the deal."
	}
}
