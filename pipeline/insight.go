// ABOUTME: AI insight coordination for the selected deal
// ABOUTME: Tracks in-flight analyses per deal and drops results for deselected deals
package pipeline

import (
	"context"
	"errors"
	"fmt"
)

var ErrNoInsightGenerator = errors.New("no insight generator configured")

// GenerateAIInsight analyses a deal. Concurrent calls for the same deal share a
// single generator call. The text is written to AIInsight only if the deal is
// still selected when the call completes; it is always returned to the caller.
func (s *Store) GenerateAIInsight(ctx context.Context, dealID string) (string, error) {
	if s.insights == nil {
		return "", ErrNoInsightGenerator
	}
	deal, ok := s.Deal(dealID)
	if !ok {
		return "", fmt.Errorf("failed to generate insight for deal %s: %w", dealID, ErrDealNotFound)
	}

	s.update(func(st *State) { st.Analyzing[dealID] = true })

	v, err, shared := s.inflight.Do(dealID, func() (interface{}, error) {
		return s.insights.Analyze(ctx, deal)
	})
	if err != nil {
		err = fmt.Errorf("failed to generate insight for deal %s: %w", dealID, err)
		s.fail(err, func(st *State) {
			delete(st.Analyzing, dealID)
			if st.SelectedDeal == dealID {
				st.AIInsight = ""
			}
		})
		return "", err
	}

	text, _ := v.(string)
	s.update(func(st *State) {
		delete(st.Analyzing, dealID)
		if st.SelectedDeal == dealID {
			st.AIInsight = text
			return
		}
		s.logger.Debug("discarding insight for deselected deal", "deal", dealID, "selected", st.SelectedDeal)
	})

	s.logger.Debug("generated insight", "deal", dealID, "shared", shared, "length", len(text))
	return text, nil
}
