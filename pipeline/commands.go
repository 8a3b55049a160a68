// ABOUTME: Persistence queue for optimistic stage moves
// ABOUTME: Retries stage updates with backoff and keeps failed moves undoable
package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/deangilmoreremix/update3.0-new-sub002/models"
	"github.com/oklog/ulid/v2"
)

// MoveCommand is one stage change waiting to be persisted.
type MoveCommand struct {
	CorrelationID string
	DealID        string
	From          models.Stage
	FromIndex     int
	To            models.Stage
	UpdatedAt     time.Time

	// previous is the deal as it was before the move, used by Undo.
	previous models.Deal
}

// FailedMove is a move whose persistence gave up. The local state still shows
// the moved position until Undo is called.
type FailedMove struct {
	Command  MoveCommand
	Attempts int
	Err      error
	FailedAt time.Time
}

// RetryPolicy controls stage update retries. Backoff doubles per attempt up to MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

func newCorrelationID() string {
	return ulid.Make().String()
}

func (s *Store) enqueue(cmd *MoveCommand) error {
	s.cmdMu.Lock()
	if s.closed {
		s.cmdMu.Unlock()
		return ErrStoreClosed
	}
	s.pending.Add(1)
	s.cmdMu.Unlock()

	s.queue <- cmd
	return nil
}

// run persists queued moves one at a time so the gateway sees them in order.
func (s *Store) run() {
	defer close(s.done)
	for cmd := range s.queue {
		s.persist(cmd)
		s.pending.Done()
	}
}

func (s *Store) persist(cmd *MoveCommand) {
	var err error
	attempts := 0

retry:
	for attempts < s.retry.MaxAttempts {
		attempts++
		_, err = s.gateway.UpdateStage(s.ctx, cmd.DealID, cmd.To, cmd.UpdatedAt)
		if err == nil {
			s.logger.Debug("persisted stage change", "deal", cmd.DealID, "stage", cmd.To, "correlation_id", cmd.CorrelationID, "attempts", attempts)
			return
		}
		if s.deletedLocally(cmd.DealID, err) {
			s.logger.Debug("dropping stage change for deleted deal", "deal", cmd.DealID, "correlation_id", cmd.CorrelationID)
			return
		}

		s.logger.Warn("stage update failed", "deal", cmd.DealID, "correlation_id", cmd.CorrelationID, "attempt", attempts, "err", err)
		if attempts == s.retry.MaxAttempts {
			break
		}

		timer := time.NewTimer(s.retry.Backoff(attempts))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			break retry
		case <-timer.C:
		}
	}

	err = fmt.Errorf("failed to persist stage change for deal %s: %w", cmd.DealID, err)
	s.logger.Error("giving up on stage change", "deal", cmd.DealID, "correlation_id", cmd.CorrelationID, "attempts", attempts, "err", err)

	s.cmdMu.Lock()
	s.failed[cmd.CorrelationID] = FailedMove{
		Command:  *cmd,
		Attempts: attempts,
		Err:      err,
		FailedAt: s.now(),
	}
	s.cmdMu.Unlock()

	s.update(func(st *State) { st.Error = err.Error() })
}

// deletedLocally reports whether a stage update failed only because the deal
// was deleted after it was moved.
func (s *Store) deletedLocally(dealID string, err error) bool {
	if !errors.Is(err, ErrDealNotFound) {
		return false
	}
	_, ok := s.Deal(dealID)
	return !ok
}

// FailedMoves lists moves that could not be persisted, oldest first.
func (s *Store) FailedMoves() []FailedMove {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	out := make([]FailedMove, 0, len(s.failed))
	for _, f := range s.failed {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Command.CorrelationID < out[j].Command.CorrelationID
	})
	return out
}

// Undo reverts a failed move locally and queues the compensating stage update.
// If the deal has since been moved or deleted the failure is dropped and nothing changes.
func (s *Store) Undo(correlationID string) error {
	s.cmdMu.Lock()
	f, ok := s.failed[correlationID]
	if ok {
		delete(s.failed, correlationID)
	}
	s.cmdMu.Unlock()
	if !ok {
		return fmt.Errorf("failed to undo %s: %w", correlationID, ErrUnknownCommand)
	}

	now := s.now()
	var revert *MoveCommand
	err := s.updateErr(func(st *State) error {
		d, ok := st.Deals[f.Command.DealID]
		if !ok || d.Stage != f.Command.To {
			return errNoChange
		}

		_, idx, _ := st.removeDeal(d.ID)
		prev := f.Command.previous
		restored := d
		restored.Stage = prev.Stage
		restored.Probability = prev.Probability
		restored.DaysInStage = prev.DaysInStage
		restored.UpdatedAt = now
		st.insertDeal(restored, f.Command.FromIndex)
		st.recompute()

		if st.Error == f.Err.Error() {
			st.Error = ""
		}

		revert = &MoveCommand{
			CorrelationID: newCorrelationID(),
			DealID:        d.ID,
			From:          d.Stage,
			FromIndex:     idx,
			To:            restored.Stage,
			UpdatedAt:     now,
			previous:      d,
		}
		return nil
	})
	if err != nil {
		return err
	}
	if revert == nil {
		s.logger.Info("nothing to undo, deal has moved on", "deal", f.Command.DealID, "correlation_id", correlationID)
		return nil
	}

	s.logger.Info("reverted failed move", "deal", revert.DealID, "stage", revert.To, "correlation_id", correlationID)
	return s.enqueue(revert)
}

// forgetMoves drops failed moves of a deal and returns their error messages.
func (s *Store) forgetMoves(dealID string) []string {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	var msgs []string
	for id, f := range s.failed {
		if f.Command.DealID == dealID {
			msgs = append(msgs, f.Err.Error())
			delete(s.failed, id)
		}
	}
	return msgs
}

// Wait blocks until every queued stage update has been persisted or given up.
func (s *Store) Wait() {
	s.pending.Wait()
}

// Close stops accepting moves, abandons pending retries and stops the worker.
func (s *Store) Close() error {
	s.cmdMu.Lock()
	if s.closed {
		s.cmdMu.Unlock()
		return nil
	}
	s.closed = true
	s.cmdMu.Unlock()

	s.cancel()
	s.pending.Wait()
	close(s.queue)
	<-s.done
	return nil
}
