// ABOUTME: Tests for the optimistic move persistence queue
// ABOUTME: Covers retries, failure recording, undo and shutdown
package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/deangilmoreremix/update3.0-new-sub002/models"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
	assert.Equal(t, time.Second, p.Backoff(5))
}

func TestRetryPolicyNormalized(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 0, InitialBackoff: time.Second, MaxBackoff: time.Millisecond}.normalized()
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, time.Second, p.MaxBackoff)
}

func TestMoveRetriesUntilPersisted(t *testing.T) {
	gw := scenarioGateway()
	store := fetchedStore(t, gw, nil)
	gw.setStageFailures(2)

	id, err := store.MoveDealToStage("deal-1", models.StageQualification, models.StageNegotiation, 0)
	require.NoError(t, err)
	_, err = ulid.Parse(id)
	require.NoError(t, err, "correlation id should be a ULID")

	store.Wait()

	assert.Len(t, gw.calls(), 3)
	assert.Empty(t, store.FailedMoves())
	assert.Empty(t, store.Snapshot().Error)
	assert.Equal(t, "negotiation", gw.records["deal-1"][models.FieldStage])
}

func TestMoveFailureKeepsOptimisticStateAndCanUndo(t *testing.T) {
	gw := scenarioGateway()
	store := fetchedStore(t, gw, nil)
	gw.setStageFailures(3)

	id, err := store.MoveDealToStage("deal-1", models.StageQualification, models.StageProposal, 0)
	require.NoError(t, err)
	store.Wait()

	failed := store.FailedMoves()
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].Command.CorrelationID)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.ErrorIs(t, failed[0].Err, errRemote)

	st := store.Snapshot()
	assert.Equal(t, models.StageProposal, st.Deals["deal-1"].Stage, "failed moves are not rolled back automatically")
	assert.Contains(t, st.Error, "failed to persist stage change")

	require.NoError(t, store.Undo(id))
	store.Wait()

	st = store.Snapshot()
	require.NoError(t, st.Validate())
	d := st.Deals["deal-1"]
	assert.Equal(t, models.StageQualification, d.Stage)
	assert.Equal(t, 10, d.Probability)
	assert.Equal(t, 5, d.DaysInStage)
	assert.Equal(t, []string{"deal-1"}, st.Columns[models.StageQualification].DealIDs)
	assert.Equal(t, []string{"deal-2"}, st.Columns[models.StageProposal].DealIDs)
	assert.Empty(t, st.Error)
	assert.Empty(t, store.FailedMoves())

	calls := gw.calls()
	assert.Equal(t, stageCall{ID: "deal-1", Stage: models.StageQualification}, calls[len(calls)-1])
}

func TestUndoUnknownCorrelationID(t *testing.T) {
	store := fetchedStore(t, scenarioGateway(), nil)
	assert.ErrorIs(t, store.Undo("01HZZZZZZZZZZZZZZZZZZZZZZZ"), ErrUnknownCommand)
}

func TestUndoAfterDealMovedOnChangesNothing(t *testing.T) {
	gw := scenarioGateway()
	store := fetchedStore(t, gw, nil)
	gw.setStageFailures(3)

	id, err := store.MoveDealToStage("deal-1", models.StageQualification, models.StageProposal, 0)
	require.NoError(t, err)
	store.Wait()

	_, err = store.MoveDealToStage("deal-1", models.StageProposal, models.StageClosedWon, 0)
	require.NoError(t, err)
	store.Wait()

	require.NoError(t, store.Undo(id))
	d, _ := store.Deal("deal-1")
	assert.Equal(t, models.StageClosedWon, d.Stage)
	assert.Empty(t, store.FailedMoves())
}

func TestMovesPersistInOrder(t *testing.T) {
	gw := scenarioGateway()
	store := fetchedStore(t, gw, nil)

	for _, stage := range []models.Stage{models.StageProposal, models.StageNegotiation, models.StageClosedWon} {
		d, _ := store.Deal("deal-1")
		_, err := store.MoveDealToStage("deal-1", d.Stage, stage, 0)
		require.NoError(t, err)
	}
	store.Wait()

	assert.Equal(t, []stageCall{
		{ID: "deal-1", Stage: models.StageProposal},
		{ID: "deal-1", Stage: models.StageNegotiation},
		{ID: "deal-1", Stage: models.StageClosedWon},
	}, gw.calls())
}

func TestClosedStoreRejectsMoves(t *testing.T) {
	store := fetchedStore(t, scenarioGateway(), nil)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.MoveDealToStage("deal-1", models.StageQualification, models.StageProposal, 0)
	assert.ErrorIs(t, err, ErrStoreClosed)
	d, _ := store.Deal("deal-1")
	assert.Equal(t, models.StageQualification, d.Stage)
}

func TestMoveThenDeleteSettlesQuietly(t *testing.T) {
	gw := scenarioGateway()
	store := fetchedStore(t, gw, nil)
	release := gw.holdStageUpdates()

	_, err := store.MoveDealToStage("deal-2", models.StageProposal, models.StageNegotiation, 0)
	require.NoError(t, err)
	require.NoError(t, store.DeleteDeal(context.Background(), "deal-2"))

	close(release)
	store.Wait()

	assert.Len(t, gw.calls(), 1, "a deleted deal is not retried")
	assert.Empty(t, store.FailedMoves())
	st := store.Snapshot()
	assert.Empty(t, st.Error)
	require.NoError(t, st.Validate())
}

func TestDeleteDropsFailedMovesOfDeal(t *testing.T) {
	gw := scenarioGateway()
	store := fetchedStore(t, gw, nil)
	gw.setStageFailures(3)

	id, err := store.MoveDealToStage("deal-1", models.StageQualification, models.StageProposal, 0)
	require.NoError(t, err)
	store.Wait()
	require.Len(t, store.FailedMoves(), 1)

	require.NoError(t, store.DeleteDeal(context.Background(), "deal-1"))

	assert.Empty(t, store.FailedMoves())
	assert.Empty(t, store.Snapshot().Error)
	assert.ErrorIs(t, store.Undo(id), ErrUnknownCommand)
}
