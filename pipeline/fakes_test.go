// ABOUTME: In-memory fakes for the deal gateway and insight generator
// ABOUTME: Shared fixtures for pipeline store tests
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deangilmoreremix/update3.0-new-sub002/models"
	"github.com/stretchr/testify/require"
)

var errRemote = errors.New("remote unavailable")

type stageCall struct {
	ID    string
	Stage models.Stage
}

type fakeGateway struct {
	mu      sync.Mutex
	records map[string]models.Record
	order   []string
	nextID  int

	listErr   error
	createErr error
	updateErr error
	deleteErr error

	// stageFailures makes the next N UpdateStage calls fail.
	stageFailures int
	stageCalls    []stageCall
	omitCreateID  bool

	// stageGate, when set, holds UpdateStage until it is closed.
	stageGate chan struct{}
}

func newFakeGateway(records ...models.Record) *fakeGateway {
	g := &fakeGateway{records: map[string]models.Record{}}
	for _, r := range records {
		id := r[models.FieldID].(string)
		g.records[id] = r
		g.order = append(g.order, id)
	}
	return g
}

func (g *fakeGateway) List(_ context.Context, userID string) ([]models.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	var out []models.Record
	for _, id := range g.order {
		rec, ok := g.records[id]
		if !ok {
			continue
		}
		if owner, _ := rec[models.FieldUserID].(string); userID != "" && owner != "" && owner != userID {
			continue
		}
		cp := models.Record{}
		for k, v := range rec {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out, nil
}

func (g *fakeGateway) Create(_ context.Context, input models.Record) (models.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextID++
	rec := models.Record{}
	for k, v := range input {
		rec[k] = v
	}
	if g.omitCreateID {
		return rec, nil
	}
	id := fmt.Sprintf("created-%d", g.nextID)
	rec[models.FieldID] = id
	rec[models.FieldCreatedAt] = "2026-03-01T10:00:00Z"
	g.records[id] = rec
	g.order = append(g.order, id)
	return rec, nil
}

func (g *fakeGateway) Update(_ context.Context, id string, patch models.Record) (models.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.updateErr != nil {
		return nil, g.updateErr
	}
	rec, ok := g.records[id]
	if !ok {
		return nil, ErrDealNotFound
	}
	for k, v := range patch {
		rec[k] = v
	}
	return rec, nil
}

func (g *fakeGateway) Delete(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	delete(g.records, id)
	return nil
}

func (g *fakeGateway) UpdateStage(_ context.Context, id string, stage models.Stage, updatedAt time.Time) (models.Record, error) {
	g.mu.Lock()
	gate := g.stageGate
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.stageCalls = append(g.stageCalls, stageCall{ID: id, Stage: stage})
	if g.stageFailures > 0 {
		g.stageFailures--
		return nil, errRemote
	}
	rec, ok := g.records[id]
	if !ok {
		return nil, ErrDealNotFound
	}
	rec[models.FieldStage] = string(stage)
	rec[models.FieldUpdatedAt] = updatedAt
	return rec, nil
}

func (g *fakeGateway) calls() []stageCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]stageCall(nil), g.stageCalls...)
}

func (g *fakeGateway) holdStageUpdates() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stageGate = make(chan struct{})
	return g.stageGate
}

// historyGateway adds a canned stage log to fakeGateway.
type historyGateway struct {
	*fakeGateway
	history map[string][]models.StageChange
	err     error
}

func (g *historyGateway) StageHistory(_ context.Context, dealID string) ([]models.StageChange, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.history[dealID], nil
}

func (g *fakeGateway) setStageFailures(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stageFailures = n
}

type fakeInsights struct {
	mu      sync.Mutex
	text    string
	err     error
	calls   int
	release chan struct{}
	started chan struct{}
}

func (f *fakeInsights) Analyze(ctx context.Context, deal models.Deal) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text + " " + deal.Title, nil
}

func (f *fakeInsights) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func dealRecord(id, title string, value float64, stage models.Stage) models.Record {
	return models.Record{
		models.FieldID:          id,
		models.FieldTitle:       title,
		models.FieldAmount:      value,
		models.FieldStage:       string(stage),
		models.FieldCompany:     "Acme Corp",
		models.FieldContact:     "Jane Doe",
		models.FieldDaysInStage: 5,
		models.FieldCreatedAt:   "2026-01-10T09:00:00Z",
		models.FieldUpdatedAt:   "2026-01-11T09:00:00Z",
	}
}

// scenarioGateway holds deal-1 (75000, qualification) and deal-2 (45000, proposal).
func scenarioGateway() *fakeGateway {
	return newFakeGateway(
		dealRecord("deal-1", "Enterprise License", 75000, models.StageQualification),
		dealRecord("deal-2", "Support Contract", 45000, models.StageProposal),
	)
}

func newTestStore(t *testing.T, gw Gateway, insights InsightGenerator, opts ...Option) *Store {
	t.Helper()
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}),
	}
	s := NewStore(gw, insights, append(base, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fetchedStore(t *testing.T, gw *fakeGateway, insights InsightGenerator, opts ...Option) *Store {
	t.Helper()
	s := newTestStore(t, gw, insights, opts...)
	require.NoError(t, s.FetchDeals(context.Background()))
	return s
}
