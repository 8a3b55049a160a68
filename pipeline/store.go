// ABOUTME: Pipeline store owning the canonical deal board state
// ABOUTME: Orchestrates CRUD against a remote gateway and optimistic stage moves
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deangilmoreremix/update3.0-new-sub002/models"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

var (
	ErrDealNotFound   = errors.New("deal not found")
	ErrUnknownStage   = errors.New("stage has no pipeline column")
	ErrUnknownCommand = errors.New("no failed move with that correlation id")
	ErrStoreClosed    = errors.New("pipeline store is closed")

	ErrHistoryUnsupported = errors.New("backend does not record stage history")
)

// errNoChange aborts a state update without an error.
var errNoChange = errors.New("no change")

// Gateway persists deal records remotely.
type Gateway interface {
	List(ctx context.Context, userID string) ([]models.Record, error)
	Create(ctx context.Context, input models.Record) (models.Record, error)
	Update(ctx context.Context, id string, patch models.Record) (models.Record, error)
	Delete(ctx context.Context, id string) error
	UpdateStage(ctx context.Context, id string, stage models.Stage, updatedAt time.Time) (models.Record, error)
}

// HistoryGateway is implemented by gateways that log stage changes.
type HistoryGateway interface {
	StageHistory(ctx context.Context, dealID string) ([]models.StageChange, error)
}

// InsightGenerator produces free-text analysis of a deal.
type InsightGenerator interface {
	Analyze(ctx context.Context, deal models.Deal) (string, error)
}

// Store owns the pipeline state. All methods are safe for concurrent use.
type Store struct {
	gateway  Gateway
	insights InsightGenerator
	userID   string
	logger   *log.Logger
	now      func() time.Time
	retry    RetryPolicy

	mu    sync.RWMutex
	state State

	inflight singleflight.Group

	queue   chan *MoveCommand
	cmdMu   sync.Mutex
	closed  bool
	failed  map[string]FailedMove
	pending sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithUserID scopes FetchDeals and new deals to a user.
func WithUserID(id string) Option {
	return func(s *Store) { s.userID = id }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Store) { s.retry = p.normalized() }
}

// WithQueueSize sets how many stage updates may wait for persistence before MoveDealToStage blocks.
func WithQueueSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.queue = make(chan *MoveCommand, n)
		}
	}
}

// NewStore creates a store with an empty pipeline and starts its persistence worker.
// Call Close to stop the worker.
func NewStore(gateway Gateway, insights InsightGenerator, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		gateway:  gateway,
		insights: insights,
		logger:   log.New(io.Discard),
		now:      func() time.Time { return time.Now().UTC() },
		retry:    DefaultRetryPolicy(),
		state:    NewState(),
		queue:    make(chan *MoveCommand, 256),
		failed:   make(map[string]FailedMove),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Deal returns one deal from the current state.
func (s *Store) Deal(id string) (models.Deal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.Deals[id]
	return d, ok
}

// update swaps in a modified clone of the state.
func (s *Store) update(fn func(st *State)) {
	_ = s.updateErr(func(st *State) error {
		fn(st)
		return nil
	})
}

// updateErr discards the clone when fn returns an error. errNoChange is swallowed.
func (s *Store) updateErr(fn func(st *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	if err := fn(&next); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	s.state = next
	return nil
}

// fail records a gateway or insight failure on the state and logs it.
func (s *Store) fail(err error, extra func(st *State)) {
	s.logger.Error("pipeline operation failed", "err", err)
	s.update(func(st *State) {
		st.Error = err.Error()
		if extra != nil {
			extra(st)
		}
	})
}

// FetchDeals replaces the pipeline with the gateway's deals for the current user.
// On failure the existing deals and columns are kept.
func (s *Store) FetchDeals(ctx context.Context) error {
	s.update(func(st *State) {
		st.IsLoading = true
		st.Error = ""
	})

	records, err := s.gateway.List(ctx, s.userID)
	if err != nil {
		err = fmt.Errorf("failed to fetch deals: %w", err)
		s.fail(err, func(st *State) { st.IsLoading = false })
		return err
	}

	now := s.now()
	deals := make(map[string]models.Deal, len(records))
	columns := emptyColumns()
	for _, rec := range records {
		d := NormalizeRecord(rec, now)
		if d.ID == "" {
			s.logger.Warn("skipping deal record without id", "title", d.Title)
			continue
		}
		if _, dup := deals[d.ID]; dup {
			s.logger.Warn("skipping duplicate deal record", "id", d.ID)
			continue
		}
		deals[d.ID] = d
		col := columns[d.Stage]
		col.DealIDs = append(col.DealIDs, d.ID)
		columns[d.Stage] = col
	}

	s.update(func(st *State) {
		st.Deals = deals
		st.Columns = columns
		st.recompute()
		st.IsLoading = false
		if _, ok := deals[st.SelectedDeal]; !ok && st.SelectedDeal != "" {
			st.SelectedDeal = ""
			st.AIInsight = ""
		}
	})

	s.logger.Info("fetched deals", "count", len(deals), "user", s.userID)
	return nil
}

// CreateDeal persists a new deal and, once the gateway confirms it, appends it to
// the end of its stage column. Nothing is inserted when the gateway fails.
func (s *Store) CreateDeal(ctx context.Context, patch models.DealPatch) (models.Deal, error) {
	input := patch.Record()
	if _, ok := input[models.FieldStage]; !ok {
		input[models.FieldStage] = string(models.StageQualification)
	}
	if s.userID != "" {
		input[models.FieldUserID] = s.userID
	}

	resp, err := s.gateway.Create(ctx, input)
	if err != nil {
		err = fmt.Errorf("failed to create deal: %w", err)
		s.fail(err, nil)
		return models.Deal{}, err
	}

	d := NormalizeRecord(mergeRecords(input, resp), s.now())
	if d.ID == "" {
		d.ID = uuid.New().String()
		s.logger.Warn("gateway returned no deal id, assigned locally", "id", d.ID)
	}

	s.update(func(st *State) {
		st.removeDeal(d.ID)
		st.insertDeal(d, len(st.Columns[d.Stage].DealIDs))
		st.recompute()
	})

	s.logger.Info("created deal", "id", d.ID, "stage", d.Stage, "value", d.Value)
	return d, nil
}

// UpdateDeal persists a partial update. A stage change moves the deal to the
// top of its new column; other fields are merged in place.
func (s *Store) UpdateDeal(ctx context.Context, id string, patch models.DealPatch) (models.Deal, error) {
	if _, ok := s.Deal(id); !ok {
		return models.Deal{}, fmt.Errorf("failed to update deal %s: %w", id, ErrDealNotFound)
	}
	if patch.Stage != nil && !patch.Stage.HasColumn() {
		return models.Deal{}, fmt.Errorf("failed to update deal %s: %w: %s", id, ErrUnknownStage, *patch.Stage)
	}

	if _, err := s.gateway.Update(ctx, id, patch.Record()); err != nil {
		err = fmt.Errorf("failed to update deal %s: %w", id, err)
		s.fail(err, nil)
		return models.Deal{}, err
	}

	now := s.now()
	var updated models.Deal
	err := s.updateErr(func(st *State) error {
		d, ok := st.Deals[id]
		if !ok {
			return fmt.Errorf("failed to update deal %s: %w", id, ErrDealNotFound)
		}
		patch.Apply(&d)
		d.UpdatedAt = now

		if patch.Stage != nil && *patch.Stage != d.Stage {
			st.removeDeal(id)
			d = transition(d, *patch.Stage, now)
			st.insertDeal(d, 0)
		} else {
			st.Deals[id] = d
		}
		st.recompute()
		updated = d
		return nil
	})
	if err != nil {
		return models.Deal{}, err
	}
	return updated, nil
}

// DeleteDeal removes a deal remotely and then locally. Unknown ids leave the state untouched.
func (s *Store) DeleteDeal(ctx context.Context, id string) error {
	if err := s.gateway.Delete(ctx, id); err != nil {
		err = fmt.Errorf("failed to delete deal %s: %w", id, err)
		s.fail(err, nil)
		return err
	}

	s.update(func(st *State) {
		st.removeDeal(id)
		st.recompute()
		if st.SelectedDeal == id {
			st.SelectedDeal = ""
			st.AIInsight = ""
		}
	})

	// Failed moves of a deleted deal can no longer be undone.
	if dropped := s.forgetMoves(id); len(dropped) > 0 {
		s.update(func(st *State) {
			for _, msg := range dropped {
				if st.Error == msg {
					st.Error = ""
				}
			}
		})
	}
	return nil
}

// StageHistory lists a deal's recorded stage changes, oldest first. The gateway
// must implement HistoryGateway.
func (s *Store) StageHistory(ctx context.Context, id string) ([]models.StageChange, error) {
	hg, ok := s.gateway.(HistoryGateway)
	if !ok {
		return nil, ErrHistoryUnsupported
	}
	if _, ok := s.Deal(id); !ok {
		return nil, fmt.Errorf("failed to load stage history for deal %s: %w", id, ErrDealNotFound)
	}

	changes, err := hg.StageHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load stage history for deal %s: %w", id, err)
	}
	return changes, nil
}

// MoveDealToStage moves a deal into another stage column at index, applying the
// change locally before it is persisted. It returns the correlation id of the
// queued persistence command, or "" when nothing moved.
func (s *Store) MoveDealToStage(dealID string, source, destination models.Stage, index int) (string, error) {
	if source == destination {
		return "", nil
	}
	if !destination.HasColumn() {
		return "", fmt.Errorf("failed to move deal %s: %w: %s", dealID, ErrUnknownStage, destination)
	}
	if s.isClosed() {
		return "", ErrStoreClosed
	}

	now := s.now()
	var cmd *MoveCommand
	err := s.updateErr(func(st *State) error {
		d, ok := st.Deals[dealID]
		if !ok {
			return fmt.Errorf("failed to move deal %s: %w", dealID, ErrDealNotFound)
		}
		if d.Stage == destination {
			return errNoChange
		}
		if d.Stage != source {
			s.logger.Debug("move source does not match deal stage", "deal", dealID, "source", source, "stage", d.Stage)
		}

		from, fromIndex, _ := st.removeDeal(dealID)
		moved := transition(d, destination, now)
		st.insertDeal(moved, index)
		st.recompute()

		cmd = &MoveCommand{
			CorrelationID: newCorrelationID(),
			DealID:        dealID,
			From:          from,
			FromIndex:     fromIndex,
			To:            destination,
			UpdatedAt:     now,
			previous:      d,
		}
		return nil
	})
	if err != nil || cmd == nil {
		return "", err
	}

	s.logger.Debug("moved deal", "deal", dealID, "from", cmd.From, "to", cmd.To, "correlation_id", cmd.CorrelationID)
	if err := s.enqueue(cmd); err != nil {
		return cmd.CorrelationID, err
	}
	return cmd.CorrelationID, nil
}

// transition puts a deal into a new stage with the stage's probability and a fresh day count.
func transition(d models.Deal, stage models.Stage, now time.Time) models.Deal {
	if d.Stage != stage {
		d.DaysInStage = 0
	}
	d.Stage = stage
	d.Probability = stage.Probability()
	d.UpdatedAt = now
	return d
}

// SelectDeal focuses a deal, or clears the focus with "". Any shown insight is dropped.
func (s *Store) SelectDeal(id string) {
	s.update(func(st *State) {
		st.SelectedDeal = id
		st.AIInsight = ""
	})
}

// StaleDeals lists open deals that have sat in their stage longer than threshold days.
func (s *Store) StaleDeals(threshold int) []models.Deal {
	snap := s.Snapshot()
	var out []models.Deal
	for _, d := range snap.Deals {
		if d.Stage.IsClosed() || d.DaysInStage <= threshold {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DaysInStage == out[j].DaysInStage {
			return out[i].ID < out[j].ID
		}
		return out[i].DaysInStage > out[j].DaysInStage
	})
	return out
}

func (s *Store) isClosed() bool {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.closed
}
