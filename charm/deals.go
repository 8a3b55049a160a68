// ABOUTME: Deal gateway backed by charm KV
// ABOUTME: Stores each deal as JSON under deal:<id> and keeps a ULID-keyed stage log

package charm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deangilmoreremix/update3.0-new-sub002/models"
	"github.com/deangilmoreremix/update3.0-new-sub002/pipeline"
	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	dealPrefix    = "deal:"
	historyPrefix = "stagelog:"
)

// ErrDealNotFound is the store's sentinel, so errors.Is works across the gateway boundary.
var ErrDealNotFound = pipeline.ErrDealNotFound

// DealGateway implements pipeline.Gateway on top of a charm client.
type DealGateway struct {
	client *Client
	now    func() time.Time

	// mu guards read-modify-write cycles on a single deal key.
	mu sync.Mutex
}

var _ pipeline.HistoryGateway = (*DealGateway)(nil)

func NewDealGateway(c *Client) *DealGateway {
	return &DealGateway{client: c, now: func() time.Time { return time.Now().UTC() }}
}

func dealKey(id string) []byte {
	return []byte(dealPrefix + id)
}

func (g *DealGateway) List(ctx context.Context, userID string) ([]models.Record, error) {
	keys, err := g.client.KeysWithPrefix([]byte(dealPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list deal keys: %w", err)
	}

	var deals []models.Deal
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := g.load(strings.TrimPrefix(string(key), dealPrefix))
		if errors.Is(err, ErrDealNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if userID != "" && d.UserID != userID {
			continue
		}
		deals = append(deals, d)
	}

	sort.SliceStable(deals, func(i, j int) bool {
		if !deals[i].CreatedAt.Equal(deals[j].CreatedAt) {
			return deals[i].CreatedAt.Before(deals[j].CreatedAt)
		}
		return deals[i].ID < deals[j].ID
	})

	records := make([]models.Record, 0, len(deals))
	for _, d := range deals {
		records = append(records, pipeline.DealRecord(d))
	}
	return records, nil
}

func (g *DealGateway) Create(ctx context.Context, input models.Record) (models.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	d := pipeline.NormalizeRecord(input, now)
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	if err := g.save(d); err != nil {
		return nil, err
	}
	return pipeline.DealRecord(d), nil
}

func (g *DealGateway) Update(ctx context.Context, id string, patch models.Record) (models.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, err := g.load(id)
	if err != nil {
		return nil, err
	}

	merged := pipeline.DealRecord(current)
	for k, v := range patch {
		merged[k] = v
	}
	merged[models.FieldID] = id

	now := g.now()
	d := pipeline.NormalizeRecord(merged, now)
	d.UpdatedAt = now
	stageChanged := d.Stage != current.Stage
	if stageChanged {
		d.Probability = d.Stage.Probability()
		d.DaysInStage = 0
	}

	if err := g.save(d); err != nil {
		return nil, err
	}
	if stageChanged {
		if err := g.logStageChange(id, current.Stage, d.Stage, now); err != nil {
			return nil, err
		}
	}
	return pipeline.DealRecord(d), nil
}

// Delete removes a deal and its stage log. Unknown ids are not an error.
func (g *DealGateway) Delete(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	logKeys, err := g.client.KeysWithPrefix([]byte(historyPrefix + id + ":"))
	if err != nil {
		return err
	}
	for _, key := range logKeys {
		if err := g.client.Delete(key); err != nil {
			return fmt.Errorf("failed to delete stage log: %w", err)
		}
	}

	if err := g.client.Delete(dealKey(id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete deal: %w", err)
	}
	return nil
}

// UpdateStage moves a deal to stage, resetting its day count and probability.
func (g *DealGateway) UpdateStage(ctx context.Context, id string, stage models.Stage, updatedAt time.Time) (models.Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	d, err := g.load(id)
	if err != nil {
		return nil, err
	}

	from := d.Stage
	if from != stage {
		d.DaysInStage = 0
	}
	d.Stage = stage
	d.Probability = stage.Probability()
	d.UpdatedAt = updatedAt

	if err := g.save(d); err != nil {
		return nil, err
	}
	if from != stage {
		if err := g.logStageChange(id, from, stage, updatedAt); err != nil {
			return nil, err
		}
	}
	return pipeline.DealRecord(d), nil
}

// StageHistory returns a deal's stage changes, oldest first.
// Stage log entries are written only after the deal itself was saved.
func (g *DealGateway) StageHistory(ctx context.Context, dealID string) ([]models.StageChange, error) {
	keys, err := g.client.KeysWithPrefix([]byte(historyPrefix + dealID + ":"))
	if err != nil {
		return nil, err
	}
	// ULID suffixes sort chronologically.
	sort.Slice(keys, func(i, j int) bool { return string(keys[i]) < string(keys[j]) })

	changes := make([]models.StageChange, 0, len(keys))
	for _, key := range keys {
		data, err := g.client.Get(key)
		if err != nil {
			return nil, fmt.Errorf("failed to read stage log: %w", err)
		}
		var c models.StageChange
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("failed to decode stage log: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func (g *DealGateway) load(id string) (models.Deal, error) {
	data, err := g.client.Get(dealKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Deal{}, ErrDealNotFound
	}
	if err != nil {
		return models.Deal{}, fmt.Errorf("failed to read deal: %w", err)
	}

	var d models.Deal
	if err := json.Unmarshal(data, &d); err != nil {
		return models.Deal{}, fmt.Errorf("failed to decode deal %s: %w", id, err)
	}
	return d, nil
}

func (g *DealGateway) save(d models.Deal) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode deal: %w", err)
	}
	if err := g.client.Set(dealKey(d.ID), data); err != nil {
		return fmt.Errorf("failed to store deal: %w", err)
	}
	return nil
}

func (g *DealGateway) logStageChange(id string, from, to models.Stage, at time.Time) error {
	entryID := ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
	data, err := json.Marshal(models.StageChange{ID: entryID, DealID: id, From: from, To: to, ChangedAt: at})
	if err != nil {
		return err
	}
	key := historyPrefix + id + ":" + entryID
	if err := g.client.Set([]byte(key), data); err != nil {
		return fmt.Errorf("failed to log stage change: %w", err)
	}
	return nil
}
