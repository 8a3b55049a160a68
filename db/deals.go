// ABOUTME: Deal gateway backed by SQLite
// ABOUTME: Persists pipeline deal records and logs every stage change
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deangilmoreremix/update3.0-new-sub002/models"
	"github.com/deangilmoreremix/update3.0-new-sub002/pipeline"
	"github.com/google/uuid"
)

// ErrDealNotFound is the store's sentinel, so errors.Is works across the gateway boundary.
var ErrDealNotFound = pipeline.ErrDealNotFound

const dealColumns = `id, user_id, title, amount, currency, stage, company, contact, contact_id, due_date, probability, days_in_stage, priority, notes, created_at, updated_at`

// DealGateway implements pipeline.Gateway over a SQLite database.
type DealGateway struct {
	db *sql.DB
}

var _ pipeline.HistoryGateway = (*DealGateway)(nil)

func NewDealGateway(database *sql.DB) *DealGateway {
	return &DealGateway{db: database}
}

func (g *DealGateway) List(ctx context.Context, userID string) ([]models.Record, error) {
	var rows *sql.Rows
	var err error

	if userID != "" {
		rows, err = g.db.QueryContext(ctx, `
			SELECT `+dealColumns+`
			FROM deals
			WHERE user_id = ?
			ORDER BY created_at ASC, id ASC
		`, userID)
	} else {
		rows, err = g.db.QueryContext(ctx, `
			SELECT `+dealColumns+`
			FROM deals
			ORDER BY created_at ASC, id ASC
		`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		rec, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Get returns the deal record, or nil if it does not exist.
func (g *DealGateway) Get(ctx context.Context, id string) (models.Record, error) {
	row := g.db.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = ?`, id)
	rec, err := scanDeal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (g *DealGateway) Create(ctx context.Context, input models.Record) (models.Record, error) {
	now := time.Now().UTC()
	deal := pipeline.NormalizeRecord(input, now)
	if deal.ID == "" {
		deal.ID = uuid.New().String()
	}
	if _, ok := input[models.FieldProbability]; !ok {
		deal.Probability = deal.Stage.Probability()
	}

	if err := g.insert(ctx, deal); err != nil {
		return nil, fmt.Errorf("failed to insert deal: %w", err)
	}
	return pipeline.DealRecord(deal), nil
}

func (g *DealGateway) Update(ctx context.Context, id string, patch models.Record) (models.Record, error) {
	current, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrDealNotFound
	}

	merged := models.Record{}
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	merged[models.FieldID] = id
	merged[models.FieldUpdatedAt] = time.Now().UTC()

	deal := pipeline.NormalizeRecord(merged, time.Now().UTC())
	prevStage, _ := models.ParseStage(fmt.Sprint(current[models.FieldStage]))
	stageChanged := deal.Stage != prevStage
	if stageChanged {
		deal.Probability = deal.Stage.Probability()
		deal.DaysInStage = 0
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := updateRow(ctx, tx, deal); err != nil {
		return nil, fmt.Errorf("failed to update deal: %w", err)
	}
	if stageChanged {
		if err := logStageChange(ctx, tx, id, prevStage, deal.Stage, deal.UpdatedAt); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return pipeline.DealRecord(deal), nil
}

// Delete removes the deal and its stage history. Unknown ids are not an error.
func (g *DealGateway) Delete(ctx context.Context, id string) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM deals WHERE id = ?`, id)
	return err
}

// UpdateStage moves a deal to a new stage, resetting its day count and
// probability, and records the change in the stage history.
func (g *DealGateway) UpdateStage(ctx context.Context, id string, stage models.Stage, updatedAt time.Time) (models.Record, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT stage FROM deals WHERE id = ?`, id).Scan(&prev)
	if err == sql.ErrNoRows {
		return nil, ErrDealNotFound
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE deals
		SET stage = ?, probability = ?, days_in_stage = CASE WHEN stage = ? THEN days_in_stage ELSE 0 END, updated_at = ?
		WHERE id = ?
	`, string(stage), stage.Probability(), string(stage), updatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update stage: %w", err)
	}

	if models.Stage(prev) != stage {
		if err := logStageChange(ctx, tx, id, models.Stage(prev), stage, updatedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return g.Get(ctx, id)
}

// StageHistory returns a deal's stage changes, oldest first.
func (g *DealGateway) StageHistory(ctx context.Context, dealID string) ([]models.StageChange, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, deal_id, from_stage, to_stage, changed_at
		FROM deal_stage_history
		WHERE deal_id = ?
		ORDER BY changed_at ASC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []models.StageChange
	for rows.Next() {
		var c models.StageChange
		var from sql.NullString
		var to string
		if err := rows.Scan(&c.ID, &c.DealID, &from, &to, &c.ChangedAt); err != nil {
			return nil, err
		}
		c.From = models.Stage(from.String)
		c.To = models.Stage(to)
		changes = append(changes, c)
	}

	return changes, rows.Err()
}

func (g *DealGateway) insert(ctx context.Context, d models.Deal) error {
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO deals (`+dealColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.UserID, d.Title, d.Value, d.Currency, string(d.Stage), d.Company, d.Contact, d.ContactID,
		d.DueDate, d.Probability, d.DaysInStage, string(d.Priority), d.Notes, d.CreatedAt, d.UpdatedAt)
	return err
}

func updateRow(ctx context.Context, tx *sql.Tx, d models.Deal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE deals
		SET title = ?, amount = ?, currency = ?, stage = ?, company = ?, contact = ?, contact_id = ?,
			due_date = ?, probability = ?, days_in_stage = ?, priority = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`, d.Title, d.Value, d.Currency, string(d.Stage), d.Company, d.Contact, d.ContactID,
		d.DueDate, d.Probability, d.DaysInStage, string(d.Priority), d.Notes, d.UpdatedAt, d.ID)
	return err
}

func logStageChange(ctx context.Context, tx *sql.Tx, dealID string, from, to models.Stage, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deal_stage_history (id, deal_id, from_stage, to_stage, changed_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), dealID, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("failed to log stage change: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeal(row rowScanner) (models.Record, error) {
	var (
		id, userID, title, currency, stage, priority string
		company, contact, contactID, notes           sql.NullString
		amount                                       float64
		dueDate                                      sql.NullTime
		probability, daysInStage                     int
		createdAt, updatedAt                         time.Time
	)

	err := row.Scan(&id, &userID, &title, &amount, &currency, &stage, &company, &contact, &contactID,
		&dueDate, &probability, &daysInStage, &priority, &notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec := models.Record{
		models.FieldID:          id,
		models.FieldUserID:      userID,
		models.FieldTitle:       title,
		models.FieldAmount:      amount,
		models.FieldCurrency:    currency,
		models.FieldStage:       stage,
		models.FieldCompany:     company.String,
		models.FieldContact:     contact.String,
		models.FieldProbability: probability,
		models.FieldDaysInStage: daysInStage,
		models.FieldPriority:    priority,
		models.FieldNotes:       notes.String,
		models.FieldCreatedAt:   createdAt,
		models.FieldUpdatedAt:   updatedAt,
	}
	if contactID.Valid && contactID.String != "" {
		rec[models.FieldContactID] = contactID.String
	}
	if dueDate.Valid {
		rec[models.FieldDueDate] = dueDate.Time
	}

	return rec, nil
}
