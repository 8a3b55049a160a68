// ABOUTME: Conversion of gateway records into pipeline deals
// ABOUTME: Coerces loosely typed fields and applies defaults instead of failing
package pipeline

import (
	"time"

	"github.com/deangilmoreremix/update3.0-new-sub002/models"
	"github.com/spf13/cast"
)

// NormalizeRecord builds a Deal from a gateway record. Missing or malformed
// fields fall back to defaults; stages without a column land in qualification.
func NormalizeRecord(rec models.Record, now time.Time) models.Deal {
	d := models.Deal{
		ID:       stringField(rec, models.FieldID),
		Title:    stringField(rec, models.FieldTitle),
		Currency: stringField(rec, models.FieldCurrency),
		Company:  stringField(rec, models.FieldCompany),
		Contact:  stringField(rec, models.FieldContact),
		Notes:    stringField(rec, models.FieldNotes),
		UserID:   stringField(rec, models.FieldUserID),
		Priority: models.ParsePriority(stringField(rec, models.FieldPriority)),
	}

	if d.Currency == "" {
		d.Currency = models.DefaultCurrency
	}

	d.ContactID = stringField(rec, models.FieldContactID)
	if d.ContactID == "" {
		d.ContactID = models.UnknownContactID
	}

	d.Value = valueField(rec)

	d.Stage = models.StageQualification
	if stage, ok := models.ParseStage(stringField(rec, models.FieldStage)); ok && stage.HasColumn() {
		d.Stage = stage
	}

	d.Probability = d.Stage.Probability()
	if raw, ok := rec[models.FieldProbability]; ok && raw != nil {
		if p, err := cast.ToIntE(raw); err == nil && p >= 0 && p <= 100 {
			d.Probability = p
		}
	}

	if raw, ok := rec[models.FieldDaysInStage]; ok && raw != nil {
		if days, err := cast.ToIntE(raw); err == nil && days > 0 {
			d.DaysInStage = days
		}
	}

	d.DueDate = timeField(rec, models.FieldDueDate)

	d.CreatedAt = now
	if t := timeField(rec, models.FieldCreatedAt); t != nil {
		d.CreatedAt = *t
	}
	d.UpdatedAt = d.CreatedAt
	if t := timeField(rec, models.FieldUpdatedAt); t != nil {
		d.UpdatedAt = *t
	}

	return d
}

// DealRecord converts a deal back to gateway field names.
func DealRecord(d models.Deal) models.Record {
	rec := models.Record{
		models.FieldID:          d.ID,
		models.FieldTitle:       d.Title,
		models.FieldAmount:      d.Value,
		models.FieldCurrency:    d.Currency,
		models.FieldStage:       string(d.Stage),
		models.FieldCompany:     d.Company,
		models.FieldContact:     d.Contact,
		models.FieldContactID:   d.ContactID,
		models.FieldProbability: d.Probability,
		models.FieldDaysInStage: d.DaysInStage,
		models.FieldPriority:    string(d.Priority),
		models.FieldNotes:       d.Notes,
		models.FieldCreatedAt:   d.CreatedAt,
		models.FieldUpdatedAt:   d.UpdatedAt,
		models.FieldUserID:      d.UserID,
	}
	if d.DueDate != nil {
		rec[models.FieldDueDate] = *d.DueDate
	}
	return rec
}

// mergeRecords overlays non-nil values of over onto base.
func mergeRecords(base, over models.Record) models.Record {
	out := make(models.Record, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

func stringField(rec models.Record, key string) string {
	raw, ok := rec[key]
	if !ok || raw == nil {
		return ""
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return ""
	}
	return s
}

// valueField reads amount, falling back to value. Negative or unparsable values become zero.
func valueField(rec models.Record) float64 {
	for _, key := range []string{models.FieldAmount, models.FieldValue} {
		raw, ok := rec[key]
		if !ok || raw == nil {
			continue
		}
		v, err := cast.ToFloat64E(raw)
		if err != nil || v < 0 {
			return 0
		}
		return v
	}
	return 0
}

func timeField(rec models.Record, key string) *time.Time {
	raw, ok := rec[key]
	if !ok || raw == nil {
		return nil
	}
	if s, isString := raw.(string); isString && s == "" {
		return nil
	}
	t, err := cast.ToTimeE(raw)
	if err != nil || t.IsZero() {
		return nil
	}
	return &t
}
