package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rahul/dealdesk/internal/workflow"
)

// PropertyRepo persists workflow properties. Updates are guarded by the
// record version and the stage the caller read.
type PropertyRepo struct {
	db *sql.DB
}

// NewPropertyRepo wraps db.
func NewPropertyRepo(db *sql.DB) *PropertyRepo {
	return &PropertyRepo{db: db}
}

const propertyColumns = `property_id, name, address, asking_price, market_value, after_repair_value,
defects_json, repair_estimate, title_condition, stage, override_note, version, created_at, updated_at`

// Create inserts p at its current stage, assigning an id if empty.
func (r *PropertyRepo) Create(ctx context.Context, p workflow.Property) (*workflow.Property, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Stage == "" {
		p.Stage = workflow.StageAwaitingInputs
	}
	now := time.Now().UTC().Truncate(time.Second)
	p.CreatedAt, p.UpdatedAt = now, now
	p.Version = 1

	defects, err := json.Marshal(nonNil(p.Defects))
	if err != nil {
		return nil, fmt.Errorf("encode defects: %w", err)
	}

	q := `INSERT INTO properties (` + propertyColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, q,
		p.ID, p.Name, p.Address,
		nullFloat(p.AskingPrice), nullFloat(p.MarketValue), nullFloat(p.AfterRepairValue),
		string(defects), nullFloat(p.RepairEstimate), string(p.TitleCondition),
		string(p.Stage), p.OverrideNote, p.Version, now.Unix(), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("create property: %w", err)
	}
	return &p, nil
}

// Get returns the property with the given id.
func (r *PropertyRepo) Get(ctx context.Context, id string) (*workflow.Property, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE property_id = ?`, id)
	return scanProperty(row)
}

// FindByName returns the most recently updated property whose name matches,
// ignoring case.
func (r *PropertyRepo) FindByName(ctx context.Context, name string) (*workflow.Property, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE name = ? COLLATE NOCASE ORDER BY updated_at DESC LIMIT 1`, name)
	return scanProperty(row)
}

// List returns every property, newest first.
func (r *PropertyRepo) List(ctx context.Context) ([]workflow.Property, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+propertyColumns+` FROM properties ORDER BY updated_at DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	var out []workflow.Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Update writes p if the stored record still has p.Version and
// expectedStage. It returns the stored result with the bumped version, or
// ErrOptimisticLock if another writer got there first.
func (r *PropertyRepo) Update(ctx context.Context, p workflow.Property, expectedStage workflow.Stage) (*workflow.Property, error) {
	defects, err := json.Marshal(nonNil(p.Defects))
	if err != nil {
		return nil, fmt.Errorf("encode defects: %w", err)
	}
	now := time.Now().UTC().Truncate(time.Second)

	const q = `UPDATE properties SET
		name = ?,
		address = ?,
		asking_price = ?,
		market_value = ?,
		after_repair_value = ?,
		defects_json = ?,
		repair_estimate = ?,
		title_condition = ?,
		stage = ?,
		override_note = ?,
		version = version + 1,
		updated_at = ?
	WHERE property_id = ? AND version = ? AND stage = ?`

	res, err := r.db.ExecContext(ctx, q,
		p.Name, p.Address,
		nullFloat(p.AskingPrice), nullFloat(p.MarketValue), nullFloat(p.AfterRepairValue),
		string(defects), nullFloat(p.RepairEstimate), string(p.TitleCondition),
		string(p.Stage), p.OverrideNote, now.Unix(),
		p.ID, p.Version, string(expectedStage),
	)
	if err != nil {
		return nil, fmt.Errorf("update property: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		if _, err := r.Get(ctx, p.ID); err != nil {
			return nil, err
		}
		return nil, ErrOptimisticLock
	}
	p.Version++
	p.UpdatedAt = now
	return &p, nil
}

// Delete removes the property with the given id.
func (r *PropertyRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM properties WHERE property_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete property: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProperty(row rowScanner) (*workflow.Property, error) {
	var p workflow.Property
	var asking, market, arv, repair sql.NullFloat64
	var defects, title, stage string
	var created, updated int64
	err := row.Scan(&p.ID, &p.Name, &p.Address, &asking, &market, &arv,
		&defects, &repair, &title, &stage, &p.OverrideNote, &p.Version, &created, &updated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan property: %w", err)
	}
	p.AskingPrice = floatPtr(asking)
	p.MarketValue = floatPtr(market)
	p.AfterRepairValue = floatPtr(arv)
	p.RepairEstimate = floatPtr(repair)
	p.TitleCondition = workflow.TitleCondition(title)
	p.Stage = workflow.Stage(stage)
	p.CreatedAt = time.Unix(created, 0).UTC()
	p.UpdatedAt = time.Unix(updated, 0).UTC()
	if err := json.Unmarshal([]byte(defects), &p.Defects); err != nil {
		return nil, fmt.Errorf("decode defects: %w", err)
	}
	return &p, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
