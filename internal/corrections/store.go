package corrections

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shoplens/shoplens/internal/database"
)

// Correction is one user-made fix, recorded append-only. Entries are never
// mutated; lookups return the most recent one for a normalized input.
type Correction struct {
	ID             string    `json:"id"`
	InputType      InputType `json:"input_type"`
	InputValue     string    `json:"input_value"`
	Stage          string    `json:"stage"`
	ProductID      string    `json:"product_id"`
	CorrectionType string    `json:"correction_type"`
	OriginalValue  string    `json:"original_value"`
	CorrectedValue string    `json:"corrected_value"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists corrections keyed by normalized-input hash. Writes are
// best-effort from the pipeline's perspective: callers log failures and
// continue.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Save appends a correction. The input value is hashed after normalization
// so equivalent inputs share a key.
func (s *Store) Save(ctx context.Context, c Correction) error {
	if s == nil || s.db == nil {
		return nil
	}

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO corrections (
			id, input_type, input_hash, stage, product_id,
			correction_type, original_value, corrected_value, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Conn().ExecContext(ctx, query,
		c.ID,
		string(c.InputType),
		HashInput(c.InputType, c.InputValue),
		c.Stage,
		c.ProductID,
		c.CorrectionType,
		c.OriginalValue,
		c.CorrectedValue,
		c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save correction: %w", err)
	}
	return nil
}

// SaveBestEffort logs and swallows any storage failure. Correction learning
// must never block the pipeline.
func (s *Store) SaveBestEffort(ctx context.Context, c Correction) {
	if err := s.Save(ctx, c); err != nil {
		log.Printf("[CORRECTIONS] Dropping correction for product %s: %v", c.ProductID, err)
	}
}

// Lookup returns the most recent correction for the given input, or nil when
// none exists.
func (s *Store) Lookup(ctx context.Context, inputType InputType, inputValue string) (*Correction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}

	query := `
		SELECT id, input_type, stage, product_id, correction_type,
			   original_value, corrected_value, created_at
		FROM corrections
		WHERE input_type = ? AND input_hash = ?
		ORDER BY created_at DESC
		LIMIT 1`

	c := &Correction{InputValue: inputValue}
	var typeStr string
	err := s.db.Conn().QueryRowContext(ctx, query, string(inputType), HashInput(inputType, inputValue)).Scan(
		&c.ID,
		&typeStr,
		&c.Stage,
		&c.ProductID,
		&c.CorrectionType,
		&c.OriginalValue,
		&c.CorrectedValue,
		&c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up correction: %w", err)
	}

	c.InputType = InputType(typeStr)
	return c, nil
}

// RecentCorrections lists the newest entries, for operator inspection.
func (s *Store) RecentCorrections(ctx context.Context, limit int) ([]Correction, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, input_type, stage, product_id, correction_type,
			   original_value, corrected_value, created_at
		FROM corrections
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.Conn().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer rows.Close()

	var out []Correction
	for rows.Next() {
		var c Correction
		var typeStr string
		if err := rows.Scan(&c.ID, &typeStr, &c.Stage, &c.ProductID, &c.CorrectionType,
			&c.OriginalValue, &c.CorrectedValue, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		c.InputType = InputType(typeStr)
		out = append(out, c)
	}

	return out, rows.Err()
}
