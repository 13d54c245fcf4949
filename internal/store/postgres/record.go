package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"templr/internal/store"

	"github.com/lib/pq"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// CreateRecord inserts a materialized record. The payload must already be
// in its JSON storage form.
func (s *Store) CreateRecord(ctx context.Context, tx store.Tx, rec *store.Record) error {
	executor, err := s.getExecutor(tx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode record payload: %w", err)
	}

	query := `
		INSERT INTO records (id, identifier, payload, schema_slugs, job_id, owner_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = executor.ExecContext(ctx, query,
		rec.ID,
		rec.Identifier,
		payload,
		pq.Array(rec.SchemaSlugs),
		rec.JobID,
		rec.OwnerID,
		rec.CreatedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", store.ErrDuplicateIdentifier, rec.Identifier)
		}
		return fmt.Errorf("failed to insert record %s: %w", rec.Identifier, err)
	}
	return nil
}

// RecordExistsByIdentifier checks the identifier against committed records
// and, when tx is given, the records written earlier in tx.
func (s *Store) RecordExistsByIdentifier(ctx context.Context, tx store.Tx, identifier string) (bool, error) {
	executor, err := s.getExecutor(tx)
	if err != nil {
		return false, err
	}

	var exists bool
	err = executor.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM records WHERE identifier = $1)", identifier).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check identifier %s: %w", identifier, err)
	}
	return exists, nil
}

// GetRecordByIdentifier returns a record regardless of its expiry.
func (s *Store) GetRecordByIdentifier(ctx context.Context, identifier string) (*store.Record, error) {
	query := `
		SELECT id, identifier, payload, schema_slugs, job_id, owner_id, created_at, expires_at
		FROM records
		WHERE identifier = $1
	`

	var (
		rec     store.Record
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, query, identifier).Scan(
		&rec.ID, &rec.Identifier, &payload, pq.Array(&rec.SchemaSlugs),
		&rec.JobID, &rec.OwnerID, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record %s: %w", identifier, err)
	}

	if err := decodePayload(payload, &rec.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode record payload: %w", err)
	}
	return &rec, nil
}

// decodePayload keeps numbers as json.Number so integers render without an
// exponent or trailing fraction.
func decodePayload(data []byte, dst *map[string]any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(dst)
}
