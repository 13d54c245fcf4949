package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"templr/internal/schema"
	"templr/internal/store"

	"github.com/google/uuid"
)

// GetSchemaBySlug returns the owner's template with the given slug.
func (s *Store) GetSchemaBySlug(ctx context.Context, slug string, owner uuid.UUID) (*schema.Schema, error) {
	query := "SELECT id, owner_id, slug, name, content, fields FROM templates WHERE slug = $1 AND owner_id = $2"

	var (
		sc     schema.Schema
		fields []byte
	)
	err := s.db.QueryRowContext(ctx, query, slug, owner).Scan(&sc.ID, &sc.OwnerID, &sc.Slug, &sc.Name, &sc.Content, &fields)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get template %s: %w", slug, err)
	}

	if err := json.Unmarshal(fields, &sc.Fields); err != nil {
		return nil, fmt.Errorf("template %s has invalid fields: %w", slug, err)
	}
	return &sc, nil
}

// PutSchema creates the template or replaces the one with the same owner and slug.
func (s *Store) PutSchema(ctx context.Context, sc *schema.Schema) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}

	fields, err := json.Marshal(sc.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode template fields: %w", err)
	}

	query := `
		INSERT INTO templates (id, owner_id, slug, name, content, fields)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner_id, slug) DO UPDATE
		SET name = EXCLUDED.name, content = EXCLUDED.content, fields = EXCLUDED.fields, updated_at = NOW()
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query, sc.ID, sc.OwnerID, sc.Slug, sc.Name, sc.Content, fields).Scan(&sc.ID)
	if err != nil {
		return fmt.Errorf("failed to save template %s: %w", sc.Slug, err)
	}
	return nil
}
