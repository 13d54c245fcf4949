package postgres

import (
	"context"
	"errors"
	"testing"

	"templr/internal/schema"
	"templr/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestGetSchemaBySlug(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id, owner := uuid.New(), uuid.New()
	mock.ExpectQuery(`SELECT id, owner_id, slug, name, content, fields FROM templates WHERE slug = \$1 AND owner_id = \$2`).
		WithArgs("invoice", owner).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "slug", "name", "content", "fields"}).
			AddRow(id.String(), owner.String(), "invoice", "Invoice", "Dear {{ customer_name }}",
				[]byte(`[{"name":"customer_name","type":"string","aliases":["Customer"]},{"name":"due","type":"date","required":false}]`)))

	sc, err := s.GetSchemaBySlug(context.Background(), "invoice", owner)
	if err != nil {
		t.Fatalf("GetSchemaBySlug failed: %v", err)
	}
	if len(sc.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(sc.Fields))
	}
	if !sc.Fields[0].Required {
		t.Error("required should default to true")
	}
	if sc.Fields[1].Required || sc.Fields[1].Type != schema.TypeDate {
		t.Errorf("unexpected second field %+v", sc.Fields[1])
	}
}

func TestGetSchemaBySlug_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT .* FROM templates`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetSchemaBySlug(context.Background(), "nope", uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetSchemaBySlug_UnknownFieldType(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT .* FROM templates`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "slug", "name", "content", "fields"}).
			AddRow(uuid.New().String(), uuid.New().String(), "x", "", "", []byte(`[{"name":"a","type":"boolean"}]`)))

	if _, err := s.GetSchemaBySlug(context.Background(), "x", uuid.New()); err == nil {
		t.Error("expected error for unknown field type")
	}
}

func TestPutSchema_Upsert(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	existing := uuid.New()
	sc := &schema.Schema{
		Slug:    "invoice",
		OwnerID: uuid.New(),
		Fields:  []schema.FieldSpec{{Name: "customer_name", Type: schema.TypeString, Required: true}},
	}

	mock.ExpectQuery(`INSERT INTO templates .* ON CONFLICT \(owner_id, slug\) DO UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(existing.String()))

	if err := s.PutSchema(context.Background(), sc); err != nil {
		t.Fatalf("PutSchema failed: %v", err)
	}
	if sc.ID != existing {
		t.Errorf("got id %v, want %v", sc.ID, existing)
	}
}

func TestPutSchema_Invalid(t *testing.T) {
	s, _ := newMockStore(t)
	defer s.db.Close()

	if err := s.PutSchema(context.Background(), &schema.Schema{}); err == nil {
		t.Error("expected validation error")
	}
}
