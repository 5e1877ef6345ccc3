package pgvector

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/openmem/openmem/internal/config"
	registrymigrate "github.com/openmem/openmem/internal/registry/migrate"
	registryvector "github.com/openmem/openmem/internal/registry/vector"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

//go:embed db/pgvector-schema.sql
var pgvectorSchemaSQL string

// pgvectorMigrator implements migrate.Migrator for the pgvector schema.
type pgvectorMigrator struct{}

func (m *pgvectorMigrator) Name() string { return "pgvector" }
func (m *pgvectorMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.VectorMigrateAtStart || cfg.VectorType != "pgvector" || cfg.DBURL == "" || (cfg.DatastoreType != "" && cfg.DatastoreType != "postgres") {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openDB(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	schema := fmt.Sprintf(pgvectorSchemaSQL, embeddingDimension(cfg))
	return db.Exec(schema).Error
}

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "pgvector",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &pgvectorMigrator{}})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("pgvector: missing config in context")
	}
	db, err := openDB(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector: %w", err)
	}
	return &PgvectorStore{db: db}, nil
}

func embeddingDimension(cfg *config.Config) int {
	if cfg.OpenAIDimensions > 0 {
		return cfg.OpenAIDimensions
	}
	if strings.EqualFold(strings.TrimSpace(cfg.EmbedType), "local") {
		return 384
	}
	return 1536
}

// PgvectorStore implements VectorStore using the pgvector extension. The
// user_id filter is pushed down into SQL; other filters are evaluated in Go
// against the JSONB payload.
type PgvectorStore struct {
	db *gorm.DB
}

func (s *PgvectorStore) IsEnabled() bool { return true }
func (s *PgvectorStore) Name() string    { return "pgvector" }

func (s *PgvectorStore) Upsert(ctx context.Context, id uuid.UUID, vector []float32, payload map[string]interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	userID, _ := payload[registryvector.PayloadUserID].(string)
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO memory_embeddings (id, user_id, embedding, payload, updated_at)
		VALUES (?, ?, ?::vector, ?::jsonb, now())
		ON CONFLICT (id)
		DO UPDATE SET user_id = EXCLUDED.user_id, embedding = EXCLUDED.embedding,
		              payload = EXCLUDED.payload, updated_at = now()`,
		id, userID, pgvec.NewVector(vector), string(raw),
	).Error
}

func (s *PgvectorStore) Search(ctx context.Context, vector []float32, limit int, filters map[string]interface{}) ([]registryvector.Point, error) {
	vec := pgvec.NewVector(vector)

	// Push the user_id equality down; everything else filters the candidate
	// set in Go, so over-fetch when residual filters remain.
	residual := make(map[string]interface{}, len(filters))
	var userID string
	for k, v := range filters {
		if k == registryvector.PayloadUserID {
			if s, ok := v.(string); ok {
				userID = s
				continue
			}
		}
		residual[k] = v
	}
	fetch := limit
	if len(residual) > 0 {
		fetch = limit * 5
	}

	query := `
		SELECT id, 1 - (embedding <=> ?::vector) AS score, payload
		FROM memory_embeddings`
	args := []interface{}{vec}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY embedding <=> ?::vector LIMIT ?`
	args = append(args, vec, fetch)

	rows, err := s.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []registryvector.Point
	for rows.Next() {
		var id uuid.UUID
		var score float32
		var rawPayload []byte
		if err := rows.Scan(&id, &score, &rawPayload); err != nil {
			log.Error("pgvector scan error", "err", err)
			continue
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(rawPayload, &payload); err != nil {
			log.Error("pgvector payload decode error", "id", id, "err", err)
			continue
		}
		if !registryvector.MatchesFilters(payload, residual) {
			continue
		}
		results = append(results, registryvector.Point{ID: id, Score: score, Payload: payload})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (s *PgvectorStore) Get(ctx context.Context, id uuid.UUID) (*registryvector.Point, error) {
	var rawPayload []byte
	row := s.db.WithContext(ctx).Raw(
		"SELECT payload FROM memory_embeddings WHERE id = ?", id,
	).Row()
	if err := row.Scan(&rawPayload); err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil
		}
		return nil, err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return nil, fmt.Errorf("pgvector: decode payload for %s: %w", id, err)
	}
	return &registryvector.Point{ID: id, Payload: payload}, nil
}

func (s *PgvectorStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Exec(
		"DELETE FROM memory_embeddings WHERE id = ?", id,
	).Error
}
