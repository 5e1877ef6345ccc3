// Package sqlstore implements the metadata store on GORM. It registers as
// both "postgres" and "sqlite"; the schema is portable between the two so
// tests run on in-memory SQLite against the same code paths production runs
// on Postgres.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/openmem/openmem/internal/config"
	"github.com/openmem/openmem/internal/model"
	registrymigrate "github.com/openmem/openmem/internal/registry/migrate"
	registrystore "github.com/openmem/openmem/internal/registry/store"
	"github.com/openmem/openmem/internal/security"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	registrystore.Register(registrystore.Plugin{Name: "postgres", Loader: loaderFor("postgres")})
	registrystore.Register(registrystore.Plugin{Name: "sqlite", Loader: loaderFor("sqlite")})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &schemaMigrator{}})
}

func loaderFor(dialect string) registrystore.Loader {
	return func(ctx context.Context) (registrystore.MetadataStore, error) {
		cfg := config.FromContext(ctx)
		if cfg == nil {
			return nil, fmt.Errorf("sqlstore: missing config in context")
		}
		db, err := open(dialect, cfg.DBURL)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: get underlying db: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
		if security.DBPoolMaxConnections != nil {
			security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
		}

		// Periodically update the open connections gauge.
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if security.DBPoolOpenConnections != nil {
						security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
					}
				}
			}
		}()

		return New(db, dialect), nil
	}
}

func open(dialect, url string) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch dialect {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(url), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: connect to sqlite: %w", err)
		}
		return db, nil
	default:
		db, err := gorm.Open(postgres.Open(url), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: connect to postgres: %w", err)
		}
		return db, nil
	}
}

type schemaMigrator struct{}

func (m *schemaMigrator) Name() string { return "sql-schema" }
func (m *schemaMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	switch cfg.DatastoreType {
	case "postgres", "sqlite":
	default:
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := open(cfg.DatastoreType, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return err
	}
	if sqlDB, dbErr := db.DB(); dbErr == nil {
		_ = sqlDB.Close()
	}
	log.Info("Schema migration complete")
	return nil
}

// AutoMigrate creates or updates the schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.App{},
		&model.Memory{},
		&model.Category{},
		&model.MemoryCategory{},
		&model.MemoryStatusHistory{},
		&model.MemoryAccessLog{},
		&model.AccessControl{},
		&model.Attachment{},
		&model.ConfigEntry{},
		&model.Task{},
	); err != nil {
		return fmt.Errorf("migration: auto-migrate schema: %w", err)
	}
	return nil
}

// SQLStore implements MetadataStore using GORM.
type SQLStore struct {
	db      *gorm.DB
	dialect string
}

// New creates an SQLStore on an open gorm handle. Exposed for tests that
// bring their own in-memory database.
func New(db *gorm.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) isPostgres() bool { return s.dialect != "sqlite" }

// Transaction runs fn inside a database transaction.
func (s *SQLStore) Transaction(ctx context.Context, fn func(tx registrystore.MetadataStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&SQLStore{db: tx, dialect: s.dialect})
	})
}

// isUniqueViolation detects duplicate-key failures on both dialects.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetOrCreateUserAndApp upserts the (user, app) identity pair. Concurrent
// first-writes race on the unique indexes; the loser re-reads.
func (s *SQLStore) GetOrCreateUserAndApp(ctx context.Context, userID, appName string) (*model.User, *model.App, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil, &registrystore.ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if strings.TrimSpace(appName) == "" {
		return nil, nil, &registrystore.ValidationError{Field: "app", Message: "must not be empty"}
	}
	db := s.db.WithContext(ctx)

	var user model.User
	err := db.Where("user_id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := time.Now().UTC()
		user = model.User{
			ID:        uuid.New(),
			UserID:    userID,
			Metadata:  map[string]interface{}{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err = db.Create(&user).Error; err != nil && isUniqueViolation(err) {
			err = db.Where("user_id = ?", userID).First(&user).Error
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get or create user: %w", err)
	}

	var app model.App
	err = db.Where("owner_id = ? AND name = ?", user.ID, appName).First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := time.Now().UTC()
		app = model.App{
			ID:        uuid.New(),
			OwnerID:   user.ID,
			Name:      appName,
			Metadata:  map[string]interface{}{},
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err = db.Create(&app).Error; err != nil && isUniqueViolation(err) {
			err = db.Where("owner_id = ? AND name = ?", user.ID, appName).First(&app).Error
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get or create app: %w", err)
	}
	return &user, &app, nil
}

// GetUser returns the user with the given external ID.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: userID}
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// SaveApp persists changes to an app row (pause/resume, metadata edits).
func (s *SQLStore) SaveApp(ctx context.Context, app *model.App) error {
	app.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(app).Error
}

// CreateAccessRule inserts one access rule.
func (s *SQLStore) CreateAccessRule(ctx context.Context, rule *model.AccessControl) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(rule).Error
}

// GetApp returns the app with the given internal ID.
func (s *SQLStore) GetApp(ctx context.Context, id uuid.UUID) (*model.App, error) {
	var app model.App
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "app", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

const settingsKey = "settings"

// LoadSettings reads the persisted runtime settings. Returns nil when no
// settings row exists yet.
func (s *SQLStore) LoadSettings(ctx context.Context) (*config.Settings, error) {
	var entry model.ConfigEntry
	err := s.db.WithContext(ctx).Where("key = ?", settingsKey).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(entry.Value)
	if err != nil {
		return nil, err
	}
	var settings config.Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("load settings: corrupt settings document: %w", err)
	}
	return &settings, nil
}

// SaveSettings upserts the runtime settings document.
func (s *SQLStore) SaveSettings(ctx context.Context, settings *config.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	var value map[string]interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return err
	}
	if value == nil {
		value = map[string]interface{}{}
	}
	db := s.db.WithContext(ctx)
	entry := model.ConfigEntry{Key: settingsKey, Value: value, UpdatedAt: time.Now().UTC()}
	res := db.Model(&model.ConfigEntry{}).Where("key = ?", settingsKey).
		Updates(map[string]interface{}{"value": entry.Value, "updated_at": entry.UpdatedAt})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if err := db.Create(&entry).Error; err != nil && !isUniqueViolation(err) {
			return err
		}
	}
	return nil
}

// CreateTask enqueues a background task, ready immediately.
func (s *SQLStore) CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Create(&model.Task{
		ID:        uuid.New(),
		TaskType:  taskType,
		TaskBody:  taskBody,
		CreatedAt: now,
		RetryAt:   now,
	}).Error
}

// ClaimReadyTasks returns up to limit ready tasks and pushes their retry_at
// forward so concurrent processors do not pick them up again immediately.
func (s *SQLStore) ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error) {
	var tasks []model.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("retry_at <= ?", time.Now().UTC()).
			Order("retry_at asc").Limit(limit).Find(&tasks).Error; err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(tasks))
		for i, t := range tasks {
			ids[i] = t.ID
		}
		return tx.Model(&model.Task{}).Where("id IN ?", ids).
			Update("retry_at", time.Now().UTC().Add(5*time.Minute)).Error
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// DeleteTask removes a completed task.
func (s *SQLStore) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	return s.db.WithContext(ctx).Delete(&model.Task{}, "id = ?", taskID).Error
}

// FailTask records a failure and schedules the retry.
func (s *SQLStore) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error {
	return s.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"last_error":  errMsg,
			"retry_at":    time.Now().UTC().Add(retryDelay),
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error
}

var _ registrystore.MetadataStore = (*SQLStore)(nil)
