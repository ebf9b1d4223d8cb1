package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"syncboard/internal/object"
)

type documentRecord struct {
	ID           string  `gorm:"primaryKey;size:255"`
	OwnerID      *string `gorm:"size:255"`
	LastEditorID *string `gorm:"size:255"`
	Content      string  `gorm:"type:text;not null;default:''"`
	IsReadOnly   bool    `gorm:"not null;default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (documentRecord) TableName() string {
	return "documents"
}

type whiteboardRecord struct {
	ID        string                             `gorm:"primaryKey;size:255"`
	Strokes   datatypes.JSONSlice[object.Stroke] `gorm:"not null"`
	OwnerID   *string                            `gorm:"size:255"`
	ViewOnly  bool                               `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (whiteboardRecord) TableName() string {
	return "whiteboards"
}

// GormStore persists rooms in a SQL database (PostgreSQL in production,
// SQLite for single-node setups and tests).
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects with a libpq-style DSN or postgres:// URL.
func OpenPostgres(dsn string, log *slog.Logger) (*GormStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres: DATABASE_URL is empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger(log)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	return NewGormStore(db)
}

// OpenSQLite opens (or creates) the database file at path; ":memory:" works too.
func OpenSQLite(path string, log *slog.Logger) (*GormStore, error) {
	if path == "" {
		path = "syncboard.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger(log)})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// one connection: sqlite serializes writers and ":memory:" is per connection
	sqlDB.SetMaxOpenConns(1)

	return NewGormStore(db)
}

// NewGormStore migrates the schema on db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&documentRecord{}, &whiteboardRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func gormLogger(log *slog.Logger) logger.Interface {
	if log == nil {
		log = slog.Default()
	}
	return logger.New(
		slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

func (g *GormStore) UpsertDocument(ctx context.Context, id, ownerID string) (*Document, error) {
	if id == "" {
		return nil, ErrMissingID
	}

	db := g.db.WithContext(ctx)
	rec := documentRecord{ID: id, OwnerID: optional(ownerID)}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("upsert document %s: %w", id, err)
	}

	return g.FindDocument(ctx, id)
}

func (g *GormStore) FindDocument(ctx context.Context, id string) (*Document, error) {
	var rec documentRecord
	if err := g.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find document %s: %w", id, err)
	}

	return &Document{
		ID:           rec.ID,
		OwnerID:      rec.OwnerID,
		LastEditorID: rec.LastEditorID,
		Content:      rec.Content,
		IsReadOnly:   rec.IsReadOnly,
	}, nil
}

func (g *GormStore) SaveDocumentContent(ctx context.Context, id, content, editorID string) error {
	if id == "" {
		return ErrMissingID
	}

	rec := documentRecord{ID: id, Content: content, LastEditorID: optional(editorID)}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "last_editor_id", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save document %s: %w", id, err)
	}
	return nil
}

func (g *GormStore) SetDocumentReadOnly(ctx context.Context, id string, readOnly bool) error {
	res := g.db.WithContext(ctx).Model(&documentRecord{}).Where("id = ?", id).Update("is_read_only", readOnly)
	if res.Error != nil {
		return fmt.Errorf("set read-only %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormStore) UpsertWhiteboard(ctx context.Context, id, ownerID string) (*Whiteboard, error) {
	if id == "" {
		return nil, ErrMissingID
	}

	db := g.db.WithContext(ctx)
	rec := whiteboardRecord{
		ID:      id,
		Strokes: datatypes.NewJSONSlice([]object.Stroke{}),
		OwnerID: optional(ownerID),
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("upsert whiteboard %s: %w", id, err)
	}

	return g.FindWhiteboard(ctx, id)
}

func (g *GormStore) FindWhiteboard(ctx context.Context, id string) (*Whiteboard, error) {
	rec, err := findWhiteboard(g.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}

	strokes := []object.Stroke(rec.Strokes)
	if strokes == nil {
		strokes = []object.Stroke{}
	}
	return &Whiteboard{
		ID:       rec.ID,
		Strokes:  strokes,
		OwnerID:  rec.OwnerID,
		ViewOnly: rec.ViewOnly,
	}, nil
}

func findWhiteboard(db *gorm.DB, id string) (*whiteboardRecord, error) {
	var rec whiteboardRecord
	if err := db.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find whiteboard %s: %w", id, err)
	}
	return &rec, nil
}

// forUpdate: row lock held to the end of the transaction, so a concurrent
// ReplaceStrokes waits instead of being overwritten. SQLite ignores it and
// serializes writers on its own.
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

func (g *GormStore) ReplaceStrokes(ctx context.Context, id string, strokes []object.Stroke) error {
	if id == "" {
		return ErrMissingID
	}
	if strokes == nil {
		strokes = []object.Stroke{}
	}

	rec := whiteboardRecord{ID: id, Strokes: datatypes.NewJSONSlice(strokes)}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"strokes", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("replace strokes %s: %w", id, err)
	}
	return nil
}

func (g *GormStore) RemoveStrokes(ctx context.Context, id string, strokeIDs []string) error {
	if len(strokeIDs) == 0 {
		return nil
	}

	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := findWhiteboard(forUpdate(tx), id)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		remaining := object.Without(rec.Strokes, strokeIDs)
		if len(remaining) == len(rec.Strokes) {
			return nil
		}

		err = tx.Model(&whiteboardRecord{}).Where("id = ?", id).
			Update("strokes", datatypes.NewJSONSlice(remaining)).Error
		if err != nil {
			return fmt.Errorf("remove strokes %s: %w", id, err)
		}
		return nil
	})
}

func (g *GormStore) SetWhiteboardViewOnly(ctx context.Context, id string, viewOnly bool) error {
	res := g.db.WithContext(ctx).Model(&whiteboardRecord{}).Where("id = ?", id).Update("view_only", viewOnly)
	if res.Error != nil {
		return fmt.Errorf("set view-only %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
