package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/coreadhq/coread-backend/internal/annotation"
	"github.com/coreadhq/coread-backend/internal/geometry"
)

// annotationRow flattens the tagged union into one table; Kind decides
// which columns are meaningful, mirroring the wire model.
type annotationRow struct {
	ID         string `gorm:"primaryKey"`
	DocumentID string `gorm:"index"`
	Kind       string
	AuthorID   string
	Page       int
	Snippet    string
	Text       string
	Color      string
	HasCoords  bool
	StartX     float64
	StartY     float64
	EndX       float64
	EndY       float64
	UpdatedAt  time.Time
}

func (annotationRow) TableName() string { return "annotations" }

type documentRow struct {
	ID        string `gorm:"primaryKey"`
	Content   []byte
	UpdatedAt time.Time
}

func (documentRow) TableName() string { return "documents" }

// GormStore persists to Postgres when a DSN is configured, otherwise to a
// local SQLite file.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenGorm connects to Postgres if postgresDSN is non-empty, falling back
// to SQLite at sqlitePath on failure, and runs migrations.
func OpenGorm(postgresDSN, sqlitePath string, logger *zap.Logger) (*GormStore, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var db *gorm.DB
	var err error
	if postgresDSN != "" {
		db, err = gorm.Open(postgres.Open(postgresDSN), cfg)
		if err != nil {
			logger.Warn("postgres unavailable, falling back to sqlite",
				zap.String("sqlite_path", sqlitePath), zap.Error(err))
		}
	}
	if db == nil {
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", sqlitePath, err)
		}
	}

	if err := db.AutoMigrate(&annotationRow{}, &documentRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormStore{db: db, logger: logger}, nil
}

func toRow(docID string, a annotation.Annotation) annotationRow {
	row := annotationRow{
		ID:         a.ID,
		DocumentID: docID,
		Kind:       string(a.Kind),
		AuthorID:   a.AuthorID,
		Page:       a.Page,
		Snippet:    a.Snippet,
		Text:       a.Text,
		Color:      a.Color,
		UpdatedAt:  a.UpdatedAt,
	}
	if a.Coords != nil {
		row.HasCoords = true
		row.StartX = a.Coords.StartX
		row.StartY = a.Coords.StartY
		row.EndX = a.Coords.EndX
		row.EndY = a.Coords.EndY
	}
	return row
}

func fromRow(row annotationRow) annotation.Annotation {
	a := annotation.Annotation{
		ID:        row.ID,
		Kind:      annotation.Kind(row.Kind),
		AuthorID:  row.AuthorID,
		Page:      row.Page,
		Snippet:   row.Snippet,
		Text:      row.Text,
		Color:     row.Color,
		UpdatedAt: row.UpdatedAt,
	}
	if row.HasCoords {
		a.Coords = &geometry.Coordinates{
			StartX: row.StartX,
			StartY: row.StartY,
			EndX:   row.EndX,
			EndY:   row.EndY,
		}
	}
	return a
}

func (s *GormStore) SaveAnnotation(ctx context.Context, docID string, a annotation.Annotation) error {
	row := toRow(docID, a)
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *GormStore) GetAnnotation(ctx context.Context, id string) (Record, error) {
	var row annotationRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return Record{DocumentID: row.DocumentID, Annotation: fromRow(row)}, nil
}

func (s *GormStore) DeleteAnnotation(ctx context.Context, id, authorID string) (Record, error) {
	rec, err := s.GetAnnotation(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.Annotation.AuthorID != authorID {
		return Record{}, ErrForbidden
	}
	if err := s.db.WithContext(ctx).Delete(&annotationRow{}, "id = ?", id).Error; err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *GormStore) ListByDocument(ctx context.Context, docID string) ([]annotation.Annotation, error) {
	var rows []annotationRow
	err := s.db.WithContext(ctx).
		Where("document_id = ?", docID).
		Order("page asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]annotation.Annotation, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

func (s *GormStore) PutDocument(ctx context.Context, docID string, content []byte) error {
	row := documentRow{ID: docID, Content: content, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *GormStore) GetDocument(ctx context.Context, docID string) ([]byte, error) {
	var row documentRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", docID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.Content, nil
}
