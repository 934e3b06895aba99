package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eleven-am/product-lens/internal/detection"
	"github.com/eleven-am/product-lens/internal/shared"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&SavedDetection{})
}

func (s *Store) Record(ctx context.Context, entry Entry) (*SavedDetection, error) {
	products, err := json.Marshal(entry.Saved.Products)
	if err != nil {
		return nil, fmt.Errorf("encode saved products: %w", err)
	}

	savedAt := entry.Saved.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	set := detection.PredictionSet{Predictions: entry.Predictions}
	rec := &SavedDetection{
		ID:              shared.NewID("det_"),
		SessionID:       entry.SessionID,
		Source:          entry.Source,
		ImageName:       entry.ImageName,
		Classes:         set.Classes(),
		PredictionCount: len(entry.Predictions),
		ProductCount:    len(entry.Saved.Products),
		Products:        string(products),
		SavedAt:         savedAt,
	}

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*SavedDetection, error) {
	var rec SavedDetection
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &rec, err
}

// List returns the newest records first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*SavedDetection, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset = max(offset, 0)

	var recs []*SavedDetection
	err := s.db.WithContext(ctx).Order("saved_at DESC").Limit(limit).Offset(offset).Find(&recs).Error
	return recs, err
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&SavedDetection{}).Count(&n).Error
	return n, err
}

// SavedProducts decodes the backend records kept with rec.
func (r *SavedDetection) SavedProducts() ([]json.RawMessage, error) {
	if r.Products == "" {
		return nil, nil
	}
	var products []json.RawMessage
	if err := json.Unmarshal([]byte(r.Products), &products); err != nil {
		return nil, err
	}
	return products, nil
}
