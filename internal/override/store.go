// Package override persists operator-set counter substitutions.
//
// An override replaces a dock's three counters wholesale wherever dock
// state is read, until it is cleared. Writes commit to storage before
// returning, so a restart never silently drops an active override.
package override

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/bikepoint"
)

// Override is one persisted counter substitution for a dock.
type Override struct {
	DockID    string    `gorm:"primaryKey;column:dock_id" json:"dock_id"`
	Bikes     int       `gorm:"column:bikes" json:"bikes"`
	EBikes    int       `gorm:"column:ebikes" json:"ebikes"`
	Docks     int       `gorm:"column:docks" json:"docks"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName sets the table the model maps to.
func (Override) TableName() string {
	return "dock_overrides"
}

// Counts returns the override as the counter triple it substitutes.
func (o Override) Counts() bikepoint.Counts {
	return bikepoint.Counts{Bikes: o.Bikes, EBikes: o.EBikes, Docks: o.Docks}
}

// Store reads and writes overrides through a gorm-managed database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStore migrates the override table and returns a [Store].
func NewStore(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Override{}); err != nil {
		return nil, fmt.Errorf("failed to migrate override table: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Set upserts the override for a dock. The write is committed before Set
// returns.
func (s *Store) Set(ctx context.Context, dockID string, counts bikepoint.Counts) (Override, error) {
	ov := Override{
		DockID:    dockID,
		Bikes:     counts.Bikes,
		EBikes:    counts.EBikes,
		Docks:     counts.Docks,
		UpdatedAt: time.Now(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dock_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"bikes", "ebikes", "docks", "updated_at"}),
		}).Create(&ov).Error
	if err != nil {
		return Override{}, fmt.Errorf("failed to persist override for %s: %w", dockID, err)
	}
	return ov, nil
}

// Clear removes the override for a dock. Returns false when none existed.
func (s *Store) Clear(ctx context.Context, dockID string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&Override{}, "dock_id = ?", dockID)
	if res.Error != nil {
		return false, fmt.Errorf("failed to clear override for %s: %w", dockID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Get returns the override for a dock, if one is set.
func (s *Store) Get(ctx context.Context, dockID string) (Override, bool, error) {
	var ov Override
	err := s.db.WithContext(ctx).First(&ov, "dock_id = ?", dockID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Override{}, false, nil
	}
	if err != nil {
		return Override{}, false, fmt.Errorf("failed to read override for %s: %w", dockID, err)
	}
	return ov, true, nil
}

// List returns all overrides ordered by dock id.
func (s *Store) List(ctx context.Context) ([]Override, error) {
	var out []Override
	if err := s.db.WithContext(ctx).Order("dock_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	return out, nil
}

// Counters adapts the store to the poller's read path. A storage error is
// logged and read as a miss, so a database hiccup degrades a tick to
// upstream data rather than failing it.
func (s *Store) Counters(dockID string) (bikepoint.Counts, bool) {
	ov, ok, err := s.Get(context.Background(), dockID)
	if err != nil {
		s.logger.Warn("override lookup failed", "dock", dockID, "error", err)
		return bikepoint.Counts{}, false
	}
	if !ok {
		return bikepoint.Counts{}, false
	}
	return ov.Counts(), true
}
