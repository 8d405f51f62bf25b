// Package wake keeps the roster of devices that asked to be woken
// periodically, and broadcasts silent background pushes to them so the
// app can refresh its widgets between live sessions.
package wake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mwagstaff/my-boris-bikes-sub000/internal/push"
)

// Device is one registered wake target.
type Device struct {
	DeviceToken  string    `gorm:"primaryKey;column:device_token" json:"device_token"`
	Environment  string    `gorm:"column:environment" json:"environment"`
	RegisteredAt time.Time `gorm:"column:registered_at" json:"registered_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName sets the table the model maps to.
func (Device) TableName() string {
	return "wake_devices"
}

// Store persists the wake roster through a gorm-managed database.
type Store struct {
	db *gorm.DB
}

// NewStore migrates the device table and returns a [Store].
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Device{}); err != nil {
		return nil, fmt.Errorf("failed to migrate wake device table: %w", err)
	}
	return &Store{db: db}, nil
}

// Register upserts a device. Re-registering refreshes the environment
// without disturbing the original registration time.
func (s *Store) Register(ctx context.Context, deviceToken string, env push.Environment) (Device, error) {
	if deviceToken == "" {
		return Device{}, errors.New("device token is required")
	}
	now := time.Now()
	dev := Device{
		DeviceToken:  deviceToken,
		Environment:  string(env),
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_token"}},
			DoUpdates: clause.AssignmentColumns([]string{"environment", "updated_at"}),
		}).Create(&dev).Error
	if err != nil {
		return Device{}, fmt.Errorf("failed to register device: %w", err)
	}
	return dev, nil
}

// Unregister removes a device. Returns false when it was not registered.
func (s *Store) Unregister(ctx context.Context, deviceToken string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&Device{}, "device_token = ?", deviceToken)
	if res.Error != nil {
		return false, fmt.Errorf("failed to unregister device: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Get returns a device's registration, if present.
func (s *Store) Get(ctx context.Context, deviceToken string) (Device, bool, error) {
	var dev Device
	err := s.db.WithContext(ctx).First(&dev, "device_token = ?", deviceToken).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Device{}, false, nil
	}
	if err != nil {
		return Device{}, false, fmt.Errorf("failed to read device registration: %w", err)
	}
	return dev, true, nil
}

// List returns every registered device, oldest registration first.
func (s *Store) List(ctx context.Context) ([]Device, error) {
	var out []Device
	if err := s.db.WithContext(ctx).Order("registered_at").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return out, nil
}

// Count returns the roster size.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Device{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return n, nil
}
