// Package storage persists detections with GORM over SQLite.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MaxwellDPS/flocksense/internal/core/domain"
	"github.com/MaxwellDPS/flocksense/internal/core/ports"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

// SQLiteAdapter implements ports.Storage using GORM and SQLite.
type SQLiteAdapter struct {
	db *gorm.DB
}

// DetectionModel is the GORM model for detections.
type DetectionModel struct {
	ID         string `gorm:"primaryKey"`
	Protocol   string `gorm:"index"`
	Identity   string `gorm:"index"`
	DeviceType string
	Category   string
	Method     string

	Score           float64
	BaseLikelihood  float64
	ImpactFactor    float64
	Confidence      float64
	Level           string `gorm:"index"`
	SuppressionRule string

	FirstSeen         time.Time
	LastSeen          time.Time `gorm:"index"`
	SeenCount         int
	Active            bool `gorm:"index"`
	CriticalConfirmed bool

	Sightings []SightingModel `gorm:"foreignKey:DetectionID"`
	Anomalies []AnomalyModel  `gorm:"foreignKey:DetectionID"`
}

// SightingModel stores one located observation of a detection.
type SightingModel struct {
	ID          uint   `gorm:"primaryKey"`
	DetectionID string `gorm:"index"`
	Latitude    float64
	Longitude   float64
	Timestamp   time.Time
	RSSI        int
}

// AnomalyModel stores one heuristic finding. Contributing factors are
// JSON-encoded; nothing queries them individually.
type AnomalyModel struct {
	ID          string `gorm:"primaryKey"`
	DetectionID string `gorm:"index"`
	Protocol    string
	Type        string `gorm:"index"`
	Identity    string
	DeviceType  string
	Confidence  float64
	RawScore    float64
	Factors     string
	EventTime   time.Time
	Timestamp   time.Time
	Latitude    float64
	Longitude   float64
	HasFix      bool
}

// NewSQLiteAdapter opens the database, migrates the schema and installs
// query tracing.
func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("installing tracing plugin: %w", err)
	}

	if err := db.AutoMigrate(&DetectionModel{}, &SightingModel{}, &AnomalyModel{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	db.Exec("CREATE INDEX IF NOT EXISTS idx_detections_proto_identity ON detection_models(protocol, identity)")

	return &SQLiteAdapter{db: db}, nil
}

// SaveDetection upserts the aggregate with its sightings and anomalies.
func (a *SQLiteAdapter) SaveDetection(ctx context.Context, d domain.Detection) error {
	model := toModel(d)
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error; err != nil {
			return err
		}
		// Sightings are pruned engine-side; mirror the current window.
		if err := tx.Where("detection_id = ?", model.ID).Delete(&SightingModel{}).Error; err != nil {
			return err
		}
		if len(model.Sightings) > 0 {
			if err := tx.CreateInBatches(model.Sightings, 100).Error; err != nil {
				return err
			}
		}
		if len(model.Anomalies) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(model.Anomalies, 100).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDetection retrieves a detection by ID.
func (a *SQLiteAdapter) GetDetection(ctx context.Context, id string) (*domain.Detection, error) {
	var model DetectionModel
	err := a.db.WithContext(ctx).
		Preload("Sightings").
		Preload("Anomalies").
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDomain(model), nil
}

// ListDetections retrieves detections matching the filter, ordered by
// level and recency.
func (a *SQLiteAdapter) ListDetections(ctx context.Context, filter ports.DetectionFilter) ([]domain.Detection, error) {
	query := a.db.WithContext(ctx).Preload("Sightings").Preload("Anomalies")

	if filter.Protocol != "" {
		query = query.Where("protocol = ?", filter.Protocol)
	}
	if filter.ActiveOnly {
		query = query.Where("active = ?", true)
	}
	if minRank := filter.MinLevel.Rank(); minRank > 0 {
		levels := make([]string, 0, 5)
		for _, lvl := range []domain.ThreatLevel{domain.LevelInfo, domain.LevelLow, domain.LevelMedium, domain.LevelHigh, domain.LevelCritical} {
			if lvl.Rank() >= minRank {
				levels = append(levels, string(lvl))
			}
		}
		query = query.Where("level IN ?", levels)
	}

	var models []DetectionModel
	if err := query.Order("score DESC, last_seen DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Detection, len(models))
	for i, m := range models {
		out[i] = *toDomain(m)
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (a *SQLiteAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
