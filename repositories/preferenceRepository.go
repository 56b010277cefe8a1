package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RoyRemind/cache"
	"RoyRemind/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PreferenceRepository struct {
	db    *gorm.DB
	cache cacheAside
}

func NewPreferenceRepository(db *gorm.DB, cache *cache.Cache, logger *zap.Logger) *PreferenceRepository {
	return &PreferenceRepository{db: db, cache: cacheAside{cache: cache, logger: logger}}
}

func (r *PreferenceRepository) GetPreference(ctx context.Context, patientID string) (*models.PatientPreference, error) {
	key := r.getPreferenceCacheKey(patientID)
	var pref models.PatientPreference
	if r.cache.get(ctx, key, &pref) {
		return &pref, nil
	}

	err := r.db.WithContext(ctx).First(&pref, "patient_id = ?", patientID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get preference: %w", err)
	}

	r.cache.set(ctx, key, pref, PreferenceCacheExpiry)
	return &pref, nil
}

func (r *PreferenceRepository) UpsertPreference(ctx context.Context, pref *models.PatientPreference) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "patient_id"}},
			UpdateAll: true,
		}).
		Create(pref).Error
	if err != nil {
		return fmt.Errorf("failed to upsert preference: %w", err)
	}
	r.cache.evict(ctx, r.getPreferenceCacheKey(pref.PatientID))
	return nil
}

// SetOptedOut flips only the opt-out flag, creating a bare preference row when the
// patient has none yet.
func (r *PreferenceRepository) SetOptedOut(ctx context.Context, patientID string, optedOut bool) error {
	pref := models.PatientPreference{PatientID: patientID, OptedOut: optedOut, UpdatedAt: time.Now()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "patient_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"opted_out", "updated_at"}),
		}).
		Create(&pref).Error
	if err != nil {
		return fmt.Errorf("failed to set opt-out: %w", err)
	}
	r.cache.evict(ctx, r.getPreferenceCacheKey(patientID))
	return nil
}

func (r *PreferenceRepository) getPreferenceCacheKey(patientID string) string {
	return "preference_cache:" + patientID
}
