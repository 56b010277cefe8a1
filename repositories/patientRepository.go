package repositories

import (
	"context"
	"errors"
	"fmt"

	"RoyRemind/cache"
	"RoyRemind/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PatientRepository serves contact details for outbound messages.
type PatientRepository struct {
	db    *gorm.DB
	cache cacheAside
}

func NewPatientRepository(db *gorm.DB, cache *cache.Cache, logger *zap.Logger) *PatientRepository {
	return &PatientRepository{db: db, cache: cacheAside{cache: cache, logger: logger}}
}

func (r *PatientRepository) GetPatient(ctx context.Context, id string) (*models.Patient, error) {
	key := r.getPatientCacheKey(id)
	var patient models.Patient
	if r.cache.get(ctx, key, &patient) {
		return &patient, nil
	}

	err := r.db.WithContext(ctx).
		Select("id, first_name, last_name, phone, email, push_token, whatsapp, webhook_url, created_at").
		First(&patient, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}

	r.cache.set(ctx, key, patient, PatientCacheExpiry)
	return &patient, nil
}

func (r *PatientRepository) EvictPatient(ctx context.Context, id string) {
	r.cache.evict(ctx, r.getPatientCacheKey(id))
}

func (r *PatientRepository) getPatientCacheKey(id string) string {
	return "patient_cache:" + id
}
