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

type ScheduleRepository struct {
	db    *gorm.DB
	cache cacheAside
}

func NewScheduleRepository(db *gorm.DB, cache *cache.Cache, logger *zap.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, cache: cacheAside{cache: cache, logger: logger}}
}

func (r *ScheduleRepository) withRules(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Rules", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") }).
		Preload("EscalationRules", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") })
}

func (r *ScheduleRepository) ListActiveSchedules(ctx context.Context, appointmentType string) ([]models.ReminderSchedule, error) {
	key := r.getActiveSchedulesCacheKey(appointmentType)
	var schedules []models.ReminderSchedule
	if r.cache.get(ctx, key, &schedules) {
		return schedules, nil
	}

	err := r.withRules(r.db.WithContext(ctx)).
		Where("is_active = ? AND (appointment_type IS NULL OR appointment_type = ?)", true, appointmentType).
		Order("id").
		Find(&schedules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	r.cache.set(ctx, key, schedules, ScheduleCacheExpiry)
	return schedules, nil
}

func (r *ScheduleRepository) GetSchedule(ctx context.Context, id uint) (*models.ReminderSchedule, error) {
	key := r.getScheduleCacheKey(id)
	var schedule models.ReminderSchedule
	if r.cache.get(ctx, key, &schedule) {
		return &schedule, nil
	}

	err := r.withRules(r.db.WithContext(ctx)).First(&schedule, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	r.cache.set(ctx, key, schedule, ScheduleCacheExpiry)
	return &schedule, nil
}

// CreateSchedule stores the schedule with its rules in one statement group.
func (r *ScheduleRepository) CreateSchedule(ctx context.Context, schedule *models.ReminderSchedule) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(schedule).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	r.cache.evictPattern(ctx, "schedules_active_cache:*")
	return nil
}

func (r *ScheduleRepository) getScheduleCacheKey(id uint) string {
	return fmt.Sprintf("schedule_cache:%d", id)
}

func (r *ScheduleRepository) getActiveSchedulesCacheKey(appointmentType string) string {
	return "schedules_active_cache:" + appointmentType
}
