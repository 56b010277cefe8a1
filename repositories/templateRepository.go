package repositories

import (
	"context"
	"errors"
	"fmt"

	"RoyRemind/cache"
	"RoyRemind/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TemplateRepository struct {
	db    *gorm.DB
	cache cacheAside
}

func NewTemplateRepository(db *gorm.DB, cache *cache.Cache, logger *zap.Logger) *TemplateRepository {
	return &TemplateRepository{db: db, cache: cacheAside{cache: cache, logger: logger}}
}

func (r *TemplateRepository) GetTemplate(ctx context.Context, id string) (*models.ReminderTemplate, error) {
	key := r.getTemplateCacheKey(id)
	var template models.ReminderTemplate
	if r.cache.get(ctx, key, &template) {
		return &template, nil
	}

	err := r.db.WithContext(ctx).First(&template, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	r.cache.set(ctx, key, template, TemplateCacheExpiry)
	return &template, nil
}

func (r *TemplateRepository) ExistingTemplates(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var present []string
	err := r.db.WithContext(ctx).Model(&models.ReminderTemplate{}).
		Where("id IN ?", ids).
		Pluck("id", &present).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check templates: %w", err)
	}
	for _, id := range present {
		found[id] = true
	}
	return found, nil
}

func (r *TemplateRepository) UpsertTemplate(ctx context.Context, template *models.ReminderTemplate) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"subject", "body"}),
		}).
		Create(template).Error
	if err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	r.cache.evict(ctx, r.getTemplateCacheKey(template.ID))
	return nil
}

func (r *TemplateRepository) getTemplateCacheKey(id string) string {
	return "template_cache:" + id
}
