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

type ScoreRepository struct {
	db    *gorm.DB
	cache cacheAside
}

func NewScoreRepository(db *gorm.DB, cache *cache.Cache, logger *zap.Logger) *ScoreRepository {
	return &ScoreRepository{db: db, cache: cacheAside{cache: cache, logger: logger}}
}

func (r *ScoreRepository) UpsertScore(ctx context.Context, score *models.EngagementScore) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "patient_id"}},
			UpdateAll: true,
		}).
		Create(score).Error
	if err != nil {
		return fmt.Errorf("failed to save engagement score: %w", err)
	}
	r.cache.set(ctx, r.getScoreCacheKey(score.PatientID), score, ScoreCacheExpiry)
	return nil
}

func (r *ScoreRepository) GetScore(ctx context.Context, patientID string) (*models.EngagementScore, error) {
	key := r.getScoreCacheKey(patientID)
	var score models.EngagementScore
	if r.cache.get(ctx, key, &score) {
		return &score, nil
	}

	err := r.db.WithContext(ctx).First(&score, "patient_id = ?", patientID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get engagement score: %w", err)
	}

	r.cache.set(ctx, key, score, ScoreCacheExpiry)
	return &score, nil
}

func (r *ScoreRepository) getScoreCacheKey(patientID string) string {
	return "engagement_score_cache:" + patientID
}
