package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RoyRemind/models"
	"RoyRemind/services"

	"gorm.io/gorm"
)

// LogRepository is the append-only communication log.
type LogRepository struct {
	db *gorm.DB
}

func NewLogRepository(db *gorm.DB) *LogRepository {
	return &LogRepository{db: db}
}

func (r *LogRepository) AppendLog(ctx context.Context, log *models.CommunicationLog) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to append communication log: %w", err)
	}
	return nil
}

func (r *LogRepository) FindLogByExternalID(ctx context.Context, externalID string) (*models.CommunicationLog, error) {
	var entry models.CommunicationLog
	err := r.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		Order("queued_at DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find communication log: %w", err)
	}
	return &entry, nil
}

func (r *LogRepository) RecentLogsForRecipient(ctx context.Context, address string, since time.Time) ([]models.CommunicationLog, error) {
	var logs []models.CommunicationLog
	err := r.db.WithContext(ctx).
		Where("recipient = ? AND sent_at >= ?", address, since).
		Order("sent_at DESC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recipient logs: %w", err)
	}
	return logs, nil
}

func (r *LogRepository) LatestLogs(ctx context.Context, instanceIDs []string) (map[string]models.CommunicationLog, error) {
	latest := make(map[string]models.CommunicationLog, len(instanceIDs))
	if len(instanceIDs) == 0 {
		return latest, nil
	}
	var logs []models.CommunicationLog
	err := r.db.WithContext(ctx).
		Raw(`SELECT DISTINCT ON (instance_id) * FROM communication_log
			WHERE instance_id IN ? ORDER BY instance_id, queued_at DESC`, instanceIDs).
		Scan(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load latest logs: %w", err)
	}
	for _, l := range logs {
		latest[l.InstanceID] = l
	}
	return latest, nil
}

// MarkDelivered promotes the transport status. A read receipt also implies delivery, and
// a late delivered receipt never demotes a read row.
func (r *LogRepository) MarkDelivered(ctx context.Context, logID string, status models.LogStatus, at time.Time) error {
	updates := map[string]interface{}{
		"status":       gorm.Expr("CASE WHEN status = ? THEN status ELSE ? END", models.LogRead, status),
		"delivered_at": gorm.Expr("COALESCE(delivered_at, ?)", at),
	}
	if status == models.LogRead {
		updates["read_at"] = at
	}
	return r.update(ctx, logID, updates, "failed to mark log delivered")
}

func (r *LogRepository) MarkFailed(ctx context.Context, logID string, reason string, at time.Time) error {
	return r.update(ctx, logID, map[string]interface{}{
		"status":    models.LogFailed,
		"error":     reason,
		"failed_at": at,
	}, "failed to mark log failed")
}

func (r *LogRepository) RecordResponse(ctx context.Context, logID string, payload, sentiment string, at time.Time) error {
	return r.update(ctx, logID, map[string]interface{}{
		"response_payload": payload,
		"sentiment":        sentiment,
		"responded_at":     at,
	}, "failed to record response")
}

func (r *LogRepository) update(ctx context.Context, logID string, updates map[string]interface{}, msg string) error {
	res := r.db.WithContext(ctx).Model(&models.CommunicationLog{}).Where("id = ?", logID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("%s: %w", msg, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: communication log %s", services.ErrNotFound, logID)
	}
	return nil
}

func (r *LogRepository) ListLogsSince(ctx context.Context, since time.Time) ([]models.CommunicationLog, error) {
	var logs []models.CommunicationLog
	err := r.db.WithContext(ctx).
		Where("queued_at >= ?", since).
		Order("patient_id, queued_at").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	return logs, nil
}

func (r *LogRepository) ListLogsByPatient(ctx context.Context, patientID string, since time.Time) ([]models.CommunicationLog, error) {
	var logs []models.CommunicationLog
	err := r.db.WithContext(ctx).
		Where("patient_id = ? AND queued_at >= ?", patientID, since).
		Order("queued_at").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list patient logs: %w", err)
	}
	return logs, nil
}
