package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RoyRemind/models"
	"RoyRemind/services"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var openStates = []models.InstanceState{models.StatePending, models.StateSent, models.StateDelivered}

// InstanceRepository persists reminder instances. Instances change on every dispatch and
// delivery event so they are never cached.
type InstanceRepository struct {
	db *gorm.DB
}

func NewInstanceRepository(db *gorm.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

// CreateInstances inserts row by row so a slot taken by a concurrent writer is reported
// back as not created instead of being counted.
func (r *InstanceRepository) CreateInstances(ctx context.Context, instances []models.ReminderInstance) ([]models.ReminderInstance, error) {
	if len(instances) == 0 {
		return nil, nil
	}
	var created []models.ReminderInstance
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range instances {
			inserted, err := insertIgnoringConflict(tx, &instances[i])
			if err != nil {
				return fmt.Errorf("failed to create reminder instances: %w", err)
			}
			if inserted {
				created = append(created, instances[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func insertIgnoringConflict(tx *gorm.DB, inst *models.ReminderInstance) (bool, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(inst)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *InstanceRepository) GetInstance(ctx context.Context, id string) (*models.ReminderInstance, error) {
	var inst models.ReminderInstance
	err := r.db.WithContext(ctx).First(&inst, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reminder instance: %w", err)
	}
	return &inst, nil
}

func (r *InstanceRepository) ListByAppointment(ctx context.Context, appointmentID uint) ([]models.ReminderInstance, error) {
	var instances []models.ReminderInstance
	err := r.db.WithContext(ctx).
		Where("appointment_id = ?", appointmentID).
		Order("scheduled_send_time, attempt_count").
		Find(&instances).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder instances: %w", err)
	}
	return instances, nil
}

func (r *InstanceRepository) ListByPatient(ctx context.Context, patientID string, from, to time.Time) ([]models.ReminderInstance, error) {
	var instances []models.ReminderInstance
	err := r.db.WithContext(ctx).
		Where("patient_id = ? AND scheduled_send_time >= ? AND scheduled_send_time < ?", patientID, from, to).
		Order("scheduled_send_time").
		Find(&instances).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list patient reminder instances: %w", err)
	}
	return instances, nil
}

func (r *InstanceRepository) ListOpenByPatient(ctx context.Context, patientID string) ([]models.ReminderInstance, error) {
	var instances []models.ReminderInstance
	err := r.db.WithContext(ctx).
		Where("patient_id = ? AND state IN ?", patientID, openStates).
		Order("scheduled_send_time").
		Find(&instances).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open reminder instances: %w", err)
	}
	return instances, nil
}

func (r *InstanceRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ReminderInstance, error) {
	var instances []models.ReminderInstance
	err := r.db.WithContext(ctx).
		Where("state = ? AND scheduled_send_time <= ?", models.StatePending, now).
		Order("scheduled_send_time, patient_id").
		Limit(limit).
		Find(&instances).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due reminder instances: %w", err)
	}
	return instances, nil
}

func (r *InstanceRepository) ListTimedOut(ctx context.Context, now time.Time, limit int) ([]models.ReminderInstance, error) {
	var instances []models.ReminderInstance
	err := r.db.WithContext(ctx).
		Where("state IN ? AND deadline_at <= ?", []models.InstanceState{models.StateSent, models.StateDelivered}, now).
		Order("deadline_at, patient_id").
		Limit(limit).
		Find(&instances).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list timed out reminder instances: %w", err)
	}
	return instances, nil
}

// UpdateInstance is an optimistic write guarded by the row version.
func (r *InstanceRepository) UpdateInstance(ctx context.Context, inst *models.ReminderInstance, child *models.ReminderInstance) (bool, error) {
	childCreated := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ReminderInstance{}).
			Where("id = ? AND version = ?", inst.ID, inst.Version).
			Updates(map[string]interface{}{
				"state":               inst.State,
				"last_outcome":        inst.LastOutcome,
				"scheduled_send_time": inst.ScheduledSendTime,
				"sent_at":             inst.SentAt,
				"delivered_at":        inst.DeliveredAt,
				"responded_at":        inst.RespondedAt,
				"closed_at":           inst.ClosedAt,
				"deadline_at":         inst.DeadlineAt,
				"version":             gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update reminder instance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return services.ErrConcurrencyConflict
		}
		if child == nil {
			return nil
		}
		inserted, err := insertIgnoringConflict(tx, child)
		if err != nil {
			return fmt.Errorf("failed to create escalation instance: %w", err)
		}
		childCreated = inserted
		return nil
	})
	if err != nil {
		return false, err
	}
	inst.Version++
	return childCreated, nil
}
