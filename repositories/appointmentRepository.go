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

// AppointmentRepository reads appointments without caching: a cancellation must be
// visible to the very next dispatch pass.
type AppointmentRepository struct {
	db *gorm.DB
}

func NewAppointmentRepository(db *gorm.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

func (r *AppointmentRepository) GetAppointment(ctx context.Context, id uint) (*models.Appointment, error) {
	var appointment models.Appointment
	err := r.db.WithContext(ctx).First(&appointment, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return &appointment, nil
}

func (r *AppointmentRepository) MarkAppointmentCancelled(ctx context.Context, id uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.AppointmentCancelled,
			"cancelled_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to cancel appointment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: appointment %d", services.ErrNotFound, id)
	}
	return nil
}

func (r *AppointmentRepository) AttendanceStats(ctx context.Context, patientID string, since, until time.Time) (int, int, error) {
	var row struct {
		Total   int
		NoShows int
	}
	err := r.db.WithContext(ctx).Model(&models.Appointment{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS no_shows", models.AppointmentNoShow).
		Where("patient_id = ? AND start_time >= ? AND start_time < ? AND status IN ?",
			patientID, since, until, []string{models.AppointmentFulfilled, models.AppointmentNoShow}).
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count appointments: %w", err)
	}
	return row.Total, row.NoShows, nil
}
