package repositories

import (
	"RoyRemind/cache"
	"RoyRemind/services"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	_ services.AppointmentStore = (*AppointmentRepository)(nil)
	_ services.PatientStore     = (*PatientRepository)(nil)
	_ services.PreferenceStore  = (*PreferenceRepository)(nil)
	_ services.ScheduleStore    = (*ScheduleRepository)(nil)
	_ services.TemplateStore    = (*TemplateRepository)(nil)
	_ services.TemplateWriter   = (*TemplateRepository)(nil)
	_ services.InstanceStore    = (*InstanceRepository)(nil)
	_ services.LogStore         = (*LogRepository)(nil)
	_ services.ScoreStore       = (*ScoreRepository)(nil)
)

// NewStores builds the Postgres-backed persistence layer. cache may be nil.
func NewStores(db *gorm.DB, cache *cache.Cache, logger *zap.Logger) services.Stores {
	return services.Stores{
		Appointments: NewAppointmentRepository(db),
		Patients:     NewPatientRepository(db, cache, logger),
		Preferences:  NewPreferenceRepository(db, cache, logger),
		Schedules:    NewScheduleRepository(db, cache, logger),
		Templates:    NewTemplateRepository(db, cache, logger),
		Instances:    NewInstanceRepository(db),
		Logs:         NewLogRepository(db),
		Scores:       NewScoreRepository(db, cache, logger),
	}
}
