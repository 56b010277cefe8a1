package services

import (
	"context"
	"fmt"
	"time"

	"RoyRemind/config"
	"RoyRemind/models"

	"go.uber.org/zap"
)

// PreferenceDefaults apply to patients without a preference row and to any field the
// row leaves empty or invalid.
type PreferenceDefaults struct {
	Channel       models.Channel
	ContactWindow models.DailyWindow
	Timezone      string
	Location      *time.Location
	MaxPerDay     int
}

// DefaultsFromConfig parses the configured system defaults.
func DefaultsFromConfig(cfg config.ReminderConfig) (PreferenceDefaults, error) {
	channel, err := models.ParseChannel(cfg.DefaultChannel)
	if err != nil {
		return PreferenceDefaults{}, err
	}
	window, err := models.ParseDailyWindow(cfg.DefaultContactStart, cfg.DefaultContactEnd)
	if err != nil {
		return PreferenceDefaults{}, fmt.Errorf("default contact window: %w", err)
	}
	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return PreferenceDefaults{}, fmt.Errorf("default timezone: %w", err)
	}
	return PreferenceDefaults{
		Channel:       channel,
		ContactWindow: window,
		Timezone:      cfg.DefaultTimezone,
		Location:      loc,
		MaxPerDay:     cfg.DefaultMaxPerDay,
	}, nil
}

type PreferenceResolver struct {
	store    PreferenceStore
	defaults PreferenceDefaults
	logger   *zap.Logger
}

func NewPreferenceResolver(store PreferenceStore, defaults PreferenceDefaults, logger *zap.Logger) *PreferenceResolver {
	return &PreferenceResolver{store: store, defaults: defaults, logger: logger}
}

// Defaults returns the effective preference of a patient with no stored preferences.
func (r *PreferenceResolver) Defaults(patientID string) models.EffectivePreference {
	return models.EffectivePreference{
		PatientID:     patientID,
		Channel:       r.defaults.Channel,
		ContactWindow: r.defaults.ContactWindow,
		Timezone:      r.defaults.Timezone,
		Location:      r.defaults.Location,
		MaxPerDay:     r.defaults.MaxPerDay,
	}
}

// Resolve merges the patient's stored preference over the defaults. It never fails:
// a missing row or an unreadable store yields the defaults.
func (r *PreferenceResolver) Resolve(ctx context.Context, patientID string) models.EffectivePreference {
	eff := r.Defaults(patientID)

	pref, err := r.store.GetPreference(ctx, patientID)
	if err != nil {
		r.logger.Warn("preference lookup failed, using defaults", zap.String("patient_id", patientID), zap.Error(err))
		return eff
	}
	if pref == nil {
		return eff
	}
	return r.merge(eff, *pref)
}

func (r *PreferenceResolver) merge(eff models.EffectivePreference, pref models.PatientPreference) models.EffectivePreference {
	log := r.logger.With(zap.String("patient_id", pref.PatientID))

	if pref.PreferredChannel != "" {
		if c, err := models.ParseChannel(pref.PreferredChannel); err == nil {
			eff.Channel = c
		} else {
			log.Warn("ignoring invalid preferred channel", zap.String("channel", pref.PreferredChannel))
		}
	}

	if pref.ContactWindowStart != "" || pref.ContactWindowEnd != "" {
		if w, err := models.ParseDailyWindow(pref.ContactWindowStart, pref.ContactWindowEnd); err == nil {
			eff.ContactWindow = w
		} else {
			log.Warn("ignoring invalid contact window", zap.Error(err))
		}
	}

	if pref.Timezone != "" {
		if loc, err := time.LoadLocation(pref.Timezone); err == nil {
			eff.Timezone = pref.Timezone
			eff.Location = loc
		} else {
			log.Warn("ignoring unknown timezone", zap.String("timezone", pref.Timezone))
		}
	}

	if w, err := models.ParseDailyWindow(pref.DNDStart, pref.DNDEnd); err == nil {
		eff.DND = w
	} else {
		log.Warn("ignoring invalid do-not-disturb window", zap.Error(err))
	}

	if pref.MaxRemindersPerDay != nil && *pref.MaxRemindersPerDay >= 0 {
		eff.MaxPerDay = *pref.MaxRemindersPerDay
	}

	eff.EmergencyContactAllowed = pref.EmergencyContactAllowed
	eff.OptedOut = pref.OptedOut
	return eff
}
