package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"text/template"

	"RoyRemind/models"
)

type PreferenceService struct {
	store    PreferenceStore
	resolver *PreferenceResolver
}

func NewPreferenceService(store PreferenceStore, resolver *PreferenceResolver) *PreferenceService {
	return &PreferenceService{store: store, resolver: resolver}
}

// Get returns the stored row (nil when the patient has none) and the effective result.
func (s *PreferenceService) Get(ctx context.Context, patientID string) (*models.PatientPreference, models.EffectivePreference, error) {
	stored, err := s.store.GetPreference(ctx, patientID)
	if err != nil {
		return nil, models.EffectivePreference{}, err
	}
	return stored, s.resolver.Resolve(ctx, patientID), nil
}

func (s *PreferenceService) Upsert(ctx context.Context, pref *models.PatientPreference) (models.EffectivePreference, error) {
	if err := s.store.UpsertPreference(ctx, pref); err != nil {
		return models.EffectivePreference{}, fmt.Errorf("failed to save preference: %w", err)
	}
	return s.resolver.Resolve(ctx, pref.PatientID), nil
}

type ScheduleService struct {
	store  ScheduleStore
	timing *TimingResolver
}

func NewScheduleService(store ScheduleStore, templates TemplateStore) *ScheduleService {
	return &ScheduleService{store: store, timing: NewTimingResolver(templates, 0)}
}

// Create stores the schedule with rules ordered as given. A schedule with configuration
// problems is still stored; the problems come back so the operator can fix them.
func (s *ScheduleService) Create(ctx context.Context, sched *models.ReminderSchedule) ([]string, error) {
	for i := range sched.Rules {
		sched.Rules[i].Position = i
	}
	for i := range sched.EscalationRules {
		sched.EscalationRules[i].Position = i
	}
	if err := s.store.CreateSchedule(ctx, sched); err != nil {
		return nil, fmt.Errorf("failed to save schedule: %w", err)
	}

	err := s.timing.Validate(ctx, *sched)
	var cfgErr *ScheduleConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Problems, nil
	}
	return nil, err
}

func (s *ScheduleService) Get(ctx context.Context, id uint) (*models.ReminderSchedule, error) {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil || sched == nil {
		return sched, err
	}
	sort.SliceStable(sched.Rules, func(i, j int) bool { return sched.Rules[i].Position < sched.Rules[j].Position })
	return sched, nil
}

// ErrInvalidTemplate marks template text that does not parse.
var ErrInvalidTemplate = errors.New("invalid reminder template")

type TemplateWriter interface {
	UpsertTemplate(ctx context.Context, template *models.ReminderTemplate) error
}

type TemplateService struct {
	store TemplateWriter
}

func NewTemplateService(store TemplateWriter) *TemplateService {
	return &TemplateService{store: store}
}

// Upsert stores the template after checking that subject and body parse.
func (s *TemplateService) Upsert(ctx context.Context, tpl *models.ReminderTemplate) error {
	for part, text := range map[string]string{"subject": tpl.Subject, "body": tpl.Body} {
		if _, err := template.New(part).Option("missingkey=error").Parse(text); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidTemplate, part, err)
		}
	}
	if err := s.store.UpsertTemplate(ctx, tpl); err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}
