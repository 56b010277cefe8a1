package services

import (
	"context"
	"testing"
	"time"

	"RoyRemind/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testPatientID      = "p-1"
	testTemplateID     = "tpl-visit"
	testResponseWindow = 24 * time.Hour
)

var newYork = mustLocation("America/New_York")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func window(start, end string) models.DailyWindow {
	w, err := models.ParseDailyWindow(start, end)
	if err != nil {
		panic(err)
	}
	return w
}

func testDefaults() PreferenceDefaults {
	return PreferenceDefaults{
		Channel:       models.ChannelSMS,
		ContactWindow: window("09:00", "18:00"),
		Timezone:      "America/New_York",
		Location:      newYork,
		MaxPerDay:     3,
	}
}

// nyPref is the default effective preference: sms, 09:00-18:00 New York, cap 3.
func nyPref() models.EffectivePreference {
	return NewPreferenceResolver(newMemStore(), testDefaults(), zap.NewNop()).Defaults(testPatientID)
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

type testEnv struct {
	store      *memStore
	sender     *fakeSender
	prefs      *PreferenceResolver
	locker     *LocalPatientLocker
	claimer    *MemorySendClaimer
	reminders  *ReminderService
	dispatcher *Dispatcher
	monitor    *EscalationMonitor
}

func testDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:             100,
		Concurrency:           4,
		SendTimeout:           time.Second,
		DefaultResponseWindow: testResponseWindow,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newMemStore()
	logger := zap.NewNop()
	prefs := NewPreferenceResolver(store, testDefaults(), logger)
	locker := NewLocalPatientLocker()
	claimer := NewMemorySendClaimer()
	sender := &fakeSender{}
	cfg := testDispatcherConfig()

	return &testEnv{
		store:   store,
		sender:  sender,
		prefs:   prefs,
		locker:  locker,
		claimer: claimer,
		reminders: NewReminderService(store.stores(), prefs, locker, ReminderServiceConfig{
			ReplyCorrelationWindow: 72 * time.Hour,
			DefaultResponseWindow:  testResponseWindow,
		}, logger),
		dispatcher: NewDispatcher(store.stores(), prefs, NewStoreTemplateRenderer(store), sender, locker, claimer, cfg, logger),
		monitor:    NewEscalationMonitor(store.stores(), prefs, locker, cfg, logger),
	}
}

// seedVisit stores a patient, a template, a 10:00 EDT appointment on 2024-03-15 and the
// three-step visit schedule (3 days, 1 day, 2 hours on sms) with the given escalation rules.
func (e *testEnv) seedVisit(escalations ...models.EscalationRule) models.Appointment {
	e.store.addPatient(models.Patient{
		ID:        testPatientID,
		FirstName: "Jane",
		LastName:  "Doe",
		Phone:     "+15550100",
		Email:     "jane@example.com",
	})
	e.store.addTemplate(models.ReminderTemplate{
		ID:      testTemplateID,
		Subject: "Upcoming {{.appointment_type}}",
		Body:    "Hi {{.patient_name}}, see you {{.appointment_time}}.",
	})
	for i := range escalations {
		escalations[i].ScheduleID = 1
		escalations[i].Position = i
		if escalations[i].ID == 0 {
			escalations[i].ID = uint(20 + i)
		}
	}
	e.store.addSchedule(models.ReminderSchedule{
		ID:              1,
		Name:            "visit",
		AppointmentType: strPtr("cleaning"),
		IsActive:        true,
		Rules: []models.ReminderRule{
			{ID: 10, ScheduleID: 1, Position: 0, OffsetMinutes: 4320, Channels: []string{"sms"}, TemplateID: testTemplateID},
			{ID: 11, ScheduleID: 1, Position: 1, OffsetMinutes: 1440, Channels: []string{"sms"}, TemplateID: testTemplateID},
			{ID: 12, ScheduleID: 1, Position: 2, OffsetMinutes: 120, Channels: []string{"sms"}, TemplateID: testTemplateID},
		},
		EscalationRules: escalations,
	})
	appt := models.Appointment{
		ID:        1,
		PatientID: testPatientID,
		StartTime: utc("2024-03-15T14:00:00Z"),
		Type:      "cleaning",
		Status:    models.AppointmentScheduled,
	}
	e.store.addAppointment(appt)
	return appt
}

// scheduleVisit seeds and schedules the visit from 2024-03-01.
func (e *testEnv) scheduleVisit(t *testing.T, escalations ...models.EscalationRule) []models.ReminderInstance {
	t.Helper()
	appt := e.seedVisit(escalations...)
	res, err := e.reminders.ScheduleAppointment(ctxT(t), appt.ID, utc("2024-03-01T12:00:00Z"))
	require.NoError(t, err)
	require.Len(t, res.Created, 3)
	return res.Created
}

func (e *testEnv) byState(state models.InstanceState) []models.ReminderInstance {
	var out []models.ReminderInstance
	for _, inst := range e.store.allInstances() {
		if inst.State == state {
			out = append(out, inst)
		}
	}
	return out
}
