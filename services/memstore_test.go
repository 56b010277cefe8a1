package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"RoyRemind/models"
)

// memStore is an in-memory implementation of every store interface.
type memStore struct {
	mu           sync.Mutex
	appointments map[uint]models.Appointment
	patients     map[string]models.Patient
	prefs        map[string]models.PatientPreference
	schedules    map[uint]models.ReminderSchedule
	templates    map[string]models.ReminderTemplate
	instances    map[string]models.ReminderInstance
	logs         []models.CommunicationLog
	scores       map[string]models.EngagementScore
	nextSchedule uint
	evicted      []string

	// beforeUpdate runs inside UpdateInstance before the version check.
	beforeUpdate func(id string, stored *models.ReminderInstance)
	// afterGetAppointment runs after GetAppointment returns its copy, outside the lock.
	afterGetAppointment func(id uint)
}

func newMemStore() *memStore {
	return &memStore{
		appointments: map[uint]models.Appointment{},
		patients:     map[string]models.Patient{},
		prefs:        map[string]models.PatientPreference{},
		schedules:    map[uint]models.ReminderSchedule{},
		templates:    map[string]models.ReminderTemplate{},
		instances:    map[string]models.ReminderInstance{},
		scores:       map[string]models.EngagementScore{},
	}
}

func (m *memStore) stores() Stores {
	return Stores{
		Appointments: m,
		Patients:     m,
		Preferences:  m,
		Schedules:    m,
		Templates:    m,
		Instances:    m,
		Logs:         m,
		Scores:       m,
	}
}

func cloneInstance(inst models.ReminderInstance) models.ReminderInstance {
	inst.ChainChannels = append([]string(nil), inst.ChainChannels...)
	return inst
}

// seeding helpers

func (m *memStore) addAppointment(a models.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[a.ID] = a
}

func (m *memStore) addPatient(p models.Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

func (m *memStore) addTemplate(t models.ReminderTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = t
}

func (m *memStore) addSchedule(s models.ReminderSchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
}

func (m *memStore) putInstance(inst models.ReminderInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[inst.ID] = cloneInstance(inst)
}

func (m *memStore) instance(id string) models.ReminderInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneInstance(m.instances[id])
}

func (m *memStore) allInstances() []models.ReminderInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ReminderInstance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, cloneInstance(inst))
	}
	sortBySendTime(out)
	return out
}

func (m *memStore) allLogs() []models.CommunicationLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CommunicationLog(nil), m.logs...)
}

// AppointmentStore

func (m *memStore) GetAppointment(_ context.Context, id uint) (*models.Appointment, error) {
	m.mu.Lock()
	a, ok := m.appointments[id]
	hook := m.afterGetAppointment
	m.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memStore) MarkAppointmentCancelled(_ context.Context, id uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return fmt.Errorf("appointment %d missing", id)
	}
	a.Status = models.AppointmentCancelled
	a.CancelledAt = &at
	m.appointments[id] = a
	return nil
}

func (m *memStore) AttendanceStats(_ context.Context, patientID string, since, until time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total, noShows := 0, 0
	for _, a := range m.appointments {
		if a.PatientID != patientID || a.StartTime.Before(since) || !a.StartTime.Before(until) {
			continue
		}
		switch a.Status {
		case models.AppointmentFulfilled:
			total++
		case models.AppointmentNoShow:
			total++
			noShows++
		}
	}
	return total, noShows, nil
}

// PatientStore

func (m *memStore) GetPatient(_ context.Context, id string) (*models.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) EvictPatient(_ context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evicted = append(m.evicted, id)
}

func (m *memStore) evictions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.evicted...)
}

// PreferenceStore

func (m *memStore) GetPreference(_ context.Context, patientID string) (*models.PatientPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[patientID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) UpsertPreference(_ context.Context, pref *models.PatientPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[pref.PatientID] = *pref
	return nil
}

func (m *memStore) SetOptedOut(_ context.Context, patientID string, optedOut bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.prefs[patientID]
	p.PatientID = patientID
	p.OptedOut = optedOut
	m.prefs[patientID] = p
	return nil
}

// ScheduleStore

func (m *memStore) ListActiveSchedules(_ context.Context, appointmentType string) ([]models.ReminderSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ReminderSchedule
	for _, s := range m.schedules {
		if s.IsActive && s.AppliesTo(appointmentType) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetSchedule(_ context.Context, id uint) (*models.ReminderSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) CreateSchedule(_ context.Context, s *models.ReminderSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSchedule++
	s.ID = m.nextSchedule + 1000
	for i := range s.Rules {
		s.Rules[i].ScheduleID = s.ID
		s.Rules[i].ID = s.ID*100 + uint(i) + 1
	}
	for i := range s.EscalationRules {
		s.EscalationRules[i].ScheduleID = s.ID
		s.EscalationRules[i].ID = s.ID*100 + 50 + uint(i)
	}
	m.schedules[s.ID] = *s
	return nil
}

// TemplateStore

func (m *memStore) GetTemplate(_ context.Context, id string) (*models.ReminderTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memStore) UpsertTemplate(_ context.Context, t *models.ReminderTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = *t
	return nil
}

func (m *memStore) ExistingTemplates(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.templates[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

// InstanceStore

func (m *memStore) slotTaken(inst models.ReminderInstance) bool {
	for _, existing := range m.instances {
		if existing.DispatchKey() == inst.DispatchKey() {
			return true
		}
	}
	return false
}

func (m *memStore) CreateInstances(_ context.Context, insts []models.ReminderInstance) ([]models.ReminderInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var created []models.ReminderInstance
	for _, inst := range insts {
		if m.slotTaken(inst) {
			continue
		}
		m.instances[inst.ID] = cloneInstance(inst)
		created = append(created, cloneInstance(inst))
	}
	return created, nil
}

func (m *memStore) GetInstance(_ context.Context, id string) (*models.ReminderInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, nil
	}
	c := cloneInstance(inst)
	return &c, nil
}

func (m *memStore) filter(keep func(models.ReminderInstance) bool) []models.ReminderInstance {
	var out []models.ReminderInstance
	for _, inst := range m.instances {
		if keep(inst) {
			out = append(out, cloneInstance(inst))
		}
	}
	return out
}

func (m *memStore) ListByAppointment(_ context.Context, appointmentID uint) ([]models.ReminderInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filter(func(i models.ReminderInstance) bool { return i.AppointmentID == appointmentID })
	sortBySendTime(out)
	return out, nil
}

func (m *memStore) ListByPatient(_ context.Context, patientID string, from, to time.Time) ([]models.ReminderInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filter(func(i models.ReminderInstance) bool {
		return i.PatientID == patientID && !i.ScheduledSendTime.Before(from) && i.ScheduledSendTime.Before(to)
	})
	sortBySendTime(out)
	return out, nil
}

func (m *memStore) ListOpenByPatient(_ context.Context, patientID string) ([]models.ReminderInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filter(func(i models.ReminderInstance) bool {
		return i.PatientID == patientID && (i.State == models.StatePending || i.State.Awaiting())
	})
	sortBySendTime(out)
	return out, nil
}

func (m *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]models.ReminderInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filter(func(i models.ReminderInstance) bool {
		return i.State == models.StatePending && !i.ScheduledSendTime.After(now)
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ScheduledSendTime.Equal(out[j].ScheduledSendTime) {
			return out[i].ScheduledSendTime.Before(out[j].ScheduledSendTime)
		}
		return out[i].PatientID < out[j].PatientID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListTimedOut(_ context.Context, now time.Time, limit int) ([]models.ReminderInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filter(func(i models.ReminderInstance) bool {
		return i.State.Awaiting() && i.DeadlineAt != nil && !i.DeadlineAt.After(now)
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DeadlineAt.Equal(*out[j].DeadlineAt) {
			return out[i].DeadlineAt.Before(*out[j].DeadlineAt)
		}
		return out[i].PatientID < out[j].PatientID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateInstance(_ context.Context, inst *models.ReminderInstance, child *models.ReminderInstance) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.instances[inst.ID]
	if !ok {
		return false, fmt.Errorf("instance %s missing", inst.ID)
	}
	if m.beforeUpdate != nil {
		m.beforeUpdate(inst.ID, &stored)
		m.instances[inst.ID] = stored
	}
	if stored.Version != inst.Version {
		return false, ErrConcurrencyConflict
	}
	inst.Version++
	m.instances[inst.ID] = cloneInstance(*inst)
	if child == nil || m.slotTaken(*child) {
		return false, nil
	}
	m.instances[child.ID] = cloneInstance(*child)
	return true, nil
}

// LogStore

func (m *memStore) AppendLog(_ context.Context, l *models.CommunicationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *l)
	return nil
}

func (m *memStore) findLog(id string) *models.CommunicationLog {
	for i := range m.logs {
		if m.logs[i].ID == id {
			return &m.logs[i]
		}
	}
	return nil
}

func (m *memStore) FindLogByExternalID(_ context.Context, externalID string) (*models.CommunicationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		if l.ExternalID == externalID {
			c := l
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) RecentLogsForRecipient(_ context.Context, address string, since time.Time) ([]models.CommunicationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CommunicationLog
	for _, l := range m.logs {
		if l.Recipient == address && l.SentAt != nil && !l.SentAt.Before(since) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.After(*out[j].SentAt) })
	return out, nil
}

func (m *memStore) LatestLogs(_ context.Context, ids []string) (map[string]models.CommunicationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[string]models.CommunicationLog)
	for _, l := range m.logs {
		if !want[l.InstanceID] {
			continue
		}
		if prev, ok := out[l.InstanceID]; !ok || !l.QueuedAt.Before(prev.QueuedAt) {
			out[l.InstanceID] = l
		}
	}
	return out, nil
}

func (m *memStore) MarkDelivered(_ context.Context, logID string, status models.LogStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.findLog(logID)
	if l == nil {
		return fmt.Errorf("log %s missing", logID)
	}
	if status == models.LogRead {
		l.ReadAt = &at
	} else if l.DeliveredAt == nil {
		l.DeliveredAt = &at
	}
	l.Status = status
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, logID string, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.findLog(logID)
	if l == nil {
		return fmt.Errorf("log %s missing", logID)
	}
	l.Status = models.LogFailed
	l.Error = reason
	l.FailedAt = &at
	return nil
}

func (m *memStore) RecordResponse(_ context.Context, logID string, payload, sentiment string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.findLog(logID)
	if l == nil {
		return fmt.Errorf("log %s missing", logID)
	}
	l.ResponsePayload = payload
	l.Sentiment = sentiment
	l.RespondedAt = &at
	return nil
}

func (m *memStore) ListLogsSince(_ context.Context, since time.Time) ([]models.CommunicationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CommunicationLog
	for _, l := range m.logs {
		if !l.QueuedAt.Before(since) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) ListLogsByPatient(_ context.Context, patientID string, since time.Time) ([]models.CommunicationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CommunicationLog
	for _, l := range m.logs {
		if l.PatientID == patientID && !l.QueuedAt.Before(since) {
			out = append(out, l)
		}
	}
	return out, nil
}

// ScoreStore

func (m *memStore) UpsertScore(_ context.Context, s *models.EngagementScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[s.PatientID] = *s
	return nil
}

func (m *memStore) GetScore(_ context.Context, patientID string) (*models.EngagementScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scores[patientID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// fakeSender records calls and answers per channel.
type fakeSender struct {
	mu      sync.Mutex
	calls   []fakeCall
	reject  map[models.Channel]string
	err     error
	block   bool
	counter int
}

type fakeCall struct {
	Channel   models.Channel
	Recipient RecipientInfo
	Message   RenderedMessage
}

func (f *fakeSender) Send(ctx context.Context, channel models.Channel, recipient RecipientInfo, msg RenderedMessage) (SendResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Channel: channel, Recipient: recipient, Message: msg})
	f.counter++
	id := fmt.Sprintf("ext-%d", f.counter)
	block, err := f.block, f.err
	reason, rejected := f.reject[channel]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return SendResult{}, ctx.Err()
	}
	if err != nil {
		return SendResult{}, err
	}
	if rejected {
		return SendResult{Accepted: false, ExternalID: id, Error: reason}, nil
	}
	return SendResult{Accepted: true, ExternalID: id, Cost: 0.01}, nil
}

func (f *fakeSender) sent() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCall(nil), f.calls...)
}
