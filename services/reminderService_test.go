package services

import (
	"context"
	"testing"

	"RoyRemind/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduleAppointment(t *testing.T) {
	env := newTestEnv(t)
	created := env.scheduleVisit(t)

	assert.Equal(t, utc("2024-03-12T14:00:00Z"), created[0].ScheduledSendTime)
	assert.Equal(t, utc("2024-03-14T14:00:00Z"), created[1].ScheduledSendTime)
	assert.Equal(t, utc("2024-03-15T13:00:00Z"), created[2].ScheduledSendTime)
	assert.Len(t, env.store.allInstances(), 3)

	// scheduling again is a no-op
	res, err := env.reminders.ScheduleAppointment(ctxT(t), 1, utc("2024-03-02T12:00:00Z"))
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.SkippedQuota)
	assert.Len(t, env.store.allInstances(), 3)
}

func TestScheduleAppointmentErrors(t *testing.T) {
	env := newTestEnv(t)
	env.seedVisit()

	_, err := env.reminders.ScheduleAppointment(ctxT(t), 42, utc("2024-03-01T12:00:00Z"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, env.store.MarkAppointmentCancelled(ctxT(t), 1, utc("2024-03-01T00:00:00Z")))
	_, err = env.reminders.ScheduleAppointment(ctxT(t), 1, utc("2024-03-01T12:00:00Z"))
	assert.ErrorIs(t, err, ErrAppointmentCancelled)
}

func TestScheduleAppointmentChannelChangeKeepsOneReminderPerRule(t *testing.T) {
	env := newTestEnv(t)
	env.seedVisit()
	sched, err := env.store.GetSchedule(ctxT(t), 1)
	require.NoError(t, err)
	for i := range sched.Rules {
		sched.Rules[i].Channels = []string{"sms", "email"}
	}
	env.store.addSchedule(*sched)

	res, err := env.reminders.ScheduleAppointment(ctxT(t), 1, utc("2024-03-01T12:00:00Z"))
	require.NoError(t, err)
	require.Len(t, res.Created, 3)

	require.NoError(t, env.store.UpsertPreference(ctxT(t), &models.PatientPreference{
		PatientID:        testPatientID,
		PreferredChannel: "email",
	}))
	res, err = env.reminders.ScheduleAppointment(ctxT(t), 1, utc("2024-03-02T12:00:00Z"))
	require.NoError(t, err)
	assert.Empty(t, res.Created)

	perRule := map[uint]int{}
	for _, inst := range env.byState(models.StatePending) {
		perRule[inst.RuleID]++
		assert.Equal(t, models.ChannelSMS, inst.Channel)
	}
	assert.Equal(t, map[uint]int{10: 1, 11: 1, 12: 1}, perRule)
}

func TestScheduleAppointmentCancelledWhileWaitingForLock(t *testing.T) {
	env := newTestEnv(t)
	env.seedVisit()

	env.store.afterGetAppointment = func(id uint) {
		env.store.afterGetAppointment = nil
		_, err := env.reminders.CancelAppointment(ctxT(t), id, utc("2024-03-01T11:59:00Z"))
		require.NoError(t, err)
	}

	_, err := env.reminders.ScheduleAppointment(ctxT(t), 1, utc("2024-03-01T12:00:00Z"))
	assert.ErrorIs(t, err, ErrAppointmentCancelled)
	assert.Empty(t, env.byState(models.StatePending))
	assert.Empty(t, env.store.allInstances())
}

// staleListing misses rows written by a concurrent scheduler.
type staleListing struct {
	*memStore
}

func (staleListing) ListByAppointment(context.Context, uint) ([]models.ReminderInstance, error) {
	return nil, nil
}

func TestScheduleAppointmentReportsOnlyInsertedRows(t *testing.T) {
	env := newTestEnv(t)
	env.scheduleVisit(t)

	stores := env.store.stores()
	stores.Instances = staleListing{env.store}
	svc := NewReminderService(stores, env.prefs, env.locker, ReminderServiceConfig{
		DefaultResponseWindow: testResponseWindow,
	}, zap.NewNop())

	res, err := svc.ScheduleAppointment(ctxT(t), 1, utc("2024-03-02T12:00:00Z"))
	require.NoError(t, err)
	assert.Empty(t, res.Created, "slots another writer took are not reported as created")
	assert.Empty(t, res.SkippedQuota)
	assert.Len(t, env.store.allInstances(), 3)
}

func TestScheduleAppointmentDailyCap(t *testing.T) {
	env := newTestEnv(t)
	env.seedVisit()
	require.NoError(t, env.store.UpsertPreference(ctxT(t), &models.PatientPreference{
		PatientID:          testPatientID,
		MaxRemindersPerDay: intPtr(2),
	}))
	env.store.addSchedule(models.ReminderSchedule{
		ID:              2,
		AppointmentType: strPtr("consult"),
		IsActive:        true,
		Rules: []models.ReminderRule{
			{ID: 50, OffsetMinutes: 360, Channels: []string{"sms"}, TemplateID: testTemplateID},
			{ID: 51, OffsetMinutes: 240, Channels: []string{"sms"}, TemplateID: testTemplateID},
			{ID: 52, OffsetMinutes: 120, Channels: []string{"sms"}, TemplateID: testTemplateID},
		},
	})
	// 16:00 EDT, so all three rules fall on the same local day
	env.store.addAppointment(models.Appointment{
		ID:        2,
		PatientID: testPatientID,
		StartTime: utc("2024-03-20T20:00:00Z"),
		Type:      "consult",
		Status:    models.AppointmentScheduled,
	})

	res, err := env.reminders.ScheduleAppointment(ctxT(t), 2, utc("2024-03-01T12:00:00Z"))
	require.NoError(t, err)
	require.Len(t, res.Created, 2)
	require.Len(t, res.SkippedQuota, 1)
	assert.Equal(t, uint(50), res.Created[0].RuleID)
	assert.Equal(t, uint(51), res.Created[1].RuleID)
	assert.Equal(t, uint(52), res.SkippedQuota[0].RuleID)

	// skipped rows are persisted for audit
	stored := env.store.instance(res.SkippedQuota[0].ID)
	assert.Equal(t, models.StateSkippedQuota, stored.State)
}

func TestScheduleAppointmentIsolatesBrokenSchedule(t *testing.T) {
	env := newTestEnv(t)
	env.seedVisit()
	env.store.addSchedule(models.ReminderSchedule{
		ID:       3,
		IsActive: true,
		Rules:    []models.ReminderRule{{ID: 60, OffsetMinutes: 600, Channels: []string{"sms"}, TemplateID: "gone"}},
	})

	res, err := env.reminders.ScheduleAppointment(ctxT(t), 1, utc("2024-03-01T12:00:00Z"))
	require.NoError(t, err)
	assert.Len(t, res.Created, 3)
	require.Len(t, res.ConfigErrors, 1)
	assert.Equal(t, uint(3), res.ConfigErrors[0].ScheduleID)
}

func TestScheduleAppointmentOptedOut(t *testing.T) {
	env := newTestEnv(t)
	env.seedVisit()
	require.NoError(t, env.store.SetOptedOut(ctxT(t), testPatientID, true))

	res, err := env.reminders.ScheduleAppointment(ctxT(t), 1, utc("2024-03-01T12:00:00Z"))
	require.NoError(t, err)
	assert.True(t, res.OptedOut)
	assert.Empty(t, env.store.allInstances())
}

func TestCancelAppointment(t *testing.T) {
	env := newTestEnv(t)
	insts := env.scheduleVisit(t)

	_, err := env.dispatcher.RunPass(ctxT(t), firstSend)
	require.NoError(t, err)

	res, err := env.reminders.CancelAppointment(ctxT(t), 1, utc("2024-03-13T09:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Cancelled)
	assert.Equal(t, 1, res.InFlight)

	assert.Equal(t, models.StateSent, env.store.instance(insts[0].ID).State)
	assert.Equal(t, models.StateCancelled, env.store.instance(insts[1].ID).State)
	assert.Equal(t, models.StateCancelled, env.store.instance(insts[2].ID).State)

	appt, err := env.store.GetAppointment(ctxT(t), 1)
	require.NoError(t, err)
	assert.True(t, appt.IsCancelled())

	pass, err := env.dispatcher.RunPass(ctxT(t), utc("2024-03-15T14:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, 0, pass.Due)
	assert.Len(t, env.sender.sent(), 1)

	_, err = env.reminders.CancelAppointment(ctxT(t), 99, utc("2024-03-13T09:00:00Z"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOptOut(t *testing.T) {
	env := newTestEnv(t)
	env.scheduleVisit(t)

	_, err := env.dispatcher.RunPass(ctxT(t), firstSend)
	require.NoError(t, err)

	n, err := env.reminders.OptOut(ctxT(t), testPatientID, utc("2024-03-12T16:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, env.byState(models.StateCancelled), 3)

	pref, err := env.store.GetPreference(ctxT(t), testPatientID)
	require.NoError(t, err)
	assert.True(t, pref.OptedOut)

	n, err = env.reminders.OptOut(ctxT(t), testPatientID, utc("2024-03-12T17:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHandleDeliveryReceipt(t *testing.T) {
	env := newTestEnv(t)
	insts := env.scheduleVisit(t)
	_, err := env.dispatcher.RunPass(ctxT(t), firstSend)
	require.NoError(t, err)

	deliveredAt := utc("2024-03-12T14:01:00Z")
	require.NoError(t, env.reminders.HandleDeliveryReceipt(ctxT(t), "ext-1", models.LogDelivered, deliveredAt))

	inst := env.store.instance(insts[0].ID)
	assert.Equal(t, models.StateDelivered, inst.State)
	require.NotNil(t, inst.DeliveredAt)
	assert.Equal(t, deliveredAt, *inst.DeliveredAt)

	// duplicate and later read receipts are recorded on the log but leave the state alone
	require.NoError(t, env.reminders.HandleDeliveryReceipt(ctxT(t), "ext-1", models.LogDelivered, utc("2024-03-12T14:02:00Z")))
	require.NoError(t, env.reminders.HandleDeliveryReceipt(ctxT(t), "ext-1", models.LogRead, utc("2024-03-12T14:03:00Z")))

	inst = env.store.instance(insts[0].ID)
	assert.Equal(t, models.StateDelivered, inst.State)
	assert.Equal(t, deliveredAt, *inst.DeliveredAt)

	logs := env.store.allLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.LogRead, logs[0].Status)
	require.NotNil(t, logs[0].ReadAt)
	assert.Equal(t, deliveredAt, *logs[0].DeliveredAt)

	err = env.reminders.HandleDeliveryReceipt(ctxT(t), "nope", models.LogDelivered, deliveredAt)
	assert.ErrorIs(t, err, ErrNotFound)

	err = env.reminders.HandleDeliveryReceipt(ctxT(t), "ext-1", models.LogQueued, deliveredAt)
	assert.Error(t, err)
}

func TestHandleFailureReceiptEscalates(t *testing.T) {
	env := newTestEnv(t)
	insts := env.scheduleVisit(t, models.EscalationRule{
		Trigger:         models.TriggerSendFailed,
		DelayMinutes:    15,
		FallbackChannel: models.ChannelEmail,
	})
	_, err := env.dispatcher.RunPass(ctxT(t), firstSend)
	require.NoError(t, err)

	require.NoError(t, env.reminders.HandleDeliveryReceipt(ctxT(t), "ext-1", models.LogFailed, utc("2024-03-12T14:01:00Z")))

	assert.Equal(t, models.StateEscalated, env.store.instance(insts[0].ID).State)
	logs := env.store.allLogs()
	assert.Equal(t, models.LogFailed, logs[0].Status)
	require.NotNil(t, logs[0].FailedAt)
	assert.Equal(t, utc("2024-03-12T14:01:00Z"), *logs[0].FailedAt)

	var child models.ReminderInstance
	for _, inst := range env.byState(models.StatePending) {
		if inst.ParentID != nil {
			child = inst
		}
	}
	require.NotEmpty(t, child.ID)
	assert.Equal(t, models.ChannelEmail, child.Channel)
	assert.Equal(t, utc("2024-03-12T14:16:00Z"), child.ScheduledSendTime)
}

func TestHandleInboundReply(t *testing.T) {
	env := newTestEnv(t)
	insts := env.scheduleVisit(t)
	_, err := env.dispatcher.RunPass(ctxT(t), firstSend)
	require.NoError(t, err)

	// wrong channel family or unknown sender
	got, err := env.reminders.HandleInboundReply(ctxT(t), models.ChannelEmail, "+15550100", "C", "", utc("2024-03-12T15:00:00Z"))
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = env.reminders.HandleInboundReply(ctxT(t), models.ChannelSMS, "+15559999", "C", "", utc("2024-03-12T15:00:00Z"))
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = env.reminders.HandleInboundReply(ctxT(t), models.ChannelWhatsApp, "+15550100", "C", "positive", utc("2024-03-12T15:00:00Z"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, insts[0].ID, got.ID)
	assert.Equal(t, models.StateResponded, got.State)
	assert.Equal(t, models.StateResponded, env.store.instance(insts[0].ID).State)

	logs := env.store.allLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "C", logs[0].ResponsePayload)
	assert.Equal(t, "positive", logs[0].Sentiment)
	require.NotNil(t, logs[0].RespondedAt)

	// nothing left awaiting a reply
	got, err = env.reminders.HandleInboundReply(ctxT(t), models.ChannelSMS, "+15550100", "again", "", utc("2024-03-12T15:05:00Z"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHandleInboundReplyOutsideCorrelationWindow(t *testing.T) {
	env := newTestEnv(t)
	env.scheduleVisit(t)
	_, err := env.dispatcher.RunPass(ctxT(t), firstSend)
	require.NoError(t, err)

	got, err := env.reminders.HandleInboundReply(ctxT(t), models.ChannelSMS, "+15550100", "C", "", utc("2024-03-16T14:00:00Z"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepliesOn(t *testing.T) {
	assert.True(t, repliesOn(models.ChannelSMS, models.ChannelSMS))
	assert.True(t, repliesOn(models.ChannelVoice, models.ChannelSMS))
	assert.True(t, repliesOn(models.ChannelSMS, models.ChannelWhatsApp))
	assert.False(t, repliesOn(models.ChannelEmail, models.ChannelSMS))
	assert.False(t, repliesOn(models.ChannelPush, models.ChannelWebhook))
}

func TestListAppointmentReminders(t *testing.T) {
	env := newTestEnv(t)
	env.scheduleVisit(t)
	_, err := env.dispatcher.RunPass(ctxT(t), firstSend)
	require.NoError(t, err)
	require.NoError(t, env.reminders.HandleDeliveryReceipt(ctxT(t), "ext-1", models.LogDelivered, utc("2024-03-12T14:02:00Z")))

	views, err := env.reminders.ListAppointmentReminders(ctxT(t), 1)
	require.NoError(t, err)
	require.Len(t, views, 3)

	assert.Equal(t, models.StateDelivered, views[0].State)
	assert.Equal(t, models.LogDelivered, views[0].LatestLogStatus)
	require.NotNil(t, views[0].LatestLogAt)
	assert.Equal(t, utc("2024-03-12T14:02:00Z"), *views[0].LatestLogAt)

	assert.Empty(t, views[1].LatestLogStatus)
	assert.Nil(t, views[1].LatestLogAt)
}
