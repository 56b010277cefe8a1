package services

import (
	"testing"

	"RoyRemind/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreTemplateRenderer(t *testing.T) {
	store := newMemStore()
	store.addTemplate(models.ReminderTemplate{
		ID:      "ok",
		Subject: "Visit on {{.appointment_time}}",
		Body:    "Hello {{.patient_name}}",
	})
	store.addTemplate(models.ReminderTemplate{ID: "body-only", Body: "Reply C to confirm"})
	store.addTemplate(models.ReminderTemplate{ID: "unknown-var", Body: "Hi {{.nickname}}"})
	store.addTemplate(models.ReminderTemplate{ID: "broken", Body: "Hi {{.patient_name"})

	r := NewStoreTemplateRenderer(store)
	vars := map[string]string{"patient_name": "Jane Doe", "appointment_time": "Fri 10:00"}

	msg, err := r.Render(ctxT(t), "ok", vars)
	require.NoError(t, err)
	assert.Equal(t, RenderedMessage{Subject: "Visit on Fri 10:00", Body: "Hello Jane Doe"}, msg)

	msg, err = r.Render(ctxT(t), "body-only", vars)
	require.NoError(t, err)
	assert.Empty(t, msg.Subject)
	assert.Equal(t, "Reply C to confirm", msg.Body)

	_, err = r.Render(ctxT(t), "unknown-var", vars)
	assert.Error(t, err)

	_, err = r.Render(ctxT(t), "broken", vars)
	assert.Error(t, err)

	_, err = r.Render(ctxT(t), "absent", vars)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}
