package utils

import (
	"errors"
	"time"

	"RoyRemind/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Validation errors
var (
	ErrInvalidTimeOfDay = errors.New("must be a time of day in HH:MM format")
	ErrInvalidTimezone  = errors.New("must be an IANA timezone name")
	ErrInvalidChannel   = errors.New("must be one of sms, email, voice, push, whatsapp, webhook")
	ErrInvalidTrigger   = errors.New("must be no_response, not_delivered or send_failed")
)

// Rules for optional string fields. Empty values pass; combine with validation.Required
// where the field is mandatory.
var (
	TimeOfDay         = validation.By(validateTimeOfDay)
	Timezone          = validation.By(validateTimezone)
	ChannelName       = validation.By(validateChannel)
	TriggerExpression = validation.By(validateTrigger)
)

func stringValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case *string:
		if v != nil {
			return *v
		}
	}
	return ""
}

func validateTimeOfDay(value interface{}) error {
	s := stringValue(value)
	if s == "" {
		return nil
	}
	if _, err := models.ParseTimeOfDay(s); err != nil {
		return ErrInvalidTimeOfDay
	}
	return nil
}

func validateTimezone(value interface{}) error {
	s := stringValue(value)
	if s == "" {
		return nil
	}
	if _, err := time.LoadLocation(s); err != nil {
		return ErrInvalidTimezone
	}
	return nil
}

func validateChannel(value interface{}) error {
	s := stringValue(value)
	if s == "" {
		return nil
	}
	if _, err := models.ParseChannel(s); err != nil {
		return ErrInvalidChannel
	}
	return nil
}

func validateTrigger(value interface{}) error {
	s := stringValue(value)
	if s == "" {
		return nil
	}
	if _, err := models.ParseTrigger(s); err != nil {
		return ErrInvalidTrigger
	}
	return nil
}
