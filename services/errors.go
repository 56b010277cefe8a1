package services

import (
	"errors"
	"fmt"
	"strings"

	"RoyRemind/models"
)

var (
	// ErrSendRejected marks a transport that declined or timed out. It drives escalation.
	ErrSendRejected = errors.New("send rejected")

	// ErrConcurrencyConflict is returned by InstanceStore.UpdateInstance when the row's
	// version moved underneath the caller.
	ErrConcurrencyConflict = errors.New("reminder instance was modified concurrently")

	// ErrInvalidTransition is returned when an event does not apply to the instance's state.
	ErrInvalidTransition = errors.New("invalid reminder state transition")

	// ErrNotDue is returned for a timeout event that arrives before any deadline.
	ErrNotDue = errors.New("no escalation deadline has passed")

	ErrNotFound             = errors.New("not found")
	ErrAppointmentCancelled = errors.New("appointment is cancelled")
	ErrLockNotAcquired      = errors.New("patient lock not acquired")
)

// ScheduleConfigError reports a schedule that cannot produce instances until corrected.
type ScheduleConfigError struct {
	ScheduleID uint
	Problems   []string
}

func (e *ScheduleConfigError) Error() string {
	return fmt.Sprintf("reminder schedule %d is misconfigured: %s", e.ScheduleID, strings.Join(e.Problems, "; "))
}

// SendRejectedError carries the transport's reason for declining a message.
type SendRejectedError struct {
	Channel models.Channel
	Reason  string
}

func (e *SendRejectedError) Error() string {
	return fmt.Sprintf("%s send rejected: %s", e.Channel, e.Reason)
}

func (e *SendRejectedError) Unwrap() error {
	return ErrSendRejected
}

func transitionError(state models.InstanceState, kind EventKind) error {
	return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, kind, state)
}
