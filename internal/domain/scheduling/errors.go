package scheduling

import (
	"errors"
	"net/http"
)

// Code identifies a class of booking failure independent of its wording.
type Code string

const (
	CodeProviderNotFound     Code = "provider_not_found"
	CodeScheduleNotFound     Code = "schedule_not_found"
	CodeInvalidDate          Code = "invalid_date"
	CodeNoScheduleForWeekday Code = "no_schedule_for_weekday"
	CodeNoValidTimes         Code = "no_valid_times"
	CodeTimeNotOffered       Code = "time_not_offered"
	CodeSlotAlreadyBooked    Code = "slot_already_booked"
	CodePastDateTime         Code = "past_date_time"
	CodeNotFound             Code = "not_found"
	CodeForbidden            Code = "forbidden"
	CodePastAppointment      Code = "past_appointment"
	CodeInvalidInput         Code = "invalid_input"
)

// Error is a deterministic domain failure. It carries the HTTP status and
// message the API renders for it. Two errors match under errors.Is when
// their codes are equal, so callers compare against the Err* values below
// regardless of the message attached.
type Error struct {
	Code    Code
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// withMessage returns a copy of e carrying msg.
func (e *Error) withMessage(msg string) *Error {
	return &Error{Code: e.Code, Status: e.Status, Message: msg}
}

var (
	ErrProviderNotFound     = &Error{Code: CodeProviderNotFound, Status: http.StatusNotFound, Message: "provider not found"}
	ErrScheduleNotFound     = &Error{Code: CodeScheduleNotFound, Status: http.StatusNotFound, Message: "schedule not found"}
	ErrInvalidDate          = &Error{Code: CodeInvalidDate, Status: http.StatusBadRequest, Message: "cannot retrieve appointments for past dates"}
	ErrNoScheduleForWeekday = &Error{Code: CodeNoScheduleForWeekday, Status: http.StatusBadRequest, Message: "no schedule for weekday"}
	ErrNoValidTimes         = &Error{Code: CodeNoValidTimes, Status: http.StatusBadRequest, Message: "no valid times in schedule"}
	ErrTimeNotOffered       = &Error{Code: CodeTimeNotOffered, Status: http.StatusBadRequest, Message: "selected time is not offered"}
	ErrSlotAlreadyBooked    = &Error{Code: CodeSlotAlreadyBooked, Status: http.StatusConflict, Message: "slot already booked"}
	ErrPastDateTime         = &Error{Code: CodePastDateTime, Status: http.StatusBadRequest, Message: "cannot book an appointment in the past"}
	ErrNotFound             = &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: "Appointment not found."}
	ErrForbidden            = &Error{Code: CodeForbidden, Status: http.StatusForbidden, Message: "You do not have permission to cancel this appointment."}
	ErrPastAppointment      = &Error{Code: CodePastAppointment, Status: http.StatusBadRequest, Message: "Cannot cancel a past appointment."}
	ErrInvalidInput         = &Error{Code: CodeInvalidInput, Status: http.StatusUnprocessableEntity, Message: "invalid input"}
)

// ErrDuplicateSlot is returned by a ReservationStore when an insert collides
// with an active reservation on the same slot.
var ErrDuplicateSlot = errors.New("reservation slot already taken")

// ErrReservationNotFound is returned by a ReservationStore lookup that matched
// no active reservation.
var ErrReservationNotFound = errors.New("reservation not found")

// AsError extracts a domain error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
