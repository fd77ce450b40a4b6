package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/lock"
)

const lockRetryInterval = 25 * time.Millisecond

// messages holds the user-facing wording of one provider kind.
type messages struct {
	providerNotFound string
	scheduleNotFound string
	pastBooking      string
	noValidTimes     string
	timeNotOffered   string
	slotTaken        string
	booked           string
	canceled         string
}

var messagesByKind = map[ProviderKind]messages{
	KindDoctor: {
		providerNotFound: "Doctor not found.",
		scheduleNotFound: "Doctor schedule not found.",
		pastBooking:      "Cannot book an appointment in the past.",
		noValidTimes:     "No valid times found in the doctor's schedule.",
		timeNotOffered:   "Selected time is not available in the doctor's schedule.",
		slotTaken:        "This appointment slot is already booked.",
		booked:           "Appointment booked successfully",
		canceled:         "Appointment cancelled successfully",
	},
	KindMedicalTest: {
		providerNotFound: "Medical test not found.",
		scheduleNotFound: "Medical test schedule not found.",
		pastBooking:      "Cannot appoint a medical test in the past.",
		noValidTimes:     "No valid times found in the medical test schedule.",
		timeNotOffered:   "Selected time is not available in the medical test schedule.",
		slotTaken:        "This appointment slot is already taken.",
		booked:           "Medical test appointed successfully",
		canceled:         "Medical test appointment cancelled successfully",
	},
}

// Engine computes bookable slots for one provider kind and adjudicates
// bookings and cancellations against its ReservationStore.
type Engine struct {
	kind      ProviderKind
	directory Directory
	store     ReservationStore
	locker    lock.Locker
	lockTTL   time.Duration
	lockWait  time.Duration
	loc       *time.Location
	now       func() time.Time
	log       zerolog.Logger
	msg       messages
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker guards each booking attempt with a slot lock.
func WithLocker(l lock.Locker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = l
		e.lockTTL = ttl
	}
}

// WithLockWait bounds how long Book waits for a slot lock held by another
// request before booking without it.
func WithLockWait(d time.Duration) Option {
	return func(e *Engine) { e.lockWait = d }
}

// WithLocation sets the clinic time zone used to interpret dates and times.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// NewEngine returns an Engine for kind. Without options it uses UTC, the
// wall clock, no slot lock and a disabled logger.
func NewEngine(kind ProviderKind, dir Directory, store ReservationStore, opts ...Option) *Engine {
	if !kind.Valid() {
		panic(fmt.Sprintf("scheduling: unknown provider kind %q", kind))
	}
	e := &Engine{
		kind:      kind,
		directory: dir,
		store:     store,
		locker:    lock.NopLocker{},
		lockTTL:   10 * time.Second,
		lockWait:  2 * time.Second,
		loc:       time.UTC,
		now:       time.Now,
		log:       zerolog.Nop(),
		msg:       messagesByKind[kind],
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Kind returns the provider kind the engine serves.
func (e *Engine) Kind() ProviderKind { return e.kind }

// Today returns the current date in the clinic time zone.
func (e *Engine) Today() string {
	return e.now().In(e.loc).Format(DateLayout)
}

// ListAvailable returns the open slots of a provider on date, in schedule
// order. An empty date means today. A date before today is rejected; slots
// not strictly after the current instant are omitted.
func (e *Engine) ListAvailable(ctx context.Context, providerID uuid.UUID, date string) (*Availability, error) {
	now := e.now().In(e.loc)
	today := startOfDay(now)

	day := today
	if date != "" {
		d, err := ParseDate(date, e.loc)
		if err != nil {
			return nil, ErrInvalidInput.withMessage("The date must be a valid date (YYYY-MM-DD).")
		}
		day = d
	}

	ws, err := e.loadSchedule(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if day.Before(today) {
		return nil, ErrInvalidDate.withMessage("Cannot retrieve appointments for past dates.")
	}
	res, err := e.resolveDay(ws, providerID, day.Weekday())
	if err != nil {
		return nil, err
	}

	dateStr := day.Format(DateLayout)
	booked, err := e.store.FindReservationTimes(ctx, providerID, dateStr)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	taken := make(map[string]bool, len(booked))
	for _, t := range booked {
		taken[t] = true
	}

	slots := make([]string, 0, len(res.Times))
	for _, t := range res.Times {
		if taken[t] {
			continue
		}
		at, err := slotInstant(day, t, e.loc)
		if err != nil || !at.After(now) {
			continue
		}
		slots = append(slots, t)
	}
	return &Availability{Date: dateStr, Slots: slots}, nil
}

// Book reserves one slot for a patient. Checks run in a fixed order and the
// first failure is returned: provider and schedule, past date-time, weekday
// schedule, offered time, then slot uniqueness. The uniqueness check and the
// insert run in one transaction backed by the store's unique constraint.
func (e *Engine) Book(ctx context.Context, req BookRequest) (*Reservation, error) {
	if req.ProviderID == uuid.Nil || req.PatientID == uuid.Nil {
		return nil, ErrInvalidInput.withMessage("provider and patient are required")
	}
	if e.kind == KindMedicalTest && (req.DoctorID == nil || *req.DoctorID == uuid.Nil) {
		return nil, ErrInvalidInput.withMessage("The doc id field is required.")
	}
	day, err := ParseDate(req.Date, e.loc)
	if err != nil {
		return nil, ErrInvalidInput.withMessage("The appoint date field must be a valid date.")
	}
	hhmm, err := NormalizeTime(req.Time)
	if err != nil {
		return nil, ErrInvalidInput.withMessage("The appoint time field must match the format G:i.")
	}

	ws, err := e.loadSchedule(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if e.kind == KindMedicalTest {
		ok, err := e.directory.ProviderExists(ctx, KindDoctor, *req.DoctorID)
		if err != nil {
			return nil, fmt.Errorf("look up doctor: %w", err)
		}
		if !ok {
			return nil, ErrProviderNotFound.withMessage(messagesByKind[KindDoctor].providerNotFound)
		}
	}

	at, err := slotInstant(day, hhmm, e.loc)
	if err != nil {
		return nil, ErrInvalidInput.withMessage("The appoint time field must match the format G:i.")
	}
	if !at.After(e.now()) {
		return nil, ErrPastDateTime.withMessage(e.msg.pastBooking)
	}

	res, err := e.resolveDay(ws, req.ProviderID, day.Weekday())
	if err != nil {
		return nil, err
	}
	if !contains(res.Times, hhmm) {
		return nil, ErrTimeNotOffered.withMessage(e.msg.timeNotOffered)
	}

	dateStr := day.Format(DateLayout)
	key := lock.SlotKey(string(e.kind), req.ProviderID.String(), dateStr, hhmm)
	if token, held := e.acquireSlotLock(ctx, key); held {
		defer func() {
			if err := e.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
				e.log.Warn().Err(err).Str("lock_key", key).Msg("release slot lock")
			}
		}()
	}

	r := &Reservation{
		Kind:       e.kind,
		PatientID:  req.PatientID,
		ProviderID: req.ProviderID,
		Date:       dateStr,
		Time:       hhmm,
	}
	if e.kind == KindMedicalTest {
		doctorID := *req.DoctorID
		r.DoctorID = &doctorID
	}

	err = e.store.WithTx(ctx, func(ctx context.Context) error {
		exists, err := e.store.ReservationExists(ctx, r.ProviderID, r.Date, r.Time)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateSlot
		}
		return e.store.InsertReservation(ctx, r)
	})
	if errors.Is(err, ErrDuplicateSlot) {
		return nil, ErrSlotAlreadyBooked.withMessage(e.msg.slotTaken)
	}
	if err != nil {
		return nil, fmt.Errorf("book appointment: %w", err)
	}
	return r, nil
}

// Cancel archives an active reservation owned by patientID. Lookup, archive
// and delete share one transaction, so a repeated cancel sees ErrNotFound.
func (e *Engine) Cancel(ctx context.Context, id, patientID uuid.UUID) (*CanceledReservation, error) {
	var canceled *CanceledReservation
	err := e.store.WithTx(ctx, func(ctx context.Context) error {
		r, err := e.store.FindReservation(ctx, id)
		if errors.Is(err, ErrReservationNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if r.PatientID != patientID {
			return ErrForbidden
		}

		day, err := ParseDate(r.Date, e.loc)
		if err != nil {
			return err
		}
		at, err := slotInstant(day, r.Time, e.loc)
		if err != nil {
			return err
		}
		if !at.After(e.now()) {
			return ErrPastAppointment
		}

		c := &CanceledReservation{Reservation: *r}
		if err := e.store.InsertCanceled(ctx, c); err != nil {
			return fmt.Errorf("archive reservation: %w", err)
		}
		if err := e.store.DeleteReservation(ctx, id); err != nil {
			if errors.Is(err, ErrReservationNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("delete reservation: %w", err)
		}
		canceled = c
		return nil
	})
	if err != nil {
		if _, ok := AsError(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}
	return canceled, nil
}

// ListUpcoming returns the patient's active reservations dated today or
// later, earliest first.
func (e *Engine) ListUpcoming(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Reservation, int, error) {
	return e.store.ListByPatient(ctx, patientID, e.Today(), limit, offset)
}

// ListCanceled returns the patient's canceled reservations, most recently
// canceled first.
func (e *Engine) ListCanceled(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*CanceledReservation, int, error) {
	return e.store.ListCanceledByPatient(ctx, patientID, limit, offset)
}

// SuccessMessage returns the confirmation text for a booking or cancel.
func (e *Engine) SuccessMessage(canceled bool) string {
	if canceled {
		return e.msg.canceled
	}
	return e.msg.booked
}

func (e *Engine) loadSchedule(ctx context.Context, providerID uuid.UUID) (WeeklySchedule, error) {
	raw, err := e.directory.ProviderSchedule(ctx, e.kind, providerID)
	if errors.Is(err, ErrProviderNotFound) {
		return nil, ErrProviderNotFound.withMessage(e.msg.providerNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	ws, err := ParseSchedule(raw)
	if err != nil {
		return nil, ErrScheduleNotFound.withMessage(e.msg.scheduleNotFound)
	}
	return ws, nil
}

func (e *Engine) resolveDay(ws WeeklySchedule, providerID uuid.UUID, day time.Weekday) (Resolution, error) {
	res, err := ws.Resolve(day)
	for _, entry := range res.Dropped {
		e.log.Warn().
			Str("provider_kind", string(e.kind)).
			Str("provider_id", providerID.String()).
			Str("weekday", day.String()).
			Str("entry", entry).
			Msg("dropping unparseable schedule entry")
	}
	switch {
	case errors.Is(err, ErrNoScheduleForWeekday):
		return res, ErrNoScheduleForWeekday.withMessage(fmt.Sprintf("No available schedule for %s.", day))
	case errors.Is(err, ErrNoValidTimes):
		return res, ErrNoValidTimes.withMessage(e.msg.noValidTimes)
	}
	return res, err
}

// acquireSlotLock waits up to lockWait for the slot lock. A busy or broken
// lock is not an answer about the slot: the caller always goes on to the
// store, whose unique constraint decides.
func (e *Engine) acquireSlotLock(ctx context.Context, key string) (string, bool) {
	deadline := time.Now().Add(e.lockWait)
	for {
		token, acquired, err := e.locker.TryLock(ctx, key, e.lockTTL)
		switch {
		case err != nil:
			e.log.Warn().Err(err).Str("lock_key", key).Msg("slot lock unavailable, relying on database constraint")
			return "", false
		case acquired:
			return token, true
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			e.log.Debug().Str("lock_key", key).Msg("slot lock busy, relying on database constraint")
			return "", false
		}
		if wait > lockRetryInterval {
			wait = lockRetryInterval
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", false
		case <-t.C:
		}
	}
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
