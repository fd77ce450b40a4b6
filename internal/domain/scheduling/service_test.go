package scheduling

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Test doubles --

type fakeDirectory struct {
	mu        sync.Mutex
	schedules map[ProviderKind]map[uuid.UUID][]byte
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{schedules: map[ProviderKind]map[uuid.UUID][]byte{
		KindDoctor:      {},
		KindMedicalTest: {},
	}}
}

func (d *fakeDirectory) add(kind ProviderKind, schedule string) uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.New()
	d.schedules[kind][id] = []byte(schedule)
	return id
}

func (d *fakeDirectory) ProviderSchedule(_ context.Context, kind ProviderKind, id uuid.UUID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	raw, ok := d.schedules[kind][id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return raw, nil
}

func (d *fakeDirectory) ProviderExists(_ context.Context, kind ProviderKind, id uuid.UUID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.schedules[kind][id]
	return ok, nil
}

// fakeLocker reports the lock as held elsewhere for the first busy attempts,
// then answers with acquired and err.
type fakeLocker struct {
	mu       sync.Mutex
	busy     int
	acquired bool
	err      error
	attempts int
	unlocked int
}

func (l *fakeLocker) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.busy > 0 {
		l.busy--
		return "", false, nil
	}
	return "token", l.acquired, l.err
}

func (l *fakeLocker) Unlock(context.Context, string, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocked++
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Monday 2025-07-07 10:30 UTC.
var testNow = time.Date(2025, 7, 7, 10, 30, 0, 0, time.UTC)

type fixture struct {
	dir   *fakeDirectory
	store *MemoryStore
	clock *clock
	eng   *Engine
}

func newFixture(kind ProviderKind, opts ...Option) *fixture {
	f := &fixture{
		dir:   newFakeDirectory(),
		store: NewMemoryStore(),
		clock: &clock{now: testNow},
	}
	f.store.now = f.clock.Now
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.eng = NewEngine(kind, f.dir, f.store, opts...)
	return f
}

func expectCode(t *testing.T, err error, target *Error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %s, got %v", target.Code, err)
	}
}

// -- Tests --

func TestEngine_EndToEndScenario(t *testing.T) {
	f := newFixture(KindDoctor)
	ctx := context.Background()
	p := f.dir.add(KindDoctor, `{"Wednesday": ["1:00 PM", "2:00 PM"]}`)
	patient7, patient9 := uuid.New(), uuid.New()

	avail, err := f.eng.ListAvailable(ctx, p, "2025-07-09")
	if err != nil {
		t.Fatalf("ListAvailable: %v", err)
	}
	if !reflect.DeepEqual(avail.Slots, []string{"13:00", "14:00"}) {
		t.Fatalf("expected [13:00 14:00], got %v", avail.Slots)
	}

	r, err := f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: patient7, Date: "2025-07-09", Time: "13:00"})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if r.Time != "13:00" || r.Date != "2025-07-09" || r.ID == uuid.Nil {
		t.Errorf("unexpected reservation %+v", r)
	}

	avail, _ = f.eng.ListAvailable(ctx, p, "2025-07-09")
	if !reflect.DeepEqual(avail.Slots, []string{"14:00"}) {
		t.Fatalf("expected [14:00], got %v", avail.Slots)
	}

	_, err = f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: patient9, Date: "2025-07-09", Time: "13:00"})
	expectCode(t, err, ErrSlotAlreadyBooked)

	if _, err := f.eng.Cancel(ctx, r.ID, patient7); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	avail, _ = f.eng.ListAvailable(ctx, p, "2025-07-09")
	if !reflect.DeepEqual(avail.Slots, []string{"13:00", "14:00"}) {
		t.Fatalf("expected [13:00 14:00] after cancel, got %v", avail.Slots)
	}
}

func TestEngine_ListAvailable_TemporalFiltering(t *testing.T) {
	f := newFixture(KindDoctor)
	p := f.dir.add(KindDoctor, `{"Monday": ["9:00 AM", "10:30 AM", "11:00 AM", "2:00 PM"]}`)

	avail, err := f.eng.ListAvailable(context.Background(), p, "2025-07-07")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 09:00 has passed and 10:30 is the current instant.
	if !reflect.DeepEqual(avail.Slots, []string{"11:00", "14:00"}) {
		t.Errorf("expected [11:00 14:00], got %v", avail.Slots)
	}
}

func TestEngine_ListAvailable_DefaultsToToday(t *testing.T) {
	f := newFixture(KindDoctor)
	p := f.dir.add(KindDoctor, `{"Monday": ["4:00 PM"]}`)

	avail, err := f.eng.ListAvailable(context.Background(), p, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if avail.Date != "2025-07-07" {
		t.Errorf("expected today's date, got %s", avail.Date)
	}
	if !reflect.DeepEqual(avail.Slots, []string{"16:00"}) {
		t.Errorf("expected [16:00], got %v", avail.Slots)
	}
}

func TestEngine_ListAvailable_ClinicTimeZone(t *testing.T) {
	loc := time.FixedZone("clinic", -4*3600)
	f := newFixture(KindDoctor, WithLocation(loc))
	// 02:00 UTC on Tuesday is 22:00 Monday in the clinic.
	f.clock.Set(time.Date(2025, 7, 8, 2, 0, 0, 0, time.UTC))
	p := f.dir.add(KindDoctor, `{"Monday": ["9:00 PM", "11:00 PM"], "Tuesday": ["9:00 AM"]}`)

	avail, err := f.eng.ListAvailable(context.Background(), p, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if avail.Date != "2025-07-07" {
		t.Errorf("expected clinic date 2025-07-07, got %s", avail.Date)
	}
	if !reflect.DeepEqual(avail.Slots, []string{"23:00"}) {
		t.Errorf("expected [23:00], got %v", avail.Slots)
	}
}

func TestEngine_ListAvailable_EmptyIsSuccess(t *testing.T) {
	f := newFixture(KindDoctor)
	p := f.dir.add(KindDoctor, `{"Monday": ["8:00 AM", "9:00 AM"]}`)

	avail, err := f.eng.ListAvailable(context.Background(), p, "2025-07-07")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if avail.Slots == nil || len(avail.Slots) != 0 {
		t.Errorf("expected empty non-nil slots, got %#v", avail.Slots)
	}
}

func TestEngine_ListAvailable_Errors(t *testing.T) {
	f := newFixture(KindDoctor)
	ctx := context.Background()
	ok := f.dir.add(KindDoctor, `{"Wednesday": ["1:00 PM"], "Thursday": ["soon", "later"]}`)
	noSchedule := f.dir.add(KindDoctor, "")
	badSchedule := f.dir.add(KindDoctor, "{not json")

	tests := []struct {
		name     string
		provider uuid.UUID
		date     string
		want     *Error
		message  string
	}{
		{"unknown provider", uuid.New(), "2025-07-09", ErrProviderNotFound, "Doctor not found."},
		{"no schedule", noSchedule, "2025-07-09", ErrScheduleNotFound, "Doctor schedule not found."},
		{"bad schedule", badSchedule, "2025-07-09", ErrScheduleNotFound, "Doctor schedule not found."},
		{"past date", ok, "2025-07-06", ErrInvalidDate, "Cannot retrieve appointments for past dates."},
		{"weekday missing", ok, "2025-07-11", ErrNoScheduleForWeekday, "No available schedule for Friday."},
		{"all entries invalid", ok, "2025-07-10", ErrNoValidTimes, "No valid times found in the doctor's schedule."},
		{"malformed date", ok, "07/09/2025", ErrInvalidInput, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.ListAvailable(ctx, tt.provider, tt.date)
			expectCode(t, err, tt.want)
			if tt.message != "" && err.Error() != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, err.Error())
			}
			de, _ := AsError(err)
			if de.Status != tt.want.Status {
				t.Errorf("expected status %d, got %d", tt.want.Status, de.Status)
			}
		})
	}
}

func TestEngine_ListAvailable_ProviderCheckedBeforeDate(t *testing.T) {
	f := newFixture(KindDoctor)
	_, err := f.eng.ListAvailable(context.Background(), uuid.New(), "2020-01-01")
	expectCode(t, err, ErrProviderNotFound)
}

func TestEngine_ListAvailable_LogsDroppedEntries(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(KindDoctor, WithLogger(zerolog.New(&buf)))
	p := f.dir.add(KindDoctor, `{"Wednesday": ["10:00 AM", "garbage", "2:00 PM"]}`)

	avail, err := f.eng.ListAvailable(context.Background(), p, "2025-07-09")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(avail.Slots, []string{"10:00", "14:00"}) {
		t.Errorf("expected [10:00 14:00], got %v", avail.Slots)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"entry":"garbage"`) {
		t.Errorf("expected a warning for the dropped entry, got %s", out)
	}
	if !strings.Contains(out, `"weekday":"Wednesday"`) {
		t.Errorf("expected weekday in log, got %s", out)
	}
}

func TestEngine_Book_NormalizesTime(t *testing.T) {
	f := newFixture(KindDoctor)
	ctx := context.Background()
	p := f.dir.add(KindDoctor, `{"Wednesday": ["9:05 AM", "10:00 AM"]}`)

	_, err := f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "9:5"})
	expectCode(t, err, ErrInvalidInput)

	r, err := f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "9:05"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Time != "09:05" {
		t.Errorf("expected 09:05, got %s", r.Time)
	}

	avail, _ := f.eng.ListAvailable(ctx, p, "2025-07-09")
	if !reflect.DeepEqual(avail.Slots, []string{"10:00"}) {
		t.Errorf("expected [10:00], got %v", avail.Slots)
	}

	_, err = f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "09:05"})
	expectCode(t, err, ErrSlotAlreadyBooked)
}

func TestEngine_Book_ValidationOrder(t *testing.T) {
	f := newFixture(KindDoctor)
	ctx := context.Background()
	p := f.dir.add(KindDoctor, `{"Monday": ["9:00 AM"], "Wednesday": ["1:00 PM", "nonsense"], "Thursday": ["nonsense"]}`)
	noSchedule := f.dir.add(KindDoctor, "null")
	taken := BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "13:00"}
	if _, err := f.eng.Book(ctx, taken); err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	tests := []struct {
		name string
		req  BookRequest
		want *Error
	}{
		{"missing patient", BookRequest{ProviderID: p, Date: "2025-07-09", Time: "13:00"}, ErrInvalidInput},
		{"malformed date", BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "tomorrow", Time: "13:00"}, ErrInvalidInput},
		{"unknown provider in the past", BookRequest{ProviderID: uuid.New(), PatientID: uuid.New(), Date: "2020-01-01", Time: "13:00"}, ErrProviderNotFound},
		{"no schedule in the past", BookRequest{ProviderID: noSchedule, PatientID: uuid.New(), Date: "2020-01-01", Time: "13:00"}, ErrScheduleNotFound},
		{"past date on unscheduled day", BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-05", Time: "13:00"}, ErrPastDateTime},
		{"earlier today", BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-07", Time: "9:00"}, ErrPastDateTime},
		{"unscheduled weekday", BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-08", Time: "13:00"}, ErrNoScheduleForWeekday},
		{"only invalid entries", BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-10", Time: "13:00"}, ErrNoValidTimes},
		{"time not offered", BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "14:00"}, ErrTimeNotOffered},
		{"slot taken", BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "13:00"}, ErrSlotAlreadyBooked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.Book(ctx, tt.req)
			expectCode(t, err, tt.want)
		})
	}
}

func TestEngine_Book_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(KindDoctor)
	p := f.dir.add(KindDoctor, `{"Wednesday": ["1:00 PM"]}`)

	const attempts = 25
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.eng.Book(context.Background(), BookRequest{
				ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "13:00",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrSlotAlreadyBooked):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Errorf("expected exactly 1 successful booking, got %d", success)
	}
	if conflicts != attempts-1 {
		t.Errorf("expected %d conflicts, got %d", attempts-1, conflicts)
	}
}

func TestEngine_Book_LockHolderFailed(t *testing.T) {
	// Another request holds the lock but never books; once it lets go the
	// slot is still free and this booking must succeed.
	l := &fakeLocker{busy: 2, acquired: true}
	f := newFixture(KindDoctor, WithLocker(l, time.Second), WithLockWait(time.Second))
	p := f.dir.add(KindDoctor, `{"Wednesday": ["1:00 PM"]}`)

	r, err := f.eng.Book(context.Background(), BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "13:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.attempts != 3 || l.unlocked != 1 {
		t.Errorf("attempts=%d unlocked=%d, want 3 and 1", l.attempts, l.unlocked)
	}
	times, _ := f.store.FindReservationTimes(context.Background(), p, "2025-07-09")
	if len(times) != 1 || times[0] != r.Time {
		t.Errorf("expected stored reservation, got %v", times)
	}
}

func TestEngine_Book_LockHolderBooked(t *testing.T) {
	l := &fakeLocker{busy: 1, acquired: true}
	f := newFixture(KindDoctor, WithLocker(l, time.Second), WithLockWait(time.Second))
	p := f.dir.add(KindDoctor, `{"Wednesday": ["1:00 PM"]}`)
	ctx := context.Background()
	if err := f.store.InsertReservation(ctx, &Reservation{PatientID: uuid.New(), ProviderID: p, Date: "2025-07-09", Time: "13:00"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "13:00"})
	expectCode(t, err, ErrSlotAlreadyBooked)
}

func TestEngine_Book_LockNeverFreed(t *testing.T) {
	l := &fakeLocker{acquired: false}
	f := newFixture(KindDoctor, WithLocker(l, time.Second), WithLockWait(60*time.Millisecond))
	p := f.dir.add(KindDoctor, `{"Wednesday": ["1:00 PM"]}`)
	ctx := context.Background()

	if _, err := f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "13:00"}); err != nil {
		t.Fatalf("expected the store to decide, got %v", err)
	}
	if l.unlocked != 0 {
		t.Errorf("did not expect unlock without a lock, got %d", l.unlocked)
	}
	if l.attempts < 2 {
		t.Errorf("expected retries while the lock was busy, got %d attempts", l.attempts)
	}

	_, err := f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "13:00"})
	expectCode(t, err, ErrSlotAlreadyBooked)
}

func TestEngine_Book_LockWaitHonorsContext(t *testing.T) {
	l := &fakeLocker{acquired: false}
	f := newFixture(KindDoctor, WithLocker(l, time.Second), WithLockWait(time.Minute))
	p := f.dir.add(KindDoctor, `{"Wednesday": ["1:00 PM"]}`)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "13:00"})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Book waited %v after the context ended", elapsed)
	}
}

func TestEngine_Book_LockReleased(t *testing.T) {
	l := &fakeLocker{acquired: true}
	f := newFixture(KindDoctor, WithLocker(l, time.Second))
	p := f.dir.add(KindDoctor, `{"Wednesday": ["1:00 PM"]}`)

	if _, err := f.eng.Book(context.Background(), BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "13:00"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.unlocked != 1 {
		t.Errorf("expected lock to be released once, got %d", l.unlocked)
	}
}

func TestEngine_Book_LockErrorFallsBackToStore(t *testing.T) {
	l := &fakeLocker{err: errors.New("redis down")}
	f := newFixture(KindDoctor, WithLocker(l, time.Second))
	p := f.dir.add(KindDoctor, `{"Wednesday": ["1:00 PM"]}`)
	ctx := context.Background()

	if _, err := f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "13:00"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-09", Time: "13:00"})
	expectCode(t, err, ErrSlotAlreadyBooked)
	if l.unlocked != 0 {
		t.Errorf("did not expect unlock without a lock, got %d", l.unlocked)
	}
}

func TestEngine_Book_MedicalTest(t *testing.T) {
	f := newFixture(KindMedicalTest)
	ctx := context.Background()
	blood := f.dir.add(KindMedicalTest, `{"Wednesday": ["8:00 AM"]}`)
	xray := f.dir.add(KindMedicalTest, `{"Wednesday": ["8:00 AM"]}`)
	doctor := f.dir.add(KindDoctor, `{}`)

	_, err := f.eng.Book(ctx, BookRequest{ProviderID: blood, PatientID: uuid.New(), Date: "2025-07-09", Time: "8:00"})
	expectCode(t, err, ErrInvalidInput)

	unknown := uuid.New()
	_, err = f.eng.Book(ctx, BookRequest{ProviderID: blood, PatientID: uuid.New(), DoctorID: &unknown, Date: "2025-07-09", Time: "8:00"})
	expectCode(t, err, ErrProviderNotFound)
	if err.Error() != "Doctor not found." {
		t.Errorf("unexpected message %q", err.Error())
	}

	_, err = f.eng.Book(ctx, BookRequest{ProviderID: uuid.New(), PatientID: uuid.New(), DoctorID: &doctor, Date: "2025-07-09", Time: "8:00"})
	expectCode(t, err, ErrProviderNotFound)
	if err.Error() != "Medical test not found." {
		t.Errorf("unexpected message %q", err.Error())
	}

	r, err := f.eng.Book(ctx, BookRequest{ProviderID: blood, PatientID: uuid.New(), DoctorID: &doctor, Date: "2025-07-09", Time: "8:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Kind != KindMedicalTest || r.DoctorID == nil || *r.DoctorID != doctor {
		t.Errorf("unexpected reservation %+v", r)
	}

	// Slots are scoped per test: the same doctor and time on another test is free.
	if _, err := f.eng.Book(ctx, BookRequest{ProviderID: xray, PatientID: uuid.New(), DoctorID: &doctor, Date: "2025-07-09", Time: "08:00"}); err != nil {
		t.Fatalf("expected booking on another test to succeed: %v", err)
	}

	_, err = f.eng.Book(ctx, BookRequest{ProviderID: blood, PatientID: uuid.New(), DoctorID: &doctor, Date: "2025-07-09", Time: "08:00"})
	expectCode(t, err, ErrSlotAlreadyBooked)
	if err.Error() != "This appointment slot is already taken." {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestEngine_Cancel(t *testing.T) {
	f := newFixture(KindDoctor)
	ctx := context.Background()
	p := f.dir.add(KindDoctor, `{"Wednesday": ["1:00 PM"]}`)
	owner := uuid.New()

	r, err := f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: owner, Date: "2025-07-09", Time: "13:00"})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	_, err = f.eng.Cancel(ctx, r.ID, uuid.New())
	expectCode(t, err, ErrForbidden)

	c, err := f.eng.Cancel(ctx, r.ID, owner)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if c.Date != "2025-07-09" || c.Time != "13:00" || c.CanceledAt.IsZero() {
		t.Errorf("unexpected canceled reservation %+v", c)
	}

	if _, err := f.store.FindReservation(ctx, r.ID); !errors.Is(err, ErrReservationNotFound) {
		t.Errorf("expected reservation to be gone, got %v", err)
	}
	archived, ok := f.store.Canceled(r.ID)
	if !ok {
		t.Fatal("expected archived reservation")
	}
	if archived.Date != r.Date || archived.Time != r.Time || archived.PatientID != owner {
		t.Errorf("archived reservation lost fields: %+v", archived)
	}

	_, err = f.eng.Cancel(ctx, r.ID, owner)
	expectCode(t, err, ErrNotFound)
}

func TestEngine_Cancel_PastAppointment(t *testing.T) {
	f := newFixture(KindDoctor)
	ctx := context.Background()
	p := f.dir.add(KindDoctor, `{"Monday": ["11:00 AM"]}`)
	owner := uuid.New()

	r, err := f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: owner, Date: "2025-07-07", Time: "11:00"})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	f.clock.Set(time.Date(2025, 7, 7, 11, 0, 0, 0, time.UTC))
	_, err = f.eng.Cancel(ctx, r.ID, owner)
	expectCode(t, err, ErrPastAppointment)

	if _, err := f.store.FindReservation(ctx, r.ID); err != nil {
		t.Errorf("expected reservation to stay active, got %v", err)
	}
}

func TestEngine_Cancel_ChecksOrder(t *testing.T) {
	f := newFixture(KindDoctor)
	ctx := context.Background()
	p := f.dir.add(KindDoctor, `{"Monday": ["11:00 AM"]}`)
	r, _ := f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-07", Time: "11:00"})
	f.clock.Set(testNow.Add(24 * time.Hour))

	// Ownership is checked before the appointment time.
	_, err := f.eng.Cancel(ctx, r.ID, uuid.New())
	expectCode(t, err, ErrForbidden)

	_, err = f.eng.Cancel(ctx, uuid.New(), uuid.New())
	expectCode(t, err, ErrNotFound)
}

func TestEngine_Cancel_Concurrent(t *testing.T) {
	f := newFixture(KindDoctor)
	ctx := context.Background()
	p := f.dir.add(KindDoctor, `{"Wednesday": ["1:00 PM"]}`)
	owner := uuid.New()
	r, _ := f.eng.Book(ctx, BookRequest{ProviderID: p, PatientID: owner, Date: "2025-07-09", Time: "13:00"})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.eng.Cancel(ctx, r.ID, owner)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, ErrNotFound) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("expected exactly 1 successful cancel, got %d", ok)
	}
}

func TestEngine_ListUpcomingAndCanceled(t *testing.T) {
	f := newFixture(KindDoctor)
	ctx := context.Background()
	p := f.dir.add(KindDoctor, `{"Monday": ["11:00 AM"], "Wednesday": ["1:00 PM", "2:00 PM"]}`)
	patient := uuid.New()

	var ids []uuid.UUID
	for _, req := range []BookRequest{
		{ProviderID: p, PatientID: patient, Date: "2025-07-09", Time: "14:00"},
		{ProviderID: p, PatientID: patient, Date: "2025-07-07", Time: "11:00"},
		{ProviderID: p, PatientID: patient, Date: "2025-07-09", Time: "13:00"},
		{ProviderID: p, PatientID: uuid.New(), Date: "2025-07-14", Time: "11:00"},
	} {
		r, err := f.eng.Book(ctx, req)
		if err != nil {
			t.Fatalf("Book(%+v): %v", req, err)
		}
		ids = append(ids, r.ID)
	}

	items, total, err := f.eng.ListUpcoming(ctx, patient, 10, 0)
	if err != nil {
		t.Fatalf("ListUpcoming: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 upcoming, got %d", total)
	}
	var got []string
	for _, it := range items {
		got = append(got, it.Date+" "+it.Time)
	}
	want := []string{"2025-07-07 11:00", "2025-07-09 13:00", "2025-07-09 14:00"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	page, total, _ := f.eng.ListUpcoming(ctx, patient, 1, 1)
	if total != 3 || len(page) != 1 || page[0].Time != "13:00" {
		t.Errorf("unexpected page %v (total %d)", page, total)
	}

	if _, err := f.eng.Cancel(ctx, ids[0], patient); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	f.clock.Set(testNow.Add(time.Minute))
	if _, err := f.eng.Cancel(ctx, ids[2], patient); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	canceled, total, err := f.eng.ListCanceled(ctx, patient, 10, 0)
	if err != nil {
		t.Fatalf("ListCanceled: %v", err)
	}
	if total != 2 || canceled[0].ID != ids[2] {
		t.Errorf("expected most recent cancellation first, got %+v", canceled)
	}

	// After the day passes only later reservations remain upcoming.
	f.clock.Set(time.Date(2025, 7, 8, 9, 0, 0, 0, time.UTC))
	items, total, _ = f.eng.ListUpcoming(ctx, patient, 10, 0)
	if total != 0 || len(items) != 0 {
		t.Errorf("expected no upcoming reservations, got %d", total)
	}
}

func TestProviderKind_Valid(t *testing.T) {
	for _, k := range []ProviderKind{KindDoctor, KindMedicalTest} {
		if !k.Valid() {
			t.Errorf("%q should be valid", k)
		}
	}
	if ProviderKind("dentist").Valid() {
		t.Error("dentist should not be valid")
	}
}

func TestNewEngine_UnknownKindPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown kind")
		}
	}()
	NewEngine(ProviderKind("dentist"), newFakeDirectory(), NewMemoryStore())
}
