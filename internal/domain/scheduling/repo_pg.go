package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/db"
)

// reservationTables names the storage of one provider kind.
type reservationTables struct {
	active      string
	canceled    string
	providerCol string
	// doctorCol is the referring doctor column; empty when the provider
	// itself is the doctor.
	doctorCol      string
	slotConstraint string
}

var tablesByKind = map[ProviderKind]reservationTables{
	KindDoctor: {
		active:         "appointments",
		canceled:       "canceled_appointments",
		providerCol:    "doctor_id",
		slotConstraint: "appointments_slot_key",
	},
	KindMedicalTest: {
		active:         "medical_test_appointments",
		canceled:       "canceled_medical_test_appointments",
		providerCol:    "test_id",
		doctorCol:      "doctor_id",
		slotConstraint: "medical_test_appointments_slot_key",
	},
}

type reservationRepoPG struct {
	pool *pgxpool.Pool
	kind ProviderKind
	t    reservationTables
	cols string
}

// NewReservationRepoPG returns the Postgres ReservationStore for kind.
func NewReservationRepoPG(pool *pgxpool.Pool, kind ProviderKind) ReservationStore {
	t, ok := tablesByKind[kind]
	if !ok {
		panic(fmt.Sprintf("scheduling: unknown provider kind %q", kind))
	}
	doctor := "NULL::uuid"
	if t.doctorCol != "" {
		doctor = t.doctorCol
	}
	cols := fmt.Sprintf(`id, patient_id, %s, %s, to_char(appoint_date, 'YYYY-MM-DD'), appoint_time, created_at`,
		t.providerCol, doctor)
	return &reservationRepoPG{pool: pool, kind: kind, t: t, cols: cols}
}

func (r *reservationRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *reservationRepoPG) scanReservation(row pgx.Row) (*Reservation, error) {
	res := Reservation{Kind: r.kind}
	err := row.Scan(&res.ID, &res.PatientID, &res.ProviderID, &res.DoctorID,
		&res.Date, &res.Time, &res.CreatedAt)
	return &res, err
}

func (r *reservationRepoPG) scanCanceled(row pgx.Row) (*CanceledReservation, error) {
	c := CanceledReservation{Reservation: Reservation{Kind: r.kind}}
	err := row.Scan(&c.ID, &c.PatientID, &c.ProviderID, &c.DoctorID,
		&c.Date, &c.Time, &c.CreatedAt, &c.CanceledAt)
	return &c, err
}

func (r *reservationRepoPG) FindReservationTimes(ctx context.Context, providerID uuid.UUID, date string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT appoint_time FROM %s WHERE %s = $1 AND appoint_date = $2::date ORDER BY appoint_time`,
			r.t.active, r.t.providerCol),
		providerID, date)
	if err != nil {
		return nil, fmt.Errorf("query reservation times: %w", err)
	}
	defer rows.Close()
	var times []string
	for rows.Next() {
		var hhmm string
		if err := rows.Scan(&hhmm); err != nil {
			return nil, err
		}
		times = append(times, hhmm)
	}
	return times, rows.Err()
}

func (r *reservationRepoPG) ReservationExists(ctx context.Context, providerID uuid.UUID, date, hhmm string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND appoint_date = $2::date AND appoint_time = $3)`,
			r.t.active, r.t.providerCol),
		providerID, date, hhmm).Scan(&exists)
	return exists, err
}

func (r *reservationRepoPG) InsertReservation(ctx context.Context, res *Reservation) error {
	res.ID = uuid.New()
	res.Kind = r.kind

	cols := fmt.Sprintf("id, patient_id, %s, appoint_date, appoint_time", r.t.providerCol)
	vals := "$1, $2, $3, $4::date, $5"
	args := []interface{}{res.ID, res.PatientID, res.ProviderID, res.Date, res.Time}
	if r.t.doctorCol != "" {
		cols += ", " + r.t.doctorCol
		vals += ", $6"
		args = append(args, res.DoctorID)
	}

	err := r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
			ON CONFLICT ON CONSTRAINT %s DO NOTHING
			RETURNING created_at`, r.t.active, cols, vals, r.t.slotConstraint),
		args...).Scan(&res.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) || db.IsUniqueViolation(err, "") {
		return ErrDuplicateSlot
	}
	return err
}

func (r *reservationRepoPG) FindReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, r.cols, r.t.active)
	if db.TxFromContext(ctx) != nil {
		query += ` FOR UPDATE`
	}
	res, err := r.scanReservation(r.conn(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *reservationRepoPG) DeleteReservation(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.t.active), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReservationNotFound
	}
	return nil
}

func (r *reservationRepoPG) InsertCanceled(ctx context.Context, c *CanceledReservation) error {
	cols := fmt.Sprintf("id, patient_id, %s, appoint_date, appoint_time, created_at", r.t.providerCol)
	vals := "$1, $2, $3, $4::date, $5, $6"
	args := []interface{}{c.ID, c.PatientID, c.ProviderID, c.Date, c.Time, c.CreatedAt}
	if r.t.doctorCol != "" {
		cols += ", " + r.t.doctorCol
		vals += ", $7"
		args = append(args, c.DoctorID)
	}
	return r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING canceled_at`, r.t.canceled, cols, vals),
		args...).Scan(&c.CanceledAt)
}

func (r *reservationRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, fromDate string, limit, offset int) ([]*Reservation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE patient_id = $1 AND appoint_date >= $2::date`, r.t.active),
		patientID, fromDate).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE patient_id = $1 AND appoint_date >= $2::date
			ORDER BY appoint_date, appoint_time LIMIT $3 OFFSET $4`, r.cols, r.t.active),
		patientID, fromDate, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Reservation
	for rows.Next() {
		res, err := r.scanReservation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, res)
	}
	return items, total, rows.Err()
}

func (r *reservationRepoPG) ListCanceledByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*CanceledReservation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE patient_id = $1`, r.t.canceled),
		patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s, canceled_at FROM %s WHERE patient_id = $1
			ORDER BY canceled_at DESC LIMIT $2 OFFSET $3`, r.cols, r.t.canceled),
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*CanceledReservation
	for rows.Next() {
		c, err := r.scanCanceled(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *reservationRepoPG) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}
