// Package directory answers provider and patient lookups from the clinic's
// master tables.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/db"
)

// providerTables maps a provider kind to the table holding its schedule.
var providerTables = map[scheduling.ProviderKind]string{
	scheduling.KindDoctor:      "doctors",
	scheduling.KindMedicalTest: "medical_tests",
}

// Patient is the contact record used to address notifications.
type Patient struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     string
}

// ErrPatientNotFound is returned when a patient lookup matches no row.
var ErrPatientNotFound = errors.New("patient not found")

type RepoPG struct {
	pool *pgxpool.Pool
}

// NewRepoPG returns the Postgres-backed directory.
func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func table(kind scheduling.ProviderKind) (string, error) {
	t, ok := providerTables[kind]
	if !ok {
		return "", fmt.Errorf("unknown provider kind %q", kind)
	}
	return t, nil
}

func (r *RepoPG) ProviderSchedule(ctx context.Context, kind scheduling.ProviderKind, id uuid.UUID) ([]byte, error) {
	t, err := table(kind)
	if err != nil {
		return nil, err
	}
	var schedule *string
	err = r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf(`SELECT schedule FROM %s WHERE id = $1`, t), id).Scan(&schedule)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, scheduling.ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query %s schedule: %w", t, err)
	}
	if schedule == nil {
		return nil, nil
	}
	return []byte(*schedule), nil
}

func (r *RepoPG) ProviderExists(ctx context.Context, kind scheduling.ProviderKind, id uuid.UUID) (bool, error) {
	t, err := table(kind)
	if err != nil {
		return false, err
	}
	var exists bool
	err = r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, t), id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query %s: %w", t, err)
	}
	return exists, nil
}

func (r *RepoPG) FindPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p := &Patient{}
	var email *string
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, first_name, last_name, email FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.FirstName, &p.LastName, &email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query patient: %w", err)
	}
	if email != nil {
		p.Email = *email
	}
	return p, nil
}

// PatientEmail returns the e-mail address notifications for a patient go to.
func (r *RepoPG) PatientEmail(ctx context.Context, id uuid.UUID) (string, error) {
	return patientEmail(ctx, r, id)
}

type patientFinder interface {
	FindPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
}

func patientEmail(ctx context.Context, f patientFinder, id uuid.UUID) (string, error) {
	p, err := f.FindPatient(ctx, id)
	if err != nil {
		return "", err
	}
	if p.Email == "" {
		return "", fmt.Errorf("patient %s has no email", id)
	}
	return p.Email, nil
}
