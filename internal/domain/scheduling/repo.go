package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// Directory is the read-only view of providers the engine needs.
type Directory interface {
	// ProviderSchedule returns the stored schedule text of a provider, which
	// may be empty. It returns ErrProviderNotFound if the provider does not
	// exist.
	ProviderSchedule(ctx context.Context, kind ProviderKind, id uuid.UUID) ([]byte, error)
	ProviderExists(ctx context.Context, kind ProviderKind, id uuid.UUID) (bool, error)
}

// ReservationStore persists the reservations of one provider kind.
type ReservationStore interface {
	// FindReservationTimes returns the booked "HH:MM" times of a provider on
	// a date.
	FindReservationTimes(ctx context.Context, providerID uuid.UUID, date string) ([]string, error)
	ReservationExists(ctx context.Context, providerID uuid.UUID, date, hhmm string) (bool, error)
	// InsertReservation assigns an ID and creation time to r and stores it.
	// It returns ErrDuplicateSlot if the slot is already taken.
	InsertReservation(ctx context.Context, r *Reservation) error
	// FindReservation returns ErrReservationNotFound when id matches no
	// active reservation. Inside a transaction the row stays locked until
	// the transaction ends.
	FindReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	DeleteReservation(ctx context.Context, id uuid.UUID) error
	InsertCanceled(ctx context.Context, c *CanceledReservation) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, fromDate string, limit, offset int) ([]*Reservation, int, error)
	ListCanceledByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*CanceledReservation, int, error)
	// WithTx runs fn in a transaction. Store calls made with the context
	// passed to fn join that transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
