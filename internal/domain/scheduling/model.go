package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// ProviderKind distinguishes the two kinds of bookable provider.
type ProviderKind string

const (
	KindDoctor      ProviderKind = "doctor"
	KindMedicalTest ProviderKind = "medical_test"
)

// Valid reports whether k is a known provider kind.
func (k ProviderKind) Valid() bool {
	return k == KindDoctor || k == KindMedicalTest
}

// Reservation maps to the appointments and medical_test_appointments tables.
// ProviderID is the doctor for doctor appointments and the medical test for
// test appointments; DoctorID is only set on test appointments and names the
// doctor who requested the test.
type Reservation struct {
	ID         uuid.UUID    `db:"id" json:"id"`
	Kind       ProviderKind `json:"kind"`
	PatientID  uuid.UUID    `db:"patient_id" json:"patient_id"`
	ProviderID uuid.UUID    `db:"provider_id" json:"provider_id"`
	DoctorID   *uuid.UUID   `db:"doctor_id" json:"doctor_id,omitempty"`
	Date       string       `db:"appoint_date" json:"appoint_date"`
	Time       string       `db:"appoint_time" json:"appoint_time"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
}

// CanceledReservation is the archived form of a canceled Reservation.
type CanceledReservation struct {
	Reservation
	CanceledAt time.Time `db:"canceled_at" json:"canceled_at"`
}

// Availability is the result of listing open slots for one date.
type Availability struct {
	Date  string   `json:"date"`
	Slots []string `json:"slots"`
}

// BookRequest describes a booking attempt. DoctorID is required for medical
// test bookings and ignored otherwise.
type BookRequest struct {
	ProviderID uuid.UUID
	PatientID  uuid.UUID
	DoctorID   *uuid.UUID
	Date       string
	Time       string
}
