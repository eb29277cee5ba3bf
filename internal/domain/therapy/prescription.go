package therapy

import (
	"time"

	"github.com/google/uuid"
)

type Party struct {
	AyurSutraID string `json:"ayursutra_id"`
	Name        string `json:"name"`
}

// Prescription is a therapy course a doctor assigned to a patient. The
// record carries the course plan and its progress.
type Prescription struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID      uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	AppointmentID *uuid.UUID `db:"appointment_id" json:"appointment_id,omitempty"`
	Record        Record     `json:"record"`
	Notes         *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`

	Patient Party `json:"patient"`
	Doctor  Party `json:"doctor"`
}
