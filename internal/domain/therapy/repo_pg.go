package therapy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayursutra/ayursutra/internal/platform/db"
)

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const rxCols = `rx.id, rx.patient_id, rx.doctor_id, rx.appointment_id, rx.therapy,
	rx.purvakarma, rx.pradhanakarma, rx.paschatkarma, rx.total_days, rx.current_day,
	rx.purvakarma_days, rx.pradhanakarma_days, rx.paschatkarma_days, rx.start_date,
	rx.notes, rx.created_at, rx.updated_at,
	p.ayursutra_id, p.name, d.ayursutra_id, d.name`

const rxFrom = ` FROM prescriptions rx
	JOIN users p ON p.id = rx.patient_id
	JOIN users d ON d.id = rx.doctor_id`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var (
		p     Prescription
		start *time.Time
	)
	rec := &p.Record
	err := row.Scan(&p.ID, &p.PatientID, &p.DoctorID, &p.AppointmentID, &rec.Therapy,
		&rec.Purvakarma, &rec.Pradhanakarma, &rec.Paschatkarma, &rec.TotalDays, &rec.CurrentDay,
		&rec.PurvakarmaDays, &rec.PradhanakarmaDays, &rec.PaschatkarmaDays, &start,
		&p.Notes, &p.CreatedAt, &p.UpdatedAt,
		&p.Patient.AyurSutraID, &p.Patient.Name, &p.Doctor.AyurSutraID, &p.Doctor.Name)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if start != nil {
		d := NewDate(*start)
		rec.StartDate = &d
	}
	return &p, nil
}

func startDateArg(r *Record) *time.Time {
	if r.StartDate == nil {
		return nil
	}
	t := r.StartDate.Time
	return &t
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	rec := &p.Record
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescriptions (id, patient_id, doctor_id, appointment_id, therapy,
			purvakarma, pradhanakarma, paschatkarma, total_days, current_day,
			purvakarma_days, pradhanakarma_days, paschatkarma_days, start_date, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientID, p.DoctorID, p.AppointmentID, rec.Therapy,
		rec.Purvakarma, rec.Pradhanakarma, rec.Paschatkarma, rec.TotalDays, rec.CurrentDay,
		rec.PurvakarmaDays, rec.PradhanakarmaDays, rec.PaschatkarmaDays, startDateArg(rec), p.Notes,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return scanPrescription(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+rxFrom+` WHERE rx.id = $1`, id))
}

func (r *prescriptionRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return scanPrescription(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+rxFrom+` WHERE rx.id = $1 FOR UPDATE OF rx`, id))
}

func (r *prescriptionRepoPG) UpdateRecord(ctx context.Context, p *Prescription) error {
	rec := &p.Record
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE prescriptions SET total_days=$2, current_day=$3, purvakarma_days=$4,
			pradhanakarma_days=$5, paschatkarma_days=$6, start_date=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, rec.TotalDays, rec.CurrentDay, rec.PurvakarmaDays, rec.PradhanakarmaDays, rec.PaschatkarmaDays,
		startDateArg(rec),
	).Scan(&p.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}

func (r *prescriptionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM prescriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *prescriptionRepoPG) list(ctx context.Context, column string, id uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM prescriptions rx WHERE rx.`+column+` = $1`, id).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+rxCols+rxFrom+` WHERE rx.`+column+` = $1 ORDER BY rx.created_at DESC LIMIT $2 OFFSET $3`,
		id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *prescriptionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return r.list(ctx, "patient_id", patientID, limit, offset)
}

func (r *prescriptionRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return r.list(ctx, "doctor_id", doctorID, limit, offset)
}
