package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayursutra/ayursutra/internal/platform/db"
)

// =========== User Repository ===========

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, ayursutra_id, role, name, email, phone, gender, date_of_birth, address,
	created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.AyurSutraID, &u.Role, &u.Name, &u.Email, &u.Phone, &u.Gender,
		&u.DateOfBirth, &u.Address, &u.CreatedAt, &u.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// translateUnique maps constraint names from the users migration.
func translateUnique(err error) error {
	constraint, ok := db.UniqueViolation(err)
	if !ok {
		return err
	}
	if strings.Contains(constraint, "ayursutra_id") {
		return ErrDuplicateID
	}
	return ErrContactTaken
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, ayursutra_id, role, name, email, phone, gender, date_of_birth, address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		u.ID, u.AyurSutraID, u.Role, u.Name, u.Email, u.Phone, u.Gender, u.DateOfBirth, u.Address,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return translateUnique(err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByAyurSutraID(ctx context.Context, ayurSutraID string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE ayursutra_id = $1`, ayurSutraID))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email))
}

func (r *userRepoPG) GetByPhone(ctx context.Context, phone string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE phone = $1`, phone))
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET name=$2, email=$3, phone=$4, gender=$5, date_of_birth=$6, address=$7,
			updated_at=NOW()
		WHERE id = $1`,
		u.ID, u.Name, u.Email, u.Phone, u.Gender, u.DateOfBirth, u.Address)
	if err != nil {
		return translateUnique(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const profileCols = `u.id, u.ayursutra_id, u.role, u.name, u.email, u.phone, u.gender, u.date_of_birth,
	u.address, u.created_at, u.updated_at,
	d.user_id, d.specialization, d.qualification, d.experience_years, d.clinic_name, d.location,
	d.consultation_fee, d.bio, d.available, d.created_at, d.updated_at`

const profileFrom = ` FROM doctors d JOIN users u ON u.id = d.user_id`

func scanProfile(row pgx.Row) (*DoctorProfile, error) {
	var p DoctorProfile
	u, d := &p.User, &p.Doctor
	err := row.Scan(&u.ID, &u.AyurSutraID, &u.Role, &u.Name, &u.Email, &u.Phone, &u.Gender,
		&u.DateOfBirth, &u.Address, &u.CreatedAt, &u.UpdatedAt,
		&d.UserID, &d.Specialization, &d.Qualification, &d.ExperienceYears, &d.ClinicName, &d.Location,
		&d.ConsultationFee, &d.Bio, &d.Available, &d.CreatedAt, &d.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctors (user_id, specialization, qualification, experience_years, clinic_name,
			location, consultation_fee, bio, available)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		d.UserID, d.Specialization, d.Qualification, d.ExperienceYears, d.ClinicName,
		d.Location, d.ConsultationFee, d.Bio, d.Available,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*DoctorProfile, error) {
	return scanProfile(r.conn(ctx).QueryRow(ctx, `SELECT `+profileCols+profileFrom+` WHERE d.user_id = $1`, userID))
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctors SET specialization=$2, qualification=$3, experience_years=$4, clinic_name=$5,
			location=$6, consultation_fee=$7, bio=$8, available=$9, updated_at=NOW()
		WHERE user_id = $1`,
		d.UserID, d.Specialization, d.Qualification, d.ExperienceYears, d.ClinicName,
		d.Location, d.ConsultationFee, d.Bio, d.Available)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *doctorRepoPG) Search(ctx context.Context, f DoctorFilter, limit, offset int) ([]*DoctorProfile, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Specialization != "" {
		where += fmt.Sprintf(` AND d.specialization ILIKE $%d`, idx)
		args = append(args, likePattern(f.Specialization))
		idx++
	}
	if f.Location != "" {
		where += fmt.Sprintf(` AND d.location ILIKE $%d`, idx)
		args = append(args, likePattern(f.Location))
		idx++
	}
	if f.Query != "" {
		where += fmt.Sprintf(` AND (u.name ILIKE $%d OR d.clinic_name ILIKE $%d)`, idx, idx)
		args = append(args, likePattern(f.Query))
		idx++
	}
	if f.MinExperience > 0 {
		where += fmt.Sprintf(` AND d.experience_years >= $%d`, idx)
		args = append(args, f.MinExperience)
		idx++
	}
	if f.MaxFee != nil {
		where += fmt.Sprintf(` AND d.consultation_fee <= $%d`, idx)
		args = append(args, *f.MaxFee)
		idx++
	}
	if f.Available != nil {
		where += fmt.Sprintf(` AND d.available = $%d`, idx)
		args = append(args, *f.Available)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+profileFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + profileCols + profileFrom + where +
		fmt.Sprintf(` ORDER BY d.experience_years DESC, u.name LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*DoctorProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// likePattern matches s anywhere, treating LIKE wildcards in s literally.
func likePattern(s string) string {
	return "%" + strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s) + "%"
}
