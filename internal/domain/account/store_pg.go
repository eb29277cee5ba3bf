package account

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ayursutra/ayursutra/internal/platform/db"
)

type otpStorePG struct{ pool *pgxpool.Pool }

func NewOTPStorePG(pool *pgxpool.Pool) OTPStore { return &otpStorePG{pool: pool} }

func (s *otpStorePG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, s.pool)
}

const challengeCols = `destination, channel, purpose, role, code_hash, attempts, expires_at, created_at`

func scanChallenge(row pgx.Row) (*Challenge, error) {
	var c Challenge
	err := row.Scan(&c.Destination, &c.Channel, &c.Purpose, &c.Role, &c.CodeHash, &c.Attempts,
		&c.ExpiresAt, &c.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *otpStorePG) Save(ctx context.Context, c *Challenge) error {
	return s.conn(ctx).QueryRow(ctx, `
		INSERT INTO otp_challenges (destination, channel, purpose, role, code_hash, attempts, expires_at)
		VALUES ($1,$2,$3,$4,$5,0,$6)
		ON CONFLICT (destination, purpose) DO UPDATE SET
			channel = EXCLUDED.channel, role = EXCLUDED.role, code_hash = EXCLUDED.code_hash,
			attempts = 0, expires_at = EXCLUDED.expires_at, created_at = NOW()
		RETURNING attempts, created_at`,
		c.Destination, c.Channel, c.Purpose, c.Role, c.CodeHash, c.ExpiresAt,
	).Scan(&c.Attempts, &c.CreatedAt)
}

func (s *otpStorePG) Get(ctx context.Context, destination string, purpose Purpose) (*Challenge, error) {
	return scanChallenge(s.conn(ctx).QueryRow(ctx,
		`SELECT `+challengeCols+` FROM otp_challenges WHERE destination = $1 AND purpose = $2`,
		destination, purpose))
}

func (s *otpStorePG) IncrementAttempts(ctx context.Context, destination string, purpose Purpose) (int, error) {
	var attempts int
	err := s.conn(ctx).QueryRow(ctx, `
		UPDATE otp_challenges SET attempts = attempts + 1
		WHERE destination = $1 AND purpose = $2
		RETURNING attempts`, destination, purpose).Scan(&attempts)
	if db.IsNoRows(err) {
		return 0, ErrChallengeNotFound
	}
	return attempts, err
}

func (s *otpStorePG) Delete(ctx context.Context, destination string, purpose Purpose) error {
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM otp_challenges WHERE destination = $1 AND purpose = $2`,
		destination, purpose)
	return err
}

func (s *otpStorePG) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM otp_challenges WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
